package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/MrWong99/dialdeck/internal/config"
	"github.com/MrWong99/dialdeck/internal/dashboard"
	"github.com/MrWong99/dialdeck/internal/observe"
	"github.com/MrWong99/dialdeck/internal/resilience"
	"github.com/MrWong99/dialdeck/pkg/profile"
)

var (
	// ErrNoSaveDir is returned by [NewFileSaver] for an empty directory.
	ErrNoSaveDir = errors.New("app: file saver needs a directory")

	// ErrSaverUnavailable is reported by [GuardedSaver.Check] while the
	// breaker is open.
	ErrSaverUnavailable = errors.New("app: saver circuit breaker is open")
)

// LogSaver accepts every payload and only logs it. It stands in for the
// configuration service during local development.
type LogSaver struct{}

// SaveProfile implements [dashboard.Saver].
func (LogSaver) SaveProfile(ctx context.Context, ch profile.Channel, payload map[string]any) (dashboard.SaveResult, error) {
	observe.Logger(ctx).Info("profile saved (log only)", "channel", ch, "keys", len(payload))
	return dashboard.SaveResult{}, nil
}

// FileSaver writes each channel's payload to <dir>/<channel>.json.
type FileSaver struct {
	dir string
}

// NewFileSaver creates dir if needed and returns a saver writing into it.
func NewFileSaver(dir string) (*FileSaver, error) {
	if dir == "" {
		return nil, ErrNoSaveDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("app: create save dir: %w", err)
	}
	return &FileSaver{dir: dir}, nil
}

// Path returns the file a channel's payload is written to.
func (s *FileSaver) Path(ch profile.Channel) string {
	name := string(ch)
	if name == "" {
		name = "browser"
	}
	return filepath.Join(s.dir, name+".json")
}

// SaveProfile implements [dashboard.Saver]. The file is replaced atomically.
func (s *FileSaver) SaveProfile(ctx context.Context, ch profile.Channel, payload map[string]any) (dashboard.SaveResult, error) {
	if err := ctx.Err(); err != nil {
		return dashboard.SaveResult{}, err
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return dashboard.SaveResult{}, fmt.Errorf("app: encode payload: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".save-*.json")
	if err != nil {
		return dashboard.SaveResult{}, fmt.Errorf("app: save %s: %w", ch, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return dashboard.SaveResult{}, fmt.Errorf("app: save %s: %w", ch, err)
	}
	if err := tmp.Close(); err != nil {
		return dashboard.SaveResult{}, fmt.Errorf("app: save %s: %w", ch, err)
	}
	if err := os.Rename(tmp.Name(), s.Path(ch)); err != nil {
		return dashboard.SaveResult{}, fmt.Errorf("app: save %s: %w", ch, err)
	}

	observe.Logger(ctx).Debug("profile written", "channel", ch, "path", s.Path(ch))
	return dashboard.SaveResult{}, nil
}

// GuardedSaver puts a circuit breaker in front of another saver. Once the
// wrapped saver keeps failing, saves fail fast with
// [resilience.ErrCircuitOpen] until the reset timeout allows a probe.
type GuardedSaver struct {
	next    dashboard.Saver
	breaker *resilience.Breaker
}

// NewGuardedSaver wraps next. Breaker transitions are recorded on m, which
// may be nil.
func NewGuardedSaver(next dashboard.Saver, cfg config.BreakerConfig, m *observe.Metrics) *GuardedSaver {
	return &GuardedSaver{
		next: next,
		breaker: resilience.NewBreaker(resilience.BreakerConfig{
			Name:         "saver",
			MaxFailures:  cfg.MaxFailures,
			ResetTimeout: cfg.ResetTimeout,
			OnStateChange: func(name string, _, to resilience.State) {
				if m != nil {
					m.RecordBreakerTransition(context.Background(), name, to.String())
				}
			},
		}),
	}
}

// SaveProfile implements [dashboard.Saver].
func (g *GuardedSaver) SaveProfile(ctx context.Context, ch profile.Channel, payload map[string]any) (dashboard.SaveResult, error) {
	var res dashboard.SaveResult
	err := g.breaker.Do(ctx, func(ctx context.Context) error {
		var err error
		res, err = g.next.SaveProfile(ctx, ch, payload)
		return err
	})
	return res, err
}

// State returns the breaker state.
func (g *GuardedSaver) State() resilience.State { return g.breaker.State() }

// Check fails while the breaker is open. It makes no save attempt.
func (g *GuardedSaver) Check(context.Context) error {
	if g.breaker.State() == resilience.StateOpen {
		return ErrSaverUnavailable
	}
	return nil
}
