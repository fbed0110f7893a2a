// Package resilience provides a circuit breaker for flaky collaborators.
//
// [Breaker] is a classic three-state breaker (closed, open, half-open). Errors
// marked with [Permanent] are passed through without counting against the
// collaborator's health: a request that is wrong will stay wrong.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Do] while the breaker is open and
// the reset timeout has not yet elapsed.
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

// permanentError marks an error that retrying cannot fix.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err so that [Breaker] does not count it as a failure.
// A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err, or anything it wraps, was marked with
// [Permanent].
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// State represents the current operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// elapses.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through. Enough
	// successes close the breaker; any failure re-opens it.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds tuning knobs for a [Breaker].
type BreakerConfig struct {
	// Name labels the breaker in logs and state-change callbacks.
	Name string

	// MaxFailures is the number of consecutive failures in the closed state
	// before the breaker opens. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before probing.
	// Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of probe calls allowed, and the number of
	// successes needed to close again. Default: 1.
	HalfOpenMax int

	// OnStateChange, if set, is called after every transition. It runs
	// without the breaker's lock held.
	OnStateChange func(name string, from, to State)
}

// Breaker implements the circuit breaker pattern for one collaborator.
type Breaker struct {
	name          string
	maxFailures   int
	resetTimeout  time.Duration
	halfOpenMax   int
	onStateChange func(name string, from, to State)
	now           func() time.Time

	mu              sync.Mutex
	state           State
	consecutiveFail int
	openedAt        time.Time
	probes          int
	probeSuccesses  int
}

// NewBreaker creates a [Breaker]. Zero-value config fields are replaced with
// defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	return &Breaker{
		name:          cfg.Name,
		maxFailures:   cfg.MaxFailures,
		resetTimeout:  cfg.ResetTimeout,
		halfOpenMax:   cfg.HalfOpenMax,
		onStateChange: cfg.OnStateChange,
		now:           time.Now,
	}
}

// Name returns the breaker's label.
func (b *Breaker) Name() string { return b.name }

// State returns the current state. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen].
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.resetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Do runs fn if the breaker allows it. A cancelled ctx is returned as is
// and does not count as a failure, and neither does a [Permanent] error.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	probe, from, err := b.admit()
	if err != nil {
		return err
	}
	b.notify(from, b.currentState())

	err = fn(ctx)

	from = b.currentState()
	switch {
	case err == nil:
		b.recordSuccess(probe)
	case IsPermanent(err) || ctx.Err() != nil:
		b.release(probe)
	default:
		b.recordFailure(probe)
	}
	b.notify(from, b.currentState())
	return err
}

// Reset forces the breaker back to closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = StateClosed
	b.consecutiveFail = 0
	b.probes, b.probeSuccesses = 0, 0
	b.mu.Unlock()
	b.notify(from, StateClosed)
}

// admit decides whether a call may proceed and whether it is a probe.
func (b *Breaker) admit() (probe bool, from State, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	from = b.state

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.resetTimeout {
			return false, from, ErrCircuitOpen
		}
		b.state = StateHalfOpen
		b.probes, b.probeSuccesses = 0, 0
		fallthrough
	case StateHalfOpen:
		if b.probes >= b.halfOpenMax {
			return false, from, ErrCircuitOpen
		}
		b.probes++
		return true, from, nil
	}
	return false, from, nil
}

func (b *Breaker) recordSuccess(probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !probe {
		b.consecutiveFail = 0
		return
	}
	if b.state != StateHalfOpen {
		return
	}
	b.probeSuccesses++
	if b.probeSuccesses >= b.halfOpenMax {
		b.state = StateClosed
		b.consecutiveFail = 0
		b.probes, b.probeSuccesses = 0, 0
	}
}

func (b *Breaker) recordFailure(probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if probe {
		if b.state == StateHalfOpen {
			b.open()
		}
		return
	}
	b.consecutiveFail++
	if b.state == StateClosed && b.consecutiveFail >= b.maxFailures {
		b.open()
	}
}

// release gives back a probe slot that neither proved nor disproved health.
func (b *Breaker) release(probe bool) {
	if !probe {
		return
	}
	b.mu.Lock()
	if b.state == StateHalfOpen && b.probes > 0 {
		b.probes--
	}
	b.mu.Unlock()
}

// open must be called with b.mu held.
func (b *Breaker) open() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.consecutiveFail = 0
	b.probes, b.probeSuccesses = 0, 0
}

func (b *Breaker) currentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) notify(from, to State) {
	if from == to {
		return
	}
	level := slog.LevelInfo
	if to == StateOpen {
		level = slog.LevelWarn
	}
	slog.Log(context.Background(), level, "resilience: circuit breaker state change",
		"name", b.name, "from", from.String(), "to", to.String())
	if b.onStateChange != nil {
		b.onStateChange(b.name, from, to)
	}
}
