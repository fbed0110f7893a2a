package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/dialdeck/internal/notify"
	"github.com/MrWong99/dialdeck/internal/observe"
	"github.com/MrWong99/dialdeck/internal/payload"
	"github.com/MrWong99/dialdeck/pkg/profile"
)

var (
	// ErrSaveInFlight is returned by [Store.Save] while another save is
	// running.
	ErrSaveInFlight = errors.New("dashboard: save already in progress")

	// ErrNoSaver is returned by [Store.Save] when no [Saver] was configured.
	ErrNoSaver = errors.New("dashboard: no saver configured")
)

// SaveResult is the configuration service's answer to a save.
type SaveResult struct {
	// Warnings are non-fatal remarks the service attached to a successful
	// save.
	Warnings []string `json:"warnings,omitempty"`
}

// Saver persists one channel's configuration payload.
type Saver interface {
	SaveProfile(ctx context.Context, ch profile.Channel, payload map[string]any) (SaveResult, error)
}

// SaverFunc adapts a function to [Saver].
type SaverFunc func(ctx context.Context, ch profile.Channel, payload map[string]any) (SaveResult, error)

// SaveProfile calls f.
func (f SaverFunc) SaveProfile(ctx context.Context, ch profile.Channel, payload map[string]any) (SaveResult, error) {
	return f(ctx, ch, payload)
}

// Level is the severity of a user-facing report.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Reporter surfaces short messages to the user.
type Reporter interface {
	Report(level Level, message string)
}

// ReporterFunc adapts a function to [Reporter].
type ReporterFunc func(level Level, message string)

// Report calls f.
func (f ReporterFunc) Report(level Level, message string) { f(level, message) }

type logReporter struct{}

func (logReporter) Report(level Level, message string) {
	switch level {
	case LevelError:
		slog.Error(message)
	case LevelWarning:
		slog.Warn(message)
	default:
		slog.Info(message)
	}
}

// Messages reported by [Store.Save].
const (
	msgLanguageMismatch = "⚠️ Guardando con idiomas diferentes - verifica que esto sea intencional"
	msgSaved            = "Configuración Guardada (%s)"
	msgWarnings         = "Advertencia: "
	msgSaveFailed       = "Error al guardar: "
	msgMalformedJSON    = "Error JSON en %s: %v"
)

// SaveOptions tune a single [Store.Save] call.
type SaveOptions struct {
	// SyncLanguages copies the voice language into the transcriber language
	// when the two differ. Without it a mismatch is saved as is, with a
	// warning.
	SyncLanguages bool
}

// SaveOutcome describes a successful save.
type SaveOutcome struct {
	Channel  profile.Channel `json:"channel"`
	Payload  map[string]any  `json:"payload"`
	Warnings []string        `json:"warnings,omitempty"`

	// SchemaWarnings come from local validation of the tools and extraction
	// schemas. They never block a save.
	SchemaWarnings []string `json:"schemaWarnings,omitempty"`

	LanguagesSynced bool `json:"languagesSynced,omitempty"`
}

// Save serialises ch's profile and hands it to the configured [Saver].
//
// A malformed JSON-text field aborts the save before the saver is called and
// the error is a [*payload.MalformedJSONError]. On success the profile's
// persisted chain state is updated to the values just saved. Only one save
// runs at a time.
func (s *Store) Save(ctx context.Context, ch profile.Channel, opts SaveOptions) (SaveOutcome, error) {
	if s.saver == nil {
		return SaveOutcome{}, ErrNoSaver
	}
	ctx = observe.WithChannel(ctx, string(ch))
	if !s.saving.CompareAndSwap(false, true) {
		s.metrics.RecordSave(ctx, string(ch), "conflict", -1)
		return SaveOutcome{}, ErrSaveInFlight
	}
	defer s.saving.Store(false)

	ctx, span := observe.StartSpan(ctx, "dashboard.save")
	defer span.End()

	out, flat, err := s.prepareSave(ctx, ch, opts)
	if err != nil {
		span.SetAttributes(observe.AttrOutcome.String("invalid"))
		observe.Fail(span, err, "")
		return SaveOutcome{}, err
	}

	body, schemaWarnings, err := payload.Build(flat)
	if err != nil {
		var mj *payload.MalformedJSONError
		if errors.As(err, &mj) {
			s.reporter.Report(LevelError, fmt.Sprintf(msgMalformedJSON, mj.Field, mj.Err))
		}
		s.metrics.RecordSave(ctx, string(ch), "malformed", -1)
		span.SetAttributes(observe.AttrOutcome.String("malformed"))
		observe.Fail(span, err, "malformed payload")
		return SaveOutcome{}, err
	}
	out.Payload = body
	out.SchemaWarnings = schemaWarnings
	for _, w := range schemaWarnings {
		observe.Logger(ctx).Warn("dashboard: schema check", "warning", w)
	}

	start := time.Now()
	res, err := s.saver.SaveProfile(ctx, ch, body)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		s.metrics.RecordSave(ctx, string(ch), "error", elapsed)
		s.reporter.Report(LevelError, msgSaveFailed+err.Error())
		observe.Logger(ctx).Error("dashboard: save failed", "err", err)
		span.SetAttributes(observe.AttrOutcome.String("error"))
		observe.Fail(span, err, "save failed")
		return SaveOutcome{}, fmt.Errorf("dashboard: save %s: %w", ch, err)
	}
	s.metrics.RecordSave(ctx, string(ch), "ok", elapsed)
	span.SetAttributes(observe.AttrOutcome.String("ok"))

	s.mu.Lock()
	if p, ok := s.profiles[ch]; ok {
		p.Saved = p.Selection
	}
	s.mu.Unlock()

	out.Warnings = res.Warnings
	s.reporter.Report(LevelSuccess, fmt.Sprintf(msgSaved, strings.ToUpper(string(ch))))
	if len(res.Warnings) > 0 {
		s.reporter.Report(LevelWarning, msgWarnings+strings.Join(res.Warnings, ", "))
	}
	observe.Logger(ctx).Info("dashboard: profile saved", "warnings", len(res.Warnings))
	return out, nil
}

// prepareSave handles the language check and flattens the profile.
func (s *Store) prepareSave(ctx context.Context, ch profile.Channel, opts SaveOptions) (SaveOutcome, map[string]any, error) {
	s.mu.Lock()
	p, ok := s.profiles[ch]
	if !ok {
		s.mu.Unlock()
		return SaveOutcome{}, nil, fmt.Errorf("%w: %q", profile.ErrUnknownChannel, ch)
	}

	out := SaveOutcome{Channel: ch}
	mismatch := false
	if voice, stt := p.VoiceLanguage, p.String("sttLang"); voice != "" && voice != stt {
		if opts.SyncLanguages {
			_ = p.SetField("sttLang", voice)
			s.queue.Push(notify.Change{Channel: ch, Field: "sttLang", Old: stt, New: voice})
			out.LanguagesSynced = true
			observe.Logger(ctx).Info("dashboard: transcriber language synced", "from", stt, "to", voice)
		} else {
			mismatch = true
		}
	}
	flat := p.Flatten()
	s.mu.Unlock()
	s.queue.Flush()

	if mismatch {
		s.reporter.Report(LevelWarning, msgLanguageMismatch)
	}
	return out, flat, nil
}

// PreviewRequest holds the parameters of a voice preview.
type PreviewRequest struct {
	Provider    string  `json:"provider"`
	VoiceName   string  `json:"voice_name"`
	Speed       float64 `json:"voice_speed"`
	Pitch       float64 `json:"voice_pitch"`
	Volume      float64 `json:"voice_volume"`
	Style       string  `json:"voice_style"`
	StyleDegree float64 `json:"voice_style_degree"`
}

// Preview defaults. Zero values on the profile fall back to these.
const (
	DefaultPreviewVoice       = "es-MX-DaliaNeural"
	DefaultPreviewSpeed       = 1.0
	DefaultPreviewVolume      = 100.0
	DefaultPreviewStyleDegree = 1.0
)

// PreviewRequest builds voice-preview parameters from the active profile.
// Empty or zero values take the preview defaults.
func (s *Store) PreviewRequest() PreviewRequest {
	s.mu.Lock()
	p := s.profiles[s.active].Clone()
	s.mu.Unlock()

	return PreviewRequest{
		Provider:    p.VoiceProvider,
		VoiceName:   or(p.VoiceID, DefaultPreviewVoice),
		Speed:       or(number(p.Fields["voiceSpeed"]), DefaultPreviewSpeed),
		Pitch:       number(p.Fields["voicePitch"]),
		Volume:      or(number(p.Fields["voiceVolume"]), DefaultPreviewVolume),
		Style:       p.VoiceStyle,
		StyleDegree: or(number(p.Fields["voiceStyleDegree"]), DefaultPreviewStyleDegree),
	}
}

func or[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}

func number(v any) float64 {
	f, _ := v.(float64)
	return f
}
