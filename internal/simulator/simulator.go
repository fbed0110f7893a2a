// Package simulator holds the live-call simulator state shown next to the
// dashboard: a bounded debug log, the last reported pipeline latencies, the
// voice-activity level, and whether the agent is currently speaking.
//
// It holds no profile state. The dashboard store composes one [Simulator]
// alongside the reconciliation engine.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/dialdeck/internal/observe"
)

// ErrUnknownEvent is returned by [Simulator.Apply] for unrecognised event
// types.
var ErrUnknownEvent = errors.New("simulator: unknown event type")

// DefaultLogCapacity is the number of debug log lines retained by default.
const DefaultLogCapacity = 200

// Stage names a pipeline stage that reports latency.
type Stage string

const (
	StageLLM Stage = "llm"
	StageTTS Stage = "tts"
)

// LogEntry is one debug console line.
type LogEntry struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

// Latencies are the most recent per-stage latencies. A zero value means no
// measurement has been reported yet.
type Latencies struct {
	LLM time.Duration `json:"llm"`
	TTS time.Duration `json:"tts"`
}

// Display formats d the way the console shows it: "-" when unset, whole
// milliseconds otherwise.
func Display(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return fmt.Sprintf("%dms", d.Milliseconds())
}

// State is a point-in-time copy of the simulator.
type State struct {
	Logs          []LogEntry `json:"logs"`
	Latencies     Latencies  `json:"latencies"`
	LLMLatency    string     `json:"llm_latency"`
	TTSLatency    string     `json:"tts_latency"`
	VADLevel      float64    `json:"vad_level"`
	AgentSpeaking bool       `json:"agent_speaking"`
	ShowDebug     bool       `json:"show_debug"`
}

// Event is a simulator update as sent by the voice pipeline.
type Event struct {
	// Type is one of "log", "latency", "vad", "speaking", "debug".
	Type string `json:"type"`

	Level   string  `json:"level,omitempty"`
	Message string  `json:"message,omitempty"`
	Stage   Stage   `json:"stage,omitempty"`
	Millis  float64 `json:"ms,omitempty"`
	Value   float64 `json:"value,omitempty"`
	On      bool    `json:"on,omitempty"`
}

// Option configures a [Simulator].
type Option func(*Simulator)

// WithLogCapacity bounds the debug log. Values below 1 are ignored.
func WithLogCapacity(n int) Option {
	return func(s *Simulator) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// WithMetrics records reported latencies on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Simulator) { s.metrics = m }
}

// WithClock overrides time.Now for log timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Simulator) { s.now = now }
}

// Simulator is safe for concurrent use.
type Simulator struct {
	capacity int
	metrics  *observe.Metrics
	now      func() time.Time

	mu        sync.Mutex
	logs      []LogEntry // ring buffer
	head      int        // index of the oldest entry once full
	latencies Latencies
	vad       float64
	speaking  bool
	debug     bool
}

// New returns an empty [Simulator].
func New(opts ...Option) *Simulator {
	s := &Simulator{capacity: DefaultLogCapacity, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Log appends a debug line, evicting the oldest when full.
func (s *Simulator) Log(level, message string) {
	e := LogEntry{Time: s.now(), Level: strings.ToLower(level), Message: message}
	if e.Level == "" {
		e.Level = "info"
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.logs) < s.capacity {
		s.logs = append(s.logs, e)
		return
	}
	s.logs[s.head] = e
	s.head = (s.head + 1) % s.capacity
}

// Logs returns the retained lines, oldest first.
func (s *Simulator) Logs() []LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logsLocked()
}

func (s *Simulator) logsLocked() []LogEntry {
	out := make([]LogEntry, 0, len(s.logs))
	out = append(out, s.logs[s.head:]...)
	out = append(out, s.logs[:s.head]...)
	return out
}

// ClearLogs empties the debug log.
func (s *Simulator) ClearLogs() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = nil
	s.head = 0
}

// RecordLatency stores the latest latency for stage.
func (s *Simulator) RecordLatency(ctx context.Context, stage Stage, d time.Duration) error {
	s.mu.Lock()
	switch stage {
	case StageLLM:
		s.latencies.LLM = d
	case StageTTS:
		s.latencies.TTS = d
	default:
		s.mu.Unlock()
		return fmt.Errorf("%w: latency stage %q", ErrUnknownEvent, stage)
	}
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.SimulatorLatency.Record(ctx, d.Seconds(),
			metric.WithAttributes(observe.Attr("stage", string(stage))),
		)
	}
	return nil
}

// Latencies returns the most recent latencies.
func (s *Simulator) Latencies() Latencies {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latencies
}

// SetVADLevel stores the voice-activity level, clamped to [0, 1].
func (s *Simulator) SetVADLevel(v float64) {
	v = min(max(v, 0), 1)
	s.mu.Lock()
	s.vad = v
	s.mu.Unlock()
}

// VADLevel returns the current voice-activity level.
func (s *Simulator) VADLevel() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vad
}

// SetAgentSpeaking records whether the agent is talking.
func (s *Simulator) SetAgentSpeaking(on bool) {
	s.mu.Lock()
	s.speaking = on
	s.mu.Unlock()
}

// AgentSpeaking reports whether the agent is talking.
func (s *Simulator) AgentSpeaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}

// ToggleDebug flips the debug console visibility and returns the new value.
func (s *Simulator) ToggleDebug() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.debug = !s.debug
	return s.debug
}

// ShowDebug reports whether the debug console is visible.
func (s *Simulator) ShowDebug() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.debug
}

// State returns a copy of the whole simulator.
func (s *Simulator) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		Logs:          s.logsLocked(),
		Latencies:     s.latencies,
		LLMLatency:    Display(s.latencies.LLM),
		TTSLatency:    Display(s.latencies.TTS),
		VADLevel:      s.vad,
		AgentSpeaking: s.speaking,
		ShowDebug:     s.debug,
	}
}

// Apply dispatches ev to the matching setter.
func (s *Simulator) Apply(ctx context.Context, ev Event) error {
	switch strings.ToLower(ev.Type) {
	case "log":
		s.Log(ev.Level, ev.Message)
	case "latency":
		return s.RecordLatency(ctx, Stage(strings.ToLower(string(ev.Stage))), time.Duration(ev.Millis*float64(time.Millisecond)))
	case "vad":
		s.SetVADLevel(ev.Value)
	case "speaking":
		s.SetAgentSpeaking(ev.On)
	case "debug":
		s.ToggleDebug()
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Type)
	}
	return nil
}
