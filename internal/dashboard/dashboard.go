// Package dashboard is the state store behind the configuration dashboard.
//
// A [Store] owns the shared catalogs, one profile per channel, the active
// channel, and the reconciliation engine that keeps each profile's chained
// selections consistent. It also composes the live-call simulator and the
// call-history bulk selection, which do not interact with profile state.
//
// All mutation is serialised by a single mutex. Settled changes are queued
// while the lock is held and delivered to the configured [notify.Notifier]
// after it is released, so listeners may call back into the store.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/dialdeck/internal/bootstrap"
	"github.com/MrWong99/dialdeck/internal/notify"
	"github.com/MrWong99/dialdeck/internal/observe"
	"github.com/MrWong99/dialdeck/internal/reconcile"
	"github.com/MrWong99/dialdeck/internal/selection"
	"github.com/MrWong99/dialdeck/internal/simulator"
	"github.com/MrWong99/dialdeck/pkg/catalog"
	"github.com/MrWong99/dialdeck/pkg/profile"
)

// ConnectivityTab is the dashboard tab holding telephony connection settings.
// It has no meaning for the browser channel.
const ConnectivityTab = "Conexión"

// DefaultTab is the tab shown when none was requested.
const DefaultTab = "model"

// ErrNilBundle is returned by [New] and [Store.Reload] for a nil bundle.
var ErrNilBundle = errors.New("dashboard: nil bootstrap bundle")

// Option configures a [Store].
type Option func(*Store)

// WithNotifier delivers settled changes to n.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Store) { s.notifier = n }
}

// WithSaver sets the collaborator that persists profiles.
func WithSaver(sv Saver) Option {
	return func(s *Store) { s.saver = sv }
}

// WithReporter sets the collaborator that surfaces user-facing messages.
func WithReporter(r Reporter) Option {
	return func(s *Store) { s.reporter = r }
}

// WithMetrics records store activity on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithSimulator replaces the default simulator.
func WithSimulator(sim *simulator.Simulator) Option {
	return func(s *Store) { s.sim = sim }
}

// WithInitialProfile selects the channel shown first. Invalid channels are
// ignored.
func WithInitialProfile(ch profile.Channel) Option {
	return func(s *Store) {
		if ch.IsValid() {
			s.active = ch
		}
	}
}

// WithInitialTab selects the tab shown first.
func WithInitialTab(tab string) Option {
	return func(s *Store) {
		if t := normalizeTab(tab); t != "" {
			s.tab = t
		}
	}
}

// Store is safe for concurrent use.
type Store struct {
	notifier notify.Notifier
	saver    Saver
	reporter Reporter
	metrics  *observe.Metrics
	sim      *simulator.Simulator
	history  selection.Set
	queue    *notify.Queue
	saving   atomic.Bool

	mu       sync.Mutex
	cat      *catalog.Store
	engine   *reconcile.Engine
	profiles map[profile.Channel]*profile.Profile
	active   profile.Channel
	tab      string
}

// New builds a store from b. Every profile is built from the snapshot, any
// persisted model missing from its provider's catalog is synthesised, and a
// restore pass runs over both chains of every profile. The restore changes
// are delivered before New returns.
func New(b *bootstrap.Bundle, opts ...Option) (*Store, error) {
	if b == nil {
		return nil, ErrNilBundle
	}
	s := &Store{
		active: profile.Browser,
		tab:    DefaultTab,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.sim == nil {
		s.sim = simulator.New(simulator.WithMetrics(s.metrics))
	}
	if s.reporter == nil {
		s.reporter = logReporter{}
	}
	s.queue = notify.NewQueue(s.notifier)

	s.mu.Lock()
	s.initLocked(context.Background(), b)
	s.mu.Unlock()
	s.queue.Flush()
	return s, nil
}

// Reload replaces the catalogs and profiles with those built from b, exactly
// as [New] does. The active channel and tab are kept. Unsaved edits are lost.
func (s *Store) Reload(ctx context.Context, b *bootstrap.Bundle) error {
	if b == nil {
		return ErrNilBundle
	}
	s.mu.Lock()
	s.initLocked(ctx, b)
	s.mu.Unlock()
	s.queue.Flush()
	observe.Logger(ctx).Info("dashboard: session reloaded", "active", s.Active())
	return nil
}

func (s *Store) initLocked(ctx context.Context, b *bootstrap.Bundle) {
	s.cat = catalog.New(b.Catalog())
	s.engine = reconcile.New(s.cat)
	s.profiles = make(map[profile.Channel]*profile.Profile, len(profile.Channels))

	for _, ch := range profile.Channels {
		p := profile.Build(ch, b.Snapshot)
		provider := reconcile.NormalizeHead(profile.FieldProvider, p.Provider)
		if s.cat.EnsureEntryExists(provider, p.Model) {
			s.metrics.RecordSynthesized(ctx, provider)
			slog.Warn("dashboard: persisted model missing from catalog; added as saved entry",
				"channel", ch, "provider", provider, "model", p.Model)
		}
		s.profiles[ch] = p
	}
	for _, ch := range profile.Channels {
		res := s.engine.ReconcileAll(s.profiles[ch], reconcile.ModeRestore)
		s.recordLocked(ctx, ch, res)
	}
}

// recordLocked logs and counts a pass and queues its changes.
func (s *Store) recordLocked(ctx context.Context, ch profile.Channel, res reconcile.Result) {
	fields := make([]string, 0, len(res.Fallbacks))
	log := observe.Logger(observe.WithChannel(ctx, string(ch)))
	for _, fb := range res.Fallbacks {
		fields = append(fields, string(fb.Field))
		log.Debug("dashboard: selection fell back",
			"field", fb.Field,
			"dropped", fb.Dropped,
			"chosen", fb.Chosen,
			"closest", fb.Suggestion,
			"mode", res.Mode,
		)
	}
	s.metrics.RecordReconcile(ctx, string(ch), res.Chain, res.Mode.String(), fields)
	s.queue.Push(toNotify(ch, res.Changes)...)
}

func toNotify(ch profile.Channel, changes []reconcile.Change) []notify.Change {
	out := make([]notify.Change, len(changes))
	for i, c := range changes {
		out[i] = notify.Change{Channel: ch, Field: c.Field, Old: c.Old, New: c.New, Restored: c.Restored}
	}
	return out
}

// ── active profile ───────────────────────────────────────────────────────────

// SetActive switches the displayed profile to ch and re-resolves both of its
// chains in update mode. Other profiles are not touched.
func (s *Store) SetActive(ctx context.Context, ch profile.Channel) error {
	if !ch.IsValid() {
		return fmt.Errorf("%w: %q", profile.ErrUnknownChannel, ch)
	}
	ctx, span := observe.StartSpan(observe.WithChannel(ctx, string(ch)), "dashboard.set_active")
	defer span.End()

	s.mu.Lock()
	s.active = ch
	res := s.engine.ReconcileAll(s.profiles[ch], reconcile.ModeUpdate)
	s.recordLocked(ctx, ch, res)
	s.mu.Unlock()
	s.queue.Flush()

	s.metrics.RecordProfileSwitch(ctx, string(ch))
	return nil
}

// Active returns the displayed channel.
func (s *Store) Active() profile.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Current returns a copy of the displayed profile.
func (s *Store) Current() *profile.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profiles[s.active].Clone()
}

// Profile returns a copy of ch's profile.
func (s *Store) Profile(ch profile.Channel) (*profile.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[ch]
	if !ok {
		return nil, fmt.Errorf("%w: %q", profile.ErrUnknownChannel, ch)
	}
	return p.Clone(), nil
}

// Profiles returns copies of every profile keyed by channel.
func (s *Store) Profiles() map[profile.Channel]*profile.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[profile.Channel]*profile.Profile, len(s.profiles))
	for ch, p := range s.profiles {
		out[ch] = p.Clone()
	}
	return out
}

// ChainOptions are the candidate lists the dashboard renders for one profile.
type ChainOptions struct {
	Providers      []string        `json:"providers" yaml:"providers"`
	Models         []catalog.Entry `json:"models" yaml:"models"`
	VoiceProviders []string        `json:"voiceProviders" yaml:"voiceProviders"`
	Languages      []catalog.Entry `json:"languages" yaml:"languages"`
	Genders        []catalog.Entry `json:"genders" yaml:"genders"`
	Voices         []catalog.Entry `json:"voices" yaml:"voices"`
	Styles         []catalog.Entry `json:"styles" yaml:"styles"`
}

// Options returns the candidate lists for ch's current selection.
func (s *Store) Options(ch profile.Channel) (ChainOptions, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[ch]
	if !ok {
		return ChainOptions{}, fmt.Errorf("%w: %q", profile.ErrUnknownChannel, ch)
	}
	c := s.engine.Candidates(p.Selection)
	return ChainOptions{
		Providers:      s.cat.Providers(),
		Models:         c[profile.FieldModel],
		VoiceProviders: s.cat.VoiceProviders(),
		Languages:      c[profile.FieldVoiceLanguage],
		Genders:        c[profile.FieldVoiceGender],
		Voices:         c[profile.FieldVoiceID],
		Styles:         c[profile.FieldVoiceStyle],
	}, nil
}

// ── edits ────────────────────────────────────────────────────────────────────

// Set assigns value to field key of ch's profile and returns the settled
// changes, which are also delivered to the notifier.
//
// A chain-field edit is resolved by a pass that starts at the field it
// depends on, so the edited value itself must be legal or it falls back like
// any other. Editing a chain head normalises it and re-resolves the whole
// chain. Independent fields are plain assignments.
func (s *Store) Set(ctx context.Context, ch profile.Channel, key string, value any) ([]notify.Change, error) {
	s.mu.Lock()
	p, ok := s.profiles[ch]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", profile.ErrUnknownChannel, ch)
	}

	var changes []notify.Change
	f := profile.Field(key)
	if f.IsChain() {
		str, ok := value.(string)
		if !ok && value != nil {
			s.mu.Unlock()
			return nil, fmt.Errorf("%w: %s must be a string, got %T", profile.ErrInvalidValue, key, value)
		}
		changes = s.setChainLocked(ctx, p, f, str)
	} else {
		old, _ := p.Value(key)
		if err := p.SetField(key, value); err != nil {
			s.mu.Unlock()
			return nil, err
		}
		nv, _ := p.Value(key)
		if o, n := render(old), render(nv); o != n {
			changes = []notify.Change{{Channel: ch, Field: f, Old: o, New: n}}
			s.queue.Push(changes...)
		}
	}
	s.mu.Unlock()
	s.queue.Flush()
	return changes, nil
}

func (s *Store) setChainLocked(ctx context.Context, p *profile.Profile, f profile.Field, v string) []notify.Change {
	old := p.Selection.Get(f)
	from, dependent := reconcile.Upstream(f)
	if !dependent {
		v = reconcile.NormalizeHead(f, v)
		from = f
	}
	p.Selection.Set(f, strings.TrimSpace(v))

	res := s.engine.Reconcile(p, from, reconcile.ModeUpdate)

	// The pass reports the edited field against the value just assigned;
	// publish a single change against the value before the edit instead.
	var changes []notify.Change
	if nv := p.Selection.Get(f); nv != old {
		changes = append(changes, notify.Change{Channel: p.Channel, Field: f, Old: old, New: nv})
	}
	for _, c := range res.Changes {
		if c.Field == f {
			continue
		}
		changes = append(changes, notify.Change{Channel: p.Channel, Field: c.Field, Old: c.Old, New: c.New})
	}

	res.Changes = nil
	s.recordLocked(ctx, p.Channel, res)
	s.queue.Push(changes...)
	return changes
}

// SetGender is Set(ctx, ch, "voiceGender", g).
func (s *Store) SetGender(ctx context.Context, ch profile.Channel, g catalog.Gender) ([]notify.Change, error) {
	return s.Set(ctx, ch, string(profile.FieldVoiceGender), string(g))
}

func render(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// ── tabs ─────────────────────────────────────────────────────────────────────

func normalizeTab(t string) string {
	return strings.ToLower(strings.TrimSpace(t))
}

// SetTab records the visible dashboard tab.
func (s *Store) SetTab(tab string) {
	t := normalizeTab(tab)
	if t == "" {
		t = DefaultTab
	}
	s.mu.Lock()
	s.tab = t
	s.mu.Unlock()
}

// Tab returns the visible dashboard tab, lower-cased.
func (s *Store) Tab() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tab
}

// ShouldShowTab reports whether tab applies to the active channel. The
// connectivity tab is hidden for the browser channel.
func (s *Store) ShouldShowTab(tab string) bool {
	if normalizeTab(tab) == normalizeTab(ConnectivityTab) {
		return s.Active() != profile.Browser
	}
	return true
}

// ── composed components ──────────────────────────────────────────────────────

// Simulator returns the live-call simulator state.
func (s *Store) Simulator() *simulator.Simulator { return s.sim }

// History returns the call-history bulk selection.
func (s *Store) History() *selection.Set { return &s.history }
