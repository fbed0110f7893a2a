// Package catalog holds the lookup tables the dashboard resolves dependent
// selections against: LLM models per provider, voice languages per TTS
// provider, voices per (provider, language), and speaking styles per voice.
//
// All lookups are total. An unknown key yields an empty slice, never an
// error. Provider keys are trimmed and lower-cased both when the catalog is
// built and when it is queried, so "Azure " and "azure" name the same bucket.
//
// A [Store] is populated once at startup and shared read-only by every
// profile. The single exception is [Store.EnsureEntryExists], which runs
// during initialisation to keep persisted-but-retired models selectable.
package catalog

import (
	"slices"
	"sort"
	"strings"
	"sync"
)

// SavedSuffix is appended to the label of entries synthesised by
// [Store.EnsureEntryExists].
const SavedSuffix = " (Saved)"

// Data is the raw catalog input as delivered by the configuration service.
type Data struct {
	// Models maps an LLM provider to its models in display order.
	Models map[string][]Entry `json:"models" yaml:"models"`

	// Languages maps a TTS provider to its voice languages.
	Languages map[string][]Entry `json:"languages" yaml:"languages"`

	// Voices maps TTS provider → language → voices.
	Voices map[string]map[string][]Voice `json:"voices" yaml:"voices"`

	// Styles maps a voice ID to the speaking styles that voice supports.
	Styles map[string][]Entry `json:"styles" yaml:"styles"`
}

// Store is the session-wide catalog. It is safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	models    map[string][]Entry
	languages map[string][]Entry
	voices    map[string]map[string][]Voice
	styles    map[string][]Entry
}

// New builds a [Store] from d. Provider keys are normalised with
// [NormalizeKey]; buckets whose keys collide after normalisation are merged
// in key order with duplicate IDs dropped. d is not retained.
func New(d Data) *Store {
	s := &Store{
		models:    mergeBuckets(d.Models, NormalizeKey),
		languages: mergeBuckets(d.Languages, NormalizeKey),
		voices:    make(map[string]map[string][]Voice, len(d.Voices)),
		styles:    mergeBuckets(d.Styles, strings.TrimSpace),
	}
	for _, provider := range sortedKeys(d.Voices) {
		key := NormalizeKey(provider)
		byLang := s.voices[key]
		if byLang == nil {
			byLang = make(map[string][]Voice, len(d.Voices[provider]))
			s.voices[key] = byLang
		}
		for _, lang := range sortedKeys(d.Voices[provider]) {
			l := strings.TrimSpace(lang)
			for _, v := range d.Voices[provider][lang] {
				if !slices.ContainsFunc(byLang[l], func(x Voice) bool { return x.ID == v.ID }) {
					byLang[l] = append(byLang[l], v)
				}
			}
		}
	}
	return s
}

// NormalizeKey trims and lower-cases a provider-like catalog key.
func NormalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// ModelsOf returns the models offered by provider, in display order.
func (s *Store) ModelsOf(provider string) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.models[NormalizeKey(provider)])
}

// LanguagesOf returns the languages offered by a TTS provider.
func (s *Store) LanguagesOf(voiceProvider string) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.languages[NormalizeKey(voiceProvider)])
}

// VoicesOf returns the voices offered by a TTS provider for language.
func (s *Store) VoicesOf(voiceProvider, language string) []Voice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.voices[NormalizeKey(voiceProvider)][strings.TrimSpace(language)])
}

// StylesOf returns the speaking styles supported by voiceID.
func (s *Store) StylesOf(voiceID string) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.styles[strings.TrimSpace(voiceID)])
}

// GendersOf returns the distinct gender tags among VoicesOf(voiceProvider,
// language), in order of first appearance.
func (s *Store) GendersOf(voiceProvider, language string) []Gender {
	return DistinctGenders(s.VoicesOf(voiceProvider, language))
}

// EnsureEntryExists prepends a synthesised {value, value+" (Saved)"} entry to
// the model bucket of provider unless value is empty or already present. It
// reports whether an entry was added. Calling it again with the same
// arguments is a no-op.
func (s *Store) EnsureEntryExists(provider, value string) bool {
	key := NormalizeKey(provider)
	id := strings.TrimSpace(value)
	if key == "" || id == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if Contains(s.models[key], id) {
		return false
	}
	s.models[key] = slices.Insert(s.models[key], 0, Entry{ID: id, Label: id + SavedSuffix})
	return true
}

// Providers returns the normalised LLM provider keys, sorted.
func (s *Store) Providers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.models)
}

// VoiceProviders returns the normalised TTS provider keys that have either
// languages or voices, sorted.
func (s *Store) VoiceProviders() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{}, len(s.languages)+len(s.voices))
	for k := range s.languages {
		seen[k] = struct{}{}
	}
	for k := range s.voices {
		seen[k] = struct{}{}
	}
	return sortedKeys(seen)
}

// Contains reports whether entries has an entry with the given ID.
func Contains(entries []Entry, id string) bool {
	return indexOf(entries, id) >= 0
}

// indexOf returns the position of id in entries, or -1.
func indexOf(entries []Entry, id string) int {
	return slices.IndexFunc(entries, func(e Entry) bool { return e.ID == id })
}

func mergeBuckets(in map[string][]Entry, norm func(string) string) map[string][]Entry {
	out := make(map[string][]Entry, len(in))
	for _, k := range sortedKeys(in) {
		key := norm(k)
		for _, e := range in[k] {
			if !Contains(out[key], e.ID) {
				out[key] = append(out[key], e)
			}
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
