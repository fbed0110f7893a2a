// Package profile defines the per-channel configuration record the dashboard
// edits: one [Profile] each for the browser, Twilio, and Telnyx channels.
//
// A profile is a typed record with no behaviour of its own beyond merging the
// server snapshot with static defaults at construction time. The seven chain
// fields live in [Selection]; every other field is described by the
// declarative [FieldDefs] table and stored in Profile.Fields.
package profile

import (
	"errors"
	"fmt"
	"maps"
	"strings"
)

// ErrUnknownChannel is returned by [ParseChannel] for names other than
// browser, twilio, and telnyx.
var ErrUnknownChannel = errors.New("profile: unknown channel")

// Channel names one delivery channel.
type Channel string

const (
	Browser Channel = "browser"
	Twilio  Channel = "twilio"
	Telnyx  Channel = "telnyx"
)

// Channels lists every channel in display order.
var Channels = []Channel{Browser, Twilio, Telnyx}

// IsValid reports whether c is a recognised channel.
func (c Channel) IsValid() bool {
	switch c {
	case Browser, Twilio, Telnyx:
		return true
	}
	return false
}

// Suffix returns the server-key suffix for channel-specific values.
// The browser profile reads the channel-agnostic keys directly.
func (c Channel) Suffix() string {
	switch c {
	case Twilio:
		return "_phone"
	case Telnyx:
		return "_telnyx"
	}
	return ""
}

// ParseChannel parses a channel name case-insensitively.
func ParseChannel(s string) (Channel, error) {
	c := Channel(strings.ToLower(strings.TrimSpace(s)))
	if !c.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownChannel, s)
	}
	return c, nil
}

// Field names one of the seven chained selection fields.
type Field string

const (
	FieldProvider      Field = "provider"
	FieldModel         Field = "model"
	FieldVoiceProvider Field = "voiceProvider"
	FieldVoiceLanguage Field = "voiceLang"
	FieldVoiceGender   Field = "voiceGender"
	FieldVoiceID       Field = "voiceId"
	FieldVoiceStyle    Field = "voiceStyle"
)

// ChainFields lists every chained field.
var ChainFields = []Field{
	FieldProvider, FieldModel,
	FieldVoiceProvider, FieldVoiceLanguage, FieldVoiceGender, FieldVoiceID, FieldVoiceStyle,
}

// IsChain reports whether f is one of the chained selection fields.
func (f Field) IsChain() bool {
	_, ok := chainDefs[f]
	return ok
}

// Selection holds the values of the chained fields.
type Selection struct {
	Provider      string `json:"provider" yaml:"provider"`
	Model         string `json:"model" yaml:"model"`
	VoiceProvider string `json:"voiceProvider" yaml:"voiceProvider"`
	VoiceLanguage string `json:"voiceLang" yaml:"voiceLang"`
	VoiceGender   string `json:"voiceGender" yaml:"voiceGender"`
	VoiceID       string `json:"voiceId" yaml:"voiceId"`
	VoiceStyle    string `json:"voiceStyle" yaml:"voiceStyle"`
}

// Get returns the value of f, or "" for a non-chain field.
func (s Selection) Get(f Field) string {
	if p := s.ptr(f); p != nil {
		return *p
	}
	return ""
}

// Set assigns v to f. It reports false if f is not a chain field.
func (s *Selection) Set(f Field, v string) bool {
	p := s.ptr(f)
	if p == nil {
		return false
	}
	*p = v
	return true
}

func (s *Selection) ptr(f Field) *string {
	switch f {
	case FieldProvider:
		return &s.Provider
	case FieldModel:
		return &s.Model
	case FieldVoiceProvider:
		return &s.VoiceProvider
	case FieldVoiceLanguage:
		return &s.VoiceLanguage
	case FieldVoiceGender:
		return &s.VoiceGender
	case FieldVoiceID:
		return &s.VoiceID
	case FieldVoiceStyle:
		return &s.VoiceStyle
	}
	return nil
}

// chainDef describes where a chain field comes from in the server snapshot.
type chainDef struct {
	serverKey string // empty for fields the server does not persist
	def       string
}

var chainDefs = map[Field]chainDef{
	FieldProvider:      {serverKey: "llm_provider", def: "groq"},
	FieldModel:         {serverKey: "llm_model"},
	FieldVoiceProvider: {serverKey: "tts_provider", def: "azure"},
	FieldVoiceLanguage: {serverKey: "voice_language", def: "es-MX"},
	FieldVoiceGender:   {def: "female"},
	FieldVoiceID:       {serverKey: "voice_name"},
	FieldVoiceStyle:    {serverKey: "voice_style"},
}

// Default returns the static default of a chain field.
func Default(f Field) string {
	return chainDefs[f].def
}

// Profile is one channel's full configuration record.
type Profile struct {
	Channel Channel

	// Selection holds the live chain values.
	Selection

	// Saved is the chain state as persisted by the configuration service,
	// captured once when the profile was built. It only matters for the
	// initial restore pass.
	Saved Selection

	// Fields holds the independent (non-chain) fields keyed by [FieldDef.Key].
	Fields map[string]any
}

// Build constructs the profile for ch from snap. Every field is resolved
// independently from the channel-specific key, then the channel-agnostic key,
// then the static default.
func Build(ch Channel, snap Snapshot) *Profile {
	p := &Profile{
		Channel: ch,
		Fields:  make(map[string]any, len(FieldDefs)),
	}
	for f, cs := range chainDefs {
		v := cs.def
		if cs.serverKey != "" {
			if raw, ok := snap.lookup(ch, cs.serverKey); ok {
				if s := strings.TrimSpace(asString(raw)); s != "" {
					v = s
				}
			}
		}
		p.Selection.Set(f, v)
	}
	p.Saved = p.Selection

	for _, fd := range FieldDefs {
		raw, ok := snap.lookup(ch, fd.ServerKey)
		if !ok {
			p.Fields[fd.Key] = fd.Default
			continue
		}
		v, err := fd.coerce(raw)
		if err != nil {
			p.Fields[fd.Key] = fd.Default
			continue
		}
		p.Fields[fd.Key] = v
	}
	return p
}

// Clone returns a deep copy of p. Field values are scalars or strings, so a
// shallow map copy is sufficient.
func (p *Profile) Clone() *Profile {
	c := *p
	c.Fields = maps.Clone(p.Fields)
	return &c
}

// Value returns the value of a chain or independent field by key.
func (p *Profile) Value(key string) (any, bool) {
	if f := Field(key); f.IsChain() {
		return p.Selection.Get(f), true
	}
	v, ok := p.Fields[key]
	return v, ok
}

// Flatten returns the field→value mapping handed to the save collaborator.
// The transient voice gender is not persisted and is omitted.
func (p *Profile) Flatten() map[string]any {
	out := make(map[string]any, len(p.Fields)+len(chainDefs))
	maps.Copy(out, p.Fields)
	for f := range chainDefs {
		if f == FieldVoiceGender {
			continue
		}
		out[string(f)] = p.Selection.Get(f)
	}
	return out
}

// Snapshot is the flat key→value configuration delivered by the server.
type Snapshot map[string]any

// Lookup returns the value under key. Missing keys, nulls, and empty strings
// are all reported as absent.
func (s Snapshot) Lookup(key string) (any, bool) {
	v, ok := s[key]
	if !ok || v == nil {
		return nil, false
	}
	if str, isStr := v.(string); isStr && str == "" {
		return nil, false
	}
	return v, true
}

// lookup resolves base for ch: the channel-specific key first, then the
// channel-agnostic one.
func (s Snapshot) lookup(ch Channel, base string) (any, bool) {
	if suffix := ch.Suffix(); suffix != "" {
		if v, ok := s.Lookup(base + suffix); ok {
			return v, true
		}
	}
	return s.Lookup(base)
}
