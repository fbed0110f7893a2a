package catalog

import (
	"encoding/json"
	"log/slog"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Entry is one selectable catalog item.
type Entry struct {
	ID    string `json:"id" yaml:"id"`
	Label string `json:"label" yaml:"label"`
}

// UnmarshalJSON accepts the object form {"id", "label"} (or "name" in place of
// "label", as the model and language feeds use) and the legacy bare-string
// form, which becomes {s, Capitalize(s)}.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		slog.Warn("catalog: legacy bare-string entry", "value", s)
		*e = EntryFromString(s)
		return nil
	}

	var raw struct {
		ID    string `json:"id"`
		Label string `json:"label"`
		Name  string `json:"name"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = Entry{ID: raw.ID, Label: firstNonEmpty(raw.Label, raw.Name, raw.ID)}
	return nil
}

// EntryFromString normalises a bare string payload into an [Entry].
func EntryFromString(s string) Entry {
	return Entry{ID: s, Label: Capitalize(s)}
}

// Capitalize upper-cases the first letter of s and leaves the rest untouched
// ("newscast casual" → "Newscast casual").
func Capitalize(s string) string {
	r, n := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	// Casers are stateful; one per call.
	return cases.Upper(language.Und).String(s[:n]) + s[n:]
}

// Gender is a voice gender tag.
type Gender string

const (
	GenderFemale  Gender = "female"
	GenderMale    Gender = "male"
	GenderNeutral Gender = "neutral"
)

// ParseGender normalises a gender tag. Upstream feeds report enum names such
// as "Female"; anything unrecognised is kept lower-cased.
func ParseGender(s string) Gender {
	return Gender(strings.ToLower(strings.TrimSpace(s)))
}

// Label returns the dashboard display name for g.
func (g Gender) Label() string {
	switch g {
	case GenderFemale:
		return "Femenino"
	case GenderMale:
		return "Masculino"
	default:
		return "Neutral"
	}
}

// Entry returns g as a selectable [Entry].
func (g Gender) Entry() Entry {
	return Entry{ID: string(g), Label: g.Label()}
}

// Voice is a TTS voice with its gender tag.
type Voice struct {
	ID     string `json:"id" yaml:"id"`
	Label  string `json:"label" yaml:"label"`
	Gender Gender `json:"gender" yaml:"gender"`
}

// UnmarshalJSON accepts "label" or "name" for the display label and
// normalises the gender tag.
func (v *Voice) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID     string `json:"id"`
		Label  string `json:"label"`
		Name   string `json:"name"`
		Gender string `json:"gender"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = Voice{
		ID:     raw.ID,
		Label:  firstNonEmpty(raw.Label, raw.Name, raw.ID),
		Gender: ParseGender(raw.Gender),
	}
	return nil
}

// Entry returns v without its gender tag.
func (v Voice) Entry() Entry {
	return Entry{ID: v.ID, Label: v.Label}
}

// DistinctGenders returns the gender tags of voices, deduplicated, in order of
// first appearance.
func DistinctGenders(voices []Voice) []Gender {
	var out []Gender
	seen := make(map[Gender]struct{}, 3)
	for _, v := range voices {
		if _, ok := seen[v.Gender]; ok {
			continue
		}
		seen[v.Gender] = struct{}{}
		out = append(out, v.Gender)
	}
	return out
}

// FilterByGender returns the voices tagged g, preserving order.
func FilterByGender(voices []Voice, g Gender) []Voice {
	var out []Voice
	for _, v := range voices {
		if v.Gender == g {
			out = append(out, v)
		}
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
