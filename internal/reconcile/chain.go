// Package reconcile keeps the chained selection fields of a profile
// consistent with the catalogs.
//
// Two chains exist:
//
//	llm:   provider → model
//	voice: voiceProvider → voiceLang → voiceGender → voiceId → voiceStyle
//
// Each field's legal values are a pure function of the fields upstream of it
// and the catalogs. A reconciliation pass walks a chain in order from the
// field that changed, recomputes every downstream candidate set, and resolves
// each field against it. Passes are synchronous, total, and never fail: an
// empty candidate set simply leaves the field empty.
package reconcile

import (
	"slices"

	"github.com/MrWong99/dialdeck/pkg/catalog"
	"github.com/MrWong99/dialdeck/pkg/profile"
)

// Catalog is the read side of the catalog store the engine depends on.
// [*catalog.Store] satisfies it.
type Catalog interface {
	ModelsOf(provider string) []catalog.Entry
	LanguagesOf(voiceProvider string) []catalog.Entry
	VoicesOf(voiceProvider, language string) []catalog.Voice
	StylesOf(voiceID string) []catalog.Entry
}

// link is one dependent field of a chain.
type link struct {
	field profile.Field

	// legal computes the candidate set from the current (already resolved)
	// upstream values.
	legal func(sel profile.Selection, cat Catalog) []catalog.Entry

	// saved overrides the persisted value used in restore mode. When nil the
	// field's own saved value is used.
	saved func(p *profile.Profile, cat Catalog) string
}

// Chain is an ordered list of fields; Head is independently settable and
// every link depends on all fields before it.
type Chain struct {
	Name  string
	Head  profile.Field
	links []link
}

// Fields returns the chain's fields in dependency order, head first.
func (c *Chain) Fields() []profile.Field {
	out := make([]profile.Field, 0, len(c.links)+1)
	out = append(out, c.Head)
	for _, l := range c.links {
		out = append(out, l.field)
	}
	return out
}

// position returns the index of f in Fields(), or -1.
func (c *Chain) position(f profile.Field) int {
	return slices.Index(c.Fields(), f)
}

// LLMChain is provider → model.
var LLMChain = &Chain{
	Name: "llm",
	Head: profile.FieldProvider,
	links: []link{
		{
			field: profile.FieldModel,
			legal: func(sel profile.Selection, cat Catalog) []catalog.Entry {
				return cat.ModelsOf(sel.Provider)
			},
		},
	},
}

// VoiceChain is voiceProvider → voiceLang → voiceGender → voiceId → voiceStyle.
var VoiceChain = &Chain{
	Name: "voice",
	Head: profile.FieldVoiceProvider,
	links: []link{
		{
			field: profile.FieldVoiceLanguage,
			legal: func(sel profile.Selection, cat Catalog) []catalog.Entry {
				return cat.LanguagesOf(sel.VoiceProvider)
			},
		},
		{
			field: profile.FieldVoiceGender,
			legal: func(sel profile.Selection, cat Catalog) []catalog.Entry {
				genders := catalog.DistinctGenders(cat.VoicesOf(sel.VoiceProvider, sel.VoiceLanguage))
				out := make([]catalog.Entry, len(genders))
				for i, g := range genders {
					out[i] = g.Entry()
				}
				return out
			},
			saved: savedGender,
		},
		{
			field: profile.FieldVoiceID,
			legal: func(sel profile.Selection, cat Catalog) []catalog.Entry {
				voices := catalog.FilterByGender(
					cat.VoicesOf(sel.VoiceProvider, sel.VoiceLanguage),
					catalog.Gender(sel.VoiceGender),
				)
				out := make([]catalog.Entry, len(voices))
				for i, v := range voices {
					out[i] = v.Entry()
				}
				return out
			},
		},
		{
			field: profile.FieldVoiceStyle,
			legal: func(sel profile.Selection, cat Catalog) []catalog.Entry {
				if sel.VoiceID == "" {
					return nil
				}
				return cat.StylesOf(sel.VoiceID)
			},
		},
	},
}

// Chains lists both chains.
var Chains = []*Chain{LLMChain, VoiceChain}

// ChainOf returns the chain containing f, or nil.
func ChainOf(f profile.Field) *Chain {
	for _, c := range Chains {
		if c.position(f) >= 0 {
			return c
		}
	}
	return nil
}

// savedGender derives the persisted gender from the persisted voice: the
// server stores a voice, not a gender, so restoring that voice requires
// selecting its gender first.
func savedGender(p *profile.Profile, cat Catalog) string {
	for _, v := range cat.VoicesOf(p.VoiceProvider, p.VoiceLanguage) {
		if v.ID == p.Saved.VoiceID {
			return string(v.Gender)
		}
	}
	return p.Saved.VoiceGender
}
