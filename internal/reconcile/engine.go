package reconcile

import (
	"strings"

	"github.com/MrWong99/dialdeck/pkg/catalog"
	"github.com/MrWong99/dialdeck/pkg/profile"
)

// Mode selects how a pass picks each field's target value.
type Mode int

const (
	// ModeUpdate keeps the current value when it is still legal. Used for
	// every pass after initialisation.
	ModeUpdate Mode = iota

	// ModeRestore prefers the persisted value when it is legal. Used once per
	// profile at initialisation.
	ModeRestore
)

// String returns "update" or "restore".
func (m Mode) String() string {
	if m == ModeRestore {
		return "restore"
	}
	return "update"
}

// Change is one settled field transition produced by a pass.
type Change struct {
	Field profile.Field
	Old   string
	New   string

	// Restored marks changes emitted by a restore pass. Restore passes report
	// every resolved field even when the value is textually unchanged, so
	// dependents always recompute.
	Restored bool
}

// Fallback records a value that was not legal and was replaced.
type Fallback struct {
	Field   profile.Field
	Dropped string
	Chosen  string

	// Suggestion is the candidate most similar to Dropped, if any.
	Suggestion string
}

// Result describes one reconciliation pass.
type Result struct {
	Chain string
	Mode  Mode

	// Candidates holds the computed legal set of every field the pass
	// resolved.
	Candidates map[profile.Field][]catalog.Entry

	// Changes are in chain order.
	Changes []Change

	Fallbacks []Fallback
}

// Merge appends other's changes and fallbacks to r and overlays its
// candidates.
func (r *Result) Merge(other Result) {
	if r.Candidates == nil {
		r.Candidates = make(map[profile.Field][]catalog.Entry, len(other.Candidates))
	}
	for f, c := range other.Candidates {
		r.Candidates[f] = c
	}
	r.Changes = append(r.Changes, other.Changes...)
	r.Fallbacks = append(r.Fallbacks, other.Fallbacks...)
}

// Engine runs reconciliation passes against a catalog. It holds no
// per-profile state and is safe for concurrent use as long as the profiles
// passed in are not shared.
type Engine struct {
	cat Catalog
}

// New returns an [Engine] that reads candidates from cat.
func New(cat Catalog) *Engine {
	return &Engine{cat: cat}
}

// Reconcile recomputes every field downstream of from in from's chain and
// resolves it against its candidates. If from is not a chain field the result
// is empty.
func (e *Engine) Reconcile(p *profile.Profile, from profile.Field, mode Mode) Result {
	chain := ChainOf(from)
	if chain == nil {
		return Result{Mode: mode}
	}
	res := Result{
		Chain:      chain.Name,
		Mode:       mode,
		Candidates: make(map[profile.Field][]catalog.Entry, len(chain.links)),
	}

	start := chain.position(from) // head is position 0, links start at 1
	for _, l := range chain.links[start:] {
		candidates := l.legal(p.Selection, e.cat)
		res.Candidates[l.field] = candidates

		current := p.Selection.Get(l.field)
		var target string
		switch mode {
		case ModeRestore:
			saved := p.Saved.Get(l.field)
			if l.saved != nil {
				saved = l.saved(p, e.cat)
			}
			if catalog.Contains(candidates, saved) {
				target = saved
			} else if saved != "" {
				res.Fallbacks = append(res.Fallbacks, fallback(l.field, saved, candidates))
			}
		default:
			if catalog.Contains(candidates, current) {
				target = current
			} else if current != "" {
				res.Fallbacks = append(res.Fallbacks, fallback(l.field, current, candidates))
			}
		}
		if target == "" && len(candidates) > 0 {
			target = candidates[0].ID
		}
		if n := len(res.Fallbacks); n > 0 && res.Fallbacks[n-1].Field == l.field {
			res.Fallbacks[n-1].Chosen = target
		}

		p.Selection.Set(l.field, target)
		if target != current || mode == ModeRestore {
			res.Changes = append(res.Changes, Change{
				Field:    l.field,
				Old:      current,
				New:      target,
				Restored: mode == ModeRestore,
			})
		}
	}
	return res
}

// ReconcileAll normalises both chain heads and runs a full pass over each
// chain.
func (e *Engine) ReconcileAll(p *profile.Profile, mode Mode) Result {
	var res Result
	res.Mode = mode
	for _, c := range Chains {
		old := p.Selection.Get(c.Head)
		head := NormalizeHead(c.Head, old)
		p.Selection.Set(c.Head, head)
		if head != old {
			res.Changes = append(res.Changes, Change{Field: c.Head, Old: old, New: head, Restored: mode == ModeRestore})
		}
		res.Merge(e.Reconcile(p, c.Head, mode))
	}
	res.Chain = "all"
	return res
}

// Candidates computes the candidate set of every dependent chain field from
// sel as it stands, without resolving anything.
func (e *Engine) Candidates(sel profile.Selection) map[profile.Field][]catalog.Entry {
	out := make(map[profile.Field][]catalog.Entry, len(profile.ChainFields))
	for _, c := range Chains {
		for _, l := range c.links {
			out[l.field] = l.legal(sel, e.cat)
		}
	}
	return out
}

// Upstream returns the field f depends on directly and true, or false when f
// is a chain head or not a chain field.
func Upstream(f profile.Field) (profile.Field, bool) {
	c := ChainOf(f)
	if c == nil {
		return "", false
	}
	i := c.position(f)
	if i <= 0 {
		return "", false
	}
	return c.Fields()[i-1], true
}

// NormalizeHead trims and lower-cases a chain-head value and substitutes the
// static default for an empty one.
func NormalizeHead(f profile.Field, v string) string {
	n := catalog.NormalizeKey(v)
	if n == "" {
		n = strings.TrimSpace(profile.Default(f))
	}
	return n
}

func fallback(f profile.Field, dropped string, candidates []catalog.Entry) Fallback {
	fb := Fallback{Field: f, Dropped: dropped}
	if best, _, ok := catalog.Closest(dropped, candidates); ok {
		fb.Suggestion = best.ID
	}
	return fb
}
