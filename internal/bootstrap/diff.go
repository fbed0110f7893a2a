package bootstrap

import (
	"reflect"
	"slices"
	"sort"
)

// BundleDiff describes what changed between two bundles. Keys are listed in
// sorted order.
type BundleDiff struct {
	// SnapshotKeys are configuration keys that were added, removed, or
	// changed.
	SnapshotKeys []string

	// Per-catalog bucket keys (provider, or voice ID for styles) whose
	// contents changed.
	Models    []string
	Languages []string
	Voices    []string
	Styles    []string
}

// Empty reports whether nothing changed.
func (d BundleDiff) Empty() bool {
	return len(d.SnapshotKeys) == 0 && !d.CatalogsChanged()
}

// CatalogsChanged reports whether any catalog bucket changed.
func (d BundleDiff) CatalogsChanged() bool {
	return len(d.Models) > 0 || len(d.Languages) > 0 || len(d.Voices) > 0 || len(d.Styles) > 0
}

// Diff compares old and new and returns what changed.
func Diff(old, new *Bundle) BundleDiff {
	return BundleDiff{
		SnapshotKeys: diffKeys(old.Snapshot, new.Snapshot),
		Models:       diffKeys(old.Models, new.Models),
		Languages:    diffKeys(old.Languages, new.Languages),
		Voices:       diffKeys(old.Voices, new.Voices),
		Styles:       diffKeys(old.Styles, new.Styles),
	}
}

// diffKeys returns every key present in only one of a and b, or whose values
// differ.
func diffKeys[M ~map[string]V, V any](a, b M) []string {
	var out []string
	for k, av := range a {
		bv, ok := b[k]
		if !ok || !reflect.DeepEqual(av, bv) {
			out = append(out, k)
		}
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return slices.Compact(out)
}
