package catalog

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// Closest returns the entry whose ID is most similar to value by
// Jaro-Winkler distance, together with its score. It is meant for
// diagnostics ("did you mean …") when a persisted value is no longer legal;
// selection never depends on it. ok is false when entries is empty or value
// is blank.
func Closest(value string, entries []Entry) (best Entry, score float64, ok bool) {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		return Entry{}, 0, false
	}
	for _, e := range entries {
		s := matchr.JaroWinkler(v, strings.ToLower(e.ID), false)
		if !ok || s > score {
			best, score, ok = e, s, true
		}
	}
	return best, score, ok
}
