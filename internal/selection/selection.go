// Package selection tracks which call-history rows are checked for bulk
// deletion.
package selection

import (
	"fmt"
	"slices"
	"sync"
)

// Set is a set of selected call IDs. The zero value is ready to use and it is
// safe for concurrent use.
type Set struct {
	mu  sync.Mutex
	ids map[int64]struct{}
}

// Toggle flips id and reports whether it is now selected.
func (s *Set) Toggle(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ids == nil {
		s.ids = make(map[int64]struct{})
	}
	if _, ok := s.ids[id]; ok {
		delete(s.ids, id)
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

// ToggleAll selects (on) or deselects every id in visible, the rows
// currently shown in the table. Rows not in visible keep their state.
func (s *Set) ToggleAll(visible []int64, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ids == nil {
		s.ids = make(map[int64]struct{}, len(visible))
	}
	for _, id := range visible {
		if on {
			s.ids[id] = struct{}{}
		} else {
			delete(s.ids, id)
		}
	}
}

// Selected returns the selected IDs in ascending order.
func (s *Set) Selected() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectedLocked()
}

func (s *Set) selectedLocked() []int64 {
	out := make([]int64, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Count returns the number of selected IDs.
func (s *Set) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

// Clear deselects everything.
func (s *Set) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.ids)
}

// Take returns the selected IDs and clears the set, as a bulk delete does
// once confirmed.
func (s *Set) Take() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.selectedLocked()
	clear(s.ids)
	return ids
}

// DeleteLabel is the caption of the bulk-delete button, or "" when the button
// is hidden because nothing is selected.
func (s *Set) DeleteLabel() string {
	n := s.Count()
	if n == 0 {
		return ""
	}
	return fmt.Sprintf("Borrar (%d)", n)
}
