package selection_test

import (
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/MrWong99/dialdeck/internal/selection"
)

func TestSet_Toggle(t *testing.T) {
	t.Parallel()
	var s selection.Set

	if !s.Toggle(7) {
		t.Error("first toggle should select")
	}
	if s.Toggle(7) {
		t.Error("second toggle should deselect")
	}
	if s.Count() != 0 {
		t.Errorf("Count: got %d, want 0", s.Count())
	}
}

func TestSet_ToggleAllOnlyTouchesVisibleRows(t *testing.T) {
	t.Parallel()
	var s selection.Set
	s.Toggle(100) // on another page

	s.ToggleAll([]int64{3, 1, 2}, true)
	if diff := cmp.Diff([]int64{1, 2, 3, 100}, s.Selected()); diff != "" {
		t.Errorf("after select all (-want +got):\n%s", diff)
	}

	s.ToggleAll([]int64{1, 2, 3}, false)
	if diff := cmp.Diff([]int64{100}, s.Selected()); diff != "" {
		t.Errorf("after deselect all (-want +got):\n%s", diff)
	}
}

func TestSet_DeleteLabel(t *testing.T) {
	t.Parallel()
	var s selection.Set
	if got := s.DeleteLabel(); got != "" {
		t.Errorf("empty: got %q, want hidden", got)
	}
	s.ToggleAll([]int64{4, 5}, true)
	if got := s.DeleteLabel(); got != "Borrar (2)" {
		t.Errorf("got %q, want %q", got, "Borrar (2)")
	}
}

func TestSet_TakeAndClear(t *testing.T) {
	t.Parallel()
	var s selection.Set
	s.ToggleAll([]int64{9, 8}, true)

	if diff := cmp.Diff([]int64{8, 9}, s.Take()); diff != "" {
		t.Errorf("Take (-want +got):\n%s", diff)
	}
	if s.Count() != 0 {
		t.Errorf("Count after Take: got %d", s.Count())
	}

	s.Toggle(1)
	s.Clear()
	if len(s.Selected()) != 0 {
		t.Error("Clear left selections behind")
	}
}

func TestSet_ConcurrentTakesHandOutEachIDOnce(t *testing.T) {
	t.Parallel()
	const n = 200
	var s selection.Set
	for i := range n {
		s.Toggle(int64(i))
	}

	var (
		mu    sync.Mutex
		taken []int64
		wg    sync.WaitGroup
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got := s.Take()
			mu.Lock()
			taken = append(taken, got...)
			mu.Unlock()
		}()
	}
	wg.Wait()

	seen := make(map[int64]bool, n)
	for _, id := range taken {
		if seen[id] {
			t.Fatalf("id %d handed out twice", id)
		}
		seen[id] = true
	}
	if len(seen) != n || s.Count() != 0 {
		t.Errorf("took %d ids with %d left, want %d and 0", len(seen), s.Count(), n)
	}
}

func TestSet_ConcurrentToggles(t *testing.T) {
	t.Parallel()
	var s selection.Set
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Toggle(int64(i))
		}()
	}
	wg.Wait()
	if s.Count() != 50 {
		t.Errorf("Count: got %d, want 50", s.Count())
	}
}
