// Package notify publishes settled selection changes to interested
// listeners.
//
// A [Queue] buffers the changes of one or more reconciliation passes and
// hands them to a [Notifier] in order once the owning store has released its
// lock. A [Bus] is the usual Notifier: it fans every change out to the
// subscribers whose [Filter] matches.
package notify

import (
	"slices"
	"sync"

	"github.com/MrWong99/dialdeck/pkg/profile"
)

// Change is one settled field transition on one profile.
type Change struct {
	Channel profile.Channel `json:"channel"`
	Field   profile.Field   `json:"field"`
	Old     string          `json:"old"`
	New     string          `json:"new"`

	// Restored is true for changes produced by the initial restore pass.
	// Those are published even when Old == New.
	Restored bool `json:"restored,omitempty"`
}

// Notifier receives settled changes.
type Notifier interface {
	Notify(Change)
}

// NotifierFunc adapts a plain function to [Notifier].
type NotifierFunc func(Change)

// Notify calls f(c).
func (f NotifierFunc) Notify(c Change) { f(c) }

// Discard drops every change.
var Discard Notifier = NotifierFunc(func(Change) {})

// Filter selects which changes a subscriber receives. Zero-valued members
// match everything.
type Filter struct {
	Channel profile.Channel
	Fields  []profile.Field
}

// Match reports whether c passes the filter.
func (f Filter) Match(c Change) bool {
	if f.Channel != "" && f.Channel != c.Channel {
		return false
	}
	return len(f.Fields) == 0 || slices.Contains(f.Fields, c.Field)
}

type subscriber struct {
	id     uint64
	filter Filter
	fn     func(Change)
}

// Bus fans changes out to subscribers. It is safe for concurrent use.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []subscriber
}

// NewBus returns an empty, ready-to-use [Bus].
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers fn for every change matching filter and returns a
// function that removes the subscription. The returned function is
// idempotent.
func (b *Bus) Subscribe(filter Filter, fn func(Change)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscriber{id: id, filter: filter, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.subs = slices.DeleteFunc(b.subs, func(s subscriber) bool { return s.id == id })
		})
	}
}

// Len returns the number of active subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Notify delivers c to every matching subscriber in subscription order.
// Subscribers run on the caller's goroutine without the bus lock held, so
// they may subscribe or unsubscribe freely.
func (b *Bus) Notify(c Change) {
	b.mu.RLock()
	subs := slices.Clone(b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		if s.filter.Match(c) {
			s.fn(c)
		}
	}
}
