package bootstrap

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/dialdeck/internal/observe"
)

// Watcher polls the bootstrap files for changes and calls a callback with the
// freshly loaded bundle. It uses polling (not fsnotify).
type Watcher struct {
	src      Sources
	interval time.Duration
	onChange func(old, new *Bundle)

	mu       sync.Mutex
	current  *Bundle
	done     chan struct{}
	stopOnce sync.Once

	// last known file state for change detection
	lastMtimes map[string]time.Time
	lastHash   [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads the initial bundle immediately and starts polling in a
// background goroutine.
func NewWatcher(src Sources, onChange func(old, new *Bundle), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		src:      src,
		interval: 5 * time.Second,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	b, hash, mtimes, err := w.loadAndHash()
	if err != nil {
		return nil, fmt.Errorf("bootstrap: watcher initial load: %w", err)
	}
	w.current = b
	w.lastHash = hash
	w.lastMtimes = mtimes

	go w.poll()
	return w, nil
}

// Current returns the most recently loaded valid bundle.
func (w *Watcher) Current() *Bundle {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop stops the watcher.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
}

func (w *Watcher) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

// check reloads the bundle when any source file changed and the new content
// is valid. An invalid reload keeps the previous bundle.
func (w *Watcher) check() {
	changed := false
	w.mu.Lock()
	for _, path := range w.src.Paths() {
		info, err := os.Stat(path)
		if err != nil {
			w.mu.Unlock()
			slog.Warn("bootstrap watcher: cannot stat file", "path", path, "err", err)
			return
		}
		if !info.ModTime().Equal(w.lastMtimes[path]) {
			changed = true
		}
	}
	w.mu.Unlock()
	if !changed {
		return
	}

	ctx := context.Background()
	b, hash, mtimes, err := w.loadAndHash()
	if err != nil {
		observe.DefaultMetrics().RecordBootstrapReload(ctx, "error")
		slog.Warn("bootstrap watcher: failed to reload", "err", err)
		return
	}

	w.mu.Lock()
	w.lastMtimes = mtimes
	if hash == w.lastHash {
		// Touched but identical.
		w.mu.Unlock()
		return
	}
	old := w.current
	w.current = b
	w.lastHash = hash
	w.mu.Unlock()

	observe.DefaultMetrics().RecordBootstrapReload(ctx, "ok")
	slog.Info("bootstrap watcher: bundle reloaded", "paths", w.src.Paths())

	// Outside the lock so the callback may call Current().
	if w.onChange != nil {
		w.onChange(old, b)
	}
}

// loadAndHash hashes every source file in order and loads the bundle from
// them. The mtimes are captured before reading so a write racing with the
// load is seen again on the next tick.
func (w *Watcher) loadAndHash() (*Bundle, [sha256.Size]byte, map[string]time.Time, error) {
	var zeroHash [sha256.Size]byte

	paths := w.src.Paths()
	mtimes := make(map[string]time.Time, len(paths))
	h := sha256.New()
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, zeroHash, nil, err
		}
		mtimes[path] = info.ModTime()

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, zeroHash, nil, err
		}
		fmt.Fprintf(h, "%s\x00%d\x00", path, len(data))
		h.Write(data)
	}

	b, err := Load(context.Background(), w.src)
	if err != nil {
		return nil, zeroHash, nil, err
	}

	var sum [sha256.Size]byte
	copy(sum[:], h.Sum(nil))
	return b, sum, mtimes, nil
}
