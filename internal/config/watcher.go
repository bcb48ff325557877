package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

const defaultWatchInterval = 5 * time.Second

// Reload describes one accepted configuration change.
type Reload struct {
	// Generation numbers accepted configurations. The file loaded by
	// NewWatcher is generation 1.
	Generation uint64

	Old, New *Config
	Diff     ConfigDiff
}

// Watcher holds the configuration the next voice session starts with.
//
// The file is re-read every interval and whenever [Watcher.Reload] is called.
// A valid edit that changes a setting becomes the current config and is
// reported to onReload; an invalid edit is logged and the previous config
// stays current. Edits that change no setting (comments, formatting) are
// absorbed without a new generation, so callers keyed on the *Config pointer
// keep their per-config state, such as transport circuit breakers.
//
// A running session never sees a reload. Callers read [Watcher.Current] when
// they start the next one.
type Watcher struct {
	path     string
	interval time.Duration
	onReload func(Reload)

	reloadMu sync.Mutex
	snap     atomic.Pointer[snapshot]

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

type snapshot struct {
	cfg  *Config
	gen  uint64
	hash [sha256.Size]byte
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

// NewWatcher loads path and starts polling it. onReload may be nil; it runs
// on the reloading goroutine, one reload at a time, and must not call
// [Watcher.Reload].
func NewWatcher(path string, onReload func(Reload), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: defaultWatchInterval,
		onReload: onReload,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	w.snap.Store(&snapshot{cfg: cfg, gen: 1, hash: sha256.Sum256(data)})

	go w.run()
	return w, nil
}

// Current returns the configuration for the next session.
func (w *Watcher) Current() *Config {
	return w.snap.Load().cfg
}

// Generation returns the generation of [Watcher.Current].
func (w *Watcher) Generation() uint64 {
	return w.snap.Load().gen
}

// Reload re-reads the file now. An unreadable or invalid file returns an
// error and leaves the current config in place.
func (w *Watcher) Reload() error {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	data, err := os.ReadFile(w.path)
	if err != nil {
		return fmt.Errorf("config: reload: %w", err)
	}
	prev := w.snap.Load()
	hash := sha256.Sum256(data)
	if hash == prev.hash {
		return nil
	}

	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("config: reload %s: %w", w.path, err)
	}
	d := Diff(prev.cfg, cfg)
	if d.Empty() {
		w.snap.Store(&snapshot{cfg: prev.cfg, gen: prev.gen, hash: hash})
		slog.Debug("config file edited without effect", "path", w.path)
		return nil
	}

	next := &snapshot{cfg: cfg, gen: prev.gen + 1, hash: hash}
	w.snap.Store(next)
	slog.Info("config reloaded", "path", w.path, "generation", next.gen)
	if w.onReload != nil {
		w.onReload(Reload{Generation: next.gen, Old: prev.cfg, New: cfg, Diff: d})
	}
	return nil
}

// Stop ends polling and waits for an in-flight reload to finish.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.done
}

func (w *Watcher) run() {
	defer close(w.done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			if err := w.Reload(); err != nil {
				slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
			}
		}
	}
}
