package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/SocialNOT/AgainINDIA/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
personas:
  - id: sage_atri
    name: Maharishi Atri
`

const watcherUpdatedYAML = `
server:
  log_level: debug
personas:
  - id: sage_atri
    name: Maharishi Atri
    voice: Leda
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
}

func newWatchedFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sagetalk.yaml")
	writeFile(t, path, watcherValidYAML)
	return path
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	path := newWatchedFile(t)

	w, err := config.NewWatcher(path, nil, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	cfg := w.Current()
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q, want info", cfg.Server.LogLevel)
	}
	if cfg.Audio.ChunkSize != config.DefaultChunkSize {
		t.Errorf("defaults not applied: chunk_size = %d", cfg.Audio.ChunkSize)
	}
}

// reloads collects every reported reload.
type reloads struct {
	mu   sync.Mutex
	seen []config.Reload
	ch   chan struct{}
}

func newReloads() *reloads { return &reloads{ch: make(chan struct{}, 16)} }

func (r *reloads) record(rl config.Reload) {
	r.mu.Lock()
	r.seen = append(r.seen, rl)
	r.mu.Unlock()
	r.ch <- struct{}{}
}

func (r *reloads) all() []config.Reload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]config.Reload(nil), r.seen...)
}

func TestWatcher_PollPicksUpChangedPersona(t *testing.T) {
	t.Parallel()
	path := newWatchedFile(t)
	got := newReloads()

	w, err := config.NewWatcher(path, got.record, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	first := w.Current()
	writeFile(t, path, watcherUpdatedYAML)

	select {
	case <-got.ch:
	case <-time.After(3 * time.Second):
		t.Fatal("reload was not reported")
	}

	rl := got.all()[0]
	if rl.Generation != 2 || w.Generation() != 2 {
		t.Errorf("generation = %d (watcher %d), want 2", rl.Generation, w.Generation())
	}
	if rl.Old != first || rl.New != w.Current() {
		t.Error("Reload.Old/New do not match the swapped configs")
	}
	if !rl.Diff.LogLevelChanged || rl.Diff.NewLogLevel != config.LogDebug {
		t.Errorf("log level diff = %v/%q", rl.Diff.LogLevelChanged, rl.Diff.NewLogLevel)
	}
	if len(rl.Diff.PersonaChanges) != 1 || !rl.Diff.PersonaChanges[0].VoiceChanged {
		t.Errorf("persona changes = %+v, want one voice change", rl.Diff.PersonaChanges)
	}
	if p, _ := w.Current().Persona("sage_atri"); p.VoiceName() != "Leda" {
		t.Errorf("Current() voice = %q, want Leda", p.VoiceName())
	}
}

func TestWatcher_ReloadNow(t *testing.T) {
	t.Parallel()
	path := newWatchedFile(t)
	got := newReloads()

	w, err := config.NewWatcher(path, got.record, config.WithInterval(time.Hour))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	writeFile(t, path, watcherUpdatedYAML)
	if err := w.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if n := len(got.all()); n != 1 {
		t.Fatalf("reported %d reloads, want 1", n)
	}
	if err := w.Reload(); err != nil {
		t.Fatalf("second Reload: %v", err)
	}
	if n := len(got.all()); n != 1 {
		t.Errorf("unchanged file reported again: %d reloads", n)
	}
}

func TestWatcher_InvalidEditKeepsOldConfig(t *testing.T) {
	t.Parallel()
	path := newWatchedFile(t)
	got := newReloads()

	w, err := config.NewWatcher(path, got.record, config.WithInterval(time.Hour))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	writeFile(t, path, "audio:\n  chunk_size: -1\n")
	if err := w.Reload(); err == nil {
		t.Error("Reload of an invalid file returned nil")
	}
	if n := len(got.all()); n != 0 {
		t.Errorf("invalid edit reported %d reloads", n)
	}
	if _, ok := w.Current().Persona("sage_atri"); !ok || w.Generation() != 1 {
		t.Error("Current() lost the last valid config")
	}
}

func TestWatcher_EditWithoutEffectKeepsConfig(t *testing.T) {
	t.Parallel()
	path := newWatchedFile(t)
	got := newReloads()

	w, err := config.NewWatcher(path, got.record, config.WithInterval(time.Hour))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	first := w.Current()
	writeFile(t, path, "# tuned for the evening class\n"+watcherValidYAML)
	if err := w.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if w.Current() != first || w.Generation() != 1 {
		t.Error("comment-only edit replaced the current config")
	}
	if n := len(got.all()); n != 0 {
		t.Errorf("comment-only edit reported %d reloads", n)
	}
}

func TestWatcher_TouchWithoutContentChange(t *testing.T) {
	t.Parallel()
	path := newWatchedFile(t)
	got := newReloads()

	w, err := config.NewWatcher(path, got.record, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	later := time.Now().Add(time.Second)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}
	time.Sleep(200 * time.Millisecond)

	if n := len(got.all()); n != 0 {
		t.Errorf("touch reported %d reloads", n)
	}
}

func TestWatcher_MissingFile(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "absent.yaml"), nil); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	w, err := config.NewWatcher(newWatchedFile(t), nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	w.Stop()
	w.Stop()
}
