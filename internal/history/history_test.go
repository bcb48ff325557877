package history_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/SocialNOT/AgainINDIA/internal/history"
	"github.com/SocialNOT/AgainINDIA/pkg/transport"
)

// ── MemStore ─────────────────────────────────────────────────────────────────

func TestMemStore_AppendList(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := history.NewMemStore()

	recs := []history.Record{
		{SessionID: "a", Speaker: transport.SpeakerUser, Text: "namaste"},
		{SessionID: "b", Speaker: transport.SpeakerUser, Text: "other session"},
		{SessionID: "a", Speaker: transport.SpeakerRemote, Text: "welcome, seeker"},
	}
	for _, r := range recs {
		if err := s.Append(ctx, r); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := s.List(ctx, "a")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Text != "namaste" || got[1].Text != "welcome, seeker" {
		t.Errorf("order = %q, %q", got[0].Text, got[1].Text)
	}

	got[0].Text = "mutated"
	again, _ := s.List(ctx, "a")
	if again[0].Text != "namaste" {
		t.Error("List must return a copy")
	}
}

func TestMemStore_UnknownSession(t *testing.T) {
	t.Parallel()

	got, err := history.NewMemStore().List(context.Background(), "missing")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("got %v, want empty non-nil slice", got)
	}
}

func TestMemStore_Closed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := history.NewMemStore()
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Append(ctx, history.Record{SessionID: "a", Text: "x"}); !errors.Is(err, history.ErrClosed) {
		t.Errorf("Append after close: %v", err)
	}
	if _, err := s.List(ctx, "a"); !errors.Is(err, history.ErrClosed) {
		t.Errorf("List after close: %v", err)
	}
	if err := s.Ping(ctx); !errors.Is(err, history.ErrClosed) {
		t.Errorf("Ping after close: %v", err)
	}
}

// ── Recorder ─────────────────────────────────────────────────────────────────

func TestRecorder_DrainsOnClose(t *testing.T) {
	t.Parallel()

	s := history.NewMemStore()
	r := history.NewRecorder(s)

	for _, text := range []string{"one", "two", "three"} {
		if !r.Record(history.Record{SessionID: "s", Text: text}) {
			t.Fatalf("Record(%q) rejected", text)
		}
	}
	r.Close()

	got, _ := s.List(context.Background(), "s")
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, want := range []string{"one", "two", "three"} {
		if got[i].Text != want {
			t.Errorf("got[%d] = %q, want %q", i, got[i].Text, want)
		}
		if got[i].Time.IsZero() {
			t.Errorf("got[%d].Time not stamped", i)
		}
	}
}

func TestRecorder_KeepsExplicitTime(t *testing.T) {
	t.Parallel()

	s := history.NewMemStore()
	r := history.NewRecorder(s)
	at := time.Date(2026, 1, 26, 9, 0, 0, 0, time.UTC)
	r.Record(history.Record{SessionID: "s", Text: "x", Time: at})
	r.Close()

	got, _ := s.List(context.Background(), "s")
	if len(got) != 1 || !got[0].Time.Equal(at) {
		t.Errorf("got %+v, want time %v", got, at)
	}
}

func TestRecorder_RecordAfterClose(t *testing.T) {
	t.Parallel()

	r := history.NewRecorder(history.NewMemStore())
	r.Close()
	r.Close()
	if r.Record(history.Record{SessionID: "s", Text: "late"}) {
		t.Error("Record after Close should be rejected")
	}
}

// blockingStore holds every Append until release is closed.
type blockingStore struct {
	*history.MemStore
	release chan struct{}
	once    sync.Once
	entered chan struct{}
}

func (b *blockingStore) Append(ctx context.Context, rec history.Record) error {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return b.MemStore.Append(ctx, rec)
}

func TestRecorder_QueueFullDrops(t *testing.T) {
	t.Parallel()

	s := &blockingStore{
		MemStore: history.NewMemStore(),
		release:  make(chan struct{}),
		entered:  make(chan struct{}),
	}
	r := history.NewRecorder(s, history.WithQueueSize(1))

	r.Record(history.Record{SessionID: "s", Text: "in flight"})
	select {
	case <-s.entered:
	case <-time.After(3 * time.Second):
		t.Fatal("store never received the first record")
	}

	if !r.Record(history.Record{SessionID: "s", Text: "queued"}) {
		t.Fatal("second record should fit the queue")
	}
	if r.Record(history.Record{SessionID: "s", Text: "dropped"}) {
		t.Error("third record should be dropped")
	}

	close(s.release)
	r.Close()

	got, _ := s.List(context.Background(), "s")
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
}

// failingStore rejects every Append.
type failingStore struct {
	*history.MemStore
	mu    sync.Mutex
	calls int
}

func (f *failingStore) Append(context.Context, history.Record) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return errors.New("disk full")
}

func TestRecorder_StoreErrorsDoNotStopLoop(t *testing.T) {
	t.Parallel()

	s := &failingStore{MemStore: history.NewMemStore()}
	r := history.NewRecorder(s)
	r.Record(history.Record{SessionID: "s", Text: "a"})
	r.Record(history.Record{SessionID: "s", Text: "b"})
	r.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls != 2 {
		t.Errorf("Append calls = %d, want 2", s.calls)
	}
}
