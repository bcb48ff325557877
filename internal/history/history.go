// Package history persists committed conversation turns.
//
// A [Store] is an append-only log of [Record] values keyed by session ID.
// [MemStore] keeps everything in process memory; the postgres and badger
// sub-packages provide durable backends. A [Recorder] sits between the
// session engine and a Store so that turn commits never block on I/O.
//
// Every Store implementation must be safe for concurrent use.
package history

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/SocialNOT/AgainINDIA/pkg/transport"
)

// ErrClosed is returned by Store methods called after Close.
var ErrClosed = errors.New("history: store closed")

// Record is one committed turn.
type Record struct {
	// SessionID is the UUID of the session the turn belongs to.
	SessionID string

	// PersonaID names the persona the user was talking to.
	PersonaID string

	// Speaker attributes the turn to the user or the remote voice.
	Speaker transport.Speaker

	// Text is the final committed transcript.
	Text string

	// Time is when the turn was committed.
	Time time.Time
}

// Store is an append-only turn log.
type Store interface {
	// Append adds rec to the log of rec.SessionID.
	Append(ctx context.Context, rec Record) error

	// List returns every record of sessionID in commit order. An unknown
	// session yields an empty, non-nil slice.
	List(ctx context.Context, sessionID string) ([]Record, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend. Further calls return [ErrClosed].
	Close() error
}

// MemStore is an in-memory [Store]. The zero value is not usable; call
// [NewMemStore].
type MemStore struct {
	mu       sync.Mutex
	sessions map[string][]Record
	closed   bool
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{sessions: make(map[string][]Record)}
}

// Append implements [Store].
func (m *MemStore) Append(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.sessions[rec.SessionID] = append(m.sessions[rec.SessionID], rec)
	return nil
}

// List implements [Store].
func (m *MemStore) List(_ context.Context, sessionID string) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := slices.Clone(m.sessions[sessionID])
	if out == nil {
		out = []Record{}
	}
	return out, nil
}

// Ping implements [Store].
func (m *MemStore) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// Close implements [Store].
func (m *MemStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
