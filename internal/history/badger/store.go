// Package badger provides a [history.Store] backed by an embedded BadgerDB.
//
// Records live under keys of the form "turn/<session>/<seq>" where seq is a
// big-endian uint64 drawn from a persistent badger sequence, so a prefix scan
// returns a session's turns in commit order.
package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/SocialNOT/AgainINDIA/internal/history"
	"github.com/SocialNOT/AgainINDIA/pkg/transport"
)

const (
	turnPrefix   = "turn/"
	seqKey       = "seq/turn"
	seqBandwidth = 128
)

var _ history.Store = (*Store)(nil)

// Options configures [New].
type Options struct {
	// Dir is the directory for BadgerDB data files. Required unless
	// InMemory is set.
	Dir string

	// InMemory runs BadgerDB without disk persistence.
	InMemory bool

	// Logger receives badger's own diagnostics. Defaults to an adapter over
	// slog that drops debug and info output.
	Logger badger.Logger
}

// Store is a BadgerDB-backed [history.Store]. All methods are safe for
// concurrent use.
type Store struct {
	db  *badger.DB
	seq *badger.Sequence

	mu     sync.RWMutex
	closed bool
}

// record is the on-disk value encoding.
type record struct {
	SessionID string    `json:"session_id"`
	PersonaID string    `json:"persona_id,omitempty"`
	Speaker   int       `json:"speaker"`
	Text      string    `json:"text"`
	Time      time.Time `json:"time"`
}

// New opens (or creates) a store.
func New(opts Options) (*Store, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("badger store: Dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}
	if opts.Logger != nil {
		dbOpts = dbOpts.WithLogger(opts.Logger)
	} else {
		dbOpts = dbOpts.WithLogger(slogLogger{})
	}

	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("badger store: open: %w", err)
	}
	seq, err := db.GetSequence([]byte(seqKey), seqBandwidth)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("badger store: sequence: %w", err)
	}
	return &Store{db: db, seq: seq}, nil
}

// Append implements [history.Store].
func (s *Store) Append(_ context.Context, rec history.Record) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return history.ErrClosed
	}

	n, err := s.seq.Next()
	if err != nil {
		return fmt.Errorf("badger store: next sequence: %w", err)
	}
	if rec.Time.IsZero() {
		rec.Time = time.Now()
	}
	val, err := json.Marshal(record{
		SessionID: rec.SessionID,
		PersonaID: rec.PersonaID,
		Speaker:   int(rec.Speaker),
		Text:      rec.Text,
		Time:      rec.Time,
	})
	if err != nil {
		return fmt.Errorf("badger store: encode: %w", err)
	}

	key := turnKey(rec.SessionID, n)
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, val)
	}); err != nil {
		return fmt.Errorf("badger store: append: %w", err)
	}
	return nil
}

// List implements [history.Store].
func (s *Store) List(_ context.Context, sessionID string) ([]history.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, history.ErrClosed
	}

	prefix := sessionPrefix(sessionID)
	out := []history.Record{}
	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var r record
			if err := json.Unmarshal(val, &r); err != nil {
				return fmt.Errorf("decode %q: %w", it.Item().Key(), err)
			}
			out = append(out, history.Record{
				SessionID: r.SessionID,
				PersonaID: r.PersonaID,
				Speaker:   transport.Speaker(r.Speaker),
				Text:      r.Text,
				Time:      r.Time,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger store: list: %w", err)
	}
	return out, nil
}

// Ping implements [history.Store].
func (s *Store) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed || s.db.IsClosed() {
		return history.ErrClosed
	}
	return nil
}

// Close implements [history.Store]. Safe to call multiple times.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return errors.Join(s.seq.Release(), s.db.Close())
}

func sessionPrefix(sessionID string) []byte {
	return []byte(turnPrefix + sessionID + "/")
}

func turnKey(sessionID string, n uint64) []byte {
	return binary.BigEndian.AppendUint64(sessionPrefix(sessionID), n)
}

// slogLogger routes badger warnings and errors to slog.
type slogLogger struct{}

func (slogLogger) Errorf(f string, v ...any) {
	slog.Error(fmt.Sprintf("badger: "+f, v...))
}

func (slogLogger) Warningf(f string, v ...any) {
	slog.Warn(fmt.Sprintf("badger: "+f, v...))
}

func (slogLogger) Infof(string, ...any)  {}
func (slogLogger) Debugf(string, ...any) {}
