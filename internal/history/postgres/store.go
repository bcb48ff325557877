package postgres

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/SocialNOT/AgainINDIA/internal/history"
	"github.com/SocialNOT/AgainINDIA/pkg/transport"
)

var _ history.Store = (*Store)(nil)

// Store is a [history.Store] backed by PostgreSQL. All methods are safe for
// concurrent use.
type Store struct {
	pool   *pgxpool.Pool
	closed atomic.Bool
}

// New connects to the database at dsn, verifies the connection and runs
// [Migrate].
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Append implements [history.Store].
func (s *Store) Append(ctx context.Context, rec history.Record) error {
	if s.closed.Load() {
		return history.ErrClosed
	}
	const q = `
		INSERT INTO session_turns (session_id, persona_id, speaker, text, committed)
		VALUES ($1, $2, $3, $4, $5)`

	ts := rec.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.pool.Exec(ctx, q, rec.SessionID, rec.PersonaID, int16(rec.Speaker), rec.Text, ts)
	if err != nil {
		return fmt.Errorf("postgres store: append: %w", err)
	}
	return nil
}

// List implements [history.Store]. Records come back in insertion order.
func (s *Store) List(ctx context.Context, sessionID string) ([]history.Record, error) {
	if s.closed.Load() {
		return nil, history.ErrClosed
	}
	const q = `
		SELECT session_id, persona_id, speaker, text, committed
		FROM   session_turns
		WHERE  session_id = $1
		ORDER  BY id`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list: %w", err)
	}
	return collectRecords(rows)
}

// Ping implements [history.Store].
func (s *Store) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return history.ErrClosed
	}
	return s.pool.Ping(ctx)
}

// Close implements [history.Store].
func (s *Store) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.pool.Close()
	}
	return nil
}

func collectRecords(rows pgx.Rows) ([]history.Record, error) {
	recs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (history.Record, error) {
		var (
			r       history.Record
			speaker int16
		)
		if err := row.Scan(&r.SessionID, &r.PersonaID, &speaker, &r.Text, &r.Time); err != nil {
			return history.Record{}, err
		}
		r.Speaker = transport.Speaker(speaker)
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan rows: %w", err)
	}
	if recs == nil {
		recs = []history.Record{}
	}
	return recs, nil
}
