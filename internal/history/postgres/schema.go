// Package postgres provides a PostgreSQL-backed [history.Store].
//
// Turns are written to a single session_turns table through a shared
// [pgxpool.Pool]. [Migrate] creates the table and its indexes idempotently;
// [New] runs it on startup.
//
// Usage:
//
//	store, err := postgres.New(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.Append(ctx, history.Record{SessionID: id, Text: "namaste"})
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlSessionTurns = `
CREATE TABLE IF NOT EXISTS session_turns (
    id          BIGSERIAL    PRIMARY KEY,
    session_id  TEXT         NOT NULL,
    persona_id  TEXT         NOT NULL DEFAULT '',
    speaker     SMALLINT     NOT NULL,
    text        TEXT         NOT NULL,
    committed   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_session_turns_session_id
    ON session_turns (session_id, id);

CREATE INDEX IF NOT EXISTS idx_session_turns_persona_id
    ON session_turns (persona_id);
`

// Migrate creates the session_turns table if it does not already exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlSessionTurns); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}
