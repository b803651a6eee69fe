// Package store provides the PostgreSQL persistence layer for characters,
// sessions and turns.
//
// All entities share a single [pgxpool.Pool]. [Migrate] creates the schema
// idempotently via CREATE TABLE IF NOT EXISTS, so a fresh database is ready
// after [New] returns.
//
// Usage:
//
//	st, err := store.New(ctx, dsn)
//	if err != nil { … }
//	defer st.Close()
//
//	ch, _ := st.CreateCharacter(ctx, store.NewCharacter{Name: "guide"})
//	sess, _ := st.CreateSession(ctx, id, &ch.ID)
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ─────────────────────────────────────────────────────────────────────────────
// DDL — characters, sessions, turns
// ─────────────────────────────────────────────────────────────────────────────

const ddlCharacters = `
CREATE TABLE IF NOT EXISTS characters (
    id            BIGSERIAL    PRIMARY KEY,
    name          TEXT         NOT NULL,
    system_prompt TEXT         NOT NULL DEFAULT 'You are a helpful assistant.',
    model         TEXT         NOT NULL DEFAULT '',
    voice         TEXT         NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

const ddlSessions = `
CREATE TABLE IF NOT EXISTS sessions (
    session_id   VARCHAR(64)  PRIMARY KEY,
    character_id BIGINT       REFERENCES characters (id) ON DELETE SET NULL,
    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    last_seen_at TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_sessions_character_id
    ON sessions (character_id);
`

const ddlTurns = `
CREATE TABLE IF NOT EXISTS turns (
    id             BIGSERIAL    PRIMARY KEY,
    session_id     VARCHAR(64)  NOT NULL REFERENCES sessions (session_id) ON DELETE CASCADE,
    user_text      TEXT         NOT NULL,
    assistant_text TEXT,
    ttft_ms        BIGINT,
    ttaf_ms        BIGINT,
    created_at     TIMESTAMPTZ  NOT NULL DEFAULT now(),
    completed_at   TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_turns_session_id
    ON turns (session_id);

CREATE INDEX IF NOT EXISTS idx_turns_session_created
    ON turns (session_id, created_at);
`

// Migrate creates all tables and indexes required by the store. It is safe to
// call on every startup.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, ddl := range []string{ddlCharacters, ddlSessions, ddlTurns} {
		if _, err := pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
