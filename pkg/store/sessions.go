package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const sessionColumns = "session_id, character_id, created_at, last_seen_at"

// CreateSession inserts a session, optionally bound to a character.
func (s *Store) CreateSession(ctx context.Context, sessionID string, characterID *int64) (Session, error) {
	const q = `
		INSERT INTO sessions (session_id, character_id)
		VALUES ($1, $2)
		RETURNING ` + sessionColumns

	var sess Session
	err := s.pool.QueryRow(ctx, q, sessionID, characterID).Scan(
		&sess.SessionID, &sess.CharacterID, &sess.CreatedAt, &sess.LastSeenAt,
	)
	if err != nil {
		return Session{}, fmt.Errorf("store: create session: %w", err)
	}
	return sess, nil
}

// GetSession returns the session with the given id, or [ErrNotFound].
func (s *Store) GetSession(ctx context.Context, sessionID string) (Session, error) {
	const q = `SELECT ` + sessionColumns + ` FROM sessions WHERE session_id = $1`

	var sess Session
	err := s.pool.QueryRow(ctx, q, sessionID).Scan(
		&sess.SessionID, &sess.CharacterID, &sess.CreatedAt, &sess.LastSeenAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("store: get session: %w", err)
	}
	return sess, nil
}

// UpsertSession creates the session when it does not exist and refreshes
// last_seen_at either way.
func (s *Store) UpsertSession(ctx context.Context, sessionID string) (Session, error) {
	const q = `
		INSERT INTO sessions (session_id)
		VALUES ($1)
		ON CONFLICT (session_id) DO UPDATE SET last_seen_at = now()
		RETURNING ` + sessionColumns

	var sess Session
	err := s.pool.QueryRow(ctx, q, sessionID).Scan(
		&sess.SessionID, &sess.CharacterID, &sess.CreatedAt, &sess.LastSeenAt,
	)
	if err != nil {
		return Session{}, fmt.Errorf("store: upsert session: %w", err)
	}
	return sess, nil
}

// TouchSession refreshes last_seen_at. Returns [ErrNotFound] when the session
// does not exist.
func (s *Store) TouchSession(ctx context.Context, sessionID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET last_seen_at = now() WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("store: touch session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
