package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const turnColumns = "id, session_id, user_text, assistant_text, ttft_ms, ttaf_ms, created_at, completed_at"

// CreateTurn inserts a fresh turn row for the utterance and returns it.
func (s *Store) CreateTurn(ctx context.Context, sessionID, userText string) (Turn, error) {
	const q = `
		INSERT INTO turns (session_id, user_text)
		VALUES ($1, $2)
		RETURNING ` + turnColumns

	var t Turn
	err := s.pool.QueryRow(ctx, q, sessionID, userText).Scan(
		&t.ID, &t.SessionID, &t.UserText, &t.AssistantText,
		&t.TTFTMillis, &t.TTAFMillis, &t.CreatedAt, &t.CompletedAt,
	)
	if err != nil {
		return Turn{}, fmt.Errorf("store: create turn: %w", err)
	}
	return t, nil
}

// GetTurn returns the turn with the given id, or [ErrNotFound].
func (s *Store) GetTurn(ctx context.Context, id int64) (Turn, error) {
	const q = `SELECT ` + turnColumns + ` FROM turns WHERE id = $1`

	var t Turn
	err := s.pool.QueryRow(ctx, q, id).Scan(
		&t.ID, &t.SessionID, &t.UserText, &t.AssistantText,
		&t.TTFTMillis, &t.TTAFMillis, &t.CreatedAt, &t.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Turn{}, ErrNotFound
	}
	if err != nil {
		return Turn{}, fmt.Errorf("store: get turn: %w", err)
	}
	return t, nil
}

// ListTurns returns a session's turns, oldest first.
func (s *Store) ListTurns(ctx context.Context, sessionID string) ([]Turn, error) {
	const q = `SELECT ` + turnColumns + ` FROM turns WHERE session_id = $1 ORDER BY id`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: list turns: %w", err)
	}
	turns, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Turn, error) {
		var t Turn
		err := row.Scan(
			&t.ID, &t.SessionID, &t.UserText, &t.AssistantText,
			&t.TTFTMillis, &t.TTAFMillis, &t.CreatedAt, &t.CompletedAt,
		)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("store: scan turns: %w", err)
	}
	if turns == nil {
		turns = []Turn{}
	}
	return turns, nil
}

// SetTurnTTFT records the time-to-first-token once; later calls for the same
// turn are no-ops so the first write wins.
func (s *Store) SetTurnTTFT(ctx context.Context, id, millis int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE turns SET ttft_ms = $2 WHERE id = $1 AND ttft_ms IS NULL`, id, millis)
	if err != nil {
		return fmt.Errorf("store: set ttft: %w", err)
	}
	return nil
}

// SetTurnTTAF records the time-to-first-audio once; later calls for the same
// turn are no-ops so the first write wins.
func (s *Store) SetTurnTTAF(ctx context.Context, id, millis int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE turns SET ttaf_ms = $2 WHERE id = $1 AND ttaf_ms IS NULL`, id, millis)
	if err != nil {
		return fmt.Errorf("store: set ttaf: %w", err)
	}
	return nil
}

// FinalizeTurn sets assistant_text (nil leaves the column NULL) and stamps
// completed_at. Called on every exit path, error paths included.
func (s *Store) FinalizeTurn(ctx context.Context, id int64, assistantText *string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE turns SET assistant_text = $2, completed_at = now() WHERE id = $1`,
		id, assistantText)
	if err != nil {
		return fmt.Errorf("store: finalize turn: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
