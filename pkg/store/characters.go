package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// NewCharacter carries the fields for character creation. Empty SystemPrompt
// falls back to the column default.
type NewCharacter struct {
	Name         string
	SystemPrompt string
	Model        string
	Voice        string
}

// CharacterUpdate carries a partial update; nil fields are left untouched.
type CharacterUpdate struct {
	Name         *string
	SystemPrompt *string
	Model        *string
	Voice        *string
}

const characterColumns = "id, name, system_prompt, model, voice, created_at, updated_at"

// CreateCharacter inserts a character and returns the stored row.
func (s *Store) CreateCharacter(ctx context.Context, nc NewCharacter) (Character, error) {
	if nc.SystemPrompt == "" {
		nc.SystemPrompt = "You are a helpful assistant."
	}
	const q = `
		INSERT INTO characters (name, system_prompt, model, voice)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + characterColumns

	var c Character
	err := s.pool.QueryRow(ctx, q, nc.Name, nc.SystemPrompt, nc.Model, nc.Voice).Scan(
		&c.ID, &c.Name, &c.SystemPrompt, &c.Model, &c.Voice, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return Character{}, fmt.Errorf("store: create character: %w", err)
	}
	return c, nil
}

// GetCharacter returns the character with the given id, or [ErrNotFound].
func (s *Store) GetCharacter(ctx context.Context, id int64) (Character, error) {
	const q = `SELECT ` + characterColumns + ` FROM characters WHERE id = $1`

	var c Character
	err := s.pool.QueryRow(ctx, q, id).Scan(
		&c.ID, &c.Name, &c.SystemPrompt, &c.Model, &c.Voice, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Character{}, ErrNotFound
	}
	if err != nil {
		return Character{}, fmt.Errorf("store: get character: %w", err)
	}
	return c, nil
}

// ListCharacters returns all characters ordered by id.
func (s *Store) ListCharacters(ctx context.Context) ([]Character, error) {
	const q = `SELECT ` + characterColumns + ` FROM characters ORDER BY id`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("store: list characters: %w", err)
	}
	chars, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Character, error) {
		var c Character
		err := row.Scan(&c.ID, &c.Name, &c.SystemPrompt, &c.Model, &c.Voice, &c.CreatedAt, &c.UpdatedAt)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("store: scan characters: %w", err)
	}
	if chars == nil {
		chars = []Character{}
	}
	return chars, nil
}

// UpdateCharacter applies the non-nil fields of upd and refreshes updated_at.
// Returns [ErrNotFound] when the character does not exist.
func (s *Store) UpdateCharacter(ctx context.Context, id int64, upd CharacterUpdate) (Character, error) {
	args := []any{id}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	sets := []string{"updated_at = now()"}
	if upd.Name != nil {
		sets = append(sets, "name = "+next(*upd.Name))
	}
	if upd.SystemPrompt != nil {
		sets = append(sets, "system_prompt = "+next(*upd.SystemPrompt))
	}
	if upd.Model != nil {
		sets = append(sets, "model = "+next(*upd.Model))
	}
	if upd.Voice != nil {
		sets = append(sets, "voice = "+next(*upd.Voice))
	}

	q := "UPDATE characters SET " + strings.Join(sets, ", ") +
		" WHERE id = $1 RETURNING " + characterColumns

	var c Character
	err := s.pool.QueryRow(ctx, q, args...).Scan(
		&c.ID, &c.Name, &c.SystemPrompt, &c.Model, &c.Voice, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Character{}, ErrNotFound
	}
	if err != nil {
		return Character{}, fmt.Errorf("store: update character: %w", err)
	}
	return c, nil
}

// DeleteCharacter removes the character; bound sessions keep running with
// character_id set to NULL by the foreign key. Returns [ErrNotFound] when no
// row was deleted.
func (s *Store) DeleteCharacter(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM characters WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("store: delete character: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
