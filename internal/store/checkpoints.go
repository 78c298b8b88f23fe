package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/marcus/daybreak/internal/integrations"
)

// CheckpointStore persists per-account poll cursors. It satisfies
// integrations.Checkpoints so adapters can resume where they left off.
type CheckpointStore struct {
	db *sql.DB
}

// NewCheckpointStore creates a checkpoint store over an open database.
func NewCheckpointStore(db *sql.DB) *CheckpointStore {
	return &CheckpointStore{db: db}
}

// Cursor returns the saved cursor for the account, or "" when none exists.
func (s *CheckpointStore) Cursor(ctx context.Context, key integrations.Key) (string, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT cursor FROM checkpoints WHERE source = ? AND account_id = ?`,
		string(key.Source), key.AccountID)
	var cursor string
	if err := row.Scan(&cursor); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("reading checkpoint: %w", err)
	}
	return cursor, nil
}

// SetCursor saves the cursor for the account, creating the row on first use.
func (s *CheckpointStore) SetCursor(ctx context.Context, key integrations.Key, cursor string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (source, account_id, cursor, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(source, account_id) DO UPDATE SET cursor = excluded.cursor, updated_at = excluded.updated_at`,
		string(key.Source), key.AccountID, cursor, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("saving checkpoint: %w", err)
	}
	return nil
}
