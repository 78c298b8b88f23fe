package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/marcus/daybreak/internal/integrations"
	"github.com/marcus/daybreak/internal/logging"
)

// ProcessedStore is the dedup ledger. An item is recorded once per account;
// recording is what makes a poll cycle safe to replay.
type ProcessedStore struct {
	db  *sql.DB
	log *logging.Logger
}

// NewProcessedStore creates a ledger over an open database.
func NewProcessedStore(db *sql.DB) *ProcessedStore {
	return &ProcessedStore{db: db, log: logging.Component("ledger")}
}

// IsNew reports whether the item has not been processed for this account.
// The same item ID under a different account is new.
func (s *ProcessedStore) IsNew(ctx context.Context, key integrations.Key, itemID string) (bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM processed_items WHERE item_id = ? AND account_id = ?`,
		itemID, key.AccountID)
	var n int
	if err := row.Scan(&n); err != nil {
		return false, fmt.Errorf("checking ledger: %w", err)
	}
	return n == 0, nil
}

// MarkProcessed records the item. When a concurrent cycle already recorded
// it, the unique constraint fires; that race is the ledger working as
// intended and is absorbed here, leaving exactly one record.
func (s *ProcessedStore) MarkProcessed(ctx context.Context, key integrations.Key, itemID string, tasksCreated int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO processed_items (item_id, account_id, processed_at, tasks_created)
		 VALUES (?, ?, ?, ?)`,
		itemID, key.AccountID, time.Now().UTC(), tasksCreated)
	if err != nil {
		if isUniqueViolation(err) {
			s.log.DebugCtx("item already marked processed", map[string]any{
				"item_id": itemID,
				"account": key.AccountID,
			})
			return nil
		}
		return fmt.Errorf("marking item processed: %w", err)
	}
	return nil
}

// Count returns the number of ledger records for an account. Used by status
// reporting.
func (s *ProcessedStore) Count(ctx context.Context, key integrations.Key) (int, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM processed_items WHERE account_id = ?`, key.AccountID)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("counting ledger: %w", err)
	}
	return n, nil
}
