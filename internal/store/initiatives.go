package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/marcus/daybreak/internal/task"
)

// InitiativeStore persists initiatives. The pipeline only reads them to
// validate initiative references on incoming candidates.
type InitiativeStore struct {
	db *sql.DB
}

// NewInitiativeStore creates an initiative store over an open database.
func NewInitiativeStore(db *sql.DB) *InitiativeStore {
	return &InitiativeStore{db: db}
}

// Create inserts an initiative, assigning an ID when missing.
func (s *InitiativeStore) Create(ctx context.Context, in *task.Initiative) error {
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.Priority == "" {
		in.Priority = task.PriorityMedium
	}
	if in.Status == "" {
		in.Status = "active"
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO initiatives (id, title, priority, status, target_date)
		VALUES (?, ?, ?, ?, ?)`,
		in.ID, in.Title, string(in.Priority), in.Status, in.TargetDate)
	if err != nil {
		return fmt.Errorf("inserting initiative: %w", err)
	}
	return nil
}

// Exists reports whether an initiative ID refers to a stored initiative.
func (s *InitiativeStore) Exists(ctx context.Context, id string) (bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT 1 FROM initiatives WHERE id = ?`, id)
	var one int
	if err := row.Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("checking initiative: %w", err)
	}
	return true, nil
}

// List returns all initiatives ordered by title.
func (s *InitiativeStore) List(ctx context.Context) ([]*task.Initiative, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, priority, status, target_date FROM initiatives ORDER BY title`)
	if err != nil {
		return nil, fmt.Errorf("listing initiatives: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var initiatives []*task.Initiative
	for rows.Next() {
		var (
			in         task.Initiative
			priority   string
			targetDate sql.NullTime
		)
		if err := rows.Scan(&in.ID, &in.Title, &priority, &in.Status, &targetDate); err != nil {
			return nil, err
		}
		in.Priority = task.Priority(priority)
		if targetDate.Valid {
			d := targetDate.Time
			in.TargetDate = &d
		}
		initiatives = append(initiatives, &in)
	}
	return initiatives, rows.Err()
}
