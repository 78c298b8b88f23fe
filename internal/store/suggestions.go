package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/marcus/daybreak/internal/task"
)

// Suggestion statuses.
const (
	SuggestionPending  = "pending"
	SuggestionApproved = "approved"
	SuggestionRejected = "rejected"
)

// Suggestion is an extracted task candidate held for human review.
type Suggestion struct {
	ID            string
	Title         string
	Description   string
	Priority      task.Priority
	DueDate       *time.Time
	Tags          []string
	DocumentLinks []string
	InitiativeID  string
	Confidence    float64
	Source        task.Source
	SourceItemID  string
	AccountID     string
	Status        string
	CreatedAt     time.Time
}

// Task converts an approved suggestion into a task ready for creation.
func (s *Suggestion) Task() *task.Task {
	return &task.Task{
		Title:         s.Title,
		Description:   s.Description,
		Status:        task.StatusPending,
		Priority:      s.Priority,
		DueDate:       s.DueDate,
		Tags:          s.Tags,
		Source:        s.Source,
		SourceItemID:  s.SourceItemID,
		AccountID:     s.AccountID,
		InitiativeID:  s.InitiativeID,
		DocumentLinks: s.DocumentLinks,
	}
}

// SuggestionStore persists pending suggestions.
type SuggestionStore struct {
	db *sql.DB
}

// NewSuggestionStore creates a suggestion store over an open database.
func NewSuggestionStore(db *sql.DB) *SuggestionStore {
	return &SuggestionStore{db: db}
}

const suggestionColumns = `id, title, description, priority, due_date, tags,
	document_links, initiative_id, confidence, source, source_item_id,
	account_id, status, created_at`

// Create inserts a suggestion in pending status.
func (s *SuggestionStore) Create(ctx context.Context, sg *Suggestion) error {
	if sg.ID == "" {
		sg.ID = uuid.NewString()
	}
	if sg.Status == "" {
		sg.Status = SuggestionPending
	}
	if sg.CreatedAt.IsZero() {
		sg.CreatedAt = time.Now().UTC()
	}

	tags, err := encodeStrings(sg.Tags)
	if err != nil {
		return err
	}
	links, err := encodeStrings(sg.DocumentLinks)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pending_suggestions (`+suggestionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sg.ID, sg.Title, sg.Description, string(sg.Priority), sg.DueDate, tags,
		links, nullString(sg.InitiativeID), sg.Confidence, string(sg.Source),
		sg.SourceItemID, sg.AccountID, sg.Status, sg.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting suggestion: %w", err)
	}
	return nil
}

// Get returns one suggestion by ID.
func (s *SuggestionStore) Get(ctx context.Context, id string) (*Suggestion, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+suggestionColumns+` FROM pending_suggestions WHERE id = ?`, id)
	sg, err := scanSuggestion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("suggestion %s: %w", id, ErrNotFound)
	}
	return sg, err
}

// List returns suggestions with the given status, newest first. An empty
// status lists everything.
func (s *SuggestionStore) List(ctx context.Context, status string) ([]*Suggestion, error) {
	query := `SELECT ` + suggestionColumns + ` FROM pending_suggestions`
	var args []interface{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing suggestions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var suggestions []*Suggestion
	for rows.Next() {
		sg, err := scanSuggestion(rows)
		if err != nil {
			return nil, err
		}
		suggestions = append(suggestions, sg)
	}
	return suggestions, rows.Err()
}

// UpdateStatus moves a suggestion to approved or rejected.
func (s *SuggestionStore) UpdateStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pending_suggestions SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("updating suggestion status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("suggestion %s: %w", id, ErrNotFound)
	}
	return nil
}

func scanSuggestion(row rowScanner) (*Suggestion, error) {
	var (
		sg           Suggestion
		priority     string
		source       string
		tags         string
		links        string
		initiativeID sql.NullString
		dueDate      sql.NullTime
	)

	err := row.Scan(&sg.ID, &sg.Title, &sg.Description, &priority, &dueDate, &tags,
		&links, &initiativeID, &sg.Confidence, &source, &sg.SourceItemID,
		&sg.AccountID, &sg.Status, &sg.CreatedAt)
	if err != nil {
		return nil, err
	}

	sg.Priority = task.Priority(priority)
	sg.Source = task.Source(source)
	sg.InitiativeID = initiativeID.String
	if dueDate.Valid {
		d := dueDate.Time
		sg.DueDate = &d
	}
	if sg.Tags, err = decodeStrings(tags); err != nil {
		return nil, err
	}
	if sg.DocumentLinks, err = decodeStrings(links); err != nil {
		return nil, err
	}
	return &sg, nil
}
