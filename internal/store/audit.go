package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Audit entry kinds.
const (
	AuditPoll       = "poll"
	AuditExtract    = "extract"
	AuditDecide     = "decide"
	AuditCreateTask = "create_task"
	AuditError      = "error"
)

// AuditEntry records one agent action for later inspection.
type AuditEntry struct {
	ID               int64
	Kind             string
	Source           string
	AccountID        string
	Detail           map[string]any
	PromptTokens     int
	CompletionTokens int
	CreatedAt        time.Time
}

// AuditStore is the append-only action log.
type AuditStore struct {
	db *sql.DB
}

// NewAuditStore creates an audit store over an open database.
func NewAuditStore(db *sql.DB) *AuditStore {
	return &AuditStore{db: db}
}

// Append writes one entry. Detail is stored as JSON.
func (s *AuditStore) Append(ctx context.Context, e AuditEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	detail := "{}"
	if len(e.Detail) > 0 {
		data, err := json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("encoding audit detail: %w", err)
		}
		detail = string(data)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (kind, source, account_id, detail, prompt_tokens, completion_tokens, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Kind, e.Source, e.AccountID, detail, e.PromptTokens, e.CompletionTokens, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("appending audit entry: %w", err)
	}
	return nil
}

// Recent returns the newest entries, optionally only errors.
func (s *AuditStore) Recent(ctx context.Context, limit int, onlyErrors bool) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, kind, source, account_id, detail, prompt_tokens, completion_tokens, created_at
		FROM audit_log`
	var args []interface{}
	if onlyErrors {
		query += ` WHERE kind = ?`
		args = append(args, AuditError)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []AuditEntry
	for rows.Next() {
		var (
			e      AuditEntry
			detail string
		)
		if err := rows.Scan(&e.ID, &e.Kind, &e.Source, &e.AccountID, &detail,
			&e.PromptTokens, &e.CompletionTokens, &e.CreatedAt); err != nil {
			return nil, err
		}
		if detail != "" && detail != "{}" {
			if err := json.Unmarshal([]byte(detail), &e.Detail); err != nil {
				return nil, fmt.Errorf("decoding audit detail: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// TokenTotals sums LLM token usage recorded since the given time.
func (s *AuditStore) TokenTotals(ctx context.Context, since time.Time) (prompt, completion int, err error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(prompt_tokens), 0), COALESCE(SUM(completion_tokens), 0)
		FROM audit_log WHERE created_at >= ?`, since.UTC())
	if err := row.Scan(&prompt, &completion); err != nil {
		return 0, 0, fmt.Errorf("summing token usage: %w", err)
	}
	return prompt, completion, nil
}
