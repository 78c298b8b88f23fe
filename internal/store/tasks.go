package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/marcus/daybreak/internal/logging"
	"github.com/marcus/daybreak/internal/task"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// TaskStore persists tasks.
type TaskStore struct {
	db  *sql.DB
	log *logging.Logger
}

// NewTaskStore creates a task store over an open database.
func NewTaskStore(db *sql.DB) *TaskStore {
	return &TaskStore{db: db, log: logging.Component("store")}
}

const taskColumns = `id, title, description, status, priority, priority_score,
	due_date, tags, source, source_item_id, account_id, initiative_id,
	document_links, created_at, updated_at, completed_at`

// Create inserts a task, assigning an ID and timestamps when missing.
func (s *TaskStore) Create(ctx context.Context, t *task.Task) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	tags, err := encodeStrings(t.Tags)
	if err != nil {
		return err
	}
	links, err := encodeStrings(t.DocumentLinks)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, t.Description, string(t.Status), string(t.Priority), t.PriorityScore,
		t.DueDate, tags, string(t.Source), nullString(t.SourceItemID), nullString(t.AccountID),
		nullString(t.InitiativeID), links, t.CreatedAt, t.UpdatedAt, t.CompletedAt)
	if err != nil {
		return fmt.Errorf("inserting task: %w", err)
	}

	s.log.DebugCtx("task created", map[string]any{"task_id": t.ID, "source": string(t.Source)})
	return nil
}

// Get returns one task by ID.
func (s *TaskStore) Get(ctx context.Context, id string) (*task.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return t, err
}

// TaskFilter narrows List results. Zero values mean "no constraint".
type TaskFilter struct {
	Status    task.Status
	Source    task.Source
	AccountID string
	All       bool // include completed and cancelled tasks
}

// List returns tasks matching the filter, highest priority score first.
func (s *TaskStore) List(ctx context.Context, f TaskFilter) ([]*task.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE 1=1`
	var args []interface{}

	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	} else if !f.All {
		query += ` AND status IN ('pending', 'in_progress')`
	}
	if f.Source != "" {
		query += ` AND source = ?`
		args = append(args, string(f.Source))
	}
	if f.AccountID != "" {
		query += ` AND account_id = ?`
		args = append(args, f.AccountID)
	}
	query += ` ORDER BY priority_score DESC, created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// UpdateStatus transitions a task, stamping completed_at on terminal states.
func (s *TaskStore) UpdateStatus(ctx context.Context, id string, status task.Status) error {
	now := time.Now().UTC()
	var completedAt *time.Time
	if status == task.StatusCompleted || status == task.StatusCancelled {
		completedAt = &now
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, completed_at = ?, updated_at = ? WHERE id = ?`,
		string(status), completedAt, now, id)
	if err != nil {
		return fmt.Errorf("updating task status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return nil
}

// RescoreAll recomputes priority scores for all open tasks and returns the
// number updated. Scores drift with age and due-date proximity, so this runs
// periodically and on demand.
func (s *TaskStore) RescoreAll(ctx context.Context, now time.Time) (int, error) {
	tasks, err := s.List(ctx, TaskFilter{})
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, t := range tasks {
		score := task.Score(t, now)
		if score == t.PriorityScore {
			continue
		}
		_, err := s.db.ExecContext(ctx,
			`UPDATE tasks SET priority_score = ?, updated_at = ? WHERE id = ?`,
			score, now.UTC(), t.ID)
		if err != nil {
			return updated, fmt.Errorf("rescoring task %s: %w", t.ID, err)
		}
		updated++
	}
	return updated, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*task.Task, error) {
	var (
		t             task.Task
		status        string
		priority      string
		source        string
		tags          string
		links         string
		sourceItemID  sql.NullString
		accountID     sql.NullString
		initiativeID  sql.NullString
		dueDate       sql.NullTime
		completedAt   sql.NullTime
	)

	err := row.Scan(&t.ID, &t.Title, &t.Description, &status, &priority, &t.PriorityScore,
		&dueDate, &tags, &source, &sourceItemID, &accountID, &initiativeID,
		&links, &t.CreatedAt, &t.UpdatedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	t.Status = task.Status(status)
	t.Priority = task.Priority(priority)
	t.Source = task.Source(source)
	t.SourceItemID = sourceItemID.String
	t.AccountID = accountID.String
	t.InitiativeID = initiativeID.String
	if dueDate.Valid {
		d := dueDate.Time
		t.DueDate = &d
	}
	if completedAt.Valid {
		c := completedAt.Time
		t.CompletedAt = &c
	}
	if t.Tags, err = decodeStrings(tags); err != nil {
		return nil, err
	}
	if t.DocumentLinks, err = decodeStrings(links); err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
