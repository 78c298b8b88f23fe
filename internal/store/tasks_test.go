package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/marcus/daybreak/internal/task"
)

func TestTaskRoundTrip(t *testing.T) {
	tasks := NewTaskStore(testDB(t).SQL())
	ctx := context.Background()

	due := time.Date(2025, 6, 5, 17, 0, 0, 0, time.UTC)
	in := &task.Task{
		Title:         "Send revised Q3 numbers",
		Description:   "Finance asked for updates",
		Status:        task.StatusPending,
		Priority:      task.PriorityHigh,
		PriorityScore: 62.5,
		DueDate:       &due,
		Tags:          []string{"finance", "urgent"},
		Source:        task.SourceEmail,
		SourceItemID:  "msg-42",
		AccountID:     "work",
		DocumentLinks: []string{"https://docs.example.com/q3"},
	}
	if err := tasks.Create(ctx, in); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if in.ID == "" {
		t.Fatal("Create did not assign an ID")
	}

	got, err := tasks.Get(ctx, in.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Title != in.Title || got.Priority != task.PriorityHigh {
		t.Errorf("got %q/%s", got.Title, got.Priority)
	}
	if got.DueDate == nil || !got.DueDate.Equal(due) {
		t.Errorf("due date = %v, want %v", got.DueDate, due)
	}
	if len(got.Tags) != 2 || got.Tags[0] != "finance" || got.Tags[1] != "urgent" {
		t.Errorf("tags = %v", got.Tags)
	}
	if len(got.DocumentLinks) != 1 {
		t.Errorf("document links = %v", got.DocumentLinks)
	}
	if got.SourceItemID != "msg-42" || got.AccountID != "work" {
		t.Errorf("origin = %q/%q", got.SourceItemID, got.AccountID)
	}
}

func TestTaskGetMissing(t *testing.T) {
	tasks := NewTaskStore(testDB(t).SQL())

	_, err := tasks.Get(context.Background(), "no-such-id")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get missing = %v, want ErrNotFound", err)
	}
}

func TestTaskListFiltersAndOrders(t *testing.T) {
	tasks := NewTaskStore(testDB(t).SQL())
	ctx := context.Background()

	seed := []*task.Task{
		{Title: "low", Status: task.StatusPending, Priority: task.PriorityLow, PriorityScore: 20, Source: task.SourceManual},
		{Title: "high", Status: task.StatusPending, Priority: task.PriorityHigh, PriorityScore: 70, Source: task.SourceEmail, AccountID: "work"},
		{Title: "done", Status: task.StatusCompleted, Priority: task.PriorityHigh, PriorityScore: 90, Source: task.SourceEmail},
	}
	for _, tk := range seed {
		if err := tasks.Create(ctx, tk); err != nil {
			t.Fatalf("Create %q: %v", tk.Title, err)
		}
	}

	open, err := tasks.List(ctx, TaskFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(open) != 2 {
		t.Fatalf("open tasks = %d, want 2 (completed excluded)", len(open))
	}
	if open[0].Title != "high" {
		t.Errorf("first task = %q, want highest score first", open[0].Title)
	}

	all, err := tasks.List(ctx, TaskFilter{All: true})
	if err != nil {
		t.Fatalf("List all: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("all tasks = %d, want 3", len(all))
	}

	byAccount, err := tasks.List(ctx, TaskFilter{AccountID: "work"})
	if err != nil {
		t.Fatalf("List by account: %v", err)
	}
	if len(byAccount) != 1 || byAccount[0].Title != "high" {
		t.Errorf("account filter = %v", byAccount)
	}
}

func TestTaskUpdateStatusStampsCompletion(t *testing.T) {
	tasks := NewTaskStore(testDB(t).SQL())
	ctx := context.Background()

	tk := task.New("wrap up", "")
	if err := tasks.Create(ctx, tk); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := tasks.UpdateStatus(ctx, tk.ID, task.StatusCompleted); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	got, err := tasks.Get(ctx, tk.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != task.StatusCompleted {
		t.Errorf("status = %s", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("completed_at not stamped")
	}

	if err := tasks.UpdateStatus(ctx, "no-such-id", task.StatusCancelled); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateStatus missing = %v, want ErrNotFound", err)
	}
}

func TestRescoreAllConvergesToScorer(t *testing.T) {
	tasks := NewTaskStore(testDB(t).SQL())
	ctx := context.Background()

	stale := &task.Task{Title: "stale score", Status: task.StatusPending, Priority: task.PriorityHigh, PriorityScore: 1, Source: task.SourceManual}
	if err := tasks.Create(ctx, stale); err != nil {
		t.Fatalf("Create: %v", err)
	}

	now := time.Now()
	updated, err := tasks.RescoreAll(ctx, now)
	if err != nil {
		t.Fatalf("RescoreAll: %v", err)
	}
	if updated != 1 {
		t.Errorf("updated = %d, want 1", updated)
	}

	got, err := tasks.Get(ctx, stale.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if want := task.Score(got, now); got.PriorityScore != want {
		t.Errorf("score = %v, want %v", got.PriorityScore, want)
	}

	// Second pass with identical inputs changes nothing.
	updated, err = tasks.RescoreAll(ctx, now)
	if err != nil {
		t.Fatalf("second RescoreAll: %v", err)
	}
	if updated != 0 {
		t.Errorf("second pass updated = %d, want 0", updated)
	}
}
