// Package task defines the daybreak task domain model and priority scoring.
package task

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToLower(s)) {
	case StatusPending, StatusInProgress, StatusCompleted, StatusCancelled:
		return Status(strings.ToLower(s)), nil
	}
	return "", fmt.Errorf("invalid status: %q", s)
}

// Priority is the coarse priority level of a task.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// ParsePriority validates a priority string. Empty input maps to medium.
func ParsePriority(s string) (Priority, error) {
	if s == "" {
		return PriorityMedium, nil
	}
	switch Priority(strings.ToLower(s)) {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return Priority(strings.ToLower(s)), nil
	}
	return "", fmt.Errorf("invalid priority: %q", s)
}

// Source identifies where a task originated.
type Source string

const (
	SourceManual       Source = "manual"
	SourceEmail        Source = "email"
	SourceChat         Source = "chat"
	SourceMeetingNotes Source = "meeting_notes"
	SourceAgent        Source = "agent"
	SourceVoice        Source = "voice"
)

// Task is a unit of work tracked by daybreak. Tags and document links are
// ordered string collections at this layer; their persistence encoding is a
// store concern.
type Task struct {
	ID            string
	Title         string
	Description   string
	Status        Status
	Priority      Priority
	PriorityScore float64
	DueDate       *time.Time
	Tags          []string
	Source        Source
	SourceItemID  string
	AccountID     string
	InitiativeID  string
	DocumentLinks []string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time
}

// New creates a pending task with defaults applied.
func New(title, description string) *Task {
	return &Task{
		Title:       title,
		Description: description,
		Status:      StatusPending,
		Priority:    PriorityMedium,
		Source:      SourceManual,
	}
}

// Open reports whether the task still counts toward active work.
func (t *Task) Open() bool {
	return t.Status == StatusPending || t.Status == StatusInProgress
}

// Initiative groups related tasks. The pipeline only ever attaches
// initiative IDs to tasks; initiatives themselves are managed elsewhere.
type Initiative struct {
	ID         string
	Title      string
	Priority   Priority
	Status     string
	TargetDate *time.Time
}
