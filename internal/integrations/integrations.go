// Package integrations defines the external-account adapters the agent
// polls and the registry that addresses them. One adapter instance exists
// per (source type, account id) pair.
package integrations

import (
	"context"
	"fmt"
	"time"
)

// Source is the closed set of external source types.
type Source string

const (
	SourceMail  Source = "email"
	SourceChat  Source = "chat"
	SourceNotes Source = "meeting_notes"
)

// ParseSource validates a source string.
func ParseSource(s string) (Source, error) {
	switch Source(s) {
	case SourceMail, SourceChat, SourceNotes:
		return Source(s), nil
	}
	return "", fmt.Errorf("unknown source: %q", s)
}

// Key is the composite identity of one pollable account. It is comparable
// and used as the map key wherever an adapter must be addressed.
type Key struct {
	Source    Source
	AccountID string
}

func (k Key) String() string {
	return string(k.Source) + "/" + k.AccountID
}

// Zero reports whether the key is unset.
func (k Key) Zero() bool {
	return k.Source == "" || k.AccountID == ""
}

// NormalizedItem is a source-agnostic representation of one externally
// observed item, ready for extraction. It is never persisted directly.
type NormalizedItem struct {
	ItemID       string // unique per account
	AccountID    string
	Source       Source
	Title        string
	Body         string
	OccurredAt   time.Time
	HintPriority string
	HintTags     []string
	Metadata     map[string]string
}

// Adapter is implemented by every concrete source integration. Poll returns
// items newer than the adapter's checkpoint. A genuinely empty result is an
// empty slice and nil error; any unexpected failure is a *PollError, never
// an empty list. Poll never persists the checkpoint itself; until Advance is
// called the same items are returned again, so a caller that fails to handle
// an item gets it redelivered on its next poll.
type Adapter interface {
	Key() Key
	Authenticate(ctx context.Context) error
	Poll(ctx context.Context) ([]NormalizedItem, error)
}

// CursorAdvancer is implemented by adapters that track a poll checkpoint.
// Advance persists the cursor computed by the most recent Poll and is called
// only after every item from that poll has been handled.
type CursorAdvancer interface {
	Advance(ctx context.Context) error
}

// Checkpoints persists per-key poll cursors so adapters stay stateless.
type Checkpoints interface {
	Cursor(ctx context.Context, key Key) (string, error)
	SetCursor(ctx context.Context, key Key, cursor string) error
}

// ConfigError reports invalid adapter configuration at registration time.
// It is fatal to that key only.
type ConfigError struct {
	Key    Key
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("integration %s: %s", e.Key, e.Reason)
}

// AuthError reports that an adapter could not obtain a valid session.
type AuthError struct {
	Key Key
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authenticate %s: %v", e.Key, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// PollError reports a transient or permanent source-system failure during a
// poll. The cycle aborts and is retried on the next scheduled tick.
type PollError struct {
	Key Key
	Err error
}

func (e *PollError) Error() string {
	return fmt.Sprintf("poll %s: %v", e.Key, e.Err)
}

func (e *PollError) Unwrap() error { return e.Err }
