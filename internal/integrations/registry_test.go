package integrations

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"
)

// fakeAdapter is a scriptable adapter for registry and orchestrator tests.
type fakeAdapter struct {
	key     Key
	items   []NormalizedItem
	pollErr error
	authErr error
	panics  bool
	polls   int
}

func (f *fakeAdapter) Key() Key { return f.key }

func (f *fakeAdapter) Authenticate(context.Context) error { return f.authErr }

func (f *fakeAdapter) Poll(context.Context) ([]NormalizedItem, error) {
	f.polls++
	if f.panics {
		panic("adapter exploded")
	}
	if f.pollErr != nil {
		return nil, f.pollErr
	}
	return f.items, nil
}

func item(id, account string) NormalizedItem {
	return NormalizedItem{
		ItemID:     id,
		AccountID:  account,
		Source:     SourceChat,
		Title:      "item " + id,
		Body:       "body of " + id,
		OccurredAt: time.Now(),
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	key := Key{Source: SourceMail, AccountID: "work"}

	if err := r.Register(&fakeAdapter{key: key}); err != nil {
		t.Fatalf("first register: %v", err)
	}

	err := r.Register(&fakeAdapter{key: key})
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("duplicate register error = %v, want *ConfigError", err)
	}
}

func TestRegisterRejectsZeroKey(t *testing.T) {
	r := NewRegistry()
	err := r.Register(&fakeAdapter{key: Key{Source: SourceMail}})
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("zero key register error = %v, want *ConfigError", err)
	}
}

func TestAccountsPerSource(t *testing.T) {
	r := NewRegistry()
	for _, key := range []Key{
		{SourceMail, "work"},
		{SourceMail, "personal"},
		{SourceChat, "team"},
	} {
		if err := r.Register(&fakeAdapter{key: key}); err != nil {
			t.Fatalf("register %s: %v", key, err)
		}
	}

	got := r.Accounts(SourceMail)
	want := []string{"personal", "work"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Accounts(email) = %v, want %v", got, want)
	}
	if got := r.Accounts(SourceNotes); len(got) != 0 {
		t.Errorf("Accounts(meeting_notes) = %v, want empty", got)
	}
}

func TestPollAllIsolatesFailures(t *testing.T) {
	r := NewRegistry()

	healthy := &fakeAdapter{
		key:   Key{SourceMail, "personal"},
		items: []NormalizedItem{item("msg-1", "personal")},
	}
	broken := &fakeAdapter{
		key:     Key{SourceMail, "work"},
		pollErr: &PollError{Key: Key{SourceMail, "work"}, Err: fmt.Errorf("imap down")},
	}
	panicking := &fakeAdapter{
		key:    Key{SourceChat, "team"},
		panics: true,
	}

	for _, a := range []Adapter{healthy, broken, panicking} {
		if err := r.Register(a); err != nil {
			t.Fatalf("register: %v", err)
		}
	}

	items, errs := r.PollAll(context.Background())

	if len(items[healthy.key]) != 1 {
		t.Errorf("healthy adapter items = %d, want 1", len(items[healthy.key]))
	}
	if errs[broken.key] == nil {
		t.Error("broken adapter error not reported")
	}
	var pollErr *PollError
	if !errors.As(errs[panicking.key], &pollErr) {
		t.Errorf("panicking adapter error = %v, want *PollError", errs[panicking.key])
	}
}

// closableAdapter wraps fakeAdapter with a Close, like the notes adapter.
type closableAdapter struct {
	fakeAdapter
	closed bool
}

func (c *closableAdapter) Close() error {
	c.closed = true
	return nil
}

func TestCloseReleasesClosableAdapters(t *testing.T) {
	r := NewRegistry()

	plain := &fakeAdapter{key: Key{SourceMail, "work"}}
	closable := &closableAdapter{fakeAdapter: fakeAdapter{key: Key{SourceNotes, "standup"}}}
	for _, a := range []Adapter{plain, closable} {
		if err := r.Register(a); err != nil {
			t.Fatalf("register: %v", err)
		}
	}

	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !closable.closed {
		t.Error("closable adapter was not closed")
	}
}

func TestAdvanceCommitsComputedCursor(t *testing.T) {
	r := NewRegistry()
	cps := newMemCheckpoints()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok":true,"messages":[{"type":"message","ts":"1717430001.000100","user":"U1","text":"hello"}]}`)
	}))
	t.Cleanup(srv.Close)
	adapter, err := NewChat(chatAccount(srv.URL), cps)
	if err != nil {
		t.Fatalf("NewChat: %v", err)
	}
	if err := r.Register(adapter); err != nil {
		t.Fatalf("register chat: %v", err)
	}
	if err := r.Register(&fakeAdapter{key: Key{SourceMail, "work"}}); err != nil {
		t.Fatalf("register fake: %v", err)
	}

	ctx := context.Background()
	if _, err := r.PollOne(ctx, adapter.Key()); err != nil {
		t.Fatalf("PollOne: %v", err)
	}
	if cursor, _ := cps.Cursor(ctx, adapter.Key()); cursor != "" {
		t.Fatalf("cursor before Advance = %q, want empty", cursor)
	}

	if err := r.Advance(ctx, adapter.Key()); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if cursor, _ := cps.Cursor(ctx, adapter.Key()); cursor != "1717430001.000100" {
		t.Errorf("cursor after Advance = %q", cursor)
	}

	// Checkpoint-less adapters are a no-op, unknown keys are an error.
	if err := r.Advance(ctx, Key{SourceMail, "work"}); err != nil {
		t.Errorf("Advance(fake) = %v, want nil", err)
	}
	var cfgErr *ConfigError
	if err := r.Advance(ctx, Key{SourceChat, "ghost"}); !errors.As(err, &cfgErr) {
		t.Errorf("Advance(unregistered) = %v, want *ConfigError", err)
	}
}

func TestPollOnePropagates(t *testing.T) {
	r := NewRegistry()
	key := Key{SourceChat, "team"}
	wantErr := &PollError{Key: key, Err: fmt.Errorf("rate limited")}
	if err := r.Register(&fakeAdapter{key: key, pollErr: wantErr}); err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := r.PollOne(context.Background(), key); !errors.Is(err, wantErr) {
		t.Errorf("PollOne error = %v, want %v", err, wantErr)
	}

	var cfgErr *ConfigError
	if _, err := r.PollOne(context.Background(), Key{SourceMail, "ghost"}); !errors.As(err, &cfgErr) {
		t.Errorf("PollOne(unregistered) error = %v, want *ConfigError", err)
	}
}
