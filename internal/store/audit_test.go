package store

import (
	"context"
	"testing"
	"time"
)

func TestAuditAppendAndRecent(t *testing.T) {
	audit := NewAuditStore(testDB(t).SQL())
	ctx := context.Background()

	entries := []AuditEntry{
		{Kind: AuditPoll, Source: "email", AccountID: "work", Detail: map[string]any{"items": 3}},
		{Kind: AuditExtract, Source: "email", AccountID: "work", PromptTokens: 120, CompletionTokens: 45},
		{Kind: AuditError, Source: "chat", AccountID: "team", Detail: map[string]any{"error": "status 500"}},
	}
	for i, e := range entries {
		e.CreatedAt = time.Now().UTC().Add(time.Duration(i) * time.Second)
		if err := audit.Append(ctx, e); err != nil {
			t.Fatalf("Append %s: %v", e.Kind, err)
		}
	}

	recent, err := audit.Recent(ctx, 10, false)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("entries = %d, want 3", len(recent))
	}
	if recent[0].Kind != AuditError {
		t.Errorf("first entry = %s, want newest first", recent[0].Kind)
	}

	onlyErrs, err := audit.Recent(ctx, 10, true)
	if err != nil {
		t.Fatalf("Recent errors: %v", err)
	}
	if len(onlyErrs) != 1 || onlyErrs[0].AccountID != "team" {
		t.Errorf("error entries = %+v", onlyErrs)
	}
	if onlyErrs[0].Detail["error"] != "status 500" {
		t.Errorf("detail = %v", onlyErrs[0].Detail)
	}
}

func TestAuditTokenTotals(t *testing.T) {
	audit := NewAuditStore(testDB(t).SQL())
	ctx := context.Background()

	now := time.Now().UTC()
	old := AuditEntry{Kind: AuditExtract, PromptTokens: 500, CompletionTokens: 100, CreatedAt: now.Add(-48 * time.Hour)}
	fresh := AuditEntry{Kind: AuditExtract, PromptTokens: 120, CompletionTokens: 45, CreatedAt: now}
	for _, e := range []AuditEntry{old, fresh} {
		if err := audit.Append(ctx, e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	prompt, completion, err := audit.TokenTotals(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("TokenTotals: %v", err)
	}
	if prompt != 120 || completion != 45 {
		t.Errorf("totals = %d/%d, want 120/45", prompt, completion)
	}
}
