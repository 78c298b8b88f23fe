package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/marcus/daybreak/internal/autonomy"
	"github.com/marcus/daybreak/internal/config"
	"github.com/marcus/daybreak/internal/db"
	"github.com/marcus/daybreak/internal/extraction"
	"github.com/marcus/daybreak/internal/integrations"
	"github.com/marcus/daybreak/internal/store"
	"github.com/marcus/daybreak/internal/task"
)

type fakeAdapter struct {
	key     integrations.Key
	items   []integrations.NormalizedItem
	pollErr error
}

func (f *fakeAdapter) Key() integrations.Key              { return f.key }
func (f *fakeAdapter) Authenticate(context.Context) error { return nil }
func (f *fakeAdapter) Poll(context.Context) ([]integrations.NormalizedItem, error) {
	if f.pollErr != nil {
		return nil, f.pollErr
	}
	return f.items, nil
}

type fixture struct {
	orch        *Orchestrator
	registry    *integrations.Registry
	tasks       *store.TaskStore
	suggestions *store.SuggestionStore
	ledger      *store.ProcessedStore
	audit       *store.AuditStore
	initiatives *store.InitiativeStore
	checkpoints *store.CheckpointStore
}

func newFixture(t *testing.T, extractor extraction.Extractor, opts ...Option) *fixture {
	t.Helper()
	d, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	f := &fixture{
		registry:    integrations.NewRegistry(),
		tasks:       store.NewTaskStore(d.SQL()),
		suggestions: store.NewSuggestionStore(d.SQL()),
		ledger:      store.NewProcessedStore(d.SQL()),
		audit:       store.NewAuditStore(d.SQL()),
		initiatives: store.NewInitiativeStore(d.SQL()),
		checkpoints: store.NewCheckpointStore(d.SQL()),
	}
	opts = append([]Option{WithInitiatives(f.initiatives)}, opts...)
	f.orch = New(f.registry, extractor, f.tasks, f.suggestions, f.ledger, f.audit, opts...)
	return f
}

func workKey() integrations.Key {
	return integrations.Key{Source: integrations.SourceMail, AccountID: "work"}
}

func mailItem(id, title string) integrations.NormalizedItem {
	return integrations.NormalizedItem{
		ItemID:     id,
		AccountID:  "work",
		Source:     integrations.SourceMail,
		Title:      title,
		Body:       "please handle this",
		OccurredAt: time.Now().Add(-time.Hour),
	}
}

func staticExtractor(candidates ...extraction.Candidate) extraction.Extractor {
	return extraction.Func(func(context.Context, integrations.NormalizedItem) ([]extraction.Candidate, extraction.Usage, error) {
		return candidates, extraction.Usage{PromptTokens: 10, CompletionTokens: 5}, nil
	})
}

func TestCycleSplitsByConfidenceAtAutoLow(t *testing.T) {
	f := newFixture(t, staticExtractor(
		extraction.Candidate{Title: "Send the report", Confidence: 0.85},
		extraction.Candidate{Title: "Maybe review slides", Confidence: 0.6},
		extraction.Candidate{Title: "noise", Confidence: 0.05},
	))
	key := workKey()
	if err := f.registry.Register(&fakeAdapter{key: key, items: []integrations.NormalizedItem{mailItem("msg-1", "report")}}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := f.orch.Schedule(key, time.Hour, autonomy.LevelAutoLow); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	res, err := f.orch.RunCycle(context.Background(), key)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if res.Created != 1 || res.Suggested != 1 || res.Discarded != 1 {
		t.Fatalf("result = %+v", res)
	}

	tasks, err := f.tasks.List(context.Background(), store.TaskFilter{})
	if err != nil {
		t.Fatalf("List tasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Title != "Send the report" {
		t.Fatalf("tasks = %+v", tasks)
	}
	if tasks[0].PriorityScore <= 0 || tasks[0].PriorityScore > 100 {
		t.Errorf("score = %v, want in (0,100]", tasks[0].PriorityScore)
	}
	if tasks[0].SourceItemID != "msg-1" || tasks[0].AccountID != "work" {
		t.Errorf("origin = %q/%q", tasks[0].SourceItemID, tasks[0].AccountID)
	}

	pending, err := f.suggestions.List(context.Background(), store.SuggestionPending)
	if err != nil {
		t.Fatalf("List suggestions: %v", err)
	}
	if len(pending) != 1 || pending[0].Title != "Maybe review slides" {
		t.Fatalf("suggestions = %+v", pending)
	}
}

func TestCycleReplayIsIdempotent(t *testing.T) {
	f := newFixture(t, staticExtractor(extraction.Candidate{Title: "One task", Confidence: 0.9}))
	key := workKey()
	if err := f.registry.Register(&fakeAdapter{key: key, items: []integrations.NormalizedItem{mailItem("msg-99", "once")}}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := f.orch.Schedule(key, time.Hour, autonomy.LevelAuto); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	first, err := f.orch.RunCycle(context.Background(), key)
	if err != nil {
		t.Fatalf("first RunCycle: %v", err)
	}
	second, err := f.orch.RunCycle(context.Background(), key)
	if err != nil {
		t.Fatalf("second RunCycle: %v", err)
	}

	if first.Created != 1 || second.Created != 0 || second.Skipped != 1 {
		t.Errorf("first = %+v second = %+v", first, second)
	}

	tasks, err := f.tasks.List(context.Background(), store.TaskFilter{})
	if err != nil {
		t.Fatalf("List tasks: %v", err)
	}
	if len(tasks) != 1 {
		t.Errorf("tasks = %d, want exactly 1 after replay", len(tasks))
	}
}

func TestConcurrentCyclesCreateOneTask(t *testing.T) {
	f := newFixture(t, staticExtractor(extraction.Candidate{Title: "One task", Confidence: 0.9}))
	key := workKey()
	if err := f.registry.Register(&fakeAdapter{key: key, items: []integrations.NormalizedItem{mailItem("msg-99", "once")}}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := f.orch.Schedule(key, time.Hour, autonomy.LevelAuto); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.orch.RunCycle(context.Background(), key)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("concurrent RunCycle: %v", err)
		}
	}

	tasks, err := f.tasks.List(context.Background(), store.TaskFilter{})
	if err != nil {
		t.Fatalf("List tasks: %v", err)
	}
	if len(tasks) != 1 {
		t.Errorf("tasks = %d, want exactly 1 under concurrency", len(tasks))
	}
	n, err := f.ledger.Count(context.Background(), key)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Errorf("ledger records = %d, want 1", n)
	}
}

func TestExtractionFailureRetriesNextCycle(t *testing.T) {
	var fail bool
	extractor := extraction.Func(func(context.Context, integrations.NormalizedItem) ([]extraction.Candidate, extraction.Usage, error) {
		if fail {
			return nil, extraction.Usage{}, &extraction.ExtractionError{Op: "call", Err: errors.New("model down")}
		}
		return []extraction.Candidate{{Title: "Recovered", Confidence: 0.9}}, extraction.Usage{}, nil
	})

	f := newFixture(t, extractor)
	key := workKey()
	if err := f.registry.Register(&fakeAdapter{key: key, items: []integrations.NormalizedItem{mailItem("msg-7", "flaky")}}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := f.orch.Schedule(key, time.Hour, autonomy.LevelAuto); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	fail = true
	res, err := f.orch.RunCycle(context.Background(), key)
	if err != nil {
		t.Fatalf("RunCycle with failing extractor: %v", err)
	}
	if res.Failed != 1 || res.Created != 0 {
		t.Fatalf("result = %+v", res)
	}

	// Item was not marked processed, so the next cycle picks it up.
	fail = false
	res, err = f.orch.RunCycle(context.Background(), key)
	if err != nil {
		t.Fatalf("retry RunCycle: %v", err)
	}
	if res.Created != 1 || res.Skipped != 0 {
		t.Fatalf("retry result = %+v", res)
	}
}

func TestExtractionFailureHoldsCheckpoint(t *testing.T) {
	var fail bool
	extractor := extraction.Func(func(context.Context, integrations.NormalizedItem) ([]extraction.Candidate, extraction.Usage, error) {
		if fail {
			return nil, extraction.Usage{}, &extraction.ExtractionError{Op: "call", Err: errors.New("model down")}
		}
		return []extraction.Candidate{{Title: "Book the venue", Confidence: 0.9}}, extraction.Usage{}, nil
	})

	f := newFixture(t, extractor, WithDefaultLevel(autonomy.LevelAuto))

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "planning.md"), []byte("# Planning\nbook the offsite venue\n"), 0644); err != nil {
		t.Fatalf("write note: %v", err)
	}
	adapter, err := integrations.NewNotes(config.Account{Source: "meeting_notes", ID: "standup", Dir: dir}, f.checkpoints)
	if err != nil {
		t.Fatalf("NewNotes: %v", err)
	}
	t.Cleanup(func() { _ = adapter.Close() })
	if err := f.registry.Register(adapter); err != nil {
		t.Fatalf("Register: %v", err)
	}
	key := adapter.Key()

	// The note fails extraction. Its checkpoint must not move, or the
	// source would never redeliver it.
	fail = true
	res, err := f.orch.RunCycle(context.Background(), key)
	if err != nil {
		t.Fatalf("failing RunCycle: %v", err)
	}
	if res.Polled != 1 || res.Failed != 1 || res.Created != 0 {
		t.Fatalf("failing cycle result = %+v", res)
	}

	fail = false
	res, err = f.orch.RunCycle(context.Background(), key)
	if err != nil {
		t.Fatalf("retry RunCycle: %v", err)
	}
	if res.Polled != 1 || res.Created != 1 {
		t.Fatalf("retry cycle result = %+v", res)
	}

	// The clean cycle committed the checkpoint; the note is done.
	res, err = f.orch.RunCycle(context.Background(), key)
	if err != nil {
		t.Fatalf("third RunCycle: %v", err)
	}
	if res.Polled != 0 {
		t.Fatalf("third cycle result = %+v, want nothing polled", res)
	}
}

func TestRunAllIsolatesBrokenAccounts(t *testing.T) {
	f := newFixture(t, staticExtractor(extraction.Candidate{Title: "From healthy account", Confidence: 0.9}),
		WithDefaultLevel(autonomy.LevelAuto))

	healthy := workKey()
	broken := integrations.Key{Source: integrations.SourceChat, AccountID: "team"}
	if err := f.registry.Register(&fakeAdapter{key: healthy, items: []integrations.NormalizedItem{mailItem("msg-1", "ok")}}); err != nil {
		t.Fatalf("Register healthy: %v", err)
	}
	if err := f.registry.Register(&fakeAdapter{key: broken, pollErr: &integrations.PollError{Key: broken, Err: errors.New("token expired")}}); err != nil {
		t.Fatalf("Register broken: %v", err)
	}

	results := f.orch.RunAll(context.Background())
	if _, ok := results[broken]; ok {
		t.Error("broken account reported a result")
	}
	res, ok := results[healthy]
	if !ok || res.Created != 1 {
		t.Fatalf("healthy result = %+v ok=%v", res, ok)
	}

	// The failure is visible in the audit log.
	entries, err := f.audit.Recent(context.Background(), 10, true)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 1 || entries[0].AccountID != "team" {
		t.Errorf("error entries = %+v", entries)
	}
}

func TestFullLevelAppliesOverrides(t *testing.T) {
	candidate := extraction.Candidate{Title: "Escalate outage", Priority: "critical", InitiativeID: "init-1", Confidence: 0.95}

	for _, tt := range []struct {
		level        autonomy.Level
		wantPriority task.Priority
		wantInit     string
	}{
		{autonomy.LevelAuto, task.PriorityMedium, ""},
		{autonomy.LevelFull, task.PriorityCritical, "init-1"},
	} {
		t.Run(string(tt.level), func(t *testing.T) {
			f := newFixture(t, staticExtractor(candidate), WithDefaultLevel(tt.level))
			if err := f.initiatives.Create(context.Background(), &task.Initiative{ID: "init-1", Title: "Incident response"}); err != nil {
				t.Fatalf("Create initiative: %v", err)
			}
			key := workKey()
			if err := f.registry.Register(&fakeAdapter{key: key, items: []integrations.NormalizedItem{mailItem("msg-1", "outage")}}); err != nil {
				t.Fatalf("Register: %v", err)
			}

			if _, err := f.orch.RunCycle(context.Background(), key); err != nil {
				t.Fatalf("RunCycle: %v", err)
			}

			tasks, err := f.tasks.List(context.Background(), store.TaskFilter{})
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(tasks) != 1 {
				t.Fatalf("tasks = %d", len(tasks))
			}
			if tasks[0].Priority != tt.wantPriority || tasks[0].InitiativeID != tt.wantInit {
				t.Errorf("priority/initiative = %s/%q, want %s/%q",
					tasks[0].Priority, tasks[0].InitiativeID, tt.wantPriority, tt.wantInit)
			}
		})
	}
}

func TestUnknownInitiativeReferenceDropped(t *testing.T) {
	candidate := extraction.Candidate{Title: "Track this", InitiativeID: "ghost", Confidence: 0.95}
	f := newFixture(t, staticExtractor(candidate), WithDefaultLevel(autonomy.LevelFull))
	key := workKey()
	if err := f.registry.Register(&fakeAdapter{key: key, items: []integrations.NormalizedItem{mailItem("msg-1", "track")}}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := f.orch.RunCycle(context.Background(), key); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	tasks, err := f.tasks.List(context.Background(), store.TaskFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("tasks = %d", len(tasks))
	}
	if tasks[0].InitiativeID != "" {
		t.Errorf("InitiativeID = %q, want dropped reference", tasks[0].InitiativeID)
	}
}

func TestApproveTurnsSuggestionIntoTask(t *testing.T) {
	f := newFixture(t, staticExtractor(extraction.Candidate{Title: "Review slides", Priority: "high", Confidence: 0.5}))
	key := workKey()
	if err := f.registry.Register(&fakeAdapter{key: key, items: []integrations.NormalizedItem{mailItem("msg-1", "slides")}}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := f.orch.RunCycle(context.Background(), key); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	pending, err := f.suggestions.List(context.Background(), store.SuggestionPending)
	if err != nil || len(pending) != 1 {
		t.Fatalf("pending = %v err = %v", pending, err)
	}

	created, err := f.orch.Approve(context.Background(), pending[0].ID)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if created.Priority != task.PriorityHigh || created.PriorityScore <= 0 {
		t.Errorf("approved task = %+v", created)
	}

	// Approving twice fails: the suggestion is no longer pending.
	if _, err := f.orch.Approve(context.Background(), pending[0].ID); err == nil {
		t.Error("second Approve succeeded")
	}
}

func TestTriggerNowRunsUnscheduledAccount(t *testing.T) {
	f := newFixture(t, staticExtractor(extraction.Candidate{Title: "Ad hoc", Confidence: 0.9}),
		WithDefaultLevel(autonomy.LevelAuto))
	key := workKey()
	if err := f.registry.Register(&fakeAdapter{key: key, items: []integrations.NormalizedItem{mailItem("msg-1", "now")}}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	res, err := f.orch.TriggerNow(context.Background(), key)
	if err != nil {
		t.Fatalf("TriggerNow: %v", err)
	}
	if res.Created != 1 {
		t.Errorf("result = %+v", res)
	}
}
