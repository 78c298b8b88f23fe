// Package orchestrator runs the daybreak agent pipeline: poll each account,
// deduplicate against the ledger, extract candidates, apply the autonomy
// policy, and persist tasks or suggestions. Accounts are bulkheaded: one
// account's failure never stops the others.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/marcus/daybreak/internal/autonomy"
	"github.com/marcus/daybreak/internal/extraction"
	"github.com/marcus/daybreak/internal/integrations"
	"github.com/marcus/daybreak/internal/logging"
	"github.com/marcus/daybreak/internal/scheduler"
	"github.com/marcus/daybreak/internal/store"
	"github.com/marcus/daybreak/internal/task"
)

// CycleResult summarizes one poll cycle for one account.
type CycleResult struct {
	Key       integrations.Key
	Polled    int // items returned by the adapter
	Skipped   int // already in the ledger
	Failed    int // extraction failed, retried next cycle
	Created   int // tasks auto-created
	Suggested int // suggestions queued for review
	Discarded int // below the confidence floor
}

// Orchestrator wires the pipeline stages together and drives them on
// per-account schedules.
type Orchestrator struct {
	registry    *integrations.Registry
	extractor   extraction.Extractor
	tasks       *store.TaskStore
	suggestions *store.SuggestionStore
	ledger      *store.ProcessedStore
	audit       *store.AuditStore
	initiatives *store.InitiativeStore
	sched       *scheduler.Scheduler
	log         *logging.Logger

	pollTimeout    time.Duration
	extractTimeout time.Duration
	defaultLevel   autonomy.Level
	now            func() time.Time

	mu     sync.Mutex
	levels map[integrations.Key]autonomy.Level
	cycles map[integrations.Key]*sync.Mutex
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPollTimeout bounds one adapter poll call.
func WithPollTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.pollTimeout = d }
}

// WithExtractTimeout bounds one extraction call.
func WithExtractTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.extractTimeout = d }
}

// WithDefaultLevel sets the autonomy level for accounts without their own.
func WithDefaultLevel(level autonomy.Level) Option {
	return func(o *Orchestrator) { o.defaultLevel = level }
}

// WithNow overrides the clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithInitiatives enables validation of initiative references on candidates.
func WithInitiatives(initiatives *store.InitiativeStore) Option {
	return func(o *Orchestrator) { o.initiatives = initiatives }
}

// New creates an orchestrator over its collaborators.
func New(registry *integrations.Registry, extractor extraction.Extractor,
	tasks *store.TaskStore, suggestions *store.SuggestionStore,
	ledger *store.ProcessedStore, audit *store.AuditStore, opts ...Option) *Orchestrator {

	o := &Orchestrator{
		registry:       registry,
		extractor:      extractor,
		tasks:          tasks,
		suggestions:    suggestions,
		ledger:         ledger,
		audit:          audit,
		sched:          scheduler.New(),
		log:            logging.Component("orchestrator"),
		pollTimeout:    2 * time.Minute,
		extractTimeout: 90 * time.Second,
		defaultLevel:   autonomy.LevelSuggest,
		now:            time.Now,
		levels:         make(map[integrations.Key]autonomy.Level),
		cycles:         make(map[integrations.Key]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Schedule registers a recurring cycle for the account at the given interval
// and autonomy level.
func (o *Orchestrator) Schedule(key integrations.Key, interval time.Duration, level autonomy.Level) error {
	if _, ok := o.registry.Get(key); !ok {
		return &integrations.ConfigError{Key: key, Reason: "not registered"}
	}

	o.mu.Lock()
	o.levels[key] = level
	o.mu.Unlock()

	return o.sched.Add(key.String(), interval, func() {
		if _, err := o.RunCycle(context.Background(), key); err != nil {
			o.log.ErrorCtx("cycle failed", map[string]any{
				"key":   key.String(),
				"error": err.Error(),
			})
		}
	})
}

// Start begins the schedules.
func (o *Orchestrator) Start() {
	o.sched.Start()
}

// Stop halts scheduling and waits for running cycles to finish.
func (o *Orchestrator) Stop() {
	o.sched.Stop()
}

// TriggerNow runs a cycle for the account immediately and restarts its
// interval timer so the next scheduled run counts from now. An in-flight
// cycle for the same account finishes first; it is never cancelled.
func (o *Orchestrator) TriggerNow(ctx context.Context, key integrations.Key) (CycleResult, error) {
	// Reset fails for unscheduled keys; a one-off manual poll is still fine.
	_ = o.sched.Reset(key.String())
	return o.RunCycle(ctx, key)
}

// RunAll runs one cycle for every registered account, isolating failures.
func (o *Orchestrator) RunAll(ctx context.Context) map[integrations.Key]CycleResult {
	results := make(map[integrations.Key]CycleResult)
	for _, key := range o.registry.Keys() {
		res, err := o.RunCycle(ctx, key)
		if err != nil {
			o.log.WarnCtx("cycle failed", map[string]any{
				"key":   key.String(),
				"error": err.Error(),
			})
			continue
		}
		results[key] = res
	}
	return results
}

// RunCycle executes one poll cycle for one account. Cycles for the same
// account are serialized; concurrent callers queue behind the mutex and the
// ledger keeps the queued run from double-processing anything.
func (o *Orchestrator) RunCycle(ctx context.Context, key integrations.Key) (CycleResult, error) {
	lock := o.cycleLock(key)
	lock.Lock()
	defer lock.Unlock()

	result := CycleResult{Key: key}
	level := o.levelFor(key)

	pollCtx, cancel := context.WithTimeout(ctx, o.pollTimeout)
	items, err := o.registry.PollOne(pollCtx, key)
	cancel()
	if err != nil {
		o.auditError(ctx, key, "poll", err)
		return result, err
	}
	result.Polled = len(items)

	o.appendAudit(ctx, store.AuditEntry{
		Kind:      store.AuditPoll,
		Source:    string(key.Source),
		AccountID: key.AccountID,
		Detail:    map[string]any{"items": len(items)},
	})

	for _, item := range items {
		fresh, err := o.ledger.IsNew(ctx, key, item.ItemID)
		if err != nil {
			return result, err
		}
		if !fresh {
			result.Skipped++
			continue
		}

		extractCtx, cancel := context.WithTimeout(ctx, o.extractTimeout)
		candidates, usage, err := o.extractor.Extract(extractCtx, item)
		cancel()
		if err != nil {
			// The item stays unmarked and is retried next cycle.
			o.auditError(ctx, key, "extract", err)
			result.Failed++
			continue
		}

		o.appendAudit(ctx, store.AuditEntry{
			Kind:             store.AuditExtract,
			Source:           string(key.Source),
			AccountID:        key.AccountID,
			Detail:           map[string]any{"item_id": item.ItemID, "candidates": len(candidates)},
			PromptTokens:     usage.PromptTokens,
			CompletionTokens: usage.CompletionTokens,
		})

		tasksCreated := 0
		for _, c := range candidates {
			decision := autonomy.Decide(level, c.Confidence)
			o.appendAudit(ctx, store.AuditEntry{
				Kind:      store.AuditDecide,
				Source:    string(key.Source),
				AccountID: key.AccountID,
				Detail: map[string]any{
					"item_id":    item.ItemID,
					"title":      c.Title,
					"confidence": c.Confidence,
					"decision":   decision.String(),
				},
			})

			switch decision {
			case autonomy.Discard:
				result.Discarded++

			case autonomy.Suggest:
				if err := o.suggestions.Create(ctx, o.buildSuggestion(c, item)); err != nil {
					return result, err
				}
				result.Suggested++

			case autonomy.AutoCreate, autonomy.AutoCreateWithOverrides:
				overrides := decision == autonomy.AutoCreateWithOverrides
				if overrides && c.InitiativeID != "" {
					known, err := o.initiativeKnown(ctx, c.InitiativeID)
					if err != nil {
						return result, err
					}
					if !known {
						c.InitiativeID = ""
					}
				}
				t := o.buildTask(c, item, overrides)
				if err := o.tasks.Create(ctx, t); err != nil {
					return result, err
				}
				o.appendAudit(ctx, store.AuditEntry{
					Kind:      store.AuditCreateTask,
					Source:    string(key.Source),
					AccountID: key.AccountID,
					Detail:    map[string]any{"task_id": t.ID, "title": t.Title, "score": t.PriorityScore},
				})
				result.Created++
				tasksCreated++
			}
		}

		if err := o.ledger.MarkProcessed(ctx, key, item.ItemID, tasksCreated); err != nil {
			return result, err
		}
	}

	// The checkpoint advances only when every polled item was handled. A
	// failed extraction holds the cursor back so the source redelivers the
	// item next cycle; the ledger keeps the handled items from repeating.
	if result.Failed == 0 {
		if err := o.registry.Advance(ctx, key); err != nil {
			o.auditError(ctx, key, "checkpoint", err)
			return result, err
		}
	}

	o.log.InfoCtx("cycle complete", map[string]any{
		"key":       key.String(),
		"polled":    result.Polled,
		"skipped":   result.Skipped,
		"created":   result.Created,
		"suggested": result.Suggested,
	})
	return result, nil
}

// buildTask turns a candidate into a scored task. Priority and initiative
// from the candidate are honored only when overrides are allowed; otherwise
// the task gets the medium default.
func (o *Orchestrator) buildTask(c extraction.Candidate, item integrations.NormalizedItem, overrides bool) *task.Task {
	t := &task.Task{
		Title:         c.Title,
		Description:   c.Description,
		Status:        task.StatusPending,
		Priority:      task.PriorityMedium,
		DueDate:       c.DueDate,
		Tags:          c.Tags,
		Source:        task.Source(item.Source),
		SourceItemID:  item.ItemID,
		AccountID:     item.AccountID,
		DocumentLinks: c.DocumentLinks,
	}
	if overrides {
		if p, err := task.ParsePriority(c.Priority); err == nil {
			t.Priority = p
		}
		t.InitiativeID = c.InitiativeID
	}
	t.PriorityScore = task.Score(t, o.now())
	return t
}

func (o *Orchestrator) buildSuggestion(c extraction.Candidate, item integrations.NormalizedItem) *store.Suggestion {
	priority := task.PriorityMedium
	if p, err := task.ParsePriority(c.Priority); err == nil {
		priority = p
	}
	return &store.Suggestion{
		Title:         c.Title,
		Description:   c.Description,
		Priority:      priority,
		DueDate:       c.DueDate,
		Tags:          c.Tags,
		DocumentLinks: c.DocumentLinks,
		InitiativeID:  c.InitiativeID,
		Confidence:    c.Confidence,
		Source:        task.Source(item.Source),
		SourceItemID:  item.ItemID,
		AccountID:     item.AccountID,
	}
}

// Approve converts a pending suggestion into a scored task.
func (o *Orchestrator) Approve(ctx context.Context, suggestionID string) (*task.Task, error) {
	sg, err := o.suggestions.Get(ctx, suggestionID)
	if err != nil {
		return nil, err
	}
	if sg.Status != store.SuggestionPending {
		return nil, fmt.Errorf("suggestion %s is %s, not pending", suggestionID, sg.Status)
	}

	t := sg.Task()
	if t.InitiativeID != "" {
		known, err := o.initiativeKnown(ctx, t.InitiativeID)
		if err != nil {
			return nil, err
		}
		if !known {
			t.InitiativeID = ""
		}
	}
	t.PriorityScore = task.Score(t, o.now())
	if err := o.tasks.Create(ctx, t); err != nil {
		return nil, err
	}
	if err := o.suggestions.UpdateStatus(ctx, suggestionID, store.SuggestionApproved); err != nil {
		return nil, err
	}

	o.appendAudit(ctx, store.AuditEntry{
		Kind:      store.AuditCreateTask,
		Source:    string(t.Source),
		AccountID: t.AccountID,
		Detail:    map[string]any{"task_id": t.ID, "title": t.Title, "approved_from": sg.ID},
	})
	return t, nil
}

// NextRun reports when the account's next scheduled cycle fires.
func (o *Orchestrator) NextRun(key integrations.Key) time.Time {
	return o.sched.NextRun(key.String())
}

func (o *Orchestrator) cycleLock(key integrations.Key) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	lock, ok := o.cycles[key]
	if !ok {
		lock = &sync.Mutex{}
		o.cycles[key] = lock
	}
	return lock
}

// initiativeKnown reports whether an initiative reference may be attached.
// Without an initiative store every reference passes through.
func (o *Orchestrator) initiativeKnown(ctx context.Context, id string) (bool, error) {
	if o.initiatives == nil {
		return true, nil
	}
	return o.initiatives.Exists(ctx, id)
}

func (o *Orchestrator) levelFor(key integrations.Key) autonomy.Level {
	o.mu.Lock()
	defer o.mu.Unlock()
	if level, ok := o.levels[key]; ok {
		return level
	}
	return o.defaultLevel
}

func (o *Orchestrator) auditError(ctx context.Context, key integrations.Key, stage string, err error) {
	o.appendAudit(ctx, store.AuditEntry{
		Kind:      store.AuditError,
		Source:    string(key.Source),
		AccountID: key.AccountID,
		Detail:    map[string]any{"stage": stage, "error": err.Error()},
	})
}

// appendAudit never fails the pipeline; a broken audit trail is logged and
// the cycle continues.
func (o *Orchestrator) appendAudit(ctx context.Context, e store.AuditEntry) {
	if err := o.audit.Append(ctx, e); err != nil {
		o.log.Err(err).Msg("audit append failed")
	}
}
