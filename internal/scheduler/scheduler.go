// Package scheduler runs recurring per-account jobs on fixed intervals.
// Each job is keyed; overlapping runs of the same key are skipped, while
// different keys run independently.
package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/marcus/daybreak/internal/logging"
)

// Job is one schedulable unit of work.
type Job func()

type entry struct {
	id       cron.EntryID
	interval time.Duration
	job      Job
}

// Scheduler wraps a cron runner with keyed, resettable interval jobs.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]*entry
	log     *logging.Logger
	started bool
}

// New creates a stopped scheduler.
func New() *Scheduler {
	log := logging.Component("scheduler")
	c := cron.New(
		cron.WithLogger(cronLogger{log}),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{log})),
	)
	return &Scheduler{
		cron:    c,
		entries: make(map[string]*entry),
		log:     log,
	}
}

// Add registers a job under key, firing every interval once started.
// Registering an existing key replaces its job and restarts its timer.
func (s *Scheduler) Add(key string, interval time.Duration, job Job) error {
	if key == "" {
		return fmt.Errorf("scheduler: empty job key")
	}
	if interval <= 0 {
		return fmt.Errorf("scheduler: job %s: interval must be positive", key)
	}
	if job == nil {
		return fmt.Errorf("scheduler: job %s: nil job", key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.entries[key]; ok {
		s.cron.Remove(old.id)
	}

	id := s.cron.Schedule(cron.Every(interval), cron.FuncJob(job))
	s.entries[key] = &entry{id: id, interval: interval, job: job}
	s.log.DebugCtx("job scheduled", map[string]any{"key": key, "interval": interval.String()})
	return nil
}

// Reset discards the pending timer for key and starts a fresh interval from
// now. An in-flight run is not interrupted.
func (s *Scheduler) Reset(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return fmt.Errorf("scheduler: unknown job %s", key)
	}

	s.cron.Remove(e.id)
	e.id = s.cron.Schedule(cron.Every(e.interval), cron.FuncJob(e.job))
	return nil
}

// NextRun returns when the job will next fire. Zero time when the scheduler
// is stopped or the key is unknown.
func (s *Scheduler) NextRun(key string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return time.Time{}
	}
	return s.cron.Entry(e.id).Next
}

// Keys returns the registered job keys.
func (s *Scheduler) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	return keys
}

// Start begins firing jobs. Safe to call once; further calls are no-ops.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.cron.Start()
	s.started = true
	s.log.Infof("scheduler started with %d jobs", len(s.entries))
}

// Stop halts scheduling and waits for in-flight jobs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
}

// cronLogger adapts the structured logger to cron's logging interface.
type cronLogger struct {
	log *logging.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.DebugCtx(msg, kvFields(keysAndValues))
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	fields := kvFields(keysAndValues)
	fields["error"] = err.Error()
	c.log.ErrorCtx(msg, fields)
}

func kvFields(keysAndValues []interface{}) map[string]any {
	fields := make(map[string]any, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprint(keysAndValues[i])
		}
		fields[key] = keysAndValues[i+1]
	}
	return fields
}
