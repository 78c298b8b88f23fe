package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/marcus/daybreak/internal/autonomy"
	"github.com/marcus/daybreak/internal/config"
	"github.com/marcus/daybreak/internal/db"
	"github.com/marcus/daybreak/internal/extraction"
	"github.com/marcus/daybreak/internal/integrations"
	"github.com/marcus/daybreak/internal/logging"
	"github.com/marcus/daybreak/internal/orchestrator"
	"github.com/marcus/daybreak/internal/store"
)

// env bundles everything a command needs: config, database, stores, and the
// orchestrator with all accounts registered.
type env struct {
	cfg         *config.Config
	db          *db.DB
	tasks       *store.TaskStore
	suggestions *store.SuggestionStore
	ledger      *store.ProcessedStore
	audit       *store.AuditStore
	checkpoints *store.CheckpointStore
	initiatives *store.InitiativeStore
	registry    *integrations.Registry
	orch        *orchestrator.Orchestrator
}

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if configFlag != "" {
		cfg, err = config.LoadFrom(configFlag)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// openEnv builds the full pipeline. Adapter construction failures are
// reported but do not block the other accounts.
func openEnv(ctx context.Context) (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	database, err := db.Open(cfg.ExpandedDBPath())
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	e := &env{
		cfg:         cfg,
		db:          database,
		tasks:       store.NewTaskStore(database.SQL()),
		suggestions: store.NewSuggestionStore(database.SQL()),
		ledger:      store.NewProcessedStore(database.SQL()),
		audit:       store.NewAuditStore(database.SQL()),
		checkpoints: store.NewCheckpointStore(database.SQL()),
		initiatives: store.NewInitiativeStore(database.SQL()),
		registry:    integrations.NewRegistry(),
	}

	log := logging.Component("setup")
	for _, acct := range cfg.Accounts {
		adapter, err := integrations.New(ctx, acct, e.checkpoints)
		if err != nil {
			log.Warnf("account %s/%s unavailable: %v", acct.Source, acct.ID, err)
			continue
		}
		if err := e.registry.Register(adapter); err != nil {
			_ = database.Close()
			return nil, err
		}
	}

	extractor := extraction.NewLLM(cfg.Extractor)
	e.orch = orchestrator.New(e.registry, extractor, e.tasks, e.suggestions, e.ledger, e.audit,
		orchestrator.WithPollTimeout(cfg.Agent.PollTimeout),
		orchestrator.WithExtractTimeout(cfg.Agent.ExtractTimeout),
		orchestrator.WithDefaultLevel(defaultLevel(cfg)),
		orchestrator.WithInitiatives(e.initiatives),
	)
	return e, nil
}

func (e *env) close() {
	_ = e.registry.Close()
	_ = e.db.Close()
}

func defaultLevel(cfg *config.Config) autonomy.Level {
	level, err := autonomy.ParseLevel(cfg.Agent.Autonomy)
	if err != nil {
		return autonomy.LevelSuggest
	}
	return level
}

// accountByKey finds the config entry for a registered key.
func (e *env) accountByKey(key integrations.Key) (config.Account, bool) {
	for _, acct := range e.cfg.Accounts {
		if acct.Source == string(key.Source) && acct.ID == key.AccountID {
			return acct, true
		}
	}
	return config.Account{}, false
}

// scheduleAccounts registers every account's recurring cycle.
func (e *env) scheduleAccounts() error {
	for _, key := range e.registry.Keys() {
		acct, ok := e.accountByKey(key)
		if !ok {
			continue
		}
		if err := e.orch.Schedule(key, acct.Interval, e.cfg.Level(acct)); err != nil {
			return fmt.Errorf("schedule %s: %w", key, err)
		}
	}
	return nil
}

func formatAge(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
