package integrations

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/marcus/daybreak/internal/logging"
)

// Registry holds one adapter per Key and fans out polling. Each adapter's
// failure is reported per key; one account's outage never stops polling of
// any other account, including other accounts of the same source type.
type Registry struct {
	mu       sync.RWMutex
	adapters map[Key]Adapter
	log      *logging.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[Key]Adapter),
		log:      logging.Component("registry"),
	}
}

// Register stores an adapter under its key. Registering a zero key or a key
// that already exists is a *ConfigError.
func (r *Registry) Register(a Adapter) error {
	key := a.Key()
	if key.Zero() {
		return &ConfigError{Key: key, Reason: "missing source or account id"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.adapters[key]; exists {
		return &ConfigError{Key: key, Reason: "already registered"}
	}
	r.adapters[key] = a
	return nil
}

// Get returns the adapter for a key.
func (r *Registry) Get(key Key) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[key]
	return a, ok
}

// Keys returns all registered keys in stable order.
func (r *Registry) Keys() []Key {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]Key, 0, len(r.adapters))
	for k := range r.adapters {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Source != keys[j].Source {
			return keys[i].Source < keys[j].Source
		}
		return keys[i].AccountID < keys[j].AccountID
	})
	return keys
}

// Accounts returns the account ids registered for a source type, sorted.
func (r *Registry) Accounts(source Source) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for k := range r.adapters {
		if k.Source == source {
			ids = append(ids, k.AccountID)
		}
	}
	sort.Strings(ids)
	return ids
}

// PollOne invokes a single adapter and propagates its error to the caller.
func (r *Registry) PollOne(ctx context.Context, key Key) ([]NormalizedItem, error) {
	a, ok := r.Get(key)
	if !ok {
		return nil, &ConfigError{Key: key, Reason: "not registered"}
	}
	return a.Poll(ctx)
}

// Advance commits the checkpoint computed by the adapter's last Poll.
// Adapters without a checkpoint are a no-op.
func (r *Registry) Advance(ctx context.Context, key Key) error {
	a, ok := r.Get(key)
	if !ok {
		return &ConfigError{Key: key, Reason: "not registered"}
	}
	adv, ok := a.(CursorAdvancer)
	if !ok {
		return nil
	}
	return adv.Advance(ctx)
}

// Close releases every adapter that holds resources, such as the notes
// adapter's filesystem watcher.
func (r *Registry) Close() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var firstErr error
	for _, a := range r.adapters {
		c, ok := a.(io.Closer)
		if !ok {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// PollAll invokes every registered adapter, isolating failures per key.
// Panicking adapters are contained the same way as erroring ones.
func (r *Registry) PollAll(ctx context.Context) (map[Key][]NormalizedItem, map[Key]error) {
	items := make(map[Key][]NormalizedItem)
	errs := make(map[Key]error)

	for _, key := range r.Keys() {
		got, err := r.pollGuarded(ctx, key)
		if err != nil {
			r.log.WarnCtx("poll failed", map[string]any{
				"key":   key.String(),
				"error": err.Error(),
			})
			errs[key] = err
			continue
		}
		items[key] = got
	}
	return items, errs
}

func (r *Registry) pollGuarded(ctx context.Context, key Key) (items []NormalizedItem, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &PollError{Key: key, Err: panicError{rec}}
		}
	}()
	return r.PollOne(ctx, key)
}

type panicError struct {
	value any
}

func (p panicError) Error() string {
	return fmt.Sprintf("adapter panic: %v", p.value)
}
