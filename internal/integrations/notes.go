package integrations

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/marcus/daybreak/internal/config"
)

// NotesAdapter polls a meeting-notes directory for changed markdown files.
// A filesystem watcher records writes between polls so changes are caught
// even when filesystem mtime granularity would hide them from the scan;
// every changed file becomes one NormalizedItem. The checkpoint cursor is
// the newest modification time seen, RFC3339Nano.
type NotesAdapter struct {
	key     Key
	dir     string
	cps     Checkpoints
	watcher *fsnotify.Watcher

	mu         sync.Mutex
	pending    map[string]struct{}
	polled     map[string]struct{}
	nextCursor string
}

// NewNotes constructs a notes adapter and starts its directory watcher.
func NewNotes(acct config.Account, cps Checkpoints) (*NotesAdapter, error) {
	key := Key{Source: SourceNotes, AccountID: acct.ID}

	if acct.Dir == "" {
		return nil, &ConfigError{Key: key, Reason: "dir is required"}
	}
	info, err := os.Stat(acct.Dir)
	if err != nil || !info.IsDir() {
		return nil, &ConfigError{Key: key, Reason: fmt.Sprintf("notes dir %s is not a directory", acct.Dir)}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, &ConfigError{Key: key, Reason: fmt.Sprintf("creating watcher: %v", err)}
	}
	if err := watcher.Add(acct.Dir); err != nil {
		_ = watcher.Close()
		return nil, &ConfigError{Key: key, Reason: fmt.Sprintf("watching %s: %v", acct.Dir, err)}
	}

	a := &NotesAdapter{
		key:     key,
		dir:     acct.Dir,
		cps:     cps,
		watcher: watcher,
		pending: make(map[string]struct{}),
	}
	go a.watch()

	return a, nil
}

func (n *NotesAdapter) Key() Key { return n.key }

// Authenticate verifies the directory is still readable.
func (n *NotesAdapter) Authenticate(_ context.Context) error {
	if _, err := os.ReadDir(n.dir); err != nil {
		return &AuthError{Key: n.key, Err: err}
	}
	return nil
}

// watch drains watcher events into the pending set until Close.
func (n *NotesAdapter) watch() {
	for {
		select {
		case event, ok := <-n.watcher.Events:
			if !ok {
				return
			}
			if !isNoteFile(event.Name) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				n.mu.Lock()
				n.pending[event.Name] = struct{}{}
				n.mu.Unlock()
			}
		case _, ok := <-n.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// Poll returns one item per note file changed since the checkpoint, merged
// with files flagged by the watcher.
func (n *NotesAdapter) Poll(ctx context.Context) ([]NormalizedItem, error) {
	cursor, err := n.cps.Cursor(ctx, n.key)
	if err != nil {
		return nil, &PollError{Key: n.key, Err: fmt.Errorf("loading checkpoint: %w", err)}
	}

	var since time.Time
	if cursor != "" {
		since, err = time.Parse(time.RFC3339Nano, cursor)
		if err != nil {
			return nil, &PollError{Key: n.key, Err: fmt.Errorf("bad checkpoint %q: %w", cursor, err)}
		}
	}

	watched := n.snapshotPending()
	changed := make(map[string]struct{}, len(watched))
	for p := range watched {
		changed[p] = struct{}{}
	}

	entries, err := os.ReadDir(n.dir)
	if err != nil {
		return nil, &PollError{Key: n.key, Err: err}
	}
	for _, entry := range entries {
		if entry.IsDir() || !isNoteFile(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(since) {
			changed[filepath.Join(n.dir, entry.Name())] = struct{}{}
		}
	}

	paths := make([]string, 0, len(changed))
	for p := range changed {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	items := make([]NormalizedItem, 0, len(paths))
	latest := since
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			continue // removed between scan and read
		}
		body, err := os.ReadFile(path)
		if err != nil {
			return nil, &PollError{Key: n.key, Err: fmt.Errorf("reading %s: %w", path, err)}
		}

		rel, err := filepath.Rel(n.dir, path)
		if err != nil {
			rel = filepath.Base(path)
		}

		items = append(items, NormalizedItem{
			// Edits produce a new item id so updated notes are re-extracted.
			ItemID:     fmt.Sprintf("%s@%d", rel, info.ModTime().Unix()),
			AccountID:  n.key.AccountID,
			Source:     SourceNotes,
			Title:      noteTitle(rel, string(body)),
			Body:       string(body),
			OccurredAt: info.ModTime().UTC(),
			Metadata:   map[string]string{"path": rel},
		})
		if info.ModTime().After(latest) {
			latest = info.ModTime()
		}
	}

	n.mu.Lock()
	n.polled = watched
	if latest.After(since) {
		n.nextCursor = latest.Format(time.RFC3339Nano)
	} else {
		n.nextCursor = ""
	}
	n.mu.Unlock()

	return items, nil
}

// Advance persists the checkpoint computed by the last Poll and retires the
// watcher flags that poll consumed. Until then the same files are returned
// again on every poll.
func (n *NotesAdapter) Advance(ctx context.Context) error {
	n.mu.Lock()
	cursor := n.nextCursor
	n.nextCursor = ""
	for p := range n.polled {
		delete(n.pending, p)
	}
	n.polled = nil
	n.mu.Unlock()

	if cursor == "" {
		return nil
	}
	if err := n.cps.SetCursor(ctx, n.key, cursor); err != nil {
		return &PollError{Key: n.key, Err: fmt.Errorf("saving checkpoint: %w", err)}
	}
	return nil
}

// Close stops the directory watcher.
func (n *NotesAdapter) Close() error {
	return n.watcher.Close()
}

func (n *NotesAdapter) snapshotPending() map[string]struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()

	changed := make(map[string]struct{}, len(n.pending))
	for p := range n.pending {
		changed[p] = struct{}{}
	}
	return changed
}

func isNoteFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".txt":
		return true
	}
	return false
}

// noteTitle prefers the first markdown heading, falling back to the filename.
func noteTitle(rel, body string) string {
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "#") {
			return strings.TrimSpace(strings.TrimLeft(line, "# "))
		}
	}
	name := filepath.Base(rel)
	return strings.TrimSuffix(name, filepath.Ext(name))
}
