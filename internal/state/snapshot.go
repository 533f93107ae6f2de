package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pulsewatch/pulsewatch/internal/probe"
)

// snapshot is the on-disk representation of the state table. It carries only
// what a restart needs to avoid re-alerting on services whose state has not
// actually changed; counters and uptime windows start fresh.
type snapshot struct {
	SavedAt  time.Time         `json:"saved_at"`
	Services map[string]record `json:"services"`
	History  []*Transition     `json:"history"`
}

type record struct {
	Kind   string       `json:"kind"`
	Status probe.Status `json:"status"`
	Since  time.Time    `json:"since"`
}

// SaveSnapshot writes the current state table and transition history to path.
// The write goes through a temp file and rename so a crash mid-write never
// leaves a truncated snapshot.
func (t *Tracker) SaveSnapshot(path string) error {
	t.mu.RLock()
	snap := snapshot{
		SavedAt:  t.now(),
		Services: make(map[string]record, len(t.states)),
		History:  append([]*Transition(nil), t.history...),
	}
	for name, st := range t.states {
		snap.Services[name] = record{Kind: st.kind, Status: st.status, Since: st.since}
	}
	t.mu.RUnlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("state: marshal snapshot: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("state: create snapshot dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("state: write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("state: rename snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot restores statuses and history saved by SaveSnapshot. The
// snapshot is advisory: a missing file is not an error, and the caller should
// treat any failure as a fresh (unknown-state) start rather than fatal.
func (t *Tracker) LoadSnapshot(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("state: read snapshot: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("state: parse snapshot: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for name, rec := range snap.Services {
		st := t.stateFor(name)
		st.kind = rec.Kind
		st.status = rec.Status
		st.since = rec.Since
	}
	t.history = snap.History
	if len(t.history) > t.historySize {
		t.history = t.history[len(t.history)-t.historySize:]
	}
	return nil
}
