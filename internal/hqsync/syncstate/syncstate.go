// Package syncstate persists the Download Manager's per-object bookkeeping
// to a JSON file, the way the teacher's SyncJournal persists sync markers,
// but as a single atomically-rewritten document rather than a SQLite table
// — spec §6 calls for "UTF-8 JSON ... written via temp-then-rename", and
// that requirement is what this package follows literally.
package syncstate

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/indigoai-us/hq-sub008/internal/hqsync/model"
)

const stateVersion = 1

// saveThresholdDirty is the number of unsaved mutations that trigger an
// automatic Save on the next mutating call, per spec §4.B's "size
// threshold triggers periodic save".
const saveThresholdDirty = 25

// document is the on-disk shape: {version, userId, prefix, lastPollAt, entries}.
type document struct {
	Version     int                               `json:"version"`
	UserID      string                            `json:"userId"`
	Prefix      string                            `json:"prefix"`
	LastPollAtMs int64                            `json:"lastPollAt"`
	Entries     map[string]model.SyncStateEntry   `json:"entries"`
}

// Logger is the minimal logging seam syncstate needs; satisfied by
// *slog.Logger.
type Logger interface {
	Warn(msg string, args ...any)
}

// Store is the durable Sync State Store described in spec §4.B. It is not
// safe for use by more than one process against the same path; concurrent
// in-process callers are serialized by an internal mutex.
type Store struct {
	path   string
	log    Logger
	mu     sync.Mutex
	doc    document
	dirty  int
}

// Open loads path if it exists, or starts from an empty document. A
// corrupt file is renamed aside (".corrupt-<ts>" would collide across
// runs, so a fixed ".corrupt" suffix is used and overwritten) and logged,
// never returned as an error, per spec §7 Corruption handling.
func Open(path string, userID, prefix string, log Logger) (*Store, error) {
	s := &Store{path: path, log: log}
	s.doc = document{Version: stateVersion, UserID: userID, Prefix: prefix, Entries: map[string]model.SyncStateEntry{}}

	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("syncstate: read %s: %w", s.path, err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		if s.log != nil {
			s.log.Warn("sync state file corrupt, starting from empty state", "path", s.path, "error", err.Error())
		}
		aside := s.path + ".corrupt"
		_ = os.Rename(s.path, aside)
		return nil
	}

	if doc.Entries == nil {
		doc.Entries = map[string]model.SyncStateEntry{}
	}
	s.doc = doc
	return nil
}

// Get returns the entry for relPath, if tracked.
func (s *Store) Get(relPath string) (model.SyncStateEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.doc.Entries[relPath]
	return e, ok
}

// Upsert records or replaces the entry for entry.RelativePath and marks
// the store dirty, possibly triggering an automatic periodic save.
func (s *Store) Upsert(entry model.SyncStateEntry) error {
	s.mu.Lock()
	s.doc.Entries[entry.RelativePath.String()] = entry
	s.dirty++
	shouldSave := s.dirty >= saveThresholdDirty
	s.mu.Unlock()

	if shouldSave {
		return s.Save()
	}
	return nil
}

// Remove deletes the entry for relPath, if present.
func (s *Store) Remove(relPath string) error {
	s.mu.Lock()
	delete(s.doc.Entries, relPath)
	s.dirty++
	shouldSave := s.dirty >= saveThresholdDirty
	s.mu.Unlock()

	if shouldSave {
		return s.Save()
	}
	return nil
}

// All returns a snapshot copy of every tracked entry.
func (s *Store) All() []model.SyncStateEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.SyncStateEntry, 0, len(s.doc.Entries))
	for _, e := range s.doc.Entries {
		out = append(out, e)
	}
	return out
}

// TrackedPaths returns the derived view of entries.keys() — the "tracked"
// set the source kept separately; this store treats it as purely derived
// per SPEC_FULL.md's Open Question decision.
func (s *Store) TrackedPaths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.doc.Entries))
	for k := range s.doc.Entries {
		out = append(out, k)
	}
	return out
}

// Clear removes every entry, leaving userId/prefix/lastPollAt untouched.
func (s *Store) Clear() error {
	s.mu.Lock()
	s.doc.Entries = map[string]model.SyncStateEntry{}
	s.dirty++
	s.mu.Unlock()
	return s.Save()
}

// RecordPoll stamps lastPollAt and forces a save, since a poll cycle
// completing (even with zero changes) must still persist progress per
// spec §4.J.
func (s *Store) RecordPoll(atMs int64) error {
	s.mu.Lock()
	s.doc.LastPollAtMs = atMs
	s.mu.Unlock()
	return s.Save()
}

// LastPollAtMs returns the last recorded poll timestamp, or 0 if never set.
func (s *Store) LastPollAtMs() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.LastPollAtMs
}

// Save is forceSave(): it synchronously and atomically rewrites the state
// file via a sibling temp file plus rename, so a crash mid-write leaves
// either the previous valid file or the new one, never a partial document.
func (s *Store) Save() error {
	s.mu.Lock()
	doc := s.doc
	s.dirty = 0
	s.mu.Unlock()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("syncstate: marshal: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("syncstate: mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".hq-sync-state-*.tmp")
	if err != nil {
		return fmt.Errorf("syncstate: create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("syncstate: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("syncstate: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("syncstate: close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("syncstate: rename into place: %w", err)
	}
	return nil
}
