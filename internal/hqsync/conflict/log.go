package conflict

import (
	"sync"

	"github.com/indigoai-us/hq-sub008/internal/hqsync/model"
)

const defaultLogCapacity = 500

// Log is an in-memory, bounded-retention record of every SyncConflict
// seen this process lifetime, queryable by status, relative path, or
// detection-time range. Grounded on the teacher's in-memory
// syncStatus ring (sync_status.go) generalized from errors to
// conflicts: oldest entries are dropped once capacity is reached.
type Log struct {
	mu       sync.Mutex
	capacity int
	entries  []model.SyncConflict
}

// NewLog creates a Log retaining at most capacity entries (default 500
// when capacity <= 0).
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = defaultLogCapacity
	}
	return &Log{capacity: capacity}
}

// Add appends c, dropping the oldest entry first if the log is full.
func (l *Log) Add(c model.SyncConflict) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.entries) >= l.capacity {
		l.entries = l.entries[1:]
	}
	l.entries = append(l.entries, c)
}

// ByStatus returns every logged conflict with the given status, in
// insertion order.
func (l *Log) ByStatus(status model.ConflictStatus) []model.SyncConflict {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []model.SyncConflict
	for _, c := range l.entries {
		if c.Status == status {
			out = append(out, c)
		}
	}
	return out
}

// ByRelativePath returns every logged conflict for relPath, in
// insertion order.
func (l *Log) ByRelativePath(relPath model.RelativePath) []model.SyncConflict {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []model.SyncConflict
	for _, c := range l.entries {
		if c.RelativePath == relPath {
			out = append(out, c)
		}
	}
	return out
}

// ByTimeRange returns every logged conflict detected within
// [fromMs, toMs], inclusive.
func (l *Log) ByTimeRange(fromMs, toMs int64) []model.SyncConflict {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []model.SyncConflict
	for _, c := range l.entries {
		if c.DetectedAtMs >= fromMs && c.DetectedAtMs <= toMs {
			out = append(out, c)
		}
	}
	return out
}

// All returns every logged conflict, in insertion order.
func (l *Log) All() []model.SyncConflict {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.SyncConflict, len(l.entries))
	copy(out, l.entries)
	return out
}
