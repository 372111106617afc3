// Package eventqueue implements the bounded, coalescing FIFO that sits
// between the File Watcher and the Uploader. It follows the same
// mutex-protected-slice shape as the teacher's queue.PriorityQueue
// (internal/queue/queue.go), generalized from a heap to an
// insertion-ordered, path-coalescing structure per spec §4.D.
package eventqueue

import (
	"sync"

	"github.com/indigoai-us/hq-sub008/internal/hqsync/model"
)

// DefaultCapacity is used when a non-positive capacity is supplied.
const DefaultCapacity = 10000

// Queue coalesces FileEvents by RelativePath and kind (file vs directory)
// and drops the oldest entry on overflow.
type Queue struct {
	mu       sync.Mutex
	capacity int
	order    []model.RelativePath // insertion order of currently-pending keys
	pending  map[model.RelativePath]model.FileEvent
	dropped  uint64
}

// New creates a Queue bounded to capacity pending events (DefaultCapacity
// if capacity <= 0).
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		capacity: capacity,
		pending:  make(map[model.RelativePath]model.FileEvent),
	}
}

// Push coalesces event into the queue per spec §4.D's rules. A path with
// no pending event is simply appended. Directory events and file events
// coalesce independently because each path can only ever be one kind at a
// time in practice, but the coalescing keys are distinguished defensively
// via isDirKey so a file and a same-named directory never collide.
func (q *Queue) Push(event model.FileEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := coalesceKey(event)
	existing, ok := q.pending[key]
	if !ok {
		q.appendLocked(key, event)
		return
	}

	merged, keep := coalesce(existing, event)
	if !keep {
		q.removeLocked(key)
		return
	}
	q.pending[key] = merged
}

// coalesceKey distinguishes file and directory events sharing a path so a
// file's lifecycle never coalesces with a directory's.
func coalesceKey(e model.FileEvent) model.RelativePath {
	if e.Type.IsDir() {
		return model.RelativePath("d:" + e.RelativePath.String())
	}
	return model.RelativePath("f:" + e.RelativePath.String())
}

// coalesce applies spec §4.D's rule table. keep reports whether the
// coalesced result should remain queued.
func coalesce(old, next model.FileEvent) (merged model.FileEvent, keep bool) {
	switch {
	case old.Type == model.EventAdd && next.Type == model.EventChange:
		return withType(next, model.EventAdd), true
	case old.Type == model.EventAdd && next.Type == model.EventUnlink:
		return model.FileEvent{}, false
	case old.Type == model.EventChange && next.Type == model.EventUnlink:
		return withType(next, model.EventUnlink), true
	case old.Type == model.EventUnlink && next.Type == model.EventAdd:
		return withType(next, model.EventChange), true
	case old.Type == model.EventAddDir && next.Type == model.EventUnlinkDir:
		return model.FileEvent{}, false
	default:
		// No special rule: the newer event simply replaces the older one.
		return next, true
	}
}

func withType(e model.FileEvent, t model.EventType) model.FileEvent {
	e.Type = t
	return e
}

func (q *Queue) appendLocked(key model.RelativePath, event model.FileEvent) {
	if len(q.order) >= q.capacity {
		q.dropOldestLocked()
	}
	q.order = append(q.order, key)
	q.pending[key] = event
}

func (q *Queue) removeLocked(key model.RelativePath) {
	delete(q.pending, key)
	for i, k := range q.order {
		if k == key {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
}

func (q *Queue) dropOldestLocked() {
	if len(q.order) == 0 {
		return
	}
	oldest := q.order[0]
	q.order = q.order[1:]
	delete(q.pending, oldest)
	q.dropped++
}

// Drain atomically takes the current batch of pending events, in
// insertion order, and resets the queue for the next cycle. Pushes that
// arrive concurrently with Drain land in the fresh, empty batch.
func (q *Queue) Drain() []model.FileEvent {
	q.mu.Lock()
	defer q.mu.Unlock()

	batch := make([]model.FileEvent, 0, len(q.order))
	for _, key := range q.order {
		batch = append(batch, q.pending[key])
	}
	q.order = nil
	q.pending = make(map[model.RelativePath]model.FileEvent)
	return batch
}

// Len reports the number of distinct paths currently pending.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

// DroppedCount reports how many events have been dropped due to capacity
// overflow since the queue was created.
func (q *Queue) DroppedCount() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
