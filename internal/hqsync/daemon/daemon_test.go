package daemon

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indigoai-us/hq-sub008/internal/hqsync/model"
)

type fakeQueue struct {
	mu    sync.Mutex
	batch []model.FileEvent
}

func (q *fakeQueue) Push(e model.FileEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.batch = append(q.batch, e)
}

func (q *fakeQueue) Drain() []model.FileEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	b := q.batch
	q.batch = nil
	return b
}

func (q *fakeQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.batch)
}

type fakeWatcher struct {
	events chan model.FileEvent
}

func newFakeWatcher() *fakeWatcher { return &fakeWatcher{events: make(chan model.FileEvent, 16)} }

func (w *fakeWatcher) Events() <-chan model.FileEvent { return w.events }
func (w *fakeWatcher) Start(ctx context.Context) error { return nil }
func (w *fakeWatcher) Stop()                           { close(w.events) }

type fakeUploader struct {
	mu    sync.Mutex
	calls int
}

func (u *fakeUploader) ProcessBatch(ctx context.Context, events []model.FileEvent) []model.UploadResult {
	u.mu.Lock()
	u.calls++
	u.mu.Unlock()

	out := make([]model.UploadResult, len(events))
	for i, e := range events {
		out[i] = model.UploadResult{Success: true, EventType: e.Type, RelPath: e.RelativePath}
	}
	return out
}

func newTestDaemon(t *testing.T, cfg Config) (*Daemon, *fakeQueue, *fakeWatcher, *fakeUploader) {
	t.Helper()
	q := &fakeQueue{}
	w := newFakeWatcher()
	u := &fakeUploader{}
	d := New(cfg, q, w, u, nil)
	return d, q, w, u
}

func TestStartTransitionsIdleToRunning(t *testing.T) {
	d, _, _, _ := newTestDaemon(t, Config{SyncIntervalMs: 60000})
	require.NoError(t, d.Start(context.Background()))
	assert.Equal(t, model.DaemonRunning, d.State())
}

func TestStopFromIdleIsIllegal(t *testing.T) {
	d, _, _, _ := newTestDaemon(t, Config{})
	err := d.Stop(context.Background())
	require.Error(t, err)
	var illegal *model.ErrIllegalTransition
	assert.ErrorAs(t, err, &illegal)
}

func TestPauseThenResume(t *testing.T) {
	d, _, _, _ := newTestDaemon(t, Config{SyncIntervalMs: 60000})
	require.NoError(t, d.Start(context.Background()))

	require.NoError(t, d.Pause())
	assert.Equal(t, model.DaemonPaused, d.State())

	require.NoError(t, d.Resume())
	assert.Equal(t, model.DaemonRunning, d.State())
}

func TestTriggerSyncRejectedWhenIdle(t *testing.T) {
	d, _, _, _ := newTestDaemon(t, Config{})
	err := d.TriggerSync(context.Background())
	assert.Error(t, err)
}

func TestTriggerSyncFlushesQueueThroughUploader(t *testing.T) {
	d, q, _, u := newTestDaemon(t, Config{SyncIntervalMs: 60000})
	require.NoError(t, d.Start(context.Background()))

	rel, err := model.NewRelativePath("a.txt")
	require.NoError(t, err)
	q.Push(model.FileEvent{Type: model.EventAdd, RelativePath: rel})

	require.NoError(t, d.TriggerSync(context.Background()))

	u.mu.Lock()
	calls := u.calls
	u.mu.Unlock()
	assert.Equal(t, 1, calls)

	stats := d.Stats()
	assert.EqualValues(t, 1, stats.SyncCyclesCompleted)
	assert.EqualValues(t, 1, stats.FilesSynced)
}

func TestTriggerSyncRejectsConcurrentFlush(t *testing.T) {
	d, _, _, _ := newTestDaemon(t, Config{SyncIntervalMs: 60000})
	require.NoError(t, d.Start(context.Background()))

	d.flushMu.Lock()
	err := d.TriggerSync(context.Background())
	d.flushMu.Unlock()

	assert.ErrorIs(t, err, ErrSyncAlreadyRunning)
}

func TestStopDrainsQueueAndTransitionsToStopped(t *testing.T) {
	d, q, _, u := newTestDaemon(t, Config{SyncIntervalMs: 60000})
	require.NoError(t, d.Start(context.Background()))

	rel, err := model.NewRelativePath("final.txt")
	require.NoError(t, err)
	q.Push(model.FileEvent{Type: model.EventAdd, RelativePath: rel})

	require.NoError(t, d.Stop(context.Background()))
	assert.Equal(t, model.DaemonStopped, d.State())

	u.mu.Lock()
	calls := u.calls
	u.mu.Unlock()
	assert.GreaterOrEqual(t, calls, 1)
}

func TestSubscribeReceivesStartedEvent(t *testing.T) {
	d, _, _, _ := newTestDaemon(t, Config{SyncIntervalMs: 60000})
	ch := d.Subscribe()

	require.NoError(t, d.Start(context.Background()))

	select {
	case evt := <-ch:
		assert.Equal(t, "started", evt.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for started event")
	}
}

func TestScheduledFlushRunsOnInterval(t *testing.T) {
	d, q, _, u := newTestDaemon(t, Config{SyncIntervalMs: 20})
	require.NoError(t, d.Start(context.Background()))

	rel, err := model.NewRelativePath("scheduled.txt")
	require.NoError(t, err)
	q.Push(model.FileEvent{Type: model.EventAdd, RelativePath: rel})

	require.Eventually(t, func() bool {
		u.mu.Lock()
		defer u.mu.Unlock()
		return u.calls >= 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, d.Stop(context.Background()))
}
