package status

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indigoai-us/hq-sub008/internal/hqsync/daemon"
	"github.com/indigoai-us/hq-sub008/internal/hqsync/downloadmgr"
	"github.com/indigoai-us/hq-sub008/internal/hqsync/model"
)

func TestSnapshotIsOfflineBeforeAnyDaemonStatsReceived(t *testing.T) {
	a := NewAggregator(0)
	snap := a.Snapshot()
	assert.Equal(t, HealthOffline, snap.Health)
}

func TestSnapshotIsOfflineWhenDaemonIdleOrStopped(t *testing.T) {
	a := NewAggregator(0)
	a.UpdateDaemonStats(daemon.Stats{State: model.DaemonStopped})
	assert.Equal(t, HealthOffline, a.Snapshot().Health)

	a.UpdateDaemonStats(daemon.Stats{State: model.DaemonStopping})
	assert.Equal(t, HealthOffline, a.Snapshot().Health)
}

func TestSnapshotIsHealthyWithNoErrors(t *testing.T) {
	a := NewAggregator(0)
	a.UpdateDaemonStats(daemon.Stats{State: model.DaemonRunning})
	assert.Equal(t, HealthHealthy, a.Snapshot().Health)
}

func TestSnapshotIsDegradedWithOneToFourErrors(t *testing.T) {
	a := NewAggregator(0)
	a.UpdateDaemonStats(daemon.Stats{State: model.DaemonRunning})
	a.AddError(model.SyncError{Message: "e1"})
	a.AddError(model.SyncError{Message: "e2"})
	assert.Equal(t, HealthDegraded, a.Snapshot().Health)
}

func TestSnapshotIsErrorWithFiveOrMoreErrors(t *testing.T) {
	a := NewAggregator(0)
	a.UpdateDaemonStats(daemon.Stats{State: model.DaemonRunning})
	for i := 0; i < 5; i++ {
		a.AddError(model.SyncError{Message: "e"})
	}
	assert.Equal(t, HealthError, a.Snapshot().Health)
}

func TestAddErrorIsNewestFirstAndBounded(t *testing.T) {
	a := NewAggregator(2)
	a.AddError(model.SyncError{Message: "first"})
	a.AddError(model.SyncError{Message: "second"})
	a.AddError(model.SyncError{Message: "third"})

	errs := a.Snapshot().RecentErrors
	require.Len(t, errs, 2)
	assert.Equal(t, "third", errs[0].Message)
	assert.Equal(t, "second", errs[1].Message)
}

func TestClearErrorsEmptiesRing(t *testing.T) {
	a := NewAggregator(0)
	a.AddError(model.SyncError{Message: "e"})
	a.ClearErrors()
	assert.Empty(t, a.Snapshot().RecentErrors)
}

func TestSetAndClearProgress(t *testing.T) {
	a := NewAggregator(0)
	a.SetProgress(model.SyncProgress{Direction: model.DirectionUpload, FilesTotal: 10})

	snap := a.Snapshot()
	require.NotNil(t, snap.Progress)
	assert.Equal(t, 10, snap.Progress.FilesTotal)
	assert.True(t, snap.IsSyncing)

	a.ClearProgress()
	snap = a.Snapshot()
	assert.Nil(t, snap.Progress)
	assert.False(t, snap.IsSyncing)
}

func TestSnapshotMergesUploadAndDownloadStats(t *testing.T) {
	a := NewAggregator(0)
	a.UpdateDaemonStats(daemon.Stats{State: model.DaemonRunning, FilesSynced: 7, SyncCyclesCompleted: 3})
	a.UpdateDownloadStats(downloadmgr.Stats{TotalFilesDownloaded: 4, IsPolling: true, TrackedFiles: 9})

	snap := a.Snapshot()
	assert.EqualValues(t, 7, snap.Upload.TotalFilesUploaded)
	assert.EqualValues(t, 3, snap.Upload.SyncCyclesCompleted)
	assert.EqualValues(t, 4, snap.Download.TotalFilesDownloaded)
	assert.True(t, snap.Download.IsPolling)
	assert.Equal(t, 9, snap.TrackedFiles)
}

type fakeTriggerDaemon struct {
	mu        sync.Mutex
	state     model.DaemonState
	triggered int
	delay     time.Duration
}

func (d *fakeTriggerDaemon) State() model.DaemonState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *fakeTriggerDaemon) TriggerSync(ctx context.Context) error {
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	d.mu.Lock()
	d.triggered++
	d.mu.Unlock()
	return nil
}

func TestRequestTriggerRejectedWhenDaemonNil(t *testing.T) {
	a := NewAggregator(0)
	result := a.RequestTrigger(context.Background(), nil)
	assert.False(t, result.Accepted)
}

func TestRequestTriggerRejectedWhenDaemonIdle(t *testing.T) {
	a := NewAggregator(0)
	d := &fakeTriggerDaemon{state: model.DaemonIdle}
	result := a.RequestTrigger(context.Background(), d)
	assert.False(t, result.Accepted)
}

func TestRequestTriggerAcceptedWhenRunning(t *testing.T) {
	a := NewAggregator(0)
	d := &fakeTriggerDaemon{state: model.DaemonRunning}
	result := a.RequestTrigger(context.Background(), d)
	assert.True(t, result.Accepted)

	require.Eventually(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		return d.triggered == 1
	}, time.Second, 10*time.Millisecond)
}

func TestRequestTriggerClearsFlagOnCompletionEvenThoughAsync(t *testing.T) {
	a := NewAggregator(0)
	d := &fakeTriggerDaemon{state: model.DaemonRunning, delay: 20 * time.Millisecond}

	result := a.RequestTrigger(context.Background(), d)
	require.True(t, result.Accepted)

	require.Eventually(t, func() bool {
		a.mu.Lock()
		defer a.mu.Unlock()
		return !a.triggerInProgress
	}, time.Second, 10*time.Millisecond)
}

func TestRequestTriggerRejectsConcurrentTrigger(t *testing.T) {
	a := NewAggregator(0)
	d := &fakeTriggerDaemon{state: model.DaemonRunning, delay: 100 * time.Millisecond}

	first := a.RequestTrigger(context.Background(), d)
	require.True(t, first.Accepted)

	second := a.RequestTrigger(context.Background(), d)
	assert.False(t, second.Accepted)
}
