// Package status is the Status Aggregator: it merges Daemon and
// Download Manager stats into one externally observable snapshot with
// health derivation, a bounded recent-error ring, and user-triggered
// sync semantics. Grounded on the teacher's SyncStatus
// (internal/client/sync/sync_status.go): a mutex-protected struct
// broadcasting updates, generalized from per-path sync state to the
// whole-engine snapshot spec §4.L requires.
package status

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/indigoai-us/hq-sub008/internal/hqsync/daemon"
	"github.com/indigoai-us/hq-sub008/internal/hqsync/downloadmgr"
	"github.com/indigoai-us/hq-sub008/internal/hqsync/model"
)

// Health is the Status Aggregator's derived overall health.
type Health string

const (
	HealthOffline  Health = "offline"
	HealthError    Health = "error"
	HealthDegraded Health = "degraded"
	HealthHealthy  Health = "healthy"
)

const (
	errorThresholdForHealthy  = 1
	errorThresholdForDegraded = 4
	errorThresholdForError    = 5
	defaultErrorRingCapacity  = 50
)

// UploadSnapshot is the upload-side portion of SyncStatus.
type UploadSnapshot struct {
	TotalFilesUploaded  int64
	SyncCyclesCompleted int64
	TotalErrors         int64
}

// DownloadSnapshot is the download-side portion of SyncStatus.
type DownloadSnapshot struct {
	IsPolling            bool
	TotalFilesDownloaded int64
	TotalFilesDeleted    int64
	TotalErrors          int64
	LastPollAtMs         int64
}

// SyncStatus is the Status Aggregator's externally observable snapshot.
type SyncStatus struct {
	DaemonState        model.DaemonState
	Health             Health
	IsSyncing          bool
	Progress           *model.SyncProgress
	LastSyncAtMs       int64
	LastSyncDurationMs int64
	PendingChanges     int
	TrackedFiles       int
	Upload             UploadSnapshot
	Download           DownloadSnapshot
	RecentErrors       []model.SyncError
	GeneratedAtMs      int64
}

// TriggerDaemon is the subset of daemon.Daemon the Status Aggregator
// needs to gate a user-triggered sync.
type TriggerDaemon interface {
	State() model.DaemonState
	TriggerSync(ctx context.Context) error
}

// TriggerResult is returned by RequestTrigger.
type TriggerResult struct {
	Accepted bool
	Reason   string
}

// Aggregator owns the four pieces of state spec §4.L names: the
// latest daemon stats, the latest download stats, a bounded ring of
// SyncError (newest first), and a triggerInProgress flag plus an
// optional current SyncProgress.
type Aggregator struct {
	mu sync.Mutex

	hasDaemonStats bool
	daemonStats    daemon.Stats
	downloadStats  downloadmgr.Stats

	errors   []model.SyncError // newest first
	capacity int

	triggerInProgress bool
	progress          *model.SyncProgress

	nowMs func() int64
}

// NewAggregator creates an Aggregator. errorRingCapacity defaults to
// 50 when <= 0.
func NewAggregator(errorRingCapacity int) *Aggregator {
	if errorRingCapacity <= 0 {
		errorRingCapacity = defaultErrorRingCapacity
	}
	return &Aggregator{
		capacity: errorRingCapacity,
		nowMs:    func() int64 { return time.Now().UnixMilli() },
	}
}

// UpdateDaemonStats records the latest Daemon stats snapshot.
func (a *Aggregator) UpdateDaemonStats(stats daemon.Stats) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hasDaemonStats = true
	a.daemonStats = stats
}

// UpdateDownloadStats records the latest Download Manager stats snapshot.
func (a *Aggregator) UpdateDownloadStats(stats downloadmgr.Stats) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.downloadStats = stats
}

// SetProgress records the current in-flight SyncProgress.
func (a *Aggregator) SetProgress(p model.SyncProgress) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.progress = &p
}

// ClearProgress clears the current SyncProgress, e.g. on cycle completion.
func (a *Aggregator) ClearProgress() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.progress = nil
}

// AddError prepends err to the bounded ring, dropping the oldest entry
// once capacity is reached.
func (a *Aggregator) AddError(err model.SyncError) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.errors = append([]model.SyncError{err}, a.errors...)
	if len(a.errors) > a.capacity {
		a.errors = a.errors[:a.capacity]
	}
}

// ClearErrors empties the error ring.
func (a *Aggregator) ClearErrors() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.errors = nil
}

// SetTriggerInProgress sets the triggerInProgress flag directly. Most
// callers should use RequestTrigger instead, which manages the flag's
// full lifecycle.
func (a *Aggregator) SetTriggerInProgress(inProgress bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.triggerInProgress = inProgress
}

// Snapshot produces the externally observable SyncStatus per spec §4.L.
func (a *Aggregator) Snapshot() SyncStatus {
	a.mu.Lock()
	defer a.mu.Unlock()

	errorCount := len(a.errors)
	health := deriveHealth(a.daemonStats.State, a.hasDaemonStats, errorCount)

	recentErrors := make([]model.SyncError, len(a.errors))
	copy(recentErrors, a.errors)

	var progress *model.SyncProgress
	if a.progress != nil {
		p := *a.progress
		progress = &p
	}

	return SyncStatus{
		DaemonState:        a.daemonStats.State,
		Health:             health,
		IsSyncing:          a.triggerInProgress || progress != nil,
		Progress:           progress,
		LastSyncAtMs:       a.daemonStats.LastSyncAtMs,
		LastSyncDurationMs: a.daemonStats.LastSyncDurationMs,
		PendingChanges:     a.daemonStats.PendingEvents,
		TrackedFiles:       a.downloadStats.TrackedFiles,
		Upload: UploadSnapshot{
			TotalFilesUploaded:  a.daemonStats.FilesSynced,
			SyncCyclesCompleted: a.daemonStats.SyncCyclesCompleted,
			TotalErrors:         a.daemonStats.SyncErrors,
		},
		Download: DownloadSnapshot{
			IsPolling:            a.downloadStats.IsPolling,
			TotalFilesDownloaded: a.downloadStats.TotalFilesDownloaded,
			TotalFilesDeleted:    a.downloadStats.TotalFilesDeleted,
			TotalErrors:          a.downloadStats.TotalErrors,
			LastPollAtMs:         a.downloadStats.LastPollAtMs,
		},
		RecentErrors:  recentErrors,
		GeneratedAtMs: a.nowMs(),
	}
}

func deriveHealth(state model.DaemonState, hasDaemonStats bool, errorCount int) Health {
	if !hasDaemonStats || state == model.DaemonIdle || state == model.DaemonStopped || state == model.DaemonStopping {
		return HealthOffline
	}
	if errorCount >= errorThresholdForError {
		return HealthError
	}
	if errorCount >= errorThresholdForHealthy && errorCount <= errorThresholdForDegraded {
		return HealthDegraded
	}
	return HealthHealthy
}

// RequestTrigger implements the Status Aggregator's trigger gate.
// Accepts iff d is non-nil, d.State() is running or paused, and no
// trigger is already in progress. On accept, it asynchronously invokes
// d.TriggerSync and clears triggerInProgress on completion — success
// or failure — via a deferred finalizer that runs on every exit path.
func (a *Aggregator) RequestTrigger(ctx context.Context, d TriggerDaemon) TriggerResult {
	if d == nil {
		return TriggerResult{Accepted: false, Reason: "no daemon"}
	}

	state := d.State()
	if state != model.DaemonRunning && state != model.DaemonPaused {
		return TriggerResult{Accepted: false, Reason: fmt.Sprintf("daemon is %s", state)}
	}

	a.mu.Lock()
	if a.triggerInProgress {
		a.mu.Unlock()
		return TriggerResult{Accepted: false, Reason: "trigger already in progress"}
	}
	a.triggerInProgress = true
	a.mu.Unlock()

	go func() {
		defer a.SetTriggerInProgress(false)
		_ = d.TriggerSync(ctx)
	}()

	return TriggerResult{Accepted: true}
}
