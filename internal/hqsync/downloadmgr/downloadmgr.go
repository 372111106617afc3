// Package downloadmgr is the periodic poller wrapping the Change
// Detector and Downloader, grounded on the teacher's SyncEngine.Start
// (internal/client/sync/sync_engine.go): a timer-driven (not ticker)
// loop guarded by se.muSync.TryLock so at most one poll cycle runs
// concurrently, generalized from the teacher's always-on full-sync
// loop into spec §4.J's explicit start/stop/pollOnce/resetState API
// with its own stats surface.
package downloadmgr

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/indigoai-us/hq-sub008/internal/hqsync/changedetector"
	"github.com/indigoai-us/hq-sub008/internal/hqsync/model"
)

// ChangeDetector is the subset of changedetector.Detector the Manager needs.
type ChangeDetector interface {
	Detect(ctx context.Context, cfg changedetector.Config) ([]model.DetectedChange, error)
}

// Downloader is the subset of downloader.Downloader the Manager needs.
type Downloader interface {
	ProcessBatch(ctx context.Context, changes []model.DetectedChange) []model.DownloadResult
}

// SyncState is the subset of syncstate.Store the Manager needs to
// persist after every cycle, per spec §4.J's "every cycle ends by
// calling SyncState.save() and recordPoll()" guarantee. Per-change
// state updates (Upsert/Remove) are the Downloader's responsibility,
// not the Manager's.
type SyncState interface {
	TrackedPaths() []string
	RecordPoll(atMs int64) error
	Save() error
}

// PollResult is the outcome of one pollOnce call.
type PollResult struct {
	Skipped         bool // true when a cycle was already in flight
	ChangesDetected int
	FilesDownloaded int
	FilesDeleted    int
	Errors          int
	DurationMs      int64
}

// Stats is the Manager's stats snapshot per spec §4.J.
type Stats struct {
	IsPolling            bool
	PollCyclesCompleted  int64
	TotalFilesDownloaded int64
	TotalFilesDeleted    int64
	TotalErrors          int64
	LastPollAtMs         int64
	LastPollDurationMs   int64
	TrackedFiles         int
}

// Manager periodically detects and downloads remote changes.
type Manager struct {
	cfg       Config
	detectCfg changedetector.Config
	detector  ChangeDetector
	download  Downloader
	state     SyncState
	log       *slog.Logger
	nowMs     func() int64

	pollMu sync.Mutex // TryLock-guarded: at most one concurrent poll cycle

	mu    sync.Mutex
	stats Stats

	done   chan struct{}
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New creates a Manager.
func New(cfg Config, detectCfg changedetector.Config, detector ChangeDetector, download Downloader, state SyncState, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		cfg:       cfg.WithDefaults(),
		detectCfg: detectCfg,
		detector:  detector,
		download:  download,
		state:     state,
		log:       log,
		nowMs:     func() int64 { return time.Now().UnixMilli() },
	}
}

// StartPolling begins the scheduled poll loop.
func (m *Manager) StartPolling(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	m.mu.Lock()
	m.stats.IsPolling = true
	m.mu.Unlock()

	m.wg.Add(1)
	go m.pollLoop(runCtx)
}

// StopPolling halts the scheduled poll loop and waits for any in-flight
// cycle to finish.
func (m *Manager) StopPolling() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.done != nil {
		close(m.done)
	}
	m.wg.Wait()

	m.mu.Lock()
	m.stats.IsPolling = false
	m.mu.Unlock()
}

func (m *Manager) pollLoop(ctx context.Context) {
	defer m.wg.Done()

	interval := time.Duration(m.cfg.PollIntervalMs) * time.Millisecond
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case <-timer.C:
			result, err := m.PollOnce(ctx)
			if err != nil {
				m.log.Error("poll cycle failed", "error", err)
			} else if !result.Skipped {
				m.log.Debug("poll cycle completed", "changesDetected", result.ChangesDetected,
					"filesDownloaded", result.FilesDownloaded, "filesDeleted", result.FilesDeleted, "errors", result.Errors)
			}
			timer.Reset(interval)
		}
	}
}

// PollOnce runs one detect-then-download cycle. If a cycle is already
// in flight, it returns a skipped result immediately rather than
// blocking, per spec §4.J's at-most-one-concurrent-cycle guarantee.
// Every non-skipped cycle ends by saving the Sync State and recording
// the poll timestamp, even when no changes were detected.
func (m *Manager) PollOnce(ctx context.Context) (PollResult, error) {
	if !m.pollMu.TryLock() {
		return PollResult{Skipped: true}, nil
	}
	defer m.pollMu.Unlock()

	start := time.Now()

	changes, err := m.detector.Detect(ctx, m.detectCfg)
	if err != nil {
		return PollResult{}, fmt.Errorf("downloadmgr: detect changes: %w", err)
	}

	result := PollResult{ChangesDetected: len(changes)}

	if len(changes) > 0 {
		downloadResults := m.download.ProcessBatch(ctx, changes)
		for _, r := range downloadResults {
			if !r.Success {
				result.Errors++
				continue
			}
			switch r.ChangeType {
			case model.ChangeDeleted:
				result.FilesDeleted++
			default:
				result.FilesDownloaded++
			}
		}
	}

	result.DurationMs = time.Since(start).Milliseconds()

	now := m.nowMs()
	if err := m.state.RecordPoll(now); err != nil {
		return result, fmt.Errorf("downloadmgr: record poll: %w", err)
	}
	if err := m.state.Save(); err != nil {
		return result, fmt.Errorf("downloadmgr: save sync state: %w", err)
	}

	m.mu.Lock()
	m.stats.PollCyclesCompleted++
	m.stats.TotalFilesDownloaded += int64(result.FilesDownloaded)
	m.stats.TotalFilesDeleted += int64(result.FilesDeleted)
	m.stats.TotalErrors += int64(result.Errors)
	m.stats.LastPollAtMs = now
	m.stats.LastPollDurationMs = result.DurationMs
	m.stats.TrackedFiles = len(m.state.TrackedPaths())
	m.mu.Unlock()

	return result, nil
}

// ResetState zeroes the Manager's cumulative stats. It does not touch
// the underlying Sync State.
func (m *Manager) ResetState() {
	m.mu.Lock()
	defer m.mu.Unlock()
	isPolling := m.stats.IsPolling
	m.stats = Stats{IsPolling: isPolling}
}

// Stats returns a snapshot of the Manager's stats.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}
