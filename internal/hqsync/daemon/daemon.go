// Package daemon implements the Sync Daemon's lifecycle state machine
// and scheduled-flush loop, grounded on the teacher's SyncEngine
// (internal/client/sync/sync_engine.go): a timer-driven (not ticker-driven,
// to avoid queued ticks when a flush overruns its interval) loop guarded
// by a TryLock so at most one flush is ever in flight, generalized to an
// explicit idle/starting/running/paused/stopping/stopped state machine
// spec §4.G requires instead of the teacher's implicit always-running loop.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/indigoai-us/hq-sub008/internal/hqsync/model"
)

// ErrSyncAlreadyRunning is returned by TriggerSync when a flush is
// already in progress.
var ErrSyncAlreadyRunning = errors.New("sync already running")

// EventQueue is the subset of eventqueue.Queue the Daemon needs.
type EventQueue interface {
	Push(event model.FileEvent)
	Drain() []model.FileEvent
	Len() int
}

// Watcher is the subset of filewatcher.Watcher the Daemon needs.
type Watcher interface {
	Events() <-chan model.FileEvent
	Start(ctx context.Context) error
	Stop()
}

// Uploader is the subset of uploader.Uploader the Daemon needs.
type Uploader interface {
	ProcessBatch(ctx context.Context, events []model.FileEvent) []model.UploadResult
}

// Event is one value delivered on a subscription channel.
type Event struct {
	Type    string // started, stopped, fileEvent, syncStart, syncComplete, fileSynced, error
	Payload any
}

// Stats is the Daemon's stats snapshot per spec §4.G.
type Stats struct {
	State                model.DaemonState
	StartedAtMs          int64
	SyncCyclesCompleted  int64
	FilesSynced          int64
	SyncErrors           int64
	PendingEvents        int
	LastSyncAtMs         int64
	LastSyncDurationMs   int64
}

// legalTransitions enumerates every (from, to) pair spec §4.G allows.
var legalTransitions = map[model.DaemonState]map[model.DaemonState]bool{
	model.DaemonIdle:     {model.DaemonStarting: true},
	model.DaemonStarting: {model.DaemonRunning: true, model.DaemonStopped: true},
	model.DaemonRunning:  {model.DaemonPaused: true, model.DaemonStopping: true, model.DaemonStopped: true},
	model.DaemonPaused:   {model.DaemonRunning: true, model.DaemonStopping: true, model.DaemonStopped: true},
	model.DaemonStopping: {model.DaemonStopped: true},
	model.DaemonStopped:  {},
}

// Daemon orchestrates the watcher, event queue, and uploader per spec §4.G.
type Daemon struct {
	cfg      Config
	queue    EventQueue
	watcher  Watcher
	upload   Uploader
	log      *slog.Logger

	mu    sync.Mutex
	state model.DaemonState
	stats Stats

	flushMu sync.Mutex // TryLock-guarded: at most one concurrent flush

	subsMu sync.Mutex
	subs   []chan Event

	done   chan struct{}
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New creates a Daemon in the idle state.
func New(cfg Config, queue EventQueue, watcher Watcher, upload Uploader, log *slog.Logger) *Daemon {
	if log == nil {
		log = slog.Default()
	}
	return &Daemon{
		cfg:     cfg.WithDefaults(),
		queue:   queue,
		watcher: watcher,
		upload:  upload,
		log:     log,
		state:   model.DaemonIdle,
	}
}

// Subscribe returns a channel that receives every Event this Daemon
// emits. The channel is buffered; callers that fall behind will miss
// events rather than block the Daemon.
func (d *Daemon) Subscribe() <-chan Event {
	ch := make(chan Event, 64)
	d.subsMu.Lock()
	d.subs = append(d.subs, ch)
	d.subsMu.Unlock()
	return ch
}

func (d *Daemon) emit(evt Event) {
	d.subsMu.Lock()
	defer d.subsMu.Unlock()
	for _, ch := range d.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

func (d *Daemon) transition(to model.DaemonState) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	from := d.state
	if from == to {
		return nil
	}
	if !legalTransitions[from][to] {
		return &model.ErrIllegalTransition{From: from, To: to}
	}
	d.state = to
	return nil
}

// State returns the Daemon's current lifecycle state.
func (d *Daemon) State() model.DaemonState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Start transitions idle -> starting -> running, starts the watcher, and
// begins the scheduled-flush loop.
func (d *Daemon) Start(ctx context.Context) error {
	if err := d.transition(model.DaemonStarting); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})

	if err := d.watcher.Start(runCtx); err != nil {
		_ = d.transition(model.DaemonStopped)
		return fmt.Errorf("daemon: start watcher: %w", err)
	}

	if err := d.transition(model.DaemonRunning); err != nil {
		d.watcher.Stop()
		return err
	}

	d.mu.Lock()
	d.stats.StartedAtMs = time.Now().UnixMilli()
	d.mu.Unlock()

	d.wg.Add(2)
	go d.watchLoop(runCtx)
	go d.scheduleLoop(runCtx)

	if d.cfg.SyncOnStart {
		go func() { _ = d.TriggerSync(runCtx) }()
	}

	d.emit(Event{Type: "started"})
	return nil
}

// Pause suspends scheduled flushes while keeping the watcher active.
func (d *Daemon) Pause() error {
	return d.transition(model.DaemonPaused)
}

// Resume returns from paused to running.
func (d *Daemon) Resume() error {
	return d.transition(model.DaemonRunning)
}

// Stop halts the watcher, performs one final drain, waits for in-flight
// uploads, then transitions to stopped.
func (d *Daemon) Stop(ctx context.Context) error {
	d.mu.Lock()
	from := d.state
	d.mu.Unlock()

	if from != model.DaemonRunning && from != model.DaemonPaused {
		return &model.ErrIllegalTransition{From: from, To: model.DaemonStopping}
	}
	if err := d.transition(model.DaemonStopping); err != nil {
		return err
	}

	d.watcher.Stop()
	if d.cancel != nil {
		d.cancel()
	}
	close(d.done)
	d.wg.Wait()

	d.flush(ctx)

	_ = d.transition(model.DaemonStopped)
	d.emit(Event{Type: "stopped"})
	return nil
}

// TriggerSync flushes the current event batch immediately. Rejected when
// the Daemon is not running or paused, or when a flush is already in
// progress.
func (d *Daemon) TriggerSync(ctx context.Context) error {
	state := d.State()
	if state != model.DaemonRunning && state != model.DaemonPaused {
		return fmt.Errorf("daemon: cannot trigger sync in state %s", state)
	}
	if !d.flushMu.TryLock() {
		return ErrSyncAlreadyRunning
	}
	defer d.flushMu.Unlock()

	d.flushLocked(ctx)
	return nil
}

// Stats returns a snapshot of the Daemon's stats.
func (d *Daemon) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	stats := d.stats
	stats.State = d.state
	stats.PendingEvents = d.queue.Len()
	return stats
}

func (d *Daemon) watchLoop(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.done:
			return
		case event, ok := <-d.watcher.Events():
			if !ok {
				return
			}
			d.queue.Push(event)
			d.emit(Event{Type: "fileEvent", Payload: event})
		}
	}
}

func (d *Daemon) scheduleLoop(ctx context.Context) {
	defer d.wg.Done()

	interval := time.Duration(d.cfg.SyncIntervalMs) * time.Millisecond
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.done:
			return
		case <-timer.C:
			if d.State() == model.DaemonRunning {
				if d.flushMu.TryLock() {
					d.flushLocked(ctx)
					d.flushMu.Unlock()
				}
			}
			timer.Reset(interval)
		}
	}
}

// flush acquires flushMu before calling flushLocked; used on the final
// drain during Stop, where no other flush can be racing since the
// schedule loop has already exited.
func (d *Daemon) flush(ctx context.Context) {
	d.flushMu.Lock()
	defer d.flushMu.Unlock()
	d.flushLocked(ctx)
}

func (d *Daemon) flushLocked(ctx context.Context) {
	batch := d.queue.Drain()
	if len(batch) == 0 {
		return
	}

	d.emit(Event{Type: "syncStart", Payload: len(batch)})
	start := time.Now()

	results := d.upload.ProcessBatch(ctx, batch)

	var synced, errs int64
	for _, r := range results {
		if r.Success {
			synced++
			d.emit(Event{Type: "fileSynced", Payload: r})
		} else {
			errs++
			d.emit(Event{Type: "error", Payload: r})
		}
	}

	d.mu.Lock()
	d.stats.SyncCyclesCompleted++
	d.stats.FilesSynced += synced
	d.stats.SyncErrors += errs
	d.stats.LastSyncAtMs = time.Now().UnixMilli()
	d.stats.LastSyncDurationMs = time.Since(start).Milliseconds()
	d.mu.Unlock()

	d.emit(Event{Type: "syncComplete", Payload: results})
}
