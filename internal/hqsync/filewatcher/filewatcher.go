// Package filewatcher recursively watches the HQ root and emits
// model.FileEvent values, debounced per path. It follows the same
// raw-events-then-debounce-goroutine shape as the teacher's
// internal/client/sync/file_watcher.go, generalized to classify events
// (add/change/unlink/addDir/unlinkDir) instead of forwarding raw notify
// events, and to fall back to a periodic rescan when the recursive
// notify.Watch call fails at Start.
package filewatcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rjeczalik/notify"

	"github.com/indigoai-us/hq-sub008/internal/hqsync/ignoreengine"
	"github.com/indigoai-us/hq-sub008/internal/hqsync/model"
)

const (
	eventBufferSize        = 256
	defaultDebounceTimeout = 200 * time.Millisecond
	defaultRescanInterval  = 5 * time.Second
)

// IgnoreChecker is the subset of ignoreengine.Engine the watcher needs.
type IgnoreChecker interface {
	Check(relPath string, isDir bool) ignoreengine.Decision
}

// StateCallback is invoked whenever the watcher transitions between
// healthy notify-backed watching and degraded polling-rescan mode.
type StateCallback func(degraded bool)

// Watcher recursively watches root and emits coalescence-ready,
// ignore-filtered FileEvents. Safe for one Start/Stop lifecycle; not
// restartable.
type Watcher struct {
	root            string
	ignore          IgnoreChecker
	debounceTimeout time.Duration
	rescanInterval  time.Duration
	onState         StateCallback

	rawEvents chan notify.EventInfo
	out       chan model.FileEvent
	done      chan struct{}
	wg        sync.WaitGroup

	degraded bool

	debounceMu  sync.Mutex
	pending     map[string]notify.Event
	eventTimers map[string]*time.Timer

	lastTsMu sync.Mutex
	lastTsMs int64
}

// Option configures a Watcher at construction time.
type Option func(*Watcher)

// WithDebounceTimeout overrides the default 200ms per-path debounce window.
func WithDebounceTimeout(d time.Duration) Option {
	return func(w *Watcher) { w.debounceTimeout = d }
}

// WithRescanInterval overrides the default 5s degraded-mode rescan interval.
func WithRescanInterval(d time.Duration) Option {
	return func(w *Watcher) { w.rescanInterval = d }
}

// WithStateCallback registers a callback invoked when the watcher enters
// or leaves degraded mode, so the Daemon can be notified per spec §4.E.
func WithStateCallback(cb StateCallback) Option {
	return func(w *Watcher) { w.onState = cb }
}

// New creates a Watcher for root, filtering paths through ignore.
func New(root string, ignore IgnoreChecker, opts ...Option) *Watcher {
	w := &Watcher{
		root:            root,
		ignore:          ignore,
		debounceTimeout: defaultDebounceTimeout,
		rescanInterval:  defaultRescanInterval,
		done:            make(chan struct{}),
		pending:         make(map[string]notify.Event),
		eventTimers:     make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Events returns the channel of classified, debounced, ignore-filtered
// FileEvents. Closed after Stop completes.
func (w *Watcher) Events() <-chan model.FileEvent {
	return w.out
}

// Start begins watching. It attempts a recursive notify.Watch first; on
// failure it transitions to degraded (periodic rescan) mode and invokes
// the state callback.
func (w *Watcher) Start(ctx context.Context) error {
	w.rawEvents = make(chan notify.EventInfo, eventBufferSize)
	w.out = make(chan model.FileEvent, eventBufferSize)

	recursivePath := filepath.Join(w.root, "...")
	err := notify.Watch(recursivePath, w.rawEvents, notify.Create, notify.Write, notify.Remove, notify.Rename)
	if err != nil {
		slog.Warn("filewatcher: recursive notify unavailable, falling back to rescan", "dir", w.root, "error", err)
		w.setDegraded(true)
		w.wg.Add(1)
		go w.rescanLoop(ctx)
	} else {
		w.setDegraded(false)
	}

	w.wg.Add(1)
	go w.filterAndClassify(ctx)

	return nil
}

// Stop halts watching and waits for internal goroutines to drain.
func (w *Watcher) Stop() {
	close(w.done)
	if !w.degraded {
		notify.Stop(w.rawEvents)
	}
	w.wg.Wait()
}

func (w *Watcher) setDegraded(degraded bool) {
	w.degraded = degraded
	if w.onState != nil {
		w.onState(degraded)
	}
}

// nextTimestamp returns a monotonically non-decreasing millisecond
// timestamp for this watcher instance, per spec §4.E's guarantee.
func (w *Watcher) nextTimestamp() int64 {
	w.lastTsMu.Lock()
	defer w.lastTsMu.Unlock()
	now := time.Now().UnixMilli()
	if now <= w.lastTsMs {
		now = w.lastTsMs + 1
	}
	w.lastTsMs = now
	return now
}

func (w *Watcher) relPath(absPath string) (string, bool) {
	rel, err := filepath.Rel(w.root, absPath)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	return rel, true
}

func (w *Watcher) filterAndClassify(ctx context.Context) {
	defer func() {
		w.debounceMu.Lock()
		for path, timer := range w.eventTimers {
			timer.Stop()
			w.flushLocked(path)
		}
		w.debounceMu.Unlock()
		w.wg.Done()
		close(w.out)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case info, ok := <-w.rawEvents:
			if !ok {
				return
			}
			rel, ok := w.relPath(info.Path())
			if !ok {
				continue
			}

			isDir := isDirHint(info.Path())
			if w.ignore != nil && w.ignore.Check(rel, isDir).Ignored {
				continue
			}

			w.debounce(info.Path(), info.Event())
		}
	}
}

func isDirHint(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func (w *Watcher) debounce(path string, event notify.Event) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if timer, exists := w.eventTimers[path]; exists {
		timer.Stop()
		delete(w.eventTimers, path)
	}
	w.pending[path] = event

	timer := time.AfterFunc(w.debounceTimeout, func() {
		w.debounceMu.Lock()
		w.flushLocked(path)
		w.debounceMu.Unlock()
	})
	w.eventTimers[path] = timer
}

// flushLocked must be called with debounceMu held.
func (w *Watcher) flushLocked(path string) {
	event, exists := w.pending[path]
	if !exists {
		return
	}
	delete(w.pending, path)
	delete(w.eventTimers, path)

	rel, ok := w.relPath(path)
	if !ok {
		return
	}

	fe, ok := classify(rel, path, event)
	if !ok {
		return
	}
	fe.TimestampMs = w.nextTimestamp()

	select {
	case w.out <- fe:
	default:
		slog.Warn("filewatcher: output channel full, dropping event", "path", path)
	}
}

// classify turns a raw notify.Event plus the current filesystem state
// into a model.FileEvent. Existence on disk at flush time disambiguates
// create/write from remove, since a rename can surface as either.
func classify(relPath, absPath string, event notify.Event) (model.FileEvent, bool) {
	rp, err := model.NewRelativePath(relPath)
	if err != nil {
		return model.FileEvent{}, false
	}

	info, statErr := os.Stat(absPath)
	exists := statErr == nil

	var typ model.EventType
	switch {
	case !exists:
		typ = model.EventUnlink
	case info.IsDir():
		typ = model.EventAddDir
	case event == notify.Create:
		typ = model.EventAdd
	default:
		typ = model.EventChange
	}

	return model.FileEvent{Type: typ, RelativePath: rp, AbsolutePath: absPath}, true
}

// rescanLoop provides degraded-mode coverage when the OS watcher backend
// is unavailable: it periodically walks the tree and emits an event for
// any path whose (size, mtime) signature changed since the last scan.
func (w *Watcher) rescanLoop(ctx context.Context) {
	defer w.wg.Done()

	type sig struct {
		modTime int64
		size    int64
		isDir   bool
	}
	snapshot := make(map[string]sig)

	scan := func() {
		seen := make(map[string]bool)
		_ = filepath.WalkDir(w.root, func(path string, d os.DirEntry, err error) error {
			if err != nil || path == w.root {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			rel, ok := w.relPath(path)
			if !ok {
				return nil
			}
			if w.ignore != nil && w.ignore.Check(rel, d.IsDir()).Ignored {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}

			seen[path] = true
			cur := sig{modTime: info.ModTime().UnixNano(), size: info.Size(), isDir: d.IsDir()}
			prev, existed := snapshot[path]
			if !existed {
				snapshot[path] = cur
				w.emitRescan(rel, path, d.IsDir(), false)
				return nil
			}
			if prev != cur {
				snapshot[path] = cur
				w.emitRescan(rel, path, d.IsDir(), false)
			}
			return nil
		})

		for path := range snapshot {
			if !seen[path] {
				rel, ok := w.relPath(path)
				delete(snapshot, path)
				if ok {
					w.emitRescan(rel, path, false, true)
				}
			}
		}
	}

	scan()

	ticker := time.NewTicker(w.rescanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case <-ticker.C:
			scan()
		}
	}
}

func (w *Watcher) emitRescan(rel, abs string, isDir, deleted bool) {
	rp, err := model.NewRelativePath(rel)
	if err != nil {
		return
	}

	var typ model.EventType
	switch {
	case deleted:
		typ = model.EventUnlink
	case isDir:
		typ = model.EventAddDir
	default:
		typ = model.EventAdd
	}

	fe := model.FileEvent{Type: typ, RelativePath: rp, AbsolutePath: abs, TimestampMs: w.nextTimestamp()}
	select {
	case w.out <- fe:
	default:
		slog.Warn("filewatcher: output channel full during rescan, dropping event", "path", abs)
	}
}
