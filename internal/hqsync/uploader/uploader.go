// Package uploader executes add/change/unlink/dir events against the
// object store, the way the teacher's handleRemoteWrites
// (internal/client/sync/sync_engine_upload.go) executes a batch of
// SyncOperations, generalized to the full event-type pipeline spec §4.F
// requires and to the pluggable objectstore.Store abstraction.
package uploader

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/indigoai-us/hq-sub008/internal/hqsync/filehash"
	"github.com/indigoai-us/hq-sub008/internal/hqsync/model"
	"github.com/indigoai-us/hq-sub008/internal/hqsync/objectstore"
)

// UploadSession is in-memory bookkeeping for an in-flight or completed
// upload, supplementing spec's SyncProgress with per-part granularity —
// grounded on the teacher's upload_registry.go, but kept purely in
// memory and cleared on daemon restart rather than persisted to disk.
type UploadSession struct {
	ID             string
	RelativePath   string
	SizeBytes      int64
	UploadedBytes  int64
	PartCount      int
	CompletedParts int
	Done           bool
	ErrorMsg       string
}

// Hasher is the subset of filehash.CachingHasher the Uploader needs.
type Hasher interface {
	Hash(absPath string, sizeBytes int64, modTimeUnixNano int64) (filehash.Result, error)
}

// Uploader executes a drained event batch against an objectstore.Store.
type Uploader struct {
	cfg   Config
	store objectstore.Store
	hash  Hasher
	log   *slog.Logger
	sem   *semaphore.Weighted

	mu       sync.Mutex
	sessions map[string]*UploadSession
}

// New creates an Uploader. cfg's zero-valued fields are filled with spec
// §6 defaults via Config.WithDefaults.
func New(cfg Config, store objectstore.Store, hash Hasher, log *slog.Logger) *Uploader {
	cfg = cfg.WithDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Uploader{
		cfg:      cfg,
		store:    store,
		hash:     hash,
		log:      log,
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrentUploads)),
		sessions: make(map[string]*UploadSession),
	}
}

// DeriveKey computes the object-store key for relPath: {userId}/hq/{path}.
// relPath is assumed already normalized (forward-slash, no leading slash).
func (u *Uploader) DeriveKey(relPath string) string {
	return u.cfg.UserID + "/hq/" + relPath
}

// Sessions returns a snapshot of all tracked upload sessions.
func (u *Uploader) Sessions() []UploadSession {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]UploadSession, 0, len(u.sessions))
	for _, s := range u.sessions {
		out = append(out, *s)
	}
	return out
}

// ProcessBatch runs every event in the batch through the spec §4.F
// pipeline, bounded to cfg.MaxConcurrentUploads in flight, and returns
// one UploadResult per event. Ordering across paths is not guaranteed;
// per-path ordering is the caller's (the Event Queue's) responsibility.
func (u *Uploader) ProcessBatch(ctx context.Context, events []model.FileEvent) []model.UploadResult {
	results := make([]model.UploadResult, len(events))

	var wg sync.WaitGroup
	for i, event := range events {
		i, event := i, event
		if err := u.sem.Acquire(ctx, 1); err != nil {
			results[i] = model.UploadResult{Success: false, EventType: event.Type, RelPath: event.RelativePath, ErrorMsg: err.Error()}
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer u.sem.Release(1)
			results[i] = u.processOne(ctx, event)
		}()
	}
	wg.Wait()

	return results
}

func (u *Uploader) processOne(ctx context.Context, event model.FileEvent) model.UploadResult {
	start := time.Now()
	result := model.UploadResult{EventType: event.Type, RelPath: event.RelativePath}

	var err error
	switch event.Type {
	case model.EventUnlink:
		err = u.handleUnlink(ctx, event)
	case model.EventUnlinkDir:
		err = u.handleUnlinkDir(ctx, event)
	case model.EventAddDir:
		err = u.handleAddDir(ctx, event)
	case model.EventAdd, model.EventChange:
		var sizeBytes int64
		sizeBytes, err = u.handleAddOrChange(ctx, event)
		result.SizeBytes = sizeBytes
	default:
		err = fmt.Errorf("uploader: unknown event type %q", event.Type)
	}

	result.DurationMs = time.Since(start).Milliseconds()
	if err != nil {
		result.Success = false
		result.ErrorMsg = err.Error()
		u.log.Error("upload failed", "path", event.RelativePath, "event", event.Type, "error", err)
	} else {
		result.Success = true
	}
	return result
}

func (u *Uploader) handleUnlink(ctx context.Context, event model.FileEvent) error {
	key := u.DeriveKey(event.RelativePath.String())
	if err := u.store.DeleteObject(ctx, key); err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

func (u *Uploader) handleUnlinkDir(ctx context.Context, event model.FileEvent) error {
	key := u.DeriveKey(event.RelativePath.String()) + "/"
	if err := u.store.DeleteObject(ctx, key); err != nil {
		return fmt.Errorf("delete directory marker %s: %w", key, err)
	}
	return nil
}

func (u *Uploader) handleAddDir(ctx context.Context, event model.FileEvent) error {
	key := u.DeriveKey(event.RelativePath.String()) + "/"
	metadata := map[string]string{"uploaded-by": u.cfg.UserID, "sync-agent-version": u.cfg.SyncAgentVersion}
	_, err := u.store.PutObject(ctx, key, emptyReader{}, 0, metadata, "application/x-directory")
	if err != nil {
		return fmt.Errorf("put directory marker %s: %w", key, err)
	}
	return nil
}

func (u *Uploader) handleAddOrChange(ctx context.Context, event model.FileEvent) (int64, error) {
	info, statErr := os.Stat(event.AbsolutePath)
	if statErr != nil {
		u.log.Debug("upload skipped: file vanished before upload", "path", event.RelativePath)
		return 0, nil
	}

	result, err := u.hash.Hash(event.AbsolutePath, info.Size(), info.ModTime().UnixNano())
	if err != nil {
		// A hashing failure does not stop the upload: the file is sent
		// as new, without a content hash in its metadata.
		u.log.Warn("hashing failed, uploading without content hash", "path", event.RelativePath, "error", err)
	}

	metadata := map[string]string{
		"content-hash":        result.Hash,
		"hash-algorithm":      string(result.Algorithm),
		"local-path":          event.RelativePath.String(),
		"last-modified-local": info.ModTime().UTC().Format(time.RFC3339),
		"uploaded-by":         u.cfg.UserID,
		"sync-agent-version":  u.cfg.SyncAgentVersion,
		"file-size":           strconv.FormatInt(info.Size(), 10),
	}

	key := u.DeriveKey(event.RelativePath.String())
	contentType := detectContentType(event.RelativePath.String())

	f, err := os.Open(event.AbsolutePath)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", event.AbsolutePath, err)
	}
	defer f.Close()

	session := u.beginSession(event.RelativePath.String(), info.Size())
	defer u.finishSession(session.ID)

	if info.Size() <= u.cfg.MultipartThresholdBytes {
		_, err = u.store.PutObject(ctx, key, f, info.Size(), metadata, contentType)
	} else {
		_, err = u.store.MultipartPut(ctx, key, f, info.Size(), u.cfg.MultipartPartSizeBytes, metadata, contentType,
			func(uploaded, total int64) {
				u.updateSessionProgress(session.ID, uploaded)
			})
	}

	if err != nil {
		u.failSession(session.ID, err)
		return info.Size(), fmt.Errorf("put %s: %w", key, err)
	}

	u.log.Info("uploaded", "path", event.RelativePath, "size", humanize.Bytes(uint64(info.Size())))
	return info.Size(), nil
}

func (u *Uploader) beginSession(relPath string, size int64) *UploadSession {
	s := &UploadSession{ID: uuid.NewString(), RelativePath: relPath, SizeBytes: size}
	u.mu.Lock()
	u.sessions[s.ID] = s
	u.mu.Unlock()
	return s
}

func (u *Uploader) updateSessionProgress(id string, uploaded int64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if s, ok := u.sessions[id]; ok {
		s.UploadedBytes = uploaded
	}
}

func (u *Uploader) finishSession(id string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if s, ok := u.sessions[id]; ok {
		s.Done = true
	}
}

func (u *Uploader) failSession(id string, err error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if s, ok := u.sessions[id]; ok {
		s.Done = true
		s.ErrorMsg = err.Error()
	}
}

type emptyReader struct{}

func (emptyReader) Read(p []byte) (int, error) { return 0, io.EOF }
