// Package downloader materializes DetectedChanges locally: streams
// object bodies to a temp sibling file before an atomic rename,
// consults the Conflict Subsystem when both sides have diverged, and
// applies the configured deletion policy for remotely-deleted
// objects. Grounded on the teacher's downloadBatchUnique/
// copyLocalWithTmp/prepareDownloadTarget (internal/client/sync/
// sync_engine_download.go), generalized from the teacher's S3-SDK-
// specific presigned-URL pipeline to the pluggable objectstore.Store
// abstraction and spec §4.I's explicit per-strategy dispatch.
package downloader

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/indigoai-us/hq-sub008/internal/hqsync/conflict"
	"github.com/indigoai-us/hq-sub008/internal/hqsync/filehash"
	"github.com/indigoai-us/hq-sub008/internal/hqsync/model"
	"github.com/indigoai-us/hq-sub008/internal/hqsync/objectstore"
)

// Store is the subset of objectstore.Store the Downloader needs.
type Store interface {
	GetObject(ctx context.Context, key string) (objectstore.GetObjectResult, error)
}

// Hasher is the subset of filehash.CachingHasher the Downloader needs.
type Hasher interface {
	Hash(absPath string, sizeBytes int64, modTimeUnixNano int64) (filehash.Result, error)
}

// StateStore is the subset of syncstate.Store the Downloader needs.
type StateStore interface {
	Get(relPath string) (model.SyncStateEntry, bool)
	Upsert(entry model.SyncStateEntry) error
	Remove(relPath string) error
}

// ConflictChecker is the subset of conflict.Detector the Downloader needs.
type ConflictChecker interface {
	Check(c conflict.Check, nowMs int64) *model.SyncConflict
}

// ConflictFinalizer is the subset of conflict.Resolver the Downloader needs.
type ConflictFinalizer interface {
	Resolve(c *model.SyncConflict, strategy model.ConflictStrategy, conflictFilePath string, nowMs int64) error
}

// ConflictSink receives every SyncConflict the Downloader detects, so
// callers can log it (conflict.Log.Add) without the Downloader owning
// that dependency directly.
type ConflictSink interface {
	Add(c model.SyncConflict)
}

// Downloader materializes a batch of DetectedChanges locally.
type Downloader struct {
	cfg        Config
	conflicts  conflict.Config
	store      Store
	hash       Hasher
	state      StateStore
	detector   ConflictChecker
	resolver   ConflictFinalizer
	sink       ConflictSink
	log        *slog.Logger
	sem        *semaphore.Weighted
	nowMs      func() int64
}

// New creates a Downloader. sink may be nil to discard detected
// conflicts. nowMs defaults to time.Now().UnixMilli when nil.
func New(cfg Config, conflicts conflict.Config, store Store, hash Hasher, state StateStore,
	detector ConflictChecker, resolver ConflictFinalizer, sink ConflictSink, log *slog.Logger, nowMs func() int64) *Downloader {
	cfg = cfg.WithDefaults()
	conflicts = conflicts.WithDefaults()
	if log == nil {
		log = slog.Default()
	}
	if nowMs == nil {
		nowMs = func() int64 { return time.Now().UnixMilli() }
	}
	return &Downloader{
		cfg:       cfg,
		conflicts: conflicts,
		store:     store,
		hash:      hash,
		state:     state,
		detector:  detector,
		resolver:  resolver,
		sink:      sink,
		log:       log,
		sem:       semaphore.NewWeighted(int64(cfg.MaxConcurrentDownloads)),
		nowMs:     nowMs,
	}
}

// downloadCache shares one object fetch across every DetectedChange in
// a batch that points at byte-identical remote content (same ETag),
// so a rename/copy fan-out of the same file to many paths triggers one
// GetObject call instead of one per path.
type downloadCache struct {
	mu     sync.Mutex
	bodies map[string]*cachedBody
}

type cachedBody struct {
	once         sync.Once
	data         []byte
	lastModified int64
	err          error
}

func newDownloadCache() *downloadCache {
	return &downloadCache{bodies: make(map[string]*cachedBody)}
}

// dedupKey returns the cache key, or "" when remote carries no ETag to
// dedup on — in that case every caller gets its own cachedBody and no
// sharing happens, which is always safe.
func dedupKey(remote *model.SyncStateEntry) string {
	if remote == nil || remote.ETag == "" {
		return ""
	}
	return remote.ETag
}

func (d *Downloader) fetchBody(ctx context.Context, key, cacheKey string, cache *downloadCache) ([]byte, int64, error) {
	if cache == nil || cacheKey == "" {
		return d.fetchFromStore(ctx, key)
	}

	cache.mu.Lock()
	cb, ok := cache.bodies[cacheKey]
	if !ok {
		cb = &cachedBody{}
		cache.bodies[cacheKey] = cb
	}
	cache.mu.Unlock()

	cb.once.Do(func() {
		cb.data, cb.lastModified, cb.err = d.fetchFromStore(ctx, key)
	})
	return cb.data, cb.lastModified, cb.err
}

func (d *Downloader) fetchFromStore(ctx context.Context, key string) ([]byte, int64, error) {
	obj, err := d.store.GetObject(ctx, key)
	if err != nil {
		return nil, 0, err
	}
	defer obj.Body.Close()

	data, err := io.ReadAll(obj.Body)
	if err != nil {
		return nil, 0, err
	}
	return data, obj.LastModified, nil
}

// ProcessBatch materializes every change in changes, bounded to
// cfg.MaxConcurrentDownloads in flight, and returns one DownloadResult
// per change. Per-change failures do not abort the rest of the batch.
// Changes that share remote content (same ETag) are fetched from the
// object store only once for the whole batch.
func (d *Downloader) ProcessBatch(ctx context.Context, changes []model.DetectedChange) []model.DownloadResult {
	results := make([]model.DownloadResult, len(changes))
	cache := newDownloadCache()

	var wg sync.WaitGroup
	for i, change := range changes {
		i, change := i, change
		if err := d.sem.Acquire(ctx, 1); err != nil {
			results[i] = model.DownloadResult{Success: false, ChangeType: change.Type, RelPath: change.RelativePath, ErrorMsg: err.Error()}
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer d.sem.Release(1)
			results[i] = d.processOne(ctx, change, cache)
		}()
	}
	wg.Wait()

	return results
}

func (d *Downloader) processOne(ctx context.Context, change model.DetectedChange, cache *downloadCache) model.DownloadResult {
	start := time.Now()
	result := model.DownloadResult{ChangeType: change.Type, RelPath: change.RelativePath}

	var err error
	switch change.Type {
	case model.ChangeAdded, model.ChangeModified:
		var size int64
		size, err = d.handleAddedOrModified(ctx, change, cache)
		result.SizeBytes = size
	case model.ChangeDeleted:
		err = d.handleDeleted(change)
	default:
		err = fmt.Errorf("downloader: unknown change type %q", change.Type)
	}

	result.DurationMs = time.Since(start).Milliseconds()
	if err != nil {
		result.Success = false
		result.ErrorMsg = err.Error()
		d.log.Error("download failed", "path", change.RelativePath, "change", change.Type, "error", err)
	} else {
		result.Success = true
	}
	return result
}

func (d *Downloader) handleAddedOrModified(ctx context.Context, change model.DetectedChange, cache *downloadCache) (int64, error) {
	if change.Remote == nil {
		return 0, fmt.Errorf("downloader: change %s has no remote record", change.RelativePath)
	}
	remote := change.Remote
	localPath := filepath.Join(d.cfg.LocalDir, filepath.FromSlash(change.RelativePath.String()))

	strategy, localConflictSide, hadConflict, err := d.checkConflict(localPath, change.RelativePath, remote)
	if err != nil {
		return 0, err
	}

	if hadConflict {
		switch strategy {
		case model.StrategyLocalWins:
			// Skip the download; state still advances so we don't re-detect next cycle.
			return 0, d.advanceState(change.RelativePath, remote, localConflictSide)
		case model.StrategyManual:
			// Leave local untouched, conflict already recorded as deferred by checkConflict.
			return 0, nil
		case model.StrategyKeepBoth:
			conflictPath := conflict.ConflictFilePath(d.conflicts, localPath, d.nowMs())
			if err := os.Rename(localPath, conflictPath); err != nil && !os.IsNotExist(err) {
				return 0, fmt.Errorf("rename local to conflict path %s -> %s: %w", localPath, conflictPath, err)
			}
			// fall through to download
		case model.StrategyRemoteWins:
			// fall through to download
		}
	}

	size, hash, err := d.download(ctx, remote.Key, localPath, remote.SizeBytes, dedupKey(remote), cache)
	if err != nil {
		return size, err
	}

	updated := *remote
	updated.LastSyncedHash = hash
	if err := d.state.Upsert(updated); err != nil {
		return size, fmt.Errorf("update sync state for %s: %w", change.RelativePath, err)
	}

	return size, nil
}

// checkConflict computes the local conflict side (if the local file
// exists) and consults the Conflict Subsystem. It returns the strategy
// to apply, the local side used for the check, whether a conflict was
// found, and any hashing or resolution error. A failing os.Stat counts
// as "no local file" and is not returned.
func (d *Downloader) checkConflict(localPath string, relPath model.RelativePath, remote *model.SyncStateEntry) (model.ConflictStrategy, model.LocalConflictSide, bool, error) {
	info, statErr := os.Stat(localPath)
	if statErr != nil {
		return "", model.LocalConflictSide{}, false, nil // no local file, nothing to conflict with
	}

	existing, _ := d.state.Get(relPath.String())

	localHash, err := d.hash.Hash(localPath, info.Size(), info.ModTime().UnixNano())
	if err != nil {
		return "", model.LocalConflictSide{}, false, fmt.Errorf("hash local file %s: %w", localPath, err)
	}

	check := conflict.Check{
		RelativePath:    relPath,
		LocalHash:       localHash.Hash,
		RemoteETag:      remote.ETag,
		LastSyncedHash:  existing.LastSyncedHash,
		LastSyncedETag:  existing.ETag,
		LocalSizeBytes:  info.Size(),
		RemoteSizeBytes: remote.SizeBytes,
		LocalModTimeMs:  info.ModTime().UnixMilli(),
		RemoteModTimeMs: remote.LastModifiedMs,
	}

	c := d.detector.Check(check, d.nowMs())
	if c == nil {
		return "", model.LocalConflictSide{}, false, nil
	}

	strategy := d.conflicts.SelectStrategy(relPath.String())
	conflictPath := ""
	if strategy == model.StrategyKeepBoth {
		conflictPath = conflict.ConflictFilePath(d.conflicts, localPath, d.nowMs())
	}
	if err := d.resolver.Resolve(c, strategy, conflictPath, d.nowMs()); err != nil {
		return "", model.LocalConflictSide{}, false, fmt.Errorf("resolve conflict for %s: %w", relPath, err)
	}
	if d.sink != nil {
		d.sink.Add(*c)
	}

	return strategy, c.Local, true, nil
}

// advanceState records remote's record as synced without touching the
// local file, used by the local_wins strategy.
func (d *Downloader) advanceState(relPath model.RelativePath, remote *model.SyncStateEntry, local model.LocalConflictSide) error {
	updated := *remote
	updated.LastSyncedHash = local.Hash
	return d.state.Upsert(updated)
}

func (d *Downloader) download(ctx context.Context, key, localPath string, expectedSizeBytes int64, cacheKey string, cache *downloadCache) (int64, string, error) {
	data, lastModified, err := d.fetchBody(ctx, key, cacheKey, cache)
	if err != nil {
		return 0, "", fmt.Errorf("get object %s: %w", key, err)
	}

	parentDir := filepath.Dir(localPath)
	if err := moveAsideIfFile(d.conflicts, parentDir, d.nowMs()); err != nil {
		return 0, "", fmt.Errorf("resolve file/directory collision at %s: %w", parentDir, err)
	}
	if err := os.MkdirAll(parentDir, 0o755); err != nil {
		return 0, "", fmt.Errorf("create parent dir for %s: %w", localPath, err)
	}

	tmp, err := os.CreateTemp(parentDir, filepath.Base(localPath)+".tmp.*")
	if err != nil {
		return 0, "", fmt.Errorf("create temp file for %s: %w", localPath, err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	written, err := tmp.Write(data)
	if err != nil {
		return int64(written), "", fmt.Errorf("write temp file for %s: %w", localPath, err)
	}
	if expectedSizeBytes > 0 && int64(written) != expectedSizeBytes {
		return int64(written), "", fmt.Errorf("write temp file for %s: got %d bytes, expected %d", localPath, written, expectedSizeBytes)
	}
	if err := tmp.Sync(); err != nil {
		return int64(written), "", fmt.Errorf("sync temp file for %s: %w", localPath, err)
	}
	if err := tmp.Close(); err != nil {
		return int64(written), "", fmt.Errorf("close temp file for %s: %w", localPath, err)
	}

	if d.cfg.PreserveTimestamps && lastModified != 0 {
		mtime := time.UnixMilli(lastModified)
		if err := os.Chtimes(tmpPath, mtime, mtime); err != nil {
			return int64(written), "", fmt.Errorf("restore mtime for %s: %w", localPath, err)
		}
	}

	if err := os.Rename(tmpPath, localPath); err != nil {
		return int64(written), "", fmt.Errorf("rename %s -> %s: %w", tmpPath, localPath, err)
	}
	success = true

	finalInfo, err := os.Stat(localPath)
	if err != nil {
		return int64(written), "", fmt.Errorf("stat downloaded file %s: %w", localPath, err)
	}
	result, err := d.hash.Hash(localPath, finalInfo.Size(), finalInfo.ModTime().UnixNano())
	if err != nil {
		return int64(written), "", fmt.Errorf("hash downloaded file %s: %w", localPath, err)
	}

	return int64(written), result.Hash, nil
}

// moveAsideIfFile handles a download target whose parent path is
// itself a plain file rather than a directory (e.g. a remote rename
// turned "notes" from a file into a directory containing "notes/a.md").
// The stale file is preserved under a conflict marker instead of being
// silently clobbered by the MkdirAll that follows.
func moveAsideIfFile(cfg conflict.Config, path string, nowMs int64) error {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return nil
	}
	conflictPath := conflict.ConflictFilePath(cfg, path, nowMs)
	return os.Rename(path, conflictPath)
}

func (d *Downloader) handleDeleted(change model.DetectedChange) error {
	localPath := filepath.Join(d.cfg.LocalDir, filepath.FromSlash(change.RelativePath.String()))

	switch d.cfg.DeletedFilePolicy {
	case PolicyKeep:
		// no-op
	case PolicyDelete:
		if err := os.Remove(localPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("delete local file %s: %w", localPath, err)
		}
		pruneEmptyParentDirs(filepath.Dir(localPath), d.cfg.LocalDir)
	case PolicyTrash:
		if d.cfg.TrashDir == "" {
			return fmt.Errorf("downloader: deletedFilePolicy=trash requires trashDir")
		}
		trashPath := filepath.Join(d.cfg.TrashDir, filepath.FromSlash(change.RelativePath.String()))
		if err := os.MkdirAll(filepath.Dir(trashPath), 0o755); err != nil {
			return fmt.Errorf("create trash parent dir for %s: %w", trashPath, err)
		}
		if err := os.Rename(localPath, trashPath); err != nil {
			if os.IsNotExist(err) {
				break
			}
			return fmt.Errorf("move %s to trash %s: %w", localPath, trashPath, err)
		}
	default:
		return fmt.Errorf("downloader: unknown deletedFilePolicy %q", d.cfg.DeletedFilePolicy)
	}

	if err := d.state.Remove(change.RelativePath.String()); err != nil {
		return fmt.Errorf("remove sync state entry for %s: %w", change.RelativePath, err)
	}
	return nil
}

// pruneEmptyParentDirs removes dir and each of its ancestors, stopping
// at root or at the first non-empty directory, so a deleted file
// doesn't leave a trail of empty directories behind under the HQ root.
// Best-effort: any error (e.g. permissions, a concurrent writer) just
// stops the walk early, since this is cleanup, not the operation the
// caller's result depends on.
func pruneEmptyParentDirs(dir, root string) {
	root = filepath.Clean(root)
	for {
		dir = filepath.Clean(dir)
		if dir == root || dir == "." || dir == string(filepath.Separator) {
			return
		}
		rel, err := filepath.Rel(root, dir)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return
		}

		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}
