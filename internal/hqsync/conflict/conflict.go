// Package conflict detects and resolves simultaneous local/remote
// divergence on the same relative path, grounded on the teacher's
// sync_engine_conflict.go and sync_marker.go: a detected conflict is
// resolved by renaming the local file aside with a marker suffix, the
// way SetMarker(path, Conflict) does, generalized to spec §4.K's four
// named strategies and glob-based per-path overrides.
package conflict

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"

	"github.com/indigoai-us/hq-sub008/internal/hqsync/model"
)

// Check describes one divergence check's inputs, per spec §4.K.
type Check struct {
	RelativePath   model.RelativePath
	LocalHash      string
	RemoteHash     string // optional, empty if unknown
	RemoteETag     string
	LastSyncedHash string // empty means "never synced"
	LastSyncedETag string // empty means "never synced"
	LocalSizeBytes  int64
	RemoteSizeBytes int64
	LocalModTimeMs  int64
	RemoteModTimeMs int64
}

// Detector implements ConflictDetector.check per spec §4.K's exact
// local-changed/remote-changed formula.
type Detector struct{}

// NewDetector creates a Detector. It holds no state.
func NewDetector() *Detector { return &Detector{} }

// Check returns a new, unresolved SyncConflict when both sides changed
// since the last sync, or nil when there is no conflict.
func (d *Detector) Check(c Check, nowMs int64) *model.SyncConflict {
	localChanged := c.LastSyncedHash == "" || c.LocalHash != c.LastSyncedHash
	remoteChanged := c.LastSyncedETag == "" ||
		c.RemoteETag != c.LastSyncedETag ||
		(c.RemoteHash != "" && c.LastSyncedHash != "" && c.RemoteHash != c.LastSyncedHash)

	if !localChanged || !remoteChanged {
		return nil
	}

	return &model.SyncConflict{
		ID:           uuid.NewString(),
		RelativePath: c.RelativePath,
		Local: model.LocalConflictSide{
			Hash:           c.LocalHash,
			LastSyncedHash: c.LastSyncedHash,
			Size:           c.LocalSizeBytes,
			ModTimeMs:      c.LocalModTimeMs,
		},
		Remote: model.RemoteConflictSide{
			ETag:           c.RemoteETag,
			LastSyncedETag: c.LastSyncedETag,
			CurrentETag:    c.RemoteETag,
			Size:           c.RemoteSizeBytes,
			ModTimeMs:      c.RemoteModTimeMs,
			Hash:           c.RemoteHash,
		},
		Status:       model.ConflictDetected,
		DetectedAtMs: nowMs,
	}
}

// Config configures strategy selection and keep_both naming.
type Config struct {
	DefaultStrategy        model.ConflictStrategy
	StrategyOverrides      map[string]model.ConflictStrategy // glob -> strategy
	ConflictSuffix         string
	TimestampConflictFiles bool
}

const defaultConflictSuffix = ".conflict"

// WithDefaults fills zero-valued fields with spec §6 defaults.
func (cfg Config) WithDefaults() Config {
	if cfg.DefaultStrategy == "" {
		cfg.DefaultStrategy = model.StrategyKeepBoth
	}
	if cfg.ConflictSuffix == "" {
		cfg.ConflictSuffix = defaultConflictSuffix
	}
	return cfg
}

// SelectStrategy returns the strategy of a glob in StrategyOverrides
// that matches relPath, else DefaultStrategy. StrategyOverrides is a
// map, so when several globs match, which one applies is not defined.
func (cfg Config) SelectStrategy(relPath string) model.ConflictStrategy {
	strategy := cfg.DefaultStrategy
	for pattern, s := range cfg.StrategyOverrides {
		if ok, _ := doublestar.Match(pattern, relPath); ok {
			strategy = s
		}
	}
	return strategy
}

// ConflictFilePath computes the keep_both destination for localPath:
// {stem}.{timestampMs}.conflict{.ext}, with the timestamp segment
// omitted when cfg.TimestampConflictFiles is false. nowMs is supplied
// by the caller so Resolve stays deterministic and testable.
func ConflictFilePath(cfg Config, localPath string, nowMs int64) string {
	dir := filepath.Dir(localPath)
	base := filepath.Base(localPath)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	suffix := cfg.ConflictSuffix
	if cfg.TimestampConflictFiles {
		suffix = "." + strconv.FormatInt(nowMs, 10) + suffix
	}
	return filepath.Join(dir, stem+suffix+ext)
}

// Resolver implements ConflictResolver.resolve: given a strategy
// decision already applied by the Downloader (which performs the
// actual rename and download), it only finalizes the conflict's
// bookkeeping — status, resolvedAtMs, conflictFilePath — and does so
// idempotently per conflict ID.
type Resolver struct {
	mu       sync.Mutex
	resolved map[string]bool
}

// NewResolver creates a Resolver.
func NewResolver() *Resolver {
	return &Resolver{resolved: make(map[string]bool)}
}

// Resolve finalizes conflict in place. strategy=manual sets status to
// deferred instead of resolved, per spec §4.I. Calling Resolve twice
// for the same conflict ID is a no-op on the second call.
func (r *Resolver) Resolve(c *model.SyncConflict, strategy model.ConflictStrategy, conflictFilePath string, nowMs int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.resolved[c.ID] {
		return nil
	}

	switch strategy {
	case model.StrategyManual:
		c.Status = model.ConflictDeferred
	case model.StrategyKeepBoth, model.StrategyLocalWins, model.StrategyRemoteWins:
		c.Status = model.ConflictResolved
	default:
		return fmt.Errorf("conflict: unknown strategy %q", strategy)
	}

	c.Strategy = strategy
	c.ConflictFilePath = conflictFilePath
	c.ResolvedAtMs = nowMs
	r.resolved[c.ID] = true
	return nil
}
