// Package changedetector lists remote objects under a user's HQ prefix
// and diffs them against the Sync State, the way the teacher's
// SyncEngine.getRemoteState plus reconcile (internal/client/sync/
// sync_engine.go) compares remote and journal state, generalized into
// the standalone added/modified/deleted classification spec §4.H
// describes.
package changedetector

import (
	"context"
	"log/slog"
	"strings"

	"github.com/indigoai-us/hq-sub008/internal/hqsync/ignoreengine"
	"github.com/indigoai-us/hq-sub008/internal/hqsync/model"
	"github.com/indigoai-us/hq-sub008/internal/hqsync/objectstore"
)

// IgnoreChecker is the subset of ignoreengine.Engine the detector needs.
type IgnoreChecker interface {
	Check(relPath string, isDir bool) ignoreengine.Decision
}

// StateReader is the subset of syncstate.Store the detector needs.
type StateReader interface {
	Get(relPath string) (model.SyncStateEntry, bool)
	All() []model.SyncStateEntry
}

// Config configures one Detect call.
type Config struct {
	Prefix            string // e.g. "{userId}/hq/"
	MaxListPages      int    // default 100, must be >= 1
	DeletedFilePolicy string // "keep" suppresses deleted changes
}

const defaultMaxListPages = 100

// WithDefaults fills zero-valued fields with spec §6 defaults.
func (cfg Config) WithDefaults() Config {
	if cfg.MaxListPages <= 0 {
		cfg.MaxListPages = defaultMaxListPages
	}
	return cfg
}

// Detector lists and classifies remote changes against the Sync State.
type Detector struct {
	store   objectstore.Store
	ignore  IgnoreChecker
	state   StateReader
	log     *slog.Logger
}

// New creates a Detector.
func New(store objectstore.Store, ignore IgnoreChecker, state StateReader, log *slog.Logger) *Detector {
	if log == nil {
		log = slog.Default()
	}
	return &Detector{store: store, ignore: ignore, state: state, log: log}
}

// Detect runs one change-detection pass per spec §4.H's algorithm.
func (d *Detector) Detect(ctx context.Context, cfg Config) ([]model.DetectedChange, error) {
	cfg = cfg.WithDefaults()

	var changes []model.DetectedChange
	seen := make(map[string]bool)

	token := ""
	pages := 0
	partial := false

	for {
		page, err := d.store.ListObjectsV2(ctx, cfg.Prefix, token)
		if err != nil {
			return nil, err
		}
		pages++

		for _, item := range page.Items {
			if strings.HasSuffix(item.Key, "/") {
				continue // directory marker
			}

			relPath := strings.TrimPrefix(item.Key, cfg.Prefix)
			if relPath == "" {
				continue
			}

			rp, err := model.NewRelativePath(relPath)
			if err != nil {
				d.log.Warn("changedetector: skipping invalid remote key", "key", item.Key, "error", err)
				continue
			}

			if d.ignore != nil && d.ignore.Check(rp.String(), false).Ignored {
				continue
			}

			seen[rp.String()] = true

			entry := model.SyncStateEntry{
				Key:            item.Key,
				RelativePath:   rp,
				LastModifiedMs: item.LastModifiedMs,
				SizeBytes:      item.SizeBytes,
				ETag:           item.ETag,
			}

			existing, ok := d.state.Get(rp.String())
			switch {
			case !ok:
				changes = append(changes, model.DetectedChange{Type: model.ChangeAdded, RelativePath: rp, Remote: &entry})
			case existing.LastModifiedMs != entry.LastModifiedMs || existing.ETag != entry.ETag:
				changes = append(changes, model.DetectedChange{
					Type: model.ChangeModified, RelativePath: rp, Remote: &entry,
					PreviousLastModifiedMs: existing.LastModifiedMs,
				})
			}
		}

		if page.NextToken == "" {
			break
		}
		if pages >= cfg.MaxListPages {
			d.log.Warn("changedetector: reached maxListPages, stopping listing early", "maxListPages", cfg.MaxListPages)
			partial = true
			break
		}
		token = page.NextToken
	}

	if !partial && cfg.DeletedFilePolicy != "keep" {
		for _, entry := range d.state.All() {
			if !seen[entry.RelativePath.String()] {
				changes = append(changes, model.DetectedChange{Type: model.ChangeDeleted, RelativePath: entry.RelativePath, Remote: nil})
			}
		}
	}

	return changes, nil
}
