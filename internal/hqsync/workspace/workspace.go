// Package workspace resolves and locks the HQ root, the configured
// local directory mirrored to the object store (spec's GLOSSARY entry
// for "HQ root"). Grounded on the teacher's internal/client/workspace
// package: path resolution via ~ expansion plus filepath.Abs, a
// gofrs/flock lockfile under a metadata subdirectory preventing two
// instances from syncing the same root concurrently, generalized from
// syftbox's datasites/apps/ACL layout down to the single-tree HQ root
// plus its two reserved system paths (sync state file, trash dir).
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"

	"github.com/indigoai-us/hq-sub008/internal/hqsync/fsys"
)

const (
	metadataDirName = ".hq-sync"
	lockFileName    = "lock"
	stateFileName   = ".hq-sync-state.json"
	trashDirName    = ".hq-trash"
)

// ErrLocked is returned by Lock when another process already holds the
// workspace's lockfile.
var ErrLocked = errors.New("workspace: locked by another process")

// Workspace resolves the HQ root and its reserved system paths, and
// guards exclusive access to the root with a filesystem lockfile.
type Workspace struct {
	Root         string
	MetadataDir  string
	StateFile    string
	TrashDir     string

	fs    fsys.FS
	flock *flock.Flock
}

// New resolves rootDir (expanding ~ and relative paths to an absolute,
// cleaned path) and prepares its reserved system paths. It does not
// touch disk; call EnsureLayout to create directories and Lock to
// acquire exclusive access.
func New(rootDir string) (*Workspace, error) {
	return NewWithFS(rootDir, fsys.NewLocal())
}

// NewWithFS is New with an injectable fsys.FS, so callers (init
// scaffolding, tests) can run hermetically against fsys.NewMem()
// instead of the real disk. The lockfile itself always goes through
// gofrs/flock against a real OS path — flock has no in-memory mode,
// and a workspace that never leaves memory has nothing to lock against
// anyway.
func NewWithFS(rootDir string, fs fsys.FS) (*Workspace, error) {
	root, err := resolvePath(rootDir)
	if err != nil {
		return nil, fmt.Errorf("workspace: resolve root %s: %w", rootDir, err)
	}

	metadataDir := filepath.Join(root, metadataDirName)
	lockPath := filepath.Join(metadataDir, lockFileName)

	return &Workspace{
		Root:        root,
		MetadataDir: metadataDir,
		StateFile:   filepath.Join(root, stateFileName),
		TrashDir:    filepath.Join(root, trashDirName),
		fs:          fs,
		flock:       flock.New(lockPath),
	}, nil
}

// EnsureLayout creates the HQ root itself and its reserved metadata
// directory, failing per spec §7's "configured root does not exist" if
// the root's parent is also missing.
func (w *Workspace) EnsureLayout() error {
	if parent := filepath.Dir(w.Root); !w.fs.Exists(parent) {
		return fmt.Errorf("workspace: parent of root %s does not exist: %s", w.Root, parent)
	}
	if err := w.fs.Mkdir(w.Root, true); err != nil {
		return fmt.Errorf("workspace: ensure root %s: %w", w.Root, err)
	}
	if err := w.fs.Mkdir(w.MetadataDir, true); err != nil {
		return fmt.Errorf("workspace: ensure metadata dir %s: %w", w.MetadataDir, err)
	}
	return nil
}

// Lock acquires the workspace's exclusive lockfile, creating the
// metadata directory first if needed. Returns ErrLocked if another
// process already holds it.
func (w *Workspace) Lock() error {
	if err := w.fs.Mkdir(w.MetadataDir, true); err != nil {
		return fmt.Errorf("workspace: ensure metadata dir %s: %w", w.MetadataDir, err)
	}

	locked, err := w.flock.TryLock()
	if err != nil {
		return fmt.Errorf("workspace: lock: %w", err)
	}
	if !locked {
		return ErrLocked
	}
	return nil
}

// Unlock releases the lockfile and removes it. A no-op if this process
// never acquired the lock.
func (w *Workspace) Unlock() error {
	if !w.flock.Locked() {
		return nil
	}
	if err := w.flock.Unlock(); err != nil {
		return fmt.Errorf("workspace: unlock: %w", err)
	}
	return os.Remove(w.flock.Path())
}

// RootExists reports whether the HQ root directory already exists.
func (w *Workspace) RootExists() bool {
	info, err := w.fs.Stat(w.Root)
	return err == nil && info.IsDir()
}

func resolvePath(path string) (string, error) {
	if path == "" {
		return "", errors.New("path cannot be empty")
	}

	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", errors.New("failed to resolve home directory")
		}
		path = strings.Replace(path, "~", home, 1)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.Clean(abs), nil
}
