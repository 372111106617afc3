// Package fsys wraps github.com/spf13/afero behind a filesystem
// abstraction covering mkdir, writeFileAtomic, rename, remove, exists,
// stat, utimes and a recursive walk; it has no stream read or stream
// write operations. Grounded on the afero.Fs usage pattern the pack's Hugo deploy walker
// shows for a local-filesystem-to-remote-storage syncer. Swapping in
// afero.NewMemMapFs() in place of the OS-backed filesystem gives
// workspace setup and CLI scaffolding a hermetic test double without
// touching disk.
package fsys

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
)

// FS is the filesystem abstraction spec §6 names.
type FS interface {
	Mkdir(path string, recursive bool) error
	WriteFileAtomic(path string, content []byte) error
	Rename(oldPath, newPath string) error
	Remove(path string) error
	Exists(path string) bool
	Stat(path string) (os.FileInfo, error)
	Utimes(path string, atime, mtime time.Time) error
	Walk(root string, fn filepath.WalkFunc) error
}

// aferoFS adapts an afero.Fs to FS.
type aferoFS struct {
	fs afero.Fs
}

// NewLocal returns an FS backed by the real OS filesystem.
func NewLocal() FS {
	return &aferoFS{fs: afero.NewOsFs()}
}

// NewMem returns an in-memory FS, for tests and dry-run scaffolding.
func NewMem() FS {
	return &aferoFS{fs: afero.NewMemMapFs()}
}

func (a *aferoFS) Mkdir(path string, recursive bool) error {
	if recursive {
		return a.fs.MkdirAll(path, 0o755)
	}
	return a.fs.Mkdir(path, 0o755)
}

// WriteFileAtomic writes content to a sibling temp file, fsyncs it, and
// renames it into place, so readers never observe a partial write.
func (a *aferoFS) WriteFileAtomic(path string, content []byte) error {
	dir := filepath.Dir(path)
	if err := a.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("fsys: ensure parent dir %s: %w", dir, err)
	}

	tmp, err := afero.TempFile(a.fs, dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("fsys: create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		a.fs.Remove(tmpPath)
		return fmt.Errorf("fsys: write temp file: %w", err)
	}
	if syncer, ok := tmp.(interface{ Sync() error }); ok {
		_ = syncer.Sync()
	}
	if err := tmp.Close(); err != nil {
		a.fs.Remove(tmpPath)
		return fmt.Errorf("fsys: close temp file: %w", err)
	}

	if err := a.fs.Rename(tmpPath, path); err != nil {
		a.fs.Remove(tmpPath)
		return fmt.Errorf("fsys: rename temp file into place: %w", err)
	}
	return nil
}

func (a *aferoFS) Rename(oldPath, newPath string) error {
	return a.fs.Rename(oldPath, newPath)
}

func (a *aferoFS) Remove(path string) error {
	return a.fs.Remove(path)
}

func (a *aferoFS) Exists(path string) bool {
	_, err := a.fs.Stat(path)
	return err == nil
}

func (a *aferoFS) Stat(path string) (os.FileInfo, error) {
	return a.fs.Stat(path)
}

// Utimes restores a file's access/modification times through afero's
// Chtimes. MemMapFs records only the modification time and returns an
// error for a path that does not exist.
func (a *aferoFS) Utimes(path string, atime, mtime time.Time) error {
	return a.fs.Chtimes(path, atime, mtime)
}

func (a *aferoFS) Walk(root string, fn filepath.WalkFunc) error {
	return afero.Walk(a.fs, root, fn)
}
