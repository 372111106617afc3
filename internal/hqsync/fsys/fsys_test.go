package fsys

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMkdirRecursiveCreatesNestedPath(t *testing.T) {
	fs := NewMem()
	path := filepath.Join("a", "b", "c")

	require.NoError(t, fs.Mkdir(path, true))
	assert.True(t, fs.Exists(path))
}

func TestWriteFileAtomicCreatesParentAndContent(t *testing.T) {
	fs := NewMem()
	path := filepath.Join("dir", "file.txt")

	require.NoError(t, fs.WriteFileAtomic(path, []byte("hello")))
	assert.True(t, fs.Exists(path))

	info, err := fs.Stat(path)
	require.NoError(t, err)
	assert.EqualValues(t, 5, info.Size())
}

func TestWriteFileAtomicOverwritesExisting(t *testing.T) {
	fs := NewMem()
	path := "file.txt"

	require.NoError(t, fs.WriteFileAtomic(path, []byte("first")))
	require.NoError(t, fs.WriteFileAtomic(path, []byte("second-longer")))

	info, err := fs.Stat(path)
	require.NoError(t, err)
	assert.EqualValues(t, len("second-longer"), info.Size())
}

func TestRenameMovesFile(t *testing.T) {
	fs := NewMem()
	require.NoError(t, fs.WriteFileAtomic("a.txt", []byte("x")))

	require.NoError(t, fs.Rename("a.txt", "b.txt"))
	assert.False(t, fs.Exists("a.txt"))
	assert.True(t, fs.Exists("b.txt"))
}

func TestRemoveDeletesFile(t *testing.T) {
	fs := NewMem()
	require.NoError(t, fs.WriteFileAtomic("a.txt", []byte("x")))

	require.NoError(t, fs.Remove("a.txt"))
	assert.False(t, fs.Exists("a.txt"))
}

func TestExistsFalseForMissingPath(t *testing.T) {
	fs := NewMem()
	assert.False(t, fs.Exists("missing.txt"))
}

func TestUtimesDoesNotErrorOnMemFS(t *testing.T) {
	fs := NewMem()
	require.NoError(t, fs.WriteFileAtomic("a.txt", []byte("x")))

	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.NoError(t, fs.Utimes("a.txt", ts, ts))
}

func TestWalkVisitsAllEntries(t *testing.T) {
	fs := NewMem()
	require.NoError(t, fs.WriteFileAtomic(filepath.Join("root", "a.txt"), []byte("1")))
	require.NoError(t, fs.WriteFileAtomic(filepath.Join("root", "sub", "b.txt"), []byte("2")))

	var seen []string
	err := fs.Walk("root", func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			seen = append(seen, path)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, seen, 2)
}
