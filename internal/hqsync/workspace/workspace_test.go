package workspace

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indigoai-us/hq-sub008/internal/hqsync/fsys"
)

func TestNewResolvesRelativeRootToAbsolute(t *testing.T) {
	w, err := New(".")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(w.Root))
}

func TestNewRejectsEmptyRoot(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}

func TestNewDerivesReservedSystemPaths(t *testing.T) {
	root := t.TempDir()
	w, err := New(root)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(w.Root, ".hq-sync-state.json"), w.StateFile)
	assert.Equal(t, filepath.Join(w.Root, ".hq-trash"), w.TrashDir)
}

func TestEnsureLayoutCreatesRootAndMetadataDir(t *testing.T) {
	root := filepath.Join(t.TempDir(), "hq")
	w, err := New(root)
	require.NoError(t, err)

	require.NoError(t, w.EnsureLayout())
	assert.DirExists(t, w.Root)
	assert.DirExists(t, w.MetadataDir)
}

func TestRootExistsReflectsDiskState(t *testing.T) {
	root := filepath.Join(t.TempDir(), "hq")
	w, err := New(root)
	require.NoError(t, err)

	assert.False(t, w.RootExists())
	require.NoError(t, w.EnsureLayout())
	assert.True(t, w.RootExists())
}

func TestLockPreventsSecondInstance(t *testing.T) {
	root := t.TempDir()
	w1, err := New(root)
	require.NoError(t, err)
	w2, err := New(root)
	require.NoError(t, err)

	require.NoError(t, w1.Lock())
	t.Cleanup(func() { _ = w1.Unlock() })

	err = w2.Lock()
	assert.ErrorIs(t, err, ErrLocked)
}

func TestUnlockAllowsReacquisition(t *testing.T) {
	root := t.TempDir()
	w1, err := New(root)
	require.NoError(t, err)
	w2, err := New(root)
	require.NoError(t, err)

	require.NoError(t, w1.Lock())
	require.NoError(t, w1.Unlock())

	require.NoError(t, w2.Lock())
	t.Cleanup(func() { _ = w2.Unlock() })
}

func TestUnlockWithoutLockIsNoop(t *testing.T) {
	root := t.TempDir()
	w, err := New(root)
	require.NoError(t, err)

	assert.NoError(t, w.Unlock())
}

func TestEnsureLayoutAgainstMemFSTouchesNoRealDisk(t *testing.T) {
	w, err := NewWithFS("/hq", fsys.NewMem())
	require.NoError(t, err)

	assert.False(t, w.RootExists())
	require.NoError(t, w.EnsureLayout())
	assert.True(t, w.RootExists())
	assert.NoDirExists(t, w.Root)
}
