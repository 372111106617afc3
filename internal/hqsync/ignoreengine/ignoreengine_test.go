package ignoreengine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsIgnoreReservedPaths(t *testing.T) {
	e := New(t.TempDir())

	d := e.Check(".hq-sync-state.json", false)
	assert.True(t, d.Ignored)
	assert.NotEmpty(t, d.MatchedRule)

	d = e.Check(".hq-trash/foo.txt", false)
	assert.True(t, d.Ignored)

	d = e.Check("notes.txt", false)
	assert.False(t, d.Ignored)
}

func TestNegationReIncludes(t *testing.T) {
	e := New(t.TempDir())
	require.NoError(t, e.Reload([]string{"*.log", "!important.log"}))

	assert.True(t, e.Check("debug.log", false).Ignored)

	d := e.Check("important.log", false)
	assert.False(t, d.Ignored)
	assert.Contains(t, d.Reason, "negation")
}

func TestLastMatchWins(t *testing.T) {
	e := New(t.TempDir())
	require.NoError(t, e.Reload([]string{"build/", "!build/keep/"}))

	assert.True(t, e.Check("build/output.bin", false).Ignored)
	assert.False(t, e.Check("build/keep", true).Ignored)
}

func TestDirOnlyRuleDoesNotMatchFile(t *testing.T) {
	e := New(t.TempDir())
	require.NoError(t, e.Reload([]string{"cache/"}))

	assert.False(t, e.Check("cache", false).Ignored)
	assert.True(t, e.Check("cache", true).Ignored)
	assert.True(t, e.Check("cache/entry.bin", false).Ignored)
}

func TestLoadReadsHqIgnoreFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hqignore"), []byte("# comment\nsecrets/\n"), 0o644))

	e := New(dir)
	require.NoError(t, e.Load())

	assert.True(t, e.Check("secrets/token.txt", false).Ignored)
}

func TestReloadIsAtomicUnderConcurrentChecks(t *testing.T) {
	e := New(t.TempDir())
	done := make(chan struct{})

	go func() {
		for i := 0; i < 500; i++ {
			e.Check("anything/path.txt", false)
		}
		close(done)
	}()

	for i := 0; i < 50; i++ {
		require.NoError(t, e.Reload([]string{"anything/"}))
	}
	<-done
}
