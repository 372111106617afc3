package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indigoai-us/hq-sub008/internal/hqsync/config"
)

func newTestRootCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "hqsyncd"}
	cmd.PersistentFlags().StringP("config", "c", config.DefaultConfigPath, "config file path")
	cmd.PersistentFlags().String("hq-dir", "", "HQ root directory (overrides config)")
	cmd.PersistentFlags().String("log-file", config.DefaultLogFile, "log file path")
	return cmd
}

func TestInitRequiresHQDirOnFirstRun(t *testing.T) {
	dir := t.TempDir()
	root := newTestRootCmd()
	root.AddCommand(newInitCmd())

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{
		"init",
		"--config", filepath.Join(dir, "config.json"),
	})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--hq-dir")
}

func TestInitScaffoldsWorkspaceAndWritesConfig(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")
	hqDir := filepath.Join(dir, "HQ")

	root := newTestRootCmd()
	root.AddCommand(newInitCmd())

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{
		"init",
		"--config", configPath,
		"--hq-dir", hqDir,
		"--user-id", "alice",
		"--bucket", "hq-bucket",
		"--region", "us-east-1",
	})

	require.NoError(t, root.Execute())

	_, err := os.Stat(configPath)
	require.NoError(t, err)

	loaded, err := config.LoadFromFile(configPath)
	require.NoError(t, err)
	assert.Equal(t, "alice", loaded.UserID)
	assert.Equal(t, "hq-bucket", loaded.Object.BucketName)

	info, err := os.Stat(hqDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestInitIsIdempotentOnSecondRun(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")
	hqDir := filepath.Join(dir, "HQ")

	runInit := func() (string, error) {
		root := newTestRootCmd()
		root.AddCommand(newInitCmd())
		var out bytes.Buffer
		root.SetOut(&out)
		root.SetErr(&out)
		root.SetArgs([]string{
			"init",
			"--config", configPath,
			"--hq-dir", hqDir,
			"--user-id", "alice",
			"--bucket", "hq-bucket",
			"--region", "us-east-1",
		})
		err := root.Execute()
		return out.String(), err
	}

	_, err := runInit()
	require.NoError(t, err)

	secondOut, err := runInit()
	require.NoError(t, err)
	assert.Contains(t, secondOut, "already initialized")
}
