package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indigoai-us/hq-sub008/internal/hqsync/config"
)

func TestLoadConfigHQDirFlagOverridesFile(t *testing.T) {
	dir := t.TempDir()
	configPath := writeTestConfig(t, dir)

	overrideDir := filepath.Join(dir, "other-HQ")

	root := newTestRootCmd()
	require.NoError(t, root.PersistentFlags().Set("config", configPath))
	require.NoError(t, root.PersistentFlags().Set("hq-dir", overrideDir))

	cfg, err := loadConfig(root)
	require.NoError(t, err)
	assert.Equal(t, overrideDir, cfg.HQDir)
}

func TestLoadConfigEnvOverrideWinsOverFlag(t *testing.T) {
	dir := t.TempDir()
	configPath := writeTestConfig(t, dir)

	flagDir := filepath.Join(dir, "flag-HQ")
	envDir := filepath.Join(dir, "env-HQ")
	t.Setenv("HQ_DIR", envDir)

	root := newTestRootCmd()
	require.NoError(t, root.PersistentFlags().Set("config", configPath))
	require.NoError(t, root.PersistentFlags().Set("hq-dir", flagDir))

	cfg, err := loadConfig(root)
	require.NoError(t, err)
	assert.Equal(t, envDir, cfg.HQDir)
}

func TestLoadConfigRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")

	bad := &config.Config{Path: configPath}
	require.NoError(t, bad.Save())

	root := newTestRootCmd()
	require.NoError(t, root.PersistentFlags().Set("config", configPath))

	_, err := loadConfig(root)
	require.Error(t, err)
}
