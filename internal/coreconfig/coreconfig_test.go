package coreconfig

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigCreatesDefaultOnFirstRun(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, dir, cfg.Storage.DataDir)

	_, err = LoadConfig(dir)
	require.NoError(t, err)
}

func TestLoadConfigRoundTripsOverrides(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Storage.DataDir = dir
	cfg.Executor.SkipSimulation = true
	cfg.Coordinator.FollowerConcurrency = 8

	require.NoError(t, cfg.Save(filepath.Join(dir, ConfigFileName)))

	loaded, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.True(t, loaded.Executor.SkipSimulation)
	assert.Equal(t, 8, loaded.Coordinator.FollowerConcurrency)
}

func TestExecutorConfigMEVTipLamports(t *testing.T) {
	cfg := ExecutorConfig{MEVProtectionEnabled: false, MEVTipSOL: "0.0001"}
	lamports, err := cfg.MEVTipLamports()
	require.NoError(t, err)
	assert.Zero(t, lamports)

	cfg.MEVProtectionEnabled = true
	lamports, err = cfg.MEVTipLamports()
	require.NoError(t, err)
	assert.Equal(t, uint64(100_000), lamports)
}

func TestConfigPathExpandsHome(t *testing.T) {
	p := ConfigPath("~/subdir")
	assert.Contains(t, p, "subdir")
	assert.NotContains(t, p, "~")
}
