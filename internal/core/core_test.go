package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copytrade/engine/internal/coreconfig"
)

func testConfig(t *testing.T) *coreconfig.Config {
	t.Helper()
	cfg := coreconfig.DefaultConfig()
	cfg.Storage.DataDir = t.TempDir()
	cfg.Storage.ConfigStoreDSN = "followers.db"
	cfg.RPC.HTTPEndpoint = "http://127.0.0.1:0"
	cfg.RPC.WebsocketEndpoint = "ws://127.0.0.1:0"
	cfg.RPC.DevMnemonic = ""
	cfg.Fanout.Enabled = false
	return cfg
}

func TestNewWiresEveryCollaborator(t *testing.T) {
	c, err := New(context.Background(), testConfig(t))
	require.NoError(t, err)
	defer c.Close()

	assert.NotNil(t, c.RPC)
	assert.NotNil(t, c.Signer)
	assert.NotNil(t, c.Storage)
	assert.NotNil(t, c.ConfigStore)
	assert.NotNil(t, c.Ingress)
	assert.NotNil(t, c.Analyzer)
	assert.NotNil(t, c.Executor)
	assert.NotNil(t, c.Coordinator)
	assert.NotNil(t, c.Sink)
}

func TestPauseResumeReflectsCoordinatorState(t *testing.T) {
	c, err := New(context.Background(), testConfig(t))
	require.NoError(t, err)
	defer c.Close()

	assert.False(t, c.Paused())
	c.Pause()
	assert.True(t, c.Paused())
	c.Resume()
	assert.False(t, c.Paused())
}

func TestDrainReturnsImmediatelyWithNoInFlightPlans(t *testing.T) {
	c, err := New(context.Background(), testConfig(t))
	require.NoError(t, err)
	defer c.Close()

	err = c.Drain(context.Background())
	assert.NoError(t, err)
}

func TestCountOutcomesByStatusStartsAtZero(t *testing.T) {
	c, err := New(context.Background(), testConfig(t))
	require.NoError(t, err)
	defer c.Close()

	n, err := c.CountOutcomesByStatus("landed")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
