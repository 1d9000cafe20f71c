package config_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulfberto/zerocloud/internal/config"
)

func TestPrintServiceEnv(t *testing.T) {
	config := config.DefaultServiceConfigFromEnv()
	_, err := json.MarshalIndent(config, "", "  ")

	if err != nil {
		t.Fatal(err)
	}
}

func TestDefaultServiceConfigFromEnv(t *testing.T) {
	t.Setenv("ZC_NODE_ID", "node-a")
	t.Setenv("ZC_COORDINATOR", "true")
	t.Setenv("ZC_PEERS", "node-b@10.0.0.2:9090")
	t.Setenv("ZC_HEARTBEAT_INTERVAL", "2s")
	t.Setenv("ZC_HEARTBEAT_TIMEOUT", "6s")
	t.Setenv("ZC_LOG_LEVEL", "warn")

	cfg := config.DefaultServiceConfigFromEnv()
	assert.Equal(t, "node-a", cfg.Node.ID)
	assert.True(t, cfg.Node.Coordinator)
	assert.Equal(t, "node-b@10.0.0.2:9090", cfg.Node.Peers)
	assert.Equal(t, 2*time.Second, cfg.Heartbeat.Interval)
	assert.Equal(t, 6*time.Second, cfg.Heartbeat.Timeout)
	assert.Equal(t, 16*1024, cfg.Transfer.ChunkSize)
	assert.Equal(t, 32, cfg.Compute.TotalUnits)
	assert.Equal(t, zerolog.WarnLevel, cfg.Logger.Level)
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	t.Setenv("ZC_NODE_ID", "node-a")
	base := config.DefaultServiceConfigFromEnv()
	require.NoError(t, base.Validate())

	tooTight := base
	tooTight.Heartbeat.Timeout = 2 * base.Heartbeat.Interval
	assert.ErrorContains(t, tooTight.Validate(), "at least 3x")

	noChunks := base
	noChunks.Transfer.ChunkSize = 0
	assert.Error(t, noChunks.Validate())

	noUnits := base
	noUnits.Compute.TotalUnits = 0
	assert.Error(t, noUnits.Validate())
}

func TestLoadFile(t *testing.T) {
	t.Setenv("ZC_NODE_ID", "node-a")
	path := filepath.Join(t.TempDir(), "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
node:
  displayName: rack-3
  coordinator: true
heartbeat:
  interval: 1s
  timeout: 4s
compute:
  totalUnits: 48
  fallbackTimeout: 45s
logger:
  level: error
`), 0o600))

	cfg := config.DefaultServiceConfigFromEnv()
	require.NoError(t, config.LoadFile(path, &cfg))

	assert.Equal(t, "node-a", cfg.Node.ID)
	assert.Equal(t, "rack-3", cfg.Node.DisplayName)
	assert.True(t, cfg.Node.Coordinator)
	assert.Equal(t, time.Second, cfg.Heartbeat.Interval)
	assert.Equal(t, 4*time.Second, cfg.Heartbeat.Timeout)
	assert.Equal(t, 5*time.Second, cfg.Heartbeat.SweepInterval)
	assert.Equal(t, 48, cfg.Compute.TotalUnits)
	assert.Equal(t, 45*time.Second, cfg.Compute.FallbackTimeout)
	assert.Equal(t, zerolog.ErrorLevel, cfg.Logger.Level)

	assert.Error(t, config.LoadFile(filepath.Join(t.TempDir(), "missing.yaml"), &cfg))
}
