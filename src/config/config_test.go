package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nhirsama/goster-pixy/src/inter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, inter.VendorID, cfg.USB.VendorID)
	assert.Equal(t, inter.ProductID, cfg.USB.ProductID)
	assert.Equal(t, 10*time.Millisecond, cfg.USB.Timeout)
	assert.Equal(t, inter.DefaultBlockCapacity, cfg.Session.BlockCapacity)
	assert.Equal(t, 100*time.Millisecond, cfg.Registry.SettleDelay)
	assert.Equal(t, "sqlite", cfg.Datastore.Driver)
	assert.Empty(t, cfg.NATS.URL)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pixy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
debug: true
session:
  block_capacity: 64
registry:
  max_devices: 2
monitor:
  interval: 20ms
  grab_frames: true
datastore:
  driver: pgx
  dsn: postgres://localhost/pixy
`), 0o600))

	t.Setenv("GOSTER_PIXY_REGISTRY_MAX_DEVICES", "3")
	t.Setenv("GOSTER_PIXY_NATS_URL", "nats://127.0.0.1:4222")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Debug)
	assert.Equal(t, 64, cfg.Session.BlockCapacity)
	assert.Equal(t, 3, cfg.Registry.MaxDevices)
	assert.Equal(t, 20*time.Millisecond, cfg.Monitor.Interval)
	assert.True(t, cfg.Monitor.GrabFrames)
	assert.Equal(t, "pgx", cfg.Datastore.Driver)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATS.URL)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("GOSTER_PIXY_SESSION_BLOCK_CAPACITY", "0")
	t.Setenv("GOSTER_PIXY_DATASTORE_DRIVER", "mysql")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "block_capacity")
	assert.Contains(t, err.Error(), "mysql")
}
