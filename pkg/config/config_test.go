package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, EngineMemory, cfg.Engine)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runedb.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
engine: badger
data_dir: /tmp/runedb
sync_writes: true
log:
  level: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, EngineBadger, cfg.Engine)
	assert.Equal(t, "/tmp/runedb", cfg.DataDir)
	assert.True(t, cfg.SyncWrites)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Keys absent from the file keep their defaults.
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runedb.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine: memory\n"), 0o644))

	t.Setenv("RUNEDB_ENGINE", EngineBadger)
	t.Setenv("RUNEDB_DATA_DIR", "/var/lib/runedb")
	t.Setenv("RUNEDB_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, EngineBadger, cfg.Engine)
	assert.Equal(t, "/var/lib/runedb", cfg.DataDir)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestValidateRejectsUnknownEngine(t *testing.T) {
	t.Setenv("RUNEDB_ENGINE", "sqlite")
	_, err := Load("")
	assert.ErrorContains(t, err, "unknown engine")
}

func TestValidateBadgerNeedsDataDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runedb.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine: badger\ndata_dir: \"\"\n"), 0o644))

	_, err := Load(path)
	assert.ErrorContains(t, err, "data_dir")
}
