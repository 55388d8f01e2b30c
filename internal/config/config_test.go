package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 5432, cfg.TCPPort)
	assert.Equal(t, SSLDisable, cfg.SSLMode)
	assert.Equal(t, 1000, cfg.MaxBufferedRows)
}

func TestLoadAppliesFileOverrides(t *testing.T) {
	path := writeConfig(t, `
project = my-project
instance = my-instance
database = my-database
port = 5433
ssl = require
max_buffered_rows = 500
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "my-project", cfg.Project)
	assert.Equal(t, "my-instance", cfg.Instance)
	assert.Equal(t, "my-database", cfg.Database)
	assert.Equal(t, 5433, cfg.TCPPort)
	assert.Equal(t, SSLRequire, cfg.SSLMode)
	assert.Equal(t, 500, cfg.MaxBufferedRows)
}

func TestNewWatcherReloadsOnWrite(t *testing.T) {
	path := writeConfig(t, `project = first`)

	w, err := NewWatcher(path, nil)
	require.NoError(t, err)
	defer w.Close()

	assert.Equal(t, "first", w.Current().Project)

	require.NoError(t, os.WriteFile(path, []byte(`project = second`), 0o644))

	require.Eventually(t, func() bool {
		return w.Current().Project == "second"
	}, time.Second, 10*time.Millisecond)
}

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pgadapter.ini")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}
