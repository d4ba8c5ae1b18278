package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	t.Parallel()

	c := Default()
	assert.Equal(t, "adb", c.Adb)
	assert.Equal(t, 4444, c.Port)
	assert.Equal(t, 120*time.Second, c.CacheTTL)
	assert.Equal(t, "/tmp/adbfs-XXXXXX", c.StagingTemplate)
	assert.Equal(t, []string{DefaultSdcardMount}, c.ExtraMounts)
	assert.Equal(t, "none", c.Journal.Backend)
	assert.Equal(t, "tcp:4444", c.ForwardSpec())
	assert.Equal(t, filepath.Join(os.TempDir(), "adbfs-4444.lock"), c.LockPath())
	require.NoError(t, c.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	c, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "adbfs.yaml")
	data := `
port: 5555
serial: emulator-5554
cache_ttl: 30s
extra_mounts: []
log_level: debug
journal:
  backend: postgres
  postgres_conn: postgres://localhost/adbfs?sslmode=disable
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5555, c.Port)
	assert.Equal(t, "emulator-5554", c.Serial)
	assert.Equal(t, 30*time.Second, c.CacheTTL)
	assert.Empty(t, c.ExtraMounts)
	assert.Equal(t, "debug", c.LogLevel)
	assert.Equal(t, "postgres", c.Journal.Backend)
	assert.Equal(t, "/system/xbin/bash", c.RemoteShell)
	require.NoError(t, c.Validate())
}

func TestLoadInvalidYAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: [1, 2"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	c := Default()
	c.Port = 70000
	assert.Error(t, c.Validate())

	c = Default()
	c.StagingTemplate = "/tmp/adbfs"
	assert.Error(t, c.Validate())

	c = Default()
	c.Journal.Backend = "redis"
	assert.Error(t, c.Validate())
}
