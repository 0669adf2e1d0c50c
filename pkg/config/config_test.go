package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "(gdb)", cfg.Prompt)
	assert.Equal(t, uint64(0x1000), cfg.AddressBase)
	assert.Equal(t, time.Duration(0), cfg.IdleTimeout)
	assert.Equal(t, 4096, cfg.MaxElements)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stepscope.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
language: go
addressMode: live
commandTimeout: 750ms
debugger:
  path: /usr/local/bin/gdb
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, LanguageGo, cfg.Language)
	assert.Equal(t, "live", cfg.AddressMode)
	assert.Equal(t, 750*time.Millisecond, cfg.CommandTimeout)
	assert.Equal(t, "/usr/local/bin/gdb", cfg.Debugger.Path)
	assert.Equal(t, 10*time.Second, cfg.RunTimeout, "unnamed fields keep their default")
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("language: rust\nstopTimeout: 0s\nmaxElements: -1\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown language 'rust'")
	assert.Contains(t, err.Error(), "stopTimeout must be positive")
	assert.Contains(t, err.Error(), "maxElements must be positive, got -1")

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	cfg := Default()
	cfg.TraceDir = "/tmp/traces"
	require.NoError(t, cfg.Save(path))

	back, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, back)
}
