package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOverridesMissingFileReturnsDefaults(t *testing.T) {
	got, err := LoadOverrides(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultOverrides(), got)
}

func TestLoadOverridesMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "overrides.yaml")
	content := "log_level: debug\nping_hosts:\n  - 1.1.1.1\n  - 9.9.9.9\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	got, err := LoadOverrides(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", got.LogLevel)
	assert.Equal(t, []string{"1.1.1.1", "9.9.9.9"}, got.PingHosts)
	assert.Equal(t, 2, got.FastDelaySec)
}

func TestLoadOverridesRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "overrides.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: [oops"), 0o644))

	_, err := LoadOverrides(path)
	assert.Error(t, err)
}
