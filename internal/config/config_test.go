package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWhenFileAbsent(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default().BindAddr, cfg.BindAddr)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ankisyncd.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_root = "/srv/anki"
bind_addr = ":9999"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/anki", cfg.DataRoot)
	assert.Equal(t, ":9999", cfg.BindAddr)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ankisyncd.toml")
	require.NoError(t, os.WriteFile(path, []byte(`bind_addr = ":9999"`), 0o644))

	t.Setenv(EnvBindAddr, ":1234")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":1234", cfg.BindAddr)
}

func TestApplyEnvOverrides_LeavesUnsetFieldsAlone(t *testing.T) {
	cfg := Default()
	ApplyEnvOverrides(&cfg)
	assert.Equal(t, Default(), cfg)
}
