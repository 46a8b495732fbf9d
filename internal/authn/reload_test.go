package authn

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReloadable_MissingFileRejectsEveryone(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.toml")

	r, err := NewReloadable(path)
	require.NoError(t, err)
	assert.False(t, r.Authenticate(Credentials{Username: "alice", Password: "pw"}))
}

func TestReloadable_ReloadPicksUpNewUsers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.toml")

	r, err := NewReloadable(path)
	require.NoError(t, err)
	assert.False(t, r.Authenticate(Credentials{Username: "alice", Password: "pw"}))

	hash := HashPassword([]byte("salt"), "pw")
	content := "[users.alice]\nsalt = \"73616c74\"\nhash = \"" + hash + "\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	require.NoError(t, r.Reload())
	assert.True(t, r.Authenticate(Credentials{Username: "alice", Password: "pw"}))
	assert.False(t, r.Authenticate(Credentials{Username: "alice", Password: "wrong"}))
}

func TestReloadable_BadFileReturnsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.toml")
	require.NoError(t, os.WriteFile(path, []byte("not valid toml {{"), 0o600))

	_, err := NewReloadable(path)
	assert.Error(t, err)
}
