package sessions

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_SaveLoad(t *testing.T) {
	store := NewStore()
	session := New("alice", "/data")

	store.Save(session)

	got := store.Load(session.HostKey)
	require.NotNil(t, got)
	assert.Equal(t, "alice", got.Username)
}

func TestStore_LoadUnknownReturnsNil(t *testing.T) {
	store := NewStore()
	assert.Nil(t, store.Load("bogus"))
}

func TestStore_LoadFromSyncKey(t *testing.T) {
	store := NewStore()
	session := New("alice", "/data")
	store.Save(session)

	got := store.LoadFromSyncKey(session.SyncKey)
	require.NotNil(t, got)
	assert.Equal(t, session.HostKey, got.HostKey)
}

func TestStore_Delete(t *testing.T) {
	store := NewStore()
	session := New("alice", "/data")
	store.Save(session)

	store.Delete(session.HostKey)

	assert.Nil(t, store.Load(session.HostKey))
	assert.Nil(t, store.LoadFromSyncKey(session.SyncKey))
}

func TestStore_EvictIdle(t *testing.T) {
	store := NewStore()

	stale := New("alice", "/data")
	stale.LastSeen = time.Now().Add(-time.Hour)
	store.Save(stale)

	fresh := New("bob", "/data")
	store.Save(fresh)

	evicted := store.EvictIdle(30 * time.Minute)

	require.Len(t, evicted, 1)
	assert.Equal(t, "alice", evicted[0].Username)
	assert.Equal(t, 1, store.Len())
	assert.NotNil(t, store.Load(fresh.HostKey))
}

func TestGenerateHostKey_Format(t *testing.T) {
	key := GenerateHostKey("alice")
	assert.Regexp(t, "^[0-9a-f]{32}$", key)
}

func TestGenerateHostKey_DistinctAcrossCalls(t *testing.T) {
	a := GenerateHostKey("alice")
	b := GenerateHostKey("alice")
	assert.NotEqual(t, a, b)
}
