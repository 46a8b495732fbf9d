package collstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ankisyncd/ankisyncd-go/internal/collsync"
	"github.com/ankisyncd/ankisyncd-go/internal/wire"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "collection.anki2")

	s, err := Open(context.Background(), path, nil)
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })

	return s
}

func TestStore_MetaReportsEmptyCollection(t *testing.T) {
	s := openTestStore(t)

	info, err := s.Meta(context.Background())
	require.NoError(t, err)

	assert.True(t, info.Empty)
	assert.True(t, info.ShouldContinue)
	assert.EqualValues(t, 0, info.USN)
}

func TestStore_USNTracksColRow(t *testing.T) {
	s := openTestStore(t)

	usn, err := s.USN(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 0, usn)
}

func TestStore_BeginCommitUpdatesModified(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.BeginTransaction(ctx))

	modified, err := s.Commit(ctx)
	require.NoError(t, err)
	assert.Positive(t, modified)
}

func TestStore_BeginRollbackDiscardsChanges(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.BeginTransaction(ctx))
	require.NoError(t, s.ApplyChunk(ctx, wire.Chunk{
		Notes: []wire.NoteRow{{ID: 1, GUID: "g1", MID: 1, Flds: "front\x1fback"}},
	}, collsync.ConflictContext{}))
	require.NoError(t, s.Rollback(ctx))

	require.NoError(t, s.BeginTransaction(ctx))
	counts, err := s.SanityCounts(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Rollback(ctx))

	assert.Zero(t, counts.Notes, "rolled-back insert must not be visible")
}

func TestStore_ApplyChunkThenChunkRoundTripsAndStamps(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.BeginTransaction(ctx))
	require.NoError(t, s.ApplyChunk(ctx, wire.Chunk{
		Notes: []wire.NoteRow{{ID: 1, GUID: "g1", MID: 1, Flds: "a\x1fb", Mod: 100}},
		Cards: []wire.CardRow{{ID: 10, NID: 1, DID: 1, Mod: 100}},
		Revlog: []wire.RevlogRow{{ID: 1000, CID: 10, Ease: 3, Ivl: 1}},
	}, collsync.ConflictContext{ClientUSN: 0, ServerUSN: 0}))

	chunk, err := s.Chunk(ctx, 5)
	require.NoError(t, err)
	require.True(t, chunk.Done)

	require.Len(t, chunk.Notes, 1)
	require.Len(t, chunk.Cards, 1)
	require.Len(t, chunk.Revlog, 1)
	assert.EqualValues(t, 5, chunk.Notes[0].USN)
	assert.EqualValues(t, 5, chunk.Cards[0].USN)
	assert.EqualValues(t, 5, chunk.Revlog[0].USN)

	// A second chunk at the same USN must drain nothing: no row remains
	// stamped -1 once the first chunk completes.
	again, err := s.Chunk(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, again.Notes)
	assert.Empty(t, again.Cards)
	assert.Empty(t, again.Revlog)

	_, err = s.Commit(ctx)
	require.NoError(t, err)
}

func TestStore_ApplyChunkConflictResolution(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.BeginTransaction(ctx))
	require.NoError(t, s.ApplyChunk(ctx, wire.Chunk{
		Cards: []wire.CardRow{{ID: 1, NID: 1, DID: 1, Data: "old", Mod: 1}},
	}, collsync.ConflictContext{}))
	_, err := s.Chunk(ctx, 3) // stamps the existing row to usn=3
	require.NoError(t, err)

	// Lower incoming USN than the server's stamped row: server row wins.
	require.NoError(t, s.ApplyChunk(ctx, wire.Chunk{
		Cards: []wire.CardRow{{ID: 1, NID: 1, DID: 1, Data: "stale", Mod: 2}},
	}, collsync.ConflictContext{ClientUSN: 1}))

	var data string
	require.NoError(t, s.q().QueryRowContext(ctx, `SELECT data FROM cards WHERE id = 1`).Scan(&data))
	assert.Equal(t, "old", data, "a lower incoming usn must not overwrite the server row")

	// Higher incoming USN: client row wins.
	require.NoError(t, s.ApplyChunk(ctx, wire.Chunk{
		Cards: []wire.CardRow{{ID: 1, NID: 1, DID: 1, Data: "fresh", Mod: 3}},
	}, collsync.ConflictContext{ClientUSN: 10}))

	require.NoError(t, s.q().QueryRowContext(ctx, `SELECT data FROM cards WHERE id = 1`).Scan(&data))
	assert.Equal(t, "fresh", data, "a higher incoming usn must overwrite the server row")

	_, err = s.Commit(ctx)
	require.NoError(t, err)
}

func TestStore_ApplyGravesDeletesRowsAndRecordsTombstones(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.BeginTransaction(ctx))
	require.NoError(t, s.ApplyChunk(ctx, wire.Chunk{
		Cards: []wire.CardRow{{ID: 1, NID: 1, DID: 1}},
	}, collsync.ConflictContext{}))

	require.NoError(t, s.ApplyGraves(ctx, wire.Graves{Cards: []int64{1}}, collsync.ConflictContext{}))

	var cardCount int
	require.NoError(t, s.q().QueryRowContext(ctx, `SELECT COUNT(*) FROM cards WHERE id = 1`).Scan(&cardCount))
	assert.Zero(t, cardCount)

	_, err := s.Chunk(ctx, 1) // stamps the pending grave to usn=1
	require.NoError(t, err)

	graves, err := s.ServerGraves(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, graves.Cards)

	_, err = s.Commit(ctx)
	require.NoError(t, err)
}

func TestStore_SanityCountsReflectsRows(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.BeginTransaction(ctx))
	require.NoError(t, s.ApplyChunk(ctx, wire.Chunk{
		Notes: []wire.NoteRow{{ID: 1, GUID: "g", MID: 1}},
		Cards: []wire.CardRow{{ID: 1, NID: 1, DID: 1}, {ID: 2, NID: 1, DID: 1}},
	}, collsync.ConflictContext{}))

	counts, err := s.SanityCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, wire.ClientCounts{Cards: 2, Notes: 1, Revlog: 0}, counts)

	_, err = s.Commit(ctx)
	require.NoError(t, err)
}

func TestStore_FullDownloadPathReturnsOwnFile(t *testing.T) {
	s := openTestStore(t)

	path, err := s.FullDownloadPath(context.Background())
	require.NoError(t, err)
	assert.Equal(t, s.path, path)
}

var _ collsync.CollectionServer = (*Store)(nil)
