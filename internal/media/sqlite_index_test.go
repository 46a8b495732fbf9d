package media

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ankisyncd/ankisyncd-go/internal/wire"
)

func openTestIndex(t *testing.T) *SQLiteIndex {
	t.Helper()

	path := filepath.Join(t.TempDir(), "collection.media.server.db")

	idx, err := OpenIndex(context.Background(), path, nil)
	require.NoError(t, err)

	t.Cleanup(func() { idx.Close() })

	return idx
}

func TestSQLiteIndex_LastUSNZeroWhenEmpty(t *testing.T) {
	idx := openTestIndex(t)

	usn, err := idx.LastUSN(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 0, usn)
}

func TestSQLiteIndex_PutGetRoundTrip(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Put(ctx, wire.MediaRecord{Filename: "a.jpg", Checksum: "abc123", USN: 1}))

	rec, found, err := idx.Get(ctx, "a.jpg")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "abc123", rec.Checksum)
	assert.EqualValues(t, 1, rec.USN)

	usn, err := idx.LastUSN(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, usn)
}

func TestSQLiteIndex_PutTombstoneStoresNullChecksum(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Put(ctx, wire.MediaRecord{Filename: "a.jpg", Checksum: "abc123", USN: 1}))
	require.NoError(t, idx.Put(ctx, wire.MediaRecord{Filename: "a.jpg", Checksum: "", USN: 1}))

	rec, found, err := idx.Get(ctx, "a.jpg")
	require.NoError(t, err)
	require.True(t, found)
	assert.Empty(t, rec.Checksum)

	count, err := idx.LiveCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSQLiteIndex_SinceReturnsDescendingSuffix(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Put(ctx, wire.MediaRecord{Filename: "a.jpg", Checksum: "x", USN: 1}))
	require.NoError(t, idx.Put(ctx, wire.MediaRecord{Filename: "b.jpg", Checksum: "y", USN: 2}))
	require.NoError(t, idx.Put(ctx, wire.MediaRecord{Filename: "c.jpg", Checksum: "z", USN: 3}))

	records, err := idx.Since(ctx, 1)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.EqualValues(t, 3, records[0].USN)
	assert.EqualValues(t, 2, records[1].USN)
}

func TestSQLiteIndex_GetUnknownFileNotFound(t *testing.T) {
	idx := openTestIndex(t)

	_, found, err := idx.Get(context.Background(), "nope.jpg")
	require.NoError(t, err)
	assert.False(t, found)
}

var _ Index = (*SQLiteIndex)(nil)
