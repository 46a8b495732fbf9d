package collsync

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ankisyncd/ankisyncd-go/internal/sessions"
	"github.com/ankisyncd/ankisyncd-go/internal/wire"
)

// fakeCollection is an in-memory CollectionServer used only to exercise the
// state machine's orchestration — not a grounding for the real adapter.
type fakeCollection struct {
	usn          int32
	txOpen       bool
	committed    bool
	rolledBack   bool
	graves       wire.Graves
	unstamped    wire.Chunk
	serverCounts wire.ClientCounts
	uploadPath   string
	downloadPath string
}

func (f *fakeCollection) Meta(context.Context) (MetaInfo, error) {
	return MetaInfo{USN: f.usn, Empty: f.usn == 0, ShouldContinue: true}, nil
}

func (f *fakeCollection) USN(context.Context) (int32, error) { return f.usn, nil }

func (f *fakeCollection) BeginTransaction(context.Context) error {
	f.txOpen = true
	return nil
}

func (f *fakeCollection) Rollback(context.Context) error {
	f.rolledBack = true
	f.txOpen = false
	return nil
}

func (f *fakeCollection) Commit(context.Context) (int64, error) {
	f.committed = true
	f.txOpen = false
	return 12345, nil
}

func (f *fakeCollection) ServerGraves(_ context.Context, sinceUSN int32) (wire.Graves, error) {
	return f.graves, nil
}

func (f *fakeCollection) ApplyGraves(context.Context, wire.Graves, ConflictContext) error {
	return nil
}

func (f *fakeCollection) Chunk(_ context.Context, serverUSN int32) (wire.Chunk, error) {
	chunk := f.unstamped
	for i := range chunk.Cards {
		chunk.Cards[i].USN = serverUSN
	}
	chunk.Done = true
	f.unstamped = wire.Chunk{}

	return chunk, nil
}

func (f *fakeCollection) ApplyChunk(context.Context, wire.Chunk, ConflictContext) error { return nil }
func (f *fakeCollection) ApplyChanges(context.Context, ConflictContext) error           { return nil }

func (f *fakeCollection) SanityCounts(context.Context) (wire.ClientCounts, error) {
	return f.serverCounts, nil
}

func (f *fakeCollection) WriteFullUpload(_ context.Context, tmpPath string) error {
	f.uploadPath = tmpPath
	return nil
}

func (f *fakeCollection) FullDownloadPath(context.Context) (string, error) {
	return f.downloadPath, nil
}

func TestMachine_StartOpensTransactionAndRecordsUSN(t *testing.T) {
	col := &fakeCollection{usn: 7}
	session := sessions.New("alice", "/data")
	m := New(col, session)

	_, err := m.Start(context.Background(), wire.StartRequest{ClientUSN: 3, LocalIsNewer: true})
	require.NoError(t, err)

	assert.True(t, col.txOpen)
	assert.True(t, session.TransactionOpen())
	assert.EqualValues(t, 7, session.ServerUSN)
	assert.EqualValues(t, 3, session.ClientUSN)
	assert.True(t, session.ClientIsNewer)
	assert.Equal(t, StateStarted, m.State())
}

func TestMachine_ChunkStampsRowsWithServerUSN(t *testing.T) {
	col := &fakeCollection{
		unstamped: wire.Chunk{Cards: []wire.CardRow{{ID: 1, USN: -1}, {ID: 2, USN: -1}}},
	}
	session := sessions.New("alice", "/data")
	session.ServerUSN = 42
	m := New(col, session)

	chunk, err := m.Chunk(context.Background())
	require.NoError(t, err)
	require.True(t, chunk.Done)

	for _, c := range chunk.Cards {
		assert.EqualValues(t, 42, c.USN, "no row may remain at usn=-1 after chunk drains the table")
	}
}

func TestMachine_SanityCheckMismatchThenAbortLeavesTransactionRolledBack(t *testing.T) {
	col := &fakeCollection{serverCounts: wire.ClientCounts{Cards: 5, Notes: 2, Revlog: 1}}
	session := sessions.New("alice", "/data")
	m := New(col, session)

	_, err := m.Start(context.Background(), wire.StartRequest{})
	require.NoError(t, err)

	resp, err := m.SanityCheck(context.Background(), wire.SanityCheckRequest{
		Client: wire.ClientCounts{Cards: 5, Notes: 2, Revlog: 0},
	})
	require.NoError(t, err)
	assert.Equal(t, wire.SanityFailed, resp.Status)

	require.NoError(t, m.Abort(context.Background()))
	assert.True(t, col.rolledBack)
	assert.False(t, session.TransactionOpen())
}

func TestMachine_AbortWithoutOpenTransactionSucceedsSilently(t *testing.T) {
	col := &fakeCollection{}
	session := sessions.New("alice", "/data")
	m := New(col, session)

	require.NoError(t, m.Abort(context.Background()))
	assert.False(t, col.rolledBack, "no rollback should be issued when nothing was open")
}

func TestMachine_FinishCommitsAndClearsTransactionFlag(t *testing.T) {
	col := &fakeCollection{}
	session := sessions.New("alice", "/data")
	m := New(col, session)

	_, err := m.Start(context.Background(), wire.StartRequest{})
	require.NoError(t, err)

	resp, err := m.Finish(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 12345, resp.Modified)
	assert.True(t, col.committed)
	assert.False(t, session.TransactionOpen())
	assert.Equal(t, StateIdle, m.State())
}

func TestMachine_StartAcceptsAbsentEmptyAndPopulatedDeprecatedGraves(t *testing.T) {
	for name, req := range map[string]wire.StartRequest{
		"absent":    {},
		"empty":     {DeprecatedClientGraves: &wire.Graves{}},
		"populated": {DeprecatedClientGraves: &wire.Graves{Cards: []int64{1}}},
	} {
		t.Run(name, func(t *testing.T) {
			col := &fakeCollection{}
			m := New(col, sessions.New("alice", "/data"))
			_, err := m.Start(context.Background(), req)
			require.NoError(t, err)
		})
	}
}

func TestMachine_PropagatesStorageErrors(t *testing.T) {
	col := &erroringCollection{err: errors.New("disk full")}
	m := New(col, sessions.New("alice", "/data"))

	_, err := m.Meta(context.Background())
	require.Error(t, err)
}

type erroringCollection struct{ fakeCollection; err error }

func (e *erroringCollection) Meta(context.Context) (MetaInfo, error) { return MetaInfo{}, e.err }
