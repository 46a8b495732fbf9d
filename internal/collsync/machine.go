package collsync

import (
	"context"
	"fmt"

	"github.com/ankisyncd/ankisyncd-go/internal/apierr"
	"github.com/ankisyncd/ankisyncd-go/internal/sessions"
	"github.com/ankisyncd/ankisyncd-go/internal/wire"
)

// State names the position of a session's transaction in the endpoint
// sequence: META -> START -> (APPLY_GRAVES) -> CHUNK*/APPLY_CHUNK* ->
// APPLY_CHANGES -> SANITY -> FINISH -> IDLE, or ABORT from anywhere back to
// IDLE. This machine tracks State for diagnostics and tests but does not
// check it: a call made out of order is passed to the CollectionServer as is.
type State string

const (
	StateIdle         State = "idle"
	StateStarted      State = "started"
	StateGravesApplied State = "graves_applied"
	StateChunking     State = "chunking"
	StateChangesApplied State = "changes_applied"
	StateSanityChecked State = "sanity_checked"
)

// Machine orchestrates one session's collection sync transaction against a
// CollectionServer. One Machine per Session; the session store's lifetime
// governs the Machine's lifetime too.
type Machine struct {
	col     CollectionServer
	session *sessions.Session
	state   State
}

// New creates a Machine bound to session and its CollectionServer.
func New(col CollectionServer, session *sessions.Session) *Machine {
	return &Machine{col: col, session: session, state: StateIdle}
}

// State returns the machine's current position for diagnostics/tests.
func (m *Machine) State() State { return m.state }

func (m *Machine) conflictContext() ConflictContext {
	return ConflictContext{
		ClientUSN:     m.session.ClientUSN,
		ServerUSN:     m.session.ServerUSN,
		ClientIsNewer: m.session.ClientIsNewer,
	}
}

// Meta handles the meta endpoint: no state change.
func (m *Machine) Meta(ctx context.Context) (wire.MetaResponse, error) {
	info, err := m.col.Meta(ctx)
	if err != nil {
		return wire.MetaResponse{}, apierr.Wrap(fmt.Errorf("%w: %w", apierr.ErrStorage, err), "meta")
	}

	return wire.MetaResponse{
		ModifiedSchema: info.SchemaModified,
		ServerMessage:  "",
		ShouldContinue: info.ShouldContinue,
		HostNumber:     info.HostNumber,
		Empty:          info.Empty,
		ServerUSN:      info.USN,
		ServerModified: info.Modified,
	}, nil
}

// Start handles the start endpoint: persists client_usn/local_is_newer,
// stamps server_usn, opens the write transaction, applies deprecated
// client graves if present, and returns server graves newer than the
// client's USN.
func (m *Machine) Start(ctx context.Context, req wire.StartRequest) (wire.Graves, error) {
	m.session.ClientUSN = req.ClientUSN
	m.session.ClientIsNewer = req.LocalIsNewer

	serverUSN, err := m.col.USN(ctx)
	if err != nil {
		return wire.Graves{}, apierr.Wrap(fmt.Errorf("%w: %w", apierr.ErrStorage, err), "start")
	}

	m.session.ServerUSN = serverUSN

	if err := m.col.BeginTransaction(ctx); err != nil {
		return wire.Graves{}, apierr.Wrap(fmt.Errorf("%w: %w", apierr.ErrStorage, err), "start: begin transaction")
	}

	m.session.SetTransactionOpen(true)
	m.state = StateStarted

	// deprecated_client_graves: accept absent, empty, or populated uniformly.
	if req.DeprecatedClientGraves != nil && !req.DeprecatedClientGraves.IsEmpty() {
		if err := m.col.ApplyGraves(ctx, *req.DeprecatedClientGraves, m.conflictContext()); err != nil {
			return wire.Graves{}, apierr.Wrap(fmt.Errorf("%w: %w", apierr.ErrStorage, err), "start: apply deprecated graves")
		}
	}

	graves, err := m.col.ServerGraves(ctx, req.ClientUSN)
	if err != nil {
		return wire.Graves{}, apierr.Wrap(fmt.Errorf("%w: %w", apierr.ErrStorage, err), "start: server graves")
	}

	return graves, nil
}

// ApplyGraves handles applyGraves: apply client tombstones under the open
// transaction.
func (m *Machine) ApplyGraves(ctx context.Context, req wire.ApplyGravesRequest) error {
	if err := m.col.ApplyGraves(ctx, req.Chunk, m.conflictContext()); err != nil {
		return apierr.Wrap(fmt.Errorf("%w: %w", apierr.ErrStorage, err), "applyGraves")
	}

	m.state = StateGravesApplied

	return nil
}

// Chunk handles the server->client chunk endpoint.
func (m *Machine) Chunk(ctx context.Context) (wire.Chunk, error) {
	chunk, err := m.col.Chunk(ctx, m.session.ServerUSN)
	if err != nil {
		return wire.Chunk{}, apierr.Wrap(fmt.Errorf("%w: %w", apierr.ErrStorage, err), "chunk")
	}

	m.state = StateChunking

	return chunk, nil
}

// ApplyChunk handles the client->server chunk endpoint. Each call is
// atomic: partial application of one chunk is not permitted, so a failed
// chunk rolls back the whole open transaction.
func (m *Machine) ApplyChunk(ctx context.Context, req wire.ApplyChunkRequest) error {
	if err := m.col.ApplyChunk(ctx, req.Chunk, m.conflictContext()); err != nil {
		if rbErr := m.col.Rollback(ctx); rbErr == nil {
			m.session.SetTransactionOpen(false)
			m.state = StateIdle
		}

		return apierr.Wrap(fmt.Errorf("%w: %w", apierr.ErrStorage, err), "applyChunk")
	}

	m.state = StateChunking

	return nil
}

// ApplyChanges handles applyChanges: merges remaining non-chunked state.
func (m *Machine) ApplyChanges(ctx context.Context) error {
	if err := m.col.ApplyChanges(ctx, m.conflictContext()); err != nil {
		return apierr.Wrap(fmt.Errorf("%w: %w", apierr.ErrStorage, err), "applyChanges")
	}

	m.state = StateChangesApplied

	return nil
}

// SanityCheck handles sanityCheck2: compares server counts to the client's.
// A FAILED result leaves the transaction open for the client to abort,
// rather than rolling back here — the transaction must then be rolled back
// by the client.
func (m *Machine) SanityCheck(ctx context.Context, req wire.SanityCheckRequest) (wire.SanityCheckResponse, error) {
	server, err := m.col.SanityCounts(ctx)
	if err != nil {
		return wire.SanityCheckResponse{}, apierr.Wrap(fmt.Errorf("%w: %w", apierr.ErrStorage, err), "sanityCheck2")
	}

	m.state = StateSanityChecked

	if server == req.Client {
		return wire.SanityCheckResponse{Status: wire.SanityOK}, nil
	}

	return wire.SanityCheckResponse{Status: wire.SanityFailed}, nil
}

// Finish commits the write transaction and tears down the session's
// transaction handle.
func (m *Machine) Finish(ctx context.Context) (wire.FinishResponse, error) {
	modified, err := m.col.Commit(ctx)
	if err != nil {
		return wire.FinishResponse{}, apierr.Wrap(fmt.Errorf("%w: %w", apierr.ErrStorage, err), "finish")
	}

	m.session.SetTransactionOpen(false)
	m.state = StateIdle

	return wire.FinishResponse{Modified: modified}, nil
}

// Abort rolls back any open transaction and returns the session to IDLE.
// Rolling back a session with no open transaction succeeds silently: a
// client that double-aborts, e.g. after a network retry, should not see a
// spurious error.
func (m *Machine) Abort(ctx context.Context) error {
	if !m.session.TransactionOpen() {
		m.state = StateIdle
		return nil
	}

	if err := m.col.Rollback(ctx); err != nil {
		return apierr.Wrap(fmt.Errorf("%w: %w", apierr.ErrStorage, err), "abort")
	}

	m.session.SetTransactionOpen(false)
	m.state = StateIdle

	return nil
}

// FullUpload handles the raw collection-file upload bypass: the envelope's
// "data" field is the whole database, already written to a temp file by the
// caller (see httpapi); FullUpload validates and swaps it in.
func (m *Machine) FullUpload(ctx context.Context, tmpPath string) error {
	if err := m.col.WriteFullUpload(ctx, tmpPath); err != nil {
		return apierr.Wrap(fmt.Errorf("%w: %w", apierr.ErrStorage, err), "full_upload")
	}

	return nil
}

// FullDownload returns the path of the user's collection database file to
// stream back as the response body.
func (m *Machine) FullDownload(ctx context.Context) (string, error) {
	path, err := m.col.FullDownloadPath(ctx)
	if err != nil {
		return "", apierr.Wrap(fmt.Errorf("%w: %w", apierr.ErrStorage, err), "full_download")
	}

	return path, nil
}
