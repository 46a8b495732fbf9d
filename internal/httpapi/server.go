// Package httpapi is the HTTP routing shell: it resolves the envelope and
// session for every request, dispatches to the collection sync state
// machine or the media diff engine, and maps errors to status codes.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ankisyncd/ankisyncd-go/internal/apierr"
	"github.com/ankisyncd/ankisyncd-go/internal/authn"
	"github.com/ankisyncd/ankisyncd-go/internal/envelope"
	"github.com/ankisyncd/ankisyncd-go/internal/sessions"
	"github.com/ankisyncd/ankisyncd-go/internal/wire"
)

// Server is the routing shell: one per running process, holding the
// process-wide session store and a lazily-populated per-user store cache.
type Server struct {
	sessions *sessions.Store
	issuer   *sessions.Issuer
	prov     *provisioner
	logger   *slog.Logger
	mux      *http.ServeMux
}

// New wires a Server over an existing session store and issuer.
func New(store *sessions.Store, issuer *sessions.Issuer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		sessions: store,
		issuer:   issuer,
		prov:     newProvisioner(logger),
		logger:   logger,
		mux:      http.NewServeMux(),
	}

	s.mux.HandleFunc("GET /", s.handleBanner)
	s.mux.HandleFunc("GET /favicon.ico", s.handleFavicon)
	s.mux.HandleFunc("/sync/", s.handleSync)
	s.mux.HandleFunc("/msync/", s.handleMSync)

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// EvictIdle drops and aborts sessions idle longer than maxAge. Intended to
// be called periodically by the idle-session reaper.
func (s *Server) EvictIdle(ctx context.Context, maxAge time.Duration) {
	for _, session := range s.sessions.EvictIdle(maxAge) {
		if session.TransactionOpen() {
			if m, err := s.prov.collection(ctx, session); err == nil {
				if err := m.Abort(ctx); err != nil {
					s.logger.Warn("aborting idle session's transaction", slog.String("user", session.Username), slog.String("err", err.Error()))
				}
			}
		}

		s.prov.forget(session.HostKey)
	}
}

func (s *Server) handleBanner(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "Anki Sync Server")
}

func (s *Server) handleFavicon(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	endpoint := strings.TrimPrefix(r.URL.Path, "/sync/")

	fields, err := envelope.Parse(r)
	if err != nil {
		writeAPIError(w, s.logger, err)
		return
	}

	if endpoint == "hostKey" {
		s.handleHostKey(w, fields)
		return
	}

	session, err := s.resolveSession(fields)
	if err != nil {
		writeAPIError(w, s.logger, err)
		return
	}

	s.sessions.Touch(session)

	ctx := r.Context()

	machine, err := s.prov.collection(ctx, session)
	if err != nil {
		writeAPIError(w, s.logger, apierr.Wrap(fmt.Errorf("%w: %w", apierr.ErrStorage, err), endpoint))
		return
	}

	switch endpoint {
	case "meta":
		resp, err := machine.Meta(ctx)
		if err != nil {
			writeAPIError(w, s.logger, err)
			return
		}

		writeJSON(w, resp)

	case "start":
		var req wire.StartRequest
		if err := decodeJSON(fields, &req); err != nil {
			writeAPIError(w, s.logger, err)
			return
		}

		graves, err := machine.Start(ctx, req)
		if err != nil {
			writeAPIError(w, s.logger, err)
			return
		}

		writeJSON(w, graves)

	case "applyGraves":
		var req wire.ApplyGravesRequest
		if err := decodeJSON(fields, &req); err != nil {
			writeAPIError(w, s.logger, err)
			return
		}

		if err := machine.ApplyGraves(ctx, req); err != nil {
			writeAPIError(w, s.logger, err)
			return
		}

		writeNull(w)

	case "chunk":
		chunk, err := machine.Chunk(ctx)
		if err != nil {
			writeAPIError(w, s.logger, err)
			return
		}

		writeJSON(w, chunk)

	case "applyChunk":
		var req wire.ApplyChunkRequest
		if err := decodeJSON(fields, &req); err != nil {
			writeAPIError(w, s.logger, err)
			return
		}

		if err := machine.ApplyChunk(ctx, req); err != nil {
			writeAPIError(w, s.logger, err)
			return
		}

		writeNull(w)

	case "applyChanges":
		if err := machine.ApplyChanges(ctx); err != nil {
			writeAPIError(w, s.logger, err)
			return
		}

		writeNull(w)

	case "sanityCheck2":
		var req wire.SanityCheckRequest
		if err := decodeJSON(fields, &req); err != nil {
			writeAPIError(w, s.logger, err)
			return
		}

		resp, err := machine.SanityCheck(ctx, req)
		if err != nil {
			writeAPIError(w, s.logger, err)
			return
		}

		writeJSON(w, resp)

	case "finish":
		resp, err := machine.Finish(ctx)
		if err != nil {
			writeAPIError(w, s.logger, err)
			return
		}

		writeJSON(w, resp)

	case "abort":
		if err := machine.Abort(ctx); err != nil {
			writeAPIError(w, s.logger, err)
			return
		}

		writeNull(w)

	case "upload":
		s.handleFullUpload(w, fields, machine)

	case "download":
		s.handleFullDownload(w, ctx, machine)

	default:
		writeAPIError(w, s.logger, apierr.Wrap(fmt.Errorf("%w: /sync/%s", apierr.ErrNotFound, endpoint), ""))
	}
}

func (s *Server) handleMSync(w http.ResponseWriter, r *http.Request) {
	endpoint := strings.TrimPrefix(r.URL.Path, "/msync/")

	fields, err := envelope.Parse(r)
	if err != nil {
		writeAPIError(w, s.logger, err)
		return
	}

	session, err := s.resolveSession(fields)
	if err != nil {
		writeAPIError(w, s.logger, err)
		return
	}

	s.sessions.Touch(session)

	ctx := r.Context()

	engine, err := s.prov.media(ctx, session)
	if err != nil {
		writeAPIError(w, s.logger, apierr.Wrap(fmt.Errorf("%w: %w", apierr.ErrStorage, err), endpoint))
		return
	}

	switch endpoint {
	case "begin":
		resp, err := engine.Begin(ctx, session.SyncKey)
		if err != nil {
			writeAPIError(w, s.logger, apierr.Wrap(fmt.Errorf("%w: %w", apierr.ErrStorage, err), "begin"))
			return
		}

		writeJSON(w, wire.SyncBeginResult{Data: &resp})

	case "mediaChanges":
		var req wire.RecordBatchRequest
		if err := decodeJSON(fields, &req); err != nil {
			writeAPIError(w, s.logger, err)
			return
		}

		records, err := engine.Changes(ctx, req.LastUSN)
		if err != nil {
			writeAPIError(w, s.logger, apierr.Wrap(fmt.Errorf("%w: %w", apierr.ErrStorage, err), "mediaChanges"))
			return
		}

		tuples := make([][]any, 0, len(records))
		for _, rec := range records {
			tuples = append(tuples, rec.MarshalTuple())
		}

		writeJSON(w, wire.MediaRecordResult{Data: tuples})

	case "uploadChanges":
		data, ok := fields.Data()
		if !ok {
			writeAPIError(w, s.logger, apierr.Wrap(fmt.Errorf("%w: missing upload payload", apierr.ErrProtocolDecode), "uploadChanges"))
			return
		}

		processed, newUSN, err := engine.UploadChanges(ctx, data)
		if err != nil {
			writeAPIError(w, s.logger, apierr.Wrap(fmt.Errorf("%w: %w", apierr.ErrProtocolDecode, err), "uploadChanges"))
			return
		}

		writeJSON(w, wire.UploadChangesResult{Data: [2]int64{int64(processed), int64(newUSN)}})

	case "downloadFiles":
		var req wire.ZipRequest
		if err := decodeJSON(fields, &req); err != nil {
			writeAPIError(w, s.logger, err)
			return
		}

		zipBytes, err := engine.DownloadFiles(ctx, req.Files)
		if err != nil {
			writeAPIError(w, s.logger, apierr.Wrap(fmt.Errorf("%w: %w", apierr.ErrStorage, err), "downloadFiles"))
			return
		}

		writeRaw(w, "application/zip", zipBytes)

	case "mediaSanity":
		var req wire.FinalizeRequest
		if err := decodeJSON(fields, &req); err != nil {
			writeAPIError(w, s.logger, err)
			return
		}

		status, err := engine.Sanity(ctx, req.Local)
		if err != nil {
			writeAPIError(w, s.logger, apierr.Wrap(fmt.Errorf("%w: %w", apierr.ErrStorage, err), "mediaSanity"))
			return
		}

		writeJSON(w, wire.FinalizeResponse{Data: string(status)})

	default:
		writeAPIError(w, s.logger, apierr.Wrap(fmt.Errorf("%w: /msync/%s", apierr.ErrNotFound, endpoint), ""))
	}
}

func (s *Server) handleHostKey(w http.ResponseWriter, fields envelope.Fields) {
	var req wire.HostKeyRequest
	if err := decodeJSON(fields, &req); err != nil {
		writeAPIError(w, s.logger, err)
		return
	}

	hostKey, ok := s.issuer.Issue(authn.Credentials{Username: req.Username, Password: req.Password})
	if !ok {
		writeAPIError(w, s.logger, apierr.Wrap(apierr.ErrAuthFailure, ""))
		return
	}

	writeJSON(w, wire.HostKeyResponse{Key: hostKey})
}

func (s *Server) handleFullUpload(w http.ResponseWriter, fields envelope.Fields, machine fullUploader) {
	data, ok := fields.Data()
	if !ok {
		writeAPIError(w, s.logger, apierr.Wrap(fmt.Errorf("%w: missing upload payload", apierr.ErrProtocolDecode), "upload"))
		return
	}

	tmp, err := os.CreateTemp("", "ankisyncd-upload-*.anki2")
	if err != nil {
		writeAPIError(w, s.logger, apierr.Wrap(fmt.Errorf("%w: %w", apierr.ErrStorage, err), "upload"))
		return
	}

	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		writeAPIError(w, s.logger, apierr.Wrap(fmt.Errorf("%w: %w", apierr.ErrStorage, err), "upload"))
		return
	}

	if err := tmp.Close(); err != nil {
		writeAPIError(w, s.logger, apierr.Wrap(fmt.Errorf("%w: %w", apierr.ErrStorage, err), "upload"))
		return
	}

	if err := machine.FullUpload(context.Background(), tmpPath); err != nil {
		writeAPIError(w, s.logger, err)
		return
	}

	writeRaw(w, "text/plain; charset=utf-8", []byte("OK"))
}

func (s *Server) handleFullDownload(w http.ResponseWriter, ctx context.Context, machine fullDownloader) {
	path, err := machine.FullDownload(ctx)
	if err != nil {
		writeAPIError(w, s.logger, err)
		return
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		writeAPIError(w, s.logger, apierr.Wrap(fmt.Errorf("%w: %w", apierr.ErrStorage, err), "download"))
		return
	}

	writeRaw(w, "application/octet-stream", data)
}

// fullUploader/fullDownloader narrow collsync.Machine to what these two
// handlers need, keeping the handler signatures self-documenting.
type fullUploader interface {
	FullUpload(ctx context.Context, tmpPath string) error
}

type fullDownloader interface {
	FullDownload(ctx context.Context) (string, error)
}

// resolveSession resolves a session by host-key before sync-key. Any
// endpoint other than hostKey requires a resolvable session.
func (s *Server) resolveSession(fields envelope.Fields) (*sessions.Session, error) {
	if k := fields.HostKey(); k != "" {
		if session := s.sessions.Load(k); session != nil {
			return session, nil
		}
	}

	if sk := fields.SyncKey(); sk != "" {
		if session := s.sessions.LoadFromSyncKey(sk); session != nil {
			return session, nil
		}
	}

	return nil, apierr.Wrap(apierr.ErrSessionMissing, "")
}

func decodeJSON(fields envelope.Fields, v any) error {
	data, ok := fields.Data()
	if !ok || len(data) == 0 {
		return nil
	}

	if err := json.Unmarshal(data, v); err != nil {
		return apierr.Wrap(fmt.Errorf("%w: %w", apierr.ErrProtocolDecode, err), "decoding request body")
	}

	return nil
}
