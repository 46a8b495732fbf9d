// Package collstore is the reference adapter for the collection store
// external collaborator: a transactional row store exposing cards, notes,
// revlog, graves, and a per-row USN stamp. It implements
// collsync.CollectionServer against SQLite, built on the same
// modernc.org/sqlite + goose migration stack used elsewhere in this repo.
package collstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver, registered as "sqlite"

	"github.com/ankisyncd/ankisyncd-go/internal/collsync"
	"github.com/ankisyncd/ankisyncd-go/internal/wire"
)

// Grave object types, matching the Anki collection schema's convention.
const (
	graveTypeCard = 0
	graveTypeNote = 1
	graveTypeDeck = 2
)

// Store is a per-user SQLite-backed collection store.
type Store struct {
	path   string
	db     *sql.DB
	tx     *sql.Tx
	logger *slog.Logger
}

// Open opens (creating if needed) the collection database at path and
// applies schema migrations.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("collstore: creating collection dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("collstore: opening %s: %w", path, err)
	}

	db.SetMaxOpenConns(1) // single-writer: a transaction spans many requests.

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{path: path, db: db, logger: logger}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// querier abstracts over *sql.DB and *sql.Tx so helpers work whether or not
// a transaction is open.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) q() querier {
	if s.tx != nil {
		return s.tx
	}

	return s.db
}

func (s *Store) Meta(ctx context.Context) (collsync.MetaInfo, error) {
	var mod, scm int64
	var usn int32

	err := s.q().QueryRowContext(ctx, `SELECT mod, scm, usn FROM col WHERE id = 1`).Scan(&mod, &scm, &usn)
	if err != nil {
		return collsync.MetaInfo{}, fmt.Errorf("collstore: reading col row: %w", err)
	}

	var noteCount int
	if err := s.q().QueryRowContext(ctx, `SELECT COUNT(*) FROM notes`).Scan(&noteCount); err != nil {
		return collsync.MetaInfo{}, fmt.Errorf("collstore: counting notes: %w", err)
	}

	return collsync.MetaInfo{
		Modified:       mod,
		SchemaModified: scm,
		USN:            usn,
		Empty:          noteCount == 0,
		ShouldContinue: true,
		HostNumber:     0,
	}, nil
}

func (s *Store) USN(ctx context.Context) (int32, error) {
	var usn int32
	if err := s.q().QueryRowContext(ctx, `SELECT usn FROM col WHERE id = 1`).Scan(&usn); err != nil {
		return 0, fmt.Errorf("collstore: reading usn: %w", err)
	}

	return usn, nil
}

func (s *Store) BeginTransaction(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("collstore: begin transaction: %w", err)
	}

	s.tx = tx

	return nil
}

func (s *Store) Rollback(context.Context) error {
	if s.tx == nil {
		return nil
	}

	err := s.tx.Rollback()
	s.tx = nil

	if err != nil {
		return fmt.Errorf("collstore: rollback: %w", err)
	}

	return nil
}

func (s *Store) Commit(ctx context.Context) (int64, error) {
	if s.tx == nil {
		return 0, fmt.Errorf("collstore: commit called with no open transaction")
	}

	modified := time.Now().UnixMilli()

	if _, err := s.tx.ExecContext(ctx, `UPDATE col SET mod = ? WHERE id = 1`, modified); err != nil {
		s.tx.Rollback()
		s.tx = nil

		return 0, fmt.Errorf("collstore: stamping mod time: %w", err)
	}

	err := s.tx.Commit()
	s.tx = nil

	if err != nil {
		return 0, fmt.Errorf("collstore: commit: %w", err)
	}

	return modified, nil
}

func (s *Store) ServerGraves(ctx context.Context, sinceUSN int32) (wire.Graves, error) {
	rows, err := s.q().QueryContext(ctx, `SELECT oid, type FROM graves WHERE usn > ?`, sinceUSN)
	if err != nil {
		return wire.Graves{}, fmt.Errorf("collstore: reading graves: %w", err)
	}
	defer rows.Close()

	var g wire.Graves

	for rows.Next() {
		var oid int64
		var typ int

		if err := rows.Scan(&oid, &typ); err != nil {
			return wire.Graves{}, fmt.Errorf("collstore: scanning grave: %w", err)
		}

		switch typ {
		case graveTypeCard:
			g.Cards = append(g.Cards, oid)
		case graveTypeNote:
			g.Notes = append(g.Notes, oid)
		case graveTypeDeck:
			g.Decks = append(g.Decks, oid)
		}
	}

	return g, rows.Err()
}

// ApplyGraves deletes the client's tombstoned rows and records fresh grave
// entries (usn = -1, stamped at the next chunk) so other devices learn of
// the deletion on their next sync.
func (s *Store) ApplyGraves(ctx context.Context, client wire.Graves, _ collsync.ConflictContext) error {
	for _, id := range client.Cards {
		if err := s.deleteAndGrave(ctx, "cards", graveTypeCard, id); err != nil {
			return err
		}
	}

	for _, id := range client.Notes {
		if err := s.deleteAndGrave(ctx, "notes", graveTypeNote, id); err != nil {
			return err
		}
	}

	for _, id := range client.Decks {
		if _, err := s.q().ExecContext(ctx, `INSERT INTO graves (usn, oid, type) VALUES (-1, ?, ?)`, id, graveTypeDeck); err != nil {
			return fmt.Errorf("collstore: recording deck grave: %w", err)
		}
	}

	return nil
}

func (s *Store) deleteAndGrave(ctx context.Context, table string, graveType int, id int64) error {
	if _, err := s.q().ExecContext(ctx, `DELETE FROM `+table+` WHERE id = ?`, id); err != nil {
		return fmt.Errorf("collstore: deleting %s row %d: %w", table, id, err)
	}

	if _, err := s.q().ExecContext(ctx, `INSERT INTO graves (usn, oid, type) VALUES (-1, ?, ?)`, id, graveType); err != nil {
		return fmt.Errorf("collstore: recording %s grave: %w", table, err)
	}

	return nil
}

// Chunk reads every row with usn = -1 from revlog, cards, notes (that
// order), then stamps those rows — and any pending graves — with
// serverUSN. A single chunk always carries everything pending, so Done is
// always true.
func (s *Store) Chunk(ctx context.Context, serverUSN int32) (wire.Chunk, error) {
	var chunk wire.Chunk

	revRows, err := s.q().QueryContext(ctx, `SELECT id, cid, ease, ivl, usn FROM revlog WHERE usn = -1`)
	if err != nil {
		return wire.Chunk{}, fmt.Errorf("collstore: reading revlog: %w", err)
	}

	for revRows.Next() {
		var r wire.RevlogRow
		if err := revRows.Scan(&r.ID, &r.CID, &r.Ease, &r.Ivl, &r.USN); err != nil {
			revRows.Close()
			return wire.Chunk{}, fmt.Errorf("collstore: scanning revlog: %w", err)
		}

		chunk.Revlog = append(chunk.Revlog, r)
	}
	revRows.Close()

	if _, err := s.q().ExecContext(ctx, `UPDATE revlog SET usn = ? WHERE usn = -1`, serverUSN); err != nil {
		return wire.Chunk{}, fmt.Errorf("collstore: stamping revlog: %w", err)
	}

	cardRows, err := s.q().QueryContext(ctx, `SELECT id, nid, did, data, mod, usn FROM cards WHERE usn = -1`)
	if err != nil {
		return wire.Chunk{}, fmt.Errorf("collstore: reading cards: %w", err)
	}

	for cardRows.Next() {
		var c wire.CardRow
		if err := cardRows.Scan(&c.ID, &c.NID, &c.DID, &c.Data, &c.Mod, &c.USN); err != nil {
			cardRows.Close()
			return wire.Chunk{}, fmt.Errorf("collstore: scanning cards: %w", err)
		}

		chunk.Cards = append(chunk.Cards, c)
	}
	cardRows.Close()

	if _, err := s.q().ExecContext(ctx, `UPDATE cards SET usn = ? WHERE usn = -1`, serverUSN); err != nil {
		return wire.Chunk{}, fmt.Errorf("collstore: stamping cards: %w", err)
	}

	noteRows, err := s.q().QueryContext(ctx, `SELECT id, guid, mid, flds, tags, mod, usn FROM notes WHERE usn = -1`)
	if err != nil {
		return wire.Chunk{}, fmt.Errorf("collstore: reading notes: %w", err)
	}

	for noteRows.Next() {
		var n wire.NoteRow
		if err := noteRows.Scan(&n.ID, &n.GUID, &n.MID, &n.Flds, &n.Tags, &n.Mod, &n.USN); err != nil {
			noteRows.Close()
			return wire.Chunk{}, fmt.Errorf("collstore: scanning notes: %w", err)
		}

		chunk.Notes = append(chunk.Notes, n)
	}
	noteRows.Close()

	if _, err := s.q().ExecContext(ctx, `UPDATE notes SET usn = ? WHERE usn = -1`, serverUSN); err != nil {
		return wire.Chunk{}, fmt.Errorf("collstore: stamping notes: %w", err)
	}

	if _, err := s.q().ExecContext(ctx, `UPDATE graves SET usn = ? WHERE usn = -1`, serverUSN); err != nil {
		return wire.Chunk{}, fmt.Errorf("collstore: stamping graves: %w", err)
	}

	chunk.Done = true

	return chunk, nil
}

// ApplyChunk inserts/updates the client's rows. Conflict resolution for
// cards and notes: when cc.ClientUSN is higher than the server's existing
// usn for that id the client's row wins outright; a tie is broken by
// cc.ClientIsNewer; otherwise the server's row is kept. Every inserted or replaced row is marked usn = -1
// so it is redistributed to other devices on the next chunk.
func (s *Store) ApplyChunk(ctx context.Context, chunk wire.Chunk, cc collsync.ConflictContext) error {
	for _, c := range chunk.Cards {
		accept, err := s.shouldAccept(ctx, "cards", c.ID, cc)
		if err != nil {
			return err
		}

		if !accept {
			continue
		}

		if _, err := s.q().ExecContext(ctx,
			`INSERT INTO cards (id, nid, did, data, mod, usn) VALUES (?, ?, ?, ?, ?, -1)
			 ON CONFLICT(id) DO UPDATE SET nid=excluded.nid, did=excluded.did, data=excluded.data, mod=excluded.mod, usn=-1`,
			c.ID, c.NID, c.DID, c.Data, c.Mod); err != nil {
			return fmt.Errorf("collstore: applying card %d: %w", c.ID, err)
		}
	}

	for _, n := range chunk.Notes {
		accept, err := s.shouldAccept(ctx, "notes", n.ID, cc)
		if err != nil {
			return err
		}

		if !accept {
			continue
		}

		if _, err := s.q().ExecContext(ctx,
			`INSERT INTO notes (id, guid, mid, flds, tags, mod, usn) VALUES (?, ?, ?, ?, ?, ?, -1)
			 ON CONFLICT(id) DO UPDATE SET guid=excluded.guid, mid=excluded.mid, flds=excluded.flds, tags=excluded.tags, mod=excluded.mod, usn=-1`,
			n.ID, n.GUID, n.MID, n.Flds, n.Tags, n.Mod); err != nil {
			return fmt.Errorf("collstore: applying note %d: %w", n.ID, err)
		}
	}

	for _, r := range chunk.Revlog {
		if _, err := s.q().ExecContext(ctx,
			`INSERT INTO revlog (id, cid, ease, ivl, usn) VALUES (?, ?, ?, ?, -1)
			 ON CONFLICT(id) DO NOTHING`,
			r.ID, r.CID, r.Ease, r.Ivl); err != nil {
			return fmt.Errorf("collstore: applying revlog %d: %w", r.ID, err)
		}
	}

	return nil
}

// shouldAccept implements the USN-stamping conflict rule for one row id
// against the named table's existing row (if any).
func (s *Store) shouldAccept(ctx context.Context, table string, id int64, cc collsync.ConflictContext) (bool, error) {
	var existingUSN int32

	err := s.q().QueryRowContext(ctx, `SELECT usn FROM `+table+` WHERE id = ?`, id).Scan(&existingUSN)
	if err == sql.ErrNoRows {
		return true, nil // no existing row: nothing to conflict with.
	}

	if err != nil {
		return false, fmt.Errorf("collstore: reading existing %s row %d: %w", table, id, err)
	}

	switch {
	case cc.ClientUSN > existingUSN:
		return true, nil
	case cc.ClientUSN == existingUSN:
		return cc.ClientIsNewer, nil
	default:
		return false, nil
	}
}

func (s *Store) ApplyChanges(context.Context, collsync.ConflictContext) error {
	// Non-chunked collection state (config, deck options, tags) is out of
	// scope for this reference adapter's schema; nothing to merge.
	return nil
}

func (s *Store) SanityCounts(ctx context.Context) (wire.ClientCounts, error) {
	var counts wire.ClientCounts

	if err := s.q().QueryRowContext(ctx, `SELECT COUNT(*) FROM cards`).Scan(&counts.Cards); err != nil {
		return wire.ClientCounts{}, fmt.Errorf("collstore: counting cards: %w", err)
	}

	if err := s.q().QueryRowContext(ctx, `SELECT COUNT(*) FROM notes`).Scan(&counts.Notes); err != nil {
		return wire.ClientCounts{}, fmt.Errorf("collstore: counting notes: %w", err)
	}

	if err := s.q().QueryRowContext(ctx, `SELECT COUNT(*) FROM revlog`).Scan(&counts.Revlog); err != nil {
		return wire.ClientCounts{}, fmt.Errorf("collstore: counting revlog: %w", err)
	}

	return counts, nil
}

// WriteFullUpload validates tmpPath opens cleanly as a collection database
// and atomically replaces this store's file with it.
func (s *Store) WriteFullUpload(ctx context.Context, tmpPath string) error {
	check, err := sql.Open("sqlite", tmpPath)
	if err != nil {
		return fmt.Errorf("collstore: opening uploaded collection: %w", err)
	}

	if pingErr := check.PingContext(ctx); pingErr != nil {
		check.Close()
		return fmt.Errorf("collstore: uploaded collection does not open cleanly: %w", pingErr)
	}

	check.Close()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("collstore: closing current collection: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("collstore: replacing collection file: %w", err)
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("collstore: reopening collection: %w", err)
	}

	db.SetMaxOpenConns(1)
	s.db = db

	return nil
}

// FullDownloadPath returns the collection file path to stream back.
func (s *Store) FullDownloadPath(context.Context) (string, error) {
	return s.path, nil
}
