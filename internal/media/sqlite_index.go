package media

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/ankisyncd/ankisyncd-go/internal/wire"
)

// SQLiteIndex is the reference Index adapter, grounded on the same
// modernc.org/sqlite + goose migration pattern as internal/collstore.
type SQLiteIndex struct {
	db *sql.DB
}

// OpenIndex opens (creating if needed) the media index database at path and
// applies schema migrations. The concrete type is returned so callers can
// Close it; it also satisfies Index.
func OpenIndex(ctx context.Context, path string, logger *slog.Logger) (*SQLiteIndex, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("media: creating index dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("media: opening %s: %w", path, err)
	}

	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteIndex{db: db}, nil
}

func (idx *SQLiteIndex) LastUSN(ctx context.Context) (int32, error) {
	var usn int32
	if err := idx.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(usn), 0) FROM media`).Scan(&usn); err != nil {
		return 0, fmt.Errorf("media: reading last usn: %w", err)
	}

	return usn, nil
}

func (idx *SQLiteIndex) Get(ctx context.Context, filename string) (wire.MediaRecord, bool, error) {
	var csum sql.NullString
	var usn int32

	err := idx.db.QueryRowContext(ctx, `SELECT csum, usn FROM media WHERE fname = ?`, filename).Scan(&csum, &usn)
	if err == sql.ErrNoRows {
		return wire.MediaRecord{}, false, nil
	}

	if err != nil {
		return wire.MediaRecord{}, false, fmt.Errorf("media: reading %s: %w", filename, err)
	}

	return wire.MediaRecord{Filename: filename, Checksum: csum.String, USN: usn}, true, nil
}

func (idx *SQLiteIndex) Put(ctx context.Context, rec wire.MediaRecord) error {
	var csum sql.NullString
	if rec.Checksum != "" {
		csum = sql.NullString{String: rec.Checksum, Valid: true}
	}

	_, err := idx.db.ExecContext(ctx,
		`INSERT INTO media (fname, csum, usn) VALUES (?, ?, ?)
		 ON CONFLICT(fname) DO UPDATE SET csum = excluded.csum, usn = excluded.usn`,
		rec.Filename, csum, rec.USN)
	if err != nil {
		return fmt.Errorf("media: writing %s: %w", rec.Filename, err)
	}

	return nil
}

func (idx *SQLiteIndex) Since(ctx context.Context, sinceUSN int32) ([]wire.MediaRecord, error) {
	rows, err := idx.db.QueryContext(ctx, `SELECT fname, csum, usn FROM media WHERE usn > ? ORDER BY usn DESC`, sinceUSN)
	if err != nil {
		return nil, fmt.Errorf("media: reading changes since %d: %w", sinceUSN, err)
	}
	defer rows.Close()

	var records []wire.MediaRecord

	for rows.Next() {
		var fname string
		var csum sql.NullString
		var usn int32

		if err := rows.Scan(&fname, &csum, &usn); err != nil {
			return nil, fmt.Errorf("media: scanning record: %w", err)
		}

		records = append(records, wire.MediaRecord{Filename: fname, Checksum: csum.String, USN: usn})
	}

	return records, rows.Err()
}

func (idx *SQLiteIndex) LiveCount(ctx context.Context) (int, error) {
	var count int
	if err := idx.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM media WHERE csum IS NOT NULL`).Scan(&count); err != nil {
		return 0, fmt.Errorf("media: counting live records: %w", err)
	}

	return count, nil
}

// Close closes the underlying database handle.
func (idx *SQLiteIndex) Close() error { return idx.db.Close() }
