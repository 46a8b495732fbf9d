// Package media implements the media differential sync engine:
// last_usn/begin/media_changes/upload_changes/download_files/media_sanity,
// layered over an abstract Index so the USN bookkeeping and zip handling
// are independent of how records are stored. SQLiteIndex is the reference
// adapter shipped so the server runs standalone.
package media

import (
	"context"

	"github.com/ankisyncd/ankisyncd-go/internal/wire"
)

// Index is the external collaborator holding the per-user
// (filename, checksum, usn) table.
type Index interface {
	// LastUSN returns the highest usn in the index, or 0 if empty.
	LastUSN(ctx context.Context) (int32, error)

	// Get returns the record for filename, if one exists (live or
	// tombstoned).
	Get(ctx context.Context, filename string) (rec wire.MediaRecord, found bool, err error)

	// Put inserts or replaces the record for rec.Filename.
	Put(ctx context.Context, rec wire.MediaRecord) error

	// Since returns every record with usn > sinceUSN, in descending usn
	// order.
	Since(ctx context.Context, sinceUSN int32) ([]wire.MediaRecord, error)

	// LiveCount returns the count of non-tombstone records.
	LiveCount(ctx context.Context) (int, error)
}
