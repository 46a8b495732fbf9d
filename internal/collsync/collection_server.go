// Package collsync implements the collection sync state machine: the
// ordered sequence of collection endpoints, held across requests on a
// single Session, producing and applying chunks and graves. The
// collection store itself (cards/notes/revlog/graves row storage) is an
// external collaborator reached only through the CollectionServer interface
// — collsync never touches SQL directly.
package collsync

import (
	"context"

	"github.com/ankisyncd/ankisyncd-go/internal/wire"
)

// MetaInfo is what the meta endpoint reports about collection state.
type MetaInfo struct {
	Modified       int64
	SchemaModified int64
	USN            int32
	Empty          bool
	ShouldContinue bool
	HostNumber     int
}

// ConflictContext carries the three values needed by the merger for every
// row-modifying call: the client's and server's USN at transaction start,
// and which side wins USN ties.
type ConflictContext struct {
	ClientUSN     int32
	ServerUSN     int32
	ClientIsNewer bool
}

// CollectionServer is the abstract handle onto the per-user collection
// store; the state machine invokes it only through this interface. A write
// transaction spans BeginTransaction..Commit or ..Rollback, covering every
// call in between.
type CollectionServer interface {
	Meta(ctx context.Context) (MetaInfo, error)
	USN(ctx context.Context) (int32, error)

	BeginTransaction(ctx context.Context) error
	Rollback(ctx context.Context) error
	Commit(ctx context.Context) (modifiedAt int64, err error)

	// ServerGraves returns tombstones recorded with usn > sinceUSN.
	ServerGraves(ctx context.Context, sinceUSN int32) (wire.Graves, error)
	// ApplyGraves removes the objects named by client's tombstones.
	ApplyGraves(ctx context.Context, client wire.Graves, cc ConflictContext) error

	// Chunk returns (and stamps with serverUSN) all rows with usn = -1,
	// ordered revlog, cards, notes, with Done always true (single-chunk
	// chunking).
	Chunk(ctx context.Context, serverUSN int32) (wire.Chunk, error)
	// ApplyChunk inserts/updates the client's rows, resolving conflicts via cc.
	ApplyChunk(ctx context.Context, chunk wire.Chunk, cc ConflictContext) error

	// ApplyChanges merges non-chunked collection state (config, deck
	// options, tags) using the same conflict rule as ApplyChunk.
	ApplyChanges(ctx context.Context, cc ConflictContext) error

	// SanityCounts returns the server's row counts for comparison against
	// the client's ClientCounts in sanityCheck2.
	SanityCounts(ctx context.Context) (wire.ClientCounts, error)

	// WriteFullUpload validates tmpPath opens as a collection and atomically
	// replaces the user's collection file with it.
	WriteFullUpload(ctx context.Context, tmpPath string) error
	// FullDownloadPath returns the path to stream back for full_download.
	FullDownloadPath(ctx context.Context) (string, error)
}
