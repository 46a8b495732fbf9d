// Package wire holds the typed request/response shapes for every sync
// endpoint, matching the JSON field names the Anki client ecosystem
// expects on the wire.
package wire

// HostKeyRequest is the body of POST /sync/hostKey.
type HostKeyRequest struct {
	Username string `json:"u"`
	Password string `json:"p"`
}

// HostKeyResponse is returned on successful authentication.
type HostKeyResponse struct {
	Key string `json:"key"`
}

// MetaResponse is returned by the meta endpoint. No state change.
type MetaResponse struct {
	ModifiedSchema   int64 `json:"scm"`
	ServerMessage    string `json:"msg"`
	ShouldContinue   bool  `json:"cont"`
	HostNumber       int   `json:"hostNum"`
	Empty            bool  `json:"empty"`
	ServerUSN        int32 `json:"usn"`
	ServerModified   int64 `json:"mod"`
}

// Graves lists tombstones for deleted collection objects, keyed by object
// type (cards, notes, decks).
type Graves struct {
	Cards []int64 `json:"cards"`
	Notes []int64 `json:"notes"`
	Decks []int64 `json:"decks"`
}

// IsEmpty reports whether the graveyard carries no tombstones at all.
func (g Graves) IsEmpty() bool {
	return len(g.Cards) == 0 && len(g.Notes) == 0 && len(g.Decks) == 0
}

// StartRequest is the body of POST /sync/start.
type StartRequest struct {
	ClientUSN             int32   `json:"client_usn"`
	LocalIsNewer          bool    `json:"local_is_newer"`
	DeprecatedClientGraves *Graves `json:"deprecated_client_graves,omitempty"`
}

// CardRow, NoteRow, RevlogRow are the row shapes carried in a Chunk. Field
// sets mirror the subset of the Anki collection schema relevant to sync
// (full column lists belong to the collection store, not the protocol).
type CardRow struct {
	ID   int64  `json:"id"`
	NID  int64  `json:"nid"`
	DID  int64  `json:"did"`
	Data string `json:"data"`
	USN  int32  `json:"usn"`
	Mod  int64  `json:"mod"`
}

type NoteRow struct {
	ID    int64    `json:"id"`
	GUID  string   `json:"guid"`
	MID   int64    `json:"mid"`
	Flds  string   `json:"flds"`
	Tags  string   `json:"tags"`
	USN   int32    `json:"usn"`
	Mod   int64    `json:"mod"`
}

type RevlogRow struct {
	ID    int64  `json:"id"`
	CID   int64  `json:"cid"`
	Ease  int32  `json:"ease"`
	Ivl   int64  `json:"ivl"`
	USN   int32  `json:"usn"`
}

// Chunk is a bounded batch of revlog/card/note rows, ordered revlog, cards,
// notes. Done is true once both directions have drained everything with
// usn = -1.
type Chunk struct {
	Revlog []RevlogRow `json:"revlog"`
	Cards  []CardRow   `json:"cards"`
	Notes  []NoteRow   `json:"notes"`
	Done   bool        `json:"done"`
}

// ApplyChunkRequest is the body of POST /sync/applyChunk.
type ApplyChunkRequest struct {
	Chunk Chunk `json:"chunk"`
}

// ApplyGravesRequest is the body of POST /sync/applyGraves.
type ApplyGravesRequest struct {
	Chunk Graves `json:"chunk"`
}

// ClientCounts is the client's row counts submitted to sanityCheck2.
type ClientCounts struct {
	Cards  int `json:"cards"`
	Notes  int `json:"notes"`
	Revlog int `json:"revlog"`
}

// SanityCheckRequest is the body of POST /sync/sanityCheck2.
type SanityCheckRequest struct {
	Client ClientCounts `json:"client"`
}

// SanityCheckStatus is "OK" or "FAILED".
type SanityCheckStatus string

const (
	SanityOK     SanityCheckStatus = "OK"
	SanityFailed SanityCheckStatus = "FAILED"
)

// SanityCheckResponse wraps the sanity check result.
type SanityCheckResponse struct {
	Status SanityCheckStatus `json:"status"`
}

// FinishResponse is returned by finish: the new collection modified time.
type FinishResponse struct {
	Modified int64 `json:"mod"`
}

// MediaRecord is one (filename, checksum, usn) row. Checksum is empty for a
// tombstone (deleted file).
type MediaRecord struct {
	Filename string `json:"fname"`
	Checksum string `json:"csum"`
	USN      int32  `json:"usn"`
}

// MarshalTuple renders the record as the [fname, csum, usn] wire tuple the
// client expects, with Checksum as JSON null for tombstones.
func (m MediaRecord) MarshalTuple() []any {
	var csum any
	if m.Checksum != "" {
		csum = m.Checksum
	}

	return []any{m.Filename, csum, m.USN}
}

// RecordBatchRequest is the body of POST /msync/mediaChanges.
type RecordBatchRequest struct {
	LastUSN int32 `json:"last_usn"`
}

// MediaRecordResult wraps the mediaChanges response: { data, err }.
type MediaRecordResult struct {
	Data [][]any `json:"data"`
	Err  string  `json:"err"`
}

// UploadChangesResult wraps the uploadChanges response: { data: [processed, usn], err }.
type UploadChangesResult struct {
	Data [2]int64 `json:"data"`
	Err  string   `json:"err"`
}

// ZipRequest is the body of POST /msync/downloadFiles.
type ZipRequest struct {
	Files []string `json:"files"`
}

// FinalizeRequest is the body of POST /msync/mediaSanity.
type FinalizeRequest struct {
	Local uint32 `json:"local"`
}

// FinalizeResponse wraps the mediaSanity response.
type FinalizeResponse struct {
	Data string `json:"data"`
	Err  string `json:"err"`
}

// SyncBeginResponse is the inner payload of POST /msync/begin.
type SyncBeginResponse struct {
	SyncKey string `json:"sk"`
	USN     int32  `json:"usn"`
}

// SyncBeginResult wraps SyncBeginResponse: { data, err }.
type SyncBeginResult struct {
	Data *SyncBeginResponse `json:"data"`
	Err  string             `json:"err"`
}
