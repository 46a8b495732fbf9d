package media

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha1" //nolint:gosec // Anki media checksums are conventionally sha1, not a security boundary
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/ankisyncd/ankisyncd-go/internal/wire"
)

const metaEntryName = "_meta"

// Engine is the media diff engine, bound to one user's Index and media
// directory.
type Engine struct {
	index    Index
	mediaDir string
}

// NewEngine creates an Engine over index, storing file bytes under
// mediaDir.
func NewEngine(index Index, mediaDir string) *Engine {
	return &Engine{index: index, mediaDir: mediaDir}
}

// LastUSN returns the index's highest usn.
func (e *Engine) LastUSN(ctx context.Context) (int32, error) {
	return e.index.LastUSN(ctx)
}

// Begin confirms session liveness and reports the current server usn.
func (e *Engine) Begin(ctx context.Context, syncKey string) (wire.SyncBeginResponse, error) {
	usn, err := e.index.LastUSN(ctx)
	if err != nil {
		return wire.SyncBeginResponse{}, fmt.Errorf("media: begin: %w", err)
	}

	return wire.SyncBeginResponse{SyncKey: syncKey, USN: usn}, nil
}

// Changes returns records newer than clientLastUSN, or none if the client is
// already caught up.
func (e *Engine) Changes(ctx context.Context, clientLastUSN int32) ([]wire.MediaRecord, error) {
	serverUSN, err := e.index.LastUSN(ctx)
	if err != nil {
		return nil, fmt.Errorf("media: changes: %w", err)
	}

	if clientLastUSN != 0 && clientLastUSN >= serverUSN {
		return nil, nil
	}

	records, err := e.index.Since(ctx, clientLastUSN)
	if err != nil {
		return nil, fmt.Errorf("media: changes: %w", err)
	}

	return records, nil
}

// metaTuple is one entry of the `_meta` manifest: (client_filename,
// zip_entry_name_or_null_or_empty).
type metaTuple struct {
	Filename  string
	EntryName string
	IsDelete  bool
}

func parseMeta(raw []byte) ([]metaTuple, error) {
	var tuples []json.RawMessage
	if err := json.Unmarshal(raw, &tuples); err != nil {
		return nil, fmt.Errorf("decoding _meta array: %w", err)
	}

	out := make([]metaTuple, 0, len(tuples))

	for _, tupleRaw := range tuples {
		var pair []json.RawMessage
		if err := json.Unmarshal(tupleRaw, &pair); err != nil {
			return nil, fmt.Errorf("decoding _meta tuple: %w", err)
		}

		if len(pair) != 2 {
			return nil, fmt.Errorf("_meta tuple has %d elements, want 2", len(pair))
		}

		var filename string
		if err := json.Unmarshal(pair[0], &filename); err != nil {
			return nil, fmt.Errorf("decoding _meta filename: %w", err)
		}

		isNull := string(pair[1]) == "null"

		var entryName string
		if !isNull {
			if err := json.Unmarshal(pair[1], &entryName); err != nil {
				return nil, fmt.Errorf("decoding _meta entry name: %w", err)
			}
		}

		out = append(out, metaTuple{Filename: filename, EntryName: entryName, IsDelete: isNull || entryName == ""})
	}

	return out, nil
}

// UploadChanges ingests a client-built zip of added/deleted media files.
// Adds allocate a strictly monotonic usn; deletes consume no usn and are
// only recorded as tombstones when a prior record for that filename
// exists.
func (e *Engine) UploadChanges(ctx context.Context, zipBytes []byte) (processed int, newUSN int32, err error) {
	reader, err := zip.NewReader(bytes.NewReader(zipBytes), int64(len(zipBytes)))
	if err != nil {
		return 0, 0, fmt.Errorf("media: opening upload zip: %w", err)
	}

	entries := make(map[string]*zip.File, len(reader.File))
	var metaRaw []byte

	for _, f := range reader.File {
		if f.Name == metaEntryName {
			rc, openErr := f.Open()
			if openErr != nil {
				return 0, 0, fmt.Errorf("media: opening _meta: %w", openErr)
			}

			metaRaw, err = io.ReadAll(rc)
			rc.Close()

			if err != nil {
				return 0, 0, fmt.Errorf("media: reading _meta: %w", err)
			}

			continue
		}

		entries[f.Name] = f
	}

	if metaRaw == nil {
		return 0, 0, fmt.Errorf("media: upload zip has no _meta entry")
	}

	tuples, err := parseMeta(metaRaw)
	if err != nil {
		return 0, 0, fmt.Errorf("media: %w", err)
	}

	runningUSN, err := e.index.LastUSN(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("media: upload_changes: %w", err)
	}

	if err := os.MkdirAll(e.mediaDir, 0o755); err != nil {
		return 0, 0, fmt.Errorf("media: creating media dir: %w", err)
	}

	// The delete list is applied before the add list, regardless of the
	// order the tuples appear in _meta.
	var deletes, adds []metaTuple

	for _, t := range tuples {
		if t.IsDelete {
			deletes = append(deletes, t)
		} else {
			adds = append(adds, t)
		}
	}

	for _, t := range deletes {
		_, found, getErr := e.index.Get(ctx, t.Filename)
		if getErr != nil {
			return 0, 0, fmt.Errorf("media: reading existing record for %s: %w", t.Filename, getErr)
		}

		if found {
			if rmErr := os.Remove(filepath.Join(e.mediaDir, t.Filename)); rmErr != nil && !os.IsNotExist(rmErr) {
				return 0, 0, fmt.Errorf("media: removing %s: %w", t.Filename, rmErr)
			}

			if putErr := e.index.Put(ctx, wire.MediaRecord{Filename: t.Filename, Checksum: "", USN: runningUSN}); putErr != nil {
				return 0, 0, fmt.Errorf("media: recording tombstone for %s: %w", t.Filename, putErr)
			}
		}

		processed++
	}

	for _, t := range adds {
		zf, ok := entries[t.EntryName]
		if !ok {
			return 0, 0, fmt.Errorf("media: _meta references missing zip entry %q for %s", t.EntryName, t.Filename)
		}

		rc, openErr := zf.Open()
		if openErr != nil {
			return 0, 0, fmt.Errorf("media: opening zip entry %q: %w", t.EntryName, openErr)
		}

		data, readErr := io.ReadAll(rc)
		rc.Close()

		if readErr != nil {
			return 0, 0, fmt.Errorf("media: reading zip entry %q: %w", t.EntryName, readErr)
		}

		if err := writeFileAtomic(filepath.Join(e.mediaDir, t.Filename), data); err != nil {
			return 0, 0, fmt.Errorf("media: writing %s: %w", t.Filename, err)
		}

		sum := sha1.Sum(data) //nolint:gosec
		runningUSN++

		if putErr := e.index.Put(ctx, wire.MediaRecord{Filename: t.Filename, Checksum: hex.EncodeToString(sum[:]), USN: runningUSN}); putErr != nil {
			return 0, 0, fmt.Errorf("media: recording %s: %w", t.Filename, putErr)
		}

		processed++
	}

	return processed, runningUSN, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}

	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), path)
}

// DownloadFiles builds a zip containing the requested files that exist,
// with a `_meta` entry mapping each included file's sequential entry name
// back to its original filename. Missing files are silently omitted.
func (e *Engine) DownloadFiles(_ context.Context, filenames []string) ([]byte, error) {
	var buf bytes.Buffer

	zw := zip.NewWriter(&buf)
	meta := make(map[string]string)
	next := 0

	for _, name := range filenames {
		data, err := os.ReadFile(filepath.Join(e.mediaDir, name))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}

			return nil, fmt.Errorf("media: reading %s: %w", name, err)
		}

		entryName := strconv.Itoa(next)
		next++

		w, err := zw.Create(entryName)
		if err != nil {
			return nil, fmt.Errorf("media: creating zip entry for %s: %w", name, err)
		}

		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("media: writing zip entry for %s: %w", name, err)
		}

		meta[entryName] = name
	}

	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("media: encoding _meta: %w", err)
	}

	w, err := zw.Create(metaEntryName)
	if err != nil {
		return nil, fmt.Errorf("media: creating _meta entry: %w", err)
	}

	if _, err := w.Write(metaBytes); err != nil {
		return nil, fmt.Errorf("media: writing _meta entry: %w", err)
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("media: finalizing zip: %w", err)
	}

	return buf.Bytes(), nil
}

// Sanity compares local (the client's live media count) to the server's
// live record count.
func (e *Engine) Sanity(ctx context.Context, local uint32) (wire.SanityCheckStatus, error) {
	count, err := e.index.LiveCount(ctx)
	if err != nil {
		return "", fmt.Errorf("media: sanity: %w", err)
	}

	if int(local) == count {
		return wire.SanityOK, nil
	}

	return wire.SanityFailed, nil
}
