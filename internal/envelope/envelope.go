// Package envelope decodes the multipart/query-string request envelope
// every sync endpoint shares: well-known keys k, sk, c, data, with gzip
// applied to data when c == "1". Written in the small-focused-helper style
// used for request building elsewhere in this repo (wrapped errors, no
// premature abstraction), just running in the opposite direction —
// decoding request bodies instead of building them.
package envelope

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"

	"github.com/ankisyncd/ankisyncd-go/internal/apierr"
)

// Fields are the well-known envelope keys, name -> raw bytes.
type Fields map[string][]byte

// HostKey returns the "k" field as a string, or "" if absent.
func (f Fields) HostKey() string { return string(f["k"]) }

// SyncKey returns the "sk" field as a string, or "" if absent.
func (f Fields) SyncKey() string { return string(f["sk"]) }

// Data returns the decoded "data" payload and whether it was present.
func (f Fields) Data() ([]byte, bool) {
	d, ok := f["data"]
	return d, ok
}

// Parse decodes the envelope from an HTTP request: query string for GET,
// multipart/form-data for POST. The "data" field is gunzipped in place when
// "c" == "1". Returns an *apierr.StatusError wrapping ErrProtocolDecode on
// any malformed input.
func Parse(r *http.Request) (Fields, error) {
	var raw map[string][]byte
	var err error

	if r.Method == http.MethodGet {
		raw, err = parseQuery(r)
	} else {
		raw, err = parseMultipart(r)
	}

	if err != nil {
		return nil, err
	}

	if data, ok := raw["data"]; ok {
		decoded, decErr := maybeGunzip(data, raw["c"])
		if decErr != nil {
			return nil, apierr.Wrap(fmt.Errorf("%w: %w", apierr.ErrProtocolDecode, decErr), "bad gzip payload")
		}

		raw["data"] = decoded
	}

	return Fields(raw), nil
}

func parseQuery(r *http.Request) (map[string][]byte, error) {
	q := r.URL.Query()
	out := make(map[string][]byte, len(q))

	for k, v := range q {
		if len(v) == 0 {
			continue
		}

		out[k] = []byte(v[len(v)-1])
	}

	return out, nil
}

func parseMultipart(r *http.Request) (map[string][]byte, error) {
	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType == "" {
		// A POST with no (or an unparseable) Content-Type, as thin clients
		// send for payload-less endpoints (e.g. chunk, finish), is treated
		// as an empty envelope. A multipart type without a boundary is not.
		return map[string][]byte{}, nil
	}

	boundary, ok := params["boundary"]
	if !ok {
		return nil, apierr.Wrap(fmt.Errorf("%w: missing multipart boundary", apierr.ErrProtocolDecode), "")
	}

	mr := multipart.NewReader(r.Body, boundary)
	out := make(map[string][]byte)

	for {
		part, err := mr.NextPart()
		// Only a bare io.EOF marks the closing boundary; a body cut off before
		// it surfaces as a wrapped EOF and is malformed.
		if err == io.EOF {
			break
		}

		if err != nil {
			return nil, apierr.Wrap(fmt.Errorf("%w: %w", apierr.ErrProtocolDecode, err), "malformed multipart body")
		}

		name := part.FormName()
		if name == "" {
			part.Close()
			continue
		}

		var buf bytes.Buffer
		if _, err := io.Copy(&buf, part); err != nil {
			part.Close()
			return nil, apierr.Wrap(fmt.Errorf("%w: %w", apierr.ErrProtocolDecode, err), "reading multipart part")
		}

		// A field repeated across parts (chunked client-side) concatenates
		// into the full value for that name.
		if existing, ok := out[name]; ok {
			out[name] = append(existing, buf.Bytes()...)
		} else {
			out[name] = buf.Bytes()
		}

		part.Close()
	}

	return out, nil
}

func maybeGunzip(data, compressionFlag []byte) ([]byte, error) {
	if string(compressionFlag) != "1" {
		return data, nil
	}

	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	var out bytes.Buffer
	if _, err := io.Copy(&out, zr); err != nil {
		return nil, err
	}

	return out.Bytes(), nil
}
