// Package sessions implements the session/host-key authentication layer
// that binds HTTP requests to per-user mutable server state across a
// multi-request sync transaction. The store's shape — mutex-guarded map,
// O(1) critical sections, Save/Load by key — mirrors a token cache.
package sessions

import (
	"crypto/md5" //nolint:gosec // host-key derivation per protocol, not a security boundary
	"crypto/rand"
	"fmt"
	"math/big"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Session is one authenticated client's state, shared by reference across
// every request in a transaction.
type Session struct {
	Username string
	UserPath string // <data_root>/<username>/
	HostKey  string
	SyncKey  string

	ClientUSN      int32
	ServerUSN      int32
	ClientIsNewer  bool

	// LastSeen is updated on every request that resolves this session via
	// Store.Touch; the idle-session reaper uses it to evict stale sessions.
	LastSeen time.Time

	// txOpen tracks whether start has opened a collection write transaction
	// not yet closed by finish/abort. Exposed via TransactionOpen/
	// SetTransactionOpen so collsync
	// can assert the invariant without sessions importing it.
	txOpen bool
}

// CollectionPath returns the path to the user's collection database.
func (s *Session) CollectionPath() string {
	return filepath.Join(s.UserPath, "collection.anki2")
}

// MediaDir returns the path to the user's media file directory.
func (s *Session) MediaDir() string {
	return filepath.Join(s.UserPath, "collection.media")
}

// MediaIndexPath returns the path to the user's media index database.
func (s *Session) MediaIndexPath() string {
	return filepath.Join(s.UserPath, "collection.media.server.db")
}

// TransactionOpen reports whether a collection write transaction is open.
func (s *Session) TransactionOpen() bool { return s.txOpen }

// SetTransactionOpen records whether a collection write transaction is open.
func (s *Session) SetTransactionOpen(open bool) { s.txOpen = open }

// New creates a Session for username rooted at dataRoot/username, minting a
// fresh host-key and sync-key.
func New(username, dataRoot string) *Session {
	return &Session{
		Username: username,
		UserPath: filepath.Join(dataRoot, username),
		HostKey:  GenerateHostKey(username),
		SyncKey:  uuid.NewString(),
		LastSeen: time.Now(),
	}
}

// GenerateHostKey mints an opaque 32-hex-char host-key:
// md5_hex(username ":" unix_seconds ":" 8_random_alphanumerics). Collisions
// are accepted as not-possible at reasonable scale.
func GenerateHostKey(username string) string {
	raw := fmt.Sprintf("%s:%d:%s", username, time.Now().Unix(), randomAlphanumeric(8))
	sum := md5.Sum([]byte(raw)) //nolint:gosec

	return fmt.Sprintf("%x", sum)
}

const alphanumeric = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func randomAlphanumeric(n int) string {
	var b strings.Builder
	b.Grow(n)

	max := big.NewInt(int64(len(alphanumeric)))

	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand failing is not recoverable; fall back to a fixed
			// character rather than panicking mid-request.
			b.WriteByte(alphanumeric[0])
			continue
		}

		b.WriteByte(alphanumeric[idx.Int64()])
	}

	return b.String()
}
