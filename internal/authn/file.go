package authn

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// record is one user's entry in the credentials file.
type record struct {
	Salt string `toml:"salt"`
	Hash string `toml:"hash"`
}

// credentialsFile is the on-disk TOML shape: [users.<name>] salt = "..", hash = "..".
type credentialsFile struct {
	Users map[string]record `toml:"users"`
}

// FileAuthenticator authenticates against a TOML file of
// username -> sha256(salt || password) pairs. Loaded once at startup; the
// file is plain TOML on disk, protected only by filesystem permissions.
type FileAuthenticator struct {
	users map[string]record
}

// LoadFileAuthenticator reads and parses the credentials file at path.
// A missing file yields an authenticator that rejects everyone, rather than
// an error, so a server can start before any user is provisioned.
func LoadFileAuthenticator(path string) (*FileAuthenticator, error) {
	var cf credentialsFile

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return &FileAuthenticator{users: map[string]record{}}, nil
		}

		return nil, fmt.Errorf("authn: stat %s: %w", path, err)
	}

	if _, err := toml.DecodeFile(path, &cf); err != nil {
		return nil, fmt.Errorf("authn: decoding %s: %w", path, err)
	}

	return &FileAuthenticator{users: cf.Users}, nil
}

// Authenticate reports whether creds matches a provisioned user. Comparison
// is constant-time to avoid leaking which byte of the hash first diverged;
// the lookup itself (username existence) is not, since that matches the
// reference server's hostKey behavior of distinguishing "no such user" and
// "wrong password" only by always returning the same 203 either way.
func (a *FileAuthenticator) Authenticate(creds Credentials) bool {
	rec, ok := a.users[creds.Username]
	if !ok {
		return false
	}

	salt, err := hex.DecodeString(rec.Salt)
	if err != nil {
		return false
	}

	want, err := hex.DecodeString(rec.Hash)
	if err != nil {
		return false
	}

	sum := sha256.Sum256(append(append([]byte{}, salt...), creds.Password...))

	return subtle.ConstantTimeCompare(sum[:], want) == 1
}

// HashPassword returns hex(sha256(salt || password)), the hash value of a new
// credentials file entry, for use by a provisioning tool or test fixture.
// The salt is not part of the result; the caller records it separately.
func HashPassword(salt []byte, password string) string {
	sum := sha256.Sum256(append(append([]byte{}, salt...), password...))
	return hex.EncodeToString(sum[:])
}
