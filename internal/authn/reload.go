package authn

import (
	"fmt"
	"sync/atomic"
)

// Reloadable wraps a FileAuthenticator behind an atomic pointer, so the
// credentials file can be re-read without restarting the server (the serve
// command swaps it in on SIGHUP) while in-flight hostKey requests keep
// authenticating against a consistent snapshot.
type Reloadable struct {
	path string
	cur  atomic.Pointer[FileAuthenticator]
}

// NewReloadable loads path once and returns a Reloadable authenticator over
// it. A missing file behaves like LoadFileAuthenticator: reject everyone.
func NewReloadable(path string) (*Reloadable, error) {
	r := &Reloadable{path: path}
	if err := r.Reload(); err != nil {
		return nil, err
	}

	return r, nil
}

// Reload re-reads the credentials file and swaps it in atomically.
func (r *Reloadable) Reload() error {
	fa, err := LoadFileAuthenticator(r.path)
	if err != nil {
		return fmt.Errorf("authn: reloading %s: %w", r.path, err)
	}

	r.cur.Store(fa)

	return nil
}

// Authenticate delegates to the currently-loaded snapshot.
func (r *Reloadable) Authenticate(creds Credentials) bool {
	return r.cur.Load().Authenticate(creds)
}
