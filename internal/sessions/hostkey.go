package sessions

import (
	"github.com/ankisyncd/ankisyncd-go/internal/authn"
)

// Issuer mints host-keys for authenticated users.
type Issuer struct {
	auth     authn.Authenticator
	store    *Store
	dataRoot string
}

// NewIssuer creates an Issuer backed by auth for credential checks, storing
// newly-minted sessions in store, rooted under dataRoot.
func NewIssuer(auth authn.Authenticator, store *Store, dataRoot string) *Issuer {
	return &Issuer{auth: auth, store: store, dataRoot: dataRoot}
}

// Issue authenticates creds and, on success, creates and stores a new
// Session, returning its host-key. ok is false on authentication failure —
// the caller must respond 203 with an empty body, never leaking a reason.
func (i *Issuer) Issue(creds authn.Credentials) (hostKey string, ok bool) {
	if !i.auth.Authenticate(creds) {
		return "", false
	}

	session := New(creds.Username, i.dataRoot)
	i.store.Save(session)

	return session.HostKey, true
}
