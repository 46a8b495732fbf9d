// Package authn defines the credential oracle the host-key issuer depends
// on and ships one reference implementation: a TOML file of per-user
// salted password hashes. authn.Authenticator is the contract the rest of
// the server depends on; swap the reference implementation for an
// LDAP/OAuth/whatever-backed one without touching sessions or collsync.
package authn

// Credentials is the (username, password) pair submitted to hostKey.
type Credentials struct {
	Username string
	Password string
}

// Authenticator validates a (username, password) pair. FileAuthenticator
// compares password hashes in constant time; its username lookup is not
// constant-time.
type Authenticator interface {
	Authenticate(creds Credentials) bool
}
