package sessions

import (
	"sync"
	"time"
)

// Store is a process-wide map from host-key to Session, with an auxiliary
// index from sync-key to host-key for media endpoints. All operations
// serialize through a single mutex; every critical section below is O(1).
// Sessions are not persisted across process restart — clients re-authenticate.
type Store struct {
	mu        sync.Mutex
	byHostKey map[string]*Session
	bySyncKey map[string]string // sync-key -> host-key
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{
		byHostKey: make(map[string]*Session),
		bySyncKey: make(map[string]string),
	}
}

// Save stores session under its own host-key, indexing its sync-key too.
func (s *Store) Save(session *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.byHostKey[session.HostKey] = session
	if session.SyncKey != "" {
		s.bySyncKey[session.SyncKey] = session.HostKey
	}
}

// Load returns the session for hostKey, or nil if none exists.
func (s *Store) Load(hostKey string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.byHostKey[hostKey]
}

// LoadFromSyncKey returns the session for syncKey, or nil if none exists.
func (s *Store) LoadFromSyncKey(syncKey string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	hostKey, ok := s.bySyncKey[syncKey]
	if !ok {
		return nil
	}

	return s.byHostKey[hostKey]
}

// Touch stamps session's LastSeen to now, for idle-session reaping.
func (s *Store) Touch(session *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session.LastSeen = time.Now()
}

// Delete removes a session and its sync-key index entry.
func (s *Store) Delete(hostKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session, ok := s.byHostKey[hostKey]; ok {
		delete(s.bySyncKey, session.SyncKey)
	}

	delete(s.byHostKey, hostKey)
}

// EvictIdle removes every session whose LastSeen is older than maxAge and
// returns the evicted sessions, so the caller (the idle-session reaper) can
// abort their open collection transactions before dropping them. A zero
// maxAge is treated as "reaping disabled" by the caller, not by this method.
func (s *Store) EvictIdle(maxAge time.Duration) []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)

	var evicted []*Session

	for hostKey, session := range s.byHostKey {
		if session.LastSeen.Before(cutoff) {
			evicted = append(evicted, session)
			delete(s.bySyncKey, session.SyncKey)
			delete(s.byHostKey, hostKey)
		}
	}

	return evicted
}

// Len reports the number of active sessions. Used by tests and diagnostics.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.byHostKey)
}
