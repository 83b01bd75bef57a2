package testsupport

import (
	"sync"
	"time"

	"brightcart/internal/auth"
)

// SessionStoreStub is an in-memory auth.SessionStore implementation intended for tests.
// It allows seeding records with custom expirations and inspecting stored tokens.
type SessionStoreStub struct {
	mu       sync.RWMutex
	sessions map[string]auth.SessionRecord
}

// NewSessionStoreStub constructs a SessionStoreStub with empty state.
func NewSessionStoreStub() *SessionStoreStub {
	return &SessionStoreStub{sessions: make(map[string]auth.SessionRecord)}
}

// Save records the session details for the provided hashed token.
func (s *SessionStoreStub) Save(tokenHash, userID string, expiresAt, absoluteExpiresAt time.Time) error {
	s.mu.Lock()
	s.sessions[tokenHash] = auth.SessionRecord{
		TokenHash:         tokenHash,
		UserID:            userID,
		ExpiresAt:         expiresAt.UTC(),
		AbsoluteExpiresAt: absoluteExpiresAt.UTC(),
	}
	s.mu.Unlock()
	return nil
}

// Get retrieves the session record for the provided hashed token.
func (s *SessionStoreStub) Get(tokenHash string) (auth.SessionRecord, bool, error) {
	s.mu.RLock()
	record, ok := s.sessions[tokenHash]
	s.mu.RUnlock()
	return record, ok, nil
}

// Delete removes the session token from the store.
func (s *SessionStoreStub) Delete(tokenHash string) error {
	s.mu.Lock()
	delete(s.sessions, tokenHash)
	s.mu.Unlock()
	return nil
}

// PurgeExpired removes sessions that have passed their expiration.
func (s *SessionStoreStub) PurgeExpired(now time.Time) error {
	s.mu.Lock()
	for tokenHash, record := range s.sessions {
		if now.After(record.ExpiresAt) {
			delete(s.sessions, tokenHash)
		}
	}
	s.mu.Unlock()
	return nil
}

// Seed inserts a session record with the provided values, overriding any existing entry.
func (s *SessionStoreStub) Seed(tokenHash, userID string, expiresAt, absoluteExpiresAt time.Time) {
	s.mu.Lock()
	s.sessions[tokenHash] = auth.SessionRecord{
		TokenHash:         tokenHash,
		UserID:            userID,
		ExpiresAt:         expiresAt.UTC(),
		AbsoluteExpiresAt: absoluteExpiresAt.UTC(),
	}
	s.mu.Unlock()
}

// Record looks up a hashed token and returns the stored SessionRecord when present.
func (s *SessionStoreStub) Record(tokenHash string) (auth.SessionRecord, bool) {
	s.mu.RLock()
	record, ok := s.sessions[tokenHash]
	s.mu.RUnlock()
	return record, ok
}

// Len reports how many sessions the stub currently holds.
func (s *SessionStoreStub) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
