package auth

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// SessionStore maps opaque session tokens to profile ids with a bounded
// TTL. It is constructed once by the composition root and injected where
// needed; nothing reaches it through a global.
type SessionStore struct {
	mu      sync.Mutex
	entries map[string]sessionEntry
	ttl     time.Duration
	clock   clockwork.Clock
}

type sessionEntry struct {
	profileID uuid.UUID
	expiresAt time.Time
}

// NewSessionStore creates a store whose entries live for ttl.
func NewSessionStore(clock clockwork.Clock, ttl time.Duration) *SessionStore {
	return &SessionStore{
		entries: make(map[string]sessionEntry),
		ttl:     ttl,
		clock:   clock,
	}
}

// Put registers token for profileID, refreshing its TTL.
func (s *SessionStore) Put(token string, profileID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[token] = sessionEntry{
		profileID: profileID,
		expiresAt: s.clock.Now().Add(s.ttl),
	}
}

// Get resolves token to a profile id. Expired entries miss.
func (s *SessionStore) Get(token string) (uuid.UUID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[token]
	if !ok || s.clock.Now().After(e.expiresAt) {
		return uuid.Nil, false
	}
	return e.profileID, true
}

// Delete removes token.
func (s *SessionStore) Delete(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, token)
}

// Len returns the number of live and not-yet-swept entries.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Run sweeps expired entries until ctx ends.
func (s *SessionStore) Run(ctx context.Context, interval time.Duration) {
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.sweep()
		}
	}
}

func (s *SessionStore) sweep() {
	now := s.clock.Now()
	s.mu.Lock()
	removed := 0
	for token, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, token)
			removed++
		}
	}
	s.mu.Unlock()
	if removed > 0 {
		log.Debug().Int("removed", removed).Msg("swept expired sessions")
	}
}
