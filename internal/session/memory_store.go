package session

import (
	"context"
	"sync"
	"time"

	"reqdesk/api/internal/auth"
)

// MemoryStore is the fallback session backend when no Redis is configured.
// Sessions do not survive a restart, which only forces a re-login.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]memoryEntry
}

type memoryEntry struct {
	principal auth.Principal
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]memoryEntry)}
}

func (s *MemoryStore) SaveRefreshSession(_ context.Context, tokenHash string, principal auth.Principal, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[tokenHash] = memoryEntry{principal: principal, expiresAt: expiresAt}
	return nil
}

func (s *MemoryStore) LookupRefreshSession(_ context.Context, tokenHash string) (auth.Principal, error) {
	s.mu.RLock()
	entry, ok := s.sessions[tokenHash]
	s.mu.RUnlock()
	if !ok {
		return auth.Principal{}, ErrNotFound
	}
	if time.Now().After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.sessions, tokenHash)
		s.mu.Unlock()
		return auth.Principal{}, ErrNotFound
	}
	return entry.principal, nil
}

func (s *MemoryStore) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, tokenHash)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
