package sessionstore

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/agentrelay/router"
)

type memoryEntry struct {
	snap      router.Snapshot
	expiresAt *time.Time
}

// MemoryStore is an in-memory Store. Suitable for a single process and for
// tests. Data is lost on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
	closed  bool
}

// NewMemoryStore creates an in-memory store. ttl <= 0 disables expiry.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Load returns a copy of the stored snapshot.
func (s *MemoryStore) Load(ctx context.Context, sessionID string) (router.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return router.Snapshot{}, ErrStoreClosed
	}
	e, ok := s.entries[sessionID]
	if !ok || (e.expiresAt != nil && !s.now().Before(*e.expiresAt)) {
		return router.Snapshot{}, ErrNotFound
	}
	return cloneSnapshot(e.snap), nil
}

// Save stores a copy of snap.
func (s *MemoryStore) Save(ctx context.Context, sessionID string, snap router.Snapshot) error {
	if err := ValidateSessionID(sessionID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	s.entries[sessionID] = memoryEntry{
		snap:      cloneSnapshot(snap),
		expiresAt: expiry(s.now(), s.ttl),
	}
	return nil
}

// Delete removes sessionID.
func (s *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	delete(s.entries, sessionID)
	return nil
}

// PurgeExpired drops expired sessions and returns how many were removed.
func (s *MemoryStore) PurgeExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}
	now := s.now()
	n := 0
	for id, e := range s.entries {
		if e.expiresAt != nil && !now.Before(*e.expiresAt) {
			delete(s.entries, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored sessions, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Ping reports whether the store is open.
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Close closes the store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.entries = make(map[string]memoryEntry)
	return nil
}
