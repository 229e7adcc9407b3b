package intent

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps intents in process.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Intent
	now     func() time.Time
}

// NewMemoryStore constructs an empty memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Intent), now: time.Now}
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, in Intent) error {
	if in.Token == "" {
		return ErrInvalid
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[in.Token] = in
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, token string) (Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.records[token]
	if !ok || in.Expired(s.now()) {
		return Intent{}, ErrNotFound
	}
	return in, nil
}

// Delete implements Store. Deleting an unknown token is not an error.
func (s *MemoryStore) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, token)
	return nil
}

// Take implements Store.
func (s *MemoryStore) Take(_ context.Context, token string) (Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.records[token]
	if !ok {
		return Intent{}, ErrNotFound
	}
	delete(s.records, token)
	if in.Expired(s.now()) {
		return Intent{}, ErrNotFound
	}
	return in, nil
}

// CleanupExpired implements Store.
func (s *MemoryStore) CleanupExpired(_ context.Context, now time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for token, in := range s.records {
		if limit > 0 && removed >= limit {
			break
		}
		if !in.Expired(now) {
			continue
		}
		delete(s.records, token)
		removed++
	}
	return removed, nil
}

// Len reports how many intents are held, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
