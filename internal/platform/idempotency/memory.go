package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps submissions in process. Keys are scoped to the shopper's session, so one
// instance (or sticky sessions) is enough.
type MemoryStore struct {
	mu   sync.Mutex
	subs map[string]Submission
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{subs: make(map[string]Submission)}
}

// Reserve implements Store.
func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	id := hashKey(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.subs[id]; ok && !existing.expired(now) {
		return classify(existing, fingerprint)
	}
	sub := Submission{Key: key, Fingerprint: fingerprint, ExpiresAt: now.Add(ttl)}
	s.subs[id] = sub
	return Reservation{State: StateNew, Submission: sub}, nil
}

// Complete implements Store.
func (s *MemoryStore) Complete(_ context.Context, key, fingerprint string, resp Response, expiresAt time.Time) error {
	id := hashKey(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.subs[id]; ok && existing.Fingerprint != fingerprint {
		return ErrFingerprintMismatch
	}
	s.subs[id] = Submission{
		Key:         key,
		Fingerprint: fingerprint,
		Done:        true,
		Status:      resp.Status,
		Header:      replayable(resp.Header),
		Body:        append([]byte(nil), resp.Body...),
		ExpiresAt:   expiresAt,
	}
	return nil
}

// Release implements Store.
func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.subs, hashKey(key))
	s.mu.Unlock()
	return nil
}

// CleanupExpired implements Store.
func (s *MemoryStore) CleanupExpired(_ context.Context, now time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, sub := range s.subs {
		if limit > 0 && removed >= limit {
			break
		}
		if sub.expired(now) {
			delete(s.subs, id)
			removed++
		}
	}
	return removed, nil
}
