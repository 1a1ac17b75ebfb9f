package store

import (
	"context"
	"sync"
	"time"

	"ms-admission/internal/models"
)

// MemoryStore is an in-process ChallengeStore for unit tests. It mirrors
// the Redis store's semantics (replace-on-put, take-removes) without the
// TTL machinery; expiry is checked by the service against ExpiresAt.
type MemoryStore struct {
	mu         sync.Mutex
	challenges map[string]models.Challenge
	attempts   map[string]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		challenges: make(map[string]models.Challenge),
		attempts:   make(map[string]int),
	}
}

func (s *MemoryStore) Put(_ context.Context, ch models.Challenge, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := ch.Purpose + ":" + ch.Subject
	s.challenges[key] = ch
	delete(s.attempts, key)
	return nil
}

func (s *MemoryStore) Take(_ context.Context, subject, purpose string) (*models.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := purpose + ":" + subject
	ch, ok := s.challenges[key]
	if !ok {
		return nil, nil
	}
	delete(s.challenges, key)
	return &ch, nil
}

func (s *MemoryStore) Restore(_ context.Context, ch models.Challenge, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challenges[ch.Purpose+":"+ch.Subject] = ch
	return nil
}

func (s *MemoryStore) RecordFailure(_ context.Context, subject, purpose string, _ time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := purpose + ":" + subject
	s.attempts[key]++
	return s.attempts[key], nil
}

func (s *MemoryStore) Clear(_ context.Context, subject, purpose string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := purpose + ":" + subject
	delete(s.challenges, key)
	delete(s.attempts, key)
	return nil
}
