package memory

import (
	"context"
	"sync"

	"github.com/code-payments/flipchat-billing/iap"
)

// InMemoryStore keeps the consumed tokens for the lifetime of the process.
type InMemoryStore struct {
	mu     sync.RWMutex
	tokens map[string]struct{}
}

func NewInMemory() iap.TokenStore {
	return &InMemoryStore{
		tokens: map[string]struct{}{},
	}
}

func (s *InMemoryStore) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens = make(map[string]struct{})
}

func (s *InMemoryStore) MarkConsumed(_ context.Context, token string) (bool, error) {
	if token == "" {
		return false, iap.ErrEmptyToken
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tokens[token]; ok {
		return false, nil
	}

	s.tokens[token] = struct{}{}

	return true, nil
}

func (s *InMemoryStore) IsConsumed(_ context.Context, token string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.tokens[token]
	return ok, nil
}
