package store

import (
	"context"
	"sync"
)

// MemoryStore keeps documents in process memory. Nothing survives a restart.
type MemoryStore struct {
	docs   map[string]*Document
	closed bool
	mu     sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]*Document)}
}

func (s *MemoryStore) Find(_ context.Context, name string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrClosed
	}
	doc, ok := s.docs[name]
	if !ok {
		return nil, ErrNotFound
	}
	return doc.Clone(), nil
}

func (s *MemoryStore) Upsert(_ context.Context, doc *Document) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	stored := doc.Clone()
	s.docs[doc.Name] = stored
	return stored.Clone(), nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
