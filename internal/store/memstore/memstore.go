// Package memstore provides an in-memory store implementation for testing.
package memstore

import (
	"context"
	"sync"

	"github.com/agentstash/stash/internal/store"
)

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)

// Store is an in-memory store for testing.
type Store struct {
	mu         sync.RWMutex
	namespaces map[string]map[string][]byte
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		namespaces: make(map[string]map[string][]byte),
	}
}

// Get reads a document from memory.
func (s *Store) Get(ctx context.Context, namespace, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.namespaces[namespace][id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return data, nil
}

// Put writes a document to memory.
// The data is copied to prevent caller mutations from affecting the store.
func (s *Store) Put(ctx context.Context, namespace, id string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns, ok := s.namespaces[namespace]
	if !ok {
		ns = make(map[string][]byte)
		s.namespaces[namespace] = ns
	}
	copied := make([]byte, len(data))
	copy(copied, data)
	ns[id] = copied
	return nil
}

// Delete removes a document. Missing documents are ignored.
func (s *Store) Delete(ctx context.Context, namespace, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.namespaces[namespace], id)
	return nil
}

// List returns all document ids in the namespace.
func (s *Store) List(ctx context.Context, namespace string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ns := s.namespaces[namespace]
	ids := make([]string, 0, len(ns))
	for id := range ns {
		ids = append(ids, id)
	}
	return ids, nil
}

// Close is a no-op for the memory store.
func (s *Store) Close() error {
	return nil
}
