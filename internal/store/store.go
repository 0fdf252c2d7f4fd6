// Package store defines the key-value persistence contract for cache
// entries. Documents are addressed by namespace and id; the cache core
// does not assume a specific storage engine.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a document does not exist in the store.
var ErrNotFound = errors.New("store: document not found")

// Store defines the interface for persistence backends.
// Implementations handle layout, compression, and locking internally.
type Store interface {
	// Get reads the document stored under namespace/id.
	Get(ctx context.Context, namespace, id string) ([]byte, error)

	// Put writes the document under namespace/id, replacing any
	// previous version.
	Put(ctx context.Context, namespace, id string, data []byte) error

	// Delete removes the document under namespace/id.
	// Deleting a missing document is not an error.
	Delete(ctx context.Context, namespace, id string) error

	// List returns the ids of all documents in the namespace.
	List(ctx context.Context, namespace string) ([]string, error)

	// Close releases any resources held by the store.
	Close() error
}
