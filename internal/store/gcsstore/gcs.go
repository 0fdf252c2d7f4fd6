// Package gcsstore implements a Google Cloud Storage backend.
//
// A remote bucket lets several agent instances on different machines
// share one persisted cache. GCS object writes are atomic, so no
// advisory locking is needed here.
package gcsstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/agentstash/stash/internal/codec"
	"github.com/agentstash/stash/internal/store"
)

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)

// Store is a Google Cloud Storage backend.
type Store struct {
	client *storage.Client
	bucket *storage.BucketHandle
	prefix string
	codec  codec.Codec
}

// New creates a new GCS store.
// The bucket must already exist.
// The codec handles compression/decompression.
func New(ctx context.Context, bucketName string, c codec.Codec, opts ...Option) (*Store, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating GCS client: %w", err)
	}

	s := &Store{
		client: client,
		bucket: client.Bucket(bucketName),
		codec:  c,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix sets a key prefix for all operations.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = strings.TrimSuffix(prefix, "/")
		if s.prefix != "" {
			s.prefix += "/"
		}
	}
}

// Get reads and decompresses the document stored under namespace/id.
func (s *Store) Get(ctx context.Context, namespace, id string) ([]byte, error) {
	obj := s.bucket.Object(s.docKey(namespace, id))

	reader, err := obj.NewReader(ctx)
	if err != nil {
		if err == storage.ErrObjectNotExist {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("creating reader: %w", err)
	}
	defer reader.Close()

	decompressor, err := s.codec.Reader(reader)
	if err != nil {
		return nil, fmt.Errorf("creating decompressor: %w", err)
	}
	defer decompressor.Close()

	data, err := io.ReadAll(decompressor)
	if err != nil {
		return nil, fmt.Errorf("decompressing document: %w", err)
	}

	return data, nil
}

// Put compresses and writes the document under namespace/id.
func (s *Store) Put(ctx context.Context, namespace, id string, data []byte) error {
	var buf bytes.Buffer
	compressor, err := s.codec.Writer(&buf)
	if err != nil {
		return fmt.Errorf("creating compressor: %w", err)
	}
	if _, err := compressor.Write(data); err != nil {
		compressor.Close()
		return fmt.Errorf("compressing document: %w", err)
	}
	if err := compressor.Close(); err != nil {
		return fmt.Errorf("finalizing compression: %w", err)
	}

	writer := s.bucket.Object(s.docKey(namespace, id)).NewWriter(ctx)
	if _, err := writer.Write(buf.Bytes()); err != nil {
		writer.Close()
		return fmt.Errorf("writing document: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("finalizing write: %w", err)
	}
	return nil
}

// Delete removes the document under namespace/id.
// Deleting a missing document is not an error.
func (s *Store) Delete(ctx context.Context, namespace, id string) error {
	err := s.bucket.Object(s.docKey(namespace, id)).Delete(ctx)
	if err != nil && err != storage.ErrObjectNotExist {
		return fmt.Errorf("deleting document: %w", err)
	}
	return nil
}

// List returns the ids of all documents in the namespace.
func (s *Store) List(ctx context.Context, namespace string) ([]string, error) {
	prefix := s.prefix + namespace + "/"
	it := s.bucket.Objects(ctx, &storage.Query{Prefix: prefix})

	var ids []string
	ext := s.docExt()
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("listing documents: %w", err)
		}
		name := strings.TrimPrefix(attrs.Name, prefix)
		if !strings.HasSuffix(name, ext) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ext))
	}
	return ids, nil
}

// Close releases resources.
func (s *Store) Close() error {
	return s.client.Close()
}

// docKey returns the full object key for a document.
func (s *Store) docKey(namespace, id string) string {
	return s.prefix + namespace + "/" + id + s.docExt()
}

func (s *Store) docExt() string {
	if ext := s.codec.Extension(); ext != "" {
		return ".doc." + ext
	}
	return ".doc"
}
