// Package diskstore implements a disk-based filesystem storage backend.
//
// Entry documents are spread across fnv-hashed segment directories per
// namespace and compressed with the configured codec. Because several
// agent instances may share the same data directory, all mutating
// operations are guarded by an advisory file lock with staleness
// detection; read-only operations skip the lock.
package diskstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/agentstash/stash/internal/codec"
	"github.com/agentstash/stash/internal/shard"
	"github.com/agentstash/stash/internal/store"
)

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)

const (
	defaultSegments      = 64
	defaultLockStaleness = 30 * time.Second
	lockRetryDelay       = 50 * time.Millisecond
	lockFilename         = ".lock"
)

// Store is a disk-based filesystem storage backend.
type Store struct {
	root      string
	codec     codec.Codec
	segments  int
	staleness time.Duration
	owner     string
	lock      *flock.Flock
}

// Option configures a Store.
type Option func(*Store)

// WithSegments sets the number of segment directories per namespace.
// Default is 64. Must match the layout recorded in the manifest.
func WithSegments(n int) Option {
	return func(s *Store) {
		s.segments = n
	}
}

// WithLockStaleness sets the window after which an advisory lock held
// by another instance is considered abandoned and may be reclaimed.
// Default is 30s.
func WithLockStaleness(d time.Duration) Option {
	return func(s *Store) {
		s.staleness = d
	}
}

// WithOwner sets the owner string recorded in the lock metadata.
// Defaults to hostname:pid.
func WithOwner(owner string) Option {
	return func(s *Store) {
		s.owner = owner
	}
}

// New creates a new disk store rooted at the given directory,
// creating it if necessary. The codec handles compression.
// A manifest is written on first use and validated on subsequent opens.
func New(root string, c codec.Codec, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating root directory: %w", err)
	}

	s := &Store{
		root:      root,
		codec:     c,
		segments:  defaultSegments,
		staleness: defaultLockStaleness,
		lock:      flock.New(filepath.Join(root, lockFilename)),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.owner == "" {
		host, _ := os.Hostname()
		s.owner = fmt.Sprintf("%s:%d", host, os.Getpid())
	}

	if err := s.ensureManifest(); err != nil {
		return nil, err
	}

	return s, nil
}

// Get reads and decompresses the document stored under namespace/id.
// Read-only: does not take the advisory lock.
func (s *Store) Get(ctx context.Context, namespace, id string) ([]byte, error) {
	// Check for cancellation before starting I/O.
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	compressed, err := os.ReadFile(s.docPath(namespace, id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("reading document: %w", err)
	}

	reader, err := s.codec.Reader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("creating decompressor: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("decompressing document: %w", err)
	}

	return data, nil
}

// Put compresses and writes the document under namespace/id.
func (s *Store) Put(ctx context.Context, namespace, id string, data []byte) error {
	release, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	path := s.docPath(namespace, id)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating segment directory: %w", err)
	}

	var buf bytes.Buffer
	writer, err := s.codec.Writer(&buf)
	if err != nil {
		return fmt.Errorf("creating compressor: %w", err)
	}
	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return fmt.Errorf("compressing document: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("finalizing compression: %w", err)
	}

	// Write to a temp file and rename so readers never see a partial
	// document.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing document: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing document: %w", err)
	}

	return nil
}

// Delete removes the document under namespace/id.
// Deleting a missing document is not an error.
func (s *Store) Delete(ctx context.Context, namespace, id string) error {
	release, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := os.Remove(s.docPath(namespace, id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting document: %w", err)
	}
	return nil
}

// List returns the ids of all documents in the namespace.
// Read-only: does not take the advisory lock.
func (s *Store) List(ctx context.Context, namespace string) ([]string, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	nsDir := filepath.Join(s.root, url.PathEscape(namespace))
	segDirs, err := os.ReadDir(nsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading namespace directory: %w", err)
	}

	var ids []string
	ext := s.docExt()
	for _, seg := range segDirs {
		if !seg.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(nsDir, seg.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading segment directory: %w", err)
		}
		for _, f := range files {
			name := f.Name()
			if !strings.HasSuffix(name, ext) {
				continue
			}
			id, err := url.PathUnescape(strings.TrimSuffix(name, ext))
			if err != nil {
				continue
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Close releases the advisory lock if held.
func (s *Store) Close() error {
	return s.lock.Unlock()
}

// acquire takes the advisory lock, reclaiming it first if the current
// holder's metadata is older than the staleness window. The returned
// function releases the lock.
func (s *Store) acquire(ctx context.Context) (func(), error) {
	locked, err := s.lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring store lock: %w", err)
	}

	if !locked {
		if s.lockIsStale() {
			// Holder looks dead; drop its metadata so a fresh claim
			// is not mistaken for the abandoned one.
			os.Remove(s.lockInfoPath())
		}
		locked, err = s.lock.TryLockContext(ctx, lockRetryDelay)
		if err != nil {
			return nil, fmt.Errorf("waiting for store lock: %w", err)
		}
		if !locked {
			return nil, fmt.Errorf("store lock not acquired")
		}
	}

	s.writeLockInfo()
	return func() {
		os.Remove(s.lockInfoPath())
		s.lock.Unlock()
	}, nil
}

func (s *Store) docPath(namespace, id string) string {
	seg := shard.Assign(id, s.segments)
	return filepath.Join(
		s.root,
		url.PathEscape(namespace),
		fmt.Sprintf("%03d", seg),
		url.PathEscape(id)+s.docExt(),
	)
}

func (s *Store) docExt() string {
	if ext := s.codec.Extension(); ext != "" {
		return ".doc." + ext
	}
	return ".doc"
}
