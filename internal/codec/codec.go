// Package codec provides compression and decompression for persisted
// cache entry documents.
package codec

import "io"

// Codec provides compression and decompression functionality.
type Codec interface {
	// Reader wraps r to decompress data read from it.
	Reader(r io.Reader) (io.ReadCloser, error)
	// Writer wraps w to compress data written to it.
	Writer(w io.Writer) (io.WriteCloser, error)
	// Name returns the codec identifier recorded in the store manifest
	// (e.g., "zstd", "gzip"). Empty string for no compression.
	Name() string
	// Extension returns the file extension without dot (e.g., "zst", "gz").
	// Returns empty string for no compression.
	Extension() string
}
