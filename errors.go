package stash

import "errors"

// Sentinel errors for well-defined error conditions.
var (
	// ErrNotFound indicates the entry id is not in the cache.
	ErrNotFound = errors.New("stash: entry not found")

	// ErrClosed indicates the optimizer has been closed.
	ErrClosed = errors.New("stash: optimizer closed")

	// ErrInvalidConfig indicates the optimizer was constructed with an
	// invalid configuration.
	ErrInvalidConfig = errors.New("stash: invalid configuration")

	// ErrMalformedContent indicates Add rejected the content before any
	// store mutation.
	ErrMalformedContent = errors.New("stash: malformed content")

	// ErrCapacityEmergency indicates utilization crossed the emergency
	// threshold and eviction could not bring it back under the hard
	// threshold. This is the one maintenance failure surfaced to the
	// host, since it means compaction could not be prevented.
	ErrCapacityEmergency = errors.New("stash: capacity emergency not resolved")
)
