// Package handoff delegates expensive content compression to external
// providers, gated by the rate limiter. Implementations must be safe
// to call from background tasks: a failure leaves the caller's entry
// untouched and prunable.
package handoff

import (
	"context"
	"errors"
)

// Sentinel errors for well-defined failure conditions.
var (
	// ErrUnavailable indicates the backend cannot serve requests.
	ErrUnavailable = errors.New("handoff: compressor unavailable")

	// ErrRateLimited indicates the provider's rate limiter denied the
	// call; the caller decides whether to wait, skip, or queue.
	ErrRateLimited = errors.New("handoff: rate limited")

	// ErrIneffective indicates compression completed but failed to
	// meet the target ratio.
	ErrIneffective = errors.New("handoff: compression did not meet target ratio")
)

// Compressor reduces content to roughly targetRatio of its original
// token footprint.
type Compressor interface {
	// Compress returns the compressed form of content, or an error
	// leaving the original content authoritative.
	Compress(ctx context.Context, content string, targetRatio float64) (string, error)
}
