// Package ratelimit provides per-provider admission control for
// outbound handoff calls (summarization, token counting).
//
// Each limiter combines a sliding window of request timestamps with a
// token budget that resets on a rolling one-minute boundary. Limiters
// never share state unless registered under the same provider name in
// a Registry.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrTokenBudget is returned by RecordTokens when the per-minute token
// budget would be exceeded.
var ErrTokenBudget = errors.New("ratelimit: token budget exceeded")

// tokenWindow is the rolling boundary for the token-usage counter.
const tokenWindow = time.Minute

// Default limiter configuration.
const (
	DefaultMaxRequests        = 60
	DefaultWindow             = time.Minute
	DefaultMinRequestSpacing  = 0
	DefaultMaxTokensPerMinute = 100000
	DefaultPollInterval       = 25 * time.Millisecond
)

// Config holds the limits for one provider.
type Config struct {
	// MaxRequests is the request ceiling within Window.
	MaxRequests int

	// Window is the sliding-window length.
	Window time.Duration

	// MinRequestSpacing is the minimum gap between granted requests.
	// Zero disables spacing.
	MinRequestSpacing time.Duration

	// MaxTokensPerMinute bounds recorded token usage.
	MaxTokensPerMinute int

	// PollInterval is the cooperative delay used by WaitForSlot.
	PollInterval time.Duration
}

// DefaultConfig returns conservative defaults suitable for an
// auxiliary-model provider.
func DefaultConfig() Config {
	return Config{
		MaxRequests:        DefaultMaxRequests,
		Window:             DefaultWindow,
		MinRequestSpacing:  DefaultMinRequestSpacing,
		MaxTokensPerMinute: DefaultMaxTokensPerMinute,
		PollInterval:       DefaultPollInterval,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.MaxRequests <= 0 {
		return fmt.Errorf("ratelimit: max requests must be positive, got %d", c.MaxRequests)
	}
	if c.Window <= 0 {
		return fmt.Errorf("ratelimit: window must be positive, got %v", c.Window)
	}
	if c.MaxTokensPerMinute <= 0 {
		return fmt.Errorf("ratelimit: max tokens per minute must be positive, got %d", c.MaxTokensPerMinute)
	}
	return nil
}

// Result is the outcome of an admission check.
type Result struct {
	Allowed bool

	// RetryAfter is how long the caller should wait before retrying.
	// Zero when Allowed.
	RetryAfter time.Duration

	// Remaining is the number of requests still admissible in the
	// current window, after this decision.
	Remaining int

	// TokensRemaining estimates the token budget left this minute.
	TokensRemaining int
}

// Limiter is the admission controller for a single provider.
type Limiter struct {
	mu          sync.Mutex
	cfg         Config
	requests    []time.Time
	tokensUsed  int
	lastRequest time.Time
	now         func() time.Time
}

// New creates a Limiter. Zero fields in cfg are filled from defaults.
func New(cfg Config) *Limiter {
	def := DefaultConfig()
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = def.MaxRequests
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.MaxTokensPerMinute <= 0 {
		cfg.MaxTokensPerMinute = def.MaxTokensPerMinute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	return &Limiter{cfg: cfg, now: time.Now}
}

// SetClock overrides the time source, for tests.
func (l *Limiter) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// Acquire requests admission for one outbound call. On success the
// request is recorded against the window.
func (l *Limiter) Acquire() Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.pruneLocked(now)

	res := l.checkLocked(now)
	if !res.Allowed {
		return res
	}

	l.requests = append(l.requests, now)
	l.lastRequest = now
	res.Remaining--
	return res
}

// Check reports whether a call would be admitted, without recording it.
func (l *Limiter) Check() Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.pruneLocked(now)
	return l.checkLocked(now)
}

// RecordTokens charges n tokens against the per-minute budget.
// Returns ErrTokenBudget when the charge would exceed it.
func (l *Limiter) RecordTokens(n int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.resetTokensLocked(now)

	if l.tokensUsed+n > l.cfg.MaxTokensPerMinute {
		return fmt.Errorf("%w: %d used, %d requested, %d allowed per minute",
			ErrTokenBudget, l.tokensUsed, n, l.cfg.MaxTokensPerMinute)
	}
	l.tokensUsed += n
	return nil
}

// WaitForSlot polls Check on a cooperative delay loop until a slot is
// available, the timeout elapses, or ctx is done. Returns true when a
// slot was acquired.
func (l *Limiter) WaitForSlot(ctx context.Context, timeout time.Duration) bool {
	deadline := l.now().Add(timeout)

	for {
		if l.Acquire().Allowed {
			return true
		}
		if !l.now().Before(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(l.cfg.PollInterval):
		}
	}
}

// checkLocked computes the admission result. Callers must hold mu and
// have pruned the window.
func (l *Limiter) checkLocked(now time.Time) Result {
	l.resetTokensLocked(now)
	tokensRemaining := l.cfg.MaxTokensPerMinute - l.tokensUsed

	if l.cfg.MinRequestSpacing > 0 && !l.lastRequest.IsZero() {
		if gap := now.Sub(l.lastRequest); gap < l.cfg.MinRequestSpacing {
			return Result{
				RetryAfter:      l.cfg.MinRequestSpacing - gap,
				Remaining:       l.cfg.MaxRequests - len(l.requests),
				TokensRemaining: tokensRemaining,
			}
		}
	}

	if len(l.requests) >= l.cfg.MaxRequests {
		// The oldest request ageing out of the window frees a slot.
		retry := l.requests[0].Add(l.cfg.Window).Sub(now)
		if retry <= 0 {
			retry = time.Millisecond
		}
		return Result{
			RetryAfter:      retry,
			Remaining:       0,
			TokensRemaining: tokensRemaining,
		}
	}

	return Result{
		Allowed:         true,
		Remaining:       l.cfg.MaxRequests - len(l.requests),
		TokensRemaining: tokensRemaining,
	}
}

// pruneLocked drops window entries older than the window length.
// Invariant: every admission decision sees a pruned window.
func (l *Limiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-l.cfg.Window)
	keep := 0
	for _, ts := range l.requests {
		if ts.After(cutoff) {
			break
		}
		keep++
	}
	if keep > 0 {
		l.requests = append(l.requests[:0], l.requests[keep:]...)
	}
}

// resetTokensLocked zeroes the token counter once the last request is
// more than a minute old.
func (l *Limiter) resetTokensLocked(now time.Time) {
	if !l.lastRequest.IsZero() && now.Sub(l.lastRequest) > tokenWindow {
		l.tokensUsed = 0
	}
}
