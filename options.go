package stash

import (
	"time"

	"go.uber.org/zap"

	"github.com/agentstash/stash/internal/handoff"
	"github.com/agentstash/stash/internal/latency"
	"github.com/agentstash/stash/internal/pruning"
	"github.com/agentstash/stash/internal/ratelimit"
	"github.com/agentstash/stash/internal/relevance"
	"github.com/agentstash/stash/internal/stats"
	"github.com/agentstash/stash/internal/store"
	"github.com/agentstash/stash/internal/temporal"
	"github.com/agentstash/stash/internal/tokencount"
)

// Public aliases for the collaborator contracts and configuration
// structs the options accept.
type (
	// TokenCounter converts content into a token-count estimate.
	TokenCounter = tokencount.Counter

	// EmbeddingBackend produces embeddings for similarity scoring.
	EmbeddingBackend = relevance.Backend

	// Compressor reduces content toward a target token ratio.
	Compressor = handoff.Compressor

	// Store is the key-value persistence backend.
	Store = store.Store

	// Query is the current query state relevance is computed against.
	Query = relevance.QueryContext

	// TemporalConfig holds tier boundaries and the compression target.
	TemporalConfig = temporal.Config

	// PruningConfig holds thresholds and the default strategy.
	PruningConfig = pruning.Config

	// Thresholds holds the soft, hard, and emergency bands.
	Thresholds = pruning.Thresholds

	// RelevanceConfig holds scorer tuning parameters.
	RelevanceConfig = relevance.Config

	// RateLimitConfig holds the limits for one outbound provider.
	RateLimitConfig = ratelimit.Config
)

// Default orchestrator configuration.
const (
	// DefaultCapacity is the default token budget.
	DefaultCapacity = 200000

	// DefaultHookTimeout bounds hook-facing event handling.
	DefaultHookTimeout = 3 * time.Second

	// DefaultMaxConcurrentCompressions bounds in-flight background
	// compression tasks.
	DefaultMaxConcurrentCompressions = 4

	// DefaultNamespace is the store namespace entries persist under.
	DefaultNamespace = "default"
)

// Option configures an Optimizer.
type Option interface {
	apply(*options)
}

// options holds the optimizer configuration.
type options struct {
	capacity        int
	counter         tokencount.Counter
	backend         relevance.Backend
	relevanceCfg    relevance.Config
	temporalCfg     temporal.Config
	pruningCfg      pruning.Config
	limitDefaults   ratelimit.Config
	limitOverrides  map[string]ratelimit.Config
	summarizer      handoff.Compressor
	quantizer       handoff.Compressor
	store           store.Store
	namespace       string
	stats           stats.Collector
	logger          *zap.Logger
	latencyCapacity int
	hookTimeout     time.Duration
	maxCompressions int64
	clock           func() time.Time
}

// defaultOptions returns the default configuration.
func defaultOptions() options {
	return options{
		capacity:        DefaultCapacity,
		counter:         tokencount.NewHeuristic(),
		relevanceCfg:    relevance.DefaultConfig(),
		temporalCfg:     temporal.DefaultConfig(),
		pruningCfg:      pruning.DefaultConfig(),
		limitDefaults:   ratelimit.DefaultConfig(),
		quantizer:       handoff.NewQuantizer(),
		namespace:       DefaultNamespace,
		stats:           stats.NewNoop(),
		logger:          zap.NewNop(),
		latencyCapacity: latency.DefaultCapacity,
		hookTimeout:     DefaultHookTimeout,
		maxCompressions: DefaultMaxConcurrentCompressions,
		clock:           time.Now,
	}
}

// optionFunc wraps a function to implement Option.
type optionFunc func(*options)

// Compile-time check that optionFunc implements Option.
var _ Option = optionFunc(nil)

func (f optionFunc) apply(o *options) { f(o) }

// WithCapacity sets the token budget. Default is 200000.
func WithCapacity(tokens int) Option {
	return optionFunc(func(o *options) {
		o.capacity = tokens
	})
}

// WithTokenCounter sets the token counter.
// If not set, a character-ratio heuristic is used.
func WithTokenCounter(c TokenCounter) Option {
	return optionFunc(func(o *options) {
		o.counter = c
	})
}

// WithEmbeddingBackend sets the embedding backend for relevance
// scoring. If not set, or whenever the backend fails, scoring falls
// back to the pure heuristic.
func WithEmbeddingBackend(b EmbeddingBackend) Option {
	return optionFunc(func(o *options) {
		o.backend = b
	})
}

// WithRelevanceConfig sets the relevance scorer configuration.
func WithRelevanceConfig(cfg RelevanceConfig) Option {
	return optionFunc(func(o *options) {
		o.relevanceCfg = cfg
	})
}

// WithTemporalConfig sets the tier boundaries and compression target.
func WithTemporalConfig(cfg TemporalConfig) Option {
	return optionFunc(func(o *options) {
		o.temporalCfg = cfg
	})
}

// WithPruningConfig sets the pruning thresholds and default strategy.
func WithPruningConfig(cfg PruningConfig) Option {
	return optionFunc(func(o *options) {
		o.pruningCfg = cfg
	})
}

// WithRateLimits sets the outbound rate-limit defaults and optional
// per-provider overrides.
func WithRateLimits(defaults RateLimitConfig, overrides map[string]RateLimitConfig) Option {
	return optionFunc(func(o *options) {
		o.limitDefaults = defaults
		o.limitOverrides = overrides
	})
}

// WithSummarizer sets the compressor used for textual entries going
// cold. If not set, textual entries stay raw and become preferred
// pruning victims instead.
func WithSummarizer(c Compressor) Option {
	return optionFunc(func(o *options) {
		o.summarizer = c
	})
}

// WithQuantizer sets the compressor used for numeric payloads going
// cold. Default is the local precision-reducing quantizer.
func WithQuantizer(c Compressor) Option {
	return optionFunc(func(o *options) {
		o.quantizer = c
	})
}

// WithStore sets the persistence backend. Entries are written through
// on mutation and reloaded at construction.
func WithStore(s Store) Option {
	return optionFunc(func(o *options) {
		o.store = s
	})
}

// WithNamespace sets the store namespace. Default is "default".
func WithNamespace(ns string) Option {
	return optionFunc(func(o *options) {
		o.namespace = ns
	})
}

// WithStats sets the stats collector.
// If not set, a no-op collector is used.
func WithStats(c stats.Collector) Option {
	return optionFunc(func(o *options) {
		o.stats = c
	})
}

// WithLogger sets the logger.
// If not set, a no-op logger is used.
func WithLogger(l *zap.Logger) Option {
	return optionFunc(func(o *options) {
		o.logger = l
	})
}

// WithLatencyCapacity sets the per-class latency ring size.
func WithLatencyCapacity(n int) Option {
	return optionFunc(func(o *options) {
		o.latencyCapacity = n
	})
}

// WithHookTimeout sets the deadline for hook-facing event handling.
// Default is 3 seconds.
func WithHookTimeout(d time.Duration) Option {
	return optionFunc(func(o *options) {
		o.hookTimeout = d
	})
}

// WithMaxConcurrentCompressions bounds in-flight background
// compression tasks. Default is 4.
func WithMaxConcurrentCompressions(n int64) Option {
	return optionFunc(func(o *options) {
		o.maxCompressions = n
	})
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return optionFunc(func(o *options) {
		o.clock = now
	})
}
