// Package stash keeps an LLM agent's working context under a token
// budget so the host's own hard compaction never fires. Entries are
// scored for relevance, aged through hot/warm/cold tiers, compressed
// as they go cold, and evicted in graduated severity bands.
//
// Example usage:
//
//	opt, err := stash.New(
//	    stash.WithCapacity(100000),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer opt.Close()
//
//	entry, err := opt.Add(ctx, output, stash.TypeToolResult, stash.Metadata{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("cached %s at %.0f%% utilization\n", entry.ID, opt.Utilization()*100)
package stash

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

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

// ProviderSummarizer is the rate-limiter provider name that gates
// outbound summarization calls. Override its limits per provider name
// via WithRateLimits.
const ProviderSummarizer = "summarizer"

// LatencyClass identifies an operation class with its own latency ring.
type LatencyClass = latency.Class

// Operation classes tracked by the optimizer.
const (
	LatencyScoring      = latency.ClassScoring
	LatencyPruning      = latency.ClassPruning
	LatencyCompression  = latency.ClassCompression
	LatencyHook         = latency.ClassHook
	LatencyVectorSearch = latency.ClassVectorSearch
)

// maxContentBytes bounds a single entry's content. Anything larger is
// rejected at Add rather than swallowing the whole budget.
const maxContentBytes = 4 << 20

// Optimizer owns the entry store and coordinates scoring, tiering,
// pruning, and compression on every mutating event.
// An Optimizer is safe for concurrent use by multiple goroutines.
type Optimizer struct {
	counter   tokencount.Counter
	scorer    *relevance.Scorer
	temporal  temporal.Config
	engine    *pruning.Engine
	limits    *ratelimit.Registry
	tracker   *latency.Tracker
	summarize handoff.Compressor
	quantize  handoff.Compressor
	store     store.Store
	namespace string
	stats     stats.Collector
	logger    *zap.Logger
	clock     func() time.Time

	hookTimeout time.Duration
	capacity    int

	// mu serializes all entry-store mutations: scoring results applied
	// to the store, tiering, and pruning are one read-modify-write
	// sequence that must not interleave.
	mu          sync.Mutex
	entries     map[string]*cacheEntry
	totalTokens int
	generation  uint64

	// Effectiveness counters, guarded by mu.
	prevented    int64
	missed       int64
	tokensFreed  int64
	evicted      int64
	compressions int64
	compressFail int64
	prunePasses  int64

	// Background compression tasks.
	sem     *semaphore.Weighted
	tasks   sync.WaitGroup
	baseCtx context.Context
	cancel  context.CancelFunc
	closed  atomic.Bool
}

// New creates an Optimizer with the given options.
// If a store is configured, previously persisted entries are reloaded.
func New(opts ...Option) (*Optimizer, error) {
	cfg := defaultOptions()
	for _, opt := range opts {
		opt.apply(&cfg)
	}

	if cfg.capacity <= 0 {
		return nil, fmt.Errorf("%w: capacity must be positive, got %d", ErrInvalidConfig, cfg.capacity)
	}
	if err := cfg.temporalCfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	engine, err := pruning.New(cfg.pruningCfg, cfg.logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	o := &Optimizer{
		counter:     cfg.counter,
		scorer:      relevance.New(cfg.backend, cfg.relevanceCfg, cfg.logger),
		temporal:    cfg.temporalCfg,
		engine:      engine,
		limits:      ratelimit.NewRegistry(cfg.limitDefaults, cfg.limitOverrides),
		tracker:     latency.NewTracker(cfg.latencyCapacity),
		summarize:   cfg.summarizer,
		quantize:    cfg.quantizer,
		store:       cfg.store,
		namespace:   cfg.namespace,
		stats:       cfg.stats,
		logger:      cfg.logger,
		clock:       cfg.clock,
		hookTimeout: cfg.hookTimeout,
		capacity:    cfg.capacity,
		entries:     make(map[string]*cacheEntry),
		sem:         semaphore.NewWeighted(cfg.maxCompressions),
		baseCtx:     baseCtx,
		cancel:      cancel,
	}
	o.scorer.SetClock(cfg.clock)
	o.scorer.SetSimilarityObserver(func(d time.Duration) {
		o.tracker.Record(latency.ClassVectorSearch, d)
	})

	if o.store != nil {
		if err := o.reload(baseCtx); err != nil {
			cancel()
			return nil, fmt.Errorf("reloading store: %w", err)
		}
	}

	o.logger.Debug("optimizer initialized",
		zap.Int("capacity", o.capacity),
		zap.Int("entries", len(o.entries)),
		zap.String("namespace", o.namespace),
	)
	return o, nil
}

// Add ingests content as a new cache entry: the entry is sized,
// scored, tiered, persisted, and, when utilization crosses a
// threshold, an automatic pruning pass runs before Add returns.
// The insert is atomic; no partial entry is ever visible.
func (o *Optimizer) Add(ctx context.Context, content string, typ EntryType, meta Metadata) (Entry, error) {
	if o.closed.Load() {
		return Entry{}, ErrClosed
	}
	if err := validateContent(content, typ); err != nil {
		return Entry{}, err
	}

	id := meta.ID
	if id == "" {
		id = uuid.NewString()
	}

	now := o.clock()
	e := &cacheEntry{
		id:        id,
		content:   content,
		tokens:    o.counter.Count(content),
		typ:       typ,
		tags:      meta.Tags,
		createdAt: now,
		tier:      temporal.TierHot,
		state:     temporal.StateRaw,
	}
	e.relevance = o.score(ctx, scoringInput(e), Query{})

	o.mu.Lock()
	defer o.mu.Unlock()

	if prev, ok := o.entries[id]; ok {
		o.totalTokens -= prev.tokens
	}
	o.entries[id] = e
	o.totalTokens += e.tokens
	o.generation++
	o.stats.IncCounter(stats.MetricEntriesAdded, 1)
	o.updateGaugesLocked()
	o.persistLocked(e)

	// The entry belongs to the in-flight event until Add returns; the
	// automatic pruning pass must not evict it.
	e.inUse.Store(true)
	o.maintainLocked()
	e.inUse.Store(false)
	return e.snapshot(), nil
}

// Get returns a read snapshot of the entry and records the access.
func (o *Optimizer) Get(ctx context.Context, id string) (Entry, error) {
	if o.closed.Load() {
		return Entry{}, ErrClosed
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	e, ok := o.entries[id]
	if !ok {
		return Entry{}, fmt.Errorf("entry %q: %w", id, ErrNotFound)
	}
	e.lastAccess = o.clock()
	e.accessCount++
	o.generation++
	return e.snapshot(), nil
}

// Remove deletes the entry. Removing a missing entry is not an error.
func (o *Optimizer) Remove(ctx context.Context, id string) error {
	if o.closed.Load() {
		return ErrClosed
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	e, ok := o.entries[id]
	if !ok {
		return nil
	}
	o.evictLocked(e)
	o.updateGaugesLocked()
	return nil
}

// Utilization returns total tokens divided by capacity.
func (o *Optimizer) Utilization() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.utilizationLocked()
}

// Metrics returns a recomputed snapshot of the entry set.
func (o *Optimizer) Metrics() Metrics {
	o.mu.Lock()
	defer o.mu.Unlock()

	m := Metrics{
		Entries:              len(o.entries),
		TotalTokens:          o.totalTokens,
		Capacity:             o.capacity,
		Utilization:          o.utilizationLocked(),
		PerTier:              make(map[Tier]int),
		PerType:              make(map[EntryType]int),
		Generation:           o.generation,
		CompactionsPrevented: o.prevented,
		CompactionsMissed:    o.missed,
		TokensFreed:          o.tokensFreed,
		EntriesEvicted:       o.evicted,
		Compressions:         o.compressions,
		CompressionFailures:  o.compressFail,
		PrunePasses:          o.prunePasses,
	}
	for _, e := range o.entries {
		m.PerTier[e.tier]++
		m.PerType[e.typ]++
	}
	return m
}

// PruningDecision evaluates current utilization against the thresholds
// and returns a decision, or nil when utilization is below the soft
// threshold. Relevance scores are refreshed against the query first.
func (o *Optimizer) PruningDecision(ctx context.Context, q Query) *Decision {
	if o.closed.Load() {
		return nil
	}

	o.rescore(ctx, q)

	o.mu.Lock()
	defer o.mu.Unlock()
	return o.decideLocked()
}

// Prune applies a decision. A stale decision (computed against an
// out-of-date snapshot) is re-validated first: victims that no longer
// exist or are in use are skipped, and if utilization already dropped
// below the decision's band the prune is a no-op, not an error.
// Returns the tokens actually freed.
func (o *Optimizer) Prune(ctx context.Context, d *Decision) (int, error) {
	if o.closed.Load() {
		return 0, ErrClosed
	}
	if d == nil {
		return 0, nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	return o.applyLocked(d), nil
}

// Latency returns percentile statistics for an operation class.
func (o *Optimizer) Latency(class LatencyClass) LatencyStats {
	return o.tracker.Snapshot(class)
}

// LatencySamples returns a copy of the class's current samples, for
// regression comparison by the benchmark suite.
func (o *Optimizer) LatencySamples(class LatencyClass) []float64 {
	return o.tracker.Samples(class)
}

// Store returns the persistence backend, or nil.
func (o *Optimizer) Store() Store {
	return o.store
}

// Close stops background compression tasks and releases the store.
// After Close, the optimizer should not be used.
func (o *Optimizer) Close() error {
	if !o.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}

	o.cancel()
	o.tasks.Wait()

	if o.store != nil {
		if err := o.store.Close(); err != nil {
			return fmt.Errorf("closing store: %w", err)
		}
	}
	return nil
}

// validateContent rejects malformed input before any store mutation.
func validateContent(content string, typ EntryType) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("%w: empty content", ErrMalformedContent)
	}
	if len(content) > maxContentBytes {
		return fmt.Errorf("%w: content exceeds %d bytes", ErrMalformedContent, maxContentBytes)
	}
	if !typ.Valid() {
		return fmt.Errorf("%w: unknown entry type %q", ErrMalformedContent, typ)
	}
	return nil
}

// scoringInput copies the fields scoring reads so the scorer can run
// off-lock. Callers must hold mu unless the entry is not yet published.
func scoringInput(e *cacheEntry) relevance.Input {
	return relevance.Input{
		Content:     e.content,
		Type:        string(e.typ),
		Tags:        e.tags,
		CreatedAt:   e.createdAt,
		LastAccess:  e.lastAccess,
		AccessCount: e.accessCount,
	}
}

// score computes relevance for one input and records scoring latency.
func (o *Optimizer) score(ctx context.Context, in relevance.Input, q Query) float64 {
	start := o.clock()
	s := o.scorer.Score(ctx, in, q)
	elapsed := o.clock().Sub(start)
	o.tracker.Record(latency.ClassScoring, elapsed)
	o.stats.ObserveHistogram(stats.MetricScoreLatencyMs, float64(elapsed)/float64(time.Millisecond))
	return s
}

// rescore refreshes relevance scores against the query. Inputs are
// copied under the lock, scoring runs outside it, and results are
// applied under it again, skipping entries removed in the interim.
func (o *Optimizer) rescore(ctx context.Context, q Query) {
	type job struct {
		id string
		in relevance.Input
	}
	o.mu.Lock()
	jobs := make([]job, 0, len(o.entries))
	for _, e := range o.entries {
		jobs = append(jobs, job{id: e.id, in: scoringInput(e)})
	}
	o.mu.Unlock()

	scores := make(map[string]float64, len(jobs))
	for _, j := range jobs {
		scores[j.id] = o.score(ctx, j.in, q)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	for id, s := range scores {
		if e, ok := o.entries[id]; ok {
			e.relevance = s
		}
	}
}

// maintainLocked runs the tiering cycle and an automatic pruning pass.
// Callers must hold mu.
func (o *Optimizer) maintainLocked() {
	o.evaluateTiersLocked()
	if d := o.decideLocked(); d != nil {
		o.applyLocked(d)
	}
}

// evaluateTiersLocked re-evaluates every entry's tier and dispatches
// compression for entries sitting cold with raw content. Idempotent
// for entries already cold and compressed.
func (o *Optimizer) evaluateTiersLocked() {
	now := o.clock()
	changed := false
	for _, e := range o.entries {
		tr := o.temporal.Evaluate(now.Sub(e.createdAt), e.tier, e.state)
		if tr.Changed {
			e.tier = tr.To
			changed = true
		}
		if tr.NeedsCompression && !e.compressing && !e.compressionFailed {
			o.dispatchCompressionLocked(e)
		}
	}
	if changed {
		o.generation++
	}
}

// decideLocked computes a pruning decision against the current
// snapshot. Callers must hold mu.
func (o *Optimizer) decideLocked() *Decision {
	candidates := make([]pruning.Candidate, 0, len(o.entries))
	for _, e := range o.entries {
		candidates = append(candidates, pruning.Candidate{
			ID:          e.id,
			Tokens:      e.tokens,
			Tier:        e.tier,
			Relevance:   e.relevance,
			LastAccess:  e.lastAccess,
			AccessCount: e.accessCount,
			InUse:       e.inUse.Load(),
			Compressed:  e.state != temporal.StateRaw,
		})
	}
	return o.engine.Decide(candidates, o.totalTokens, o.capacity, o.generation)
}

// applyLocked applies a decision with re-validation and returns the
// tokens freed. Callers must hold mu.
func (o *Optimizer) applyLocked(d *Decision) int {
	start := o.clock()

	if d.Generation != o.generation {
		if _, ok := o.engine.SeverityFor(o.utilizationLocked()); !ok {
			// The store moved on and utilization already recovered.
			o.logger.Debug("stale pruning decision, no-op",
				zap.Uint64("decisionGeneration", d.Generation),
				zap.Uint64("generation", o.generation),
			)
			return 0
		}
	}

	freed := 0
	victims := 0
	for _, id := range d.VictimIDs {
		e, ok := o.entries[id]
		if !ok || e.inUse.Load() {
			continue
		}
		freed += e.tokens
		victims++
		o.evictLocked(e)
	}

	o.prunePasses++
	o.tokensFreed += int64(freed)
	o.stats.IncCounter(stats.MetricPrunePasses, 1)
	o.stats.IncCounter(stats.MetricTokensFreed, int64(freed))
	o.updateGaugesLocked()

	elapsed := o.clock().Sub(start)
	o.tracker.Record(latency.ClassPruning, elapsed)
	o.stats.ObserveHistogram(stats.MetricPruneLatencyMs, float64(elapsed)/float64(time.Millisecond))

	o.logger.Debug("prune applied",
		zap.String("severity", string(d.Severity)),
		zap.String("strategy", string(d.Strategy)),
		zap.Int("victims", victims),
		zap.Int("tokensFreed", freed),
		zap.Float64("utilization", o.utilizationLocked()),
	)
	return freed
}

// evictLocked removes one entry. Callers must hold mu.
func (o *Optimizer) evictLocked(e *cacheEntry) {
	delete(o.entries, e.id)
	o.totalTokens -= e.tokens
	o.generation++
	o.evicted++
	o.stats.IncCounter(stats.MetricEntriesEvicted, 1)

	if o.store != nil {
		if err := o.store.Delete(o.baseCtx, o.namespace, e.id); err != nil {
			o.logger.Warn("deleting persisted entry",
				zap.String("id", e.id),
				zap.Error(err),
			)
		}
	}
}

// dispatchCompressionLocked starts a background compression task for a
// cold, raw entry. The entry stays in its pre-compression form, and
// thus prunable, until the result is applied. Callers must hold mu.
func (o *Optimizer) dispatchCompressionLocked(e *cacheEntry) {
	var (
		compressor handoff.Compressor
		target     temporal.CompressionState
	)
	if tokencount.IsNumericPayload(e.content) {
		compressor, target = o.quantize, temporal.StateQuantized
	} else {
		compressor, target = o.summarize, temporal.StateSummarized
	}
	if compressor == nil {
		// No backend for this payload shape; prefer it for pruning.
		e.compressionFailed = true
		o.compressFail++
		o.stats.IncCounter(stats.MetricCompressionFailures, 1)
		return
	}

	if target == temporal.StateSummarized {
		res := o.limits.Provider(ProviderSummarizer).Acquire()
		if !res.Allowed {
			// Stay raw and retry at the next evaluation cycle.
			o.stats.IncCounter(stats.MetricRateLimitDenied, 1)
			o.logger.Debug("summarization rate limited",
				zap.String("id", e.id),
				zap.Duration("retryAfter", res.RetryAfter),
			)
			return
		}
	}

	e.compressing = true
	id, content := e.id, e.content
	ratio := o.temporal.TargetRatio

	o.tasks.Add(1)
	go func() {
		defer o.tasks.Done()

		if err := o.sem.Acquire(o.baseCtx, 1); err != nil {
			o.mu.Lock()
			e.compressing = false
			o.mu.Unlock()
			return
		}
		defer o.sem.Release(1)

		start := time.Now()
		out, err := compressor.Compress(o.baseCtx, content, ratio)
		o.tracker.Record(latency.ClassCompression, time.Since(start))

		o.applyCompression(id, content, out, target, err)
	}()
}

// applyCompression installs a background compression result, dropping
// it when the entry moved on while the task was in flight.
func (o *Optimizer) applyCompression(id, original, out string, target temporal.CompressionState, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	e, ok := o.entries[id]
	if !ok {
		return
	}
	e.compressing = false

	if err != nil {
		if errors.Is(err, handoff.ErrRateLimited) {
			// Retry at a later cycle without marking the entry failed.
			o.stats.IncCounter(stats.MetricRateLimitDenied, 1)
			return
		}
		e.compressionFailed = true
		o.compressFail++
		o.stats.IncCounter(stats.MetricCompressionFailures, 1)
		o.logger.Debug("compression failed, entry stays raw",
			zap.String("id", id),
			zap.Error(err),
		)
		return
	}

	// A stale result must never clobber newer content.
	if e.tier != temporal.TierCold || e.state != temporal.StateRaw || e.content != original {
		return
	}

	e.content = out
	e.tokens = o.counter.Count(out)
	e.state = target
	o.totalTokens = o.recountLocked()
	o.generation++
	o.compressions++
	o.stats.IncCounter(stats.MetricCompressions, 1)
	o.updateGaugesLocked()
	o.persistLocked(e)
}

// recountLocked re-sums token counts after an in-place entry mutation.
func (o *Optimizer) recountLocked() int {
	total := 0
	for _, e := range o.entries {
		total += e.tokens
	}
	return total
}

func (o *Optimizer) utilizationLocked() float64 {
	return float64(o.totalTokens) / float64(o.capacity)
}

func (o *Optimizer) updateGaugesLocked() {
	o.stats.SetGauge(stats.MetricTokensTotal, int64(o.totalTokens))
	o.stats.SetGauge(stats.MetricUtilization, int64(o.utilizationLocked()*100))
}

// persistLocked writes the entry through to the store, best effort.
func (o *Optimizer) persistLocked(e *cacheEntry) {
	if o.store == nil {
		return
	}
	data, err := marshalEntry(e)
	if err != nil {
		o.logger.Warn("encoding entry for persistence",
			zap.String("id", e.id),
			zap.Error(err),
		)
		return
	}
	if err := o.store.Put(o.baseCtx, o.namespace, e.id, data); err != nil {
		o.logger.Warn("persisting entry",
			zap.String("id", e.id),
			zap.Error(err),
		)
	}
}

// reload restores persisted entries at construction. Documents that
// fail to decode are skipped, not fatal.
func (o *Optimizer) reload(ctx context.Context) error {
	ids, err := o.store.List(ctx, o.namespace)
	if err != nil {
		return fmt.Errorf("listing namespace %q: %w", o.namespace, err)
	}

	for _, id := range ids {
		data, err := o.store.Get(ctx, o.namespace, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return fmt.Errorf("reading entry %q: %w", id, err)
		}
		e, err := unmarshalEntry(data)
		if err != nil {
			o.logger.Warn("skipping undecodable persisted entry",
				zap.String("id", id),
				zap.Error(err),
			)
			continue
		}
		o.entries[e.id] = e
		o.totalTokens += e.tokens
	}
	o.generation++
	o.updateGaugesLocked()
	return nil
}
