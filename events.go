package stash

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/agentstash/stash/internal/latency"
	"github.com/agentstash/stash/internal/stats"
)

// EventType identifies a host hook point.
type EventType string

// Host event types.
const (
	EventPromptSubmit EventType = "prompt-submit"
	EventPreToolUse   EventType = "pre-tool-use"
	EventPostToolUse  EventType = "post-tool-use"
	EventPreCompact   EventType = "pre-compact"
)

// Event is one discrete call from the host's hook points. The
// optimizer never holds a long-lived subscription; it only responds
// to these calls.
type Event struct {
	Type EventType

	// Content is ingested as a new entry on post-tool-use events.
	Content string

	// EntryType classifies Content. Empty means tool-result.
	EntryType EntryType

	// Metadata applies to the ingested entry.
	Metadata Metadata

	// Query is the current query state used to refresh relevance.
	Query Query
}

// HookResult is the structured response returned to the host.
type HookResult struct {
	// CompactionPrevented reports whether the cache is safely under
	// the hard threshold after handling the event.
	CompactionPrevented bool

	// TokensFreed is the number of tokens evicted while handling.
	TokensFreed int

	// EntriesEvicted is the number of entries removed.
	EntriesEvicted int

	// Utilization after handling.
	Utilization float64

	// EntryID is the id of the ingested entry, when the event carried
	// content.
	EntryID string

	// Partial is true when the deadline expired before handling
	// completed; the result reflects best-effort state.
	Partial bool
}

// HandleEvent processes one host event within the hook deadline. On
// deadline expiry it returns a best-effort partial result with
// CompactionPrevented false rather than blocking the host; any
// in-flight background work is abandoned without affecting store
// consistency.
//
// A pre-compact event that cannot bring utilization back under the
// hard threshold returns ErrCapacityEmergency alongside the result.
func (o *Optimizer) HandleEvent(ctx context.Context, ev Event) (HookResult, error) {
	if o.closed.Load() {
		return HookResult{}, ErrClosed
	}

	start := o.clock()
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.hookTimeout)
		defer cancel()
	}

	type outcome struct {
		res HookResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := o.handle(ctx, ev)
		done <- outcome{res: res, err: err}
	}()

	var (
		res HookResult
		err error
	)
	select {
	case out := <-done:
		res, err = out.res, out.err
	case <-ctx.Done():
		res = HookResult{
			Utilization: o.Utilization(),
			Partial:     true,
		}
		o.logger.Warn("hook deadline expired, returning partial result",
			zap.String("event", string(ev.Type)),
		)
	}

	elapsed := o.clock().Sub(start)
	o.tracker.Record(latency.ClassHook, elapsed)
	o.stats.ObserveHistogram(stats.MetricHookLatencyMs, float64(elapsed)/float64(time.Millisecond))
	return res, err
}

// handle runs the event body. Pruning and accounting happen inside the
// store critical section; scoring runs outside it.
func (o *Optimizer) handle(ctx context.Context, ev Event) (HookResult, error) {
	var res HookResult

	switch ev.Type {
	case EventPostToolUse:
		if ev.Content != "" {
			typ := ev.EntryType
			if typ == "" {
				typ = TypeToolResult
			}
			entry, err := o.Add(ctx, ev.Content, typ, ev.Metadata)
			if err != nil {
				return res, err
			}
			res.EntryID = entry.ID
		}

	case EventPromptSubmit, EventPreToolUse:
		o.rescore(ctx, ev.Query)
		o.mu.Lock()
		o.maintainLocked()
		o.mu.Unlock()

	case EventPreCompact:
		return o.handlePreCompact(ctx, ev)
	}

	o.mu.Lock()
	res.Utilization = o.utilizationLocked()
	o.mu.Unlock()

	res.CompactionPrevented = res.Utilization < o.engine.Thresholds().Hard
	return res, nil
}

// handlePreCompact is the last line of defense before the host's own
// compaction: evict until utilization is back under the hard
// threshold, and report failure when that cannot be done.
func (o *Optimizer) handlePreCompact(ctx context.Context, ev Event) (HookResult, error) {
	o.rescore(ctx, ev.Query)

	o.mu.Lock()
	defer o.mu.Unlock()

	var res HookResult
	before := len(o.entries)
	_, atRisk := o.engine.SeverityFor(o.utilizationLocked())

	o.evaluateTiersLocked()
	pruned := false
	if d := o.decideLocked(); d != nil {
		res.TokensFreed = o.applyLocked(d)
		pruned = true
	}

	res.EntriesEvicted = before - len(o.entries)
	res.Utilization = o.utilizationLocked()

	hard := o.engine.Thresholds().Hard
	if res.Utilization > hard {
		o.missed++
		o.stats.IncCounter(stats.MetricCompactionsMissed, 1)
		o.logger.Warn("compaction not prevented",
			zap.Float64("utilization", res.Utilization),
			zap.Float64("hardThreshold", hard),
		)
		return res, ErrCapacityEmergency
	}

	res.CompactionPrevented = true
	// A prevention is only credited when there was something to prevent:
	// utilization sat above the soft threshold at entry, or a prune ran.
	if atRisk || pruned {
		o.prevented++
		o.stats.IncCounter(stats.MetricCompactionsPrevented, 1)
	}
	return res, nil
}
