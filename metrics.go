package stash

import (
	"github.com/agentstash/stash/internal/latency"
	"github.com/agentstash/stash/internal/pruning"
)

// Severity is an escalating urgency band for pruning.
type Severity = pruning.Severity

// Severity bands.
const (
	SeveritySoft      = pruning.SeveritySoft
	SeverityHard      = pruning.SeverityHard
	SeverityEmergency = pruning.SeverityEmergency
)

// Strategy selects how pruning victims are ordered.
type Strategy = pruning.Strategy

// Pruning strategies.
const (
	StrategyLRU       = pruning.StrategyLRU
	StrategyLFU       = pruning.StrategyLFU
	StrategyRelevance = pruning.StrategyRelevance
	StrategyAdaptive  = pruning.StrategyAdaptive
)

// Decision is a pruning decision computed against a store snapshot.
// It is consumed once by Prune and then discarded.
type Decision = pruning.Decision

// LatencyStats summarizes one operation class's latency samples.
type LatencyStats = latency.Stats

// Metrics is a recomputed snapshot of the entry set. Never stored;
// always a projection.
type Metrics struct {
	// Entries is the number of live entries.
	Entries int

	// TotalTokens is the summed token count across entries.
	TotalTokens int

	// Capacity is the configured token budget.
	Capacity int

	// Utilization is TotalTokens divided by Capacity.
	Utilization float64

	// PerTier counts entries by temporal tier.
	PerTier map[Tier]int

	// PerType counts entries by entry type.
	PerType map[EntryType]int

	// Generation is the store generation the snapshot was taken at.
	Generation uint64

	// Effectiveness counters, cumulative since construction.
	CompactionsPrevented int64
	CompactionsMissed    int64
	TokensFreed          int64
	EntriesEvicted       int64
	Compressions         int64
	CompressionFailures  int64
	PrunePasses          int64
}
