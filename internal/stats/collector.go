// Package stats provides a unified interface for collecting metrics.
package stats

// Metric names used throughout the library.
const (
	// Entry lifecycle metrics.
	MetricEntriesAdded   = "stash_entries_added_total"
	MetricEntriesEvicted = "stash_entries_evicted_total"
	MetricTokensFreed    = "stash_tokens_freed_total"
	MetricTokensTotal    = "stash_tokens_total"
	MetricUtilization    = "stash_utilization_percent"

	// Compaction effectiveness metrics.
	MetricCompactionsPrevented = "stash_compactions_prevented_total"
	MetricCompactionsMissed    = "stash_compactions_missed_total"
	MetricPrunePasses          = "stash_prune_passes_total"

	// Compression metrics.
	MetricCompressions        = "stash_compressions_total"
	MetricCompressionFailures = "stash_compression_failures_total"

	// Rate limiting metrics.
	MetricRateLimitDenied = "stash_rate_limit_denied_total"

	// Latency histograms (milliseconds).
	MetricScoreLatencyMs = "stash_score_latency_ms"
	MetricPruneLatencyMs = "stash_prune_latency_ms"
	MetricHookLatencyMs  = "stash_hook_latency_ms"
)

// Collector defines the interface for collecting metrics.
type Collector interface {
	// IncCounter increments a counter metric by delta.
	IncCounter(name string, delta int64)

	// SetGauge sets a gauge metric to value.
	SetGauge(name string, value int64)

	// ObserveHistogram records a value in a histogram metric.
	ObserveHistogram(name string, value float64)
}
