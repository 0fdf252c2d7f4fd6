// Package temporal implements the hot/warm/cold tier state machine
// that governs when cache entries become candidates for compression.
package temporal

import (
	"fmt"
	"time"
)

// Tier is a temporal bucket governing compression aggressiveness.
type Tier string

const (
	// TierHot entries are recent and kept verbatim.
	TierHot Tier = "hot"
	// TierWarm entries are past the hot window; the label changes but
	// the content does not.
	TierWarm Tier = "warm"
	// TierCold entries are due for compression.
	TierCold Tier = "cold"
)

// CompressionState describes how an entry's content is currently stored.
type CompressionState string

const (
	// StateRaw content is unmodified.
	StateRaw CompressionState = "raw"
	// StateSummarized content has been replaced by a model summary.
	StateSummarized CompressionState = "summarized"
	// StateQuantized numeric content has been reduced in precision.
	StateQuantized CompressionState = "quantized"
)

// Default tier boundaries.
const (
	DefaultHotDuration  = 5 * time.Minute
	DefaultWarmDuration = 30 * time.Minute
	DefaultTargetRatio  = 0.5
)

// Config holds tier boundaries and the compression target.
type Config struct {
	// HotDuration is how long an entry stays hot after creation.
	HotDuration time.Duration

	// WarmDuration is how long after the hot window an entry stays
	// warm before going cold.
	WarmDuration time.Duration

	// TargetRatio is the compression target: the compressed content
	// should be at most this fraction of the original token count.
	// Must be in (0, 1).
	TargetRatio float64
}

// DefaultConfig returns the default tiering configuration:
// 5 minutes hot, 30 minutes warm, cold afterwards, 50% target ratio.
func DefaultConfig() Config {
	return Config{
		HotDuration:  DefaultHotDuration,
		WarmDuration: DefaultWarmDuration,
		TargetRatio:  DefaultTargetRatio,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.HotDuration <= 0 {
		return fmt.Errorf("temporal: hot duration must be positive, got %v", c.HotDuration)
	}
	if c.WarmDuration <= 0 {
		return fmt.Errorf("temporal: warm duration must be positive, got %v", c.WarmDuration)
	}
	if c.TargetRatio <= 0 || c.TargetRatio >= 1 {
		return fmt.Errorf("temporal: target ratio must be in (0, 1), got %v", c.TargetRatio)
	}
	return nil
}

// TierFor returns the tier for an entry of the given age.
func (c Config) TierFor(age time.Duration) Tier {
	switch {
	case age < c.HotDuration:
		return TierHot
	case age < c.HotDuration+c.WarmDuration:
		return TierWarm
	default:
		return TierCold
	}
}

// Transition describes the outcome of a tier evaluation.
type Transition struct {
	From Tier
	To   Tier

	// Changed is false when the entry is already in the target tier;
	// re-evaluating a cold entry is a no-op.
	Changed bool

	// NeedsCompression is true exactly when the entry enters (or sits
	// uncompressed in) the cold tier with raw content. Compression is
	// attempted lazily at the next evaluation cycle, never on a timer.
	NeedsCompression bool
}

// Evaluate computes the tier transition for an entry of the given age,
// current tier, and compression state. Idempotent: evaluating an
// already-cold, already-compressed entry yields no change and no work.
func (c Config) Evaluate(age time.Duration, current Tier, state CompressionState) Transition {
	target := c.TierFor(age)
	return Transition{
		From:             current,
		To:               target,
		Changed:          target != current,
		NeedsCompression: target == TierCold && state == StateRaw,
	}
}
