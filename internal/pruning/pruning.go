// Package pruning decides which cache entries to evict when
// utilization crosses the soft, hard, or emergency threshold.
//
// The engine is pure: it reads a candidate snapshot and produces a
// Decision value object. Applying (and re-validating) the decision is
// the orchestrator's job.
package pruning

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/agentstash/stash/internal/temporal"
)

// Severity is an escalating urgency band for pruning.
type Severity string

const (
	SeveritySoft      Severity = "soft"
	SeverityHard      Severity = "hard"
	SeverityEmergency Severity = "emergency"
)

// Strategy selects how victims are ordered.
type Strategy string

const (
	StrategyLRU       Strategy = "lru"
	StrategyLFU       Strategy = "lfu"
	StrategyRelevance Strategy = "relevance"
	StrategyAdaptive  Strategy = "adaptive"
)

// Default thresholds as fractions of capacity.
const (
	DefaultSoft      = 0.60
	DefaultHard      = 0.75
	DefaultEmergency = 0.90
)

// Thresholds holds the three utilization bands.
type Thresholds struct {
	Soft      float64
	Hard      float64
	Emergency float64
}

// DefaultThresholds returns the default bands: 0.60 / 0.75 / 0.90.
func DefaultThresholds() Thresholds {
	return Thresholds{Soft: DefaultSoft, Hard: DefaultHard, Emergency: DefaultEmergency}
}

// Config holds the pruning engine configuration.
type Config struct {
	Thresholds Thresholds

	// DefaultStrategy applies in the soft band. The hard and emergency
	// bands force relevance-based eviction regardless.
	DefaultStrategy Strategy
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Thresholds:      DefaultThresholds(),
		DefaultStrategy: StrategyAdaptive,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	t := c.Thresholds
	if !(0 < t.Soft && t.Soft < t.Hard && t.Hard < t.Emergency && t.Emergency <= 1) {
		return fmt.Errorf("pruning: thresholds must satisfy 0 < soft < hard < emergency <= 1, got %+v", t)
	}
	switch c.DefaultStrategy {
	case StrategyLRU, StrategyLFU, StrategyRelevance, StrategyAdaptive:
	default:
		return fmt.Errorf("pruning: unknown strategy %q", c.DefaultStrategy)
	}
	return nil
}

// Candidate is the read snapshot of one entry the engine considers.
type Candidate struct {
	ID          string
	Tokens      int
	Tier        temporal.Tier
	Relevance   float64
	LastAccess  time.Time
	AccessCount int64

	// InUse entries belong to an in-flight event and are never evicted.
	InUse bool

	// Compressed is false for raw entries. Cold uncompressed entries
	// are the first victims: compression already failed or never ran,
	// so they pay full token cost for stale content.
	Compressed bool
}

// Decision is the value object consumed once by the orchestrator.
type Decision struct {
	Severity    Severity
	Strategy    Strategy
	VictimIDs   []string
	TokensFreed int

	// Generation of the entry store the decision was computed against.
	// Prune re-validates when the store has moved on.
	Generation uint64
}

// Engine evaluates utilization and selects victims.
type Engine struct {
	cfg    Config
	logger *zap.Logger
}

// New creates an Engine. If logger is nil, a no-op logger is used.
func New(cfg Config, logger *zap.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{cfg: cfg, logger: logger}, nil
}

// Thresholds returns the configured bands.
func (e *Engine) Thresholds() Thresholds {
	return e.cfg.Thresholds
}

// TargetFor returns the utilization a prune at the given severity must
// reach: soft and hard severities free back to the soft threshold in
// one pass to avoid thrashing; emergency frees to the hard threshold.
func (e *Engine) TargetFor(severity Severity) float64 {
	if severity == SeverityEmergency {
		return e.cfg.Thresholds.Hard
	}
	return e.cfg.Thresholds.Soft
}

// SeverityFor returns the band for a utilization value, or ok=false
// when utilization is below the soft threshold.
func (e *Engine) SeverityFor(utilization float64) (Severity, bool) {
	t := e.cfg.Thresholds
	switch {
	case utilization >= t.Emergency:
		return SeverityEmergency, true
	case utilization >= t.Hard:
		return SeverityHard, true
	case utilization >= t.Soft:
		return SeveritySoft, true
	default:
		return "", false
	}
}

// Decide evaluates the snapshot and returns a pruning decision, or nil
// when utilization is below the soft threshold.
func (e *Engine) Decide(candidates []Candidate, totalTokens, capacity int, generation uint64) *Decision {
	if capacity <= 0 {
		return nil
	}
	utilization := float64(totalTokens) / float64(capacity)

	severity, ok := e.SeverityFor(utilization)
	if !ok {
		return nil
	}

	strategy := e.cfg.DefaultStrategy
	if severity != SeveritySoft {
		// Above the hard threshold the configured default no longer
		// applies; eviction is forced onto relevance ordering.
		strategy = StrategyRelevance
	}

	need := totalTokens - int(e.TargetFor(severity)*float64(capacity))
	victims, freed := selectVictims(candidates, strategy, need)

	e.logger.Debug("pruning decision",
		zap.Float64("utilization", utilization),
		zap.String("severity", string(severity)),
		zap.String("strategy", string(strategy)),
		zap.Int("victims", len(victims)),
		zap.Int("tokensFreed", freed),
	)

	return &Decision{
		Severity:    severity,
		Strategy:    strategy,
		VictimIDs:   victims,
		TokensFreed: freed,
		Generation:  generation,
	}
}

// selectVictims orders eligible candidates and takes them until the
// token need is met (or candidates run out).
func selectVictims(candidates []Candidate, strategy Strategy, need int) ([]string, int) {
	eligible := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if !c.InUse {
			eligible = append(eligible, c)
		}
	}

	keys := strategyKeys(eligible, strategy)
	sort.SliceStable(eligible, func(i, j int) bool {
		return victimLess(eligible[i], eligible[j], keys[eligible[i].ID], keys[eligible[j].ID])
	})

	var victims []string
	freed := 0
	for _, c := range eligible {
		if freed >= need {
			break
		}
		victims = append(victims, c.ID)
		freed += c.Tokens
	}
	return victims, freed
}

// victimLess orders candidates so that better victims sort first:
// cold uncompressed entries, then colder tiers, then the ascending
// strategy key, with older last access and larger footprint breaking
// ties.
func victimLess(a, b Candidate, keyA, keyB float64) bool {
	aFailed := a.Tier == temporal.TierCold && !a.Compressed
	bFailed := b.Tier == temporal.TierCold && !b.Compressed
	if aFailed != bFailed {
		return aFailed
	}

	ra, rb := tierRank(a.Tier), tierRank(b.Tier)
	if ra != rb {
		return ra < rb
	}

	if keyA != keyB {
		return keyA < keyB
	}
	if !a.LastAccess.Equal(b.LastAccess) {
		return a.LastAccess.Before(b.LastAccess)
	}
	return a.Tokens > b.Tokens
}

func tierRank(t temporal.Tier) int {
	switch t {
	case temporal.TierCold:
		return 0
	case temporal.TierWarm:
		return 1
	default:
		return 2
	}
}

// strategyKeys computes the per-candidate ordering key for a strategy.
// Lower keys are evicted first.
func strategyKeys(candidates []Candidate, strategy Strategy) map[string]float64 {
	keys := make(map[string]float64, len(candidates))
	switch strategy {
	case StrategyLRU:
		for _, c := range candidates {
			keys[c.ID] = float64(c.LastAccess.UnixNano())
		}
	case StrategyLFU:
		for _, c := range candidates {
			keys[c.ID] = float64(c.AccessCount)
		}
	case StrategyRelevance:
		for _, c := range candidates {
			keys[c.ID] = c.Relevance
		}
	default: // adaptive
		minT, maxT := accessBounds(candidates)
		span := float64(maxT.Sub(minT))
		for _, c := range candidates {
			recency := 0.0
			if span > 0 {
				recency = float64(c.LastAccess.Sub(minT)) / span
			}
			keys[c.ID] = 0.6*c.Relevance + 0.2*recency + 0.2*frequencyNorm(c.AccessCount)
		}
	}
	return keys
}

func accessBounds(candidates []Candidate) (time.Time, time.Time) {
	var minT, maxT time.Time
	for i, c := range candidates {
		if i == 0 || c.LastAccess.Before(minT) {
			minT = c.LastAccess
		}
		if i == 0 || c.LastAccess.After(maxT) {
			maxT = c.LastAccess
		}
	}
	return minT, maxT
}

func frequencyNorm(count int64) float64 {
	if count <= 0 {
		return 0
	}
	if count >= 64 {
		return 1
	}
	return float64(count) / 64
}
