package pruning

import (
	"testing"
	"time"

	"github.com/agentstash/stash/internal/temporal"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return e
}

func TestEngine_UnderSoftNoAction(t *testing.T) {
	e := newTestEngine(t)

	d := e.Decide([]Candidate{{ID: "a", Tokens: 100}}, 500, 1000, 1)
	if d != nil {
		t.Errorf("Decide() at 50%% utilization = %+v, want nil", d)
	}
}

func TestEngine_SeverityBands(t *testing.T) {
	e := newTestEngine(t)

	tests := []struct {
		name   string
		tokens int
		want   Severity
	}{
		{"soft band", 650, SeveritySoft},
		{"hard band", 800, SeverityHard},
		{"emergency band", 920, SeverityEmergency},
	}

	candidates := []Candidate{
		{ID: "a", Tokens: 500, Tier: temporal.TierCold, Compressed: true},
		{ID: "b", Tokens: 420, Tier: temporal.TierWarm},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := e.Decide(candidates, tt.tokens, 1000, 1)
			if d == nil {
				t.Fatal("Decide() = nil, want a decision")
			}
			if d.Severity != tt.want {
				t.Errorf("Severity = %v, want %v", d.Severity, tt.want)
			}
		})
	}
}

func TestEngine_EmergencyForcesRelevanceEviction(t *testing.T) {
	e := newTestEngine(t)

	// 920 of 1000 tokens: emergency severity, aggressive eviction.
	d := e.Decide([]Candidate{
		{ID: "a", Tokens: 500, Tier: temporal.TierCold, Compressed: true, Relevance: 0.1},
		{ID: "b", Tokens: 420, Tier: temporal.TierWarm, Relevance: 0.9},
	}, 920, 1000, 1)

	if d == nil {
		t.Fatal("Decide() = nil, want emergency decision")
	}
	if d.Severity != SeverityEmergency {
		t.Errorf("Severity = %v, want emergency", d.Severity)
	}
	if d.Strategy != StrategyRelevance {
		t.Errorf("Strategy = %v, want relevance (forced)", d.Strategy)
	}
	// Must free down to the hard threshold (750): need 170 tokens.
	if d.TokensFreed < 170 {
		t.Errorf("TokensFreed = %d, want >= 170", d.TokensFreed)
	}
}

func TestEngine_HardBandTargetsSoftThreshold(t *testing.T) {
	e := newTestEngine(t)

	// 800 of 1000: hard band. One pass must reach the soft threshold
	// (600), not merely dip below hard, so need is 200 tokens.
	d := e.Decide([]Candidate{
		{ID: "a", Tokens: 150, Tier: temporal.TierCold, Compressed: true, Relevance: 0.2},
		{ID: "b", Tokens: 150, Tier: temporal.TierCold, Compressed: true, Relevance: 0.3},
		{ID: "c", Tokens: 500, Tier: temporal.TierHot, Relevance: 0.9},
	}, 800, 1000, 1)

	if d == nil {
		t.Fatal("Decide() = nil, want decision")
	}
	if d.TokensFreed < 200 {
		t.Errorf("TokensFreed = %d, want >= 200 (back to soft)", d.TokensFreed)
	}
	if d.Strategy != StrategyRelevance {
		t.Errorf("Strategy = %v, want relevance (forced above hard)", d.Strategy)
	}
}

func TestEngine_ColdUncompressedFirst(t *testing.T) {
	e := newTestEngine(t)
	now := time.Now()

	d := e.Decide([]Candidate{
		{ID: "compressed", Tokens: 100, Tier: temporal.TierCold, Compressed: true, Relevance: 0.1, LastAccess: now},
		{ID: "raw-cold", Tokens: 100, Tier: temporal.TierCold, Compressed: false, Relevance: 0.9, LastAccess: now},
		{ID: "hot", Tokens: 450, Tier: temporal.TierHot, Relevance: 0.9, LastAccess: now},
	}, 650, 1000, 1)

	if d == nil {
		t.Fatal("Decide() = nil, want decision")
	}
	if len(d.VictimIDs) == 0 || d.VictimIDs[0] != "raw-cold" {
		t.Errorf("first victim = %v, want raw-cold (cold+uncompressed preference)", d.VictimIDs)
	}
}

func TestEngine_InUseNeverEvicted(t *testing.T) {
	e := newTestEngine(t)

	d := e.Decide([]Candidate{
		{ID: "busy", Tokens: 800, Tier: temporal.TierCold, InUse: true, Relevance: 0.0},
		{ID: "idle", Tokens: 120, Tier: temporal.TierWarm, Relevance: 0.5},
	}, 920, 1000, 1)

	if d == nil {
		t.Fatal("Decide() = nil, want decision")
	}
	for _, id := range d.VictimIDs {
		if id == "busy" {
			t.Error("in-use entry selected as victim")
		}
	}
}

func TestEngine_TieBreakOlderThenLarger(t *testing.T) {
	e := newTestEngine(t)
	now := time.Now()

	// Hard band forces relevance ordering; equal scores fall through
	// to the tie-break. Need is 200 tokens, so two victims are taken.
	d := e.Decide([]Candidate{
		{ID: "newer", Tokens: 100, Tier: temporal.TierWarm, Relevance: 0.5, LastAccess: now},
		{ID: "older", Tokens: 100, Tier: temporal.TierWarm, Relevance: 0.5, LastAccess: now.Add(-time.Hour)},
		{ID: "older-bigger", Tokens: 120, Tier: temporal.TierWarm, Relevance: 0.5, LastAccess: now.Add(-time.Hour)},
	}, 800, 1000, 1)

	if d == nil {
		t.Fatal("Decide() = nil, want decision")
	}
	if len(d.VictimIDs) < 2 {
		t.Fatalf("victims = %v, want at least 2", d.VictimIDs)
	}
	if d.VictimIDs[0] != "older-bigger" {
		t.Errorf("first victim = %q, want older-bigger (older wins, then larger footprint)", d.VictimIDs[0])
	}
	if d.VictimIDs[1] != "older" {
		t.Errorf("second victim = %q, want older", d.VictimIDs[1])
	}
}

func TestEngine_LRUStrategyOrdering(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DefaultStrategy = StrategyLRU
	e, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	now := time.Now()

	d := e.Decide([]Candidate{
		{ID: "recent", Tokens: 100, Tier: temporal.TierWarm, LastAccess: now},
		{ID: "ancient", Tokens: 100, Tier: temporal.TierWarm, LastAccess: now.Add(-2 * time.Hour)},
	}, 650, 1000, 1)

	if d == nil {
		t.Fatal("Decide() = nil, want decision")
	}
	if d.Strategy != StrategyLRU {
		t.Errorf("Strategy = %v, want lru in soft band", d.Strategy)
	}
	if d.VictimIDs[0] != "ancient" {
		t.Errorf("first victim = %q, want ancient", d.VictimIDs[0])
	}
}

func TestEngine_DecisionCarriesGeneration(t *testing.T) {
	e := newTestEngine(t)

	d := e.Decide([]Candidate{{ID: "a", Tokens: 700, Tier: temporal.TierWarm}}, 700, 1000, 42)
	if d == nil {
		t.Fatal("Decide() = nil, want decision")
	}
	if d.Generation != 42 {
		t.Errorf("Generation = %d, want 42", d.Generation)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"defaults", DefaultConfig(), false},
		{"inverted thresholds", Config{
			Thresholds:      Thresholds{Soft: 0.9, Hard: 0.75, Emergency: 0.6},
			DefaultStrategy: StrategyAdaptive,
		}, true},
		{"unknown strategy", Config{
			Thresholds:      DefaultThresholds(),
			DefaultStrategy: Strategy("random"),
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
