package analysis

import (
	"math"
	"testing"
)

func TestMannWhitneyU(t *testing.T) {
	tests := []struct {
		name       string
		sample1    []float64
		sample2    []float64
		wantSignif bool
	}{
		{
			name:       "identical samples",
			sample1:    []float64{1, 2, 3, 4, 5},
			sample2:    []float64{1, 2, 3, 4, 5},
			wantSignif: false,
		},
		{
			name:       "clearly different samples",
			sample1:    []float64{1, 2, 3, 4, 5},
			sample2:    []float64{10, 11, 12, 13, 14},
			wantSignif: true,
		},
		{
			name:       "highly overlapping samples",
			sample1:    []float64{3, 4, 5, 6, 7},
			sample2:    []float64{4, 5, 6, 7, 8},
			wantSignif: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := MannWhitneyU(tt.sample1, tt.sample2)
			if result.Significant != tt.wantSignif {
				t.Errorf("Significant = %v, want %v (p=%f)", result.Significant, tt.wantSignif, result.PValue)
			}
		})
	}
}

func TestMannWhitneyU_Empty(t *testing.T) {
	result := MannWhitneyU([]float64{}, []float64{1, 2, 3})
	if result.U != 0 {
		t.Errorf("U = %f, want 0 for empty sample", result.U)
	}
}

func TestEffectSize(t *testing.T) {
	tests := []struct {
		name       string
		sample1    []float64
		sample2    []float64
		wantInterp string
	}{
		{
			name:       "large effect",
			sample1:    []float64{1, 2, 3, 4, 5},
			sample2:    []float64{10, 11, 12, 13, 14},
			wantInterp: "large",
		},
		{
			name:       "negligible effect",
			sample1:    []float64{5, 5, 5, 5, 5},
			sample2:    []float64{5.1, 5, 4.9, 5, 5},
			wantInterp: "negligible",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ComputeEffectSize(tt.sample1, tt.sample2)
			if result.Interpretation != tt.wantInterp {
				t.Errorf("Interpretation = %s, want %s (d=%f)", result.Interpretation, tt.wantInterp, result.CohensD)
			}
		})
	}
}

func TestDescribe(t *testing.T) {
	// 100 samples: 10, 20, ..., 1000.
	sample := make([]float64, 100)
	for i := range sample {
		sample[i] = float64((i + 1) * 10)
	}

	stats := Describe(sample)
	if stats.N != 100 {
		t.Errorf("N = %d, want 100", stats.N)
	}
	if math.Abs(stats.P50-500) > 10 {
		t.Errorf("P50 = %f, want ~500", stats.P50)
	}
	if math.Abs(stats.P95-950) > 10 {
		t.Errorf("P95 = %f, want ~950", stats.P95)
	}
	if math.Abs(stats.P99-990) > 10 {
		t.Errorf("P99 = %f, want ~990", stats.P99)
	}
	if stats.Min != 10 || stats.Max != 1000 {
		t.Errorf("Min/Max = %f/%f, want 10/1000", stats.Min, stats.Max)
	}
}

func TestDescribe_Empty(t *testing.T) {
	stats := Describe([]float64{})
	if stats.N != 0 {
		t.Errorf("N = %d, want 0", stats.N)
	}
}

func TestBootstrapConfidenceInterval(t *testing.T) {
	sample1 := []float64{1, 2, 3, 4, 5}
	sample2 := []float64{6, 7, 8, 9, 10}

	result := BootstrapConfidenceInterval(sample1, sample2, 1000, 0.95)

	if math.Abs(result.MeanDiff-(-5)) > 0.1 {
		t.Errorf("MeanDiff = %f, want approximately -5", result.MeanDiff)
	}
	if result.LowerBound > result.MeanDiff || result.UpperBound < result.MeanDiff {
		t.Errorf("CI [%f, %f] does not contain mean diff %f", result.LowerBound, result.UpperBound, result.MeanDiff)
	}
}

func TestBootstrapConfidenceInterval_NoIterations(t *testing.T) {
	result := BootstrapConfidenceInterval([]float64{1, 2, 3}, []float64{2, 3, 4}, 0, 0.95)

	if result.LowerBound != 0 || result.UpperBound != 0 {
		t.Errorf("bounds = [%f, %f], want [0, 0]", result.LowerBound, result.UpperBound)
	}
	if result.Confidence != 0.95 {
		t.Errorf("Confidence = %f, want 0.95", result.Confidence)
	}
}

func TestCompareRuns_DetectsRegression(t *testing.T) {
	baseline := make([]float64, 50)
	slower := make([]float64, 50)
	same := make([]float64, 50)
	for i := 0; i < 50; i++ {
		baseline[i] = 10 + float64(i%5)
		slower[i] = 30 + float64(i%5)
		same[i] = 10 + float64((i+2)%5)
	}

	if c := CompareRuns("scoring", baseline, slower, 200, 0.95); !c.Regressed {
		t.Errorf("3x slower run not flagged: %s", c.Summary())
	}
	if c := CompareRuns("scoring", baseline, same, 200, 0.95); c.Regressed {
		t.Errorf("equivalent run flagged as regression: %s", c.Summary())
	}
	// A faster current run is never a regression.
	if c := CompareRuns("scoring", slower, baseline, 200, 0.95); c.Regressed {
		t.Errorf("improvement flagged as regression: %s", c.Summary())
	}
}

func TestCompareAll(t *testing.T) {
	baseline := map[string][]float64{
		"scoring": {10, 11, 12, 10, 11},
		"pruning": {5, 6, 5, 6, 5},
	}
	current := map[string][]float64{
		"scoring": {50, 51, 52, 50, 51},
		// pruning missing from the current run.
	}

	multi := CompareAll(baseline, current, 100, 0.95)
	if len(multi.Comparisons) != 1 {
		t.Fatalf("Comparisons = %d, want 1 (missing classes skipped)", len(multi.Comparisons))
	}
	if !multi.AnyRegression() {
		t.Error("AnyRegression() = false, want true")
	}
}
