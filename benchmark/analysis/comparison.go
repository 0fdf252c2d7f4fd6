package analysis

import "fmt"

// RunComparison is a full statistical comparison of one operation
// class's latency between a baseline run and a current run.
type RunComparison struct {
	Class       string
	Baseline    *DescriptiveStats
	Current     *DescriptiveStats
	MannWhitney *MannWhitneyResult
	EffectSize  *EffectSize
	BootstrapCI *BootstrapResult

	// Regressed is true when the current run is measurably slower:
	// the distributions differ significantly and the effect is at
	// least small-sized in the slow direction.
	Regressed bool
}

// CompareRuns compares current latency samples against a baseline for
// one operation class.
func CompareRuns(class string, baseline, current []float64, bootstrapIterations int, confidence float64) *RunComparison {
	mw := MannWhitneyU(baseline, current)
	es := ComputeEffectSize(baseline, current)
	bs := BootstrapConfidenceInterval(baseline, current, bootstrapIterations, confidence)

	baseStats := Describe(baseline)
	currStats := Describe(current)

	// Cohen's d here is baseline minus current, so a slowdown shows
	// up as a negative d.
	regressed := mw.Significant &&
		currStats.Mean > baseStats.Mean &&
		es.CohensD <= -0.2

	return &RunComparison{
		Class:       class,
		Baseline:    baseStats,
		Current:     currStats,
		MannWhitney: mw,
		EffectSize:  es,
		BootstrapCI: bs,
		Regressed:   regressed,
	}
}

// Summary returns a human-readable summary of the comparison.
func (c *RunComparison) Summary() string {
	verdict := "no regression"
	if c.Regressed {
		verdict = fmt.Sprintf("REGRESSION (p=%.4f, d=%.2f %s)",
			c.MannWhitney.PValue, c.EffectSize.CohensD, c.EffectSize.Interpretation)
	}

	return fmt.Sprintf(
		"%s:\n"+
			"  baseline: mean=%.2fms, p95=%.2fms, p99=%.2fms (n=%d)\n"+
			"  current:  mean=%.2fms, p95=%.2fms, p99=%.2fms (n=%d)\n"+
			"  mean diff: %+.2fms (%+.1f%%)\n"+
			"  verdict: %s",
		c.Class,
		c.Baseline.Mean, c.Baseline.P95, c.Baseline.P99, c.Baseline.N,
		c.Current.Mean, c.Current.P95, c.Current.P99, c.Current.N,
		c.Current.Mean-c.Baseline.Mean,
		safePctDiff(c.Current.Mean, c.Baseline.Mean),
		verdict,
	)
}

func safePctDiff(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return (a - b) / b * 100
}

// MultiRunComparison holds per-class comparisons between two runs.
type MultiRunComparison struct {
	Comparisons []*RunComparison
}

// AnyRegression reports whether any class regressed.
func (m *MultiRunComparison) AnyRegression() bool {
	for _, c := range m.Comparisons {
		if c.Regressed {
			return true
		}
	}
	return false
}

// CompareAll compares current samples against baselines, class by
// class. Classes missing from either side are skipped.
func CompareAll(baseline, current map[string][]float64, bootstrapIterations int, confidence float64) *MultiRunComparison {
	multi := &MultiRunComparison{}
	for class, base := range baseline {
		curr, ok := current[class]
		if !ok {
			continue
		}
		multi.Comparisons = append(multi.Comparisons,
			CompareRuns(class, base, curr, bootstrapIterations, confidence))
	}
	return multi
}
