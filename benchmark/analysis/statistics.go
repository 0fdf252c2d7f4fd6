// Package analysis provides statistical analysis for latency benchmark
// results.
package analysis

import (
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// MannWhitneyResult contains the result of a Mann-Whitney U test.
type MannWhitneyResult struct {
	U           float64 // U statistic.
	Z           float64 // Z score (normal approximation).
	PValue      float64 // Two-tailed p-value.
	Significant bool    // True if p < 0.05.
}

// MannWhitneyU performs the Mann-Whitney U test on two latency sample
// sets. Non-parametric, so it tolerates the long right tails typical
// of latency distributions.
func MannWhitneyU(sample1, sample2 []float64) *MannWhitneyResult {
	n1 := float64(len(sample1))
	n2 := float64(len(sample2))

	if n1 == 0 || n2 == 0 {
		return &MannWhitneyResult{}
	}

	type rankedValue struct {
		value  float64
		sample int // 1 or 2
	}

	combined := make([]rankedValue, 0, int(n1+n2))
	for _, v := range sample1 {
		combined = append(combined, rankedValue{value: v, sample: 1})
	}
	for _, v := range sample2 {
		combined = append(combined, rankedValue{value: v, sample: 2})
	}

	sort.Slice(combined, func(i, j int) bool {
		return combined[i].value < combined[j].value
	})

	// Assign ranks, averaging over ties.
	ranks := make([]float64, len(combined))
	i := 0
	for i < len(combined) {
		j := i
		for j < len(combined) && combined[j].value == combined[i].value {
			j++
		}
		avgRank := float64(i+j+1) / 2
		for k := i; k < j; k++ {
			ranks[k] = avgRank
		}
		i = j
	}

	var r1 float64
	for i, rv := range combined {
		if rv.sample == 1 {
			r1 += ranks[i]
		}
	}

	u1 := r1 - n1*(n1+1)/2
	u2 := n1*n2 - u1
	u := math.Min(u1, u2)

	// Normal approximation for large samples.
	mu := n1 * n2 / 2
	sigma := math.Sqrt(n1 * n2 * (n1 + n2 + 1) / 12)

	z := 0.0
	if sigma > 0 {
		z = (u - mu) / sigma
	}

	pValue := 2 * normalCDF(-math.Abs(z))

	return &MannWhitneyResult{
		U:           u,
		Z:           z,
		PValue:      pValue,
		Significant: pValue < 0.05,
	}
}

// normalCDF computes the cumulative distribution function of the standard normal.
func normalCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}

// EffectSize contains effect size metrics.
type EffectSize struct {
	CohensD        float64 // Cohen's d: (mean1 - mean2) / pooled_std.
	Interpretation string  // "negligible", "small", "medium", "large".
}

// ComputeEffectSize computes Cohen's d effect size between two sample
// sets.
func ComputeEffectSize(sample1, sample2 []float64) *EffectSize {
	if len(sample1) == 0 || len(sample2) == 0 {
		return &EffectSize{Interpretation: "undefined"}
	}

	mean1 := stat.Mean(sample1, nil)
	mean2 := stat.Mean(sample2, nil)
	std1 := stat.StdDev(sample1, nil)
	std2 := stat.StdDev(sample2, nil)

	n1 := float64(len(sample1))
	n2 := float64(len(sample2))
	pooledVar := ((n1-1)*std1*std1 + (n2-1)*std2*std2) / (n1 + n2 - 2)
	pooledStd := math.Sqrt(pooledVar)

	var d float64
	if pooledStd > 0 {
		d = (mean1 - mean2) / pooledStd
	}

	return &EffectSize{
		CohensD:        d,
		Interpretation: interpretCohensD(math.Abs(d)),
	}
}

func interpretCohensD(d float64) string {
	switch {
	case d < 0.2:
		return "negligible"
	case d < 0.5:
		return "small"
	case d < 0.8:
		return "medium"
	default:
		return "large"
	}
}

// BootstrapResult is a bootstrap confidence interval for the mean
// latency difference.
type BootstrapResult struct {
	MeanDiff   float64
	LowerBound float64
	UpperBound float64
	Confidence float64 // e.g., 0.95 for 95% CI.
}

// BootstrapConfidenceInterval computes a percentile-method confidence
// interval for the mean difference. A fixed seed keeps reruns
// reproducible.
func BootstrapConfidenceInterval(sample1, sample2 []float64, iterations int, confidence float64) *BootstrapResult {
	if len(sample1) == 0 || len(sample2) == 0 || iterations <= 0 {
		return &BootstrapResult{Confidence: confidence}
	}

	mean1 := stat.Mean(sample1, nil)
	mean2 := stat.Mean(sample2, nil)
	actualDiff := mean1 - mean2

	rng := rand.New(rand.NewSource(1))
	diffs := make([]float64, iterations)
	for i := 0; i < iterations; i++ {
		diffs[i] = stat.Mean(resample(rng, sample1), nil) - stat.Mean(resample(rng, sample2), nil)
	}
	sort.Float64s(diffs)

	alpha := 1 - confidence
	lowerIdx := int(alpha / 2 * float64(iterations))
	upperIdx := int((1 - alpha/2) * float64(iterations))

	if lowerIdx < 0 {
		lowerIdx = 0
	}
	if upperIdx >= iterations {
		upperIdx = iterations - 1
	}

	return &BootstrapResult{
		MeanDiff:   actualDiff,
		LowerBound: diffs[lowerIdx],
		UpperBound: diffs[upperIdx],
		Confidence: confidence,
	}
}

// resample draws a bootstrap sample with replacement.
func resample(rng *rand.Rand, sample []float64) []float64 {
	n := len(sample)
	result := make([]float64, n)
	for i := 0; i < n; i++ {
		result[i] = sample[rng.Intn(n)]
	}
	return result
}

// DescriptiveStats summarizes a latency sample set. All values in
// milliseconds.
type DescriptiveStats struct {
	N      int
	Mean   float64
	Median float64
	StdDev float64
	Min    float64
	Max    float64
	P50    float64
	P95    float64
	P99    float64
}

// Describe computes descriptive statistics for a latency sample set.
func Describe(sample []float64) *DescriptiveStats {
	if len(sample) == 0 {
		return &DescriptiveStats{}
	}

	sorted := make([]float64, len(sample))
	copy(sorted, sample)
	sort.Float64s(sorted)

	return &DescriptiveStats{
		N:      len(sample),
		Mean:   stat.Mean(sample, nil),
		Median: sorted[len(sorted)/2],
		StdDev: stat.StdDev(sample, nil),
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
		P50:    stat.Quantile(0.50, stat.Empirical, sorted, nil),
		P95:    stat.Quantile(0.95, stat.Empirical, sorted, nil),
		P99:    stat.Quantile(0.99, stat.Empirical, sorted, nil),
	}
}
