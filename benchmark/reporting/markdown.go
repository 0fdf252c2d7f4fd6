// Package reporting renders benchmark reports in Markdown.
package reporting

import (
	"fmt"
	"io"
	"strings"

	"github.com/agentstash/stash"
	"github.com/agentstash/stash/benchmark"
	"github.com/agentstash/stash/benchmark/analysis"
)

// MarkdownReport writes a benchmark report in Markdown format.
type MarkdownReport struct {
	w io.Writer
}

// NewMarkdownReport creates a new Markdown report writer.
func NewMarkdownReport(w io.Writer) *MarkdownReport {
	return &MarkdownReport{w: w}
}

// Write renders the full report.
func (r *MarkdownReport) Write(report *benchmark.Report) {
	r.writeHeader(report)
	r.writeLatencyTable(report)
	r.writeEffectiveness(report)
	if report.Comparison != nil {
		for _, comp := range report.Comparison.Comparisons {
			r.writeComparison(comp)
		}
	}
	r.writeFooter()
}

func (r *MarkdownReport) writeHeader(report *benchmark.Report) {
	fmt.Fprintln(r.w, "# Cache Optimizer Benchmark")
	fmt.Fprintln(r.w)
	fmt.Fprintf(r.w, "Generated: %s\n\n", report.GeneratedAt.Format("2006-01-02T15:04:05Z07:00"))
}

func (r *MarkdownReport) writeLatencyTable(report *benchmark.Report) {
	fmt.Fprintln(r.w, "## Latency")
	fmt.Fprintln(r.w)
	fmt.Fprintln(r.w, "| Class | Count | Mean (ms) | P50 | P95 | P99 | Max | Budget P95 | Verdict |")
	fmt.Fprintln(r.w, "|-------|-------|-----------|-----|-----|-----|-----|------------|---------|")

	for _, res := range report.Results {
		budget := "-"
		verdict := "-"
		if res.BudgetP95Ms > 0 {
			budget = fmt.Sprintf("%.0fms", res.BudgetP95Ms)
			if res.WithinBudget {
				verdict = "ok"
			} else {
				verdict = "**OVER**"
			}
		}
		fmt.Fprintf(r.w, "| %s | %d | %.2f | %.2f | %.2f | %.2f | %.2f | %s | %s |\n",
			res.Class, res.Stats.N, res.Stats.Mean,
			res.Stats.P50, res.Stats.P95, res.Stats.P99, res.Stats.Max,
			budget, verdict)
	}
	fmt.Fprintln(r.w)
}

func (r *MarkdownReport) writeEffectiveness(report *benchmark.Report) {
	m := report.Effectiveness

	fmt.Fprintln(r.w, "## Effectiveness")
	fmt.Fprintln(r.w)
	fmt.Fprintf(r.w, "- **Utilization:** %.1f%% (%d / %d tokens, %d entries)\n",
		m.Utilization*100, m.TotalTokens, m.Capacity, m.Entries)
	fmt.Fprintf(r.w, "- **Compactions prevented / missed:** %d / %d\n", m.CompactionsPrevented, m.CompactionsMissed)
	fmt.Fprintf(r.w, "- **Prune passes:** %d (%d entries evicted, %d tokens freed)\n",
		m.PrunePasses, m.EntriesEvicted, m.TokensFreed)
	fmt.Fprintf(r.w, "- **Compressions:** %d completed, %d failed\n", m.Compressions, m.CompressionFailures)
	fmt.Fprintln(r.w)

	if len(m.PerTier) > 0 {
		fmt.Fprintln(r.w, "| Tier | Entries |")
		fmt.Fprintln(r.w, "|------|---------|")
		for _, tier := range []stash.Tier{stash.TierHot, stash.TierWarm, stash.TierCold} {
			fmt.Fprintf(r.w, "| %s | %d |\n", tier, m.PerTier[tier])
		}
		fmt.Fprintln(r.w)
	}
}

func (r *MarkdownReport) writeComparison(comp *analysis.RunComparison) {
	fmt.Fprintf(r.w, "## Baseline comparison: %s\n\n", comp.Class)

	fmt.Fprintln(r.w, "| Metric | Baseline | Current |")
	fmt.Fprintln(r.w, "|--------|----------|---------|")
	fmt.Fprintf(r.w, "| Mean | %.2f | %.2f |\n", comp.Baseline.Mean, comp.Current.Mean)
	fmt.Fprintf(r.w, "| P95 | %.2f | %.2f |\n", comp.Baseline.P95, comp.Current.P95)
	fmt.Fprintf(r.w, "| P99 | %.2f | %.2f |\n", comp.Baseline.P99, comp.Current.P99)
	fmt.Fprintf(r.w, "| Std Dev | %.2f | %.2f |\n", comp.Baseline.StdDev, comp.Current.StdDev)
	fmt.Fprintln(r.w)

	fmt.Fprintf(r.w, "- **Mann-Whitney U:** %.2f (z=%.2f, p=%.4f)\n",
		comp.MannWhitney.U, comp.MannWhitney.Z, comp.MannWhitney.PValue)
	fmt.Fprintf(r.w, "- **Effect size (Cohen's d):** %.2f (%s)\n",
		comp.EffectSize.CohensD, comp.EffectSize.Interpretation)
	fmt.Fprintf(r.w, "- **%.0f%% CI for mean difference:** [%.2f, %.2f]\n",
		comp.BootstrapCI.Confidence*100, comp.BootstrapCI.LowerBound, comp.BootstrapCI.UpperBound)
	fmt.Fprintln(r.w)

	if comp.Regressed {
		fmt.Fprintln(r.w, "**Regression detected**: the current run is significantly slower than the baseline.")
	} else {
		fmt.Fprintln(r.w, "No statistically significant slowdown against the baseline.")
	}
	fmt.Fprintln(r.w)
}

// WriteHistogram renders an ASCII latency distribution.
func (r *MarkdownReport) WriteHistogram(name string, samplesMs []float64) {
	fmt.Fprintf(r.w, "### %s distribution\n\n", name)
	fmt.Fprintln(r.w, "```")

	buckets, lo, size := makeHistogram(samplesMs, 10)
	maxCount := 0
	for _, count := range buckets {
		if count > maxCount {
			maxCount = count
		}
	}

	width := 40
	for i, count := range buckets {
		barLen := 0
		if maxCount > 0 {
			barLen = count * width / maxCount
		}
		bar := strings.Repeat("█", barLen)
		fmt.Fprintf(r.w, "%7.1f-%7.1f │ %s %d\n",
			lo+float64(i)*size, lo+float64(i+1)*size, bar, count)
	}

	fmt.Fprintln(r.w, "```")
	fmt.Fprintln(r.w)
}

func makeHistogram(data []float64, buckets int) ([]int, float64, float64) {
	hist := make([]int, buckets)
	if len(data) == 0 {
		return hist, 0, 1
	}

	lo, hi := data[0], data[0]
	for _, v := range data {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if hi == lo {
		hi = lo + 1
	}

	size := (hi - lo) / float64(buckets)
	for _, v := range data {
		bucket := int((v - lo) / size)
		if bucket >= buckets {
			bucket = buckets - 1
		}
		hist[bucket]++
	}
	return hist, lo, size
}

func (r *MarkdownReport) writeFooter() {
	fmt.Fprintln(r.w, "---")
	fmt.Fprintln(r.w)
	fmt.Fprintln(r.w, "*Report generated by stash-bench*")
}
