package reporting

import (
	"strings"
	"testing"
	"time"

	"github.com/agentstash/stash"
	"github.com/agentstash/stash/benchmark"
	"github.com/agentstash/stash/benchmark/analysis"
)

func sampleReport() *benchmark.Report {
	scoring := make([]float64, 100)
	for i := range scoring {
		scoring[i] = float64(i%10) + 1
	}

	return &benchmark.Report{
		GeneratedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Results: []benchmark.ClassResult{
			{
				Class:        stash.LatencyScoring,
				Stats:        analysis.Describe(scoring),
				BudgetP95Ms:  50,
				WithinBudget: true,
			},
		},
		Effectiveness: stash.Metrics{
			Entries:              40,
			TotalTokens:          12000,
			Capacity:             20000,
			Utilization:          0.6,
			PerTier:              map[stash.Tier]int{stash.TierHot: 25, stash.TierWarm: 10, stash.TierCold: 5},
			CompactionsPrevented: 3,
			PrunePasses:          7,
			TokensFreed:          4200,
		},
	}
}

func TestMarkdownReport_Write(t *testing.T) {
	var buf strings.Builder
	NewMarkdownReport(&buf).Write(sampleReport())
	out := buf.String()

	for _, want := range []string{
		"# Cache Optimizer Benchmark",
		"## Latency",
		"| scoring | 100 |",
		"50ms",
		"ok",
		"## Effectiveness",
		"**Compactions prevented / missed:** 3 / 0",
		"| hot | 25 |",
		"| cold | 5 |",
		"*Report generated by stash-bench*",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q\n---\n%s", want, out)
		}
	}
}

func TestMarkdownReport_Comparison(t *testing.T) {
	report := sampleReport()
	baseline := map[string][]float64{"scoring": {10, 11, 12, 10, 11, 12, 10, 11}}
	current := map[string][]float64{"scoring": {40, 41, 42, 40, 41, 42, 40, 41}}
	report.Comparison = analysis.CompareAll(baseline, current, 200, 0.95)

	var buf strings.Builder
	NewMarkdownReport(&buf).Write(report)
	out := buf.String()

	if !strings.Contains(out, "## Baseline comparison: scoring") {
		t.Fatalf("missing comparison section:\n%s", out)
	}
	if !strings.Contains(out, "**Regression detected**") {
		t.Errorf("4x slowdown not reported as regression:\n%s", out)
	}
}

func TestWriteHistogram(t *testing.T) {
	var buf strings.Builder
	r := NewMarkdownReport(&buf)
	r.WriteHistogram("scoring", []float64{1, 2, 2, 3, 3, 3, 10})
	out := buf.String()

	if !strings.Contains(out, "### scoring distribution") {
		t.Errorf("missing histogram header:\n%s", out)
	}
	if !strings.Contains(out, "█") {
		t.Errorf("histogram rendered no bars:\n%s", out)
	}
}
