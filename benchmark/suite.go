// Package benchmark measures optimizer latency and effectiveness and
// gates regressions against recorded baselines.
package benchmark

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/agentstash/stash"
	"github.com/agentstash/stash/benchmark/analysis"
)

// Budget is a p95 latency ceiling for one operation class.
type Budget struct {
	Class stash.LatencyClass
	P95Ms float64
}

// DefaultBudgets returns the latency budgets enforced as regression
// gates: 50ms p95 for a single scoring call, 3000ms p95 for
// hook-facing event handling.
func DefaultBudgets() []Budget {
	return []Budget{
		{Class: stash.LatencyScoring, P95Ms: 50},
		{Class: stash.LatencyHook, P95Ms: 3000},
	}
}

// trackedClasses lists every operation class the suite reports on.
var trackedClasses = []stash.LatencyClass{
	stash.LatencyScoring,
	stash.LatencyPruning,
	stash.LatencyCompression,
	stash.LatencyHook,
	stash.LatencyVectorSearch,
}

// ClassResult is one operation class's measured latency against its
// budget.
type ClassResult struct {
	Class stash.LatencyClass
	Stats *analysis.DescriptiveStats

	// BudgetP95Ms is the p95 ceiling, or zero when the class carries
	// no budget.
	BudgetP95Ms  float64
	WithinBudget bool
}

// Report is one benchmark run's output.
type Report struct {
	GeneratedAt   time.Time
	Results       []ClassResult
	Effectiveness stash.Metrics

	// Comparison against a baseline run, when one was provided.
	Comparison *analysis.MultiRunComparison
}

// BudgetViolations returns the classes that blew their p95 budget.
func (r *Report) BudgetViolations() []ClassResult {
	var out []ClassResult
	for _, res := range r.Results {
		if res.BudgetP95Ms > 0 && !res.WithinBudget {
			out = append(out, res)
		}
	}
	return out
}

// Suite collects latency and effectiveness measurements from a live
// optimizer.
type Suite struct {
	opt     *stash.Optimizer
	budgets []Budget
	logger  *zap.Logger
}

// Option configures a Suite.
type Option func(*Suite)

// WithBudgets overrides the latency budgets.
func WithBudgets(budgets []Budget) Option {
	return func(s *Suite) {
		s.budgets = budgets
	}
}

// WithLogger sets the logger. If not set, a no-op logger is used.
func WithLogger(l *zap.Logger) Option {
	return func(s *Suite) {
		s.logger = l
	}
}

// New creates a Suite observing the optimizer.
func New(opt *stash.Optimizer, opts ...Option) *Suite {
	s := &Suite{
		opt:     opt,
		budgets: DefaultBudgets(),
		logger:  zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Samples returns the optimizer's current latency samples keyed by
// class name, in the shape CompareAll consumes. Suitable for
// persisting as a baseline.
func (s *Suite) Samples() map[string][]float64 {
	out := make(map[string][]float64, len(trackedClasses))
	for _, class := range trackedClasses {
		if samples := s.opt.LatencySamples(class); len(samples) > 0 {
			out[string(class)] = samples
		}
	}
	return out
}

// Collect snapshots the optimizer into a report. baseline may be nil;
// when present, per-class regression comparisons are included.
func (s *Suite) Collect(baseline map[string][]float64) *Report {
	report := &Report{
		GeneratedAt:   time.Now(),
		Effectiveness: s.opt.Metrics(),
	}

	for _, class := range trackedClasses {
		samples := s.opt.LatencySamples(class)
		if len(samples) == 0 {
			continue
		}
		res := ClassResult{
			Class:        class,
			Stats:        analysis.Describe(samples),
			WithinBudget: true,
		}
		if budget, ok := s.budgetFor(class); ok {
			res.BudgetP95Ms = budget.P95Ms
			res.WithinBudget = res.Stats.P95 <= budget.P95Ms
			if !res.WithinBudget {
				s.logger.Warn("latency budget exceeded",
					zap.String("class", string(class)),
					zap.Float64("p95Ms", res.Stats.P95),
					zap.Float64("budgetMs", budget.P95Ms),
				)
			}
		}
		report.Results = append(report.Results, res)
	}

	if baseline != nil {
		report.Comparison = analysis.CompareAll(baseline, s.Samples(), 1000, 0.95)
	}
	return report
}

// Gate returns an error when the report fails the regression gate:
// either a budget violation or a statistically significant slowdown
// against the baseline.
func (s *Suite) Gate(report *Report) error {
	if violations := report.BudgetViolations(); len(violations) > 0 {
		v := violations[0]
		return fmt.Errorf("benchmark: %s p95 %.2fms exceeds %.2fms budget (%d classes over)",
			v.Class, v.Stats.P95, v.BudgetP95Ms, len(violations))
	}
	if report.Comparison != nil && report.Comparison.AnyRegression() {
		for _, c := range report.Comparison.Comparisons {
			if c.Regressed {
				return fmt.Errorf("benchmark: latency regression in %s: %s", c.Class, c.Summary())
			}
		}
	}
	return nil
}

func (s *Suite) budgetFor(class stash.LatencyClass) (Budget, bool) {
	for _, b := range s.budgets {
		if b.Class == class {
			return b, true
		}
	}
	return Budget{}, false
}
