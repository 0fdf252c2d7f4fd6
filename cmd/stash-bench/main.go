// Package main provides the stash-bench CLI tool for benchmarking the
// cache optimizer with synthetic agent workloads.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentstash/stash"
	"github.com/agentstash/stash/benchmark"
	"github.com/agentstash/stash/benchmark/analysis"
	"github.com/agentstash/stash/benchmark/reporting"
)

var (
	capacity     int
	entries      int
	seed         int64
	meanSize     int
	outputFormat string
	outputFile   string
	baselineFile string
	saveBaseline string
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:   "stash-bench",
	Short: "Benchmark the stash cache optimizer",
	Long: `stash-bench drives a synthetic agent workload through the cache
optimizer and reports latency percentiles and compaction-prevention
effectiveness.

With a recorded baseline it acts as a regression gate: the run fails
when any operation class is statistically significantly slower, or when
a p95 latency budget is exceeded.

Examples:
  # Run the default workload
  stash-bench run

  # Heavier workload against a smaller budget, markdown report
  stash-bench run --capacity 50000 --entries 2000 --format markdown --output report.md

  # Record a baseline, then gate a later run against it
  stash-bench run --save-baseline baseline.json
  stash-bench run --baseline baseline.json`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the benchmark workload",
	RunE:  runBenchmark,
}

func init() {
	runCmd.Flags().IntVar(&capacity, "capacity", stash.DefaultCapacity, "token budget for the optimizer")
	runCmd.Flags().IntVarP(&entries, "entries", "n", 500, "number of entries to ingest")
	runCmd.Flags().Int64Var(&seed, "seed", 1, "workload random seed")
	runCmd.Flags().IntVar(&meanSize, "mean-size", 2000, "mean entry content size in characters")
	runCmd.Flags().StringVarP(&outputFormat, "format", "f", "text", "output format: text, markdown")
	runCmd.Flags().StringVarP(&outputFile, "output", "o", "", "output file (default: stdout)")
	runCmd.Flags().StringVarP(&baselineFile, "baseline", "b", "", "baseline samples JSON to gate against")
	runCmd.Flags().StringVar(&saveBaseline, "save-baseline", "", "write this run's samples as a baseline JSON")
	runCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(runCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runBenchmark(cmd *cobra.Command, args []string) error {
	opt, err := stash.New(stash.WithCapacity(capacity))
	if err != nil {
		return fmt.Errorf("creating optimizer: %w", err)
	}
	defer opt.Close()

	workload := benchmark.DefaultWorkload()
	workload.Entries = entries
	workload.Seed = seed
	workload.MeanContentChars = meanSize

	if verbose {
		fmt.Fprintf(os.Stderr, "Running workload: %d entries, seed %d, capacity %d tokens\n",
			workload.Entries, workload.Seed, capacity)
	}

	if err := workload.Run(context.Background(), opt); err != nil {
		return fmt.Errorf("running workload: %w", err)
	}

	var baseline map[string][]float64
	if baselineFile != "" {
		baseline, err = loadBaseline(baselineFile)
		if err != nil {
			return err
		}
	}

	suite := benchmark.New(opt)
	report := suite.Collect(baseline)

	if saveBaseline != "" {
		if err := writeBaseline(saveBaseline, suite.Samples()); err != nil {
			return err
		}
		if verbose {
			fmt.Fprintf(os.Stderr, "Baseline written to %s\n", saveBaseline)
		}
	}

	var output io.Writer = os.Stdout
	if outputFile != "" {
		f, err := os.Create(outputFile)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer f.Close()
		output = f
	}

	switch outputFormat {
	case "markdown":
		reporting.NewMarkdownReport(output).Write(report)
	default:
		writeTextReport(output, report)
	}

	return suite.Gate(report)
}

func loadBaseline(path string) (map[string][]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading baseline: %w", err)
	}
	var baseline map[string][]float64
	if err := json.Unmarshal(data, &baseline); err != nil {
		return nil, fmt.Errorf("decoding baseline: %w", err)
	}
	return baseline, nil
}

func writeBaseline(path string, samples map[string][]float64) error {
	data, err := json.MarshalIndent(samples, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding baseline: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing baseline: %w", err)
	}
	return nil
}

func writeTextReport(w io.Writer, report *benchmark.Report) {
	fmt.Fprintf(w, "Stash Cache Optimizer Benchmark\n")
	fmt.Fprintf(w, "===============================\n\n")

	fmt.Fprintf(w, "Latency (ms):\n")
	for _, res := range report.Results {
		fmt.Fprintf(w, "  %-14s n=%-5d mean=%-8.2f p50=%-8.2f p95=%-8.2f p99=%-8.2f max=%.2f",
			res.Class, res.Stats.N, res.Stats.Mean,
			res.Stats.P50, res.Stats.P95, res.Stats.P99, res.Stats.Max)
		if res.BudgetP95Ms > 0 {
			if res.WithinBudget {
				fmt.Fprintf(w, "  [budget %.0fms: ok]", res.BudgetP95Ms)
			} else {
				fmt.Fprintf(w, "  [budget %.0fms: OVER]", res.BudgetP95Ms)
			}
		}
		fmt.Fprintln(w)
	}

	m := report.Effectiveness
	fmt.Fprintf(w, "\nEffectiveness:\n")
	fmt.Fprintf(w, "  Utilization:           %.1f%% (%d/%d tokens, %d entries)\n",
		m.Utilization*100, m.TotalTokens, m.Capacity, m.Entries)
	fmt.Fprintf(w, "  Compactions prevented: %d (missed: %d)\n", m.CompactionsPrevented, m.CompactionsMissed)
	fmt.Fprintf(w, "  Prune passes:          %d (%d evicted, %d tokens freed)\n",
		m.PrunePasses, m.EntriesEvicted, m.TokensFreed)
	fmt.Fprintf(w, "  Compressions:          %d (failed: %d)\n", m.Compressions, m.CompressionFailures)

	if report.Comparison != nil {
		fmt.Fprintf(w, "\nBaseline comparison:\n")
		for _, comp := range report.Comparison.Comparisons {
			printComparison(w, comp)
		}
	}
}

func printComparison(w io.Writer, comp *analysis.RunComparison) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, comp.Summary())
}
