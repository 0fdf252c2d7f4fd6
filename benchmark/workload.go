package benchmark

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"

	"github.com/agentstash/stash"
)

// Workload generates a synthetic stream of host events against an
// optimizer. Deterministic for a given seed.
type Workload struct {
	// Entries is the number of entries to ingest.
	Entries int

	// Seed drives all randomness.
	Seed int64

	// MeanContentChars sets the average entry size; actual sizes vary
	// uniformly between half and double the mean.
	MeanContentChars int

	// ReadRatio is the fraction of steps that re-read a prior entry.
	ReadRatio float64

	// MaintenanceEvery inserts a prompt-submit maintenance event after
	// this many ingests. Zero disables.
	MaintenanceEvery int
}

// DefaultWorkload returns a workload sized to push a default-capacity
// optimizer through all three severity bands.
func DefaultWorkload() Workload {
	return Workload{
		Entries:          500,
		Seed:             1,
		MeanContentChars: 2000,
		ReadRatio:        0.3,
		MaintenanceEvery: 25,
	}
}

var workloadTypes = []stash.EntryType{
	stash.TypeToolResult,
	stash.TypeToolResult,
	stash.TypeFileRead,
	stash.TypeConversationTurn,
	stash.TypeError,
}

var workloadWords = []string{
	"build", "test", "error", "parse", "token", "cache", "index",
	"flush", "merge", "hash", "retry", "queue", "score", "tier",
}

// Run drives the workload through the optimizer. Capacity-emergency
// results are counted, not fatal; they are part of what the suite
// measures.
func (w Workload) Run(ctx context.Context, opt *stash.Optimizer) error {
	rng := rand.New(rand.NewSource(w.Seed))
	var ids []string

	for i := 0; i < w.Entries; i++ {
		content := w.synthesize(rng)
		res, err := opt.HandleEvent(ctx, stash.Event{
			Type:      stash.EventPostToolUse,
			Content:   content,
			EntryType: workloadTypes[rng.Intn(len(workloadTypes))],
		})
		if err != nil && !errors.Is(err, stash.ErrCapacityEmergency) {
			return fmt.Errorf("ingesting entry %d: %w", i, err)
		}
		if res.EntryID != "" {
			ids = append(ids, res.EntryID)
		}

		if len(ids) > 0 && rng.Float64() < w.ReadRatio {
			// Reads skew toward recent entries, like a real session.
			idx := len(ids) - 1 - rng.Intn(min(len(ids), 20))
			// Evicted ids are expected misses.
			_, _ = opt.Get(ctx, ids[idx])
		}

		if w.MaintenanceEvery > 0 && (i+1)%w.MaintenanceEvery == 0 {
			_, err := opt.HandleEvent(ctx, stash.Event{
				Type:  stash.EventPromptSubmit,
				Query: stash.Query{Query: w.synthesize(rng), Tags: []string{"workload"}},
			})
			if err != nil && !errors.Is(err, stash.ErrCapacityEmergency) {
				return fmt.Errorf("maintenance at entry %d: %w", i, err)
			}
		}
	}
	return nil
}

// synthesize builds plausible text content of randomized size.
func (w Workload) synthesize(rng *rand.Rand) string {
	mean := w.MeanContentChars
	if mean <= 0 {
		mean = 2000
	}
	target := mean/2 + rng.Intn(mean+mean/2)

	var b strings.Builder
	b.Grow(target + 16)
	for b.Len() < target {
		b.WriteString(workloadWords[rng.Intn(len(workloadWords))])
		b.WriteByte(' ')
	}
	return b.String()
}
