// Package memorycachefx provides an fx module for an in-memory cache
// optimizer. Useful for testing.
package memorycachefx

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/agentstash/stash"
	"github.com/agentstash/stash/internal/stats"
	"github.com/agentstash/stash/internal/stats/logger"
	"github.com/agentstash/stash/internal/store/memstore"
)

// Config holds configuration for the in-memory optimizer.
type Config struct {
	// Capacity is the token budget. Default is stash.DefaultCapacity.
	Capacity int
}

// Module provides an in-memory cache optimizer for testing.
// Requires a *zap.Logger to be provided.
var Module = fx.Module("memorycache",
	fx.Provide(
		newStatsCollector,
		newMemStore,
		newOptimizer,
	),
)

func newStatsCollector(log *zap.Logger) stats.Collector {
	return logger.New(log.Named("stash.stats"))
}

func newMemStore() *memstore.Store {
	return memstore.New()
}

// Params holds dependencies for creating the optimizer.
type Params struct {
	fx.In

	Config    Config `optional:"true"`
	Logger    *zap.Logger
	Collector stats.Collector
	Store     *memstore.Store
	Lifecycle fx.Lifecycle
}

// Result holds the provided optimizer and store.
type Result struct {
	fx.Out

	Optimizer *stash.Optimizer
	Store     *memstore.Store // Exposed for test setup
}

func newOptimizer(p Params) (Result, error) {
	capacity := p.Config.Capacity
	if capacity <= 0 {
		capacity = stash.DefaultCapacity
	}

	opt, err := stash.New(
		stash.WithCapacity(capacity),
		stash.WithStore(p.Store),
		stash.WithStats(p.Collector),
		stash.WithLogger(p.Logger.Named("stash")),
	)
	if err != nil {
		return Result{}, err
	}

	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return opt.Close()
		},
	})

	return Result{
		Optimizer: opt,
		Store:     p.Store,
	}, nil
}
