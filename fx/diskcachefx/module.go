// Package diskcachefx provides an fx module for a disk-persisted cache
// optimizer shared between agent processes.
package diskcachefx

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/agentstash/stash"
	"github.com/agentstash/stash/internal/codec/zstdcodec"
	"github.com/agentstash/stash/internal/stats"
	"github.com/agentstash/stash/internal/stats/prometheus"
	"github.com/agentstash/stash/internal/store/diskstore"
)

// Config holds configuration for the disk-persisted optimizer.
type Config struct {
	// DataDir is the directory holding persisted entries.
	DataDir string

	// Capacity is the token budget. Default is stash.DefaultCapacity.
	Capacity int

	// Namespace isolates this agent's entries within the data
	// directory. Default is stash.DefaultNamespace.
	Namespace string
}

// Module provides a disk-persisted cache optimizer with Prometheus
// metrics. Requires a Config and a *zap.Logger to be provided.
var Module = fx.Module("diskcache",
	fx.Provide(
		newStatsCollector,
		newOptimizer,
	),
)

func newStatsCollector() *prometheus.Collector {
	return prometheus.New(nil)
}

// Params holds dependencies for creating the optimizer.
type Params struct {
	fx.In

	Config    Config
	Logger    *zap.Logger
	Collector *prometheus.Collector
	Lifecycle fx.Lifecycle
}

// Result holds the provided optimizer and its metrics collector.
type Result struct {
	fx.Out

	Optimizer *stash.Optimizer
	Collector stats.Collector
}

func newOptimizer(p Params) (Result, error) {
	namespace := p.Config.Namespace
	if namespace == "" {
		namespace = stash.DefaultNamespace
	}
	capacity := p.Config.Capacity
	if capacity <= 0 {
		capacity = stash.DefaultCapacity
	}

	st, err := diskstore.New(p.Config.DataDir, zstdcodec.New())
	if err != nil {
		return Result{}, err
	}

	opt, err := stash.New(
		stash.WithCapacity(capacity),
		stash.WithStore(st),
		stash.WithNamespace(namespace),
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
		Collector: p.Collector,
	}, nil
}
