// Package otelstats provides an OpenTelemetry-based stats collector.
//
// Export returns the structured hierarchical form of all recorded
// metrics: resource, then instrumentation scope, then per-metric data
// points, with Sum aggregations for monotonic counters and Gauge
// aggregations for point-in-time values.
package otelstats

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/agentstash/stash/internal/stats"
)

const scopeName = "github.com/agentstash/stash"

// Collector implements stats.Collector using the OpenTelemetry SDK.
type Collector struct {
	reader   *sdkmetric.ManualReader
	provider *sdkmetric.MeterProvider
	meter    metric.Meter

	mu         sync.Mutex
	counters   map[string]metric.Int64Counter
	gauges     map[string]metric.Int64Gauge
	histograms map[string]metric.Float64Histogram
}

// Compile-time check that Collector implements stats.Collector.
var _ stats.Collector = (*Collector)(nil)

// New creates a new OpenTelemetry collector.
// If res is nil, a minimal resource identifying the stash service is used.
func New(res *resource.Resource) *Collector {
	if res == nil {
		res = resource.NewSchemaless(attribute.String("service.name", "stash"))
	}

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(res),
	)

	return &Collector{
		reader:     reader,
		provider:   provider,
		meter:      provider.Meter(scopeName),
		counters:   make(map[string]metric.Int64Counter),
		gauges:     make(map[string]metric.Int64Gauge),
		histograms: make(map[string]metric.Float64Histogram),
	}
}

// IncCounter increments a monotonic counter.
func (c *Collector) IncCounter(name string, delta int64) {
	counter, err := c.getOrCreateCounter(name)
	if err != nil {
		return
	}
	counter.Add(context.Background(), delta)
}

// SetGauge records a point-in-time value.
func (c *Collector) SetGauge(name string, value int64) {
	gauge, err := c.getOrCreateGauge(name)
	if err != nil {
		return
	}
	gauge.Record(context.Background(), value)
}

// ObserveHistogram records a histogram observation.
func (c *Collector) ObserveHistogram(name string, value float64) {
	histogram, err := c.getOrCreateHistogram(name)
	if err != nil {
		return
	}
	histogram.Record(context.Background(), value)
}

// Export collects all recorded metrics into the hierarchical
// resource -> scope -> metric -> data point structure.
func (c *Collector) Export(ctx context.Context) (metricdata.ResourceMetrics, error) {
	var rm metricdata.ResourceMetrics
	if err := c.reader.Collect(ctx, &rm); err != nil {
		return rm, fmt.Errorf("collecting metrics: %w", err)
	}
	return rm, nil
}

// Shutdown flushes and releases the underlying meter provider.
func (c *Collector) Shutdown(ctx context.Context) error {
	return c.provider.Shutdown(ctx)
}

func (c *Collector) getOrCreateCounter(name string) (metric.Int64Counter, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if counter, ok := c.counters[name]; ok {
		return counter, nil
	}
	counter, err := c.meter.Int64Counter(name)
	if err != nil {
		return nil, err
	}
	c.counters[name] = counter
	return counter, nil
}

func (c *Collector) getOrCreateGauge(name string) (metric.Int64Gauge, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gauge, ok := c.gauges[name]; ok {
		return gauge, nil
	}
	gauge, err := c.meter.Int64Gauge(name)
	if err != nil {
		return nil, err
	}
	c.gauges[name] = gauge
	return gauge, nil
}

func (c *Collector) getOrCreateHistogram(name string) (metric.Float64Histogram, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if histogram, ok := c.histograms[name]; ok {
		return histogram, nil
	}
	histogram, err := c.meter.Float64Histogram(name)
	if err != nil {
		return nil, err
	}
	c.histograms[name] = histogram
	return histogram, nil
}
