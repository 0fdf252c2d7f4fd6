package prometheus

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNew_NilRegistry(t *testing.T) {
	// Create with nil registry - should allocate a private one.
	c := New(nil)
	if c == nil {
		t.Fatal("New(nil) returned nil")
	}
	if c.Registry() == nil {
		t.Error("registry should not be nil")
	}
}

func TestNew_CustomRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)
	if c.Registry() != reg {
		t.Error("registry should be the custom registry")
	}
}

func TestCollector_IncCounter(t *testing.T) {
	c := New(nil)

	c.IncCounter("test_counter", 5)
	c.IncCounter("test_counter", 3)

	metrics, err := c.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	found := false
	for _, m := range metrics {
		if m.GetName() == "test_counter" {
			found = true
			if len(m.GetMetric()) == 0 {
				t.Error("counter has no metrics")
				break
			}
			val := m.GetMetric()[0].GetCounter().GetValue()
			if val != 8 {
				t.Errorf("counter value = %v, want 8", val)
			}
		}
	}
	if !found {
		t.Error("test_counter not found in gathered metrics")
	}
}

func TestCollector_SetGauge(t *testing.T) {
	c := New(nil)

	c.SetGauge("test_gauge", 42)
	c.SetGauge("test_gauge", 7)

	metrics, err := c.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	for _, m := range metrics {
		if m.GetName() == "test_gauge" {
			val := m.GetMetric()[0].GetGauge().GetValue()
			if val != 7 {
				t.Errorf("gauge value = %v, want 7", val)
			}
			return
		}
	}
	t.Error("test_gauge not found in gathered metrics")
}

func TestCollector_ExportText(t *testing.T) {
	c := New(nil)

	c.IncCounter("stash_test_total", 3)
	c.SetGauge("stash_test_size", 11)
	c.ObserveHistogram("stash_test_latency", 0.5)

	var sb strings.Builder
	if err := c.ExportText(&sb); err != nil {
		t.Fatalf("ExportText() error = %v", err)
	}
	out := sb.String()

	for _, want := range []string{
		"# HELP stash_test_total",
		"# TYPE stash_test_total counter",
		"stash_test_total 3",
		"# TYPE stash_test_size gauge",
		"stash_test_size 11",
		"# TYPE stash_test_latency histogram",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("exposition output missing %q\noutput:\n%s", want, out)
		}
	}
}
