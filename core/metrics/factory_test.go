package metrics_test

import (
	"encoding/json"
	"slices"
	"testing"

	"github.com/kilianp07/hems/core/factory"
	metrics "github.com/kilianp07/hems/core/metrics"
)

func TestNewMetricsSink(t *testing.T) {
	s, err := metrics.NewMetricsSink(nil)
	if err != nil {
		t.Fatalf("create nop default: %v", err)
	}
	if _, ok := s.(metrics.NopSink); !ok {
		t.Fatalf("expected NopSink, got %T", s)
	}

	s, err = metrics.NewMetricsSink([]factory.ModuleConfig{{Type: "nop"}, {Type: "NOP"}})
	if err != nil {
		t.Fatalf("create multi: %v", err)
	}
	m, ok := s.(*metrics.MultiSink)
	if !ok {
		t.Fatalf("expected MultiSink, got %T", s)
	}
	if len(m.Sinks) != 2 {
		t.Fatalf("expected 2 sinks, got %d", len(m.Sinks))
	}
}

func TestMetricsConfigDecodeJSON_Invalid(t *testing.T) {
	var cfg metrics.Config
	if err := json.Unmarshal([]byte(`{"sinks":[{"type":"missing"}]}`), &cfg); err != nil {
		t.Fatalf("json unmarshal: %v", err)
	}
	if _, err := metrics.NewMetricsSink(cfg.Sinks); err == nil {
		t.Fatalf("expected error for unknown type")
	}
}

type closingSink struct {
	metrics.NopSink
	closed *bool
}

func (c closingSink) Close() { *c.closed = true }

func TestNewMetricsSink_ClosesBuiltSinksOnError(t *testing.T) {
	closed := false
	if err := metrics.RegisterMetricsSink("closing-test", func(map[string]any) (metrics.MetricsSink, error) {
		return closingSink{closed: &closed}, nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if !slices.Contains(metrics.SinkTypes(), "closing-test") {
		t.Fatalf("sink type not listed: %v", metrics.SinkTypes())
	}
	_, err := metrics.NewMetricsSink([]factory.ModuleConfig{{Type: "closing-test"}, {Type: "missing"}})
	if err == nil {
		t.Fatalf("expected error for unknown type")
	}
	if !closed {
		t.Fatalf("first sink was not closed")
	}
}
