package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	coremetrics "github.com/kilianp07/hems/core/metrics"
	"github.com/kilianp07/hems/core/network"
)

func TestPromSink_RecordCycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPromSinkWithRegistry(reg)
	if err != nil {
		t.Fatalf("create sink: %v", err)
	}
	now := time.Now()
	_ = sink.RecordCycle(coremetrics.CycleEvent{Cycle: 1, Duration: 20 * time.Millisecond, GridPower: 1500, Margin: 4500, Time: now})
	_ = sink.RecordCycle(coremetrics.CycleEvent{Cycle: 2, Failed: true, GridPower: 1200, Deactivated: 1, Time: now})

	expected := `
# HELP hems_cycles_total Control-loop cycles by outcome
# TYPE hems_cycles_total counter
hems_cycles_total{status="failed"} 1
hems_cycles_total{status="ok"} 1
`
	if err := testutil.CollectAndCompare(sink.cycles, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metrics: %v", err)
	}
	if v := testutil.ToFloat64(sink.gridPower); v != 1200 {
		t.Errorf("grid power gauge = %v", v)
	}
	if v := testutil.ToFloat64(sink.deactivated); v != 1 {
		t.Errorf("deactivated gauge = %v", v)
	}
	if c := testutil.CollectAndCount(sink.cycleDuration); c != 1 {
		t.Errorf("expected cycle histogram, got %d series", c)
	}
}

func TestPromSink_SwitchAndOptimization(t *testing.T) {
	sink, err := NewPromSinkWithRegistry(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("create sink: %v", err)
	}
	_ = sink.RecordSwitch(coremetrics.SwitchEvent{Node: "boiler", Strategy: "offpeak", Requested: true, Actual: true})
	_ = sink.RecordSwitch(coremetrics.SwitchEvent{Node: "boiler", Strategy: "offpeak", Requested: true, Actual: true})
	if v := testutil.ToFloat64(sink.switches.WithLabelValues("boiler", "offpeak", "true", "true")); v != 2 {
		t.Errorf("switch counter = %v", v)
	}
	_ = sink.RecordOptimization(coremetrics.OptimizationEvent{Strategy: "sa", Algorithm: "annealing", Objective: 1.5, Initial: 3})
	if v := testutil.ToFloat64(sink.objective.WithLabelValues("sa", "annealing", "best")); v != 1.5 {
		t.Errorf("objective = %v", v)
	}
	_ = sink.RecordPrice(coremetrics.PriceEvent{Price: 0.27})
	_ = sink.RecordPrice(coremetrics.PriceEvent{Price: 0.2, OffPeak: true, Color: "bleu"})
	if c := testutil.CollectAndCount(sink.price); c != 1 {
		t.Errorf("expected only the current price, got %d series", c)
	}
}

func TestPromSink_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := NewPromSinkWithRegistry(reg)
	if err != nil {
		t.Fatalf("first sink: %v", err)
	}
	b, err := NewPromSinkWithRegistry(reg)
	if err != nil {
		t.Fatalf("second sink: %v", err)
	}
	_ = a.RecordCycle(coremetrics.CycleEvent{})
	if v := testutil.ToFloat64(b.cycles.WithLabelValues("ok")); v != 1 {
		t.Fatalf("collectors not shared: %v", v)
	}
}

func TestPromSink_RecordSnapshot(t *testing.T) {
	sink, err := NewPromSinkWithRegistry(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("create sink: %v", err)
	}
	snap := network.Snapshot{Nodes: []network.NodeState{
		{ID: "grid", Kind: network.ClassPublicPowerGrid, Power: 800, On: true},
		{ID: "boiler", Kind: network.ClassSwitch, Power: 0, Schedule: &network.ScheduleState{Duration: 3600}},
	}}
	_ = sink.RecordSnapshot(snap)
	if v := testutil.ToFloat64(sink.nodePower.WithLabelValues("grid", "publicpowergrid")); v != 800 {
		t.Errorf("grid node power = %v", v)
	}
	if v := testutil.ToFloat64(sink.nodeOn.WithLabelValues("boiler")); v != 0 {
		t.Errorf("boiler on = %v", v)
	}
	if v := testutil.ToFloat64(sink.scheduleLeft.WithLabelValues("boiler")); v != 3600 {
		t.Errorf("schedule = %v", v)
	}
}
