package metrics

import "time"

// CycleEvent summarises one control-loop cycle.
type CycleEvent struct {
	Cycle       uint64
	Duration    time.Duration
	GridPower   float64
	Margin      float64
	Deactivated int
	Failed      bool
	Time        time.Time
}

// MetricsSink records control-loop cycles.
type MetricsSink interface {
	RecordCycle(ev CycleEvent) error
}

// SwitchEvent is one switch order and its outcome.
type SwitchEvent struct {
	Node      string
	Strategy  string
	Requested bool
	Actual    bool
	Power     float64
	Time      time.Time
}

// SwitchRecorder records switch orders.
type SwitchRecorder interface {
	RecordSwitch(ev SwitchEvent) error
}

// OptimizationEvent is the outcome of one optimizer run.
type OptimizationEvent struct {
	Strategy   string
	Algorithm  string
	Objective  float64
	Initial    float64
	TotalPower float64
	Duration   time.Duration
	Time       time.Time
}

// OptimizationRecorder records optimizer runs.
type OptimizationRecorder interface {
	RecordOptimization(ev OptimizationEvent) error
}

// PriceEvent is the electricity price seen during a cycle.
type PriceEvent struct {
	Price   float64
	OffPeak bool
	Color   string
	Time    time.Time
}

// PriceRecorder records prices.
type PriceRecorder interface {
	RecordPrice(ev PriceEvent) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordCycle(CycleEvent) error               { return nil }
func (NopSink) RecordSwitch(SwitchEvent) error             { return nil }
func (NopSink) RecordOptimization(OptimizationEvent) error { return nil }
func (NopSink) RecordPrice(PriceEvent) error               { return nil }

// OrNop returns s, or NopSink when s is nil.
func OrNop(s MetricsSink) MetricsSink {
	if s == nil {
		return NopSink{}
	}
	return s
}
