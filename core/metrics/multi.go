package metrics

import "errors"

// MultiSink fans events out to several sinks. Every sink receives the
// event even when an earlier one fails.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

func (m *MultiSink) RecordCycle(ev CycleEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		errs = append(errs, s.RecordCycle(ev))
	}
	return errors.Join(errs...)
}

func (m *MultiSink) RecordSwitch(ev SwitchEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if rec, ok := s.(SwitchRecorder); ok {
			errs = append(errs, rec.RecordSwitch(ev))
		}
	}
	return errors.Join(errs...)
}

func (m *MultiSink) RecordOptimization(ev OptimizationEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if rec, ok := s.(OptimizationRecorder); ok {
			errs = append(errs, rec.RecordOptimization(ev))
		}
	}
	return errors.Join(errs...)
}

func (m *MultiSink) RecordPrice(ev PriceEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if rec, ok := s.(PriceRecorder); ok {
			errs = append(errs, rec.RecordPrice(ev))
		}
	}
	return errors.Join(errs...)
}
