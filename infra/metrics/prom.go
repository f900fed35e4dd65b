package metrics

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/hems/core/metrics"
	"github.com/kilianp07/hems/core/network"
)

// PromSink exposes control-loop events as Prometheus metrics.
type PromSink struct {
	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	gridPower     prometheus.Gauge
	margin        prometheus.Gauge
	deactivated   prometheus.Gauge
	switches      *prometheus.CounterVec
	objective     *prometheus.GaugeVec
	optDuration   *prometheus.HistogramVec
	price         *prometheus.GaugeVec
	nodePower     *prometheus.GaugeVec
	nodeOn        *prometheus.GaugeVec
	scheduleLeft  *prometheus.GaugeVec
}

// NewPromSink registers the metrics on the default Prometheus registerer.
// The /metrics endpoint is served separately by StartPromServer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on reg. Collectors already
// registered by an earlier sink are reused. A nil reg defaults to the
// global registerer.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{}
	var err error
	if s.cycles, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hems_cycles_total",
		Help: "Control-loop cycles by outcome",
	}, []string{"status"})); err != nil {
		return nil, err
	}
	if s.cycleDuration, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "hems_cycle_duration_seconds",
		Help:    "Time spent in one control-loop cycle",
		Buckets: prometheus.DefBuckets,
	})); err != nil {
		return nil, err
	}
	if s.gridPower, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hems_grid_power_watts",
		Help: "Power drawn from the public grid, negative when exporting",
	})); err != nil {
		return nil, err
	}
	if s.margin, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hems_power_margin_watts",
		Help: "Power that can still be switched on",
	})); err != nil {
		return nil, err
	}
	if s.deactivated, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hems_deactivated_loads",
		Help: "Loads switched off by admission control",
	})); err != nil {
		return nil, err
	}
	if s.switches, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hems_switch_orders_total",
		Help: "Switch orders sent to loads",
	}, []string{"node", "strategy", "requested", "actual"})); err != nil {
		return nil, err
	}
	if s.objective, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hems_optimization_cost",
		Help: "Objective of the last optimizer run",
	}, []string{"strategy", "algorithm", "kind"})); err != nil {
		return nil, err
	}
	if s.optDuration, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hems_optimization_duration_seconds",
		Help:    "Time spent in the optimizer",
		Buckets: prometheus.DefBuckets,
	}, []string{"strategy"})); err != nil {
		return nil, err
	}
	if s.price, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hems_energy_price",
		Help: "Current energy price per kWh",
	}, []string{"offpeak", "color"})); err != nil {
		return nil, err
	}
	if s.nodePower, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hems_node_power_watts",
		Help: "Current power of each node",
	}, []string{"node", "kind"})); err != nil {
		return nil, err
	}
	if s.nodeOn, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hems_node_on",
		Help: "1 when the node is on",
	}, []string{"node"})); err != nil {
		return nil, err
	}
	if s.scheduleLeft, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hems_schedule_remaining_seconds",
		Help: "Run time still requested for each switch",
	}, []string{"node"})); err != nil {
		return nil, err
	}
	return s, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (s *PromSink) RecordCycle(ev coremetrics.CycleEvent) error {
	status := "ok"
	if ev.Failed {
		status = "failed"
	}
	s.cycles.WithLabelValues(status).Inc()
	s.cycleDuration.Observe(ev.Duration.Seconds())
	s.gridPower.Set(ev.GridPower)
	s.margin.Set(ev.Margin)
	s.deactivated.Set(float64(ev.Deactivated))
	return nil
}

func (s *PromSink) RecordSwitch(ev coremetrics.SwitchEvent) error {
	s.switches.WithLabelValues(ev.Node, ev.Strategy, strconv.FormatBool(ev.Requested), strconv.FormatBool(ev.Actual)).Inc()
	return nil
}

func (s *PromSink) RecordOptimization(ev coremetrics.OptimizationEvent) error {
	s.objective.WithLabelValues(ev.Strategy, ev.Algorithm, "best").Set(ev.Objective)
	s.objective.WithLabelValues(ev.Strategy, ev.Algorithm, "initial").Set(ev.Initial)
	s.optDuration.WithLabelValues(ev.Strategy).Observe(ev.Duration.Seconds())
	return nil
}

func (s *PromSink) RecordPrice(ev coremetrics.PriceEvent) error {
	s.price.Reset()
	s.price.WithLabelValues(strconv.FormatBool(ev.OffPeak), ev.Color).Set(ev.Price)
	return nil
}

// RecordSnapshot updates the per-node gauges.
func (s *PromSink) RecordSnapshot(snap network.Snapshot) error {
	for _, n := range snap.Nodes {
		s.nodePower.WithLabelValues(n.ID, n.Kind).Set(n.Power)
		on := 0.0
		if n.On {
			on = 1
		}
		s.nodeOn.WithLabelValues(n.ID).Set(on)
		if n.Schedule != nil {
			s.scheduleLeft.WithLabelValues(n.ID).Set(float64(n.Schedule.Duration))
		}
	}
	return nil
}
