package scenarios

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/hems/core/contract"
	"github.com/kilianp07/hems/core/controller"
	"github.com/kilianp07/hems/core/decisionlog"
	"github.com/kilianp07/hems/core/feeder"
	"github.com/kilianp07/hems/core/network"
	"github.com/kilianp07/hems/core/strategy"
	"github.com/kilianp07/hems/infra/fake"
	"github.com/kilianp07/hems/infra/metrics"
)

// Home is a scenario wired to the control loop.
type Home struct {
	Updater    *fake.Updater
	Network    *network.Network
	Controller *controller.Controller
	Decisions  *decisionlog.MemoryStore
	Registry   *prometheus.Registry
	Now        time.Time
	Warnings   []error
}

// Build creates the home of sc with its clock at the scenario start.
func Build(sc *Scenario) (*Home, error) {
	start, err := sc.StartTime()
	if err != nil {
		return nil, err
	}
	h := &Home{
		Updater:   fake.New(),
		Decisions: decisionlog.NewMemoryStore(1000),
		Registry:  prometheus.NewRegistry(),
		Now:       start,
	}
	u := h.Updater
	u.GridEntity = "grid_power"
	u.SolarEntity = sc.SolarEntity
	u.BaseLoad = sc.BaseLoad
	u.Set(u.GridEntity, sc.BaseLoad)

	nodes := make([]map[string]any, 0, len(sc.Nodes))
	for _, raw := range sc.Nodes {
		nodes = append(nodes, h.withEntities(raw))
	}
	for k, v := range sc.Values {
		u.Set(k, v)
	}

	opts := []network.Option{network.WithClock(func() time.Time { return h.Now })}
	if len(sc.Strategies) > 0 {
		opts = append(opts, network.WithDefaultStrategy(strategy.ConfiguredID(sc.Strategies[0])))
	}
	h.Network = network.New(context.Background(), u, opts...)
	contracts := contract.Builder{Registry: contract.NewRegistry(contract.Deps{Provider: u})}
	b := network.Builder{Provider: u, Contract: contracts.Build}
	h.Warnings = b.Build(h.Network, nodes)
	if err := h.Network.Refresh(context.Background()); err != nil {
		return nil, err
	}

	sink, err := metrics.NewPromSinkWithRegistry(h.Registry)
	if err != nil {
		return nil, err
	}
	strategies, err := strategy.Build(strategy.NewRegistry(strategy.Deps{
		Network:   h.Network,
		Decisions: h.Decisions,
		Metrics:   sink,
	}, nil), sc.Strategies)
	if err != nil {
		return nil, err
	}
	h.Controller, err = controller.New(controller.Config{LoopDelay: sc.LoopDelay()}, h.Network, strategies,
		controller.WithMetrics(sink))
	if err != nil {
		return nil, err
	}
	return h, nil
}

// withEntities points switches and the grid at the fake entities unless
// the node names its own.
func (h *Home) withEntities(raw map[string]any) map[string]any {
	out := make(map[string]any, len(raw)+2)
	for k, v := range raw {
		out[k] = v
	}
	id := fmt.Sprint(raw["id"])
	switch strings.ToLower(fmt.Sprint(raw["class"])) {
	case network.ClassSwitch:
		if _, ok := out["is_on"]; !ok {
			out["is_on"] = fake.StateEntity(id)
		}
		if _, ok := out["current_power"]; !ok {
			out["current_power"] = fake.PowerEntity(id)
		}
		h.Updater.AddLoad(id, false, 0)
	case network.ClassPublicPowerGrid:
		if _, ok := out["current_power"]; !ok {
			out["current_power"] = h.Updater.GridEntity
		}
	}
	return out
}

func (h *Home) switchNode(id string) (*network.Switch, error) {
	node, ok := h.Network.Node(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", network.ErrUnknownNode, id)
	}
	sw, ok := node.(*network.Switch)
	if !ok || !sw.IsSwitchable() {
		return nil, fmt.Errorf("%s: %w", id, network.ErrNotSwitchable)
	}
	return sw, nil
}

// Apply advances the clock and feeds the inputs of st.
func (h *Home) Apply(st Step) error {
	h.Now = h.Now.Add(time.Duration(st.AdvanceMinutes) * time.Minute)
	for k, v := range st.Values {
		h.Updater.Stage(k, v)
	}
	for _, id := range st.Refuse {
		h.Updater.Refuse(id, true)
	}
	for id, def := range st.Schedules {
		sw, err := h.switchNode(id)
		if err != nil {
			return err
		}
		timeout, err := def.timeout()
		if err != nil {
			return fmt.Errorf("schedule %s: %w", id, err)
		}
		sw.Schedule().SetSchedule(time.Duration(def.DurationMinutes)*time.Minute, timeout)
	}
	return nil
}

// Check compares the state of the home with the expectations of st.
func (h *Home) Check(st Step) []error {
	var errs []error
	for id, want := range st.Expect {
		if _, err := h.switchNode(id); err != nil {
			errs = append(errs, err)
			continue
		}
		// Orders sent during the cycle only reach the network on the next
		// refresh; the home itself has already acted on them.
		got, err := feeder.ToBool(h.Updater.Latest(fake.StateEntity(id)))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: state: %w", id, err))
			continue
		}
		if got != want {
			errs = append(errs, fmt.Errorf("%s: on=%t, want %t", id, got, want))
		}
	}
	for id, want := range st.ExpectRemaining {
		sw, err := h.switchNode(id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if got := sw.Schedule().Duration(); got != time.Duration(want)*time.Minute {
			errs = append(errs, fmt.Errorf("%s: %s remaining, want %dm", id, got, want))
		}
	}
	deactivated := h.Network.Deactivated()
	for _, id := range st.ExpectDeactivated {
		if !slices.Contains(deactivated, id) {
			errs = append(errs, fmt.Errorf("%s: not deactivated (%v)", id, deactivated))
		}
	}
	return errs
}

// Cycles returns the number of cycles counted by the Prometheus sink.
func (h *Home) Cycles() (float64, error) {
	families, err := h.Registry.Gather()
	if err != nil {
		return 0, err
	}
	var total float64
	for _, f := range families {
		if f.GetName() != "hems_cycles_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total, nil
}

// RunScenario replays every step of sc, one cycle per step.
func RunScenario(t *testing.T, sc *Scenario) {
	t.Helper()
	h, err := Build(sc)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	for _, w := range h.Warnings {
		t.Errorf("node warning: %v", w)
	}
	ctx := context.Background()
	for i, st := range sc.Steps {
		if err := h.Apply(st); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if _, err := h.Controller.RunCycle(ctx); err != nil {
			t.Fatalf("step %d (%s): cycle: %v", i, h.Now.Format(startLayout), err)
		}
		for _, err := range h.Check(st) {
			t.Errorf("step %d (%s): %v", i, h.Now.Format(startLayout), err)
		}
	}
	cycles, err := h.Cycles()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if int(cycles) != len(sc.Steps) {
		t.Errorf("scenario %s: %v cycles recorded, want %d", sc.Name, cycles, len(sc.Steps))
	}
}
