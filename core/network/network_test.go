package network

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/hems/core/feeder"
)

// fakeUpdater stages switch results until the next Refresh, like a real
// home-automation server whose states lag the commands by one poll.
type fakeUpdater struct {
	rev     uint64
	values  map[string]any
	staged  map[string]any
	loads   []string
	refuse  map[string]bool
	notes   []string
	setVals map[string]any
}

func newFakeUpdater() *fakeUpdater {
	return &fakeUpdater{
		rev:     1,
		values:  map[string]any{},
		staged:  map[string]any{},
		refuse:  map[string]bool{},
		setVals: map[string]any{},
	}
}

func (f *fakeUpdater) RegisterEntity(string, feeder.Kind) {}
func (f *fakeUpdater) Revision() uint64                   { return f.rev }

func (f *fakeUpdater) EntityValue(id string) (any, error) {
	v, ok := f.values[id]
	if !ok {
		return nil, fmt.Errorf("no entity %s", id)
	}
	return v, nil
}

func (f *fakeUpdater) Refresh(context.Context) error {
	for k, v := range f.staged {
		f.values[k] = v
	}
	f.staged = map[string]any{}
	var total float64
	for _, id := range f.loads {
		p, _ := feeder.ToFloat(f.values[id+"_power"])
		total += p
	}
	f.values["grid_power"] = total
	f.rev++
	return nil
}

func (f *fakeUpdater) SwitchOn(node *Switch, on bool) (bool, error) {
	if f.refuse[node.ID()] {
		return node.IsOn(), nil
	}
	f.staged[node.ID()+"_on"] = on
	if on {
		p, _ := node.MaxPower()
		f.staged[node.ID()+"_power"] = p
	} else {
		f.staged[node.ID()+"_power"] = 0.0
	}
	return on, nil
}

func (f *fakeUpdater) SetValue(entity string, value any) error {
	f.setVals[entity] = value
	return nil
}

func (f *fakeUpdater) Notify(message string) error {
	f.notes = append(f.notes, message)
	return nil
}

func newTestNetwork(t *testing.T, gridMax float64) (*Network, *fakeUpdater) {
	t.Helper()
	u := newFakeUpdater()
	n := New(context.Background(), u)
	u.values["grid_power"] = 0.0
	grid := NewPublicPowerGrid("grid",
		feeder.NewSource(u, "grid_power", feeder.KindFloat, feeder.ToFloat, 0),
		feeder.NewConstant(gridMax), nil, nil, nil)
	require.NoError(t, n.Add(grid))
	return n, u
}

func addSwitch(t *testing.T, n *Network, u *fakeUpdater, id string, maxPower float64, on bool, opts ...SwitchOption) *Switch {
	t.Helper()
	u.values[id+"_on"] = on
	if on {
		u.values[id+"_power"] = maxPower
	} else {
		u.values[id+"_power"] = 0.0
	}
	u.loads = append(u.loads, id)
	sw, err := NewSwitch(id,
		feeder.NewSource(u, id+"_power", feeder.KindFloat, feeder.ToFloat, 0),
		feeder.NewConstant(maxPower),
		feeder.NewSource(u, id+"_on", feeder.KindBool, feeder.ToBool, false),
		opts...)
	require.NoError(t, err)
	require.NoError(t, n.Add(sw))
	return sw
}

func TestCheck_ShedsLowestPriorityFirst(t *testing.T) {
	n, u := newTestNetwork(t, 3000)
	a := addSwitch(t, n, u, "a", 1000, true, WithPriority(90))
	b := addSwitch(t, n, u, "b", 1000, true, WithPriority(50))
	c := addSwitch(t, n, u, "c", 1500, true, WithPriority(10))
	require.NoError(t, n.Refresh(context.Background()))

	m, err := n.rawMargin()
	require.NoError(t, err)
	assert.Equal(t, -500.0, m)

	require.NoError(t, n.Check())
	assert.True(t, a.IsActive())
	assert.True(t, b.IsActive())
	assert.False(t, c.IsActive())
	assert.Equal(t, []string{"c"}, n.Deactivated())

	on, err := n.MarginPowerOn()
	require.NoError(t, err)
	assert.Equal(t, 1000.0, on)

	require.NoError(t, n.Refresh(context.Background()))
	assert.False(t, c.IsOn())
	on, err = n.MarginPowerOn()
	require.NoError(t, err)
	assert.Equal(t, 1000.0, on)

	_, err = c.SwitchOn(true)
	assert.ErrorIs(t, err, ErrDeactivated)
}

func TestCheck_MarginNeverNegative(t *testing.T) {
	for _, gridMax := range []float64{0, 500, 1200, 2500, 2800} {
		t.Run(fmt.Sprint(gridMax), func(t *testing.T) {
			n, u := newTestNetwork(t, gridMax)
			for i, p := range []float64{800, 300, 1200, 600} {
				addSwitch(t, n, u, fmt.Sprintf("l%d", i), p, true, WithPriority(i*10))
			}
			require.NoError(t, n.Refresh(context.Background()))
			before, err := n.rawMargin()
			require.NoError(t, err)
			require.Less(t, before, 0.0, "every fixture starts overloaded")

			require.NoError(t, n.Check())
			m, err := n.rawMargin()
			require.NoError(t, err)
			assert.GreaterOrEqual(t, m, 0.0)
			assert.NotEmpty(t, n.Deactivated())

			// the shed orders reach the ledger after the next refresh too
			require.NoError(t, n.Refresh(context.Background()))
			m, err = n.rawMargin()
			require.NoError(t, err)
			assert.GreaterOrEqual(t, m, 0.0)
		})
	}
}

func TestCheck_RefusedShedIsOverload(t *testing.T) {
	n, u := newTestNetwork(t, 1000)
	stuck := addSwitch(t, n, u, "stuck", 1500, true)
	u.refuse["stuck"] = true
	require.NoError(t, n.Refresh(context.Background()))

	err := n.Check()
	require.ErrorIs(t, err, ErrOverload)
	assert.False(t, stuck.IsActive())
	m, err := n.rawMargin()
	require.NoError(t, err)
	assert.Equal(t, -500.0, m)
	on, err := n.MarginPowerOn()
	require.NoError(t, err)
	assert.Zero(t, on, "no power is offered while overloaded")
	require.Len(t, u.notes, 1)
}

func TestCheck_OverloadNotifies(t *testing.T) {
	n, u := newTestNetwork(t, 1000)
	u.values["oven_power"] = 2000.0
	u.loads = append(u.loads, "oven")
	load := NewLoad("oven", feeder.NewSource(u, "oven_power", feeder.KindFloat, feeder.ToFloat, 0), feeder.NewConstant(3000.0), 1)
	require.NoError(t, n.Add(load))
	require.NoError(t, n.Refresh(context.Background()))

	err := n.Check()
	require.ErrorIs(t, err, ErrOverload)
	require.Len(t, u.notes, 1)
}

func TestCheck_ReactivatesOnePerCycle(t *testing.T) {
	n, u := newTestNetwork(t, 5000)
	a := addSwitch(t, n, u, "a", 1000, false)
	b := addSwitch(t, n, u, "b", 1000, false)
	a.setActive(false)
	b.setActive(false)
	require.NoError(t, n.Refresh(context.Background()))

	require.NoError(t, n.Check())
	assert.Len(t, n.Deactivated(), 1)
	require.NoError(t, n.Check())
	assert.Empty(t, n.Deactivated())
}

func TestCheck_ReactivationNeedsRoom(t *testing.T) {
	n, u := newTestNetwork(t, 1000)
	big := addSwitch(t, n, u, "big", 2000, false, WithPriority(90))
	small := addSwitch(t, n, u, "small", 500, false, WithPriority(10))
	big.setActive(false)
	small.setActive(false)
	require.NoError(t, n.Refresh(context.Background()))

	require.NoError(t, n.Check())
	assert.False(t, big.IsActive())
	assert.True(t, small.IsActive())
}

func TestSwitchOffAll(t *testing.T) {
	n, u := newTestNetwork(t, 5000)
	addSwitch(t, n, u, "a", 1000, true)
	addSwitch(t, n, u, "b", 1000, true)
	require.NoError(t, n.Refresh(context.Background()))
	assert.True(t, n.SwitchOffAll())

	n2, u2 := newTestNetwork(t, 5000)
	addSwitch(t, n2, u2, "a", 1000, true)
	addSwitch(t, n2, u2, "stuck", 1000, true)
	u2.refuse["stuck"] = true
	require.NoError(t, n2.Refresh(context.Background()))
	assert.False(t, n2.SwitchOffAll())
}

func TestSwitchOn_NotSwitchable(t *testing.T) {
	n, u := newTestNetwork(t, 5000)
	u.values["fridge_power"] = 0.0
	load := NewLoad("fridge", feeder.NewSource(u, "fridge_power", feeder.KindFloat, feeder.ToFloat, 0), feeder.NewConstant(200.0), 1)
	require.NoError(t, n.Add(load))
	on, err := load.SwitchOn(true)
	require.NoError(t, err)
	assert.True(t, on)
}

func TestConstraints_MinDurationOn(t *testing.T) {
	n, u := newTestNetwork(t, 5000)
	sw := addSwitch(t, n, u, "heater", 1000, false,
		WithConstraints(NewConstraints(ConstraintsConfig{MinDurationOn: 10 * time.Minute})))
	ctx := context.Background()
	require.NoError(t, n.Refresh(ctx))

	on, err := sw.SwitchOn(true)
	require.NoError(t, err)
	require.True(t, on)

	elapsed := time.Duration(0)
	for elapsed < 10*time.Minute {
		require.NoError(t, n.Refresh(ctx))
		require.NoError(t, n.Decrement(time.Minute))
		elapsed += time.Minute
		if elapsed < 10*time.Minute {
			on, err = sw.SwitchOn(false)
			var ce *ConstraintsError
			require.ErrorAs(t, err, &ce, "after %s", elapsed)
			assert.Equal(t, "minDurationOn", ce.Constraint)
			assert.True(t, on)
		}
	}
	require.NoError(t, n.Refresh(ctx))
	require.NoError(t, n.Decrement(time.Minute))
	on, err = sw.SwitchOn(false)
	require.NoError(t, err)
	assert.False(t, on)
}

func TestConstraints_MaxDurationOnForcesOff(t *testing.T) {
	n, u := newTestNetwork(t, 5000)
	sw := addSwitch(t, n, u, "pump", 800, false,
		WithConstraints(NewConstraints(ConstraintsConfig{MaxDurationOn: 5 * time.Minute})))
	ctx := context.Background()
	require.NoError(t, n.Refresh(ctx))
	_, err := sw.SwitchOn(true)
	require.NoError(t, err)
	require.NoError(t, n.Refresh(ctx))

	err = n.Decrement(6 * time.Minute)
	var ce *ConstraintsError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "maxDurationOn", ce.Constraint)
	assert.NotEmpty(t, u.notes)

	require.NoError(t, n.Refresh(ctx))
	assert.False(t, sw.IsOn())
}

func TestConstraints_MaxPowerForcesOff(t *testing.T) {
	n, u := newTestNetwork(t, 5000)
	sw := addSwitch(t, n, u, "kettle", 2000, true,
		WithConstraints(NewConstraints(ConstraintsConfig{MaxPower: 1500})))
	ctx := context.Background()
	require.NoError(t, n.Refresh(ctx))
	require.Error(t, sw.Decrement(time.Minute))
	require.NoError(t, n.Refresh(ctx))
	assert.False(t, sw.IsOn())
}

func TestSwitchedExternally(t *testing.T) {
	n, u := newTestNetwork(t, 5000)
	sw := addSwitch(t, n, u, "lamp", 100, false)
	ctx := context.Background()
	require.NoError(t, n.Refresh(ctx))

	_, err := sw.SwitchOn(true)
	require.NoError(t, err)
	assert.False(t, sw.SwitchedExternally(), "stale state in the switching cycle")

	require.NoError(t, n.Refresh(ctx))
	assert.False(t, sw.SwitchedExternally())

	u.values["lamp_on"] = false
	u.rev++
	assert.True(t, sw.SwitchedExternally())
}

func TestSchedule_DecrementWhileOn(t *testing.T) {
	n, u := newTestNetwork(t, 5000)
	on := addSwitch(t, n, u, "on", 100, true)
	off := addSwitch(t, n, u, "off", 100, false)
	require.NoError(t, n.Refresh(context.Background()))
	on.Schedule().SetSchedule(10*time.Minute, time.Time{})
	off.Schedule().SetSchedule(10*time.Minute, time.Time{})

	require.NoError(t, n.Decrement(4*time.Minute))
	assert.Equal(t, 6*time.Minute, on.Schedule().Duration())
	assert.Equal(t, 10*time.Minute, off.Schedule().Duration())

	require.NoError(t, n.Decrement(10*time.Minute))
	assert.False(t, on.IsScheduled())
	assert.True(t, on.Schedule().Timeout().IsZero())
}

func TestCommandQueue(t *testing.T) {
	n, u := newTestNetwork(t, 5000)
	sw := addSwitch(t, n, u, "dishwasher", 1200, false)

	err := n.Enqueue(ScheduleCommand{NodeID: "nope", Duration: time.Hour})
	assert.ErrorIs(t, err, ErrUnknownNode)
	err = n.Enqueue(ScheduleCommand{NodeID: "grid", Duration: time.Hour})
	assert.ErrorIs(t, err, ErrNotSwitchable)

	deadline := time.Date(2026, 1, 2, 7, 0, 0, 0, time.UTC)
	require.NoError(t, n.Enqueue(ScheduleCommand{NodeID: "dishwasher", Duration: 2 * time.Hour, Timeout: deadline}))
	assert.False(t, sw.IsScheduled(), "applied only at the start of a cycle")

	applied := 0
	require.Eventually(t, func() bool {
		applied += n.ApplyCommands()
		return applied == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2*time.Hour, sw.Schedule().Duration())
	assert.Equal(t, deadline, sw.Schedule().Timeout())

	st := n.Schedules()["dishwasher"].State()
	assert.Equal(t, 7200, st.Duration)
}

func TestGuessIsOn(t *testing.T) {
	n, u := newTestNetwork(t, 5000)
	u.values["tv_power"] = 120.0
	load := NewLoad("tv", feeder.NewSource(u, "tv_power", feeder.KindFloat, feeder.ToFloat, 0), feeder.NewConstant(200.0), 2)
	require.NoError(t, n.Add(load))
	ctx := context.Background()
	require.NoError(t, n.Refresh(ctx))
	assert.True(t, load.IsOn())

	u.staged["tv_power"] = 0.0
	require.NoError(t, n.Refresh(ctx))
	assert.True(t, load.IsOn(), "within the grace cycles")
	assert.True(t, load.IsOn(), "same cycle counts once")
	require.NoError(t, n.Refresh(ctx))
	assert.False(t, load.IsOn())
}

func TestEndToEnd_IdleLoadsStayOff(t *testing.T) {
	n, u := newTestNetwork(t, 6000)
	loads := []*Switch{
		addSwitch(t, n, u, "a", 1000, false),
		addSwitch(t, n, u, "b", 2000, false),
		addSwitch(t, n, u, "c", 500, false),
	}
	ctx := context.Background()
	require.NoError(t, n.Refresh(ctx))
	require.NoError(t, n.Check())
	require.NoError(t, n.Decrement(time.Minute))
	for _, l := range loads {
		assert.False(t, l.IsOn())
		assert.False(t, l.IsScheduled())
		p, err := l.CurrentPower()
		require.NoError(t, err)
		assert.Zero(t, p)
	}
}

func TestAdd_DuplicateAndDefaultStrategy(t *testing.T) {
	u := newFakeUpdater()
	n := New(context.Background(), u, WithDefaultStrategy("offpeak"))
	u.values["x_on"] = false
	sw, err := NewSwitch("x", feeder.NewConstant(0.0), feeder.NewConstant(10.0), feeder.NewSource(u, "x_on", feeder.KindBool, feeder.ToBool, false))
	require.NoError(t, err)
	require.NoError(t, n.Add(sw))
	assert.Equal(t, "offpeak", sw.StrategyID())
	assert.Error(t, n.Add(sw))
	assert.Len(t, n.LoadsForStrategy("offpeak"), 1)
	assert.Empty(t, n.LoadsForStrategy("other"))
}

func TestNewSwitch_RequiresIsOn(t *testing.T) {
	_, err := NewSwitch("x", feeder.NewConstant(0.0), feeder.NewConstant(10.0), nil)
	assert.True(t, errors.Is(err, feeder.ErrMissing))
}

func TestParsePowerLevels(t *testing.T) {
	levels, err := ParsePowerLevels([]any{1000, 0, "500"}, 1000)
	require.NoError(t, err)
	assert.Equal(t, []PowerLevel{{0, 0}, {500, 500}, {1000, 1000}}, levels)

	levels, err = ParsePowerLevels(map[string]any{"0": 0, "1": 400, "2": 1000}, 1000)
	require.NoError(t, err)
	assert.Equal(t, []PowerLevel{{0, 0}, {1, 400}, {2, 1000}}, levels)

	levels, err = ParsePowerLevels(map[string]any{"range": []any{0, 3000}, "step": 1000}, 3000)
	require.NoError(t, err)
	assert.Equal(t, []PowerLevel{{0, 0}, {1000, 1000}, {2000, 2000}}, levels)

	_, err = ParsePowerLevels(map[string]any{"range": []any{0, 3000}, "step": 1}, 3000)
	assert.Error(t, err)
	_, err = ParsePowerLevels(map[string]any{"range": []any{10, 0}}, 0)
	assert.Error(t, err)
	_, err = ParsePowerLevels(42, 0)
	assert.Error(t, err)
}

func TestSetControlledPower(t *testing.T) {
	n, u := newTestNetwork(t, 5000)
	u.values["ev_level"] = 0.0
	levels := []PowerLevel{{0, 0}, {1, 1400}, {2, 3700}}
	sw := addSwitch(t, n, u, "ev", 3700, false,
		WithControlledPower("ev_level", feeder.NewSource(u, "ev_level", feeder.KindFloat, feeder.ToFloat, 0), levels))
	require.True(t, sw.IsControlledPower())
	require.NoError(t, sw.SetControlledPower(1500))
	assert.Equal(t, 1.0, u.setVals["ev_level"])

	u.values["ev_level"] = 2.0
	u.rev++
	p, err := sw.ControlledPower()
	require.NoError(t, err)
	assert.Equal(t, 3700.0, p)
}

func TestSnapshot(t *testing.T) {
	n, u := newTestNetwork(t, 3000)
	sw := addSwitch(t, n, u, "heater", 1000, true, WithPriority(70))
	sw.Schedule().SetSchedule(time.Hour, time.Time{})
	require.NoError(t, n.Refresh(context.Background()))

	s := n.Snapshot()
	require.Len(t, s.Nodes, 2)
	assert.Equal(t, ClassPublicPowerGrid, s.Nodes[0].Kind)
	assert.Equal(t, 1000.0, s.Nodes[0].Power)
	h := s.Nodes[1]
	assert.Equal(t, "heater", h.ID)
	assert.True(t, h.On)
	assert.Equal(t, 70, h.Priority)
	require.NotNil(t, h.Schedule)
	assert.Equal(t, 3600, h.Schedule.Duration)
	assert.Equal(t, 2000.0, s.Margin)
}
