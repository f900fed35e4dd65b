package controller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/hems/core/contract"
	"github.com/kilianp07/hems/core/decisionlog"
	"github.com/kilianp07/hems/core/metrics"
	"github.com/kilianp07/hems/core/monitoring"
	"github.com/kilianp07/hems/core/network"
	"github.com/kilianp07/hems/core/strategy"
	"github.com/kilianp07/hems/core/timerange"
	"github.com/kilianp07/hems/infra/fake"
	"github.com/kilianp07/hems/internal/eventbus"
)

type stubStrategy struct {
	id    string
	wait  time.Duration
	err   error
	panic bool
	calls chan time.Time
}

func (s *stubStrategy) ID() string { return s.id }

func (s *stubStrategy) UpdateNetwork(_ context.Context, c strategy.Cycle) (time.Duration, error) {
	if s.calls != nil {
		s.calls <- c.Now
	}
	if s.panic {
		panic("boom")
	}
	return s.wait, s.err
}

type cycleSink struct {
	mu     sync.Mutex
	events []metrics.CycleEvent
	prices []metrics.PriceEvent
}

func (s *cycleSink) RecordCycle(ev metrics.CycleEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *cycleSink) RecordPrice(ev metrics.PriceEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices = append(s.prices, ev)
	return nil
}

type panicMonitor struct {
	monitoring.NopMonitor
	mu     sync.Mutex
	panics []map[string]string
	errs   []map[string]string
}

func (m *panicMonitor) CapturePanic(_ any, tags map[string]string) {
	m.mu.Lock()
	m.panics = append(m.panics, tags)
	m.mu.Unlock()
}

func (m *panicMonitor) CaptureException(_ error, tags map[string]string) {
	m.mu.Lock()
	m.errs = append(m.errs, tags)
	m.mu.Unlock()
}

type env struct {
	u    *fake.Updater
	net  *network.Network
	now  time.Time
	sink *cycleSink
}

func newEnv(t *testing.T, now time.Time, gridOpts ...fake.GridOption) *env {
	t.Helper()
	e := &env{u: fake.New(), now: now, sink: &cycleSink{}}
	e.net = network.New(context.Background(), e.u, network.WithClock(func() time.Time { return e.now }))
	require.NoError(t, e.net.Add(e.u.Grid(6000, gridOpts...)))
	return e
}

func (e *env) controller(t *testing.T, cfg Config, strategies []strategy.Strategy, opts ...Option) *Controller {
	t.Helper()
	opts = append([]Option{
		WithMetrics(e.sink),
		WithBackOff(func() backoff.BackOff { return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2) }),
	}, opts...)
	c, err := New(cfg, e.net, strategies, opts...)
	require.NoError(t, err)
	return c
}

func TestRunCycle_OffPeakSwitchesScheduledLoad(t *testing.T) {
	ranges, err := timerange.ParseRanges("22h-6h", 0)
	require.NoError(t, err)
	hc, err := contract.NewHeuresCreuses(0.27, 0.2, ranges)
	require.NoError(t, err)
	e := newEnv(t, time.Date(2026, 1, 5, 23, 0, 0, 0, time.UTC), fake.WithContract(hc))
	sw, err := e.u.Switch("boiler", 2000, false)
	require.NoError(t, err)
	require.NoError(t, e.net.Add(sw))

	store := decisionlog.NewMemoryStore(10)
	off, err := strategy.NewOffPeak("offpeak", strategy.Deps{Network: e.net, Decisions: store})
	require.NoError(t, err)
	c := e.controller(t, Config{LoopDelay: time.Minute}, []strategy.Strategy{off})

	sw.Schedule().SetSchedule(2*time.Hour, time.Time{})
	_, err = c.RunCycle(context.Background())
	require.NoError(t, err)

	e.now = e.now.Add(10 * time.Minute)
	_, err = c.RunCycle(context.Background())
	require.NoError(t, err)
	assert.True(t, sw.IsOn())
	assert.Equal(t, 110*time.Minute, sw.Schedule().Duration())

	recs, err := store.Query(context.Background(), decisionlog.Query{Node: "boiler"})
	require.NoError(t, err)
	require.NotEmpty(t, recs)
	assert.NotEmpty(t, recs[0].CycleID)

	require.Len(t, e.sink.events, 2)
	assert.Equal(t, 2000.0, e.sink.events[1].GridPower)
	require.Len(t, e.sink.prices, 2)
	assert.True(t, e.sink.prices[0].OffPeak)
	assert.Equal(t, 0.2, e.sink.prices[0].Price)
}

func TestRunCycle_AppliesQueuedSchedules(t *testing.T) {
	e := newEnv(t, time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC))
	sw, err := e.u.Switch("dishwasher", 1200, false)
	require.NoError(t, err)
	require.NoError(t, e.net.Add(sw))
	c := e.controller(t, Config{}, nil)

	require.NoError(t, e.net.Enqueue(network.ScheduleCommand{NodeID: "dishwasher", Duration: time.Hour}))
	require.Eventually(t, func() bool {
		_, err := c.RunCycle(context.Background())
		return err == nil && sw.Schedule().Duration() == time.Hour
	}, time.Second, 5*time.Millisecond)
}

func TestRunCycle_StrategyPanicIsContained(t *testing.T) {
	mon := &panicMonitor{}
	monitoring.Init(mon)
	t.Cleanup(func() { monitoring.Init(nil) })

	e := newEnv(t, time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC))
	bad := &stubStrategy{id: "bad", panic: true}
	good := &stubStrategy{id: "good", wait: time.Hour, calls: make(chan time.Time, 1)}
	c := e.controller(t, Config{}, []strategy.Strategy{bad, good})

	wait, err := c.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, time.Hour, wait)
	assert.Len(t, good.calls, 1)
	require.Len(t, mon.panics, 1)
	assert.Equal(t, "bad", mon.panics[0]["strategy"])
	require.Len(t, e.sink.events, 1)
	assert.True(t, e.sink.events[0].Failed)
}

func TestRunCycle_StrategyErrorTagged(t *testing.T) {
	mon := &panicMonitor{}
	monitoring.Init(mon)
	t.Cleanup(func() { monitoring.Init(nil) })

	e := newEnv(t, time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC))
	c := e.controller(t, Config{}, []strategy.Strategy{&stubStrategy{id: "s1", err: errors.New("no price")}})
	_, err := c.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, mon.errs, 1)
	assert.Equal(t, "strategy", mon.errs[0]["phase"])
	assert.Equal(t, "s1", mon.errs[0]["strategy"])
}

func TestRunCycle_RefreshFailureSkipsStrategies(t *testing.T) {
	e := newEnv(t, time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC))
	e.u.RefreshErr = errors.New("home assistant down")
	s := &stubStrategy{id: "s", calls: make(chan time.Time, 1)}
	c := e.controller(t, Config{}, []strategy.Strategy{s})

	_, err := c.RunCycle(context.Background())
	require.Error(t, err)
	assert.Empty(t, s.calls)
	assert.Len(t, e.u.Notifications(), 2)
	require.Len(t, e.sink.events, 1)
	assert.True(t, e.sink.events[0].Failed)

	e.u.RefreshErr = nil
	_, err = c.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Len(t, s.calls, 1)
}

func TestRunCycle_SmallestWait(t *testing.T) {
	e := newEnv(t, time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC))
	c := e.controller(t, Config{}, []strategy.Strategy{
		&stubStrategy{id: "a", wait: 3 * time.Hour},
		&stubStrategy{id: "b"},
		&stubStrategy{id: "c", wait: time.Hour},
	})
	wait, err := c.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, time.Hour, wait)
}

func TestPause(t *testing.T) {
	c, err := New(Config{LoopDelay: time.Minute, MinLoop: time.Second}, network.New(context.Background(), fake.New()), nil)
	require.NoError(t, err)

	assert.Equal(t, 50*time.Second, c.pause(0, 10*time.Second))
	assert.Equal(t, time.Second, c.pause(0, 2*time.Minute))
	assert.Equal(t, 50*time.Second, c.pause(time.Hour, 10*time.Second))

	c.cfg.AllowSleep = true
	assert.Equal(t, time.Hour-10*time.Second, c.pause(time.Hour, 10*time.Second))
	assert.Equal(t, 50*time.Second, c.pause(10*time.Second, 10*time.Second))
}

func TestRunCycle_PublishesSnapshot(t *testing.T) {
	e := newEnv(t, time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC))
	bus := eventbus.NewTyped[network.Snapshot]()
	sub := bus.Subscribe()
	c := e.controller(t, Config{}, nil, WithBus(bus))
	assert.Nil(t, c.Latest())

	_, err := c.RunCycle(context.Background())
	require.NoError(t, err)
	snap := <-sub
	assert.Equal(t, e.net.Cycle(), snap.Cycle)
	require.NotNil(t, c.Latest())
	assert.Equal(t, snap.Cycle, c.Latest().Cycle)
}

type loopNotifier struct{ calls int }

func (n *loopNotifier) Loop(time.Time) { n.calls++ }

func TestRunCycle_DrivesNotifier(t *testing.T) {
	e := newEnv(t, time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC))
	n := &loopNotifier{}
	c := e.controller(t, Config{}, nil, WithNotifier(n))
	_, err := c.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n.calls)
}

func TestRun_WakeAndCancel(t *testing.T) {
	e := newEnv(t, time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC))
	s := &stubStrategy{id: "s", calls: make(chan time.Time, 4)}
	c := e.controller(t, Config{LoopDelay: time.Hour}, []strategy.Strategy{s})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case <-s.calls:
	case <-time.After(2 * time.Second):
		t.Fatalf("first cycle did not run")
	}
	c.Wake()
	select {
	case <-s.calls:
	case <-time.After(2 * time.Second):
		t.Fatalf("Wake did not start a cycle")
	}
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop")
	}
}

func TestNew_NilNetwork(t *testing.T) {
	if _, err := New(Config{}, nil, nil); err == nil {
		t.Fatalf("expected error")
	}
}
