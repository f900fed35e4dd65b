// Package controller runs the control loop: every cycle it applies queued
// schedule changes, refreshes the network, runs admission control,
// advances schedules and lets each strategy update its loads.
package controller

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/kilianp07/hems/core/contract"
	"github.com/kilianp07/hems/core/decisionlog"
	"github.com/kilianp07/hems/core/logger"
	"github.com/kilianp07/hems/core/metrics"
	"github.com/kilianp07/hems/core/monitoring"
	"github.com/kilianp07/hems/core/network"
	"github.com/kilianp07/hems/core/strategy"
	"github.com/kilianp07/hems/internal/eventbus"
)

// Config tunes the loop timing.
type Config struct {
	// LoopDelay is the nominal cycle period.
	LoopDelay time.Duration
	// MinLoop is the shortest pause between two cycles, used when a cycle
	// overruns LoopDelay.
	MinLoop time.Duration
	// AllowSleep lets strategies extend the pause beyond LoopDelay.
	AllowSleep bool
	// RefreshTimeout bounds the retries of a failing refresh.
	RefreshTimeout time.Duration
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.LoopDelay <= 0 {
		c.LoopDelay = 30 * time.Second
	}
	if c.MinLoop <= 0 {
		c.MinLoop = time.Second
	}
	if c.RefreshTimeout <= 0 {
		c.RefreshTimeout = 5 * time.Minute
	}
}

// Notifier is driven once per cycle to flush batched notifications.
type Notifier interface {
	Loop(now time.Time)
}

// Controller owns the loop state.
type Controller struct {
	cfg        Config
	net        *network.Network
	strategies []strategy.Strategy
	log        logger.Logger
	metrics    metrics.MetricsSink
	notifier   Notifier
	bus        *eventbus.TypedBus[network.Snapshot]
	newBackOff func() backoff.BackOff

	latest  atomic.Pointer[network.Snapshot]
	lastRun time.Time
	wake    chan struct{}
}

// Option customises a Controller.
type Option func(*Controller)

func WithLogger(l logger.Logger) Option { return func(c *Controller) { c.log = logger.OrDiscard(l) } }

func WithMetrics(s metrics.MetricsSink) Option {
	return func(c *Controller) { c.metrics = metrics.OrNop(s) }
}

func WithNotifier(n Notifier) Option { return func(c *Controller) { c.notifier = n } }

// WithBus publishes a snapshot of the network at the end of every cycle.
func WithBus(b *eventbus.TypedBus[network.Snapshot]) Option { return func(c *Controller) { c.bus = b } }

// WithBackOff replaces the refresh retry policy.
func WithBackOff(f func() backoff.BackOff) Option { return func(c *Controller) { c.newBackOff = f } }

// New returns a controller for net driven by strategies, run in order.
func New(cfg Config, net *network.Network, strategies []strategy.Strategy, opts ...Option) (*Controller, error) {
	if net == nil {
		return nil, errors.New("controller: nil network")
	}
	cfg.SetDefaults()
	c := &Controller{
		cfg:        cfg,
		net:        net,
		strategies: strategies,
		log:        logger.Discard(),
		metrics:    metrics.NopSink{},
		wake:       make(chan struct{}, 1),
	}
	c.newBackOff = c.refreshBackOff
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// refreshBackOff retries after 2s, doubling up to 64s.
func (c *Controller) refreshBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = 64 * time.Second
	b.MaxElapsedTime = c.cfg.RefreshTimeout
	return b
}

// Wake interrupts the current pause so that the next cycle starts now,
// e.g. after a schedule change from the control panel.
func (c *Controller) Wake() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Latest returns the snapshot of the last finished cycle, nil before the
// first one.
func (c *Controller) Latest() *network.Snapshot { return c.latest.Load() }

// Run loops until ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	c.log.Infof("control loop started (delay %s, %d strategies)", c.cfg.LoopDelay, len(c.strategies))
	for {
		start := time.Now()
		wait, err := c.RunCycle(ctx)
		if err != nil {
			c.log.Errorf("cycle %d: %v", c.net.Cycle(), err)
		}
		pause := c.pause(wait, time.Since(start))
		c.log.Debugf("sleep %s", pause)
		timer := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			timer.Stop()
			c.log.Infof("control loop stopped")
			return nil
		case <-c.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// pause is what remains of the cycle period after spent, the period being
// extended to wait when strategies may sleep.
func (c *Controller) pause(wait, spent time.Duration) time.Duration {
	period := c.cfg.LoopDelay
	if c.cfg.AllowSleep && wait > period {
		period = wait
	}
	d := period - spent
	if d < 0 {
		c.log.Warnf("missing time for loop: %s", -d)
	}
	if d < c.cfg.MinLoop {
		d = c.cfg.MinLoop
	}
	return d
}

// RunCycle runs one cycle and returns the pause requested by strategies,
// zero for none. A panic inside the cycle is reported and returned as an
// error; the network is left as the cycle found it.
func (c *Controller) RunCycle(ctx context.Context) (wait time.Duration, err error) {
	started := time.Now()
	now := c.net.Now()
	ctx = decisionlog.WithCycleID(ctx, uuid.NewString())
	failed := false
	defer func() {
		if r := recover(); r != nil {
			monitoring.Current().CapturePanic(r, c.tags("panic"))
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			failed = true
		}
		c.finish(now, time.Since(started), failed)
	}()

	if n := c.net.ApplyCommands(); n > 0 {
		c.log.Infof("%d schedule command(s) applied", n)
	}
	if err := c.refresh(ctx); err != nil {
		monitoring.CaptureCycle(err, "refresh", c.net.Cycle())
		return 0, err
	}
	if err := c.net.Check(); err != nil {
		failed = true
		c.log.Warnf("%v", err)
		monitoring.CaptureCycle(err, "check", c.net.Cycle())
	}
	var elapsed time.Duration
	if !c.lastRun.IsZero() {
		elapsed = now.Sub(c.lastRun)
	}
	c.lastRun = now
	if err := c.net.Decrement(elapsed); err != nil {
		c.log.Warnf("%v", err)
		monitoring.CaptureCycle(err, "decrement", c.net.Cycle())
	}
	cycle := strategy.Cycle{Duration: c.cfg.LoopDelay, AllowSleep: c.cfg.AllowSleep, Now: now}
	for _, s := range c.strategies {
		w, err := c.runStrategy(ctx, s, cycle)
		if err != nil {
			failed = true
			c.log.Errorf("strategy %s: %v", s.ID(), err)
			monitoring.CaptureException(err, map[string]string{
				"phase":    "strategy",
				"strategy": s.ID(),
				"cycle":    strconv.FormatUint(c.net.Cycle(), 10),
			})
			continue
		}
		if w > 0 && (wait == 0 || w < wait) {
			wait = w
		}
	}
	if c.notifier != nil {
		c.notifier.Loop(now)
	}
	return wait, nil
}

// runStrategy isolates a strategy so that its panic does not skip the
// others.
func (c *Controller) runStrategy(ctx context.Context, s strategy.Strategy, cycle strategy.Cycle) (w time.Duration, err error) {
	defer func() {
		if r := recover(); r != nil {
			monitoring.Current().CapturePanic(r, map[string]string{"phase": "strategy", "strategy": s.ID()})
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.UpdateNetwork(ctx, cycle)
}

func (c *Controller) refresh(ctx context.Context) error {
	b := backoff.WithContext(c.newBackOff(), ctx)
	return backoff.RetryNotify(func() error {
		return c.net.Refresh(ctx)
	}, b, func(err error, d time.Duration) {
		c.log.Warnf("refresh failed, retry in %s: %v", d, err)
		c.net.Notify(fmt.Sprintf("Unable to refresh home state: %v", err))
	})
}

func (c *Controller) tags(phase string) map[string]string {
	return map[string]string{"phase": phase, "cycle": strconv.FormatUint(c.net.Cycle(), 10)}
}

// finish records the cycle metrics and publishes the snapshot.
func (c *Controller) finish(now time.Time, d time.Duration, failed bool) {
	snap := c.net.Snapshot()
	c.latest.Store(&snap)
	if c.bus != nil {
		c.bus.Publish(snap)
	}
	ev := metrics.CycleEvent{
		Cycle:       snap.Cycle,
		Duration:    d,
		Margin:      snap.Margin,
		Deactivated: len(c.net.Deactivated()),
		Failed:      failed,
		Time:        now,
	}
	if g := c.net.Grid(); g != nil {
		if p, err := g.CurrentPower(); err == nil {
			ev.GridPower = p
		}
	}
	if err := c.metrics.RecordCycle(ev); err != nil {
		c.log.Warnf("record cycle: %v", err)
	}
	c.recordPrice(now)
}

func (c *Controller) recordPrice(now time.Time) {
	rec, ok := c.metrics.(metrics.PriceRecorder)
	if !ok {
		return
	}
	ct := c.net.Contract()
	if ct == nil {
		return
	}
	price, err := ct.Price(now)
	if err != nil {
		c.log.Debugf("price: %v", err)
		return
	}
	ev := metrics.PriceEvent{Price: price, OffPeak: ct.InOffpeakRange(now).InRange, Time: now}
	if t, ok := ct.(*contract.Tempo); ok {
		if col, err := t.CurrentColor(now); err == nil {
			ev.Color = string(col)
		}
	}
	if err := rec.RecordPrice(ev); err != nil {
		c.log.Warnf("record price: %v", err)
	}
}
