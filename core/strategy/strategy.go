// Package strategy holds the per-cycle policies deciding which loads run.
// Every strategy drives the loads bound to its id and shares the switching
// helpers of base: loads start one per cycle, highest priority first, and
// only while the network margin allows it.
package strategy

import (
	"context"
	"time"

	"github.com/kilianp07/hems/core/decisionlog"
	"github.com/kilianp07/hems/core/logger"
	"github.com/kilianp07/hems/core/metrics"
	"github.com/kilianp07/hems/core/network"
)

// DefaultEvalFrequency is how often evaluating strategies recompute a plan
// when nothing changes.
const DefaultEvalFrequency = time.Hour

// Cycle describes one control-loop tick.
type Cycle struct {
	// Duration is the nominal loop period.
	Duration time.Duration
	// AllowSleep lets strategies ask for a longer pause, e.g. until the
	// next range boundary.
	AllowSleep bool
	Now        time.Time
}

// Strategy updates the network once per cycle and returns how long the
// loop may sleep before the strategy needs to run again. Zero means no
// preference.
type Strategy interface {
	ID() string
	UpdateNetwork(ctx context.Context, c Cycle) (time.Duration, error)
}

// Deps are the collaborators shared by strategies.
type Deps struct {
	Network   *network.Network
	Logger    logger.Logger
	Decisions decisionlog.Store
	Metrics   metrics.MetricsSink
	Emhass    EmhassClient
}

type base struct {
	id        string
	net       *network.Network
	log       logger.Logger
	decisions decisionlog.Store
	metrics   metrics.MetricsSink

	evalEvery   time.Duration
	nextEval    time.Time
	deferrables map[string]time.Duration
}

func newBase(id string, d Deps) base {
	return base{
		id:          id,
		net:         d.Network,
		log:         logger.OrDiscard(d.Logger),
		decisions:   d.Decisions,
		metrics:     metrics.OrNop(d.Metrics),
		evalEvery:   DefaultEvalFrequency,
		deferrables: map[string]time.Duration{},
	}
}

func (b *base) ID() string { return b.id }

// loads returns the loads bound to this strategy, highest priority first.
func (b *base) loads() []*network.Switch { return b.net.LoadsForStrategy(b.id) }

// switchOn sends the order and records the decision.
func (b *base) switchOn(ctx context.Context, sw *network.Switch, on bool, reason string) (bool, error) {
	margin, _ := b.net.MarginPowerOn()
	actual, err := sw.SwitchOn(on)
	rec := decisionlog.Record{
		Timestamp: b.net.Now(),
		CycleID:   decisionlog.CycleID(ctx),
		Cycle:     b.net.Cycle(),
		Node:      sw.ID(),
		Strategy:  b.id,
		Requested: on,
		Actual:    actual,
		Margin:    margin,
		Reason:    reason,
	}
	if on {
		rec.Power, _ = sw.MaxPower()
	}
	if err != nil {
		rec.Error = err.Error()
	}
	if b.decisions != nil {
		if aerr := b.decisions.Append(ctx, rec); aerr != nil {
			b.log.Warnf("decision log: %v", aerr)
		}
	}
	if sr, ok := b.metrics.(metrics.SwitchRecorder); ok {
		_ = sr.RecordSwitch(metrics.SwitchEvent{
			Node: rec.Node, Strategy: b.id, Requested: on, Actual: actual, Power: rec.Power, Time: rec.Timestamp,
		})
	}
	return actual, err
}

// switchSchedulable drives a switchable load toward on and returns whether
// it is on afterwards. A load that is on is switched off when its schedule
// elapsed or when on is false. A load that is off starts only when
// scheduled, active and within the power margin.
func (b *base) switchSchedulable(ctx context.Context, sw *network.Switch, on bool, reason string) bool {
	if !sw.IsSwitchable() {
		b.log.Debugf("%s is not switchable", sw.ID())
		return false
	}
	if sw.IsOn() {
		scheduled := sw.IsScheduled()
		if scheduled && on {
			b.log.Debugf("%s is on for %s more", sw.ID(), sw.Schedule().Duration())
			return true
		}
		why := "strategy"
		if !scheduled {
			if sw.SwitchedExternally() {
				b.log.Debugf("%s was switched on by hand, leaving it on", sw.ID())
				return true
			}
			why = "elapsed time"
		}
		b.log.Infof("switch off %s due to %s", sw.ID(), why)
		actual, err := b.switchOn(ctx, sw, false, why)
		if err != nil || actual {
			b.log.Warnf("fail to switch off %s: %v", sw.ID(), err)
			return true
		}
		return false
	}
	if !on || !sw.IsScheduled() {
		return false
	}
	maxPower, err := sw.MaxPower()
	if err != nil {
		b.log.Warnf("%s: %v", sw.ID(), err)
		return false
	}
	margin, err := b.net.MarginPowerOn()
	if err != nil {
		b.log.Warnf("margin power: %v", err)
		return false
	}
	if maxPower > margin {
		b.log.Infof("not enough power margin (%g W) to switch on %s which needs %g W", margin, sw.ID(), maxPower)
		return false
	}
	if !sw.IsActive() {
		b.log.Infof("can't switch on %s: deactivated for power margin", sw.ID())
		return false
	}
	actual, err := b.switchOn(ctx, sw, true, reason)
	if err != nil {
		b.log.Warnf("fail to switch on %s: %v", sw.ID(), err)
		return false
	}
	if actual {
		b.log.Infof("switch on %s successfully", sw.ID())
	}
	return actual
}

// switchOnMax keeps scheduled loads running and starts at most one more.
// It returns true when a load was started.
func (b *base) switchOnMax(ctx context.Context, reason string) bool {
	margin, err := b.net.MarginPowerOn()
	if err != nil {
		b.log.Warnf("margin power: %v", err)
		return false
	}
	started := false
	for _, sw := range b.loads() {
		if !sw.IsSwitchable() {
			continue
		}
		wasOn := sw.IsOn()
		if !wasOn && (started || margin <= 0) {
			continue
		}
		if on := b.switchSchedulable(ctx, sw, true, reason); on && !wasOn {
			started = true
		}
	}
	if margin <= 0 {
		b.log.Infof("can't switch on devices: not enough power margin (%g W)", margin)
	}
	return started
}

// switchOffAll switches off every load of the strategy but those in keep.
// It returns false when one of them refused; the caller retries next cycle.
func (b *base) switchOffAll(ctx context.Context, keep map[string]bool) bool {
	ok := true
	for _, sw := range b.loads() {
		if !sw.IsSwitchable() || !sw.IsOn() || keep[sw.ID()] {
			continue
		}
		if b.switchSchedulable(ctx, sw, false, "strategy") {
			b.log.Warnf("fail to switch off %s", sw.ID())
			ok = false
		}
	}
	return ok
}

// updateDeferrables tracks scheduled loads. It returns true when a load
// got scheduled, was rescheduled for longer, or its schedule ended. Time
// consumed while running is not a change.
func (b *base) updateDeferrables() bool {
	changed := false
	seen := map[string]bool{}
	for _, sw := range b.loads() {
		if !sw.IsSwitchable() {
			continue
		}
		id := sw.ID()
		d := sw.Schedule().Duration()
		prev, known := b.deferrables[id]
		switch {
		case d > 0 && (!known || d > prev):
			changed = true
			b.deferrables[id] = d
			seen[id] = true
		case d > 0:
			b.deferrables[id] = d
			seen[id] = true
		}
	}
	for id := range b.deferrables {
		if !seen[id] {
			delete(b.deferrables, id)
			changed = true
		}
	}
	return changed
}

// due reports whether a plan must be recomputed at now.
func (b *base) due(now time.Time) bool {
	changed := b.updateDeferrables()
	if changed || !now.Before(b.nextEval) {
		b.nextEval = now.Add(b.evalEvery)
		return true
	}
	return false
}

// minWait returns the smallest positive duration, zero when none is.
func minWait(ds ...time.Duration) time.Duration {
	var out time.Duration
	for _, d := range ds {
		if d > 0 && (out == 0 || d < out) {
			out = d
		}
	}
	return out
}
