package strategy

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/kilianp07/hems/core/metrics"
	"github.com/kilianp07/hems/core/network"
	"github.com/kilianp07/hems/core/optimizer"
)

// AnnealingConfig configures an Annealing strategy. Freq is in minutes.
type AnnealingConfig struct {
	optimizer.Config `json:",squash"`
	Freq             float64 `json:"freq"`
}

// Annealing periodically searches the power assignment minimising the
// energy cost and applies it every cycle.
type Annealing struct {
	base
	opt      *optimizer.Optimizer
	solution *optimizer.Solution
}

// NewAnnealing builds the optimizer. rng may be nil.
func NewAnnealing(id string, d Deps, cfg AnnealingConfig, rng *rand.Rand) (*Annealing, error) {
	opts := []optimizer.Option{optimizer.WithLogger(d.Logger)}
	if rng != nil {
		opts = append(opts, optimizer.WithRand(rng))
	}
	opt, err := optimizer.New(cfg.Config, opts...)
	if err != nil {
		return nil, fmt.Errorf("strategy %s: %w", id, err)
	}
	s := &Annealing{base: newBase(id, d), opt: opt}
	if cfg.Freq < 0 {
		return nil, fmt.Errorf("strategy %s: freq must not be negative", id)
	}
	if cfg.Freq > 0 {
		s.evalEvery = time.Duration(cfg.Freq * float64(time.Minute))
	}
	s.log.Infof("SimulatedAnnealingStrategy(%s, every %s) on %d loads", opt.Name(), s.evalEvery, len(s.loads()))
	return s, nil
}

// UpdateNetwork re-evaluates when due and applies the last solution.
func (s *Annealing) UpdateNetwork(ctx context.Context, c Cycle) (time.Duration, error) {
	if s.due(c.Now) {
		if err := s.eval(ctx, c.Now); err != nil {
			return 0, err
		}
	}
	s.apply(ctx)
	return 0, nil
}

// problem reads the network state.
func (s *Annealing) problem(now time.Time) (optimizer.Problem, error) {
	var p optimizer.Problem
	if g := s.net.Grid(); g != nil {
		v, err := g.CurrentPower()
		if err != nil {
			return p, fmt.Errorf("grid power: %w", err)
		}
		p.NetConsumption = v
	}
	for _, sp := range s.net.SolarPanels() {
		v, err := sp.CurrentPower()
		if err != nil {
			return p, fmt.Errorf("solar power: %w", err)
		}
		p.SolarProduction += v
	}
	if bats := s.net.Batteries(); len(bats) > 0 {
		var sum float64
		for _, b := range bats {
			lvl, err := b.Level()
			if err != nil {
				return p, fmt.Errorf("battery level: %w", err)
			}
			sum += lvl
		}
		p.BatterySoC = sum / float64(len(bats))
	}
	if c := s.net.Contract(); c != nil {
		var err error
		if p.Prices.Buy, err = c.Price(now); err != nil {
			return p, fmt.Errorf("price: %w", err)
		}
		if p.Prices.OffPeak, err = c.OffPeakPrice(now); err != nil {
			return p, fmt.Errorf("offpeak price: %w", err)
		}
		p.Prices.Sell = c.SellPrice()
	}
	for _, sw := range s.loads() {
		if !sw.IsSwitchable() {
			continue
		}
		l, err := loadOf(sw)
		if err != nil {
			s.log.Warnf("skip %s: %v", sw.ID(), err)
			continue
		}
		p.Loads = append(p.Loads, l)
	}
	return p, nil
}

func loadOf(sw *network.Switch) (optimizer.Load, error) {
	maxPower, err := sw.MaxPower()
	if err != nil {
		return optimizer.Load{}, err
	}
	current, err := sw.CurrentPower()
	if err != nil {
		return optimizer.Load{}, err
	}
	on := sw.IsOn()
	l := optimizer.Load{
		ID:           sw.ID(),
		MaxPower:     maxPower,
		CurrentPower: current,
		On:           on,
		Usable:       sw.IsActive() && sw.IsScheduled(),
	}
	if sw.IsControlledPower() {
		for _, lvl := range sw.PowerLevels() {
			l.Levels = append(l.Levels, lvl.Power)
		}
		if l.Levels[0] > 0 {
			l.Levels = append([]float64{0}, l.Levels...)
		}
	}
	if c := sw.Constraints(); on && c != nil && c.MinDurationOn > 0 && c.Duration() < c.MinDurationOn {
		l.Waiting = true
	}
	return l, nil
}

func (s *Annealing) eval(ctx context.Context, now time.Time) error {
	p, err := s.problem(now)
	if err != nil {
		return fmt.Errorf("strategy %s: %w", s.id, err)
	}
	start := time.Now()
	sol, err := s.opt.Run(ctx, p)
	if errors.Is(err, optimizer.ErrNoLoads) {
		s.log.Debugf("no deferrable load, nothing to optimize")
		s.solution = nil
		return nil
	}
	if err != nil {
		return fmt.Errorf("strategy %s: %w", s.id, err)
	}
	s.solution = &sol
	if rec, ok := s.metrics.(metrics.OptimizationRecorder); ok {
		_ = rec.RecordOptimization(metrics.OptimizationEvent{
			Strategy:   s.id,
			Algorithm:  sol.Algorithm,
			Objective:  sol.Objective,
			Initial:    sol.Initial,
			TotalPower: sol.TotalPower,
			Duration:   time.Since(start),
			Time:       now,
		})
	}
	return nil
}

// apply drives the loads toward the last solution.
func (s *Annealing) apply(ctx context.Context) {
	if s.solution == nil {
		return
	}
	for _, a := range s.solution.Assignments {
		node, ok := s.net.Node(a.ID)
		if !ok {
			continue
		}
		sw, ok := node.(*network.Switch)
		if !ok {
			continue
		}
		on := s.switchSchedulable(ctx, sw, a.On, "optimizer")
		if !on || !a.On || !sw.IsControlledPower() {
			continue
		}
		if current, err := sw.ControlledPower(); err == nil && current == a.Power {
			continue
		}
		s.log.Debugf("change power of %s to %gW", sw.ID(), a.Power)
		if err := sw.SetControlledPower(a.Power); err != nil {
			s.log.Warnf("%v", err)
		}
	}
}
