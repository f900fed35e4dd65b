package strategy

import (
	"context"
	"fmt"
	"time"
)

// Deferrable is a scheduled load handed to an external planner.
type Deferrable struct {
	ID       string
	Power    float64
	Duration time.Duration
	Timeout  time.Time
}

// EmhassClient plans deferrable loads with an external optimisation
// service. Plan returns, per load id, whether the load should run now.
type EmhassClient interface {
	Plan(ctx context.Context, deferrables []Deferrable) (map[string]bool, error)
}

// NopEmhass never plans anything.
type NopEmhass struct{}

func (NopEmhass) Plan(context.Context, []Deferrable) (map[string]bool, error) {
	return map[string]bool{}, nil
}

// EmhassConfig configures an Emhass strategy. Freq is in minutes.
type EmhassConfig struct {
	Freq float64 `json:"freq"`
}

// Emhass applies the plan of an external EMHASS service.
type Emhass struct {
	base
	client EmhassClient
	plan   map[string]bool
}

// NewEmhass falls back to NopEmhass when d carries no client.
func NewEmhass(id string, d Deps, cfg EmhassConfig) (*Emhass, error) {
	if cfg.Freq < 0 {
		return nil, fmt.Errorf("strategy %s: freq must not be negative", id)
	}
	s := &Emhass{base: newBase(id, d), client: d.Emhass}
	if s.client == nil {
		s.log.Warnf("strategy %s: no emhass client configured, loads will stay off", id)
		s.client = NopEmhass{}
	}
	if cfg.Freq > 0 {
		s.evalEvery = time.Duration(cfg.Freq * float64(time.Minute))
	}
	return s, nil
}

// UpdateNetwork asks for a new plan when due and applies the current one.
// Loads missing from the plan are switched off.
func (s *Emhass) UpdateNetwork(ctx context.Context, c Cycle) (time.Duration, error) {
	if s.due(c.Now) {
		if err := s.eval(ctx); err != nil {
			return 0, err
		}
	}
	for _, sw := range s.loads() {
		if !sw.IsSwitchable() {
			continue
		}
		s.switchSchedulable(ctx, sw, s.plan[sw.ID()], "emhass plan")
	}
	return 0, nil
}

func (s *Emhass) eval(ctx context.Context) error {
	var defs []Deferrable
	for _, sw := range s.loads() {
		if !sw.IsScheduled() {
			continue
		}
		p, err := sw.MaxPower()
		if err != nil {
			s.log.Warnf("skip %s: %v", sw.ID(), err)
			continue
		}
		sched := sw.Schedule()
		defs = append(defs, Deferrable{ID: sw.ID(), Power: p, Duration: sched.Duration(), Timeout: sched.Timeout()})
	}
	if len(defs) == 0 {
		s.log.Debugf("no deferrables so no emhass optimization to do")
		s.plan = nil
		return nil
	}
	s.log.Infof("emhass: perform optimization for %d loads", len(defs))
	plan, err := s.client.Plan(ctx, defs)
	if err != nil {
		return fmt.Errorf("strategy %s: emhass plan: %w", s.id, err)
	}
	s.plan = plan
	return nil
}
