package strategy

import (
	"context"
	"fmt"
	"time"
)

// NoSellConfig configures a NoSell strategy.
type NoSellConfig struct {
	// ImportTolerance is the grid import, in watts, accepted before a
	// load started on surplus is switched off again.
	ImportTolerance float64 `json:"import_tolerance"`
}

// NoSell runs scheduled loads on solar surplus instead of selling it: a
// load starts when the export covers its max power and the lowest-priority
// running load stops when the grid import exceeds the tolerance.
type NoSell struct {
	base
	tolerance float64
}

// NewNoSell requires a public power grid to read the export from.
func NewNoSell(id string, d Deps, cfg NoSellConfig) (*NoSell, error) {
	if d.Network.Grid() == nil {
		return nil, fmt.Errorf("strategy %s: no public power grid", id)
	}
	if cfg.ImportTolerance < 0 {
		return nil, fmt.Errorf("strategy %s: import_tolerance must not be negative", id)
	}
	s := &NoSell{base: newBase(id, d), tolerance: cfg.ImportTolerance}
	s.log.Infof("SolarNoSellStrategy(tolerance=%gW) on %d loads", s.tolerance, len(s.loads()))
	return s, nil
}

// UpdateNetwork starts or stops at most one load per cycle.
func (s *NoSell) UpdateNetwork(ctx context.Context, c Cycle) (time.Duration, error) {
	grid, err := s.net.Grid().CurrentPower()
	if err != nil {
		return 0, fmt.Errorf("strategy %s: grid power: %w", s.id, err)
	}
	loads := s.loads()
	// running loads whose schedule elapsed are switched off first
	for _, sw := range loads {
		if sw.IsSwitchable() && sw.IsOn() && !sw.IsScheduled() {
			s.switchSchedulable(ctx, sw, false, "elapsed time")
		}
	}
	if grid > s.tolerance {
		for i := len(loads) - 1; i >= 0; i-- {
			sw := loads[i]
			if !sw.IsSwitchable() || !sw.IsOn() || !sw.IsScheduled() {
				continue
			}
			s.log.Infof("importing %gW, switch off %s", grid, sw.ID())
			if !s.switchSchedulable(ctx, sw, false, "grid import above tolerance") {
				return 0, nil
			}
		}
		return 0, nil
	}
	export := -grid
	for _, sw := range loads {
		if !sw.IsSwitchable() || sw.IsOn() || !sw.IsScheduled() {
			continue
		}
		maxPower, err := sw.MaxPower()
		if err != nil {
			s.log.Warnf("%s: %v", sw.ID(), err)
			continue
		}
		if maxPower > export {
			continue
		}
		if s.switchSchedulable(ctx, sw, true, "solar surplus") {
			break
		}
	}
	return 0, nil
}
