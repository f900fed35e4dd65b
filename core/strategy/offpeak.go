package strategy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/kilianp07/hems/core/contract"
	"github.com/kilianp07/hems/core/network"
	"github.com/kilianp07/hems/core/timerange"
)

// ErrNoOffpeak is returned when the contract has no off-peak hours.
var ErrNoOffpeak = errors.New("offpeak strategy is useless without offpeak hours")

// OffPeak runs scheduled loads during off-peak hours only. During peak
// hours it switches everything off once per range, except loads whose
// schedule timeout cannot be met by off-peak time alone: those run during
// the cheapest peak periods before their timeout.
type OffPeak struct {
	base
	contract contract.Contract

	known      bool
	inOffpeak  bool
	rangeEnd   time.Time
	changeDone bool
	plans      map[string]*onPlan
}

// onPlan holds the peak periods a load must run during to meet its
// timeout.
type onPlan struct {
	duration time.Duration
	timeout  time.Time
	periods  []timerange.Period
	running  bool
}

// NewOffPeak binds the strategy to the grid contract.
func NewOffPeak(id string, d Deps) (*OffPeak, error) {
	c := d.Network.Contract()
	if c == nil {
		return nil, fmt.Errorf("strategy %s: %w: no grid contract", id, ErrNoOffpeak)
	}
	hr, err := c.HoursRanges(d.Network.Now())
	if err != nil {
		return nil, fmt.Errorf("strategy %s: %w", id, err)
	}
	if hr.IsEmpty() {
		return nil, fmt.Errorf("strategy %s: %w", id, ErrNoOffpeak)
	}
	s := &OffPeak{base: newBase(id, d), contract: c, plans: map[string]*onPlan{}}
	s.log.Infof("OffPeakStrategy(%s) on %d loads", hr, len(s.loads()))
	return s, nil
}

func (s *OffPeak) checkRange(now time.Time) {
	st := s.contract.InOffpeakRange(now)
	if !s.known || st.InRange != s.inOffpeak {
		s.changeDone = false
		s.plans = map[string]*onPlan{}
	}
	s.known = true
	s.inOffpeak = st.InRange
	s.rangeEnd = st.End
	s.log.Debugf("offpeak=%t until %s", s.inOffpeak, s.rangeEnd.Format(time.DateTime))
}

// UpdateNetwork switches on in off-peak hours, off otherwise.
func (s *OffPeak) UpdateNetwork(ctx context.Context, c Cycle) (time.Duration, error) {
	now := c.Now
	if !s.known || now.After(s.rangeEnd) {
		s.checkRange(now)
	}
	if s.inOffpeak {
		s.switchOnMax(ctx, "offpeak range")
		return 0, nil
	}
	active, next := s.planMissingOffpeakTime(now)
	if !s.changeDone {
		s.log.Debugf("not offpeak, switch off all")
		if s.switchOffAll(ctx, active) {
			s.changeDone = true
		} else {
			s.log.Warnf("fail to switch off all, will try again on next loop")
		}
	}
	s.runPlans(ctx, active)
	var wait time.Duration
	if s.changeDone && c.AllowSleep {
		wait = minWait(s.rangeEnd.Sub(now), next)
	}
	return wait, nil
}

// missingTime returns how much of the schedule cannot run in off-peak
// hours before its timeout, and how much peak time remains.
func (s *OffPeak) missingTime(now time.Time, sched *network.Schedule, hr *timerange.HoursRanges) (missing, peak time.Duration, periods []timerange.Period) {
	timeout := sched.Timeout()
	if timeout.IsZero() || !timeout.After(now) {
		return 0, 0, nil
	}
	var offpeak time.Duration
	periods = hr.Periods(now, timeout)
	for _, p := range periods {
		if p.InRange {
			offpeak += p.Duration()
		} else {
			peak += p.Duration()
		}
	}
	missing = sched.Duration() - offpeak
	if missing > peak {
		s.log.Warnf("missing %d minutes to respect timeout of %s", int((missing - peak).Minutes()), sched.ID)
	}
	return missing, peak, periods
}

// onPeriods picks the cheapest peak periods covering the missing time.
func (s *OffPeak) onPeriods(now time.Time, sched *network.Schedule) []timerange.Period {
	hr, err := s.contract.HoursRanges(now)
	if err != nil {
		s.log.Warnf("hours ranges: %v", err)
		return nil
	}
	missing, _, periods := s.missingTime(now, sched, hr)
	if missing <= 0 {
		return nil
	}
	var peaks []timerange.Period
	for _, p := range periods {
		if p.InRange {
			continue
		}
		if price, err := s.contract.Price(p.Begin.Add(p.Duration() / 2)); err == nil {
			p.Cost = price
		}
		peaks = append(peaks, p)
	}
	sort.SliceStable(peaks, func(i, j int) bool { return peaks[i].Cost < peaks[j].Cost })
	var out []timerange.Period
	for _, p := range peaks {
		if missing <= 0 {
			break
		}
		if p.Duration() > missing {
			p.End = p.Begin.Add(missing)
		}
		missing -= p.Duration()
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Begin.Before(out[j].Begin) })
	if missing > 0 && len(out) > 0 {
		last := &out[len(out)-1]
		last.End = last.End.Add(missing)
		s.log.Warnf("pushing back last end (until %s) due to missing time (%d minutes)",
			last.End.Format(time.DateTime), int(missing.Minutes()))
	}
	return out
}

// planMissingOffpeakTime refreshes the plans of scheduled loads. It
// returns the loads that must run now and the wait until the next planned
// start or stop, zero when none.
func (s *OffPeak) planMissingOffpeakTime(now time.Time) (map[string]bool, time.Duration) {
	active := map[string]bool{}
	var next time.Duration
	for _, sw := range s.loads() {
		if !sw.IsSwitchable() {
			continue
		}
		sched := sw.Schedule()
		plan, ok := s.plans[sw.ID()]
		if !sched.IsScheduled() || sched.Timeout().IsZero() {
			if ok && plan.running {
				// keep it until runPlans switched it off
				plan.periods = nil
				continue
			}
			delete(s.plans, sw.ID())
			continue
		}
		if !ok || !plan.timeout.Equal(sched.Timeout()) || sched.Duration() > plan.duration {
			plan = &onPlan{duration: sched.Duration(), timeout: sched.Timeout(), periods: s.onPeriods(now, sched)}
			s.plans[sw.ID()] = plan
			for _, p := range plan.periods {
				s.log.Infof("will have to switch on %s from %s to %s to respect its timeout",
					sw.ID(), p.Begin.Format(time.DateTime), p.End.Format(time.DateTime))
			}
		}
		for _, p := range plan.periods {
			if !now.Before(p.Begin) && now.Before(p.End) {
				active[sw.ID()] = true
				next = minWait(next, p.End.Sub(now))
			} else if p.Begin.After(now) {
				next = minWait(next, p.Begin.Sub(now))
			}
		}
	}
	return active, next
}

// runPlans switches planned loads on during their periods and off after.
func (s *OffPeak) runPlans(ctx context.Context, active map[string]bool) {
	for _, sw := range s.loads() {
		plan, ok := s.plans[sw.ID()]
		if !ok {
			continue
		}
		switch {
		case active[sw.ID()]:
			if s.switchSchedulable(ctx, sw, true, "missing offpeak time before timeout") {
				if !plan.running {
					s.log.Infof("switch on %s due to missing time on offpeak periods", sw.ID())
				}
				plan.running = true
			}
		case plan.running:
			if !s.switchSchedulable(ctx, sw, false, "end of planned peak period") {
				plan.running = false
			}
		}
	}
}
