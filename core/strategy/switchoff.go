package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
	"github.com/expr-lang/expr/vm"

	"github.com/kilianp07/hems/core/feeder"
	"github.com/kilianp07/hems/core/network"
	"github.com/kilianp07/hems/core/timerange"
)

// SwitchOffConfig configures a SwitchOff strategy.
type SwitchOffConfig struct {
	OffHoursRanges any  `json:"off_hours_ranges"`
	Reverse        bool `json:"reverse"`
	// Condition is an optional boolean expression evaluated at the start
	// of each period; the period is skipped when it is false. Entity values
	// are read with val("id"), num("id") and on("id").
	Condition string `json:"condition"`
}

// SwitchOff switches its loads off during the configured ranges and
// restores their previous state when the range ends. Reverse switches them
// on during the ranges instead.
type SwitchOff struct {
	base
	ranges    *timerange.HoursRanges
	reverse   bool
	condition string
	program   *vm.Program

	known      bool
	inOff      bool
	rangeEnd   time.Time
	changeDone bool
	condDone   bool
	todo       []*network.Switch
	backup     map[string]bool
}

// NewSwitchOff parses the ranges and compiles the condition.
func NewSwitchOff(id string, d Deps, cfg SwitchOffConfig) (*SwitchOff, error) {
	hr, err := timerange.ParseHoursRanges(cfg.OffHoursRanges, 1, 0)
	if err != nil {
		return nil, fmt.Errorf("strategy %s: off_hours_ranges: %w", id, err)
	}
	if hr.IsEmpty() {
		return nil, fmt.Errorf("strategy %s: %w", id, ErrNoOffpeak)
	}
	s := &SwitchOff{
		base:      newBase(id, d),
		ranges:    hr,
		reverse:   cfg.Reverse,
		condition: cfg.Condition,
		backup:    map[string]bool{},
	}
	if cfg.Condition != "" {
		if err := s.compile(cfg.Condition); err != nil {
			return nil, fmt.Errorf("strategy %s: condition %q: %w", id, cfg.Condition, err)
		}
	}
	kind := "Off"
	if s.reverse {
		kind = "On"
	}
	s.log.Infof("Switch%sStrategy(%s) on %d loads", kind, hr, len(s.loads()))
	return s, nil
}

// entityCollector gathers the string arguments of val/num/on calls.
type entityCollector struct{ ids []string }

func (c *entityCollector) Visit(node *ast.Node) {
	call, ok := (*node).(*ast.CallNode)
	if !ok || len(call.Arguments) != 1 {
		return
	}
	ident, ok := call.Callee.(*ast.IdentifierNode)
	if !ok {
		return
	}
	switch ident.Value {
	case "val", "num", "on":
	default:
		return
	}
	if str, ok := call.Arguments[0].(*ast.StringNode); ok {
		c.ids = append(c.ids, str.Value)
	}
}

func (s *SwitchOff) compile(condition string) error {
	tree, err := parser.Parse(condition)
	if err != nil {
		return err
	}
	var c entityCollector
	ast.Walk(&tree.Node, &c)
	u := s.net.Updater()
	for _, id := range c.ids {
		u.RegisterEntity(id, feeder.KindString)
	}
	program, err := expr.Compile(condition, expr.Env(s.env()), expr.AsBool())
	if err != nil {
		return err
	}
	s.program = program
	return nil
}

func (s *SwitchOff) env() map[string]any {
	u := s.net.Updater()
	return map[string]any{
		"val": func(id string) any {
			v, err := u.EntityValue(id)
			if err != nil {
				s.log.Warnf("condition: %s: %v", id, err)
			}
			return v
		},
		"num": func(id string) float64 {
			v, err := u.EntityValue(id)
			if err != nil {
				s.log.Warnf("condition: %s: %v", id, err)
				return 0
			}
			f, err := feeder.ToFloat(v)
			if err != nil {
				s.log.Warnf("condition: %s: %v", id, err)
			}
			return f
		},
		"on": func(id string) bool {
			v, err := u.EntityValue(id)
			if err != nil {
				s.log.Warnf("condition: %s: %v", id, err)
				return false
			}
			b, _ := feeder.ToBool(v)
			return b
		},
	}
}

// testCondition evaluates the condition. An evaluation failure ignores the
// condition.
func (s *SwitchOff) testCondition() bool {
	if s.program == nil {
		return true
	}
	out, err := expr.Run(s.program, s.env())
	if err != nil {
		s.log.Errorf("condition %q: %v: ignore this condition", s.condition, err)
		return true
	}
	ok, _ := out.(bool)
	s.log.Debugf("condition %q = %t", s.condition, ok)
	return ok
}

func (s *SwitchOff) checkRange(now time.Time) {
	st := s.ranges.CheckRange(now)
	if !s.known || st.InRange != s.inOff {
		s.changeDone = false
		s.condDone = false
		if st.InRange {
			s.backup = map[string]bool{}
		}
		s.todo = nil
		for _, sw := range s.loads() {
			if sw.IsSwitchable() {
				s.todo = append(s.todo, sw)
			}
		}
	}
	s.known = true
	s.inOff = st.InRange
	s.rangeEnd = st.End
}

// UpdateNetwork applies the range change once, retrying failed switches on
// the following cycles.
func (s *SwitchOff) UpdateNetwork(ctx context.Context, c Cycle) (time.Duration, error) {
	now := c.Now
	if !s.known || now.After(s.rangeEnd) {
		s.checkRange(now)
	}
	if s.changeDone {
		return 0, nil
	}
	if s.switchAll(ctx, s.inOff == s.reverse) {
		s.changeDone = true
		if c.AllowSleep {
			return s.rangeEnd.Sub(now), nil
		}
		return 0, nil
	}
	s.log.Warnf("fail to switch all, will try again on next loop")
	return 0, nil
}

// switchAll moves the pending loads toward on. At the start of a period
// the states are saved; at its end they are restored.
func (s *SwitchOff) switchAll(ctx context.Context, on bool) bool {
	margin, err := s.net.MarginPowerOn()
	if err != nil {
		s.log.Warnf("margin power: %v", err)
		return false
	}
	if on && margin < 0 {
		s.log.Infof("can't switch on devices: not enough power margin (%g W)", margin)
		return false
	}
	// periods are the configured ranges, whatever the direction
	periodStart := s.inOff
	if periodStart && !s.condDone && !s.testCondition() {
		s.log.Infof("condition %q is false, skip this period", s.condition)
		s.backup = map[string]bool{}
		s.todo = nil
		return true
	}
	s.condDone = true
	var retry []*network.Switch
	for _, sw := range s.todo {
		target := on
		if periodStart {
			isOn := sw.IsOn()
			if _, saved := s.backup[sw.ID()]; !saved {
				s.backup[sw.ID()] = isOn
			}
			if isOn == on {
				s.log.Debugf("start of period: %s is already %s", sw.ID(), onOffStr(on))
				continue
			}
		} else {
			prev, ok := s.backup[sw.ID()]
			if !ok {
				s.log.Debugf("nothing to restore for %s", sw.ID())
				continue
			}
			if sw.SwitchedExternally() {
				s.log.Infof("%s was switched by hand, not restoring it", sw.ID())
				delete(s.backup, sw.ID())
				continue
			}
			target = prev
			s.log.Infof("restore the state %s for %s", onOffStr(prev), sw.ID())
		}
		if sw.IsOn() == target {
			delete(s.backup, sw.ID())
			continue
		}
		actual, err := s.switchOn(ctx, sw, target, "switchoff period")
		if err != nil || actual != target {
			s.log.Warnf("fail switch %s %s: %v", onOffStr(target), sw.ID(), err)
			retry = append(retry, sw)
			continue
		}
		if !periodStart {
			delete(s.backup, sw.ID())
		}
		s.log.Infof("switch %s %s successfully", onOffStr(target), sw.ID())
	}
	s.todo = retry
	return len(retry) == 0
}

func onOffStr(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
