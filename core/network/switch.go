package network

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/kilianp07/hems/core/feeder"
)

// DefaultPriority is used for switches without a configured priority.
const DefaultPriority = 50

// MaxControlledPowerValues bounds the number of power levels of a switch.
const MaxControlledPowerValues = 256

// PowerLevel maps the command sent to a device to the power it draws.
type PowerLevel struct {
	Command float64
	Power   float64
}

// Switch is a load. When switchable it carries a schedule, a priority and
// optional constraints; otherwise its on state is guessed from its power.
type Switch struct {
	base
	switchable  bool
	isOn        feeder.Feeder[bool]
	schedule    *Schedule
	priority    int
	strategyID  string
	constraints *Constraints

	controlEntity string
	controlled    feeder.Feeder[float64]
	levels        []PowerLevel

	active    bool
	lastOn    bool
	lastCycle uint64
}

// SwitchOption customises a Switch.
type SwitchOption func(*Switch)

// WithPriority sets the priority; higher runs first.
func WithPriority(p int) SwitchOption { return func(s *Switch) { s.priority = p } }

// WithStrategy binds the switch to a strategy id.
func WithStrategy(id string) SwitchOption { return func(s *Switch) { s.strategyID = id } }

// WithConstraints guards the switch.
func WithConstraints(c *Constraints) SwitchOption {
	return func(s *Switch) {
		s.constraints = c
		if c != nil {
			c.node = s
		}
	}
}

// WithControlledPower lets the switch run at discrete power levels, written
// to entity.
func WithControlledPower(entity string, current feeder.Feeder[float64], levels []PowerLevel) SwitchOption {
	return func(s *Switch) {
		s.controlEntity = entity
		s.controlled = current
		s.levels = levels
	}
}

// NewSwitch builds a switchable load. isOn is mandatory.
func NewSwitch(name string, current, maxPower feeder.Feeder[float64], isOn feeder.Feeder[bool], opts ...SwitchOption) (*Switch, error) {
	if isOn == nil {
		return nil, fmt.Errorf("switch %q: is_on: %w", name, feeder.ErrMissing)
	}
	s := &Switch{
		base:       newBase(name, current, maxPower),
		switchable: true,
		isOn:       isOn,
		priority:   DefaultPriority,
		active:     true,
	}
	s.schedule = newSchedule(s.id, name)
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// NewLoad builds a non-switchable load whose state is guessed from its
// power: it is on while drawing power, and for nbCycleOff cycles after.
func NewLoad(name string, current, maxPower feeder.Feeder[float64], nbCycleOff int) *Switch {
	s := &Switch{
		base:     newBase(name, current, maxPower),
		priority: DefaultPriority,
		active:   true,
	}
	s.schedule = newSchedule(s.id, name)
	s.isOn = &guessIsOn{node: s, cycles: nbCycleOff}
	return s
}

func (s *Switch) IsSwitchable() bool { return s.switchable }

// IsOn reads the state feeder. Unreadable states count as off.
func (s *Switch) IsOn() bool {
	on, err := s.isOn.Value()
	if err != nil {
		s.log().Errorf("%s: unable to know if on: %v", s.id, err)
		return false
	}
	return on
}

// CurrentPower warns when an off switch still draws power.
func (s *Switch) CurrentPower() (float64, error) {
	p, err := s.base.CurrentPower()
	if err == nil && s.switchable && p != 0 && !s.IsOn() {
		s.log().Warnf("%s is off but current power=%g", s.id, p)
	}
	return p, err
}

func (s *Switch) Priority() int { return s.priority }
func (s *Switch) StrategyID() string { return s.strategyID }
func (s *Switch) Schedule() *Schedule { return s.schedule }
func (s *Switch) Constraints() *Constraints { return s.constraints }
func (s *Switch) IsActive() bool { return s.active }
func (s *Switch) IsScheduled() bool { return s.switchable && s.schedule.IsScheduled() }
func (s *Switch) LastSwitchCycle() uint64 { return s.lastCycle }
func (s *Switch) ControlEntity() string { return s.controlEntity }
func (s *Switch) IsControlledPower() bool { return s.controlEntity != "" && len(s.levels) > 0 }
func (s *Switch) setActive(v bool) { s.active = v }

// PowerLevels returns the discrete levels sorted by power. A switch without
// controlled power exposes the binary choice {0, MaxPower}.
func (s *Switch) PowerLevels() []PowerLevel {
	if s.IsControlledPower() {
		out := make([]PowerLevel, len(s.levels))
		copy(out, s.levels)
		return out
	}
	maxPower, _ := s.MaxPower()
	return []PowerLevel{{Command: 0, Power: 0}, {Command: 1, Power: maxPower}}
}

// ControlledPower returns the last commanded power level.
func (s *Switch) ControlledPower() (float64, error) {
	if s.controlled == nil {
		return 0, ErrNotSwitchable
	}
	cmd, err := s.controlled.Value()
	if err != nil {
		return 0, err
	}
	for _, l := range s.levels {
		if l.Command == cmd {
			return l.Power, nil
		}
	}
	return cmd, nil
}

// SetControlledPower writes the command of the level closest to power.
func (s *Switch) SetControlledPower(power float64) error {
	if !s.IsControlledPower() {
		return fmt.Errorf("%s: controlled power: %w", s.id, ErrNotSwitchable)
	}
	best := s.levels[0]
	for _, l := range s.levels[1:] {
		if math.Abs(l.Power-power) < math.Abs(best.Power-power) {
			best = l
		}
	}
	if s.net == nil || s.net.updater == nil {
		return errors.New("switch not attached to a network")
	}
	if err := s.net.updater.SetValue(s.controlEntity, best.Command); err != nil {
		return fmt.Errorf("%s: set controlled power: %w", s.id, err)
	}
	s.net.invalidate()
	return nil
}

// SwitchOn requests a state change and returns the state actually reached.
// A transition refused by the constraints returns the current state and a
// *ConstraintsError. Switching a deactivated switch on returns ErrDeactivated.
func (s *Switch) SwitchOn(on bool) (bool, error) {
	if !s.switchable {
		s.log().Warnf("try to switch %s a not switchable device: %s", onOff(on), s.id)
		return on, nil
	}
	current := s.IsOn()
	if on && !s.active {
		return current, fmt.Errorf("%s: %w", s.id, ErrDeactivated)
	}
	if s.constraints != nil {
		if err := s.constraints.allow(on); err != nil {
			s.log().Warnf("cancel switch %s %s due to constraints: %v", onOff(on), s.id, err)
			return current, err
		}
	}
	return s.actuate(on, current)
}

// forceSwitch bypasses hysteresis and activation; used by Check and by
// constraints forcing a transition.
func (s *Switch) forceSwitch(on bool) (bool, error) {
	if !s.switchable {
		return s.IsOn(), ErrNotSwitchable
	}
	return s.actuate(on, s.IsOn())
}

func (s *Switch) actuate(on, current bool) (bool, error) {
	if s.net == nil || s.net.updater == nil {
		return current, errors.New("switch not attached to a network")
	}
	actual, err := s.net.updater.SwitchOn(s, on)
	if err != nil {
		return current, fmt.Errorf("%s: switch %s: %w", s.id, onOff(on), err)
	}
	s.lastOn = actual
	s.lastCycle = s.net.cycle
	if s.constraints != nil {
		s.constraints.transition(actual)
	}
	if actual != current {
		s.net.account(s, actual)
	}
	return actual, nil
}

// SwitchedExternally reports whether the device state differs from the last
// state hems set, i.e. it was toggled by hand. States read during the cycle
// of the switch itself are not fresh yet and never count.
func (s *Switch) SwitchedExternally() bool {
	return s.externallyToggled(s.IsOn())
}

func (s *Switch) externallyToggled(isOn bool) bool {
	if s.lastCycle == 0 || s.net == nil || s.net.cycle <= s.lastCycle {
		return false
	}
	return isOn != s.lastOn
}

// Decrement consumes schedule time while on and runs constraint checks.
func (s *Switch) Decrement(elapsed time.Duration) error {
	if !s.switchable {
		return nil
	}
	if s.IsOn() {
		s.schedule.Decrement(elapsed)
	}
	if s.constraints != nil {
		return s.constraints.Decrement(elapsed)
	}
	return nil
}

func (s *Switch) String() string {
	return fmt.Sprintf("Switch(%s, strategy=%s, priority=%d, switchable=%t)", s.id, s.strategyID, s.priority, s.switchable)
}

// guessIsOn considers a load on while it draws power and for a few cycles
// after the last positive reading.
type guessIsOn struct {
	node      *Switch
	cycles    int
	without   int
	lastCycle uint64
	seen      bool
}

func (g *guessIsOn) Value() (bool, error) {
	p, err := g.node.base.CurrentPower()
	if err != nil {
		return false, err
	}
	if p > 0 {
		g.without = 0
		return true, nil
	}
	var cycle uint64
	if g.node.net != nil {
		cycle = g.node.net.cycle
	}
	if !g.seen || g.lastCycle != cycle {
		g.without++
		g.lastCycle = cycle
		g.seen = true
	}
	return g.without < g.cycles, nil
}

// ParsePowerLevels decodes controlled power values:
//
//	[0, 500, 1000]                     commands equal powers
//	{0: 0, 1: 400, 2: 1000}            command to power
//	{range: [0, 3000], step: 500}      commands equal powers
func ParsePowerLevels(raw any, maxPower float64) ([]PowerLevel, error) {
	var levels []PowerLevel
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []any:
		for _, it := range v {
			f, err := feeder.ToFloat(it)
			if err != nil {
				return nil, fmt.Errorf("controlled power value %v: %w", it, err)
			}
			levels = append(levels, PowerLevel{Command: f, Power: f})
		}
	case []float64:
		for _, f := range v {
			levels = append(levels, PowerLevel{Command: f, Power: f})
		}
	case map[string]any:
		lo, hi, step := 0.0, maxPower, 1.0
		ranged := false
		for k, val := range v {
			switch k {
			case "range":
				bounds, ok := val.([]any)
				if !ok || len(bounds) != 2 {
					return nil, fmt.Errorf("controlled power range: expected [min, max], got %v", val)
				}
				var err error
				if lo, err = feeder.ToFloat(bounds[0]); err != nil {
					return nil, err
				}
				if hi, err = feeder.ToFloat(bounds[1]); err != nil {
					return nil, err
				}
				ranged = true
			case "step":
				f, err := feeder.ToFloat(val)
				if err != nil || f <= 0 {
					return nil, fmt.Errorf("controlled power step %v: must be positive", val)
				}
				step = f
				ranged = true
			default:
				cmd, err := feeder.ToFloat(k)
				if err != nil {
					return nil, fmt.Errorf("controlled power command %q: %w", k, err)
				}
				p, err := feeder.ToFloat(val)
				if err != nil {
					return nil, fmt.Errorf("controlled power %q: %w", k, err)
				}
				levels = append(levels, PowerLevel{Command: cmd, Power: p})
			}
		}
		if ranged || len(levels) == 0 {
			if hi <= lo {
				return nil, fmt.Errorf("controlled power range [%g, %g] is empty", lo, hi)
			}
			if (hi-lo)/step >= MaxControlledPowerValues {
				return nil, fmt.Errorf("controlled power range [%g, %g] step %g exceeds %d values", lo, hi, step, MaxControlledPowerValues)
			}
			for c := lo; c < hi; c += step {
				levels = append(levels, PowerLevel{Command: c, Power: c})
			}
		}
	default:
		return nil, fmt.Errorf("controlled power values: unsupported %T", raw)
	}
	if len(levels) > MaxControlledPowerValues {
		return nil, fmt.Errorf("%d controlled power values exceed %d", len(levels), MaxControlledPowerValues)
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i].Power < levels[j].Power })
	return levels, nil
}
