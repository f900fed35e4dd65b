package network

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ConstraintsConfig is the configuration block of ApplianceConstraints.
// Zero values disable a constraint.
type ConstraintsConfig struct {
	MinPower       float64       `json:"min_power"`
	MinPowerDelay  time.Duration `json:"min_power_delay"`
	MaxPower       float64       `json:"max_power"`
	MinDurationOn  time.Duration `json:"min_duration_on"`
	MinDurationOff time.Duration `json:"min_duration_off"`
	MaxDurationOn  time.Duration `json:"max_duration_on"`
	MaxDurationOff time.Duration `json:"max_duration_off"`
}

// Constraints guard one Switch. Counters reset on every confirmed
// transition.
type Constraints struct {
	ConstraintsConfig

	node             *Switch
	known            bool
	on               bool
	duration         time.Duration
	minPowerDuration time.Duration
}

// NewConstraints wraps cfg.
func NewConstraints(cfg ConstraintsConfig) *Constraints {
	return &Constraints{ConstraintsConfig: cfg}
}

// Duration returns the time spent in the current state.
func (c *Constraints) Duration() time.Duration { return c.duration }

// allow checks hysteresis before a requested transition.
func (c *Constraints) allow(on bool) error {
	if !c.known || c.on == on {
		return nil
	}
	if c.on && c.MinDurationOn > 0 && c.duration < c.MinDurationOn {
		return &ConstraintsError{Node: c.node.ID(), Constraint: "minDurationOn", Limit: c.MinDurationOn, Value: c.duration}
	}
	if !c.on && c.MinDurationOff > 0 && c.duration < c.MinDurationOff {
		return &ConstraintsError{Node: c.node.ID(), Constraint: "minDurationOff", Limit: c.MinDurationOff, Value: c.duration}
	}
	return nil
}

// transition records the confirmed state.
func (c *Constraints) transition(on bool) {
	if c.known && c.on == on {
		return
	}
	c.known = true
	c.on = on
	c.duration = 0
	c.minPowerDuration = 0
}

// Decrement advances the counters by elapsed and enforces power and
// maximum-duration bounds, forcing a transition when one is exceeded.
// The returned error describes every violated bound.
func (c *Constraints) Decrement(elapsed time.Duration) error {
	isOn := c.node.IsOn()
	switch {
	case !c.known:
		c.transition(isOn)
	case isOn != c.on && (c.node.lastCycle == 0 || c.node.externallyToggled(isOn)):
		// toggled outside of hems
		c.transition(isOn)
	default:
		c.duration += elapsed
	}
	var violations []error
	if c.on && (c.MinPower > 0 || c.MaxPower > 0) {
		power, err := c.node.CurrentPower()
		if err != nil {
			violations = append(violations, fmt.Errorf("node %s: current power: %w", c.node.ID(), err))
		} else {
			if c.MaxPower > 0 && power > c.MaxPower {
				violations = append(violations, &ConstraintsError{Node: c.node.ID(), Constraint: "maxPower", Limit: c.MaxPower, Value: power})
				c.force(false)
			} else if c.MinPower > 0 && power < c.MinPower {
				c.minPowerDuration += elapsed
				if c.minPowerDuration > c.MinPowerDelay {
					violations = append(violations, &ConstraintsError{Node: c.node.ID(), Constraint: "minPower", Limit: c.MinPower, Value: power})
					c.force(false)
				}
			} else {
				c.minPowerDuration = 0
			}
		}
	}
	if c.on && c.MaxDurationOn > 0 && c.duration > c.MaxDurationOn {
		violations = append(violations, &ConstraintsError{Node: c.node.ID(), Constraint: "maxDurationOn", Limit: c.MaxDurationOn, Value: c.duration})
		c.force(false)
	} else if !c.on && c.MaxDurationOff > 0 && c.duration > c.MaxDurationOff {
		violations = append(violations, &ConstraintsError{Node: c.node.ID(), Constraint: "maxDurationOff", Limit: c.MaxDurationOff, Value: c.duration})
		c.force(true)
	}
	if len(violations) == 0 {
		return nil
	}
	if len(violations) == 1 {
		return violations[0]
	}
	return errors.Join(violations...)
}

func (c *Constraints) force(on bool) {
	if _, err := c.node.forceSwitch(on); err != nil {
		c.node.log().Warnf("forced switch %s of %s failed: %v", onOff(on), c.node.ID(), err)
	}
}

func (c *Constraints) String() string {
	var parts []string
	add := func(name string, v any, set bool) {
		if set {
			parts = append(parts, fmt.Sprintf("%s=%v", name, v))
		}
	}
	add("minPower", c.MinPower, c.MinPower > 0)
	add("maxPower", c.MaxPower, c.MaxPower > 0)
	add("minDurationOn", c.MinDurationOn, c.MinDurationOn > 0)
	add("minDurationOff", c.MinDurationOff, c.MinDurationOff > 0)
	add("maxDurationOn", c.MaxDurationOn, c.MaxDurationOn > 0)
	add("maxDurationOff", c.MaxDurationOff, c.MaxDurationOff > 0)
	return "Constraints(" + strings.Join(parts, ", ") + ")"
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
