// Package scenarios replays YAML home scenarios against the control loop
// with an in-memory home-automation server and a virtual clock.
package scenarios

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const startLayout = "2006-01-02T15:04"

// ScheduleDef is a schedule set on a load before a step runs. Timeout is
// an absolute time in startLayout, empty for none.
type ScheduleDef struct {
	DurationMinutes int    `yaml:"duration_minutes"`
	Timeout         string `yaml:"timeout,omitempty"`
}

// Step advances the clock, applies its inputs then runs one cycle.
type Step struct {
	AdvanceMinutes int                    `yaml:"advance_minutes"`
	Values         map[string]any         `yaml:"values,omitempty"`
	Schedules      map[string]ScheduleDef `yaml:"schedules,omitempty"`
	Refuse         []string               `yaml:"refuse,omitempty"`
	Expect         map[string]bool        `yaml:"expect,omitempty"`
	// ExpectRemaining checks the remaining schedule of loads, in minutes.
	ExpectRemaining   map[string]int `yaml:"expect_remaining,omitempty"`
	ExpectDeactivated []string       `yaml:"expect_deactivated,omitempty"`
}

// Scenario is a home, its strategies and the steps replayed on it.
// Switch nodes read their state and power from the fake entities
// "<id>_on" and "<id>_power" unless configured otherwise. The grid power
// is recomputed every cycle from BaseLoad, the switched loads and
// SolarEntity.
type Scenario struct {
	Name        string           `yaml:"name"`
	Description string           `yaml:"description,omitempty"`
	Start       string           `yaml:"start"`
	LoopSeconds int              `yaml:"loop_seconds,omitempty"`
	BaseLoad    float64          `yaml:"base_load,omitempty"`
	SolarEntity string           `yaml:"solar_entity,omitempty"`
	Values      map[string]any   `yaml:"values,omitempty"`
	Nodes       []map[string]any `yaml:"nodes"`
	Strategies  []map[string]any `yaml:"strategies"`
	Steps       []Step           `yaml:"steps"`
}

// Load reads and checks a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, err
	}
	if sc.Name == "" {
		return nil, fmt.Errorf("%s: missing name", path)
	}
	if _, err := sc.StartTime(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(sc.Steps) == 0 {
		return nil, fmt.Errorf("%s: no steps", path)
	}
	return &sc, nil
}

// StartTime is the virtual time of the first step, in UTC.
func (sc *Scenario) StartTime() (time.Time, error) {
	t, err := time.ParseInLocation(startLayout, sc.Start, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("start: %w", err)
	}
	return t, nil
}

// LoopDelay defaults to one minute.
func (sc *Scenario) LoopDelay() time.Duration {
	if sc.LoopSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(sc.LoopSeconds) * time.Second
}

func (d ScheduleDef) timeout() (time.Time, error) {
	if d.Timeout == "" {
		return time.Time{}, nil
	}
	return time.ParseInLocation(startLayout, d.Timeout, time.UTC)
}
