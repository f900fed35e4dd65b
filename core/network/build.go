package network

import (
	"fmt"
	"strings"

	"github.com/kilianp07/hems/core/contract"
	"github.com/kilianp07/hems/core/factory"
	"github.com/kilianp07/hems/core/feeder"
)

// Node classes accepted in configuration.
const (
	ClassSwitch          = "switch"
	ClassPublicPowerGrid = "publicpowergrid"
	ClassSolarPanel      = "solarpanel"
	ClassBattery         = "battery"
)

// NodeConfig is one entry of network.nodes. Power fields accept a number
// (constant) or an entity id.
type NodeConfig struct {
	ID           string `json:"id"`
	Class        string `json:"class"`
	CurrentPower any    `json:"current_power"`
	MaxPower     any    `json:"max_power"`
	MinPower     any    `json:"min_power"`
	MarginPower  any    `json:"margin_power"`

	// switch
	IsOn                      any            `json:"is_on"`
	Priority                  *int           `json:"priority"`
	Strategy                  string         `json:"strategy"`
	NbCycleWithoutPowerForOff int            `json:"nb_cycle_without_power_for_off"`
	Constraints               map[string]any `json:"constraints"`
	ControlledPower           string         `json:"controlled_power"`
	ControlledPowerValues     any            `json:"controlled_power_values"`

	// public power grid
	Contract map[string]any `json:"contract"`

	// solar panel
	ModuleModel        string  `json:"module_model"`
	InverterModel      string  `json:"inverter_model"`
	Tilt               float64 `json:"tilt"`
	Azimuth            float64 `json:"azimuth"`
	ModulesPerString   int     `json:"modules_per_string"`
	StringsPerInverter int     `json:"strings_per_inverter"`

	// battery
	Capacity      any     `json:"capacity"`
	CurrentLevel  any     `json:"current_level"`
	MaxPowerIn    any     `json:"max_power_in"`
	MaxPowerOut   any     `json:"max_power_out"`
	LowLevel      float64 `json:"low_level"`
	HighLevel     float64 `json:"high_level"`
	TargetLevel   float64 `json:"target_level"`
	EfficiencyIn  float64 `json:"efficiency_in"`
	EfficiencyOut float64 `json:"efficiency_out"`
}

// BuiltinDefaults are applied under the per-class defaults of the
// configuration.
var BuiltinDefaults = map[string]map[string]any{
	ClassPublicPowerGrid: {"margin_power": PowerMargin, "min_power": 0},
	ClassSolarPanel:      {"margin_power": 0},
	ClassSwitch:          {"nb_cycle_without_power_for_off": 1},
	ClassBattery:         {"current_power": 0},
}

// ContractBuilder creates the contract of a public power grid.
type ContractBuilder func(conf map[string]any) (contract.Contract, error)

// Builder turns node configuration into nodes.
type Builder struct {
	Provider feeder.Provider
	Defaults map[string]map[string]any
	Contract ContractBuilder
}

// Build creates every node of confs and adds it to n. A node that fails is
// skipped; its error is returned among the warnings so the rest of the home
// keeps being managed.
func (b Builder) Build(n *Network, confs []map[string]any) (warnings []error) {
	for i, raw := range confs {
		node, err := b.BuildNode(i, raw)
		if err == nil {
			err = n.Add(node)
		}
		if err != nil {
			n.logger.Errorf("impossible to load node #%d: %v", i, err)
			warnings = append(warnings, err)
		}
	}
	return warnings
}

// BuildNode creates one node.
func (b Builder) BuildNode(index int, raw map[string]any) (Node, error) {
	class := strings.ToLower(fmt.Sprint(raw["class"]))
	merged := map[string]any{}
	for k, v := range BuiltinDefaults[class] {
		merged[k] = v
	}
	for k, v := range b.Defaults[class] {
		merged[k] = v
	}
	for k, v := range raw {
		if v == nil || v == "" {
			continue
		}
		merged[k] = v
	}
	var c NodeConfig
	if err := factory.Decode(merged, &c); err != nil {
		return nil, fmt.Errorf("node #%d: %w", index, err)
	}
	if c.ID == "" {
		c.ID = fmt.Sprintf("node_%d", index)
	}
	switch class {
	case ClassSwitch:
		return b.buildSwitch(c)
	case ClassPublicPowerGrid:
		return b.buildGrid(c)
	case ClassSolarPanel:
		return b.buildSolar(c)
	case ClassBattery:
		return b.buildBattery(c)
	}
	return nil, fmt.Errorf("node %s: unknown class %q", c.ID, class)
}

func (b Builder) float(id, key string, raw any, required bool) (feeder.Feeder[float64], error) {
	f, err := feeder.Float(b.Provider, raw)
	if err == nil {
		return f, nil
	}
	if !required && raw == nil {
		return nil, nil
	}
	return nil, fmt.Errorf("node %s: %s: %w", id, key, err)
}

func (b Builder) buildSwitch(c NodeConfig) (Node, error) {
	current, err := b.float(c.ID, "current_power", c.CurrentPower, true)
	if err != nil {
		return nil, err
	}
	maxPower, err := b.float(c.ID, "max_power", c.MaxPower, true)
	if err != nil {
		return nil, err
	}
	if c.IsOn == nil {
		return NewLoad(c.ID, current, maxPower, c.NbCycleWithoutPowerForOff), nil
	}
	isOn, err := feeder.Bool(b.Provider, c.IsOn)
	if err != nil {
		return nil, fmt.Errorf("node %s: is_on: %w", c.ID, err)
	}
	var opts []SwitchOption
	if c.Priority != nil {
		opts = append(opts, WithPriority(*c.Priority))
	}
	if c.Strategy != "" {
		opts = append(opts, WithStrategy(c.Strategy))
	}
	if c.Constraints != nil {
		var cc ConstraintsConfig
		if err := factory.Decode(c.Constraints, &cc); err != nil {
			return nil, fmt.Errorf("node %s: constraints: %w", c.ID, err)
		}
		opts = append(opts, WithConstraints(NewConstraints(cc)))
	}
	if c.ControlledPower != "" {
		maxP, _ := maxPower.Value()
		levels, err := ParsePowerLevels(c.ControlledPowerValues, maxP)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", c.ID, err)
		}
		current := feeder.NewSource(b.Provider, c.ControlledPower, feeder.KindFloat, feeder.ToFloat, 0)
		opts = append(opts, WithControlledPower(c.ControlledPower, current, levels))
	}
	return NewSwitch(c.ID, current, maxPower, isOn, opts...)
}

func (b Builder) buildGrid(c NodeConfig) (Node, error) {
	current, err := b.float(c.ID, "current_power", c.CurrentPower, true)
	if err != nil {
		return nil, err
	}
	maxPower, err := b.float(c.ID, "max_power", c.MaxPower, true)
	if err != nil {
		return nil, err
	}
	minPower, err := b.float(c.ID, "min_power", c.MinPower, false)
	if err != nil {
		return nil, err
	}
	margin, err := b.float(c.ID, "margin_power", c.MarginPower, false)
	if err != nil {
		return nil, err
	}
	var ct contract.Contract
	if c.Contract != nil && b.Contract != nil {
		if ct, err = b.Contract(c.Contract); err != nil {
			return nil, fmt.Errorf("node %s: contract: %w", c.ID, err)
		}
	}
	return NewPublicPowerGrid(c.ID, current, maxPower, minPower, margin, ct), nil
}

func (b Builder) buildSolar(c NodeConfig) (Node, error) {
	current, err := b.float(c.ID, "current_power", c.CurrentPower, true)
	if err != nil {
		return nil, err
	}
	peak, err := b.float(c.ID, "max_power", c.MaxPower, false)
	if err != nil {
		return nil, err
	}
	margin, err := b.float(c.ID, "margin_power", c.MarginPower, false)
	if err != nil {
		return nil, err
	}
	p := NewSolarPanel(c.ID, current, peak, margin)
	p.ModuleModel = c.ModuleModel
	p.InverterModel = c.InverterModel
	if c.Tilt != 0 {
		p.Tilt = c.Tilt
	}
	if c.Azimuth != 0 {
		p.Azimuth = c.Azimuth
	}
	if c.ModulesPerString > 0 {
		p.ModulesPerString = c.ModulesPerString
	}
	if c.StringsPerInverter > 0 {
		p.StringsPerInverter = c.StringsPerInverter
	}
	return p, nil
}

func (b Builder) buildBattery(c NodeConfig) (Node, error) {
	current, err := b.float(c.ID, "current_power", c.CurrentPower, true)
	if err != nil {
		return nil, err
	}
	capacity, err := b.float(c.ID, "capacity", c.Capacity, false)
	if err != nil {
		return nil, err
	}
	level, err := b.float(c.ID, "current_level", c.CurrentLevel, false)
	if err != nil {
		return nil, err
	}
	maxIn, err := b.float(c.ID, "max_power_in", c.MaxPowerIn, false)
	if err != nil {
		return nil, err
	}
	maxOut, err := b.float(c.ID, "max_power_out", c.MaxPowerOut, false)
	if err != nil {
		return nil, err
	}
	bat := NewBattery(c.ID, capacity, current, level, maxIn, maxOut)
	setIf := func(dst *float64, v float64) {
		if v != 0 {
			*dst = v
		}
	}
	setIf(&bat.LowLevel, c.LowLevel)
	setIf(&bat.HighLevel, c.HighLevel)
	setIf(&bat.TargetLevel, c.TargetLevel)
	setIf(&bat.EfficiencyIn, c.EfficiencyIn)
	setIf(&bat.EfficiencyOut, c.EfficiencyOut)
	return bat, nil
}
