package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds parameters for the simulator.
type Config struct {
	Broker        string
	StatePrefix   string
	CommandPrefix string
	AckTopic      string
	Interval      time.Duration
	AckLatency    time.Duration
	DropRate      float64
	HomeFile      string
	ProfileFile   string
	Verbose       bool

	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string
}

// Validate checks the flags.
func (c *Config) Validate() error {
	if c.Broker == "" {
		return fmt.Errorf("broker is required")
	}
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive")
	}
	if c.DropRate < 0 || c.DropRate > 1 {
		return fmt.Errorf("drop-rate must be within [0,1]")
	}
	if c.StatePrefix == "" || c.CommandPrefix == "" {
		return fmt.Errorf("state and command prefixes are required")
	}
	return nil
}

// LoadDef is one simulated switchable load.
type LoadDef struct {
	ID       string  `yaml:"id"`
	MaxPower float64 `yaml:"max_power"`
	On       bool    `yaml:"on"`
}

// BatteryDef is the optional home battery.
type BatteryDef struct {
	CapacityWh float64 `yaml:"capacity_wh"`
	Level      float64 `yaml:"level"`
	MaxIn      float64 `yaml:"max_power_in"`
	MaxOut     float64 `yaml:"max_power_out"`
}

// HomeDef describes the simulated home.
type HomeDef struct {
	Loads     []LoadDef   `yaml:"loads"`
	SolarPeak float64     `yaml:"solar_peak"`
	Battery   *BatteryDef `yaml:"battery"`
}

func defaultHome() HomeDef {
	return HomeDef{
		Loads: []LoadDef{
			{ID: "boiler", MaxPower: 2000},
			{ID: "dishwasher", MaxPower: 1200},
			{ID: "washing_machine", MaxPower: 1500},
		},
		SolarPeak: 3000,
	}
}

func readHomeFile(path string) (HomeDef, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return HomeDef{}, err
	}
	var h HomeDef
	if err := yaml.Unmarshal(data, &h); err != nil {
		return HomeDef{}, err
	}
	for i, l := range h.Loads {
		if l.ID == "" || l.MaxPower <= 0 {
			return HomeDef{}, fmt.Errorf("load #%d: id and positive max_power are required", i)
		}
	}
	return h, nil
}
