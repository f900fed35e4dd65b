package config

import (
	"fmt"
	"strings"
)

// Network drivers.
const (
	DriverFake = "fake"
	DriverMQTT = "mqtt"
)

// NetworkConfig lists the nodes of the home and where their values come
// from.
type NetworkConfig struct {
	Driver string           `json:"driver"`
	Nodes  []map[string]any `json:"nodes"`
	// Defaults are per node class values merged under each node.
	Defaults map[string]map[string]any `json:"defaults"`
}

func (c *NetworkConfig) SetDefaults() {
	c.Driver = strings.ToLower(c.Driver)
	if c.Driver == "" {
		c.Driver = DriverFake
	}
}

func (c NetworkConfig) Validate() error {
	if c.Driver != DriverFake && c.Driver != DriverMQTT {
		return fmt.Errorf("unknown driver %q", c.Driver)
	}
	if len(c.Nodes) == 0 {
		return fmt.Errorf("no nodes configured")
	}
	for i, n := range c.Nodes {
		if _, ok := n["id"]; !ok {
			return fmt.Errorf("node #%d: missing mandatory 'id' attribute", i)
		}
		if _, ok := n["class"]; !ok {
			return fmt.Errorf("node #%d: missing mandatory 'class' attribute", i)
		}
	}
	return nil
}

// ContractConfig holds per contract class defaults merged under every grid
// contract block.
type ContractConfig struct {
	Defaults map[string]map[string]any `json:"defaults"`
}

// NotificationConfig controls how user notifications are batched.
type NotificationConfig struct {
	// Direct sends every notification as is, without compaction.
	Direct bool `json:"direct"`
}

func (c *NotificationConfig) SetDefaults() {}
