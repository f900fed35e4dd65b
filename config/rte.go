package config

import (
	"fmt"
	"strings"
)

// TempoConfig selects where Tempo day colours come from.
type TempoConfig struct {
	// Mode is one of public, rte, mock, static or empty (no provider).
	Mode           string        `json:"mode"`
	APIURL         string        `json:"api_url"`
	// Static is the colour returned in static mode.
	Static         string        `json:"static"`
	ClientID       string        `json:"client_id"`
	ClientSecret   string        `json:"client_secret"`
	TokenURL       string        `json:"token_url"`
	TimeoutSeconds int           `json:"timeout_seconds"`
	Mock           RTEMockConfig `json:"mock"`
}

// RTEMockConfig configures the local Tempo colour server.
type RTEMockConfig struct {
	Address string `json:"address"`
	// Seed drives the generated calendar.
	Seed int64 `json:"seed"`
	// Colors pins the colour of given days (YYYY-MM-DD).
	Colors map[string]string `json:"colors"`
}

// SetDefaults applies fallback values for optional fields.
func (c *TempoConfig) SetDefaults() {
	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 10
	}
	if c.Mode == "mock" && c.Mock.Address == "" {
		c.Mock.Address = "127.0.0.1:8091"
	}
	if c.Mock.Seed == 0 {
		c.Mock.Seed = 1
	}
}

// Validate checks the mode and its mandatory fields.
func (c TempoConfig) Validate() error {
	switch c.Mode {
	case "", "public", "mock":
		return nil
	case "static":
		if c.Static == "" {
			return fmt.Errorf("tempo: static mode requires a colour")
		}
		return nil
	case "rte":
		if c.ClientID == "" || c.ClientSecret == "" {
			return fmt.Errorf("tempo: rte mode requires client_id and client_secret")
		}
		return nil
	}
	return fmt.Errorf("tempo: unknown mode %q", c.Mode)
}
