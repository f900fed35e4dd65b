package config

import (
	"fmt"
	"time"

	"github.com/kilianp07/hems/core/controller"
)

// ServerConfig tunes the control loop.
type ServerConfig struct {
	LoopDelaySeconds      float64 `json:"loop_delay_seconds"`
	MinLoopSeconds        float64 `json:"min_loop_seconds"`
	AllowSleep            bool    `json:"allow_sleep"`
	RefreshTimeoutSeconds float64 `json:"refresh_timeout_seconds"`
	// Timezone is an IANA name; empty keeps the local zone.
	Timezone string `json:"timezone"`
}

func (c *ServerConfig) SetDefaults() {
	if c.LoopDelaySeconds == 0 {
		c.LoopDelaySeconds = 30
	}
	if c.MinLoopSeconds == 0 {
		c.MinLoopSeconds = 1
	}
	if c.RefreshTimeoutSeconds == 0 {
		c.RefreshTimeoutSeconds = 300
	}
}

func (c ServerConfig) Validate() error {
	if c.LoopDelaySeconds <= 0 || c.MinLoopSeconds <= 0 {
		return fmt.Errorf("loop delays must be positive")
	}
	if c.MinLoopSeconds > c.LoopDelaySeconds {
		return fmt.Errorf("min_loop_seconds > loop_delay_seconds")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location loads Timezone.
func (c ServerConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// Controller converts the section into loop settings.
func (c ServerConfig) Controller() controller.Config {
	return controller.Config{
		LoopDelay:      seconds(c.LoopDelaySeconds),
		MinLoop:        seconds(c.MinLoopSeconds),
		AllowSleep:     c.AllowSleep,
		RefreshTimeout: seconds(c.RefreshTimeoutSeconds),
	}
}

func seconds(s float64) time.Duration { return time.Duration(s * float64(time.Second)) }
