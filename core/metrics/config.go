package metrics

import "github.com/kilianp07/hems/core/factory"

// Config defines settings for metrics sinks.
type Config struct {
	Sinks []factory.ModuleConfig `json:"sinks"`
	// Addr serves /metrics when a prometheus sink is configured.
	Addr string `json:"addr"`
}
