package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/hems/api/schedule"
	"github.com/kilianp07/hems/core/decisionlog"
	"github.com/kilianp07/hems/core/metrics"
	"github.com/kilianp07/hems/infra/mqtt"
)

// EnvPrefix starts every environment override: HEMS_MQTT__BROKER sets
// mqtt.broker.
const EnvPrefix = "HEMS_"

// ConfigurationError is fatal at startup.
type ConfigurationError struct {
	Section string
	Err     error
}

func (e *ConfigurationError) Error() string {
	if e.Section == "" {
		return "configuration: " + e.Err.Error()
	}
	return fmt.Sprintf("configuration %s: %v", e.Section, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func configErr(section string, err error) error {
	if err == nil {
		return nil
	}
	var ce *ConfigurationError
	if errors.As(err, &ce) {
		return err
	}
	return &ConfigurationError{Section: section, Err: err}
}

type Config struct {
	Server       ServerConfig       `json:"server"`
	Network      NetworkConfig      `json:"network"`
	Strategies   []map[string]any   `json:"strategies"`
	Contract     ContractConfig     `json:"contract"`
	Tempo        TempoConfig        `json:"tempo"`
	MQTT         mqtt.Config        `json:"mqtt"`
	API          schedule.Config    `json:"api"`
	Logging      LoggingConfig      `json:"logging"`
	DecisionLog  decisionlog.Config `json:"decision_log"`
	Metrics      metrics.Config     `json:"metrics"`
	Sentry       SentryConfig       `json:"sentry"`
	Notification NotificationConfig `json:"notification"`
}

// Load reads a yaml or json file, applies environment overrides, then
// defaults, and validates every section.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, configErr("", fmt.Errorf("unsupported config format: %s", ext))
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, configErr("", err)
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), strings.ToLower(EnvPrefix))
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, configErr("", err)
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, configErr("", err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults applies the defaults of every section.
func (c *Config) SetDefaults() {
	c.Server.SetDefaults()
	c.Network.SetDefaults()
	c.Tempo.SetDefaults()
	if c.Network.Driver == DriverMQTT {
		c.MQTT.SetDefaults()
	}
	c.API.SetDefaults()
	c.Logging.SetDefaults()
	c.DecisionLog.SetDefaults()
	c.Sentry.SetDefaults()
	c.Notification.SetDefaults()
}

// Validate returns the first invalid section as a ConfigurationError.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return configErr("server", err)
	}
	if err := c.Network.Validate(); err != nil {
		return configErr("network", err)
	}
	if len(c.Strategies) == 0 {
		return configErr("strategies", errors.New("at least one strategy is required"))
	}
	for i, s := range c.Strategies {
		if _, ok := s["class"]; !ok {
			return configErr("strategies", fmt.Errorf("strategy #%d: missing mandatory 'class' attribute", i))
		}
	}
	if err := c.Tempo.Validate(); err != nil {
		return configErr("tempo", err)
	}
	if c.Network.Driver == DriverMQTT {
		if err := c.MQTT.Validate(); err != nil {
			return configErr("mqtt", err)
		}
	}
	if err := c.Logging.Validate(); err != nil {
		return configErr("logging", err)
	}
	if err := c.DecisionLog.Validate(); err != nil {
		return configErr("decision_log", err)
	}
	for i, s := range c.Metrics.Sinks {
		if s.Type == "" {
			return configErr("metrics", fmt.Errorf("sink #%d: missing type", i))
		}
	}
	if err := c.Sentry.Validate(); err != nil {
		return configErr("sentry", err)
	}
	return nil
}
