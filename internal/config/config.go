// Package config loads and validates the declarative YAML configuration
// described in the specification: global scan settings, datasources,
// alert channels, and alert groups.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// GlobalConfig holds scan-engine-wide settings.
type GlobalConfig struct {
	AlertCooldownMinutes int    `yaml:"alert_cooldown_minutes"`
	LogLevel             string `yaml:"log_level"`
	MaxHistory           int    `yaml:"max_history"`
}

// DataSourceConfig describes one configured datasource. Fields beyond
// the common ones are backend-specific and are carried in Options so
// each variant constructor can pull out what it recognizes.
type DataSourceConfig struct {
	Type       string                 `yaml:"type"`
	Enabled    bool                   `yaml:"enabled"`
	Interval   int                    `yaml:"interval"`
	Timeout    int                    `yaml:"timeout"`
	MaxRetries int                    `yaml:"max_retries"`
	Options    map[string]interface{} `yaml:",inline"`
}

// ChannelConfig describes one configured alert channel.
type ChannelConfig struct {
	Type    string                 `yaml:"type"`
	Options map[string]interface{} `yaml:",inline"`
}

// ThresholdConfig is the raw max/min predicate from YAML.
type ThresholdConfig struct {
	Max *float64 `yaml:"max"`
	Min *float64 `yaml:"min"`
}

// AlertConfig is one alert definition as read from YAML.
type AlertConfig struct {
	Name          string          `yaml:"name"`
	Metric        string          `yaml:"metrics"`
	Query         string          `yaml:"query"`
	Datasource    string          `yaml:"datasource"`
	Threshold     ThresholdConfig `yaml:"threshold"`
	Severity      string          `yaml:"severity"`
	Interval      int             `yaml:"interval"`
	AlertChannels []string        `yaml:"alert_channels"`
	Description   string          `yaml:"description"`
	Enabled       *bool           `yaml:"enabled"`
}

// AlertGroupConfig groups related alerts under a shared label.
type AlertGroupConfig struct {
	Enabled *bool         `yaml:"enabled"`
	Alerts  []AlertConfig `yaml:"alerts"`
}

// Config is the top-level PySentinel configuration document.
type Config struct {
	Global        GlobalConfig                 `yaml:"global"`
	DataSources   map[string]DataSourceConfig  `yaml:"datasources"`
	AlertChannels map[string]ChannelConfig     `yaml:"alert_channels"`
	AlertGroups   map[string]AlertGroupConfig  `yaml:"alert_groups"`
}

// Load reads and parses the YAML configuration at path, applying
// defaults and validating the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Global.AlertCooldownMinutes == 0 {
		c.Global.AlertCooldownMinutes = 5
	}
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = "info"
	}
	if c.Global.MaxHistory == 0 {
		c.Global.MaxHistory = 1000
	}

	for name, ds := range c.DataSources {
		if ds.Interval == 0 {
			ds.Interval = 60
		}
		if ds.Timeout == 0 {
			ds.Timeout = 30
		}
		if ds.MaxRetries == 0 {
			ds.MaxRetries = 5
		}
		c.DataSources[name] = ds
	}
}

// Validate checks the configuration for structural errors that would
// otherwise surface as confusing failures deep inside the scan loop.
func (c *Config) Validate() error {
	if c.Global.AlertCooldownMinutes < 0 {
		return fmt.Errorf("global.alert_cooldown_minutes must be >= 0")
	}

	for name, ds := range c.DataSources {
		switch ds.Type {
		case "postgresql", "http", "redis", "prometheus", "elasticsearch":
		default:
			return fmt.Errorf("datasource %q: unrecognized type %q", name, ds.Type)
		}
	}

	for name, ch := range c.AlertChannels {
		switch ch.Type {
		case "email", "slack", "webhook", "telegram":
		default:
			return fmt.Errorf("channel %q: unrecognized type %q", name, ch.Type)
		}
	}

	seen := make(map[string]bool)
	for groupName, group := range c.AlertGroups {
		for _, alert := range group.Alerts {
			if alert.Name == "" {
				return fmt.Errorf("alert group %q: alert missing name", groupName)
			}
			if seen[alert.Name] {
				return fmt.Errorf("duplicate alert name %q", alert.Name)
			}
			seen[alert.Name] = true
		}
	}

	return nil
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)
var vaultPattern = regexp.MustCompile(`^vault://(.+)$`)

// SecretResolver resolves a secret-store key to its plaintext value.
type SecretResolver interface {
	Resolve(key string) (string, error)
}

var secretResolver SecretResolver

// SetSecretResolver installs the resolver ExpandEnv consults for
// "vault://<key>" values. Passing nil disables vault-backed resolution;
// unresolvable or absent-resolver vault references are left untouched,
// matching ${VAR}'s "missing variable leaves the literal unchanged"
// behavior.
func SetSecretResolver(r SecretResolver) {
	secretResolver = r
}

// ExpandEnv resolves ${VAR} references in s against the process
// environment, leaving any unresolved reference untouched. Expansion is
// performed fresh on each call rather than mutating stored config, per
// the specification's open question on env-var expansion mutation.
// Values of the form "vault://<key>" are instead resolved against the
// installed SecretResolver, if any.
func ExpandEnv(s string) string {
	if m := vaultPattern.FindStringSubmatch(s); m != nil && secretResolver != nil {
		if v, err := secretResolver.Resolve(m[1]); err == nil {
			return v
		}
		return s
	}

	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envPattern.FindStringSubmatch(match)[1]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return match
	})
}

// CooldownDuration returns the configured cooldown as a time.Duration.
func (g GlobalConfig) CooldownDuration() time.Duration {
	return time.Duration(g.AlertCooldownMinutes) * time.Minute
}
