package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML file at path over Default, applies the CUEBOX_*
// environment overrides and validates the result.
//
// Parameters:
//   - path: Path to config.yaml
//
// Returns:
//   - *Config: Validated configuration
//   - error: If the file is unreadable or malformed, an override does not
//     parse, or validation fails
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// envOverride sets one field from one environment variable.
type envOverride struct {
	name string
	set  func(c *Config, v string) error
}

func setString(field func(c *Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*field(c) = v
		return nil
	}
}

func setInt(field func(c *Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%q is not an integer", v)
		}
		*field(c) = n
		return nil
	}
}

func setBool(field func(c *Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%q is not a boolean", v)
		}
		*field(c) = b
		return nil
	}
}

// envOverrides lists the supported variables. Secrets belong here rather
// than in config.yaml.
var envOverrides = []envOverride{
	{"CUEBOX_SITE_TIMEZONE", setString(func(c *Config) *string { return &c.Site.Timezone })},
	{"CUEBOX_PROFILES_DIR", setString(func(c *Config) *string { return &c.Library.ProfilesDir })},
	{"CUEBOX_AUTOMATIONS_DIR", setString(func(c *Config) *string { return &c.Library.AutomationsDir })},
	{"CUEBOX_DATABASE_PATH", setString(func(c *Config) *string { return &c.Database.Path })},
	{"CUEBOX_MQTT_ENABLED", setBool(func(c *Config) *bool { return &c.MQTT.Enabled })},
	{"CUEBOX_MQTT_HOST", setString(func(c *Config) *string { return &c.MQTT.Broker.Host })},
	{"CUEBOX_MQTT_USERNAME", setString(func(c *Config) *string { return &c.MQTT.Auth.Username })},
	{"CUEBOX_MQTT_PASSWORD", setString(func(c *Config) *string { return &c.MQTT.Auth.Password })},
	{"CUEBOX_API_HOST", setString(func(c *Config) *string { return &c.API.Host })},
	{"CUEBOX_API_PORT", setInt(func(c *Config) *int { return &c.API.Port })},
	{"CUEBOX_INFLUXDB_TOKEN", setString(func(c *Config) *string { return &c.InfluxDB.Token })},
	{"CUEBOX_LOG_LEVEL", setString(func(c *Config) *string { return &c.Logging.Level })},
	{"CUEBOX_JWT_SECRET", setString(func(c *Config) *string { return &c.Security.JWT.Secret })},
}

// applyEnvOverrides applies every set, non-empty override. A value that
// does not parse leaves its field alone and is reported.
func applyEnvOverrides(cfg *Config) error {
	var errs []error
	for _, o := range envOverrides {
		v := os.Getenv(o.name)
		if v == "" {
			continue
		}
		if err := o.set(cfg, v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", o.name, err))
		}
	}
	return errors.Join(errs...)
}
