package config

import (
	"fmt"
	"slices"
	"strings"
)

// minJWTSecretLength applies to non-empty secrets; an empty one disables auth.
const minJWTSecretLength = 32

var (
	bindingTypes = []string{"", "number", "string", "boolean"}
	logLevels    = []string{"debug", "info", "warn", "warning", "error"}
	logFormats   = []string{"text", "json"}
	logOutputs   = []string{"stdout", "stderr", "discard"}
)

// problems collects validation failures so one run reports them all.
type problems []string

func (p *problems) require(ok bool, format string, args ...any) {
	if !ok {
		*p = append(*p, fmt.Sprintf(format, args...))
	}
}

// Validate checks the configuration.
//
// Returns:
//   - error: Every problem found, joined, or nil
func (c *Config) Validate() error {
	var p problems

	p.require(c.Site.ID != "", "site.id is required")

	p.require(c.Library.ProfilesDir != "", "library.profiles_dir is required")
	p.require(c.Library.AutomationsDir != "", "library.automations_dir is required")
	p.require(c.Library.Debounce >= 0, "library.debounce cannot be negative")

	p.require(c.Queue.SyncGap >= 0, "queue.sync_gap cannot be negative")
	p.require(c.Queue.ShutdownTimeout >= 1, "queue.shutdown_timeout must be at least 1 second")

	p.require(!c.Clock.Enabled || c.Clock.Interval >= 1, "clock.interval must be at least 1 second")

	p.require(c.Database.Path != "", "database.path is required")

	c.MQTT.validate(&p)

	p.require(c.API.Port >= 1 && c.API.Port <= 65535, "api.port must be between 1 and 65535")
	p.require(!c.API.TLS.Enabled || (c.API.TLS.CertFile != "" && c.API.TLS.KeyFile != ""),
		"api.tls needs cert_file and key_file when enabled")

	p.require(!c.InfluxDB.Enabled || (c.InfluxDB.URL != "" && c.InfluxDB.Bucket != ""),
		"influxdb.url and influxdb.bucket are required when influxdb is enabled")

	p.require(oneOf(c.Logging.Level, logLevels), "logging.level %q is not one of %s", c.Logging.Level, strings.Join(logLevels, ", "))
	p.require(oneOf(c.Logging.Format, logFormats), "logging.format %q is not text or json", c.Logging.Format)
	p.require(oneOf(c.Logging.Output, logOutputs), "logging.output %q is not stdout, stderr or discard", c.Logging.Output)

	s := c.Security.JWT.Secret
	p.require(s == "" || len(s) >= minJWTSecretLength,
		"security.jwt.secret must be at least %d characters", minJWTSecretLength)

	if len(p) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(p, "; "))
	}
	return nil
}

func (m MQTTConfig) validate(p *problems) {
	p.require(m.QoS >= 0 && m.QoS <= 2, "mqtt.qos must be 0, 1, or 2")
	if !m.Enabled {
		return
	}
	p.require(m.Broker.Host != "", "mqtt.broker.host is required when mqtt is enabled")
	p.require(m.Reconnect.MaxAttempts >= 0, "mqtt.reconnect.max_attempts cannot be negative")
	for i, b := range m.Bindings {
		p.require(b.Topic != "" && b.Key != "", "mqtt.bindings[%d] needs a topic and a key", i)
		p.require(slices.Contains(bindingTypes, b.Type),
			"mqtt.bindings[%d].type %q is not number, string or boolean", i, b.Type)
	}
}

// oneOf matches v case-insensitively. Empty values fall back to defaults
// downstream and are accepted.
func oneOf(v string, allowed []string) bool {
	if v == "" {
		return true
	}
	return slices.Contains(allowed, strings.ToLower(v))
}
