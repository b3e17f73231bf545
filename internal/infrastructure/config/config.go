package config

import "time"

// Config is the cuebox configuration: config.yaml over Default, then the
// CUEBOX_* environment variables on top.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Library   LibraryConfig   `yaml:"library"`
	Queue     QueueConfig     `yaml:"queue"`
	Clock     ClockConfig     `yaml:"clock"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// SiteConfig contains installation-specific information.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// LibraryConfig locates the profile and automation definitions.
type LibraryConfig struct {
	ProfilesDir    string `yaml:"profiles_dir"`
	AutomationsDir string `yaml:"automations_dir"`

	// VariablesFile declares user variables (optional).
	VariablesFile string `yaml:"variables_file"`

	// Watch reloads definitions when their files change.
	Watch bool `yaml:"watch"`

	// Debounce is the quiet period before a changed file is re-read (milliseconds).
	Debounce int `yaml:"debounce"`
}

// QueueConfig contains automation queue settings.
type QueueConfig struct {
	// SyncGap is the pause between consecutive sync automations (milliseconds).
	SyncGap int `yaml:"sync_gap"`

	// ShutdownTimeout bounds how long shutdown waits for running automations (seconds).
	ShutdownTimeout int `yaml:"shutdown_timeout"`
}

// ClockConfig contains clock plugin settings.
type ClockConfig struct {
	Enabled bool `yaml:"enabled"`

	// Interval is how often clock state is refreshed (seconds).
	Interval int `yaml:"interval"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`

	// TopicPrefix is the namespace for everything cuebox publishes.
	TopicPrefix string `yaml:"topic_prefix"`

	// MirrorState publishes every state change under <prefix>/state/<plugin>/<key>.
	MirrorState bool `yaml:"mirror_state"`

	// Bindings feed MQTT topics into mqtt plugin state.
	Bindings []MQTTBinding `yaml:"bindings"`
}

// MQTTBinding maps one topic to one state key of the mqtt plugin.
type MQTTBinding struct {
	Topic string `yaml:"topic"`
	Key   string `yaml:"key"`

	// Type is the state type: number, string, boolean, or empty for any.
	Type string `yaml:"type"`

	// Field extracts one top-level field from a JSON payload (optional).
	Field string `yaml:"field"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings.
// An empty secret disables API authentication.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Site: SiteConfig{
			ID:       "cuebox",
			Name:     "cuebox",
			Timezone: "Local",
		},
		Library: LibraryConfig{
			ProfilesDir:    "./library/profiles",
			AutomationsDir: "./library/automations",
			Watch:          true,
			Debounce:       200,
		},
		Queue: QueueConfig{
			SyncGap:         30,
			ShutdownTimeout: 10,
		},
		Clock: ClockConfig{
			Enabled:  true,
			Interval: 15,
		},
		Database: DatabaseConfig{
			Path:        "./data/cuebox.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "cuebox",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
			TopicPrefix: "cuebox",
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8420,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/api/v1/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 60,
			},
		},
	}
}

// ─── Durations ──────────────────────────────────────────────────────────────
//
// The YAML carries plain integers; these convert them with their units.

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }
func millis(n int) time.Duration  { return time.Duration(n) * time.Millisecond }

func (a APIConfig) ReadTimeout() time.Duration  { return seconds(a.Timeouts.Read) }
func (a APIConfig) WriteTimeout() time.Duration { return seconds(a.Timeouts.Write) }
func (a APIConfig) IdleTimeout() time.Duration  { return seconds(a.Timeouts.Idle) }

func (c *Config) GetShutdownTimeout() time.Duration { return seconds(c.Queue.ShutdownTimeout) }
func (c *Config) GetClockInterval() time.Duration   { return seconds(c.Clock.Interval) }

// GetSyncGap is the pause between sync automations.
func (c *Config) GetSyncGap() time.Duration { return millis(c.Queue.SyncGap) }

// GetDebounce is the library watcher's quiet period.
func (c *Config) GetDebounce() time.Duration { return millis(c.Library.Debounce) }
