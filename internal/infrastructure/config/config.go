package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the NVR state service.
// It is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	NVR       NVRConfig       `yaml:"nvr"`
	Session   SessionConfig   `yaml:"session"`
	Resync    ResyncConfig    `yaml:"resync"`
	Cache     CacheConfig     `yaml:"cache"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SiteConfig identifies the installation.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// NVRConfig contains the Protect console connection settings.
type NVRConfig struct {
	// URL is the console root, e.g. "https://192.168.1.1".
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// VerifyTLS enables certificate verification. Consoles ship
	// self-signed certificates.
	VerifyTLS bool `yaml:"verify_tls"`

	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// Host returns the host part of URL, used to key persisted state.
func (n NVRConfig) Host() string {
	u, err := url.Parse(n.URL)
	if err != nil || u.Host == "" {
		return n.URL
	}
	return u.Host
}

// BackoffConfig spaces reconnect and retry attempts.
type BackoffConfig struct {
	Initial    time.Duration `yaml:"initial"`
	Max        time.Duration `yaml:"max"`
	Multiplier float64       `yaml:"multiplier"`
	Jitter     float64       `yaml:"jitter"`
}

// SessionConfig controls the update channel supervisor.
type SessionConfig struct {
	// IdleTimeout drops a link that delivers nothing, not even heartbeats.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// HealthyAfter resets the reconnect backoff once a link has stayed up
	// this long.
	HealthyAfter time.Duration `yaml:"healthy_after"`

	Backoff BackoffConfig `yaml:"backoff"`
}

// ResyncConfig controls desync detection and recovery.
type ResyncConfig struct {
	DecodeErrorThreshold int           `yaml:"decode_error_threshold"`
	DegradedThreshold    int           `yaml:"degraded_threshold"`
	BufferSize           int           `yaml:"buffer_size"`
	LoadTimeout          time.Duration `yaml:"load_timeout"`
	Backoff              BackoffConfig `yaml:"backoff"`
}

// CacheConfig controls the entity cache and its persistence.
type CacheConfig struct {
	SubscriberBuffer int `yaml:"subscriber_buffer"`

	// Persist keeps the last snapshot in the database for warm starts.
	Persist bool `yaml:"persist"`

	// HistoryRetention is how long link health history is kept.
	HistoryRetention time.Duration `yaml:"history_retention"`

	// CaptureStats records per-message update statistics.
	CaptureStats bool `yaml:"capture_stats"`
	StatsLimit   int  `yaml:"stats_limit"`
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

// MQTTReconnectConfig contains MQTT reconnection settings, in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
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

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings, in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains notification push settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable
// overrides.
//
// The loading order is:
//  1. Default values
//  2. YAML file values
//  3. Environment variables (GRAYLOGIC_SECTION_KEY, e.g. GRAYLOGIC_NVR_PASSWORD)
//
// Parameters:
//   - path: YAML file; empty means defaults plus environment only
//
// Returns:
//   - *Config: loaded and validated configuration
//   - error: if the file cannot be read or parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Default returns a Config with defaults for everything except the NVR
// address and credentials.
func Default() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "site-001",
			Name: "Gray Logic",
		},
		NVR: NVRConfig{
			Username:       "graylogic",
			RequestTimeout: 30 * time.Second,
		},
		Session: SessionConfig{
			IdleTimeout:  30 * time.Second,
			HealthyAfter: time.Minute,
			Backoff: BackoffConfig{
				Initial:    time.Second,
				Max:        2 * time.Minute,
				Multiplier: 1.5,
				Jitter:     0.2,
			},
		},
		Resync: ResyncConfig{
			DecodeErrorThreshold: 5,
			DegradedThreshold:    3,
			BufferSize:           1024,
			LoadTimeout:          time.Minute,
			Backoff: BackoffConfig{
				Initial:    2 * time.Second,
				Max:        2 * time.Minute,
				Multiplier: 1.5,
				Jitter:     0.2,
			},
		},
		Cache: CacheConfig{
			SubscriberBuffer: 256,
			Persist:          true,
			HistoryRetention: 30 * 24 * time.Hour,
			StatsLimit:       10000,
		},
		Database: DatabaseConfig{
			Path:        "./data/graylogic-nvr.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-nvr",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			Org:           "graylogic",
			Bucket:        "protect",
			BatchSize:     100,
			FlushInterval: 10,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies GRAYLOGIC_* environment variables.
func applyEnvOverrides(cfg *Config) error {
	str := map[string]*string{
		"GRAYLOGIC_NVR_URL":        &cfg.NVR.URL,
		"GRAYLOGIC_NVR_USERNAME":   &cfg.NVR.Username,
		"GRAYLOGIC_NVR_PASSWORD":   &cfg.NVR.Password,
		"GRAYLOGIC_DATABASE_PATH":  &cfg.Database.Path,
		"GRAYLOGIC_MQTT_HOST":      &cfg.MQTT.Broker.Host,
		"GRAYLOGIC_MQTT_USERNAME":  &cfg.MQTT.Auth.Username,
		"GRAYLOGIC_MQTT_PASSWORD":  &cfg.MQTT.Auth.Password,
		"GRAYLOGIC_INFLUXDB_URL":   &cfg.InfluxDB.URL,
		"GRAYLOGIC_INFLUXDB_TOKEN": &cfg.InfluxDB.Token,
		"GRAYLOGIC_API_HOST":       &cfg.API.Host,
		"GRAYLOGIC_LOGGING_LEVEL":  &cfg.Logging.Level,
		"GRAYLOGIC_LOGGING_FORMAT": &cfg.Logging.Format,
	}
	for env, dst := range str {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}

	flags := map[string]*bool{
		"GRAYLOGIC_NVR_VERIFY_TLS":   &cfg.NVR.VerifyTLS,
		"GRAYLOGIC_MQTT_ENABLED":     &cfg.MQTT.Enabled,
		"GRAYLOGIC_INFLUXDB_ENABLED": &cfg.InfluxDB.Enabled,
	}
	var errs []error
	for env, dst := range flags {
		v := os.Getenv(env)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", env, err))
			continue
		}
		*dst = b
	}

	if v := os.Getenv("GRAYLOGIC_API_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("GRAYLOGIC_API_PORT: %w", err))
		} else {
			cfg.API.Port = port
		}
	}
	return errors.Join(errs...)
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.NVR.URL == "" {
		errs = append(errs, "nvr.url is required (set GRAYLOGIC_NVR_URL)")
	} else if u, err := url.Parse(c.NVR.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, "nvr.url must be an http(s) URL")
	}
	if c.NVR.Username == "" {
		errs = append(errs, "nvr.username is required")
	}
	if c.NVR.Password == "" {
		errs = append(errs, "nvr.password is required (set GRAYLOGIC_NVR_PASSWORD)")
	}

	errs = append(errs, c.Session.Backoff.validate("session.backoff")...)
	errs = append(errs, c.Resync.Backoff.validate("resync.backoff")...)
	if c.Resync.DecodeErrorThreshold < 1 {
		errs = append(errs, "resync.decode_error_threshold must be at least 1")
	}
	if c.Resync.DegradedThreshold < 1 {
		errs = append(errs, "resync.degraded_threshold must be at least 1")
	}
	if c.Resync.BufferSize < 1 {
		errs = append(errs, "resync.buffer_size must be at least 1")
	}

	if c.Cache.Persist && c.Database.Path == "" {
		errs = append(errs, "database.path is required when cache.persist is set")
	}

	if c.MQTT.Enabled && (c.MQTT.QoS < 0 || c.MQTT.QoS > 2) {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (b BackoffConfig) validate(prefix string) []string {
	var errs []string
	if b.Initial < 0 || b.Max < 0 {
		errs = append(errs, prefix+" delays must not be negative")
	}
	if b.Max > 0 && b.Initial > b.Max {
		errs = append(errs, prefix+".initial must not exceed max")
	}
	if b.Multiplier != 0 && b.Multiplier < 1 {
		errs = append(errs, prefix+".multiplier must be at least 1")
	}
	if b.Jitter < 0 || b.Jitter >= 1 {
		errs = append(errs, prefix+".jitter must be in [0, 1)")
	}
	return errs
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
