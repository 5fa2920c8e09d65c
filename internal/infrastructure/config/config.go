package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for panelsync.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Service     ServiceConfig     `yaml:"service"`
	Database    DatabaseConfig    `yaml:"database"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	LocalBroker LocalBrokerConfig `yaml:"local_broker"`
	Panels      PanelsConfig      `yaml:"panels"`
	API         APIConfig         `yaml:"api"`
	WebSocket   WebSocketConfig   `yaml:"websocket"`
	InfluxDB    InfluxDBConfig    `yaml:"influxdb"`
	Logging     LoggingConfig     `yaml:"logging"`
	Security    SecurityConfig    `yaml:"security"`
}

// ServiceConfig identifies this instance.
type ServiceConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains settings shared by every broker client.
// Broker endpoints themselves are runtime data managed through the API.
type MQTTConfig struct {
	ClientIDPrefix string              `yaml:"client_id_prefix"`
	QoS            int                 `yaml:"qos"`
	KeepAlive      int                 `yaml:"keep_alive"`
	ConnectTimeout int                 `yaml:"connect_timeout"`
	Reconnect      MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// LocalBrokerConfig controls the embedded MQTT broker registered as "local".
type LocalBrokerConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
	WSPort  int  `yaml:"ws_port"`
	// AdvertiseHost is the address panels use to reach the embedded broker.
	AdvertiseHost string `yaml:"advertise_host"`
}

// PanelsConfig contains panel protocol and button timing settings.
type PanelsConfig struct {
	VendorPrefix  string `yaml:"vendor_prefix"`
	DefaultBroker string `yaml:"default_broker"`
	// HTTPTimeout is the device HTTP request timeout in milliseconds.
	HTTPTimeout   int `yaml:"http_timeout"`
	WriteAttempts int `yaml:"write_attempts"`
	// LongPressDebounce, ReleaseRevertDelay and RefreshInterval are in milliseconds.
	LongPressDebounce  int `yaml:"longpress_debounce"`
	ReleaseRevertDelay int `yaml:"release_revert_delay"`
	RefreshInterval    int `yaml:"refresh_interval"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
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
	JWT   JWTConfig   `yaml:"jwt"`
	Admin AdminConfig `yaml:"admin"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"` // minutes
}

// AdminConfig holds the single administrator account for the REST API.
type AdminConfig struct {
	Username string `yaml:"username"`
	// PasswordHash is an argon2id PHC string.
	PasswordHash string `yaml:"password_hash"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: PANELSYNC_SECTION_KEY
// For example: PANELSYNC_DATABASE_PATH, PANELSYNC_API_PORT
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			ID:   "panelsync",
			Name: "Panel Sync",
		},
		Database: DatabaseConfig{
			Path:        "./data/panelsync.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			ClientIDPrefix: "panelsync",
			QoS:            1,
			KeepAlive:      30,
			ConnectTimeout: 10,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		LocalBroker: LocalBrokerConfig{
			Enabled: true,
			Port:    1883,
			WSPort:  8083,
		},
		Panels: PanelsConfig{
			VendorPrefix:       "buttonplus",
			DefaultBroker:      "local",
			HTTPTimeout:        2000,
			WriteAttempts:      3,
			LongPressDebounce:  500,
			ReleaseRevertDelay: 500,
			RefreshInterval:    60000,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
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
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 60,
			},
			Admin: AdminConfig{
				Username: "admin",
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PANELSYNC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("PANELSYNC_LOCAL_BROKER_ADVERTISE_HOST"); v != "" {
		cfg.LocalBroker.AdvertiseHost = v
	}
	if v := os.Getenv("PANELSYNC_LOCAL_BROKER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.LocalBroker.Port = port
		}
	}

	if v := os.Getenv("PANELSYNC_PANELS_DEFAULT_BROKER"); v != "" {
		cfg.Panels.DefaultBroker = v
	}

	if v := os.Getenv("PANELSYNC_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("PANELSYNC_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	if v := os.Getenv("PANELSYNC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("PANELSYNC_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
	if v := os.Getenv("PANELSYNC_ADMIN_PASSWORD_HASH"); v != "" {
		cfg.Security.Admin.PasswordHash = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Service.ID == "" {
		errs = append(errs, "service.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.LocalBroker.Enabled {
		if c.LocalBroker.Port < 1 || c.LocalBroker.Port > 65535 {
			errs = append(errs, "local_broker.port must be between 1 and 65535")
		}
		if c.LocalBroker.WSPort < 0 || c.LocalBroker.WSPort > 65535 {
			errs = append(errs, "local_broker.ws_port must be between 0 and 65535")
		}
	}

	if c.Panels.VendorPrefix == "" || strings.ContainsAny(c.Panels.VendorPrefix, "/+#") {
		errs = append(errs, "panels.vendor_prefix must be a single topic level")
	}
	if c.Panels.DefaultBroker == "" {
		errs = append(errs, "panels.default_broker is required")
	}
	if c.Panels.WriteAttempts < 1 {
		errs = append(errs, "panels.write_attempts must be at least 1")
	}
	if c.Panels.HTTPTimeout <= 0 {
		errs = append(errs, "panels.http_timeout must be positive")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	// The API controls physical panels; a guessable secret lets anyone forge tokens.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set PANELSYNC_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ReadTimeout returns the API read timeout as a Duration.
func (t APITimeoutConfig) ReadTimeout() time.Duration {
	return time.Duration(t.Read) * time.Second
}

// WriteTimeout returns the API write timeout as a Duration.
func (t APITimeoutConfig) WriteTimeout() time.Duration {
	return time.Duration(t.Write) * time.Second
}

// IdleTimeout returns the API idle timeout as a Duration.
func (t APITimeoutConfig) IdleTimeout() time.Duration {
	return time.Duration(t.Idle) * time.Second
}

// ReconnectDelays returns the initial and maximum broker retry delays.
func (r MQTTReconnectConfig) ReconnectDelays() (initial, maxDelay time.Duration) {
	return time.Duration(r.InitialDelay) * time.Second, time.Duration(r.MaxDelay) * time.Second
}

// GetHTTPTimeout returns the device HTTP request timeout.
func (c *Config) GetHTTPTimeout() time.Duration {
	return time.Duration(c.Panels.HTTPTimeout) * time.Millisecond
}

// GetLongPressDebounce returns the minimum spacing between accepted long-press events.
func (c *Config) GetLongPressDebounce() time.Duration {
	return time.Duration(c.Panels.LongPressDebounce) * time.Millisecond
}

// GetReleaseRevertDelay returns how long a released momentary button stays lit.
func (c *Config) GetReleaseRevertDelay() time.Duration {
	return time.Duration(c.Panels.ReleaseRevertDelay) * time.Millisecond
}

// GetRefreshInterval returns the active-page republish interval.
func (c *Config) GetRefreshInterval() time.Duration {
	return time.Duration(c.Panels.RefreshInterval) * time.Millisecond
}
