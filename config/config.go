package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Auth       AuthConfig       `yaml:"auth"`
	Database   DatabaseConfig   `yaml:"database"`
	Relay      RelayConfig      `yaml:"relay"`
	Device     DeviceConfig     `yaml:"device"`
	Retention  RetentionConfig  `yaml:"retention"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
	Poller     PollerConfig     `yaml:"poller"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	RateLimitPerSec float64  `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int      `yaml:"rate_limit_burst"`
	CacheTTLSeconds int      `yaml:"cache_ttl_seconds"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
}

// AuthConfig holds the admin identity and token signing settings.
type AuthConfig struct {
	AdminUsername         string        `yaml:"admin_username"`
	AdminPassword         string        `yaml:"admin_password"`
	AdminID               string        `yaml:"admin_id"`
	JWTSecret             string        `yaml:"jwt_secret"`
	TokenTTLHours         int           `yaml:"token_ttl_hours"`
	RefreshThresholdHours int           `yaml:"refresh_threshold_hours"`
	TokenTTL              time.Duration `yaml:"-"`
	RefreshThreshold      time.Duration `yaml:"-"`
}

// DatabaseConfig holds the database connection configuration.
// An empty DSN or a "file:" DSN selects sqlite, "postgres://" selects postgres.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	LogQueries             bool   `yaml:"log_queries"`
}

// RelayConfig tunes the websocket relay.
type RelayConfig struct {
	SendQueueSize   int `yaml:"send_queue_size"`
	WriteTimeoutSec int `yaml:"write_timeout_seconds"`
	PongTimeoutSec  int `yaml:"pong_timeout_seconds"`
	MaxMessageBytes int `yaml:"max_message_bytes"`
	SessionTTLHours int `yaml:"session_ttl_hours"`

	// RequireDeviceToken rejects device:register frames without a device token.
	RequireDeviceToken bool `yaml:"require_device_token"`
}

// DeviceConfig configures the simulated device state source.
type DeviceConfig struct {
	BaseLatitude  float64  `yaml:"base_latitude"`
	BaseLongitude float64  `yaml:"base_longitude"`
	KnownDevices  []string `yaml:"known_devices"`
}

// RetentionConfig holds the cleanup schedule.
type RetentionConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Schedule     string `yaml:"schedule"`
	ActivityDays int    `yaml:"activity_days"`
	CommandDays  int    `yaml:"command_days"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// Enabled reports whether VAPID keys are present.
func (p PushConfig) Enabled() bool {
	return p.PublicKey != "" && p.PrivateKey != ""
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size      int `yaml:"size"`
	QueueSize int `yaml:"queue_size"`
}

// PollerConfig holds the device status poller configuration.
type PollerConfig struct {
	Enabled         bool          `yaml:"enabled"`
	IntervalSeconds int           `yaml:"interval_seconds"`
	Interval        time.Duration `yaml:"-"` // Ignored by YAML parser
}

// LogConfig selects log level and output format.
type LogConfig struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

// envOverrides are applied after the YAML file, e.g. RELAY_JWT_SECRET.
type envOverrides struct {
	Port          int    `envconfig:"PORT"`
	JWTSecret     string `envconfig:"JWT_SECRET"`
	DatabaseDSN   string `envconfig:"DATABASE_DSN"`
	AdminUsername string `envconfig:"ADMIN_USERNAME"`
	AdminPassword string `envconfig:"ADMIN_PASSWORD"`
	LogLevel      string `envconfig:"LOG_LEVEL"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	if err := finish(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault behaves like Load but falls back to defaults when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	// Without a file the background jobs still run.
	cfg = &Config{
		Retention: RetentionConfig{Enabled: true},
		Poller:    PollerConfig{Enabled: true},
	}
	if err := finish(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func finish(cfg *Config) error {
	if err := applyEnv(cfg); err != nil {
		return err
	}
	applyDefaults(cfg)
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must be set (or RELAY_JWT_SECRET)")
	}
	return nil
}

func applyEnv(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process("relay", &env); err != nil {
		return fmt.Errorf("failed to read environment overrides: %w", err)
	}
	if env.Port != 0 {
		cfg.Server.Port = env.Port
	}
	if env.JWTSecret != "" {
		cfg.Auth.JWTSecret = env.JWTSecret
	}
	if env.DatabaseDSN != "" {
		cfg.Database.DSN = env.DatabaseDSN
	}
	if env.AdminUsername != "" {
		cfg.Auth.AdminUsername = env.AdminUsername
	}
	if env.AdminPassword != "" {
		cfg.Auth.AdminPassword = env.AdminPassword
	}
	if env.LogLevel != "" {
		cfg.Log.Level = env.LogLevel
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 3000
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 300
	}

	if cfg.Auth.AdminUsername == "" {
		cfg.Auth.AdminUsername = "admin"
	}
	if cfg.Auth.AdminPassword == "" {
		cfg.Auth.AdminPassword = "admin123"
	}
	if cfg.Auth.AdminID == "" {
		cfg.Auth.AdminID = "admin-001"
	}
	if cfg.Auth.TokenTTLHours <= 0 {
		cfg.Auth.TokenTTLHours = 24
	}
	if cfg.Auth.RefreshThresholdHours <= 0 {
		cfg.Auth.RefreshThresholdHours = 2
	}
	cfg.Auth.TokenTTL = time.Duration(cfg.Auth.TokenTTLHours) * time.Hour
	cfg.Auth.RefreshThreshold = time.Duration(cfg.Auth.RefreshThresholdHours) * time.Hour

	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "file::memory:?cache=shared"
	}
	if cfg.Database.MaxOpenConns <= 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns <= 0 {
		cfg.Database.MaxIdleConns = 2
	}
	if cfg.Database.ConnMaxLifetimeMinutes <= 0 {
		cfg.Database.ConnMaxLifetimeMinutes = 30
	}

	if cfg.Relay.SendQueueSize <= 0 {
		cfg.Relay.SendQueueSize = 64
	}
	if cfg.Relay.WriteTimeoutSec <= 0 {
		cfg.Relay.WriteTimeoutSec = 10
	}
	if cfg.Relay.PongTimeoutSec <= 0 {
		cfg.Relay.PongTimeoutSec = 60
	}
	if cfg.Relay.MaxMessageBytes <= 0 {
		cfg.Relay.MaxMessageBytes = 1 << 20
	}
	if cfg.Relay.SessionTTLHours <= 0 {
		cfg.Relay.SessionTTLHours = 24
	}

	if cfg.Device.BaseLatitude == 0 && cfg.Device.BaseLongitude == 0 {
		cfg.Device.BaseLatitude = 37.7749
		cfg.Device.BaseLongitude = -122.4194
	}

	if cfg.Retention.Schedule == "" {
		cfg.Retention.Schedule = "@every 1h"
	}
	if cfg.Retention.ActivityDays <= 0 {
		cfg.Retention.ActivityDays = 30
	}
	if cfg.Retention.CommandDays <= 0 {
		cfg.Retention.CommandDays = 7
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		cfg.WorkerPool.Size = 1
	}
	if cfg.WorkerPool.QueueSize <= 0 {
		cfg.WorkerPool.QueueSize = 64
	}

	if cfg.Poller.IntervalSeconds <= 0 {
		cfg.Poller.IntervalSeconds = 30
	}
	cfg.Poller.Interval = time.Duration(cfg.Poller.IntervalSeconds) * time.Second

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}
