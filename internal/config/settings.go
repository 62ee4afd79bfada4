package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override, e.g.
// A11Y_AUTH_API_KEY_HOURLY_LIMIT.
const EnvPrefix = "A11Y"

// Settings is the full runtime configuration. It is loaded from
// a11ystatus.yaml and overridden by A11Y_* environment variables.
// Durations are kept as strings in the file and parsed on access.
type Settings struct {
	Server   ServerSettings   `yaml:"server" mapstructure:"server"`
	Database DatabaseSettings `yaml:"database" mapstructure:"database"`
	Auth     AuthSettings     `yaml:"auth" mapstructure:"auth"`
	Rotation RotationSettings `yaml:"rotation" mapstructure:"rotation"`
	Retry    RetrySettings    `yaml:"retry" mapstructure:"retry"`
	Tasks    TaskSettings     `yaml:"tasks" mapstructure:"tasks"`
	Logging  LoggingSettings  `yaml:"logging" mapstructure:"logging"`
}

// ServerSettings controls the HTTP listener.
type ServerSettings struct {
	Host             string   `yaml:"host" mapstructure:"host"`
	Port             int      `yaml:"port" mapstructure:"port"`
	CORSOrigins      []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	ShutdownTimeout  string   `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	GeneralRateLimit int      `yaml:"general_rate_limit" mapstructure:"general_rate_limit"`
}

// DatabaseSettings selects the row store backend.
type DatabaseSettings struct {
	Driver  string `yaml:"driver" mapstructure:"driver"` // sqlite or postgres
	DSN     string `yaml:"dsn" mapstructure:"dsn"`
	DataDir string `yaml:"data_dir" mapstructure:"data_dir"`
}

// AuthSettings controls API key and session authentication.
type AuthSettings struct {
	APIKeyHourlyLimit    int    `yaml:"api_key_hourly_limit" mapstructure:"api_key_hourly_limit"`
	HashCost             int    `yaml:"hash_cost" mapstructure:"hash_cost"`
	SessionTTL           string `yaml:"session_ttl" mapstructure:"session_ttl"`
	SessionPurgeInterval string `yaml:"session_purge_interval" mapstructure:"session_purge_interval"`
	CookieSecure         bool   `yaml:"cookie_secure" mapstructure:"cookie_secure"`
	LoginRateLimit       int    `yaml:"login_rate_limit" mapstructure:"login_rate_limit"`
	LoginRateWindow      string `yaml:"login_rate_window" mapstructure:"login_rate_window"`
}

// RotationSettings controls key rotation and the grace period sweep.
type RotationSettings struct {
	GracePeriodDays int    `yaml:"grace_period_days" mapstructure:"grace_period_days"`
	SweepInterval   string `yaml:"sweep_interval" mapstructure:"sweep_interval"`
}

// RetrySettings controls retries around store reads on the auth path.
type RetrySettings struct {
	MaxRetries   int     `yaml:"max_retries" mapstructure:"max_retries"`
	InitialDelay string  `yaml:"initial_delay" mapstructure:"initial_delay"`
	MaxDelay     string  `yaml:"max_delay" mapstructure:"max_delay"`
	Multiplier   float64 `yaml:"multiplier" mapstructure:"multiplier"`
}

// TaskSettings sizes the background task queue.
type TaskSettings struct {
	Workers   int `yaml:"workers" mapstructure:"workers"`
	QueueSize int `yaml:"queue_size" mapstructure:"queue_size"`
}

// LoggingSettings controls log output. When File is set, logs are written
// there and rotated by size.
type LoggingSettings struct {
	Level      string `yaml:"level" mapstructure:"level"`
	Format     string `yaml:"format" mapstructure:"format"`
	File       string `yaml:"file" mapstructure:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" mapstructure:"max_age_days"`
}

// DefaultSettings returns Settings pre-filled with production defaults.
func DefaultSettings() *Settings {
	return &Settings{
		Server: ServerSettings{
			Host:             "0.0.0.0",
			Port:             8080,
			CORSOrigins:      []string{"*"},
			ShutdownTimeout:  "30s",
			GeneralRateLimit: 1000,
		},
		Database: DatabaseSettings{
			Driver: DriverSQLite,
		},
		Auth: AuthSettings{
			APIKeyHourlyLimit:    100,
			HashCost:             10,
			SessionTTL:           "24h",
			SessionPurgeInterval: "1h",
			LoginRateLimit:       5,
			LoginRateWindow:      "10m",
		},
		Rotation: RotationSettings{
			GracePeriodDays: 10,
			SweepInterval:   "1h",
		},
		Retry: RetrySettings{
			MaxRetries:   3,
			InitialDelay: "100ms",
			MaxDelay:     "5s",
			Multiplier:   2,
		},
		Tasks: TaskSettings{
			Workers:   2,
			QueueSize: 256,
		},
		Logging: LoggingSettings{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
	}
}

// RegisterDefaults seeds v with every default so that environment
// variables are honoured for keys absent from the config file.
func RegisterDefaults(v *viper.Viper) {
	d := DefaultSettings()
	defaults := map[string]interface{}{
		"server.host":                 d.Server.Host,
		"server.port":                 d.Server.Port,
		"server.cors_origins":         d.Server.CORSOrigins,
		"server.shutdown_timeout":     d.Server.ShutdownTimeout,
		"server.general_rate_limit":   d.Server.GeneralRateLimit,
		"database.driver":             d.Database.Driver,
		"database.dsn":                d.Database.DSN,
		"database.data_dir":           d.Database.DataDir,
		"auth.api_key_hourly_limit":   d.Auth.APIKeyHourlyLimit,
		"auth.hash_cost":              d.Auth.HashCost,
		"auth.session_ttl":            d.Auth.SessionTTL,
		"auth.session_purge_interval": d.Auth.SessionPurgeInterval,
		"auth.cookie_secure":          d.Auth.CookieSecure,
		"auth.login_rate_limit":       d.Auth.LoginRateLimit,
		"auth.login_rate_window":      d.Auth.LoginRateWindow,
		"rotation.grace_period_days":  d.Rotation.GracePeriodDays,
		"rotation.sweep_interval":     d.Rotation.SweepInterval,
		"retry.max_retries":           d.Retry.MaxRetries,
		"retry.initial_delay":         d.Retry.InitialDelay,
		"retry.max_delay":             d.Retry.MaxDelay,
		"retry.multiplier":            d.Retry.Multiplier,
		"tasks.workers":               d.Tasks.Workers,
		"tasks.queue_size":            d.Tasks.QueueSize,
		"logging.level":               d.Logging.Level,
		"logging.format":              d.Logging.Format,
		"logging.file":                d.Logging.File,
		"logging.max_size_mb":         d.Logging.MaxSizeMB,
		"logging.max_backups":         d.Logging.MaxBackups,
		"logging.max_age_days":        d.Logging.MaxAgeDays,
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// LoadSettings decodes the effective configuration held by v.
func LoadSettings(v *viper.Viper) (*Settings, error) {
	RegisterDefaults(v)
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadSettingsFile reads a YAML settings file on top of the defaults.
// Environment variables referenced as ${VAR_NAME} are expanded first.
func LoadSettingsFile(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	content := os.ExpandEnv(string(data))

	s := DefaultSettings()
	if err := yaml.Unmarshal([]byte(content), s); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// WriteDefaultSettings writes the default configuration to a YAML file.
func WriteDefaultSettings(path string) error {
	data, err := yaml.Marshal(DefaultSettings())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks values that would otherwise fail far from their source.
func (s *Settings) Validate() error {
	switch s.Database.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("unsupported database driver %q (want %s or %s)", s.Database.Driver, DriverSQLite, DriverPostgres)
	}
	if s.Database.Driver == DriverPostgres && s.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required for the %s driver", DriverPostgres)
	}
	if s.Auth.APIKeyHourlyLimit <= 0 {
		return fmt.Errorf("auth.api_key_hourly_limit must be positive, got %d", s.Auth.APIKeyHourlyLimit)
	}
	if s.Rotation.GracePeriodDays <= 0 {
		return fmt.Errorf("rotation.grace_period_days must be positive, got %d", s.Rotation.GracePeriodDays)
	}
	if s.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must not be negative, got %d", s.Retry.MaxRetries)
	}
	durations := map[string]string{
		"server.shutdown_timeout":     s.Server.ShutdownTimeout,
		"auth.session_ttl":            s.Auth.SessionTTL,
		"auth.session_purge_interval": s.Auth.SessionPurgeInterval,
		"auth.login_rate_window":      s.Auth.LoginRateWindow,
		"rotation.sweep_interval":     s.Rotation.SweepInterval,
		"retry.initial_delay":         s.Retry.InitialDelay,
		"retry.max_delay":             s.Retry.MaxDelay,
	}
	for key, val := range durations {
		if val == "" {
			continue
		}
		if _, err := time.ParseDuration(val); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

// Duration parses a duration setting, falling back to def when the value is
// empty or malformed.
func Duration(val string, def time.Duration) time.Duration {
	if val == "" {
		return def
	}
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
