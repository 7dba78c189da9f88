package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Config holds all application configuration
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Logger       LoggerConfig       `mapstructure:"logger"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Workflow     WorkflowConfig     `mapstructure:"workflow"`
	Cache        CacheConfig        `mapstructure:"cache"`
	Notification NotificationConfig `mapstructure:"notification"`
	Directory    DirectoryConfig    `mapstructure:"directory"`
	Monitor      MonitorConfig      `mapstructure:"monitor"`
	Export       ExportConfig       `mapstructure:"export"`
	RateLimit    RateLimitConfig    `mapstructure:"ratelimit"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// AuthConfig holds bearer token configuration
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
	Audience  string `mapstructure:"audience"`
}

// WorkflowConfig holds approval engine configuration
type WorkflowConfig struct {
	SuperAdminRole  string        `mapstructure:"super_admin_role"`
	PrivilegedRoles []string      `mapstructure:"privileged_roles"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
}

// CacheConfig holds cache configuration
type CacheConfig struct {
	Size int           `mapstructure:"size"`
	TTL  time.Duration `mapstructure:"ttl"`
}

// NotificationConfig holds delivery channel configuration
type NotificationConfig struct {
	Async        bool          `mapstructure:"async"`
	AsyncTimeout time.Duration `mapstructure:"async_timeout"`
	Lark         LarkConfig    `mapstructure:"lark"`
	NATS         NATSConfig    `mapstructure:"nats"`
	Webhook      WebhookConfig `mapstructure:"webhook"`
}

// LarkConfig holds Lark API configuration
type LarkConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	AppID     string        `mapstructure:"app_id"`
	AppSecret string        `mapstructure:"app_secret"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// NATSConfig holds message bus configuration
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// WebhookConfig holds outbound webhook configuration
type WebhookConfig struct {
	URL        string        `mapstructure:"url"`
	Secret     string        `mapstructure:"secret"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

// DirectoryConfig holds user directory configuration
type DirectoryConfig struct {
	SeedFile string `mapstructure:"seed_file"`
}

// MonitorConfig holds stale approval monitor configuration
type MonitorConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Interval  time.Duration `mapstructure:"interval"`
	Threshold time.Duration `mapstructure:"threshold"`
}

// ExportConfig holds spreadsheet export configuration
type ExportConfig struct {
	Dir string `mapstructure:"dir"`
}

// RateLimitConfig holds per-actor request limits
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// Load loads configuration from file and environment variables. Variables in
// a .env file next to the working directory are exported first; variables
// already set in the environment win. An empty configPath uses defaults and
// environment only.
func Load(configPath string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("EWD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "data/ewd.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.busy_timeout", 5*time.Second)

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")

	// Workflow defaults
	v.SetDefault("workflow.super_admin_role", "super_admin")
	v.SetDefault("workflow.privileged_roles", []string{"super_admin", "kadept_bisnis", "kadept_risk"})
	v.SetDefault("workflow.request_timeout", 10*time.Second)

	v.SetDefault("cache.size", 1024)
	v.SetDefault("cache.ttl", 5*time.Minute)

	// Notification defaults
	v.SetDefault("notification.async", false)
	v.SetDefault("notification.async_timeout", 30*time.Second)
	v.SetDefault("notification.lark.timeout", 10*time.Second)
	v.SetDefault("notification.nats.subject_prefix", "notifications.report")
	v.SetDefault("notification.webhook.timeout", 10*time.Second)
	v.SetDefault("notification.webhook.max_retries", 3)

	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.interval", 5*time.Minute)
	v.SetDefault("monitor.threshold", 72*time.Hour)

	v.SetDefault("export.dir", "exports")

	v.SetDefault("ratelimit.rps", 5.0)
	v.SetDefault("ratelimit.burst", 10)
}

// bindEnvVars binds environment variables to configuration
func bindEnvVars(v *viper.Viper) {
	// Sensitive credentials from environment
	_ = v.BindEnv("auth.jwt_secret", "EWD_JWT_SECRET", "JWT_SECRET")
	_ = v.BindEnv("database.dsn", "EWD_DATABASE_DSN", "DATABASE_URL")
	_ = v.BindEnv("notification.lark.app_id", "LARK_APP_ID")
	_ = v.BindEnv("notification.lark.app_secret", "LARK_APP_SECRET")
	_ = v.BindEnv("notification.nats.url", "NATS_URL")
	_ = v.BindEnv("notification.webhook.secret", "WEBHOOK_SECRET")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Logger.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logger.format must be json or console")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}

	if c.Export.Dir == "" {
		return fmt.Errorf("export.dir is required")
	}

	return c.ToContainerConfig().Validate()
}
