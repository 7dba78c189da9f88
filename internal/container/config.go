// Package container provides dependency injection and lifecycle management
// for the report approval service.
package container

import (
	"fmt"
	"time"

	"github.com/rhadityaaa/ewd-tools/internal/domain/ladder"
)

// Database drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds all configuration for the Container.
// It aggregates configurations for all subsystems.
type Config struct {
	Database     DatabaseConfig
	Server       ServerConfig
	Auth         AuthConfig
	Workflow     WorkflowConfig
	Cache        CacheConfig
	Notification NotificationConfig
	Directory    DirectoryConfig
	Monitor      MonitorConfig
	RateLimit    RateLimitConfig
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Driver is sqlite or postgres
	Driver string

	// Path to SQLite database file
	Path string

	// DSN is the Postgres connection string
	DSN string

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections (SQLite)
	// or the minimum pool size (Postgres)
	MaxIdleConns int

	// ConnMaxLifetime is the maximum connection lifetime
	ConnMaxLifetime time.Duration

	// BusyTimeout is how long SQLite writers wait for the lock
	BusyTimeout time.Duration
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// AuthConfig holds bearer token settings.
type AuthConfig struct {
	JWTSecret string
	Issuer    string
	Audience  string
}

// WorkflowConfig holds engine settings.
type WorkflowConfig struct {
	// SuperAdminRole is the fallback approver role
	SuperAdminRole string

	// PrivilegedRoles may submit and withdraw on behalf of the owner
	PrivilegedRoles []string

	// RequestTimeout bounds each engine operation
	RequestTimeout time.Duration
}

// CacheConfig holds resolver and snapshot cache settings.
type CacheConfig struct {
	Size int
	TTL  time.Duration
}

// NotificationConfig holds delivery channel settings. In-app delivery is
// always on; the other channels are enabled by their settings.
type NotificationConfig struct {
	// Async hands events to background delivery instead of blocking the caller
	Async        bool
	AsyncTimeout time.Duration

	Lark    LarkConfig
	NATS    NATSConfig
	Webhook WebhookConfig
}

// LarkConfig holds Lark app credentials.
type LarkConfig struct {
	Enabled   bool
	AppID     string
	AppSecret string
	Timeout   time.Duration
}

// NATSConfig holds message bus settings. Empty URL disables the channel.
type NATSConfig struct {
	URL           string
	SubjectPrefix string
}

// WebhookConfig holds webhook settings. Empty URL disables the channel.
type WebhookConfig struct {
	URL        string
	Secret     string
	Timeout    time.Duration
	MaxRetries int
}

// DirectoryConfig holds directory settings.
type DirectoryConfig struct {
	// SeedFile is a YAML file imported on start, if set
	SeedFile string
}

// MonitorConfig holds the stale approval monitor settings.
type MonitorConfig struct {
	Enabled   bool
	Interval  time.Duration
	Threshold time.Duration
}

// RateLimitConfig holds per-actor mutation limits.
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:          DriverSQLite,
			Path:            "data/ewd.db",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
			BusyTimeout:     5 * time.Second,
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Workflow: WorkflowConfig{
			SuperAdminRole: ladder.RoleSuperAdmin,
			PrivilegedRoles: []string{
				ladder.RoleSuperAdmin,
				ladder.RoleDepartmentHeadBusiness,
				ladder.RoleDepartmentHeadRisk,
			},
			RequestTimeout: 10 * time.Second,
		},
		Cache: CacheConfig{
			Size: 1024,
			TTL:  5 * time.Minute,
		},
		Notification: NotificationConfig{
			AsyncTimeout: 30 * time.Second,
			NATS:         NATSConfig{SubjectPrefix: "notifications.report"},
			Webhook:      WebhookConfig{Timeout: 10 * time.Second, MaxRetries: 3},
		},
		Monitor: MonitorConfig{
			Enabled:   true,
			Interval:  5 * time.Minute,
			Threshold: 72 * time.Hour,
		},
		RateLimit: RateLimitConfig{
			RPS:   5,
			Burst: 10,
		},
	}
}

// Validate checks that required configuration values are present.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for sqlite")
		}
	case DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unsupported database.driver %q", c.Database.Driver)
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}

	if c.Workflow.SuperAdminRole == "" {
		return fmt.Errorf("workflow.super_admin_role is required")
	}

	if c.Notification.Lark.Enabled {
		if c.Notification.Lark.AppID == "" {
			return fmt.Errorf("notification.lark.app_id is required")
		}
		if c.Notification.Lark.AppSecret == "" {
			return fmt.Errorf("notification.lark.app_secret is required")
		}
	}

	if c.RateLimit.RPS < 0 {
		return fmt.Errorf("ratelimit.rps must not be negative")
	}

	return nil
}
