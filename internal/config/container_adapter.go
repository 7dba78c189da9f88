package config

import (
	"strings"

	"github.com/rhadityaaa/ewd-tools/internal/container"
	httpapi "github.com/rhadityaaa/ewd-tools/internal/interfaces/http"
)

// ToContainerConfig converts the application Config to a container.Config.
// This provides a bridge between the file-based config loaded by viper
// and the container's configuration structure.
func (c *Config) ToContainerConfig() *container.Config {
	roles := make([]string, 0, len(c.Workflow.PrivilegedRoles))
	for _, r := range c.Workflow.PrivilegedRoles {
		if r = strings.ToLower(strings.TrimSpace(r)); r != "" {
			roles = append(roles, r)
		}
	}

	return &container.Config{
		Database: container.DatabaseConfig{
			Driver:          strings.ToLower(c.Database.Driver),
			Path:            c.Database.Path,
			DSN:             c.Database.DSN,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
			BusyTimeout:     c.Database.BusyTimeout,
		},
		Server: container.ServerConfig{
			Host:         c.Server.Host,
			Port:         c.Server.Port,
			ReadTimeout:  c.Server.ReadTimeout,
			WriteTimeout: c.Server.WriteTimeout,
		},
		Auth: container.AuthConfig{
			JWTSecret: c.Auth.JWTSecret,
			Issuer:    c.Auth.Issuer,
			Audience:  c.Auth.Audience,
		},
		Workflow: container.WorkflowConfig{
			SuperAdminRole:  strings.ToLower(strings.TrimSpace(c.Workflow.SuperAdminRole)),
			PrivilegedRoles: roles,
			RequestTimeout:  c.Workflow.RequestTimeout,
		},
		Cache: container.CacheConfig{
			Size: c.Cache.Size,
			TTL:  c.Cache.TTL,
		},
		Notification: container.NotificationConfig{
			Async:        c.Notification.Async,
			AsyncTimeout: c.Notification.AsyncTimeout,
			Lark: container.LarkConfig{
				Enabled:   c.Notification.Lark.Enabled,
				AppID:     c.Notification.Lark.AppID,
				AppSecret: c.Notification.Lark.AppSecret,
				Timeout:   c.Notification.Lark.Timeout,
			},
			NATS: container.NATSConfig{
				URL:           c.Notification.NATS.URL,
				SubjectPrefix: c.Notification.NATS.SubjectPrefix,
			},
			Webhook: container.WebhookConfig{
				URL:        c.Notification.Webhook.URL,
				Secret:     c.Notification.Webhook.Secret,
				Timeout:    c.Notification.Webhook.Timeout,
				MaxRetries: c.Notification.Webhook.MaxRetries,
			},
		},
		Directory: container.DirectoryConfig{
			SeedFile: c.Directory.SeedFile,
		},
		Monitor: container.MonitorConfig{
			Enabled:   c.Monitor.Enabled,
			Interval:  c.Monitor.Interval,
			Threshold: c.Monitor.Threshold,
		},
		RateLimit: container.RateLimitConfig{
			RPS:   c.RateLimit.RPS,
			Burst: c.RateLimit.Burst,
		},
	}
}

// ToServerConfig builds the HTTP adapter configuration.
func (c *Config) ToServerConfig() httpapi.ServerConfig {
	return httpapi.ServerConfig{
		Host:         c.Server.Host,
		Port:         c.Server.Port,
		ReadTimeout:  c.Server.ReadTimeout,
		WriteTimeout: c.Server.WriteTimeout,
		JWTSecret:    c.Auth.JWTSecret,
		Issuer:       c.Auth.Issuer,
		Audience:     c.Auth.Audience,
		RateLimit:    c.RateLimit.RPS,
		Burst:        c.RateLimit.Burst,
	}
}
