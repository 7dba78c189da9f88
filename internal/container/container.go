package container

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/rhadityaaa/ewd-tools/internal/application/dispatcher"
	"github.com/rhadityaaa/ewd-tools/internal/application/port"
	"github.com/rhadityaaa/ewd-tools/internal/application/resolver"
	"github.com/rhadityaaa/ewd-tools/internal/application/workflow"
	"github.com/rhadityaaa/ewd-tools/internal/infrastructure/cache"
	"github.com/rhadityaaa/ewd-tools/internal/infrastructure/metrics"
	"github.com/rhadityaaa/ewd-tools/internal/infrastructure/worker"
)

// Container manages all application dependencies and lifecycle.
// Components are initialized in dependency order and torn down in reverse.
type Container struct {
	config *Config
	logger *zap.Logger

	// Infrastructure
	db       *DatabaseBundle
	cache    *cache.LRU
	metrics  *metrics.Metrics
	notifier *NotifierBundle

	// Application
	resolver resolver.Resolver
	workflow workflow.Engine
	services *ServiceBundle

	// Workers
	workers *worker.Manager
	monitor *worker.StaleMonitor

	// Lifecycle
	mu     sync.RWMutex
	cancel context.CancelFunc
	ready  atomic.Bool
	closed atomic.Bool
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{
		config: cfg,
		logger: logger,
	}, nil
}

// Start initializes all components in dependency order:
// 1. Database, migrations and repositories
// 2. Directory seed
// 3. Cache and metrics
// 4. Dispatcher and notification channels
// 5. Resolver and workflow engine
// 6. Application services
// 7. Workers
//
// A failed step releases everything started before it and the container
// cannot be started again.
func (c *Container) Start(ctx context.Context) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}
	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.logger.Info("Starting container initialization",
		zap.String("database_driver", c.config.Database.Driver))

	defer func() {
		if err != nil {
			_ = c.teardown()
			c.closed.Store(true)
		}
	}()

	if c.db, err = ProvideDatabase(ctx, &c.config.Database, c.logger); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	c.logger.Info("Database initialized")

	n, err := ProvideDirectorySeed(ctx, &c.config.Directory, c.db, c.logger)
	if err != nil {
		return fmt.Errorf("failed to seed directory: %w", err)
	}
	if n > 0 {
		c.logger.Info("Directory seeded", zap.Int("users", n))
	}

	c.cache = cache.NewLRU(cache.Config{Size: c.config.Cache.Size, TTL: c.config.Cache.TTL})
	c.metrics = metrics.New()

	if c.notifier, err = ProvideNotifier(&c.config.Notification, c.db.Repos, c.logger); err != nil {
		return fmt.Errorf("failed to initialize notifier: %w", err)
	}
	c.logger.Info("Dispatcher initialized")

	c.workflow, c.resolver, err = ProvideWorkflowEngine(&WorkflowDeps{
		Config:     &c.config.Workflow,
		Cache:      c.cache,
		DB:         c.db,
		Dispatcher: c.notifier.Dispatcher,
		Metrics:    c.metrics,
		Logger:     c.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize workflow engine: %w", err)
	}
	c.logger.Info("Workflow engine initialized")

	if c.services, err = ProvideServices(c.db.Repos, c.metrics, c.logger); err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	c.logger.Info("Application services initialized")

	var workerCtx context.Context
	workerCtx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))
	c.workers, c.monitor = ProvideWorkers(&c.config.Monitor, c.services, c.logger)
	if err = c.workers.StartAll(workerCtx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}
	c.logger.Info("Workers started", zap.Int("count", c.workers.Count()))

	c.ready.Store(true)
	c.logger.Info("Container started successfully")
	return nil
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")
	err := c.teardown()

	c.closed.Store(true)
	c.ready.Store(false)

	if err != nil {
		c.logger.Error("Container closed with errors", zap.Error(err))
		return err
	}
	c.logger.Info("Container closed successfully")
	return nil
}

// teardown releases whatever has been started, newest first
func (c *Container) teardown() error {
	var errs []error

	if c.cancel != nil {
		c.cancel()
	}

	if c.workers != nil {
		if err := c.workers.StopAll(); err != nil {
			errs = append(errs, fmt.Errorf("stop workers: %w", err))
		}
	}

	if c.notifier != nil {
		if err := c.notifier.Dispatcher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
		}
		if err := c.notifier.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close message bus: %w", err))
		}
	}

	if c.cache != nil {
		c.cache.Purge()
	}

	if c.db != nil {
		if err := c.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		} else {
			c.logger.Info("Database closed")
		}
	}

	return errors.Join(errs...)
}

// InvalidateAssignments drops cached step assignments so the next resolution
// reads the directory again. Call it after the directory was changed from
// outside the process, for example by seed-directory.
func (c *Container) InvalidateAssignments() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.ready.Load() {
		return fmt.Errorf("container not started")
	}
	c.resolver.Invalidate()
	c.logger.Info("Cached approver assignments dropped")
	return nil
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}
	set := func(name string, h ComponentHealth) {
		status.Components[name] = h
		if !h.Healthy {
			status.Overall = false
		}
	}
	notReady := ComponentHealth{Healthy: false, Message: "not initialized"}

	if c.db != nil {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := c.db.Ping(ctx); err != nil {
			set("database", ComponentHealth{Healthy: false, Message: fmt.Sprintf("ping failed: %v", err)})
		} else {
			set("database", ComponentHealth{Healthy: true, Message: c.db.Driver})
		}
	} else {
		set("database", notReady)
	}

	if c.notifier != nil {
		set("dispatcher", ComponentHealth{Healthy: true, Message: fmt.Sprintf("channels: %v", c.notifier.Channels)})
	} else {
		set("dispatcher", notReady)
	}

	if c.workflow != nil {
		set("workflow", ComponentHealth{Healthy: true})
	} else {
		set("workflow", notReady)
	}

	// a failing monitor is reported but does not make the service unhealthy
	if c.monitor != nil {
		h := ComponentHealth{Healthy: true, Message: fmt.Sprintf("runs: %d", c.monitor.Runs())}
		if err := c.monitor.LastError(); err != nil {
			h.Message = fmt.Sprintf("last run %s failed: %v", c.monitor.LastRun().Format(time.RFC3339), err)
		}
		status.Components["stale_monitor"] = h
	}

	return status
}

// Getters for accessing container components

// DB returns the transaction manager.
func (c *Container) DB() port.TransactionManager {
	return c.db.TxManager
}

// Repositories returns all repositories.
func (c *Container) Repositories() *RepositoryBundle {
	return c.db.Repos
}

// Dispatcher returns the event dispatcher.
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	return c.notifier.Dispatcher
}

// Resolver returns the approver resolver.
func (c *Container) Resolver() resolver.Resolver {
	return c.resolver
}

// WorkflowEngine returns the workflow engine.
func (c *Container) WorkflowEngine() workflow.Engine {
	return c.workflow
}

// Services returns all application services.
func (c *Container) Services() *ServiceBundle {
	return c.services
}

// Metrics returns the Prometheus collectors.
func (c *Container) Metrics() *metrics.Metrics {
	return c.metrics
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Config returns the container's configuration.
func (c *Container) Config() *Config {
	return c.config
}
