package container

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/rhadityaaa/ewd-tools/internal/application/dispatcher"
	"github.com/rhadityaaa/ewd-tools/internal/application/port"
	"github.com/rhadityaaa/ewd-tools/internal/application/resolver"
	"github.com/rhadityaaa/ewd-tools/internal/application/service"
	"github.com/rhadityaaa/ewd-tools/internal/application/workflow"
	"github.com/rhadityaaa/ewd-tools/internal/infrastructure/cache"
	"github.com/rhadityaaa/ewd-tools/internal/infrastructure/directory"
	"github.com/rhadityaaa/ewd-tools/internal/infrastructure/metrics"
	"github.com/rhadityaaa/ewd-tools/internal/infrastructure/notify"
	"github.com/rhadityaaa/ewd-tools/internal/infrastructure/persistence/postgres"
	"github.com/rhadityaaa/ewd-tools/internal/infrastructure/persistence/repository"
	"github.com/rhadityaaa/ewd-tools/internal/infrastructure/persistence/sqlite"
	"github.com/rhadityaaa/ewd-tools/internal/infrastructure/worker"
	"github.com/rhadityaaa/ewd-tools/pkg/database"
	"github.com/rhadityaaa/ewd-tools/pkg/utils"
)

// DirectoryStore is the read and write side of the user directory
type DirectoryStore interface {
	port.UserDirectory
	port.DirectoryWriter
}

// RepositoryBundle groups all repositories for convenient access.
type RepositoryBundle struct {
	Reports       port.ReportRepository
	Approvals     port.ApprovalRecordRepository
	Audit         port.AuditLogRepository
	Notifications port.NotificationRepository
	Directory     DirectoryStore
}

// DatabaseBundle holds the store chosen by DatabaseConfig.Driver.
type DatabaseBundle struct {
	Driver    string
	TxManager port.TransactionManager
	Repos     *RepositoryBundle

	ping  func(ctx context.Context) error
	close func() error
}

// Ping checks the connection
func (b *DatabaseBundle) Ping(ctx context.Context) error {
	return b.ping(ctx)
}

// Close releases the connection
func (b *DatabaseBundle) Close() error {
	return b.close()
}

// ProvideDatabase opens the configured store, applies pending migrations and
// builds its repositories.
func ProvideDatabase(ctx context.Context, cfg *DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	switch cfg.Driver {
	case DriverPostgres:
		return providePostgres(ctx, cfg, logger)
	case DriverSQLite, "":
		return provideSQLite(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func provideSQLite(ctx context.Context, cfg *DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	db, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		BusyTimeout:     cfg.BusyTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}

	if err := database.NewMigrator(db.DB, logger).Run(ctx, sqlite.Migrations, sqlite.MigrationsDir); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DatabaseBundle{
		Driver:    DriverSQLite,
		TxManager: sqlite.NewDB(db.DB, logger),
		Repos: &RepositoryBundle{
			Reports:       repository.NewReportRepository(db.DB, logger),
			Approvals:     repository.NewApprovalRecordRepository(db.DB, logger),
			Audit:         repository.NewAuditLogRepository(db.DB, logger),
			Notifications: repository.NewNotificationRepository(db.DB, logger),
			Directory:     repository.NewDirectoryRepository(db.DB, logger),
		},
		ping:  db.PingContext,
		close: db.Close,
	}, nil
}

func providePostgres(ctx context.Context, cfg *DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	pool, err := postgres.Open(ctx, postgres.Config{
		DSN:             cfg.DSN,
		MaxConns:        int32(cfg.MaxOpenConns),
		MinConns:        int32(cfg.MaxIdleConns),
		MaxConnLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}

	if err := postgres.Migrate(ctx, pool, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DatabaseBundle{
		Driver:    DriverPostgres,
		TxManager: postgres.NewDB(pool, logger),
		Repos: &RepositoryBundle{
			Reports:       postgres.NewReportRepository(pool, logger),
			Approvals:     postgres.NewApprovalRecordRepository(pool, logger),
			Audit:         postgres.NewAuditLogRepository(pool, logger),
			Notifications: postgres.NewNotificationRepository(pool, logger),
			Directory:     postgres.NewDirectoryRepository(pool, logger),
		},
		ping: pool.Ping,
		close: func() error {
			pool.Close()
			return nil
		},
	}, nil
}

// ProvideDirectorySeed imports the seed file when one is configured
func ProvideDirectorySeed(ctx context.Context, cfg *DirectoryConfig, db *DatabaseBundle, logger *zap.Logger) (int, error) {
	if cfg == nil || cfg.SeedFile == "" {
		return 0, nil
	}

	seed, err := directory.LoadFile(cfg.SeedFile)
	if err != nil {
		return 0, fmt.Errorf("failed to load directory seed: %w", err)
	}
	return directory.Apply(ctx, db.TxManager, db.Repos.Directory, seed, logger)
}

// NotifierBundle holds the dispatcher and the connections its channels own.
type NotifierBundle struct {
	Dispatcher dispatcher.Dispatcher
	Channels   []string
	natsConn   *nats.Conn
}

// Close drains the bus connection, if any
func (b *NotifierBundle) Close() error {
	if b.natsConn == nil {
		return nil
	}
	return b.natsConn.Drain()
}

// ProvideNotifier creates the dispatcher and subscribes the in-app channel
// plus every external channel that is configured.
func ProvideNotifier(cfg *NotificationConfig, repos *RepositoryBundle, logger *zap.Logger) (*NotifierBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("notification config is required")
	}
	if repos == nil {
		return nil, fmt.Errorf("repositories are required")
	}

	disp := dispatcher.NewDispatcher(
		dispatcher.WithLogger(utils.NewKVLogger(logger)),
		dispatcher.WithAsyncNotify(cfg.Async),
		dispatcher.WithAsyncTimeout(cfg.AsyncTimeout),
	)
	bundle := &NotifierBundle{Dispatcher: disp}

	channels := []notify.Channel{notify.NewInApp(repos.Notifications)}

	if cfg.Lark.Enabled {
		client := notify.NewLarkClient(notify.LarkConfig{
			AppID:     cfg.Lark.AppID,
			AppSecret: cfg.Lark.AppSecret,
			Timeout:   cfg.Lark.Timeout,
		})
		channels = append(channels, notify.NewLark(notify.NewLarkSender(client, logger), repos.Directory, logger))
	}

	if cfg.NATS.URL != "" {
		conn, err := notify.ConnectNATS(notify.NATSConfig{URL: cfg.NATS.URL}, logger)
		if err != nil {
			return nil, err
		}
		bundle.natsConn = conn
		channels = append(channels, notify.NewNATS(conn, cfg.NATS.SubjectPrefix, logger))
	}

	if cfg.Webhook.URL != "" {
		hook, err := notify.NewWebhook(notify.WebhookConfig{
			URL:        cfg.Webhook.URL,
			Secret:     cfg.Webhook.Secret,
			Timeout:    cfg.Webhook.Timeout,
			MaxRetries: cfg.Webhook.MaxRetries,
		}, logger)
		if err != nil {
			_ = bundle.Close()
			return nil, err
		}
		channels = append(channels, hook)
	}

	notify.Register(disp, channels...)
	for _, ch := range channels {
		bundle.Channels = append(bundle.Channels, ch.Name())
	}
	logger.Info("Notification channels registered", zap.Strings("channels", bundle.Channels))

	return bundle, nil
}

// WorkflowDeps holds dependencies for creating the workflow engine.
type WorkflowDeps struct {
	Config     *WorkflowConfig
	Cache      *cache.LRU
	DB         *DatabaseBundle
	Dispatcher dispatcher.Dispatcher
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

// ProvideWorkflowEngine creates the approver resolver and the engine.
func ProvideWorkflowEngine(deps *WorkflowDeps) (workflow.Engine, resolver.Resolver, error) {
	if deps == nil || deps.DB == nil || deps.Config == nil {
		return nil, nil, fmt.Errorf("workflow dependencies are required")
	}

	kv := utils.NewKVLogger(deps.Logger)
	repos := deps.DB.Repos

	res := resolver.New(repos.Directory, deps.Cache,
		resolver.WithSuperAdminRole(deps.Config.SuperAdminRole),
		resolver.WithLogger(kv),
	)

	engine := workflow.NewEngine(
		repos.Reports,
		repos.Approvals,
		repos.Audit,
		deps.DB.TxManager,
		res,
		repos.Directory,
		workflow.WithNotifier(deps.Dispatcher),
		workflow.WithCache(deps.Cache),
		workflow.WithLogger(kv),
		workflow.WithMetrics(deps.Metrics),
		workflow.WithSuperAdminRole(deps.Config.SuperAdminRole),
		workflow.WithPrivilegedRoles(deps.Config.PrivilegedRoles...),
		workflow.WithOperationTimeout(deps.Config.RequestTimeout),
	)
	return engine, res, nil
}

// ServiceBundle groups all application services.
type ServiceBundle struct {
	Reports       service.ReportService
	Notifications service.NotificationService
}

// ProvideServices creates the read-side application services.
func ProvideServices(repos *RepositoryBundle, m *metrics.Metrics, logger *zap.Logger) (*ServiceBundle, error) {
	if repos == nil {
		return nil, fmt.Errorf("repositories are required")
	}

	kv := utils.NewKVLogger(logger)
	return &ServiceBundle{
		Reports:       service.NewReportService(repos.Reports, repos.Approvals, repos.Audit, m, kv),
		Notifications: service.NewNotificationService(repos.Notifications, kv),
	}, nil
}

// ProvideWorkers creates the background workers. They are started by the container.
func ProvideWorkers(cfg *MonitorConfig, services *ServiceBundle, logger *zap.Logger) (*worker.Manager, *worker.StaleMonitor) {
	manager := worker.NewManager(logger)
	if cfg == nil || !cfg.Enabled {
		return manager, nil
	}

	monitor := worker.NewStaleMonitor(worker.StaleMonitorConfig{
		Interval:  cfg.Interval,
		Threshold: cfg.Threshold,
	}, services.Reports, logger)
	manager.Register(monitor)
	return manager, monitor
}
