package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/rhadityaaa/ewd-tools/internal/config"
	"github.com/rhadityaaa/ewd-tools/internal/container"
	httpapi "github.com/rhadityaaa/ewd-tools/internal/interfaces/http"
	"github.com/rhadityaaa/ewd-tools/pkg/utils"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting EWD approval workflow service",
		zap.String("database_driver", cfg.Database.Driver),
		zap.Int("port", cfg.Server.Port))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := container.NewContainer(cfg.ToContainerConfig(), logger)
	if err != nil {
		logger.Fatal("Failed to create container", zap.Error(err))
	}

	startCtx, cancel := context.WithTimeout(ctx, time.Minute)
	err = c.Start(startCtx)
	cancel()
	if err != nil {
		logger.Fatal("Failed to start container", zap.Error(err))
	}

	// SIGHUP drops cached approver assignments, e.g. after seed-directory ran
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				if err := c.InvalidateAssignments(); err != nil {
					logger.Error("Failed to drop cached assignments", zap.Error(err))
				}
			}
		}
	}()

	services := c.Services()
	server := httpapi.NewServer(cfg.ToServerConfig(), httpapi.Dependencies{
		Engine:         c.WorkflowEngine(),
		Reports:        services.Reports,
		Notifications:  services.Notifications,
		Directory:      c.Repositories().Directory,
		Metrics:        c.Metrics(),
		MetricsHandler: c.Metrics().Handler(),
		Health: func(ctx context.Context) (bool, interface{}) {
			status := c.Health(ctx)
			return status.Overall, status.Components
		},
	}, utils.NewKVLogger(logger))

	// Start blocks until SIGINT/SIGTERM or a listener failure
	if err := server.Start(ctx); err != nil {
		logger.Error("HTTP server stopped with error", zap.Error(err))
	}

	logger.Info("Shutting down...")
	if err := c.Close(); err != nil {
		logger.Error("Container shutdown finished with errors", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("Server exited successfully")
}
