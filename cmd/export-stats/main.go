// Command export-stats writes the approval statistics workbook for a period
// into export.dir.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/rhadityaaa/ewd-tools/internal/application/service"
	"github.com/rhadityaaa/ewd-tools/internal/config"
	"github.com/rhadityaaa/ewd-tools/internal/container"
	"github.com/rhadityaaa/ewd-tools/internal/infrastructure/metrics"
	"github.com/rhadityaaa/ewd-tools/pkg/utils"
)

func main() {
	configPath := flag.StringP("config", "c", "configs/config.yaml", "path to the configuration file")
	periodFlag := flag.StringP("period", "p", "all", "statistics period: week, month, quarter, year or all")
	outDir := flag.StringP("out", "o", "", "output directory (defaults to export.dir)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	period, err := service.ParsePeriod(*periodFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid period: %v\n", err)
		os.Exit(2)
	}

	dir := cfg.Export.Dir
	if *outDir != "" {
		dir = *outDir
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: "stderr",
		Format:     "console",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	path, err := export(ctx, cfg, period, dir, logger)
	if err != nil {
		logger.Error("Export failed", zap.Error(err))
		os.Exit(1)
	}
	fmt.Println(path)
}

func export(ctx context.Context, cfg *config.Config, period service.Period, dir string, logger *zap.Logger) (string, error) {
	cc := cfg.ToContainerConfig()
	db, err := container.ProvideDatabase(ctx, &cc.Database, logger)
	if err != nil {
		return "", fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	services, err := container.ProvideServices(db.Repos, metrics.New(), logger)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}

	name := fmt.Sprintf("approval-report-%s-%s.xlsx", period, time.Now().Format("20060102"))
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}
	if err := services.Reports.Export(ctx, f, period); err != nil {
		f.Close()
		_ = os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", path, err)
	}

	logger.Info("Statistics exported", zap.String("period", string(period)), zap.String("path", path))
	return path, nil
}
