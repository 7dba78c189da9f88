// Command seed-directory imports users and roles from a YAML file into the
// configured database.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/rhadityaaa/ewd-tools/internal/config"
	"github.com/rhadityaaa/ewd-tools/internal/container"
	"github.com/rhadityaaa/ewd-tools/pkg/utils"
)

func main() {
	configPath := flag.StringP("config", "c", "configs/config.yaml", "path to the configuration file")
	seedFile := flag.StringP("file", "f", "", "directory seed file (defaults to directory.seed_file)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *seedFile != "" {
		cfg.Directory.SeedFile = *seedFile
	}
	if cfg.Directory.SeedFile == "" {
		fmt.Fprintln(os.Stderr, "No seed file given; use --file or set directory.seed_file")
		os.Exit(2)
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

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	cc := cfg.ToContainerConfig()
	db, err := container.ProvideDatabase(ctx, &cc.Database, logger)
	if err != nil {
		logger.Fatal("Failed to open database", zap.Error(err))
	}
	defer db.Close()

	n, err := container.ProvideDirectorySeed(ctx, &cc.Directory, db, logger)
	if err != nil {
		logger.Error("Directory seed failed", zap.String("file", cc.Directory.SeedFile), zap.Error(err))
		os.Exit(1)
	}

	fmt.Printf("imported %d users from %s\n", n, cc.Directory.SeedFile)
	fmt.Println("send SIGHUP to a running server so it drops cached approver assignments")
}
