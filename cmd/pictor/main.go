package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/pictor/internal/app"
	"github.com/ternarybob/pictor/internal/common"
)

var (
	configPath   = flag.String("config", "", "Configuration file path")
	configPathC  = flag.String("c", "", "Configuration file path (shorthand)")
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")
)

func main() {
	common.InstallCrashHandler("logs")
	defer common.RecoverWithCrashFile()

	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("Pictor version %s\n", common.GetFullVersion())
		os.Exit(0)
	}

	path := *configPath
	if path == "" {
		path = *configPathC
	}

	// Auto-discover config file if not specified
	if path == "" {
		if _, err := os.Stat("pictor.toml"); err == nil {
			path = "pictor.toml"
		} else if _, err := os.Stat("deployments/local/pictor.toml"); err == nil {
			path = "deployments/local/pictor.toml"
		}
	}

	// Startup sequence (REQUIRED ORDER):
	// 1. Load config (defaults -> file -> env)
	// 2. Initialize logger
	// 3. Print banner
	config, err := common.LoadFromFile(path)
	if err != nil {
		// Use temporary logger for startup errors
		tempLogger := arbor.NewLogger()
		tempLogger.Fatal().Str("path", path).Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}

	logger := common.InitLogger(config)
	common.PrintBanner(common.GetVersion())

	logger.Info().
		Str("config_file", path).
		Str("backend", config.Backend.BaseURL).
		Str("log_level", config.Logging.Level).
		Msg("Application configuration loaded")

	application, err := app.New(config, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize application")
	}

	if err := application.Start(context.Background()); err != nil {
		if closeErr := application.Close(); closeErr != nil {
			logger.Warn().Err(closeErr).Msg("Cleanup after failed start reported errors")
		}
		logger.Fatal().Err(err).Msg("Failed to start application")
	}

	logger.Info().
		Str("version", common.GetVersion()).
		Msg("Pictor online - Press Ctrl+C to stop")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("Interrupt signal received")

	// Graceful shutdown: the running job is cancelled, queued entries
	// stay persisted for the next boot
	if err := application.Close(); err != nil {
		logger.Error().Err(err).Msg("Shutdown reported errors")
	}

	logger.Info().Msg("Pictor stopped")
}
