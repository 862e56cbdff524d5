// Command retainer computes, for every project and environment, the most
// recently deployed release versions to retain.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to config file")
	serve := flag.Bool("serve", false, "Serve the HTTP API after the first load (overrides server.enabled)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	// Handle version flag
	if *showVersion {
		fmt.Printf("retainer %s (built %s)\n", Version, BuildTime)
		return ExitSuccess
	}

	// Load configuration
	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return ExitConfigError
	}
	if *serve {
		cfg.Server.Enabled = true
	}

	// Logs go to stderr so that the report on stdout stays clean.
	logger := SetupLogger(cfg, os.Stderr)
	logger.Info("starting retainer",
		"version", Version,
		"config", *configPath,
		"source", cfg.Source.Kind,
		"amount_of_releases", cfg.Retention.AmountOfReleases,
	)

	app, err := NewApp(cfg, logger, os.Stdout)
	if err != nil {
		return exitCode(logger, "failed to create app", err)
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx); err != nil {
		return exitCode(logger, "retainer failed", err)
	}

	return ExitSuccess
}

func exitCode(logger *slog.Logger, msg string, err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		logger.Error(msg,
			"error", appErr.Err,
			"operation", appErr.Op,
		)
		return appErr.ExitCode
	}
	logger.Error(msg, "error", err)
	return ExitConfigError
}
