package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/afero"

	"github.com/meshvault/meshvault/cmd"
	"github.com/meshvault/meshvault/pkg/environment"
	"github.com/meshvault/meshvault/pkg/logging"
)

func main() {
	// A local .env is optional; the process environment wins either way.
	_ = godotenv.Load()

	fs := afero.NewOsFs()
	logger := logging.GetLogger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupSignalHandler(cancel, logger)

	env, err := environment.NewEnvironment(fs, nil)
	if err != nil {
		logger.Error("failed to load environment", "error", err)
		os.Exit(1)
	}

	rootCmd := cmd.NewRootCommand(fs, ctx, env, logger)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func setupSignalHandler(cancel context.CancelFunc, logger *logging.Logger) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-signals
		logger.Debug("received signal, shutting down", "signal", sig)
		cancel()
	}()
}
