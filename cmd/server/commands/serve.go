package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jun/gophdav/internal/app"
	"github.com/jun/gophdav/internal/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the WebDAV gateway",
	Long: `Run the WebDAV gateway in the foreground until SIGINT or SIGTERM.

Examples:
  # Serve with the default config location
  gophdav serve

  # Serve an alternate config on another port
  gophdav serve --config /etc/gophdav/config.yaml --listen :9000

  # Override any setting from the environment
  GOPHDAV_LOGGING_LEVEL=DEBUG gophdav serve`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("listen", "", "listen address (overrides server.listen)")
	serveCmd.Flags().String("prefix", "", "URL path prefix (overrides server.prefix)")
	serveCmd.Flags().String("backend", "", "backend type: rest, googledrive or memory (overrides backend.type)")
	_ = flags.BindPFlag("server.listen", serveCmd.Flags().Lookup("listen"))
	_ = flags.BindPFlag("server.prefix", serveCmd.Flags().Lookup("prefix"))
	_ = flags.BindPFlag("backend.type", serveCmd.Flags().Lookup("backend"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}
	logger.Info("Configuration loaded", "source", configSource(), "version", Version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize gateway: %w", err)
	}

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- gw.Serve(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()
		if err := <-serverDone; err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		logger.Info("Server stopped gracefully")
	case err := <-serverDone:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		logger.Info("Server stopped")
	}
	return nil
}
