// Package commands implements the gophdav server CLI.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jun/gophdav/internal/config"
	"github.com/jun/gophdav/internal/logger"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	cfgFile string

	// flags holds flag bindings; LoadWith reads them ahead of env and file.
	flags = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "gophdav",
	Short: "gophdav - WebDAV gateway for workspace file services",
	Long: `gophdav exposes workspace-partitioned file services over WebDAV so
desktop clients can mount them as network drives.

Use "gophdav [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called once by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/gophdav/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(checkCmd)
}

// loadConfig reads configuration with command-line overrides applied.
func loadConfig() (*config.Config, error) {
	return config.LoadWith(flags, cfgFile)
}

// InitLogger initializes the structured logger from configuration.
func InitLogger(cfg *config.Config) error {
	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

func configSource() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultConfigPath()
}
