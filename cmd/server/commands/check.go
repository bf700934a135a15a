package commands

import (
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		cmd.Printf("configuration OK (%s)\n", configSource())
		cmd.Printf("  listen:    %s\n", cfg.Server.Listen)
		cmd.Printf("  prefix:    %q\n", cfg.Server.Prefix)
		cmd.Printf("  backend:   %s\n", cfg.Backend.Type)
		cmd.Printf("  reconcile: %s\n", cfg.Reconcile.Type)
		cmd.Printf("  secrets:   %s\n", cfg.Secrets.Source)
		return nil
	},
}
