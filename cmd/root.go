package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nurisoft/contractdesk/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "contractdesk",
	Short: "Contract extraction and payment scheduling service",
	Long:  "Extracts fields from uploaded contract documents (regex or Claude vision), flags low-confidence fields for review, and derives payment schedules from contract-type templates.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
