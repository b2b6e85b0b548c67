package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ShupingR/tweener-portco-email-alert/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "portco-tracker",
	Short: "Portfolio company update tracker",
	Long:  "Collects forwarded portfolio company updates from a shared mailbox, classifies them with Claude, extracts financial metrics, and nags quiet companies.",
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
