package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ShupingR/tweener-portco-email-alert/internal/classify"
	"github.com/ShupingR/tweener-portco-email-alert/internal/collector"
	"github.com/ShupingR/tweener-portco-email-alert/internal/mailbox"
	"github.com/ShupingR/tweener-portco-email-alert/internal/metrics"
	"github.com/ShupingR/tweener-portco-email-alert/pkg/anthropic"
)

var (
	collectDays   int
	collectDryRun bool
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Fetch and process forwarded updates from the mailbox",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if collectDays < 1 || collectDays > 365 {
			return eris.Errorf("--days must be between 1 and 365, got %d", collectDays)
		}
		if cfg.Anthropic.Key == "" {
			return eris.New("anthropic api key is required (TWEENER_ANTHROPIC_KEY)")
		}
		if cfg.Mailbox.Username == "" || cfg.Mailbox.Password == "" {
			return eris.New("mailbox credentials are required (TWEENER_MAILBOX_USERNAME / TWEENER_MAILBOX_PASSWORD)")
		}
		if len(cfg.Mailbox.Forwarders) == 0 {
			return eris.New("at least one forwarder address is required (TWEENER_MAILBOX_FORWARDERS)")
		}

		st, err := openStore(ctx, cfg.Store)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer st.Close()

		mb, err := mailbox.DialIMAP(mailbox.IMAPConfig{
			Server:     cfg.Mailbox.IMAPServer,
			Port:       cfg.Mailbox.IMAPPort,
			Username:   cfg.Mailbox.Username,
			Password:   cfg.Mailbox.Password,
			Forwarders: cfg.Mailbox.Forwarders,
			Timeout:    time.Duration(cfg.Mailbox.TimeoutSecs) * time.Second,
		})
		if err != nil {
			return eris.Wrap(err, "connect mailbox")
		}
		defer mb.Close()

		ai := anthropic.NewClient(cfg.Anthropic.Key)
		col := collector.New(st, mb,
			classify.New(ai, cfg.Anthropic),
			metrics.New(ai, cfg.Anthropic),
			cfg.Collector,
			cfg.Anthropic.Model,
		)
		col.DryRun = collectDryRun

		summary, err := col.Run(ctx, collectDays)
		if err != nil {
			return eris.Wrap(err, "collection run")
		}

		out, err := json.MarshalIndent(summary, "", "  ")
		if err != nil {
			return eris.Wrap(err, "marshal summary")
		}
		fmt.Println(string(out))

		if summary.Failures > 0 {
			zap.L().Warn("run finished with failures", zap.Int("failures", summary.Failures))
		}
		return nil
	},
}

func init() {
	collectCmd.Flags().IntVar(&collectDays, "days", 7, "lookback window in days (1-365)")
	collectCmd.Flags().BoolVar(&collectDryRun, "dry-run", false, "process without writing to the database or disk")
	rootCmd.AddCommand(collectCmd)
}
