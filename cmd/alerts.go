package main

import (
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ShupingR/tweener-portco-email-alert/internal/alerts"
)

var alertsSend bool

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Check for quiet portfolio companies and send reminders",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, cfg.Store)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer st.Close()

		mailer := alerts.NewSMTPMailer(cfg.Alerts, cfg.Mailbox.Username, cfg.Mailbox.Password)
		al := alerts.New(st, mailer, cfg.Alerts)

		if !alertsSend {
			due, err := al.Check(ctx)
			if err != nil {
				return eris.Wrap(err, "check alerts")
			}
			out, err := json.MarshalIndent(due, "", "  ")
			if err != nil {
				return eris.Wrap(err, "marshal pending alerts")
			}
			fmt.Println(string(out))
			return nil
		}

		if cfg.Mailbox.Username == "" || cfg.Mailbox.Password == "" {
			return eris.New("mailbox credentials are required to send alerts")
		}
		sent, err := al.Send(ctx)
		if err != nil {
			return eris.Wrap(err, "send alerts")
		}
		zap.L().Info("alerts dispatched", zap.Int("sent", sent))
		return nil
	},
}

func init() {
	alertsCmd.Flags().BoolVar(&alertsSend, "send", false, "send due alerts instead of only listing them")
	rootCmd.AddCommand(alertsCmd)
}
