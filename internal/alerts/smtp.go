package alerts

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/ShupingR/tweener-portco-email-alert/internal/config"
)

// SMTPMailer sends alert mail through a submission server (port 587 with
// STARTTLS for Gmail).
type SMTPMailer struct {
	cfg      config.AlertsConfig
	username string
	password string
}

// NewSMTPMailer creates a mailer reusing the mailbox account credentials.
func NewSMTPMailer(cfg config.AlertsConfig, username, password string) *SMTPMailer {
	return &SMTPMailer{cfg: cfg, username: username, password: password}
}

func (m *SMTPMailer) Send(ctx context.Context, to []string, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "alerts: send cancelled")
	}

	addr := fmt.Sprintf("%s:%d", m.cfg.SMTPServer, m.cfg.SMTPPort)
	auth := smtp.PlainAuth("", m.username, m.password, m.cfg.SMTPServer)

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", m.username)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)

	if err := smtp.SendMail(addr, auth, m.username, to, []byte(msg.String())); err != nil {
		return eris.Wrapf(err, "alerts: smtp send to %s", strings.Join(to, ","))
	}
	return nil
}
