package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ShupingR/tweener-portco-email-alert/internal/config"
	"github.com/ShupingR/tweener-portco-email-alert/internal/model"
	"github.com/ShupingR/tweener-portco-email-alert/internal/store"
)

// Escalation thresholds in days since the last received update.
const (
	oneMonthDays   = 31
	twoMonthDays   = 62
	escalationDays = 93
)

// Mailer sends one alert email. The SMTP implementation lives in smtp.go;
// tests substitute a recorder.
type Mailer interface {
	Send(ctx context.Context, to []string, subject, body string) error
}

// Pending is one alert that is due for a quiet portfolio company.
type Pending struct {
	Company    model.Company
	Type       model.AlertType
	AgeDays    int
	Recipients []string
}

// Alerter decides which quiet-company alerts are due and sends them.
type Alerter struct {
	store  store.Store
	mailer Mailer
	cfg    config.AlertsConfig

	now func() time.Time
}

// New creates an Alerter.
func New(st store.Store, mailer Mailer, cfg config.AlertsConfig) *Alerter {
	return &Alerter{store: st, mailer: mailer, cfg: cfg, now: time.Now}
}

// Check returns the alerts currently due, without sending anything. A company
// with an unresolved alert at the same or a later stage is suppressed; it only
// becomes due again when it crosses the next threshold.
func (a *Alerter) Check(ctx context.Context) ([]Pending, error) {
	now := a.now().UTC()
	stale, err := a.store.StaleCompanies(ctx, now.AddDate(0, 0, -oneMonthDays))
	if err != nil {
		return nil, eris.Wrap(err, "alerts: list stale companies")
	}

	var due []Pending
	for _, co := range stale {
		baseline := co.CreatedAt
		if co.LastUpdateAt != nil {
			baseline = *co.LastUpdateAt
		}
		ageDays := int(now.Sub(baseline).Hours() / 24)

		alertType, ok := stageFor(ageDays)
		if !ok {
			continue
		}

		open, err := a.store.UnresolvedAlerts(ctx, co.ID)
		if err != nil {
			return nil, eris.Wrapf(err, "alerts: unresolved for company %d", co.ID)
		}
		if suppressed(alertType, open) {
			continue
		}

		recipients, err := a.recipients(ctx, co, alertType)
		if err != nil {
			return nil, err
		}
		due = append(due, Pending{
			Company:    co,
			Type:       alertType,
			AgeDays:    ageDays,
			Recipients: recipients,
		})
	}
	return due, nil
}

// Send dispatches every due alert and records it. A send failure for one
// company is logged and skipped; the rest still go out.
func (a *Alerter) Send(ctx context.Context) (int, error) {
	due, err := a.Check(ctx)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, p := range due {
		if len(p.Recipients) == 0 {
			zap.L().Warn("alerts: no recipients, skipping",
				zap.String("company", p.Company.Name),
				zap.String("type", string(p.Type)),
			)
			continue
		}

		subject, body := compose(p)
		if err := a.mailer.Send(ctx, p.Recipients, subject, body); err != nil {
			zap.L().Warn("alerts: send failed",
				zap.String("company", p.Company.Name),
				zap.Error(err),
			)
			continue
		}

		if _, err := a.store.CreateAlert(ctx, model.Alert{
			CompanyID: p.Company.ID,
			Type:      p.Type,
			SentAt:    a.now().UTC(),
		}); err != nil {
			return sent, eris.Wrapf(err, "alerts: record alert for %s", p.Company.Name)
		}

		sent++
		zap.L().Info("alerts: sent",
			zap.String("company", p.Company.Name),
			zap.String("type", string(p.Type)),
			zap.Int("age_days", p.AgeDays),
		)
	}
	return sent, nil
}

// stageFor maps update age to the escalation stage it has reached.
func stageFor(ageDays int) (model.AlertType, bool) {
	switch {
	case ageDays >= escalationDays:
		return model.AlertEscalation, true
	case ageDays >= twoMonthDays:
		return model.AlertTwoMonth, true
	case ageDays >= oneMonthDays:
		return model.AlertOneMonth, true
	default:
		return "", false
	}
}

// stageRank orders alert stages for suppression comparisons.
func stageRank(t model.AlertType) int {
	switch t {
	case model.AlertOneMonth:
		return 1
	case model.AlertTwoMonth:
		return 2
	case model.AlertEscalation:
		return 3
	default:
		return 0
	}
}

// suppressed reports whether an unresolved alert already covers this stage.
func suppressed(due model.AlertType, open []model.Alert) bool {
	for _, a := range open {
		if stageRank(a.Type) >= stageRank(due) {
			return true
		}
	}
	return false
}

// recipients picks addressees by stage: reminders go to the company's
// contacts, escalations go to the GPs. Companies without contacts fall back
// to the GP list so a reminder is never silently dropped.
func (a *Alerter) recipients(ctx context.Context, co model.Company, alertType model.AlertType) ([]string, error) {
	if alertType == model.AlertEscalation {
		return a.cfg.GPEmails, nil
	}

	contacts, err := a.store.CompanyContacts(ctx, co.ID)
	if err != nil {
		return nil, eris.Wrapf(err, "alerts: contacts for %s", co.Name)
	}
	var out []string
	for _, c := range contacts {
		out = append(out, c.Email)
	}
	if len(out) == 0 {
		out = a.cfg.GPEmails
	}
	return out, nil
}

func compose(p Pending) (subject, body string) {
	switch p.Type {
	case model.AlertEscalation:
		subject = fmt.Sprintf("Escalation: no update from %s in %d days", p.Company.Name, p.AgeDays)
		body = fmt.Sprintf("%s has not sent an investor update in %d days despite two reminders. Recommend a direct call with the founders.\n", p.Company.Name, p.AgeDays)
	case model.AlertTwoMonth:
		subject = fmt.Sprintf("Second reminder: %s investor update", p.Company.Name)
		body = fmt.Sprintf("Hi,\n\nFollowing up again: we have not received an investor update from %s in %d days. Please send one when you can.\n\nThanks,\nTweener Fund\n", p.Company.Name, p.AgeDays)
	default:
		subject = fmt.Sprintf("Reminder: %s investor update", p.Company.Name)
		body = fmt.Sprintf("Hi,\n\nA friendly reminder that we have not received an investor update from %s in about a month. A short email with your key numbers is perfect.\n\nThanks,\nTweener Fund\n", p.Company.Name)
	}
	return subject, body
}
