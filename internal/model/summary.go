package model

import "time"

// RunSummary is the contract callers rely on for monitoring a collection run.
// Failures are reported here, not only in logs.
type RunSummary struct {
	RunID          string    `json:"run_id"`
	StartedAt      time.Time `json:"started_at"`
	Duration       float64   `json:"duration_secs"`
	MessagesFound  int       `json:"messages_found"`
	Skipped        int       `json:"skipped_duplicates"`
	NotUpdates     int       `json:"not_updates"`
	NewCompanies   int       `json:"new_companies"`
	NewEmails      int       `json:"new_emails"`
	NewAttachments int       `json:"new_attachments"`
	NewMetrics     int       `json:"new_metrics"`
	Failures       int       `json:"failures"`
	DryRun         bool      `json:"dry_run,omitempty"`
}

// Stats are aggregate database counts for the stats-only command.
type Stats struct {
	PortfolioCompanies    int `json:"portfolio_companies"`
	NonPortfolioCompanies int `json:"non_portfolio_companies"`
	TotalEmails           int `json:"total_emails"`
	EmailsWithAttachments int `json:"emails_with_attachments"`
	TotalAttachments      int `json:"total_attachments"`
	TotalMetrics          int `json:"total_metrics"`
	RecentEmails7d        int `json:"recent_emails_7d"`
}

// AlertType identifies the escalation stage for a quiet portfolio company.
type AlertType string

const (
	AlertOneMonth   AlertType = "1_month"
	AlertTwoMonth   AlertType = "2_month"
	AlertEscalation AlertType = "3_month_escalation"
)

// Alert records a reminder or escalation sent for a company.
type Alert struct {
	ID        int64      `json:"id,omitempty"`
	CompanyID int64      `json:"company_id"`
	Type      AlertType  `json:"alert_type"`
	SentAt    time.Time  `json:"sent_at"`
	Resolved  bool       `json:"resolved"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}
