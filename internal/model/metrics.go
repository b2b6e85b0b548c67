package model

import "time"

// Confidence is the extraction confidence band reported by the model.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// SourceType identifies which part of a message a metrics record came from.
type SourceType string

const (
	SourceEmail      SourceType = "email"
	SourceAttachment SourceType = "attachment"
)

// FinancialMetrics is one extraction pass over one source (email body or one
// attachment). Metric values are kept as the original formatted strings the
// source presented ("$1.2M", "~$8.000M", "24+ months"); empty string means the
// source did not mention the metric. Rows are append-only: a prior extraction
// for the same (email, source) pair is never overwritten.
type FinancialMetrics struct {
	ID            int64 `json:"id,omitempty"`
	CompanyID     int64 `json:"company_id"`
	EmailUpdateID int64 `json:"email_update_id"`

	ReportingPeriod string     `json:"reporting_period,omitempty"`
	ReportingDate   *time.Time `json:"reporting_date,omitempty"`
	ExtractedAt     time.Time  `json:"extracted_at,omitempty"`

	// Revenue
	MRR          string `json:"mrr,omitempty"`
	ARR          string `json:"arr,omitempty"`
	QRR          string `json:"qrr,omitempty"`
	TotalRevenue string `json:"total_revenue,omitempty"`
	GrossRevenue string `json:"gross_revenue,omitempty"`
	NetRevenue   string `json:"net_revenue,omitempty"`

	// Growth
	MRRGrowth        string `json:"mrr_growth,omitempty"`
	ARRGrowth        string `json:"arr_growth,omitempty"`
	RevenueGrowthYoY string `json:"revenue_growth_yoy,omitempty"`
	RevenueGrowthMoM string `json:"revenue_growth_mom,omitempty"`

	// Financial health
	CashBalance  string `json:"cash_balance,omitempty"`
	NetBurn      string `json:"net_burn,omitempty"`
	GrossBurn    string `json:"gross_burn,omitempty"`
	RunwayMonths string `json:"runway_months,omitempty"`

	// Profitability
	GrossMargin  string `json:"gross_margin,omitempty"`
	EBITDA       string `json:"ebitda,omitempty"`
	EBITDAMargin string `json:"ebitda_margin,omitempty"`
	NetIncome    string `json:"net_income,omitempty"`

	// Customers
	CustomerCount string `json:"customer_count,omitempty"`
	NewCustomers  string `json:"new_customers,omitempty"`
	ChurnRate     string `json:"churn_rate,omitempty"`
	LTV           string `json:"ltv,omitempty"`
	CAC           string `json:"cac,omitempty"`

	// Operational
	TeamSize string `json:"team_size,omitempty"`
	Bookings string `json:"bookings,omitempty"`
	Pipeline string `json:"pipeline,omitempty"`

	// Narrative
	KeyHighlights string `json:"key_highlights,omitempty"`
	KeyChallenges string `json:"key_challenges,omitempty"`
	FundingStatus string `json:"funding_status,omitempty"`

	SourceType      SourceType `json:"source_type"`
	SourceFile      string     `json:"source_file,omitempty"`
	Confidence      Confidence `json:"extraction_confidence"`
	ExtractionNotes string     `json:"extraction_notes,omitempty"`
}

// ExtractionStatus is the outcome of a single extraction attempt.
type ExtractionStatus string

const (
	ExtractionSuccess ExtractionStatus = "success"
	ExtractionPartial ExtractionStatus = "partial"
	ExtractionFailed  ExtractionStatus = "failed"
)

// MetricExtraction is the audit record for one extraction attempt, kept even
// when the attempt fails so operators can inspect the raw model output.
type MetricExtraction struct {
	ID            int64            `json:"id,omitempty"`
	EmailUpdateID int64            `json:"email_update_id"`
	SourceFile    string           `json:"source_file,omitempty"` // empty for body extractions
	Status        ExtractionStatus `json:"status"`
	RawOutput     string           `json:"raw_output,omitempty"`
	ErrorMessage  string           `json:"error_message,omitempty"`
	RetryCount    int              `json:"retry_count"`
	ExtractedAt   time.Time        `json:"extracted_at,omitempty"`
}
