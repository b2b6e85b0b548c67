package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ShupingR/tweener-portco-email-alert/internal/config"
	"github.com/ShupingR/tweener-portco-email-alert/internal/model"
	"github.com/ShupingR/tweener-portco-email-alert/internal/resilience"
	"github.com/ShupingR/tweener-portco-email-alert/pkg/anthropic"
)

const systemPrompt = `You are a financial analyst extracting metrics from portfolio company investor updates.

Rules:
- Extract ONLY metrics explicitly stated in the text. Never compute, infer, or annualize.
- Preserve the EXACT formatting the source uses: "$1.2M" stays "$1.2M", "~$8.000M" stays "~$8.000M", "24+ months" stays "24+ months".
- Use "N/A" for any metric the text does not mention.
- reporting_period is the period the update covers as written (e.g. "May 2025", "Q2 2025").
- reporting_date is the last day of that period in YYYY-MM-DD form, or "N/A" if the period is unclear.
- confidence is "high", "medium", or "low" for the extraction as a whole.
- Respond with ONLY a valid JSON object, no prose, no markdown fences.`

const userPromptFormat = `Company: %s
Source: %s

Text:
%s

Respond with ONLY valid JSON in this format:
{
  "reporting_period": "<period as written or N/A>",
  "reporting_date": "<YYYY-MM-DD or N/A>",
  "mrr": "<value or N/A>",
  "arr": "<value or N/A>",
  "qrr": "<value or N/A>",
  "total_revenue": "<value or N/A>",
  "gross_revenue": "<value or N/A>",
  "net_revenue": "<value or N/A>",
  "mrr_growth": "<value or N/A>",
  "arr_growth": "<value or N/A>",
  "revenue_growth_yoy": "<value or N/A>",
  "revenue_growth_mom": "<value or N/A>",
  "cash_balance": "<value or N/A>",
  "net_burn": "<value or N/A>",
  "gross_burn": "<value or N/A>",
  "runway_months": "<value or N/A>",
  "gross_margin": "<value or N/A>",
  "ebitda": "<value or N/A>",
  "ebitda_margin": "<value or N/A>",
  "net_income": "<value or N/A>",
  "customer_count": "<value or N/A>",
  "new_customers": "<value or N/A>",
  "churn_rate": "<value or N/A>",
  "ltv": "<value or N/A>",
  "cac": "<value or N/A>",
  "team_size": "<value or N/A>",
  "bookings": "<value or N/A>",
  "pipeline": "<value or N/A>",
  "key_highlights": "<short summary or N/A>",
  "key_challenges": "<short summary or N/A>",
  "funding_status": "<short summary or N/A>",
  "confidence": "<high|medium|low>",
  "extraction_notes": "<caveats or N/A>"
}`

// minPopulatedFields is the threshold below which a decoded extraction is
// recorded as partial instead of success.
const minPopulatedFields = 1

// Extractor pulls financial metrics out of one text source per model call.
type Extractor struct {
	ai    anthropic.Client
	cfg   config.AnthropicConfig
	retry resilience.RetryConfig
}

// New creates an Extractor.
func New(ai anthropic.Client, cfg config.AnthropicConfig) *Extractor {
	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = resilience.Attempts(cfg.MaxRetries)
	retry.OnRetry = resilience.RetryLogger("metrics")
	return &Extractor{ai: ai, cfg: cfg, retry: retry}
}

// Result bundles the metrics row (nil when extraction failed) with the audit
// record for the attempt. The audit record is always present.
type Result struct {
	Metrics *model.FinancialMetrics
	Audit   model.MetricExtraction
	Usage   anthropic.TokenUsage
}

// Extract runs one extraction over one source. sourceFile is empty for the
// email body. A model or parse failure is reported inside the Result audit
// record, not as an error: the caller decides whether to keep going.
func (e *Extractor) Extract(ctx context.Context, companyName, sourceFile, text string) Result {
	sourceLabel := "email body"
	sourceType := model.SourceEmail
	if sourceFile != "" {
		sourceLabel = "attachment " + sourceFile
		sourceType = model.SourceAttachment
	}

	prompt := fmt.Sprintf(userPromptFormat, companyName, sourceLabel, text)

	resp, attempts, err := resilience.DoVal(ctx, e.retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return e.ai.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     e.cfg.Model,
			MaxTokens: e.cfg.ExtractTokens,
			System:    systemPrompt,
			Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
		})
	})
	if err != nil {
		zap.L().Warn("metrics: model call failed",
			zap.String("source", sourceLabel),
			zap.Int("attempts", attempts+1),
			zap.Error(err),
		)
		return Result{Audit: model.MetricExtraction{
			SourceFile:   sourceFile,
			Status:       model.ExtractionFailed,
			ErrorMessage: err.Error(),
			RetryCount:   attempts,
			ExtractedAt:  time.Now().UTC(),
		}}
	}

	m, populated, parseErr := parseMetrics(resp.Text)
	if parseErr != nil {
		return Result{
			Audit: model.MetricExtraction{
				SourceFile:   sourceFile,
				Status:       model.ExtractionFailed,
				RawOutput:    resp.Text,
				ErrorMessage: parseErr.Error(),
				RetryCount:   attempts,
				ExtractedAt:  time.Now().UTC(),
			},
			Usage: resp.Usage,
		}
	}

	m.SourceType = sourceType
	m.SourceFile = sourceFile
	m.ExtractedAt = time.Now().UTC()

	status := model.ExtractionSuccess
	if populated < minPopulatedFields {
		status = model.ExtractionPartial
	}

	return Result{
		Metrics: m,
		Audit: model.MetricExtraction{
			SourceFile:  sourceFile,
			Status:      status,
			RawOutput:   resp.Text,
			RetryCount:  attempts,
			ExtractedAt: time.Now().UTC(),
		},
		Usage: resp.Usage,
	}
}

// parseMetrics decodes the model output into a metrics row, mapping "N/A" to
// the empty string. Returns the count of populated metric fields.
func parseMetrics(text string) (*model.FinancialMetrics, int, error) {
	text = cleanJSON(text)

	// UseNumber keeps bare numeric values verbatim when the model ignores
	// the quote-everything instruction.
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, 0, eris.Wrap(err, "metrics: parse output")
	}

	get := func(key string) string {
		var v string
		switch val := raw[key].(type) {
		case string:
			v = val
		case json.Number:
			v = val.String()
		case nil:
			return ""
		default:
			return ""
		}
		v = strings.TrimSpace(v)
		if strings.EqualFold(v, "N/A") {
			return ""
		}
		return v
	}

	m := &model.FinancialMetrics{
		ReportingPeriod:  get("reporting_period"),
		MRR:              get("mrr"),
		ARR:              get("arr"),
		QRR:              get("qrr"),
		TotalRevenue:     get("total_revenue"),
		GrossRevenue:     get("gross_revenue"),
		NetRevenue:       get("net_revenue"),
		MRRGrowth:        get("mrr_growth"),
		ARRGrowth:        get("arr_growth"),
		RevenueGrowthYoY: get("revenue_growth_yoy"),
		RevenueGrowthMoM: get("revenue_growth_mom"),
		CashBalance:      get("cash_balance"),
		NetBurn:          get("net_burn"),
		GrossBurn:        get("gross_burn"),
		RunwayMonths:     get("runway_months"),
		GrossMargin:      get("gross_margin"),
		EBITDA:           get("ebitda"),
		EBITDAMargin:     get("ebitda_margin"),
		NetIncome:        get("net_income"),
		CustomerCount:    get("customer_count"),
		NewCustomers:     get("new_customers"),
		ChurnRate:        get("churn_rate"),
		LTV:              get("ltv"),
		CAC:              get("cac"),
		TeamSize:         get("team_size"),
		Bookings:         get("bookings"),
		Pipeline:         get("pipeline"),
		KeyHighlights:    get("key_highlights"),
		KeyChallenges:    get("key_challenges"),
		FundingStatus:    get("funding_status"),
		ExtractionNotes:  get("extraction_notes"),
	}

	if d := get("reporting_date"); d != "" {
		if parsed, err := time.Parse("2006-01-02", d); err == nil {
			m.ReportingDate = &parsed
		}
	}

	switch strings.ToLower(get("confidence")) {
	case "high":
		m.Confidence = model.ConfidenceHigh
	case "medium":
		m.Confidence = model.ConfidenceMedium
	default:
		m.Confidence = model.ConfidenceLow
	}

	return m, populatedCount(m), nil
}

// populatedCount counts non-empty metric fields, excluding bookkeeping.
func populatedCount(m *model.FinancialMetrics) int {
	fields := []string{
		m.MRR, m.ARR, m.QRR, m.TotalRevenue, m.GrossRevenue, m.NetRevenue,
		m.MRRGrowth, m.ARRGrowth, m.RevenueGrowthYoY, m.RevenueGrowthMoM,
		m.CashBalance, m.NetBurn, m.GrossBurn, m.RunwayMonths,
		m.GrossMargin, m.EBITDA, m.EBITDAMargin, m.NetIncome,
		m.CustomerCount, m.NewCustomers, m.ChurnRate, m.LTV, m.CAC,
		m.TeamSize, m.Bookings, m.Pipeline,
		m.KeyHighlights, m.KeyChallenges, m.FundingStatus,
	}
	n := 0
	for _, f := range fields {
		if f != "" {
			n++
		}
	}
	return n
}

// cleanJSON strips markdown fences and extracts the JSON object.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}
