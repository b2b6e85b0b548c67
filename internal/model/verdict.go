package model

// Verdict is the structured classification result for one email.
type Verdict struct {
	IsCompanyUpdate    bool     `json:"is_company_update"`
	CompanyName        string   `json:"company_name"`
	IsPortfolioCompany bool     `json:"is_portfolio_company"`
	Confidence         float64  `json:"confidence"`
	OriginalSender     string   `json:"original_sender,omitempty"`
	UpdateType         string   `json:"update_type,omitempty"`
	KeyTopics          []string `json:"key_topics,omitempty"`
	Summary            string   `json:"summary,omitempty"`
	Reasoning          string   `json:"reasoning,omitempty"`
}

// ConfidenceBand maps the model's 0..1 confidence score to the persisted
// high/medium/low band.
func (v Verdict) ConfidenceBand() Confidence {
	switch {
	case v.Confidence >= 0.9:
		return ConfidenceHigh
	case v.Confidence >= 0.7:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// Confident reports whether the verdict is strong enough to persist the email
// and run metric extraction. Low-confidence or non-update verdicts are gated
// out before any further model calls.
func (v Verdict) Confident() bool {
	return v.IsCompanyUpdate && v.Confidence >= 0.7
}
