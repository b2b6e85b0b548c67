package model

import (
	"regexp"
	"strings"
	"time"
)

// Company is the identity record for a portfolio or observed company.
type Company struct {
	ID           int64      `json:"id,omitempty"`
	Name         string     `json:"name"`
	LegalName    string     `json:"legal_name,omitempty"`
	Website      string     `json:"website,omitempty"`
	Description  string     `json:"description,omitempty"`
	IsPortfolio  bool       `json:"is_portfolio"`
	LastUpdateAt *time.Time `json:"last_update_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at,omitempty"`
}

// Contact is a person at a company, used for alert addressing.
type Contact struct {
	ID        int64  `json:"id,omitempty"`
	CompanyID int64  `json:"company_id"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Email     string `json:"email"`
	JobTitle  string `json:"job_title,omitempty"`
	IsPrimary bool   `json:"is_primary,omitempty"`
}

// Anchored to the end of the name: "Co Pilot" keeps its "Co".
var corpSuffixPattern = regexp.MustCompile(`\b(inc|llc|corp|corporation|ltd|co)\b\.?$`)

// NormalizeCompanyName folds a company name to its canonical matching form:
// lowercase, collapsed whitespace, corporate suffixes stripped. "VALIDIC",
// "Validic Inc." and " validic " all normalize to "validic".
func NormalizeCompanyName(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = corpSuffixPattern.ReplaceAllString(s, "")
	s = strings.Trim(s, " .,")
	return strings.Join(strings.Fields(s), " ")
}
