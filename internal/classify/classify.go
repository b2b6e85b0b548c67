package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ShupingR/tweener-portco-email-alert/internal/config"
	"github.com/ShupingR/tweener-portco-email-alert/internal/extract"
	"github.com/ShupingR/tweener-portco-email-alert/internal/model"
	"github.com/ShupingR/tweener-portco-email-alert/internal/resilience"
	"github.com/ShupingR/tweener-portco-email-alert/pkg/anthropic"
)

const systemPrompt = `You are an analyst at an early-stage venture fund. The fund's partners forward emails from their inboxes to a shared collection address. Your job is to decide whether a forwarded email is a portfolio company update (investor update, monthly/quarterly report, board deck cover note) as opposed to anything else (newsletters, intros, pitches from non-portfolio startups, scheduling, personal mail).

Rules:
- The forwarding partner is NOT the original sender. Look inside the forwarded content for the real sender and company.
- Company names in emails are often informal: uppercase, abbreviated, or with corporate suffixes. Match them flexibly against the known company list ("VALIDIC update" is Validic).
- A company not on the known list can still be a genuine company update; report it with is_portfolio_company false.
- Confidence is 0.0-1.0: how sure you are of BOTH the update judgment and the company identification.
- Respond with ONLY a valid JSON object, no prose, no markdown fences.`

const userPromptFormat = `Known portfolio companies:
%s

Forwarded email:
From: %s
Subject: %s
Date: %s

Body:
%s

Respond with ONLY valid JSON in this format:
{
  "is_company_update": <true/false>,
  "company_name": "<canonical company name, or best guess, or empty>",
  "is_portfolio_company": <true/false>,
  "confidence": <0.0-1.0>,
  "original_sender": "<sender inside the forwarded content, or empty>",
  "update_type": "<monthly_update|quarterly_update|board_materials|fundraise_announcement|ad_hoc|other>",
  "key_topics": ["<topic>", ...],
  "summary": "<one sentence>",
  "reasoning": "<brief explanation>"
}`

// maxClassifyBodyChars bounds the body excerpt sent for classification.
const maxClassifyBodyChars = 4000

// Classifier decides whether an email is a company update and which company
// sent it, using one model call per message.
type Classifier struct {
	ai    anthropic.Client
	cfg   config.AnthropicConfig
	retry resilience.RetryConfig
}

// New creates a Classifier.
func New(ai anthropic.Client, cfg config.AnthropicConfig) *Classifier {
	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = resilience.Attempts(cfg.MaxRetries)
	retry.OnRetry = resilience.RetryLogger("classify")
	return &Classifier{ai: ai, cfg: cfg, retry: retry}
}

// Classify asks the model for a verdict on one email. The roster grounds the
// company identification; companies is the current portfolio list.
func (c *Classifier) Classify(ctx context.Context, subject, sender, date, body string, companies []model.Company) (model.Verdict, anthropic.TokenUsage, error) {
	body = extract.TruncateAtBoundary(body, maxClassifyBodyChars)

	prompt := fmt.Sprintf(userPromptFormat, rosterBlock(companies), sender, subject, date, body)

	resp, attempts, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return c.ai.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     c.cfg.Model,
			MaxTokens: c.cfg.ClassifyTokens,
			System:    systemPrompt,
			Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
		})
	})
	if err != nil {
		return model.Verdict{}, anthropic.TokenUsage{}, eris.Wrap(err, "classify: model call")
	}
	if attempts > 0 {
		zap.L().Debug("classify: succeeded after retry", zap.Int("retries", attempts))
	}

	verdict, err := parseVerdict(resp.Text)
	if err != nil {
		return model.Verdict{}, resp.Usage, err
	}

	// Snap the model's company name onto the roster when it matches a known
	// company, so downstream lookups hit the same row.
	if verdict.CompanyName != "" {
		if match, ok := MatchCompany(verdict.CompanyName, companies); ok {
			verdict.CompanyName = match.Name
			verdict.IsPortfolioCompany = match.IsPortfolio
		}
	}

	return verdict, resp.Usage, nil
}

// rosterBlock renders the known company list for the prompt, one per line.
func rosterBlock(companies []model.Company) string {
	if len(companies) == 0 {
		return "(none on file yet)"
	}
	var sb strings.Builder
	for _, co := range companies {
		sb.WriteString("- ")
		sb.WriteString(co.Name)
		if co.Description != "" {
			sb.WriteString(": ")
			sb.WriteString(co.Description)
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func parseVerdict(text string) (model.Verdict, error) {
	text = cleanJSON(text)

	var result struct {
		IsCompanyUpdate    bool     `json:"is_company_update"`
		CompanyName        string   `json:"company_name"`
		IsPortfolioCompany bool     `json:"is_portfolio_company"`
		Confidence         float64  `json:"confidence"`
		OriginalSender     string   `json:"original_sender"`
		UpdateType         string   `json:"update_type"`
		KeyTopics          []string `json:"key_topics"`
		Summary            string   `json:"summary"`
		Reasoning          string   `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return model.Verdict{}, eris.Wrap(err, "classify: parse verdict")
	}

	if result.Confidence < 0 {
		result.Confidence = 0
	}
	if result.Confidence > 1 {
		result.Confidence = 1
	}

	return model.Verdict{
		IsCompanyUpdate:    result.IsCompanyUpdate,
		CompanyName:        strings.TrimSpace(result.CompanyName),
		IsPortfolioCompany: result.IsPortfolioCompany,
		Confidence:         result.Confidence,
		OriginalSender:     result.OriginalSender,
		UpdateType:         result.UpdateType,
		KeyTopics:          result.KeyTopics,
		Summary:            result.Summary,
		Reasoning:          result.Reasoning,
	}, nil
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
