package classify

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShupingR/tweener-portco-email-alert/internal/config"
	"github.com/ShupingR/tweener-portco-email-alert/internal/model"
	"github.com/ShupingR/tweener-portco-email-alert/internal/resilience"
	"github.com/ShupingR/tweener-portco-email-alert/pkg/anthropic"
)

type stubAI struct {
	responses  []stubResponse
	calls      int
	lastPrompt string
}

type stubResponse struct {
	text string
	err  error
}

func (s *stubAI) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	s.lastPrompt = req.Messages[0].Content
	i := s.calls
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	s.calls++
	r := s.responses[i]
	if r.err != nil {
		return nil, r.err
	}
	return &anthropic.MessageResponse{
		Text:  r.text,
		Usage: anthropic.TokenUsage{InputTokens: 100, OutputTokens: 50},
	}, nil
}

func testClassifier(ai anthropic.Client) *Classifier {
	c := New(ai, config.AnthropicConfig{
		Model:          "claude-sonnet-4-5-20250929",
		MaxRetries:     2,
		ClassifyTokens: 1024,
	})
	c.retry.InitialBackoff = time.Millisecond
	return c
}

var roster = []model.Company{
	{ID: 1, Name: "Validic", IsPortfolio: true},
	{ID: 2, Name: "Natryx", IsPortfolio: true},
	{ID: 3, Name: "Windlift", IsPortfolio: false},
}

const validicVerdict = `{
  "is_company_update": true,
  "company_name": "VALIDIC",
  "is_portfolio_company": true,
  "confidence": 0.92,
  "original_sender": "ceo@validic.com",
  "update_type": "monthly_update",
  "key_topics": ["revenue", "hiring"],
  "summary": "Validic monthly investor update.",
  "reasoning": "Forwarded investor update from the Validic CEO."
}`

func TestClassify_SnapsCompanyToRoster(t *testing.T) {
	ai := &stubAI{responses: []stubResponse{{text: validicVerdict}}}
	c := testClassifier(ai)

	verdict, usage, err := c.Classify(context.Background(), "Fwd: VALIDIC update", "scot@tweenerfund.com", "2025-06-02", "update body", roster)
	require.NoError(t, err)
	assert.Equal(t, "Validic", verdict.CompanyName)
	assert.True(t, verdict.IsPortfolioCompany)
	assert.True(t, verdict.Confident())
	assert.Equal(t, model.ConfidenceHigh, verdict.ConfidenceBand())
	assert.Equal(t, int64(100), usage.InputTokens)
	assert.Equal(t, 1, ai.calls)
}

func TestClassify_MarkdownFencedResponse(t *testing.T) {
	ai := &stubAI{responses: []stubResponse{{text: "```json\n" + validicVerdict + "\n```"}}}
	c := testClassifier(ai)

	verdict, _, err := c.Classify(context.Background(), "s", "f", "d", "b", roster)
	require.NoError(t, err)
	assert.Equal(t, "Validic", verdict.CompanyName)
}

func TestClassify_UnknownCompanyKept(t *testing.T) {
	ai := &stubAI{responses: []stubResponse{{text: `{
		"is_company_update": true,
		"company_name": "Brandnewco",
		"is_portfolio_company": false,
		"confidence": 0.8
	}`}}}
	c := testClassifier(ai)

	verdict, _, err := c.Classify(context.Background(), "s", "f", "d", "b", roster)
	require.NoError(t, err)
	assert.Equal(t, "Brandnewco", verdict.CompanyName)
	assert.False(t, verdict.IsPortfolioCompany)
}

func TestClassify_TruncatesBodyOnContentBoundary(t *testing.T) {
	ai := &stubAI{responses: []stubResponse{{text: validicVerdict}}}
	c := testClassifier(ai)

	// Multi-byte runes and long lines force the excerpt cap to engage.
	body := strings.Repeat("résumé line\n", 600)
	_, _, err := c.Classify(context.Background(), "s", "f", "d", body, roster)
	require.NoError(t, err)

	assert.True(t, utf8.ValidString(ai.lastPrompt), "excerpt never cuts mid-rune")
	assert.Less(t, len(ai.lastPrompt), len(body))
	assert.Contains(t, ai.lastPrompt, "résumé line\n\n", "excerpt ends on a line boundary")
}

func TestClassify_BadJSON(t *testing.T) {
	ai := &stubAI{responses: []stubResponse{{text: "I think this is probably an update."}}}
	c := testClassifier(ai)

	_, usage, err := c.Classify(context.Background(), "s", "f", "d", "b", roster)
	require.Error(t, err)
	// Usage is still reported for failed parses so cost accounting stays honest.
	assert.Equal(t, int64(100), usage.InputTokens)
}

func TestClassify_RetriesTransient(t *testing.T) {
	ai := &stubAI{responses: []stubResponse{
		{err: resilience.NewTransientError(eris.New("overloaded"), 529)},
		{text: validicVerdict},
	}}
	c := testClassifier(ai)

	verdict, _, err := c.Classify(context.Background(), "s", "f", "d", "b", roster)
	require.NoError(t, err)
	assert.Equal(t, "Validic", verdict.CompanyName)
	assert.Equal(t, 2, ai.calls)
}

func TestClassify_PermanentErrorNotRetried(t *testing.T) {
	ai := &stubAI{responses: []stubResponse{{err: eris.New("anthropic: create message: invalid api key")}}}
	c := testClassifier(ai)

	_, _, err := c.Classify(context.Background(), "s", "f", "d", "b", roster)
	require.Error(t, err)
	assert.Equal(t, 1, ai.calls)
}

func TestParseVerdict_ClampsConfidence(t *testing.T) {
	v, err := parseVerdict(`{"is_company_update": true, "confidence": 1.7}`)
	require.NoError(t, err)
	assert.Equal(t, 1.0, v.Confidence)

	v, err = parseVerdict(`{"is_company_update": true, "confidence": -0.2}`)
	require.NoError(t, err)
	assert.Equal(t, 0.0, v.Confidence)
}

func TestMatchCompany(t *testing.T) {
	tests := []struct {
		name    string
		want    string
		matched bool
	}{
		{"Validic", "Validic", true},
		{"VALIDIC", "Validic", true},
		{"  Validic, Inc.  ", "Validic", true},
		{"Validic Health", "Validic", true},
		{"natryx corp", "Natryx", true},
		{"Unknownco", "", false},
		{"Val", "", false},
	}
	for _, tt := range tests {
		co, ok := MatchCompany(tt.name, roster)
		assert.Equal(t, tt.matched, ok, tt.name)
		if tt.matched {
			assert.Equal(t, tt.want, co.Name, tt.name)
		}
	}
}

func TestRosterBlock(t *testing.T) {
	assert.Equal(t, "(none on file yet)", rosterBlock(nil))

	block := rosterBlock([]model.Company{
		{Name: "Validic", Description: "health data platform"},
		{Name: "Natryx"},
	})
	assert.Contains(t, block, "- Validic: health data platform")
	assert.Contains(t, block, "- Natryx")
}
