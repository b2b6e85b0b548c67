package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShupingR/tweener-portco-email-alert/internal/config"
	"github.com/ShupingR/tweener-portco-email-alert/internal/model"
	"github.com/ShupingR/tweener-portco-email-alert/internal/resilience"
	"github.com/ShupingR/tweener-portco-email-alert/pkg/anthropic"
)

type stubAI struct {
	responses []stubResponse
	calls     int
}

type stubResponse struct {
	text string
	err  error
}

func (s *stubAI) CreateMessage(_ context.Context, _ anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
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
		Usage: anthropic.TokenUsage{InputTokens: 200, OutputTokens: 100},
	}, nil
}

func testExtractor(ai anthropic.Client) *Extractor {
	e := New(ai, config.AnthropicConfig{
		Model:         "claude-sonnet-4-5-20250929",
		MaxRetries:    2,
		ExtractTokens: 2048,
	})
	e.retry.InitialBackoff = time.Millisecond
	return e
}

const natryxOutput = `{
  "reporting_period": "May 2025",
  "reporting_date": "2025-05-31",
  "mrr": "N/A",
  "arr": "$1.2M",
  "total_revenue": "N/A",
  "cash_balance": "~$8.000M",
  "runway_months": "14 months",
  "team_size": "12",
  "key_highlights": "Closed two enterprise deals.",
  "confidence": "high",
  "extraction_notes": "N/A"
}`

func TestExtract_PreservesFormatting(t *testing.T) {
	ai := &stubAI{responses: []stubResponse{{text: natryxOutput}}}
	e := testExtractor(ai)

	res := e.Extract(context.Background(), "Natryx", "", "ARR is $1.2M, cash ~$8.000M, runway 14 months")
	require.NotNil(t, res.Metrics)
	m := res.Metrics

	assert.Equal(t, "$1.2M", m.ARR)
	assert.Equal(t, "~$8.000M", m.CashBalance)
	assert.Equal(t, "14 months", m.RunwayMonths)
	assert.Equal(t, "12", m.TeamSize)
	assert.Equal(t, "", m.MRR, "N/A maps to empty")
	assert.Equal(t, "", m.ExtractionNotes)
	assert.Equal(t, model.ConfidenceHigh, m.Confidence)
	assert.Equal(t, model.SourceEmail, m.SourceType)
	assert.Equal(t, "May 2025", m.ReportingPeriod)
	require.NotNil(t, m.ReportingDate)
	assert.Equal(t, "2025-05-31", m.ReportingDate.Format("2006-01-02"))

	assert.Equal(t, model.ExtractionSuccess, res.Audit.Status)
	assert.Equal(t, natryxOutput, res.Audit.RawOutput)
	assert.Equal(t, int64(200), res.Usage.InputTokens)
}

func TestExtract_AttachmentSource(t *testing.T) {
	ai := &stubAI{responses: []stubResponse{{text: natryxOutput}}}
	e := testExtractor(ai)

	res := e.Extract(context.Background(), "Natryx", "board_deck.pdf", "slide text")
	require.NotNil(t, res.Metrics)
	assert.Equal(t, model.SourceAttachment, res.Metrics.SourceType)
	assert.Equal(t, "board_deck.pdf", res.Metrics.SourceFile)
	assert.Equal(t, "board_deck.pdf", res.Audit.SourceFile)
}

func TestExtract_EmptyExtractionIsPartial(t *testing.T) {
	ai := &stubAI{responses: []stubResponse{{text: `{
		"reporting_period": "N/A", "mrr": "N/A", "arr": "N/A", "confidence": "low"
	}`}}}
	e := testExtractor(ai)

	res := e.Extract(context.Background(), "Natryx", "", "thanks for the intro!")
	require.NotNil(t, res.Metrics)
	assert.Equal(t, model.ExtractionPartial, res.Audit.Status)
	assert.Equal(t, model.ConfidenceLow, res.Metrics.Confidence)
}

func TestExtract_UnparseableOutputIsFailed(t *testing.T) {
	ai := &stubAI{responses: []stubResponse{{text: "The company looks healthy overall."}}}
	e := testExtractor(ai)

	res := e.Extract(context.Background(), "Natryx", "", "body")
	assert.Nil(t, res.Metrics)
	assert.Equal(t, model.ExtractionFailed, res.Audit.Status)
	assert.Contains(t, res.Audit.RawOutput, "healthy")
	assert.NotEmpty(t, res.Audit.ErrorMessage)
}

func TestExtract_ModelFailureIsFailed(t *testing.T) {
	ai := &stubAI{responses: []stubResponse{{err: eris.New("anthropic: create message: bad request")}}}
	e := testExtractor(ai)

	res := e.Extract(context.Background(), "Natryx", "deck.pdf", "text")
	assert.Nil(t, res.Metrics)
	assert.Equal(t, model.ExtractionFailed, res.Audit.Status)
	assert.Equal(t, 0, res.Audit.RetryCount)
	assert.Equal(t, 1, ai.calls)
}

func TestExtract_RetriesTransient(t *testing.T) {
	ai := &stubAI{responses: []stubResponse{
		{err: resilience.NewTransientError(eris.New("rate limited"), 429)},
		{text: natryxOutput},
	}}
	e := testExtractor(ai)

	res := e.Extract(context.Background(), "Natryx", "", "body")
	require.NotNil(t, res.Metrics)
	assert.Equal(t, 1, res.Audit.RetryCount)
	assert.Equal(t, 2, ai.calls)
}

func TestParseMetrics_BareNumbers(t *testing.T) {
	m, populated, err := parseMetrics(`{"arr": 1200000, "team_size": 12, "confidence": "medium"}`)
	require.NoError(t, err)
	assert.Equal(t, "1200000", m.ARR)
	assert.Equal(t, "12", m.TeamSize)
	assert.Equal(t, 2, populated)
}

func TestParseMetrics_FencedOutput(t *testing.T) {
	m, _, err := parseMetrics("```json\n" + natryxOutput + "\n```")
	require.NoError(t, err)
	assert.Equal(t, "$1.2M", m.ARR)
}

func TestParseMetrics_BadReportingDateIgnored(t *testing.T) {
	m, _, err := parseMetrics(`{"arr": "$1M", "reporting_date": "May-ish", "confidence": "high"}`)
	require.NoError(t, err)
	assert.Nil(t, m.ReportingDate)
}
