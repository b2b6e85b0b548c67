package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShupingR/tweener-portco-email-alert/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func mustCreateCompany(t *testing.T, s *SQLiteStore, name string, portfolio bool) *model.Company {
	t.Helper()
	co, err := s.CreateCompany(context.Background(), model.Company{Name: name, IsPortfolio: portfolio})
	require.NoError(t, err)
	return co
}

func TestCompanyLookupIsNormalized(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created := mustCreateCompany(t, s, "Validic", true)
	assert.NotZero(t, created.ID)

	for _, name := range []string{"Validic", "VALIDIC", "  Validic, Inc.  ", "validic inc"} {
		co, err := s.GetCompanyByName(ctx, name)
		require.NoError(t, err, name)
		require.NotNil(t, co, name)
		assert.Equal(t, created.ID, co.ID, name)
	}

	missing, err := s.GetCompanyByName(ctx, "Unknownco")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestCreateCompany_DuplicateNormalizedNameRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustCreateCompany(t, s, "Validic", true)
	_, err := s.CreateCompany(ctx, model.Company{Name: "VALIDIC Inc."})
	require.Error(t, err)
}

func TestSaveUpdate_FingerprintUnique(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	upd := &SavedUpdate{Email: model.EmailUpdate{
		Fingerprint: "fp-1",
		Sender:      "scot@tweenerfund.com",
		Subject:     "Fwd: update",
		Date:        time.Now().UTC(),
	}}
	require.NoError(t, s.SaveUpdate(ctx, upd))
	assert.NotZero(t, upd.Email.ID)

	exists, err := s.EmailExists(ctx, "fp-1")
	require.NoError(t, err)
	assert.True(t, exists)

	dup := &SavedUpdate{Email: model.EmailUpdate{Fingerprint: "fp-1", Sender: "x@y.com"}}
	require.Error(t, s.SaveUpdate(ctx, dup), "same fingerprint must not insert twice")

	exists, err = s.EmailExists(ctx, "fp-other")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSaveUpdate_FullTransaction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	co := mustCreateCompany(t, s, "Natryx", true)

	// Outstanding alert should be resolved by the incoming update.
	_, err := s.CreateAlert(ctx, model.Alert{
		CompanyID: co.ID,
		Type:      model.AlertOneMonth,
		SentAt:    time.Now().UTC().Add(-24 * time.Hour),
	})
	require.NoError(t, err)

	date := time.Date(2025, 6, 2, 10, 30, 0, 0, time.UTC)
	upd := &SavedUpdate{
		Email: model.EmailUpdate{
			CompanyID:      &co.ID,
			Fingerprint:    "fp-natryx-may",
			Sender:         "ceo@natryx.com",
			Subject:        "Natryx May Update",
			Body:           "ARR is $1.2M",
			Date:           date,
			HasAttachments: true,
		},
		Attachments: []model.Attachment{
			{CompanyID: co.ID, Filename: "deck.pdf", Path: "attachments/1/deck.pdf", FileSize: 1024, Category: model.CategoryPDF},
		},
		Metrics: []model.FinancialMetrics{
			{CompanyID: co.ID, ARR: "$1.2M", RunwayMonths: "14 months", SourceType: model.SourceEmail, Confidence: model.ConfidenceHigh, ExtractedAt: time.Now().UTC()},
		},
		Audits: []model.MetricExtraction{
			{Status: model.ExtractionSuccess, RawOutput: `{"arr":"$1.2M"}`, ExtractedAt: time.Now().UTC()},
		},
	}
	require.NoError(t, s.SaveUpdate(ctx, upd))
	assert.NotZero(t, upd.Attachments[0].ID)
	assert.NotZero(t, upd.Metrics[0].ID)
	assert.Equal(t, upd.Email.ID, upd.Metrics[0].EmailUpdateID)

	got, err := s.GetCompanyByName(ctx, "Natryx")
	require.NoError(t, err)
	require.NotNil(t, got.LastUpdateAt)
	assert.True(t, got.LastUpdateAt.Equal(date))

	open, err := s.UnresolvedAlerts(ctx, co.ID)
	require.NoError(t, err)
	assert.Empty(t, open, "fresh update resolves outstanding alerts")
}

func TestSetCompanyLastUpdate_NeverMovesBackward(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	co := mustCreateCompany(t, s, "Validic", true)
	newer := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	older := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.SetCompanyLastUpdate(ctx, co.ID, newer))
	require.NoError(t, s.SetCompanyLastUpdate(ctx, co.ID, older))

	got, err := s.GetCompanyByName(ctx, "Validic")
	require.NoError(t, err)
	require.NotNil(t, got.LastUpdateAt)
	assert.True(t, got.LastUpdateAt.Equal(newer))
}

func TestStaleCompanies(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	never := mustCreateCompany(t, s, "Neverheard", true)
	quiet := mustCreateCompany(t, s, "Quietco", true)
	fresh := mustCreateCompany(t, s, "Freshco", true)
	mustCreateCompany(t, s, "Outsider", false)

	now := time.Now().UTC()
	require.NoError(t, s.SetCompanyLastUpdate(ctx, quiet.ID, now.Add(-40*24*time.Hour)))
	require.NoError(t, s.SetCompanyLastUpdate(ctx, fresh.ID, now.Add(-2*24*time.Hour)))

	stale, err := s.StaleCompanies(ctx, now.Add(-31*24*time.Hour))
	require.NoError(t, err)

	ids := make(map[int64]bool)
	for _, co := range stale {
		ids[co.ID] = true
	}
	assert.True(t, ids[never.ID], "company with no updates ever is stale")
	assert.True(t, ids[quiet.ID])
	assert.False(t, ids[fresh.ID])
	assert.Len(t, stale, 2, "non-portfolio companies are never alerted")
}

func TestAlerts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	co := mustCreateCompany(t, s, "Quietco", true)

	a, err := s.CreateAlert(ctx, model.Alert{
		CompanyID: co.ID,
		Type:      model.AlertEscalation,
		SentAt:    time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.NotZero(t, a.ID)

	open, err := s.UnresolvedAlerts(ctx, co.ID)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, model.AlertEscalation, open[0].Type)
	assert.False(t, open[0].Resolved)
}

func TestRecordExtractionFailure_WithoutEmailRow(t *testing.T) {
	s := newTestStore(t)

	err := s.RecordExtractionFailure(context.Background(), model.MetricExtraction{
		SourceFile:   "deck.pdf",
		Status:       model.ExtractionFailed,
		ErrorMessage: "metrics: parse output: invalid character",
		RetryCount:   2,
		ExtractedAt:  time.Now().UTC(),
	})
	require.NoError(t, err)
}

func TestContacts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	co := mustCreateCompany(t, s, "Validic", true)

	_, err := s.CreateContact(ctx, model.Contact{CompanyID: co.ID, Email: "cfo@validic.com", JobTitle: "CFO"})
	require.NoError(t, err)
	_, err = s.CreateContact(ctx, model.Contact{CompanyID: co.ID, Email: "ceo@validic.com", FirstName: "Drew", IsPrimary: true})
	require.NoError(t, err)

	contacts, err := s.CompanyContacts(ctx, co.ID)
	require.NoError(t, err)
	require.Len(t, contacts, 2)
	assert.Equal(t, "ceo@validic.com", contacts[0].Email, "primary contact sorts first")
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	co := mustCreateCompany(t, s, "Validic", true)
	mustCreateCompany(t, s, "Outsider", false)

	require.NoError(t, s.SaveUpdate(ctx, &SavedUpdate{
		Email: model.EmailUpdate{
			CompanyID:      &co.ID,
			Fingerprint:    "fp-stats",
			Sender:         "ceo@validic.com",
			Date:           time.Now().UTC(),
			HasAttachments: true,
		},
		Attachments: []model.Attachment{
			{CompanyID: co.ID, Filename: "a.pdf", Path: "p", Category: model.CategoryPDF},
		},
		Metrics: []model.FinancialMetrics{
			{CompanyID: co.ID, ARR: "$3M", SourceType: model.SourceEmail, ExtractedAt: time.Now().UTC()},
		},
	}))

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.PortfolioCompanies)
	assert.Equal(t, 1, st.NonPortfolioCompanies)
	assert.Equal(t, 1, st.TotalEmails)
	assert.Equal(t, 1, st.EmailsWithAttachments)
	assert.Equal(t, 1, st.TotalAttachments)
	assert.Equal(t, 1, st.TotalMetrics)
	assert.Equal(t, 1, st.RecentEmails7d)
}
