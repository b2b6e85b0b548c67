package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/ShupingR/tweener-portco-email-alert/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS companies (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	name            TEXT NOT NULL,
	normalized_name TEXT NOT NULL UNIQUE,
	legal_name      TEXT,
	website         TEXT,
	description     TEXT,
	is_portfolio    INTEGER NOT NULL DEFAULT 0,
	last_update_at  DATETIME,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS contacts (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	company_id INTEGER NOT NULL REFERENCES companies(id),
	first_name TEXT,
	last_name  TEXT,
	email      TEXT NOT NULL,
	job_title  TEXT,
	is_primary INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS email_updates (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	company_id      INTEGER REFERENCES companies(id),
	fingerprint     TEXT NOT NULL UNIQUE,
	sender          TEXT NOT NULL,
	subject         TEXT,
	body            TEXT,
	date            DATETIME,
	has_attachments INTEGER NOT NULL DEFAULT 0,
	processed_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS attachments (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	email_update_id INTEGER NOT NULL REFERENCES email_updates(id),
	company_id      INTEGER REFERENCES companies(id),
	filename        TEXT NOT NULL,
	path            TEXT NOT NULL,
	file_size       INTEGER NOT NULL DEFAULT 0,
	category        TEXT NOT NULL DEFAULT 'other'
);

CREATE TABLE IF NOT EXISTS financial_metrics (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	company_id         INTEGER REFERENCES companies(id),
	email_update_id    INTEGER NOT NULL REFERENCES email_updates(id),
	reporting_period   TEXT,
	reporting_date     DATETIME,
	extracted_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	mrr                TEXT, arr TEXT, qrr TEXT,
	total_revenue      TEXT, gross_revenue TEXT, net_revenue TEXT,
	mrr_growth         TEXT, arr_growth TEXT,
	revenue_growth_yoy TEXT, revenue_growth_mom TEXT,
	cash_balance       TEXT, net_burn TEXT, gross_burn TEXT, runway_months TEXT,
	gross_margin       TEXT, ebitda TEXT, ebitda_margin TEXT, net_income TEXT,
	customer_count     TEXT, new_customers TEXT, churn_rate TEXT, ltv TEXT, cac TEXT,
	team_size          TEXT, bookings TEXT, pipeline TEXT,
	key_highlights     TEXT, key_challenges TEXT, funding_status TEXT,
	source_type        TEXT NOT NULL,
	source_file        TEXT,
	confidence         TEXT,
	extraction_notes   TEXT
);

CREATE TABLE IF NOT EXISTS metric_extractions (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	email_update_id INTEGER REFERENCES email_updates(id),
	source_file     TEXT,
	status          TEXT NOT NULL,
	raw_output      TEXT,
	error_message   TEXT,
	retry_count     INTEGER NOT NULL DEFAULT 0,
	extracted_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS alerts (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	company_id  INTEGER NOT NULL REFERENCES companies(id),
	alert_type  TEXT NOT NULL,
	sent_at     DATETIME NOT NULL,
	resolved    INTEGER NOT NULL DEFAULT 0,
	resolved_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_email_updates_company ON email_updates(company_id);
CREATE INDEX IF NOT EXISTS idx_email_updates_date ON email_updates(date);
CREATE INDEX IF NOT EXISTS idx_attachments_email ON attachments(email_update_id);
CREATE INDEX IF NOT EXISTS idx_metrics_company ON financial_metrics(company_id);
CREATE INDEX IF NOT EXISTS idx_metrics_email ON financial_metrics(email_update_id);
CREATE INDEX IF NOT EXISTS idx_alerts_company ON alerts(company_id, resolved);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const companyColumns = `id, name, legal_name, website, description, is_portfolio, last_update_at, created_at`

func (s *SQLiteStore) ListCompanies(ctx context.Context) ([]model.Company, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+companyColumns+` FROM companies ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list companies")
	}
	defer rows.Close()
	return scanCompanies(rows)
}

func (s *SQLiteStore) GetCompanyByName(ctx context.Context, name string) (*model.Company, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+companyColumns+` FROM companies WHERE normalized_name = ?`,
		model.NormalizeCompanyName(name))
	co, err := scanCompany(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get company %q", name)
	}
	return co, nil
}

func (s *SQLiteStore) CreateCompany(ctx context.Context, co model.Company) (*model.Company, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO companies (name, normalized_name, legal_name, website, description, is_portfolio, last_update_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		co.Name, model.NormalizeCompanyName(co.Name), co.LegalName, co.Website,
		co.Description, co.IsPortfolio, co.LastUpdateAt, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert company %q", co.Name)
	}
	co.ID, _ = res.LastInsertId()
	co.CreatedAt = now
	return &co, nil
}

func (s *SQLiteStore) SetCompanyLastUpdate(ctx context.Context, companyID int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE companies SET last_update_at = ?
		 WHERE id = ? AND (last_update_at IS NULL OR last_update_at < ?)`,
		at, companyID, at,
	)
	return eris.Wrapf(err, "sqlite: set last update for company %d", companyID)
}

func (s *SQLiteStore) CreateContact(ctx context.Context, c model.Contact) (*model.Contact, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO contacts (company_id, first_name, last_name, email, job_title, is_primary)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		c.CompanyID, c.FirstName, c.LastName, c.Email, c.JobTitle, c.IsPrimary,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert contact %q", c.Email)
	}
	c.ID, _ = res.LastInsertId()
	return &c, nil
}

func (s *SQLiteStore) CompanyContacts(ctx context.Context, companyID int64) ([]model.Contact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, company_id, first_name, last_name, email, job_title, is_primary
		 FROM contacts WHERE company_id = ? ORDER BY is_primary DESC, id`,
		companyID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: contacts for company %d", companyID)
	}
	defer rows.Close()

	var out []model.Contact
	for rows.Next() {
		var c model.Contact
		if err := rows.Scan(&c.ID, &c.CompanyID, &c.FirstName, &c.LastName, &c.Email, &c.JobTitle, &c.IsPrimary); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan contact")
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) EmailExists(ctx context.Context, fingerprint string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM email_updates WHERE fingerprint = ?`, fingerprint).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrap(err, "sqlite: email exists")
	}
	return true, nil
}

func (s *SQLiteStore) SaveUpdate(ctx context.Context, upd *SavedUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	e := &upd.Email
	res, err := tx.ExecContext(ctx,
		`INSERT INTO email_updates (company_id, fingerprint, sender, subject, body, date, has_attachments, processed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.CompanyID, e.Fingerprint, e.Sender, e.Subject, e.Body, e.Date, e.HasAttachments, now,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert email update")
	}
	e.ID, _ = res.LastInsertId()
	e.ProcessedAt = now

	for i := range upd.Attachments {
		a := &upd.Attachments[i]
		a.EmailUpdateID = e.ID
		res, err := tx.ExecContext(ctx,
			`INSERT INTO attachments (email_update_id, company_id, filename, path, file_size, category)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			a.EmailUpdateID, nullableID(a.CompanyID), a.Filename, a.Path, a.FileSize, string(a.Category),
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert attachment %q", a.Filename)
		}
		a.ID, _ = res.LastInsertId()
	}

	for i := range upd.Metrics {
		m := &upd.Metrics[i]
		m.EmailUpdateID = e.ID
		if err := insertMetricsTx(ctx, tx, m); err != nil {
			return err
		}
	}

	for i := range upd.Audits {
		a := &upd.Audits[i]
		a.EmailUpdateID = e.ID
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO metric_extractions (email_update_id, source_file, status, raw_output, error_message, retry_count, extracted_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			a.EmailUpdateID, a.SourceFile, string(a.Status), a.RawOutput, a.ErrorMessage, a.RetryCount, a.ExtractedAt,
		); err != nil {
			return eris.Wrap(err, "sqlite: insert extraction audit")
		}
	}

	if e.CompanyID != nil {
		if _, err := tx.ExecContext(ctx,
			`UPDATE companies SET last_update_at = ?
			 WHERE id = ? AND (last_update_at IS NULL OR last_update_at < ?)`,
			e.Date, *e.CompanyID, e.Date,
		); err != nil {
			return eris.Wrap(err, "sqlite: bump company last update")
		}
		// A fresh update resolves any outstanding quiet-company alerts.
		if _, err := tx.ExecContext(ctx,
			`UPDATE alerts SET resolved = 1, resolved_at = ? WHERE company_id = ? AND resolved = 0`,
			now, *e.CompanyID,
		); err != nil {
			return eris.Wrap(err, "sqlite: resolve alerts")
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit save")
}

func insertMetricsTx(ctx context.Context, tx *sql.Tx, m *model.FinancialMetrics) error {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO financial_metrics (
			company_id, email_update_id, reporting_period, reporting_date, extracted_at,
			mrr, arr, qrr, total_revenue, gross_revenue, net_revenue,
			mrr_growth, arr_growth, revenue_growth_yoy, revenue_growth_mom,
			cash_balance, net_burn, gross_burn, runway_months,
			gross_margin, ebitda, ebitda_margin, net_income,
			customer_count, new_customers, churn_rate, ltv, cac,
			team_size, bookings, pipeline,
			key_highlights, key_challenges, funding_status,
			source_type, source_file, confidence, extraction_notes
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullableID(m.CompanyID), m.EmailUpdateID, m.ReportingPeriod, m.ReportingDate, m.ExtractedAt,
		m.MRR, m.ARR, m.QRR, m.TotalRevenue, m.GrossRevenue, m.NetRevenue,
		m.MRRGrowth, m.ARRGrowth, m.RevenueGrowthYoY, m.RevenueGrowthMoM,
		m.CashBalance, m.NetBurn, m.GrossBurn, m.RunwayMonths,
		m.GrossMargin, m.EBITDA, m.EBITDAMargin, m.NetIncome,
		m.CustomerCount, m.NewCustomers, m.ChurnRate, m.LTV, m.CAC,
		m.TeamSize, m.Bookings, m.Pipeline,
		m.KeyHighlights, m.KeyChallenges, m.FundingStatus,
		string(m.SourceType), m.SourceFile, string(m.Confidence), m.ExtractionNotes,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert metrics")
	}
	m.ID, _ = res.LastInsertId()
	return nil
}

func (s *SQLiteStore) RecordExtractionFailure(ctx context.Context, rec model.MetricExtraction) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO metric_extractions (email_update_id, source_file, status, raw_output, error_message, retry_count, extracted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		nullableID(rec.EmailUpdateID), rec.SourceFile, string(rec.Status),
		rec.RawOutput, rec.ErrorMessage, rec.RetryCount, rec.ExtractedAt,
	)
	return eris.Wrap(err, "sqlite: record extraction failure")
}

func (s *SQLiteStore) StaleCompanies(ctx context.Context, before time.Time) ([]model.Company, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+companyColumns+` FROM companies
		 WHERE is_portfolio = 1 AND (last_update_at IS NULL OR last_update_at < ?)
		 ORDER BY last_update_at`,
		before,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: stale companies")
	}
	defer rows.Close()
	return scanCompanies(rows)
}

func (s *SQLiteStore) UnresolvedAlerts(ctx context.Context, companyID int64) ([]model.Alert, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, company_id, alert_type, sent_at, resolved, resolved_at
		 FROM alerts WHERE company_id = ? AND resolved = 0 ORDER BY sent_at DESC`,
		companyID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: unresolved alerts for company %d", companyID)
	}
	defer rows.Close()

	var out []model.Alert
	for rows.Next() {
		var a model.Alert
		var alertType string
		if err := rows.Scan(&a.ID, &a.CompanyID, &alertType, &a.SentAt, &a.Resolved, &a.ResolvedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan alert")
		}
		a.Type = model.AlertType(alertType)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CreateAlert(ctx context.Context, a model.Alert) (*model.Alert, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (company_id, alert_type, sent_at, resolved) VALUES (?, ?, ?, 0)`,
		a.CompanyID, string(a.Type), a.SentAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert alert for company %d", a.CompanyID)
	}
	a.ID, _ = res.LastInsertId()
	return &a, nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (*model.Stats, error) {
	var st model.Stats
	queries := []struct {
		dst   *int
		query string
	}{
		{&st.PortfolioCompanies, `SELECT COUNT(*) FROM companies WHERE is_portfolio = 1`},
		{&st.NonPortfolioCompanies, `SELECT COUNT(*) FROM companies WHERE is_portfolio = 0`},
		{&st.TotalEmails, `SELECT COUNT(*) FROM email_updates`},
		{&st.EmailsWithAttachments, `SELECT COUNT(*) FROM email_updates WHERE has_attachments = 1`},
		{&st.TotalAttachments, `SELECT COUNT(*) FROM attachments`},
		{&st.TotalMetrics, `SELECT COUNT(*) FROM financial_metrics`},
		{&st.RecentEmails7d, `SELECT COUNT(*) FROM email_updates WHERE date >= datetime('now', '-7 days')`},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dst); err != nil {
			return nil, eris.Wrap(err, "sqlite: stats")
		}
	}
	return &st, nil
}

// nullableID maps a zero id to NULL for optional foreign keys.
func nullableID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCompany(row rowScanner) (*model.Company, error) {
	var co model.Company
	var legalName, website, description sql.NullString
	err := row.Scan(&co.ID, &co.Name, &legalName, &website, &description,
		&co.IsPortfolio, &co.LastUpdateAt, &co.CreatedAt)
	if err != nil {
		return nil, err
	}
	co.LegalName = legalName.String
	co.Website = website.String
	co.Description = description.String
	return &co, nil
}

func scanCompanies(rows *sql.Rows) ([]model.Company, error) {
	var out []model.Company
	for rows.Next() {
		co, err := scanCompany(rows)
		if err != nil {
			return nil, eris.Wrap(err, "store: scan company")
		}
		out = append(out, *co)
	}
	return out, rows.Err()
}
