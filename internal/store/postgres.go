package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/ShupingR/tweener-portco-email-alert/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	cfg.MaxConns = 5
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS companies (
	id              BIGSERIAL PRIMARY KEY,
	name            TEXT NOT NULL,
	normalized_name TEXT NOT NULL UNIQUE,
	legal_name      TEXT,
	website         TEXT,
	description     TEXT,
	is_portfolio    BOOLEAN NOT NULL DEFAULT false,
	last_update_at  TIMESTAMPTZ,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS contacts (
	id         BIGSERIAL PRIMARY KEY,
	company_id BIGINT NOT NULL REFERENCES companies(id),
	first_name TEXT,
	last_name  TEXT,
	email      TEXT NOT NULL,
	job_title  TEXT,
	is_primary BOOLEAN NOT NULL DEFAULT false
);

CREATE TABLE IF NOT EXISTS email_updates (
	id              BIGSERIAL PRIMARY KEY,
	company_id      BIGINT REFERENCES companies(id),
	fingerprint     TEXT NOT NULL UNIQUE,
	sender          TEXT NOT NULL,
	subject         TEXT,
	body            TEXT,
	date            TIMESTAMPTZ,
	has_attachments BOOLEAN NOT NULL DEFAULT false,
	processed_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS attachments (
	id              BIGSERIAL PRIMARY KEY,
	email_update_id BIGINT NOT NULL REFERENCES email_updates(id),
	company_id      BIGINT REFERENCES companies(id),
	filename        TEXT NOT NULL,
	path            TEXT NOT NULL,
	file_size       BIGINT NOT NULL DEFAULT 0,
	category        TEXT NOT NULL DEFAULT 'other'
);

CREATE TABLE IF NOT EXISTS financial_metrics (
	id                 BIGSERIAL PRIMARY KEY,
	company_id         BIGINT REFERENCES companies(id),
	email_update_id    BIGINT NOT NULL REFERENCES email_updates(id),
	reporting_period   TEXT,
	reporting_date     TIMESTAMPTZ,
	extracted_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
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
	id              BIGSERIAL PRIMARY KEY,
	email_update_id BIGINT REFERENCES email_updates(id),
	source_file     TEXT,
	status          TEXT NOT NULL,
	raw_output      TEXT,
	error_message   TEXT,
	retry_count     INTEGER NOT NULL DEFAULT 0,
	extracted_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS alerts (
	id          BIGSERIAL PRIMARY KEY,
	company_id  BIGINT NOT NULL REFERENCES companies(id),
	alert_type  TEXT NOT NULL,
	sent_at     TIMESTAMPTZ NOT NULL,
	resolved    BOOLEAN NOT NULL DEFAULT false,
	resolved_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_email_updates_company ON email_updates(company_id);
CREATE INDEX IF NOT EXISTS idx_email_updates_date ON email_updates(date);
CREATE INDEX IF NOT EXISTS idx_attachments_email ON attachments(email_update_id);
CREATE INDEX IF NOT EXISTS idx_metrics_company ON financial_metrics(company_id);
CREATE INDEX IF NOT EXISTS idx_metrics_email ON financial_metrics(email_update_id);
CREATE INDEX IF NOT EXISTS idx_alerts_company ON alerts(company_id, resolved);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) ListCompanies(ctx context.Context) ([]model.Company, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+companyColumns+` FROM companies ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list companies")
	}
	defer rows.Close()
	return scanPgCompanies(rows)
}

func (s *PostgresStore) GetCompanyByName(ctx context.Context, name string) (*model.Company, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+companyColumns+` FROM companies WHERE normalized_name = $1`,
		model.NormalizeCompanyName(name))
	co, err := scanPgCompany(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get company %q", name)
	}
	return co, nil
}

func (s *PostgresStore) CreateCompany(ctx context.Context, co model.Company) (*model.Company, error) {
	now := time.Now().UTC()
	err := s.pool.QueryRow(ctx,
		`INSERT INTO companies (name, normalized_name, legal_name, website, description, is_portfolio, last_update_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		co.Name, model.NormalizeCompanyName(co.Name), co.LegalName, co.Website,
		co.Description, co.IsPortfolio, co.LastUpdateAt, now,
	).Scan(&co.ID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert company %q", co.Name)
	}
	co.CreatedAt = now
	return &co, nil
}

func (s *PostgresStore) SetCompanyLastUpdate(ctx context.Context, companyID int64, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE companies SET last_update_at = $1
		 WHERE id = $2 AND (last_update_at IS NULL OR last_update_at < $1)`,
		at, companyID,
	)
	return eris.Wrapf(err, "postgres: set last update for company %d", companyID)
}

func (s *PostgresStore) CreateContact(ctx context.Context, c model.Contact) (*model.Contact, error) {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO contacts (company_id, first_name, last_name, email, job_title, is_primary)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		c.CompanyID, c.FirstName, c.LastName, c.Email, c.JobTitle, c.IsPrimary,
	).Scan(&c.ID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert contact %q", c.Email)
	}
	return &c, nil
}

func (s *PostgresStore) CompanyContacts(ctx context.Context, companyID int64) ([]model.Contact, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, company_id, first_name, last_name, email, job_title, is_primary
		 FROM contacts WHERE company_id = $1 ORDER BY is_primary DESC, id`,
		companyID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: contacts for company %d", companyID)
	}
	defer rows.Close()

	var out []model.Contact
	for rows.Next() {
		var c model.Contact
		var firstName, lastName, jobTitle *string
		if err := rows.Scan(&c.ID, &c.CompanyID, &firstName, &lastName, &c.Email, &jobTitle, &c.IsPrimary); err != nil {
			return nil, eris.Wrap(err, "postgres: scan contact")
		}
		c.FirstName = deref(firstName)
		c.LastName = deref(lastName)
		c.JobTitle = deref(jobTitle)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) EmailExists(ctx context.Context, fingerprint string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM email_updates WHERE fingerprint = $1)`, fingerprint).Scan(&exists)
	if err != nil {
		return false, eris.Wrap(err, "postgres: email exists")
	}
	return exists, nil
}

func (s *PostgresStore) SaveUpdate(ctx context.Context, upd *SavedUpdate) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin save")
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	e := &upd.Email
	err = tx.QueryRow(ctx,
		`INSERT INTO email_updates (company_id, fingerprint, sender, subject, body, date, has_attachments, processed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		e.CompanyID, e.Fingerprint, e.Sender, e.Subject, e.Body, e.Date, e.HasAttachments, now,
	).Scan(&e.ID)
	if err != nil {
		return eris.Wrap(err, "postgres: insert email update")
	}
	e.ProcessedAt = now

	for i := range upd.Attachments {
		a := &upd.Attachments[i]
		a.EmailUpdateID = e.ID
		err := tx.QueryRow(ctx,
			`INSERT INTO attachments (email_update_id, company_id, filename, path, file_size, category)
			 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
			a.EmailUpdateID, nullableID(a.CompanyID), a.Filename, a.Path, a.FileSize, string(a.Category),
		).Scan(&a.ID)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert attachment %q", a.Filename)
		}
	}

	for i := range upd.Metrics {
		m := &upd.Metrics[i]
		m.EmailUpdateID = e.ID
		err := tx.QueryRow(ctx,
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
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19,
				$20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32, $33, $34, $35, $36, $37, $38)
			RETURNING id`,
			nullableID(m.CompanyID), m.EmailUpdateID, m.ReportingPeriod, m.ReportingDate, m.ExtractedAt,
			m.MRR, m.ARR, m.QRR, m.TotalRevenue, m.GrossRevenue, m.NetRevenue,
			m.MRRGrowth, m.ARRGrowth, m.RevenueGrowthYoY, m.RevenueGrowthMoM,
			m.CashBalance, m.NetBurn, m.GrossBurn, m.RunwayMonths,
			m.GrossMargin, m.EBITDA, m.EBITDAMargin, m.NetIncome,
			m.CustomerCount, m.NewCustomers, m.ChurnRate, m.LTV, m.CAC,
			m.TeamSize, m.Bookings, m.Pipeline,
			m.KeyHighlights, m.KeyChallenges, m.FundingStatus,
			string(m.SourceType), m.SourceFile, string(m.Confidence), m.ExtractionNotes,
		).Scan(&m.ID)
		if err != nil {
			return eris.Wrap(err, "postgres: insert metrics")
		}
	}

	for i := range upd.Audits {
		a := &upd.Audits[i]
		a.EmailUpdateID = e.ID
		if _, err := tx.Exec(ctx,
			`INSERT INTO metric_extractions (email_update_id, source_file, status, raw_output, error_message, retry_count, extracted_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			a.EmailUpdateID, a.SourceFile, string(a.Status), a.RawOutput, a.ErrorMessage, a.RetryCount, a.ExtractedAt,
		); err != nil {
			return eris.Wrap(err, "postgres: insert extraction audit")
		}
	}

	if e.CompanyID != nil {
		if _, err := tx.Exec(ctx,
			`UPDATE companies SET last_update_at = $1
			 WHERE id = $2 AND (last_update_at IS NULL OR last_update_at < $1)`,
			e.Date, *e.CompanyID,
		); err != nil {
			return eris.Wrap(err, "postgres: bump company last update")
		}
		if _, err := tx.Exec(ctx,
			`UPDATE alerts SET resolved = true, resolved_at = $1 WHERE company_id = $2 AND resolved = false`,
			now, *e.CompanyID,
		); err != nil {
			return eris.Wrap(err, "postgres: resolve alerts")
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit save")
}

func (s *PostgresStore) RecordExtractionFailure(ctx context.Context, rec model.MetricExtraction) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO metric_extractions (email_update_id, source_file, status, raw_output, error_message, retry_count, extracted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		nullableID(rec.EmailUpdateID), rec.SourceFile, string(rec.Status),
		rec.RawOutput, rec.ErrorMessage, rec.RetryCount, rec.ExtractedAt,
	)
	return eris.Wrap(err, "postgres: record extraction failure")
}

func (s *PostgresStore) StaleCompanies(ctx context.Context, before time.Time) ([]model.Company, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+companyColumns+` FROM companies
		 WHERE is_portfolio = true AND (last_update_at IS NULL OR last_update_at < $1)
		 ORDER BY last_update_at`,
		before,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: stale companies")
	}
	defer rows.Close()
	return scanPgCompanies(rows)
}

func (s *PostgresStore) UnresolvedAlerts(ctx context.Context, companyID int64) ([]model.Alert, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, company_id, alert_type, sent_at, resolved, resolved_at
		 FROM alerts WHERE company_id = $1 AND resolved = false ORDER BY sent_at DESC`,
		companyID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: unresolved alerts for company %d", companyID)
	}
	defer rows.Close()

	var out []model.Alert
	for rows.Next() {
		var a model.Alert
		var alertType string
		if err := rows.Scan(&a.ID, &a.CompanyID, &alertType, &a.SentAt, &a.Resolved, &a.ResolvedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan alert")
		}
		a.Type = model.AlertType(alertType)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateAlert(ctx context.Context, a model.Alert) (*model.Alert, error) {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO alerts (company_id, alert_type, sent_at, resolved) VALUES ($1, $2, $3, false) RETURNING id`,
		a.CompanyID, string(a.Type), a.SentAt,
	).Scan(&a.ID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert alert for company %d", a.CompanyID)
	}
	return &a, nil
}

func (s *PostgresStore) Stats(ctx context.Context) (*model.Stats, error) {
	var st model.Stats
	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM companies WHERE is_portfolio = true),
			(SELECT COUNT(*) FROM companies WHERE is_portfolio = false),
			(SELECT COUNT(*) FROM email_updates),
			(SELECT COUNT(*) FROM email_updates WHERE has_attachments = true),
			(SELECT COUNT(*) FROM attachments),
			(SELECT COUNT(*) FROM financial_metrics),
			(SELECT COUNT(*) FROM email_updates WHERE date >= now() - interval '7 days')`,
	).Scan(
		&st.PortfolioCompanies, &st.NonPortfolioCompanies, &st.TotalEmails,
		&st.EmailsWithAttachments, &st.TotalAttachments, &st.TotalMetrics,
		&st.RecentEmails7d,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: stats")
	}
	return &st, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func scanPgCompany(row pgx.Row) (*model.Company, error) {
	var co model.Company
	var legalName, website, description *string
	err := row.Scan(&co.ID, &co.Name, &legalName, &website, &description,
		&co.IsPortfolio, &co.LastUpdateAt, &co.CreatedAt)
	if err != nil {
		return nil, err
	}
	co.LegalName = deref(legalName)
	co.Website = deref(website)
	co.Description = deref(description)
	return &co, nil
}

func scanPgCompanies(rows pgx.Rows) ([]model.Company, error) {
	var out []model.Company
	for rows.Next() {
		co, err := scanPgCompany(rows)
		if err != nil {
			return nil, eris.Wrap(err, "store: scan company")
		}
		out = append(out, *co)
	}
	return out, rows.Err()
}
