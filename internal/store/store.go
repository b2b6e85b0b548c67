package store

import (
	"context"
	"time"

	"github.com/ShupingR/tweener-portco-email-alert/internal/model"
)

// SavedUpdate bundles everything persisted for one processed email. SaveUpdate
// writes it in a single transaction so a crash mid-message never leaves a
// half-saved update behind the fingerprint.
type SavedUpdate struct {
	Email       model.EmailUpdate
	Attachments []model.Attachment
	Metrics     []model.FinancialMetrics
	Audits      []model.MetricExtraction
}

// Store defines the persistence interface for the collector and alerter.
type Store interface {
	// Companies
	ListCompanies(ctx context.Context) ([]model.Company, error)
	GetCompanyByName(ctx context.Context, name string) (*model.Company, error)
	CreateCompany(ctx context.Context, co model.Company) (*model.Company, error)
	SetCompanyLastUpdate(ctx context.Context, companyID int64, at time.Time) error

	// Contacts
	CreateContact(ctx context.Context, c model.Contact) (*model.Contact, error)
	CompanyContacts(ctx context.Context, companyID int64) ([]model.Contact, error)

	// Email updates
	EmailExists(ctx context.Context, fingerprint string) (bool, error)
	SaveUpdate(ctx context.Context, upd *SavedUpdate) error
	RecordExtractionFailure(ctx context.Context, rec model.MetricExtraction) error

	// Alerts
	StaleCompanies(ctx context.Context, before time.Time) ([]model.Company, error)
	UnresolvedAlerts(ctx context.Context, companyID int64) ([]model.Alert, error)
	CreateAlert(ctx context.Context, a model.Alert) (*model.Alert, error)

	// Reporting
	Stats(ctx context.Context) (*model.Stats, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
