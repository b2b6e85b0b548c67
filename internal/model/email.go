package model

import "time"

// AttachmentCategory classifies an attachment by its content type or extension.
type AttachmentCategory string

const (
	CategoryPDF          AttachmentCategory = "pdf"
	CategorySpreadsheet  AttachmentCategory = "spreadsheet"
	CategoryPresentation AttachmentCategory = "presentation"
	CategoryDocument     AttachmentCategory = "document"
	CategoryImage        AttachmentCategory = "image"
	CategoryCSV          AttachmentCategory = "csv"
	CategoryArchive      AttachmentCategory = "archive"
	CategoryOther        AttachmentCategory = "other"
)

// EmailUpdate is one physically distinct inbound message. Fingerprint is the
// dedupe key: re-processing the same message never creates a second row.
type EmailUpdate struct {
	ID             int64     `json:"id,omitempty"`
	CompanyID      *int64    `json:"company_id,omitempty"` // nil until classified
	Fingerprint    string    `json:"fingerprint"`
	Sender         string    `json:"sender"`
	Subject        string    `json:"subject"`
	Body           string    `json:"body"`
	Date           time.Time `json:"date"`
	HasAttachments bool      `json:"has_attachments"`
	ProcessedAt    time.Time `json:"processed_at,omitempty"`
}

// Attachment is a file extracted from an EmailUpdate. The stored filename is
// timestamp-prefixed so repeated sends of the same file never collide within
// a company's directory.
type Attachment struct {
	ID            int64              `json:"id,omitempty"`
	EmailUpdateID int64              `json:"email_update_id,omitempty"`
	CompanyID     int64              `json:"company_id,omitempty"`
	Filename      string             `json:"filename"`
	Path          string             `json:"path"`
	FileSize      int64              `json:"file_size"`
	Category      AttachmentCategory `json:"category"`
}
