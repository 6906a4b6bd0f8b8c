package documents

import (
	"errors"
	"time"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("document already exists for tenant and hash")
)

// Document is an uploaded file, unique per (tenant, content hash).
type Document struct {
	ID           string
	TenantID     string
	UserID       string
	OrigFilename string
	MIME         string
	SHA256       string
	SizeBytes    int64
	CaseRef      string
	CreatedAt    time.Time
}

// Version is one processing generation of a document. Metrics, warnings and
// the OCR text URI are filled once by the job that processed it.
type Version struct {
	ID         int64
	DocumentID string
	Version    int
	StorageURI string
	OCRTextURI string
	Metrics    map[string]any
	Warnings   []string
	CreatedAt  time.Time
}

// Results are the outputs a job writes onto its version.
type Results struct {
	OCRTextURI string
	Metrics    map[string]any
	Warnings   []string
}
