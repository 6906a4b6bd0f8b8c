// Package intake is the producer side of the pipeline: it stores uploads,
// opens document versions, writes credit estimates and enqueues jobs.
package intake

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"docpipe-backend/internal/credits"
	"docpipe-backend/internal/documents"
	"docpipe-backend/internal/jobs"
	"docpipe-backend/internal/ocr"
	"docpipe-backend/internal/queue"
	"docpipe-backend/internal/shared/storage/object"
	"docpipe-backend/internal/shared/telemetry"
	"docpipe-backend/internal/shared/util"
)

const defaultMaxBytes = 50 << 20

var (
	ErrNoPriorVersion = errors.New("document has no prior version")
	ErrEmptyContent   = errors.New("upload is empty")
	ErrTooLarge       = errors.New("upload exceeds size limit")
	ErrMissingTenant  = errors.New("tenant id is required")
)

// Upload is one file handed to Submit.
type Upload struct {
	TenantID string
	UserID   string
	FileName string
	// MIME is sniffed from Content when empty.
	MIME    string
	CaseRef string
	Content []byte
}

// Receipt describes the job created for a submission.
type Receipt struct {
	DocumentID     string `json:"documentId"`
	JobID          string `json:"jobId"`
	Version        int    `json:"version"`
	CreditEstimate int    `json:"creditEstimate"`
	// Reused is true when the content matched an existing document.
	Reused bool `json:"reused"`
}

// Service creates documents, versions and jobs.
type Service struct {
	Documents documents.Repo
	Jobs      jobs.Repo
	Ledger    *credits.Ledger
	Store     object.Store
	Queue     queue.Client
	MaxBytes  int64
	NewID     func() string
}

// Submit stores an upload and enqueues its first (or next) processing job.
func (s *Service) Submit(ctx context.Context, up Upload) (Receipt, error) {
	if strings.TrimSpace(up.TenantID) == "" {
		return Receipt{}, ErrMissingTenant
	}
	if len(up.Content) == 0 {
		return Receipt{}, ErrEmptyContent
	}
	if int64(len(up.Content)) > s.maxBytes() {
		return Receipt{}, fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, len(up.Content), s.maxBytes())
	}
	name, err := util.SanitizeFileName(up.FileName)
	if err != nil {
		return Receipt{}, err
	}
	mime := ocr.NormalizeMIME(up.MIME)
	if mime == "" {
		mime = ocr.NormalizeMIME(mimetype.Detect(up.Content).String())
	}
	sha := util.SHA256Hex(up.Content)

	doc, reused, err := s.findOrCreate(ctx, documents.Document{
		ID:           s.newID(),
		TenantID:     up.TenantID,
		UserID:       up.UserID,
		OrigFilename: name,
		MIME:         mime,
		SHA256:       sha,
		SizeBytes:    int64(len(up.Content)),
		CaseRef:      up.CaseRef,
	})
	if err != nil {
		return Receipt{}, err
	}

	next := 1
	if latest, err := s.Documents.LatestVersion(ctx, doc.ID); err == nil {
		next = latest.Version + 1
	} else if !errors.Is(err, documents.ErrNotFound) {
		return Receipt{}, fmt.Errorf("latest version: %w", err)
	}
	key, err := object.OriginalKey(doc.TenantID, doc.SHA256, next, name)
	if err != nil {
		return Receipt{}, err
	}
	if err := s.Store.PutObject(ctx, key, up.Content, mime); err != nil {
		return Receipt{}, fmt.Errorf("store original: %w", err)
	}

	receipt, err := s.openJob(ctx, doc, key)
	if err != nil {
		return Receipt{}, err
	}
	receipt.Reused = reused
	return receipt, nil
}

// Reprocess opens version N+1 over the latest original and enqueues a job.
func (s *Service) Reprocess(ctx context.Context, documentID string) (Receipt, error) {
	doc, err := s.Documents.GetByID(ctx, documentID)
	if err != nil {
		return Receipt{}, fmt.Errorf("document %s: %w", documentID, err)
	}
	latest, err := s.Documents.LatestVersion(ctx, documentID)
	if err != nil {
		if errors.Is(err, documents.ErrNotFound) {
			return Receipt{}, ErrNoPriorVersion
		}
		return Receipt{}, fmt.Errorf("latest version: %w", err)
	}
	receipt, err := s.openJob(ctx, doc, latest.StorageURI)
	if err != nil {
		return Receipt{}, err
	}
	receipt.Reused = true
	return receipt, nil
}

func (s *Service) findOrCreate(ctx context.Context, doc documents.Document) (documents.Document, bool, error) {
	existing, err := s.Documents.FindByHash(ctx, doc.TenantID, doc.SHA256)
	if err == nil {
		return existing, true, nil
	}
	if !errors.Is(err, documents.ErrNotFound) {
		return documents.Document{}, false, fmt.Errorf("find document: %w", err)
	}
	if err := s.Documents.Create(ctx, doc); err != nil {
		if errors.Is(err, documents.ErrDuplicate) {
			existing, findErr := s.Documents.FindByHash(ctx, doc.TenantID, doc.SHA256)
			if findErr != nil {
				return documents.Document{}, false, fmt.Errorf("find document after duplicate: %w", findErr)
			}
			return existing, true, nil
		}
		return documents.Document{}, false, fmt.Errorf("create document: %w", err)
	}
	return doc, false, nil
}

// openJob creates the version, the queued job and its estimate, then enqueues.
func (s *Service) openJob(ctx context.Context, doc documents.Document, storageURI string) (Receipt, error) {
	ver, err := s.Documents.CreateVersion(ctx, doc.ID, storageURI)
	if err != nil {
		return Receipt{}, fmt.Errorf("create version: %w", err)
	}
	job := jobs.Job{
		ID:         s.newID(),
		DocumentID: doc.ID,
		Status:     jobs.StatusQueued,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.Jobs.Create(ctx, job); err != nil {
		return Receipt{}, fmt.Errorf("create job: %w", err)
	}

	estimate := credits.EstimateCredits(doc.MIME, doc.SizeBytes)
	if _, err := s.Ledger.RecordEstimate(ctx, credits.Estimate{
		TenantID: doc.TenantID,
		UserID:   doc.UserID,
		JobID:    job.ID,
		Credits:  estimate,
	}); err != nil {
		return Receipt{}, fmt.Errorf("record estimate: %w", err)
	}

	fields := map[string]any{
		"job_id":           job.ID,
		"document_id":      doc.ID,
		"tenant_id":        doc.TenantID,
		"version":          ver.Version,
		"credits_estimate": estimate,
	}
	reqID := telemetry.RequestIDFromContext(ctx)
	if reqID != "" {
		fields["request_id"] = reqID
	}
	if err := queue.Enqueue(ctx, s.Queue, job.ID, reqID); err != nil {
		// The job stays queued; the sweeper only handles running jobs.
		telemetry.Error("job.enqueue_failed", telemetry.Merge(fields, map[string]any{"error": util.SanitizeError(err)}))
	} else {
		telemetry.Info("job.enqueued", fields)
	}

	return Receipt{
		DocumentID:     doc.ID,
		JobID:          job.ID,
		Version:        ver.Version,
		CreditEstimate: estimate,
	}, nil
}

func (s *Service) maxBytes() int64 {
	if s.MaxBytes > 0 {
		return s.MaxBytes
	}
	return defaultMaxBytes
}

func (s *Service) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}
