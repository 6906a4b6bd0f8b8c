// Package pipeline drives one processing job from queued to a terminal state:
// fetch the original, OCR it, score the result, reconcile credits and commit.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"docpipe-backend/internal/credits"
	"docpipe-backend/internal/documents"
	"docpipe-backend/internal/jobs"
	"docpipe-backend/internal/ocr"
	"docpipe-backend/internal/quality"
	"docpipe-backend/internal/shared/metrics"
	"docpipe-backend/internal/shared/storage/object"
	"docpipe-backend/internal/shared/telemetry"
	"docpipe-backend/internal/shared/util"
)

// Fatal job error codes.
const (
	ErrVersionMissing  = "document_version_missing"
	ErrDocumentMissing = "document_missing"
)

// Warnings added by the runner.
const (
	WarnOCRFailed     = "OCR processing failed"
	WarnOCRTextStore  = "Failed to store OCR text"
	MetricOCRConf     = "ocr_confidence_avg"
	MetricDeskewAngle = "deskew_applied_degrees"
)

// Runner executes jobs. All collaborators are required except Metrics.
type Runner struct {
	Jobs      jobs.Repo
	Documents documents.Repo
	Store     object.Store
	Ledger    *credits.Ledger
	OCR       *ocr.Dispatcher
	Metrics   *metrics.Worker
	Now       func() time.Time
}

// fatalError ends the job as failed with Code stored on the job.
type fatalError struct {
	Code string
}

func (e fatalError) Error() string { return e.Code }

func fatal(code string, cause error) fatalError {
	if cause == nil {
		return fatalError{Code: code}
	}
	return fatalError{Code: util.Truncate(code+": "+cause.Error(), 500)}
}

type jobOutput struct {
	doc       documents.Document
	versionID int64
	results   documents.Results
}

// ProcessJob runs jobID. It returns nil for every outcome it could record
// (including failed jobs, unknown ids and duplicate deliveries) and an error
// only when the job state could not be read or written.
func (r *Runner) ProcessJob(ctx context.Context, jobID string) error {
	if err := r.validate(); err != nil {
		return err
	}
	fields := map[string]any{"job_id": jobID}
	if reqID := telemetry.RequestIDFromContext(ctx); reqID != "" {
		fields["request_id"] = reqID
	}

	job, err := r.Jobs.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			telemetry.Error("job.not_found", fields)
			return nil
		}
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	fields["document_id"] = job.DocumentID
	if job.Status != jobs.StatusQueued {
		telemetry.Warn("job.skipped", telemetry.Merge(fields, map[string]any{"status": job.Status}))
		return nil
	}

	startedAt := r.now()
	if err := r.Jobs.MarkRunning(ctx, jobID, jobs.DefaultSteps, startedAt); err != nil {
		if errors.Is(err, jobs.ErrInvalidTransition) || errors.Is(err, jobs.ErrNotFound) {
			telemetry.Warn("job.skipped", telemetry.Merge(fields, map[string]any{"reason": "claimed elsewhere"}))
			return nil
		}
		return fmt.Errorf("mark job %s running: %w", jobID, err)
	}
	telemetry.Info("job.status", telemetry.Merge(fields, map[string]any{
		"status":            jobs.StatusRunning,
		"status_transition": "queued->running",
	}))

	out, err := r.run(ctx, job, fields)
	if err != nil {
		return r.fail(ctx, job, err, startedAt, fields)
	}
	fields["tenant_id"] = out.doc.TenantID

	if err := r.Documents.UpdateVersionResults(ctx, out.versionID, out.results); err != nil {
		return r.fail(ctx, job, fatal("version_update_failed", err), startedAt, fields)
	}

	actual := credits.ActualCredits(out.doc.MIME, out.doc.SizeBytes, out.results.Metrics)
	r.settle(ctx, jobID, actual, fields)

	finishedAt := r.now()
	if err := r.Jobs.MarkSucceeded(ctx, jobID, finishedAt); err != nil {
		return fmt.Errorf("mark job %s succeeded: %w", jobID, err)
	}
	r.Metrics.JobFinished(jobs.StatusSucceeded)
	if pages, ok := out.results.Metrics[quality.KeyPageCount].(int); ok {
		r.Metrics.PagesProcessed(ocr.NormalizeMIME(out.doc.MIME), pages)
	}
	telemetry.Info("job.status", telemetry.Merge(fields, map[string]any{
		"status":            jobs.StatusSucceeded,
		"status_transition": "running->succeeded",
		"credits_actual":    actual,
		"warnings":          len(out.results.Warnings),
		"duration_ms":       durationMs(startedAt, finishedAt),
	}))
	return nil
}

// RefundJob nets a job's credit rows to zero. A job without rows is a no-op.
func (r *Runner) RefundJob(ctx context.Context, jobID string) error {
	if r.Ledger == nil {
		return errors.New("ledger not configured")
	}
	if _, err := r.Ledger.Refund(ctx, jobID); err != nil && !errors.Is(err, credits.ErrNoOpenEstimate) {
		return err
	}
	return nil
}

func (r *Runner) run(ctx context.Context, job jobs.Job, fields map[string]any) (out jobOutput, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fatalError{Code: util.Truncate(fmt.Sprintf("panic: %v", rec), 500)}
		}
	}()

	ver, err := r.Documents.LatestVersion(ctx, job.DocumentID)
	if err != nil {
		if errors.Is(err, documents.ErrNotFound) {
			return out, fatal(ErrVersionMissing, nil)
		}
		return out, fatal("version_lookup_failed", err)
	}
	doc, err := r.Documents.GetByID(ctx, job.DocumentID)
	if err != nil {
		if errors.Is(err, documents.ErrNotFound) {
			return out, fatal(ErrDocumentMissing, nil)
		}
		return out, fatal("document_lookup_failed", err)
	}
	out.doc = doc
	out.versionID = ver.ID
	fields["tenant_id"] = doc.TenantID
	fields["version"] = ver.Version

	original, err := r.Store.GetObjectBytes(ctx, ver.StorageURI)
	if err != nil {
		return out, fatal("object_fetch_failed", err)
	}

	outcome := r.OCR.Run(ctx, doc.MIME, original)
	warnings := append([]string(nil), outcome.Warnings...)
	metricsOut := map[string]any{}
	if outcome.Err != nil {
		warnings = append(warnings, WarnOCRFailed)
		telemetry.Warn("ocr.failed", telemetry.Merge(fields, map[string]any{
			"kind":  string(outcome.Kind()),
			"error": util.SanitizeError(outcome.Err),
		}))
	}
	if outcome.Kind() == ocr.KindImage {
		metricsOut[quality.KeyPageCount] = 1
		if outcome.Err == nil && outcome.Result.MeanConfidence > 0 {
			metricsOut[MetricOCRConf] = outcome.Result.MeanConfidence
		}
	}
	if outcome.DeskewDegrees != 0 {
		metricsOut[MetricDeskewAngle] = math.Round(outcome.DeskewDegrees*100) / 100
	}

	text := outcome.Result.CombinedText
	textKey := object.OCRTextKey(doc.TenantID, doc.SHA256, ver.Version)
	if err := r.Store.PutObject(ctx, textKey, []byte(text), object.TextContentType); err != nil {
		warnings = append(warnings, WarnOCRTextStore)
		textKey = ""
		telemetry.Warn("ocr.text_store_failed", telemetry.Merge(fields, map[string]any{"error": util.SanitizeError(err)}))
	}

	report := quality.Compute(doc.MIME, outcome.Content, text)
	for k, v := range report.Metrics {
		metricsOut[k] = v
	}
	warnings = append(warnings, report.Warnings...)

	out.results = documents.Results{
		OCRTextURI: textKey,
		Metrics:    metricsOut,
		Warnings:   warnings,
	}
	return out, nil
}

func (r *Runner) fail(ctx context.Context, job jobs.Job, cause error, startedAt time.Time, fields map[string]any) error {
	msg := util.SanitizeError(cause)
	var fe fatalError
	if errors.As(cause, &fe) {
		msg = fe.Code
	}

	if err := r.RefundJob(ctx, job.ID); err != nil {
		r.Metrics.LedgerFailure("refund")
		telemetry.Error("ledger.refund_failed", telemetry.Merge(fields, map[string]any{"error": util.SanitizeError(err)}))
	}

	finishedAt := r.now()
	if err := r.Jobs.MarkFailed(ctx, job.ID, msg, finishedAt); err != nil {
		telemetry.Error("job.fail_update_failed", telemetry.Merge(fields, map[string]any{
			"error":      util.SanitizeError(err),
			"orig_error": msg,
		}))
		return fmt.Errorf("mark job %s failed: %w", job.ID, err)
	}
	r.Metrics.JobFinished(jobs.StatusFailed)
	telemetry.Error("job.status", telemetry.Merge(fields, map[string]any{
		"status":            jobs.StatusFailed,
		"status_transition": "running->failed",
		"error":             msg,
		"duration_ms":       durationMs(startedAt, finishedAt),
	}))
	return nil
}

func (r *Runner) settle(ctx context.Context, jobID string, actual int, fields map[string]any) {
	s, err := r.Ledger.Settle(ctx, jobID, actual)
	switch {
	case errors.Is(err, credits.ErrNoOpenEstimate):
		telemetry.Warn("ledger.settle_skipped", fields)
	case err != nil:
		r.Metrics.LedgerFailure("settle")
		telemetry.Error("ledger.settle_failed", telemetry.Merge(fields, map[string]any{
			"error":          util.SanitizeError(err),
			"credits_actual": actual,
		}))
	default:
		telemetry.Info("ledger.settled", telemetry.Merge(fields, map[string]any{
			"credits_estimate": s.Estimate,
			"credits_actual":   s.Actual,
		}))
	}
}

func (r *Runner) validate() error {
	switch {
	case r.Jobs == nil:
		return errors.New("pipeline: jobs repo not configured")
	case r.Documents == nil:
		return errors.New("pipeline: documents repo not configured")
	case r.Store == nil:
		return errors.New("pipeline: object store not configured")
	case r.Ledger == nil:
		return errors.New("pipeline: ledger not configured")
	case r.OCR == nil:
		return errors.New("pipeline: ocr dispatcher not configured")
	}
	return nil
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

func durationMs(startedAt, finishedAt time.Time) float64 {
	return float64(finishedAt.Sub(startedAt).Microseconds()) / 1000.0
}
