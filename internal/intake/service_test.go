package intake

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docpipe-backend/internal/credits"
	"docpipe-backend/internal/documents"
	"docpipe-backend/internal/jobs"
	"docpipe-backend/internal/pdfinfo/pdftest"
	"docpipe-backend/internal/queue"
	"docpipe-backend/internal/shared/storage/object"
	"docpipe-backend/internal/shared/storage/object/local"
	"docpipe-backend/internal/shared/util"
)

type harness struct {
	svc    *Service
	docs   *documents.MemoryRepo
	jobs   *jobs.MemoryRepo
	ledger *credits.Ledger
	store  object.Store
	queue  *queue.MemoryQueue
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		docs:   documents.NewMemoryRepo(),
		jobs:   jobs.NewMemoryRepo(),
		ledger: credits.NewMemoryLedger(),
		store:  local.New(t.TempDir()),
		queue:  queue.NewMemoryQueue(10 * time.Millisecond),
	}
	n := 0
	h.svc = &Service{
		Documents: h.docs,
		Jobs:      h.jobs,
		Ledger:    h.ledger,
		Store:     h.store,
		Queue:     h.queue,
		NewID: func() string {
			n++
			return fmt.Sprintf("id-%d", n)
		},
	}
	return h
}

func (h *harness) drain(t *testing.T) []queue.Message {
	t.Helper()
	deliveries, err := h.queue.Receive(context.Background())
	require.NoError(t, err)
	out := make([]queue.Message, 0, len(deliveries))
	for _, d := range deliveries {
		msg, err := queue.DecodeMessage([]byte(d.Body))
		require.NoError(t, err)
		out = append(out, msg)
	}
	return out
}

func TestSubmitCreatesDocumentVersionJobAndEstimate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	content := pdftest.Blank(1)

	r, err := h.svc.Submit(ctx, Upload{TenantID: "t1", UserID: "u1", FileName: "scans/contract.pdf", Content: content})
	require.NoError(t, err)

	assert.Equal(t, 1, r.Version)
	assert.False(t, r.Reused)
	assert.Equal(t, credits.EstimateCredits("application/pdf", int64(len(content))), r.CreditEstimate)

	doc, err := h.docs.GetByID(ctx, r.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", doc.MIME)
	assert.Equal(t, "scans_contract.pdf", doc.OrigFilename)
	assert.Equal(t, util.SHA256Hex(content), doc.SHA256)

	ver, err := h.docs.LatestVersion(ctx, r.DocumentID)
	require.NoError(t, err)
	wantKey, _ := object.OriginalKey("t1", doc.SHA256, 1, "scans/contract.pdf")
	assert.Equal(t, wantKey, ver.StorageURI)
	stored, err := h.store.GetObjectBytes(ctx, wantKey)
	require.NoError(t, err)
	assert.Equal(t, content, stored)

	job, err := h.jobs.GetByID(ctx, r.JobID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusQueued, job.Status)

	net, err := h.ledger.JobNet(ctx, r.JobID)
	require.NoError(t, err)
	assert.Equal(t, -r.CreditEstimate, net)

	msgs := h.drain(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, r.JobID, msgs[0].JobID)
}

func TestSubmitSameContentReusesDocument(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	content := []byte("\x89PNG\r\n\x1a\nnot-a-real-image")

	first, err := h.svc.Submit(ctx, Upload{TenantID: "t1", FileName: "a.png", Content: content})
	require.NoError(t, err)
	second, err := h.svc.Submit(ctx, Upload{TenantID: "t1", FileName: "b.png", Content: content})
	require.NoError(t, err)

	assert.Equal(t, first.DocumentID, second.DocumentID)
	assert.True(t, second.Reused)
	assert.Equal(t, 2, second.Version)
	assert.NotEqual(t, first.JobID, second.JobID)

	other, err := h.svc.Submit(ctx, Upload{TenantID: "t2", FileName: "a.png", Content: content})
	require.NoError(t, err)
	assert.NotEqual(t, first.DocumentID, other.DocumentID)
	assert.Equal(t, 1, other.Version)
}

func TestSubmitSniffsMIME(t *testing.T) {
	h := newHarness(t)
	r, err := h.svc.Submit(context.Background(), Upload{TenantID: "t1", FileName: "x", Content: pdftest.Blank(1)})
	require.NoError(t, err)
	doc, err := h.docs.GetByID(context.Background(), r.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", doc.MIME)

	r, err = h.svc.Submit(context.Background(), Upload{TenantID: "t1", FileName: "y", MIME: "Image/PNG; q=1", Content: []byte("abc")})
	require.NoError(t, err)
	doc, err = h.docs.GetByID(context.Background(), r.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, "image/png", doc.MIME)
}

func TestSubmitValidation(t *testing.T) {
	h := newHarness(t)
	h.svc.MaxBytes = 4
	ctx := context.Background()

	_, err := h.svc.Submit(ctx, Upload{FileName: "a", Content: []byte("x")})
	assert.ErrorIs(t, err, ErrMissingTenant)
	_, err = h.svc.Submit(ctx, Upload{TenantID: "t", FileName: "a"})
	assert.ErrorIs(t, err, ErrEmptyContent)
	_, err = h.svc.Submit(ctx, Upload{TenantID: "t", FileName: "a", Content: []byte("too big")})
	assert.ErrorIs(t, err, ErrTooLarge)
	_, err = h.svc.Submit(ctx, Upload{TenantID: "t", FileName: "../x", Content: []byte("ok")})
	assert.Error(t, err)
}

func TestReprocessAddsVersionOverSameOriginal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first, err := h.svc.Submit(ctx, Upload{TenantID: "t1", FileName: "a.pdf", Content: pdftest.Blank(2)})
	require.NoError(t, err)
	before, err := h.docs.LatestVersion(ctx, first.DocumentID)
	require.NoError(t, err)

	r, err := h.svc.Reprocess(ctx, first.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, 2, r.Version)
	assert.True(t, r.Reused)

	after, err := h.docs.LatestVersion(ctx, first.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, before.StorageURI, after.StorageURI)

	net, err := h.ledger.JobNet(ctx, r.JobID)
	require.NoError(t, err)
	assert.Equal(t, -r.CreditEstimate, net)
	assert.Len(t, h.drain(t), 2)
}

func TestReprocessWithoutVersion(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.docs.Create(ctx, documents.Document{ID: "d1", TenantID: "t", SHA256: "ab"}))

	_, err := h.svc.Reprocess(ctx, "d1")
	assert.ErrorIs(t, err, ErrNoPriorVersion)

	_, err = h.svc.Reprocess(ctx, "missing")
	assert.ErrorIs(t, err, documents.ErrNotFound)
}

type brokenQueue struct{}

func (brokenQueue) Send(context.Context, queue.Message) error { return errors.New("queue down") }

func TestEnqueueFailureKeepsQueuedJob(t *testing.T) {
	h := newHarness(t)
	h.svc.Queue = brokenQueue{}
	r, err := h.svc.Submit(context.Background(), Upload{TenantID: "t", FileName: "a.pdf", Content: pdftest.Blank(1)})
	require.NoError(t, err)
	job, err := h.jobs.GetByID(context.Background(), r.JobID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusQueued, job.Status)
}
