package ocrmypdf

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docpipe-backend/internal/ocr"
	"docpipe-backend/internal/pdfinfo/pdftest"
)

type fakeRun struct {
	calls     int
	args      []string
	deadlines []time.Duration
	sidecar   string
	writeText bool
	failUntil int
}

func (f *fakeRun) run(ctx context.Context, name string, args []string) ([]byte, error) {
	f.calls++
	f.args = args
	if dl, ok := ctx.Deadline(); ok {
		f.deadlines = append(f.deadlines, time.Until(dl))
	}
	if f.calls <= f.failUntil {
		return []byte("ERROR: tesseract failed"), errors.New("exit status 2")
	}
	if f.writeText {
		for i, a := range args {
			if a == "--sidecar" {
				if err := os.WriteFile(args[i+1], []byte(f.sidecar), 0o600); err != nil {
					return nil, err
				}
			}
		}
	}
	return nil, nil
}

func newTestAdapter(t *testing.T, tuning ocr.Tuning, f *fakeRun) *Adapter {
	a := New(tuning)
	a.Run = f.run
	a.TempDir = t.TempDir()
	a.Retry.Sleep = func(context.Context, time.Duration) error { return nil }
	return a
}

func TestArgs(t *testing.T) {
	a := New(ocr.Tuning{PDFArgs: []string{"--deskew"}})
	got := a.Args([]string{"eng", "deu"}, "in.pdf", "out.pdf", "out.txt")
	assert.Equal(t, []string{"--language", "eng+deu", "--sidecar", "out.txt", "--skip-text", "--deskew", "in.pdf", "out.pdf"}, got)

	fast := New(ocr.Tuning{Budget: true})
	got = fast.Args(nil, "in.pdf", "out.pdf", "out.txt")
	assert.Equal(t, []string{"--language", "eng", "--sidecar", "out.txt", "--skip-text", "--optimize", "0", "--tesseract-timeout", "60", "in.pdf", "out.pdf"}, got)
}

func TestEffectiveTimeout(t *testing.T) {
	a := New(ocr.Tuning{})
	assert.Equal(t, DefaultTimeout, a.EffectiveTimeout())
	a.Tuning.Budget = true
	assert.Equal(t, DefaultTimeout/2, a.EffectiveTimeout())
}

func TestProcessSplitsPagesOnFormFeed(t *testing.T) {
	f := &fakeRun{writeText: true, sidecar: "page one\fpage two\f"}
	res, err := newTestAdapter(t, ocr.Tuning{}, f).Process(context.Background(), pdftest.Blank(2), "application/pdf", []string{"eng"})
	require.NoError(t, err)

	require.Len(t, res.Pages, 2)
	assert.Equal(t, "page one", res.Pages[0].Text)
	assert.Equal(t, "page two", res.Pages[1].Text)
	assert.Equal(t, "page one\fpage two\f", res.CombinedText)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, 1, f.calls)
}

func TestProcessMismatchedSplitKeepsTextOnFirstPage(t *testing.T) {
	f := &fakeRun{writeText: true, sidecar: "all the text"}
	res, err := newTestAdapter(t, ocr.Tuning{}, f).Process(context.Background(), pdftest.Blank(3), "application/pdf", nil)
	require.NoError(t, err)
	require.Len(t, res.Pages, 3)
	assert.Equal(t, "all the text", res.Pages[0].Text)
	assert.Empty(t, res.Pages[2].Text)
}

func TestProcessUnparseablePDFGivesPlaceholderPage(t *testing.T) {
	f := &fakeRun{writeText: true, sidecar: "text"}
	res, err := newTestAdapter(t, ocr.Tuning{}, f).Process(context.Background(), []byte("%PDF-1.4 junk"), "application/pdf", nil)
	require.NoError(t, err)
	require.Len(t, res.Pages, 1)
	assert.Equal(t, "text", res.Pages[0].Text)
}

func TestProcessMissingSidecarWarns(t *testing.T) {
	f := &fakeRun{}
	res, err := newTestAdapter(t, ocr.Tuning{}, f).Process(context.Background(), pdftest.Blank(1), "application/pdf", nil)
	require.NoError(t, err)
	assert.Empty(t, res.CombinedText)
	assert.Equal(t, []string{WarnNoSidecar}, res.Warnings)
}

func TestProcessRetriesOnceThenSucceeds(t *testing.T) {
	f := &fakeRun{failUntil: 1, writeText: true, sidecar: "ok"}
	res, err := newTestAdapter(t, ocr.Tuning{}, f).Process(context.Background(), pdftest.Blank(1), "application/pdf", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, f.calls)
	assert.Equal(t, "ok", res.CombinedText)
}

func TestProcessFailsAfterRetry(t *testing.T) {
	f := &fakeRun{failUntil: 10}
	_, err := newTestAdapter(t, ocr.Tuning{}, f).Process(context.Background(), pdftest.Blank(1), "application/pdf", nil)
	require.Error(t, err)
	assert.Equal(t, 2, f.calls)
	assert.Contains(t, err.Error(), "exit status 2")
}

func TestProcessBudgetTightensTimeout(t *testing.T) {
	f := &fakeRun{writeText: true}
	a := newTestAdapter(t, ocr.Tuning{Budget: true}, f)
	a.Timeout = 10 * time.Second
	_, err := a.Process(context.Background(), pdftest.Blank(1), "application/pdf", nil)
	require.NoError(t, err)
	require.Len(t, f.deadlines, 1)
	assert.LessOrEqual(t, f.deadlines[0], 5*time.Second)
	assert.Contains(t, f.args, "--optimize")
}

func TestProcessNonPDF(t *testing.T) {
	f := &fakeRun{}
	res, err := newTestAdapter(t, ocr.Tuning{}, f).Process(context.Background(), []byte("x"), "image/png", nil)
	require.NoError(t, err)
	assert.Len(t, res.Pages, 1)
	assert.Zero(t, f.calls)
}

func TestScratchDirRemoved(t *testing.T) {
	f := &fakeRun{writeText: true, sidecar: "x"}
	a := newTestAdapter(t, ocr.Tuning{}, f)
	_, err := a.Process(context.Background(), pdftest.Blank(1), "application/pdf", nil)
	require.NoError(t, err)
	entries, err := os.ReadDir(a.TempDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
