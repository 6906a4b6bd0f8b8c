// Package ocrmypdf runs the ocrmypdf command line tool over a PDF and reads
// back its plain-text sidecar.
package ocrmypdf

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"docpipe-backend/internal/ocr"
	"docpipe-backend/internal/pdfinfo"
	"docpipe-backend/internal/shared/telemetry"
	"docpipe-backend/internal/shared/util"
)

const (
	DefaultBinary  = "ocrmypdf"
	DefaultTimeout = 180 * time.Second

	WarnNoSidecar = "PDF OCR produced no sidecar text"
)

// fastArgs disable optimization passes and bound per-page tesseract time.
var fastArgs = []string{"--optimize", "0", "--tesseract-timeout", "60"}

// Runner executes name with args and returns its combined output.
type Runner func(ctx context.Context, name string, args []string) ([]byte, error)

// ExecRunner runs the command as a subprocess.
func ExecRunner(ctx context.Context, name string, args []string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Adapter implements ocr.Adapter for PDFs.
type Adapter struct {
	Binary  string
	Timeout time.Duration
	Retry   ocr.RetryPolicy
	Run     Runner
	Tuning  ocr.Tuning
	// TempDir is the parent of per-run scratch directories; empty uses os.TempDir.
	TempDir string
}

// New returns an adapter with default binary, timeout and retry policy.
func New(t ocr.Tuning) *Adapter {
	return &Adapter{
		Binary:  DefaultBinary,
		Timeout: DefaultTimeout,
		Retry:   ocr.DefaultRetryPolicy(),
		Run:     ExecRunner,
		Tuning:  t,
	}
}

// Factory returns an ocr.AdapterFactory bound to a binary and timeout.
func Factory(binary string, timeout time.Duration) ocr.AdapterFactory {
	return func(t ocr.Tuning) ocr.Adapter {
		a := New(t)
		if binary != "" {
			a.Binary = binary
		}
		if timeout > 0 {
			a.Timeout = timeout
		}
		return a
	}
}

// Args builds the ocrmypdf command line for the given scratch paths.
func (a *Adapter) Args(languages []string, in, out, sidecar string) []string {
	langs := languages
	if len(langs) == 0 {
		langs = []string{"eng"}
	}
	args := []string{"--language", strings.Join(langs, "+"), "--sidecar", sidecar, "--skip-text"}
	if a.Tuning.Budget {
		args = append(args, fastArgs...)
	}
	args = append(args, a.Tuning.PDFArgs...)
	return append(args, in, out)
}

// EffectiveTimeout is the per-attempt subprocess bound.
func (a *Adapter) EffectiveTimeout() time.Duration {
	t := a.Timeout
	if t <= 0 {
		t = DefaultTimeout
	}
	if a.Tuning.Budget {
		t /= 2
	}
	return t
}

// Process OCRs a PDF. Process failures are retried per a.Retry; after the last
// attempt the error is returned to the caller.
func (a *Adapter) Process(ctx context.Context, content []byte, mime string, languages []string) (ocr.Result, error) {
	if !ocr.IsPDF(mime) {
		return ocr.Result{Pages: []ocr.Page{{Index: 0}}}, nil
	}

	dir, err := os.MkdirTemp(a.TempDir, "ocrmypdf-*")
	if err != nil {
		return ocr.Result{}, fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "in.pdf")
	out := filepath.Join(dir, "out.pdf")
	sidecar := filepath.Join(dir, "out.txt")
	if err := os.WriteFile(in, content, 0o600); err != nil {
		return ocr.Result{}, fmt.Errorf("write input pdf: %w", err)
	}

	run := a.Run
	if run == nil {
		run = ExecRunner
	}
	binary := a.Binary
	if binary == "" {
		binary = DefaultBinary
	}
	args := a.Args(languages, in, out, sidecar)
	timeout := a.EffectiveTimeout()

	err = a.Retry.Do(ctx, func(ctx context.Context, attempt int) error {
		runCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		output, err := run(runCtx, binary, args)
		if err == nil {
			return nil
		}
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s: %w", timeout, err)
		}
		telemetry.Warn("ocrmypdf.attempt_failed", map[string]any{
			"attempt": attempt,
			"error":   err.Error(),
			"output":  util.Truncate(strings.TrimSpace(string(output)), 500),
		})
		return err
	})
	if err != nil {
		return ocr.Result{}, fmt.Errorf("ocrmypdf: %w", err)
	}

	var warnings []string
	raw, err := os.ReadFile(sidecar)
	text := string(raw)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return ocr.Result{}, fmt.Errorf("read sidecar: %w", err)
		}
		warnings = append(warnings, WarnNoSidecar)
		text = ""
	}

	lang := strings.Join(languages, "+")
	return ocr.Result{
		Pages:        splitPages(content, text, lang),
		CombinedText: text,
		Warnings:     warnings,
	}, nil
}

// splitPages assigns sidecar text to pages. ocrmypdf separates pages with a
// form feed; when that split disagrees with the page count, all text goes on
// the first page.
func splitPages(content []byte, text, lang string) []ocr.Page {
	n, err := pdfinfo.PageCount(content)
	if err != nil || n <= 0 {
		return []ocr.Page{{Index: 0, Text: text, Language: lang}}
	}
	parts := strings.Split(text, "\f")
	if len(parts) == n+1 && strings.TrimSpace(parts[n]) == "" {
		parts = parts[:n]
	}
	pages := make([]ocr.Page, n)
	for i := range pages {
		pages[i] = ocr.Page{Index: i, Language: lang}
	}
	if len(parts) == n {
		for i, p := range parts {
			pages[i].Text = p
		}
	} else {
		pages[0].Text = text
	}
	return pages
}

var _ ocr.Adapter = (*Adapter)(nil)
