// Package ocr defines the adapter contract shared by the OCR engines and the
// dispatcher that chooses an engine and its tuning for a document.
package ocr

import (
	"context"
	"strings"

	"docpipe-backend/internal/shared/util"
)

// Page is the text recognized on one page.
type Page struct {
	Index      int
	Text       string
	Confidence float64
	Language   string
}

// Result is the output of an adapter run.
type Result struct {
	Pages        []Page
	CombinedText string
	// MeanConfidence is in [0,1]; adapters without a confidence signal leave it 0.
	MeanConfidence float64
	Warnings       []string
}

// Adapter recognizes text in document bytes.
type Adapter interface {
	Process(ctx context.Context, content []byte, mime string, languages []string) (Result, error)
}

// AdapterFunc adapts a function to Adapter.
type AdapterFunc func(ctx context.Context, content []byte, mime string, languages []string) (Result, error)

// Process calls f.
func (f AdapterFunc) Process(ctx context.Context, content []byte, mime string, languages []string) (Result, error) {
	return f(ctx, content, mime, languages)
}

// Tuning carries the engine knobs chosen by the dispatcher for one run.
type Tuning struct {
	// Budget selects the fast PDF path.
	Budget         bool
	EngineMode     *int
	PageSegMode    *int
	TesseractExtra string
	// PDFArgs are appended to the ocrmypdf command line before the file operands.
	PDFArgs []string
}

// AdapterFactory builds an adapter for a tuning.
type AdapterFactory func(Tuning) Adapter

// IsImage reports whether mime is a raster image type.
func IsImage(mime string) bool {
	return strings.HasPrefix(NormalizeMIME(mime), "image/")
}

// IsPDF reports whether mime is application/pdf.
func IsPDF(mime string) bool {
	return NormalizeMIME(mime) == "application/pdf"
}

// NormalizeMIME lowercases mime and strips parameters.
func NormalizeMIME(mime string) string { return util.NormalizeMIME(mime) }

// CombinePages joins page texts with a newline between pages.
func CombinePages(pages []Page) string {
	parts := make([]string, 0, len(pages))
	for _, p := range pages {
		parts = append(parts, p.Text)
	}
	return strings.Join(parts, "\n")
}
