package ocr

import (
	"context"
	"fmt"
	"strings"
	"time"

	"docpipe-backend/internal/normalize"
	"docpipe-backend/internal/shared/metrics"
)

// Quality modes.
const (
	ModeRecommended = "recommended"
	ModeBudget      = "budget"
)

// Providers.
const (
	ProviderAuto = "auto"
	ProviderStub = "stub"
)

// Budget defaults: LSTM-only engine, single uniform text block.
const (
	BudgetEngineMode  = 1
	BudgetPageSegMode = 6
)

// Kind identifies the path a document took through the dispatcher.
type Kind string

const (
	KindImage       Kind = "image"
	KindPDF         Kind = "pdf"
	KindUnsupported Kind = "unsupported"
	KindStub        Kind = "stub"
)

const (
	WarnStub        = "OCR provider disabled (stub); no text extracted"
	unsupportedWarn = "Unsupported MIME for OCR at this stage: "
)

// Settings is the OCR configuration of a deployment.
type Settings struct {
	Provider            string
	Mode                string
	Languages           []string
	EngineMode          *int
	PageSegMode         *int
	TesseractExtra      string
	OCRMyPDFExtra       []string
	OCRMyPDFRecommended []string
}

// Plan is the dispatch decision for one document.
type Plan struct {
	Kind      Kind
	Mode      string
	Languages []string
	Deskew    bool
	Tuning    Tuning
}

// Outcome is the explicit result of a dispatch. Err carries an adapter
// failure; Result is then empty. Content is the byte stream OCR consumed,
// i.e. the deskewed image when the normalizer rotated it.
type Outcome struct {
	Plan          Plan
	Result        Result
	Warnings      []string
	Content       []byte
	DeskewDegrees float64
	Duration      time.Duration
	Err           error
}

// Kind reports which path produced the outcome.
func (o Outcome) Kind() Kind { return o.Plan.Kind }

// Dispatcher routes documents to adapters according to Settings.
type Dispatcher struct {
	Settings Settings
	Image    AdapterFactory
	PDF      AdapterFactory
	Metrics  *metrics.Worker
	// Deskew defaults to normalize.Deskew.
	Deskew func([]byte) ([]byte, float64)
}

// Plan decides routing, languages and tuning without running anything.
func (d *Dispatcher) Plan(mime string) Plan {
	mode := NormalizeMode(d.Settings.Mode)
	langs := d.Settings.Languages
	if len(langs) == 0 {
		langs = []string{"eng"}
	}
	p := Plan{Mode: mode, Languages: append([]string(nil), langs...)}

	switch {
	case strings.EqualFold(strings.TrimSpace(d.Settings.Provider), ProviderStub):
		p.Kind = KindStub
		return p
	case IsImage(mime):
		p.Kind = KindImage
	case IsPDF(mime):
		p.Kind = KindPDF
	default:
		p.Kind = KindUnsupported
		return p
	}

	t := Tuning{
		EngineMode:     d.Settings.EngineMode,
		PageSegMode:    d.Settings.PageSegMode,
		TesseractExtra: d.Settings.TesseractExtra,
	}
	if mode == ModeBudget {
		p.Languages = p.Languages[:1]
		t.Budget = true
		if t.EngineMode == nil {
			t.EngineMode = intPtr(BudgetEngineMode)
		}
		if t.PageSegMode == nil {
			t.PageSegMode = intPtr(BudgetPageSegMode)
		}
	} else {
		p.Deskew = p.Kind == KindImage
		t.PDFArgs = append(t.PDFArgs, d.Settings.OCRMyPDFRecommended...)
	}
	t.PDFArgs = append(t.PDFArgs, d.Settings.OCRMyPDFExtra...)
	p.Tuning = t
	return p
}

// Run executes the plan for mime. It never panics on adapter failure; the
// error is returned in Outcome.Err.
func (d *Dispatcher) Run(ctx context.Context, mime string, content []byte) Outcome {
	plan := d.Plan(mime)
	out := Outcome{Plan: plan, Content: content}

	var factory AdapterFactory
	switch plan.Kind {
	case KindStub:
		out.Warnings = append(out.Warnings, WarnStub)
		return out
	case KindUnsupported:
		out.Warnings = append(out.Warnings, UnsupportedWarning(mime))
		return out
	case KindImage:
		factory = d.Image
	case KindPDF:
		factory = d.PDF
	}
	if factory == nil {
		out.Err = fmt.Errorf("no %s adapter configured", plan.Kind)
		return out
	}

	if plan.Deskew {
		deskew := d.Deskew
		if deskew == nil {
			deskew = normalize.Deskew
		}
		rotated, deg := deskew(content)
		if deg != 0 {
			out.Content = rotated
			out.DeskewDegrees = deg
			out.Warnings = append(out.Warnings, DeskewWarning(deg))
		}
	}

	start := time.Now()
	res, err := factory(plan.Tuning).Process(ctx, out.Content, mime, plan.Languages)
	out.Duration = time.Since(start)
	d.Metrics.ObserveOCR(NormalizeMIME(mime), out.Duration)
	if err != nil {
		out.Err = err
		return out
	}
	out.Result = res
	out.Warnings = append(out.Warnings, res.Warnings...)
	return out
}

// NormalizeMode maps unknown values to recommended.
func NormalizeMode(mode string) string {
	if strings.EqualFold(strings.TrimSpace(mode), ModeBudget) {
		return ModeBudget
	}
	return ModeRecommended
}

// UnsupportedWarning is the warning for a MIME type without an OCR path.
func UnsupportedWarning(mime string) string {
	return unsupportedWarn + mime
}

// DeskewWarning reports an applied rotation with one decimal.
func DeskewWarning(deg float64) string {
	return fmt.Sprintf("Auto-deskew applied (~%.1f°)", deg)
}

func intPtr(v int) *int { return &v }
