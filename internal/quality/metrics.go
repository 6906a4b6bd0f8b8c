// Package quality scores an OCR extraction with cheap, deterministic
// heuristics. Every sub-check is isolated: a failure in one becomes a warning
// or a missing key, never an error for the caller.
package quality

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/abadojack/whatlanggo"

	"docpipe-backend/internal/imageproc"
	"docpipe-backend/internal/pdfinfo"
	"docpipe-backend/internal/shared/telemetry"
)

// Metric keys written to DocumentVersion.metrics.
const (
	KeyBlurVariance     = "blur_variance"
	KeySkewDegrees      = "skew_degrees"
	KeyPageCount        = "page_count"
	KeyLanguageDetected = "language_detected"
	KeyTextLength       = "ocr_text_length"
	KeyTextDensity      = "text_density_per_page"
	KeyOCROK            = "ocr_ok"
)

// Thresholds.
const (
	BlurThreshold        = 100.0
	SkewThreshold        = 1.5
	MinTextLength        = 20
	MinDensityPerPage    = 40.0
	MinLanguageDetectLen = 30
)

// Warning texts.
const (
	WarnBlurry       = "Image appears blurry; sharper scan recommended"
	WarnSkewed       = "Page appears rotated/skewed; auto-correction recommended"
	WarnImageMetrics = "Failed to compute image quality metrics"
	WarnLittleText   = "Very little text extracted; check document quality or language setting"
	WarnLowDensity   = "Low text density per page; OCR may be incomplete"
)

// Metrics is the JSON object persisted with a document version.
type Metrics map[string]any

// Report is the outcome of Compute.
type Report struct {
	Metrics  Metrics
	Warnings []string
}

func (r *Report) warn(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// Compute derives quality metrics for content of the given MIME type and the
// text OCR produced for it. It is pure: equal inputs give equal reports.
func Compute(mime string, content []byte, text string) Report {
	r := Report{Metrics: Metrics{}, Warnings: []string{}}
	mime = strings.ToLower(strings.TrimSpace(mime))
	isImage := strings.HasPrefix(mime, "image/") && len(content) > 0

	if isImage {
		imageMetrics(&r, content)
		r.Metrics[KeyPageCount] = 1
	}

	if lang := detectLanguage(text); lang != "" {
		r.Metrics[KeyLanguageDetected] = lang
	}

	textLen := utf8.RuneCountInString(text)
	r.Metrics[KeyTextLength] = textLen
	if textLen < MinTextLength {
		r.warn(WarnLittleText)
	}

	if mime == "application/pdf" && len(content) > 0 {
		if n, err := pdfinfo.PageCount(content); err == nil && n > 0 {
			r.Metrics[KeyPageCount] = n
		}
	}

	density := float64(textLen)
	if pages, ok := r.Metrics[KeyPageCount].(int); ok && pages > 0 {
		density = float64(textLen) / float64(pages)
	}
	r.Metrics[KeyTextDensity] = round2(density)
	if density < MinDensityPerPage {
		r.warn(WarnLowDensity)
	}
	r.Metrics[KeyOCROK] = textLen >= MinTextLength
	return r
}

func imageMetrics(r *Report, content []byte) {
	img, err := imageproc.Decode(content)
	if err != nil {
		r.warn(WarnImageMetrics)
		return
	}
	gray := imageproc.Grayscale(img)

	if blur, ok := guarded("blur", func() float64 { return imageproc.LaplacianVariance(gray) }); ok {
		r.Metrics[KeyBlurVariance] = round2(blur)
		if blur < BlurThreshold {
			r.warn(WarnBlurry)
		}
	} else {
		r.warn(WarnImageMetrics)
	}

	if skew, ok := guarded("skew", func() float64 {
		angle, _ := imageproc.EstimateSkew(gray)
		return angle
	}); ok {
		r.Metrics[KeySkewDegrees] = round2(skew)
		if math.Abs(skew) > SkewThreshold {
			r.warn(WarnSkewed)
		}
	} else {
		r.warn(WarnImageMetrics)
	}
}

func guarded(check string, fn func() float64) (v float64, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			telemetry.Error("quality.check.panic", map[string]any{"check": check, "error": rec})
			v, ok = 0, false
		}
	}()
	v = fn()
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func detectLanguage(text string) (lang string) {
	trimmed := strings.TrimSpace(text)
	if utf8.RuneCountInString(trimmed) < MinLanguageDetectLen {
		return ""
	}
	defer func() {
		if recover() != nil {
			lang = ""
		}
	}()
	info := whatlanggo.Detect(trimmed)
	return info.Lang.Iso6391()
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
