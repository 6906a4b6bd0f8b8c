package credits

import (
	"encoding/json"
	"math"
	"strings"

	"docpipe-backend/internal/shared/util"
)

const (
	creditsPerMB      = 10
	imageSurcharge    = 5
	creditsPerPDFPage = 8
	creditsPerImgPage = 10
)

// EstimateCredits prices a document before OCR: 10 per started MB (at least
// one), plus 5 for images. The result is never below 1.
func EstimateCredits(mime string, sizeBytes int64) int {
	mb := int(math.Ceil(float64(sizeBytes) / 1_000_000))
	mb = max(mb, 1)
	c := creditsPerMB * mb
	if isImage(mime) {
		c += imageSurcharge
	}
	return max(c, 1)
}

// ActualCredits prices a processed document by page count when the metrics
// carry one, otherwise it falls back to the estimate.
func ActualCredits(mime string, sizeBytes int64, metrics map[string]any) int {
	pages := pageCount(metrics)
	if pages > 0 {
		switch {
		case util.NormalizeMIME(mime) == "application/pdf":
			return creditsPerPDFPage * pages
		case isImage(mime):
			return creditsPerImgPage * pages
		}
	}
	return EstimateCredits(mime, sizeBytes)
}

func pageCount(metrics map[string]any) int {
	switch v := metrics["page_count"].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0
		}
		return int(n)
	}
	return 0
}

func isImage(mime string) bool {
	return strings.HasPrefix(util.NormalizeMIME(mime), "image/")
}
