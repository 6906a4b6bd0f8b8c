// Package normalize prepares scanned images before OCR.
package normalize

import (
	"math"

	"docpipe-backend/internal/imageproc"
	"docpipe-backend/internal/shared/telemetry"
)

// SkewThreshold is the largest |angle| in degrees left uncorrected.
const SkewThreshold = 1.5

// Deskew estimates page skew and, when it exceeds SkewThreshold, returns a
// PNG rotated about the image centre together with the applied angle. In every
// other case (undecodable input, no detectable lines, small skew) it returns
// the input unchanged and 0. It never fails.
func Deskew(content []byte) (out []byte, applied float64) {
	defer func() {
		if rec := recover(); rec != nil {
			telemetry.Error("normalize.deskew.panic", map[string]any{"error": rec})
			out, applied = content, 0
		}
	}()

	img, err := imageproc.Decode(content)
	if err != nil {
		return content, 0
	}
	angle, lines := imageproc.EstimateSkew(imageproc.Grayscale(img))
	if lines == 0 || math.Abs(angle) <= SkewThreshold {
		return content, 0
	}

	encoded, err := imageproc.EncodePNG(imageproc.Rotate(img, angle))
	if err != nil {
		return content, 0
	}
	return encoded, angle
}
