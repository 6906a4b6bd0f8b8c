package imageproc

import (
	"image"
	"math"
	"sort"
)

const (
	cannyLow      = 50
	cannyHigh     = 150
	houghVotes    = 200
	maxSkewLines  = 50
	degreesPerRad = 180 / math.Pi
)

// EstimateSkew returns the median deviation from horizontal, in degrees within
// [-45, 45], of the strongest Hough lines, and how many lines were used. With
// no lines it returns (0, 0).
func EstimateSkew(g *image.Gray) (float64, int) {
	edges := Canny(g, cannyLow, cannyHigh)
	lines := HoughLines(edges, 1, math.Pi/180, houghVotes)
	if len(lines) == 0 {
		return 0, 0
	}
	if len(lines) > maxSkewLines {
		lines = lines[:maxSkewLines]
	}
	angles := make([]float64, 0, len(lines))
	for _, l := range lines {
		angles = append(angles, FoldAngle(l.Theta*degreesPerRad-90))
	}
	return Median(angles), len(angles)
}

// FoldAngle maps an angle in degrees into [-45, 45] by steps of 90.
func FoldAngle(deg float64) float64 {
	for deg > 45 {
		deg -= 90
	}
	for deg < -45 {
		deg += 90
	}
	return deg
}

// Median of values; the mean of the two middle values for even lengths.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
