package imageproc

import (
	"math"
	"sort"
)

// Line is a Hough line in normal form: x*cos(Theta) + y*sin(Theta) = Rho.
type Line struct {
	Rho   float64
	Theta float64
	Votes int
}

// HoughLines is the standard Hough transform over edges. Lines with more than
// threshold votes that are local maxima in the accumulator are returned
// strongest first.
func HoughLines(edges EdgeMap, rhoRes, thetaRes float64, threshold int) []Line {
	w, h := edges.Width, edges.Height
	if w == 0 || h == 0 || rhoRes <= 0 || thetaRes <= 0 {
		return nil
	}
	numAngle := int(math.RoundToEven(math.Pi / thetaRes))
	numRho := int(math.RoundToEven(float64((w+h)*2+1) / rhoRes))
	if numAngle <= 0 || numRho <= 0 {
		return nil
	}

	irho := 1 / rhoRes
	sinTab := make([]float64, numAngle)
	cosTab := make([]float64, numAngle)
	for n := 0; n < numAngle; n++ {
		ang := float64(n) * thetaRes
		sinTab[n] = math.Sin(ang) * irho
		cosTab[n] = math.Cos(ang) * irho
	}

	stride := numRho + 2
	accum := make([]int, (numAngle+2)*stride)
	offset := (numRho - 1) / 2
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if !edges.Pix[y*w+x] {
				continue
			}
			for n := 0; n < numAngle; n++ {
				r := int(math.RoundToEven(float64(x)*cosTab[n]+float64(y)*sinTab[n])) + offset
				if r < 0 || r >= numRho {
					continue
				}
				accum[(n+1)*stride+r+1]++
			}
		}
	}

	var peaks []int
	for r := 0; r < numRho; r++ {
		for n := 0; n < numAngle; n++ {
			base := (n+1)*stride + r + 1
			v := accum[base]
			if v > threshold &&
				v > accum[base-1] && v >= accum[base+1] &&
				v > accum[base-stride] && v >= accum[base+stride] {
				peaks = append(peaks, base)
			}
		}
	}
	sort.Slice(peaks, func(i, j int) bool {
		a, b := accum[peaks[i]], accum[peaks[j]]
		if a != b {
			return a > b
		}
		return peaks[i] < peaks[j]
	})

	lines := make([]Line, 0, len(peaks))
	for _, idx := range peaks {
		n := idx/stride - 1
		r := idx - (n+1)*stride - 1
		lines = append(lines, Line{
			Rho:   (float64(r) - float64(numRho-1)*0.5) * rhoRes,
			Theta: float64(n) * thetaRes,
			Votes: accum[idx],
		})
	}
	return lines
}
