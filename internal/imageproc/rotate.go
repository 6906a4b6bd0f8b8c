package imageproc

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// Rotate turns img by angle degrees (positive is counter-clockwise on screen)
// about the integer centre (w/2, h/2), keeping the original canvas size.
// Sampling is bilinear and pixels mapped from outside the source repeat the
// nearest edge pixel.
func Rotate(img image.Image, angle float64) *image.NRGBA {
	src := imaging.Clone(img)
	w, h := src.Rect.Dx(), src.Rect.Dy()
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	if w == 0 || h == 0 {
		return dst
	}

	rad := angle * math.Pi / 180
	alpha, beta := math.Cos(rad), math.Sin(rad)
	cx, cy := float64(w/2), float64(h/2)
	// Forward map: dst = A*src + t, with A = [[a, b], [-b, a]].
	tx := (1-alpha)*cx - beta*cy
	ty := beta*cx + (1-alpha)*cy

	for y := 0; y < h; y++ {
		row := dst.Pix[y*dst.Stride:]
		for x := 0; x < w; x++ {
			px, py := float64(x)-tx, float64(y)-ty
			sx := alpha*px - beta*py
			sy := beta*px + alpha*py
			r, g, b, a := sampleBilinear(src, sx, sy)
			o := x * 4
			row[o], row[o+1], row[o+2], row[o+3] = r, g, b, a
		}
	}
	return dst
}

func sampleBilinear(src *image.NRGBA, x, y float64) (uint8, uint8, uint8, uint8) {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	x0f, y0f := math.Floor(x), math.Floor(y)
	fx, fy := x-x0f, y-y0f
	x0, y0 := int(x0f), int(y0f)
	xa, xb := clamp(x0, w), clamp(x0+1, w)
	ya, yb := clamp(y0, h), clamp(y0+1, h)

	p00 := src.Pix[ya*src.Stride+xa*4:]
	p10 := src.Pix[ya*src.Stride+xb*4:]
	p01 := src.Pix[yb*src.Stride+xa*4:]
	p11 := src.Pix[yb*src.Stride+xb*4:]

	var out [4]uint8
	for c := 0; c < 4; c++ {
		top := lerp(float64(p00[c]), float64(p10[c]), fx)
		bottom := lerp(float64(p01[c]), float64(p11[c]), fx)
		v := lerp(top, bottom, fy)
		out[c] = uint8(math.Min(255, math.Max(0, math.Round(v))))
	}
	return out[0], out[1], out[2], out[3]
}

func lerp(a, b, t float64) float64 { return a + (b-a)*t }
