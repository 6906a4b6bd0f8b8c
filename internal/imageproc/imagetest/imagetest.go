// Package imagetest generates deterministic raster fixtures for tests.
package imagetest

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"testing"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Blank returns a w x h image filled with c.
func Blank(w, h int, c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return img
}

// Checkerboard alternates black and white cells of the given size.
func Checkerboard(w, h, cell int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if ((x/cell)+(y/cell))%2 == 0 {
				img.Pix[y*img.Stride+x] = 255
			}
		}
	}
	return img
}

// Lines draws count dark strokes of the given thickness across a white canvas,
// each rising by deg degrees from left to right on screen.
func Lines(w, h, count, thickness int, deg float64) *image.NRGBA {
	img := Blank(w, h, color.White)
	slope := math.Tan(deg * math.Pi / 180)
	margin := w / 20
	spacing := h / (count + 1)
	for i := 1; i <= count; i++ {
		y0 := float64(i*spacing) + slope*float64(w-2*margin)/2
		for x := margin; x < w-margin; x++ {
			yc := int(math.Round(y0 - slope*float64(x-margin)))
			for t := -thickness / 2; t <= thickness/2; t++ {
				y := yc + t
				if y >= 0 && y < h {
					img.Set(x, y, color.Black)
				}
			}
		}
	}
	return img
}

// Text renders text with the 7x13 basic font on a white canvas.
func Text(w, h int, text string) *image.NRGBA {
	img := Blank(w, h, color.White)
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.Black),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(10, h/2),
	}
	d.DrawString(text)
	return img
}

// PNG encodes img or fails the test.
func PNG(t testing.TB, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}
