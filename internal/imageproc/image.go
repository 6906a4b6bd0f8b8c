// Package imageproc holds the raster primitives shared by deskew and quality
// scoring: decoding, grayscale conversion, Laplacian variance, Canny edges,
// standard Hough lines and affine rotation with bilinear sampling.
package imageproc

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"  // register BMP scans
	_ "golang.org/x/image/tiff" // register TIFF scans
	_ "golang.org/x/image/webp" // register WebP scans
)

// Error reports which raster operation failed.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("imageproc %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

var errEmpty = errors.New("empty image content")

// Decode decodes any registered raster format.
func Decode(content []byte) (image.Image, error) {
	if len(content) == 0 {
		return nil, &Error{Op: "decode", Err: errEmpty}
	}
	img, err := imaging.Decode(bytes.NewReader(content))
	if err != nil {
		return nil, &Error{Op: "decode", Err: err}
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, &Error{Op: "decode", Err: errEmpty}
	}
	return img, nil
}

// Grayscale converts img to an 8-bit luma image anchored at (0,0), using
// Rec. 601 weights.
func Grayscale(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Rect.Min == (image.Point{}) {
		return g
	}
	nrgba := imaging.Grayscale(img)
	w, h := nrgba.Rect.Dx(), nrgba.Rect.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		src := nrgba.Pix[y*nrgba.Stride : y*nrgba.Stride+w*4]
		dst := out.Pix[y*out.Stride : y*out.Stride+w]
		for x := 0; x < w; x++ {
			dst[x] = src[x*4]
		}
	}
	return out
}

// EncodePNG encodes img as PNG.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, &Error{Op: "encode", Err: err}
	}
	return buf.Bytes(), nil
}

// reflect101 mirrors out-of-range indices without repeating the edge pixel.
func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		} else {
			i = 2*n - 2 - i
		}
	}
	return i
}

func clamp(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
