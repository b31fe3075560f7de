package capture

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"math"
	"sync/atomic"

	"golang.org/x/image/draw"
)

// TargetSize caps width at maxWidth and keeps the aspect ratio.
func TargetSize(w, h, maxWidth int) (int, int) {
	if w <= 0 || h <= 0 {
		return 0, 0
	}
	if maxWidth > 0 && w > maxWidth {
		h = int(math.Round(float64(h) * float64(maxWidth) / float64(w)))
		w = maxWidth
	}
	if h < 1 {
		h = 1
	}
	return w, h
}

// Raster is a reusable drawing surface. It is reallocated only when the
// target dimensions change.
type Raster struct {
	maxWidth int
	surface  *image.RGBA
	resizes  atomic.Uint64
}

func NewRaster(maxWidth int) *Raster {
	return &Raster{maxWidth: maxWidth}
}

// Draw scales src onto the surface and returns it. The returned image is
// overwritten by the next call.
func (r *Raster) Draw(src image.Image) (*image.RGBA, error) {
	sb := src.Bounds()
	w, h := TargetSize(sb.Dx(), sb.Dy(), r.maxWidth)
	if w == 0 {
		return nil, fmt.Errorf("capture: empty source frame")
	}
	if r.surface == nil || r.surface.Rect.Dx() != w || r.surface.Rect.Dy() != h {
		r.surface = image.NewRGBA(image.Rect(0, 0, w, h))
		r.resizes.Add(1)
	}
	draw.ApproxBiLinear.Scale(r.surface, r.surface.Rect, src, sb, draw.Src, nil)
	return r.surface, nil
}

// Resizes returns how many times the surface was reallocated.
func (r *Raster) Resizes() uint64 { return r.resizes.Load() }

// EncodeJPEG encodes img at quality 1..100.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("capture: jpeg encode: %w", err)
	}
	return buf.Bytes(), nil
}
