package vision

import (
	"image"
	"math"

	"golang.org/x/image/draw"
)

const maxScaleIterations = 100

// areaKernel is a box filter. Downscaling stretches its support over every
// source pixel the destination pixel covers, so each output is their mean.
var areaKernel = &draw.Kernel{
	Support: 0.5,
	At: func(t float64) float64 {
		if t <= 0.5 {
			return 1
		}
		return 0
	},
}

// Scales expands r into the list of scales to try. Degenerate ranges yield [1].
func Scales(r ScaleRange) []float64 {
	if r.Start <= 0 || r.End <= 0 || r.Step <= 1 || r.Start > r.End+1e-9 {
		return []float64{1.0}
	}

	out := make([]float64, 0, 8)
	s := r.Start
	for len(out) < maxScaleIterations && s <= r.End+1e-9 {
		out = append(out, round4(s))
		s *= r.Step
	}

	return out
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

// resample scales src by s, averaging pixel areas when shrinking and
// interpolating bilinearly when growing. It returns nil when the result would
// be empty.
func resample(src *image.RGBA, s float64) *image.RGBA {
	b := src.Bounds()
	if s == 1.0 {
		return src
	}

	w := int(math.Round(float64(b.Dx()) * s))
	h := int(math.Round(float64(b.Dy()) * s))
	if w < 1 || h < 1 {
		return nil
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	var k draw.Interpolator = draw.BiLinear
	if s < 1 {
		k = areaKernel
	}
	k.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}

// toRGBA returns img as a zero-origin *image.RGBA, copying only when needed.
func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}

	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}
