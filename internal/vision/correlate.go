package vision

import (
	"image"
)

// minWindowVariance treats near-flat capture windows as non-matching.
const minWindowVariance = 1e-2

type candidate struct {
	x, y  int
	score float64
}

// correlator scores every placement of needle inside haystack with
// TM_CCOEFF_NORMED and returns those at or above threshold, row-major.
type correlator interface {
	correlate(haystack, needle *image.RGBA, color bool, threshold float64) []candidate
}

type plane struct {
	w, h int
	pix  []float64
}

// planes splits img into luminance (BT.601) or its three color channels.
func planes(img *image.RGBA, color bool) []plane {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	n := 1
	if color {
		n = 3
	}

	out := make([]plane, n)
	for c := range out {
		out[c] = plane{w: w, h: h, pix: make([]float64, w*h)}
	}

	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			r := float64(row[x*4])
			g := float64(row[x*4+1])
			bl := float64(row[x*4+2])
			i := y*w + x
			if color {
				out[0].pix[i] = bl
				out[1].pix[i] = g
				out[2].pix[i] = r
				continue
			}
			out[0].pix[i] = 0.299*r + 0.587*g + 0.114*bl
		}
	}

	return out
}

// flatTemplate reports whether needle has no variance to correlate against.
func flatTemplate(needle *image.RGBA, color bool) bool {
	var norm float64
	for _, p := range planes(needle, color) {
		var mean float64
		for _, v := range p.pix {
			mean += v
		}
		mean /= float64(len(p.pix))

		for _, v := range p.pix {
			norm += (v - mean) * (v - mean)
		}
	}
	return norm <= minWindowVariance
}
