package ocr

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// Variant describes one preprocessing pass.
type Variant struct {
	Name     string
	Scale    float64
	Invert   bool
	Equalize bool
	Close    bool
}

// DefaultVariants returns the passes tried for every read, strongest first.
// upscale is the magnification of the plain passes.
func DefaultVariants(upscale float64) []Variant {
	if upscale <= 0 {
		upscale = 2
	}
	eq := upscale * 0.9

	return []Variant{
		{Name: "otsu", Scale: upscale},
		{Name: "otsu_inv", Scale: upscale, Invert: true},
		{Name: "equalized", Scale: eq, Equalize: true},
		{Name: "equalized_inv", Scale: eq, Invert: true, Equalize: true},
		{Name: "closed", Scale: upscale, Close: true},
	}
}

// Prepare turns src into a binarized grayscale image tuned for digit recognition.
func Prepare(src image.Image, v Variant) *image.Gray {
	gray := toGray(src)
	if v.Scale > 0 && v.Scale != 1 {
		gray = scaleGray(gray, v.Scale)
	}
	if v.Equalize {
		equalize(gray)
	}
	if v.Close {
		gray = boxBlur(gray)
	}

	threshold(gray, otsu(gray), v.Invert)

	if v.Close {
		gray = erode(dilate(gray))
	}
	return gray
}

func toGray(src image.Image) *image.Gray {
	b := src.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out.SetGray(x-b.Min.X, y-b.Min.Y, color.GrayModel.Convert(src.At(x, y)).(color.Gray))
		}
	}
	return out
}

func scaleGray(src *image.Gray, factor float64) *image.Gray {
	w := int(float64(src.Bounds().Dx())*factor + 0.5)
	h := int(float64(src.Bounds().Dy())*factor + 0.5)
	if w < 1 || h < 1 {
		return src
	}

	out := image.NewGray(image.Rect(0, 0, w, h))
	interp := draw.Interpolator(draw.CatmullRom)
	if factor < 1 {
		interp = draw.ApproxBiLinear
	}
	interp.Scale(out, out.Bounds(), src, src.Bounds(), draw.Src, nil)
	return out
}

func histogram(img *image.Gray) [256]int {
	var hist [256]int
	for _, p := range img.Pix {
		hist[p]++
	}
	return hist
}

// otsu returns the threshold maximizing between-class variance.
func otsu(img *image.Gray) uint8 {
	hist := histogram(img)
	total := len(img.Pix)
	if total == 0 {
		return 128
	}

	var sum float64
	for i, n := range hist {
		sum += float64(i * n)
	}

	var (
		sumB, best float64
		weightB    int
		level      uint8
	)
	for t := 0; t < 256; t++ {
		weightB += hist[t]
		if weightB == 0 {
			continue
		}
		weightF := total - weightB
		if weightF == 0 {
			break
		}

		sumB += float64(t * hist[t])
		meanB := sumB / float64(weightB)
		meanF := (sum - sumB) / float64(weightF)
		between := float64(weightB) * float64(weightF) * (meanB - meanF) * (meanB - meanF)
		if between > best {
			best = between
			level = uint8(t)
		}
	}
	return level
}

// threshold writes 255 above level and 0 otherwise, or the reverse when invert is set.
func threshold(img *image.Gray, level uint8, invert bool) {
	on, off := uint8(255), uint8(0)
	if invert {
		on, off = off, on
	}
	for i, p := range img.Pix {
		if p > level {
			img.Pix[i] = on
		} else {
			img.Pix[i] = off
		}
	}
}

// equalize spreads the histogram over the full range.
func equalize(img *image.Gray) {
	hist := histogram(img)
	total := len(img.Pix)
	if total == 0 {
		return
	}

	var (
		cdf    [256]int
		run    int
		cdfMin = -1
	)
	for i, n := range hist {
		run += n
		cdf[i] = run
		if cdfMin < 0 && n > 0 {
			cdfMin = run
		}
	}
	if total == cdfMin {
		return
	}

	var lut [256]uint8
	for i := range lut {
		if cdf[i] < cdfMin {
			continue
		}
		lut[i] = uint8((cdf[i] - cdfMin) * 255 / (total - cdfMin))
	}
	for i, p := range img.Pix {
		img.Pix[i] = lut[p]
	}
}

func boxBlur(img *image.Gray) *image.Gray {
	return neighborhood(img, func(vals []uint8) uint8 {
		sum := 0
		for _, v := range vals {
			sum += int(v)
		}
		return uint8(sum / len(vals))
	})
}

func dilate(img *image.Gray) *image.Gray {
	return neighborhood(img, func(vals []uint8) uint8 {
		m := uint8(0)
		for _, v := range vals {
			m = max(m, v)
		}
		return m
	})
}

func erode(img *image.Gray) *image.Gray {
	return neighborhood(img, func(vals []uint8) uint8 {
		m := uint8(255)
		for _, v := range vals {
			m = min(m, v)
		}
		return m
	})
}

// neighborhood applies fn over each 3x3 window, clipped at the borders.
func neighborhood(img *image.Gray, fn func([]uint8) uint8) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(b)
	vals := make([]uint8, 0, 9)

	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			vals = vals[:0]
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					p := image.Pt(x+dx, y+dy)
					if p.In(b) {
						vals = append(vals, img.GrayAt(p.X, p.Y).Y)
					}
				}
			}
			out.SetGray(x, y, color.Gray{Y: fn(vals)})
		}
	}
	return out
}
