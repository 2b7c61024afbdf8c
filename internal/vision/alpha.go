package vision

import (
	"image"
	"image/color"
)

// HasAlpha reports whether any pixel of img is not fully opaque.
func HasAlpha(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}

	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if _, _, _, a := img.At(x, y).RGBA(); a != 0xffff {
				return true
			}
		}
	}

	return false
}

// Bake composites img over bg and crops to the bounding box of pixels whose
// alpha exceeds alphaMin. A template with no such pixel yields a 1×1 image of bg.
func Bake(img image.Image, bg color.RGBA, alphaMin uint8) *image.RGBA {
	b := img.Bounds()
	crop := image.Rectangle{}
	found := false

	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			if c.A <= alphaMin {
				continue
			}
			px := image.Rect(x, y, x+1, y+1)
			if !found {
				crop = px
				found = true
				continue
			}
			crop = crop.Union(px)
		}
	}

	if !found {
		out := image.NewRGBA(image.Rect(0, 0, 1, 1))
		out.SetRGBA(0, 0, bg)
		return out
	}

	out := image.NewRGBA(image.Rect(0, 0, crop.Dx(), crop.Dy()))
	for y := crop.Min.Y; y < crop.Max.Y; y++ {
		for x := crop.Min.X; x < crop.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			a := float64(c.A) / 255
			out.SetRGBA(x-crop.Min.X, y-crop.Min.Y, color.RGBA{
				R: blend(c.R, bg.R, a),
				G: blend(c.G, bg.G, a),
				B: blend(c.B, bg.B, a),
				A: 255,
			})
		}
	}

	return out
}

func blend(fg, bg uint8, a float64) uint8 {
	v := float64(fg)*a + float64(bg)*(1-a)
	if v >= 255 {
		return 255
	}
	if v <= 0 {
		return 0
	}
	return uint8(v)
}
