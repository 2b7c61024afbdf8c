package overlay

import (
	"image"
	"image/color"
	"image/draw"
	"log/slog"
)

// LogRenderer writes each rectangle to the debug log.
type LogRenderer struct {
	log *slog.Logger
}

// NewLogRenderer returns a renderer logging through log.
func NewLogRenderer(log *slog.Logger) *LogRenderer {
	if log == nil {
		log = slog.Default()
	}
	return &LogRenderer{log: log}
}

// Render logs rects.
func (r *LogRenderer) Render(rects []Rect) error {
	for _, rect := range rects {
		r.log.Debug("overlay rect",
			slog.Int("left", rect.Bounds.Min.X),
			slog.Int("top", rect.Bounds.Min.Y),
			slog.Int("width", rect.Bounds.Dx()),
			slog.Int("height", rect.Bounds.Dy()),
			slog.String("label", rect.Label),
		)
	}
	return nil
}

// Annotate outlines rects onto img. origin is the screen position of img's top-left pixel.
func Annotate(img draw.Image, origin image.Point, rects []Rect, width int) {
	if width < 1 {
		width = 1
	}

	for _, rect := range rects {
		b := rect.Bounds.Sub(origin).Intersect(img.Bounds())
		if b.Empty() {
			continue
		}

		outline := &image.Uniform{C: blend(rect.Outline)}
		edges := []image.Rectangle{
			image.Rect(b.Min.X, b.Min.Y, b.Max.X, min(b.Min.Y+width, b.Max.Y)),
			image.Rect(b.Min.X, max(b.Max.Y-width, b.Min.Y), b.Max.X, b.Max.Y),
			image.Rect(b.Min.X, b.Min.Y, min(b.Min.X+width, b.Max.X), b.Max.Y),
			image.Rect(max(b.Max.X-width, b.Min.X), b.Min.Y, b.Max.X, b.Max.Y),
		}
		for _, e := range edges {
			draw.Draw(img, e, outline, image.Point{}, draw.Over)
		}
	}
}

// blend converts a straight-alpha outline color to the premultiplied form draw expects.
func blend(c color.RGBA) color.RGBA {
	if c.A == 0 {
		c = DefaultOutline
	}
	a := uint32(c.A)
	return color.RGBA{
		R: uint8(uint32(c.R) * a / 255),
		G: uint8(uint32(c.G) * a / 255),
		B: uint8(uint32(c.B) * a / 255),
		A: c.A,
	}
}
