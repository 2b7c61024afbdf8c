package marketplace

import (
	"image"
	"strconv"
	"strings"
)

// ParseQuantity converts labels such as "x10" into 10. Unparsable labels yield 0.
func ParseQuantity(label string) int {
	s := strings.ToLower(strings.TrimSpace(label))
	s = strings.TrimPrefix(s, "x")
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

const fallbackEdgePx = 5

// FallbackClick computes where to click when no sell-quantity control is found.
// With a known region the x coordinate sits at ratio of its width (ratio
// clamped to [0.05, 0.95], kept 5 px inside the edges); otherwise it is offset
// px right of the selected quantity box. The y coordinate is the middle of the
// box, or of the region when no box was recorded. It reports false when
// neither is known.
func FallbackClick(box, region image.Rectangle, ratio float64, offset int) (image.Point, bool) {
	hasBox := !box.Empty()
	hasRegion := !region.Empty()

	regionX := func() int {
		r := min(0.95, max(0.05, ratio))
		w := region.Dx()
		rel := int(float64(w) * r)
		rel = max(fallbackEdgePx, min(rel, max(w-fallbackEdgePx, fallbackEdgePx)))
		return region.Min.X + rel
	}

	switch {
	case hasBox:
		y := box.Min.Y + box.Dy()/2
		if hasRegion {
			return image.Pt(regionX(), y), true
		}
		return image.Pt(box.Max.X+offset, y), true
	case hasRegion:
		return image.Pt(regionX(), region.Min.Y+region.Dy()/2), true
	default:
		return image.Point{}, false
	}
}
