package vision

import (
	"image"
)

// Matcher runs template searches with a fixed set of defaults.
type Matcher struct {
	defaults   Defaults
	correlator correlator
}

// NewMatcher builds a matcher. Correlation runs on OpenCV unless the binary
// is built with the purego tag.
func NewMatcher(defaults Defaults) *Matcher {
	return &Matcher{
		defaults:   defaults,
		correlator: defaultCorrelator,
	}
}

// Defaults returns the matcher tuning.
func (m *Matcher) Defaults() Defaults {
	return m.defaults
}

// Search returns up to opts.MaxResults matches of template inside capture,
// best first. Scales at which the template outgrows the capture are skipped.
func (m *Matcher) Search(template, capture image.Image, opts Options) []MatchResult {
	opts = opts.withDefaults(m.defaults.Threshold, m.defaults.Scales, m.defaults)

	hay := toRGBA(capture)
	tpl := toRGBA(template)
	hb := hay.Bounds()

	var found []MatchResult
	for _, s := range Scales(opts.Scales) {
		scaled := resample(tpl, s)
		if scaled == nil {
			continue
		}

		tb := scaled.Bounds()
		if tb.Dx() > hb.Dx() || tb.Dy() > hb.Dy() {
			continue
		}

		for _, c := range m.correlator.correlate(hay, scaled, opts.Color, opts.Threshold) {
			found = append(found, MatchResult{
				Left:   opts.Origin.X + c.x,
				Top:    opts.Origin.Y + c.y,
				Width:  tb.Dx(),
				Height: tb.Dy(),
				Score:  c.score,
				Scale:  s,
			})
		}
	}

	kept := NonMaxSuppression(found, opts.IoU)
	if len(kept) > opts.MaxResults {
		kept = kept[:opts.MaxResults]
	}

	return kept
}

// SearchAlpha bakes a translucent template onto the configured background
// before searching. Opaque templates go straight to Search.
func (m *Matcher) SearchAlpha(template, capture image.Image, opts Options) []MatchResult {
	opts = opts.withDefaults(m.defaults.AlphaThreshold, m.defaults.AlphaScales, m.defaults)

	if !HasAlpha(template) {
		return m.Search(template, capture, opts)
	}

	return m.Search(Bake(template, m.defaults.Background, m.defaults.AlphaMin), capture, opts)
}
