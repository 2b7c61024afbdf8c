package vision

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/Proton-105/protrader-agent/pkg/metrics"
)

// ErrRegionOutside reports a capture region that does not overlap the monitor.
var ErrRegionOutside = errors.New("capture region outside monitor")

// Grabber captures screen pixels of the active monitor.
type Grabber interface {
	// Bounds returns the monitor rectangle in screen coordinates.
	Bounds() image.Rectangle
	// Grab captures r (screen coordinates) into a zero-origin image.
	Grab(ctx context.Context, r image.Rectangle) (*image.RGBA, error)
}

// Highlighter receives every located match, e.g. to draw a debug overlay.
type Highlighter interface {
	Highlight(r image.Rectangle, label string)
}

// Query is a single template lookup on screen.
type Query struct {
	Template string
	// Region limits the capture. The zero rectangle means the whole monitor.
	Region     image.Rectangle
	Scales     ScaleRange
	Threshold  float64
	IoU        float64
	MaxResults int
	Color      bool
	// Alpha bakes translucent templates before matching.
	Alpha bool
}

// Screen combines a grabber, a template store and a matcher.
type Screen struct {
	grabber   Grabber
	templates *TemplateStore
	matcher   *Matcher
	highlight Highlighter
	log       *slog.Logger
}

// NewScreen wires the screen search pipeline.
func NewScreen(grabber Grabber, templates *TemplateStore, matcher *Matcher, log *slog.Logger) *Screen {
	if log == nil {
		log = slog.Default()
	}
	if templates == nil {
		templates = NewTemplateStore()
	}
	if matcher == nil {
		matcher = NewMatcher(DefaultDefaults())
	}

	return &Screen{
		grabber:   grabber,
		templates: templates,
		matcher:   matcher,
		log:       log,
	}
}

// SetHighlighter installs h; nil disables highlighting.
func (s *Screen) SetHighlighter(h Highlighter) {
	s.highlight = h
}

// Bounds returns the active monitor rectangle.
func (s *Screen) Bounds() image.Rectangle {
	return s.grabber.Bounds()
}

// FindAll returns every match of q, best first.
func (s *Screen) FindAll(ctx context.Context, q Query) ([]MatchResult, error) {
	tpl, err := s.templates.Load(q.Template)
	if err != nil {
		return nil, err
	}

	region := s.grabber.Bounds()
	if !q.Region.Empty() {
		region, err = ClampRegion(q.Region, region)
		if err != nil {
			return nil, err
		}
	}

	capture, err := s.grabber.Grab(ctx, region)
	if err != nil {
		return nil, fmt.Errorf("grab %v: %w", region, err)
	}

	opts := Options{
		Scales:     q.Scales,
		Threshold:  q.Threshold,
		IoU:        q.IoU,
		MaxResults: q.MaxResults,
		Color:      q.Color,
		Origin:     region.Min,
	}

	started := time.Now()
	var results []MatchResult
	if q.Alpha {
		results = s.matcher.SearchAlpha(tpl, capture, opts)
	} else {
		results = s.matcher.Search(tpl, capture, opts)
	}

	label := filepath.Base(q.Template)
	metrics.ObserveTemplateSearch(label, len(results) > 0, time.Since(started))

	if len(results) > 0 {
		best := results[0]
		s.log.DebugContext(ctx, "template found",
			slog.String("template", label),
			slog.Int("left", best.Left),
			slog.Int("top", best.Top),
			slog.Float64("score", best.Score),
			slog.Float64("scale", best.Scale),
		)
		if s.highlight != nil {
			s.highlight.Highlight(best.Rect(), label)
		}
	}

	return results, nil
}

// Locate returns the best match of q, if any.
func (s *Screen) Locate(ctx context.Context, q Query) (MatchResult, bool, error) {
	if q.MaxResults == 0 {
		q.MaxResults = 1
	}

	results, err := s.FindAll(ctx, q)
	if err != nil || len(results) == 0 {
		return MatchResult{}, false, err
	}

	return results[0], true, nil
}

// Capture grabs region (or the whole monitor when empty).
func (s *Screen) Capture(ctx context.Context, region image.Rectangle) (*image.RGBA, image.Rectangle, error) {
	bounds := s.grabber.Bounds()
	if !region.Empty() {
		var err error
		bounds, err = ClampRegion(region, bounds)
		if err != nil {
			return nil, image.Rectangle{}, err
		}
	}

	img, err := s.grabber.Grab(ctx, bounds)
	if err != nil {
		return nil, image.Rectangle{}, err
	}

	return img, bounds, nil
}

// ClampRegion intersects region with monitor.
func ClampRegion(region, monitor image.Rectangle) (image.Rectangle, error) {
	clamped := region.Intersect(monitor)
	if clamped.Empty() {
		return image.Rectangle{}, fmt.Errorf("%w: %v not in %v", ErrRegionOutside, region, monitor)
	}

	return clamped, nil
}

// RightHalf returns the right half of monitor, the rounding remainder included.
func RightHalf(monitor image.Rectangle) image.Rectangle {
	half := monitor.Dx() / 2
	return image.Rect(monitor.Min.X+half, monitor.Min.Y, monitor.Max.X, monitor.Max.Y)
}

// Region builds a rectangle from left, top, width and height.
func Region(left, top, width, height int) image.Rectangle {
	return image.Rect(left, top, left+width, top+height)
}
