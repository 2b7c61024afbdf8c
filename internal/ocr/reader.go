// Package ocr reads integers printed in small screen zones.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strconv"
	"strings"

	"github.com/Proton-105/protrader-agent/internal/vision"
	"github.com/Proton-105/protrader-agent/pkg/config"
	"github.com/Proton-105/protrader-agent/pkg/metrics"
)

// ErrNoDigits is returned by ParseDigits for text without any digit.
var ErrNoDigits = errors.New("no digits")

// Recognition is one engine pass over an image.
type Recognition struct {
	Text       string
	Confidence float64
}

// Engine recognizes digit strings.
type Engine interface {
	Digits(ctx context.Context, img image.Image) (Recognition, error)
}

// Capturer grabs a screen zone. vision.Screen implements it.
type Capturer interface {
	Capture(ctx context.Context, region image.Rectangle) (*image.RGBA, image.Rectangle, error)
}

// Reader runs every preprocessing variant through the engine and keeps the
// most confident parse.
type Reader struct {
	capture   Capturer
	engine    Engine
	variants  []Variant
	minDigits int
	minConf   float64
	highlight vision.Highlighter
	log       *slog.Logger
}

// NewReader builds a reader from the OCR configuration.
func NewReader(capture Capturer, engine Engine, cfg config.OCRConfig, log *slog.Logger) *Reader {
	if log == nil {
		log = slog.Default()
	}

	return &Reader{
		capture:   capture,
		engine:    engine,
		variants:  DefaultVariants(float64(cfg.Upscale)),
		minDigits: max(1, cfg.MinDigits),
		minConf:   cfg.MinConf,
		log:       log.With("component", "ocr"),
	}
}

// SetHighlighter draws every read zone with its result; nil disables it.
func (r *Reader) SetHighlighter(h vision.Highlighter) {
	r.highlight = h
}

// ReadInt captures zone and returns the best integer read, if any.
func (r *Reader) ReadInt(ctx context.Context, zone image.Rectangle) (int, bool) {
	img, bounds, err := r.capture.Capture(ctx, zone)
	if err != nil {
		r.log.DebugContext(ctx, "ocr capture failed", slog.Any("zone", zone), slog.Any("error", err))
		metrics.RecordOCRRead(false)
		return 0, false
	}

	value, conf, ok := r.Recognize(ctx, img)
	metrics.RecordOCRRead(ok)

	if r.highlight != nil {
		label := "OCR: None"
		if ok {
			label = fmt.Sprintf("OCR: %d (conf %.0f)", value, conf)
		}
		r.highlight.Highlight(bounds, label)
	}

	r.log.DebugContext(ctx, "ocr read",
		slog.Any("zone", bounds),
		slog.Bool("ok", ok),
		slog.Int("value", value),
		slog.Float64("confidence", conf),
	)
	return value, ok
}

// Recognize returns the most confident integer found in img.
func (r *Reader) Recognize(ctx context.Context, img image.Image) (int, float64, bool) {
	var (
		best     int
		bestConf = -1.0
		found    bool
	)

	for _, v := range r.variants {
		rec, err := r.engine.Digits(ctx, Prepare(img, v))
		if err != nil {
			r.log.DebugContext(ctx, "ocr pass failed", slog.String("variant", v.Name), slog.Any("error", err))
			continue
		}

		value, digits, err := ParseDigits(rec.Text)
		if err != nil || digits < r.minDigits || rec.Confidence < r.minConf {
			continue
		}
		if rec.Confidence > bestConf {
			best, bestConf, found = value, rec.Confidence, true
		}
	}

	return best, bestConf, found
}

// ParseDigits keeps only the digits of text and returns their value and count.
func ParseDigits(text string) (int, int, error) {
	var b strings.Builder
	for _, r := range text {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}

	digits := b.String()
	if digits == "" {
		return 0, 0, ErrNoDigits
	}

	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, len(digits), fmt.Errorf("parse %q: %w", digits, err)
	}
	return n, len(digits), nil
}
