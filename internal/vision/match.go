// Package vision locates UI elements on screen by multi-scale normalized
// cross-correlation against reference templates.
package vision

import (
	"errors"
	"image"
	"image/color"
)

// ErrTemplateNotFound reports a template file that is missing or cannot be decoded.
var ErrTemplateNotFound = errors.New("template not found")

// MatchResult is one located occurrence of a template, in screen pixels.
type MatchResult struct {
	Left   int     `json:"left"`
	Top    int     `json:"top"`
	Width  int     `json:"width"`
	Height int     `json:"height"`
	Score  float64 `json:"score"`
	Scale  float64 `json:"scale"`
}

// Rect returns the match as an image rectangle.
func (m MatchResult) Rect() image.Rectangle {
	return image.Rect(m.Left, m.Top, m.Left+m.Width, m.Top+m.Height)
}

// Center returns the middle of the match, rounded down.
func (m MatchResult) Center() image.Point {
	return image.Pt(m.Left+m.Width/2, m.Top+m.Height/2)
}

// ScaleRange describes the template scale sweep: Start, Start·Step, ... up to End.
type ScaleRange struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Step  float64 `json:"step"`
}

// IsZero reports whether the range was left unset.
func (r ScaleRange) IsZero() bool {
	return r.Start == 0 && r.End == 0 && r.Step == 0
}

// Options tunes one search. Zero values are replaced by the matcher defaults.
type Options struct {
	Scales     ScaleRange
	Threshold  float64
	IoU        float64
	MaxResults int
	// Color compares the three color channels instead of luminance.
	Color bool
	// Origin is added to every result, mapping capture pixels back to the screen.
	Origin image.Point
}

// Defaults are the fallback values applied to unset Options fields.
type Defaults struct {
	Threshold      float64
	Scales         ScaleRange
	AlphaThreshold float64
	AlphaScales    ScaleRange
	IoU            float64
	MaxResults     int
	AlphaMin       uint8
	Background     color.RGBA
}

// DefaultDefaults returns the stock tuning for the marketplace UI.
func DefaultDefaults() Defaults {
	return Defaults{
		Threshold:      0.88,
		Scales:         ScaleRange{Start: 0.8, End: 1.25, Step: 1.0},
		AlphaThreshold: 0.92,
		AlphaScales:    ScaleRange{Start: 0.85, End: 1.2, Step: 1.03},
		IoU:            0.35,
		MaxResults:     10,
		AlphaMin:       10,
		Background:     color.RGBA{R: 88, G: 94, B: 155, A: 255},
	}
}

func (o Options) withDefaults(threshold float64, scales ScaleRange, d Defaults) Options {
	if o.Threshold <= 0 {
		o.Threshold = threshold
	}
	if o.Scales.IsZero() {
		o.Scales = scales
	}
	if o.IoU <= 0 {
		o.IoU = d.IoU
	}
	if o.MaxResults <= 0 {
		o.MaxResults = d.MaxResults
	}
	return o
}
