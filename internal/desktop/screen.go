// Package desktop binds the vision and marketplace packages to the real
// display and input devices.
package desktop

import (
	"context"
	"fmt"
	"image"

	"github.com/kbinani/screenshot"
)

// Screen captures one monitor. It implements vision.Grabber.
type Screen struct {
	index  int
	bounds image.Rectangle
}

// NewScreen selects monitor index, counted from 1 like the configuration.
func NewScreen(index int) (*Screen, error) {
	n := screenshot.NumActiveDisplays()
	if n == 0 {
		return nil, fmt.Errorf("no active display")
	}
	if index < 1 || index > n {
		return nil, fmt.Errorf("monitor %d out of range (1..%d)", index, n)
	}

	return &Screen{index: index, bounds: screenshot.GetDisplayBounds(index - 1)}, nil
}

// Monitors lists the bounds of every active display.
func Monitors() []image.Rectangle {
	n := screenshot.NumActiveDisplays()
	out := make([]image.Rectangle, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, screenshot.GetDisplayBounds(i))
	}
	return out
}

// Index returns the selected monitor number.
func (s *Screen) Index() int { return s.index }

// Bounds implements vision.Grabber.
func (s *Screen) Bounds() image.Rectangle { return s.bounds }

// Grab implements vision.Grabber.
func (s *Screen) Grab(ctx context.Context, r image.Rectangle) (*image.RGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, err := screenshot.CaptureRect(r)
	if err != nil {
		return nil, fmt.Errorf("capture %v: %w", r, err)
	}
	img.Rect = image.Rect(0, 0, img.Rect.Dx(), img.Rect.Dy())

	return img, nil
}
