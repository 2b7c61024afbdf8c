// Package overlay keeps the debug rectangles drawn over the game window.
package overlay

import (
	"context"
	"image"
	"image/color"
	"log/slog"
	"sync"
	"time"

	"github.com/Proton-105/protrader-agent/internal/queue"
	"github.com/Proton-105/protrader-agent/pkg/config"
	"github.com/Proton-105/protrader-agent/pkg/metrics"
)

// Rect is one rectangle to draw. A zero TTL keeps it until Clear.
type Rect struct {
	Bounds  image.Rectangle
	Label   string
	Outline color.RGBA
	TTL     time.Duration

	expires time.Time
}

// DefaultOutline is the translucent red used for template matches.
var DefaultOutline = color.RGBA{R: 255, A: 200}

// Renderer draws the current set of rectangles. Render is called from the
// overlay worker only.
type Renderer interface {
	Render(rects []Rect) error
}

// Service buffers rectangles from any goroutine and renders them on its own worker.
type Service struct {
	queue    *queue.Ring[Rect]
	renderer Renderer
	ttl      time.Duration
	interval time.Duration
	now      func() time.Time
	log      *slog.Logger

	mu     sync.Mutex
	active []Rect
}

// New builds an overlay service.
func New(cfg config.OverlayConfig, renderer Renderer, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if renderer == nil {
		renderer = NewLogRenderer(log)
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	q := queue.NewRing[Rect](cfg.Queue)
	q.OnDrop(func() { metrics.RecordQueueDrop("overlay") })

	return &Service{
		queue:    q,
		renderer: renderer,
		ttl:      cfg.TTL,
		interval: interval,
		now:      time.Now,
		log:      log.With("component", "overlay"),
	}
}

// Highlight queues r with the default outline and TTL.
func (s *Service) Highlight(r image.Rectangle, label string) {
	s.Add(Rect{Bounds: r, Label: label, Outline: DefaultOutline, TTL: s.ttl})
}

// Add queues a rectangle without blocking. The oldest queued rectangle is dropped when full.
func (s *Service) Add(r Rect) {
	if r.Bounds.Empty() {
		return
	}
	s.queue.Push(r)
}

// Clear removes every rectangle.
func (s *Service) Clear() {
	s.queue.Drain()
	s.mu.Lock()
	s.active = nil
	s.mu.Unlock()
}

// Active returns the rectangles currently drawn.
func (s *Service) Active() []Rect {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Rect(nil), s.active...)
}

// Run renders until ctx is done.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.step(ctx)
		}
	}
}

// step moves queued rectangles to the active set, expires old ones and
// renders when the set changed.
func (s *Service) step(ctx context.Context) {
	now := s.now()
	incoming := s.queue.Drain()

	s.mu.Lock()
	changed := len(incoming) > 0
	for _, r := range incoming {
		if r.TTL > 0 {
			r.expires = now.Add(r.TTL)
		}
		s.active = append(s.active, r)
	}

	kept := s.active[:0]
	for _, r := range s.active {
		if !r.expires.IsZero() && !now.Before(r.expires) {
			changed = true
			continue
		}
		kept = append(kept, r)
	}
	s.active = kept
	snapshot := append([]Rect(nil), s.active...)
	s.mu.Unlock()

	if !changed {
		return
	}
	if err := s.renderer.Render(snapshot); err != nil {
		s.log.WarnContext(ctx, "overlay render failed", slog.Any("error", err))
	}
}
