package overlay

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Proton-105/protrader-agent/pkg/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingRenderer struct {
	mu     sync.Mutex
	frames [][]Rect
	err    error
}

func (r *recordingRenderer) Render(rects []Rect) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, rects)
	return r.err
}

func (r *recordingRenderer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func newTestService(t *testing.T, cfg config.OverlayConfig, renderer Renderer) (*Service, *time.Time) {
	t.Helper()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := New(cfg, renderer, testLogger())
	s.now = func() time.Time { return now }
	return s, &now
}

func TestServiceExpiresRects(t *testing.T) {
	renderer := &recordingRenderer{}
	s, now := newTestService(t, config.OverlayConfig{TTL: time.Second, Queue: 8}, renderer)

	s.Highlight(image.Rect(10, 10, 50, 30), "button.png")
	s.Add(Rect{Bounds: image.Rect(0, 0, 5, 5), Label: "sticky"})
	s.Add(Rect{Label: "empty is ignored"})

	s.step(context.Background())
	require.Len(t, s.Active(), 2)
	assert.Equal(t, 1, renderer.count())

	s.step(context.Background())
	assert.Equal(t, 1, renderer.count(), "unchanged set is not redrawn")

	*now = now.Add(time.Second)
	s.step(context.Background())

	active := s.Active()
	require.Len(t, active, 1)
	assert.Equal(t, "sticky", active[0].Label)
	assert.Equal(t, 2, renderer.count())

	s.Clear()
	assert.Empty(t, s.Active())
}

func TestServiceDropsOldestWhenFull(t *testing.T) {
	renderer := &recordingRenderer{}
	s, _ := newTestService(t, config.OverlayConfig{Queue: 2}, renderer)

	for i := 0; i < 4; i++ {
		s.Add(Rect{Bounds: image.Rect(i, 0, i+1, 1), Label: string(rune('a' + i))})
	}
	s.step(context.Background())

	active := s.Active()
	require.Len(t, active, 2)
	assert.Equal(t, "c", active[0].Label)
	assert.Equal(t, "d", active[1].Label)
}

func TestServiceRenderErrorIsNotFatal(t *testing.T) {
	renderer := &recordingRenderer{err: errors.New("window gone")}
	s, _ := newTestService(t, config.OverlayConfig{Queue: 2}, renderer)

	s.Add(Rect{Bounds: image.Rect(0, 0, 2, 2)})
	s.step(context.Background())
	assert.Len(t, s.Active(), 1)
}

func TestServiceRunStopsOnCancel(t *testing.T) {
	renderer := &recordingRenderer{}
	s := New(config.OverlayConfig{Queue: 4, Interval: 5 * time.Millisecond}, renderer, testLogger())
	s.Highlight(image.Rect(0, 0, 3, 3), "x")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return renderer.count() > 0 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("overlay worker did not stop")
	}
}

func TestAnnotate(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 20, 20))
	Annotate(img, image.Pt(100, 100), []Rect{
		{Bounds: image.Rect(105, 105, 115, 112), Outline: color.RGBA{G: 255, A: 255}},
		{Bounds: image.Rect(500, 500, 510, 510)},
	}, 1)

	assert.Equal(t, color.RGBA{G: 255, A: 255}, img.RGBAAt(5, 5))
	assert.Equal(t, color.RGBA{G: 255, A: 255}, img.RGBAAt(14, 11))
	assert.Equal(t, color.RGBA{}, img.RGBAAt(8, 8), "inside stays untouched")
	assert.Equal(t, color.RGBA{}, img.RGBAAt(0, 0))
}
