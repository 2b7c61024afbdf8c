package marketplace

import (
	"context"
	"image"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/Proton-105/protrader-agent/internal/ledger"
	"github.com/Proton-105/protrader-agent/internal/telemetry"
	"github.com/Proton-105/protrader-agent/internal/vision"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testMonitor = image.Rect(0, 0, 1920, 1080)

// fakeLocator answers template queries from a fixed scene keyed by path.
type fakeLocator struct {
	scene   map[string]vision.MatchResult
	missing map[string]bool
	queries []vision.Query
}

func newFakeLocator() *fakeLocator {
	return &fakeLocator{scene: make(map[string]vision.MatchResult), missing: make(map[string]bool)}
}

func (l *fakeLocator) show(path string, left, top, width, height int) {
	l.scene[path] = vision.MatchResult{Left: left, Top: top, Width: width, Height: height, Score: 1, Scale: 1}
}

func (l *fakeLocator) Bounds() image.Rectangle { return testMonitor }

func (l *fakeLocator) Locate(_ context.Context, q vision.Query) (vision.MatchResult, bool, error) {
	l.queries = append(l.queries, q)
	if l.missing[q.Template] {
		return vision.MatchResult{}, false, vision.ErrTemplateNotFound
	}
	res, ok := l.scene[q.Template]
	return res, ok, nil
}

func (l *fakeLocator) queriesFor(path string) []vision.Query {
	var out []vision.Query
	for _, q := range l.queries {
		if q.Template == path {
			out = append(out, q)
		}
	}
	return out
}

// fakeReader serves queued integers per zone origin. The last value repeats.
type fakeReader struct {
	values map[image.Point][]int
}

func newFakeReader() *fakeReader {
	return &fakeReader{values: make(map[image.Point][]int)}
}

func (r *fakeReader) set(at image.Point, values ...int) {
	r.values[at] = values
}

func (r *fakeReader) ReadInt(_ context.Context, zone image.Rectangle) (int, bool) {
	queue := r.values[zone.Min]
	if len(queue) == 0 {
		return 0, false
	}
	v := queue[0]
	if len(queue) > 1 {
		r.values[zone.Min] = queue[1:]
	}
	return v, true
}

type fakeInput struct {
	clicks []image.Point
	typed  []string
	keys   []string
	chords [][]string
}

func (in *fakeInput) MoveClick(_ context.Context, x, y int) error {
	in.clicks = append(in.clicks, image.Pt(x, y))
	return nil
}

func (in *fakeInput) TypeText(_ context.Context, text string) error {
	in.typed = append(in.typed, text)
	return nil
}

func (in *fakeInput) PressKey(_ context.Context, key string) error {
	in.keys = append(in.keys, key)
	return nil
}

func (in *fakeInput) Chord(_ context.Context, keys ...string) error {
	in.chords = append(in.chords, keys)
	return nil
}

type fakeClient struct {
	launched, closed int
}

func (c *fakeClient) Launch(context.Context) error { c.launched++; return nil }
func (c *fakeClient) Close(context.Context) error  { c.closed++; return nil }

type fakeHost struct{ powerOffs int }

func (h *fakeHost) PowerOff(context.Context) error { h.powerOffs++; return nil }

// fakeClock advances only when the workflow sleeps.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

type eventLog struct {
	events []telemetry.Event
}

func (l *eventLog) Publish(ev telemetry.Event) { l.events = append(l.events, ev) }

func (l *eventLog) states() []string {
	var out []string
	for _, ev := range l.events {
		if ev.Type == telemetry.TypeLoginState {
			out = append(out, ev.State)
		}
	}
	return out
}

func (l *eventLog) ofType(typ string) []telemetry.Event {
	var out []telemetry.Event
	for _, ev := range l.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

type tradeLog struct {
	trades []ledger.Trade
}

func (l *tradeLog) RecordTrade(_ context.Context, trade ledger.Trade) error {
	l.trades = append(l.trades, trade)
	return nil
}

// Scene layout shared by the workflow tests.
var (
	qtyTop = map[Tier]int{TierX1: 300, TierX10: 340, TierX100: 380, TierX1000: 420}
	kamasZ = image.Pt(1250, 50)
)

func priceAt(tier Tier) image.Point {
	return image.Pt(1150, qtyTop[tier])
}

func testTemplates() Templates {
	t := Templates{
		Play:       "play.png",
		InGame:     "ingame.png",
		OpenMarket: "hdv.png",
		MarketOpen: "hdv_open.png",
		Search:     "search.png",
		Kamas:      "kamas.png",
		BuyTab:     "buy_tab.png",
		SellTab:    "sell_tab.png",
		ConfirmBuy: "confirm.png",
		Qty:        make(map[Tier]string),
		SellSelect: make(map[Tier]string),
		SellQty:    make(map[Tier]string),
	}
	for _, tier := range Tiers {
		t.Qty[tier] = "qte_" + string(tier) + ".png"
		t.SellSelect[tier] = "sel_vente_" + string(tier) + ".png"
		t.SellQty[tier] = "vente_" + string(tier) + ".png"
	}
	return t
}

// testScene shows every navigation control and quantity row.
func testScene(t Templates) *fakeLocator {
	l := newFakeLocator()
	l.show(t.Play, 900, 600, 120, 40)
	l.show(t.InGame, 10, 10, 30, 30)
	l.show(t.OpenMarket, 400, 500, 60, 60)
	l.show(t.MarketOpen, 300, 100, 200, 30)
	l.show(t.Search, 1100, 200, 80, 24)
	l.show(t.Kamas, 1500, 50, 20, 20)
	l.show(t.BuyTab, 1000, 150, 90, 30)
	l.show(t.SellTab, 1100, 150, 90, 30)
	l.show(t.ConfirmBuy, 900, 700, 100, 30)
	for _, tier := range Tiers {
		l.show(t.Qty[tier], 1000, qtyTop[tier], 40, 20)
	}
	return l
}

type harness struct {
	locator *fakeLocator
	reader  *fakeReader
	input   *fakeInput
	client  *fakeClient
	host    *fakeHost
	events  *eventLog
	trades  *tradeLog
	clock   *fakeClock
	opts    Options
}

func newHarness() *harness {
	opts := DefaultOptions()
	opts.Templates = testTemplates()

	return &harness{
		locator: testScene(opts.Templates),
		reader:  newFakeReader(),
		input:   &fakeInput{},
		client:  &fakeClient{},
		host:    &fakeHost{},
		events:  &eventLog{},
		trades:  &tradeLog{},
		clock:   newFakeClock(),
		opts:    opts,
	}
}

func (h *harness) workflow() (*Workflow, error) {
	return New(Deps{
		Locator:   h.locator,
		Reader:    h.reader,
		Input:     h.input,
		Publisher: h.events,
		Client:    h.client,
		Host:      h.host,
		Trades:    h.trades,
		Logger:    testLogger(),
		Now:       h.clock.Now,
		Sleep:     h.clock.Sleep,
	}, h.opts)
}
