// Package marketplace drives the in-game marketplace: it scans quantity tier
// prices for each resource, buys below the operator's margin and relists what
// it bought.
package marketplace

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/Proton-105/protrader-agent/internal/fsm"
	"github.com/Proton-105/protrader-agent/internal/ledger"
	"github.com/Proton-105/protrader-agent/internal/telemetry"
	"github.com/Proton-105/protrader-agent/internal/vision"
)

// Locator finds templates on screen.
type Locator interface {
	Locate(ctx context.Context, q vision.Query) (vision.MatchResult, bool, error)
	Bounds() image.Rectangle
}

// Reader reads a non-negative integer from a screen zone.
type Reader interface {
	ReadInt(ctx context.Context, zone image.Rectangle) (int, bool)
}

// Input synthesizes mouse and keyboard events.
type Input interface {
	MoveClick(ctx context.Context, x, y int) error
	TypeText(ctx context.Context, text string) error
	PressKey(ctx context.Context, key string) error
	Chord(ctx context.Context, keys ...string) error
}

// Client starts and stops the game client.
type Client interface {
	Launch(ctx context.Context) error
	Close(ctx context.Context) error
}

// Host powers the machine off at the end of a run.
type Host interface {
	PowerOff(ctx context.Context) error
}

// Progress describes the run right after a state was entered.
type Progress struct {
	State    State
	Resource string
	Index    int
	Count    int
	Kamas    *int
}

// Deps are the collaborators of a workflow run. Locator, Reader and Input are
// required; the others default to no-ops.
type Deps struct {
	Locator   Locator
	Reader    Reader
	Input     Input
	Publisher telemetry.Publisher
	Client    Client
	Host      Host
	Trades    ledger.Recorder
	Progress  func(ctx context.Context, p Progress)
	Logger    *slog.Logger
	Now       func() time.Time
	Sleep     func(ctx context.Context, d time.Duration) error
}

// ErrNoResources is returned by Run when there is nothing to trade.
var ErrNoResources = errors.New("no resources to process")

// Workflow runs the marketplace state graph. A Workflow may be reused for
// successive runs but not for concurrent ones.
type Workflow struct {
	deps Deps
	opts Options
	log  *slog.Logger

	rc    *RunContext
	fatal error
}

// New validates deps and returns a workflow.
func New(deps Deps, opts Options) (*Workflow, error) {
	if deps.Locator == nil || deps.Reader == nil || deps.Input == nil {
		return nil, errors.New("marketplace: locator, reader and input are required")
	}
	if deps.Publisher == nil {
		deps.Publisher = telemetry.Discard
	}
	if deps.Trades == nil {
		deps.Trades = ledger.Discard{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Sleep == nil {
		deps.Sleep = sleepContext
	}

	def := DefaultOptions()
	if len(opts.SaleQtyOrder) == 0 {
		opts.SaleQtyOrder = def.SaleQtyOrder
	}
	if opts.ScanMaxAttempts <= 0 {
		opts.ScanMaxAttempts = def.ScanMaxAttempts
	}
	if opts.SellClickMaxAttempts <= 0 {
		opts.SellClickMaxAttempts = def.SellClickMaxAttempts
	}
	if opts.SellSelectMaxAttempts <= 0 {
		opts.SellSelectMaxAttempts = def.SellSelectMaxAttempts
	}
	if opts.PurchaseMaxRetries <= 0 {
		opts.PurchaseMaxRetries = def.PurchaseMaxRetries
	}
	if opts.KamasCheckMaxAttempts <= 0 {
		opts.KamasCheckMaxAttempts = def.KamasCheckMaxAttempts
	}
	if opts.ConfirmMaxAttempts <= 0 {
		opts.ConfirmMaxAttempts = def.ConfirmMaxAttempts
	}
	if opts.FortuneCapRatio <= 0 {
		opts.FortuneCapRatio = def.FortuneCapRatio
	}
	if opts.ResourceScales.IsZero() {
		opts.ResourceScales = def.ResourceScales
	}
	if opts.TiersPerTick < 0 {
		opts.TiersPerTick = def.TiersPerTick
	}

	return &Workflow{
		deps: deps,
		opts: opts,
		log:  deps.Logger.With("component", "marketplace"),
	}, nil
}

// Run processes resources in order until END, ERROR, the global deadline or
// cancellation. The run context is discarded when Run returns.
func (w *Workflow) Run(ctx context.Context, resources []Resource, lines []FortuneLine) (fsm.Status, error) {
	if len(resources) == 0 {
		return fsm.StatusError, ErrNoResources
	}

	w.rc = newRunContext(resources, lines, vision.RightHalf(w.deps.Locator.Bounds()))
	w.fatal = nil
	defer func() { w.rc = nil }()

	engine, err := fsm.New[State](w, fsm.Options[State]{
		Start:      StateLaunch,
		End:        StateEnd,
		Error:      StateError,
		TickHz:     w.opts.TickHz,
		MaxRuntime: w.opts.MaxRuntime,
		Guard:      IsTransitionAllowed,
		Logger:     w.log,
		Now:        w.deps.Now,
		Sleep:      w.deps.Sleep,
	})
	if err != nil {
		return fsm.StatusError, err
	}

	w.log.InfoContext(ctx, "marketplace run started", slog.Int("resources", len(resources)), slog.Int("fortune_lines", len(lines)))

	status, err := engine.Run(ctx)
	if status == fsm.StatusError && w.fatal != nil {
		err = w.fatal
	}

	w.log.InfoContext(ctx, "marketplace run finished",
		slog.String("status", string(status)),
		slog.String("state", string(engine.Current())),
		slog.Int("ticks", engine.Ticks()),
	)

	return status, err
}

// State resolves the definition of s.
func (w *Workflow) State(s State) (fsm.StateDef[State], bool) {
	var def fsm.StateDef[State]

	switch s {
	case StateLaunch:
		def = fsm.StateDef[State]{OnEnter: w.enterLaunch, OnTick: w.tickLaunch, Timeout: w.opts.LaunchTimeout}
	case StateAwaitLogin:
		def = fsm.StateDef[State]{OnTick: w.tickAwaitLogin, Timeout: w.opts.LoginTimeout}
	case StateInGame:
		def = fsm.StateDef[State]{OnEnter: w.enterInGame}
	case StateOpenMarket:
		def = fsm.StateDef[State]{OnTick: w.tickOpenMarket, Timeout: w.opts.MarketTimeout}
	case StateAwaitMarket:
		def = fsm.StateDef[State]{OnTick: w.tickAwaitMarket, Timeout: w.opts.MarketTimeout}
	case StateReadFunds:
		def = fsm.StateDef[State]{OnTick: w.tickReadFunds}
	case StateEnterResource:
		def = fsm.StateDef[State]{OnEnter: w.enterResource}
	case StateSelectResource:
		def = fsm.StateDef[State]{OnTick: w.tickSelectResource}
	case StateScanPrices:
		def = fsm.StateDef[State]{OnEnter: w.enterScan, OnTick: w.tickScan}
	case StateBuyClick:
		def = fsm.StateDef[State]{OnTick: w.tickBuyClick}
	case StateVerifyBuy:
		def = fsm.StateDef[State]{OnTick: w.tickVerifyBuy, Timeout: w.opts.VerifyTimeout, OnTimeout: StateScanPrices}
	case StateSellTab:
		def = fsm.StateDef[State]{OnTick: w.tickSellTab}
	case StateSellSelectResource:
		def = fsm.StateDef[State]{OnTick: w.tickSellSelectResource}
	case StateSellSelectQty:
		def = fsm.StateDef[State]{OnEnter: w.enterSellSelectQty, OnTick: w.tickSellSelectQty}
	case StateSellClickQty:
		def = fsm.StateDef[State]{OnEnter: w.enterSellClickQty, OnTick: w.tickSellClickQty}
	case StateSellEnterPrice:
		def = fsm.StateDef[State]{OnEnter: w.enterSellPrice, OnTick: w.tickSellPrice}
	case StateSellReturn:
		def = fsm.StateDef[State]{OnTick: w.tickSellReturn}
	case StateSearchClick:
		def = fsm.StateDef[State]{OnTick: w.tickSearchClick}
	case StateEnd:
		def = fsm.StateDef[State]{OnEnter: w.enterEnd}
	case StateError:
		def = fsm.StateDef[State]{}
	default:
		return fsm.StateDef[State]{}, false
	}

	def.Name = s
	def.OnEnter = w.reported(s, def.OnEnter)
	return def, true
}

// reported wraps on_enter so every entry is announced before the state runs.
func (w *Workflow) reported(s State, next func(ctx context.Context) State) func(ctx context.Context) State {
	return func(ctx context.Context) State {
		w.reportState(ctx, string(s))
		w.reportProgress(ctx, s)
		if next == nil {
			return ""
		}
		return next(ctx)
	}
}

// locate runs a template query. A missing template is a configuration error
// that routes the run to ERROR; other failures count as a miss.
func (w *Workflow) locate(ctx context.Context, q vision.Query) (vision.MatchResult, bool, State) {
	res, ok, err := w.deps.Locator.Locate(ctx, q)
	if err == nil {
		return res, ok, ""
	}

	if errors.Is(err, vision.ErrTemplateNotFound) {
		w.fail(ctx, fmt.Errorf("template %q: %w", q.Template, err))
		return vision.MatchResult{}, false, StateError
	}

	w.log.WarnContext(ctx, "template search failed", slog.String("template", q.Template), slog.Any("error", err))
	return vision.MatchResult{}, false, ""
}

func (w *Workflow) find(ctx context.Context, template string) (vision.MatchResult, bool, State) {
	return w.locate(ctx, vision.Query{Template: template})
}

func (w *Workflow) fail(ctx context.Context, err error) {
	w.log.ErrorContext(ctx, "configuration error", slog.Any("error", err))
	w.reportState(ctx, reportTemplateMissing)
	w.fatal = err
}

func (w *Workflow) click(ctx context.Context, p image.Point) {
	if err := w.deps.Input.MoveClick(ctx, p.X, p.Y); err != nil {
		w.log.WarnContext(ctx, "click failed", slog.Int("x", p.X), slog.Int("y", p.Y), slog.Any("error", err))
	}
}

func (w *Workflow) typeText(ctx context.Context, text string) {
	if err := w.deps.Input.TypeText(ctx, text); err != nil {
		w.log.WarnContext(ctx, "typing failed", slog.Any("error", err))
	}
}

func (w *Workflow) pressKey(ctx context.Context, key string) {
	if err := w.deps.Input.PressKey(ctx, key); err != nil {
		w.log.WarnContext(ctx, "key press failed", slog.String("key", key), slog.Any("error", err))
	}
}

func (w *Workflow) chord(ctx context.Context, keys ...string) {
	if err := w.deps.Input.Chord(ctx, keys...); err != nil {
		w.log.WarnContext(ctx, "key chord failed", slog.Any("keys", keys), slog.Any("error", err))
	}
}

// pause waits d. Cancellation is left for the engine to observe.
func (w *Workflow) pause(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	_ = w.deps.Sleep(ctx, d)
}

func (w *Workflow) settle(ctx context.Context) {
	w.pause(ctx, w.opts.SettleDelay)
}

func (w *Workflow) settleHalf(ctx context.Context) {
	w.pause(ctx, w.opts.SettleDelay/2)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
