package marketplace

import (
	"context"
	"image"
	"log/slog"

	"github.com/Proton-105/protrader-agent/internal/vision"
)

const (
	kamasZoneOffset = 250
	zoneWidth       = 245
)

func (w *Workflow) enterLaunch(ctx context.Context) State {
	if w.deps.Client == nil {
		return ""
	}
	if err := w.deps.Client.Launch(ctx); err != nil {
		w.log.WarnContext(ctx, "failed to launch game client", slog.Any("error", err))
	}
	return ""
}

func (w *Workflow) tickLaunch(ctx context.Context) State {
	return w.clickWhenFound(ctx, w.opts.Templates.Play, StateAwaitLogin)
}

func (w *Workflow) tickAwaitLogin(ctx context.Context) State {
	return w.waitFor(ctx, w.opts.Templates.InGame, StateInGame)
}

func (w *Workflow) enterInGame(context.Context) State {
	return StateOpenMarket
}

func (w *Workflow) tickOpenMarket(ctx context.Context) State {
	return w.clickWhenFound(ctx, w.opts.Templates.OpenMarket, StateAwaitMarket)
}

func (w *Workflow) tickAwaitMarket(ctx context.Context) State {
	return w.waitFor(ctx, w.opts.Templates.MarketOpen, StateReadFunds)
}

func (w *Workflow) tickReadFunds(ctx context.Context) State {
	amount, ok, next := w.readKamas(ctx)
	if next != "" {
		return next
	}
	if !ok {
		return ""
	}

	w.rc.setKamas(amount)
	w.log.InfoContext(ctx, "current fortune", slog.Int("kamas", amount))
	w.reportKamas(ctx, amount)
	return StateEnterResource
}

func (w *Workflow) tickSearchClick(ctx context.Context) State {
	if w.rc.SkipSearchClick {
		w.rc.SkipSearchClick = false
		w.settleHalf(ctx)
		return w.nextResource()
	}

	res, ok, next := w.find(ctx, w.opts.Templates.Search)
	if next != "" || !ok {
		return next
	}

	w.settle(ctx)
	w.click(ctx, res.Center())
	w.settle(ctx)
	return w.nextResource()
}

func (w *Workflow) nextResource() State {
	if w.rc.advance() {
		return StateEnterResource
	}
	return StateEnd
}

func (w *Workflow) enterEnd(ctx context.Context) State {
	if w.deps.Client != nil {
		if err := w.deps.Client.Close(ctx); err != nil {
			w.log.WarnContext(ctx, "failed to close game client", slog.Any("error", err))
		}
	}

	if w.opts.PowerOffOnEnd && w.deps.Host != nil {
		w.log.InfoContext(ctx, "powering off host")
		if err := w.deps.Host.PowerOff(ctx); err != nil {
			w.log.ErrorContext(ctx, "failed to power off host", slog.Any("error", err))
		}
	}
	return ""
}

// clickWhenFound clicks the centre of template and moves to next once it shows up.
func (w *Workflow) clickWhenFound(ctx context.Context, template string, next State) State {
	res, ok, fatal := w.find(ctx, template)
	if fatal != "" || !ok {
		return fatal
	}

	w.settle(ctx)
	w.click(ctx, res.Center())
	return next
}

// waitFor moves to next once template is visible.
func (w *Workflow) waitFor(ctx context.Context, template string, next State) State {
	_, ok, fatal := w.find(ctx, template)
	if fatal != "" || !ok {
		return fatal
	}

	w.settle(ctx)
	return next
}

// readKamas locates the currency icon and reads the total printed left of it.
func (w *Workflow) readKamas(ctx context.Context) (int, bool, State) {
	res, ok, next := w.find(ctx, w.opts.Templates.Kamas)
	if next != "" || !ok {
		return 0, false, next
	}

	zone := vision.Region(res.Left-kamasZoneOffset, res.Top, zoneWidth, res.Height)
	amount, ok := w.deps.Reader.ReadInt(ctx, zone)
	return amount, ok, ""
}

// priceZone is the OCR rectangle right of a quantity selector.
func priceZone(res vision.MatchResult) image.Rectangle {
	return vision.Region(res.Left+150, res.Top, zoneWidth, res.Height)
}
