package marketplace

import (
	"context"
	"image"
	"log/slog"
	"strconv"
	"time"

	"github.com/Proton-105/protrader-agent/internal/vision"
)

const (
	fallbackClickPause = 400 * time.Millisecond
	forceTabPause      = 200 * time.Millisecond
	typePause          = 150 * time.Millisecond
)

// currentSale returns the sale in progress, warning when there is none.
func (w *Workflow) currentSale(ctx context.Context, s State) *Sale {
	if w.rc.Sale == nil {
		w.log.WarnContext(ctx, "no sale in progress, back to search", slog.String("state", string(s)))
	}
	return w.rc.Sale
}

func (w *Workflow) tickSellTab(ctx context.Context) State {
	if w.currentSale(ctx, StateSellTab) == nil {
		return StateSearchClick
	}

	res, ok, next := w.find(ctx, w.opts.Templates.SellTab)
	if next != "" || !ok {
		return next
	}

	w.settle(ctx)
	w.click(ctx, res.Center())
	w.settle(ctx)
	return StateSellSelectResource
}

func (w *Workflow) tickSellSelectResource(ctx context.Context) State {
	sale := w.currentSale(ctx, StateSellSelectResource)
	if sale == nil {
		return StateSearchClick
	}

	template := sale.Purchase.Template
	if template == "" {
		template = w.rc.Template
	}
	if template == "" {
		w.log.WarnContext(ctx, "sale canceled, resource template missing", slog.String("resource", sale.Purchase.Slug))
		w.rc.Sale = nil
		return StateSearchClick
	}

	res, ok, next := w.locate(ctx, w.resourceQuery(template, w.rc.RightHalf))
	if next != "" || !ok {
		return next
	}

	w.settle(ctx)
	w.click(ctx, res.Center())
	w.settleHalf(ctx)
	return StateSellSelectQty
}

func (w *Workflow) enterSellSelectQty(context.Context) State {
	if sale := w.rc.Sale; sale != nil {
		sale.SelAttempts = 0
		sale.UseAlternatives = false
		sale.SelectedSelTier = ""
		sale.SelectedSelBox = image.Rectangle{}
		sale.FallbackClick = nil
		sale.ForceTab = false
	}
	return ""
}

func (w *Workflow) tickSellSelectQty(ctx context.Context) State {
	sale := w.currentSale(ctx, StateSellSelectQty)
	if sale == nil {
		return StateSearchClick
	}

	tier := sale.Purchase.Tier
	alternatives := sale.UseAlternatives

	var candidates []Tier
	if _, known := w.opts.Templates.SellSelect[tier]; known && !alternatives {
		candidates = []Tier{tier}
	} else {
		sale.UseAlternatives = true
		candidates = w.saleOrder(w.opts.Templates.SellSelect, "")
	}

	for _, candidate := range candidates {
		res, ok, next := w.find(ctx, w.opts.Templates.SellSelect[candidate])
		if next != "" {
			return next
		}
		if !ok {
			continue
		}

		sale.SelectedSelTier = candidate
		sale.SelectedSelBox = res.Rect()

		// The purchased tier is already the active row; its price field is focused.
		if candidate == tier {
			w.settle(ctx)
			sale.SelectedSaleTier = candidate
			sale.FallbackClick = nil
			sale.ForceTab = false
			sale.SellAttempts = 0
			return StateSellEnterPrice
		}

		w.click(ctx, res.Center())
		w.settleHalf(ctx)
		return StateSellClickQty
	}

	if !alternatives {
		sale.SelAttempts++
		if sale.SelAttempts >= w.opts.SellSelectMaxAttempts {
			sale.UseAlternatives = true
		}
	}
	return ""
}

func (w *Workflow) enterSellClickQty(context.Context) State {
	if sale := w.rc.Sale; sale != nil {
		sale.SellAttempts = 0
		sale.FallbackClick = nil
		sale.ForceTab = false
	}
	return ""
}

func (w *Workflow) tickSellClickQty(ctx context.Context) State {
	sale := w.currentSale(ctx, StateSellClickQty)
	if sale == nil {
		return StateSearchClick
	}

	preferred := sale.SelectedSelTier
	if preferred == "" {
		preferred = sale.Purchase.Tier
	}

	for _, candidate := range w.saleOrder(w.opts.Templates.SellQty, preferred) {
		res, ok, next := w.locate(ctx, vision.Query{Template: w.opts.Templates.SellQty[candidate], Region: w.rc.RightHalf})
		if next != "" {
			return next
		}
		if !ok {
			continue
		}

		w.click(ctx, res.Center())
		sale.SelectedSaleTier = candidate
		sale.SellAttempts = 0
		sale.FallbackClick = nil
		sale.ForceTab = false
		w.settleHalf(ctx)
		return StateSellEnterPrice
	}

	sale.SellAttempts++
	if sale.SellAttempts < w.opts.SellClickMaxAttempts {
		return ""
	}

	sale.SellAttempts = 0
	sale.SelectedSaleTier = preferred

	if at, ok := FallbackClick(sale.SelectedSelBox, w.rc.RightHalf, w.opts.SellFallbackRatio, w.opts.SellFallbackOffset); ok {
		sale.FallbackClick = &at
		w.log.DebugContext(ctx, "sell quantity fallback click", slog.Int("x", at.X), slog.Int("y", at.Y))
	} else {
		sale.ForceTab = true
		w.log.DebugContext(ctx, "sell quantity fallback unavailable, forcing tab")
	}

	w.log.WarnContext(ctx, "sell quantity control not found, entering price directly", slog.String("resource", sale.Purchase.Slug))
	return StateSellEnterPrice
}

func (w *Workflow) enterSellPrice(context.Context) State {
	if sale := w.rc.Sale; sale != nil {
		sale.EntryDone = false
	}
	return ""
}

func (w *Workflow) tickSellPrice(ctx context.Context) State {
	sale := w.currentSale(ctx, StateSellEnterPrice)
	if sale == nil {
		return StateSearchClick
	}
	if sale.EntryDone {
		return StateSellReturn
	}

	if at := sale.FallbackClick; at != nil {
		sale.FallbackClick = nil
		w.click(ctx, *at)
		w.pause(ctx, fallbackClickPause)
	}
	if sale.ForceTab {
		sale.ForceTab = false
		w.pressKey(ctx, "tab")
		w.pause(ctx, forceTabPause)
	}

	w.settle(ctx)

	amount := SalePrice(sale.Purchase)
	w.fillPrice(ctx, strconv.Itoa(amount))
	w.reportSale(ctx, sale.Purchase.Slug, sale.label(), amount)

	sale.EntryDone = true
	return StateSellReturn
}

func (w *Workflow) fillPrice(ctx context.Context, text string) {
	w.chord(ctx, "ctrl", "a")
	w.typeText(ctx, text)
	w.pause(ctx, typePause)
	w.pressKey(ctx, "enter")
}

func (w *Workflow) tickSellReturn(ctx context.Context) State {
	rc := w.rc
	if rc.Sale == nil && len(rc.Completed) == 0 {
		return StateSearchClick
	}

	res, ok, next := w.find(ctx, w.opts.Templates.BuyTab)
	if next != "" || !ok {
		return next
	}

	w.settle(ctx)
	w.click(ctx, res.Center())
	w.settle(ctx)

	rc.Sale = nil
	if rc.nextSale() {
		return StateSellTab
	}

	// The buy tab click already reset the search field.
	rc.SkipSearchClick = true
	return StateSearchClick
}

// saleOrder lists the tiers with a template in paths, preferred first, then
// the configured sale order.
func (w *Workflow) saleOrder(paths map[Tier]string, preferred Tier) []Tier {
	out := make([]Tier, 0, len(w.opts.SaleQtyOrder)+1)
	if _, ok := paths[preferred]; ok && preferred != "" {
		out = append(out, preferred)
	}
	for _, tier := range w.opts.SaleQtyOrder {
		if _, ok := paths[tier]; !ok || tier == preferred {
			continue
		}
		out = append(out, tier)
	}
	return out
}
