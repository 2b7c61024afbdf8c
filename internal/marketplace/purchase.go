package marketplace

import (
	"context"
	"errors"
	"image"
	"log/slog"

	"github.com/Proton-105/protrader-agent/internal/vision"
	"github.com/Proton-105/protrader-agent/pkg/metrics"
)

// ErrResourceTemplateMissing is returned by Run when the current resource has
// no template to select it by.
var ErrResourceTemplateMissing = errors.New("resource template missing")

func (w *Workflow) enterResource(ctx context.Context) State {
	if !w.rc.enterResource() {
		return StateEnd
	}

	w.log.InfoContext(ctx, "processing resource",
		slog.String("resource", w.rc.Slug),
		slog.Int("index", w.rc.Index),
		slog.Int("count", len(w.rc.Resources)),
	)

	text := w.rc.Slug
	if text == "" {
		text = " "
	}
	w.typeText(ctx, text)
	return StateSelectResource
}

func (w *Workflow) tickSelectResource(ctx context.Context) State {
	if w.rc.Template == "" {
		w.fail(ctx, ErrResourceTemplateMissing)
		return StateError
	}

	res, ok, next := w.locate(ctx, w.resourceQuery(w.rc.Template, image.Rectangle{}))
	if next != "" || !ok {
		return next
	}

	w.settle(ctx)
	w.click(ctx, res.Center())
	return StateScanPrices
}

func (w *Workflow) resourceQuery(template string, region image.Rectangle) vision.Query {
	return vision.Query{
		Template:  template,
		Region:    region,
		Scales:    w.opts.ResourceScales,
		Threshold: w.opts.ResourceThreshold,
		Color:     true,
		Alpha:     true,
	}
}

func (w *Workflow) enterScan(ctx context.Context) State {
	rc := w.rc

	// A purchase still pending here outlived verification.
	if p := rc.Pending; p != nil {
		w.log.WarnContext(ctx, "purchase verification abandoned",
			slog.String("resource", p.Slug),
			slog.String("tier", string(p.Tier)),
		)
		metrics.RecordPurchase("abandoned")
		rc.Scanned[p.Tier] = p.Price
		rc.Pending = nil
	}

	if rc.ResetScan || len(rc.Targets) == 0 {
		rc.Targets = make([]ScanTarget, 0, len(Tiers))
		for _, tier := range Tiers {
			rc.Targets = append(rc.Targets, ScanTarget{Tier: tier, Template: w.opts.Templates.Qty[tier]})
		}
		rc.Scanned = make(map[Tier]int, len(Tiers))
		rc.Attempts = make(map[Tier]int, len(Tiers))
	}
	rc.ResetScan = false
	return ""
}

func (w *Workflow) tickScan(ctx context.Context) State {
	rc := w.rc

	processed := 0
	for _, target := range rc.Targets {
		if _, done := rc.Scanned[target.Tier]; done {
			continue
		}
		if w.opts.TiersPerTick > 0 && processed >= w.opts.TiersPerTick {
			break
		}
		processed++

		if next := w.scanTier(ctx, target); next != "" {
			return next
		}
	}

	if !rc.ScanComplete() {
		return ""
	}
	if rc.nextSale() {
		return StateSellTab
	}
	return StateSearchClick
}

// scanTier prices one tier and returns a state when the tier triggers a purchase.
func (w *Workflow) scanTier(ctx context.Context, target ScanTarget) State {
	rc := w.rc

	res, ok, next := w.find(ctx, target.Template)
	if next != "" {
		return next
	}
	if !ok {
		w.missTier(ctx, target.Tier)
		return ""
	}

	zone := priceZone(res)
	price, ok := w.deps.Reader.ReadInt(ctx, zone)
	if !ok {
		w.missTier(ctx, target.Tier)
		return ""
	}

	w.reportPrice(ctx, target.Tier, price)

	var rule *FortuneLine
	if line, found := rc.Fortune.Lookup(rc.Slug, target.Tier); found {
		rule = &line
	}

	decision := Decide(price, rule, rc.Kamas, w.opts.FortuneCapRatio)
	if decision.Buy() {
		rc.Pending = &PendingPurchase{
			Slug:  rc.Slug,
			Tier:  target.Tier,
			Price: price,
			Zone:  zone,
			Rule:  rule,
		}
		w.log.InfoContext(ctx, "purchase triggered",
			slog.String("resource", rc.Slug),
			slog.String("tier", string(target.Tier)),
			slog.Int("price", price),
			slog.Int("threshold", decision.Threshold),
		)
		return StateBuyClick
	}

	if rule != nil {
		w.log.DebugContext(ctx, "purchase declined",
			slog.String("resource", rc.Slug),
			slog.String("tier", string(target.Tier)),
			slog.Int("price", price),
			slog.String("verdict", string(decision.Verdict)),
			slog.Int("threshold", decision.Threshold),
			slog.Int("cap", decision.Cap),
		)
	}

	rc.Scanned[target.Tier] = price
	return ""
}

func (w *Workflow) missTier(ctx context.Context, tier Tier) {
	rc := w.rc
	rc.Attempts[tier]++
	if rc.Attempts[tier] >= w.opts.ScanMaxAttempts {
		w.log.DebugContext(ctx, "quantity tier skipped", slog.String("resource", rc.Slug), slog.String("tier", string(tier)))
		rc.Scanned[tier] = Skipped
	}
}

func (w *Workflow) tickBuyClick(ctx context.Context) State {
	rc := w.rc
	p := rc.Pending
	if p == nil {
		w.log.WarnContext(ctx, "buy click without pending purchase")
		return StateScanPrices
	}

	if !p.ClickDone {
		at := image.Pt(p.Zone.Max.X+w.opts.BuyClickOffset, p.Zone.Min.Y+p.Zone.Dy()/2)
		if rc.Kamas != nil {
			start := *rc.Kamas
			p.StartKamas = &start
		}
		w.click(ctx, at)
		p.ClickDone = true
		p.ConfirmAttempts = 0
		w.settle(ctx)
		return ""
	}

	if w.opts.Templates.ConfirmBuy == "" {
		w.log.WarnContext(ctx, "no purchase confirmation template, purchase not verified")
		metrics.RecordPurchase("skipped")
		rc.Scanned[p.Tier] = p.Price
		rc.Pending = nil
		return StateScanPrices
	}

	res, ok, next := w.find(ctx, w.opts.Templates.ConfirmBuy)
	if next != "" {
		return next
	}
	if !ok {
		p.ConfirmAttempts++
		if p.ConfirmAttempts < w.opts.ConfirmMaxAttempts {
			return ""
		}
		w.log.WarnContext(ctx, "purchase confirmation never appeared",
			slog.String("resource", p.Slug),
			slog.String("tier", string(p.Tier)),
			slog.Int("attempts", p.ConfirmAttempts),
		)
		metrics.RecordPurchase("abandoned")
		rc.Scanned[p.Tier] = p.Price
		rc.Pending = nil
		return StateScanPrices
	}

	w.click(ctx, res.Center())
	w.settle(ctx)
	p.KamasReadAttempts = 0
	return StateVerifyBuy
}

func (w *Workflow) tickVerifyBuy(ctx context.Context) State {
	rc := w.rc
	p := rc.Pending
	if p == nil {
		w.log.WarnContext(ctx, "purchase verification without pending purchase")
		return StateScanPrices
	}

	amount, ok, next := w.readKamas(ctx)
	if next != "" {
		return next
	}
	if !ok {
		p.KamasReadAttempts++
		if p.KamasReadAttempts >= w.opts.KamasCheckMaxAttempts {
			w.log.WarnContext(ctx, "fortune unreadable after purchase",
				slog.String("resource", p.Slug),
				slog.String("tier", string(p.Tier)),
				slog.Int("attempts", p.KamasReadAttempts),
			)
			p.KamasReadAttempts = 0
		}
		return ""
	}

	previous := p.StartKamas
	if previous == nil {
		previous = rc.Kamas
	}

	if previous != nil && amount == *previous {
		p.Retries++
		w.log.InfoContext(ctx, "purchase not registered, fortune unchanged",
			slog.String("resource", p.Slug),
			slog.String("tier", string(p.Tier)),
			slog.Int("retry", p.Retries),
		)
		if p.Retries >= w.opts.PurchaseMaxRetries {
			w.log.WarnContext(ctx, "purchase abandoned", slog.String("resource", p.Slug), slog.String("tier", string(p.Tier)), slog.Int("retries", p.Retries))
			metrics.RecordPurchase("abandoned")
			rc.Scanned[p.Tier] = p.Price
			rc.Pending = nil
			return StateScanPrices
		}

		p.ClickDone = false
		p.KamasReadAttempts = 0
		w.settle(ctx)
		return StateBuyClick
	}

	before := -1
	if previous != nil {
		before = *previous
	}
	w.log.InfoContext(ctx, "purchase confirmed",
		slog.String("resource", p.Slug),
		slog.String("tier", string(p.Tier)),
		slog.Int("amount", p.Price),
		slog.Int("kamas_before", before),
		slog.Int("kamas_after", amount),
	)

	rc.setKamas(amount)
	w.reportKamas(ctx, amount)

	purchase := Purchase{
		Slug:     p.Slug,
		Tier:     p.Tier,
		Price:    p.Price,
		Rule:     p.Rule,
		Template: rc.Template,
	}
	w.reportPurchase(ctx, purchase)
	rc.Completed = append(rc.Completed, purchase)

	rc.Scanned[p.Tier] = p.Price
	rc.Pending = nil
	return StateScanPrices
}
