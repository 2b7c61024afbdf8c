package marketplace

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/Proton-105/protrader-agent/internal/ledger"
	"github.com/Proton-105/protrader-agent/internal/telemetry"
	"github.com/Proton-105/protrader-agent/pkg/logger"
	"github.com/Proton-105/protrader-agent/pkg/metrics"
)

func (w *Workflow) reportState(ctx context.Context, name string) {
	w.deps.Publisher.Publish(telemetry.LoginState(name, w.deps.Now()))
}

func (w *Workflow) reportProgress(ctx context.Context, s State) {
	if w.deps.Progress == nil || w.rc == nil {
		return
	}

	w.deps.Progress(ctx, Progress{
		State:    s,
		Resource: w.rc.Slug,
		Index:    w.rc.Index,
		Count:    len(w.rc.Resources),
		Kamas:    w.rc.Kamas,
	})
}

func (w *Workflow) reportPrice(ctx context.Context, tier Tier, price int) {
	metrics.RecordPrice(string(tier))
	w.deps.Publisher.Publish(telemetry.Price(w.rc.Slug, string(tier), price, w.deps.Now()))
}

func (w *Workflow) reportKamas(ctx context.Context, amount int) {
	metrics.SetKamas(amount)
	w.deps.Publisher.Publish(telemetry.Kamas(amount, w.deps.Now()))
}

func (w *Workflow) reportPurchase(ctx context.Context, p Purchase) {
	payload := tradePayload(p.Slug, p.Tier, p.Price)
	metrics.RecordPurchase("confirmed")
	w.deps.Publisher.Publish(telemetry.Purchase(payload, w.deps.Now()))
	w.recordTrade(ctx, ledger.SideBuy, payload)
}

func (w *Workflow) reportSale(ctx context.Context, slug string, tier Tier, amount int) {
	payload := tradePayload(slug, tier, amount)
	metrics.RecordSale()
	w.deps.Publisher.Publish(telemetry.Sale(payload, w.deps.Now()))
	w.recordTrade(ctx, ledger.SideSell, payload)
}

func (w *Workflow) recordTrade(ctx context.Context, side ledger.Side, p telemetry.TradePayload) {
	trade := ledger.Trade{
		ID:            uuid.New(),
		RunID:         logger.RunIDFromContext(ctx),
		Side:          side,
		Resource:      p.Resource,
		QuantityLabel: p.QuantityLabel,
		Quantity:      p.Quantity,
		UnitPrice:     p.Price,
		Amount:        p.Amount,
		KamasAfter:    w.rc.Kamas,
		CreatedAt:     w.deps.Now().UTC(),
	}

	if err := w.deps.Trades.RecordTrade(ctx, trade); err != nil {
		w.log.WarnContext(ctx, "failed to record trade",
			slog.String("side", string(side)),
			slog.String("resource", p.Resource),
			slog.Any("error", err),
		)
	}
}

func tradePayload(slug string, tier Tier, amount int) telemetry.TradePayload {
	return telemetry.TradePayload{
		Resource:      slug,
		QuantityLabel: string(tier),
		Quantity:      ParseQuantity(string(tier)),
		Price:         UnitPrice(amount, tier),
		Amount:        amount,
	}
}
