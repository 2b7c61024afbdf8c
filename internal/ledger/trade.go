// Package ledger persists confirmed purchases and submitted sales.
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Side tells purchases and sales apart.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Trade is one ledger row.
type Trade struct {
	ID            uuid.UUID `json:"id"`
	RunID         string    `json:"run_id"`
	Side          Side      `json:"side"`
	Resource      string    `json:"resource"`
	QuantityLabel string    `json:"quantity_label"`
	Quantity      int       `json:"quantity"`
	UnitPrice     float64   `json:"unit_price"`
	Amount        int       `json:"amount"`
	KamasAfter    *int      `json:"kamas_after,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Recorder stores trades.
type Recorder interface {
	RecordTrade(ctx context.Context, trade Trade) error
}

// Discard is a Recorder that keeps nothing.
type Discard struct{}

// RecordTrade does nothing.
func (Discard) RecordTrade(context.Context, Trade) error { return nil }
