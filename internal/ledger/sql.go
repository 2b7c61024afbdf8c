package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/Proton-105/protrader-agent/internal/errors"
)

// SQLRepository stores trades in the trades table. The queries are portable
// between the postgres and sqlite3 drivers.
type SQLRepository struct {
	db  *sql.DB
	log *slog.Logger
}

// NewSQLRepository wraps an open database.
func NewSQLRepository(db *sql.DB, log *slog.Logger) *SQLRepository {
	if log == nil {
		log = slog.Default()
	}
	return &SQLRepository{db: db, log: log}
}

// RecordTrade inserts trade, retrying transient failures.
func (r *SQLRepository) RecordTrade(ctx context.Context, trade Trade) error {
	const query = `
		INSERT INTO trades (id, run_id, side, resource, quantity_label, quantity, unit_price, amount, kamas_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	if trade.ID == uuid.Nil {
		trade.ID = uuid.New()
	}
	if trade.CreatedAt.IsZero() {
		trade.CreatedAt = time.Now()
	}

	var kamasAfter sql.NullInt64
	if trade.KamasAfter != nil {
		kamasAfter = sql.NullInt64{Int64: int64(*trade.KamasAfter), Valid: true}
	}

	return apperrors.WithRetry(ctx, func() error {
		_, err := r.db.ExecContext(ctx, query,
			trade.ID.String(),
			trade.RunID,
			string(trade.Side),
			trade.Resource,
			trade.QuantityLabel,
			trade.Quantity,
			trade.UnitPrice,
			trade.Amount,
			kamasAfter,
			trade.CreatedAt.UTC(),
		)
		if err != nil {
			r.log.ErrorContext(ctx, "failed to insert trade",
				slog.String("trade_id", trade.ID.String()),
				slog.String("side", string(trade.Side)),
				slog.Any("error", err),
			)
			return apperrors.NewDatabaseError(fmt.Errorf("insert trade: %w", err))
		}
		return nil
	})
}

// ListByRun returns the trades of runID in insertion time order.
func (r *SQLRepository) ListByRun(ctx context.Context, runID string) ([]Trade, error) {
	const query = `
		SELECT id, run_id, side, resource, quantity_label, quantity, unit_price, amount, kamas_after, created_at
		FROM trades
		WHERE run_id = $1
		ORDER BY created_at, id
	`

	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, apperrors.NewDatabaseError(fmt.Errorf("select trades by run: %w", err))
	}
	defer rows.Close()

	var trades []Trade
	for rows.Next() {
		var (
			t          Trade
			id         string
			side       string
			kamasAfter sql.NullInt64
		)
		if err := rows.Scan(&id, &t.RunID, &side, &t.Resource, &t.QuantityLabel, &t.Quantity, &t.UnitPrice, &t.Amount, &kamasAfter, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		if t.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse trade id %q: %w", id, err)
		}
		t.Side = Side(side)
		if kamasAfter.Valid {
			v := int(kamasAfter.Int64)
			t.KamasAfter = &v
		}
		trades = append(trades, t)
	}

	return trades, rows.Err()
}

// Summary aggregates the trades of a run.
type Summary struct {
	Purchases int `json:"purchases"`
	Sales     int `json:"sales"`
	Spent     int `json:"spent"`
	Listed    int `json:"listed"`
}

// Summarize folds trades into a Summary.
func Summarize(trades []Trade) Summary {
	var s Summary
	for _, t := range trades {
		switch t.Side {
		case SideBuy:
			s.Purchases++
			s.Spent += t.Amount
		case SideSell:
			s.Sales++
			s.Listed += t.Amount
		}
	}
	return s
}
