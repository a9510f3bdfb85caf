package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"sma-trading-bot/internal/interfaces"
	"sma-trading-bot/internal/types"
)

// Journal mirrors the trade journal into the trade_journal table.
type Journal struct {
	pool *pgxpool.Pool
}

var _ interfaces.Journal = (*Journal)(nil)

func NewJournal(pool *pgxpool.Pool) *Journal {
	return &Journal{pool: pool}
}

func (j *Journal) Append(ctx context.Context, rec types.TradeRecord) error {
	id, err := uuid.Parse(rec.ID)
	if err != nil {
		id = uuid.New()
	}
	var opened *time.Time
	if !rec.OpenedAt.IsZero() {
		opened = &rec.OpenedAt
	}

	// replays of the same record are ignored
	_, err = j.pool.Exec(ctx, `
		INSERT INTO trade_journal (id, kind, instrument, direction, side, quantity, price,
		                           reason, pnl, order_id, opened_at, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING`,
		id, string(rec.Kind), rec.Instrument, string(rec.Direction), string(rec.Side), rec.Quantity, rec.Price,
		string(rec.Reason), rec.PnL, rec.OrderID, opened, rec.Time)
	if err != nil {
		return fmt.Errorf("postgres: append journal: %w", err)
	}
	return nil
}
