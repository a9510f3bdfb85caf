package pgstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/moznion/go-optional"

	"sma-trading-bot/internal/interfaces"
	"sma-trading-bot/internal/types"
)

type Store struct {
	pool *pgxpool.Pool

	mu      sync.Mutex
	lastSeq uint64
}

var _ interfaces.StateStore = (*Store)(nil)

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

var positionColumns = []string{
	"instrument", "direction", "entry_price", "quantity", "take_profit",
	"stop_loss", "trailing_floor", "order_id", "opened_at", "state",
}

func (s *Store) LoadPositions(ctx context.Context) ([]types.Position, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT instrument, direction, entry_price, quantity, take_profit,
		       stop_loss, trailing_floor, order_id, opened_at, state
		FROM positions ORDER BY instrument, direction`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load positions: %w", err)
	}
	defer rows.Close()

	var out []types.Position
	for rows.Next() {
		var (
			p     types.Position
			floor *float64
		)
		if err := rows.Scan(&p.Instrument, &p.Direction, &p.EntryPrice, &p.Quantity, &p.TakeProfit,
			&p.StopLoss, &floor, &p.OrderID, &p.OpenedAt, &p.State); err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		p.TrailingFloor = floorOption(floor)
		out = append(out, p)
	}
	return out, rows.Err()
}

// SavePositions replaces the table contents in one transaction.
func (s *Store) SavePositions(ctx context.Context, seq uint64, ps []types.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq < s.lastSeq {
		return nil
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "DELETE FROM positions"); err != nil {
			return err
		}
		_, err := tx.CopyFrom(ctx, pgx.Identifier{"positions"}, positionColumns, pgx.CopyFromSlice(len(ps), func(i int) ([]any, error) {
			return positionRow(ps[i]), nil
		}))
		return err
	})
	if err != nil {
		return fmt.Errorf("postgres: save positions: %w", err)
	}
	s.lastSeq = seq
	return nil
}

func (s *Store) LoadStats(ctx context.Context) (types.Stats, error) {
	var st types.Stats
	err := s.pool.QueryRow(ctx,
		"SELECT wins, losses, realized_pnl, loss_day, daily_loss FROM bot_stats WHERE id = 1",
	).Scan(&st.Wins, &st.Losses, &st.RealizedPnL, &st.LossDay, &st.DailyLoss)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Stats{}, nil
	}
	if err != nil {
		return types.Stats{}, fmt.Errorf("postgres: load stats: %w", err)
	}
	return st, nil
}

func (s *Store) SaveStats(ctx context.Context, st types.Stats) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO bot_stats (id, wins, losses, realized_pnl, loss_day, daily_loss, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, NOW())
		ON CONFLICT (id) DO UPDATE SET
			wins = EXCLUDED.wins,
			losses = EXCLUDED.losses,
			realized_pnl = EXCLUDED.realized_pnl,
			loss_day = EXCLUDED.loss_day,
			daily_loss = EXCLUDED.daily_loss,
			updated_at = EXCLUDED.updated_at`,
		st.Wins, st.Losses, st.RealizedPnL, st.LossDay, st.DailyLoss)
	if err != nil {
		return fmt.Errorf("postgres: save stats: %w", err)
	}
	return nil
}

func positionRow(p types.Position) []any {
	var floor *float64
	if p.TrailingFloor.IsSome() {
		v := p.TrailingFloor.Unwrap()
		floor = &v
	}
	return []any{
		p.Instrument, string(p.Direction), p.EntryPrice, p.Quantity, p.TakeProfit,
		p.StopLoss, floor, p.OrderID, p.OpenedAt, string(p.State),
	}
}

func floorOption(v *float64) optional.Option[float64] {
	if v == nil {
		return optional.None[float64]()
	}
	return optional.Some(*v)
}
