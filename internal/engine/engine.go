package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/moznion/go-optional"

	"sma-trading-bot/internal/indicator"
	"sma-trading-bot/internal/interfaces"
	"sma-trading-bot/internal/logger"
	"sma-trading-bot/internal/signal"
	"sma-trading-bot/internal/store"
	"sma-trading-bot/internal/ta"
	"sma-trading-bot/internal/tradelog"
	"sma-trading-bot/internal/types"
)

// Engine owns the position ledger and runs the signal and monitor loops.
type Engine struct {
	cfg      *store.Config
	brk      interfaces.Broker
	feed     interfaces.PriceFeed
	notifier interfaces.Notifier
	store    interfaces.StateStore
	journal  interfaces.Journal
	decision *tradelog.DecisionLog
	now      func() time.Time

	params  indicator.Params
	signals *signal.Generator
	ledger  *positionManager
	risk    *riskManager
	stops   *stopManager
	orders  *orderExecutor

	persistMu sync.Mutex
	savedSeq  uint64

	runMu   sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

type Option func(*Engine)

func WithNotifier(n interfaces.Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

func WithStateStore(s interfaces.StateStore) Option {
	return func(e *Engine) { e.store = s }
}

func WithJournal(j interfaces.Journal) Option {
	return func(e *Engine) { e.journal = j }
}

func WithDecisionLog(d *tradelog.DecisionLog) Option {
	return func(e *Engine) { e.decision = d }
}

// WithPriceFeed lets the monitor read streamed prices before falling back
// to the broker.
func WithPriceFeed(f interfaces.PriceFeed) Option {
	return func(e *Engine) { e.feed = f }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func newEngine(cfg *store.Config, brk interfaces.Broker, opts ...Option) *Engine {
	e := &Engine{
		cfg:      cfg,
		brk:      brk,
		notifier: nopNotifier{},
		now:      time.Now,
		params: indicator.Params{
			MAType:        cfg.Indicators.MAType,
			ShortWindow:   cfg.Indicators.ShortWindow,
			LongWindow:    cfg.Indicators.LongWindow,
			RSIPeriod:     cfg.Indicators.RSIPeriod,
			MACDFast:      cfg.Indicators.MACDFast,
			MACDSlow:      cfg.Indicators.MACDSlow,
			MACDSignal:    cfg.Indicators.MACDSignal,
			ChannelWindow: cfg.Indicators.ChannelWindow,
		},
		signals: signal.NewGenerator(signal.Rules{
			RSIUpper:        cfg.Signal.RSIUpper,
			RSILower:        cfg.Signal.RSILower,
			ChannelBreakout: cfg.Signal.Filters.ChannelBreakout,
			MACD:            cfg.Signal.Filters.MACD,
			HeikinAshi:      cfg.Signal.Filters.HeikinAshi,
			MinVolume:       cfg.Signal.Filters.MinVolume,
			HigherTimeframe: cfg.Signal.Filters.HigherTimeframe != "",
		}),
		ledger: newPositionManager(),
		risk:   newRiskManager(cfg.StakeAmount, cfg.Risk.DailyLossLimit, cfg.Risk.MaxBalanceFraction, cfg.Location()),
		stops:  newStopManager(cfg.Exit.TakeProfitPct, cfg.Exit.StopLossPct, cfg.Exit.Trailing, cfg.Exit.TrailingPct),
	}
	for _, o := range opts {
		o(e)
	}
	e.orders = newOrderExecutor(brk, e.journal, e.decision, e.now)
	return e
}

// Restore loads persisted positions and counters. Nothing saved means an
// empty start.
func (e *Engine) Restore(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	ps, err := e.store.LoadPositions(ctx)
	if err != nil {
		return fmt.Errorf("load positions: %w", err)
	}
	stats, err := e.store.LoadStats(ctx)
	if err != nil {
		return fmt.Errorf("load stats: %w", err)
	}
	e.ledger.load(ps)
	e.risk.restore(stats, e.now())

	logger.Info(ctx, "State restored", "positions", len(ps), "wins", stats.Wins, "losses", stats.Losses, "daily_loss", stats.DailyLoss)
	return nil
}

// Step evaluates one instrument and opens a position when an entry signal
// passes the risk checks. Risk rejections and short history are reported in
// the result, not as errors.
func (e *Engine) Step(ctx context.Context, symbol string) (*types.StepResult, error) {
	logger.Debug(ctx, "Starting signal step", "symbol", symbol)

	candles, err := e.brk.RecentCandles(ctx, symbol, e.cfg.Timeframe, e.cfg.Indicators.Candles)
	if err != nil {
		return nil, fmt.Errorf("fetch candles %s: %w", symbol, err)
	}

	res := &types.StepResult{Symbol: symbol, Signal: types.SignalNone}
	prev, cur, err := indicator.ComputePair(candles, e.params)
	if errors.Is(err, types.ErrInsufficientData) {
		res.Reason = "insufficient data"
		logger.Debug(ctx, "Skipping symbol with short history", "symbol", symbol, "candles", len(candles), "need", e.params.Lookback()+1)
		return res, nil
	}
	if err != nil {
		return nil, err
	}
	res.Price, res.Time = cur.Close, cur.Time

	in := signal.Input{Prev: prev, Cur: cur}
	if e.signals.Rules().HigherTimeframe {
		in.HigherMA = e.higherMA(ctx, symbol)
	}

	res.Signal = e.signals.Next(symbol, in)
	dir, ok := res.Signal.Direction()
	if !ok {
		res.Reason = "no crossover"
		e.orders.logDecision(ctx, res, &cur)
		return res, nil
	}

	pos, err := e.openPosition(ctx, symbol, dir, cur.Close)
	switch {
	case err == nil:
		res.Position = &pos
		res.Reason = "entered " + string(dir)
	case types.IsRejection(err):
		res.Reason = "rejected: " + err.Error()
		err = nil
	default:
		res.Reason = "order failed: " + err.Error()
	}
	logger.Signal(ctx, symbol, string(res.Signal), res.Reason, "price", cur.Close, "rsi", cur.RSI, "short_ma", cur.ShortMA, "long_ma", cur.LongMA)
	e.orders.logDecision(ctx, res, &cur)
	return res, err
}

// higherMA is the moving average of the higher timeframe, or None when it
// cannot be computed this step.
func (e *Engine) higherMA(ctx context.Context, symbol string) optional.Option[float64] {
	f := e.cfg.Signal.Filters
	candles, err := e.brk.RecentCandles(ctx, symbol, f.HigherTimeframe, f.HigherTimeframeWindow)
	if err != nil {
		logger.WarnWithErr(ctx, "Higher timeframe fetch failed", err, "symbol", symbol, "timeframe", f.HigherTimeframe)
		return optional.None[float64]()
	}
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	ma := ta.SMA(closes, f.HigherTimeframeWindow)
	if math.IsNaN(ma) {
		return optional.None[float64]()
	}
	return optional.Some(ma)
}

// openPosition runs the risk checks and places the entry. The ledger slot is
// reserved before any order so a concurrent signal for the same key is
// rejected as a duplicate while this order is in flight. On a one-way venue
// the reservation also refuses an entry while the opposite direction holds
// the instrument, since the exchange would net the two.
func (e *Engine) openPosition(ctx context.Context, symbol string, dir types.Direction, price float64) (types.Position, error) {
	key := types.PositionKey{Instrument: symbol, Direction: dir}
	now := e.now()

	m, err := e.brk.Market(ctx, symbol)
	if err != nil {
		return types.Position{}, fmt.Errorf("market info %s: %w", symbol, err)
	}
	if err := e.ledger.reserve(key, now, m.OneWay); err != nil {
		if errors.Is(err, types.ErrOppositePosition) {
			logger.Risk(ctx, symbol, "OPPOSITE_POSITION", "direction", dir)
		} else {
			logger.Risk(ctx, symbol, "DUPLICATE_POSITION", "direction", dir)
		}
		return types.Position{}, err
	}
	committed := false
	defer func() {
		if !committed {
			e.ledger.release(key)
		}
	}()

	intent, err := e.risk.approve(ctx, key, price, m, now)
	if err != nil {
		e.notifyRejection(ctx, key, err)
		return types.Position{}, err
	}

	if e.risk.balanceFraction > 0 {
		asset := m.QuoteAsset
		if asset == "" {
			asset = e.cfg.Exchange.QuoteAsset
		}
		free, err := e.brk.FreeBalance(ctx, asset)
		if err != nil {
			return types.Position{}, fmt.Errorf("fetch %s balance: %w", asset, err)
		}
		if err := e.risk.checkBalance(intent.Notional(), free); err != nil {
			logger.Risk(ctx, symbol, "INSUFFICIENT_BALANCE", "notional", intent.Notional(), "free", free)
			e.notifyRejection(ctx, key, err)
			return types.Position{}, err
		}
	}

	fill, err := e.orders.open(ctx, intent)
	if err != nil {
		e.notifier.Notify(ctx, fmt.Sprintf("Entry order failed for %s %s: %v", symbol, dir, err), types.SeverityError)
		return types.Position{}, err
	}

	entry := fill.Price
	if entry <= 0 {
		entry = price
	}
	qty := fill.Quantity
	if qty <= 0 {
		qty = intent.Quantity
	}
	tp, sl := e.stops.levels(dir, entry)
	pos := types.Position{
		Instrument: symbol,
		Direction:  dir,
		EntryPrice: entry,
		Quantity:   qty,
		TakeProfit: tp,
		StopLoss:   sl,
		OrderID:    fill.OrderID,
		OpenedAt:   now,
	}
	e.ledger.commit(pos)
	committed = true
	pos.State = types.StateOpen
	e.persistPositions(ctx)

	e.orders.record(ctx, types.TradeRecord{
		Kind:       types.KindEntry,
		Instrument: symbol,
		Direction:  dir,
		Side:       dir.EntrySide(),
		Quantity:   qty,
		Price:      entry,
		Reason:     types.ReasonSignal,
		OrderID:    fill.OrderID,
		OpenedAt:   now,
	})
	e.notifier.Notify(ctx, formatEntry(pos), types.SeveritySuccess)
	return pos, nil
}

func (e *Engine) notifyRejection(ctx context.Context, key types.PositionKey, err error) {
	switch {
	case errors.Is(err, types.ErrDailyLossLimit):
		if e.risk.shouldAlertLimit(e.now()) {
			e.notifier.Notify(ctx, "Daily loss limit reached, new entries paused until tomorrow", types.SeverityWarn)
		}
	case errors.Is(err, types.ErrBelowMinNotional), errors.Is(err, types.ErrInsufficientBalance):
		e.notifier.Notify(ctx, fmt.Sprintf("Entry %s skipped: %v", key, err), types.SeverityWarn)
	}
}

// persistPositions writes the ledger. Snapshots are taken and written under
// persistMu so a slower older snapshot never overwrites a newer one.
func (e *Engine) persistPositions(ctx context.Context) {
	if e.store == nil {
		return
	}
	e.persistMu.Lock()
	defer e.persistMu.Unlock()

	ps, seq := e.ledger.persistable()
	if seq <= e.savedSeq {
		return
	}
	if err := e.store.SavePositions(ctx, seq, ps); err != nil {
		logger.WarnWithErr(ctx, "Failed to persist positions", err, "seq", seq)
		return
	}
	e.savedSeq = seq
}

func (e *Engine) persistStats(ctx context.Context, s types.Stats) {
	if e.store == nil {
		return
	}
	if err := e.store.SaveStats(ctx, s); err != nil {
		logger.WarnWithErr(ctx, "Failed to persist stats", err)
	}
}

func (e *Engine) Positions() []types.Position {
	ps, _ := e.ledger.snapshot()
	return ps
}

func (e *Engine) Stats() types.Stats {
	return e.risk.snapshot(e.now())
}

func (e *Engine) Stake() float64 {
	return e.risk.getStake()
}

func (e *Engine) AdjustStake(delta float64) (float64, error) {
	return e.risk.adjustStake(delta)
}

func (e *Engine) Status() types.Status {
	now := e.now()
	return types.Status{
		Running:      e.Running(),
		Mode:         e.cfg.Mode,
		Symbols:      append([]string(nil), e.cfg.Symbols...),
		Stake:        e.risk.getStake(),
		Positions:    e.Positions(),
		Stats:        e.risk.snapshot(now),
		DailyLimit:   e.cfg.Risk.DailyLossLimit,
		LimitReached: e.risk.limitReached(now),
	}
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, string, types.Severity)      {}
func (nopNotifier) NotifyMenu(context.Context, string, []types.Button) {}
