package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"sma-trading-bot/internal/store"
	"sma-trading-bot/internal/types"
)

type EngineTestSuite struct {
	suite.Suite

	ctx      context.Context
	cfg      *store.Config
	broker   *fakeBroker
	journal  *fakeJournal
	notifier *fakeNotifier
	store    *memStore
	clock    *clock
	engine   *Engine
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineTestSuite))
}

func (s *EngineTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.cfg = testConfig()
	s.broker = newFakeBroker()
	s.journal = &fakeJournal{}
	s.notifier = &fakeNotifier{}
	s.store = &memStore{}
	s.clock = &clock{t: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	s.rebuild()
}

func (s *EngineTestSuite) rebuild() {
	s.engine = newEngine(s.cfg, s.broker,
		WithJournal(s.journal),
		WithNotifier(s.notifier),
		WithStateStore(s.store),
		WithClock(s.clock.now),
	)
}

func (s *EngineTestSuite) open(dir types.Direction, price float64) types.Position {
	s.broker.setPrice(sym, price)
	p, err := s.engine.openPosition(s.ctx, sym, dir, price)
	s.Require().NoError(err)
	return p
}

func (s *EngineTestSuite) TestEntryLevelsAndStopLossClose() {
	p := s.open(types.Long, 100)
	s.InDelta(102.0, p.TakeProfit, 1e-9)
	s.InDelta(99.0, p.StopLoss, 1e-9)
	s.Equal(types.StateOpen, p.State)

	s.broker.setPrice(sym, 99)
	s.Require().NoError(s.engine.Monitor(s.ctx))

	s.Empty(s.engine.Positions())
	st := s.engine.Stats()
	s.Equal(1, st.Losses)
	s.Equal(0, st.Wins)
	s.InDelta(1.0, st.DailyLoss, 1e-9)
	s.InDelta(-1.0, st.RealizedPnL, 1e-9)

	recs := s.journal.all()
	s.Require().Len(recs, 2)
	s.Equal(types.KindEntry, recs[0].Kind)
	s.Equal(types.KindExit, recs[1].Kind)
	s.Equal(types.ReasonStopLoss, recs[1].Reason)
	s.Equal(types.SideSell, recs[1].Side)
	s.InDelta(-1.0, recs[1].PnL, 1e-9)

	s.Empty(s.store.positions)
	s.Equal(1, s.store.stats.Losses)
}

func (s *EngineTestSuite) TestTakeProfitIsWin() {
	s.open(types.Long, 100)
	s.broker.setPrice(sym, 102.5)
	s.Require().NoError(s.engine.Monitor(s.ctx))

	st := s.engine.Stats()
	s.Equal(1, st.Wins)
	s.Zero(st.DailyLoss)
}

func (s *EngineTestSuite) TestShortLevels() {
	p := s.open(types.Short, 100)
	s.InDelta(98.0, p.TakeProfit, 1e-9)
	s.InDelta(101.0, p.StopLoss, 1e-9)

	s.broker.setPrice(sym, 100.5)
	s.Require().NoError(s.engine.Monitor(s.ctx))
	s.Len(s.engine.Positions(), 1)

	s.broker.setPrice(sym, 101)
	s.Require().NoError(s.engine.Monitor(s.ctx))
	s.Empty(s.engine.Positions())
	s.Equal(types.SideBuy, s.broker.orders[1].Side)
	s.True(s.broker.orders[1].ReduceOnly)
}

func (s *EngineTestSuite) TestDuplicateEntryRejected() {
	s.open(types.Long, 100)

	_, err := s.engine.openPosition(s.ctx, sym, types.Long, 100)
	s.ErrorIs(err, types.ErrDuplicatePosition)
	s.Equal(1, s.broker.orderCount())

	// the other direction is a different slot
	_, err = s.engine.openPosition(s.ctx, sym, types.Short, 100)
	s.NoError(err)
}

func (s *EngineTestSuite) TestOneWayVenueRejectsOppositeEntry() {
	s.broker.market.OneWay = true
	s.open(types.Long, 100)

	_, err := s.engine.openPosition(s.ctx, sym, types.Short, 100)
	s.ErrorIs(err, types.ErrOppositePosition)
	s.True(types.IsRejection(err))
	s.Equal(1, s.broker.orderCount(), "no order reaches a netting venue")
	s.Len(s.engine.Positions(), 1)

	// once the long is flat the short is allowed
	s.broker.setPrice(sym, 102)
	s.Require().NoError(s.engine.Monitor(s.ctx))
	_, err = s.engine.openPosition(s.ctx, sym, types.Short, 102)
	s.NoError(err)
}

func (s *EngineTestSuite) TestConcurrentEntriesOpenOnce() {
	s.broker.setPrice(sym, 100)

	const n = 64
	var (
		wg    sync.WaitGroup
		ok    atomic.Int32
		dups  atomic.Int32
		start = make(chan struct{})
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := s.engine.openPosition(s.ctx, sym, types.Long, 100)
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, types.ErrDuplicatePosition):
				dups.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	s.Equal(int32(1), ok.Load())
	s.Equal(int32(n-1), dups.Load())
	s.Equal(1, s.broker.orderCount())
	s.Len(s.engine.Positions(), 1)
}

func (s *EngineTestSuite) TestConcurrentClosersExitOnce() {
	s.open(types.Long, 100)
	s.broker.setPrice(sym, 99) // at the stop, so the monitor wants out too

	const pairs = 32
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
	)
	for range pairs {
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			_ = s.engine.Monitor(s.ctx)
		}()
		go func() {
			defer wg.Done()
			<-start
			_, _ = s.engine.CloseAll(s.ctx)
		}()
	}
	close(start)
	wg.Wait()

	s.Equal(2, s.broker.orderCount(), "one entry and one exit")
	s.Empty(s.engine.Positions())
	st := s.engine.Stats()
	s.Equal(1, st.Losses)
	s.Zero(st.Wins)
	s.InDelta(1.0, st.DailyLoss, 1e-9)

	exits := 0
	for _, r := range s.journal.all() {
		if r.Kind == types.KindExit {
			exits++
		}
	}
	s.Equal(1, exits)
}

func (s *EngineTestSuite) TestDailyLossLimit() {
	now := s.clock.now()
	s.engine.risk.recordClose(types.ReasonStopLoss, -60, now)
	s.False(s.engine.risk.limitReached(now))

	s.engine.risk.recordClose(types.ReasonStopLoss, -45, now)
	s.InDelta(105.0, s.engine.Stats().DailyLoss, 1e-9)

	s.broker.setPrice(sym, 100)
	_, err := s.engine.openPosition(s.ctx, sym, types.Long, 100)
	s.ErrorIs(err, types.ErrDailyLossLimit)
	_, err = s.engine.openPosition(s.ctx, sym, types.Short, 100)
	s.ErrorIs(err, types.ErrDailyLossLimit)
	s.Zero(s.broker.orderCount(), "no order is attempted past the limit")
	s.Empty(s.engine.Positions(), "the rejected reservation is released")

	s.clock.advance(24 * time.Hour)
	_, err = s.engine.openPosition(s.ctx, sym, types.Long, 100)
	s.NoError(err)
}

func (s *EngineTestSuite) TestLimitStillLetsPositionsClose() {
	s.open(types.Long, 100)
	s.engine.risk.recordClose(types.ReasonStopLoss, -150, s.clock.now())

	s.broker.setPrice(sym, 102)
	s.Require().NoError(s.engine.Monitor(s.ctx))
	s.Empty(s.engine.Positions())
}

func (s *EngineTestSuite) TestBelowMinNotional() {
	s.broker.market.MinNotional = 500
	s.broker.setPrice(sym, 100)
	_, err := s.engine.openPosition(s.ctx, sym, types.Long, 100)
	s.ErrorIs(err, types.ErrBelowMinNotional)
	s.Empty(s.engine.Positions())
	s.NotEmpty(s.notifier.all())
}

func (s *EngineTestSuite) TestInsufficientBalance() {
	s.broker.balance = 150 // half is 75 < 100
	s.broker.setPrice(sym, 100)
	_, err := s.engine.openPosition(s.ctx, sym, types.Long, 100)
	s.ErrorIs(err, types.ErrInsufficientBalance)
	s.Zero(s.broker.orderCount())
	s.Empty(s.engine.Positions())
}

func (s *EngineTestSuite) TestTrailingStopNeverLoosens() {
	s.cfg.Exit.Trailing = true
	s.cfg.Exit.TrailingPct = 1
	s.cfg.Exit.TakeProfitPct = 50
	s.rebuild()

	s.open(types.Long, 100)
	key := types.PositionKey{Instrument: sym, Direction: types.Long}

	prev := 0.0
	for _, price := range []float64{100.5, 101, 103, 102, 104, 103.5} {
		s.broker.setPrice(sym, price)
		s.Require().NoError(s.engine.Monitor(s.ctx))
		p, ok := s.engine.ledger.get(key)
		s.Require().True(ok, "closed at %v", price)
		s.GreaterOrEqual(p.EffectiveStop(), prev, "price %v", price)
		prev = p.EffectiveStop()
	}
	s.InDelta(104.0*0.99, prev, 1e-9)
	s.InDelta(99.0, s.store.positions[0].StopLoss, 1e-9, "initial stop is kept")

	s.broker.setPrice(sym, 102.9)
	s.Require().NoError(s.engine.Monitor(s.ctx))
	s.Empty(s.engine.Positions())
	s.Equal(1, s.engine.Stats().Losses, "trailing exits count as stop-loss")
}

func (s *EngineTestSuite) TestCloseFailureKeepsPosition() {
	s.open(types.Long, 100)
	s.broker.orderErr = types.Transient(errors.New("timeout"))
	s.broker.setPrice(sym, 98)

	err := s.engine.Monitor(s.ctx)
	s.Error(err)
	s.True(types.IsTransient(err))

	ps := s.engine.Positions()
	s.Require().Len(ps, 1)
	s.Equal(types.StateOpen, ps[0].State)
	s.Zero(s.engine.Stats().Losses)
	s.Zero(s.engine.Stats().DailyLoss)

	s.broker.orderErr = nil
	s.Require().NoError(s.engine.Monitor(s.ctx))
	s.Empty(s.engine.Positions())
	s.Equal(1, s.engine.Stats().Losses)
}

func (s *EngineTestSuite) TestManualCloseClassifiedBySign() {
	s.open(types.Long, 100)
	s.broker.setPrice(sym, 99.5)
	rec, err := s.engine.ClosePosition(s.ctx, types.PositionKey{Instrument: sym, Direction: types.Long}, types.ReasonManual)
	s.Require().NoError(err)
	s.Equal(types.ReasonManual, rec.Reason)
	s.InDelta(-0.5, rec.PnL, 1e-9)

	st := s.engine.Stats()
	s.Equal(1, st.Losses)
	s.InDelta(0.5, st.DailyLoss, 1e-9)

	_, err = s.engine.ClosePosition(s.ctx, types.PositionKey{Instrument: sym, Direction: types.Long}, types.ReasonManual)
	s.ErrorIs(err, types.ErrPositionNotFound)
}

func (s *EngineTestSuite) TestCloseAll() {
	s.cfg.Symbols = []string{sym, "ADA/USDT"}
	s.rebuild()
	s.open(types.Long, 100)
	s.broker.setPrice("ADA/USDT", 50)
	_, err := s.engine.openPosition(s.ctx, "ADA/USDT", types.Short, 50)
	s.Require().NoError(err)

	recs, err := s.engine.CloseAll(s.ctx)
	s.Require().NoError(err)
	s.Len(recs, 2)
	s.Empty(s.engine.Positions())
}

func (s *EngineTestSuite) TestReconcileIsIdempotent() {
	s.open(types.Long, 100)
	s.broker.positions = []types.ExchangePosition{
		{Instrument: sym, Direction: types.Short, Size: 3, EntryPrice: 200},
		{Instrument: "XRP/USDT", Direction: types.Long, Size: 1, EntryPrice: 1},
	}

	rep, err := s.engine.Reconcile(s.ctx)
	s.Require().NoError(err)
	s.Equal([]types.PositionKey{{Instrument: sym, Direction: types.Long}}, rep.Removed)
	s.Equal([]types.PositionKey{{Instrument: sym, Direction: types.Short}}, rep.Adopted)

	first := s.engine.Positions()
	s.Require().Len(first, 1)
	s.InDelta(196.0, first[0].TakeProfit, 1e-9)
	s.InDelta(202.0, first[0].StopLoss, 1e-9)
	s.Equal(3.0, first[0].Quantity)

	rep, err = s.engine.Reconcile(s.ctx)
	s.Require().NoError(err)
	s.Empty(rep.Removed)
	s.Empty(rep.Adopted)
	s.Equal(first, s.engine.Positions())
}

func (s *EngineTestSuite) TestReconcileNoRebuildWhenLedgerNotEmpty() {
	s.open(types.Long, 100)
	s.broker.positions = []types.ExchangePosition{
		{Instrument: sym, Direction: types.Long, Size: 1, EntryPrice: 100},
		{Instrument: sym, Direction: types.Short, Size: 1, EntryPrice: 100},
	}
	rep, err := s.engine.Reconcile(s.ctx)
	s.Require().NoError(err)
	s.Empty(rep.Removed)
	s.Empty(rep.Adopted)
	s.Len(s.engine.Positions(), 1)
}

func (s *EngineTestSuite) TestReconcileFailureLeavesLedger() {
	s.open(types.Long, 100)
	s.broker.positionsErr = errors.New("exchange down")

	_, err := s.engine.Reconcile(s.ctx)
	s.Error(err)
	s.Len(s.engine.Positions(), 1)
	s.Contains(s.notifier.all()[len(s.notifier.all())-1], "Sync failed")
}

func (s *EngineTestSuite) TestReconcileSkipsInFlight() {
	key := types.PositionKey{Instrument: sym, Direction: types.Long}
	s.Require().NoError(s.engine.ledger.reserve(key, s.clock.now(), false))

	rep, err := s.engine.Reconcile(s.ctx)
	s.Require().NoError(err)
	s.Empty(rep.Removed)
	_, ok := s.engine.ledger.get(key)
	s.True(ok)
}

func (s *EngineTestSuite) TestStepEntersOnCrossover() {
	s.broker.candles[sym] = candlesFromCloses(10, 10, 10, 10, 10, 10, 9, 9, 12, 11.5)
	s.broker.setPrice(sym, 11.5)

	res, err := s.engine.Step(s.ctx, sym)
	s.Require().NoError(err)
	s.Equal(types.SignalLong, res.Signal)
	s.Require().NotNil(res.Position)
	s.Equal(11.5, res.Position.EntryPrice)
	s.Equal(1, s.broker.orderCount())

	// same candle polled again
	res, err = s.engine.Step(s.ctx, sym)
	s.Require().NoError(err)
	s.Equal(types.SignalNone, res.Signal)
	s.Equal(1, s.broker.orderCount())
}

func (s *EngineTestSuite) TestStepShortHistoryIsNotAnError() {
	s.broker.candles[sym] = candlesFromCloses(10, 11, 12)
	res, err := s.engine.Step(s.ctx, sym)
	s.Require().NoError(err)
	s.Equal(types.SignalNone, res.Signal)
	s.Equal("insufficient data", res.Reason)
}

func (s *EngineTestSuite) TestRestore() {
	s.store.positions = []types.Position{
		{Instrument: sym, Direction: types.Long, EntryPrice: 100, Quantity: 1, TakeProfit: 102, StopLoss: 99, State: types.StateClosing},
	}
	s.store.stats = types.Stats{Wins: 3, Losses: 2, LossDay: "2026-03-02", DailyLoss: 40}

	s.Require().NoError(s.engine.Restore(s.ctx))
	ps := s.engine.Positions()
	s.Require().Len(ps, 1)
	s.Equal(types.StateOpen, ps[0].State)
	st := s.engine.Stats()
	s.Equal(3, st.Wins)
	s.InDelta(40.0, st.DailyLoss, 1e-9)

	s.clock.advance(24 * time.Hour)
	s.Zero(s.engine.Stats().DailyLoss)
	s.Equal(3, s.engine.Stats().Wins)
}

func (s *EngineTestSuite) TestStartStop() {
	s.Require().NoError(s.engine.Start(s.ctx))
	s.True(s.engine.Running())
	s.Require().NoError(s.engine.Start(s.ctx), "second start is a no-op")

	ctx, cancel := context.WithTimeout(s.ctx, 2*time.Second)
	defer cancel()
	s.Require().NoError(s.engine.Stop(ctx))
	s.False(s.engine.Running())
	s.ErrorIs(s.engine.Stop(ctx), ErrNotRunning)
}

func (s *EngineTestSuite) TestAdjustStake() {
	v, err := s.engine.AdjustStake(2)
	s.Require().NoError(err)
	s.Equal(3.0, v)

	_, err = s.engine.AdjustStake(-3)
	s.Error(err)
	s.Equal(3.0, s.engine.Stake())
}

func TestLoopBackoff(t *testing.T) {
	bo := newLoopBackoff()
	want := []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 32 * time.Second, 64 * time.Second, maxBackoff, maxBackoff,
	}
	for i, w := range want {
		if got := bo.NextBackOff(); got != w {
			t.Errorf("failure %d: wait %v, want %v", i+1, got, w)
		}
	}

	bo.Reset()
	if got := bo.NextBackOff(); got != time.Second {
		t.Errorf("after reset: wait %v, want 1s", got)
	}
}
