package engine

import (
	"context"
	"errors"
	"time"

	"sma-trading-bot/internal/logger"
	"sma-trading-bot/internal/types"
)

var ErrNotRunning = errors.New("engine is not running")

// Start reconciles the ledger and launches the signal and monitor loops.
// The loops work on a context detached from ctx so that exchange calls in
// flight run to completion; they exit only through Stop.
func (e *Engine) Start(ctx context.Context) error {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.running {
		return nil
	}

	base := context.WithoutCancel(ctx)
	if _, err := e.Reconcile(base); err != nil {
		// already logged and notified; trading continues on the local ledger
		logger.Warn(ctx, "Starting with unreconciled ledger")
	}

	stop := make(chan struct{})
	e.stopCh = stop
	e.running = true

	e.wg.Add(2)
	go e.runLoop(base, stop, "signal", e.cfg.SignalInterval.Duration, e.signalTick)
	go e.runLoop(base, stop, "monitor", e.cfg.MonitorInterval.Duration, e.Monitor)

	logger.Info(ctx, "Engine started", "symbols", e.cfg.Symbols, "mode", e.cfg.Mode)
	e.notifier.Notify(ctx, "Bot started", types.SeverityInfo)
	return nil
}

// Stop signals both loops and waits for them to finish their current pass.
func (e *Engine) Stop(ctx context.Context) error {
	e.runMu.Lock()
	if !e.running {
		e.runMu.Unlock()
		return ErrNotRunning
	}
	close(e.stopCh)
	e.running = false
	e.runMu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	logger.Info(ctx, "Engine stopped")
	e.notifier.Notify(ctx, "Bot stopped", types.SeverityInfo)
	return nil
}

func (e *Engine) Running() bool {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	return e.running
}

func (e *Engine) signalTick(ctx context.Context) error {
	var errs []error
	for _, symbol := range e.cfg.Symbols {
		if _, err := e.Step(ctx, symbol); err != nil {
			logger.ErrorWithErr(ctx, "Signal step failed", err, "symbol", symbol)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// runLoop calls tick every interval until stop is closed. Consecutive
// transient failures stretch the wait; other failures are logged by the
// tick and do not slow the loop.
func (e *Engine) runLoop(ctx context.Context, stop <-chan struct{}, name string, every time.Duration, tick func(context.Context) error) {
	defer e.wg.Done()

	timer := time.NewTimer(0)
	defer timer.Stop()

	failures := 0
	bo := newLoopBackoff()
	for {
		select {
		case <-stop:
			logger.Debug(ctx, "Loop exiting", "loop", name)
			return
		case <-timer.C:
		}
		select {
		case <-stop:
			return
		default:
		}

		wait := every
		if err := tick(ctx); err != nil && types.IsTransient(err) {
			failures++
			wait += bo.NextBackOff()
			logger.Warn(ctx, "Transient failure, backing off", "loop", name, "failures", failures, "next_in", wait.String())
		} else if failures > 0 {
			failures = 0
			bo.Reset()
		}
		timer.Reset(wait)
	}
}
