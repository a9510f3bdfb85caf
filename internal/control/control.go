// Package control turns operator text commands into engine operations.
package control

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"sma-trading-bot/internal/engine"
	"sma-trading-bot/internal/interfaces"
	"sma-trading-bot/internal/logger"
	"sma-trading-bot/internal/types"
)

var ErrNotRecognized = errors.New("command not recognized")

var menu = []types.Button{
	{Text: "▶️ Start", Command: "start"},
	{Text: "⏹ Stop", Command: "stop"},
	{Text: "📊 Status", Command: "status"},
	{Text: "📈 Stats", Command: "stats"},
	{Text: "📋 Positions", Command: "positions"},
	{Text: "🔄 Sync", Command: "sync"},
	{Text: "➕ Stake", Command: "increase"},
	{Text: "➖ Stake", Command: "decrease"},
	{Text: "🚪 Close all", Command: "closeall"},
}

type Controller struct {
	eng       interfaces.Engine
	notifier  interfaces.Notifier
	stakeStep float64
	stopWait  time.Duration
}

func New(eng interfaces.Engine, notifier interfaces.Notifier, stakeStep float64) *Controller {
	return &Controller{eng: eng, notifier: notifier, stakeStep: stakeStep, stopWait: 30 * time.Second}
}

// Handle runs one command and returns the reply. Replies are also sent to
// the notifier unless the engine already announced the outcome itself.
func (c *Controller) Handle(ctx context.Context, input string) (string, error) {
	token, args := parse(input)
	logger.Info(ctx, "Command received", "command", token, "args", args)

	var (
		reply  string
		err    error
		silent bool
	)
	switch token {
	case "start":
		reply, silent, err = c.start(ctx, args)
	case "stop":
		reply, silent, err = c.stop(ctx, args)
	case "status":
		reply, err = noArgs(args, c.status)
	case "increase":
		reply, err = c.adjust(args, 1)
	case "decrease":
		reply, err = c.adjust(args, -1)
	case "sync":
		reply, silent, err = c.sync(ctx, args)
	case "closeall":
		reply, err = c.closeAll(ctx, args)
	case "stats":
		reply, err = noArgs(args, c.stats)
	case "positions":
		reply, err = noArgs(args, c.positions)
	case "menu":
		if len(args) != 0 {
			err = ErrNotRecognized
			break
		}
		c.notifier.NotifyMenu(ctx, "Choose an action:", menu)
		return "menu sent", nil
	default:
		err = ErrNotRecognized
	}

	if errors.Is(err, ErrNotRecognized) {
		reply = fmt.Sprintf("Command not recognized: %q", strings.TrimSpace(input))
		c.notifier.Notify(ctx, reply, types.SeverityWarn)
		return reply, err
	}
	if err != nil {
		if !silent {
			c.notifier.Notify(ctx, reply, types.SeverityError)
		}
		return reply, err
	}
	if !silent {
		c.notifier.Notify(ctx, reply, types.SeverityInfo)
	}
	return reply, nil
}

// parse splits the token from its arguments. A leading slash and a
// @botname suffix, as chat clients send them, are dropped.
func parse(input string) (string, []string) {
	fields := strings.Fields(input)
	if len(fields) == 0 {
		return "", nil
	}
	token := strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(token, '@'); i > 0 {
		token = token[:i]
	}
	return token, fields[1:]
}

func noArgs(args []string, f func() string) (string, error) {
	if len(args) != 0 {
		return "", ErrNotRecognized
	}
	return f(), nil
}

func (c *Controller) start(ctx context.Context, args []string) (string, bool, error) {
	if len(args) != 0 {
		return "", false, ErrNotRecognized
	}
	if c.eng.Running() {
		return "Bot is already running", false, nil
	}
	if err := c.eng.Start(ctx); err != nil {
		return "Start failed: " + err.Error(), false, err
	}
	return "Bot started", true, nil
}

func (c *Controller) stop(ctx context.Context, args []string) (string, bool, error) {
	if len(args) != 0 {
		return "", false, ErrNotRecognized
	}
	ctx, cancel := context.WithTimeout(ctx, c.stopWait)
	defer cancel()
	err := c.eng.Stop(ctx)
	if errors.Is(err, engine.ErrNotRunning) {
		return "Bot is not running", false, nil
	}
	if err != nil {
		return "Stop failed: " + err.Error(), false, err
	}
	return "Bot stopped", true, nil
}

func (c *Controller) adjust(args []string, sign float64) (string, error) {
	amount := c.stakeStep
	switch len(args) {
	case 0:
	case 1:
		v, err := strconv.ParseFloat(args[0], 64)
		if err != nil || v <= 0 {
			return "", ErrNotRecognized
		}
		amount = v
	default:
		return "", ErrNotRecognized
	}

	stake, err := c.eng.AdjustStake(sign * amount)
	if err != nil {
		return fmt.Sprintf("Stake unchanged: %v", err), err
	}
	return fmt.Sprintf("Stake amount: %s", fmtNum(stake)), nil
}

// sync failures are notified by the engine.
func (c *Controller) sync(ctx context.Context, args []string) (string, bool, error) {
	if len(args) != 0 {
		return "", false, ErrNotRecognized
	}
	rep, err := c.eng.Reconcile(ctx)
	if err != nil {
		return "Sync failed: " + err.Error(), true, err
	}
	return fmt.Sprintf("Sync done: %d removed, %d adopted, %d open",
		len(rep.Removed), len(rep.Adopted), len(c.eng.Positions())), false, nil
}

func (c *Controller) closeAll(ctx context.Context, args []string) (string, error) {
	if len(args) != 0 {
		return "", ErrNotRecognized
	}
	recs, err := c.eng.CloseAll(ctx)
	var pnl float64
	for _, r := range recs {
		pnl += r.PnL
	}
	reply := fmt.Sprintf("Closed %d position(s), PnL %s", len(recs), fmtNum(pnl))
	if err != nil {
		reply += fmt.Sprintf("; %d still open", len(c.eng.Positions()))
	}
	return reply, err
}

func (c *Controller) status() string {
	st := c.eng.Status()
	state := "stopped"
	if st.Running {
		state = "running"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Bot %s (%s)\n", state, st.Mode)
	fmt.Fprintf(&b, "Symbols: %s\n", strings.Join(st.Symbols, ", "))
	fmt.Fprintf(&b, "Stake: %s\n", fmtNum(st.Stake))
	fmt.Fprintf(&b, "Open positions: %d\n", len(st.Positions))
	fmt.Fprintf(&b, "Daily loss: %s / %s", fmtNum(st.Stats.DailyLoss), fmtNum(st.DailyLimit))
	if st.LimitReached {
		b.WriteString(" (limit reached, entries paused)")
	}
	return b.String()
}

func (c *Controller) stats() string {
	st := c.eng.Stats()
	total := st.Wins + st.Losses
	rate := 0.0
	if total > 0 {
		rate = float64(st.Wins) / float64(total) * 100
	}
	return fmt.Sprintf("Wins: %d | Losses: %d | Win rate: %.1f%% | Realized PnL: %s",
		st.Wins, st.Losses, rate, fmtNum(st.RealizedPnL))
}

func (c *Controller) positions() string {
	ps := c.eng.Positions()
	if len(ps) == 0 {
		return "No open positions"
	}
	var b strings.Builder
	for i, p := range ps {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s %s qty %s @ %s | TP %s | SL %s",
			p.Instrument, p.Direction, fmtNum(p.Quantity), fmtNum(p.EntryPrice),
			fmtNum(p.TakeProfit), fmtNum(p.EffectiveStop()))
		if p.State != types.StateOpen {
			fmt.Fprintf(&b, " [%s]", p.State)
		}
	}
	return b.String()
}

func fmtNum(v float64) string {
	return decimal.NewFromFloat(v).Round(8).String()
}
