package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"sma-trading-bot/internal/engine"
	"sma-trading-bot/internal/logger"
	"sma-trading-bot/internal/trace"
)

const shutdownTimeout = 20 * time.Second

func main() {
	cmd := &cli.Command{
		Name:  "bot",
		Usage: "SMA/RSI trading agent with position lifecycle management",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the config file (.yaml or .toml)",
				Value:   "config.yaml",
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "dotenv file holding API keys and other secrets",
				Value: ".env",
			},
			&cli.BoolFlag{
				Name:  "paused",
				Usage: "restore state but wait for a start command before trading",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return run(ctx, cmd.String("config"), cmd.String("env-file"), cmd.Bool("paused"))
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "bot: %v\n", err)
		os.Exit(1)
	}
}

func run(parent context.Context, configPath, envFile string, paused bool) error {
	if err := initializeSystem(envFile); err != nil {
		return err
	}
	defer shutdownSystem()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(ctx, configPath)
	if err != nil {
		return err
	}
	logger.Info(ctx, "Config loaded", "path", configPath, "mode", cfg.Mode, "provider", cfg.Exchange.Provider, "symbols", cfg.Symbols)

	bot, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer bot.close()

	if err := bot.eng.Restore(ctx); err != nil {
		logger.WarnWithErr(ctx, "Starting with an empty ledger", err)
	}
	if bot.paper != nil {
		bot.paper.Seed(bot.eng.Positions())
	}

	if paused {
		logger.Info(ctx, "Started paused, waiting for a start command")
		_, _ = bot.ctl.Handle(ctx, "menu")
	} else if err := bot.eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	if bot.srv != nil {
		g.Go(bot.srv.Serve)
	}
	if bot.eod != nil {
		g.Go(func() error {
			bot.runEOD(gctx)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info(ctx, "Shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := bot.eng.Stop(sctx); err != nil && !errors.Is(err, engine.ErrNotRunning) {
			logger.WarnWithErr(sctx, "Engine did not stop cleanly", err)
		}
		if bot.srv != nil {
			if err := bot.srv.Shutdown(sctx); err != nil {
				logger.WarnWithErr(sctx, "HTTP server shutdown failed", err)
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func shutdownSystem() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = trace.Shutdown(ctx)
	_ = logger.Shutdown(ctx)
}
