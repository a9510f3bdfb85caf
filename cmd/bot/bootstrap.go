package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"sma-trading-bot/internal/broker/binance"
	"sma-trading-bot/internal/broker/brokerobs"
	"sma-trading-bot/internal/broker/paper"
	"sma-trading-bot/internal/broker/zerodha"
	"sma-trading-bot/internal/control"
	"sma-trading-bot/internal/engine"
	"sma-trading-bot/internal/engine/engineobs"
	"sma-trading-bot/internal/eod"
	"sma-trading-bot/internal/eod/eodobs"
	"sma-trading-bot/internal/interfaces"
	"sma-trading-bot/internal/logger"
	"sma-trading-bot/internal/notify"
	"sma-trading-bot/internal/persist/filestore"
	"sma-trading-bot/internal/persist/pgstore"
	"sma-trading-bot/internal/persist/redisstore"
	"sma-trading-bot/internal/server"
	"sma-trading-bot/internal/store"
	"sma-trading-bot/internal/trace"
	"sma-trading-bot/internal/tradelog"
	"sma-trading-bot/internal/types"
)

const lockTTL = 30 * time.Second

// initializeSystem loads the env file and brings up the logger and tracer.
func initializeSystem(envFile string) error {
	// a missing .env is fine; secrets may come from the real environment
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Failed to read %s: %v\n", envFile, err)
	}

	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := trace.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize tracer: %v\n", err)
	}
	return nil
}

func loadConfig(ctx context.Context, path string) (*store.Config, error) {
	cfg, err := store.LoadConfig(path)
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to load config", err, "path", path)
		return nil, err
	}
	return cfg, nil
}

// app holds everything main wires together and has to tear down.
type app struct {
	cfg      *store.Config
	brk      interfaces.Broker
	paper    *paper.Broker
	eng      interfaces.Engine
	ctl      *control.Controller
	notifier *notify.Queue
	srv      *server.Server
	eod      interfaces.EodSummarizer
	archiver *tradelog.Archiver
	journal  *tradelog.Journal

	closers []func(ctx context.Context)
}

func buildApp(ctx context.Context, cfg *store.Config) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	notifier, telegram := initializeNotifier(ctx, cfg)
	a.notifier = notifier
	a.closers = append(a.closers, func(ctx context.Context) {
		if err := notifier.Close(ctx); err != nil {
			logger.WarnWithErr(ctx, "Notification queue not drained", err)
		}
	})

	brk, feed, err := a.initializeBroker(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.brk = brk
	a.closers = append(a.closers, brk.Stop)

	a.journal = tradelog.NewJournal(cfg.TradesFile)
	state, journal, err := a.initializeStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	opts := []engine.Option{
		engine.WithNotifier(notifier),
		engine.WithStateStore(state),
		engine.WithJournal(journal),
		engine.WithDecisionLog(tradelog.NewDecisionLog(cfg.LogDir, cfg.Location())),
	}
	if feed != nil {
		opts = append(opts, engine.WithPriceFeed(feed))
	}
	a.eng = initializeEngine(cfg, brk, opts...)
	a.ctl = control.New(a.eng, notifier, cfg.Control.StakeStep)

	if cfg.Server.Enabled {
		srvCfg := server.Config{
			Addr:          cfg.Server.Addr,
			WebhookSecret: cfg.Secrets.WebhookSecret,
			ChatID:        cfg.Secrets.TelegramChatID,
			CommandToken:  cfg.Secrets.CommandToken,
		}
		if srvCfg.CommandToken == "" {
			logger.Warn(ctx, "COMMAND_TOKEN is unset, /command and DELETE /positions will answer 401")
		}
		var answerer server.CallbackAnswerer
		if telegram != nil {
			answerer = telegram
		}
		a.srv = server.New(srvCfg, a.eng, a.ctl, answerer)
	}

	if cfg.EOD.Enabled {
		if err := a.initializeEOD(ctx, cfg); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// close runs the teardown hooks in reverse order.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i](ctx)
	}
	a.closers = nil
}

// initializeBroker builds the exchange adapter for the configured provider.
// DRY_RUN wraps it in a paper broker so only market data reaches the venue.
func (a *app) initializeBroker(ctx context.Context, cfg *store.Config) (interfaces.Broker, interfaces.PriceFeed, error) {
	var (
		data interfaces.Broker
		feed interfaces.PriceFeed
	)
	switch cfg.Exchange.Provider {
	case "binance":
		data = binance.New(binance.Config{
			APIKey:     cfg.Secrets.BinanceAPIKey,
			SecretKey:  cfg.Secrets.BinanceSecretKey,
			Testnet:    cfg.Exchange.Testnet,
			QuoteAsset: cfg.Exchange.QuoteAsset,
			Symbols:    cfg.Symbols,
			Timeout:    cfg.Exchange.Timeout.Duration,
		})
		logger.Info(ctx, "Using Binance USDⓈ-M futures", "testnet", cfg.Exchange.Testnet)
	case "zerodha":
		z := zerodha.NewZerodha(zerodha.Params{
			APIKey:       cfg.Secrets.KiteAPIKey,
			AccessToken:  cfg.Secrets.KiteAccessToken,
			Exchange:     cfg.Exchange.ZerodhaExchange,
			Product:      cfg.Exchange.Product,
			Symbols:      cfg.Symbols,
			Timeout:      cfg.Exchange.Timeout.Duration,
			StreamPrices: cfg.Exchange.StreamPrices,
		})
		data, feed = z, z.PriceFeed()
		logger.Info(ctx, "Using Zerodha Kite", "exchange", cfg.Exchange.ZerodhaExchange, "stream_prices", feed != nil)
	default:
		return nil, nil, fmt.Errorf("unknown exchange provider %q", cfg.Exchange.Provider)
	}

	brk := data
	if cfg.Mode == "DRY_RUN" {
		logger.Warn(ctx, "Running in DRY_RUN mode - orders will be simulated", "paper_balance", cfg.Exchange.PaperBalance)
		a.paper = paper.New(data, cfg.Exchange.PaperBalance)
		brk = a.paper
	}

	brk = brokerobs.Wrap(brk, cfg.Exchange.Timeout.Duration)
	if err := brk.Start(ctx, cfg.Symbols); err != nil {
		return nil, nil, fmt.Errorf("start broker: %w", err)
	}
	return brk, feed, nil
}

// initializeStore picks the snapshot backend. The JSON-lines journal is
// always written; postgres adds a second journal in the database.
func (a *app) initializeStore(ctx context.Context, cfg *store.Config) (interfaces.StateStore, interfaces.Journal, error) {
	switch cfg.Persistence.Backend {
	case "redis":
		rdb, err := redisstore.Connect(ctx, redisstore.ClientConfig{
			Addr:     cfg.Secrets.RedisAddr,
			Password: cfg.Secrets.RedisPassword,
			DB:       cfg.Persistence.RedisDB,
		})
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, func(context.Context) { _ = rdb.Close() })

		lock, err := acquireLock(ctx, rdb, cfg.Persistence.RedisKeyPrefix)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, func(context.Context) { lock.Release() })

		logger.Info(ctx, "Using redis state store", "prefix", cfg.Persistence.RedisKeyPrefix)
		return redisstore.New(rdb, cfg.Persistence.RedisKeyPrefix), a.journal, nil

	case "postgres":
		pool, err := pgstore.Connect(ctx, cfg.Secrets.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, func(context.Context) { pool.Close() })

		if err := pgstore.RunMigrations(ctx, pool); err != nil {
			return nil, nil, err
		}
		logger.Info(ctx, "Using postgres state store")
		return pgstore.New(pool), tradelog.Multi{a.journal, pgstore.NewJournal(pool)}, nil

	default:
		logger.Info(ctx, "Using file state store", "positions_file", cfg.PositionsFile, "stats_file", cfg.StatsFile)
		return filestore.New(cfg.PositionsFile, cfg.StatsFile), a.journal, nil
	}
}

func acquireLock(ctx context.Context, rdb redis.UniversalClient, prefix string) (*redisstore.Lock, error) {
	lock, err := redisstore.Acquire(ctx, rdb, prefix, lockTTL)
	if err != nil {
		logger.ErrorWithErr(ctx, "Could not take the state lock", err, "prefix", prefix)
		return nil, err
	}
	return lock, nil
}

// initializeNotifier returns the queue every component notifies through,
// plus the Telegram client when one is configured.
func initializeNotifier(ctx context.Context, cfg *store.Config) (*notify.Queue, *notify.Telegram) {
	if !cfg.Notify.Enabled || cfg.Secrets.TelegramToken == "" || cfg.Secrets.TelegramChatID == "" {
		logger.Info(ctx, "Telegram not configured - notifications go to the log")
		return notify.NewQueue(notify.LogSender{}, cfg.Notify.QueueSize), nil
	}
	tg := notify.NewTelegram(cfg.Secrets.TelegramToken, cfg.Secrets.TelegramChatID)
	return notify.NewQueue(tg, cfg.Notify.QueueSize), tg
}

// initializeEngine builds the trading engine with observability.
func initializeEngine(cfg *store.Config, brk interfaces.Broker, opts ...engine.Option) interfaces.Engine {
	eng := engine.New(cfg, brk, opts...)
	return engineobs.Wrap(eng)
}

// initializeEOD wires the daily summary and, when enabled, the journal
// archive.
func (a *app) initializeEOD(ctx context.Context, cfg *store.Config) error {
	summarizer, err := eod.NewSummarizer(a.journal, cfg.LogDir, cfg.EOD.At, cfg.Location())
	if err != nil {
		return fmt.Errorf("eod: %w", err)
	}
	a.eod = eodobs.Wrap(summarizer)

	if !cfg.Archive.Enabled {
		return nil
	}
	up, err := tradelog.NewS3Uploader(ctx, tradelog.S3Config{
		Bucket:    cfg.Archive.Bucket,
		Region:    cfg.Archive.Region,
		Endpoint:  cfg.Archive.Endpoint,
		AccessKey: cfg.Secrets.S3AccessKey,
		SecretKey: cfg.Secrets.S3SecretKey,
	})
	if err != nil {
		return err
	}
	a.archiver = tradelog.NewArchiver(cfg.LogDir, cfg.Archive.Prefix, cfg.Archive.RetentionDays, up)
	logger.Info(ctx, "Journal archive enabled", "bucket", cfg.Archive.Bucket, "prefix", cfg.Archive.Prefix)
	return nil
}

// runEOD checks once a minute whether the daily summary is due. It writes a
// final summary for the day on shutdown.
func (a *app) runEOD(ctx context.Context) {
	tick := time.NewTicker(time.Minute)
	defer tick.Stop()

	for {
		select {
		case <-tick.C:
			if ok, _ := a.eod.ShouldRunNow(); ok {
				a.summarize(ctx)
			}
		case <-ctx.Done():
			if _, err := a.eod.SummarizeToday(); err != nil {
				logger.WarnWithErr(ctx, "Final EOD summary failed", err)
			}
			return
		}
	}
}

func (a *app) summarize(ctx context.Context) {
	csvPath, err := a.eod.SummarizeToday()
	if err != nil || csvPath == "" {
		return
	}
	a.notifier.Notify(ctx, fmt.Sprintf("EOD summary written: %s", filepath.Base(csvPath)), types.SeveritySuccess)

	if a.archiver == nil {
		return
	}
	actx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	if key, err := a.archiver.UploadFile(actx, csvPath); err != nil {
		logger.WarnWithErr(ctx, "EOD summary upload failed", err, "csv_path", csvPath)
	} else {
		logger.Info(ctx, "EOD summary uploaded", "key", key)
	}
	keys, err := a.archiver.Run(actx, time.Now())
	if err != nil {
		logger.WarnWithErr(ctx, "Log archive incomplete", err, "uploaded", len(keys))
		return
	}
	logger.Info(ctx, "Old logs archived", "uploaded", len(keys))
}
