package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v7"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Mode          string   `yaml:"mode" toml:"mode" validate:"oneof=DRY_RUN LIVE"`
	Symbols       []string `yaml:"symbols" toml:"symbols" validate:"min=1,dive,required"`
	Timeframe     string   `yaml:"timeframe" toml:"timeframe" validate:"required"`
	StakeAmount   float64  `yaml:"stake_amount" toml:"stake_amount" validate:"gt=0"`
	TradesFile    string   `yaml:"trades_file" toml:"trades_file" validate:"required"`
	PositionsFile string   `yaml:"positions_file" toml:"positions_file"`
	StatsFile     string   `yaml:"stats_file" toml:"stats_file"`
	LogDir        string   `yaml:"log_dir" toml:"log_dir"`

	SignalInterval  Duration `yaml:"signal_interval" toml:"signal_interval"`
	MonitorInterval Duration `yaml:"monitor_interval" toml:"monitor_interval"`

	Exchange struct {
		Provider        string   `yaml:"provider" toml:"provider" validate:"oneof=binance zerodha"`
		Timeout         Duration `yaml:"timeout" toml:"timeout"`
		Testnet         bool     `yaml:"testnet" toml:"testnet"`
		QuoteAsset      string   `yaml:"quote_asset" toml:"quote_asset"`
		ZerodhaExchange string   `yaml:"zerodha_exchange" toml:"zerodha_exchange"`
		Product         string   `yaml:"product" toml:"product"`
		StreamPrices    bool     `yaml:"stream_prices" toml:"stream_prices"`
		PaperBalance    float64  `yaml:"paper_balance" toml:"paper_balance"`
	} `yaml:"exchange" toml:"exchange"`

	Indicators struct {
		MAType        string `yaml:"ma_type" toml:"ma_type" validate:"oneof=sma ema"`
		ShortWindow   int    `yaml:"short_window" toml:"short_window"`
		LongWindow    int    `yaml:"long_window" toml:"long_window"`
		RSIPeriod     int    `yaml:"rsi_period" toml:"rsi_period"`
		MACDFast      int    `yaml:"macd_fast" toml:"macd_fast"`
		MACDSlow      int    `yaml:"macd_slow" toml:"macd_slow"`
		MACDSignal    int    `yaml:"macd_signal" toml:"macd_signal"`
		ChannelWindow int    `yaml:"channel_window" toml:"channel_window"`
		Candles       int    `yaml:"candles" toml:"candles"`
	} `yaml:"indicators" toml:"indicators"`

	Signal struct {
		RSIUpper float64 `yaml:"rsi_upper" toml:"rsi_upper" validate:"gt=0,lte=100"`
		RSILower float64 `yaml:"rsi_lower" toml:"rsi_lower" validate:"gte=0,lt=100"`
		Filters  struct {
			ChannelBreakout       bool    `yaml:"channel_breakout" toml:"channel_breakout"`
			MACD                  bool    `yaml:"macd" toml:"macd"`
			HeikinAshi            bool    `yaml:"heikin_ashi" toml:"heikin_ashi"`
			MinVolume             float64 `yaml:"min_volume" toml:"min_volume"`
			HigherTimeframe       string  `yaml:"higher_timeframe" toml:"higher_timeframe"`
			HigherTimeframeWindow int     `yaml:"higher_timeframe_window" toml:"higher_timeframe_window"`
		} `yaml:"filters" toml:"filters"`
	} `yaml:"signal" toml:"signal"`

	Exit struct {
		TakeProfitPct float64 `yaml:"take_profit_pct" toml:"take_profit_pct" validate:"gt=0"`
		StopLossPct   float64 `yaml:"stop_loss_pct" toml:"stop_loss_pct" validate:"gt=0,lt=100"`
		Trailing      bool    `yaml:"trailing" toml:"trailing"`
		TrailingPct   float64 `yaml:"trailing_pct" toml:"trailing_pct" validate:"gte=0,lt=100"`
	} `yaml:"exit" toml:"exit"`

	Risk struct {
		DailyLossLimit     float64 `yaml:"daily_loss_limit" toml:"daily_loss_limit" validate:"gt=0"`
		MaxBalanceFraction float64 `yaml:"max_balance_fraction" toml:"max_balance_fraction" validate:"gte=0,lte=1"`
		Timezone           string  `yaml:"timezone" toml:"timezone"`
	} `yaml:"risk" toml:"risk"`

	Reconcile struct {
		RebuildWhenEmpty bool `yaml:"rebuild_when_empty" toml:"rebuild_when_empty"`
	} `yaml:"reconcile" toml:"reconcile"`

	Persistence struct {
		Backend        string `yaml:"backend" toml:"backend" validate:"oneof=file redis postgres"`
		RedisKeyPrefix string `yaml:"redis_key_prefix" toml:"redis_key_prefix"`
		RedisDB        int    `yaml:"redis_db" toml:"redis_db"`
	} `yaml:"persistence" toml:"persistence"`

	Notify struct {
		Enabled   bool `yaml:"enabled" toml:"enabled"`
		QueueSize int  `yaml:"queue_size" toml:"queue_size"`
	} `yaml:"notify" toml:"notify"`

	Server struct {
		Enabled bool   `yaml:"enabled" toml:"enabled"`
		Addr    string `yaml:"addr" toml:"addr"`
	} `yaml:"server" toml:"server"`

	Control struct {
		StakeStep float64 `yaml:"stake_step" toml:"stake_step" validate:"gte=0"`
	} `yaml:"control" toml:"control"`

	EOD struct {
		Enabled bool   `yaml:"enabled" toml:"enabled"`
		At      string `yaml:"at" toml:"at"`
	} `yaml:"eod" toml:"eod"`

	Archive struct {
		Enabled       bool   `yaml:"enabled" toml:"enabled"`
		Bucket        string `yaml:"bucket" toml:"bucket"`
		Region        string `yaml:"region" toml:"region"`
		Endpoint      string `yaml:"endpoint" toml:"endpoint"`
		Prefix        string `yaml:"prefix" toml:"prefix"`
		RetentionDays int    `yaml:"retention_days" toml:"retention_days"`
	} `yaml:"archive" toml:"archive"`

	Secrets Secrets `yaml:"-" toml:"-"`
}

// Secrets never live in the config file.
type Secrets struct {
	BinanceAPIKey    string `env:"BINANCE_API_KEY"`
	BinanceSecretKey string `env:"BINANCE_API_SECRET"`
	KiteAPIKey       string `env:"KITE_API_KEY"`
	KiteAccessToken  string `env:"KITE_ACCESS_TOKEN"`
	TelegramToken    string `env:"TELEGRAM_TOKEN"`
	TelegramChatID   string `env:"TELEGRAM_CHAT_ID"`
	WebhookSecret    string `env:"TELEGRAM_WEBHOOK_SECRET"`
	CommandToken     string `env:"COMMAND_TOKEN"`
	RedisAddr        string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword    string `env:"REDIS_PASSWORD"`
	PostgresDSN      string `env:"POSTGRES_DSN"`
	S3AccessKey      string `env:"S3_ACCESS_KEY"`
	S3SecretKey      string `env:"S3_SECRET_KEY"`
}

// Duration reads "30s" style strings from both yaml and toml.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	return d.UnmarshalText([]byte(n.Value))
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if c.Indicators.ShortWindow >= c.Indicators.LongWindow {
		return fmt.Errorf("indicators.short_window (%d) must be below long_window (%d)", c.Indicators.ShortWindow, c.Indicators.LongWindow)
	}
	if c.Signal.RSILower >= c.Signal.RSIUpper {
		return fmt.Errorf("signal.rsi_lower (%.1f) must be below rsi_upper (%.1f)", c.Signal.RSILower, c.Signal.RSIUpper)
	}
	if c.Exit.Trailing && c.Exit.TrailingPct <= 0 {
		return errors.New("exit.trailing_pct must be positive when trailing is enabled")
	}
	if c.Signal.Filters.HigherTimeframe != "" && c.Signal.Filters.HigherTimeframeWindow <= 0 {
		return errors.New("signal.filters.higher_timeframe_window must be positive")
	}
	if _, err := time.LoadLocation(c.Risk.Timezone); err != nil {
		return fmt.Errorf("risk.timezone: %w", err)
	}
	if _, err := time.Parse("15:04", c.EOD.At); err != nil {
		return fmt.Errorf("eod.at: %w", err)
	}
	if c.Archive.Enabled && (c.Archive.Bucket == "" || c.Archive.Region == "") {
		return errors.New("archive.bucket and archive.region are required when archive is enabled")
	}
	if c.Mode == "LIVE" {
		switch c.Exchange.Provider {
		case "binance":
			if c.Secrets.BinanceAPIKey == "" || c.Secrets.BinanceSecretKey == "" {
				return errors.New("BINANCE_API_KEY and BINANCE_API_SECRET are required in LIVE mode")
			}
		case "zerodha":
			if c.Secrets.KiteAPIKey == "" || c.Secrets.KiteAccessToken == "" {
				return errors.New("KITE_API_KEY and KITE_ACCESS_TOKEN are required in LIVE mode")
			}
		}
	}
	if c.Persistence.Backend == "postgres" && c.Secrets.PostgresDSN == "" {
		return errors.New("POSTGRES_DSN is required for the postgres backend")
	}
	return nil
}

// Location is the timezone that defines the trading day.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Risk.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = "DRY_RUN"
	}
	if c.Timeframe == "" {
		c.Timeframe = "1m"
	}
	if c.TradesFile == "" {
		c.TradesFile = "trades_log.jsonl"
	}
	if c.PositionsFile == "" {
		c.PositionsFile = "positions.json"
	}
	if c.StatsFile == "" {
		c.StatsFile = "stats.json"
	}
	if c.LogDir == "" {
		c.LogDir = "logs"
	}
	if c.SignalInterval.Duration == 0 {
		c.SignalInterval.Duration = 30 * time.Second
	}
	if c.MonitorInterval.Duration == 0 {
		c.MonitorInterval.Duration = 15 * time.Second
	}

	if c.Exchange.Provider == "" {
		c.Exchange.Provider = "binance"
	}
	if c.Exchange.Timeout.Duration == 0 {
		c.Exchange.Timeout.Duration = 10 * time.Second
	}
	if c.Exchange.QuoteAsset == "" {
		c.Exchange.QuoteAsset = "USDT"
	}
	if c.Exchange.ZerodhaExchange == "" {
		c.Exchange.ZerodhaExchange = "NSE"
	}
	if c.Exchange.Product == "" {
		c.Exchange.Product = "MIS"
	}
	if c.Exchange.PaperBalance == 0 {
		c.Exchange.PaperBalance = 1000
	}

	if c.Indicators.MAType == "" {
		c.Indicators.MAType = "sma"
	}
	if c.Indicators.ShortWindow == 0 {
		c.Indicators.ShortWindow = 10
	}
	if c.Indicators.LongWindow == 0 {
		c.Indicators.LongWindow = 100
	}
	if c.Indicators.RSIPeriod == 0 {
		c.Indicators.RSIPeriod = 14
	}
	if c.Indicators.MACDFast == 0 {
		c.Indicators.MACDFast = 12
	}
	if c.Indicators.MACDSlow == 0 {
		c.Indicators.MACDSlow = 26
	}
	if c.Indicators.MACDSignal == 0 {
		c.Indicators.MACDSignal = 9
	}
	if c.Indicators.ChannelWindow == 0 {
		c.Indicators.ChannelWindow = 20
	}
	if c.Indicators.Candles == 0 {
		c.Indicators.Candles = 150
	}

	if c.Signal.RSIUpper == 0 {
		c.Signal.RSIUpper = 70
	}
	if c.Signal.RSILower == 0 {
		c.Signal.RSILower = 30
	}
	if c.Signal.Filters.HigherTimeframe != "" && c.Signal.Filters.HigherTimeframeWindow == 0 {
		c.Signal.Filters.HigherTimeframeWindow = 50
	}

	if c.Exit.TakeProfitPct == 0 {
		c.Exit.TakeProfitPct = 2
	}
	if c.Exit.StopLossPct == 0 {
		c.Exit.StopLossPct = 1
	}
	if c.Exit.Trailing && c.Exit.TrailingPct == 0 {
		c.Exit.TrailingPct = 1
	}

	if c.Risk.MaxBalanceFraction == 0 {
		c.Risk.MaxBalanceFraction = 0.5
	}
	if c.Risk.Timezone == "" {
		c.Risk.Timezone = "UTC"
	}

	if c.Persistence.Backend == "" {
		c.Persistence.Backend = "file"
	}
	if c.Persistence.RedisKeyPrefix == "" {
		c.Persistence.RedisKeyPrefix = "smabot"
	}
	if c.Notify.QueueSize == 0 {
		c.Notify.QueueSize = 64
	}
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:8080"
	}
	if c.Control.StakeStep == 0 {
		c.Control.StakeStep = c.StakeAmount
	}
	if c.EOD.At == "" {
		c.EOD.At = "23:55"
	}
	if c.Archive.Prefix == "" {
		c.Archive.Prefix = "journal/"
	}
}

// Parse decodes a config document. The format is picked from the file
// extension: .toml for TOML, anything else for YAML.
func Parse(b []byte, ext string) (*Config, error) {
	var c Config
	switch strings.ToLower(ext) {
	case ".toml":
		if _, err := toml.Decode(string(b), &c); err != nil {
			return nil, fmt.Errorf("decode toml: %w", err)
		}
	default:
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
	}
	c.applyDefaults()
	return &c, nil
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c, err := Parse(b, filepath.Ext(path))
	if err != nil {
		return nil, err
	}
	if err := env.Parse(&c.Secrets); err != nil {
		return nil, fmt.Errorf("config: parse secrets: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return c, nil
}
