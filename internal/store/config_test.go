package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
symbols: [DOGE/USDT]
stake_amount: 15
risk:
  daily_loss_limit: 5
`

func TestParseAppliesDefaults(t *testing.T) {
	c, err := Parse([]byte(minimalYAML), ".yaml")
	require.NoError(t, err)
	require.NoError(t, c.Validate())

	assert.Equal(t, "DRY_RUN", c.Mode)
	assert.Equal(t, "1m", c.Timeframe)
	assert.Equal(t, "trades_log.jsonl", c.TradesFile)
	assert.Equal(t, 30*time.Second, c.SignalInterval.Duration)
	assert.Equal(t, 15*time.Second, c.MonitorInterval.Duration)
	assert.Equal(t, "binance", c.Exchange.Provider)
	assert.Equal(t, 10*time.Second, c.Exchange.Timeout.Duration)
	assert.Equal(t, 10, c.Indicators.ShortWindow)
	assert.Equal(t, 100, c.Indicators.LongWindow)
	assert.Equal(t, 70.0, c.Signal.RSIUpper)
	assert.Equal(t, 30.0, c.Signal.RSILower)
	assert.Equal(t, 0.5, c.Risk.MaxBalanceFraction)
	assert.Equal(t, "file", c.Persistence.Backend)
	assert.Equal(t, "127.0.0.1:8080", c.Server.Addr, "loopback unless configured otherwise")
	assert.Equal(t, 15.0, c.Control.StakeStep, "stake step follows the stake")
	assert.Equal(t, time.UTC, c.Location())
}

func TestParseTOML(t *testing.T) {
	doc := `
symbols = ["INFY", "TCS"]
stake_amount = 1
signal_interval = "1m"

[exchange]
provider = "zerodha"

[risk]
daily_loss_limit = 500
`
	c, err := Parse([]byte(doc), ".toml")
	require.NoError(t, err)
	require.NoError(t, c.Validate())

	assert.Equal(t, []string{"INFY", "TCS"}, c.Symbols)
	assert.Equal(t, time.Minute, c.SignalInterval.Duration)
	assert.Equal(t, "NSE", c.Exchange.ZerodhaExchange)
	assert.Equal(t, "MIS", c.Exchange.Product)
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"no symbols", func(c *Config) { c.Symbols = nil }},
		{"zero stake", func(c *Config) { c.StakeAmount = 0 }},
		{"bad mode", func(c *Config) { c.Mode = "PAPER" }},
		{"short window not below long", func(c *Config) { c.Indicators.ShortWindow = c.Indicators.LongWindow }},
		{"rsi bounds inverted", func(c *Config) { c.Signal.RSILower, c.Signal.RSIUpper = 70, 30 }},
		{"unknown timezone", func(c *Config) { c.Risk.Timezone = "Mars/Olympus" }},
		{"bad eod clock", func(c *Config) { c.EOD.At = "25:00" }},
		{"archive without bucket", func(c *Config) { c.Archive.Enabled = true }},
		{"live binance without keys", func(c *Config) { c.Mode = "LIVE" }},
		{"postgres without dsn", func(c *Config) { c.Persistence.Backend = "postgres" }},
		{"unknown backend", func(c *Config) { c.Persistence.Backend = "etcd" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := Parse([]byte(minimalYAML), ".yaml")
			require.NoError(t, err)
			tc.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestLoadConfigReadsSecretsFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalYAML+"mode: LIVE\n"), 0o644))

	t.Setenv("BINANCE_API_KEY", "k")
	t.Setenv("BINANCE_API_SECRET", "s")
	t.Setenv("COMMAND_TOKEN", "tok")

	c, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "k", c.Secrets.BinanceAPIKey)
	assert.Equal(t, "s", c.Secrets.BinanceSecretKey)
	assert.Equal(t, "tok", c.Secrets.CommandToken)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
