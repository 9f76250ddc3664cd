package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const minimalYAML = `market:
  symbol: BTC/USDT
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "paper", cfg.App.Mode)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, ":9880", cfg.App.HTTPAddr)
	assert.Equal(t, "1m", cfg.Market.BaseTimeframe)
	assert.Equal(t, []string{"5m", "15m", "1h"}, cfg.Market.Timeframes)
	assert.Equal(t, 10000.0, cfg.Engine.InitialCash)
	assert.Equal(t, 0.005, cfg.Engine.MaxSlippage)
	assert.Equal(t, 0.5, cfg.Engine.EmergencyDrawdown)
	assert.Equal(t, 5, cfg.Risk.MaxPositions)
	assert.Equal(t, 0.1, cfg.Strategies.DefaultSizePct)
	assert.Equal(t, "USDT", cfg.Live.StakeCurrency)
	assert.Equal(t, 30, cfg.Live.HeartbeatSeconds)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `app:
  mode: live
  log_level: debug
market:
  symbol: ETH/USDT
  base_timeframe: 5m
  timeframes: [15m, 1h]
engine:
  initial_cash: 2500
risk:
  max_positions: 2
live:
  stake_currency: USDC
`))
	require.NoError(t, err)
	assert.Equal(t, "live", cfg.App.Mode)
	assert.Equal(t, "ETH/USDT", cfg.Market.Symbol)
	assert.Equal(t, "5m", cfg.Market.BaseTimeframe)
	assert.Equal(t, 2500.0, cfg.Engine.InitialCash)
	assert.Equal(t, 2, cfg.Risk.MaxPositions)
	assert.Equal(t, "USDC", cfg.Live.StakeCurrency)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"missing symbol", `app: {mode: paper}`},
		{"bad mode", `app: {mode: replay}
market: {symbol: BTC/USDT}`},
		{"bad base timeframe", `market: {symbol: BTC/USDT, base_timeframe: 7x}`},
		{"underivable timeframe", `market:
  symbol: BTC/USDT
  base_timeframe: 5m
  timeframes: [7m]`},
		{"risk fraction out of range", `market: {symbol: BTC/USDT}
risk: {max_risk_per_trade: 1.5}`},
		{"store without path", `market: {symbol: BTC/USDT}
store: {enabled: true}`},
		{"strategies without path", `market: {symbol: BTC/USDT}
strategies: {enabled: [ema-trend]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
	_, err = Load("")
	assert.Error(t, err)
}
