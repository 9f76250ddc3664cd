package strategy

import (
	"testing"

	"marlin/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feed(s Strategy, tf string, closes ...float64) Advice {
	adv := HoldAdvice
	for i, close := range closes {
		c := market.Candle{
			OpenTime: 1705312800000 + int64(i)*60_000,
			Open:     close, High: close + 1, Low: close - 1, Close: close,
			Volume: 1,
		}
		adv = s.OnCandle(c, tf)
	}
	return adv
}

func TestEMACrossInitValidation(t *testing.T) {
	s := NewEMACross("5m")
	assert.Error(t, s.Init(map[string]any{"fast": 10, "slow": 5}))
	assert.Error(t, s.Init(map[string]any{"fast": 0}))
	assert.NoError(t, s.Init(map[string]any{"fast": 2, "slow": 3}))
}

func TestEMACrossTimeframes(t *testing.T) {
	s := NewEMACross("5m")
	assert.Equal(t, []string{"5m"}, s.Timeframes())

	require.NoError(t, s.Init(map[string]any{"trend_timeframe": "1h"}))
	assert.Equal(t, []string{"5m", "1h"}, s.Timeframes())
}

func TestEMACrossSignals(t *testing.T) {
	s := NewEMACross("5m")
	require.NoError(t, s.Init(map[string]any{"fast": 2, "slow": 3, "stop_loss_pct": 0.02}))

	// 持续下跌后急涨：快线上穿慢线
	adv := feed(s, "5m", 100, 98, 96, 94, 92, 90, 105)
	assert.Equal(t, Buy, adv.Action)
	assert.Greater(t, adv.SizePct, 0.0)
	assert.InDelta(t, 105*0.98, adv.StopLoss, 1e-9)

	// 继续上涨后急跌：快线下穿慢线
	adv = feed(s, "5m", 110, 115, 95)
	assert.Equal(t, Sell, adv.Action)
}

func TestEMACrossIgnoresOtherTimeframes(t *testing.T) {
	s := NewEMACross("5m")
	require.NoError(t, s.Init(map[string]any{"fast": 2, "slow": 3}))

	adv := feed(s, "1h", 100, 98, 96, 94, 92, 90, 105)
	assert.Equal(t, Hold, adv.Action)
}

func TestEMACrossTrendFilterBlocksCounterTrend(t *testing.T) {
	s := NewEMACross("5m")
	require.NoError(t, s.Init(map[string]any{"fast": 2, "slow": 3, "trend_timeframe": "1h"}))

	// 大周期持续走低 → 慢 EMA 向下，金叉被过滤
	feed(s, "1h", 200, 190, 180, 170, 160, 150)
	adv := feed(s, "5m", 100, 98, 96, 94, 92, 90, 105)
	assert.Equal(t, Hold, adv.Action)

	// 大周期转为走高后放行
	s2 := NewEMACross("5m")
	require.NoError(t, s2.Init(map[string]any{"fast": 2, "slow": 3, "trend_timeframe": "1h"}))
	feed(s2, "1h", 150, 160, 170, 180, 190, 200)
	adv = feed(s2, "5m", 100, 98, 96, 94, 92, 90, 105)
	assert.Equal(t, Buy, adv.Action)
}

func TestRSIInitValidation(t *testing.T) {
	s := NewRSIReversal("15m")
	assert.Error(t, s.Init(map[string]any{"period": 1}))
	assert.Error(t, s.Init(map[string]any{"oversold": 80, "overbought": 70}))
	assert.NoError(t, s.Init(map[string]any{"period": 2}))
}

func TestRSISignals(t *testing.T) {
	s := NewRSIReversal("15m")
	require.NoError(t, s.Init(map[string]any{"period": 2}))

	// 连跌 → RSI 贴近 0，超卖买入
	adv := feed(s, "15m", 100, 98, 96, 94, 92)
	assert.Equal(t, Buy, adv.Action)

	// 连涨 → RSI 贴近 100，超买卖出
	s2 := NewRSIReversal("15m")
	require.NoError(t, s2.Init(map[string]any{"period": 2}))
	adv = feed(s2, "15m", 100, 102, 104, 106, 108)
	assert.Equal(t, Sell, adv.Action)
}

func TestRSIIgnoresOtherTimeframes(t *testing.T) {
	s := NewRSIReversal("15m")
	require.NoError(t, s.Init(nil))
	adv := feed(s, "5m", 100, 98, 96, 94, 92)
	assert.Equal(t, Hold, adv.Action)
}

func TestHoldOnMultiTimeframeUpdate(t *testing.T) {
	assert.Equal(t, Hold, NewEMACross("5m").OnMultiTimeframeUpdate(nil).Action)
	assert.Equal(t, Hold, NewRSIReversal("15m").OnMultiTimeframeUpdate(nil).Action)
}
