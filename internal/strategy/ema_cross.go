package strategy

import (
	"fmt"

	"marlin/internal/market"

	talib "github.com/markcheno/go-talib"
)

// EMACross 在执行周期上做快慢 EMA 金叉/死叉，可选用更大周期过滤方向。
type EMACross struct {
	fast       int
	slow       int
	execTF     string
	trendTF    string
	sizePct    float64
	stopLossPct float64

	closes map[string][]float64
	maxLen int
}

func NewEMACross(execTF string) *EMACross {
	return &EMACross{
		fast:    12,
		slow:    26,
		execTF:  execTF,
		sizePct: 0.1,
		closes:  make(map[string][]float64),
		maxLen:  500,
	}
}

func (s *EMACross) Name() string { return "ema_cross" }

func (s *EMACross) Init(params map[string]any) error {
	if v, ok := asInt(params["fast"]); ok {
		s.fast = v
	}
	if v, ok := asInt(params["slow"]); ok {
		s.slow = v
	}
	if v, ok := params["trend_timeframe"].(string); ok && v != "" {
		s.trendTF = v
	}
	if v, ok := asFloat(params["size_pct"]); ok && v > 0 {
		s.sizePct = v
	}
	if v, ok := asFloat(params["stop_loss_pct"]); ok && v > 0 {
		s.stopLossPct = v
	}
	if s.fast <= 0 || s.slow <= s.fast {
		return fmt.Errorf("ema_cross: fast/slow 周期非法 (%d/%d)", s.fast, s.slow)
	}
	return nil
}

func (s *EMACross) Timeframes() []string {
	if s.trendTF != "" && s.trendTF != s.execTF {
		return []string{s.execTF, s.trendTF}
	}
	return []string{s.execTF}
}

func (s *EMACross) OnCandle(c market.Candle, tfName string) Advice {
	buf := append(s.closes[tfName], c.Close)
	if len(buf) > s.maxLen {
		buf = buf[len(buf)-s.maxLen:]
	}
	s.closes[tfName] = buf

	if tfName != s.execTF || len(buf) < s.slow+2 {
		return HoldAdvice
	}
	fast := talib.Ema(buf, s.fast)
	slow := talib.Ema(buf, s.slow)
	n := len(buf) - 1
	crossedUp := fast[n-1] <= slow[n-1] && fast[n] > slow[n]
	crossedDown := fast[n-1] >= slow[n-1] && fast[n] < slow[n]

	if crossedUp && s.trendOK(true) {
		adv := Advice{Action: Buy, SizePct: s.sizePct, Comment: "ema cross up"}
		if s.stopLossPct > 0 {
			adv.StopLoss = c.Close * (1 - s.stopLossPct)
		}
		return adv
	}
	if crossedDown {
		return Advice{Action: Sell, Comment: "ema cross down"}
	}
	return HoldAdvice
}

// trendOK 用大周期慢 EMA 的方向过滤逆势开仓。
func (s *EMACross) trendOK(long bool) bool {
	if s.trendTF == "" {
		return true
	}
	buf := s.closes[s.trendTF]
	if len(buf) < s.slow+1 {
		return true
	}
	slow := talib.Ema(buf, s.slow)
	n := len(buf) - 1
	if long {
		return slow[n] >= slow[n-1]
	}
	return slow[n] <= slow[n-1]
}

func (s *EMACross) OnMultiTimeframeUpdate(latest map[string]market.Candle) Advice {
	return HoldAdvice
}

func asInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case int64:
		return int(x), true
	case float64:
		return int(x), true
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	}
	return 0, false
}
