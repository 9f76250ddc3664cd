package strategy

import (
	"fmt"

	"marlin/internal/market"

	talib "github.com/markcheno/go-talib"
)

// RSIReversal 超卖买入、超买卖出的均值回归策略。
type RSIReversal struct {
	period     int
	oversold   float64
	overbought float64
	execTF     string
	sizePct    float64

	closes []float64
	maxLen int
}

func NewRSIReversal(execTF string) *RSIReversal {
	return &RSIReversal{
		period:     14,
		oversold:   30,
		overbought: 70,
		execTF:     execTF,
		sizePct:    0.1,
		maxLen:     500,
	}
}

func (s *RSIReversal) Name() string { return "rsi_reversal" }

func (s *RSIReversal) Init(params map[string]any) error {
	if v, ok := asInt(params["period"]); ok {
		s.period = v
	}
	if v, ok := asFloat(params["oversold"]); ok {
		s.oversold = v
	}
	if v, ok := asFloat(params["overbought"]); ok {
		s.overbought = v
	}
	if v, ok := asFloat(params["size_pct"]); ok && v > 0 {
		s.sizePct = v
	}
	if s.period <= 1 {
		return fmt.Errorf("rsi_reversal: period %d 非法", s.period)
	}
	if s.oversold >= s.overbought {
		return fmt.Errorf("rsi_reversal: oversold %.1f 必须小于 overbought %.1f", s.oversold, s.overbought)
	}
	return nil
}

func (s *RSIReversal) Timeframes() []string { return []string{s.execTF} }

func (s *RSIReversal) OnCandle(c market.Candle, tfName string) Advice {
	if tfName != s.execTF {
		return HoldAdvice
	}
	s.closes = append(s.closes, c.Close)
	if len(s.closes) > s.maxLen {
		s.closes = s.closes[len(s.closes)-s.maxLen:]
	}
	if len(s.closes) < s.period+1 {
		return HoldAdvice
	}
	rsi := talib.Rsi(s.closes, s.period)
	last := rsi[len(rsi)-1]
	switch {
	case last <= s.oversold:
		return Advice{Action: Buy, SizePct: s.sizePct, Comment: fmt.Sprintf("rsi %.1f oversold", last)}
	case last >= s.overbought:
		return Advice{Action: Sell, Comment: fmt.Sprintf("rsi %.1f overbought", last)}
	}
	return HoldAdvice
}

func (s *RSIReversal) OnMultiTimeframeUpdate(latest map[string]market.Candle) Advice {
	return HoldAdvice
}
