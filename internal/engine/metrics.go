package engine

import "marlin/internal/portfolio"

// Drawdown 描述最大回撤：Amount 为峰谷差的绝对额，Percent 为
// 非正的百分比（-33.33 表示回撤 33.33%）。
type Drawdown struct {
	Amount  float64 `json:"amount"`
	Percent float64 `json:"percent"`
}

// PerformanceMetrics 汇总 tradeHistory / equityHistory 的只读指标。
type PerformanceMetrics struct {
	TotalTrades   int      `json:"total_trades"`
	ClosedTrades  int      `json:"closed_trades"`
	WinningTrades int      `json:"winning_trades"`
	WinRate       float64  `json:"win_rate"`
	TotalPnL      float64  `json:"total_pnl"`
	Equity        float64  `json:"equity"`
	Cash          float64  `json:"cash"`
	ReturnPercent float64  `json:"return_percent"`
	MaxDrawdown   Drawdown `json:"max_drawdown"`
}

// PortfolioValue = 现金 + Σ 持仓 × 最新价。
func (e *Engine) PortfolioValue() float64 {
	return e.pf.TotalValue(e.prices)
}

// UnrealizedPnL 返回某持仓按最新价计的浮动盈亏。
func (e *Engine) UnrealizedPnL(symbol string) float64 {
	pos, ok := e.pf.Positions[symbol]
	if !ok {
		return 0
	}
	price, ok := e.prices[symbol]
	if !ok {
		return 0
	}
	return pos.Quantity * (price - pos.AvgPrice)
}

// MaxDrawdown 扫描 equityHistory 找最大的峰到谷跌幅。
func (e *Engine) MaxDrawdown() Drawdown {
	return maxDrawdown(e.pf.EquityHistory)
}

func maxDrawdown(history []portfolio.EquityPoint) Drawdown {
	var dd Drawdown
	if len(history) == 0 {
		return dd
	}
	peak := history[0].Equity
	for _, p := range history[1:] {
		if p.Equity > peak {
			peak = p.Equity
			continue
		}
		amount := peak - p.Equity
		if amount > dd.Amount {
			dd.Amount = amount
			if peak > 0 {
				dd.Percent = -amount / peak * 100
			}
		}
	}
	return dd
}

// WinRate = 盈利的已实现成交 / 全部已实现成交（卖出侧）。
func (e *Engine) WinRate() float64 {
	closed, wins := closedTradeStats(e.pf.TradeHistory)
	if closed == 0 {
		return 0
	}
	return float64(wins) / float64(closed)
}

func closedTradeStats(trades []portfolio.Trade) (closed, wins int) {
	for _, t := range trades {
		if t.Side != portfolio.SideSell {
			continue
		}
		closed++
		if t.PnL > 0 {
			wins++
		}
	}
	return closed, wins
}

// Metrics 汇总一份性能快照。
func (e *Engine) Metrics() PerformanceMetrics {
	closed, wins := closedTradeStats(e.pf.TradeHistory)
	totalPnL := 0.0
	for _, t := range e.pf.TradeHistory {
		totalPnL += t.PnL
	}
	winRate := 0.0
	if closed > 0 {
		winRate = float64(wins) / float64(closed)
	}
	equity := e.PortfolioValue()
	ret := 0.0
	if e.pf.InitialCash > 0 {
		ret = (equity - e.pf.InitialCash) / e.pf.InitialCash * 100
	}
	return PerformanceMetrics{
		TotalTrades:   len(e.pf.TradeHistory),
		ClosedTrades:  closed,
		WinningTrades: wins,
		WinRate:       winRate,
		TotalPnL:      totalPnL,
		Equity:        equity,
		Cash:          e.pf.Cash,
		ReturnPercent: ret,
		MaxDrawdown:   e.MaxDrawdown(),
	}
}
