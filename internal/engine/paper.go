package engine

import (
	"time"

	"marlin/internal/market"
	"marlin/internal/portfolio"
)

// PaperTrader 是引擎的模拟盘薄壳：K 线驱动时钟与报价，成交完全在
// 本地模拟。
type PaperTrader struct {
	eng *Engine

	clock time.Time
}

func NewPaperTrader(initialCash float64, risk portfolio.RiskConfig, exec ExecConfig) *PaperTrader {
	t := &PaperTrader{}
	t.eng = New(initialCash, risk, exec, false)
	t.eng.SetClock(t.now)
	return t
}

func (t *PaperTrader) Engine() *Engine { return t.eng }

func (t *PaperTrader) now() time.Time {
	if t.clock.IsZero() {
		return time.Now().UTC()
	}
	return t.clock
}

// OnCandle 把一根完成的 K 线折算成一次报价更新：时钟推进到 K 线
// 收盘时刻，收盘价作为该 symbol 的最新价，然后做紧急停止检查。
func (t *PaperTrader) OnCandle(symbol string, c market.Candle, tfName string) {
	t.clock = c.Time()
	t.eng.UpdateMarketPrice(symbol, c.Close)
	t.eng.CheckEmergencyConditions()
}

// PlaceOrder 透传给共享引擎。
func (t *PaperTrader) PlaceOrder(req OrderRequest) (*portfolio.Order, error) {
	return t.eng.PlaceOrder(req)
}

func (t *PaperTrader) CancelOrder(id string) error { return t.eng.CancelOrder(id) }

func (t *PaperTrader) Reset() { t.eng.Reset() }
