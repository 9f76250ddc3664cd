// Package trader 把策略建议翻译成引擎订单：多周期管理器产出 K 线，
// 策略回调给出 Advice，这里按组合市值折算下单数量。
package trader

import (
	"errors"
	"fmt"

	"marlin/internal/engine"
	"marlin/internal/logger"
	"marlin/internal/market"
	"marlin/internal/multiframe"
	"marlin/internal/portfolio"
	"marlin/internal/strategy"
)

// Driver 是 paper/live 两个引擎驱动的公共面。
type Driver interface {
	PlaceOrder(req engine.OrderRequest) (*portfolio.Order, error)
	Engine() *engine.Engine
}

// priceSinkID 保证价格更新先于任何策略回调（订阅顺序即分发顺序）。
const priceSinkID = "trader/price-sink"

// Trader 串行驱动单个 symbol 的完整链路。
type Trader struct {
	symbol string
	mgr    *multiframe.Manager
	driver Driver

	defaultSizePct float64

	// onBaseCandle 由 paper 驱动注入，用 K 线推进时钟与报价。
	onBaseCandle func(symbol string, c market.Candle, tfName string)
}

type Options struct {
	DefaultSizePct float64
	OnBaseCandle   func(symbol string, c market.Candle, tfName string)
}

func New(symbol string, mgr *multiframe.Manager, driver Driver, opts Options) (*Trader, error) {
	if symbol == "" {
		return nil, fmt.Errorf("trader requires symbol")
	}
	if mgr == nil || driver == nil {
		return nil, fmt.Errorf("trader requires manager and driver")
	}
	t := &Trader{
		symbol:         symbol,
		mgr:            mgr,
		driver:         driver,
		defaultSizePct: opts.DefaultSizePct,
		onBaseCandle:   opts.OnBaseCandle,
	}
	if t.defaultSizePct <= 0 {
		t.defaultSizePct = 0.1
	}
	if t.onBaseCandle != nil {
		err := mgr.Subscribe(priceSinkID, []string{mgr.BaseTimeframe()}, func(c market.Candle, tfName string) {
			t.onBaseCandle(t.symbol, c, tfName)
		})
		if err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Bind 把一个策略接到它声明的周期上。
func (t *Trader) Bind(s strategy.Strategy) error {
	id := s.Name()
	err := t.mgr.Subscribe(id, s.Timeframes(), func(c market.Candle, tfName string) {
		t.apply(s.OnCandle(c, tfName), c.Close)
	})
	if err != nil {
		return fmt.Errorf("binding strategy %s: %w", id, err)
	}
	return t.mgr.SubscribeSync(id, func(latest map[string]market.Candle) {
		price := 0.0
		if c, ok := latest[t.mgr.BaseTimeframe()]; ok {
			price = c.Close
		}
		t.apply(s.OnMultiTimeframeUpdate(latest), price)
	})
}

// Unbind 整体解除某个策略的订阅。
func (t *Trader) Unbind(id string) {
	t.mgr.Unsubscribe(id)
}

// ProcessCandle 投递一根基础周期 K 线。
func (t *Trader) ProcessCandle(c market.Candle) error {
	return t.mgr.ProcessCandle(c)
}

// apply 执行一条建议。下单被拒是正常业务结果，记日志后继续。
func (t *Trader) apply(adv strategy.Advice, price float64) {
	if adv.Action == strategy.Hold || price <= 0 {
		return
	}
	eng := t.driver.Engine()
	switch adv.Action {
	case strategy.Buy:
		sizePct := adv.SizePct
		if sizePct <= 0 {
			sizePct = t.defaultSizePct
		}
		qty := sizePct * eng.PortfolioValue() / price
		if qty <= 0 {
			return
		}
		_, err := t.driver.PlaceOrder(engine.OrderRequest{
			Symbol:   t.symbol,
			Side:     portfolio.SideBuy,
			Type:     portfolio.OrderTypeMarket,
			Quantity: qty,
			StopLoss: adv.StopLoss,
		})
		t.logOutcome("buy", qty, price, adv, err)
	case strategy.Sell:
		pos, ok := eng.Portfolio().Positions[t.symbol]
		if !ok {
			return
		}
		_, err := t.driver.PlaceOrder(engine.OrderRequest{
			Symbol:   t.symbol,
			Side:     portfolio.SideSell,
			Type:     portfolio.OrderTypeMarket,
			Quantity: pos.Quantity,
		})
		t.logOutcome("sell", pos.Quantity, price, adv, err)
	}
}

func (t *Trader) logOutcome(side string, qty, price float64, adv strategy.Advice, err error) {
	switch {
	case err == nil:
		logger.Infof("%s %s %.8f @ ~%.2f (%s)", side, t.symbol, qty, price, adv.Comment)
	case errors.Is(err, engine.ErrEmergencyStopActive):
		logger.Warnf("%s %s skipped: emergency stop active", side, t.symbol)
	default:
		logger.Infof("%s %s rejected: %v", side, t.symbol, err)
	}
}
