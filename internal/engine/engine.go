// Package engine 实现共享的订单与风控引擎：校验、定价、执行订单并在
// 硬性风险约束下修改组合。paper / live 两个驱动只是它外面的薄壳。
package engine

import (
	"fmt"
	"time"

	"marlin/internal/logger"
	"marlin/internal/portfolio"

	"github.com/google/uuid"
)

// OrderRequest 是策略侧的下单请求。
type OrderRequest struct {
	Symbol   string
	Side     portfolio.Side
	Type     portfolio.OrderType
	Quantity float64
	Price    float64 // limit 价
	StopPrice float64 // stop 触发价
	StopLoss  float64 // 可选：申报止损价，参与风险额度计算
}

// Engine 单线程事件驱动：调用方必须串行投递 PlaceOrder /
// UpdateMarketPrice 等写操作，组合永远不会观察到半完成的变更。
type Engine struct {
	pf   *portfolio.Portfolio
	risk portfolio.RiskConfig
	exec ExecConfig

	prices map[string]float64

	emergencyStop bool
	live          bool
	confirmed     bool

	orderListeners  []OrderListener
	equityListeners []EquityListener

	executor FillExecutor

	nowFn func() time.Time
}

// FillExecutor 把成交路由到真实交易所。返回实际成交均价与手续费；
// 返回错误时订单转入 rejected，绝不留在 pending。
type FillExecutor interface {
	Execute(order *portfolio.Order) (fillPrice, commission float64, err error)
}

// New 创建引擎。live 决定是否启用 confirmationRequired 门控。
func New(initialCash float64, risk portfolio.RiskConfig, exec ExecConfig, live bool) *Engine {
	e := &Engine{
		risk:   risk,
		exec:   exec.withDefaults(),
		prices: make(map[string]float64),
		live:   live,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
	e.pf = portfolio.New(initialCash, e.nowFn())
	return e
}

// SetClock 替换时间源（回测时用 K 线时间驱动）。
func (e *Engine) SetClock(fn func() time.Time) {
	if fn != nil {
		e.nowFn = fn
	}
}

// SetExecutor 接入外部成交通道；为 nil 时引擎模拟成交。
func (e *Engine) SetExecutor(x FillExecutor) { e.executor = x }

func (e *Engine) Portfolio() *portfolio.Portfolio { return e.pf }
func (e *Engine) RiskConfig() portfolio.RiskConfig { return e.risk }
func (e *Engine) ExecConfig() ExecConfig           { return e.exec }
func (e *Engine) EmergencyStopped() bool           { return e.emergencyStop }

// Confirm 显式确认 live 交易（替代环境变量开关）。
func (e *Engine) Confirm() { e.confirmed = true }

func (e *Engine) Confirmed() bool { return e.confirmed }

func (e *Engine) AddOrderListener(l OrderListener) {
	if l != nil {
		e.orderListeners = append(e.orderListeners, l)
	}
}

func (e *Engine) AddEquityListener(l EquityListener) {
	if l != nil {
		e.equityListeners = append(e.equityListeners, l)
	}
}

// LastPrice 返回最近一次报价。
func (e *Engine) LastPrice(symbol string) (float64, bool) {
	p, ok := e.prices[symbol]
	return p, ok
}

// PlaceOrder 按固定顺序执行校验，任何一步失败都把订单置为 rejected
// 并返回对应的 sentinel error；市价单立即成交，limit/stop 进入挂单。
func (e *Engine) PlaceOrder(req OrderRequest) (*portfolio.Order, error) {
	order := portfolio.NewOrder(req.Symbol, req.Side, req.Type, req.Quantity)
	order.Price = req.Price
	order.StopPrice = req.StopPrice
	order.StopLoss = req.StopLoss
	order.CreatedAt = e.nowFn()

	if e.emergencyStop {
		return e.reject(order, ErrEmergencyStopActive)
	}
	if e.live && e.risk.ConfirmationRequired && !e.confirmed {
		return e.reject(order, ErrConfirmationRequired)
	}
	if err := e.validateShape(req); err != nil {
		return e.reject(order, err)
	}
	refPrice, err := e.referencePrice(req)
	if err != nil {
		return e.reject(order, err)
	}
	if req.Side == portfolio.SideSell {
		pos, ok := e.pf.Positions[req.Symbol]
		if !ok || pos.Quantity < req.Quantity {
			return e.reject(order, ErrInsufficientPosition)
		}
	} else {
		cost := refPrice * req.Quantity
		if cost > e.pf.Cash {
			return e.reject(order, ErrInsufficientFunds)
		}
		if _, held := e.pf.Positions[req.Symbol]; !held &&
			e.risk.MaxPositions > 0 && len(e.pf.Positions) >= e.risk.MaxPositions {
			return e.reject(order, ErrMaxPositionsReached)
		}
	}
	if err := e.checkRiskLimits(req, refPrice); err != nil {
		return e.reject(order, err)
	}

	if req.Type == portfolio.OrderTypeMarket {
		if err := e.execute(order, refPrice, true); err != nil {
			return order, err
		}
		e.pf.OrderHistory = append(e.pf.OrderHistory, order)
		return order, nil
	}

	// limit/stop：此时不冻结现金，成交时才真正扣减。
	e.pf.PendingOrders = append(e.pf.PendingOrders, order)
	e.pf.OrderHistory = append(e.pf.OrderHistory, order)
	for _, l := range e.orderListeners {
		l.OnOrderPlaced(order)
	}
	return order, nil
}

func (e *Engine) validateShape(req OrderRequest) error {
	if req.Symbol == "" {
		return fmt.Errorf("%w: empty symbol", ErrInvalidOrder)
	}
	if !req.Side.Valid() {
		return fmt.Errorf("%w: side %q", ErrInvalidOrder, req.Side)
	}
	if !req.Type.Valid() {
		return fmt.Errorf("%w: type %q", ErrInvalidOrder, req.Type)
	}
	if req.Quantity <= 0 {
		return fmt.Errorf("%w: quantity %v", ErrInvalidOrder, req.Quantity)
	}
	switch req.Type {
	case portfolio.OrderTypeLimit:
		if req.Price <= 0 {
			return fmt.Errorf("%w: limit order requires price", ErrInvalidOrder)
		}
	case portfolio.OrderTypeStop:
		if req.StopPrice <= 0 {
			return fmt.Errorf("%w: stop order requires stop price", ErrInvalidOrder)
		}
	}
	return nil
}

// referencePrice 估算该订单的参考价：limit 用限价，stop 用触发价，
// 市价单用最近报价。
func (e *Engine) referencePrice(req OrderRequest) (float64, error) {
	switch req.Type {
	case portfolio.OrderTypeLimit:
		return req.Price, nil
	case portfolio.OrderTypeStop:
		return req.StopPrice, nil
	default:
		if p, ok := e.prices[req.Symbol]; ok && p > 0 {
			return p, nil
		}
		return 0, fmt.Errorf("%w: no market price for %s", ErrInvalidOrder, req.Symbol)
	}
}

// checkRiskLimits 校验单笔与总额风险。申报了止损时按止损距离计风险，
// 否则按全额名义额。
func (e *Engine) checkRiskLimits(req OrderRequest, refPrice float64) error {
	value := e.PortfolioValue()
	if value <= 0 {
		return ErrRiskLimitExceeded
	}
	tradeRisk := refPrice * req.Quantity
	if req.StopLoss > 0 {
		dist := refPrice - req.StopLoss
		if dist < 0 {
			dist = -dist
		}
		tradeRisk = dist * req.Quantity
	}
	if e.risk.MaxRiskPerTrade > 0 && tradeRisk > e.risk.MaxRiskPerTrade*value {
		return fmt.Errorf("%w: trade risk %.2f exceeds %.2f", ErrRiskLimitExceeded,
			tradeRisk, e.risk.MaxRiskPerTrade*value)
	}
	if e.risk.MaxTotalRisk > 0 && req.Side == portfolio.SideBuy {
		exposure := 0.0
		for symbol, pos := range e.pf.Positions {
			price, ok := e.prices[symbol]
			if !ok {
				price = pos.AvgPrice
			}
			exposure += pos.Quantity * price
		}
		if exposure+tradeRisk > e.risk.MaxTotalRisk*value {
			return fmt.Errorf("%w: total risk %.2f exceeds %.2f", ErrRiskLimitExceeded,
				exposure+tradeRisk, e.risk.MaxTotalRisk*value)
		}
	}
	return nil
}

// execute 完成一笔成交：滑点（可选）、手续费、现金与持仓变更、
// Trade 与 equity 记录。失败时订单转入 rejected，绝不悬在 pending。
func (e *Engine) execute(order *portfolio.Order, refPrice float64, withSlippage bool) error {
	var execPrice, commission float64
	if e.executor != nil {
		fillPrice, fee, err := e.executor.Execute(order)
		if err != nil {
			_, rejErr := e.reject(order, fmt.Errorf("%w: %v", ErrExchangeRejected, err))
			return rejErr
		}
		execPrice = fillPrice
		commission = fee
	} else {
		execPrice = refPrice
		if withSlippage {
			execPrice = e.exec.ApplySlippage(refPrice, order.Side, order.Quantity)
		}
		commission = e.exec.Commission(execPrice * order.Quantity)
	}
	notional := execPrice * order.Quantity
	now := e.nowFn()

	var realized float64
	if order.Side == portfolio.SideBuy {
		if err := e.pf.Debit(notional + commission); err != nil {
			_, rejErr := e.reject(order, ErrInsufficientFunds)
			return rejErr
		}
		e.pf.ApplyBuy(order.Symbol, order.Quantity, execPrice)
	} else {
		pnl, err := e.pf.ApplySell(order.Symbol, order.Quantity, execPrice)
		if err != nil {
			_, rejErr := e.reject(order, ErrInsufficientPosition)
			return rejErr
		}
		realized = pnl - commission
		e.pf.Credit(notional - commission)
	}

	if err := order.Fill(execPrice, now); err != nil {
		return err
	}
	trade := portfolio.Trade{
		ID:         uuid.NewString(),
		OrderID:    order.ID,
		Symbol:     order.Symbol,
		Side:       order.Side,
		Quantity:   order.Quantity,
		Price:      execPrice,
		Commission: commission,
		PnL:        realized,
		ExecutedAt: now,
	}
	e.pf.TradeHistory = append(e.pf.TradeHistory, trade)
	e.appendEquity(now)

	for _, l := range e.orderListeners {
		l.OnOrderFilled(order, trade)
	}
	logger.Debugf("order %s filled: %s %s %.8f @ %.8f (fee %.8f)",
		order.ID, order.Side, order.Symbol, order.Quantity, execPrice, commission)
	return nil
}

func (e *Engine) reject(order *portfolio.Order, cause error) (*portfolio.Order, error) {
	_ = order.Reject(cause.Error())
	e.pf.OrderHistory = append(e.pf.OrderHistory, order)
	for _, l := range e.orderListeners {
		l.OnOrderRejected(order)
	}
	logger.Debugf("order %s rejected: %v", order.ID, cause)
	return order, cause
}

// UpdateMarketPrice 更新最新价并扫描该 symbol 的挂单：
// limit buy 在 price ≤ 限价时成交，limit sell 在 price ≥ 限价时成交，
// stop 在价格反向穿越触发价时按市价成交（带滑点）。
func (e *Engine) UpdateMarketPrice(symbol string, price float64) {
	if price <= 0 || symbol == "" {
		return
	}
	e.prices[symbol] = price

	var triggered []*portfolio.Order
	for _, o := range e.pf.PendingOrders {
		if o.Symbol != symbol {
			continue
		}
		if e.shouldFill(o, price) {
			triggered = append(triggered, o)
		}
	}
	filled := false
	for _, o := range triggered {
		e.pf.RemovePending(o.ID)
		refPrice, withSlippage := o.Price, false
		if o.Type == portfolio.OrderTypeStop {
			// 触发后的 stop 等价于市价单；限价单按限价成交，
			// 价格在下单时已经承诺。
			refPrice, withSlippage = price, true
		}
		if err := e.execute(o, refPrice, withSlippage); err != nil {
			logger.Warnf("pending order %s failed on trigger: %v", o.ID, err)
			continue
		}
		filled = true
	}

	if _, held := e.pf.Positions[symbol]; held && !filled {
		// 持仓估值变化也要形成 equity 采样；成交路径已经采过样。
		e.appendEquity(e.nowFn())
	}
}

func (e *Engine) shouldFill(o *portfolio.Order, price float64) bool {
	switch o.Type {
	case portfolio.OrderTypeLimit:
		if o.Side == portfolio.SideBuy {
			return price <= o.Price
		}
		return price >= o.Price
	case portfolio.OrderTypeStop:
		if o.Side == portfolio.SideSell {
			return price <= o.StopPrice
		}
		return price >= o.StopPrice
	}
	return false
}

// CancelOrder 取消一笔挂单。
func (e *Engine) CancelOrder(id string) error {
	order := e.pf.FindPending(id)
	if order == nil {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	if err := order.Cancel(); err != nil {
		return err
	}
	e.pf.RemovePending(id)
	for _, l := range e.orderListeners {
		l.OnOrderCancelled(order)
	}
	return nil
}

// CancelAll 取消全部挂单，返回取消数量。
func (e *Engine) CancelAll() int {
	pending := append([]*portfolio.Order(nil), e.pf.PendingOrders...)
	n := 0
	for _, o := range pending {
		if err := e.CancelOrder(o.ID); err == nil {
			n++
		}
	}
	return n
}

// CheckEmergencyConditions 对比当前净值与回撤阈值；触发后粘滞，
// 只有显式 Reset 才能恢复交易。
func (e *Engine) CheckEmergencyConditions() bool {
	if e.emergencyStop {
		return true
	}
	threshold := e.pf.InitialCash * (1 - e.exec.EmergencyDrawdown)
	if e.PortfolioValue() <= threshold {
		e.emergencyStop = true
		logger.Errorf("emergency stop engaged: portfolio value %.2f below threshold %.2f",
			e.PortfolioValue(), threshold)
	}
	return e.emergencyStop
}

// Reset 恢复初始现金、清空状态并解除紧急停止。
func (e *Engine) Reset() {
	e.pf.Reset(e.nowFn())
	e.prices = make(map[string]float64)
	e.emergencyStop = false
}

func (e *Engine) appendEquity(at time.Time) {
	equity := e.PortfolioValue()
	e.pf.AppendEquity(at, equity)
	point := portfolio.EquityPoint{Timestamp: at, Equity: equity}
	for _, l := range e.equityListeners {
		l.OnEquityPoint(point)
	}
}
