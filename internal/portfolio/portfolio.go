// Package portfolio 定义投资组合、持仓与订单的共享数据模型，
// paper 与 live 两种引擎驱动共用同一套不变量。
package portfolio

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNegativeCash         = errors.New("portfolio cash cannot go negative")
	ErrNoPosition           = errors.New("no position for symbol")
	ErrInsufficientQuantity = errors.New("position quantity insufficient")
)

// Position 仅在 Quantity > 0 时存在；同向加仓按名义额加权摊平均价。
type Position struct {
	Symbol   string  `json:"symbol"`
	Quantity float64 `json:"quantity"`
	AvgPrice float64 `json:"avg_price"`
}

// Trade 是一笔已完成的成交记录。
type Trade struct {
	ID         string    `json:"id"`
	OrderID    string    `json:"order_id"`
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Quantity   float64   `json:"quantity"`
	Price      float64   `json:"price"`
	Commission float64   `json:"commission"`
	PnL        float64   `json:"pnl"` // 卖出时相对持仓均价的已实现盈亏
	ExecutedAt time.Time `json:"executed_at"`
}

// EquityPoint 只追加、不修改。
type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Equity    float64   `json:"equity"`
}

// RiskConfig 构造后只读。
type RiskConfig struct {
	MaxPositions         int     `json:"max_positions"`
	MaxRiskPerTrade      float64 `json:"max_risk_per_trade"` // 占组合市值比例
	MaxTotalRisk         float64 `json:"max_total_risk"`
	ConfirmationRequired bool    `json:"confirmation_required"`
}

// Portfolio 持有现金、持仓、挂单与历史，只能经由引擎方法修改。
// 不变量：Cash ≥ 0（无保证金），终态订单保留在 OrderHistory。
type Portfolio struct {
	InitialCash   float64
	Cash          float64
	Positions     map[string]*Position
	PendingOrders []*Order
	OrderHistory  []*Order
	TradeHistory  []Trade
	EquityHistory []EquityPoint
}

// New 以初始现金创建组合并写入第一条 equity 记录。
func New(initialCash float64, now time.Time) *Portfolio {
	p := &Portfolio{
		InitialCash: initialCash,
		Cash:        initialCash,
		Positions:   make(map[string]*Position),
	}
	p.AppendEquity(now, initialCash)
	return p
}

// Reset 恢复初始现金并清空持仓、挂单与历史。
func (p *Portfolio) Reset(now time.Time) {
	p.Cash = p.InitialCash
	p.Positions = make(map[string]*Position)
	p.PendingOrders = nil
	p.OrderHistory = nil
	p.TradeHistory = nil
	p.EquityHistory = nil
	p.AppendEquity(now, p.InitialCash)
}

// Debit 扣减现金，余额不足时报错且不做部分扣减。
func (p *Portfolio) Debit(amount float64) error {
	if amount > p.Cash {
		return fmt.Errorf("%w: need %.8f, have %.8f", ErrNegativeCash, amount, p.Cash)
	}
	p.Cash -= amount
	return nil
}

// Credit 增加现金。
func (p *Portfolio) Credit(amount float64) {
	p.Cash += amount
}

// ApplyBuy 按成交价合入买单：新开仓或同向加权摊平。
func (p *Portfolio) ApplyBuy(symbol string, quantity, price float64) {
	pos, ok := p.Positions[symbol]
	if !ok {
		p.Positions[symbol] = &Position{Symbol: symbol, Quantity: quantity, AvgPrice: price}
		return
	}
	total := pos.Quantity + quantity
	pos.AvgPrice = (pos.AvgPrice*pos.Quantity + price*quantity) / total
	pos.Quantity = total
}

// ApplySell 减仓；持仓不足时报错且不做部分减仓，数量降到零时移除持仓。
// 返回相对均价的已实现盈亏。
func (p *Portfolio) ApplySell(symbol string, quantity, price float64) (float64, error) {
	pos, ok := p.Positions[symbol]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNoPosition, symbol)
	}
	if quantity > pos.Quantity {
		return 0, fmt.Errorf("%w: %s holds %.8f, selling %.8f",
			ErrInsufficientQuantity, symbol, pos.Quantity, quantity)
	}
	pnl := quantity * (price - pos.AvgPrice)
	pos.Quantity -= quantity
	if pos.Quantity <= 0 {
		delete(p.Positions, symbol)
	}
	return pnl, nil
}

// TotalValue = 现金 + Σ 持仓数量 × 最新价。缺价的持仓按均价估值。
func (p *Portfolio) TotalValue(prices map[string]float64) float64 {
	total := p.Cash
	for symbol, pos := range p.Positions {
		price, ok := prices[symbol]
		if !ok {
			price = pos.AvgPrice
		}
		total += pos.Quantity * price
	}
	return total
}

// AppendEquity 追加一条 equity 采样。
func (p *Portfolio) AppendEquity(at time.Time, equity float64) {
	p.EquityHistory = append(p.EquityHistory, EquityPoint{Timestamp: at, Equity: equity})
}

// RemovePending 把一笔挂单从 PendingOrders 摘除（订单本身保留在历史）。
func (p *Portfolio) RemovePending(id string) bool {
	for i, o := range p.PendingOrders {
		if o.ID == id {
			p.PendingOrders = append(p.PendingOrders[:i], p.PendingOrders[i+1:]...)
			return true
		}
	}
	return false
}

// FindPending 返回指定 ID 的挂单。
func (p *Portfolio) FindPending(id string) *Order {
	for _, o := range p.PendingOrders {
		if o.ID == id {
			return o
		}
	}
	return nil
}
