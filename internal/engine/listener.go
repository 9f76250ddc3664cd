package engine

import "marlin/internal/portfolio"

// OrderListener 以注册顺序被同步调用；回调里不得再调用引擎的写方法。
type OrderListener interface {
	OnOrderPlaced(o *portfolio.Order)
	OnOrderFilled(o *portfolio.Order, trade portfolio.Trade)
	OnOrderCancelled(o *portfolio.Order)
	OnOrderRejected(o *portfolio.Order)
}

// EquityListener 在每次追加 equity 采样后被调用。
type EquityListener interface {
	OnEquityPoint(p portfolio.EquityPoint)
}
