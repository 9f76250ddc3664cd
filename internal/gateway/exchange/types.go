package exchange

import "time"

// AccountInfo reports committed balances in the stake currency.
type AccountInfo struct {
	StakeCurrency string
	Total         float64
	Available     float64
	Used          float64
	UpdatedAt     time.Time
}

// Position is an open spot position as reported by the exchange.
type Position struct {
	Symbol     string
	Quantity   float64
	EntryPrice float64
	OpenedAt   time.Time
}

// Order mirrors the exchange-side order record.
type Order struct {
	ID         string
	Symbol     string
	Side       string // "buy" or "sell"
	Type       string // "market", "limit", "stop"
	Quantity   float64
	Price      float64
	StopPrice  float64
	Status     string
	FilledQty  float64
	AvgPrice   float64
	Commission float64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// OrderRequest contains parameters for creating an exchange order.
type OrderRequest struct {
	Symbol      string
	Side        string
	Type        string
	Quantity    float64
	Price       float64 // limit price, 0 for market
	StopPrice   float64
	TimeInForce string // "GTC", "IOC", "FOK"
	Tag         string // optional client tag
}
