package model

import "gorm.io/datatypes"

// OrderModel 落库的订单终态记录。
type OrderModel struct {
	ID        int64          `gorm:"column:id;primaryKey"`
	OrderID   string         `gorm:"column:order_id;uniqueIndex"`
	Symbol    string         `gorm:"column:symbol;index"`
	Side      string         `gorm:"column:side"`
	Type      string         `gorm:"column:type"`
	Quantity  float64        `gorm:"column:quantity"`
	Price     float64        `gorm:"column:price"`
	StopPrice float64        `gorm:"column:stop_price"`
	Status    string         `gorm:"column:status;index"`
	Reason    string         `gorm:"column:reason"`
	FillPrice float64        `gorm:"column:fill_price"`
	CreatedAt int64          `gorm:"column:created_at"`
	FilledAt  int64          `gorm:"column:filled_at"`
	Raw       datatypes.JSON `gorm:"column:raw"`
}

func (OrderModel) TableName() string { return "orders" }

// TradeModel 每笔成交一行。
type TradeModel struct {
	ID         int64   `gorm:"column:id;primaryKey"`
	TradeID    string  `gorm:"column:trade_id;uniqueIndex"`
	OrderID    string  `gorm:"column:order_id;index"`
	Symbol     string  `gorm:"column:symbol;index"`
	Side       string  `gorm:"column:side"`
	Quantity   float64 `gorm:"column:quantity"`
	Price      float64 `gorm:"column:price"`
	Commission float64 `gorm:"column:commission"`
	PnL        float64 `gorm:"column:pnl"`
	ExecutedAt int64   `gorm:"column:executed_at;index"`
}

func (TradeModel) TableName() string { return "trades" }

// EquityModel 资金曲线采样。
type EquityModel struct {
	ID        int64   `gorm:"column:id;primaryKey"`
	Timestamp int64   `gorm:"column:timestamp;index"`
	Equity    float64 `gorm:"column:equity"`
}

func (EquityModel) TableName() string { return "equity_points" }
