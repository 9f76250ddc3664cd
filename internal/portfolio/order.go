package portfolio

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

func (s Side) Valid() bool { return s == SideBuy || s == SideSell }

type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
	OrderTypeStop   OrderType = "stop"
)

func (t OrderType) Valid() bool {
	return t == OrderTypeMarket || t == OrderTypeLimit || t == OrderTypeStop
}

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
)

// Terminal 报告该状态是否为终态。
func (s OrderStatus) Terminal() bool { return s != OrderStatusPending }

// ErrTerminalOrder 表示试图修改已处于终态的订单。
var ErrTerminalOrder = errors.New("order already in terminal state")

// Order 由创建它的 Portfolio 独占；状态机为
// pending -> filled | cancelled | rejected，离开终态的转换一律拒绝。
type Order struct {
	ID        string      `json:"id"`
	Symbol    string      `json:"symbol"`
	Side      Side        `json:"side"`
	Type      OrderType   `json:"type"`
	Quantity  float64     `json:"quantity"`
	Price     float64     `json:"price,omitempty"`      // limit 价
	StopPrice float64     `json:"stop_price,omitempty"` // stop 触发价
	StopLoss  float64     `json:"stop_loss,omitempty"`  // 申报的止损价，用于风险计算
	Status    OrderStatus `json:"status"`
	Reason    string      `json:"reason,omitempty"` // rejected 时的原因
	CreatedAt time.Time   `json:"created_at"`
	FilledAt  time.Time   `json:"filled_at,omitempty"`
	FillPrice float64     `json:"fill_price,omitempty"`
}

// NewOrder 生成引擎内部 ID 并以 pending 状态创建订单。
func NewOrder(symbol string, side Side, typ OrderType, quantity float64) *Order {
	return &Order{
		ID:        uuid.NewString(),
		Symbol:    symbol,
		Side:      side,
		Type:      typ,
		Quantity:  quantity,
		Status:    OrderStatusPending,
		CreatedAt: time.Now().UTC(),
	}
}

// transition 是唯一允许修改 Status 的入口。
func (o *Order) transition(next OrderStatus) error {
	if o.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrTerminalOrder, o.ID, o.Status)
	}
	o.Status = next
	return nil
}

// Fill 标记订单成交并记录成交价与时间。
func (o *Order) Fill(price float64, at time.Time) error {
	if err := o.transition(OrderStatusFilled); err != nil {
		return err
	}
	o.FillPrice = price
	o.FilledAt = at
	return nil
}

// Cancel 标记订单取消。
func (o *Order) Cancel() error {
	return o.transition(OrderStatusCancelled)
}

// Reject 标记订单拒绝并记录原因。
func (o *Order) Reject(reason string) error {
	if err := o.transition(OrderStatusRejected); err != nil {
		return err
	}
	o.Reason = reason
	return nil
}
