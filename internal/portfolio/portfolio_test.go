package portfolio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

func TestNewPortfolio(t *testing.T) {
	p := New(10000, now)
	assert.Equal(t, 10000.0, p.Cash)
	assert.Equal(t, 10000.0, p.InitialCash)
	assert.Empty(t, p.Positions)
	require.Len(t, p.EquityHistory, 1)
	assert.Equal(t, 10000.0, p.EquityHistory[0].Equity)
}

func TestDebitNeverGoesNegative(t *testing.T) {
	p := New(100, now)

	require.NoError(t, p.Debit(60))
	assert.Equal(t, 40.0, p.Cash)

	err := p.Debit(40.01)
	assert.ErrorIs(t, err, ErrNegativeCash)
	// 失败的扣减不得部分生效
	assert.Equal(t, 40.0, p.Cash)
}

func TestApplyBuyAveragesEntryPrice(t *testing.T) {
	p := New(10000, now)

	p.ApplyBuy("BTC/USDT", 1, 100)
	p.ApplyBuy("BTC/USDT", 1, 200)

	pos := p.Positions["BTC/USDT"]
	require.NotNil(t, pos)
	assert.Equal(t, 2.0, pos.Quantity)
	assert.InDelta(t, 150.0, pos.AvgPrice, 1e-9)
}

func TestApplySellRealizesPnL(t *testing.T) {
	p := New(10000, now)
	p.ApplyBuy("BTC/USDT", 2, 100)

	pnl, err := p.ApplySell("BTC/USDT", 1, 120)
	require.NoError(t, err)
	assert.InDelta(t, 20.0, pnl, 1e-9)
	assert.Equal(t, 1.0, p.Positions["BTC/USDT"].Quantity)

	// 超卖报错且不做部分减仓
	_, err = p.ApplySell("BTC/USDT", 5, 90)
	assert.ErrorIs(t, err, ErrInsufficientQuantity)
	assert.Equal(t, 1.0, p.Positions["BTC/USDT"].Quantity)

	// 清仓后持仓条目删除
	pnl, err = p.ApplySell("BTC/USDT", 1, 90)
	require.NoError(t, err)
	assert.InDelta(t, -10.0, pnl, 1e-9)
	assert.NotContains(t, p.Positions, "BTC/USDT")

	_, err = p.ApplySell("BTC/USDT", 1, 100)
	assert.ErrorIs(t, err, ErrNoPosition)
}

func TestTotalValue(t *testing.T) {
	p := New(1000, now)
	require.NoError(t, p.Debit(500))
	p.ApplyBuy("BTC/USDT", 5, 100)
	p.ApplyBuy("ETH/USDT", 2, 50)

	total := p.TotalValue(map[string]float64{"BTC/USDT": 110})
	// 现金 500 + BTC 5×110 + ETH 缺价按均价 2×50
	assert.InDelta(t, 1150.0, total, 1e-9)
}

func TestResetRestoresInitialState(t *testing.T) {
	p := New(10000, now)
	require.NoError(t, p.Debit(5000))
	p.ApplyBuy("BTC/USDT", 1, 5000)
	p.PendingOrders = append(p.PendingOrders, NewOrder("BTC/USDT", SideBuy, OrderTypeLimit, 1))

	p.Reset(now.Add(time.Hour))

	assert.Equal(t, 10000.0, p.Cash)
	assert.Empty(t, p.Positions)
	assert.Empty(t, p.PendingOrders)
	assert.Empty(t, p.OrderHistory)
	require.Len(t, p.EquityHistory, 1)
}

func TestOrderLifecycle(t *testing.T) {
	o := NewOrder("BTC/USDT", SideBuy, OrderTypeMarket, 1)
	assert.NotEmpty(t, o.ID)
	assert.Equal(t, OrderStatusPending, o.Status)
	assert.False(t, o.Status.Terminal())

	require.NoError(t, o.Fill(100, now))
	assert.Equal(t, OrderStatusFilled, o.Status)
	assert.Equal(t, 100.0, o.FillPrice)
	assert.True(t, o.Status.Terminal())

	// 终态订单拒绝任何再转换
	assert.ErrorIs(t, o.Cancel(), ErrTerminalOrder)
	assert.ErrorIs(t, o.Reject("late"), ErrTerminalOrder)
	assert.Equal(t, OrderStatusFilled, o.Status)
}

func TestOrderRejectKeepsReason(t *testing.T) {
	o := NewOrder("BTC/USDT", SideSell, OrderTypeMarket, 1)
	require.NoError(t, o.Reject("insufficient position"))
	assert.Equal(t, OrderStatusRejected, o.Status)
	assert.Equal(t, "insufficient position", o.Reason)

	assert.ErrorIs(t, o.Fill(100, now), ErrTerminalOrder)
}

func TestRemoveAndFindPending(t *testing.T) {
	p := New(1000, now)
	a := NewOrder("BTC/USDT", SideBuy, OrderTypeLimit, 1)
	b := NewOrder("BTC/USDT", SideSell, OrderTypeLimit, 1)
	p.PendingOrders = []*Order{a, b}

	assert.Same(t, b, p.FindPending(b.ID))
	assert.Nil(t, p.FindPending("missing"))

	assert.True(t, p.RemovePending(a.ID))
	assert.False(t, p.RemovePending(a.ID))
	require.Len(t, p.PendingOrders, 1)
	assert.Same(t, b, p.PendingOrders[0])
}
