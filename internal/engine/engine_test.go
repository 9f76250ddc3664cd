package engine

import (
	"errors"
	"testing"
	"time"

	"marlin/internal/portfolio"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

func newTestEngine(cash float64, risk portfolio.RiskConfig, exec ExecConfig) *Engine {
	e := New(cash, risk, exec, false)
	e.SetClock(func() time.Time { return testNow })
	return e
}

// stubExecutor 以固定价格成交，隔离滑点让断言可精确。
type stubExecutor struct {
	price      float64
	commission float64
	err        error
	calls      int
}

func (s *stubExecutor) Execute(o *portfolio.Order) (float64, float64, error) {
	s.calls++
	if s.err != nil {
		return 0, 0, s.err
	}
	return s.price, s.commission, nil
}

func TestPlaceOrderShapeValidation(t *testing.T) {
	e := newTestEngine(10000, portfolio.RiskConfig{}, ExecConfig{})
	e.UpdateMarketPrice("BTC/USDT", 100)

	cases := []OrderRequest{
		{Symbol: "", Side: portfolio.SideBuy, Type: portfolio.OrderTypeMarket, Quantity: 1},
		{Symbol: "BTC/USDT", Side: "short", Type: portfolio.OrderTypeMarket, Quantity: 1},
		{Symbol: "BTC/USDT", Side: portfolio.SideBuy, Type: "oco", Quantity: 1},
		{Symbol: "BTC/USDT", Side: portfolio.SideBuy, Type: portfolio.OrderTypeMarket, Quantity: 0},
		{Symbol: "BTC/USDT", Side: portfolio.SideBuy, Type: portfolio.OrderTypeLimit, Quantity: 1},
		{Symbol: "BTC/USDT", Side: portfolio.SideBuy, Type: portfolio.OrderTypeStop, Quantity: 1},
	}
	for i, req := range cases {
		order, err := e.PlaceOrder(req)
		assert.ErrorIs(t, err, ErrInvalidOrder, "case %d", i)
		require.NotNil(t, order, "case %d", i)
		assert.Equal(t, portfolio.OrderStatusRejected, order.Status, "case %d", i)
		assert.NotEmpty(t, order.Reason, "case %d", i)
	}
}

func TestMarketOrderNeedsKnownPrice(t *testing.T) {
	e := newTestEngine(10000, portfolio.RiskConfig{}, ExecConfig{})
	_, err := e.PlaceOrder(OrderRequest{
		Symbol: "BTC/USDT", Side: portfolio.SideBuy,
		Type: portfolio.OrderTypeMarket, Quantity: 1,
	})
	assert.ErrorIs(t, err, ErrInvalidOrder)
}

func TestMarketRoundTripWithExecutor(t *testing.T) {
	e := newTestEngine(10000, portfolio.RiskConfig{}, ExecConfig{})
	e.UpdateMarketPrice("BTC/USDT", 100)
	exec := &stubExecutor{price: 100}
	e.SetExecutor(exec)

	buy, err := e.PlaceOrder(OrderRequest{
		Symbol: "BTC/USDT", Side: portfolio.SideBuy,
		Type: portfolio.OrderTypeMarket, Quantity: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, portfolio.OrderStatusFilled, buy.Status)
	assert.Equal(t, 100.0, buy.FillPrice)
	assert.Equal(t, 9000.0, e.Portfolio().Cash)
	require.Contains(t, e.Portfolio().Positions, "BTC/USDT")
	assert.Equal(t, 10.0, e.Portfolio().Positions["BTC/USDT"].Quantity)

	exec.price = 110
	sell, err := e.PlaceOrder(OrderRequest{
		Symbol: "BTC/USDT", Side: portfolio.SideSell,
		Type: portfolio.OrderTypeMarket, Quantity: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, portfolio.OrderStatusFilled, sell.Status)
	assert.Equal(t, 10100.0, e.Portfolio().Cash)
	assert.NotContains(t, e.Portfolio().Positions, "BTC/USDT")

	require.Len(t, e.Portfolio().TradeHistory, 2)
	assert.InDelta(t, 100.0, e.Portfolio().TradeHistory[1].PnL, 1e-9)
}

func TestExecutorFailureRejectsOrder(t *testing.T) {
	e := newTestEngine(10000, portfolio.RiskConfig{}, ExecConfig{})
	e.UpdateMarketPrice("BTC/USDT", 100)
	e.SetExecutor(&stubExecutor{err: errors.New("binance: MIN_NOTIONAL")})

	order, err := e.PlaceOrder(OrderRequest{
		Symbol: "BTC/USDT", Side: portfolio.SideBuy,
		Type: portfolio.OrderTypeMarket, Quantity: 1,
	})
	assert.ErrorIs(t, err, ErrExchangeRejected)
	assert.Equal(t, portfolio.OrderStatusRejected, order.Status)
	// 失败的成交不得触碰组合
	assert.Equal(t, 10000.0, e.Portfolio().Cash)
	assert.Empty(t, e.Portfolio().PendingOrders)
}

func TestInsufficientFunds(t *testing.T) {
	e := newTestEngine(1000, portfolio.RiskConfig{}, ExecConfig{})
	e.UpdateMarketPrice("BTC/USDT", 100)

	order, err := e.PlaceOrder(OrderRequest{
		Symbol: "BTC/USDT", Side: portfolio.SideBuy,
		Type: portfolio.OrderTypeMarket, Quantity: 11,
	})
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, portfolio.OrderStatusRejected, order.Status)
	assert.Equal(t, 1000.0, e.Portfolio().Cash)
}

func TestInsufficientPosition(t *testing.T) {
	e := newTestEngine(10000, portfolio.RiskConfig{}, ExecConfig{})
	e.UpdateMarketPrice("BTC/USDT", 100)

	_, err := e.PlaceOrder(OrderRequest{
		Symbol: "BTC/USDT", Side: portfolio.SideSell,
		Type: portfolio.OrderTypeMarket, Quantity: 1,
	})
	assert.ErrorIs(t, err, ErrInsufficientPosition)

	// 持仓不足额也拒绝
	e.SetExecutor(&stubExecutor{price: 100})
	_, err = e.PlaceOrder(OrderRequest{
		Symbol: "BTC/USDT", Side: portfolio.SideBuy,
		Type: portfolio.OrderTypeMarket, Quantity: 2,
	})
	require.NoError(t, err)
	_, err = e.PlaceOrder(OrderRequest{
		Symbol: "BTC/USDT", Side: portfolio.SideSell,
		Type: portfolio.OrderTypeMarket, Quantity: 3,
	})
	assert.ErrorIs(t, err, ErrInsufficientPosition)
}

func TestMaxPositionsAllowsAddingToExisting(t *testing.T) {
	e := newTestEngine(10000, portfolio.RiskConfig{MaxPositions: 1}, ExecConfig{})
	e.UpdateMarketPrice("BTC/USDT", 100)
	e.UpdateMarketPrice("ETH/USDT", 50)
	e.SetExecutor(&stubExecutor{price: 100})

	_, err := e.PlaceOrder(OrderRequest{
		Symbol: "BTC/USDT", Side: portfolio.SideBuy,
		Type: portfolio.OrderTypeMarket, Quantity: 1,
	})
	require.NoError(t, err)

	// 新 symbol 超出上限
	_, err = e.PlaceOrder(OrderRequest{
		Symbol: "ETH/USDT", Side: portfolio.SideBuy,
		Type: portfolio.OrderTypeMarket, Quantity: 1,
	})
	assert.ErrorIs(t, err, ErrMaxPositionsReached)

	// 已持有的 symbol 加仓不受 MaxPositions 限制
	_, err = e.PlaceOrder(OrderRequest{
		Symbol: "BTC/USDT", Side: portfolio.SideBuy,
		Type: portfolio.OrderTypeMarket, Quantity: 1,
	})
	assert.NoError(t, err)
}

func TestRiskPerTradeUsesStopLossDistance(t *testing.T) {
	e := newTestEngine(10000, portfolio.RiskConfig{MaxRiskPerTrade: 0.1}, ExecConfig{})
	e.UpdateMarketPrice("BTC/USDT", 100)
	e.SetExecutor(&stubExecutor{price: 100})

	// 无止损：全额名义额 2000 > 10% × 10000
	_, err := e.PlaceOrder(OrderRequest{
		Symbol: "BTC/USDT", Side: portfolio.SideBuy,
		Type: portfolio.OrderTypeMarket, Quantity: 20,
	})
	assert.ErrorIs(t, err, ErrRiskLimitExceeded)

	// 申报止损后按止损距离计风险：|100-95|×20 = 100 ≤ 1000
	_, err = e.PlaceOrder(OrderRequest{
		Symbol: "BTC/USDT", Side: portfolio.SideBuy,
		Type: portfolio.OrderTypeMarket, Quantity: 20, StopLoss: 95,
	})
	assert.NoError(t, err)
}

func TestTotalRiskLimit(t *testing.T) {
	e := newTestEngine(10000, portfolio.RiskConfig{MaxTotalRisk: 0.5}, ExecConfig{})
	e.UpdateMarketPrice("BTC/USDT", 100)
	e.SetExecutor(&stubExecutor{price: 100})

	_, err := e.PlaceOrder(OrderRequest{
		Symbol: "BTC/USDT", Side: portfolio.SideBuy,
		Type: portfolio.OrderTypeMarket, Quantity: 40,
	})
	require.NoError(t, err)

	// 已有敞口 4000，再加 2000 超过 50% × 组合市值
	_, err = e.PlaceOrder(OrderRequest{
		Symbol: "BTC/USDT", Side: portfolio.SideBuy,
		Type: portfolio.OrderTypeMarket, Quantity: 20,
	})
	assert.ErrorIs(t, err, ErrRiskLimitExceeded)
}

func TestSimulatedFillAppliesAdverseSlippage(t *testing.T) {
	exec := ExecConfig{BaseSlippage: 0.001, MaxSlippage: 0.005, ImpactNotional: 100000}
	e := newTestEngine(100000, portfolio.RiskConfig{}, exec)
	e.UpdateMarketPrice("BTC/USDT", 50000)

	buy, err := e.PlaceOrder(OrderRequest{
		Symbol: "BTC/USDT", Side: portfolio.SideBuy,
		Type: portfolio.OrderTypeMarket, Quantity: 1,
	})
	require.NoError(t, err)
	// 名义额 50000 → 滑点 0.001×1.5 = 0.0015
	assert.InDelta(t, 50075.0, buy.FillPrice, 1e-6)
	assert.Greater(t, buy.FillPrice, 50000.0)

	sell, err := e.PlaceOrder(OrderRequest{
		Symbol: "BTC/USDT", Side: portfolio.SideSell,
		Type: portfolio.OrderTypeMarket, Quantity: 1,
	})
	require.NoError(t, err)
	assert.Less(t, sell.FillPrice, 50000.0)
}

func TestCommissionChargedOnFill(t *testing.T) {
	exec := ExecConfig{BaseSlippage: 1e-9, MaxSlippage: 1e-9, CommissionRate: 0.001}
	e := newTestEngine(10000, portfolio.RiskConfig{}, exec)
	e.UpdateMarketPrice("BTC/USDT", 100)

	_, err := e.PlaceOrder(OrderRequest{
		Symbol: "BTC/USDT", Side: portfolio.SideBuy,
		Type: portfolio.OrderTypeMarket, Quantity: 10,
	})
	require.NoError(t, err)

	require.Len(t, e.Portfolio().TradeHistory, 1)
	trade := e.Portfolio().TradeHistory[0]
	assert.InDelta(t, trade.Price*10*0.001, trade.Commission, 1e-6)
	assert.InDelta(t, 10000-trade.Price*10-trade.Commission, e.Portfolio().Cash, 1e-6)
}

func TestLimitBuyFillsAtLimitPrice(t *testing.T) {
	e := newTestEngine(10000, portfolio.RiskConfig{}, ExecConfig{})
	e.UpdateMarketPrice("BTC/USDT", 100)

	order, err := e.PlaceOrder(OrderRequest{
		Symbol: "BTC/USDT", Side: portfolio.SideBuy,
		Type: portfolio.OrderTypeLimit, Quantity: 10, Price: 95,
	})
	require.NoError(t, err)
	assert.Equal(t, portfolio.OrderStatusPending, order.Status)
	require.Len(t, e.Portfolio().PendingOrders, 1)

	// 未触及限价
	e.UpdateMarketPrice("BTC/USDT", 96)
	assert.Equal(t, portfolio.OrderStatusPending, order.Status)

	// 穿越限价：按限价成交，不加滑点
	e.UpdateMarketPrice("BTC/USDT", 94)
	assert.Equal(t, portfolio.OrderStatusFilled, order.Status)
	assert.Equal(t, 95.0, order.FillPrice)
	assert.Empty(t, e.Portfolio().PendingOrders)
	assert.Equal(t, 10.0, e.Portfolio().Positions["BTC/USDT"].Quantity)
}

func TestLimitSellFillsAtOrAboveLimit(t *testing.T) {
	e := newTestEngine(10000, portfolio.RiskConfig{}, ExecConfig{})
	e.UpdateMarketPrice("BTC/USDT", 100)
	e.SetExecutor(&stubExecutor{price: 100})
	_, err := e.PlaceOrder(OrderRequest{
		Symbol: "BTC/USDT", Side: portfolio.SideBuy,
		Type: portfolio.OrderTypeMarket, Quantity: 10,
	})
	require.NoError(t, err)
	e.SetExecutor(nil)

	order, err := e.PlaceOrder(OrderRequest{
		Symbol: "BTC/USDT", Side: portfolio.SideSell,
		Type: portfolio.OrderTypeLimit, Quantity: 10, Price: 105,
	})
	require.NoError(t, err)

	e.UpdateMarketPrice("BTC/USDT", 104)
	assert.Equal(t, portfolio.OrderStatusPending, order.Status)

	e.UpdateMarketPrice("BTC/USDT", 106)
	assert.Equal(t, portfolio.OrderStatusFilled, order.Status)
	assert.Equal(t, 105.0, order.FillPrice)
}

func TestStopSellTriggersAsMarketWithSlippage(t *testing.T) {
	exec := ExecConfig{BaseSlippage: 0.001, MaxSlippage: 0.005}
	e := newTestEngine(10000, portfolio.RiskConfig{}, exec)
	e.UpdateMarketPrice("BTC/USDT", 100)
	e.SetExecutor(&stubExecutor{price: 100})
	_, err := e.PlaceOrder(OrderRequest{
		Symbol: "BTC/USDT", Side: portfolio.SideBuy,
		Type: portfolio.OrderTypeMarket, Quantity: 10,
	})
	require.NoError(t, err)
	e.SetExecutor(nil)

	order, err := e.PlaceOrder(OrderRequest{
		Symbol: "BTC/USDT", Side: portfolio.SideSell,
		Type: portfolio.OrderTypeStop, Quantity: 10, StopPrice: 90,
	})
	require.NoError(t, err)

	e.UpdateMarketPrice("BTC/USDT", 91)
	assert.Equal(t, portfolio.OrderStatusPending, order.Status)

	// 跌破触发价：按触发时市价成交并承受滑点
	e.UpdateMarketPrice("BTC/USDT", 89)
	assert.Equal(t, portfolio.OrderStatusFilled, order.Status)
	assert.Less(t, order.FillPrice, 89.0)
}

func TestPendingBuyRejectedWhenFundsGone(t *testing.T) {
	e := newTestEngine(10000, portfolio.RiskConfig{}, ExecConfig{})
	e.UpdateMarketPrice("BTC/USDT", 100)
	e.UpdateMarketPrice("ETH/USDT", 100)

	// 下单时资金足够
	order, err := e.PlaceOrder(OrderRequest{
		Symbol: "BTC/USDT", Side: portfolio.SideBuy,
		Type: portfolio.OrderTypeLimit, Quantity: 90, Price: 100,
	})
	require.NoError(t, err)

	// 资金被另一笔市价单花掉
	e.SetExecutor(&stubExecutor{price: 100})
	_, err = e.PlaceOrder(OrderRequest{
		Symbol: "ETH/USDT", Side: portfolio.SideBuy,
		Type: portfolio.OrderTypeMarket, Quantity: 50,
	})
	require.NoError(t, err)
	e.SetExecutor(nil)

	// 触发时余额不足：订单转 rejected，绝不留在 pending
	e.UpdateMarketPrice("BTC/USDT", 99)
	assert.Equal(t, portfolio.OrderStatusRejected, order.Status)
	assert.Nil(t, e.Portfolio().FindPending(order.ID))
}

func TestOverlappingPendingSellsDoNotOversell(t *testing.T) {
	e := newTestEngine(10000, portfolio.RiskConfig{}, ExecConfig{})
	e.UpdateMarketPrice("BTC/USDT", 100)
	e.SetExecutor(&stubExecutor{price: 100})
	_, err := e.PlaceOrder(OrderRequest{
		Symbol: "BTC/USDT", Side: portfolio.SideBuy,
		Type: portfolio.OrderTypeMarket, Quantity: 10,
	})
	require.NoError(t, err)
	e.SetExecutor(nil)

	// 两笔 6 个的限价卖在下单时各自通过持仓校验
	first, err := e.PlaceOrder(OrderRequest{
		Symbol: "BTC/USDT", Side: portfolio.SideSell,
		Type: portfolio.OrderTypeLimit, Quantity: 6, Price: 105,
	})
	require.NoError(t, err)
	second, err := e.PlaceOrder(OrderRequest{
		Symbol: "BTC/USDT", Side: portfolio.SideSell,
		Type: portfolio.OrderTypeLimit, Quantity: 6, Price: 105,
	})
	require.NoError(t, err)

	// 同一次价格更新触发两笔：第一笔成交，第二笔持仓不足转 rejected，
	// 现金只贷记实际成交的那一笔
	e.UpdateMarketPrice("BTC/USDT", 106)

	assert.Equal(t, portfolio.OrderStatusFilled, first.Status)
	assert.Equal(t, portfolio.OrderStatusRejected, second.Status)
	assert.Empty(t, e.Portfolio().PendingOrders)
	assert.Equal(t, 4.0, e.Portfolio().Positions["BTC/USDT"].Quantity)
	// 买入 10×100，卖出 6×105
	assert.InDelta(t, 10000-1000+630, e.Portfolio().Cash, 1e-9)
	require.Len(t, e.Portfolio().TradeHistory, 2)
	assert.Equal(t, 6.0, e.Portfolio().TradeHistory[1].Quantity)
}

func TestEquitySampledWhenTriggerRejected(t *testing.T) {
	e := newTestEngine(1000, portfolio.RiskConfig{}, ExecConfig{})
	e.UpdateMarketPrice("BTC/USDT", 100)
	e.SetExecutor(&stubExecutor{price: 100})
	_, err := e.PlaceOrder(OrderRequest{
		Symbol: "BTC/USDT", Side: portfolio.SideBuy,
		Type: portfolio.OrderTypeMarket, Quantity: 5,
	})
	require.NoError(t, err)
	e.SetExecutor(nil)

	order, err := e.PlaceOrder(OrderRequest{
		Symbol: "BTC/USDT", Side: portfolio.SideBuy,
		Type: portfolio.OrderTypeLimit, Quantity: 4, Price: 100,
	})
	require.NoError(t, err)

	// 资金被别处占用，触发时扣款必然失败
	require.NoError(t, e.Portfolio().Debit(450))
	before := len(e.Portfolio().EquityHistory)

	e.UpdateMarketPrice("BTC/USDT", 95)
	assert.Equal(t, portfolio.OrderStatusRejected, order.Status)

	// 该次价格变动没有成交，但持仓估值变了，仍要有 equity 采样
	history := e.Portfolio().EquityHistory
	require.Len(t, history, before+1)
	assert.InDelta(t, 50+5*95, history[len(history)-1].Equity, 1e-9)
}

func TestCancelOrder(t *testing.T) {
	e := newTestEngine(10000, portfolio.RiskConfig{}, ExecConfig{})
	e.UpdateMarketPrice("BTC/USDT", 100)

	order, err := e.PlaceOrder(OrderRequest{
		Symbol: "BTC/USDT", Side: portfolio.SideBuy,
		Type: portfolio.OrderTypeLimit, Quantity: 1, Price: 95,
	})
	require.NoError(t, err)

	require.NoError(t, e.CancelOrder(order.ID))
	assert.Equal(t, portfolio.OrderStatusCancelled, order.Status)
	assert.Empty(t, e.Portfolio().PendingOrders)

	assert.ErrorIs(t, e.CancelOrder(order.ID), ErrOrderNotFound)
	assert.ErrorIs(t, e.CancelOrder("missing"), ErrOrderNotFound)
}

func TestCancelAll(t *testing.T) {
	e := newTestEngine(10000, portfolio.RiskConfig{}, ExecConfig{})
	e.UpdateMarketPrice("BTC/USDT", 100)

	for i := 0; i < 3; i++ {
		_, err := e.PlaceOrder(OrderRequest{
			Symbol: "BTC/USDT", Side: portfolio.SideBuy,
			Type: portfolio.OrderTypeLimit, Quantity: 1, Price: 90 - float64(i),
		})
		require.NoError(t, err)
	}
	assert.Equal(t, 3, e.CancelAll())
	assert.Empty(t, e.Portfolio().PendingOrders)
	assert.Equal(t, 0, e.CancelAll())
}

func TestEmergencyStopIsSticky(t *testing.T) {
	exec := ExecConfig{EmergencyDrawdown: 0.1}
	e := newTestEngine(10000, portfolio.RiskConfig{}, exec)
	e.UpdateMarketPrice("BTC/USDT", 10000)
	e.SetExecutor(&stubExecutor{price: 10000})

	_, err := e.PlaceOrder(OrderRequest{
		Symbol: "BTC/USDT", Side: portfolio.SideBuy,
		Type: portfolio.OrderTypeMarket, Quantity: 1,
	})
	require.NoError(t, err)
	e.SetExecutor(nil)

	assert.False(t, e.CheckEmergencyConditions())

	// 净值跌破 90% 阈值
	e.UpdateMarketPrice("BTC/USDT", 8900)
	assert.True(t, e.CheckEmergencyConditions())
	assert.True(t, e.EmergencyStopped())

	_, err = e.PlaceOrder(OrderRequest{
		Symbol: "BTC/USDT", Side: portfolio.SideSell,
		Type: portfolio.OrderTypeMarket, Quantity: 1,
	})
	assert.ErrorIs(t, err, ErrEmergencyStopActive)

	// 价格恢复也不解除，粘滞直到显式 Reset
	e.UpdateMarketPrice("BTC/USDT", 12000)
	assert.True(t, e.CheckEmergencyConditions())

	e.Reset()
	assert.False(t, e.EmergencyStopped())
	assert.Equal(t, 10000.0, e.Portfolio().Cash)
	assert.False(t, e.CheckEmergencyConditions())
}

func TestConfirmationGateOnLiveEngine(t *testing.T) {
	risk := portfolio.RiskConfig{ConfirmationRequired: true}
	e := New(10000, risk, ExecConfig{}, true)
	e.SetClock(func() time.Time { return testNow })
	e.SetExecutor(&stubExecutor{price: 100})
	e.UpdateMarketPrice("BTC/USDT", 100)

	_, err := e.PlaceOrder(OrderRequest{
		Symbol: "BTC/USDT", Side: portfolio.SideBuy,
		Type: portfolio.OrderTypeMarket, Quantity: 1,
	})
	assert.ErrorIs(t, err, ErrConfirmationRequired)

	e.Confirm()
	_, err = e.PlaceOrder(OrderRequest{
		Symbol: "BTC/USDT", Side: portfolio.SideBuy,
		Type: portfolio.OrderTypeMarket, Quantity: 1,
	})
	assert.NoError(t, err)
}

func TestEquitySampledOnPriceMove(t *testing.T) {
	e := newTestEngine(10000, portfolio.RiskConfig{}, ExecConfig{})
	e.UpdateMarketPrice("BTC/USDT", 100)
	e.SetExecutor(&stubExecutor{price: 100})
	_, err := e.PlaceOrder(OrderRequest{
		Symbol: "BTC/USDT", Side: portfolio.SideBuy,
		Type: portfolio.OrderTypeMarket, Quantity: 10,
	})
	require.NoError(t, err)

	before := len(e.Portfolio().EquityHistory)
	e.UpdateMarketPrice("BTC/USDT", 110)
	history := e.Portfolio().EquityHistory
	require.Len(t, history, before+1)
	assert.InDelta(t, 10100.0, history[len(history)-1].Equity, 1e-9)
}
