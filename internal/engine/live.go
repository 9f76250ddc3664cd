package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"marlin/internal/gateway/exchange"
	"marlin/internal/logger"
	"marlin/internal/portfolio"
)

// LiveConfig 描述实盘驱动的附加参数。
type LiveConfig struct {
	HeartbeatInterval time.Duration
	// PriceStep/QuantityStep 下单前按交易所步长取整；0 表示不取整。
	PriceStep    float64
	QuantityStep float64
}

// 停机撤单给交易所往返留的总时限。
const stopCancelTimeout = 10 * time.Second

func (c LiveConfig) withDefaults() LiveConfig {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	return c
}

// LiveTrader 在共享引擎外加一层实盘语义：交易所往返、确认门控、
// 心跳与停机时的全量撤单。
type LiveTrader struct {
	eng *Engine
	ex  exchange.Exchange
	cfg LiveConfig

	baseCtx context.Context

	mu            sync.Mutex
	running       bool
	lastHeartbeat time.Time
	stopHeartbeat chan struct{}
	heartbeatDone sync.WaitGroup
}

func NewLiveTrader(risk portfolio.RiskConfig, exec ExecConfig, ex exchange.Exchange, cfg LiveConfig) *LiveTrader {
	t := &LiveTrader{
		eng:     New(0, risk, exec, true),
		ex:      ex,
		cfg:     cfg.withDefaults(),
		baseCtx: context.Background(),
	}
	t.eng.SetExecutor(t)
	return t
}

func (t *LiveTrader) Engine() *Engine { return t.eng }

func (t *LiveTrader) SetContext(ctx context.Context) {
	if ctx != nil {
		t.baseCtx = ctx
	}
}

// Initialize 从交易所拉取已提交状态（余额、持仓、挂单）初始化组合。
func (t *LiveTrader) Initialize(ctx context.Context) error {
	if err := t.ex.Connect(ctx); err != nil {
		return fmt.Errorf("connecting exchange: %w", err)
	}
	account, err := t.ex.GetAccountInfo(ctx)
	if err != nil {
		return fmt.Errorf("fetching account info: %w", err)
	}
	positions, err := t.ex.GetPositions(ctx)
	if err != nil {
		return fmt.Errorf("fetching positions: %w", err)
	}
	openOrders, err := t.ex.GetOpenOrders(ctx)
	if err != nil {
		return fmt.Errorf("fetching open orders: %w", err)
	}

	pf := t.eng.Portfolio()
	pf.InitialCash = account.Total
	pf.Cash = account.Available
	pf.Positions = make(map[string]*portfolio.Position, len(positions))
	for _, p := range positions {
		pf.Positions[p.Symbol] = &portfolio.Position{
			Symbol:   p.Symbol,
			Quantity: p.Quantity,
			AvgPrice: p.EntryPrice,
		}
	}
	pf.PendingOrders = nil
	for _, o := range openOrders {
		order := portfolio.NewOrder(o.Symbol, portfolio.Side(o.Side), portfolio.OrderType(o.Type), o.Quantity)
		order.ID = o.ID
		order.Price = o.Price
		order.StopPrice = o.StopPrice
		order.CreatedAt = o.CreatedAt
		pf.PendingOrders = append(pf.PendingOrders, order)
		pf.OrderHistory = append(pf.OrderHistory, order)
	}
	pf.AppendEquity(account.UpdatedAt, account.Total)
	logger.Infof("live trader initialized: %s balance %.2f, %d positions, %d open orders",
		t.ex.Name(), account.Total, len(positions), len(openOrders))
	return nil
}

// ConfirmLiveTrading 显式确认实盘交易。
func (t *LiveTrader) ConfirmLiveTrading() { t.eng.Confirm() }

// Start 开启实盘：confirmationRequired 未确认时失败，成功后启动心跳。
func (t *LiveTrader) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return nil
	}
	if t.eng.RiskConfig().ConfirmationRequired && !t.eng.Confirmed() {
		return ErrConfirmationRequired
	}
	t.running = true
	t.lastHeartbeat = time.Now().UTC()
	t.stopHeartbeat = make(chan struct{})
	t.heartbeatDone.Add(1)
	go t.heartbeatLoop(t.stopHeartbeat)
	logger.Infof("live trading started on %s", t.ex.Name())
	return nil
}

// Stop 同步撤掉全部挂单并停掉心跳；返回后不可能再有成交发生。
func (t *LiveTrader) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	close(t.stopHeartbeat)
	t.mu.Unlock()
	t.heartbeatDone.Wait()

	// 撤单不走运行期 context：调用方通常在 context 已取消后才 Stop，
	// 交易所往返必须仍然可达。
	ctx, cancel := context.WithTimeout(context.Background(), stopCancelTimeout)
	defer cancel()
	pending := append([]*portfolio.Order(nil), t.eng.Portfolio().PendingOrders...)
	for _, o := range pending {
		if _, err := t.ex.CancelOrder(ctx, o.ID); err != nil {
			logger.Warnf("cancelling exchange order %s: %v", o.ID, err)
		}
		if err := t.eng.CancelOrder(o.ID); err != nil {
			logger.Warnf("cancelling local order %s: %v", o.ID, err)
		}
	}
	logger.Infof("live trading stopped, %d pending orders cancelled", len(pending))
}

func (t *LiveTrader) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// LastHeartbeat 返回上次心跳成功的时间。
func (t *LiveTrader) LastHeartbeat() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastHeartbeat
}

// heartbeatLoop 只更新时间戳，不触碰引擎状态，因此与事件处理无序
// 竞争。
func (t *LiveTrader) heartbeatLoop(stop <-chan struct{}) {
	defer t.heartbeatDone.Done()
	ticker := time.NewTicker(t.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := t.ex.Ping(t.baseCtx); err != nil {
				logger.Warnf("heartbeat ping failed: %v", err)
				continue
			}
			t.mu.Lock()
			t.lastHeartbeat = time.Now().UTC()
			t.mu.Unlock()
		}
	}
}

// PlaceOrder 未启动时直接拒绝，否则走共享引擎的校验链；市价成交经
// Execute 往返交易所。
func (t *LiveTrader) PlaceOrder(req OrderRequest) (*portfolio.Order, error) {
	if !t.Running() {
		order := portfolio.NewOrder(req.Symbol, req.Side, req.Type, req.Quantity)
		order.Price = req.Price
		order.StopPrice = req.StopPrice
		order.CreatedAt = t.eng.nowFn()
		// 与其它拒单同路：进 OrderHistory，通知监听器。
		return t.eng.reject(order, ErrNotRunning)
	}
	return t.eng.PlaceOrder(req)
}

// Execute 实现 FillExecutor：按步长取整后发往交易所，用交易所回报
// 的均价与手续费入账。任何错误都让订单走 rejected。
func (t *LiveTrader) Execute(order *portfolio.Order) (float64, float64, error) {
	qty := RoundToStep(order.Quantity, t.cfg.QuantityStep)
	price := RoundToStep(order.Price, t.cfg.PriceStep)
	if qty <= 0 {
		return 0, 0, fmt.Errorf("quantity %v below exchange step", order.Quantity)
	}
	res, err := t.ex.CreateOrder(t.baseCtx, exchange.OrderRequest{
		Symbol:    order.Symbol,
		Side:      string(order.Side),
		Type:      string(order.Type),
		Quantity:  qty,
		Price:     price,
		StopPrice: order.StopPrice,
	})
	if err != nil {
		return 0, 0, err
	}
	if res.AvgPrice <= 0 {
		return 0, 0, fmt.Errorf("exchange returned no fill price for order %s", res.ID)
	}
	return res.AvgPrice, res.Commission, nil
}

// UpdateMarketPrice 透传给引擎（由行情回调串行驱动）。
func (t *LiveTrader) UpdateMarketPrice(symbol string, price float64) {
	t.eng.UpdateMarketPrice(symbol, price)
	t.eng.CheckEmergencyConditions()
}
