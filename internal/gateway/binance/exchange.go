package binance

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"marlin/internal/gateway/exchange"
	symbolpkg "marlin/internal/pkg/symbol"

	binance "github.com/adshao/go-binance/v2"
)

// Exchange 把现货 REST API 适配成引擎的 exchange.Exchange 契约。
// 余额/持仓取的都是已提交状态，不做乐观估计。
type Exchange struct {
	client *binance.Client
	stake  string

	mu          sync.Mutex
	orderSymbol map[string]string // orderID -> exchange symbol（撤单需要 symbol）
}

func NewExchange(cfg Config, stakeCurrency string) *Exchange {
	client := binance.NewClient(cfg.APIKey, cfg.APISecret)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		client.BaseURL = strings.TrimSpace(cfg.BaseURL)
	}
	stake := strings.ToUpper(strings.TrimSpace(stakeCurrency))
	if stake == "" {
		stake = "USDT"
	}
	return &Exchange{
		client:      client,
		stake:       stake,
		orderSymbol: make(map[string]string),
	}
}

func (e *Exchange) Name() string { return "binance" }

func (e *Exchange) Connect(ctx context.Context) error {
	return e.Ping(ctx)
}

func (e *Exchange) Disconnect() error { return nil }

func (e *Exchange) Ping(ctx context.Context) error {
	return e.client.NewPingService().Do(ctx)
}

func (e *Exchange) GetAccountInfo(ctx context.Context) (exchange.AccountInfo, error) {
	acct, err := e.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return exchange.AccountInfo{}, err
	}
	info := exchange.AccountInfo{StakeCurrency: e.stake, UpdatedAt: time.Now().UTC()}
	for _, b := range acct.Balances {
		if strings.EqualFold(b.Asset, e.stake) {
			free := parseFloat(b.Free)
			locked := parseFloat(b.Locked)
			info.Available = free
			info.Used = locked
			info.Total = free + locked
			break
		}
	}
	return info, nil
}

// GetPositions 把非计价资产的现货余额视作持仓。现货接口不带建仓均价，
// 用当前标价兜底。
func (e *Exchange) GetPositions(ctx context.Context) ([]exchange.Position, error) {
	acct, err := e.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, err
	}
	var out []exchange.Position
	for _, b := range acct.Balances {
		qty := parseFloat(b.Free) + parseFloat(b.Locked)
		if qty <= 0 || strings.EqualFold(b.Asset, e.stake) {
			continue
		}
		pair := strings.ToUpper(b.Asset) + e.stake
		price, err := e.lastPrice(ctx, pair)
		if err != nil {
			continue // 没有对计价货币的交易对，跳过
		}
		out = append(out, exchange.Position{
			Symbol:     symbolpkg.FromBinance(pair),
			Quantity:   qty,
			EntryPrice: price,
		})
	}
	return out, nil
}

func (e *Exchange) GetOpenOrders(ctx context.Context) ([]exchange.Order, error) {
	orders, err := e.client.NewListOpenOrdersService().Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]exchange.Order, 0, len(orders))
	for _, o := range orders {
		id := strconv.FormatInt(o.OrderID, 10)
		e.rememberSymbol(id, o.Symbol)
		out = append(out, exchange.Order{
			ID:        id,
			Symbol:    symbolpkg.FromBinance(o.Symbol),
			Side:      strings.ToLower(string(o.Side)),
			Type:      mapOrderType(o.Type),
			Quantity:  parseFloat(o.OrigQuantity),
			Price:     parseFloat(o.Price),
			StopPrice: parseFloat(o.StopPrice),
			Status:    strings.ToLower(string(o.Status)),
			FilledQty: parseFloat(o.ExecutedQuantity),
			CreatedAt: time.UnixMilli(o.Time).UTC(),
			UpdatedAt: time.UnixMilli(o.UpdateTime).UTC(),
		})
	}
	return out, nil
}

func (e *Exchange) CreateOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.Order, error) {
	clean := symbolpkg.ToBinance(req.Symbol)
	if clean == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	svc := e.client.NewCreateOrderService().
		Symbol(clean).
		Side(binance.SideType(strings.ToUpper(req.Side))).
		Quantity(formatFloat(req.Quantity))
	switch req.Type {
	case "limit":
		svc = svc.Type(binance.OrderTypeLimit).
			TimeInForce(binance.TimeInForceTypeGTC).
			Price(formatFloat(req.Price))
	case "stop":
		svc = svc.Type(binance.OrderTypeStopLossLimit).
			TimeInForce(binance.TimeInForceTypeGTC).
			StopPrice(formatFloat(req.StopPrice)).
			Price(formatFloat(req.StopPrice))
	default:
		svc = svc.Type(binance.OrderTypeMarket)
	}
	res, err := svc.Do(ctx)
	if err != nil {
		return nil, err
	}
	id := strconv.FormatInt(res.OrderID, 10)
	e.rememberSymbol(id, clean)

	order := &exchange.Order{
		ID:        id,
		Symbol:    symbolpkg.FromBinance(res.Symbol),
		Side:      req.Side,
		Type:      req.Type,
		Quantity:  parseFloat(res.OrigQuantity),
		Price:     parseFloat(res.Price),
		Status:    strings.ToLower(string(res.Status)),
		FilledQty: parseFloat(res.ExecutedQuantity),
		CreatedAt: time.UnixMilli(res.TransactTime).UTC(),
		UpdatedAt: time.UnixMilli(res.TransactTime).UTC(),
	}
	var notional, qty, fee float64
	for _, f := range res.Fills {
		p := parseFloat(f.Price)
		q := parseFloat(f.Quantity)
		notional += p * q
		qty += q
		fee += parseFloat(f.Commission)
	}
	if qty > 0 {
		order.AvgPrice = notional / qty
	}
	order.Commission = fee
	return order, nil
}

func (e *Exchange) CancelOrder(ctx context.Context, id string) (*exchange.Order, error) {
	orderID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid order id %q: %w", id, err)
	}
	sym, ok := e.lookupSymbol(id)
	if !ok {
		return nil, fmt.Errorf("unknown symbol for order %s", id)
	}
	res, err := e.client.NewCancelOrderService().Symbol(sym).OrderID(orderID).Do(ctx)
	if err != nil {
		return nil, err
	}
	return &exchange.Order{
		ID:        id,
		Symbol:    symbolpkg.FromBinance(res.Symbol),
		Side:      strings.ToLower(string(res.Side)),
		Type:      mapOrderType(res.Type),
		Quantity:  parseFloat(res.OrigQuantity),
		Price:     parseFloat(res.Price),
		Status:    strings.ToLower(string(res.Status)),
		FilledQty: parseFloat(res.ExecutedQuantity),
		UpdatedAt: time.Now().UTC(),
	}, nil
}

func (e *Exchange) lastPrice(ctx context.Context, pair string) (float64, error) {
	prices, err := e.client.NewListPricesService().Symbol(pair).Do(ctx)
	if err != nil || len(prices) == 0 {
		return 0, fmt.Errorf("no price for %s: %w", pair, err)
	}
	return parseFloat(prices[0].Price), nil
}

func (e *Exchange) rememberSymbol(id, sym string) {
	e.mu.Lock()
	e.orderSymbol[id] = sym
	e.mu.Unlock()
}

func (e *Exchange) lookupSymbol(id string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	sym, ok := e.orderSymbol[id]
	return sym, ok
}

func mapOrderType(t binance.OrderType) string {
	switch t {
	case binance.OrderTypeLimit:
		return "limit"
	case binance.OrderTypeStopLossLimit, binance.OrderTypeStopLoss:
		return "stop"
	default:
		return "market"
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
