package market

import "context"

type CandleEvent struct {
	Symbol   string
	Interval string
	Candle   Candle
}

type PriceEvent struct {
	Symbol    string
	Price     float64
	EventTime int64
}

type SubscribeOptions struct {
	Buffer       int
	OnConnect    func()
	OnDisconnect func(error)
}

type SourceStats struct {
	Reconnects      int
	SubscribeErrors int
	LastError       string
}

// Source 抽象 K 线数据源（历史拉取 + 实时订阅）。
type Source interface {
	FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)

	Subscribe(ctx context.Context, symbols, intervals []string, opts SubscribeOptions) (<-chan CandleEvent, error)

	SubscribePrices(ctx context.Context, symbols []string, opts SubscribeOptions) (<-chan PriceEvent, error)

	Stats() SourceStats

	Close() error
}
