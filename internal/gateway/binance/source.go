package binance

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"marlin/internal/logger"
	"marlin/internal/market"
	symbolpkg "marlin/internal/pkg/symbol"

	binance "github.com/adshao/go-binance/v2"
)

const maxHistoryLimit = 1000

// Source 基于 go-binance SDK 实现 market.Source（现货）。
type Source struct {
	client *binance.Client

	mu           sync.Mutex
	candleCancel context.CancelFunc
	priceCancel  context.CancelFunc

	statsMu sync.Mutex
	stats   market.SourceStats
}

type Config struct {
	APIKey    string
	APISecret string
	BaseURL   string
}

func NewSource(cfg Config) *Source {
	client := binance.NewClient(cfg.APIKey, cfg.APISecret)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		client.BaseURL = strings.TrimSpace(cfg.BaseURL)
	}
	return &Source{client: client}
}

func (s *Source) FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	clean := symbolpkg.ToBinance(symbol)
	if clean == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return nil, fmt.Errorf("interval is required")
	}
	kls, err := s.client.NewKlinesService().Symbol(clean).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, market.Candle{
			OpenTime: kl.OpenTime,
			Open:     parseFloat(kl.Open),
			High:     parseFloat(kl.High),
			Low:      parseFloat(kl.Low),
			Close:    parseFloat(kl.Close),
			Volume:   parseFloat(kl.Volume),
		})
	}
	// 最后一根多半尚未收盘，丢掉避免把半根 K 线喂进聚合。
	if len(out) > 0 {
		last := out[len(out)-1]
		if time.Now().UnixMilli() < last.OpenTime+intervalMillis(interval) {
			out = out[:len(out)-1]
		}
	}
	return out, nil
}

// Subscribe 订阅已收盘的 K 线（IsFinal），断线自动重连。
func (s *Source) Subscribe(ctx context.Context, symbols, intervals []string, opts market.SubscribeOptions) (<-chan market.CandleEvent, error) {
	symbolMap := make(map[string]string)
	pairs := make(map[string]string)
	for _, sym := range symbols {
		normalized := symbolpkg.Normalize(sym)
		if normalized == "" {
			continue
		}
		clean := symbolpkg.ToBinance(normalized)
		symbolMap[clean] = normalized
		for _, iv := range intervals {
			iv = strings.ToLower(strings.TrimSpace(iv))
			if iv != "" {
				pairs[clean] = iv
			}
		}
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("no valid symbols or intervals for subscription")
	}
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 512
	}
	out := make(chan market.CandleEvent, buffer)
	subCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if s.candleCancel != nil {
		s.candleCancel()
	}
	s.candleCancel = cancel
	s.mu.Unlock()

	go func() {
		defer close(out)
		s.runKlineLoop(subCtx, pairs, symbolMap, out, opts)
	}()
	return out, nil
}

func (s *Source) SubscribePrices(ctx context.Context, symbols []string, opts market.SubscribeOptions) (<-chan market.PriceEvent, error) {
	symbolMap := make(map[string]string)
	cleanSymbols := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		normalized := symbolpkg.Normalize(sym)
		if normalized == "" {
			continue
		}
		clean := symbolpkg.ToBinance(normalized)
		symbolMap[clean] = normalized
		cleanSymbols = append(cleanSymbols, clean)
	}
	if len(cleanSymbols) == 0 {
		return nil, fmt.Errorf("symbols are required for price subscription")
	}
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 1024
	}
	out := make(chan market.PriceEvent, buffer)
	subCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if s.priceCancel != nil {
		s.priceCancel()
	}
	s.priceCancel = cancel
	s.mu.Unlock()

	go func() {
		defer close(out)
		s.runPriceLoop(subCtx, cleanSymbols, symbolMap, out, opts)
	}()
	return out, nil
}

func (s *Source) runKlineLoop(ctx context.Context, pairs, symbolMap map[string]string, out chan<- market.CandleEvent, opts market.SubscribeOptions) {
	delay := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		var errMu sync.Mutex
		var lastErr error
		handler := func(event *binance.WsKlineEvent) {
			if event == nil || !event.Kline.IsFinal {
				return
			}
			ce := market.CandleEvent{
				Symbol:   event.Symbol,
				Interval: event.Kline.Interval,
				Candle: market.Candle{
					OpenTime: event.Kline.StartTime,
					Open:     parseFloat(event.Kline.Open),
					High:     parseFloat(event.Kline.High),
					Low:      parseFloat(event.Kline.Low),
					Close:    parseFloat(event.Kline.Close),
					Volume:   parseFloat(event.Kline.Volume),
				},
			}
			if original, ok := symbolMap[ce.Symbol]; ok {
				ce.Symbol = original
			}
			select {
			case <-ctx.Done():
			case out <- ce:
			default:
				logger.Warnf("[binance] kline channel full, drop %s %s", ce.Symbol, ce.Interval)
			}
		}
		errHandler := func(err error) {
			if err == nil {
				return
			}
			errMu.Lock()
			lastErr = err
			errMu.Unlock()
		}
		doneC, stopC, err := binance.WsCombinedKlineServe(pairs, handler, errHandler)
		if err != nil {
			s.recordSubscribeError(err)
			if opts.OnDisconnect != nil {
				opts.OnDisconnect(err)
			}
			if !sleepWithContext(ctx, delay) {
				return
			}
			delay = nextDelay(delay)
			continue
		}
		delay = time.Second
		if opts.OnConnect != nil {
			opts.OnConnect()
		}
		select {
		case <-ctx.Done():
			close(stopC)
			<-doneC
			return
		case <-doneC:
		}
		close(stopC)
		errMu.Lock()
		errCopy := lastErr
		errMu.Unlock()
		s.recordReconnect(errCopy)
		if opts.OnDisconnect != nil {
			opts.OnDisconnect(errCopy)
		}
		if !sleepWithContext(ctx, delay) {
			return
		}
		delay = nextDelay(delay)
	}
}

func (s *Source) runPriceLoop(ctx context.Context, symbols []string, symbolMap map[string]string, out chan<- market.PriceEvent, opts market.SubscribeOptions) {
	delay := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		var errMu sync.Mutex
		var lastErr error
		handler := func(event *binance.WsAggTradeEvent) {
			if event == nil {
				return
			}
			pe := market.PriceEvent{
				Symbol:    event.Symbol,
				Price:     parseFloat(event.Price),
				EventTime: event.Time,
			}
			if original, ok := symbolMap[pe.Symbol]; ok {
				pe.Symbol = original
			}
			select {
			case <-ctx.Done():
			case out <- pe:
			default:
			}
		}
		errHandler := func(err error) {
			if err == nil {
				return
			}
			errMu.Lock()
			lastErr = err
			errMu.Unlock()
		}
		doneC, stopC, err := binance.WsCombinedAggTradeServe(symbols, handler, errHandler)
		if err != nil {
			s.recordSubscribeError(err)
			if opts.OnDisconnect != nil {
				opts.OnDisconnect(err)
			}
			if !sleepWithContext(ctx, delay) {
				return
			}
			delay = nextDelay(delay)
			continue
		}
		delay = time.Second
		if opts.OnConnect != nil {
			opts.OnConnect()
		}
		select {
		case <-ctx.Done():
			close(stopC)
			<-doneC
			return
		case <-doneC:
		}
		close(stopC)
		errMu.Lock()
		errCopy := lastErr
		errMu.Unlock()
		s.recordReconnect(errCopy)
		if opts.OnDisconnect != nil {
			opts.OnDisconnect(errCopy)
		}
		if !sleepWithContext(ctx, delay) {
			return
		}
		delay = nextDelay(delay)
	}
}

func (s *Source) Stats() market.SourceStats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.candleCancel != nil {
		s.candleCancel()
		s.candleCancel = nil
	}
	if s.priceCancel != nil {
		s.priceCancel()
		s.priceCancel = nil
	}
	return nil
}

func (s *Source) recordReconnect(err error) {
	s.statsMu.Lock()
	s.stats.Reconnects++
	if err != nil {
		s.stats.LastError = err.Error()
	}
	s.statsMu.Unlock()
}

func (s *Source) recordSubscribeError(err error) {
	s.statsMu.Lock()
	s.stats.SubscribeErrors++
	if err != nil {
		s.stats.LastError = err.Error()
	}
	s.statsMu.Unlock()
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

func intervalMillis(interval string) int64 {
	d := map[string]int64{
		"1m": 60_000, "3m": 180_000, "5m": 300_000, "15m": 900_000,
		"30m": 1_800_000, "1h": 3_600_000, "4h": 14_400_000, "1d": 86_400_000,
	}
	if v, ok := d[interval]; ok {
		return v
	}
	return 60_000
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func nextDelay(d time.Duration) time.Duration {
	d *= 2
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}
