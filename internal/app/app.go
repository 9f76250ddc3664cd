package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	mlcfg "marlin/internal/config"
	"marlin/internal/engine"
	"marlin/internal/logger"
	"marlin/internal/market"
	"marlin/internal/multiframe"
	"marlin/internal/store/gormstore"
	"marlin/internal/store/runstore"
	"marlin/internal/strategy"
	"marlin/internal/trader"
	httpapi "marlin/internal/transport/http"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：历史预热→绑定策略→消费实时 K 线→HTTP 服务。
type App struct {
	cfg    *mlcfg.Config
	symbol string

	mgr    *multiframe.Manager
	source market.Source
	driver trader.Driver
	paper  *engine.PaperTrader
	live   *engine.LiveTrader
	trader *trader.Trader

	registry *strategy.Registry
	store    *gormstore.GormStore
	runs     *runstore.SessionStore
	httpSrv  *httpapi.Server

	sessionID string

	// engineMu 串行化引擎访问：K 线回路与 HTTP 处理共用同一把锁。
	engineMu sync.Mutex
	bound    []string
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *mlcfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run 阻塞运行直到 ctx 取消或数据源断流。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.close()

	if a.live != nil {
		a.live.SetContext(ctx)
		if err := a.live.Initialize(ctx); err != nil {
			return fmt.Errorf("initializing live trader: %w", err)
		}
		if !a.cfg.Risk.ConfirmationRequired {
			a.live.ConfirmLiveTrading()
		}
		if err := a.live.Start(); err != nil {
			return fmt.Errorf("starting live trader: %w", err)
		}
	}

	if err := a.warmup(ctx); err != nil {
		return err
	}
	if err := a.applyStrategies(a.cfg.Strategies.Enabled); err != nil {
		return err
	}
	a.beginSession(ctx)
	if a.registry != nil {
		a.registry.OnChange(func(strategy.Snapshot) {
			if err := a.applyStrategies(a.cfg.Strategies.Enabled); err != nil {
				logger.Errorf("reapplying strategies after config change: %v", err)
			}
		})
	}

	group, ctx := errgroup.WithContext(ctx)

	if a.httpSrv != nil {
		a.httpSrv.Start()
		group.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return a.httpSrv.Shutdown(shutdownCtx)
		})
	}

	group.Go(func() error {
		return a.runCandleLoop(ctx)
	})
	if a.live != nil {
		group.Go(func() error {
			return a.runPriceLoop(ctx)
		})
	}

	return group.Wait()
}

// warmup 拉取历史 K 线灌入多周期管理器，先于策略绑定，
// 预热数据不会触发任何下单。
func (a *App) warmup(ctx context.Context) error {
	limit := a.cfg.Market.HistoryLimit
	if limit <= 0 {
		return nil
	}
	base := a.mgr.BaseTimeframe()
	candles, err := a.source.FetchHistory(ctx, a.symbol, base, limit)
	if err != nil {
		return fmt.Errorf("fetching %s %s history: %w", a.symbol, base, err)
	}
	a.engineMu.Lock()
	defer a.engineMu.Unlock()
	for _, c := range candles {
		if err := a.trader.ProcessCandle(c); err != nil {
			logger.Warnf("warmup candle dropped: %v", err)
		}
	}
	logger.Infof("✓ 预热完成：%s %s x%d", a.symbol, base, len(candles))
	return nil
}

// applyStrategies 先整体解绑旧策略，再按启用列表重建并绑定。
func (a *App) applyStrategies(ids []string) error {
	a.engineMu.Lock()
	defer a.engineMu.Unlock()

	for _, id := range a.bound {
		a.trader.Unbind(id)
	}
	a.bound = a.bound[:0]

	for _, id := range ids {
		if a.registry == nil {
			return fmt.Errorf("strategy %s enabled but no registry configured", id)
		}
		s, err := a.registry.Build(id)
		if err != nil {
			return fmt.Errorf("building strategy %s: %w", id, err)
		}
		for _, tf := range s.Timeframes() {
			if err := addTimeframe(a.mgr, tf); err != nil {
				return err
			}
		}
		if err := a.trader.Bind(s); err != nil {
			return err
		}
		a.bound = append(a.bound, s.Name())
		logger.Infof("✓ 策略已绑定：%s（周期 %v）", s.Name(), s.Timeframes())
	}
	return nil
}

func (a *App) runCandleLoop(ctx context.Context) error {
	base := a.mgr.BaseTimeframe()
	events, err := a.source.Subscribe(ctx, []string{a.symbol}, []string{base}, market.SubscribeOptions{
		OnDisconnect: func(err error) {
			logger.Warnf("kline stream disconnected: %v", err)
		},
	})
	if err != nil {
		return fmt.Errorf("subscribing %s %s: %w", a.symbol, base, err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return fmt.Errorf("kline stream closed")
			}
			if ev.Symbol != a.symbol || ev.Interval != base {
				continue
			}
			a.engineMu.Lock()
			err := a.trader.ProcessCandle(ev.Candle)
			a.engineMu.Unlock()
			if err != nil {
				logger.Warnf("candle dropped: %v", err)
			}
		}
	}
}

// beginSession 在会话归档里登记本次运行，失败只告警不阻断。
func (a *App) beginSession(ctx context.Context) {
	if a.runs == nil {
		return
	}
	a.sessionID = uuid.NewString()
	err := a.runs.Begin(ctx, runstore.Session{
		ID:            a.sessionID,
		Mode:          a.cfg.App.Mode,
		Symbol:        a.symbol,
		BaseTimeframe: a.mgr.BaseTimeframe(),
		Strategies:    append([]string(nil), a.bound...),
		InitialCash:   a.cfg.Engine.InitialCash,
	})
	if err != nil {
		logger.Warnf("recording session start: %v", err)
		a.sessionID = ""
	}
}

func (a *App) finishSession() {
	if a.runs == nil || a.sessionID == "" {
		return
	}
	a.engineMu.Lock()
	m := a.driver.Engine().Metrics()
	orders := len(a.driver.Engine().Portfolio().OrderHistory)
	a.engineMu.Unlock()
	sum := runstore.Summary{
		FinalEquity:    m.Equity,
		ReturnPct:      m.ReturnPercent,
		WinRate:        m.WinRate,
		MaxDrawdownPct: m.MaxDrawdown.Percent,
		Orders:         orders,
		Trades:         m.TotalTrades,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := a.runs.Finish(ctx, a.sessionID, runstore.StatusStopped, sum, ""); err != nil {
		logger.Warnf("recording session summary: %v", err)
	}
}

// runPriceLoop 实盘模式用逐笔价格驱动挂单触发，不必等 K 线收盘。
func (a *App) runPriceLoop(ctx context.Context) error {
	events, err := a.source.SubscribePrices(ctx, []string{a.symbol}, market.SubscribeOptions{
		OnDisconnect: func(err error) {
			logger.Warnf("price stream disconnected: %v", err)
		},
	})
	if err != nil {
		return fmt.Errorf("subscribing %s prices: %w", a.symbol, err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return fmt.Errorf("price stream closed")
			}
			if ev.Symbol != a.symbol {
				continue
			}
			a.engineMu.Lock()
			a.live.UpdateMarketPrice(ev.Symbol, ev.Price)
			a.engineMu.Unlock()
		}
	}
}

func (a *App) close() {
	a.finishSession()
	if a.live != nil {
		a.live.Stop()
	}
	if a.source != nil {
		if err := a.source.Close(); err != nil {
			logger.Warnf("closing market source: %v", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Warnf("closing store: %v", err)
		}
	}
	if a.runs != nil {
		if err := a.runs.Close(); err != nil {
			logger.Warnf("closing session archive: %v", err)
		}
	}
}

// Driver 暴露底层驱动（回放/测试用）。
func (a *App) Driver() trader.Driver {
	if a == nil {
		return nil
	}
	return a.driver
}
