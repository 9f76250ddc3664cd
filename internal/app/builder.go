package app

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	mlcfg "marlin/internal/config"
	"marlin/internal/engine"
	"marlin/internal/gateway/binance"
	"marlin/internal/gateway/exchange"
	"marlin/internal/logger"
	"marlin/internal/market"
	"marlin/internal/multiframe"
	"marlin/internal/pkg/symbol"
	"marlin/internal/portfolio"
	"marlin/internal/store/gormstore"
	"marlin/internal/store/runstore"
	"marlin/internal/strategy"
	"marlin/internal/trader"
	httpapi "marlin/internal/transport/http"
)

// AppBuilder 按配置逐层装配应用，依赖构造函数可被测试替换。
type AppBuilder struct {
	cfg *mlcfg.Config

	sourceFn   func(mlcfg.MarketConfig) market.Source
	exchangeFn func(mlcfg.MarketConfig, mlcfg.LiveConfig) exchange.Exchange
	storeFn    func(string) (*gormstore.GormStore, error)
	registryFn func(string) (*strategy.Registry, error)
}

type AppBuilderOption func(*AppBuilder)

// WithSource 替换行情源（测试用）。
func WithSource(src market.Source) AppBuilderOption {
	return func(b *AppBuilder) {
		b.sourceFn = func(mlcfg.MarketConfig) market.Source { return src }
	}
}

// WithExchange 替换交易所实现（测试用）。
func WithExchange(ex exchange.Exchange) AppBuilderOption {
	return func(b *AppBuilder) {
		b.exchangeFn = func(mlcfg.MarketConfig, mlcfg.LiveConfig) exchange.Exchange { return ex }
	}
}

func NewAppBuilder(cfg *mlcfg.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:        cfg,
		sourceFn:   buildSource,
		exchangeFn: buildExchange,
		storeFn:    gormstore.NewGormStore,
		registryFn: strategy.NewRegistry,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func buildSource(mc mlcfg.MarketConfig) market.Source {
	return binance.NewSource(binance.Config{
		APIKey:    mc.Binance.APIKey,
		APISecret: mc.Binance.APISecret,
		BaseURL:   mc.Binance.BaseURL,
	})
}

func buildExchange(mc mlcfg.MarketConfig, lc mlcfg.LiveConfig) exchange.Exchange {
	return binance.NewExchange(binance.Config{
		APIKey:    mc.Binance.APIKey,
		APISecret: mc.Binance.APISecret,
		BaseURL:   mc.Binance.BaseURL,
	}, lc.StakeCurrency)
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	sym := symbol.Normalize(cfg.Market.Symbol)
	mgr, err := multiframe.New(cfg.Market.BaseTimeframe)
	if err != nil {
		return nil, fmt.Errorf("base timeframe %s: %w", cfg.Market.BaseTimeframe, err)
	}
	for _, name := range cfg.Market.Timeframes {
		if err := addTimeframe(mgr, name); err != nil {
			return nil, err
		}
	}

	app := &App{cfg: cfg, symbol: sym, mgr: mgr}
	app.source = b.sourceFn(cfg.Market)

	risk := portfolio.RiskConfig{
		MaxPositions:         cfg.Risk.MaxPositions,
		MaxRiskPerTrade:      cfg.Risk.MaxRiskPerTrade,
		MaxTotalRisk:         cfg.Risk.MaxTotalRisk,
		ConfirmationRequired: cfg.Risk.ConfirmationRequired,
	}
	exec := engine.ExecConfig{
		BaseSlippage:      cfg.Engine.BaseSlippage,
		MaxSlippage:       cfg.Engine.MaxSlippage,
		ImpactNotional:    cfg.Engine.ImpactNotional,
		CommissionRate:    cfg.Engine.CommissionRate,
		EmergencyDrawdown: cfg.Engine.EmergencyDrawdown,
	}

	var driver trader.Driver
	var onBase func(string, market.Candle, string)
	switch cfg.App.Mode {
	case "live":
		ex := b.exchangeFn(cfg.Market, cfg.Live)
		app.live = engine.NewLiveTrader(risk, exec, ex, engine.LiveConfig{
			HeartbeatInterval: time.Duration(cfg.Live.HeartbeatSeconds) * time.Second,
			PriceStep:         cfg.Live.PriceStep,
			QuantityStep:      cfg.Live.QuantityStep,
		})
		driver = app.live
		onBase = func(s string, c market.Candle, _ string) {
			app.live.UpdateMarketPrice(s, c.Close)
		}
	default:
		app.paper = engine.NewPaperTrader(cfg.Engine.InitialCash, risk, exec)
		driver = app.paper
		onBase = app.paper.OnCandle
	}
	app.driver = driver

	if cfg.Store.Enabled {
		st, err := b.storeFn(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("opening store: %w", err)
		}
		app.store = st
		driver.Engine().AddOrderListener(st)
		driver.Engine().AddEquityListener(st)

		// 会话归档与逐笔库放同一目录。
		runs, err := runstore.NewSessionStore(filepath.Dir(cfg.Store.Path))
		if err != nil {
			return nil, fmt.Errorf("opening session archive: %w", err)
		}
		app.runs = runs
	}

	if len(cfg.Strategies.Enabled) > 0 {
		reg, err := b.registryFn(cfg.Strategies.Path)
		if err != nil {
			return nil, fmt.Errorf("loading strategy registry: %w", err)
		}
		app.registry = reg
	}

	tr, err := trader.New(sym, mgr, driver, trader.Options{
		DefaultSizePct: cfg.Strategies.DefaultSizePct,
		OnBaseCandle:   onBase,
	})
	if err != nil {
		return nil, err
	}
	app.trader = tr

	httpSrv, err := httpapi.NewServer(httpapi.ServerConfig{
		Addr:     cfg.App.HTTPAddr,
		Engine:   driver.Engine(),
		EngineMu: &app.engineMu,
		Store:    app.store,
		Runs:     app.runs,
		Mode:     cfg.App.Mode,
	})
	if err != nil {
		return nil, err
	}
	app.httpSrv = httpSrv

	logger.Infof("✓ 已装配 %s 模式（symbol=%s base=%s tfs=%s）",
		cfg.App.Mode, sym, mgr.BaseTimeframe(), strings.Join(mgr.Timeframes(), ","))
	return app, nil
}

// addTimeframe 容忍重复声明（base 自带，配置再列一次不算错）。
func addTimeframe(mgr *multiframe.Manager, name string) error {
	if name == mgr.BaseTimeframe() {
		return nil
	}
	for _, have := range mgr.Timeframes() {
		if have == name {
			return nil
		}
	}
	if err := mgr.AddTimeframe(name); err != nil {
		return fmt.Errorf("adding timeframe %s: %w", name, err)
	}
	return nil
}
