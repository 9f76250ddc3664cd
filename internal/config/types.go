package config

// Config 是 marlin 的主配置载体。
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Market     MarketConfig     `mapstructure:"market"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Risk       RiskConfig       `mapstructure:"risk"`
	Strategies StrategiesConfig `mapstructure:"strategies"`
	Store      StoreConfig      `mapstructure:"store"`
	Live       LiveConfig       `mapstructure:"live"`
}

type AppConfig struct {
	Env      string `mapstructure:"env"`
	Mode     string `mapstructure:"mode"` // "paper" 或 "live"
	LogLevel string `mapstructure:"log_level"`
	HTTPAddr string `mapstructure:"http_addr"`
	LogPath  string `mapstructure:"log_path"`
}

type MarketConfig struct {
	Symbol        string   `mapstructure:"symbol"`
	BaseTimeframe string   `mapstructure:"base_timeframe"`
	Timeframes    []string `mapstructure:"timeframes"`
	HistoryLimit  int      `mapstructure:"history_limit"`
	Binance       BinanceConfig `mapstructure:"binance"`
}

type BinanceConfig struct {
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
	BaseURL   string `mapstructure:"base_url"`
}

type EngineConfig struct {
	InitialCash       float64 `mapstructure:"initial_cash"`
	BaseSlippage      float64 `mapstructure:"base_slippage"`
	MaxSlippage       float64 `mapstructure:"max_slippage"`
	ImpactNotional    float64 `mapstructure:"impact_notional"`
	CommissionRate    float64 `mapstructure:"commission_rate"`
	EmergencyDrawdown float64 `mapstructure:"emergency_drawdown"`
}

type RiskConfig struct {
	MaxPositions         int     `mapstructure:"max_positions"`
	MaxRiskPerTrade      float64 `mapstructure:"max_risk_per_trade"`
	MaxTotalRisk         float64 `mapstructure:"max_total_risk"`
	ConfirmationRequired bool    `mapstructure:"confirmation_required"`
}

type StrategiesConfig struct {
	Path           string   `mapstructure:"path"`
	Enabled        []string `mapstructure:"enabled"`
	DefaultSizePct float64  `mapstructure:"default_size_pct"`
}

type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type LiveConfig struct {
	StakeCurrency    string  `mapstructure:"stake_currency"`
	HeartbeatSeconds int     `mapstructure:"heartbeat_seconds"`
	PriceStep        float64 `mapstructure:"price_step"`
	QuantityStep     float64 `mapstructure:"quantity_step"`
}
