package config

import (
	"fmt"
	"strings"

	"marlin/internal/timeframe"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.Engine.validate(); err != nil {
		return err
	}
	if err := c.Risk.validate(); err != nil {
		return err
	}
	if err := c.Strategies.validate(); err != nil {
		return err
	}
	if err := c.Store.validate(); err != nil {
		return err
	}
	if err := c.Live.validate(c.App.Mode); err != nil {
		return err
	}
	return nil
}

func (a *AppConfig) validate() error {
	switch a.Mode {
	case "paper", "live":
	default:
		return fmt.Errorf("app.mode must be paper or live, got %q", a.Mode)
	}
	switch strings.ToLower(a.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("app.log_level unsupported: %q", a.LogLevel)
	}
	return nil
}

func (m *MarketConfig) validate() error {
	if strings.TrimSpace(m.Symbol) == "" {
		return fmt.Errorf("market.symbol cannot be empty")
	}
	base, err := timeframe.Parse(m.BaseTimeframe)
	if err != nil {
		return fmt.Errorf("market.base_timeframe: %w", err)
	}
	for _, name := range m.Timeframes {
		tf, err := timeframe.Parse(name)
		if err != nil {
			return fmt.Errorf("market.timeframes entry %q: %w", name, err)
		}
		if tf.Minutes != base.Minutes && !timeframe.CanConvert(base, tf) {
			return fmt.Errorf("market.timeframes entry %q not derivable from base %s", name, m.BaseTimeframe)
		}
	}
	return nil
}

func (e *EngineConfig) validate() error {
	if e.BaseSlippage < 0 {
		return fmt.Errorf("engine.base_slippage must be >= 0")
	}
	if e.MaxSlippage < e.BaseSlippage {
		return fmt.Errorf("engine.max_slippage must be >= engine.base_slippage")
	}
	if e.CommissionRate < 0 || e.CommissionRate >= 1 {
		return fmt.Errorf("engine.commission_rate must be in [0,1)")
	}
	if e.EmergencyDrawdown <= 0 || e.EmergencyDrawdown > 1 {
		return fmt.Errorf("engine.emergency_drawdown must be in (0,1]")
	}
	return nil
}

func (r *RiskConfig) validate() error {
	if r.MaxRiskPerTrade <= 0 || r.MaxRiskPerTrade > 1 {
		return fmt.Errorf("risk.max_risk_per_trade must be in (0,1]")
	}
	if r.MaxTotalRisk <= 0 || r.MaxTotalRisk > 1 {
		return fmt.Errorf("risk.max_total_risk must be in (0,1]")
	}
	if r.MaxTotalRisk < r.MaxRiskPerTrade {
		return fmt.Errorf("risk.max_total_risk must be >= risk.max_risk_per_trade")
	}
	return nil
}

func (s *StrategiesConfig) validate() error {
	if len(s.Enabled) > 0 && strings.TrimSpace(s.Path) == "" {
		return fmt.Errorf("strategies.path required when strategies.enabled is set")
	}
	if s.DefaultSizePct <= 0 || s.DefaultSizePct > 1 {
		return fmt.Errorf("strategies.default_size_pct must be in (0,1]")
	}
	return nil
}

func (s *StoreConfig) validate() error {
	if s.Enabled && strings.TrimSpace(s.Path) == "" {
		return fmt.Errorf("store.path required when store.enabled")
	}
	return nil
}

func (l *LiveConfig) validate(mode string) error {
	if mode != "live" {
		return nil
	}
	if strings.TrimSpace(l.StakeCurrency) == "" {
		return fmt.Errorf("live.stake_currency cannot be empty")
	}
	if l.PriceStep < 0 || l.QuantityStep < 0 {
		return fmt.Errorf("live price/quantity steps must be >= 0")
	}
	return nil
}
