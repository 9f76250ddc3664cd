package config

func (c *Config) applyDefaults() {
	if c.App.Mode == "" {
		c.App.Mode = "paper"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.HTTPAddr == "" {
		c.App.HTTPAddr = ":9880"
	}
	if c.Market.BaseTimeframe == "" {
		c.Market.BaseTimeframe = "1m"
	}
	if len(c.Market.Timeframes) == 0 {
		c.Market.Timeframes = []string{"5m", "15m", "1h"}
	}
	if c.Market.HistoryLimit <= 0 {
		c.Market.HistoryLimit = 500
	}
	if c.Engine.InitialCash <= 0 {
		c.Engine.InitialCash = 10000
	}
	if c.Engine.MaxSlippage <= 0 {
		c.Engine.MaxSlippage = 0.005
	}
	if c.Engine.CommissionRate < 0 {
		c.Engine.CommissionRate = 0
	}
	if c.Engine.EmergencyDrawdown <= 0 {
		c.Engine.EmergencyDrawdown = 0.5
	}
	if c.Risk.MaxPositions <= 0 {
		c.Risk.MaxPositions = 5
	}
	if c.Risk.MaxRiskPerTrade <= 0 {
		c.Risk.MaxRiskPerTrade = 0.2
	}
	if c.Risk.MaxTotalRisk <= 0 {
		c.Risk.MaxTotalRisk = 0.8
	}
	if c.Strategies.DefaultSizePct <= 0 {
		c.Strategies.DefaultSizePct = 0.1
	}
	if c.Live.StakeCurrency == "" {
		c.Live.StakeCurrency = "USDT"
	}
	if c.Live.HeartbeatSeconds <= 0 {
		c.Live.HeartbeatSeconds = 30
	}
}
