package engine

import "marlin/internal/portfolio"

// ExecConfig 描述成交定价参数，构造后只读。
type ExecConfig struct {
	// BaseSlippage 是最小滑点比例，随订单名义额单调放大，上限 MaxSlippage。
	BaseSlippage float64
	MaxSlippage  float64
	// ImpactNotional 是滑点翻倍对应的名义额；≤0 时滑点固定为 BaseSlippage。
	ImpactNotional float64
	CommissionRate float64
	// EmergencyDrawdown 是触发紧急停止的净值回撤比例（相对初始资金）。
	EmergencyDrawdown float64
}

func (c ExecConfig) withDefaults() ExecConfig {
	if c.MaxSlippage <= 0 {
		c.MaxSlippage = 0.005
	}
	if c.BaseSlippage <= 0 {
		c.BaseSlippage = c.MaxSlippage / 5
	}
	if c.BaseSlippage > c.MaxSlippage {
		c.BaseSlippage = c.MaxSlippage
	}
	if c.EmergencyDrawdown <= 0 || c.EmergencyDrawdown >= 1 {
		c.EmergencyDrawdown = 0.5
	}
	return c
}

// slippageRate 返回给定名义额下的滑点比例。确定性的、随名义额单调
// 不减，始终落在 (0, MaxSlippage]。
func (c ExecConfig) slippageRate(notional float64) float64 {
	s := c.BaseSlippage
	if c.ImpactNotional > 0 && notional > 0 {
		s *= 1 + notional/c.ImpactNotional
	}
	if s > c.MaxSlippage {
		s = c.MaxSlippage
	}
	return s
}

// ApplySlippage 对参考价施加方向性不利的滑点：买方付出更高价、
// 卖方得到更低价。
func (c ExecConfig) ApplySlippage(price float64, side portfolio.Side, quantity float64) float64 {
	s := c.slippageRate(price * quantity)
	if side == portfolio.SideBuy {
		return price * (1 + s)
	}
	return price * (1 - s)
}

// Commission 按名义额计算手续费。
func (c ExecConfig) Commission(notional float64) float64 {
	if c.CommissionRate <= 0 {
		return 0
	}
	return notional * c.CommissionRate
}
