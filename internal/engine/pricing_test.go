package engine

import (
	"testing"

	"marlin/internal/portfolio"

	"github.com/stretchr/testify/assert"
)

func TestSlippageRateMonotonicAndBounded(t *testing.T) {
	c := ExecConfig{BaseSlippage: 0.001, MaxSlippage: 0.005, ImpactNotional: 100000}.withDefaults()

	prev := 0.0
	for _, notional := range []float64{0, 1000, 50000, 100000, 500000, 1e9} {
		rate := c.slippageRate(notional)
		assert.GreaterOrEqual(t, rate, prev, "notional %v", notional)
		assert.Greater(t, rate, 0.0)
		assert.LessOrEqual(t, rate, c.MaxSlippage)
		prev = rate
	}
	// 同样输入必须给出同样输出
	assert.Equal(t, c.slippageRate(50000), c.slippageRate(50000))
}

func TestSlippageFixedWithoutImpactNotional(t *testing.T) {
	c := ExecConfig{BaseSlippage: 0.002, MaxSlippage: 0.005}.withDefaults()
	assert.Equal(t, 0.002, c.slippageRate(100))
	assert.Equal(t, 0.002, c.slippageRate(1e9))
}

func TestApplySlippageDirection(t *testing.T) {
	c := ExecConfig{BaseSlippage: 0.001, MaxSlippage: 0.005}.withDefaults()

	buy := c.ApplySlippage(100, portfolio.SideBuy, 1)
	sell := c.ApplySlippage(100, portfolio.SideSell, 1)
	assert.Greater(t, buy, 100.0)
	assert.Less(t, sell, 100.0)
	assert.InDelta(t, 100.1, buy, 1e-9)
	assert.InDelta(t, 99.9, sell, 1e-9)
}

func TestExecConfigDefaults(t *testing.T) {
	c := ExecConfig{}.withDefaults()
	assert.Equal(t, 0.005, c.MaxSlippage)
	assert.Equal(t, 0.001, c.BaseSlippage)
	assert.Equal(t, 0.5, c.EmergencyDrawdown)

	// base 不得超过 max
	c = ExecConfig{BaseSlippage: 0.01, MaxSlippage: 0.002}.withDefaults()
	assert.Equal(t, 0.002, c.BaseSlippage)
}

func TestCommission(t *testing.T) {
	c := ExecConfig{CommissionRate: 0.001}
	assert.InDelta(t, 1.0, c.Commission(1000), 1e-9)
	assert.Zero(t, ExecConfig{}.Commission(1000))
}

func TestRoundToStep(t *testing.T) {
	assert.InDelta(t, 0.123, RoundToStep(0.12345, 0.001), 1e-12)
	assert.InDelta(t, 123.0, RoundToStep(123.456, 0.5), 1e-12)
	// 二进制误差不应让整倍数被取掉一档
	assert.InDelta(t, 0.3, RoundToStep(0.3, 0.1), 1e-12)
	// 无步长时原样返回
	assert.Equal(t, 1.23, RoundToStep(1.23, 0))
}
