package engine

import "github.com/shopspring/decimal"

// RoundToStep 把数量/价格向下取整到交易所步长的整数倍。
// 用 decimal 避免 0.1*3 之类的二进制误差把值取错一档。
func RoundToStep(value, step float64) float64 {
	if step <= 0 || value <= 0 {
		return value
	}
	v := decimal.NewFromFloat(value)
	s := decimal.NewFromFloat(step)
	steps := v.Div(s).Floor()
	out, _ := steps.Mul(s).Float64()
	return out
}
