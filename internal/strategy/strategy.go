// Package strategy 定义策略接口与封闭的建议类型。指标计算交给外部库
// （go-talib），引擎只消费策略给出的 Advice。
package strategy

import "marlin/internal/market"

// Action 是封闭的建议枚举，替代自由字符串。
type Action int

const (
	Hold Action = iota
	Buy
	Sell
)

func (a Action) String() string {
	switch a {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "hold"
	}
}

// Advice 携带可选的仓位与止损元信息。
type Advice struct {
	Action   Action
	SizePct  float64 // 建议动用的组合市值比例，0 表示用默认值
	StopLoss float64 // 可选止损价
	Comment  string
}

var HoldAdvice = Advice{Action: Hold}

// Strategy 的回调由多周期管理器同步串行驱动。
type Strategy interface {
	Name() string

	// Init 在绑定前注入参数（已通过 registry 的 schema 校验）。
	Init(params map[string]any) error

	// Timeframes 返回策略订阅的周期集合。
	Timeframes() []string

	// OnCandle 在任一订阅周期产出完整 K 线后调用。
	OnCandle(c market.Candle, tfName string) Advice

	// OnMultiTimeframeUpdate 在全部订阅周期各自前进一次后调用。
	OnMultiTimeframeUpdate(latest map[string]market.Candle) Advice
}
