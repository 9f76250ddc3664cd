package market

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidCandle 表示 K 线数据本身不合法（时间戳、OHLC 关系或数值范围）。
var ErrInvalidCandle = errors.New("invalid candle")

// Candle 是单根 OHLCV K 线，OpenTime 为周期起点（毫秒）。
// 聚合完成后视为只读。
type Candle struct {
	OpenTime int64   `json:"open_time"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   float64 `json:"volume"`
}

func (c Candle) Time() time.Time {
	return time.UnixMilli(c.OpenTime).UTC()
}

// Validate 校验 K 线不变量：时间戳可解析、OHLCV 全部为有限数、
// low ≤ open/close ≤ high、volume ≥ 0。
func Validate(c Candle) error {
	if c.OpenTime <= 0 {
		return fmt.Errorf("%w: open time %d is not a valid instant", ErrInvalidCandle, c.OpenTime)
	}
	fields := [...]struct {
		name  string
		value float64
	}{
		{"open", c.Open},
		{"high", c.High},
		{"low", c.Low},
		{"close", c.Close},
		{"volume", c.Volume},
	}
	for _, f := range fields {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return fmt.Errorf("%w: %s is not finite", ErrInvalidCandle, f.name)
		}
	}
	if c.Volume < 0 {
		return fmt.Errorf("%w: volume %v is negative", ErrInvalidCandle, c.Volume)
	}
	if c.High < c.Low {
		return fmt.Errorf("%w: high %v below low %v", ErrInvalidCandle, c.High, c.Low)
	}
	if c.Open < c.Low || c.Open > c.High {
		return fmt.Errorf("%w: open %v outside [%v, %v]", ErrInvalidCandle, c.Open, c.Low, c.High)
	}
	if c.Close < c.Low || c.Close > c.High {
		return fmt.Errorf("%w: close %v outside [%v, %v]", ErrInvalidCandle, c.Close, c.Low, c.High)
	}
	return nil
}
