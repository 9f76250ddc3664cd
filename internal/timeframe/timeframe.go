// Package timeframe 提供周期解析、对齐与 K 线聚合的纯函数。
package timeframe

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidTimeframe = errors.New("invalid timeframe")

	// ErrInvalidConversion 是两类转换错误的公共父类。
	ErrInvalidConversion      = errors.New("invalid conversion")
	ErrConversionTooSmall     = fmt.Errorf("%w: target timeframe not larger than source", ErrInvalidConversion)
	ErrConversionNotDivisible = fmt.Errorf("%w: target timeframe not evenly divisible by source", ErrInvalidConversion)
)

type Unit string

const (
	UnitMinute Unit = "m"
	UnitHour   Unit = "h"
	UnitDay    Unit = "d"
)

// Timeframe 描述一个标准化周期，Minutes 为换算后的分钟数。
type Timeframe struct {
	Value   int
	Unit    Unit
	Minutes int
}

func (tf Timeframe) String() string {
	return strconv.Itoa(tf.Value) + string(tf.Unit)
}

func (tf Timeframe) Duration() time.Duration {
	return time.Duration(tf.Minutes) * time.Minute
}

// Parse 解析 `<整数><单位>` 形式的周期字符串，单位限 m/h/d。
func Parse(input string) (Timeframe, error) {
	s := strings.ToLower(strings.TrimSpace(input))
	if len(s) < 2 {
		return Timeframe{}, fmt.Errorf("%w: %q", ErrInvalidTimeframe, input)
	}
	unit := Unit(s[len(s)-1:])
	value, err := strconv.Atoi(s[:len(s)-1])
	if err != nil {
		return Timeframe{}, fmt.Errorf("%w: %q", ErrInvalidTimeframe, input)
	}
	if value <= 0 {
		return Timeframe{}, fmt.Errorf("%w: %q has non-positive value", ErrInvalidTimeframe, input)
	}
	var minutes int
	switch unit {
	case UnitMinute:
		minutes = value
	case UnitHour:
		minutes = value * 60
	case UnitDay:
		minutes = value * 24 * 60
	default:
		return Timeframe{}, fmt.Errorf("%w: %q has unknown unit", ErrInvalidTimeframe, input)
	}
	return Timeframe{Value: value, Unit: unit, Minutes: minutes}, nil
}

// CanConvert 仅允许向更大且可整除的周期转换。
func CanConvert(from, to Timeframe) bool {
	if from.Minutes <= 0 || to.Minutes <= 0 {
		return false
	}
	return to.Minutes > from.Minutes && to.Minutes%from.Minutes == 0
}

// ConversionRatio 返回 to/from 的倍数；不可转换时区分两个错误子类。
func ConversionRatio(from, to Timeframe) (int, error) {
	if from.Minutes <= 0 || to.Minutes <= 0 {
		return 0, fmt.Errorf("%w: zero-length timeframe", ErrInvalidConversion)
	}
	if to.Minutes <= from.Minutes {
		return 0, fmt.Errorf("%w (%s -> %s)", ErrConversionTooSmall, from, to)
	}
	if to.Minutes%from.Minutes != 0 {
		return 0, fmt.Errorf("%w (%s -> %s)", ErrConversionNotDivisible, from, to)
	}
	return to.Minutes / from.Minutes, nil
}

// AlignToPeriod 将毫秒时间戳向下取整到自 epoch 起以 periodMinutes 为步长的边界。
// periodMinutes=1440 时即按自然日（UTC）对齐。幂等。
func AlignToPeriod(ts int64, periodMinutes int) int64 {
	step := int64(periodMinutes) * 60_000
	if step <= 0 {
		return ts
	}
	rem := ts % step
	if rem < 0 {
		rem += step
	}
	return ts - rem
}
