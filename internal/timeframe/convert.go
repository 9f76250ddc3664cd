package timeframe

import (
	"marlin/internal/market"
)

// Convert 将同一小周期的有序 K 线聚合为更大的周期。
// 仅输出被完整覆盖的周期（组内根数 == 比例），不足一组的尾部直接丢弃。
func Convert(candles []market.Candle, from, to Timeframe) ([]market.Candle, error) {
	ratio, err := ConversionRatio(from, to)
	if err != nil {
		return nil, err
	}
	for _, c := range candles {
		if err := market.Validate(c); err != nil {
			return nil, err
		}
	}

	var (
		out     []market.Candle
		current market.Candle
		count   int
		started bool
	)
	flush := func() {
		if started && count == ratio {
			out = append(out, current)
		}
		count = 0
		started = false
	}
	for _, c := range candles {
		periodStart := AlignToPeriod(c.OpenTime, to.Minutes)
		if !started || periodStart != current.OpenTime {
			flush()
			current = market.Candle{
				OpenTime: periodStart,
				Open:     c.Open,
				High:     c.High,
				Low:      c.Low,
				Close:    c.Close,
				Volume:   c.Volume,
			}
			count = 1
			started = true
			continue
		}
		if c.High > current.High {
			current.High = c.High
		}
		if c.Low < current.Low {
			current.Low = c.Low
		}
		current.Close = c.Close
		current.Volume += c.Volume
		count++
	}
	flush()
	return out, nil
}
