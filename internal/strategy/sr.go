package strategy

import (
	"github.com/shopspring/decimal"

	"binance-market-pipeline/internal/database"
)

// IsSupport reports whether bar i holds the lowest wick over a
// centered window of 2*window+1 bars
func IsSupport(candles []database.Candle, i, window int) bool {
	return isExtreme(candles, i, window, func(c database.Candle) decimal.Decimal { return c.Low }, false)
}

// IsResistance reports whether bar i holds the highest wick over a
// centered window
func IsResistance(candles []database.Candle, i, window int) bool {
	return isExtreme(candles, i, window, func(c database.Candle) decimal.Decimal { return c.High }, true)
}

// IsBodySupport is the body-based variant used on higher timeframes,
// where wicks overstate the traded range
func IsBodySupport(candles []database.Candle, i, window int) bool {
	return isExtreme(candles, i, window, bodyLow, false)
}

// IsBodyResistance is the body-based variant of IsResistance
func IsBodyResistance(candles []database.Candle, i, window int) bool {
	return isExtreme(candles, i, window, bodyHigh, true)
}

func bodyLow(c database.Candle) decimal.Decimal {
	if c.Close.LessThan(c.Open) {
		return c.Close
	}
	return c.Open
}

func bodyHigh(c database.Candle) decimal.Decimal {
	if c.Close.GreaterThan(c.Open) {
		return c.Close
	}
	return c.Open
}

func isExtreme(candles []database.Candle, i, window int, value func(database.Candle) decimal.Decimal, high bool) bool {
	if window < 1 || i < window || i >= len(candles)-window {
		return false
	}
	center := value(candles[i])
	for j := i - window; j <= i+window; j++ {
		if j == i {
			continue
		}
		v := value(candles[j])
		if high && v.GreaterThanOrEqual(center) {
			return false
		}
		if !high && v.LessThanOrEqual(center) {
			return false
		}
	}
	return true
}

// FindLevels extracts support and resistance levels from the series.
// Wick extremes are used by default; useBody switches to candle bodies
// for higher-timeframe series.
func FindLevels(candles []database.Candle, window int, useBody bool) []Level {
	var out []Level
	for i := window; i < len(candles)-window; i++ {
		sup := IsSupport(candles, i, window)
		res := IsResistance(candles, i, window)
		if useBody {
			sup = IsBodySupport(candles, i, window)
			res = IsBodyResistance(candles, i, window)
		}
		if sup {
			price := candles[i].Low
			if useBody {
				price = bodyLow(candles[i])
			}
			out = append(out, Level{Timestamp: candles[i].Timestamp, Price: price, Type: LevelSupport})
		}
		if res {
			price := candles[i].High
			if useBody {
				price = bodyHigh(candles[i])
			}
			out = append(out, Level{Timestamp: candles[i].Timestamp, Price: price, Type: LevelResistance})
		}
	}
	return out
}
