package strategy

import (
	"time"

	"github.com/shopspring/decimal"

	"binance-market-pipeline/internal/database"
)

const (
	BlockBullish = "bullish"
	BlockBearish = "bearish"
)

// OrderBlock is a supply or demand zone left behind when price breaks a
// swing point. A bullish block is the deepest candle between a swing
// high and the close that broke above it; a bearish block mirrors that
// below a swing low. MitigatedAt is nil while price has not yet traded
// back through the zone.
type OrderBlock struct {
	Timestamp   time.Time
	Type        string
	Top         decimal.Decimal
	Bottom      decimal.Decimal
	Volume      decimal.Decimal
	MitigatedAt *time.Time
}

// DetectOrderBlocks derives order blocks from a candle series and its
// swing points. With closeMitigation a block is only mitigated by a
// close through the zone, otherwise any wick through it counts.
func DetectOrderBlocks(candles []database.Candle, points []Point, closeMitigation bool) []OrderBlock {
	if len(candles) == 0 || len(points) == 0 {
		return nil
	}

	index := make(map[time.Time]int, len(candles))
	for i, c := range candles {
		index[c.Timestamp] = i
	}

	var out []OrderBlock
	for _, p := range points {
		i, ok := index[p.Timestamp]
		if !ok {
			continue
		}
		switch p.Type {
		case SwingHigh:
			if ob, ok := bullishBlock(candles, i, p.Price, closeMitigation); ok {
				out = append(out, ob)
			}
		case SwingLow:
			if ob, ok := bearishBlock(candles, i, p.Price, closeMitigation); ok {
				out = append(out, ob)
			}
		}
	}
	return out
}

// bullishBlock finds the lowest-low candle between a swing high and the
// first close breaking above it
func bullishBlock(candles []database.Candle, swing int, price decimal.Decimal, closeMitigation bool) (OrderBlock, bool) {
	broke := -1
	for j := swing + 1; j < len(candles); j++ {
		if candles[j].Close.GreaterThan(price) {
			broke = j
			break
		}
	}
	if broke < 0 {
		return OrderBlock{}, false
	}

	obIdx := swing
	for j := swing; j < broke; j++ {
		if candles[j].Low.LessThan(candles[obIdx].Low) {
			obIdx = j
		}
	}

	ob := OrderBlock{
		Timestamp: candles[obIdx].Timestamp,
		Type:      BlockBullish,
		Top:       candles[obIdx].High,
		Bottom:    candles[obIdx].Low,
		Volume:    blockVolume(candles, obIdx),
	}

	for k := broke; k < len(candles); k++ {
		ref := candles[k].Low
		if closeMitigation {
			ref = candles[k].Close
		}
		if ref.LessThan(ob.Bottom) {
			ts := candles[k].Timestamp
			ob.MitigatedAt = &ts
			break
		}
	}
	return ob, true
}

// bearishBlock finds the highest-high candle between a swing low and
// the first close breaking below it
func bearishBlock(candles []database.Candle, swing int, price decimal.Decimal, closeMitigation bool) (OrderBlock, bool) {
	broke := -1
	for j := swing + 1; j < len(candles); j++ {
		if candles[j].Close.LessThan(price) {
			broke = j
			break
		}
	}
	if broke < 0 {
		return OrderBlock{}, false
	}

	obIdx := swing
	for j := swing; j < broke; j++ {
		if candles[j].High.GreaterThan(candles[obIdx].High) {
			obIdx = j
		}
	}

	ob := OrderBlock{
		Timestamp: candles[obIdx].Timestamp,
		Type:      BlockBearish,
		Top:       candles[obIdx].High,
		Bottom:    candles[obIdx].Low,
		Volume:    blockVolume(candles, obIdx),
	}

	for k := broke; k < len(candles); k++ {
		ref := candles[k].High
		if closeMitigation {
			ref = candles[k].Close
		}
		if ref.GreaterThan(ob.Top) {
			ts := candles[k].Timestamp
			ob.MitigatedAt = &ts
			break
		}
	}
	return ob, true
}

// blockVolume sums the block candle with the two candles before it
func blockVolume(candles []database.Candle, idx int) decimal.Decimal {
	vol := candles[idx].Volume
	for j := idx - 1; j >= 0 && j >= idx-2; j-- {
		vol = vol.Add(candles[j].Volume)
	}
	return vol
}
