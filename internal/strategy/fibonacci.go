package strategy

import (
	"github.com/shopspring/decimal"
)

// Retracement pairs a swing low with an adjacent swing high and
// carries the entry level derived from the leg between them
type Retracement struct {
	Kind  string // long or short
	Low   Point
	High  Point
	Entry decimal.Decimal
}

const (
	TrendLong  = "long"
	TrendShort = "short"
)

// FibLevels holds the ratios applied to each swing leg
type FibLevels struct {
	Bullish float64
	Bearish float64
}

// ComputeRetracements derives entries from an alternating swing
// sequence. Each low pairs rightward for a long setup and leftward
// for a short setup; pairs where the high does not clear the low are
// skipped.
func ComputeRetracements(points []Point, fib FibLevels) []Retracement {
	bullish := decimal.NewFromFloat(fib.Bullish)
	bearish := decimal.NewFromFloat(fib.Bearish)

	var out []Retracement
	for i, p := range points {
		if p.Type != SwingLow {
			continue
		}

		// First high after the low: the leg a long retraces into
		for j := i + 1; j < len(points); j++ {
			if points[j].Type != SwingHigh {
				continue
			}
			h := points[j]
			if h.Price.GreaterThan(p.Price) {
				entry := h.Price.Sub(h.Price.Sub(p.Price).Mul(bullish))
				if entry.LessThan(p.Price) {
					entry = p.Price
				}
				out = append(out, Retracement{Kind: TrendLong, Low: p, High: h, Entry: entry})
			}
			break
		}

		// Last high before the low: the leg a short bounces into
		for j := i - 1; j >= 0; j-- {
			if points[j].Type != SwingHigh {
				continue
			}
			h := points[j]
			if h.Price.GreaterThan(p.Price) {
				entry := p.Price.Add(h.Price.Sub(p.Price).Mul(bearish))
				if entry.LessThan(p.Price) {
					entry = p.Price
				}
				if entry.GreaterThan(h.Price) {
					entry = h.Price
				}
				out = append(out, Retracement{Kind: TrendShort, Low: p, High: h, Entry: entry})
			}
			break
		}
	}
	return out
}
