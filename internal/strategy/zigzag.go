package strategy

import (
	"github.com/shopspring/decimal"

	"binance-market-pipeline/internal/database"
)

// ZigZag is a depth/deviation/backstep swing detector. Deviation is
// expressed in ticks; the tick size is derived from the series itself
// so the detector works across price scales.
type ZigZag struct {
	Depth     int
	Deviation int
	Backstep  int
}

// chartPoint tracks a leg extremum during the scan. The label compares
// it against the previous extremum of the same type.
type chartPoint struct {
	index int
	price decimal.Decimal
	label string
}

// Points scans the series once and returns the pruned, strictly
// alternating swing sequence. Series shorter than depth+backstep+1
// bars cannot produce a confirmed swing and yield nil.
func (zz ZigZag) Points(candles []database.Candle, pruningRate float64) []Point {
	if len(candles) < zz.Depth+zz.Backstep+1 {
		return nil
	}

	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	for i, c := range candles {
		highs[i] = c.High.InexactFloat64()
		lows[i] = c.Low.InexactFloat64()
	}

	threshold := float64(zz.Deviation) * minTick(highs, lows)

	var (
		raw       []Point
		direction = 0
		hr, lr    int // bars since the high/low break condition was last false
		dirSince  int // bars since highs broke at least as recently as lows
		z, z1, z2 chartPoint
		lastPoint decimal.Decimal
		seeded    bool
	)

	for i := zz.Depth + 1; i < len(candles); i++ {
		// Window of depth bars ending one bar back
		winHigh, winLow := highs[i-1], lows[i-1]
		for j := i - zz.Depth; j < i-1; j++ {
			if highs[j] > winHigh {
				winHigh = highs[j]
			}
			if lows[j] < winLow {
				winLow = lows[j]
			}
		}

		if winHigh-highs[i] > threshold {
			hr++
		} else {
			hr = 0
		}
		if lows[i]-winLow > threshold {
			lr++
		} else {
			lr = 0
		}

		if hr <= lr {
			dirSince = 0
		} else {
			dirSince++
		}
		dir := 1
		if dirSince >= zz.Backstep {
			dir = -1
		}

		if !seeded {
			seeded = true
			direction = dir
			if dir > 0 {
				z2 = chartPoint{i, candles[i].High, ""}
				z = chartPoint{i, candles[i].Low, ""}
			} else {
				z2 = chartPoint{i, candles[i].Low, ""}
				z = chartPoint{i, candles[i].High, ""}
			}
			z1 = z2
			lastPoint = z2.price
			continue
		}

		if dir != direction {
			// The completed leg's extremum is pinned; the previous
			// same-type extremum becomes the label reference for
			// the next developing leg
			completed := Point{
				Timestamp: candles[z2.index].Timestamp,
				Price:     z2.price,
				Label:     z2.label,
			}
			if direction > 0 {
				completed.Type = SwingHigh
			} else {
				completed.Type = SwingLow
			}
			raw = append(raw, completed)

			ref := z1.price
			z1 = z2
			z2 = z
			lastPoint = ref
			direction = dir
			if direction > 0 {
				z2.label = labelHigh(z2.price, lastPoint)
			} else {
				z2.label = labelLow(z2.price, lastPoint)
			}
		}

		if direction > 0 {
			if candles[i].High.GreaterThan(z2.price) {
				z2 = chartPoint{i, candles[i].High, labelHigh(candles[i].High, lastPoint)}
				z = chartPoint{i, candles[i].Low, ""}
			}
			if candles[i].Low.LessThan(z.price) {
				z = chartPoint{i, candles[i].Low, ""}
			}
		} else {
			if candles[i].Low.LessThan(z2.price) {
				z2 = chartPoint{i, candles[i].Low, labelLow(candles[i].Low, lastPoint)}
				z = chartPoint{i, candles[i].High, ""}
			}
			if candles[i].High.GreaterThan(z.price) {
				z = chartPoint{i, candles[i].High, ""}
			}
		}
	}

	if !seeded {
		return nil
	}

	// The developing leg's extremum closes the sequence when its type
	// extends the alternation
	final := Point{
		Timestamp: candles[z2.index].Timestamp,
		Price:     z2.price,
		Label:     z2.label,
	}
	if direction > 0 {
		final.Type = SwingHigh
	} else {
		final.Type = SwingLow
	}
	if len(raw) == 0 || raw[len(raw)-1].Type != final.Type {
		raw = append(raw, final)
	}

	pruned := FilterRate(raw, pruningRate)
	pruned = FilterBetween(pruned)
	return EnforceStrictAlternation(pruned)
}

// minTick approximates the instrument tick as one basis point of the
// average mid price, floored for degenerate series
func minTick(highs, lows []float64) float64 {
	var sum float64
	for i := range highs {
		sum += (highs[i] + lows[i]) / 2
	}
	tick := 0.0001 * sum / float64(len(highs))
	if tick <= 0 {
		return 0.01
	}
	return tick
}

func labelHigh(price, ref decimal.Decimal) string {
	if price.GreaterThan(ref) {
		return "HH"
	}
	return "LH"
}

func labelLow(price, ref decimal.Decimal) string {
	if price.LessThan(ref) {
		return "LL"
	}
	return "HL"
}
