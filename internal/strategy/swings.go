package strategy

import (
	"binance-market-pipeline/internal/database"
)

// CalculateSwingPoints finds strict local extrema over a centered
// window of 2*window+1 bars. Edge bars never qualify.
func CalculateSwingPoints(candles []database.Candle, window int) []Point {
	if window < 1 {
		return nil
	}
	var out []Point
	for i := window; i < len(candles)-window; i++ {
		isHigh, isLow := true, true
		for j := i - window; j <= i+window; j++ {
			if j == i {
				continue
			}
			if candles[j].High.GreaterThanOrEqual(candles[i].High) {
				isHigh = false
			}
			if candles[j].Low.LessThanOrEqual(candles[i].Low) {
				isLow = false
			}
			if !isHigh && !isLow {
				break
			}
		}
		if isHigh {
			out = append(out, Point{Timestamp: candles[i].Timestamp, Price: candles[i].High, Type: SwingHigh})
		}
		if isLow {
			out = append(out, Point{Timestamp: candles[i].Timestamp, Price: candles[i].Low, Type: SwingLow})
		}
	}
	return out
}

// FilterRate drops points whose relative move from the last kept point
// does not exceed rate. The first point is always kept.
func FilterRate(points []Point, rate float64) []Point {
	if len(points) == 0 {
		return nil
	}
	out := []Point{points[0]}
	for _, p := range points[1:] {
		prev := out[len(out)-1]
		if prev.Price.IsZero() {
			out = append(out, p)
			continue
		}
		move := p.Price.Sub(prev.Price).Abs().Div(prev.Price.Abs()).InexactFloat64()
		if move > rate {
			out = append(out, p)
		}
	}
	return out
}

// FilterBetween collapses each run of same-type points down to its
// extreme, so at most one point survives between two opposite-type
// neighbors. The first and last points are preserved.
func FilterBetween(points []Point) []Point {
	if len(points) <= 2 {
		return points
	}
	var out []Point
	i := 0
	for i < len(points) {
		j := i
		ext := i
		for j+1 < len(points) && points[j+1].Type == points[i].Type {
			j++
			if moreExtreme(points[j], points[ext]) {
				ext = j
			}
		}
		if i == 0 && ext != 0 {
			out = append(out, points[0])
		}
		out = append(out, points[ext])
		if j == len(points)-1 && ext != j {
			out = append(out, points[j])
		}
		i = j + 1
	}
	return out
}

// EnforceStrictAlternation removes adjacent same-type points, keeping
// the more extreme of each collision
func EnforceStrictAlternation(points []Point) []Point {
	if len(points) == 0 {
		return nil
	}
	out := []Point{points[0]}
	for _, p := range points[1:] {
		last := &out[len(out)-1]
		if p.Type == last.Type {
			if moreExtreme(p, *last) {
				*last = p
			}
			continue
		}
		out = append(out, p)
	}
	return out
}

func moreExtreme(a, b Point) bool {
	if a.Type == SwingHigh {
		return a.Price.GreaterThan(b.Price)
	}
	return a.Price.LessThan(b.Price)
}
