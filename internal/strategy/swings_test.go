package strategy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func pointAt(i int, price float64, typ PointType) Point {
	return Point{
		Timestamp: seriesStart.Add(time.Duration(i) * time.Hour),
		Price:     decimal.NewFromFloat(price),
		Type:      typ,
	}
}

func TestFilterRatePrunesShallowMoves(t *testing.T) {
	points := []Point{
		pointAt(1, 100, SwingLow),
		pointAt(2, 100.5, SwingHigh),
		pointAt(3, 100, SwingLow),
		pointAt(4, 110, SwingHigh),
		pointAt(5, 100, SwingLow),
	}

	kept := FilterRate(points, 0.03)

	var highs, lows []Point
	for _, p := range kept {
		if p.Type == SwingHigh {
			highs = append(highs, p)
		} else {
			lows = append(lows, p)
		}
	}

	if len(highs) != 1 || highs[0].Price.String() != "110" {
		t.Errorf("expected single high at 110, got %+v", highs)
	}
	if len(lows) != 2 {
		t.Fatalf("expected 2 lows, got %d", len(lows))
	}
	if lows[0].Price.String() != "100" || lows[1].Price.String() != "100" {
		t.Errorf("unexpected low prices: %+v", lows)
	}
	if !lows[0].Timestamp.Equal(pointAt(1, 0, SwingLow).Timestamp) ||
		!lows[1].Timestamp.Equal(pointAt(5, 0, SwingLow).Timestamp) {
		t.Errorf("unexpected low timestamps: %+v", lows)
	}
}

func TestFilterRateEmptyInput(t *testing.T) {
	if got := FilterRate(nil, 0.03); got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestFilterBetweenKeepsRunExtremes(t *testing.T) {
	points := []Point{
		pointAt(1, 110, SwingHigh),
		pointAt(2, 100, SwingLow),
		pointAt(3, 95, SwingLow),
		pointAt(4, 98, SwingLow),
		pointAt(5, 112, SwingHigh),
	}

	got := FilterBetween(points)
	if len(got) != 3 {
		t.Fatalf("expected 3 points, got %d: %+v", len(got), got)
	}
	if got[1].Price.String() != "95" {
		t.Errorf("expected the run to collapse to 95, got %s", got[1].Price.String())
	}
}

func TestEnforceStrictAlternation(t *testing.T) {
	points := []Point{
		pointAt(1, 100, SwingLow),
		pointAt(2, 110, SwingHigh),
		pointAt(3, 115, SwingHigh),
		pointAt(4, 98, SwingLow),
		pointAt(5, 96, SwingLow),
	}

	got := EnforceStrictAlternation(points)
	if len(got) != 3 {
		t.Fatalf("expected 3 points, got %d", len(got))
	}
	if got[1].Price.String() != "115" {
		t.Errorf("expected higher high kept, got %s", got[1].Price.String())
	}
	if got[2].Price.String() != "96" {
		t.Errorf("expected lower low kept, got %s", got[2].Price.String())
	}
}

func TestCalculateSwingPointsCenteredWindow(t *testing.T) {
	var candles = threeLegSeries()
	points := CalculateSwingPoints(candles, 3)

	var foundHigh, foundLow bool
	for _, p := range points {
		if p.Type == SwingHigh && p.Price.String() == "128" {
			foundHigh = true
		}
		if p.Type == SwingLow && p.Price.String() == "97" {
			foundLow = true
		}
	}
	if !foundHigh {
		t.Error("expected the 128 peak as a swing high")
	}
	if !foundLow {
		t.Error("expected the 97 trough as a swing low")
	}
}

func TestCalculateSwingPointsIgnoresEdges(t *testing.T) {
	candles := threeLegSeries()
	points := CalculateSwingPoints(candles, 3)

	first := candles[0].Timestamp
	last := candles[len(candles)-1].Timestamp
	for _, p := range points {
		if p.Timestamp.Equal(first) || p.Timestamp.Equal(last) {
			t.Errorf("edge bar reported as swing point: %+v", p)
		}
	}
}
