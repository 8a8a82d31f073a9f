// Package strategy detects swing structure in candle series and turns
// it into Fibonacci-based trading alerts.
package strategy

import (
	"time"

	"github.com/shopspring/decimal"
)

type PointType string

const (
	SwingHigh PointType = "swing_high"
	SwingLow  PointType = "swing_low"
)

// Point is a structural extremum in a candle series
type Point struct {
	Timestamp time.Time
	Price     decimal.Decimal
	Type      PointType
	Label     string // HH, LH, HL, LL
}

// Level is a horizontal support or resistance price
type Level struct {
	Timestamp time.Time
	Price     decimal.Decimal
	Type      string // support or resistance
}

const (
	LevelSupport    = "support"
	LevelResistance = "resistance"
)
