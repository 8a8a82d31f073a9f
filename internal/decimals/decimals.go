// Package decimals provides exact-decimal conversions for price arithmetic.
// Floating-point inputs are rendered to strings first so that small-priced
// assets do not pick up binary-float artifacts.
package decimals

import (
	"strconv"

	"github.com/shopspring/decimal"
)

// ToDecimal converts a string, float, or integer to a decimal.
// The boolean is false when the value cannot be represented.
func ToDecimal(v interface{}) (decimal.Decimal, bool) {
	switch x := v.(type) {
	case decimal.Decimal:
		return x, true
	case string:
		d, err := decimal.NewFromString(x)
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	case float64:
		return FromFloat(x)
	case float32:
		return FromFloat(float64(x))
	case int:
		return decimal.NewFromInt(int64(x)), true
	case int64:
		return decimal.NewFromInt(x), true
	case nil:
		return decimal.Zero, false
	default:
		return decimal.Zero, false
	}
}

// ToDecimalSafe converts like ToDecimal but falls back to def on failure
func ToDecimalSafe(v interface{}, def decimal.Decimal) decimal.Decimal {
	d, ok := ToDecimal(v)
	if !ok {
		return def
	}
	return d
}

// FromFloat converts a float through its shortest string rendering
func FromFloat(f float64) (decimal.Decimal, bool) {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// Compare returns -1, 0, or 1
func Compare(a, b decimal.Decimal) int {
	return a.Cmp(b)
}

// Clamp bounds d to [lo, hi]
func Clamp(d, lo, hi decimal.Decimal) decimal.Decimal {
	if d.LessThan(lo) {
		return lo
	}
	if d.GreaterThan(hi) {
		return hi
	}
	return d
}
