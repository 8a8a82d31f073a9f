package database

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func mustCandle(t *testing.T, open, high, low, closeP string) Candle {
	t.Helper()
	parse := func(s string) decimal.Decimal {
		d, err := decimal.NewFromString(s)
		if err != nil {
			t.Fatalf("bad decimal %q: %v", s, err)
		}
		return d
	}
	return Candle{
		Symbol:    "BTCUSDT",
		Timeframe: "1m",
		Timestamp: time.Unix(1700000000, 0).UTC(),
		Open:      parse(open),
		High:      parse(high),
		Low:       parse(low),
		Close:     parse(closeP),
		Volume:    decimal.NewFromInt(10),
	}
}
