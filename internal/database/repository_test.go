package database

import "testing"

func TestSplitSymbolComponents(t *testing.T) {
	cases := []struct {
		name  string
		base  string
		quote string
	}{
		{"BTCUSDT", "BTC", "USDT"},
		{"ETHBTC", "ETH", "BTC"},
		{"SOLUSDC", "SOL", "USDC"},
		{"DOGEBUSD", "DOGE", "BUSD"},
		{"WINTRY", "WIN", "TRY"},
		{"XYZ", "XYZ", "USD"},
	}
	for _, tc := range cases {
		base, quote := SplitSymbolComponents(tc.name)
		if base != tc.base || quote != tc.quote {
			t.Errorf("%s: expected (%s, %s), got (%s, %s)", tc.name, tc.base, tc.quote, base, quote)
		}
	}
}

func TestSplitSymbolComponentsLowercase(t *testing.T) {
	base, quote := SplitSymbolComponents("btcusdt")
	if base != "BTC" || quote != "USDT" {
		t.Errorf("expected (BTC, USDT), got (%s, %s)", base, quote)
	}
}

func TestSplitSymbolComponentsBareQuote(t *testing.T) {
	// A name that IS a quote asset must not produce an empty base
	base, quote := SplitSymbolComponents("USDT")
	if base != "USDT" || quote != "USD" {
		t.Errorf("expected (USDT, USD), got (%s, %s)", base, quote)
	}
}

func TestCandleValid(t *testing.T) {
	c := mustCandle(t, "100", "102", "98", "101")
	if !c.Valid() {
		t.Error("expected valid candle")
	}

	bad := mustCandle(t, "100", "98", "102", "101") // high < low
	if bad.Valid() {
		t.Error("expected invalid candle when high < low")
	}

	zero := mustCandle(t, "0", "102", "98", "101")
	if zero.Valid() {
		t.Error("expected invalid candle with zero open")
	}

	clipped := mustCandle(t, "100", "100.5", "98", "101") // high < close
	if clipped.Valid() {
		t.Error("expected invalid candle when high < close")
	}
}
