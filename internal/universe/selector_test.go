package universe

import (
	"context"
	"errors"
	"testing"

	"binance-market-pipeline/internal/coingecko"
	"binance-market-pipeline/internal/database"
)

type stubExchange struct {
	symbols []string
	err     error
}

func (s *stubExchange) GetPerpetualSymbols(ctx context.Context) ([]string, error) {
	return s.symbols, s.err
}

type stubMetrics struct {
	markets []coingecko.Market
	err     error
}

func (s *stubMetrics) GetTopMarkets(ctx context.Context, limit int) ([]coingecko.Market, error) {
	return s.markets, s.err
}

type stubStore struct {
	rows []database.MarketMetrics
}

func (s *stubStore) SaveMarketMetrics(ctx context.Context, rows []database.MarketMetrics) (int, error) {
	s.rows = append(s.rows, rows...)
	return len(rows), nil
}

func market(id, symbol string, cap float64) coingecko.Market {
	return coingecko.Market{ID: id, Symbol: symbol, MarketCap: &cap}
}

func TestSelectIntersectsInMarketCapOrder(t *testing.T) {
	exchange := &stubExchange{symbols: []string{"BTCUSDT", "ETHUSDT", "FOOUSDT"}}
	metrics := &stubMetrics{markets: []coingecko.Market{
		market("bitcoin", "btc", 3),
		market("ethereum", "eth", 2),
		market("barcoin", "bar", 1),
	}}

	sel := NewSelector(exchange, metrics, &stubStore{}, []string{"BTCUSDT"}, 200)
	got, err := sel.Select(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"BTCUSDT", "ETHUSDT"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestSelectFallsBackToUnfilteredMarkets(t *testing.T) {
	exchange := &stubExchange{err: errors.New("discovery down")}
	metrics := &stubMetrics{markets: []coingecko.Market{
		market("bitcoin", "btc", 2),
		market("ethereum", "eth", 1),
	}}

	sel := NewSelector(exchange, metrics, &stubStore{}, []string{"BNBUSDT"}, 200)
	got, err := sel.Select(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0] != "BTCUSDT" || got[1] != "ETHUSDT" {
		t.Errorf("expected unfiltered market list, got %v", got)
	}
}

func TestSelectFallsBackToDefaults(t *testing.T) {
	exchange := &stubExchange{err: errors.New("discovery down")}
	metrics := &stubMetrics{err: errors.New("metrics down")}

	defaults := []string{"BTCUSDT", "ETHUSDT"}
	sel := NewSelector(exchange, metrics, &stubStore{}, defaults, 200)
	got, err := sel.Select(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0] != "BTCUSDT" {
		t.Errorf("expected defaults, got %v", got)
	}
}

func TestSeedPersistsMetrics(t *testing.T) {
	exchange := &stubExchange{symbols: []string{"BTCUSDT"}}
	metrics := &stubMetrics{markets: []coingecko.Market{market("bitcoin", "btc", 5)}}
	store := &stubStore{}

	sel := NewSelector(exchange, metrics, store, nil, 200)
	got, err := sel.Seed(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0] != "BTCUSDT" {
		t.Errorf("expected [BTCUSDT], got %v", got)
	}
	if len(store.rows) != 1 {
		t.Fatalf("expected 1 metrics row saved, got %d", len(store.rows))
	}
	if store.rows[0].Symbol != "BTCUSDT" || store.rows[0].MarketCap == nil || *store.rows[0].MarketCap != 5 {
		t.Errorf("unexpected metrics row: %+v", store.rows[0])
	}

	if id, ok := sel.CoinID("BTCUSDT"); !ok || id != "bitcoin" {
		t.Errorf("expected coin id mapping, got %q %v", id, ok)
	}
}

func TestRefreshUsesQualifiedSymbols(t *testing.T) {
	exchange := &stubExchange{symbols: []string{"BTCUSDT", "ETHUSDT"}}
	metrics := &stubMetrics{err: errors.New("provider should not be consulted")}

	qualified := []database.QualifiedSymbol{
		{Symbol: "BTCUSDT", MarketCap: 3, Volume24h: 3},
		{Symbol: "ETHUSDT", MarketCap: 2, Volume24h: 2},
		{Symbol: "FOOUSDT", MarketCap: 1, Volume24h: 1}, // not a perpetual
	}

	sel := NewSelector(exchange, metrics, &stubStore{}, []string{"BNBUSDT"}, 200)
	got, err := sel.Refresh(context.Background(), qualified)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"BTCUSDT", "ETHUSDT"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestRefreshFallsBackToProviderWhenNothingQualifies(t *testing.T) {
	exchange := &stubExchange{symbols: []string{"BTCUSDT"}}
	metrics := &stubMetrics{markets: []coingecko.Market{market("bitcoin", "btc", 5)}}

	sel := NewSelector(exchange, metrics, &stubStore{}, []string{"BNBUSDT"}, 200)
	got, err := sel.Refresh(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0] != "BTCUSDT" {
		t.Errorf("expected provider selection, got %v", got)
	}
}

func TestIntersectEmptyAllowed(t *testing.T) {
	if got := Intersect([]string{"A", "B"}, nil); got != nil {
		t.Errorf("expected nil for empty allowed set, got %v", got)
	}
}
