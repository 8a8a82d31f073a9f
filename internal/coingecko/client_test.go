package coingecko

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func marketRows(n, offset int) []Market {
	price := 1.0
	out := make([]Market, n)
	for i := range out {
		cap := float64(1000000 - offset - i)
		out[i] = Market{
			ID:           "coin-" + strconv.Itoa(offset+i),
			Symbol:       "c" + strconv.Itoa(offset+i),
			CurrentPrice: &price,
			MarketCap:    &cap,
		}
	}
	return out
}

func TestGetTopMarketsPaginates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
		if perPage > 250 {
			t.Errorf("per_page exceeds CoinGecko cap: %d", perPage)
		}
		json.NewEncoder(w).Encode(marketRows(perPage, (page-1)*perPage))
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, 100, time.Millisecond)
	markets, err := client.GetTopMarkets(context.Background(), 250)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(markets) != 250 {
		t.Fatalf("expected 250 markets, got %d", len(markets))
	}
	if markets[0].ID != "coin-0" || markets[249].ID != "coin-249" {
		t.Errorf("pagination order broken: first=%s last=%s", markets[0].ID, markets[249].ID)
	}
}

func TestGetTopMarketsPartialLastPage(t *testing.T) {
	var perPages []int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
		perPages = append(perPages, perPage)
		json.NewEncoder(w).Encode(marketRows(perPage, (page-1)*perPage))
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, 250, time.Millisecond)
	markets, err := client.GetTopMarkets(context.Background(), 300)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(markets) != 300 {
		t.Fatalf("expected 300 markets, got %d", len(markets))
	}
	for _, perPage := range perPages {
		if perPage != 250 {
			t.Errorf("per_page must stay constant across pages, got %d", perPage)
		}
	}
	seen := make(map[string]bool, len(markets))
	for _, m := range markets {
		if seen[m.ID] {
			t.Fatalf("duplicate market %s across pages", m.ID)
		}
		seen[m.ID] = true
	}
	if markets[299].ID != "coin-299" {
		t.Errorf("expected tail rank coin-299, got %s", markets[299].ID)
	}
}

func TestGetTopMarketsStopsOnShortPage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(marketRows(30, 0))
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, 100, time.Millisecond)
	markets, err := client.GetTopMarkets(context.Background(), 500)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(markets) != 30 {
		t.Fatalf("expected 30 markets from the short page, got %d", len(markets))
	}
}

func TestFetchPageRetriesOn429(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(marketRows(5, 0))
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, 5, 10*time.Millisecond)
	markets, err := client.GetTopMarkets(context.Background(), 5)
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if len(markets) != 5 {
		t.Errorf("expected 5 markets, got %d", len(markets))
	}
	if calls != 2 {
		t.Errorf("expected 2 requests, got %d", calls)
	}
}

func TestGetMarketsByIDsChunks(t *testing.T) {
	var idParams []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idParams = append(idParams, r.URL.Query().Get("ids"))
		json.NewEncoder(w).Encode(marketRows(2, 0))
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, 2, time.Millisecond)
	ids := []string{"bitcoin", "ethereum", "solana"}
	if _, err := client.GetMarketsByIDs(context.Background(), ids); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(idParams) != 2 {
		t.Fatalf("expected 2 chunked requests, got %d", len(idParams))
	}
	if idParams[0] != "bitcoin,ethereum" || idParams[1] != "solana" {
		t.Errorf("unexpected id chunks: %v", idParams)
	}
}
