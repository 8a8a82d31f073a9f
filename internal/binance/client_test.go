package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestFilterPerpetuals(t *testing.T) {
	symbols := []SymbolInfo{
		{Symbol: "BTCUSDT", ContractType: "PERPETUAL", Status: "TRADING"},
		{Symbol: "ETHUSDT", ContractType: "PERPETUAL", Status: "TRADING"},
		{Symbol: "BTCUSDT_240329", ContractType: "CURRENT_QUARTER", Status: "TRADING"},
		{Symbol: "OLDUSDT", ContractType: "PERPETUAL", Status: "SETTLING"},
	}

	got := FilterPerpetuals(symbols)
	if len(got) != 2 {
		t.Fatalf("expected 2 perpetuals, got %d: %v", len(got), got)
	}
	if got[0] != "BTCUSDT" || got[1] != "ETHUSDT" {
		t.Errorf("unexpected symbols: %v", got)
	}
}

func TestGetKlinesParsesArrays(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/fapi/v1/klines" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`[
			[1700000000000,"100.5","102.0","99.1","101.2","1234.5",1700000059999,"0",0,"0","0","0"],
			[1700000060000,"101.2","103.0","100.9","102.8","987.6",1700000119999,"0",0,"0","0","0"]
		]`))
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, 100, time.Millisecond)
	klines, err := client.GetKlines(context.Background(), "BTCUSDT", "1m", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(klines) != 2 {
		t.Fatalf("expected 2 klines, got %d", len(klines))
	}
	if klines[0].OpenTime != 1700000000000 {
		t.Errorf("unexpected open time %d", klines[0].OpenTime)
	}
	if klines[0].Open.String() != "100.5" {
		t.Errorf("expected open 100.5, got %s", klines[0].Open.String())
	}
	if klines[1].Close.String() != "102.8" {
		t.Errorf("expected close 102.8, got %s", klines[1].Close.String())
	}
}

func TestGetRetriesOnceOn429(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, 100, 10*time.Millisecond)
	if _, err := client.GetKlines(context.Background(), "BTCUSDT", "1m", 1); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Errorf("expected 2 requests, got %d", n)
	}
}

func TestGetFailsAfterSecond429(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, 100, 10*time.Millisecond)
	if _, err := client.GetKlines(context.Background(), "BTCUSDT", "1m", 1); err == nil {
		t.Fatal("expected error after exhausting the single retry")
	}
}

func TestGet24hrTickers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"symbol":"BTCUSDT","lastPrice":"65000.5","volume":"1000","quoteVolume":"65000500"},
			{"symbol":"ETHUSDT","lastPrice":"3200.25","volume":"5000","quoteVolume":"16001250"}
		]`))
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, 100, time.Millisecond)
	tickers, err := client.Get24hrTickers(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	btc, ok := tickers["BTCUSDT"]
	if !ok {
		t.Fatal("expected BTCUSDT ticker")
	}
	if btc.LastPrice != 65000.5 {
		t.Errorf("expected lastPrice 65000.5, got %f", btc.LastPrice)
	}
	if btc.QuoteVolume != 65000500 {
		t.Errorf("expected quoteVolume 65000500, got %f", btc.QuoteVolume)
	}
}
