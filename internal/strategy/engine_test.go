package strategy

import (
	"context"
	"sync"
	"testing"
	"time"

	"binance-market-pipeline/config"
	"binance-market-pipeline/internal/database"
	"binance-market-pipeline/internal/events"
)

type memoryStore struct {
	mu         sync.Mutex
	candles    map[string][]database.Candle // symbol|timeframe
	timeframes []database.Timeframe
	swings     map[string][]database.SwingPoint
	levels     map[string][]database.SRLevel
	blocks     map[string][]database.OrderBlock
	signals    []database.Signal
	seenUIDs   map[string]bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		candles: make(map[string][]database.Candle),
		timeframes: []database.Timeframe{
			{ID: 1, Name: "1h", Seconds: 3600},
			{ID: 2, Name: "4h", Seconds: 14400},
		},
		swings:   make(map[string][]database.SwingPoint),
		levels:   make(map[string][]database.SRLevel),
		blocks:   make(map[string][]database.OrderBlock),
		seenUIDs: make(map[string]bool),
	}
}

func key(symbol, timeframe string) string { return symbol + "|" + timeframe }

func (s *memoryStore) ListTimeframes(ctx context.Context) ([]database.Timeframe, error) {
	return s.timeframes, nil
}

func (s *memoryStore) GetLatestCandles(ctx context.Context, symbol, timeframe string, limit int) ([]database.Candle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.candles[key(symbol, timeframe)], nil
}

func (s *memoryStore) ReplaceSwingPoints(ctx context.Context, symbol, timeframe string, points []database.SwingPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.swings[key(symbol, timeframe)] = points
	return nil
}

func (s *memoryStore) ReplaceSRLevels(ctx context.Context, symbol, timeframe string, levels []database.SRLevel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.levels[key(symbol, timeframe)] = levels
	return nil
}

func (s *memoryStore) ReplaceOrderBlocks(ctx context.Context, symbol, timeframe string, blocks []database.OrderBlock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[key(symbol, timeframe)] = blocks
	return nil
}

func (s *memoryStore) GetActiveSRLevels(ctx context.Context, symbol, timeframe string) ([]database.SRLevel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.levels[key(symbol, timeframe)], nil
}

func (s *memoryStore) SaveSignal(ctx context.Context, sig database.Signal) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seenUIDs[sig.UID] {
		return false, nil
	}
	s.seenUIDs[sig.UID] = true
	s.signals = append(s.signals, sig)
	return true, nil
}

type countingPublisher struct {
	mu       sync.Mutex
	channels []string
}

func (p *countingPublisher) Publish(ctx context.Context, channel string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channels = append(p.channels, channel)
	return nil
}

func (p *countingPublisher) Close() error { return nil }

func testStrategyConfig() config.StrategyConfig {
	return config.StrategyConfig{
		Enabled:           true,
		Interval:          time.Minute,
		Workers:           2,
		CandleLimit:       500,
		Depth:             5,
		Deviation:         5,
		Backstep:          2,
		PruningRate:       0.03,
		BullishFibLevel:   0.618,
		BearishFibLevel:   0.618,
		BullishSLFibLevel: 1.1,
		BearishSLFibLevel: 1.1,
		TP1FibLevel:       0.5,
		TP2FibLevel:       0.236,
		TP3FibLevel:       0.0,
		ConfluenceEpsilon: 0.005,
		SupportWindow:     2,
	}
}

func TestRunCycleProducesSignals(t *testing.T) {
	store := newMemoryStore()
	store.candles[key("BTCUSDT", "1h")] = threeLegSeries()

	pub := &countingPublisher{}
	bus := events.NewEventBus()
	engine := NewEngine(store, testStrategyConfig(), pub, bus)
	engine.SetUniverse([]string{"BTCUSDT"})

	if err := engine.RunCycle(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(store.swings[key("BTCUSDT", "1h")]) != 3 {
		t.Errorf("expected 3 persisted swing points, got %d", len(store.swings[key("BTCUSDT", "1h")]))
	}
	if _, ok := store.blocks[key("BTCUSDT", "1h")]; !ok {
		t.Error("expected order blocks to be replaced for the analyzed pair")
	}

	// The middle low pairs with both surrounding highs
	if len(store.signals) != 2 {
		t.Fatalf("expected 2 signals, got %d", len(store.signals))
	}
	var kinds []string
	for _, sig := range store.signals {
		kinds = append(kinds, sig.TrendType)
		if sig.Symbol != "BTCUSDT" || sig.Timeframe != "1h" {
			t.Errorf("unexpected signal identity: %s %s", sig.Symbol, sig.Timeframe)
		}
	}
	if (kinds[0] == kinds[1]) || (kinds[0] != TrendLong && kinds[0] != TrendShort) {
		t.Errorf("expected one long and one short, got %v", kinds)
	}

	if len(pub.channels) != 2 {
		t.Errorf("expected 2 alert publishes, got %d", len(pub.channels))
	}
	for _, ch := range pub.channels {
		if ch != "trading_alert" {
			t.Errorf("unexpected channel %s", ch)
		}
	}
}

func TestSecondCycleOnlyVisitsDirtyPairs(t *testing.T) {
	store := newMemoryStore()
	store.candles[key("BTCUSDT", "1h")] = threeLegSeries()
	store.candles[key("ETHUSDT", "1h")] = threeLegSeries()

	pub := &countingPublisher{}
	bus := events.NewEventBus()
	engine := NewEngine(store, testStrategyConfig(), pub, bus)
	engine.SetUniverse([]string{"BTCUSDT", "ETHUSDT"})

	ctx := context.Background()
	if err := engine.RunCycle(ctx); err != nil {
		t.Fatalf("first cycle failed: %v", err)
	}

	store.mu.Lock()
	store.swings = make(map[string][]database.SwingPoint)
	store.mu.Unlock()

	// Only ETHUSDT saw a closed candle since the first cycle
	bus.Publish(events.EventCandleClosed, map[string]interface{}{
		"symbol":    "ETHUSDT",
		"timeframe": "1h",
	})

	if err := engine.RunCycle(ctx); err != nil {
		t.Fatalf("second cycle failed: %v", err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if _, ok := store.swings[key("BTCUSDT", "1h")]; ok {
		t.Error("clean pair was re-analyzed")
	}
	if _, ok := store.swings[key("ETHUSDT", "1h")]; !ok {
		t.Error("dirty pair was not re-analyzed")
	}
}

func TestRunCycleSkipsShortSeries(t *testing.T) {
	store := newMemoryStore()
	store.candles[key("BTCUSDT", "1h")] = threeLegSeries()[:6]

	pub := &countingPublisher{}
	engine := NewEngine(store, testStrategyConfig(), pub, events.NewEventBus())
	engine.SetUniverse([]string{"BTCUSDT"})

	if err := engine.RunCycle(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.signals) != 0 {
		t.Errorf("expected no signals from a short series, got %d", len(store.signals))
	}
}
