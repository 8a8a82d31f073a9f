package stream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"binance-market-pipeline/internal/database"
	"binance-market-pipeline/internal/events"
)

type fakeStore struct {
	calls []storeCall
	err   error
}

type storeCall struct {
	candles []database.Candle
	closed  bool
}

func (f *fakeStore) SaveCandlesMerge(ctx context.Context, candles []database.Candle, closed bool) error {
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, storeCall{candles: candles, closed: closed})
	return nil
}

type recordingPublisher struct {
	published []string
}

func (p *recordingPublisher) Publish(ctx context.Context, channel string, payload interface{}) error {
	p.published = append(p.published, channel)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func testEvent(symbol string, closed bool, high, low string) KlineEvent {
	h, _ := decimal.NewFromString(high)
	l, _ := decimal.NewFromString(low)
	return KlineEvent{
		Symbol:    symbol,
		Timeframe: "1m",
		Timestamp: time.UnixMilli(1700000000000).UTC(),
		Open:      decimal.NewFromInt(100),
		High:      h,
		Low:       l,
		Close:     decimal.NewFromInt(101),
		Volume:    decimal.NewFromInt(10),
		IsClosed:  closed,
	}
}

func newTestBatcher(store CandleStore, pub *recordingPublisher, size int) (*Batcher, *events.EventBus) {
	bus := events.NewEventBus()
	metrics := NewMetrics(prometheus.NewRegistry())
	return NewBatcher(store, pub, bus, metrics, size, time.Minute), bus
}

func TestFlushPartitionsByClosedState(t *testing.T) {
	store := &fakeStore{}
	pub := &recordingPublisher{}
	b, _ := newTestBatcher(store, pub, 100)

	ctx := context.Background()
	b.Add(ctx, testEvent("BTCUSDT", false, "101", "99"))
	b.Add(ctx, testEvent("BTCUSDT", false, "102", "98"))
	b.Add(ctx, testEvent("BTCUSDT", true, "102", "98"))
	b.Flush(ctx)

	if len(store.calls) != 2 {
		t.Fatalf("expected 2 store calls, got %d", len(store.calls))
	}
	if store.calls[0].closed {
		t.Error("expected in-progress partition written first")
	}
	if len(store.calls[0].candles) != 2 {
		t.Errorf("expected 2 in-progress candles, got %d", len(store.calls[0].candles))
	}
	if !store.calls[1].closed || len(store.calls[1].candles) != 1 {
		t.Errorf("expected 1 closed candle in second call")
	}
}

func TestFlushPublishesOnlyClosedCandles(t *testing.T) {
	store := &fakeStore{}
	pub := &recordingPublisher{}
	b, bus := newTestBatcher(store, pub, 100)

	var busEvents []events.Event
	bus.Subscribe(events.EventCandleClosed, func(e events.Event) {
		busEvents = append(busEvents, e)
	})

	ctx := context.Background()
	b.Add(ctx, testEvent("BTCUSDT", false, "101", "99"))
	b.Add(ctx, testEvent("ETHUSDT", true, "102", "98"))
	b.Flush(ctx)

	if len(pub.published) != 1 {
		t.Fatalf("expected 1 candle_update, got %d", len(pub.published))
	}
	if len(busEvents) != 1 {
		t.Fatalf("expected 1 bus event, got %d", len(busEvents))
	}
	if busEvents[0].Data["symbol"] != "ETHUSDT" {
		t.Errorf("unexpected bus event symbol: %v", busEvents[0].Data["symbol"])
	}
}

func TestFlushEmptyBufferIsNoOp(t *testing.T) {
	store := &fakeStore{}
	pub := &recordingPublisher{}
	b, _ := newTestBatcher(store, pub, 100)

	b.Flush(context.Background())

	if len(store.calls) != 0 {
		t.Errorf("expected no store calls on empty flush, got %d", len(store.calls))
	}
}

func TestErrorDropsBatchWithoutReplay(t *testing.T) {
	store := &fakeStore{err: errors.New("db down")}
	pub := &recordingPublisher{}
	b, _ := newTestBatcher(store, pub, 100)

	ctx := context.Background()
	b.Add(ctx, testEvent("BTCUSDT", true, "102", "98"))
	b.Flush(ctx)

	if len(pub.published) != 0 {
		t.Error("expected no publish after failed flush")
	}

	// A recovered store must not see the dropped events again
	store.err = nil
	b.Flush(ctx)
	if len(store.calls) != 0 {
		t.Errorf("expected dropped batch not to replay, got %d calls", len(store.calls))
	}
}

func TestSizeBoundTriggersFlush(t *testing.T) {
	store := &fakeStore{}
	pub := &recordingPublisher{}
	b, _ := newTestBatcher(store, pub, 2)

	ctx := context.Background()
	b.Add(ctx, testEvent("BTCUSDT", false, "101", "99"))
	if len(store.calls) != 0 {
		t.Fatal("expected no flush below the size bound")
	}
	b.Add(ctx, testEvent("BTCUSDT", false, "102", "98"))
	if len(store.calls) != 1 {
		t.Fatalf("expected size-bound flush, got %d calls", len(store.calls))
	}
}
