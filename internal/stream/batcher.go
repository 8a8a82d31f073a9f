package stream

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"binance-market-pipeline/internal/database"
	"binance-market-pipeline/internal/events"
	"binance-market-pipeline/internal/logging"
	"binance-market-pipeline/internal/pubsub"
)

// CandleStore persists candle batches with the merge policies
type CandleStore interface {
	SaveCandlesMerge(ctx context.Context, candles []database.Candle, closed bool) error
}

// CandleUpdate is the payload published for each closed candle
type CandleUpdate struct {
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	Timestamp time.Time `json:"timestamp"`
}

// Batcher buffers kline events and flushes them to the store in
// size- and time-bounded batches
type Batcher struct {
	store     CandleStore
	publisher pubsub.Publisher
	bus       *events.EventBus
	metrics   *Metrics
	logger    zerolog.Logger

	size    int
	timeout time.Duration

	mu        sync.Mutex
	buf       []KlineEvent
	lastFlush time.Time
}

func NewBatcher(store CandleStore, publisher pubsub.Publisher, bus *events.EventBus, metrics *Metrics, size int, timeout time.Duration) *Batcher {
	if size <= 0 {
		size = 100
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Batcher{
		store:     store,
		publisher: publisher,
		bus:       bus,
		metrics:   metrics,
		logger:    logging.Component("batcher"),
		size:      size,
		timeout:   timeout,
		buf:       make([]KlineEvent, 0, size),
		lastFlush: time.Now(),
	}
}

// Add buffers one event, flushing when the buffer reaches the size bound
func (b *Batcher) Add(ctx context.Context, ev KlineEvent) {
	b.mu.Lock()
	b.buf = append(b.buf, ev)
	full := len(b.buf) >= b.size
	b.metrics.SetBufferSize(len(b.buf))
	b.mu.Unlock()

	b.metrics.AddCandlesBatched(1)

	if full {
		b.Flush(ctx)
	}
}

// Run drives the time-bound flush until ctx is cancelled, then performs
// one final flush so buffered events are not lost on shutdown
func (b *Batcher) Run(ctx context.Context) {
	ticker := time.NewTicker(b.timeout)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.finalFlush()
			return
		case <-ticker.C:
			b.mu.Lock()
			due := len(b.buf) > 0 && time.Since(b.lastFlush) >= b.timeout
			b.mu.Unlock()
			if due {
				b.Flush(ctx)
			}
		}
	}
}

// Flush writes the buffered events. The buffer is taken eagerly: on a
// database error the batch is dropped, not replayed, because the
// exchange re-emits klines and the upserts are idempotent.
func (b *Batcher) Flush(ctx context.Context) {
	b.mu.Lock()
	if len(b.buf) == 0 {
		b.lastFlush = time.Now()
		b.mu.Unlock()
		return
	}
	batch := b.buf
	b.buf = make([]KlineEvent, 0, b.size)
	b.lastFlush = time.Now()
	b.metrics.SetBufferSize(0)
	b.mu.Unlock()

	inProgress, closed := partition(batch)

	// Writing in-progress first keeps a same-bar closed event as the
	// final word on the row.
	if len(inProgress) > 0 {
		if err := b.store.SaveCandlesMerge(ctx, toCandles(inProgress), false); err != nil {
			b.logger.Error().Err(err).Int("events", len(inProgress)).Msg("in-progress batch dropped")
			return
		}
	}
	if len(closed) > 0 {
		if err := b.store.SaveCandlesMerge(ctx, toCandles(closed), true); err != nil {
			b.logger.Error().Err(err).Int("events", len(closed)).Msg("closed batch dropped")
			return
		}
		b.announceClosed(ctx, closed)
	}

	b.metrics.IncBatchesFlushed()
	b.logger.Debug().
		Int("in_progress", len(inProgress)).
		Int("closed", len(closed)).
		Msg("batch flushed")
}

// announceClosed publishes candle_update per closed candle, never for
// in-progress updates
func (b *Batcher) announceClosed(ctx context.Context, closed []KlineEvent) {
	for _, ev := range closed {
		update := CandleUpdate{Symbol: ev.Symbol, Timeframe: ev.Timeframe, Timestamp: ev.Timestamp}
		if err := b.publisher.Publish(ctx, pubsub.ChannelCandleUpdate, update); err != nil {
			b.logger.Warn().Err(err).Str("symbol", ev.Symbol).Msg("candle_update publish failed")
		}
		if b.bus != nil {
			b.bus.Publish(events.EventCandleClosed, map[string]interface{}{
				"symbol":    ev.Symbol,
				"timeframe": ev.Timeframe,
				"timestamp": ev.Timestamp,
			})
		}
	}
}

func (b *Batcher) finalFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	b.Flush(ctx)
	b.logger.Info().Msg("batch writer drained")
}

// partition splits a batch preserving arrival order within each class
func partition(batch []KlineEvent) (inProgress, closed []KlineEvent) {
	for _, ev := range batch {
		if ev.IsClosed {
			closed = append(closed, ev)
		} else {
			inProgress = append(inProgress, ev)
		}
	}
	return inProgress, closed
}

func toCandles(evs []KlineEvent) []database.Candle {
	out := make([]database.Candle, len(evs))
	for i, ev := range evs {
		out[i] = database.Candle{
			Symbol:    ev.Symbol,
			Timeframe: ev.Timeframe,
			Timestamp: ev.Timestamp,
			Open:      ev.Open,
			High:      ev.High,
			Low:       ev.Low,
			Close:     ev.Close,
			Volume:    ev.Volume,
		}
	}
	return out
}
