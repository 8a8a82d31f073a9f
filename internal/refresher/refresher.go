// Package refresher periodically refreshes market cap, price, and
// volume for every symbol the pipeline tracks.
package refresher

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"binance-market-pipeline/internal/binance"
	"binance-market-pipeline/internal/coingecko"
	"binance-market-pipeline/internal/events"
	"binance-market-pipeline/internal/logging"
	"binance-market-pipeline/internal/pubsub"

	"binance-market-pipeline/internal/database"
)

const (
	refreshInterval = time.Hour
	failureRetry    = 60 * time.Second
)

// Store is the persistence surface the refresher needs
type Store interface {
	SymbolsWithMarketData(ctx context.Context) ([]string, error)
	SaveMarketMetrics(ctx context.Context, rows []database.MarketMetrics) (int, error)
}

// MetricsSource fetches metrics rows for known coin ids
type MetricsSource interface {
	GetMarketsByIDs(ctx context.Context, ids []string) ([]coingecko.Market, error)
}

// TickerSource fetches the exchange's 24h tickers in one call
type TickerSource interface {
	Get24hrTickers(ctx context.Context) (map[string]binance.Ticker24hr, error)
}

// CoinIDResolver maps exchange symbols to metrics-provider coin ids
type CoinIDResolver interface {
	CoinID(symbol string) (string, bool)
}

type Refresher struct {
	store     Store
	metrics   MetricsSource
	tickers   TickerSource
	resolver  CoinIDResolver
	publisher pubsub.Publisher
	bus       *events.EventBus
	logger    zerolog.Logger
}

func New(store Store, metrics MetricsSource, tickers TickerSource, resolver CoinIDResolver, publisher pubsub.Publisher, bus *events.EventBus) *Refresher {
	return &Refresher{
		store:     store,
		metrics:   metrics,
		tickers:   tickers,
		resolver:  resolver,
		publisher: publisher,
		bus:       bus,
		logger:    logging.Component("refresher"),
	}
}

// Run refreshes once immediately, then hourly until cancelled. A failed
// cycle retries after a short delay instead of waiting the full hour.
func (r *Refresher) Run(ctx context.Context) {
	for {
		wait := refreshInterval
		if err := r.RefreshOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Error().Err(err).Dur("retry_in", failureRetry).Msg("refresh failed")
			wait = failureRetry
		}

		select {
		case <-ctx.Done():
			r.logger.Info().Msg("refresher stopped")
			return
		case <-time.After(wait):
		}
	}
}

// RefreshOnce updates market_data for all tracked symbols
func (r *Refresher) RefreshOnce(ctx context.Context) error {
	start := time.Now()

	symbols, err := r.store.SymbolsWithMarketData(ctx)
	if err != nil {
		return err
	}
	if len(symbols) == 0 {
		r.logger.Info().Msg("no tracked symbols yet, skipping refresh")
		return nil
	}

	var ids []string
	idToSymbol := make(map[string]string)
	for _, sym := range symbols {
		if id, ok := r.resolver.CoinID(sym); ok {
			ids = append(ids, id)
			idToSymbol[id] = sym
		}
	}

	var markets []coingecko.Market
	if len(ids) > 0 {
		markets, err = r.metrics.GetMarketsByIDs(ctx, ids)
		if err != nil {
			return err
		}
	}

	// One bulk ticker fetch covers every symbol
	tickers, err := r.tickers.Get24hrTickers(ctx)
	if err != nil {
		r.logger.Warn().Err(err).Msg("ticker fetch failed, using provider values only")
		tickers = nil
	}

	now := time.Now().UTC()
	rows := make([]database.MarketMetrics, 0, len(markets))
	for _, m := range markets {
		symbol, ok := idToSymbol[m.ID]
		if !ok {
			continue
		}

		row := database.MarketMetrics{
			Symbol:            symbol,
			Timestamp:         now,
			MarketCap:         m.MarketCap,
			Volume24h:         m.TotalVolume,
			CirculatingSupply: m.CirculatingSupply,
			Price:             m.CurrentPrice,
			ImagePath:         m.Image,
		}

		// Exchange values win over provider values when present
		if t, ok := tickers[symbol]; ok {
			price := t.LastPrice
			volume := t.QuoteVolume
			row.Price = &price
			row.Volume24h = &volume
		}

		rows = append(rows, row)
	}

	saved, err := r.store.SaveMarketMetrics(ctx, rows)
	if err != nil {
		return err
	}

	elapsed := time.Since(start)
	throughput := float64(saved) / elapsed.Seconds()
	r.logger.Info().
		Int("symbols", len(symbols)).
		Int("updated", saved).
		Dur("duration", elapsed).
		Float64("rows_per_sec", throughput).
		Msg("market metrics refreshed")

	if err := r.publisher.Publish(ctx, pubsub.ChannelMetricsUpdate, map[string]interface{}{
		"updated":   saved,
		"timestamp": now,
	}); err != nil {
		r.logger.Warn().Err(err).Msg("metrics update publish failed")
	}
	if r.bus != nil {
		r.bus.Publish(events.EventMetricsUpdated, map[string]interface{}{"updated": saved})
	}

	return nil
}
