// Package universe derives the active ingestion symbol set by
// intersecting the exchange's perpetual contracts with the top
// market-cap list from the metrics provider.
package universe

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"binance-market-pipeline/internal/coingecko"
	"binance-market-pipeline/internal/database"
	"binance-market-pipeline/internal/logging"
)

// ExchangeSource lists the exchange's tradable perpetual symbols
type ExchangeSource interface {
	GetPerpetualSymbols(ctx context.Context) ([]string, error)
}

// MetricsSource ranks coins by market capitalization
type MetricsSource interface {
	GetTopMarkets(ctx context.Context, limit int) ([]coingecko.Market, error)
}

// MetricsStore persists market metrics rows
type MetricsStore interface {
	SaveMarketMetrics(ctx context.Context, rows []database.MarketMetrics) (int, error)
}

type Selector struct {
	exchange ExchangeSource
	metrics  MetricsSource
	store    MetricsStore
	defaults []string
	limit    int
	logger   zerolog.Logger

	mu      sync.RWMutex
	coinIDs map[string]string // symbol -> metrics-provider coin id
}

func NewSelector(exchange ExchangeSource, metrics MetricsSource, store MetricsStore, defaults []string, limit int) *Selector {
	return &Selector{
		exchange: exchange,
		metrics:  metrics,
		store:    store,
		defaults: defaults,
		limit:    limit,
		logger:   logging.Component("universe"),
		coinIDs:  make(map[string]string),
	}
}

// Select computes the active universe: top market-cap coins that trade
// as perpetuals, in market-cap order. Falls back to the unfiltered
// market list when exchange discovery fails, then to the compiled-in
// defaults, so the result is never empty.
func (s *Selector) Select(ctx context.Context) ([]string, error) {
	markets, err := s.metrics.GetTopMarkets(ctx, s.limit)
	if err != nil {
		s.logger.Warn().Err(err).Msg("metrics provider fetch failed")
	}

	mapped := s.mapMarkets(markets)

	perps, err := s.exchange.GetPerpetualSymbols(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("exchange discovery failed")
	}

	universe := Intersect(mapped, perps)
	if len(perps) == 0 && len(mapped) > 0 {
		s.logger.Warn().Int("symbols", len(mapped)).Msg("exchange perpetual set empty, using unfiltered market list")
		universe = mapped
	}
	if len(universe) == 0 {
		s.logger.Warn().Strs("defaults", s.defaults).Msg("universe empty, falling back to default symbols")
		universe = append([]string(nil), s.defaults...)
	}

	s.logger.Info().Int("size", len(universe)).Msg("active universe selected")
	return universe, nil
}

// Seed persists market metrics for the top-cap list and returns the
// initial universe. Run once at startup before the WS streams spawn.
func (s *Selector) Seed(ctx context.Context) ([]string, error) {
	markets, err := s.metrics.GetTopMarkets(ctx, s.limit)
	if err != nil {
		s.logger.Warn().Err(err).Msg("metrics provider fetch failed during seed")
	}

	if len(markets) > 0 {
		rows := MetricsRows(markets, time.Now().UTC())
		saved, err := s.store.SaveMarketMetrics(ctx, rows)
		if err != nil {
			s.logger.Error().Err(err).Int("saved", saved).Msg("failed to seed market metrics")
		} else {
			s.logger.Info().Int("rows", saved).Msg("seeded market metrics")
		}
	}

	mapped := s.mapMarkets(markets)

	perps, err := s.exchange.GetPerpetualSymbols(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("exchange discovery failed during seed")
	}

	universe := Intersect(mapped, perps)
	if len(perps) == 0 && len(mapped) > 0 {
		s.logger.Warn().Int("symbols", len(mapped)).Msg("exchange perpetual set empty, using unfiltered market list")
		universe = mapped
	}
	if len(universe) == 0 {
		s.logger.Warn().Strs("defaults", s.defaults).Msg("universe empty, falling back to default symbols")
		universe = append([]string(nil), s.defaults...)
	}
	return universe, nil
}

// Refresh recomputes the universe for a refresh cycle from the stored
// qualified symbols, whose latest metrics row cleared the market cap
// and volume thresholds. The list arrives in market-cap order and is
// re-filtered against the exchange's perpetual set; provider discovery
// is the fallback when storage holds nothing qualified yet.
func (s *Selector) Refresh(ctx context.Context, qualified []database.QualifiedSymbol) ([]string, error) {
	if len(qualified) == 0 {
		s.logger.Warn().Msg("no qualified symbols in storage, selecting from provider")
		return s.Select(ctx)
	}

	names := make([]string, 0, len(qualified))
	for _, q := range qualified {
		names = append(names, q.Symbol)
	}

	perps, err := s.exchange.GetPerpetualSymbols(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("exchange discovery failed")
	}

	universe := Intersect(names, perps)
	if len(perps) == 0 {
		s.logger.Warn().Int("symbols", len(names)).Msg("exchange perpetual set empty, using qualified list unfiltered")
		universe = names
	}
	if len(universe) == 0 {
		s.logger.Warn().Strs("defaults", s.defaults).Msg("universe empty, falling back to default symbols")
		universe = append([]string(nil), s.defaults...)
	}

	s.logger.Info().Int("size", len(universe)).Msg("universe refreshed from qualified symbols")
	return universe, nil
}

// CoinID returns the metrics-provider id last observed for a symbol
func (s *Selector) CoinID(symbol string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.coinIDs[symbol]
	return id, ok
}

// mapMarkets converts metrics rows to exchange symbols and records the
// symbol -> coin id mapping for the refresher
func (s *Selector) mapMarkets(markets []coingecko.Market) []string {
	out := make([]string, 0, len(markets))
	s.mu.Lock()
	for _, m := range markets {
		symbol := MarketSymbol(m)
		out = append(out, symbol)
		s.coinIDs[symbol] = m.ID
	}
	s.mu.Unlock()
	return out
}

// MarketSymbol maps a metrics row to its USDT perpetual symbol
func MarketSymbol(m coingecko.Market) string {
	return strings.ToUpper(m.Symbol) + "USDT"
}

// Intersect keeps members of ordered that are present in allowed,
// preserving the order of the first argument
func Intersect(ordered, allowed []string) []string {
	if len(allowed) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		set[a] = struct{}{}
	}
	out := make([]string, 0, len(ordered))
	for _, sym := range ordered {
		if _, ok := set[sym]; ok {
			out = append(out, sym)
		}
	}
	return out
}

// MetricsRows converts market rows to market_data rows at one timestamp
func MetricsRows(markets []coingecko.Market, ts time.Time) []database.MarketMetrics {
	rows := make([]database.MarketMetrics, 0, len(markets))
	for _, m := range markets {
		rows = append(rows, database.MarketMetrics{
			Symbol:            MarketSymbol(m),
			Timestamp:         ts,
			MarketCap:         m.MarketCap,
			Volume24h:         m.TotalVolume,
			CirculatingSupply: m.CirculatingSupply,
			Price:             m.CurrentPrice,
			ImagePath:         m.Image,
		})
	}
	return rows
}
