// Backfill fetches historical klines over REST for the active universe
// and writes them idempotently, so restarts and re-runs never clobber
// live stream data.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"binance-market-pipeline/config"
	"binance-market-pipeline/internal/binance"
	"binance-market-pipeline/internal/coingecko"
	"binance-market-pipeline/internal/database"
	"binance-market-pipeline/internal/logging"
	"binance-market-pipeline/internal/universe"
)

const binanceRetryAfter429 = 10 * time.Second

func main() {
	var (
		onlyTimeframe = flag.String("timeframe", "", "backfill a single timeframe instead of all")
		onlySymbol    = flag.String("symbol", "", "backfill a single symbol instead of the universe")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.Setup(logging.Config{
		Level:      cfg.LoggingConfig.Level,
		Output:     cfg.LoggingConfig.Output,
		JSONFormat: cfg.LoggingConfig.JSONFormat,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewDB(database.Config{
		Host:     cfg.DatabaseConfig.Host,
		Port:     cfg.DatabaseConfig.Port,
		User:     cfg.DatabaseConfig.User,
		Password: cfg.DatabaseConfig.Password,
		Database: cfg.DatabaseConfig.Database,
		SSLMode:  cfg.DatabaseConfig.SSLMode,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	if err := db.RunMigrations(ctx); err != nil {
		logger.Fatal().Err(err).Msg("migrations failed")
	}
	if err := db.SeedTimeframes(ctx); err != nil {
		logger.Fatal().Err(err).Msg("timeframe seed failed")
	}
	repo := database.NewRepository(db)

	bnClient := binance.NewClient(
		cfg.BinanceConfig.BaseURL,
		cfg.BinanceConfig.RequestTimeout,
		cfg.BinanceConfig.RequestsPerSecond,
		binanceRetryAfter429,
	)

	var symbols []string
	if *onlySymbol != "" {
		symbols = []string{*onlySymbol}
	} else {
		cgClient := coingecko.NewClient(
			cfg.CoinGeckoConfig.BaseURL,
			cfg.CoinGeckoConfig.RequestTimeout,
			cfg.CoinGeckoConfig.PageSize,
			cfg.CoinGeckoConfig.RetryAfter429,
		)
		selector := universe.NewSelector(bnClient, cgClient, repo,
			cfg.UniverseConfig.DefaultSymbols, cfg.UniverseConfig.MarketDataLimit)
		symbols, err = selector.Seed(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("universe seed failed")
		}
	}

	var tfNames []string
	if *onlyTimeframe != "" {
		tfNames = []string{*onlyTimeframe}
	} else {
		timeframes, err := repo.ListTimeframes(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("timeframe load failed")
		}
		for _, tf := range timeframes {
			tfNames = append(tfNames, tf.Name)
		}
	}

	start := time.Now()
	totalSaved := 0
	for _, symbol := range symbols {
		for _, tf := range tfNames {
			if ctx.Err() != nil {
				logger.Warn().Msg("backfill interrupted")
				return
			}

			klines, err := bnClient.GetKlines(ctx, symbol, tf, cfg.UniverseConfig.SymbolLimit)
			if err != nil {
				logger.Error().Err(err).
					Str("symbol", symbol).
					Str("timeframe", tf).
					Msg("kline fetch failed")
				continue
			}

			candles := make([]database.Candle, 0, len(klines))
			for _, k := range klines {
				candles = append(candles, database.Candle{
					Symbol:    symbol,
					Timeframe: tf,
					Timestamp: time.UnixMilli(k.OpenTime).UTC(),
					Open:      k.Open,
					High:      k.High,
					Low:       k.Low,
					Close:     k.Close,
					Volume:    k.Volume,
				})
			}

			saved, err := repo.SaveCandlesIdempotent(ctx, candles)
			if err != nil {
				logger.Error().Err(err).
					Str("symbol", symbol).
					Str("timeframe", tf).
					Msg("candle save failed")
				continue
			}
			totalSaved += saved
			logger.Debug().
				Str("symbol", symbol).
				Str("timeframe", tf).
				Int("fetched", len(klines)).
				Int("saved", saved).
				Msg("pair backfilled")
		}
	}

	logger.Info().
		Int("symbols", len(symbols)).
		Int("timeframes", len(tfNames)).
		Int("candles_saved", totalSaved).
		Dur("duration", time.Since(start)).
		Msg("backfill complete")
}
