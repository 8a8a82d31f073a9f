package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"binance-market-pipeline/config"
	"binance-market-pipeline/internal/api"
	"binance-market-pipeline/internal/binance"
	"binance-market-pipeline/internal/coingecko"
	"binance-market-pipeline/internal/database"
	"binance-market-pipeline/internal/events"
	"binance-market-pipeline/internal/logging"
	"binance-market-pipeline/internal/pubsub"
	"binance-market-pipeline/internal/refresher"
	"binance-market-pipeline/internal/strategy"
	"binance-market-pipeline/internal/stream"
	"binance-market-pipeline/internal/universe"
)

const binanceRetryAfter429 = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.Setup(logging.Config{
		Level:      cfg.LoggingConfig.Level,
		Output:     cfg.LoggingConfig.Output,
		JSONFormat: cfg.LoggingConfig.JSONFormat,
	})
	logger.Info().Msg("market pipeline starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Persistence comes up first; nothing downstream works without it
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

	var publisher pubsub.Publisher = pubsub.NopPublisher{}
	if cfg.RedisConfig.Enabled {
		rp, err := pubsub.NewRedisPublisher(cfg.RedisConfig.Addr, cfg.RedisConfig.Password, cfg.RedisConfig.DB)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		publisher = rp
	}
	defer publisher.Close()

	bus := events.NewEventBus()
	metrics := stream.NewMetrics(prometheus.DefaultRegisterer)

	bnClient := binance.NewClient(
		cfg.BinanceConfig.BaseURL,
		cfg.BinanceConfig.RequestTimeout,
		cfg.BinanceConfig.RequestsPerSecond,
		binanceRetryAfter429,
	)
	cgClient := coingecko.NewClient(
		cfg.CoinGeckoConfig.BaseURL,
		cfg.CoinGeckoConfig.RequestTimeout,
		cfg.CoinGeckoConfig.PageSize,
		cfg.CoinGeckoConfig.RetryAfter429,
	)

	selector := universe.NewSelector(bnClient, cgClient, repo,
		cfg.UniverseConfig.DefaultSymbols, cfg.UniverseConfig.MarketDataLimit)

	symbols, err := selector.Seed(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("universe seed failed")
	}
	logger.Info().Int("symbols", len(symbols)).Msg("initial universe ready")

	timeframes, err := repo.ListTimeframes(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("timeframe load failed")
	}
	tfNames := make([]string, 0, len(timeframes))
	for _, tf := range timeframes {
		tfNames = append(tfNames, tf.Name)
	}

	// Batch writer gets its own context so it can drain after the
	// streams stop
	batchCtx, batchCancel := context.WithCancel(context.Background())
	batcher := stream.NewBatcher(repo, publisher, bus, metrics,
		cfg.StreamConfig.BatchSize, cfg.StreamConfig.BatchTimeout)
	batcherDone := make(chan struct{})
	go func() {
		batcher.Run(batchCtx)
		close(batcherDone)
	}()

	mux := stream.NewMultiplexer(stream.Config{
		WSBaseURL:         cfg.BinanceConfig.WSBaseURL,
		MaxReconnectDelay: cfg.StreamConfig.MaxReconnectDelay,
		PingInterval:      cfg.StreamConfig.PingInterval,
		PingTimeout:       cfg.StreamConfig.PingTimeout,
	}, batcher.Add, metrics)

	if err := mux.Start(ctx, symbols, tfNames); err != nil {
		logger.Fatal().Err(err).Msg("stream subscribe failed")
	}

	refr := refresher.New(repo, cgClient, bnClient, selector, publisher, bus)
	go refr.Run(ctx)

	engine := strategy.NewEngine(repo, cfg.StrategyConfig, publisher, bus)
	engine.SetUniverse(symbols)
	if cfg.StrategyConfig.Enabled {
		go engine.Run(ctx)
	}

	var server *api.Server
	if cfg.ServerConfig.Enabled {
		server = api.NewServer(cfg.ServerConfig.Host, cfg.ServerConfig.Port, repo, db, metrics)
		go func() {
			if err := server.Start(); err != nil {
				logger.Error().Err(err).Msg("http server failed")
			}
		}()
	}

	go runUniverseRefresh(ctx, cfg, selector, repo, mux, engine, bus)

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		server.Shutdown(shutdownCtx)
		cancel()
	}

	// Streams stop first so the final flush sees every buffered candle
	mux.Stop()
	batchCancel()
	<-batcherDone

	logger.Info().Msg("shutdown complete")
}

// runUniverseRefresh re-selects the universe after the configured
// number of hourly cycles and reshards the streams when it changed
func runUniverseRefresh(ctx context.Context, cfg *config.Config, selector *universe.Selector,
	repo *database.Repository, mux *stream.Multiplexer, engine *strategy.Engine, bus *events.EventBus) {

	logger := logging.Component("universe-refresh")
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	current := []string(nil)
	cycles := 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cycles++
			if cycles < cfg.UniverseConfig.RefreshCycles {
				continue
			}
			cycles = 0

			// The refresh universe comes from storage: symbols whose
			// latest metrics row clears the cap and volume thresholds
			qualified, err := repo.ListQualifiedSymbols(ctx,
				cfg.CoinGeckoConfig.MinMarketCap, cfg.CoinGeckoConfig.MinVolume24h)
			if err != nil {
				logger.Error().Err(err).Msg("qualified symbol load failed")
				continue
			}
			symbols, err := selector.Refresh(ctx, qualified)
			if err != nil {
				logger.Error().Err(err).Msg("universe refresh failed")
				continue
			}
			if sameUniverse(current, symbols) {
				logger.Debug().Int("symbols", len(symbols)).Msg("universe unchanged")
				continue
			}
			current = symbols

			timeframes, err := repo.ListTimeframes(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("timeframe load failed")
				continue
			}
			tfNames := make([]string, 0, len(timeframes))
			for _, tf := range timeframes {
				tfNames = append(tfNames, tf.Name)
			}

			if err := mux.Start(ctx, symbols, tfNames); err != nil {
				logger.Error().Err(err).Msg("stream reshard failed")
				continue
			}
			engine.SetUniverse(symbols)
			bus.Publish(events.EventUniverseRefresh, map[string]interface{}{
				"symbols": len(symbols),
			})
			logger.Info().Int("symbols", len(symbols)).Msg("universe refreshed, streams resharded")
		}
	}
}

func sameUniverse(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
