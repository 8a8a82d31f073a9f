package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"binance-market-pipeline/internal/logging"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool   *pgxpool.Pool
	logger zerolog.Logger
}

// Config holds database configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewDB creates a new database connection
func NewDB(cfg Config) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	// Configure connection pool
	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	logger := logging.Component("database")
	logger.Info().Str("database", cfg.Database).Msg("connected to PostgreSQL")

	return &DB{Pool: pool, logger: logger}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info().Msg("database connection closed")
	}
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	db.logger.Info().Msg("running database migrations")

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS symbols (
			symbol_id SERIAL PRIMARY KEY,
			symbol_name VARCHAR(30) NOT NULL UNIQUE,
			base_asset VARCHAR(20) NOT NULL,
			quote_asset VARCHAR(20) NOT NULL,
			image_path TEXT,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_symbols_name ON symbols(symbol_name)`,

		`CREATE TABLE IF NOT EXISTS timeframe (
			timeframe_id SERIAL PRIMARY KEY,
			tf_name VARCHAR(10) NOT NULL UNIQUE,
			seconds INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS ohlcv_candles (
			symbol_id INTEGER NOT NULL REFERENCES symbols(symbol_id),
			timeframe_id INTEGER NOT NULL REFERENCES timeframe(timeframe_id),
			timestamp TIMESTAMP NOT NULL,
			open DECIMAL(30, 12) NOT NULL,
			high DECIMAL(30, 12) NOT NULL,
			low DECIMAL(30, 12) NOT NULL,
			close DECIMAL(30, 12) NOT NULL,
			volume DECIMAL(38, 12) NOT NULL,
			PRIMARY KEY (symbol_id, timeframe_id, timestamp)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ohlcv_symbol_tf ON ohlcv_candles(symbol_id, timeframe_id, timestamp DESC)`,

		`CREATE TABLE IF NOT EXISTS market_data (
			symbol_id INTEGER NOT NULL REFERENCES symbols(symbol_id),
			timestamp TIMESTAMP NOT NULL,
			market_cap DECIMAL(38, 2),
			volume_24h DECIMAL(38, 2),
			circulating_supply DECIMAL(38, 2),
			price DECIMAL(30, 12),
			PRIMARY KEY (symbol_id, timestamp)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_market_data_symbol ON market_data(symbol_id, timestamp DESC)`,

		`CREATE TABLE IF NOT EXISTS swing_points (
			id BIGSERIAL PRIMARY KEY,
			symbol_id INTEGER NOT NULL REFERENCES symbols(symbol_id),
			timeframe_id INTEGER NOT NULL REFERENCES timeframe(timeframe_id),
			timestamp TIMESTAMP NOT NULL,
			price DECIMAL(30, 12) NOT NULL,
			point_type VARCHAR(12) NOT NULL,
			strength INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (symbol_id, timeframe_id, timestamp, point_type)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_swing_points_symbol_tf ON swing_points(symbol_id, timeframe_id, timestamp DESC)`,

		`CREATE TABLE IF NOT EXISTS support_resistance (
			id BIGSERIAL PRIMARY KEY,
			symbol_id INTEGER NOT NULL REFERENCES symbols(symbol_id),
			timeframe_id INTEGER NOT NULL REFERENCES timeframe(timeframe_id),
			level DECIMAL(30, 12) NOT NULL,
			level_type VARCHAR(12) NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sr_symbol_tf ON support_resistance(symbol_id, timeframe_id, is_active)`,

		`CREATE TABLE IF NOT EXISTS order_blocks (
			id BIGSERIAL PRIMARY KEY,
			symbol_id INTEGER NOT NULL REFERENCES symbols(symbol_id),
			timeframe_id INTEGER NOT NULL REFERENCES timeframe(timeframe_id),
			timestamp TIMESTAMP NOT NULL,
			block_type VARCHAR(10) NOT NULL,
			top DECIMAL(30, 12) NOT NULL,
			bottom DECIMAL(30, 12) NOT NULL,
			volume DECIMAL(38, 12) NOT NULL,
			mitigated_at TIMESTAMP,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_order_blocks_symbol_tf ON order_blocks(symbol_id, timeframe_id, is_active)`,

		`CREATE TABLE IF NOT EXISTS trading_signals (
			id BIGSERIAL PRIMARY KEY,
			signal_uid VARCHAR(40) NOT NULL UNIQUE,
			symbol_id INTEGER NOT NULL REFERENCES symbols(symbol_id),
			timeframe_id INTEGER NOT NULL REFERENCES timeframe(timeframe_id),
			trend_type VARCHAR(10) NOT NULL,
			entry_level DECIMAL(30, 12) NOT NULL,
			stop_loss DECIMAL(30, 12) NOT NULL,
			take_profit_1 DECIMAL(30, 12) NOT NULL,
			take_profit_2 DECIMAL(30, 12) NOT NULL,
			take_profit_3 DECIMAL(30, 12) NOT NULL,
			swing_low_price DECIMAL(30, 12) NOT NULL,
			swing_high_price DECIMAL(30, 12) NOT NULL,
			swing_low_ts TIMESTAMP NOT NULL,
			swing_high_ts TIMESTAMP NOT NULL,
			risk_score INTEGER NOT NULL DEFAULT 0,
			confluence_mark VARCHAR(12) NOT NULL DEFAULT 'none',
			matched_timeframes TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (symbol_id, timeframe_id, trend_type, swing_low_ts, swing_high_ts)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_symbol ON trading_signals(symbol_id, created_at DESC)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	db.logger.Info().Msg("database migrations completed")
	return nil
}

// SeedTimeframes inserts the supported timeframes if missing
func (db *DB) SeedTimeframes(ctx context.Context) error {
	seed := []struct {
		Name    string
		Seconds int
	}{
		{"1m", 60}, {"3m", 180}, {"5m", 300}, {"15m", 900}, {"30m", 1800},
		{"1h", 3600}, {"2h", 7200}, {"4h", 14400}, {"6h", 21600},
		{"8h", 28800}, {"12h", 43200}, {"1d", 86400}, {"3d", 259200},
		{"1w", 604800}, {"1M", 2592000},
	}

	for _, tf := range seed {
		_, err := db.Pool.Exec(ctx,
			`INSERT INTO timeframe (tf_name, seconds) VALUES ($1, $2)
			 ON CONFLICT (tf_name) DO NOTHING`,
			tf.Name, tf.Seconds,
		)
		if err != nil {
			return fmt.Errorf("failed to seed timeframe %s: %w", tf.Name, err)
		}
	}
	return nil
}

// HealthCheck performs a database health check
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}
