package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	BinanceConfig   BinanceConfig   `json:"binance"`
	CoinGeckoConfig CoinGeckoConfig `json:"coingecko"`
	DatabaseConfig  DatabaseConfig  `json:"database"`
	RedisConfig     RedisConfig     `json:"redis"`
	UniverseConfig  UniverseConfig  `json:"universe"`
	StreamConfig    StreamConfig    `json:"stream"`
	StrategyConfig  StrategyConfig  `json:"strategy"`
	ServerConfig    ServerConfig    `json:"server"`
	LoggingConfig   LoggingConfig   `json:"logging"`
}

// BinanceConfig holds the futures REST and WebSocket endpoints
type BinanceConfig struct {
	BaseURL           string        `json:"base_url"`
	WSBaseURL         string        `json:"ws_base_url"`
	RequestTimeout    time.Duration `json:"request_timeout"`
	RequestsPerSecond float64       `json:"requests_per_second"` // REST rate limit budget
}

// CoinGeckoConfig holds the market-metrics provider settings
type CoinGeckoConfig struct {
	BaseURL        string        `json:"base_url"`
	RequestTimeout time.Duration `json:"request_timeout"`
	PageSize       int           `json:"page_size"`       // max 250 per CoinGecko docs
	RetryAfter429  time.Duration `json:"retry_after_429"` // sleep before the single retry
	MinMarketCap   float64       `json:"min_market_cap"`
	MinVolume24h   float64       `json:"min_volume_24h"`
}

type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// UniverseConfig controls symbol discovery and the fallback universe
type UniverseConfig struct {
	DefaultSymbols   []string `json:"default_symbols"`
	DefaultTimeframe string   `json:"default_timeframe"`
	SymbolLimit      int      `json:"symbol_limit"`      // klines per symbol at backfill
	MarketDataLimit  int      `json:"market_data_limit"` // top-cap N from the metrics provider
	RefreshCycles    int      `json:"refresh_cycles"`    // ingestion cycles between universe refreshes
}

// StreamConfig controls the WebSocket multiplexer and batch writer
type StreamConfig struct {
	BatchSize         int           `json:"batch_size"`
	BatchTimeout      time.Duration `json:"batch_timeout"`
	MaxReconnectDelay time.Duration `json:"max_reconnect_delay"`
	PingInterval      time.Duration `json:"ping_interval"`
	PingTimeout       time.Duration `json:"ping_timeout"`
	DBBatchSize       int           `json:"db_batch_size"`
}

// StrategyConfig holds the swing detector and alert parameters
type StrategyConfig struct {
	Enabled            bool               `json:"enabled"`
	Interval           time.Duration      `json:"interval"`
	Workers            int                `json:"workers"`
	CandleLimit        int                `json:"candle_limit"`
	Depth              int                `json:"depth"`
	Deviation          int                `json:"deviation"`
	Backstep           int                `json:"backstep"`
	PruningRate        float64            `json:"pruning_rate"`
	SymbolPruningRates map[string]float64 `json:"symbol_pruning_rates"`
	BullishFibLevel    float64            `json:"bullish_fib_level"`
	BearishFibLevel    float64            `json:"bearish_fib_level"`
	BullishSLFibLevel  float64            `json:"bullish_sl_fib_level"`
	BearishSLFibLevel  float64            `json:"bearish_sl_fib_level"`
	TP1FibLevel        float64            `json:"tp1_fib_level"`
	TP2FibLevel        float64            `json:"tp2_fib_level"`
	TP3FibLevel        float64            `json:"tp3_fib_level"`
	ConfluenceEpsilon  float64            `json:"confluence_epsilon"`
	SupportWindow      int                `json:"support_window"`
	CloseMitigation    bool               `json:"close_mitigation"` // order blocks mitigate on close instead of wick
}

type ServerConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
}

type LoggingConfig struct {
	Level      string `json:"level"`       // debug, info, warn, error
	Output     string `json:"output"`      // stdout, stderr, or file path
	JSONFormat bool   `json:"json_format"` // console writer when false
}

// Load reads the optional config file and applies environment overrides
func Load() (*Config, error) {
	cfg := defaultConfig()

	if data, err := os.ReadFile("config.json"); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config.json: %w", err)
		}
	}

	// Exchange / metrics provider
	cfg.BinanceConfig.BaseURL = getEnvOrDefault("BINANCE_API_URL", cfg.BinanceConfig.BaseURL)
	cfg.BinanceConfig.WSBaseURL = getEnvOrDefault("BINANCE_WS_URL", cfg.BinanceConfig.WSBaseURL)
	cfg.BinanceConfig.RequestTimeout = getEnvDurationOrDefault("BINANCE_REQUEST_TIMEOUT", cfg.BinanceConfig.RequestTimeout)
	cfg.BinanceConfig.RequestsPerSecond = getEnvFloatOrDefault("BINANCE_REQUESTS_PER_SECOND", cfg.BinanceConfig.RequestsPerSecond)
	cfg.CoinGeckoConfig.BaseURL = getEnvOrDefault("COINGECKO_API_URL", cfg.CoinGeckoConfig.BaseURL)
	cfg.CoinGeckoConfig.RequestTimeout = getEnvDurationOrDefault("COINGECKO_REQUEST_TIMEOUT", cfg.CoinGeckoConfig.RequestTimeout)
	cfg.CoinGeckoConfig.MinMarketCap = getEnvFloatOrDefault("COINGECKO_MIN_MARKET_CAP", cfg.CoinGeckoConfig.MinMarketCap)
	cfg.CoinGeckoConfig.MinVolume24h = getEnvFloatOrDefault("COINGECKO_MIN_VOLUME_24H", cfg.CoinGeckoConfig.MinVolume24h)

	// Database
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", cfg.DatabaseConfig.Host)
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", cfg.DatabaseConfig.Port)
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", cfg.DatabaseConfig.User)
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", cfg.DatabaseConfig.Database)
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", cfg.DatabaseConfig.SSLMode)

	// Redis
	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", boolString(cfg.RedisConfig.Enabled)) == "true"
	cfg.RedisConfig.Addr = getEnvOrDefault("REDIS_ADDR", cfg.RedisConfig.Addr)
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)

	// Universe
	if v := os.Getenv("DEFAULT_SYMBOLS"); v != "" {
		cfg.UniverseConfig.DefaultSymbols = splitAndTrim(v)
	}
	cfg.UniverseConfig.DefaultTimeframe = getEnvOrDefault("DEFAULT_TIMEFRAME", cfg.UniverseConfig.DefaultTimeframe)
	cfg.UniverseConfig.SymbolLimit = getEnvIntOrDefault("SYMBOL_LIMIT", cfg.UniverseConfig.SymbolLimit)
	cfg.UniverseConfig.MarketDataLimit = getEnvIntOrDefault("MARKET_DATA_LIMIT", cfg.UniverseConfig.MarketDataLimit)
	cfg.UniverseConfig.RefreshCycles = getEnvIntOrDefault("UNIVERSE_REFRESH_CYCLES", cfg.UniverseConfig.RefreshCycles)

	// Stream
	cfg.StreamConfig.BatchSize = getEnvIntOrDefault("WS_BATCH_SIZE", cfg.StreamConfig.BatchSize)
	cfg.StreamConfig.BatchTimeout = getEnvDurationOrDefault("WS_BATCH_TIMEOUT", cfg.StreamConfig.BatchTimeout)
	cfg.StreamConfig.MaxReconnectDelay = getEnvDurationOrDefault("WS_MAX_RECONNECT_DELAY", cfg.StreamConfig.MaxReconnectDelay)
	cfg.StreamConfig.PingInterval = getEnvDurationOrDefault("WS_PING_INTERVAL", cfg.StreamConfig.PingInterval)
	cfg.StreamConfig.PingTimeout = getEnvDurationOrDefault("WS_PING_TIMEOUT", cfg.StreamConfig.PingTimeout)
	cfg.StreamConfig.DBBatchSize = getEnvIntOrDefault("DB_BATCH_SIZE", cfg.StreamConfig.DBBatchSize)

	// Strategy
	cfg.StrategyConfig.Enabled = getEnvOrDefault("STRATEGY_ENABLED", boolString(cfg.StrategyConfig.Enabled)) == "true"
	cfg.StrategyConfig.Interval = getEnvDurationOrDefault("STRATEGY_INTERVAL", cfg.StrategyConfig.Interval)
	cfg.StrategyConfig.Workers = getEnvIntOrDefault("STRATEGY_WORKERS", cfg.StrategyConfig.Workers)
	cfg.StrategyConfig.CandleLimit = getEnvIntOrDefault("STRATEGY_CANDLE_LIMIT", cfg.StrategyConfig.CandleLimit)
	cfg.StrategyConfig.Depth = getEnvIntOrDefault("ZIGZAG_DEPTH", cfg.StrategyConfig.Depth)
	cfg.StrategyConfig.Deviation = getEnvIntOrDefault("ZIGZAG_DEVIATION", cfg.StrategyConfig.Deviation)
	cfg.StrategyConfig.Backstep = getEnvIntOrDefault("ZIGZAG_BACKSTEP", cfg.StrategyConfig.Backstep)
	cfg.StrategyConfig.PruningRate = getEnvFloatOrDefault("SWING_PRUNING_RATE", cfg.StrategyConfig.PruningRate)
	if v := os.Getenv("SWING_PRUNING_RATES"); v != "" {
		cfg.StrategyConfig.SymbolPruningRates = parseRateMap(v)
	}
	cfg.StrategyConfig.BullishFibLevel = getEnvFloatOrDefault("BULLISH_FIB_LEVEL", cfg.StrategyConfig.BullishFibLevel)
	cfg.StrategyConfig.BearishFibLevel = getEnvFloatOrDefault("BEARISH_FIB_LEVEL", cfg.StrategyConfig.BearishFibLevel)
	cfg.StrategyConfig.BullishSLFibLevel = getEnvFloatOrDefault("BULLISH_SL_FIB_LEVEL", cfg.StrategyConfig.BullishSLFibLevel)
	cfg.StrategyConfig.BearishSLFibLevel = getEnvFloatOrDefault("BEARISH_SL_FIB_LEVEL", cfg.StrategyConfig.BearishSLFibLevel)
	cfg.StrategyConfig.TP1FibLevel = getEnvFloatOrDefault("TP1_FIB_LEVEL", cfg.StrategyConfig.TP1FibLevel)
	cfg.StrategyConfig.TP2FibLevel = getEnvFloatOrDefault("TP2_FIB_LEVEL", cfg.StrategyConfig.TP2FibLevel)
	cfg.StrategyConfig.TP3FibLevel = getEnvFloatOrDefault("TP3_FIB_LEVEL", cfg.StrategyConfig.TP3FibLevel)
	cfg.StrategyConfig.ConfluenceEpsilon = getEnvFloatOrDefault("CONFLUENCE_EPSILON", cfg.StrategyConfig.ConfluenceEpsilon)
	cfg.StrategyConfig.SupportWindow = getEnvIntOrDefault("SUPPORT_WINDOW", cfg.StrategyConfig.SupportWindow)
	cfg.StrategyConfig.CloseMitigation = getEnvOrDefault("ORDER_BLOCK_CLOSE_MITIGATION", boolString(cfg.StrategyConfig.CloseMitigation)) == "true"

	// Ops server
	cfg.ServerConfig.Enabled = getEnvOrDefault("SERVER_ENABLED", boolString(cfg.ServerConfig.Enabled)) == "true"
	cfg.ServerConfig.Host = getEnvOrDefault("SERVER_HOST", cfg.ServerConfig.Host)
	cfg.ServerConfig.Port = getEnvIntOrDefault("SERVER_PORT", cfg.ServerConfig.Port)

	// Logging
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", cfg.LoggingConfig.Level)
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", cfg.LoggingConfig.Output)
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", boolString(cfg.LoggingConfig.JSONFormat)) == "true"

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		BinanceConfig: BinanceConfig{
			BaseURL:           "https://fapi.binance.com",
			WSBaseURL:         "wss://fstream.binance.com",
			RequestTimeout:    5 * time.Second,
			RequestsPerSecond: 10,
		},
		CoinGeckoConfig: CoinGeckoConfig{
			BaseURL:        "https://api.coingecko.com/api/v3",
			RequestTimeout: 5 * time.Second,
			PageSize:       250,
			RetryAfter429:  60 * time.Second,
		},
		DatabaseConfig: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Password: "postgres",
			Database: "market_pipeline",
			SSLMode:  "disable",
		},
		RedisConfig: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
		},
		UniverseConfig: UniverseConfig{
			DefaultSymbols:   []string{"BTCUSDT", "ETHUSDT", "BNBUSDT", "SOLUSDT", "XRPUSDT"},
			DefaultTimeframe: "1h",
			SymbolLimit:      500,
			MarketDataLimit:  200,
			RefreshCycles:    10,
		},
		StreamConfig: StreamConfig{
			BatchSize:         100,
			BatchTimeout:      5 * time.Second,
			MaxReconnectDelay: 60 * time.Second,
			PingInterval:      20 * time.Second,
			PingTimeout:       10 * time.Second,
			DBBatchSize:       500,
		},
		StrategyConfig: StrategyConfig{
			Enabled:           true,
			Interval:          5 * time.Minute,
			Workers:           4,
			CandleLimit:       500,
			Depth:             12,
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
			SupportWindow:     5,
		},
		ServerConfig: ServerConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
		},
		LoggingConfig: LoggingConfig{
			Level:      "info",
			Output:     "stdout",
			JSONFormat: true,
		},
	}
}

func (c *Config) validate() error {
	if c.StrategyConfig.Backstep < 2 {
		return fmt.Errorf("zigzag backstep must be >= 2, got %d", c.StrategyConfig.Backstep)
	}
	if c.StreamConfig.BatchSize <= 0 {
		return fmt.Errorf("WS_BATCH_SIZE must be positive, got %d", c.StreamConfig.BatchSize)
	}
	if len(c.UniverseConfig.DefaultSymbols) == 0 {
		return fmt.Errorf("DEFAULT_SYMBOLS must not be empty")
	}
	return nil
}

// PruningRateFor returns the per-symbol rate or the global default
func (c *StrategyConfig) PruningRateFor(symbol string) float64 {
	if r, ok := c.SymbolPruningRates[symbol]; ok {
		return r
	}
	return c.PruningRate
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, strings.ToUpper(trimmed))
		}
	}
	return out
}

// parseRateMap parses "BTCUSDT:0.02,ETHUSDT:0.025" into a rate map
func parseRateMap(s string) map[string]float64 {
	out := make(map[string]float64)
	for _, pair := range strings.Split(s, ",") {
		kv := strings.SplitN(strings.TrimSpace(pair), ":", 2)
		if len(kv) != 2 {
			continue
		}
		if rate, err := strconv.ParseFloat(kv[1], 64); err == nil {
			out[strings.ToUpper(kv[0])] = rate
		}
	}
	return out
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
