package database

import (
	"time"

	"github.com/shopspring/decimal"
)

// Symbol represents a tradable perpetual contract
type Symbol struct {
	ID         int       `json:"symbol_id"`
	Name       string    `json:"symbol_name"`
	BaseAsset  string    `json:"base_asset"`
	QuoteAsset string    `json:"quote_asset"`
	ImagePath  string    `json:"image_path,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Timeframe represents a bar interval; Seconds defines canonical ordering
type Timeframe struct {
	ID      int    `json:"timeframe_id"`
	Name    string `json:"tf_name"`
	Seconds int    `json:"seconds"`
}

// Candle is one OHLCV bar keyed by (symbol, timeframe, open time)
type Candle struct {
	Symbol    string          `json:"symbol"`
	Timeframe string          `json:"timeframe"`
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// Valid reports whether the candle satisfies the OHLC invariants
func (c Candle) Valid() bool {
	if !c.Open.IsPositive() || !c.High.IsPositive() || !c.Low.IsPositive() || !c.Close.IsPositive() {
		return false
	}
	if c.High.LessThan(c.Low) {
		return false
	}
	maxOC := c.Open
	if c.Close.GreaterThan(maxOC) {
		maxOC = c.Close
	}
	minOC := c.Open
	if c.Close.LessThan(minOC) {
		minOC = c.Close
	}
	return !c.High.LessThan(maxOC) && !c.Low.GreaterThan(minOC)
}

// MarketMetrics is one market_data row for a symbol at a point in time
type MarketMetrics struct {
	Symbol            string    `json:"symbol"`
	Timestamp         time.Time `json:"timestamp"`
	MarketCap         *float64  `json:"market_cap,omitempty"`
	Volume24h         *float64  `json:"volume_24h,omitempty"`
	CirculatingSupply *float64  `json:"circulating_supply,omitempty"`
	Price             *float64  `json:"price,omitempty"`
	ImagePath         string    `json:"image_path,omitempty"`
}

// SwingPoint is a persisted structural extremum
type SwingPoint struct {
	Symbol    string          `json:"symbol"`
	Timeframe string          `json:"timeframe"`
	Timestamp time.Time       `json:"timestamp"`
	Price     decimal.Decimal `json:"price"`
	PointType string          `json:"point_type"` // swing_high or swing_low
	Strength  int             `json:"strength"`
}

// SRLevel is an active support or resistance level
type SRLevel struct {
	Symbol    string          `json:"symbol"`
	Timeframe string          `json:"timeframe"`
	Level     decimal.Decimal `json:"level"`
	LevelType string          `json:"level_type"` // support or resistance
}

// OrderBlock is a persisted supply or demand zone. MitigatedAt is nil
// while price has not traded back through the zone.
type OrderBlock struct {
	Symbol      string          `json:"symbol"`
	Timeframe   string          `json:"timeframe"`
	Timestamp   time.Time       `json:"timestamp"`
	BlockType   string          `json:"block_type"` // bullish or bearish
	Top         decimal.Decimal `json:"top"`
	Bottom      decimal.Decimal `json:"bottom"`
	Volume      decimal.Decimal `json:"volume"`
	MitigatedAt *time.Time      `json:"mitigated_at,omitempty"`
}

// Signal is a persisted trading alert
type Signal struct {
	UID            string          `json:"signal_uid"`
	Symbol         string          `json:"symbol"`
	Timeframe      string          `json:"timeframe"`
	TrendType      string          `json:"trend_type"` // long or short
	EntryLevel     decimal.Decimal `json:"entry_level"`
	StopLoss       decimal.Decimal `json:"stop_loss"`
	TakeProfit1    decimal.Decimal `json:"take_profit_1"`
	TakeProfit2    decimal.Decimal `json:"take_profit_2"`
	TakeProfit3    decimal.Decimal `json:"take_profit_3"`
	SwingLowPrice  decimal.Decimal `json:"swing_low_price"`
	SwingHighPrice decimal.Decimal `json:"swing_high_price"`
	SwingLowTS     time.Time       `json:"swing_low_ts"`
	SwingHighTS    time.Time       `json:"swing_high_ts"`
	RiskScore      int             `json:"risk_score"`
	ConfluenceMark string          `json:"confluence_mark"`
	// Higher timeframes whose active levels confirmed the entry
	MatchedTimeframes []string `json:"matched_timeframes,omitempty"`
}

// QualifiedSymbol is a symbol whose latest market_data row has both
// market cap and 24h volume populated
type QualifiedSymbol struct {
	Symbol    string  `json:"symbol"`
	MarketCap float64 `json:"market_cap"`
	Volume24h float64 `json:"volume_24h"`
}
