package strategy

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"binance-market-pipeline/internal/database"
)

// AlertConfig holds the stop and target ratios applied to a swing leg
type AlertConfig struct {
	BullishSL   float64
	BearishSL   float64
	TP1         float64
	TP2         float64
	TP3         float64
	PruningRate float64 // minimum relative leg size worth alerting on
}

// BuildAlert turns a retracement into a persistable signal. It returns
// false for degenerate legs and legs smaller than the pruning rate.
func BuildAlert(symbol, timeframe string, r Retracement, cfg AlertConfig, confluence ConfluenceResult) (database.Signal, bool) {
	low, high := r.Low.Price, r.High.Price
	if !low.IsPositive() || !high.GreaterThan(low) {
		return database.Signal{}, false
	}
	if high.Sub(low).Div(low).InexactFloat64() <= cfg.PruningRate {
		return database.Signal{}, false
	}

	leg := high.Sub(low)
	sig := database.Signal{
		UID:               uuid.New().String(),
		Symbol:            symbol,
		Timeframe:         timeframe,
		TrendType:         r.Kind,
		EntryLevel:        r.Entry,
		SwingLowPrice:     low,
		SwingHighPrice:    high,
		SwingLowTS:        r.Low.Timestamp,
		SwingHighTS:       r.High.Timestamp,
		RiskScore:         minInt(confluence.Count, 3),
		ConfluenceMark:    Grade(confluence.Count),
		MatchedTimeframes: append([]string(nil), confluence.Matched...),
	}

	switch r.Kind {
	case TrendLong:
		// Measured down from the swing high, so ratio 0 sits at the
		// high and ratio 1 at the low
		sig.StopLoss = high.Sub(leg.Mul(decimal.NewFromFloat(cfg.BullishSL)))
		sig.TakeProfit1 = high.Sub(leg.Mul(decimal.NewFromFloat(cfg.TP1)))
		sig.TakeProfit2 = high.Sub(leg.Mul(decimal.NewFromFloat(cfg.TP2)))
		sig.TakeProfit3 = high.Sub(leg.Mul(decimal.NewFromFloat(cfg.TP3)))
	case TrendShort:
		sig.StopLoss = low.Add(leg.Mul(decimal.NewFromFloat(cfg.BearishSL)))
		sig.TakeProfit1 = low.Add(leg.Mul(decimal.NewFromFloat(cfg.TP1)))
		sig.TakeProfit2 = low.Add(leg.Mul(decimal.NewFromFloat(cfg.TP2)))
		sig.TakeProfit3 = low.Add(leg.Mul(decimal.NewFromFloat(cfg.TP3)))
	default:
		return database.Signal{}, false
	}

	return sig, true
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
