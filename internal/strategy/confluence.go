package strategy

import (
	"sort"

	"github.com/shopspring/decimal"

	"binance-market-pipeline/internal/database"
)

// ConfluenceResult reports the higher timeframes holding a level near
// an entry. Matched is sorted by timeframe name.
type ConfluenceResult struct {
	Count   int
	Matched []string
}

// EvaluateConfluence finds higher timeframes holding a level of the
// matching kind within epsilon of the entry. Longs look for support,
// shorts for resistance. At most one hit counts per timeframe.
func EvaluateConfluence(entry decimal.Decimal, trend string, levelsByTF map[string][]database.SRLevel, epsilon float64) ConfluenceResult {
	kind := LevelSupport
	if trend == TrendShort {
		kind = LevelResistance
	}

	var res ConfluenceResult
	for tf, levels := range levelsByTF {
		for _, lvl := range levels {
			if lvl.LevelType != kind || lvl.Level.IsZero() {
				continue
			}
			dist := entry.Sub(lvl.Level).Abs().Div(lvl.Level.Abs()).InexactFloat64()
			if dist <= epsilon {
				res.Count++
				res.Matched = append(res.Matched, tf)
				break
			}
		}
	}
	sort.Strings(res.Matched)
	return res
}

// Grade maps a confluence count to the mark stored with the signal
func Grade(count int) string {
	switch {
	case count <= 0:
		return "none"
	case count == 1:
		return "low"
	case count == 2:
		return "medium"
	case count == 3:
		return "high"
	default:
		return "very_high"
	}
}
