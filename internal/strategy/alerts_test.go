package strategy

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestBuildLongAlertLevels(t *testing.T) {
	r := Retracement{
		Kind:  TrendLong,
		Low:   pointAt(10, 100, SwingLow),
		High:  pointAt(20, 200, SwingHigh),
		Entry: decimal.NewFromFloat(138.2),
	}
	cfg := AlertConfig{
		BullishSL:   0,
		TP1:         0.786,
		TP2:         1.0,
		TP3:         1.272,
		PruningRate: 0.03,
	}

	sig, ok := BuildAlert("BTCUSDT", "1h", r, cfg, ConfluenceResult{Count: 2, Matched: []string{"1d", "4h"}})
	if !ok {
		t.Fatal("expected alert to build")
	}
	if sig.StopLoss.String() != "200" {
		t.Errorf("expected stop at 200, got %s", sig.StopLoss.String())
	}
	if sig.TakeProfit1.String() != "121.4" {
		t.Errorf("expected tp1 121.4, got %s", sig.TakeProfit1.String())
	}
	if sig.TakeProfit2.String() != "100" {
		t.Errorf("expected tp2 100, got %s", sig.TakeProfit2.String())
	}
	if sig.TakeProfit3.String() != "72.8" {
		t.Errorf("expected tp3 72.8, got %s", sig.TakeProfit3.String())
	}
	if sig.RiskScore != 2 || sig.ConfluenceMark != "medium" {
		t.Errorf("unexpected risk grading: score=%d mark=%s", sig.RiskScore, sig.ConfluenceMark)
	}
	if len(sig.MatchedTimeframes) != 2 || sig.MatchedTimeframes[0] != "1d" || sig.MatchedTimeframes[1] != "4h" {
		t.Errorf("expected matched timeframes [1d 4h], got %v", sig.MatchedTimeframes)
	}
	if sig.UID == "" {
		t.Error("expected a signal uid")
	}
}

func TestBuildLongAlertOrdering(t *testing.T) {
	r := Retracement{
		Kind:  TrendLong,
		Low:   pointAt(10, 100, SwingLow),
		High:  pointAt(20, 200, SwingHigh),
		Entry: decimal.NewFromFloat(138.2),
	}
	cfg := AlertConfig{
		BullishSL:   1.1,
		TP1:         0.5,
		TP2:         0.236,
		TP3:         0.0,
		PruningRate: 0.03,
	}

	sig, ok := BuildAlert("BTCUSDT", "1h", r, cfg, ConfluenceResult{})
	if !ok {
		t.Fatal("expected alert to build")
	}
	if !sig.StopLoss.LessThan(sig.EntryLevel) {
		t.Errorf("stop %s not below entry %s", sig.StopLoss, sig.EntryLevel)
	}
	if !sig.EntryLevel.LessThan(sig.TakeProfit1) ||
		!sig.TakeProfit1.LessThan(sig.TakeProfit2) ||
		!sig.TakeProfit2.LessThan(sig.TakeProfit3) {
		t.Errorf("targets out of order: entry=%s tp1=%s tp2=%s tp3=%s",
			sig.EntryLevel, sig.TakeProfit1, sig.TakeProfit2, sig.TakeProfit3)
	}
	if sig.ConfluenceMark != "none" || sig.RiskScore != 0 {
		t.Errorf("unexpected grading without confluence: %s %d", sig.ConfluenceMark, sig.RiskScore)
	}
}

func TestBuildShortAlertLevels(t *testing.T) {
	r := Retracement{
		Kind:  TrendShort,
		Low:   pointAt(20, 100, SwingLow),
		High:  pointAt(10, 200, SwingHigh),
		Entry: decimal.NewFromFloat(161.8),
	}
	cfg := AlertConfig{
		BearishSL:   1.1,
		TP1:         0.5,
		TP2:         0.236,
		TP3:         0.0,
		PruningRate: 0.03,
	}

	sig, ok := BuildAlert("ETHUSDT", "4h", r, cfg,
		ConfluenceResult{Count: 5, Matched: []string{"12h", "1M", "1d", "1w", "8h"}})
	if !ok {
		t.Fatal("expected alert to build")
	}
	if sig.StopLoss.String() != "210" {
		t.Errorf("expected stop 210, got %s", sig.StopLoss.String())
	}
	if sig.TakeProfit1.String() != "150" || sig.TakeProfit2.String() != "123.6" || sig.TakeProfit3.String() != "100" {
		t.Errorf("unexpected targets: %s %s %s", sig.TakeProfit1, sig.TakeProfit2, sig.TakeProfit3)
	}
	if sig.RiskScore != 3 {
		t.Errorf("expected risk score capped at 3, got %d", sig.RiskScore)
	}
	if sig.ConfluenceMark != "very_high" {
		t.Errorf("expected very_high mark, got %s", sig.ConfluenceMark)
	}
}

func TestBuildAlertRejectsDegenerateLeg(t *testing.T) {
	r := Retracement{
		Kind:  TrendLong,
		Low:   pointAt(10, 200, SwingLow),
		High:  pointAt(20, 100, SwingHigh), // inverted
		Entry: decimal.NewFromFloat(150),
	}
	if _, ok := BuildAlert("BTCUSDT", "1h", r, AlertConfig{TP1: 0.5}, ConfluenceResult{}); ok {
		t.Error("expected inverted leg to be rejected")
	}

	r.Low = pointAt(10, 0, SwingLow)
	if _, ok := BuildAlert("BTCUSDT", "1h", r, AlertConfig{TP1: 0.5}, ConfluenceResult{}); ok {
		t.Error("expected non-positive low to be rejected")
	}
}

func TestBuildAlertPrunesShallowLeg(t *testing.T) {
	r := Retracement{
		Kind:  TrendLong,
		Low:   pointAt(10, 100, SwingLow),
		High:  pointAt(20, 102, SwingHigh),
		Entry: decimal.NewFromFloat(101),
	}
	cfg := AlertConfig{TP1: 0.5, PruningRate: 0.03}

	if _, ok := BuildAlert("BTCUSDT", "1h", r, cfg, ConfluenceResult{}); ok {
		t.Error("expected a 2% leg to be pruned at a 3% rate")
	}
}
