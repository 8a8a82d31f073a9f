package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNotKline marks messages of other event types; they are ignored
// without counting as parse errors
var ErrNotKline = errors.New("not a kline event")

// ErrInvalidCandle marks kline payloads whose prices fail validation
var ErrInvalidCandle = errors.New("invalid candle payload")

// KlineEvent is one parsed candle update from the exchange
type KlineEvent struct {
	Symbol    string
	Timeframe string
	Timestamp time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
	IsClosed  bool
}

type wsKline struct {
	StartTime int64  `json:"t"`
	CloseTime int64  `json:"T"`
	Symbol    string `json:"s"`
	Interval  string `json:"i"`
	Open      string `json:"o"`
	High      string `json:"h"`
	Low       string `json:"l"`
	Close     string `json:"c"`
	Volume    string `json:"v"`
	Closed    bool   `json:"x"`
}

type wsPayload struct {
	EventType string  `json:"e"`
	Symbol    string  `json:"s"`
	Kline     wsKline `json:"k"`
}

type wsEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
	// single-stream messages carry the payload at the top level
	EventType string  `json:"e"`
	Kline     wsKline `json:"k"`
}

// ParseKlineMessage parses a raw frame in either the single-stream or
// the combined-stream envelope and validates the candle
func ParseKlineMessage(msg []byte) (KlineEvent, error) {
	var env wsEnvelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return KlineEvent{}, fmt.Errorf("malformed frame: %w", err)
	}

	payload := wsPayload{EventType: env.EventType, Kline: env.Kline}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return KlineEvent{}, fmt.Errorf("malformed combined frame: %w", err)
		}
	}

	if payload.EventType != "kline" {
		return KlineEvent{}, ErrNotKline
	}

	k := payload.Kline
	ev := KlineEvent{
		Symbol:    k.Symbol,
		Timeframe: k.Interval,
		Timestamp: time.UnixMilli(k.StartTime).UTC(),
		IsClosed:  k.Closed,
	}

	var err error
	if ev.Open, err = decimal.NewFromString(k.Open); err != nil {
		return KlineEvent{}, fmt.Errorf("%w: open %q", ErrInvalidCandle, k.Open)
	}
	if ev.High, err = decimal.NewFromString(k.High); err != nil {
		return KlineEvent{}, fmt.Errorf("%w: high %q", ErrInvalidCandle, k.High)
	}
	if ev.Low, err = decimal.NewFromString(k.Low); err != nil {
		return KlineEvent{}, fmt.Errorf("%w: low %q", ErrInvalidCandle, k.Low)
	}
	if ev.Close, err = decimal.NewFromString(k.Close); err != nil {
		return KlineEvent{}, fmt.Errorf("%w: close %q", ErrInvalidCandle, k.Close)
	}
	if ev.Volume, err = decimal.NewFromString(k.Volume); err != nil {
		return KlineEvent{}, fmt.Errorf("%w: volume %q", ErrInvalidCandle, k.Volume)
	}

	if !ev.Open.IsPositive() || !ev.High.IsPositive() || !ev.Low.IsPositive() || !ev.Close.IsPositive() {
		return KlineEvent{}, fmt.Errorf("%w: non-positive price", ErrInvalidCandle)
	}
	if ev.High.LessThan(ev.Low) {
		return KlineEvent{}, fmt.Errorf("%w: high below low", ErrInvalidCandle)
	}

	return ev, nil
}
