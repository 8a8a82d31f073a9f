// Package stream implements the kline WebSocket multiplexer and the
// batch writer that persists parsed candle events.
package stream

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// MaxStreamsPerConnection is the exchange's cap on combined streams
const MaxStreamsPerConnection = 200

// ErrUnknownInterval is returned when a timeframe has no kline stream
var ErrUnknownInterval = errors.New("unknown kline interval")

var klineIntervals = map[string]struct{}{
	"1m": {}, "3m": {}, "5m": {}, "15m": {}, "30m": {},
	"1h": {}, "2h": {}, "4h": {}, "6h": {}, "8h": {}, "12h": {},
	"1d": {}, "3d": {}, "1w": {}, "1M": {},
}

// StreamName builds the kline stream name for a symbol and interval
func StreamName(symbol, interval string) (string, error) {
	if _, ok := klineIntervals[interval]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownInterval, interval)
	}
	return strings.ToLower(symbol) + "@kline_" + interval, nil
}

// BuildStreamList builds the full symbol x timeframe stream list.
// Any unknown timeframe rejects the whole subscription.
func BuildStreamList(symbols, timeframes []string) ([]string, error) {
	streams := make([]string, 0, len(symbols)*len(timeframes))
	for _, tf := range timeframes {
		if _, ok := klineIntervals[tf]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownInterval, tf)
		}
	}
	for _, sym := range symbols {
		for _, tf := range timeframes {
			streams = append(streams, strings.ToLower(sym)+"@kline_"+tf)
		}
	}
	return streams, nil
}

// ShardStreams splits a stream list into connection-sized shards
func ShardStreams(streams []string, max int) [][]string {
	if max <= 0 {
		max = MaxStreamsPerConnection
	}
	var shards [][]string
	for start := 0; start < len(streams); start += max {
		end := start + max
		if end > len(streams) {
			end = len(streams)
		}
		shards = append(shards, streams[start:end])
	}
	return shards
}

// StreamURL builds the WebSocket endpoint: single-stream path for one
// stream, combined path otherwise
func StreamURL(base string, streams []string) string {
	if len(streams) == 1 {
		return base + "/ws/" + streams[0]
	}
	return base + "/stream?streams=" + strings.Join(streams, "/")
}

// NextBackoff doubles the reconnect delay up to the cap
func NextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}
