package stream

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks multiplexer and batch-writer health. Counters are
// mirrored into Prometheus and kept as atomics for the snapshot API.
type Metrics struct {
	messagesReceived   atomic.Int64
	parseErrors        atomic.Int64
	reconnectCount     atomic.Int64
	totalBatchesFlush  atomic.Int64
	totalCandlesBatch  atomic.Int64
	batchBufferSize    atomic.Int64
	connectedConns     atomic.Int64
	reconnectDelayMS   atomic.Int64
	lastMessageUnixSec atomic.Int64
	lastFlushUnixSec   atomic.Int64

	promMessages    prometheus.Counter
	promParseErrors prometheus.Counter
	promReconnects  prometheus.Counter
	promFlushes     prometheus.Counter
	promBatched     prometheus.Counter
	promBufferSize  prometheus.Gauge
	promConnected   prometheus.Gauge
	promDelay       prometheus.Gauge
}

// Snapshot is a point-in-time view of the counters
type Snapshot struct {
	MessagesReceived    int64     `json:"messages_received"`
	ParseErrors         int64     `json:"parse_errors"`
	ReconnectCount      int64     `json:"reconnect_count"`
	LastMessageTime     time.Time `json:"last_message_time"`
	IsConnected         bool      `json:"is_connected"`
	ReconnectDelay      string    `json:"reconnect_delay"`
	BatchBufferSize     int64     `json:"batch_buffer_size"`
	TotalBatchesFlushed int64     `json:"total_batches_flushed"`
	TotalCandlesBatched int64     `json:"total_candles_batched"`
	TimeSinceLastFlush  string    `json:"time_since_last_flush"`
}

// NewMetrics creates the metric set registered against reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		promMessages: factory.NewCounter(prometheus.CounterOpts{
			Name: "stream_messages_received_total",
			Help: "WebSocket frames received across all connections",
		}),
		promParseErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "stream_parse_errors_total",
			Help: "Frames dropped for malformed or invalid candle payloads",
		}),
		promReconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "stream_reconnects_total",
			Help: "WebSocket reconnect attempts",
		}),
		promFlushes: factory.NewCounter(prometheus.CounterOpts{
			Name: "stream_batches_flushed_total",
			Help: "Batch writer flushes",
		}),
		promBatched: factory.NewCounter(prometheus.CounterOpts{
			Name: "stream_candles_batched_total",
			Help: "Candle events accepted into the batch buffer",
		}),
		promBufferSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "stream_batch_buffer_size",
			Help: "Candle events currently buffered",
		}),
		promConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "stream_connections_open",
			Help: "Open WebSocket connections",
		}),
		promDelay: factory.NewGauge(prometheus.GaugeOpts{
			Name: "stream_reconnect_delay_seconds",
			Help: "Current reconnect backoff delay",
		}),
	}
}

func (m *Metrics) IncMessages() {
	m.messagesReceived.Add(1)
	m.lastMessageUnixSec.Store(time.Now().Unix())
	m.promMessages.Inc()
}

func (m *Metrics) IncParseErrors() {
	m.parseErrors.Add(1)
	m.promParseErrors.Inc()
}

func (m *Metrics) IncReconnects() {
	m.reconnectCount.Add(1)
	m.promReconnects.Inc()
}

func (m *Metrics) ConnOpened() {
	m.connectedConns.Add(1)
	m.promConnected.Inc()
}

func (m *Metrics) ConnClosed() {
	m.connectedConns.Add(-1)
	m.promConnected.Dec()
}

func (m *Metrics) SetReconnectDelay(d time.Duration) {
	m.reconnectDelayMS.Store(d.Milliseconds())
	m.promDelay.Set(d.Seconds())
}

func (m *Metrics) SetBufferSize(n int) {
	m.batchBufferSize.Store(int64(n))
	m.promBufferSize.Set(float64(n))
}

func (m *Metrics) IncBatchesFlushed() {
	m.totalBatchesFlush.Add(1)
	m.lastFlushUnixSec.Store(time.Now().Unix())
	m.promFlushes.Inc()
}

func (m *Metrics) AddCandlesBatched(n int) {
	m.totalCandlesBatch.Add(int64(n))
	m.promBatched.Add(float64(n))
}

// Snapshot returns the current counter values
func (m *Metrics) Snapshot() Snapshot {
	var lastMsg time.Time
	if sec := m.lastMessageUnixSec.Load(); sec > 0 {
		lastMsg = time.Unix(sec, 0).UTC()
	}
	sinceFlush := ""
	if sec := m.lastFlushUnixSec.Load(); sec > 0 {
		sinceFlush = time.Since(time.Unix(sec, 0)).Truncate(time.Second).String()
	}
	return Snapshot{
		MessagesReceived:    m.messagesReceived.Load(),
		ParseErrors:         m.parseErrors.Load(),
		ReconnectCount:      m.reconnectCount.Load(),
		LastMessageTime:     lastMsg,
		IsConnected:         m.connectedConns.Load() > 0,
		ReconnectDelay:      (time.Duration(m.reconnectDelayMS.Load()) * time.Millisecond).String(),
		BatchBufferSize:     m.batchBufferSize.Load(),
		TotalBatchesFlushed: m.totalBatchesFlush.Load(),
		TotalCandlesBatched: m.totalCandlesBatch.Load(),
		TimeSinceLastFlush:  sinceFlush,
	}
}
