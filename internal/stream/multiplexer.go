package stream

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"binance-market-pipeline/internal/logging"
)

const (
	initialReconnectDelay = 1 * time.Second
	connectTimeout        = 10 * time.Second
	readIdleTimeout       = 30 * time.Second
)

// Config holds multiplexer tunables
type Config struct {
	WSBaseURL         string
	MaxReconnectDelay time.Duration
	PingInterval      time.Duration
	PingTimeout       time.Duration
}

// Handler consumes parsed kline events
type Handler func(ctx context.Context, ev KlineEvent)

// Multiplexer subscribes to symbol x timeframe kline streams across as
// many sharded connections as the exchange's stream cap requires
type Multiplexer struct {
	cfg     Config
	handler Handler
	metrics *Metrics
	logger  zerolog.Logger

	mu        sync.Mutex
	isRunning bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func NewMultiplexer(cfg Config, handler Handler, metrics *Metrics) *Multiplexer {
	if cfg.MaxReconnectDelay <= 0 {
		cfg.MaxReconnectDelay = 60 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 20 * time.Second
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = 10 * time.Second
	}
	return &Multiplexer{
		cfg:     cfg,
		handler: handler,
		metrics: metrics,
		logger:  logging.Component("stream"),
	}
}

// Start builds the stream list, shards it, and spawns one connection
// goroutine per shard. Unknown timeframes reject the whole subscribe.
func (m *Multiplexer) Start(ctx context.Context, symbols, timeframes []string) error {
	streams, err := BuildStreamList(symbols, timeframes)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.isRunning {
		m.mu.Unlock()
		m.Stop()
		m.mu.Lock()
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.isRunning = true

	shards := ShardStreams(streams, MaxStreamsPerConnection)
	for i, shard := range shards {
		m.wg.Add(1)
		go m.runConnection(runCtx, i, shard)
	}
	m.mu.Unlock()

	m.logger.Info().
		Int("symbols", len(symbols)).
		Int("timeframes", len(timeframes)).
		Int("streams", len(streams)).
		Int("connections", len(shards)).
		Msg("multiplexer started")
	return nil
}

// Stop cancels all connections and waits for them to exit
func (m *Multiplexer) Stop() {
	m.mu.Lock()
	if !m.isRunning {
		m.mu.Unlock()
		return
	}
	m.isRunning = false
	cancel := m.cancel
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
	m.logger.Info().Msg("multiplexer stopped")
}

// runConnection drives one shard through the connect/read/reconnect
// cycle until ctx is cancelled
func (m *Multiplexer) runConnection(ctx context.Context, shard int, streams []string) {
	defer m.wg.Done()

	wsURL := StreamURL(m.cfg.WSBaseURL, streams)
	delay := initialReconnectDelay
	logger := m.logger.With().Int("shard", shard).Int("streams", len(streams)).Logger()

	for {
		if ctx.Err() != nil {
			return
		}

		dialer := websocket.Dialer{HandshakeTimeout: connectTimeout}
		conn, _, err := dialer.DialContext(ctx, wsURL, nil)
		if err != nil {
			m.metrics.IncReconnects()
			m.metrics.SetReconnectDelay(delay)
			logger.Warn().Err(err).Dur("retry_in", delay).Msg("connect failed")

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay = NextBackoff(delay, m.cfg.MaxReconnectDelay)
			continue
		}

		// Successful OPEN resets the backoff
		delay = initialReconnectDelay
		m.metrics.SetReconnectDelay(delay)
		m.metrics.ConnOpened()
		logger.Info().Msg("connected")

		m.readLoop(ctx, conn, logger)

		m.metrics.ConnClosed()
		conn.Close()

		if ctx.Err() != nil {
			return
		}
		m.metrics.IncReconnects()
		logger.Warn().Dur("retry_in", delay).Msg("connection lost, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay = NextBackoff(delay, m.cfg.MaxReconnectDelay)
	}
}

// readLoop reads frames until error or cancellation. A pong or any
// frame extends the read deadline; silence beyond the idle timeout
// fails the read and forces a reconnect.
func (m *Multiplexer) readLoop(ctx context.Context, conn *websocket.Conn, logger zerolog.Logger) {
	conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
	})

	stopPing := make(chan struct{})
	defer close(stopPing)
	go m.pingLoop(ctx, conn, stopPing)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Info().Msg("connection closed normally")
			} else if ctx.Err() == nil {
				logger.Warn().Err(err).Msg("read error")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(readIdleTimeout))

		m.metrics.IncMessages()

		ev, err := ParseKlineMessage(message)
		if err != nil {
			if err != ErrNotKline {
				m.metrics.IncParseErrors()
			}
			continue
		}

		m.handler(ctx, ev)
	}
}

// pingLoop sends application-level pings; a failed write abandons the
// connection by letting the read deadline expire
func (m *Multiplexer) pingLoop(ctx context.Context, conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
			return
		case <-ticker.C:
			deadline := time.Now().Add(m.cfg.PingTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				m.logger.Warn().Err(err).Msg("ping failed")
				return
			}
		}
	}
}
