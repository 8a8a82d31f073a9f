// Package api exposes the operational HTTP surface: health, metrics,
// and read-only views of the analysis output.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"binance-market-pipeline/internal/database"
	"binance-market-pipeline/internal/logging"
	"binance-market-pipeline/internal/stream"
)

// Store is the read surface the API serves
type Store interface {
	GetSwingPoints(ctx context.Context, symbol, timeframe string) ([]database.SwingPoint, error)
	GetActiveSRLevels(ctx context.Context, symbol, timeframe string) ([]database.SRLevel, error)
	GetActiveOrderBlocks(ctx context.Context, symbol, timeframe string) ([]database.OrderBlock, error)
	GetLatestCandles(ctx context.Context, symbol, timeframe string, limit int) ([]database.Candle, error)
}

// HealthChecker reports database liveness
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type Server struct {
	store   Store
	health  HealthChecker
	metrics *stream.Metrics
	logger  zerolog.Logger
	srv     *http.Server
}

func NewServer(host string, port int, store Store, health HealthChecker, metrics *stream.Metrics) *Server {
	s := &Server{
		store:   store,
		health:  health,
		metrics: metrics,
		logger:  logging.Component("api"),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	router.GET("/health", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	v1.GET("/swings/:symbol/:timeframe", s.handleSwings)
	v1.GET("/levels/:symbol/:timeframe", s.handleLevels)
	v1.GET("/orderblocks/:symbol/:timeframe", s.handleOrderBlocks)
	v1.GET("/candles/:symbol/:timeframe", s.handleCandles)

	s.srv = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.srv.Addr).Msg("http server listening")
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// requestLogger tags each request with a trace id and logs completion
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		ctx, reqLogger := logging.WithTraceContext(c.Request.Context())
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		reqLogger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("request completed")
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	dbStatus := "ok"
	if err := s.health.HealthCheck(ctx); err != nil {
		status = http.StatusServiceUnavailable
		dbStatus = err.Error()
	}

	c.JSON(status, gin.H{
		"status":   http.StatusText(status),
		"database": dbStatus,
		"stream":   s.metrics.Snapshot(),
	})
}

func (s *Server) handleSwings(c *gin.Context) {
	points, err := s.store.GetSwingPoints(c.Request.Context(), c.Param("symbol"), c.Param("timeframe"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"swing_points": points})
}

func (s *Server) handleLevels(c *gin.Context) {
	levels, err := s.store.GetActiveSRLevels(c.Request.Context(), c.Param("symbol"), c.Param("timeframe"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"levels": levels})
}

func (s *Server) handleOrderBlocks(c *gin.Context) {
	blocks, err := s.store.GetActiveOrderBlocks(c.Request.Context(), c.Param("symbol"), c.Param("timeframe"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_blocks": blocks})
}

func (s *Server) handleCandles(c *gin.Context) {
	limit := 100
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 1000 {
			limit = parsed
		}
	}
	candles, err := s.store.GetLatestCandles(c.Request.Context(), c.Param("symbol"), c.Param("timeframe"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"candles": candles})
}
