package strategy

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"binance-market-pipeline/config"
	"binance-market-pipeline/internal/database"
	"binance-market-pipeline/internal/events"
	"binance-market-pipeline/internal/logging"
	"binance-market-pipeline/internal/pubsub"
)

// Timeframes at or above this many seconds use body-based levels
const bodyLevelSeconds = 14400

// Store is the persistence surface the engine needs
type Store interface {
	ListTimeframes(ctx context.Context) ([]database.Timeframe, error)
	GetLatestCandles(ctx context.Context, symbol, timeframe string, limit int) ([]database.Candle, error)
	ReplaceSwingPoints(ctx context.Context, symbol, timeframe string, points []database.SwingPoint) error
	ReplaceSRLevels(ctx context.Context, symbol, timeframe string, levels []database.SRLevel) error
	GetActiveSRLevels(ctx context.Context, symbol, timeframe string) ([]database.SRLevel, error)
	ReplaceOrderBlocks(ctx context.Context, symbol, timeframe string, blocks []database.OrderBlock) error
	SaveSignal(ctx context.Context, sig database.Signal) (bool, error)
}

type pair struct {
	symbol    string
	timeframe string
}

// Engine runs the swing and alert analysis across the tracked
// universe on a fixed cadence, prioritizing pairs that received a
// closed candle since the previous cycle.
type Engine struct {
	store     Store
	cfg       config.StrategyConfig
	publisher pubsub.Publisher
	bus       *events.EventBus
	logger    zerolog.Logger

	mu       sync.Mutex
	universe []string
	dirty    map[pair]bool
	ranOnce  bool
}

func NewEngine(store Store, cfg config.StrategyConfig, publisher pubsub.Publisher, bus *events.EventBus) *Engine {
	e := &Engine{
		store:     store,
		cfg:       cfg,
		publisher: publisher,
		bus:       bus,
		logger:    logging.Component("strategy"),
		dirty:     make(map[pair]bool),
	}
	if e.cfg.Workers <= 0 {
		e.cfg.Workers = 1
	}
	if bus != nil {
		bus.Subscribe(events.EventCandleClosed, e.onCandleClosed)
	}
	return e
}

// SetUniverse replaces the symbol set analyzed each cycle
func (e *Engine) SetUniverse(symbols []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.universe = append([]string(nil), symbols...)
}

func (e *Engine) onCandleClosed(ev events.Event) {
	symbol, _ := ev.Data["symbol"].(string)
	timeframe, _ := ev.Data["timeframe"].(string)
	if symbol == "" || timeframe == "" {
		return
	}
	e.mu.Lock()
	e.dirty[pair{symbol, timeframe}] = true
	e.mu.Unlock()
}

// Run executes analysis cycles until cancelled
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info().Msg("strategy engine stopped")
			return
		case <-ticker.C:
			if err := e.RunCycle(ctx); err != nil && ctx.Err() == nil {
				e.logger.Error().Err(err).Msg("analysis cycle failed")
			}
		}
	}
}

// RunCycle analyzes the pending pairs with a bounded worker pool. The
// first cycle covers the whole universe; later cycles only revisit
// pairs marked dirty by closed candles.
func (e *Engine) RunCycle(ctx context.Context) error {
	timeframes, err := e.store.ListTimeframes(ctx)
	if err != nil {
		return err
	}
	sort.Slice(timeframes, func(i, j int) bool { return timeframes[i].Seconds < timeframes[j].Seconds })

	tasks := e.takePending(timeframes)
	if len(tasks) == 0 {
		return nil
	}

	start := time.Now()
	jobs := make(chan pair)
	var wg sync.WaitGroup
	for w := 0; w < e.cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range jobs {
				if ctx.Err() != nil {
					continue
				}
				if err := e.analyzePair(ctx, p.symbol, p.timeframe, timeframes); err != nil {
					e.logger.Warn().Err(err).
						Str("symbol", p.symbol).
						Str("timeframe", p.timeframe).
						Msg("pair analysis failed")
				}
			}
		}()
	}

	for _, t := range tasks {
		select {
		case <-ctx.Done():
		case jobs <- t:
		}
	}
	close(jobs)
	wg.Wait()

	e.logger.Info().
		Int("pairs", len(tasks)).
		Dur("duration", time.Since(start)).
		Msg("analysis cycle complete")
	return ctx.Err()
}

// takePending drains the dirty set, expanding to the full universe on
// the first cycle
func (e *Engine) takePending(timeframes []database.Timeframe) []pair {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.ranOnce {
		e.ranOnce = true
		var all []pair
		for _, sym := range e.universe {
			for _, tf := range timeframes {
				all = append(all, pair{sym, tf.Name})
			}
		}
		e.dirty = make(map[pair]bool)
		return all
	}

	out := make([]pair, 0, len(e.dirty))
	for p := range e.dirty {
		out = append(out, p)
	}
	e.dirty = make(map[pair]bool)
	sort.Slice(out, func(i, j int) bool {
		if out[i].symbol != out[j].symbol {
			return out[i].symbol < out[j].symbol
		}
		return out[i].timeframe < out[j].timeframe
	})
	return out
}

func (e *Engine) analyzePair(ctx context.Context, symbol, timeframe string, timeframes []database.Timeframe) error {
	candles, err := e.store.GetLatestCandles(ctx, symbol, timeframe, e.cfg.CandleLimit)
	if err != nil {
		return err
	}
	if len(candles) < e.cfg.Depth+e.cfg.Backstep+1 {
		return nil
	}

	zz := ZigZag{Depth: e.cfg.Depth, Deviation: e.cfg.Deviation, Backstep: e.cfg.Backstep}
	points := zz.Points(candles, e.cfg.PruningRateFor(symbol))

	swings := make([]database.SwingPoint, 0, len(points))
	for _, p := range points {
		swings = append(swings, database.SwingPoint{
			Symbol:    symbol,
			Timeframe: timeframe,
			Timestamp: p.Timestamp,
			Price:     p.Price,
			PointType: string(p.Type),
			Strength:  e.cfg.Depth,
		})
	}
	if err := e.store.ReplaceSwingPoints(ctx, symbol, timeframe, swings); err != nil {
		return err
	}

	useBody := timeframeSeconds(timeframes, timeframe) >= bodyLevelSeconds
	levels := FindLevels(candles, e.cfg.SupportWindow, useBody)
	srLevels := make([]database.SRLevel, 0, len(levels))
	for _, l := range levels {
		srLevels = append(srLevels, database.SRLevel{
			Symbol:    symbol,
			Timeframe: timeframe,
			Level:     l.Price,
			LevelType: l.Type,
		})
	}
	if err := e.store.ReplaceSRLevels(ctx, symbol, timeframe, srLevels); err != nil {
		return err
	}

	obs := DetectOrderBlocks(candles, points, e.cfg.CloseMitigation)
	blocks := make([]database.OrderBlock, 0, len(obs))
	for _, b := range obs {
		blocks = append(blocks, database.OrderBlock{
			Symbol:      symbol,
			Timeframe:   timeframe,
			Timestamp:   b.Timestamp,
			BlockType:   b.Type,
			Top:         b.Top,
			Bottom:      b.Bottom,
			Volume:      b.Volume,
			MitigatedAt: b.MitigatedAt,
		})
	}
	if err := e.store.ReplaceOrderBlocks(ctx, symbol, timeframe, blocks); err != nil {
		return err
	}

	higher, err := e.higherLevels(ctx, symbol, timeframe, timeframes)
	if err != nil {
		return err
	}

	retracements := ComputeRetracements(points, FibLevels{
		Bullish: e.cfg.BullishFibLevel,
		Bearish: e.cfg.BearishFibLevel,
	})

	alertCfg := AlertConfig{
		BullishSL:   e.cfg.BullishSLFibLevel,
		BearishSL:   e.cfg.BearishSLFibLevel,
		TP1:         e.cfg.TP1FibLevel,
		TP2:         e.cfg.TP2FibLevel,
		TP3:         e.cfg.TP3FibLevel,
		PruningRate: e.cfg.PruningRateFor(symbol),
	}

	for _, r := range retracements {
		confluence := EvaluateConfluence(r.Entry, r.Kind, higher, e.cfg.ConfluenceEpsilon)
		sig, ok := BuildAlert(symbol, timeframe, r, alertCfg, confluence)
		if !ok {
			continue
		}
		inserted, err := e.store.SaveSignal(ctx, sig)
		if err != nil {
			return err
		}
		if !inserted {
			continue
		}
		e.publishAlert(ctx, sig)
	}
	return nil
}

// higherLevels collects active levels from every timeframe above the
// current one
func (e *Engine) higherLevels(ctx context.Context, symbol, timeframe string, timeframes []database.Timeframe) (map[string][]database.SRLevel, error) {
	current := timeframeSeconds(timeframes, timeframe)
	out := make(map[string][]database.SRLevel)
	for _, tf := range timeframes {
		if tf.Seconds <= current {
			continue
		}
		levels, err := e.store.GetActiveSRLevels(ctx, symbol, tf.Name)
		if err != nil {
			return nil, err
		}
		if len(levels) > 0 {
			out[tf.Name] = levels
		}
	}
	return out, nil
}

// publishAlert emits the alert with float payloads for downstream
// consumers
func (e *Engine) publishAlert(ctx context.Context, sig database.Signal) {
	payload := map[string]interface{}{
		"signal_uid":      sig.UID,
		"symbol":          sig.Symbol,
		"timeframe":       sig.Timeframe,
		"trend_type":      sig.TrendType,
		"entry_level":     sig.EntryLevel.InexactFloat64(),
		"stop_loss":       sig.StopLoss.InexactFloat64(),
		"take_profit_1":   sig.TakeProfit1.InexactFloat64(),
		"take_profit_2":   sig.TakeProfit2.InexactFloat64(),
		"take_profit_3":   sig.TakeProfit3.InexactFloat64(),
		"risk_score":      sig.RiskScore,
		"confluence_mark": sig.ConfluenceMark,
	}
	if len(sig.MatchedTimeframes) > 0 {
		payload["matched_timeframes"] = sig.MatchedTimeframes
	}
	if err := e.publisher.Publish(ctx, pubsub.ChannelAlert, payload); err != nil {
		e.logger.Warn().Err(err).Str("signal_uid", sig.UID).Msg("alert publish failed")
	}
	if e.bus != nil {
		e.bus.Publish(events.EventAlertGenerated, map[string]interface{}{
			"signal_uid": sig.UID,
			"symbol":     sig.Symbol,
			"timeframe":  sig.Timeframe,
			"trend_type": sig.TrendType,
		})
	}
	e.logger.Info().
		Str("symbol", sig.Symbol).
		Str("timeframe", sig.Timeframe).
		Str("trend", sig.TrendType).
		Str("confluence", sig.ConfluenceMark).
		Msg("trading alert generated")
}

func timeframeSeconds(timeframes []database.Timeframe, name string) int {
	for _, tf := range timeframes {
		if tf.Name == name {
			return tf.Seconds
		}
	}
	return 0
}
