package database

import (
	"context"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Repository provides data access methods for the ingestion and
// strategy paths. Symbol and timeframe ID lookups are memoized
// process-wide; entries are written once on first resolution.
type Repository struct {
	db *DB

	mu           sync.RWMutex
	symbolIDs    map[string]int
	timeframeIDs map[string]int
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{
		db:           db,
		symbolIDs:    make(map[string]int),
		timeframeIDs: make(map[string]int),
	}
}

// GetOrCreateSymbol resolves a symbol name to its ID, creating the row
// on first observation. A non-empty imagePath updates the stored path;
// an empty one never clears it.
func (r *Repository) GetOrCreateSymbol(ctx context.Context, name, imagePath string) (int, error) {
	r.mu.RLock()
	if id, ok := r.symbolIDs[name]; ok && imagePath == "" {
		r.mu.RUnlock()
		return id, nil
	}
	r.mu.RUnlock()

	base, quote := SplitSymbolComponents(name)

	var id int
	err := r.db.Pool.QueryRow(ctx,
		`INSERT INTO symbols (symbol_name, base_asset, quote_asset, image_path, updated_at)
		 VALUES ($1, $2, $3, NULLIF($4, ''), NOW())
		 ON CONFLICT (symbol_name) DO UPDATE SET
			image_path = COALESCE(NULLIF(EXCLUDED.image_path, ''), symbols.image_path),
			updated_at = NOW()
		 RETURNING symbol_id`,
		name, base, quote, imagePath,
	).Scan(&id)
	if err != nil {
		return 0, persistErr("get_or_create_symbol", err)
	}

	r.mu.Lock()
	r.symbolIDs[name] = id
	r.mu.Unlock()

	return id, nil
}

// GetTimeframeID resolves a timeframe name to its ID
func (r *Repository) GetTimeframeID(ctx context.Context, name string) (int, error) {
	r.mu.RLock()
	if id, ok := r.timeframeIDs[name]; ok {
		r.mu.RUnlock()
		return id, nil
	}
	r.mu.RUnlock()

	var id int
	err := r.db.Pool.QueryRow(ctx,
		`SELECT timeframe_id FROM timeframe WHERE tf_name = $1`, name,
	).Scan(&id)
	if err != nil {
		return 0, persistErr("get_timeframe_id", err)
	}

	r.mu.Lock()
	r.timeframeIDs[name] = id
	r.mu.Unlock()

	return id, nil
}

// ListTimeframes returns all timeframes ordered by seconds ascending
func (r *Repository) ListTimeframes(ctx context.Context) ([]Timeframe, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT timeframe_id, tf_name, seconds FROM timeframe ORDER BY seconds ASC`)
	if err != nil {
		return nil, persistErr("list_timeframes", err)
	}
	defer rows.Close()

	var out []Timeframe
	for rows.Next() {
		var tf Timeframe
		if err := rows.Scan(&tf.ID, &tf.Name, &tf.Seconds); err != nil {
			return nil, persistErr("list_timeframes", err)
		}
		out = append(out, tf)
	}
	return out, rows.Err()
}

// SaveCandlesIdempotent inserts candles with insert-if-absent semantics.
// Used by REST backfill where existing rows are authoritative.
func (r *Repository) SaveCandlesIdempotent(ctx context.Context, candles []Candle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}

	ids, err := r.resolveIDs(ctx, candles)
	if err != nil {
		return 0, err
	}

	batch := &pgx.Batch{}
	for _, c := range candles {
		key := c.Symbol + "/" + c.Timeframe
		batch.Queue(
			`INSERT INTO ohlcv_candles (symbol_id, timeframe_id, timestamp, open, high, low, close, volume)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (symbol_id, timeframe_id, timestamp) DO NOTHING`,
			ids[key].symbolID, ids[key].timeframeID, c.Timestamp.UTC(),
			c.Open, c.High, c.Low, c.Close, c.Volume,
		)
	}

	br := r.db.Pool.SendBatch(ctx, batch)
	defer br.Close()

	saved := 0
	for range candles {
		tag, err := br.Exec()
		if err != nil {
			return saved, persistErr("save_candles_idempotent", err)
		}
		saved += int(tag.RowsAffected())
	}
	return saved, nil
}

// SaveCandlesMerge upserts candles with one of two conflict policies.
// Closed bars are final and overwrite every OHLCV field. In-progress
// bars preserve the running extremes already persisted for the bar.
func (r *Repository) SaveCandlesMerge(ctx context.Context, candles []Candle, closed bool) error {
	if len(candles) == 0 {
		return nil
	}

	ids, err := r.resolveIDs(ctx, candles)
	if err != nil {
		return err
	}

	query := `INSERT INTO ohlcv_candles (symbol_id, timeframe_id, timestamp, open, high, low, close, volume)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (symbol_id, timeframe_id, timestamp) DO UPDATE SET
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			volume = EXCLUDED.volume`
	if !closed {
		query = `INSERT INTO ohlcv_candles (symbol_id, timeframe_id, timestamp, open, high, low, close, volume)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (symbol_id, timeframe_id, timestamp) DO UPDATE SET
			high = GREATEST(ohlcv_candles.high, EXCLUDED.high),
			low = LEAST(ohlcv_candles.low, EXCLUDED.low),
			close = EXCLUDED.close,
			volume = EXCLUDED.volume`
	}

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return persistErr("save_candles_merge", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, c := range candles {
		key := c.Symbol + "/" + c.Timeframe
		batch.Queue(query,
			ids[key].symbolID, ids[key].timeframeID, c.Timestamp.UTC(),
			c.Open, c.High, c.Low, c.Close, c.Volume,
		)
	}

	br := tx.SendBatch(ctx, batch)
	if err := br.Close(); err != nil {
		return persistErr("save_candles_merge", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return persistErr("save_candles_merge", err)
	}
	return nil
}

// SaveMarketMetrics upserts one market_data row per symbol
func (r *Repository) SaveMarketMetrics(ctx context.Context, rows []MarketMetrics) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	saved := 0
	for _, m := range rows {
		symbolID, err := r.GetOrCreateSymbol(ctx, m.Symbol, m.ImagePath)
		if err != nil {
			return saved, err
		}

		_, err = r.db.Pool.Exec(ctx,
			`INSERT INTO market_data (symbol_id, timestamp, market_cap, volume_24h, circulating_supply, price)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (symbol_id, timestamp) DO UPDATE SET
				market_cap = EXCLUDED.market_cap,
				volume_24h = EXCLUDED.volume_24h,
				circulating_supply = EXCLUDED.circulating_supply,
				price = EXCLUDED.price`,
			symbolID, m.Timestamp.UTC(), m.MarketCap, m.Volume24h, m.CirculatingSupply, m.Price,
		)
		if err != nil {
			return saved, persistErr("save_market_metrics", err)
		}
		saved++
	}
	return saved, nil
}

// SaveSignal inserts a trading alert; duplicates by swing pair are ignored
func (r *Repository) SaveSignal(ctx context.Context, sig Signal) (bool, error) {
	symbolID, err := r.GetOrCreateSymbol(ctx, sig.Symbol, "")
	if err != nil {
		return false, err
	}
	timeframeID, err := r.GetTimeframeID(ctx, sig.Timeframe)
	if err != nil {
		return false, err
	}

	tag, err := r.db.Pool.Exec(ctx,
		`INSERT INTO trading_signals (
			signal_uid, symbol_id, timeframe_id, trend_type,
			entry_level, stop_loss, take_profit_1, take_profit_2, take_profit_3,
			swing_low_price, swing_high_price, swing_low_ts, swing_high_ts,
			risk_score, confluence_mark, matched_timeframes
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		 ON CONFLICT (symbol_id, timeframe_id, trend_type, swing_low_ts, swing_high_ts) DO NOTHING`,
		sig.UID, symbolID, timeframeID, sig.TrendType,
		sig.EntryLevel, sig.StopLoss, sig.TakeProfit1, sig.TakeProfit2, sig.TakeProfit3,
		sig.SwingLowPrice, sig.SwingHighPrice, sig.SwingLowTS.UTC(), sig.SwingHighTS.UTC(),
		sig.RiskScore, sig.ConfluenceMark, strings.Join(sig.MatchedTimeframes, ","),
	)
	if err != nil {
		return false, persistErr("save_signal", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ReplaceSwingPoints swaps the stored swing set for a (symbol, timeframe)
// with the latest detector output in one transaction
func (r *Repository) ReplaceSwingPoints(ctx context.Context, symbol, timeframe string, points []SwingPoint) error {
	symbolID, err := r.GetOrCreateSymbol(ctx, symbol, "")
	if err != nil {
		return err
	}
	timeframeID, err := r.GetTimeframeID(ctx, timeframe)
	if err != nil {
		return err
	}

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return persistErr("replace_swing_points", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM swing_points WHERE symbol_id = $1 AND timeframe_id = $2`,
		symbolID, timeframeID,
	); err != nil {
		return persistErr("replace_swing_points", err)
	}

	batch := &pgx.Batch{}
	for _, p := range points {
		batch.Queue(
			`INSERT INTO swing_points (symbol_id, timeframe_id, timestamp, price, point_type, strength)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			symbolID, timeframeID, p.Timestamp.UTC(), p.Price, p.PointType, p.Strength,
		)
	}
	br := tx.SendBatch(ctx, batch)
	if err := br.Close(); err != nil {
		return persistErr("replace_swing_points", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return persistErr("replace_swing_points", err)
	}
	return nil
}

// ReplaceSRLevels swaps the active support/resistance set for a
// (symbol, timeframe) with the latest computed levels
func (r *Repository) ReplaceSRLevels(ctx context.Context, symbol, timeframe string, levels []SRLevel) error {
	symbolID, err := r.GetOrCreateSymbol(ctx, symbol, "")
	if err != nil {
		return err
	}
	timeframeID, err := r.GetTimeframeID(ctx, timeframe)
	if err != nil {
		return err
	}

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return persistErr("replace_sr_levels", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE support_resistance SET is_active = FALSE
		 WHERE symbol_id = $1 AND timeframe_id = $2 AND is_active`,
		symbolID, timeframeID,
	); err != nil {
		return persistErr("replace_sr_levels", err)
	}

	batch := &pgx.Batch{}
	for _, l := range levels {
		batch.Queue(
			`INSERT INTO support_resistance (symbol_id, timeframe_id, level, level_type, is_active)
			 VALUES ($1, $2, $3, $4, TRUE)`,
			symbolID, timeframeID, l.Level, l.LevelType,
		)
	}
	br := tx.SendBatch(ctx, batch)
	if err := br.Close(); err != nil {
		return persistErr("replace_sr_levels", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return persistErr("replace_sr_levels", err)
	}
	return nil
}

// ReplaceOrderBlocks swaps the stored order block set for a
// (symbol, timeframe) with the latest detector output. Blocks carrying
// a mitigation timestamp are inserted inactive.
func (r *Repository) ReplaceOrderBlocks(ctx context.Context, symbol, timeframe string, blocks []OrderBlock) error {
	symbolID, err := r.GetOrCreateSymbol(ctx, symbol, "")
	if err != nil {
		return err
	}
	timeframeID, err := r.GetTimeframeID(ctx, timeframe)
	if err != nil {
		return err
	}

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return persistErr("replace_order_blocks", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM order_blocks WHERE symbol_id = $1 AND timeframe_id = $2`,
		symbolID, timeframeID,
	); err != nil {
		return persistErr("replace_order_blocks", err)
	}

	batch := &pgx.Batch{}
	for _, b := range blocks {
		var mitigated interface{}
		if b.MitigatedAt != nil {
			mitigated = b.MitigatedAt.UTC()
		}
		batch.Queue(
			`INSERT INTO order_blocks (symbol_id, timeframe_id, timestamp, block_type, top, bottom, volume, mitigated_at, is_active)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8 IS NULL)`,
			symbolID, timeframeID, b.Timestamp.UTC(), b.BlockType,
			b.Top, b.Bottom, b.Volume, mitigated,
		)
	}
	br := tx.SendBatch(ctx, batch)
	if err := br.Close(); err != nil {
		return persistErr("replace_order_blocks", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return persistErr("replace_order_blocks", err)
	}
	return nil
}

// GetActiveOrderBlocks reads the unmitigated order blocks for a
// (symbol, timeframe)
func (r *Repository) GetActiveOrderBlocks(ctx context.Context, symbol, timeframe string) ([]OrderBlock, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT ob.timestamp, ob.block_type, ob.top::text, ob.bottom::text, ob.volume::text
		 FROM order_blocks ob
		 JOIN symbols s ON s.symbol_id = ob.symbol_id
		 JOIN timeframe t ON t.timeframe_id = ob.timeframe_id
		 WHERE s.symbol_name = $1 AND t.tf_name = $2 AND ob.is_active
		 ORDER BY ob.timestamp ASC`,
		symbol, timeframe,
	)
	if err != nil {
		return nil, persistErr("get_active_order_blocks", err)
	}
	defer rows.Close()

	var out []OrderBlock
	for rows.Next() {
		b := OrderBlock{Symbol: symbol, Timeframe: timeframe}
		var top, bottom, volume string
		if err := rows.Scan(&b.Timestamp, &b.BlockType, &top, &bottom, &volume); err != nil {
			return nil, persistErr("get_active_order_blocks", err)
		}
		if b.Top, err = decimal.NewFromString(top); err != nil {
			return nil, persistErr("get_active_order_blocks", err)
		}
		if b.Bottom, err = decimal.NewFromString(bottom); err != nil {
			return nil, persistErr("get_active_order_blocks", err)
		}
		if b.Volume, err = decimal.NewFromString(volume); err != nil {
			return nil, persistErr("get_active_order_blocks", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// GetActiveSRLevels reads the active support/resistance set
func (r *Repository) GetActiveSRLevels(ctx context.Context, symbol, timeframe string) ([]SRLevel, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT s.symbol_name, t.tf_name, sr.level::text, sr.level_type
		 FROM support_resistance sr
		 JOIN symbols s ON s.symbol_id = sr.symbol_id
		 JOIN timeframe t ON t.timeframe_id = sr.timeframe_id
		 WHERE s.symbol_name = $1 AND t.tf_name = $2 AND sr.is_active`,
		symbol, timeframe,
	)
	if err != nil {
		return nil, persistErr("get_active_sr_levels", err)
	}
	defer rows.Close()

	var out []SRLevel
	for rows.Next() {
		var l SRLevel
		var level string
		if err := rows.Scan(&l.Symbol, &l.Timeframe, &level, &l.LevelType); err != nil {
			return nil, persistErr("get_active_sr_levels", err)
		}
		l.Level, err = decimal.NewFromString(level)
		if err != nil {
			return nil, persistErr("get_active_sr_levels", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// GetSwingPoints reads the stored swing set for a (symbol, timeframe)
func (r *Repository) GetSwingPoints(ctx context.Context, symbol, timeframe string) ([]SwingPoint, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT sp.timestamp, sp.price::text, sp.point_type, sp.strength
		 FROM swing_points sp
		 JOIN symbols s ON s.symbol_id = sp.symbol_id
		 JOIN timeframe t ON t.timeframe_id = sp.timeframe_id
		 WHERE s.symbol_name = $1 AND t.tf_name = $2
		 ORDER BY sp.timestamp ASC`,
		symbol, timeframe,
	)
	if err != nil {
		return nil, persistErr("get_swing_points", err)
	}
	defer rows.Close()

	var out []SwingPoint
	for rows.Next() {
		p := SwingPoint{Symbol: symbol, Timeframe: timeframe}
		var price string
		if err := rows.Scan(&p.Timestamp, &price, &p.PointType, &p.Strength); err != nil {
			return nil, persistErr("get_swing_points", err)
		}
		p.Price, err = decimal.NewFromString(price)
		if err != nil {
			return nil, persistErr("get_swing_points", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetLatestCandles returns up to limit bars for a (symbol, timeframe),
// oldest first
func (r *Repository) GetLatestCandles(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT c.timestamp, c.open::text, c.high::text, c.low::text, c.close::text, c.volume::text
		 FROM ohlcv_candles c
		 JOIN symbols s ON s.symbol_id = c.symbol_id
		 JOIN timeframe t ON t.timeframe_id = c.timeframe_id
		 WHERE s.symbol_name = $1 AND t.tf_name = $2
		 ORDER BY c.timestamp DESC
		 LIMIT $3`,
		symbol, timeframe, limit,
	)
	if err != nil {
		return nil, persistErr("get_latest_candles", err)
	}
	defer rows.Close()

	var out []Candle
	for rows.Next() {
		c := Candle{Symbol: symbol, Timeframe: timeframe}
		var open, high, low, closeP, volume string
		if err := rows.Scan(&c.Timestamp, &open, &high, &low, &closeP, &volume); err != nil {
			return nil, persistErr("get_latest_candles", err)
		}
		if c.Open, err = decimal.NewFromString(open); err != nil {
			return nil, persistErr("get_latest_candles", err)
		}
		if c.High, err = decimal.NewFromString(high); err != nil {
			return nil, persistErr("get_latest_candles", err)
		}
		if c.Low, err = decimal.NewFromString(low); err != nil {
			return nil, persistErr("get_latest_candles", err)
		}
		if c.Close, err = decimal.NewFromString(closeP); err != nil {
			return nil, persistErr("get_latest_candles", err)
		}
		if c.Volume, err = decimal.NewFromString(volume); err != nil {
			return nil, persistErr("get_latest_candles", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("get_latest_candles", err)
	}

	// Query is newest-first for the LIMIT; callers want time order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// ListQualifiedSymbols returns symbols whose latest market_data row has
// both market cap and 24h volume, ordered by market cap descending
func (r *Repository) ListQualifiedSymbols(ctx context.Context, minMarketCap, minVolume24h float64) ([]QualifiedSymbol, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT symbol_name, market_cap, volume_24h FROM (
			SELECT DISTINCT ON (md.symbol_id)
				s.symbol_name,
				md.market_cap::float8 AS market_cap,
				md.volume_24h::float8 AS volume_24h
			FROM market_data md
			JOIN symbols s ON s.symbol_id = md.symbol_id
			WHERE md.market_cap IS NOT NULL AND md.volume_24h IS NOT NULL
			ORDER BY md.symbol_id, md.timestamp DESC
		 ) latest
		 WHERE market_cap >= $1 AND volume_24h >= $2
		 ORDER BY market_cap DESC`,
		minMarketCap, minVolume24h,
	)
	if err != nil {
		return nil, persistErr("list_qualified_symbols", err)
	}
	defer rows.Close()

	var out []QualifiedSymbol
	for rows.Next() {
		var q QualifiedSymbol
		if err := rows.Scan(&q.Symbol, &q.MarketCap, &q.Volume24h); err != nil {
			return nil, persistErr("list_qualified_symbols", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// SymbolsWithMarketData returns names of symbols that have at least one
// market_data row. These are the symbols the hourly refresher tracks.
func (r *Repository) SymbolsWithMarketData(ctx context.Context) ([]string, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT DISTINCT s.symbol_name
		 FROM market_data md
		 JOIN symbols s ON s.symbol_id = md.symbol_id
		 ORDER BY s.symbol_name`,
	)
	if err != nil {
		return nil, persistErr("symbols_with_market_data", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, persistErr("symbols_with_market_data", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

type idPair struct {
	symbolID    int
	timeframeID int
}

// resolveIDs memoizes symbol and timeframe IDs for one batch so the
// per-row inserts never do their own lookups
func (r *Repository) resolveIDs(ctx context.Context, candles []Candle) (map[string]idPair, error) {
	ids := make(map[string]idPair)
	for _, c := range candles {
		key := c.Symbol + "/" + c.Timeframe
		if _, ok := ids[key]; ok {
			continue
		}
		symbolID, err := r.GetOrCreateSymbol(ctx, c.Symbol, "")
		if err != nil {
			return nil, err
		}
		timeframeID, err := r.GetTimeframeID(ctx, c.Timeframe)
		if err != nil {
			return nil, err
		}
		ids[key] = idPair{symbolID: symbolID, timeframeID: timeframeID}
	}
	return ids, nil
}

// KnownQuoteAssets is the ordered set used for greedy suffix matching
// when deriving base/quote from a combined symbol name
var KnownQuoteAssets = []string{"USDT", "USDC", "BUSD", "BTC", "ETH", "BNB", "USD", "EUR", "TRY", "BIDR"}

// SplitSymbolComponents derives (base, quote) from a combined name like
// BTCUSDT. Unmatched names fall back to (name, "USD").
func SplitSymbolComponents(name string) (string, string) {
	upper := strings.ToUpper(name)
	for _, quote := range KnownQuoteAssets {
		if strings.HasSuffix(upper, quote) && len(upper) > len(quote) {
			return upper[:len(upper)-len(quote)], quote
		}
	}
	return upper, "USD"
}
