package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"evm-swap-agent/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// GroupWindow mirrors a closed aggregation Group for offline analysis.
type GroupWindow struct {
	Time           time.Time
	Pair           string
	ChainTag       string
	GroupKey       int64
	FirstPrice     float64
	LastPrice      float64
	MinPrice       float64
	MaxPrice       float64
	PriceChangePct float64
	BuyVolume      float64
	SellVolume     float64
	TotalVolume    float64
	Volatility     float64
}

// TradeFill mirrors one BUY/SELL trade-log entry.
type TradeFill struct {
	Time          time.Time
	Pair          string
	Symbol        string
	PolicyID      string
	Type          string
	Status        string
	ActionPercent int
	EthAmount     float64
	TokenAmount   float64
	Error         string
}

type Writer struct {
	db         *sql.DB
	log        *zap.Logger
	schema     string
	groups     chan GroupWindow
	fills      chan TradeFill
	started    atomic.Bool
	dropGroup  atomic.Uint64
	dropFill   atomic.Uint64
}

func New(cfg config.TimescaleConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("timescale dsn is required")
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	writer := &Writer{
		db:     db,
		log:    log,
		schema: schema,
		groups: make(chan GroupWindow, queueSize),
		fills:  make(chan TradeFill, queueSize),
	}
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

// EnqueueGroup mirrors a closed Group window into the analytics sink.
func (w *Writer) EnqueueGroup(window GroupWindow) {
	if w == nil {
		return
	}
	select {
	case w.groups <- window:
		return
	default:
		if w.dropGroup.Add(1) == 1 && w.log != nil {
			w.log.Warn("timescale group queue full")
		}
	}
}

// EnqueueFill mirrors one trade-log entry into the analytics sink.
func (w *Writer) EnqueueFill(fill TradeFill) {
	if w == nil {
		return
	}
	select {
	case w.fills <- fill:
		return
	default:
		if w.dropFill.Add(1) == 1 && w.log != nil {
			w.log.Warn("timescale fill queue full")
		}
	}
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case window := <-w.groups:
			w.writeGroup(ctx, window)
		case fill := <-w.fills:
			w.writeFill(ctx, fill)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("timescale db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		pair TEXT NOT NULL,
		chain_tag TEXT NOT NULL,
		group_key BIGINT NOT NULL,
		first_price DOUBLE PRECISION NOT NULL,
		last_price DOUBLE PRECISION NOT NULL,
		min_price DOUBLE PRECISION NOT NULL,
		max_price DOUBLE PRECISION NOT NULL,
		price_change_pct DOUBLE PRECISION NOT NULL,
		buy_volume DOUBLE PRECISION NOT NULL,
		sell_volume DOUBLE PRECISION NOT NULL,
		total_volume DOUBLE PRECISION NOT NULL,
		volatility DOUBLE PRECISION NOT NULL,
		PRIMARY KEY (ts, pair, group_key)
	)`, w.table("group_windows"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		pair TEXT NOT NULL,
		symbol TEXT NOT NULL,
		policy_id TEXT NOT NULL,
		type TEXT NOT NULL,
		status TEXT NOT NULL,
		action_percent INTEGER NOT NULL,
		eth_amount DOUBLE PRECISION NOT NULL,
		token_amount DOUBLE PRECISION NOT NULL,
		error TEXT NOT NULL DEFAULT ''
	)`, w.table("trade_fills"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		if w.log != nil {
			w.log.Warn("timescale extension ensure failed", zap.Error(err))
		}
		return nil
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table("group_windows"))); err != nil && w.log != nil {
		w.log.Warn("timescale group_windows hypertable create failed", zap.Error(err))
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table("trade_fills"))); err != nil && w.log != nil {
		w.log.Warn("timescale trade_fills hypertable create failed", zap.Error(err))
	}
	return nil
}

func (w *Writer) writeGroup(ctx context.Context, window GroupWindow) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, pair, chain_tag, group_key, first_price, last_price, min_price, max_price,
		price_change_pct, buy_volume, sell_volume, total_volume, volatility
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
	)
	ON CONFLICT (ts, pair, group_key) DO UPDATE SET
		last_price = EXCLUDED.last_price,
		min_price = EXCLUDED.min_price,
		max_price = EXCLUDED.max_price,
		price_change_pct = EXCLUDED.price_change_pct,
		buy_volume = EXCLUDED.buy_volume,
		sell_volume = EXCLUDED.sell_volume,
		total_volume = EXCLUDED.total_volume,
		volatility = EXCLUDED.volatility`, w.table("group_windows"))
	if _, err := w.db.ExecContext(ctx, query,
		window.Time,
		window.Pair,
		window.ChainTag,
		window.GroupKey,
		window.FirstPrice,
		window.LastPrice,
		window.MinPrice,
		window.MaxPrice,
		window.PriceChangePct,
		window.BuyVolume,
		window.SellVolume,
		window.TotalVolume,
		window.Volatility,
	); err != nil && w.log != nil {
		w.log.Warn("timescale group insert failed", zap.Error(err))
	}
}

func (w *Writer) writeFill(ctx context.Context, fill TradeFill) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, pair, symbol, policy_id, type, status, action_percent, eth_amount, token_amount, error
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
	)`, w.table("trade_fills"))
	if _, err := w.db.ExecContext(ctx, query,
		fill.Time,
		fill.Pair,
		fill.Symbol,
		fill.PolicyID,
		fill.Type,
		fill.Status,
		fill.ActionPercent,
		fill.EthAmount,
		fill.TokenAmount,
		fill.Error,
	); err != nil && w.log != nil {
		w.log.Warn("timescale fill insert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
