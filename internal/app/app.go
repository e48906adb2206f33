// Package app wires the agent's components together and owns the
// startup/shutdown sequence (spec §4.9), grounded on the teacher's
// internal/app.App composition-root pattern.
package app

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"evm-swap-agent/internal/aggregation"
	"evm-swap-agent/internal/alerts"
	"evm-swap-agent/internal/approval"
	"evm-swap-agent/internal/chain"
	"evm-swap-agent/internal/chainset"
	"evm-swap-agent/internal/config"
	"evm-swap-agent/internal/control"
	"evm-swap-agent/internal/feed"
	"evm-swap-agent/internal/kvstore/sqlite"
	"evm-swap-agent/internal/metrics"
	"evm-swap-agent/internal/policy"
	"evm-swap-agent/internal/router"
	"evm-swap-agent/internal/timescale"
	"evm-swap-agent/internal/trade"
)

const minNativeBalanceWarn = 0.001 // ETH, spec §4.9 startup summary

type App struct {
	cfg      *config.Store
	log      *zap.Logger
	chain    *chain.Client
	registry *chainset.Registry
	feedCli  *feed.Client
	engine   *aggregation.Engine
	trades   *trade.Manager
	control  *control.Server
	metrics  *metrics.Metrics
	telegram *alerts.Telegram
	tsWriter *timescale.Writer
	nonceDB  *sqlite.Store
	prices   *priceCache
}

// New performs the startup sequence: validate the wallet key, dial the
// chain client, load the chainset registry, load persisted trades, and
// wire the aggregation engine, trade manager, and control server.
func New(cfg config.Config, log *zap.Logger) (*App, error) {
	privKey := strings.TrimSpace(os.Getenv("PRIVATE_KEY"))
	if privKey == "" {
		return nil, errors.New("PRIVATE_KEY is required")
	}

	ctx := context.Background()
	chainClient, err := chain.Dial(ctx, cfg.RPC.URL, privKey, log)
	if err != nil {
		return nil, fmt.Errorf("dial chain: %w", err)
	}

	registry, err := chainset.Load(cfg.ChainSet)
	if err != nil {
		return nil, fmt.Errorf("load chainset: %w", err)
	}

	nonceDB, err := sqlite.New(cfg.Persist.TradesPath + ".nonce.db")
	if err != nil {
		return nil, fmt.Errorf("open nonce store: %w", err)
	}
	if err := chainClient.InitNonceStore(ctx, nonceDB, strings.ToLower(chainClient.Address().Hex())); err != nil {
		log.Warn("nonce store init failed, falling back to on-chain nonce", zap.Error(err))
	}

	prom := metrics.NewPrometheus()
	m := prom.Metrics
	telegram := alerts.NewTelegram(cfg.Telegram, log)
	var tsWriter *timescale.Writer
	if cfg.Timescale.Enabled {
		tsWriter, err = timescale.New(cfg.Timescale, log)
		if err != nil {
			return nil, fmt.Errorf("timescale: %w", err)
		}
	}

	configStore := config.NewStore(cfg.Persist.ConfigPath, cfg)
	approvalMgr := approval.New(chainClient, log)
	swapRouter := router.New(chainClient, registry, log)
	sandbox := policy.NewSandbox(log)
	prices := newPriceCache()

	tradeMgr, err := trade.NewManager(trade.Deps{
		Config:       configStore,
		Chain:        chainClient,
		Approval:     approvalMgr,
		Router:       swapRouter,
		Sandbox:      sandbox,
		Registry:     registry,
		Log:          log,
		Metrics:      m,
		Telegram:     telegram,
		Timescale:    tsWriter,
		SnapshotPath: cfg.Persist.TradesPath,
		TradeLogPath: cfg.Persist.TradeLogPath,
		Prices:       prices.snapshot,
	})
	if err != nil {
		return nil, fmt.Errorf("trade manager: %w", err)
	}

	engine := aggregation.New(log,
		func() aggregation.Filters {
			c := configStore.Get()
			return aggregation.Filters{OnlyPairs: c.OnlyPairs, ExcludePairs: c.ExcludePairs}
		},
		func() int { return configStore.Get().GroupInterval },
		func() int { return configStore.Get().MaxGroups },
		tradeMgr,
		tradeMgr,
	)
	tradeMgr.SetFeed(engine)

	feedCli := feed.New(cfg.Feed.URL, cfg.Feed.ChainTags, log)
	feedCli.OnReconnect(func() { m.FeedReconnects.Inc() })

	controlSrv := control.New(configStore, tradeMgr, engine, chainClient, log, prom.Handler(), nonceDB)

	a := &App{
		cfg:      configStore,
		log:      log,
		chain:    chainClient,
		registry: registry,
		feedCli:  feedCli,
		engine:   engine,
		trades:   tradeMgr,
		control:  controlSrv,
		metrics:  m,
		telegram: telegram,
		tsWriter: tsWriter,
		nonceDB:  nonceDB,
		prices:   prices,
	}
	a.printStartupSummary(ctx)
	return a, nil
}

func (a *App) printStartupSummary(ctx context.Context) {
	cfg := a.cfg.Get()
	balEth := 0.0
	if balWei, err := a.chain.NativeBalance(ctx, a.chain.Address()); err == nil {
		balEth = weiToEth(balWei)
	}
	a.log.Info("startup summary",
		zap.String("wallet", a.chain.Address().Hex()),
		zap.String("rpc", cfg.RPC.URL),
		zap.Int("control_port", cfg.Control.Port),
		zap.String("chain_set", cfg.ChainSet),
		zap.Int("policy_count", len(cfg.Policies)),
		zap.Float64("native_balance_eth", balEth),
	)
	if balEth < minNativeBalanceWarn {
		a.log.Warn("native balance below warning threshold",
			zap.Float64("balance_eth", balEth),
			zap.Float64("threshold_eth", minNativeBalanceWarn))
	}
}

func weiToEth(wei *big.Int) float64 {
	f := new(big.Float).SetInt(wei)
	f.Quo(f, big.NewFloat(1e18))
	out, _ := f.Float64()
	return out
}

// Run starts the feed, the control server, and the background timers,
// blocking until ctx is cancelled. On shutdown it logs open positions
// (never auto-closing them), writes a final snapshot, and closes the
// trade log and control server (spec §4.9).
func (a *App) Run(ctx context.Context) error {
	a.trades.RefreshGas(ctx)
	a.trades.Reconcile(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { a.trades.RunGasRefresh(gctx); return nil })
	g.Go(func() error { a.engine.RunRetention(gctx); return nil })
	g.Go(func() error { a.trades.RunReconciliation(gctx); return nil })
	g.Go(func() error { a.trades.RunSnapshotTimer(gctx); return nil })
	g.Go(func() error {
		return a.feedCli.Run(gctx, feed.Handlers{
			OnMarketData:   a.engine.Ingest,
			OnRatesUpdate:  func(r feed.RatesUpdate) { a.prices.set(r.Rates) },
			OnSubscribeAck: func() { a.log.Info("feed subscribed") },
		})
	})
	g.Go(func() error { return a.control.Run(gctx, a.cfg.Get().Control.Port) })
	a.tsWriter.Start(gctx) // no-op on a nil *Writer; spawns its own internal goroutine

	<-gctx.Done()
	a.shutdown()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *App) shutdown() {
	snap := a.trades.Snapshot()
	a.log.Info("shutting down, open positions left untouched", zap.Int("open_trades", len(snap.ActiveTrades)))
	a.trades.FlushSnapshot()
	if err := a.trades.Close(); err != nil {
		a.log.Warn("trade log close failed", zap.Error(err))
	}
	if a.tsWriter != nil {
		if err := a.tsWriter.Close(); err != nil {
			a.log.Warn("timescale close failed", zap.Error(err))
		}
	}
	if err := a.nonceDB.Close(); err != nil {
		a.log.Warn("nonce store close failed", zap.Error(err))
	}
}
