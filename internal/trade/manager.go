package trade

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"evm-swap-agent/internal/aggregation"
	"evm-swap-agent/internal/alerts"
	"evm-swap-agent/internal/approval"
	"evm-swap-agent/internal/chain"
	"evm-swap-agent/internal/chainset"
	"evm-swap-agent/internal/config"
	"evm-swap-agent/internal/metrics"
	"evm-swap-agent/internal/policy"
	"evm-swap-agent/internal/router"
	"evm-swap-agent/internal/timescale"
)

const snapshotSaveInterval = 60 * time.Second

// Manager owns the per-pair execution lock and the ActiveTrade/
// InactiveTrade lifecycle (spec §4.6). It implements
// aggregation.TradeGate and aggregation.Dispatcher.
type Manager struct {
	mu       sync.RWMutex
	active   map[string]ActiveTrade
	inactive []InactiveTrade
	locks    map[string]bool
	paused   bool

	cfg      *config.Store
	chain    *chain.Client
	approval *approval.Manager
	swaps    *router.Router
	sandbox  *policy.Sandbox
	registry *chainset.Registry
	log      *zap.Logger
	metrics  *metrics.Metrics
	telegram *alerts.Telegram
	tsWriter *timescale.Writer

	feed *aggregation.Engine

	snapshotPath string
	fills        *fillLog
	prices       func() map[string]float64

	lastSnapshotSave time.Time

	gasMu     sync.RWMutex
	gasCached policy.GasView
}

type Deps struct {
	Config       *config.Store
	Chain        *chain.Client
	Approval     *approval.Manager
	Router       *router.Router
	Sandbox      *policy.Sandbox
	Registry     *chainset.Registry
	Feed         *aggregation.Engine
	Log          *zap.Logger
	Metrics      *metrics.Metrics
	Telegram     *alerts.Telegram
	Timescale    *timescale.Writer
	SnapshotPath string
	TradeLogPath string
	Prices       func() map[string]float64
}

func NewManager(deps Deps) (*Manager, error) {
	snap, err := loadSnapshot(deps.SnapshotPath)
	if err != nil {
		return nil, fmt.Errorf("trade: load snapshot: %w", err)
	}
	m := &Manager{
		active:       snap.ActiveTrades,
		inactive:     snap.InactiveTrades,
		locks:        make(map[string]bool),
		cfg:          deps.Config,
		chain:        deps.Chain,
		approval:     deps.Approval,
		swaps:        deps.Router,
		sandbox:      deps.Sandbox,
		registry:     deps.Registry,
		feed:         deps.Feed,
		log:          deps.Log,
		metrics:      deps.Metrics,
		telegram:     deps.Telegram,
		tsWriter:     deps.Timescale,
		snapshotPath: deps.SnapshotPath,
		fills:        newFillLog(deps.TradeLogPath),
		prices:       deps.Prices,
	}
	if m.metrics == nil {
		m.metrics = metrics.NewNoop()
	}
	return m, nil
}

// Locked implements aggregation.TradeGate.
func (m *Manager) Locked(pair string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.locks[pair]
}

// HasActiveTrade implements aggregation.TradeGate.
func (m *Manager) HasActiveTrade(pair string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.active[pair]
	return ok
}

// SetFeed wires the aggregation engine after both it and the manager
// have been constructed, breaking the constructor cycle between them
// (the engine's New takes the manager as its TradeGate/Dispatcher).
func (m *Manager) SetFeed(feed *aggregation.Engine) {
	m.feed = feed
}

func (m *Manager) Paused() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paused
}

func (m *Manager) SetPaused(paused bool) {
	m.mu.Lock()
	m.paused = paused
	m.mu.Unlock()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// Evaluate implements aggregation.Dispatcher: runs entry predicates when
// the pair has no open position, exit predicates when it does. At most
// one entry fires per call; policies are tried in order (spec §4.6).
func (m *Manager) Evaluate(snap aggregation.PairSnapshot, isExit bool) {
	if m.Paused() {
		return
	}
	cfg := m.cfg.Get()
	group, ok := snap.LatestGroup()
	if !ok {
		return
	}
	ctx := policy.Context{
		Group:  group,
		Groups: snap.Groups,
		Pair:   snap,
		Gas:    m.gasView(),
		Prices: m.prices(),
	}

	if isExit {
		m.evaluateExit(cfg, snap, group, ctx)
		return
	}
	m.evaluateEntry(cfg, snap, group, ctx)
}

// gasView returns the last gas snapshot refreshed by RefreshGas. Policy
// evaluation reads this cache rather than hitting the RPC on every
// market tick (spec §4.9's 30s gas refresh timer).
func (m *Manager) gasView() policy.GasView {
	m.gasMu.RLock()
	defer m.gasMu.RUnlock()
	return m.gasCached
}

// RefreshGas re-fetches the fee suggestion and updates the cache used
// by gasView. Called once at startup and then every 30s.
func (m *Manager) RefreshGas(ctx context.Context) {
	maxFee, priority, err := m.chain.FeeSuggestion(ctx)
	if err != nil {
		if m.log != nil {
			m.log.Warn("gas refresh failed", zap.Error(err))
		}
		return
	}
	m.gasMu.Lock()
	m.gasCached = policy.GasView{
		MaxFeeGwei:      weiToGwei(maxFee),
		PriorityFeeGwei: weiToGwei(priority),
	}
	m.gasMu.Unlock()
}

const gasRefreshInterval = 30 * time.Second

// RunGasRefresh starts the periodic gas refresh task.
func (m *Manager) RunGasRefresh(ctx context.Context) {
	ticker := time.NewTicker(gasRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RefreshGas(ctx)
		}
	}
}

func weiToGwei(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f := new(big.Float).SetInt(v)
	f.Quo(f, big.NewFloat(1e9))
	out, _ := f.Float64()
	return out
}

func (m *Manager) evaluateEntry(cfg config.Config, snap aggregation.PairSnapshot, group aggregation.Group, ctx policy.Context) {
	if m.ActiveCount() >= cfg.MaxPositions {
		return
	}
	if m.HasActiveTrade(snap.PairAddress) || m.Locked(snap.PairAddress) {
		return
	}
	for _, p := range cfg.Policies {
		if strings.TrimSpace(p.EntryPredicate) == "" {
			continue
		}
		action := m.sandbox.Evaluate(policy.Entry, p.ID, p.EntryPredicate, ctx)
		if action <= 0 {
			continue
		}
		// Acquire the per-pair lock here, synchronously, so a second
		// tick for this pair can't slip past the Locked() check above
		// before the task below gets scheduled. enterTrade releases it.
		if !m.tryLock(snap.PairAddress) {
			return
		}
		go m.enterTrade(context.Background(), cfg, snap, p.ID, action)
		return // at most one entry per evaluation cycle
	}
}

func (m *Manager) evaluateExit(cfg config.Config, snap aggregation.PairSnapshot, group aggregation.Group, ctx policy.Context) {
	m.mu.RLock()
	t, ok := m.active[snap.PairAddress]
	m.mu.RUnlock()
	if !ok {
		return
	}
	ctx.Trade = &policy.TradeView{
		EntryPrice:         t.EntryPrice,
		EthSpent:           f64(t.EthSpent),
		EthSold:            f64(t.EthSold),
		TokensBought:       f64(t.TokensBought),
		TokensInPossession: f64(t.TokensInPossession),
		CurrentPrice:       snap.LastPrice,
		PriceChangePct:     group.PriceChangePct,
		MinPriceSinceEntry: t.MinPriceSinceEntry,
		MaxPriceSinceEntry: t.MaxPriceSinceEntry,
		CurrentEthValue:    f64(t.CurrentEthValue()),
		PolicyID:           t.PolicyID,
	}

	var policyDef *config.Policy
	for i := range cfg.Policies {
		if cfg.Policies[i].ID == t.PolicyID {
			policyDef = &cfg.Policies[i]
			break
		}
	}
	if policyDef == nil || strings.TrimSpace(policyDef.ExitPredicate) == "" {
		return
	}
	action := m.sandbox.Evaluate(policy.Exit, policyDef.ID, policyDef.ExitPredicate, ctx)
	if action <= 0 {
		return
	}
	// Same atomic-acquire-then-dispatch pattern as evaluateEntry: exitTrade
	// releases the lock once the swap and bookkeeping are done.
	if !m.tryLock(snap.PairAddress) {
		return
	}
	go m.exitTrade(context.Background(), snap, t, action, CloseReasonPolicyExit)
}

func f64(d decimal.Decimal) float64 {
	v, _ := d.Float64()
	return v
}
