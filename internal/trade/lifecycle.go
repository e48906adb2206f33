package trade

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"evm-swap-agent/internal/aggregation"
	"evm-swap-agent/internal/chainset"
	"evm-swap-agent/internal/config"
	"evm-swap-agent/internal/router"
	"evm-swap-agent/internal/timescale"
)

// enterTrade implements spec §4.6's Entry steps 1-7.
func (m *Manager) enterTrade(ctx context.Context, cfg config.Config, snap aggregation.PairSnapshot, policyID string, actionPercent int) {
	ethAmount := cfg.MaxEthPerTrade * float64(actionPercent) / 100
	m.executeEntry(ctx, snap, policyID, actionPercent, ethAmount)
}

// executeEntry performs the actual buy, shared by predicate-driven
// entries (percent-of-max-eth-per-trade) and manual buys (an explicit
// ETH amount, spec §4.8's POST /buy).
func (m *Manager) executeEntry(ctx context.Context, snap aggregation.PairSnapshot, policyID string, actionPercent int, ethAmount float64) {
	pair := snap.PairAddress
	m.lock(pair)
	defer m.unlock(pair)

	ethRaw := ethToWei(ethAmount)

	baseToken, baseIsToken0 := resolveBaseToken(snap, m.registry)
	spender, err := m.selectSpender(snap)
	if err != nil {
		m.recordFill(FillRecord{Time: time.Now(), Status: "error", Type: "buy", Symbol: snap.Symbol, Pair: pair, PolicyID: policyID, ActionPercent: actionPercent, Error: err.Error()})
		m.metrics.EntriesFailed.Inc()
		return
	}

	baseAddr := common.HexToAddress(baseToken)
	if err := m.ensureApprovals(ctx, snap, baseAddr, spender, ethRaw); err != nil {
		m.recordFill(FillRecord{Time: time.Now(), Status: "error", Type: "buy", Symbol: snap.Symbol, Pair: pair, PolicyID: policyID, ActionPercent: actionPercent, Error: err.Error()})
		m.metrics.EntriesFailed.Inc()
		return
	}

	result := m.swaps.Swap(ctx, router.Request{
		Pair:         snap,
		AmountIn:     ethRaw,
		IsToken0In:   baseIsToken0,
		MinAmountOut: big.NewInt(0),
		Action:       router.Buy,
	})
	if !result.Success {
		m.recordFill(FillRecord{Time: time.Now(), Status: "error", Type: "buy", Symbol: snap.Symbol, Pair: pair, PolicyID: policyID, ActionPercent: actionPercent, EthAmount: ethAmount, Error: result.Error})
		m.metrics.EntriesFailed.Inc()
		return
	}

	now := time.Now()
	t := ActiveTrade{
		Pair:               pair,
		Protocol:           snap.Protocol,
		Fork:               snap.Fork,
		FeeBps:             snap.FeeBps,
		Token0:             snap.Token0,
		Token1:             snap.Token1,
		Token0Decimals:     snap.Token0Decimals,
		Token1Decimals:     snap.Token1Decimals,
		BaseToken:          baseToken,
		BaseIsToken0:       baseIsToken0,
		PolicyID:           policyID,
		EntryPrice:         snap.LastPrice,
		EthSpent:           decimal.NewFromFloat(ethAmount),
		TokensBought:       decimal.NewFromFloat(result.ReadableOut),
		TokensInPossession: decimal.NewFromFloat(result.ReadableOut),
		TokensRawHex:       result.AmountOutRaw.Text(16),
		CurrentPrice:       snap.LastPrice,
		MinPriceSinceEntry: snap.LastPrice,
		MaxPriceSinceEntry: snap.LastPrice,
		OpenedAt:           now,
	}

	m.mu.Lock()
	m.active[pair] = t
	m.mu.Unlock()

	m.recordFill(FillRecord{Time: now, Status: "ok", Type: "buy", Symbol: snap.Symbol, Pair: pair, PolicyID: policyID, ActionPercent: actionPercent, EthAmount: ethAmount, TokenAmount: result.ReadableOut})
	m.metrics.EntriesPlaced.Inc()
	m.saveSnapshotNow()
	m.enqueueFill(pair, snap.Symbol, policyID, "buy", "ok", actionPercent, ethAmount, result.ReadableOut, "")
}

// exitTrade implements spec §4.6's Exit steps: re-reads the on-chain
// balance, computes sell_raw from actionPercent, and either partially
// sells (trade stays open) or fully sells (trade closes).
func (m *Manager) exitTrade(ctx context.Context, snap aggregation.PairSnapshot, t ActiveTrade, actionPercent int, reason CloseReason) {
	pair := t.Pair
	m.lock(pair)
	defer m.unlock(pair)

	tokenOut := common.HexToAddress(t.Token1)
	tokenOutDecimals := t.Token1Decimals
	if !t.BaseIsToken0 {
		tokenOut = common.HexToAddress(t.Token0)
		tokenOutDecimals = t.Token0Decimals
	}

	balanceRaw, err := m.chain.BalanceOf(ctx, tokenOut, m.chain.Address())
	if err != nil {
		m.recordFill(FillRecord{Time: time.Now(), Status: "error", Type: "sell", Symbol: snap.Symbol, Pair: pair, PolicyID: t.PolicyID, ActionPercent: actionPercent, Error: err.Error()})
		return
	}
	if balanceRaw.Sign() == 0 {
		m.archiveZeroBalance(t)
		return
	}

	pct := actionPercent
	if pct > 100 {
		pct = 100
	}
	sellRaw := new(big.Int).Div(new(big.Int).Mul(balanceRaw, big.NewInt(int64(pct))), big.NewInt(100))
	if sellRaw.Sign() == 0 {
		return
	}

	spender, err := m.selectSpender(snap)
	if err != nil {
		m.recordFill(FillRecord{Time: time.Now(), Status: "error", Type: "sell", Symbol: snap.Symbol, Pair: pair, PolicyID: t.PolicyID, ActionPercent: actionPercent, Error: err.Error()})
		return
	}
	if err := m.ensureApprovals(ctx, snap, tokenOut, spender, sellRaw); err != nil {
		m.recordFill(FillRecord{Time: time.Now(), Status: "error", Type: "sell", Symbol: snap.Symbol, Pair: pair, PolicyID: t.PolicyID, ActionPercent: actionPercent, Error: err.Error()})
		return
	}

	result := m.swaps.Swap(ctx, router.Request{
		Pair:         snap,
		AmountIn:     sellRaw,
		IsToken0In:   !t.BaseIsToken0,
		MinAmountOut: big.NewInt(0),
		Action:       router.Sell,
	})
	if !result.Success {
		m.recordFill(FillRecord{Time: time.Now(), Status: "error", Type: "sell", Symbol: snap.Symbol, Pair: pair, PolicyID: t.PolicyID, ActionPercent: actionPercent, Error: result.Error})
		m.metrics.ExitsFailed.Inc()
		return
	}

	t.EthSold = t.EthSold.Add(decimal.NewFromFloat(result.ReadableOut))

	if pct >= 100 {
		m.closeTrade(t, snap.LastPrice, reason)
	} else {
		remainingRaw := new(big.Int).Sub(balanceRaw, sellRaw)
		t.TokensInPossession = rawToReadable(remainingRaw, tokenOutDecimals)
		t.TokensRawHex = remainingRaw.Text(16)
		t.CurrentPrice = snap.LastPrice
		m.mu.Lock()
		m.active[pair] = t
		m.mu.Unlock()
	}

	m.recordFill(FillRecord{Time: time.Now(), Status: "ok", Type: "sell", Symbol: snap.Symbol, Pair: pair, PolicyID: t.PolicyID, ActionPercent: actionPercent, TokenAmount: result.ReadableOut})
	m.metrics.ExitsPlaced.Inc()
	m.saveSnapshotNow()
	m.enqueueFill(pair, snap.Symbol, t.PolicyID, "sell", "ok", actionPercent, 0, result.ReadableOut, "")
}

func (m *Manager) closeTrade(t ActiveTrade, exitPrice float64, reason CloseReason) {
	pnl := t.EthSold.Sub(t.EthSpent)
	pct, _ := pnlPercent(pnl, t.EthSpent)
	closed := InactiveTrade{
		ActiveTrade:    t,
		ExitPrice:      exitPrice,
		ClosedAt:       time.Now(),
		RealizedPnLEth: pnl,
		RealizedPnLPct: pct,
		CloseReason:    reason,
	}
	m.mu.Lock()
	delete(m.active, t.Pair)
	m.inactive = append(m.inactive, closed)
	m.mu.Unlock()

	if m.telegram != nil {
		_ = m.telegram.NotifyTradeClosed(context.Background(), t.Pair, string(reason), pnl.String())
	}
}

func (m *Manager) archiveZeroBalance(t ActiveTrade) {
	m.closeTrade(t, t.CurrentPrice, CloseReasonZeroBalance)
	m.metrics.ReconciliationDrift.Inc()
	if m.telegram != nil {
		_ = m.telegram.NotifyReconciliationDrift(context.Background(), t.Pair)
	}
	m.saveSnapshotNow()
}

func (m *Manager) selectSpender(snap aggregation.PairSnapshot) (common.Address, error) {
	var forkName string
	switch snap.Protocol {
	case "V4":
		forkName = "v4"
	case "V3":
		forkName = snap.Fork
		if forkName == "" {
			forkName = "uniswap_v3"
		}
	default:
		forkName = "v2"
	}
	fork, ok := m.registry.Fork(snap.ChainTag, forkName)
	if !ok {
		return common.Address{}, fmt.Errorf("trade: no fork addresses for chain %q fork %q", snap.ChainTag, forkName)
	}
	switch snap.Protocol {
	case "V4":
		if fork.Permit2 == "" {
			return common.Address{}, fmt.Errorf("trade: no permit2 configured for chain %q", snap.ChainTag)
		}
		return common.HexToAddress(fork.Permit2), nil
	case "V3":
		if fork.V3Router == "" {
			return common.Address{}, fmt.Errorf("trade: no v3 router configured for chain %q fork %q", snap.ChainTag, forkName)
		}
		return common.HexToAddress(fork.V3Router), nil
	default:
		if fork.V2SwapperProxy == "" {
			return common.Address{}, fmt.Errorf("trade: no v2 swapper proxy configured for chain %q", snap.ChainTag)
		}
		return common.HexToAddress(fork.V2SwapperProxy), nil
	}
}

// ensureApprovals wires approval.Manager per spec §4.2/§4.6: ERC-20
// allowance to the resolved spender, plus the Permit2 hop when the pair
// routes through V4.
func (m *Manager) ensureApprovals(ctx context.Context, snap aggregation.PairSnapshot, token, spender common.Address, amount *big.Int) error {
	if snap.Protocol == "V4" {
		fork, ok := m.registry.Fork(snap.ChainTag, "v4")
		if !ok || fork.V4UniversalRtr == "" {
			return fmt.Errorf("trade: no universal router configured for chain %q", snap.ChainTag)
		}
		universalRouter := common.HexToAddress(fork.V4UniversalRtr)
		return m.approval.EnsurePermit2Approval(ctx, token, spender, universalRouter, amount)
	}
	return m.approval.EnsureERC20Approval(ctx, token, spender, amount)
}

func (m *Manager) lock(pair string) {
	m.mu.Lock()
	m.locks[pair] = true
	m.mu.Unlock()
}

// tryLock atomically acquires the per-pair lock, returning false if it
// is already held. Used to dispatch at most one action task per pair
// (spec §5) without a check-then-spawn race between the caller and the
// goroutine it launches.
func (m *Manager) tryLock(pair string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks[pair] {
		return false
	}
	m.locks[pair] = true
	return true
}

func (m *Manager) unlock(pair string) {
	m.mu.Lock()
	delete(m.locks, pair)
	m.mu.Unlock()
}

func (m *Manager) recordFill(rec FillRecord) {
	if err := m.fills.append(rec); err != nil && m.log != nil {
		m.log.Warn("trade log append failed", zap.String("category", "persistence"), zap.Error(err))
	}
}

func (m *Manager) enqueueFill(pair, symbol, policyID, kind, status string, actionPercent int, eth, tokens float64, errMsg string) {
	if m.tsWriter == nil {
		return
	}
	m.tsWriter.EnqueueFill(timescale.TradeFill{
		Time:          time.Now(),
		Pair:          pair,
		Symbol:        symbol,
		PolicyID:      policyID,
		Type:          kind,
		Status:        status,
		ActionPercent: actionPercent,
		EthAmount:     eth,
		TokenAmount:   tokens,
		Error:         errMsg,
	})
}

// resolveBaseToken picks whichever of token0/token1 matches the chain's
// base-token allowlist first, trying candidates in the registry's
// configured priority order (spec's {ZORA, CLANKER} order) rather than
// always favoring token0 when both sides qualify.
func resolveBaseToken(snap aggregation.PairSnapshot, registry *chainset.Registry) (string, bool) {
	for _, candidate := range registry.BaseTokens(snap.ChainTag) {
		if equalFold(candidate, snap.Token0) {
			return snap.Token0, true
		}
		if equalFold(candidate, snap.Token1) {
			return snap.Token1, false
		}
	}
	weth := registry.WETH(snap.ChainTag)
	if weth != "" && equalFold(weth, snap.Token0) {
		return snap.Token0, true
	}
	return weth, false
}

func equalFold(a, b string) bool {
	return len(a) == len(b) && common.HexToAddress(a) == common.HexToAddress(b)
}

func ethToWei(eth float64) *big.Int {
	f := new(big.Float).Mul(big.NewFloat(eth), big.NewFloat(1e18))
	out, _ := f.Int(nil)
	return out
}

func rawToReadable(raw *big.Int, decimals int) decimal.Decimal {
	d := decimal.NewFromBigInt(raw, 0)
	return d.Shift(int32(-decimals))
}
