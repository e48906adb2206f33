package trade

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

const reconcileInterval = 5 * time.Minute

// Reconcile runs on startup (after loading persisted trades) and then
// every 5 minutes (spec §4.6): for each ActiveTrade, fetch the on-chain
// token balance; zero balance archives the trade, otherwise
// tokens_in_possession is refreshed from the chain value.
func (m *Manager) Reconcile(ctx context.Context) {
	m.mu.RLock()
	trades := make([]ActiveTrade, 0, len(m.active))
	for _, t := range m.active {
		trades = append(trades, t)
	}
	m.mu.RUnlock()

	changed := false
	for _, t := range trades {
		if m.Locked(t.Pair) {
			continue
		}
		tokenOut := common.HexToAddress(t.Token1)
		tokenOutDecimals := t.Token1Decimals
		if !t.BaseIsToken0 {
			tokenOut = common.HexToAddress(t.Token0)
			tokenOutDecimals = t.Token0Decimals
		}
		balanceRaw, err := m.chain.BalanceOf(ctx, tokenOut, m.chain.Address())
		if err != nil {
			if m.log != nil {
				m.log.Warn("reconciliation balance read failed", zap.String("pair", t.Pair), zap.Error(err))
			}
			continue
		}
		if balanceRaw.Sign() == 0 {
			m.archiveZeroBalance(t)
			changed = true
			continue
		}
		readable := rawToReadable(balanceRaw, tokenOutDecimals)
		if !readable.Equal(t.TokensInPossession) {
			t.TokensInPossession = readable
			t.TokensRawHex = balanceRaw.Text(16)
			if snap, ok := m.feed.Snapshot(t.Pair); ok {
				t.CurrentPrice = snap.LastPrice
			}
			m.mu.Lock()
			m.active[t.Pair] = t
			m.mu.Unlock()
			changed = true
			m.metrics.ReconciliationDrift.Inc()
		}
	}
	if changed {
		m.saveSnapshotNow()
	}
}

// RunReconciliation starts the periodic reconciliation task.
func (m *Manager) RunReconciliation(ctx context.Context) {
	ticker := time.NewTicker(reconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Reconcile(ctx)
		}
	}
}
