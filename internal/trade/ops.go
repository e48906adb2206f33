package trade

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

var (
	ErrTradeNotFound  = errors.New("trade: no active trade on pair")
	ErrTradeLocked    = errors.New("trade: pair execution lock held")
	ErrTradeExists    = errors.New("trade: pair already has an active trade")
	ErrPairUnknown    = errors.New("trade: pair unknown to feed")
	ErrInvalidPercent = errors.New("trade: percent must be in (0,100]")
)

// Snapshot returns a copy of the current persisted-shape state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	active := make(map[string]ActiveTrade, len(m.active))
	for k, v := range m.active {
		active[k] = v
	}
	inactive := make([]InactiveTrade, len(m.inactive))
	copy(inactive, m.inactive)
	return Snapshot{
		ActiveTrades:   active,
		InactiveTrades: inactive,
		Summary:        computeSummary(active, inactive),
	}
}

// FlushSnapshot forces an immediate snapshot save, used on shutdown.
func (m *Manager) FlushSnapshot() {
	m.saveSnapshotNow()
}

func (m *Manager) saveSnapshotNow() {
	snap := m.Snapshot()
	if err := saveSnapshot(m.snapshotPath, snap); err != nil && m.log != nil {
		m.log.Warn("snapshot save failed", zap.String("category", "persistence"), zap.Error(err))
	}
	m.mu.Lock()
	m.lastSnapshotSave = time.Now()
	m.mu.Unlock()
}

// RunSnapshotTimer persists the snapshot every 60s regardless of
// whether a state change happened in between (spec §4.6).
func (m *Manager) RunSnapshotTimer(ctx context.Context) {
	ticker := time.NewTicker(snapshotSaveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.saveSnapshotNow()
		}
	}
}

// Close flushes the trade log file.
func (m *Manager) Close() error {
	return m.fills.close()
}

// ManualSell implements POST /sell (spec §4.8): 404 if no trade, 409 if
// locked.
func (m *Manager) ManualSell(ctx context.Context, pair string, percent float64) error {
	if percent <= 0 || percent > 100 {
		return ErrInvalidPercent
	}
	if m.Locked(pair) {
		return ErrTradeLocked
	}
	m.mu.RLock()
	t, ok := m.active[pair]
	m.mu.RUnlock()
	if !ok {
		return ErrTradeNotFound
	}
	pairSnap, ok := m.feed.Snapshot(pair)
	if !ok {
		return ErrPairUnknown
	}
	m.exitTrade(ctx, pairSnap, t, int(percent), CloseReasonManual)
	return nil
}

// SellAll triggers a 100% sell on every open position (spec §4.8's
// POST /sell-all), returning per-pair errors (nil on success).
func (m *Manager) SellAll(ctx context.Context) map[string]error {
	m.mu.RLock()
	pairs := make([]string, 0, len(m.active))
	for pair := range m.active {
		pairs = append(pairs, pair)
	}
	m.mu.RUnlock()

	results := make(map[string]error, len(pairs))
	for _, pair := range pairs {
		results[pair] = m.ManualSell(ctx, pair, 100)
	}
	return results
}

// ManualBuy implements POST /buy (spec §4.8): 409 if already open, 404
// if the pair is unknown to the feed.
func (m *Manager) ManualBuy(ctx context.Context, pair string, ethAmount float64) error {
	if m.HasActiveTrade(pair) {
		return ErrTradeExists
	}
	if !m.feed.Known(pair) {
		return ErrPairUnknown
	}
	snap, ok := m.feed.Snapshot(pair)
	if !ok {
		return ErrPairUnknown
	}
	m.executeEntry(ctx, snap, "manual", 100, ethAmount)
	return nil
}
