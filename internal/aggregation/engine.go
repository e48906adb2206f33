// Package aggregation maintains rolling per-pair time-windowed state
// (PairState/Group) from the feed's noisy push stream (spec §4.4).
package aggregation

import (
	"context"
	"strings"
	"sync"
	"time"

	"evm-swap-agent/internal/feed"

	"go.uber.org/zap"
)

const (
	cleanupInterval = 15 * time.Minute
	staleAfter      = 30 * time.Minute
)

// Filters selects which pairs are accepted, per spec §4.4.
type Filters struct {
	OnlyPairs    []string
	ExcludePairs []string
}

// TradeGate lets the engine ask the trade lifecycle whether a pair is
// mid-action (execution lock) or already has an open position, without
// the aggregation engine depending on the trade package's types.
type TradeGate interface {
	Locked(pair string) bool
	HasActiveTrade(pair string) bool
}

// Dispatcher receives a pair's latest snapshot for policy evaluation.
// isExit is true when the pair already has an ActiveTrade.
type Dispatcher interface {
	Evaluate(snapshot PairSnapshot, isExit bool)
}

// Engine owns the pair/group state. Ingest is the only entry point that
// mutates it and must be called from a single goroutine (the feed
// dispatch callback) to satisfy spec §5's ordering guarantee; snapshot
// reads are mutex-guarded so other tasks (control API, reconciliation)
// can query safely.
type Engine struct {
	mu     sync.RWMutex
	pairs  map[string]*PairState
	log    *zap.Logger

	filters       func() Filters
	groupInterval func() int
	maxGroups     func() int

	gate     TradeGate
	dispatch Dispatcher
}

func New(log *zap.Logger, filters func() Filters, groupInterval func() int, maxGroups func() int, gate TradeGate, dispatch Dispatcher) *Engine {
	return &Engine{
		pairs:         make(map[string]*PairState),
		log:           log,
		filters:       filters,
		groupInterval: groupInterval,
		maxGroups:     maxGroups,
		gate:          gate,
		dispatch:      dispatch,
	}
}

// Ingest applies one normalized market update: updates or creates the
// PairState and its current Group, then dispatches to policy evaluation
// if the pair's execution lock is free (spec §4.4 steps 1-5).
func (e *Engine) Ingest(update feed.MarketUpdate) {
	if !e.accepts(update.Pair) {
		return
	}
	if update.LastPrice <= 0 {
		return
	}

	e.mu.Lock()
	pair := e.pairs[update.Pair]
	if pair == nil {
		pair = &PairState{
			PairAddress:    update.Pair,
			Token0:         update.Token0,
			Token1:         update.Token1,
			Token0Decimals: update.Token0Decimals,
			Token1Decimals: update.Token1Decimals,
			Protocol:       resolveProtocol(update),
			Fork:           update.Fork,
			FeeBps:         update.FeeBps,
			TickSpacing:    update.TickSpacing,
			HasTickSpacing: update.HasTickSpacing,
			ChainTag:       update.ChainTag,
			FirstSeenTs:    time.Now(),
			groups:         make(map[int64]*Group),
		}
		e.pairs[update.Pair] = pair
	}

	pair.LastPrice = update.LastPrice
	pair.Liquidity = update.Liquidity
	if update.Symbol != "" {
		pair.Symbol = update.Symbol
	}
	if update.Name != "" {
		pair.Name = update.Name
	}
	if update.FeeBps != 0 {
		pair.FeeBps = update.FeeBps
	}
	if update.Fork != "" {
		pair.Fork = update.Fork
	}
	if update.HasTickSpacing {
		pair.TickSpacing = update.TickSpacing
		pair.HasTickSpacing = true
	}
	pair.BuyTaxBps = update.BuyTaxBps
	pair.SellTaxBps = update.SellTaxBps

	groupInterval := e.groupInterval()
	if groupInterval <= 0 {
		groupInterval = 1
	}
	groupKey := (update.MinuteKey / int64(groupInterval)) * int64(groupInterval)

	group, exists := pair.groups[groupKey]
	if !exists {
		group = &Group{
			GroupKey:   groupKey,
			FirstPrice: update.LastPrice,
			MinPrice:   update.LastPrice,
			MaxPrice:   update.LastPrice,
		}
		pair.groups[groupKey] = group
		pair.groupOrder = append(pair.groupOrder, groupKey)
	}

	group.LastPrice = update.LastPrice
	if update.LastPrice < group.MinPrice {
		group.MinPrice = update.LastPrice
	}
	if update.LastPrice > group.MaxPrice {
		group.MaxPrice = update.LastPrice
	}
	group.BuyVolume += update.BuyVolume
	group.SellVolume += update.SellVolume
	group.TotalVolume = group.BuyVolume + group.SellVolume
	if update.BuyVolume > 0 {
		group.BuyCount++
	}
	if update.SellVolume > 0 {
		group.SellCount++
	}
	group.PriceChange = group.LastPrice - group.FirstPrice
	if group.FirstPrice != 0 {
		group.PriceChangePct = group.PriceChange / group.FirstPrice * 100
	}
	if pair.Liquidity > 0 {
		group.Volatility = group.TotalVolume / pair.Liquidity * 100
	}
	group.UpdatedAt = time.Now()

	// Tracks the group this call touched, not the newest groupKey ever
	// seen — an out-of-order event can update an older group without
	// that group becoming the newest entry in groupOrder (spec §4.7).
	pair.LastGroupKey = groupKey

	snapshot := pair.snapshot()
	locked := e.gate != nil && e.gate.Locked(update.Pair)
	e.mu.Unlock()

	if locked || e.dispatch == nil {
		return
	}
	hasTrade := e.gate != nil && e.gate.HasActiveTrade(update.Pair)
	e.dispatch.Evaluate(snapshot, hasTrade)
}

func (e *Engine) accepts(pair string) bool {
	if pair == "" {
		return false
	}
	filters := e.filters()
	if len(filters.OnlyPairs) > 0 && !containsFold(filters.OnlyPairs, pair) {
		return false
	}
	if containsFold(filters.ExcludePairs, pair) {
		return false
	}
	return true
}

func containsFold(list []string, target string) bool {
	for _, item := range list {
		if strings.EqualFold(item, target) {
			return true
		}
	}
	return false
}

// resolveProtocol trusts the feed's own protocol tag; if the feed omits
// it, falls back to a tick-spacing/fork heuristic rather than dropping
// the event, since V2-style pairs never carry a tick spacing.
func resolveProtocol(update feed.MarketUpdate) string {
	switch update.Protocol {
	case "V2", "V3", "V4":
		return update.Protocol
	}
	if update.HasTickSpacing || update.Fork == "aerodrome" || update.Fork == "uniswap_v3" {
		return "V3"
	}
	return "V2"
}

// Snapshot returns a copy of a pair's current state, or false if unknown.
func (e *Engine) Snapshot(pair string) (PairSnapshot, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.pairs[pair]
	if !ok {
		return PairSnapshot{}, false
	}
	return p.snapshot(), true
}

// Known reports whether the feed has ever delivered an event for pair.
func (e *Engine) Known(pair string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.pairs[pair]
	return ok
}

// PairCount returns the number of tracked pairs, for /status.
func (e *Engine) PairCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.pairs)
}

// RunRetention starts the periodic cleanup task (spec §4.4): every 15
// minutes, trim each pair's groups to the newest max_groups entries and
// evict pairs stale ≥30 minutes with no active trade.
func (e *Engine) RunRetention(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.cleanup()
		}
	}
}

func (e *Engine) cleanup() {
	e.mu.Lock()
	defer e.mu.Unlock()
	maxGroups := e.maxGroups()
	if maxGroups <= 0 {
		maxGroups = 60
	}
	now := time.Now()
	for pairAddr, pair := range e.pairs {
		if len(pair.groupOrder) > maxGroups {
			drop := len(pair.groupOrder) - maxGroups
			for _, key := range pair.groupOrder[:drop] {
				delete(pair.groups, key)
			}
			pair.groupOrder = pair.groupOrder[drop:]
		}
		stale := true
		for _, key := range pair.groupOrder {
			if g, ok := pair.groups[key]; ok && now.Sub(g.UpdatedAt) < staleAfter {
				stale = false
				break
			}
		}
		if len(pair.groupOrder) == 0 {
			stale = now.Sub(pair.FirstSeenTs) >= staleAfter
		}
		if stale && (e.gate == nil || !e.gate.HasActiveTrade(pairAddr)) {
			delete(e.pairs, pairAddr)
			if e.log != nil {
				e.log.Debug("pair evicted", zap.String("pair", pairAddr))
			}
		}
	}
}
