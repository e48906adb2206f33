package trade

import (
	"testing"

	"evm-swap-agent/internal/aggregation"
	"evm-swap-agent/internal/config"
	"evm-swap-agent/internal/policy"
)

func TestLockedAndHasActiveTrade(t *testing.T) {
	m := &Manager{
		active: map[string]ActiveTrade{"0xpair": {Pair: "0xpair"}},
		locks:  map[string]bool{"0xlocked": true},
	}
	if !m.Locked("0xlocked") {
		t.Fatalf("expected 0xlocked to be locked")
	}
	if m.Locked("0xpair") {
		t.Fatalf("expected 0xpair to be unlocked")
	}
	if !m.HasActiveTrade("0xpair") {
		t.Fatalf("expected 0xpair to have an active trade")
	}
	if m.HasActiveTrade("0xother") {
		t.Fatalf("expected 0xother to have no active trade")
	}
}

func TestPauseSuppressesEvaluate(t *testing.T) {
	// With deps left nil, any path beyond the paused check would panic
	// on a nil dereference, proving Evaluate returns before touching them.
	m := &Manager{}
	m.SetPaused(true)
	m.Evaluate(aggregation.PairSnapshot{PairAddress: "0xpair"}, false)
}

// TestMaxPositionsGuardsEntry exercises invariant I4: no new entry is
// attempted once len(active) >= max_positions, even when an entry
// predicate would otherwise fire. Nil chain/router/sandbox deps mean any
// attempt to execute past the guard panics on a nil dereference.
func TestMaxPositionsGuardsEntry(t *testing.T) {
	m := &Manager{
		active: map[string]ActiveTrade{
			"0xa": {Pair: "0xa"},
			"0xb": {Pair: "0xb"},
		},
		locks: map[string]bool{},
	}
	cfg := config.Config{
		MaxPositions: 2,
		Policies:     []config.Policy{{ID: "p1", EntryPredicate: "true"}},
	}
	snap := aggregation.PairSnapshot{PairAddress: "0xnew"}
	group := aggregation.Group{}
	m.evaluateEntry(cfg, snap, group, policy.Context{})
}

func TestLockedPairGuardsEntry(t *testing.T) {
	m := &Manager{
		active: map[string]ActiveTrade{},
		locks:  map[string]bool{"0xpair": true},
	}
	cfg := config.Config{
		MaxPositions: 5,
		Policies:     []config.Policy{{ID: "p1", EntryPredicate: "true"}},
	}
	snap := aggregation.PairSnapshot{PairAddress: "0xpair"}
	m.evaluateEntry(cfg, snap, aggregation.Group{}, policy.Context{})
}

func TestActiveCount(t *testing.T) {
	m := &Manager{active: map[string]ActiveTrade{"0xa": {}, "0xb": {}}}
	if m.ActiveCount() != 2 {
		t.Fatalf("expected 2, got %d", m.ActiveCount())
	}
}
