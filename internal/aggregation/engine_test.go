package aggregation

import (
	"testing"

	"evm-swap-agent/internal/feed"
)

type noGate struct{}

func (noGate) Locked(string) bool         { return false }
func (noGate) HasActiveTrade(string) bool { return false }

type recordingDispatcher struct {
	calls []PairSnapshot
	exits []bool
}

func (d *recordingDispatcher) Evaluate(snapshot PairSnapshot, isExit bool) {
	d.calls = append(d.calls, snapshot)
	d.exits = append(d.exits, isExit)
}

func newTestEngine(dispatch Dispatcher, gate TradeGate) *Engine {
	filters := func() Filters { return Filters{} }
	groupInterval := func() int { return 1 }
	maxGroups := func() int { return 60 }
	return New(nil, filters, groupInterval, maxGroups, gate, dispatch)
}

func TestIngestBuildsGroupAndDispatches(t *testing.T) {
	disp := &recordingDispatcher{}
	eng := newTestEngine(disp, noGate{})

	eng.Ingest(feed.MarketUpdate{Pair: "0xabc", LastPrice: 1.0, MinuteKey: 100, BuyVolume: 1, Liquidity: 10})
	eng.Ingest(feed.MarketUpdate{Pair: "0xabc", LastPrice: 1.3, MinuteKey: 100, BuyVolume: 2, Liquidity: 10})
	eng.Ingest(feed.MarketUpdate{Pair: "0xabc", LastPrice: 1.62, MinuteKey: 101, SellVolume: 1, Liquidity: 10})

	snap, ok := eng.Snapshot("0xabc")
	if !ok {
		t.Fatalf("expected pair snapshot")
	}
	if len(snap.Groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(snap.Groups))
	}
	first := snap.Groups[0]
	// I1: min <= first <= max, min <= last <= max
	if !(first.MinPrice <= first.FirstPrice && first.FirstPrice <= first.MaxPrice) {
		t.Fatalf("I1 violated on first_price: %+v", first)
	}
	if !(first.MinPrice <= first.LastPrice && first.LastPrice <= first.MaxPrice) {
		t.Fatalf("I1 violated on last_price: %+v", first)
	}
	// I2: total = buy + sell
	if first.TotalVolume != first.BuyVolume+first.SellVolume {
		t.Fatalf("I2 violated: %+v", first)
	}
	if first.FirstPrice != 1.0 {
		t.Fatalf("expected first_price set once at 1.0, got %f", first.FirstPrice)
	}
	if len(disp.calls) != 3 {
		t.Fatalf("expected 3 dispatch calls, got %d", len(disp.calls))
	}
}

func TestIngestDropsInvalidEvents(t *testing.T) {
	disp := &recordingDispatcher{}
	eng := newTestEngine(disp, noGate{})
	eng.Ingest(feed.MarketUpdate{Pair: "", LastPrice: 1.0, MinuteKey: 1})
	eng.Ingest(feed.MarketUpdate{Pair: "0xabc", LastPrice: 0, MinuteKey: 1})
	if len(disp.calls) != 0 {
		t.Fatalf("expected no dispatch for invalid events, got %d", len(disp.calls))
	}
}

func TestIngestHonorsOnlyAndExcludeFilters(t *testing.T) {
	disp := &recordingDispatcher{}
	filters := func() Filters { return Filters{OnlyPairs: []string{"0xabc"}} }
	eng := New(nil, filters, func() int { return 1 }, func() int { return 60 }, noGate{}, disp)
	eng.Ingest(feed.MarketUpdate{Pair: "0xdef", LastPrice: 1.0, MinuteKey: 1})
	if len(disp.calls) != 0 {
		t.Fatalf("expected pair outside only_pairs to be dropped")
	}
	eng.Ingest(feed.MarketUpdate{Pair: "0xabc", LastPrice: 1.0, MinuteKey: 1})
	if len(disp.calls) != 1 {
		t.Fatalf("expected pair in only_pairs to be accepted")
	}
}

type lockedGate struct{}

func (lockedGate) Locked(string) bool         { return true }
func (lockedGate) HasActiveTrade(string) bool { return false }

func TestIngestSkipsDispatchWhenLocked(t *testing.T) {
	disp := &recordingDispatcher{}
	eng := newTestEngine(disp, lockedGate{})
	eng.Ingest(feed.MarketUpdate{Pair: "0xabc", LastPrice: 1.0, MinuteKey: 1})
	if len(disp.calls) != 0 {
		t.Fatalf("expected no dispatch while pair is locked")
	}
	if _, ok := eng.Snapshot("0xabc"); !ok {
		t.Fatalf("expected pair state to still be updated while locked")
	}
}

// TestIngestOutOfOrderEventUpdatesOlderGroup exercises spec §4.7's
// out-of-order tolerance: an event for an already-superseded groupKey
// must still have its own group, not the newest one, handed to policy
// evaluation.
func TestIngestOutOfOrderEventUpdatesOlderGroup(t *testing.T) {
	disp := &recordingDispatcher{}
	eng := newTestEngine(disp, noGate{})

	eng.Ingest(feed.MarketUpdate{Pair: "0xabc", LastPrice: 1.0, MinuteKey: 100, Liquidity: 10})
	eng.Ingest(feed.MarketUpdate{Pair: "0xabc", LastPrice: 2.0, MinuteKey: 101, Liquidity: 10})
	// Out-of-order: this event belongs to the older, already-closed group 100.
	eng.Ingest(feed.MarketUpdate{Pair: "0xabc", LastPrice: 1.5, MinuteKey: 100, Liquidity: 10})

	if len(disp.calls) != 3 {
		t.Fatalf("expected 3 dispatch calls, got %d", len(disp.calls))
	}
	last := disp.calls[2]
	group, ok := last.LatestGroup()
	if !ok {
		t.Fatalf("expected a latest group")
	}
	if group.GroupKey != 100 {
		t.Fatalf("expected LatestGroup to report the mutated group_key 100, got %d", group.GroupKey)
	}
	if group.LastPrice != 1.5 {
		t.Fatalf("expected the older group's last_price to reflect the out-of-order update, got %v", group.LastPrice)
	}
}

func TestCleanupRespectsMaxGroups(t *testing.T) {
	eng := newTestEngine(&recordingDispatcher{}, noGate{})
	for i := int64(0); i < 5; i++ {
		eng.Ingest(feed.MarketUpdate{Pair: "0xabc", LastPrice: 1.0, MinuteKey: i, Liquidity: 10})
	}
	eng.maxGroups = func() int { return 2 }
	eng.cleanup()
	snap, _ := eng.Snapshot("0xabc")
	if len(snap.Groups) > 2 {
		t.Fatalf("I3 violated: expected at most 2 groups after cleanup, got %d", len(snap.Groups))
	}
}
