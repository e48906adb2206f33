package policy

import (
	"math"
	"testing"

	"evm-swap-agent/internal/aggregation"
)

func TestClampMapsPerSpecI9(t *testing.T) {
	cases := []struct {
		in   any
		want int
	}{
		{false, 0},
		{0, 0},
		{50, 50},
		{100, 100},
		{true, 100},
		{150, 100},
		{-10, 0},
		{math.NaN(), 0},
	}
	for _, c := range cases {
		if got := clamp(c.in); got != c.want {
			t.Fatalf("clamp(%v) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestEvaluateEntryPredicateFires(t *testing.T) {
	sandbox := NewSandbox(nil)
	ctx := Context{
		Pair:  aggregation.PairSnapshot{PairAddress: "0xabc"},
		Group: aggregation.Group{PriceChangePct: 60},
	}
	action := sandbox.Evaluate(Entry, "breakout", "group.price_change_pct > 50 ? 100 : 0", ctx)
	if action != 100 {
		t.Fatalf("expected action 100, got %d", action)
	}
}

func TestEvaluateDisablesOnCompileError(t *testing.T) {
	sandbox := NewSandbox(nil)
	ctx := Context{Pair: aggregation.PairSnapshot{PairAddress: "0xabc"}}
	action := sandbox.Evaluate(Entry, "broken", "this is not valid expr (((", ctx)
	if action != 0 {
		t.Fatalf("expected 0 action on compile failure, got %d", action)
	}
	// second call must short-circuit via the disabled cache, not recompile
	action = sandbox.Evaluate(Entry, "broken", "this is not valid expr (((", ctx)
	if action != 0 {
		t.Fatalf("expected 0 action on cached compile failure, got %d", action)
	}
}

func TestEvaluateCustomDataPersistsAcrossCalls(t *testing.T) {
	sandbox := NewSandbox(nil)
	ctx := Context{Pair: aggregation.PairSnapshot{PairAddress: "0xabc"}}
	sandbox.Evaluate(Entry, "writer", `setCustom("seen", true)`, ctx)
	action := sandbox.Evaluate(Entry, "reader", `custom_data["seen"] == true ? 100 : 0`, ctx)
	if action != 100 {
		t.Fatalf("expected custom_data to persist across evaluations, got action %d", action)
	}
}
