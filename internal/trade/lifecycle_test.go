package trade

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"

	"evm-swap-agent/internal/aggregation"
	"evm-swap-agent/internal/chainset"
)

func TestEthToWei(t *testing.T) {
	got := ethToWei(1.5)
	want := new(big.Int)
	want.SetString("1500000000000000000", 10)
	if got.Cmp(want) != 0 {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestRawToReadable(t *testing.T) {
	raw := new(big.Int)
	raw.SetString("1230000", 10)
	got := rawToReadable(raw, 6)
	if !got.Equal(decimal.NewFromFloat(1.23)) {
		t.Fatalf("expected 1.23, got %s", got)
	}
}

const (
	testWETH    = "0x4200000000000000000000000000000000000006"
	testZora    = "0x1111111111111111111111111111111111111111"
	testClanker = "0x5555555555555555555555555555555555555555"
	testOther0  = "0x2222222222222222222222222222222222222222"
	testOther1  = "0x3333333333333333333333333333333333333333"
)

func registryWithBaseTokens() *chainset.Registry {
	return &chainset.Registry{Chains: map[string]chainset.ChainSet{
		"base": {
			ChainTag:   "base",
			WETH:       testWETH,
			BaseTokens: []string{testZora, testClanker},
		},
	}}
}

func TestResolveBaseTokenToken0IsBase(t *testing.T) {
	reg := registryWithBaseTokens()
	snap := aggregation.PairSnapshot{ChainTag: "base", Token0: testZora, Token1: testOther0}
	token, isToken0 := resolveBaseToken(snap, reg)
	if token != snap.Token0 || !isToken0 {
		t.Fatalf("expected token0 to resolve as base, got token=%s isToken0=%v", token, isToken0)
	}
}

func TestResolveBaseTokenToken1IsBase(t *testing.T) {
	reg := registryWithBaseTokens()
	snap := aggregation.PairSnapshot{ChainTag: "base", Token0: testOther0, Token1: testZora}
	token, isToken0 := resolveBaseToken(snap, reg)
	if token != snap.Token1 || isToken0 {
		t.Fatalf("expected token1 to resolve as base, got token=%s isToken0=%v", token, isToken0)
	}
}

// TestResolveBaseTokenRespectsPriorityOrder covers a pair where both
// sides are configured base tokens (e.g. a ZORA/CLANKER pair): the
// registry's priority order, not token position, must decide the base
// leg.
func TestResolveBaseTokenRespectsPriorityOrder(t *testing.T) {
	reg := registryWithBaseTokens()
	// token0 is CLANKER (lower priority), token1 is ZORA (higher priority).
	snap := aggregation.PairSnapshot{ChainTag: "base", Token0: testClanker, Token1: testZora}
	token, isToken0 := resolveBaseToken(snap, reg)
	if token != snap.Token1 || isToken0 {
		t.Fatalf("expected token1 (ZORA, higher priority) to win, got token=%s isToken0=%v", token, isToken0)
	}
}

func TestResolveBaseTokenFallsBackToWETH(t *testing.T) {
	reg := registryWithBaseTokens()
	snap := aggregation.PairSnapshot{ChainTag: "base", Token0: testWETH, Token1: testOther0}
	token, isToken0 := resolveBaseToken(snap, reg)
	if token != snap.Token0 || !isToken0 {
		t.Fatalf("expected WETH token0 to resolve as base, got token=%s isToken0=%v", token, isToken0)
	}
}

func TestResolveBaseTokenNoMatchReturnsWETHAsToken1(t *testing.T) {
	reg := registryWithBaseTokens()
	snap := aggregation.PairSnapshot{ChainTag: "base", Token0: testOther0, Token1: testOther1}
	token, isToken0 := resolveBaseToken(snap, reg)
	if isToken0 {
		t.Fatalf("expected isToken0 false when neither side matches, got true")
	}
	if token != reg.WETH("base") {
		t.Fatalf("expected fallback to registry WETH, got %s", token)
	}
}
