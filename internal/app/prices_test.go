package app

import (
	"math/big"
	"testing"
)

func TestPriceCacheSetAndSnapshot(t *testing.T) {
	c := newPriceCache()
	c.set(map[string]float64{"ETH": 3000, "ZORA": 0.01})
	snap := c.snapshot()
	if snap["ETH"] != 3000 || snap["ZORA"] != 0.01 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	c.set(map[string]float64{"ETH": 3100})
	snap2 := c.snapshot()
	if snap2["ETH"] != 3100 {
		t.Fatalf("expected update to persist, got %+v", snap2)
	}
	if snap2["ZORA"] != 0.01 {
		t.Fatalf("expected prior key to survive partial update, got %+v", snap2)
	}
}

func TestWeiToEth(t *testing.T) {
	oneEth := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	if got := weiToEth(oneEth); got != 1.0 {
		t.Fatalf("expected 1.0, got %v", got)
	}
	half := new(big.Int).Div(oneEth, big.NewInt(2))
	if got := weiToEth(half); got != 0.5 {
		t.Fatalf("expected 0.5, got %v", got)
	}
}
