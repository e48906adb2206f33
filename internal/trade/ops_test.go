package trade

import (
	"context"
	"errors"
	"testing"
)

func TestManualSellRejectsInvalidPercent(t *testing.T) {
	m := &Manager{}
	if err := m.ManualSell(context.Background(), "0xpair", 0); !errors.Is(err, ErrInvalidPercent) {
		t.Fatalf("expected ErrInvalidPercent for 0, got %v", err)
	}
	if err := m.ManualSell(context.Background(), "0xpair", 101); !errors.Is(err, ErrInvalidPercent) {
		t.Fatalf("expected ErrInvalidPercent for 101, got %v", err)
	}
}

func TestManualSellNotFound(t *testing.T) {
	m := &Manager{active: map[string]ActiveTrade{}, locks: map[string]bool{}}
	err := m.ManualSell(context.Background(), "0xpair", 50)
	if !errors.Is(err, ErrTradeNotFound) {
		t.Fatalf("expected ErrTradeNotFound, got %v", err)
	}
}

func TestManualSellLocked(t *testing.T) {
	m := &Manager{
		active: map[string]ActiveTrade{"0xpair": {Pair: "0xpair"}},
		locks:  map[string]bool{"0xpair": true},
	}
	err := m.ManualSell(context.Background(), "0xpair", 50)
	if !errors.Is(err, ErrTradeLocked) {
		t.Fatalf("expected ErrTradeLocked, got %v", err)
	}
}

func TestManualBuyRejectsExisting(t *testing.T) {
	m := &Manager{active: map[string]ActiveTrade{"0xpair": {Pair: "0xpair"}}}
	err := m.ManualBuy(context.Background(), "0xpair", 0.1)
	if !errors.Is(err, ErrTradeExists) {
		t.Fatalf("expected ErrTradeExists, got %v", err)
	}
}

func TestSellAllEmpty(t *testing.T) {
	m := &Manager{active: map[string]ActiveTrade{}, locks: map[string]bool{}}
	results := m.SellAll(context.Background())
	if len(results) != 0 {
		t.Fatalf("expected no results for empty active set, got %+v", results)
	}
}
