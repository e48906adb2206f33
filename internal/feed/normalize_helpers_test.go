package feed

import "testing"

func TestNormalizeMarketUpdateNested(t *testing.T) {
	payload := map[string]any{
		"data": map[string]any{
			"pairAddress": "0xAAA",
			"lastPrice":   "1.25",
			"buyVolume":   2.0,
			"sellVolume":  1.0,
			"liquidity":   10.0,
			"minuteKey":   100,
			"token0":      "0xToken0",
			"token1":      "0xToken1",
			"fork":        "Aerodrome",
		},
	}
	update, ok := NormalizeMarketUpdate(payload)
	if !ok {
		t.Fatalf("expected update to parse")
	}
	if update.Pair != "0xaaa" {
		t.Fatalf("expected lowercased pair, got %s", update.Pair)
	}
	if update.LastPrice != 1.25 {
		t.Fatalf("expected last price 1.25, got %f", update.LastPrice)
	}
	if update.Fork != "aerodrome" {
		t.Fatalf("expected lowercased fork, got %s", update.Fork)
	}
}

func TestNormalizeMarketUpdateFlatSnakeCase(t *testing.T) {
	payload := map[string]any{
		"pair_address": "0xBBB",
		"last_price":   2.0,
		"buy_volume":   1.0,
		"sell_volume":  0.5,
		"minute_key":   200,
	}
	update, ok := NormalizeMarketUpdate(payload)
	if !ok {
		t.Fatalf("expected update to parse")
	}
	if update.Pair != "0xbbb" {
		t.Fatalf("expected pair 0xbbb, got %s", update.Pair)
	}
	if update.MinuteKey != 200 {
		t.Fatalf("expected minute key 200, got %d", update.MinuteKey)
	}
}

func TestNormalizeMarketUpdateRejectsBadEvents(t *testing.T) {
	if _, ok := NormalizeMarketUpdate(map[string]any{"last_price": 1.0}); ok {
		t.Fatalf("expected event with no pair address to be dropped")
	}
	if _, ok := NormalizeMarketUpdate(map[string]any{"pair_address": "0xaaa", "last_price": 0.0}); ok {
		t.Fatalf("expected event with non-positive price to be dropped")
	}
}

func TestNormalizeRatesUpdate(t *testing.T) {
	payload := map[string]any{
		"data": map[string]any{
			"rates": map[string]any{
				"weth": "3000.5",
				"zora": 0.01,
			},
		},
	}
	rates, ok := NormalizeRatesUpdate(payload)
	if !ok {
		t.Fatalf("expected rates to parse")
	}
	if rates.Rates["WETH"] != 3000.5 {
		t.Fatalf("expected WETH rate 3000.5, got %f", rates.Rates["WETH"])
	}
}
