package feed

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// NormalizeMarketUpdate extracts a MarketUpdate from a raw marketData
// payload. Fields may live nested under "data" or flat on the payload
// itself, and may be named in either camelCase or snake_case — both
// candidates are tried in order, defensively, rather than assuming one
// wire shape.
func NormalizeMarketUpdate(payload any) (MarketUpdate, bool) {
	root, ok := toMap(payload)
	if !ok {
		return MarketUpdate{}, false
	}
	data := root
	if nested, ok := toMap(root["data"]); ok {
		data = nested
	}

	pair := strings.ToLower(stringFromMap(data, "pairAddress", "pair_address", "pair"))
	lastPrice := floatFromMap(data, "lastPrice", "last_price", "price")
	if pair == "" || lastPrice <= 0 {
		return MarketUpdate{}, false
	}

	minuteKey := intFromMap(data, "minuteKey", "minute_key")
	if minuteKey == 0 {
		minuteKey = int(time.Now().UnixMilli() / 60_000)
	}

	tickSpacing, hasTickSpacing := 0, false
	if v, ok := data["tickSpacing"]; ok {
		tickSpacing, hasTickSpacing = intFromAny(v, 0), true
	} else if v, ok := data["tick_spacing"]; ok {
		tickSpacing, hasTickSpacing = intFromAny(v, 0), true
	}

	update := MarketUpdate{
		Pair:           pair,
		ChainTag:       stringFromMap(data, "chainTag", "chain_tag"),
		Protocol:       strings.ToUpper(stringFromMap(data, "protocol")),
		LastPrice:      lastPrice,
		BuyVolume:      floatFromMap(data, "buyVolume", "buy_volume"),
		SellVolume:     floatFromMap(data, "sellVolume", "sell_volume"),
		Liquidity:      floatFromMap(data, "liquidity"),
		MinuteKey:      int64(minuteKey),
		Token0:         strings.ToLower(stringFromMap(data, "token0", "token0Address", "token0_address")),
		Token1:         strings.ToLower(stringFromMap(data, "token1", "token1Address", "token1_address")),
		Token0Decimals: intFromMap(data, "token0Decimals", "token0_decimals"),
		Token1Decimals: intFromMap(data, "token1Decimals", "token1_decimals"),
		FeeBps:         intFromMap(data, "feeBps", "fee_bps", "fee"),
		TickSpacing:    tickSpacing,
		HasTickSpacing: hasTickSpacing,
		Fork:           strings.ToLower(stringFromMap(data, "fork", "protocolFork", "protocol_fork")),
		Symbol:         stringFromMap(data, "symbol"),
		Name:           stringFromMap(data, "name"),
		BuyTaxBps:      floatFromMap(data, "buyTax", "buy_tax"),
		SellTaxBps:     floatFromMap(data, "sellTax", "sell_tax"),
	}
	return update, true
}

// NormalizeRatesUpdate extracts a per-asset USD price map from a
// usdRates_update payload, tolerating the same nested/flat shapes.
func NormalizeRatesUpdate(payload any) (RatesUpdate, bool) {
	root, ok := toMap(payload)
	if !ok {
		return RatesUpdate{}, false
	}
	data := root
	if nested, ok := toMap(root["data"]); ok {
		data = nested
	}
	if rates, ok := toMap(data["rates"]); ok {
		data = rates
	}
	result := make(map[string]float64, len(data))
	for key, v := range data {
		if f, ok := floatFromAny(v); ok {
			result[strings.ToUpper(key)] = f
		}
	}
	if len(result) == 0 {
		return RatesUpdate{}, false
	}
	return RatesUpdate{Rates: result}, true
}

func toMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func stringFromMap(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := m[key]; ok {
			if s := stringFromAny(v); s != "" {
				return s
			}
		}
	}
	return ""
}

func stringFromAny(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func floatFromMap(m map[string]any, keys ...string) float64 {
	for _, key := range keys {
		if v, ok := m[key]; ok {
			if f, ok := floatFromAny(v); ok {
				return f
			}
		}
	}
	return 0
}

func floatFromAny(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case int32:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func intFromMap(m map[string]any, keys ...string) int {
	for _, key := range keys {
		if v, ok := m[key]; ok {
			return intFromAny(v, 0)
		}
	}
	return 0
}

func intFromAny(v any, fallback int) int {
	if f, ok := floatFromAny(v); ok {
		return int(f)
	}
	return fallback
}
