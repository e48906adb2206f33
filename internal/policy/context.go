package policy

import (
	"evm-swap-agent/internal/aggregation"
)

// TradeView is the read-only trade-side of a PolicyContext (spec §3);
// nil on entry evaluation. Kept as an interface{}-free struct so this
// package has no import-cycle dependency on internal/trade.
type TradeView struct {
	EntryPrice         float64 `expr:"entry_price"`
	EthSpent           float64 `expr:"eth_spent"`
	EthSold            float64 `expr:"eth_sold"`
	TokensBought       float64 `expr:"tokens_bought"`
	TokensInPossession float64 `expr:"tokens_in_possession"`
	CurrentPrice       float64 `expr:"current_price"`
	PriceChangePct     float64 `expr:"price_change_pct"`
	MinPriceSinceEntry float64 `expr:"min_price_since_entry"`
	MaxPriceSinceEntry float64 `expr:"max_price_since_entry"`
	CurrentEthValue    float64 `expr:"current_eth_value"`
	PolicyID           string  `expr:"policy_id"`
}

// GasView surfaces current fee suggestions to predicates.
type GasView struct {
	MaxFeeGwei      float64 `expr:"max_fee_gwei"`
	PriorityFeeGwei float64 `expr:"priority_fee_gwei"`
}

// Context is the single opaque record passed to a predicate (spec §3,
// §4.5). CustomData/GlobalData are bound by reference: mutation through
// the registered sandbox functions persists across evaluations.
type Context struct {
	Event      aggregation.Group
	Group      aggregation.Group
	Groups     []aggregation.Group
	Pair       aggregation.PairSnapshot
	Trade      *TradeView
	Prices     map[string]float64
	Gas        GasView
	CustomData map[string]any
	GlobalData map[string]any
}
