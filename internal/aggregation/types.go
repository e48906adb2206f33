package aggregation

import "time"

// Group is one OHLCV-style rolling window for a pair, keyed by
// floor(minute_key / group_interval) * group_interval (spec §3).
type Group struct {
	GroupKey       int64     `expr:"group_key"`
	FirstPrice     float64   `expr:"first_price"`
	LastPrice      float64   `expr:"last_price"`
	MinPrice       float64   `expr:"min_price"`
	MaxPrice       float64   `expr:"max_price"`
	PriceChange    float64   `expr:"price_change"`
	PriceChangePct float64   `expr:"price_change_pct"`
	BuyVolume      float64   `expr:"buy_volume"`
	SellVolume     float64   `expr:"sell_volume"`
	TotalVolume    float64   `expr:"total_volume"`
	BuyCount       int       `expr:"buy_count"`
	SellCount      int       `expr:"sell_count"`
	Volatility     float64   `expr:"volatility"`
	UpdatedAt      time.Time `expr:"updated_at"`
}

// PairState is the immutable-after-first-seen identity plus mutable
// market metadata tracked per pool address (spec §3).
type PairState struct {
	PairAddress string

	// immutable after first observation
	Token0         string
	Token1         string
	Token0Decimals int
	Token1Decimals int
	Protocol       string // V2, V3, V4
	Fork           string
	FeeBps         int
	TickSpacing    int
	HasTickSpacing bool
	ChainTag       string
	FirstSeenTs    time.Time

	// mutable
	LastPrice    float64
	Liquidity    float64
	Symbol       string
	Name         string
	BuyTaxBps    float64
	SellTaxBps   float64

	// LastGroupKey is the group_key this pair's most recent Ingest call
	// mutated (created or updated), which may be older than the newest
	// entry in groupOrder when an out-of-order event arrives.
	LastGroupKey int64

	// ordered oldest -> newest
	groupOrder []int64
	groups     map[int64]*Group
}

// PairSnapshot is a read-only copy of a PairState handed to the policy
// sandbox and dispatch callbacks — mutation of the live PairState only
// ever happens from the ingest goroutine (spec §5).
type PairSnapshot struct {
	PairAddress    string  `expr:"pair_address"`
	Token0         string  `expr:"token0"`
	Token1         string  `expr:"token1"`
	Token0Decimals int     `expr:"token0_decimals"`
	Token1Decimals int     `expr:"token1_decimals"`
	Protocol       string  `expr:"protocol"`
	Fork           string  `expr:"fork"`
	FeeBps         int     `expr:"fee_bps"`
	TickSpacing    int     `expr:"tick_spacing"`
	HasTickSpacing bool    `expr:"has_tick_spacing"`
	ChainTag       string  `expr:"chain_tag"`
	LastPrice      float64 `expr:"last_price"`
	Liquidity      float64 `expr:"liquidity"`
	Symbol         string  `expr:"symbol"`
	Name           string  `expr:"name"`
	BuyTaxBps      float64 `expr:"buy_tax"`
	SellTaxBps     float64 `expr:"sell_tax"`

	FirstSeenTs time.Time `expr:"first_seen_ts"`

	// oldest -> newest
	Groups []Group `expr:"groups"`

	// LastGroupKey identifies the Group the triggering Ingest call
	// actually mutated; see PairState.LastGroupKey.
	LastGroupKey int64
}

func (p *PairState) snapshot() PairSnapshot {
	groups := make([]Group, 0, len(p.groupOrder))
	for _, key := range p.groupOrder {
		if g, ok := p.groups[key]; ok {
			groups = append(groups, *g)
		}
	}
	return PairSnapshot{
		PairAddress:    p.PairAddress,
		Token0:         p.Token0,
		Token1:         p.Token1,
		Token0Decimals: p.Token0Decimals,
		Token1Decimals: p.Token1Decimals,
		Protocol:       p.Protocol,
		Fork:           p.Fork,
		FeeBps:         p.FeeBps,
		TickSpacing:    p.TickSpacing,
		HasTickSpacing: p.HasTickSpacing,
		ChainTag:       p.ChainTag,
		LastPrice:      p.LastPrice,
		Liquidity:      p.Liquidity,
		Symbol:         p.Symbol,
		Name:           p.Name,
		BuyTaxBps:      p.BuyTaxBps,
		SellTaxBps:     p.SellTaxBps,
		FirstSeenTs:    p.FirstSeenTs,
		Groups:         groups,
		LastGroupKey:   p.LastGroupKey,
	}
}

// LatestGroup returns the group the triggering event actually updated
// (LastGroupKey), not merely the newest entry in Groups — an
// out-of-order event can mutate an older group without it becoming the
// newest one (spec §4.7). Falls back to the newest group if the key
// somehow isn't present.
func (s PairSnapshot) LatestGroup() (Group, bool) {
	if len(s.Groups) == 0 {
		return Group{}, false
	}
	for i := range s.Groups {
		if s.Groups[i].GroupKey == s.LastGroupKey {
			return s.Groups[i], true
		}
	}
	return s.Groups[len(s.Groups)-1], true
}
