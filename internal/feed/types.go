package feed

// MarketUpdate is the normalized shape of a marketData feed event,
// extracted from a heterogeneous (nested/flat, camelCase/snake_case)
// payload per spec §4.4/§9.
type MarketUpdate struct {
	Pair           string
	ChainTag       string
	Protocol       string
	LastPrice      float64
	BuyVolume      float64
	SellVolume     float64
	Liquidity      float64
	MinuteKey      int64
	Token0         string
	Token1         string
	Token0Decimals int
	Token1Decimals int
	FeeBps         int
	TickSpacing    int
	HasTickSpacing bool
	Fork           string
	Symbol         string
	Name           string
	BuyTaxBps      float64
	SellTaxBps     float64
}

// RatesUpdate is the normalized shape of a usdRates_update event: a
// per-asset USD price cache update.
type RatesUpdate struct {
	Rates map[string]float64
}
