package app

import "sync"

// priceCache is the USD rate cache written only by the feed's
// usdRates_update handler and read by the trade manager's policy
// context builder (spec §5). The status summary does not read it.
type priceCache struct {
	mu    sync.RWMutex
	rates map[string]float64
}

func newPriceCache() *priceCache {
	return &priceCache{rates: make(map[string]float64)}
}

func (c *priceCache) set(rates map[string]float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range rates {
		c.rates[k] = v
	}
}

func (c *priceCache) snapshot() map[string]float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]float64, len(c.rates))
	for k, v := range c.rates {
		out[k] = v
	}
	return out
}
