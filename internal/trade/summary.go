package trade

import "github.com/shopspring/decimal"

// computeSummary aggregates over active and inactive trades (spec
// §4.6). Wins/losses are counted by eth_sold >= eth_spent.
func computeSummary(active map[string]ActiveTrade, inactive []InactiveTrade) Summary {
	var (
		unrealized = decimal.Zero
		realized   = decimal.Zero
		volume     = decimal.Zero
		wins       int
		losses     int
		winPctSum  float64
		lossPctSum float64
		spentSum   = decimal.Zero
		netSum     = decimal.Zero
	)

	for _, t := range active {
		unrealized = unrealized.Add(t.CurrentEthValue().Add(t.EthSold).Sub(t.EthSpent))
		volume = volume.Add(t.EthSpent).Add(t.EthSold)
		spentSum = spentSum.Add(t.EthSpent)
	}

	for _, t := range inactive {
		pnl := t.EthSold.Sub(t.EthSpent)
		realized = realized.Add(pnl)
		volume = volume.Add(t.EthSpent).Add(t.EthSold)
		spentSum = spentSum.Add(t.EthSpent)
		netSum = netSum.Add(pnl)

		pct, _ := pnlPercent(pnl, t.EthSpent)
		if t.EthSold.Cmp(t.EthSpent) >= 0 {
			wins++
			winPctSum += pct
		} else {
			losses++
			lossPctSum += pct
		}
	}

	total := wins + losses
	summary := Summary{
		OpenTrades:    len(active),
		ClosedTrades:  len(inactive),
		UnrealizedPnL: unrealized,
		RealizedPnL:   realized,
		Wins:          wins,
		Losses:        losses,
		VolumeEth:     volume,
	}
	if total > 0 {
		summary.WinRatePct = 100 * float64(wins) / float64(total)
	}
	if wins > 0 {
		summary.AvgWinPct = winPctSum / float64(wins)
	}
	if losses > 0 {
		summary.AvgLossPct = lossPctSum / float64(losses)
	}
	if !spentSum.IsZero() {
		roi, _ := netSum.Div(spentSum).Mul(decimal.NewFromInt(100)).Float64()
		summary.NetROIPct = roi
	}
	return summary
}

func pnlPercent(pnl, spent decimal.Decimal) (float64, bool) {
	if spent.IsZero() {
		return 0, false
	}
	pct, _ := pnl.Div(spent).Mul(decimal.NewFromInt(100)).Float64()
	return pct, true
}
