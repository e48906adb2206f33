package trade

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestComputeSummaryRealizedPnLEqualsSoldMinusSpent(t *testing.T) {
	inactive := []InactiveTrade{
		{
			ActiveTrade: ActiveTrade{
				EthSpent: decimal.NewFromFloat(1.0),
				EthSold:  decimal.NewFromFloat(1.5),
			},
			CloseReason: CloseReasonPolicyExit,
		},
		{
			ActiveTrade: ActiveTrade{
				EthSpent: decimal.NewFromFloat(2.0),
				EthSold:  decimal.NewFromFloat(1.2),
			},
			CloseReason: CloseReasonManual,
		},
	}
	summary := computeSummary(map[string]ActiveTrade{}, inactive)

	wantRealized := decimal.NewFromFloat(0.5).Add(decimal.NewFromFloat(-0.8))
	if !summary.RealizedPnL.Equal(wantRealized) {
		t.Fatalf("expected realized pnl %s, got %s", wantRealized, summary.RealizedPnL)
	}
	if summary.Wins != 1 || summary.Losses != 1 {
		t.Fatalf("expected 1 win 1 loss, got wins=%d losses=%d", summary.Wins, summary.Losses)
	}
	if summary.ClosedTrades != 2 {
		t.Fatalf("expected 2 closed trades, got %d", summary.ClosedTrades)
	}
	if summary.WinRatePct != 50 {
		t.Fatalf("expected 50%% win rate, got %v", summary.WinRatePct)
	}
}

func TestComputeSummaryUnrealizedUsesCurrentValue(t *testing.T) {
	active := map[string]ActiveTrade{
		"pair-1": {
			EthSpent:           decimal.NewFromFloat(1.0),
			TokensInPossession: decimal.NewFromFloat(100),
			CurrentPrice:       0.02, // 100 tokens * 0.02 = 2.0 eth of value
		},
	}
	summary := computeSummary(active, nil)
	want := decimal.NewFromFloat(1.0) // current value 2.0 - spent 1.0
	if !summary.UnrealizedPnL.Equal(want) {
		t.Fatalf("expected unrealized pnl %s, got %s", want, summary.UnrealizedPnL)
	}
	if summary.OpenTrades != 1 {
		t.Fatalf("expected 1 open trade, got %d", summary.OpenTrades)
	}
}

func TestPnlPercentZeroSpentIsUndefined(t *testing.T) {
	_, ok := pnlPercent(decimal.NewFromFloat(1), decimal.Zero)
	if ok {
		t.Fatalf("expected pnlPercent to report undefined for zero spend")
	}
}
