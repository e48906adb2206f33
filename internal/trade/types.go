// Package trade owns the per-pair execution lock and the ActiveTrade /
// InactiveTrade lifecycle (spec §4.6), persisted as a JSON snapshot plus
// an append-only JSONL fill log — grounded on the teacher/pack's
// checkpoint-file-plus-jsonl-writer pattern (Rakshit2323's
// internal/state/checkpoint.go and internal/jsonl/writer.go).
package trade

import (
	"time"

	"github.com/shopspring/decimal"
)

type CloseReason string

const (
	CloseReasonPolicyExit  CloseReason = "policy_exit"
	CloseReasonManual      CloseReason = "manual"
	CloseReasonZeroBalance CloseReason = "zero_balance"
)

// ActiveTrade is one open position (spec §3). PnL-bearing fields use
// decimal.Decimal to avoid float accumulation error across many partial
// exits; display-only market fields (current_price, price_change_pct,
// min/max_price_since_entry) stay float64. current_price is set at entry
// and replaced from the pair snapshot after a partial exit or a
// reconciliation pass that changes the balance; the min/max fields keep
// their entry value and price_change_pct is not written.
type ActiveTrade struct {
	Pair           string `json:"pair"`
	Protocol       string `json:"protocol"`
	Fork           string `json:"fork"`
	FeeBps         int    `json:"fee_bps"`
	Token0         string `json:"token0"`
	Token1         string `json:"token1"`
	Token0Decimals int    `json:"token0_decimals"`
	Token1Decimals int    `json:"token1_decimals"`
	BaseToken      string `json:"base_token"`
	BaseIsToken0   bool   `json:"base_is_token0"`
	PolicyID       string `json:"policy_id"`

	EntryPrice         float64         `json:"entry_price"`
	EthSpent           decimal.Decimal `json:"eth_spent"`
	EthSold            decimal.Decimal `json:"eth_sold"`
	TokensBought       decimal.Decimal `json:"tokens_bought"`
	TokensInPossession decimal.Decimal `json:"tokens_in_possession"`
	TokensRawHex       string          `json:"tokens_in_possession_raw"`

	CurrentPrice       float64 `json:"current_price"`
	PriceChangePct     float64 `json:"price_change_pct"`
	MinPriceSinceEntry float64 `json:"min_price_since_entry"`
	MaxPriceSinceEntry float64 `json:"max_price_since_entry"`

	OpenedAt time.Time `json:"opened_at"`
}

// CurrentEthValue computes tokens_in_possession × current_price.
func (t ActiveTrade) CurrentEthValue() decimal.Decimal {
	return t.TokensInPossession.Mul(decimal.NewFromFloat(t.CurrentPrice))
}

// InactiveTrade is a closed ActiveTrade plus exit bookkeeping (spec §3).
type InactiveTrade struct {
	ActiveTrade
	ExitPrice      float64         `json:"exit_price"`
	ClosedAt       time.Time       `json:"closed_at"`
	RealizedPnLEth decimal.Decimal `json:"realized_pnl_eth"`
	RealizedPnLPct float64         `json:"realized_pnl_pct"`
	CloseReason    CloseReason     `json:"close_reason"`
}

// Summary is derived from the live trade set on every read, never
// persisted authoritatively (spec §4.6).
type Summary struct {
	OpenTrades      int             `json:"open_trades"`
	ClosedTrades    int             `json:"closed_trades"`
	UnrealizedPnL   decimal.Decimal `json:"unrealized_pnl_eth"`
	RealizedPnL     decimal.Decimal `json:"realized_pnl_eth"`
	Wins            int             `json:"wins"`
	Losses          int             `json:"losses"`
	AvgWinPct       float64         `json:"avg_win_pct"`
	AvgLossPct      float64         `json:"avg_loss_pct"`
	WinRatePct      float64         `json:"win_rate_pct"`
	VolumeEth       decimal.Decimal `json:"volume_eth"`
	NetROIPct       float64         `json:"net_roi_pct"`
}

// Snapshot is the file persisted after every state change and every
// 60s (spec §4.6).
type Snapshot struct {
	ActiveTrades   map[string]ActiveTrade   `json:"active_trades"`
	InactiveTrades []InactiveTrade          `json:"inactive_trades"`
	Summary        Summary                  `json:"summary"`
}

// FillRecord is one line of the append-only trade log (spec §4.6).
type FillRecord struct {
	Time          time.Time `json:"time"`
	Status        string    `json:"status"` // "ok" or "error"
	Type          string    `json:"type"`   // "buy" or "sell"
	Symbol        string    `json:"symbol"`
	Pair          string    `json:"pair"`
	PolicyID      string    `json:"policy_id"`
	ActionPercent int       `json:"action_percent"`
	EthAmount     float64   `json:"eth_amount,omitempty"`
	TokenAmount   float64   `json:"token_amount,omitempty"`
	Error         string    `json:"error,omitempty"`
}
