package trade

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
)

func TestSnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trades.json")

	want := Snapshot{
		ActiveTrades: map[string]ActiveTrade{
			"0xpair": {
				Pair:       "0xpair",
				Protocol:   "V3",
				EntryPrice: 1.5,
				EthSpent:   decimal.NewFromFloat(0.25),
			},
		},
		InactiveTrades: []InactiveTrade{
			{
				ActiveTrade: ActiveTrade{Pair: "0xother", EthSpent: decimal.NewFromFloat(1)},
				CloseReason: CloseReasonZeroBalance,
			},
		},
	}
	if err := saveSnapshot(path, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := loadSnapshot(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got.ActiveTrades) != 1 || len(got.InactiveTrades) != 1 {
		t.Fatalf("unexpected round-tripped shape: %+v", got)
	}
	if !got.ActiveTrades["0xpair"].EthSpent.Equal(decimal.NewFromFloat(0.25)) {
		t.Fatalf("eth_spent did not round-trip: %+v", got.ActiveTrades["0xpair"])
	}
	if got.InactiveTrades[0].CloseReason != CloseReasonZeroBalance {
		t.Fatalf("close_reason did not round-trip: %+v", got.InactiveTrades[0])
	}
}

func TestLoadSnapshotMissingFileIsEmpty(t *testing.T) {
	snap, err := loadSnapshot(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}
	if snap.ActiveTrades == nil || len(snap.ActiveTrades) != 0 {
		t.Fatalf("expected empty active trades, got %+v", snap.ActiveTrades)
	}
}

func TestLoadSnapshotMigratesLegacyFlatForm(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "legacy.json")
	legacy := `{"0xpair": {"pair": "0xpair", "protocol": "V2", "eth_spent": "0.5"}, "summary": {"open_trades": 1}}`
	if err := os.WriteFile(path, []byte(legacy), 0o644); err != nil {
		t.Fatalf("write legacy fixture: %v", err)
	}
	snap, err := loadSnapshot(path)
	if err != nil {
		t.Fatalf("load legacy: %v", err)
	}
	if len(snap.ActiveTrades) != 1 {
		t.Fatalf("expected 1 migrated active trade (summary key discarded), got %d", len(snap.ActiveTrades))
	}
	trade, ok := snap.ActiveTrades["0xpair"]
	if !ok {
		t.Fatalf("expected pair key to survive migration, got %+v", snap.ActiveTrades)
	}
	if trade.Protocol != "V2" {
		t.Fatalf("expected protocol V2, got %q", trade.Protocol)
	}
	if len(snap.InactiveTrades) != 0 {
		t.Fatalf("expected no inactive trades from legacy migration, got %d", len(snap.InactiveTrades))
	}
}

func TestFillLogAppendAndClose(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fills.jsonl")
	l := newFillLog(path)
	if err := l.append(FillRecord{Status: "ok", Type: "buy", Pair: "0xpair"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := l.close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read fill log: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("expected non-empty fill log")
	}
}

func TestFillLogNilIsNoop(t *testing.T) {
	var l *fillLog
	if err := l.append(FillRecord{}); err != nil {
		t.Fatalf("expected nil fillLog append to be a no-op, got %v", err)
	}
	if err := l.close(); err != nil {
		t.Fatalf("expected nil fillLog close to be a no-op, got %v", err)
	}
}
