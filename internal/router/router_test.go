package router

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

func TestTwosComplementToBig(t *testing.T) {
	positive := common.LeftPadBytes(big.NewInt(1000).Bytes(), 32)
	if got := twosComplementToBig(positive); got.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("positive round-trip failed: got %s", got)
	}

	negative := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1000))
	negBytes := common.LeftPadBytes(negative.Bytes(), 32)
	if got := twosComplementToBig(negBytes); got.Cmp(big.NewInt(-1000)) != 0 {
		t.Fatalf("negative round-trip failed: got %s, want -1000", got)
	}
}

func TestAbsBig(t *testing.T) {
	if got := absBig(big.NewInt(-42)); got.Cmp(big.NewInt(42)) != 0 {
		t.Fatalf("absBig(-42) = %s, want 42", got)
	}
}

func TestLastTransferToPicksLastMatchingLog(t *testing.T) {
	owner := common.HexToAddress("0x1111111111111111111111111111111111111111")
	other := common.HexToAddress("0x9999999999999999999999999999999999999999")

	makeTransfer := func(to common.Address, amount int64) *types.Log {
		return &types.Log{
			Topics: []common.Hash{
				transferTopic,
				common.BytesToHash(common.LeftPadBytes(other.Bytes(), 32)),
				common.BytesToHash(common.LeftPadBytes(to.Bytes(), 32)),
			},
			Data: common.LeftPadBytes(big.NewInt(amount).Bytes(), 32),
		}
	}

	logs := []*types.Log{
		makeTransfer(owner, 100),
		makeTransfer(other, 999),
		makeTransfer(owner, 250),
	}

	value, ok := lastTransferTo(logs, owner)
	if !ok {
		t.Fatalf("expected a match")
	}
	if value.Cmp(big.NewInt(250)) != 0 {
		t.Fatalf("expected last matching transfer value 250, got %s", value)
	}
}

func TestLastSwapAmountsParsesSignedInts(t *testing.T) {
	pool := common.HexToAddress("0x2222222222222222222222222222222222222222")
	amount0 := big.NewInt(-5000)
	amount1 := big.NewInt(7500)

	data := make([]byte, 0, 64)
	amount0Bytes := new(big.Int).Add(new(big.Int).Lsh(big.NewInt(1), 256), amount0)
	data = append(data, common.LeftPadBytes(amount0Bytes.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(amount1.Bytes(), 32)...)

	log := &types.Log{
		Address: pool,
		Topics:  []common.Hash{swapEventTopic},
		Data:    data,
	}

	a0, a1, ok := lastSwapAmounts([]*types.Log{log}, pool)
	if !ok {
		t.Fatalf("expected a match")
	}
	if a0.Cmp(amount0) != 0 {
		t.Fatalf("amount0 = %s, want %s", a0, amount0)
	}
	if a1.Cmp(amount1) != 0 {
		t.Fatalf("amount1 = %s, want %s", a1, amount1)
	}
}

func TestReadableAmount(t *testing.T) {
	raw := new(big.Int)
	raw.SetString("1500000000000000000", 10)
	got := readableAmount(raw, 18)
	if got < 1.499 || got > 1.501 {
		t.Fatalf("readableAmount = %f, want ~1.5", got)
	}
}
