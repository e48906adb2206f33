package approval

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func TestEncodePermit2AllowanceCallShape(t *testing.T) {
	owner := common.HexToAddress("0x1111111111111111111111111111111111111111")
	token := common.HexToAddress("0x2222222222222222222222222222222222222222")
	spender := common.HexToAddress("0x3333333333333333333333333333333333333333")
	data := encodePermit2AllowanceCall(owner, token, spender)
	if len(data) != 4+96 {
		t.Fatalf("expected 100 bytes, got %d", len(data))
	}
	if string(data[:4]) != string(selectorPermit2Allowance) {
		t.Fatalf("selector mismatch")
	}
}

func TestEncodePermit2ApproveShape(t *testing.T) {
	token := common.HexToAddress("0x2222222222222222222222222222222222222222")
	spender := common.HexToAddress("0x3333333333333333333333333333333333333333")
	data := encodePermit2Approve(token, spender, maxUint160)
	if len(data) != 4+128 {
		t.Fatalf("expected 132 bytes, got %d", len(data))
	}
	amountWord := data[4+64 : 4+96]
	got := new(big.Int).SetBytes(amountWord)
	if got.Cmp(maxUint160) != 0 {
		t.Fatalf("amount word mismatch: got %s want %s", got, maxUint160)
	}

	expirationWord := data[4+96 : 4+128]
	expiration := new(big.Int).SetBytes(expirationWord).Int64()
	wantMin := time.Now().Add(29 * 24 * time.Hour).Unix()
	wantMax := time.Now().Add(31 * 24 * time.Hour).Unix()
	if expiration < wantMin || expiration > wantMax {
		t.Fatalf("expected expiration ~now+30d, got unix %d (want between %d and %d)", expiration, wantMin, wantMax)
	}
}
