package approval

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	selectorPermit2Allowance = crypto.Keccak256([]byte("allowance(address,address,address)"))[:4]
	selectorPermit2Approve   = crypto.Keccak256([]byte("approve(address,address,uint160,uint48)"))[:4]
)

func encodePermit2AllowanceCall(owner, token, spender common.Address) []byte {
	data := make([]byte, 0, 4+96)
	data = append(data, selectorPermit2Allowance...)
	data = append(data, common.LeftPadBytes(owner.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(token.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(spender.Bytes(), 32)...)
	return data
}

// permit2ApprovalTTL is spec §4.2's Permit2 grant lifetime: approve for
// now + 30 days, not an open-ended or zero expiration.
const permit2ApprovalTTL = 30 * 24 * time.Hour

// encodePermit2Approve builds Permit2.approve(token, spender, amount,
// expiration) calldata, expiration set to now + 30 days per spec §4.2.
func encodePermit2Approve(token, spender common.Address, amount *big.Int) []byte {
	expiration := big.NewInt(time.Now().Add(permit2ApprovalTTL).Unix())
	data := make([]byte, 0, 4+128)
	data = append(data, selectorPermit2Approve...)
	data = append(data, common.LeftPadBytes(token.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(spender.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(amount.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(expiration.Bytes(), 32)...)
	return data
}
