package router

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var errShortResult = errors.New("router: call result too short")

var (
	transferTopic  = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
	swapEventTopic = crypto.Keccak256Hash([]byte("Swap(address,address,int256,int256,uint160,uint128,int24)"))
)

var selectorTickSpacing = crypto.Keccak256([]byte("tickSpacing()"))[:4]

// readTickSpacing queries and caches a V3 pool's tickSpacing(), used by
// the Aerodrome fork path (spec §4.3).
func (r *Router) readTickSpacing(ctx context.Context, pool common.Address) (int, error) {
	if v, ok := r.tickSpacingCache[pool.Hex()]; ok {
		return v, nil
	}
	out, err := r.client.CallRaw(ctx, pool, selectorTickSpacing)
	if err != nil {
		return 0, err
	}
	if len(out) < 32 {
		return 0, errShortResult
	}
	spacing := int(twosComplementToBig(out[len(out)-32:]).Int64())
	r.tickSpacingCache[pool.Hex()] = spacing
	return spacing, nil
}
