package router

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"evm-swap-agent/internal/chain"
)

var selectorV2Swap = crypto.Keccak256([]byte("swap(address,uint256,uint256,uint8,uint256)"))[:4]

// swapV2 calls the custom swapper proxy: swap(pair, amountIn, minOut,
// direction, taxBps), gas limit 300000 (spec §4.3).
func (r *Router) swapV2(ctx context.Context, req Request) (Result, error) {
	fork, ok := r.registry.Fork(req.Pair.ChainTag, "v2")
	if !ok || fork.V2SwapperProxy == "" {
		return Result{}, fmt.Errorf("router: no v2 swapper proxy configured for chain %q", req.Pair.ChainTag)
	}
	proxy := common.HexToAddress(fork.V2SwapperProxy)
	pair := common.HexToAddress(req.Pair.PairAddress)

	data := make([]byte, 0, 4+5*32)
	data = append(data, selectorV2Swap...)
	data = append(data, common.LeftPadBytes(pair.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(req.AmountIn.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(req.MinAmountOut.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(big.NewInt(int64(directionFor(req))).Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(new(big.Int).SetUint64(taxBpsFor(req)).Bytes(), 32)...)

	receipt, err := r.client.Submit(ctx, chain.CallRequest{To: proxy, Data: data, GasLimit: v2GasLimit}, 3)
	if err != nil {
		return Result{}, fmt.Errorf("v2 swap submit: %w", err)
	}
	if receipt.Status == 0 {
		return Result{}, fmt.Errorf("v2 swap reverted, tx %s", receipt.TxHash.Hex())
	}

	value, ok := lastTransferTo(receipt.Logs, r.client.Address())
	if !ok {
		return Result{}, fmt.Errorf("v2 swap: no Transfer log to owner found, tx %s", receipt.TxHash.Hex())
	}
	decimals := r.tokenOutDecimals(req)
	return Result{AmountOutRaw: value, ReadableOut: readableAmount(value, decimals)}, nil
}
