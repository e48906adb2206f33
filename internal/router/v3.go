package router

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"evm-swap-agent/internal/chain"
)

var (
	selectorExactInputSingleFee         = crypto.Keccak256([]byte("exactInputSingle((address,address,uint24,address,uint256,uint256,uint256,uint160))"))[:4]
	selectorExactInputSingleTickSpacing = crypto.Keccak256([]byte("exactInputSingle((address,address,int24,address,uint256,uint256,uint256,uint160))"))[:4]
)

// exactInputSingleFeeParams mirrors Uniswap V3 SwapRouter's
// ExactInputSingleParams (fee-tier forks).
type exactInputSingleFeeParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               *big.Int
	Recipient         common.Address
	Deadline          *big.Int
	AmountIn          *big.Int
	AmountOutMinimum  *big.Int
	SqrtPriceLimitX96 *big.Int
}

// exactInputSingleTickSpacingParams is the same shape for
// tickSpacing-addressed forks (Aerodrome Slipstream).
type exactInputSingleTickSpacingParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	TickSpacing       *big.Int
	Recipient         common.Address
	Deadline          *big.Int
	AmountIn          *big.Int
	AmountOutMinimum  *big.Int
	SqrtPriceLimitX96 *big.Int
}

var (
	exactInputSingleFeeType, _ = abi.NewType("tuple", "", []abi.ArgumentMarshaling{
		{Name: "tokenIn", Type: "address"},
		{Name: "tokenOut", Type: "address"},
		{Name: "fee", Type: "uint24"},
		{Name: "recipient", Type: "address"},
		{Name: "deadline", Type: "uint256"},
		{Name: "amountIn", Type: "uint256"},
		{Name: "amountOutMinimum", Type: "uint256"},
		{Name: "sqrtPriceLimitX96", Type: "uint160"},
	})
	exactInputSingleTickSpacingType, _ = abi.NewType("tuple", "", []abi.ArgumentMarshaling{
		{Name: "tokenIn", Type: "address"},
		{Name: "tokenOut", Type: "address"},
		{Name: "tickSpacing", Type: "int24"},
		{Name: "recipient", Type: "address"},
		{Name: "deadline", Type: "uint256"},
		{Name: "amountIn", Type: "uint256"},
		{Name: "amountOutMinimum", Type: "uint256"},
		{Name: "sqrtPriceLimitX96", Type: "uint160"},
	})
)

// swapV3 chooses the router by fork: uniswap_v3 supplies fee×10000,
// aerodrome supplies the pool's cached tickSpacing. sqrtPriceLimitX96 is
// always 0, deadline is now+30s, recipient is the owner (spec §4.3).
func (r *Router) swapV3(ctx context.Context, req Request) (Result, error) {
	tokenIn, tokenOut := swapTokenOrder(req)
	deadline := big.NewInt(time.Now().Add(swapDeadline).Unix())
	owner := r.client.Address()

	var (
		forkName string
		packed   []byte
		err      error
	)
	switch req.Pair.Fork {
	case "aerodrome":
		forkName = "aerodrome"
		pool := common.HexToAddress(req.Pair.PairAddress)
		spacing, spacingErr := r.readTickSpacing(ctx, pool)
		if spacingErr != nil {
			return Result{}, fmt.Errorf("v3 aerodrome tickSpacing: %w", spacingErr)
		}
		packed, err = abi.Arguments{{Type: exactInputSingleTickSpacingType}}.Pack(exactInputSingleTickSpacingParams{
			TokenIn:           tokenIn,
			TokenOut:          tokenOut,
			TickSpacing:       big.NewInt(int64(spacing)),
			Recipient:         owner,
			Deadline:          deadline,
			AmountIn:          req.AmountIn,
			AmountOutMinimum:  req.MinAmountOut,
			SqrtPriceLimitX96: big.NewInt(0),
		})
	default:
		forkName = "uniswap_v3"
		packed, err = abi.Arguments{{Type: exactInputSingleFeeType}}.Pack(exactInputSingleFeeParams{
			TokenIn:           tokenIn,
			TokenOut:          tokenOut,
			Fee:               big.NewInt(int64(req.Pair.FeeBps) * 10_000),
			Recipient:         owner,
			Deadline:          deadline,
			AmountIn:          req.AmountIn,
			AmountOutMinimum:  req.MinAmountOut,
			SqrtPriceLimitX96: big.NewInt(0),
		})
	}
	if err != nil {
		return Result{}, fmt.Errorf("v3 pack exactInputSingle params: %w", err)
	}

	fork, ok := r.registry.Fork(req.Pair.ChainTag, forkName)
	if !ok || fork.V3Router == "" {
		return Result{}, fmt.Errorf("router: no v3 router configured for chain %q fork %q", req.Pair.ChainTag, forkName)
	}
	routerAddr := common.HexToAddress(fork.V3Router)

	selector := selectorExactInputSingleFee
	if forkName == "aerodrome" {
		selector = selectorExactInputSingleTickSpacing
	}
	data := append(append([]byte{}, selector...), packed...)

	receipt, err := r.client.Submit(ctx, chain.CallRequest{To: routerAddr, Data: data, GasLimit: v3GasLimit}, 3)
	if err != nil {
		return Result{}, fmt.Errorf("v3 swap submit: %w", err)
	}
	if receipt.Status == 0 {
		return Result{}, fmt.Errorf("v3 swap reverted, tx %s", receipt.TxHash.Hex())
	}

	pool := common.HexToAddress(req.Pair.PairAddress)
	amount0, amount1, ok := lastSwapAmounts(receipt.Logs, pool)
	if !ok {
		return Result{}, fmt.Errorf("v3 swap: no Swap log found on pool, tx %s", receipt.TxHash.Hex())
	}
	var amountOut *big.Int
	if req.IsToken0In {
		amountOut = absBig(amount1)
	} else {
		amountOut = absBig(amount0)
	}
	decimals := r.tokenOutDecimals(req)
	return Result{AmountOutRaw: amountOut, ReadableOut: readableAmount(amountOut, decimals)}, nil
}

func swapTokenOrder(req Request) (tokenIn, tokenOut common.Address) {
	t0 := common.HexToAddress(req.Pair.Token0)
	t1 := common.HexToAddress(req.Pair.Token1)
	if req.IsToken0In {
		return t0, t1
	}
	return t1, t0
}
