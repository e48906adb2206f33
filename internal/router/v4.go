package router

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"evm-swap-agent/internal/chain"
)

const (
	v4CommandSwap = byte(0x10) // V4_SWAP

	v4ActionSwapExactInSingle = byte(0x06)
	v4ActionSettleAll         = byte(0x0c)
	v4ActionTakeAll           = byte(0x0f)
)

var selectorUniversalRouterExecute = crypto.Keccak256([]byte("execute(bytes,bytes[],uint256)"))[:4]

// poolKey mirrors Uniswap V4's PoolKey struct; field order matters for
// ABI tuple encoding.
type poolKey struct {
	Currency0   common.Address
	Currency1   common.Address
	Fee         *big.Int
	TickSpacing *big.Int
	Hooks       common.Address
}

type exactInputSingleParams struct {
	PoolKey            poolKey
	ZeroForOne         bool
	AmountIn           *big.Int
	AmountOutMinimum   *big.Int
	HookData           []byte
}

var (
	poolKeyType, _     = abi.NewType("tuple", "", []abi.ArgumentMarshaling{
		{Name: "currency0", Type: "address"},
		{Name: "currency1", Type: "address"},
		{Name: "fee", Type: "uint24"},
		{Name: "tickSpacing", Type: "int24"},
		{Name: "hooks", Type: "address"},
	})
	swapParamsType, _ = abi.NewType("tuple", "", []abi.ArgumentMarshaling{
		{Name: "poolKey", Type: "tuple", Components: []abi.ArgumentMarshaling{
			{Name: "currency0", Type: "address"},
			{Name: "currency1", Type: "address"},
			{Name: "fee", Type: "uint24"},
			{Name: "tickSpacing", Type: "int24"},
			{Name: "hooks", Type: "address"},
		}},
		{Name: "zeroForOne", Type: "bool"},
		{Name: "amountIn", Type: "uint128"},
		{Name: "amountOutMinimum", Type: "uint128"},
		{Name: "hookData", Type: "bytes"},
	})
	settleTakeType, _ = abi.NewType("tuple", "", []abi.ArgumentMarshaling{
		{Name: "currency", Type: "address"},
		{Name: "amount", Type: "uint256"},
	})
	v4InputType, _ = abi.NewType("tuple", "", []abi.ArgumentMarshaling{
		{Name: "actions", Type: "bytes"},
		{Name: "params", Type: "bytes[]"},
	})
)

// swapV4 calls UniversalRouter.execute with a single V4_SWAP command
// wrapping SWAP_EXACT_IN_SINGLE/SETTLE_ALL/TAKE_ALL (spec §4.3).
// Currencies are canonically ordered; a staticCall simulation is
// attempted first and its failure is logged, not fatal.
func (r *Router) swapV4(ctx context.Context, req Request) (Result, error) {
	fork, ok := r.registry.Fork(req.Pair.ChainTag, "v4")
	if !ok || fork.V4UniversalRtr == "" {
		return Result{}, fmt.Errorf("router: no v4 universal router configured for chain %q", req.Pair.ChainTag)
	}
	universalRouter := common.HexToAddress(fork.V4UniversalRtr)

	token0 := common.HexToAddress(req.Pair.Token0)
	token1 := common.HexToAddress(req.Pair.Token1)
	currency0, currency1 := token0, token1
	if strings.ToLower(token1.Hex()) < strings.ToLower(token0.Hex()) {
		currency0, currency1 = token1, token0
	}

	tickSpacing := req.Pair.TickSpacing
	if !req.Pair.HasTickSpacing {
		tickSpacing = r.registry.TickSpacing(req.Pair.ChainTag, req.Pair.FeeBps)
	}

	// zero_for_one: true when the input side of this call (IsToken0In,
	// already sell-inverted by the caller per spec §4.3) is currency0.
	inputToken := token1
	if req.IsToken0In {
		inputToken = token0
	}
	zeroForOne := inputToken == currency0

	key := poolKey{
		Currency0:   currency0,
		Currency1:   currency1,
		Fee:         big.NewInt(int64(req.Pair.FeeBps)),
		TickSpacing: big.NewInt(int64(tickSpacing)),
		Hooks:       common.Address{},
	}

	swapData, err := abi.Arguments{{Type: swapParamsType}}.Pack(exactInputSingleParams{
		PoolKey:          key,
		ZeroForOne:       zeroForOne,
		AmountIn:         req.AmountIn,
		AmountOutMinimum: req.MinAmountOut,
		HookData:         []byte{},
	})
	if err != nil {
		return Result{}, fmt.Errorf("v4 pack swap params: %w", err)
	}

	inCurrency, outCurrency := currency1, currency0
	if zeroForOne {
		inCurrency, outCurrency = currency0, currency1
	}
	settleData, err := abi.Arguments{{Type: settleTakeType}}.Pack(struct {
		Currency common.Address
		Amount   *big.Int
	}{inCurrency, req.AmountIn})
	if err != nil {
		return Result{}, fmt.Errorf("v4 pack settle params: %w", err)
	}
	takeData, err := abi.Arguments{{Type: settleTakeType}}.Pack(struct {
		Currency common.Address
		Amount   *big.Int
	}{outCurrency, req.MinAmountOut})
	if err != nil {
		return Result{}, fmt.Errorf("v4 pack take params: %w", err)
	}

	actions := []byte{v4ActionSwapExactInSingle, v4ActionSettleAll, v4ActionTakeAll}
	params := [][]byte{swapData, settleData, takeData}

	v4Input, err := abi.Arguments{{Type: v4InputType}}.Pack(struct {
		Actions []byte
		Params  [][]byte
	}{actions, params})
	if err != nil {
		return Result{}, fmt.Errorf("v4 pack input: %w", err)
	}

	commands := []byte{v4CommandSwap}
	deadline := big.NewInt(time.Now().Add(swapDeadline).Unix())

	executeArgs := abi.Arguments{
		{Type: mustType("bytes")},
		{Type: mustType("bytes[]")},
		{Type: mustType("uint256")},
	}
	packedArgs, err := executeArgs.Pack(commands, [][]byte{v4Input}, deadline)
	if err != nil {
		return Result{}, fmt.Errorf("v4 pack execute args: %w", err)
	}
	data := append(append([]byte{}, selectorUniversalRouterExecute...), packedArgs...)

	if _, err := r.client.CallRaw(ctx, universalRouter, data); err != nil && r.log != nil {
		r.log.Warn("v4 swap simulation failed, attempting execution anyway",
			zap.String("category", "swap"),
			zap.String("pair", req.Pair.PairAddress),
			zap.Error(err))
	}

	receipt, err := r.client.Submit(ctx, chain.CallRequest{To: universalRouter, Data: data, GasLimit: v4GasLimit}, 3)
	if err != nil {
		return Result{}, fmt.Errorf("v4 swap submit: %w", err)
	}
	if receipt.Status == 0 {
		return Result{}, fmt.Errorf("v4 swap reverted, tx %s", receipt.TxHash.Hex())
	}

	decimals := r.tokenOutDecimals(req)
	if value, ok := lastTransferTo(receipt.Logs, r.client.Address()); ok {
		return Result{AmountOutRaw: value, ReadableOut: readableAmount(value, decimals)}, nil
	}

	// fall back to V3-style Swap log parsing per spec §4.3
	pool := common.HexToAddress(req.Pair.PairAddress)
	amount0, amount1, ok := lastSwapAmounts(receipt.Logs, pool)
	if !ok {
		return Result{}, fmt.Errorf("v4 swap: no Transfer or Swap log found, tx %s", receipt.TxHash.Hex())
	}
	var amountOut *big.Int
	if req.IsToken0In {
		amountOut = absBig(amount1)
	} else {
		amountOut = absBig(amount0)
	}
	return Result{AmountOutRaw: amountOut, ReadableOut: readableAmount(amountOut, decimals)}, nil
}

func mustType(name string) abi.Type {
	t, err := abi.NewType(name, "", nil)
	if err != nil {
		panic(err)
	}
	return t
}
