// Package router dispatches swaps across the V2/V3/V4 execution paths
// (spec §4.3), selecting the concrete calldata builder and log parser
// by the pair's protocol and fork.
package router

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"evm-swap-agent/internal/aggregation"
	"evm-swap-agent/internal/chain"
	"evm-swap-agent/internal/chainset"
)

type Action string

const (
	Buy  Action = "buy"
	Sell Action = "sell"
)

const (
	v2GasLimit     = uint64(300_000)
	v3GasLimit     = uint64(800_000)
	v4GasLimit     = uint64(800_000)
	swapDeadline   = 30 * time.Second
)

// Request is the public swap contract's input (spec §4.3).
type Request struct {
	Pair           aggregation.PairSnapshot
	AmountIn       *big.Int
	IsToken0In     bool
	MinAmountOut   *big.Int
	Action         Action
}

// Result is the public swap contract's output.
type Result struct {
	Success      bool
	Error        string
	AmountOutRaw *big.Int
	ReadableOut  float64
}

// Router performs swaps against a chain.Client using addresses resolved
// from a chainset.Registry.
type Router struct {
	client   *chain.Client
	registry *chainset.Registry
	log      *zap.Logger

	tickSpacingCache map[string]int
}

func New(client *chain.Client, registry *chainset.Registry, log *zap.Logger) *Router {
	return &Router{
		client:           client,
		registry:         registry,
		log:              log,
		tickSpacingCache: make(map[string]int),
	}
}

// Swap dispatches on pair.Protocol. Any failure is returned as
// Result{Success: false} rather than an error, matching spec §4.3's
// "return success=false ... rather than panicking the caller".
func (r *Router) Swap(ctx context.Context, req Request) Result {
	var (
		result Result
		err    error
	)
	switch req.Pair.Protocol {
	case "V2":
		result, err = r.swapV2(ctx, req)
	case "V3":
		result, err = r.swapV3(ctx, req)
	case "V4":
		result, err = r.swapV4(ctx, req)
	default:
		err = fmt.Errorf("router: unknown protocol %q", req.Pair.Protocol)
	}
	if err != nil {
		if r.log != nil {
			r.log.Warn("swap failed",
				zap.String("category", "swap"),
				zap.String("pair", req.Pair.PairAddress),
				zap.String("protocol", req.Pair.Protocol),
				zap.String("action", string(req.Action)),
				zap.Error(err))
		}
		return Result{Success: false, Error: err.Error()}
	}
	result.Success = true
	return result
}

// tokenOutDecimals returns the decimals of whichever token is NOT the
// input side of this call (IsToken0In already reflects the effective,
// sell-inverted direction per spec §4.3).
func (r *Router) tokenOutDecimals(req Request) int {
	if req.IsToken0In {
		return req.Pair.Token1Decimals
	}
	return req.Pair.Token0Decimals
}

func readableAmount(raw *big.Int, decimals int) float64 {
	if raw == nil {
		return 0
	}
	f := new(big.Float).SetInt(raw)
	divisor := new(big.Float).SetFloat64(math.Pow10(decimals))
	f.Quo(f, divisor)
	out, _ := f.Float64()
	return out
}

func taxBpsFor(req Request) uint64 {
	if req.Action == Buy {
		return uint64(math.Round(req.Pair.BuyTaxBps))
	}
	return uint64(math.Round(req.Pair.SellTaxBps))
}

func directionFor(req Request) uint8 {
	if req.IsToken0In {
		return 0
	}
	return 1
}

func twosComplementToBig(b []byte) *big.Int {
	v := new(big.Int).SetBytes(b)
	if len(b) > 0 && b[0]&0x80 != 0 {
		mod := new(big.Int).Lsh(big.NewInt(1), uint(8*len(b)))
		v.Sub(v, mod)
	}
	return v
}

func absBig(v *big.Int) *big.Int {
	return new(big.Int).Abs(v)
}

// lastTransferTo scans logs in order and returns the value of the last
// Transfer(from,to,value) event with to == owner.
func lastTransferTo(logs []*types.Log, owner common.Address) (*big.Int, bool) {
	var found *big.Int
	for _, lg := range logs {
		if len(lg.Topics) != 3 || lg.Topics[0] != transferTopic {
			continue
		}
		to := common.BytesToAddress(lg.Topics[2].Bytes())
		if to != owner {
			continue
		}
		if len(lg.Data) < 32 {
			continue
		}
		found = new(big.Int).SetBytes(lg.Data[len(lg.Data)-32:])
	}
	return found, found != nil
}

// lastSwapAmounts scans logs for the pool's Swap event and returns the
// signed amount0/amount1 of the last match.
func lastSwapAmounts(logs []*types.Log, pool common.Address) (amount0, amount1 *big.Int, ok bool) {
	for _, lg := range logs {
		if lg.Address != pool || len(lg.Topics) == 0 || lg.Topics[0] != swapEventTopic {
			continue
		}
		if len(lg.Data) < 64 {
			continue
		}
		amount0 = twosComplementToBig(lg.Data[0:32])
		amount1 = twosComplementToBig(lg.Data[32:64])
		ok = true
	}
	return amount0, amount1, ok
}
