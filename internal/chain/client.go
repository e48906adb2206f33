// Package chain implements the RPC, fee-estimation, nonce-tracking, and
// retrying transaction submission layer (spec §4.1). Grounded on
// Rakshit2323-polymarket-trading-bot's ethclient.DialContext + manual
// CallContract use for reads, and on the teacher's
// internal/hl/exchange/client.go atomic-CAS nonce watermark for writes.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

const (
	fallbackMaxFeeGwei      = 0.05
	fallbackPriorityFeeGwei = 0.001
	minPriorityFeeGwei      = 0.01
	feeMultiplier           = 1.01
	submitRetrySleep        = 250 * time.Millisecond
)

var (
	selectorBalanceOf  = crypto.Keccak256([]byte("balanceOf(address)"))[:4]
	selectorDecimals   = crypto.Keccak256([]byte("decimals()"))[:4]
	selectorAllowance  = crypto.Keccak256([]byte("allowance(address,address)"))[:4]
	selectorApprove    = crypto.Keccak256([]byte("approve(address,uint256)"))[:4]
)

// NonceStore persists the tx-nonce watermark across restarts (same
// Get/Set shape the teacher's kvstore already provides for the HL nonce).
type NonceStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// CallRequest describes one state-changing on-chain call.
type CallRequest struct {
	To       common.Address
	Data     []byte
	GasLimit uint64
	Value    *big.Int
}

// Client wraps an ethclient.Client with fee suggestion, nonce tracking,
// and retrying EIP-1559 submission.
type Client struct {
	eth     *ethclient.Client
	privKey *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
	log     *zap.Logger

	nonceStore NonceStore
	nonceKey   string
	lastNonce  atomic.Int64
	nonceMu    sync.Mutex
	nonceInit  atomic.Bool
}

func Dial(ctx context.Context, rpcURL string, privKeyHex string, log *zap.Logger) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}
	clean := strings.TrimPrefix(strings.TrimSpace(privKeyHex), "0x")
	key, err := crypto.HexToECDSA(clean)
	if err != nil {
		return nil, err
	}
	chainID, err := eth.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	return &Client{
		eth:     eth,
		privKey: key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		chainID: chainID,
		log:     log,
	}, nil
}

func (c *Client) Address() common.Address { return c.address }

// InitNonceStore seeds the nonce watermark from the persisted value (if
// any) and the chain's current transaction count, taking whichever is
// higher — mirrors the teacher's InitNonceStore seeding logic.
func (c *Client) InitNonceStore(ctx context.Context, store NonceStore, key string) error {
	chainNonce, err := c.eth.PendingNonceAt(ctx, c.address)
	if err != nil {
		return err
	}
	seed := int64(chainNonce)
	if store != nil {
		if raw, ok, err := store.Get(ctx, key); err == nil && ok {
			if parsed, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64); err == nil && parsed > seed {
				seed = parsed
			}
		}
	}
	c.nonceStore = store
	c.nonceKey = key
	c.lastNonce.Store(seed - 1)
	c.nonceInit.Store(true)
	return nil
}

// NextNonce returns the next nonce to use, issued strictly monotonically
// from a single source (spec §5).
func (c *Client) NextNonce() uint64 {
	return uint64(c.lastNonce.Add(1))
}

// ResyncNonce re-fetches the nonce from the latest-block tag, used when
// submission reports "nonce too low"/"nonce expired" (spec §4.1).
func (c *Client) ResyncNonce(ctx context.Context) error {
	chainNonce, err := c.eth.NonceAt(ctx, c.address, nil)
	if err != nil {
		return err
	}
	c.nonceMu.Lock()
	defer c.nonceMu.Unlock()
	c.lastNonce.Store(int64(chainNonce) - 1)
	return nil
}

func (c *Client) persistNonce(ctx context.Context, nonce uint64) {
	if c.nonceStore == nil || c.nonceKey == "" {
		return
	}
	if err := c.nonceStore.Set(ctx, c.nonceKey, strconv.FormatUint(nonce, 10)); err != nil && c.log != nil {
		c.log.Warn("nonce persistence failed", zap.String("category", "persistence"), zap.Error(err))
	}
}

// FeeSuggestion implements spec §4.1's fee policy: base = latest gas
// price; priority = max(0.01 gwei, reported priority fee, 10% of base);
// both multiplied by 1.01. Falls back to fixed values on RPC failure.
func (c *Client) FeeSuggestion(ctx context.Context) (maxFee *big.Int, priorityFee *big.Int, err error) {
	base, baseErr := c.eth.SuggestGasPrice(ctx)
	tip, tipErr := c.eth.SuggestGasTipCap(ctx)
	if baseErr != nil || tipErr != nil {
		return gweiToWei(fallbackMaxFeeGwei), gweiToWei(fallbackPriorityFeeGwei), nil
	}

	minTip := gweiToWei(minPriorityFeeGwei)
	tenPctBase := new(big.Int).Div(base, big.NewInt(10))
	priority := tip
	if minTip.Cmp(priority) > 0 {
		priority = minTip
	}
	if tenPctBase.Cmp(priority) > 0 {
		priority = tenPctBase
	}

	maxFee = applyMultiplier(base, feeMultiplier)
	priorityFee = applyMultiplier(priority, feeMultiplier)
	return maxFee, priorityFee, nil
}

// Submit signs and sends a type-2 transaction, retrying up to
// maxRetries times per spec §4.1: re-fetch nonce on "nonce too
// low"/"nonce expired"; sleep 250ms and retry on generic network
// errors; anything else is terminal. Each attempt rebuilds the fee
// suggestion.
func (c *Client) Submit(ctx context.Context, req CallRequest, maxRetries int) (*types.Receipt, error) {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		maxFee, priorityFee, err := c.FeeSuggestion(ctx)
		if err != nil {
			return nil, err
		}
		nonce := c.NextNonce()
		tx := types.NewTx(&types.DynamicFeeTx{
			ChainID:   c.chainID,
			Nonce:     nonce,
			GasTipCap: priorityFee,
			GasFeeCap: maxFee,
			Gas:       req.GasLimit,
			To:        &req.To,
			Value:     valueOrZero(req.Value),
			Data:      req.Data,
		})
		signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.privKey)
		if err != nil {
			return nil, err
		}
		if err := c.eth.SendTransaction(ctx, signed); err != nil {
			lastErr = err
			if isNonceError(err) {
				if rerr := c.ResyncNonce(ctx); rerr != nil && c.log != nil {
					c.log.Warn("nonce resync failed", zap.Error(rerr))
				}
				continue
			}
			if isTransientError(err) {
				time.Sleep(submitRetrySleep)
				continue
			}
			return nil, err
		}
		c.persistNonce(ctx, nonce)
		receipt, err := bindWaitMined(ctx, c.eth, signed)
		if err != nil {
			lastErr = err
			if isTransientError(err) {
				time.Sleep(submitRetrySleep)
				continue
			}
			return nil, err
		}
		return receipt, nil
	}
	return nil, lastErr
}

// BalanceOf reads an ERC-20 balance as a raw integer.
func (c *Client) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	data := append(append([]byte{}, selectorBalanceOf...), common.LeftPadBytes(owner.Bytes(), 32)...)
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return big.NewInt(0), nil
	}
	return new(big.Int).SetBytes(out), nil
}

// NativeBalance reads the chain's native-asset balance.
func (c *Client) NativeBalance(ctx context.Context, owner common.Address) (*big.Int, error) {
	return c.eth.BalanceAt(ctx, owner, nil)
}

// Decimals reads an ERC-20's decimals field.
func (c *Client) Decimals(ctx context.Context, token common.Address) (uint8, error) {
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &token, Data: selectorDecimals}, nil)
	if err != nil {
		return 0, err
	}
	if len(out) == 0 {
		return 0, errors.New("decimals: empty result")
	}
	return uint8(new(big.Int).SetBytes(out).Uint64()), nil
}

// CallRaw performs an eth_call against to with the given calldata and
// returns the raw result, for contract reads this package doesn't
// otherwise expose a typed helper for.
func (c *Client) CallRaw(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return c.eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
}

// Allowance reads allowance(owner, spender) for an ERC-20.
func (c *Client) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	data := make([]byte, 0, 4+32+32)
	data = append(data, selectorAllowance...)
	data = append(data, common.LeftPadBytes(owner.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(spender.Bytes(), 32)...)
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return big.NewInt(0), nil
	}
	return new(big.Int).SetBytes(out), nil
}

// Approve submits approve(spender, amount) for an ERC-20, through the
// standard retrying submission path.
func (c *Client) Approve(ctx context.Context, token, spender common.Address, amount *big.Int) (*types.Receipt, error) {
	data := make([]byte, 0, 4+32+32)
	data = append(data, selectorApprove...)
	data = append(data, common.LeftPadBytes(spender.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(amount.Bytes(), 32)...)
	return c.Submit(ctx, CallRequest{To: token, Data: data, GasLimit: 80_000}, 3)
}

func applyMultiplier(v *big.Int, mul float64) *big.Int {
	f := new(big.Float).SetInt(v)
	f.Mul(f, big.NewFloat(mul))
	result, _ := f.Int(nil)
	return result
}

func gweiToWei(gwei float64) *big.Int {
	f := new(big.Float).Mul(big.NewFloat(gwei), big.NewFloat(1e9))
	result, _ := f.Int(nil)
	return result
}

func valueOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}

func isNonceError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "nonce too low") || strings.Contains(msg, "nonce expired") || strings.Contains(msg, "replacement transaction underpriced")
}

func isTransientError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "connection") || strings.Contains(msg, "eof") || strings.Contains(msg, "temporarily unavailable")
}

// bindWaitMined polls for a mined receipt, the same shape as
// accounts/abi/bind.WaitMined without importing the bind package just
// for this one helper.
func bindWaitMined(ctx context.Context, eth *ethclient.Client, tx *types.Transaction) (*types.Receipt, error) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		receipt, err := eth.TransactionReceipt(ctx, tx.Hash())
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
