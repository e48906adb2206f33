// Package approval ensures ERC-20 and Permit2 allowances are in place
// before a swap is submitted (spec §4.2).
package approval

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"evm-swap-agent/internal/chain"
)

const (
	allowanceReadRetries = 3
	allowanceReadDelay   = time.Second
)

var (
	maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	maxUint160 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 160), big.NewInt(1))
)

// Manager issues ERC-20 and Permit2 approvals through a chain.Client.
type Manager struct {
	client *chain.Client
	log    *zap.Logger
}

func New(client *chain.Client, log *zap.Logger) *Manager {
	return &Manager{client: client, log: log}
}

// EnsureERC20Approval guarantees token's allowance(owner, spender) is at
// least amount, approving for uint256::MAX if not (spec §4.2). Allowance
// reads retry up to 3 times, 1s apart, before giving up.
func (m *Manager) EnsureERC20Approval(ctx context.Context, token, spender common.Address, amount *big.Int) error {
	allowance, err := m.readAllowanceWithRetry(ctx, token, m.client.Address(), spender)
	if err != nil {
		return fmt.Errorf("approval: read allowance: %w", err)
	}
	if allowance.Cmp(amount) >= 0 {
		return nil
	}
	m.log.Info("submitting erc20 approval",
		zap.String("category", "approval"),
		zap.String("token", token.Hex()),
		zap.String("spender", spender.Hex()))
	receipt, err := m.client.Approve(ctx, token, spender, maxUint256)
	if err != nil {
		return fmt.Errorf("approval: submit erc20 approve: %w", err)
	}
	if receipt.Status == 0 {
		return fmt.Errorf("approval: erc20 approve reverted, tx %s", receipt.TxHash.Hex())
	}
	return nil
}

// EnsurePermit2Approval guarantees the Permit2 contract's
// allowance(owner, token, spender) covers amount by first ensuring the
// standard ERC-20 allowance of Permit2 itself, then, when the Permit2
// allowance is short or expired, calling Permit2's
// approve(token, spender, amount, expiration) with the maximum uint160
// amount and an expiration 30 days out (spec §4.2). No signed permit is
// used; swaps spend through this on-chain Permit2 allowance.
func (m *Manager) EnsurePermit2Approval(ctx context.Context, token, permit2, spender common.Address, amount *big.Int) error {
	if err := m.EnsureERC20Approval(ctx, token, permit2, maxUint256); err != nil {
		return err
	}
	allowance, expiration, err := m.readPermit2AllowanceWithRetry(ctx, permit2, token, spender)
	if err != nil {
		return fmt.Errorf("approval: read permit2 allowance: %w", err)
	}
	// Spec §4.2: only skip re-approval when the amount is sufficient AND
	// the existing grant hasn't expired.
	if allowance.Cmp(amount) >= 0 && expiration > uint64(time.Now().Unix()) {
		return nil
	}
	m.log.Info("submitting permit2 approval",
		zap.String("category", "approval"),
		zap.String("token", token.Hex()),
		zap.String("spender", spender.Hex()))
	data := encodePermit2Approve(token, spender, maxUint160)
	receipt, err := m.client.Submit(ctx, chain.CallRequest{To: permit2, Data: data, GasLimit: 100_000}, 3)
	if err != nil {
		return fmt.Errorf("approval: submit permit2 approve: %w", err)
	}
	if receipt.Status == 0 {
		return fmt.Errorf("approval: permit2 approve reverted, tx %s", receipt.TxHash.Hex())
	}
	return nil
}

func (m *Manager) readAllowanceWithRetry(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	var lastErr error
	for attempt := 1; attempt <= allowanceReadRetries; attempt++ {
		allowance, err := m.client.Allowance(ctx, token, owner, spender)
		if err == nil {
			return allowance, nil
		}
		lastErr = err
		if attempt < allowanceReadRetries {
			time.Sleep(allowanceReadDelay)
		}
	}
	return nil, lastErr
}

func (m *Manager) readPermit2AllowanceWithRetry(ctx context.Context, permit2, token, spender common.Address) (amount *big.Int, expiration uint64, err error) {
	var lastErr error
	for attempt := 1; attempt <= allowanceReadRetries; attempt++ {
		amount, expiration, _, err = m.permit2Allowance(ctx, permit2, token, spender)
		if err == nil {
			return amount, expiration, nil
		}
		lastErr = err
		if attempt < allowanceReadRetries {
			time.Sleep(allowanceReadDelay)
		}
	}
	return nil, 0, lastErr
}

// permit2Allowance calls Permit2.allowance(owner, token, spender) ->
// (uint160 amount, uint48 expiration, uint48 nonce).
func (m *Manager) permit2Allowance(ctx context.Context, permit2, token, spender common.Address) (amount *big.Int, expiration uint64, nonce uint64, err error) {
	data := encodePermit2AllowanceCall(m.client.Address(), token, spender)
	out, err := m.client.CallRaw(ctx, permit2, data)
	if err != nil {
		return nil, 0, 0, err
	}
	if len(out) < 96 {
		return big.NewInt(0), 0, 0, nil
	}
	amount = new(big.Int).SetBytes(out[0:32])
	expiration = new(big.Int).SetBytes(out[32:64]).Uint64()
	nonce = new(big.Int).SetBytes(out[64:96]).Uint64()
	return amount, expiration, nonce, nil
}
