// Package evm implements domain.ChainClient against the launchpad settlement
// contract on an EVM chain.
package evm

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/curvelabs/launchpad/internal/domain"
)

const (
	// Conservative upper bounds used when estimation fails.
	initGasLimit    = uint64(500_000)
	airdropGasLimit = uint64(3_000_000)
	payoutGasLimit  = uint64(30_000)

	receiptPollInterval = 3 * time.Second
)

var launchpadABI abi.ABI

func init() {
	var err error
	launchpadABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "initializeGraduation",
			"type": "function",
			"inputs": [
				{"name": "agentId", "type": "bytes32"},
				{"name": "totalHolderTokens", "type": "uint256"},
				{"name": "totalRewardTokens", "type": "uint256"},
				{"name": "snapshotRef", "type": "uint64"},
				{"name": "snapshotHash", "type": "bytes32"},
				{"name": "name", "type": "string"},
				{"name": "symbol", "type": "string"}
			],
			"outputs": []
		},
		{
			"name": "airdropBatch",
			"type": "function",
			"inputs": [
				{"name": "agentId", "type": "bytes32"},
				{"name": "recipients", "type": "address[]"},
				{"name": "amounts", "type": "uint256[]"}
			],
			"outputs": []
		},
		{
			"name": "airdropProgress",
			"type": "function",
			"inputs": [{"name": "agentId", "type": "bytes32"}],
			"outputs": [
				{"name": "expected", "type": "uint256"},
				{"name": "minted", "type": "uint256"}
			]
		}
	]`))
	if err != nil {
		panic("launchpad abi parse: " + err.Error())
	}
}

// Config holds connection and signing parameters for the EVM client.
type Config struct {
	RPCURL          string
	ContractAddress string
	ChainID         int64
	// PrivateKeyHex is the settlement operator key, without 0x prefix.
	PrivateKeyHex  string
	ConfirmTimeout time.Duration
}

// Client talks to the launchpad settlement contract.
type Client struct {
	eth            *ethclient.Client
	contract       common.Address
	chainID        *big.Int
	privateKey     []byte
	from           common.Address
	confirmTimeout time.Duration

	mu    sync.Mutex // serialises nonce assignment
	nonce uint64
}

// New dials the RPC endpoint and prepares the signing identity.
func New(cfg Config) (*Client, error) {
	pkBytes, err := hex.DecodeString(strings.TrimPrefix(cfg.PrivateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("evm: decode private key: %w", err)
	}
	privKey, err := crypto.ToECDSA(pkBytes)
	if err != nil {
		return nil, fmt.Errorf("evm: invalid private key: %w", err)
	}

	eth, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("evm: dial rpc %s: %w", cfg.RPCURL, err)
	}

	confirmTimeout := cfg.ConfirmTimeout
	if confirmTimeout == 0 {
		confirmTimeout = 60 * time.Second
	}

	return &Client{
		eth:            eth,
		contract:       common.HexToAddress(cfg.ContractAddress),
		chainID:        big.NewInt(cfg.ChainID),
		privateKey:     pkBytes,
		from:           crypto.PubkeyToAddress(privKey.PublicKey),
		confirmTimeout: confirmTimeout,
	}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// agentKey maps a launchpad agent ID onto the contract's bytes32 key space.
func agentKey(agentID string) [32]byte {
	var key [32]byte
	copy(key[:], crypto.Keccak256([]byte(agentID)))
	return key
}

// InitializeGraduation registers the distribution totals and snapshot hash
// with the contract.
func (c *Client) InitializeGraduation(ctx context.Context, agentID string, totalHolderTokens, totalRewardTokens *big.Int, snapshotRef uint64, snapshotHash [32]byte, name, symbol string) (string, error) {
	callData, err := launchpadABI.Pack("initializeGraduation",
		agentKey(agentID), totalHolderTokens, totalRewardTokens,
		snapshotRef, snapshotHash, name, symbol,
	)
	if err != nil {
		return "", fmt.Errorf("evm: pack initializeGraduation: %w", err)
	}
	return c.sendAndConfirm(ctx, c.contract, big.NewInt(0), callData, initGasLimit)
}

// AirdropBatch mints one batch of recipients. The contract enforces strict
// batch ordering per agent.
func (c *Client) AirdropBatch(ctx context.Context, agentID string, recipients []string, amounts []*big.Int) (string, error) {
	if len(recipients) != len(amounts) {
		return "", fmt.Errorf("evm: airdrop batch: %d recipients vs %d amounts", len(recipients), len(amounts))
	}

	addrs := make([]common.Address, len(recipients))
	for i, r := range recipients {
		if !common.IsHexAddress(r) {
			return "", fmt.Errorf("%w: bad recipient address %q", domain.ErrExternalLedger, r)
		}
		addrs[i] = common.HexToAddress(r)
	}

	callData, err := launchpadABI.Pack("airdropBatch", agentKey(agentID), addrs, amounts)
	if err != nil {
		return "", fmt.Errorf("evm: pack airdropBatch: %w", err)
	}
	return c.sendAndConfirm(ctx, c.contract, big.NewInt(0), callData, airdropGasLimit)
}

// GetAirdropProgress reads the contract's authoritative distribution state.
func (c *Client) GetAirdropProgress(ctx context.Context, agentID string) (domain.AirdropProgress, error) {
	callData, err := launchpadABI.Pack("airdropProgress", agentKey(agentID))
	if err != nil {
		return domain.AirdropProgress{}, fmt.Errorf("evm: pack airdropProgress: %w", err)
	}

	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{
		To:   &c.contract,
		Data: callData,
	}, nil)
	if err != nil {
		return domain.AirdropProgress{}, fmt.Errorf("%w: airdrop progress call: %v", domain.ErrExternalLedger, err)
	}

	vals, err := launchpadABI.Unpack("airdropProgress", out)
	if err != nil || len(vals) < 2 {
		return domain.AirdropProgress{}, fmt.Errorf("%w: unpack airdrop progress: %v", domain.ErrExternalLedger, err)
	}

	expected := vals[0].(*big.Int)
	minted := vals[1].(*big.Int)
	return domain.AirdropProgress{
		ExpectedTotal: expected,
		MintedTotal:   minted,
		Remaining:     new(big.Int).Sub(expected, minted),
		Complete:      expected.Sign() > 0 && minted.Cmp(expected) >= 0,
	}, nil
}

// Payout transfers reserve currency to a fee beneficiary.
func (c *Client) Payout(ctx context.Context, recipient string, amount *big.Int) (string, error) {
	if !common.IsHexAddress(recipient) {
		return "", fmt.Errorf("%w: bad payout address %q", domain.ErrExternalLedger, recipient)
	}
	return c.sendAndConfirm(ctx, common.HexToAddress(recipient), amount, nil, payoutGasLimit)
}

// BlockNumber returns the latest confirmed block.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	n, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: block number: %v", domain.ErrExternalLedger, err)
	}
	return n, nil
}

// sendAndConfirm builds, signs, and submits a transaction, then waits for its
// receipt. A context timeout while waiting returns the context error with the
// transaction hash already assigned on-chain; callers must reconcile rather
// than resubmit.
func (c *Client) sendAndConfirm(ctx context.Context, to common.Address, value *big.Int, callData []byte, gasCeiling uint64) (string, error) {
	privKey, err := crypto.ToECDSA(c.privateKey)
	if err != nil {
		return "", fmt.Errorf("evm: private key: %w", err)
	}

	c.mu.Lock()
	nonce, err := c.eth.PendingNonceAt(ctx, c.from)
	if err != nil {
		c.mu.Unlock()
		return "", fmt.Errorf("%w: nonce: %v", domain.ErrExternalLedger, err)
	}
	if nonce < c.nonce {
		nonce = c.nonce
	}
	c.nonce = nonce + 1
	c.mu.Unlock()

	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: gas price: %v", domain.ErrExternalLedger, err)
	}

	gasLimit := gasCeiling
	if callData != nil {
		estimate, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{
			From:     c.from,
			To:       &to,
			Value:    value,
			GasPrice: gasPrice,
			Data:     callData,
		})
		if err == nil {
			gasLimit = estimate * 12 / 10
			if gasLimit > gasCeiling {
				gasLimit = gasCeiling
			}
		}
	}

	tx := types.NewTransaction(nonce, to, value, gasLimit, gasPrice, callData)
	signed, err := types.SignTx(tx, types.NewEIP155Signer(c.chainID), privKey)
	if err != nil {
		return "", fmt.Errorf("evm: sign tx: %w", err)
	}

	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("%w: send tx: %v", domain.ErrExternalLedger, err)
	}
	txHash := signed.Hash()

	confirmCtx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()

	receipt, err := c.waitForReceipt(confirmCtx, txHash)
	if err != nil {
		// Outcome unknown: the tx is in the mempool and may still confirm.
		return txHash.Hex(), fmt.Errorf("evm: confirm %s: %w", txHash.Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return txHash.Hex(), fmt.Errorf("%w: tx %s reverted", domain.ErrExternalLedger, txHash.Hex())
	}
	return txHash.Hex(), nil
}

func (c *Client) waitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			receipt, err := c.eth.TransactionReceipt(ctx, txHash)
			if err != nil {
				continue // not yet mined
			}
			return receipt, nil
		}
	}
}

// Compile-time interface check.
var _ domain.ChainClient = (*Client)(nil)
