// Package stub provides a scripted in-process ChainClient used by tests and
// paper mode. Every call is recorded; failures and timeouts can be injected
// per method to exercise reconciliation paths.
package stub

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/curvelabs/launchpad/internal/domain"
)

// Call records one invocation against the stub.
type Call struct {
	Method  string
	AgentID string
	Count   int // recipients per airdrop batch
}

// Client implements domain.ChainClient entirely in memory.
type Client struct {
	mu sync.Mutex

	// FailNext maps a method name to the number of upcoming calls that must
	// return an error. "timeout" entries return context.DeadlineExceeded
	// after recording the mint, simulating an unknown outcome.
	FailNext    map[string]int
	TimeoutNext map[string]int

	calls    []Call
	expected map[string]*big.Int
	minted   map[string]*big.Int
	block    uint64
	txSeq    int
}

// New creates an empty stub chain.
func New() *Client {
	return &Client{
		FailNext:    make(map[string]int),
		TimeoutNext: make(map[string]int),
		expected:    make(map[string]*big.Int),
		minted:      make(map[string]*big.Int),
		block:       100,
	}
}

// Calls returns a copy of the recorded call log.
func (c *Client) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.calls...)
}

// Minted returns the total minted for an agent.
func (c *Client) Minted(agentID string) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.minted[agentID]
	if !ok {
		return new(big.Int)
	}
	return new(big.Int).Set(m)
}

func (c *Client) nextTx() string {
	c.txSeq++
	return fmt.Sprintf("0xstub%04d", c.txSeq)
}

func (c *Client) consume(m map[string]int, method string) bool {
	if m[method] > 0 {
		m[method]--
		return true
	}
	return false
}

// InitializeGraduation records the expected distribution total for the agent.
func (c *Client) InitializeGraduation(_ context.Context, agentID string, totalHolderTokens, totalRewardTokens *big.Int, _ uint64, _ [32]byte, _, _ string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls = append(c.calls, Call{Method: "InitializeGraduation", AgentID: agentID})
	if c.consume(c.FailNext, "InitializeGraduation") {
		return "", fmt.Errorf("%w: initialize rejected", domain.ErrExternalLedger)
	}

	total := new(big.Int).Add(totalHolderTokens, totalRewardTokens)
	c.expected[agentID] = total
	if _, ok := c.minted[agentID]; !ok {
		c.minted[agentID] = new(big.Int)
	}
	tx := c.nextTx()

	if c.consume(c.TimeoutNext, "InitializeGraduation") {
		// State landed on chain but the caller never saw the receipt.
		return tx, fmt.Errorf("stub: confirm %s: %w", tx, context.DeadlineExceeded)
	}
	return tx, nil
}

// AirdropBatch mints the batch total for the agent.
func (c *Client) AirdropBatch(_ context.Context, agentID string, recipients []string, amounts []*big.Int) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls = append(c.calls, Call{Method: "AirdropBatch", AgentID: agentID, Count: len(recipients)})
	if c.consume(c.FailNext, "AirdropBatch") {
		return "", fmt.Errorf("%w: batch rejected", domain.ErrExternalLedger)
	}

	total := new(big.Int)
	for _, a := range amounts {
		total.Add(total, a)
	}
	if _, ok := c.minted[agentID]; !ok {
		c.minted[agentID] = new(big.Int)
	}
	c.minted[agentID].Add(c.minted[agentID], total)
	c.block++
	tx := c.nextTx()

	if c.consume(c.TimeoutNext, "AirdropBatch") {
		return tx, fmt.Errorf("stub: confirm %s: %w", tx, context.DeadlineExceeded)
	}
	return tx, nil
}

// GetAirdropProgress returns the stub chain's authoritative state.
func (c *Client) GetAirdropProgress(_ context.Context, agentID string) (domain.AirdropProgress, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls = append(c.calls, Call{Method: "GetAirdropProgress", AgentID: agentID})
	if c.consume(c.FailNext, "GetAirdropProgress") {
		return domain.AirdropProgress{}, fmt.Errorf("%w: progress unavailable", domain.ErrExternalLedger)
	}

	expected, ok := c.expected[agentID]
	if !ok {
		return domain.AirdropProgress{
			ExpectedTotal: new(big.Int),
			MintedTotal:   new(big.Int),
			Remaining:     new(big.Int),
		}, nil
	}
	minted := c.minted[agentID]
	return domain.AirdropProgress{
		ExpectedTotal: new(big.Int).Set(expected),
		MintedTotal:   new(big.Int).Set(minted),
		Remaining:     new(big.Int).Sub(expected, minted),
		Complete:      minted.Cmp(expected) >= 0,
	}, nil
}

// Payout records a beneficiary transfer.
func (c *Client) Payout(_ context.Context, recipient string, _ *big.Int) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls = append(c.calls, Call{Method: "Payout", AgentID: recipient})
	if c.consume(c.FailNext, "Payout") {
		return "", fmt.Errorf("%w: payout rejected", domain.ErrExternalLedger)
	}
	return c.nextTx(), nil
}

// BlockNumber returns the stub's monotonically increasing block height.
func (c *Client) BlockNumber(_ context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.block++
	return c.block, nil
}

// Compile-time interface check.
var _ domain.ChainClient = (*Client)(nil)
