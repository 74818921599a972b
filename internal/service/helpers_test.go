package service

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/curvelabs/launchpad/internal/chain/stub"
	"github.com/curvelabs/launchpad/internal/domain"
	"github.com/curvelabs/launchpad/internal/store/memory"
)

// stubLocks hands out process-local locks; FailNext simulates contention.
type stubLocks struct {
	mu       sync.Mutex
	FailNext int
	acquired int
}

func (l *stubLocks) Acquire(_ context.Context, _ string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.FailNext > 0 {
		l.FailNext--
		return nil, domain.ErrLockHeld
	}
	l.acquired++
	return func() {}, nil
}

// recordBus captures published events per channel.
type recordBus struct {
	mu     sync.Mutex
	events map[string][][]byte
}

func newRecordBus() *recordBus {
	return &recordBus{events: make(map[string][][]byte)}
}

func (b *recordBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[channel] = append(b.events[channel], payload)
	return nil
}

func (b *recordBus) Subscribe(_ context.Context, _ string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

func (b *recordBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	return b.Publish(ctx, stream, payload)
}

func (b *recordBus) StreamRead(_ context.Context, _ string, _ string, _ int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (b *recordBus) count(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events[channel])
}

// testEnv wires the full service stack against in-memory stores and the stub
// chain.
type testEnv struct {
	agents   *memory.AgentStore
	holdings *memory.HoldingStore
	trades   *memory.TradeStore
	grads    *memory.GraduationStore
	revStore *memory.RevenueStore
	audit    *memory.AuditStore
	chain    *stub.Client
	locks    *stubLocks
	bus      *recordBus

	curve   *CurveService
	grad    *GraduationService
	revenue *RevenueService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		agents:   memory.NewAgentStore(),
		holdings: memory.NewHoldingStore(),
		grads:    memory.NewGraduationStore(),
		revStore: memory.NewRevenueStore(),
		audit:    memory.NewAuditStore(),
		chain:    stub.New(),
		locks:    &stubLocks{},
		bus:      newRecordBus(),
	}
	env.trades = memory.NewTradeStore(env.agents, env.holdings)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	env.revenue = NewRevenueService(env.revStore, env.chain, env.bus, env.audit, logger, RevenueConfig{
		PlatformAddress: "0x00000000000000000000000000000000000000aa",
		MaxRetries:      3,
	})
	env.curve = NewCurveService(env.agents, env.trades, env.holdings, env.revenue,
		env.locks, env.bus, env.audit, logger, CurveConfig{
			FeeBps:        500,
			CreatorFeeBps: 7000,
		})
	env.grad = NewGraduationService(env.agents, env.grads, env.holdings, env.chain,
		env.locks, env.bus, env.audit, logger, GraduationConfig{
			BatchSize: 4,
			RewardBps: 500,
		})
	return env
}

func whole(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func testCurveConfig() domain.CurveConfig {
	return domain.CurveConfig{
		StartPrice:          big.NewInt(10_000_000_000_000),
		EndPrice:            big.NewInt(100_000_000_000_000),
		MaxSupply:           whole(10_000_000),
		GraduationThreshold: whole(50),
	}
}

func (env *testEnv) createAgent(t *testing.T) domain.Agent {
	t.Helper()
	agent, err := env.curve.CreateAgent(context.Background(), CreateAgentParams{
		Name:    "Test Agent",
		Symbol:  "TEST",
		Creator: "0x00000000000000000000000000000000000000cc",
		Config:  testCurveConfig(),
	})
	require.NoError(t, err)
	return agent
}

// seedGraduatingAgent creates an agent already past the threshold with the
// given holder count, ready for Initialize.
func (env *testEnv) seedGraduatingAgent(t *testing.T, holders int) domain.Agent {
	t.Helper()
	agent := env.createAgent(t)

	sold := new(big.Int)
	for i := 0; i < holders; i++ {
		balance := whole(int64(1000 * (i + 1)))
		env.holdings.Seed(agent.ID, testAddr(i), balance)
		sold.Add(sold, balance)
	}

	agent.Phase = domain.CurveGraduating
	agent.TokensSold = sold
	agent.Reserve = whole(60)
	require.NoError(t, env.agents.UpdateState(context.Background(), agent))
	reloaded, err := env.agents.GetByID(context.Background(), agent.ID)
	require.NoError(t, err)
	return reloaded
}

func testAddr(i int) string {
	const hexdigits = "0123456789abcdef"
	b := make([]byte, 0, 42)
	b = append(b, '0', 'x')
	for j := 0; j < 38; j++ {
		b = append(b, '0')
	}
	b = append(b, hexdigits[(i/16)%16], hexdigits[i%16])
	return string(b)
}
