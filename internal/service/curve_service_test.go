package service

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curvelabs/launchpad/internal/domain"
)

const trader = "0x00000000000000000000000000000000000000dd"

func TestCreateAgentValidatesConfig(t *testing.T) {
	env := newTestEnv(t)

	bad := testCurveConfig()
	bad.EndPrice = bad.StartPrice
	_, err := env.curve.CreateAgent(context.Background(), CreateAgentParams{
		Name: "x", Symbol: "X", Creator: trader, Config: bad,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidCurveState)

	_, err = env.curve.CreateAgent(context.Background(), CreateAgentParams{
		Symbol: "X", Creator: trader, Config: testCurveConfig(),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidCurveState)
}

func TestBuyUpdatesCurveHoldingAndRevenue(t *testing.T) {
	env := newTestEnv(t)
	agent := env.createAgent(t)
	ctx := context.Background()

	trade, err := env.curve.Buy(ctx, agent.ID, trader, whole(10), BuyOpts{})
	require.NoError(t, err)

	assert.Equal(t, domain.TradeBuy, trade.Side)
	assert.True(t, trade.AmountOut.Sign() > 0)
	assert.True(t, trade.Fee.Sign() > 0)
	assert.Zero(t, trade.Refund.Sign())

	reloaded, err := env.agents.GetByID(ctx, agent.ID)
	require.NoError(t, err)
	assert.Zero(t, reloaded.TokensSold.Cmp(trade.AmountOut))
	net := new(big.Int).Sub(whole(10), trade.Fee)
	assert.Zero(t, reloaded.Reserve.Cmp(net), "reserve must hold the net input")
	assert.Equal(t, domain.CurveActive, reloaded.Phase)

	holding, err := env.holdings.Get(ctx, agent.ID, trader)
	require.NoError(t, err)
	assert.Zero(t, holding.Balance.Cmp(trade.AmountOut))

	trades, err := env.curve.ListTrades(ctx, agent.ID, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, trades, 1)

	// The fee split must have produced a distribution event and two payouts.
	assert.Equal(t, 1, env.bus.count("revenue"))
	calls := env.chain.Calls()
	payouts := 0
	for _, c := range calls {
		if c.Method == "Payout" {
			payouts++
		}
	}
	assert.Equal(t, 2, payouts)
}

func TestBuyRejectedWhileLockHeld(t *testing.T) {
	env := newTestEnv(t)
	agent := env.createAgent(t)
	env.locks.FailNext = 1

	_, err := env.curve.Buy(context.Background(), agent.ID, trader, whole(1), BuyOpts{})
	assert.ErrorIs(t, err, domain.ErrLockHeld)
}

func TestBuyAcrossThresholdNeedsConfirmation(t *testing.T) {
	env := newTestEnv(t)
	agent := env.createAgent(t)
	ctx := context.Background()

	// Net input of 60-3 = 57 crosses the threshold of 50.
	_, err := env.curve.Buy(ctx, agent.ID, trader, whole(60), BuyOpts{})
	assert.ErrorIs(t, err, domain.ErrThresholdCrossed)

	// Nothing committed by the rejected attempt.
	reloaded, err := env.agents.GetByID(ctx, agent.ID)
	require.NoError(t, err)
	assert.Zero(t, reloaded.TokensSold.Sign())

	trade, err := env.curve.Buy(ctx, agent.ID, trader, whole(60), BuyOpts{ConfirmGraduation: true})
	require.NoError(t, err)
	assert.True(t, trade.AmountOut.Sign() > 0)

	reloaded, err = env.agents.GetByID(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CurveGraduating, reloaded.Phase)

	// The frozen curve refuses further trades.
	_, err = env.curve.Buy(ctx, agent.ID, trader, whole(1), BuyOpts{})
	assert.ErrorIs(t, err, domain.ErrInvalidCurveState)
	_, err = env.curve.Sell(ctx, agent.ID, trader, whole(1))
	assert.ErrorIs(t, err, domain.ErrInvalidCurveState)
}

func TestTradeCanonicalizesTraderAddress(t *testing.T) {
	env := newTestEnv(t)
	agent := env.createAgent(t)
	ctx := context.Background()

	// The same wallet in two hex casings must land on one holdings row.
	first, err := env.curve.Buy(ctx, agent.ID, "0x00000000000000000000000000000000000000AB", whole(5), BuyOpts{})
	require.NoError(t, err)
	second, err := env.curve.Buy(ctx, agent.ID, "0x00000000000000000000000000000000000000ab", whole(5), BuyOpts{})
	require.NoError(t, err)

	canonical := "0x00000000000000000000000000000000000000ab"
	assert.Equal(t, canonical, first.Trader)
	assert.Equal(t, canonical, second.Trader)

	holding, err := env.holdings.Get(ctx, agent.ID, canonical)
	require.NoError(t, err)
	total := new(big.Int).Add(first.AmountOut, second.AmountOut)
	assert.Zero(t, holding.Balance.Cmp(total), "both buys accumulate on the canonical address")

	// The combined position sells back in one piece.
	_, err = env.curve.Sell(ctx, agent.ID, "0x00000000000000000000000000000000000000Ab", total)
	require.NoError(t, err)
}

func TestTradeRejectsMalformedAddress(t *testing.T) {
	env := newTestEnv(t)
	agent := env.createAgent(t)
	ctx := context.Background()

	for _, bad := range []string{"not-an-address", "0x1234", "0xzz000000000000000000000000000000000000zz"} {
		_, err := env.curve.Buy(ctx, agent.ID, bad, whole(1), BuyOpts{})
		assert.ErrorIs(t, err, domain.ErrInvalidAddress, bad)
		_, err = env.curve.Sell(ctx, agent.ID, bad, whole(1))
		assert.ErrorIs(t, err, domain.ErrInvalidAddress, bad)
	}

	_, err := env.curve.CreateAgent(ctx, CreateAgentParams{
		Name: "x", Symbol: "X", Creator: "creator", Config: testCurveConfig(),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidAddress)

	_, err = env.curve.GetHolding(ctx, agent.ID, "0x1234")
	assert.ErrorIs(t, err, domain.ErrInvalidAddress)

	reloaded, err := env.agents.GetByID(ctx, agent.ID)
	require.NoError(t, err)
	assert.Zero(t, reloaded.TokensSold.Sign(), "rejected trades commit nothing")
}

func TestBuyGatesReserveAlreadyPastThreshold(t *testing.T) {
	env := newTestEnv(t)
	agent := env.createAgent(t)
	ctx := context.Background()

	// An active agent whose reserve already sits past the threshold, as after
	// an operator reset of a failed graduation.
	agent.Reserve = whole(60)
	require.NoError(t, env.agents.UpdateState(ctx, agent))

	_, err := env.curve.Buy(ctx, agent.ID, trader, whole(1), BuyOpts{})
	assert.ErrorIs(t, err, domain.ErrThresholdCrossed, "next buy still needs confirmation")

	_, err = env.curve.Buy(ctx, agent.ID, trader, whole(1), BuyOpts{ConfirmGraduation: true})
	require.NoError(t, err)

	reloaded, err := env.agents.GetByID(ctx, agent.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CurveGraduating, reloaded.Phase)
}

func TestSellRequiresSufficientHolding(t *testing.T) {
	env := newTestEnv(t)
	agent := env.createAgent(t)
	ctx := context.Background()

	_, err := env.curve.Sell(ctx, agent.ID, trader, whole(1))
	assert.ErrorIs(t, err, domain.ErrInsufficientHolding)

	bought, err := env.curve.Buy(ctx, agent.ID, trader, whole(10), BuyOpts{})
	require.NoError(t, err)

	tooMany := new(big.Int).Add(bought.AmountOut, big.NewInt(1))
	_, err = env.curve.Sell(ctx, agent.ID, trader, tooMany)
	assert.ErrorIs(t, err, domain.ErrInsufficientHolding)
}

func TestSellReturnsReserveMinusFee(t *testing.T) {
	env := newTestEnv(t)
	agent := env.createAgent(t)
	ctx := context.Background()

	bought, err := env.curve.Buy(ctx, agent.ID, trader, whole(10), BuyOpts{})
	require.NoError(t, err)

	sold, err := env.curve.Sell(ctx, agent.ID, trader, bought.AmountOut)
	require.NoError(t, err)

	assert.Equal(t, domain.TradeSell, sold.Side)
	assert.True(t, sold.AmountOut.Sign() > 0)
	assert.True(t, sold.Fee.Sign() > 0)

	reloaded, err := env.agents.GetByID(ctx, agent.ID)
	require.NoError(t, err)
	assert.Zero(t, reloaded.TokensSold.Sign(), "curve back to empty")

	holding, err := env.holdings.Get(ctx, agent.ID, trader)
	require.NoError(t, err)
	assert.Zero(t, holding.Balance.Sign(), "trader back to zero tokens")

	// Round trip pays the fee twice, so the trader gets back less than the
	// original input.
	assert.True(t, sold.AmountOut.Cmp(whole(10)) < 0)
}

func TestQuoteMatchesExecution(t *testing.T) {
	env := newTestEnv(t)
	agent := env.createAgent(t)
	ctx := context.Background()

	q, err := env.curve.QuoteBuy(ctx, agent.ID, whole(10))
	require.NoError(t, err)

	trade, err := env.curve.Buy(ctx, agent.ID, trader, whole(10), BuyOpts{})
	require.NoError(t, err)

	assert.Zero(t, q.AmountOut.Cmp(trade.AmountOut), "quote and execution must agree on a quiet curve")
	assert.Zero(t, q.Fee.Cmp(trade.Fee))
}
