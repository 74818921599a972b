package curve

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curvelabs/launchpad/internal/domain"
)

// testConfig mirrors the reference launch parameters: p0=0.00001,
// p1=0.0001, max supply 10,000,000 tokens, graduation at 8,000 reserve.
func testConfig() domain.CurveConfig {
	return domain.CurveConfig{
		StartPrice:          big.NewInt(10_000_000_000_000),  // 1e13 = 0.00001 * 1e18
		EndPrice:            big.NewInt(100_000_000_000_000), // 1e14 = 0.0001 * 1e18
		MaxSupply:           whole(10_000_000),
		GraduationThreshold: whole(8_000),
	}
}

// whole converts a whole-token count to base units.
func whole(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), Scale)
}

func TestPriceEndpointsAndMonotonicity(t *testing.T) {
	cfg := testConfig()

	p, err := Price(cfg, big.NewInt(0))
	require.NoError(t, err)
	assert.Zero(t, p.Cmp(cfg.StartPrice), "price(0) must equal p0")

	p, err = Price(cfg, cfg.MaxSupply)
	require.NoError(t, err)
	assert.Zero(t, p.Cmp(cfg.EndPrice), "price(maxSupply) must equal p1")

	prev := new(big.Int).Set(cfg.StartPrice)
	step := new(big.Int).Quo(cfg.MaxSupply, big.NewInt(20))
	for s := new(big.Int).Set(step); s.Cmp(cfg.MaxSupply) <= 0; s.Add(s, step) {
		p, err := Price(cfg, s)
		require.NoError(t, err)
		assert.True(t, p.Cmp(prev) >= 0, "price must be non-decreasing at %s", s)
		prev = p
	}
}

func TestBuySellRoundTripIsExactBeforeFees(t *testing.T) {
	cfg := testConfig()
	sold := whole(1_234_567)
	amount := whole(42_000)

	cost, err := Cost(cfg, sold, amount)
	require.NoError(t, err)

	after := new(big.Int).Add(sold, amount)
	back, err := Sell(cfg, after, amount)
	require.NoError(t, err)

	assert.Zero(t, cost.Cmp(back), "buy integral and sell integral must agree: cost=%s back=%s", cost, back)
}

func TestReferenceScenarioBuyAndSell(t *testing.T) {
	cfg := testConfig()
	reserveIn := whole(100)

	// 5% fee on the way in.
	fee, creator, platform := SplitFee(reserveIn, 500, 7000)
	assert.Zero(t, new(big.Int).Add(creator, platform).Cmp(fee), "fee split must sum to the whole fee")
	net := new(big.Int).Sub(reserveIn, fee)

	quote, err := Buy(cfg, big.NewInt(0), net)
	require.NoError(t, err)
	require.True(t, quote.TokensOut.Sign() > 0)
	assert.Zero(t, quote.Remainder.Sign(), "unclamped buy has no remainder")

	// Average price must sit between the spot price before and after.
	avg := new(big.Int).Mul(net, Scale)
	avg.Quo(avg, quote.TokensOut)
	after, err := Price(cfg, quote.TokensOut)
	require.NoError(t, err)
	assert.True(t, avg.Cmp(cfg.StartPrice) > 0, "avg %s must exceed p0", avg)
	assert.True(t, avg.Cmp(after) < 0, "avg %s must be below post-trade price %s", avg, after)

	// Sell everything back with another 5% fee: total loss must land in
	// (9%, 11%) of the original input.
	gross, err := Sell(cfg, quote.TokensOut, quote.TokensOut)
	require.NoError(t, err)
	sellFee, _, _ := SplitFee(gross, 500, 7000)
	out := new(big.Int).Sub(gross, sellFee)

	loss := new(big.Int).Sub(reserveIn, out)
	lossBps := new(big.Int).Mul(loss, big.NewInt(10_000))
	lossBps.Quo(lossBps, reserveIn)
	assert.True(t, lossBps.Cmp(big.NewInt(900)) >= 0, "loss %s bps below 9%%", lossBps)
	assert.True(t, lossBps.Cmp(big.NewInt(1100)) <= 0, "loss %s bps above 11%%", lossBps)
}

func TestBuyClampsAtSupplyCap(t *testing.T) {
	cfg := testConfig()
	sold := new(big.Int).Sub(cfg.MaxSupply, whole(10))

	quote, err := Buy(cfg, sold, whole(500))
	require.NoError(t, err)

	assert.Zero(t, quote.TokensOut.Cmp(whole(10)), "fill must clamp to the remaining supply")
	end := new(big.Int).Add(sold, quote.TokensOut)
	assert.Zero(t, end.Cmp(cfg.MaxSupply), "tokens sold must land exactly on the cap")

	assert.True(t, quote.Remainder.Sign() > 0, "caller must be told about the unspent input")
	total := new(big.Int).Add(quote.Spent, quote.Remainder)
	assert.Zero(t, total.Cmp(whole(500)), "spent + remainder must equal the input")
}

func TestBuyOnSoldOutCurve(t *testing.T) {
	cfg := testConfig()
	_, err := Buy(cfg, cfg.MaxSupply, whole(1))
	assert.ErrorIs(t, err, domain.ErrInsufficientSupply)
}

func TestSellMoreThanSold(t *testing.T) {
	cfg := testConfig()
	_, err := Sell(cfg, whole(5), whole(6))
	assert.ErrorIs(t, err, domain.ErrInsufficientSupply)
}

func TestCanGraduateBoundary(t *testing.T) {
	cfg := testConfig()
	g := cfg.GraduationThreshold

	below := new(big.Int).Sub(g, big.NewInt(1))
	assert.False(t, CanGraduate(cfg, below))
	assert.True(t, CanGraduate(cfg, g))
	assert.True(t, CanGraduate(cfg, new(big.Int).Add(g, big.NewInt(1))))
}

func TestInvalidInputsFailLoudly(t *testing.T) {
	cfg := testConfig()

	_, err := Price(cfg, big.NewInt(-1))
	assert.ErrorIs(t, err, domain.ErrInvalidCurveState)

	over := new(big.Int).Add(cfg.MaxSupply, big.NewInt(1))
	_, err = Price(cfg, over)
	assert.ErrorIs(t, err, domain.ErrInvalidCurveState)

	_, err = Buy(cfg, big.NewInt(0), big.NewInt(0))
	assert.ErrorIs(t, err, domain.ErrInvalidCurveState)

	_, err = Sell(cfg, whole(10), big.NewInt(-5))
	assert.ErrorIs(t, err, domain.ErrInvalidCurveState)

	bad := cfg
	bad.EndPrice = cfg.StartPrice // p1 must strictly exceed p0
	_, err = Price(bad, big.NewInt(0))
	assert.ErrorIs(t, err, domain.ErrInvalidCurveState)
}

func TestSplitFeeRounding(t *testing.T) {
	// An awkward gross amount: the creator share floors and the platform
	// picks up the dust, so the parts always reassemble the fee exactly.
	gross := big.NewInt(1_000_003)
	fee, creator, platform := SplitFee(gross, 500, 7000)

	assert.Zero(t, new(big.Int).Add(creator, platform).Cmp(fee))
	assert.True(t, fee.Cmp(gross) < 0)
}
