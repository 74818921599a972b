// Package curve implements the linear bonding-curve pricing math. All
// functions are pure and operate on fixed-point integers at 18 decimals so
// results match the on-chain implementation within one base unit of
// rounding. No floating point is used anywhere in this package.
package curve

import (
	"fmt"
	"math/big"

	"github.com/curvelabs/launchpad/internal/domain"
)

// Scale is the fixed-point scale: one whole token is 1e18 base units.
var Scale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// feeDenom is the basis-point denominator for fee math.
var feeDenom = big.NewInt(10_000)

var two = big.NewInt(2)

// BuyQuote is the result of pricing a buy. When the purchase would cross the
// supply cap, TokensOut is clamped to the maximum purchasable quantity and
// Remainder carries the unspendable input so the caller can refund it rather
// than silently losing funds.
type BuyQuote struct {
	TokensOut *big.Int
	Spent     *big.Int
	Remainder *big.Int
}

// Price returns the spot price at the given tokensSold:
//
//	p(s) = p0 + (p1 - p0) * s / maxSupply
//
// It is non-decreasing over [0, maxSupply], with p(0) == p0 and
// p(maxSupply) == p1.
func Price(cfg domain.CurveConfig, tokensSold *big.Int) (*big.Int, error) {
	if err := validateSold(cfg, tokensSold); err != nil {
		return nil, err
	}
	ramp := new(big.Int).Sub(cfg.EndPrice, cfg.StartPrice)
	ramp.Mul(ramp, tokensSold)
	ramp.Quo(ramp, cfg.MaxSupply)
	return ramp.Add(ramp, cfg.StartPrice), nil
}

// Cost returns the reserve required to buy tokenAmount starting from
// tokensSold — the exact integral of the linear price curve:
//
//	cost = (2*maxSupply*p0*Δ + (p1-p0)*Δ*(2s+Δ)) / (2*maxSupply*scale)
//
// rounded down. Sell returns are the same integral evaluated downward, so a
// buy followed by a sell of the identical quantity nets to zero before fees.
func Cost(cfg domain.CurveConfig, tokensSold, tokenAmount *big.Int) (*big.Int, error) {
	if err := validateSold(cfg, tokensSold); err != nil {
		return nil, err
	}
	if err := validateAmount(tokenAmount); err != nil {
		return nil, err
	}
	end := new(big.Int).Add(tokensSold, tokenAmount)
	if end.Cmp(cfg.MaxSupply) > 0 {
		return nil, fmt.Errorf("%w: buying %s from %s exceeds max supply %s",
			domain.ErrInvalidCurveState, tokenAmount, tokensSold, cfg.MaxSupply)
	}
	return segmentValue(cfg, tokensSold, tokenAmount), nil
}

// Buy solves the curve integral for the tokens received given a net reserve
// input. The purchase is clamped at the supply cap; the clamped case reports
// the unspendable remainder instead of silently truncating the fill.
func Buy(cfg domain.CurveConfig, tokensSold, reserveIn *big.Int) (BuyQuote, error) {
	if err := validateSold(cfg, tokensSold); err != nil {
		return BuyQuote{}, err
	}
	if err := validateAmount(reserveIn); err != nil {
		return BuyQuote{}, err
	}
	if tokensSold.Cmp(cfg.MaxSupply) == 0 {
		return BuyQuote{}, fmt.Errorf("%w: curve sold out at %s tokens",
			domain.ErrInsufficientSupply, cfg.MaxSupply)
	}

	// Solve d*Δ² + 2*(d*s + maxSupply*p0)*Δ - 2*maxSupply*scale*C = 0 for Δ:
	//
	//	Δ = (sqrt(b² + 8*d*maxSupply*scale*C) - b) / (2d),  b = 2*(d*s + maxSupply*p0)
	//
	// big.Int.Sqrt floors, so Δ floors and the implied cost never exceeds C.
	d := new(big.Int).Sub(cfg.EndPrice, cfg.StartPrice)

	b := new(big.Int).Mul(d, tokensSold)
	b.Add(b, new(big.Int).Mul(cfg.MaxSupply, cfg.StartPrice))
	b.Mul(b, two)

	disc := new(big.Int).Mul(d, cfg.MaxSupply)
	disc.Mul(disc, Scale)
	disc.Mul(disc, reserveIn)
	disc.Mul(disc, big.NewInt(8))
	disc.Add(disc, new(big.Int).Mul(b, b))

	delta := new(big.Int).Sqrt(disc)
	delta.Sub(delta, b)
	delta.Quo(delta, new(big.Int).Mul(d, two))

	if delta.Sign() <= 0 {
		// Input too small to purchase a single base unit at the current price.
		return BuyQuote{}, fmt.Errorf("%w: reserve input %s buys zero tokens at tokens sold %s",
			domain.ErrInvalidCurveState, reserveIn, tokensSold)
	}

	end := new(big.Int).Add(tokensSold, delta)
	if end.Cmp(cfg.MaxSupply) > 0 {
		delta = new(big.Int).Sub(cfg.MaxSupply, tokensSold)
		spent := segmentValue(cfg, tokensSold, delta)
		return BuyQuote{
			TokensOut: delta,
			Spent:     spent,
			Remainder: new(big.Int).Sub(reserveIn, spent),
		}, nil
	}

	return BuyQuote{
		TokensOut: delta,
		Spent:     new(big.Int).Set(reserveIn),
		Remainder: new(big.Int),
	}, nil
}

// Sell returns the reserve released by selling tokensIn back to the curve
// from the given tokensSold level — the inverse integral, clamped so the
// curve position never goes below zero.
func Sell(cfg domain.CurveConfig, tokensSold, tokensIn *big.Int) (*big.Int, error) {
	if err := validateSold(cfg, tokensSold); err != nil {
		return nil, err
	}
	if err := validateAmount(tokensIn); err != nil {
		return nil, err
	}
	if tokensIn.Cmp(tokensSold) > 0 {
		return nil, fmt.Errorf("%w: selling %s with only %s tokens sold",
			domain.ErrInsufficientSupply, tokensIn, tokensSold)
	}
	start := new(big.Int).Sub(tokensSold, tokensIn)
	return segmentValue(cfg, start, tokensIn), nil
}

// CanGraduate reports whether the raised reserve has reached the
// graduation threshold.
func CanGraduate(cfg domain.CurveConfig, reserve *big.Int) bool {
	return reserve.Cmp(cfg.GraduationThreshold) >= 0
}

// SplitFee deducts the basis-point fee from gross and splits it between the
// creator and the platform. The platform takes the remainder after the
// creator's share so the two parts always sum to the exact fee.
func SplitFee(gross *big.Int, feeBps, creatorBps int) (fee, creator, platform *big.Int) {
	fee = new(big.Int).Mul(gross, big.NewInt(int64(feeBps)))
	fee.Quo(fee, feeDenom)
	creator = new(big.Int).Mul(fee, big.NewInt(int64(creatorBps)))
	creator.Quo(creator, feeDenom)
	platform = new(big.Int).Sub(fee, creator)
	return fee, creator, platform
}

// segmentValue evaluates the curve integral over [start, start+width):
//
//	(2*maxSupply*p0*w + (p1-p0)*w*(2*start+w)) / (2*maxSupply*scale)
//
// Callers guarantee the segment lies within [0, maxSupply].
func segmentValue(cfg domain.CurveConfig, start, width *big.Int) *big.Int {
	flat := new(big.Int).Mul(cfg.MaxSupply, cfg.StartPrice)
	flat.Mul(flat, width)
	flat.Mul(flat, two)

	ramp := new(big.Int).Mul(two, start)
	ramp.Add(ramp, width)
	ramp.Mul(ramp, width)
	ramp.Mul(ramp, new(big.Int).Sub(cfg.EndPrice, cfg.StartPrice))

	total := flat.Add(flat, ramp)
	den := new(big.Int).Mul(cfg.MaxSupply, Scale)
	den.Mul(den, two)
	return total.Quo(total, den)
}

func validateSold(cfg domain.CurveConfig, tokensSold *big.Int) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: bad curve config", domain.ErrInvalidCurveState)
	}
	if tokensSold == nil || tokensSold.Sign() < 0 || tokensSold.Cmp(cfg.MaxSupply) > 0 {
		return fmt.Errorf("%w: tokens sold %s outside [0, %s]",
			domain.ErrInvalidCurveState, tokensSold, cfg.MaxSupply)
	}
	return nil
}

func validateAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: amount %s must be positive", domain.ErrInvalidCurveState, amount)
	}
	return nil
}
