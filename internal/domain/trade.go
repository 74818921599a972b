package domain

import (
	"math/big"
	"time"
)

// TradeDirection is the side of a curve trade.
type TradeDirection string

const (
	TradeBuy  TradeDirection = "buy"
	TradeSell TradeDirection = "sell"
)

// Trade is one executed buy or sell against an agent's bonding curve.
// Trades are append-only; together with the agent's config they are
// sufficient to reconstruct CurveState from scratch.
type Trade struct {
	ID      string
	AgentID string
	Trader  string
	Side    TradeDirection

	// AmountIn is reserve for buys, tokens for sells; AmountOut the inverse.
	AmountIn  *big.Int
	AmountOut *big.Int
	Fee       *big.Int

	// Refund is the portion of a buy's input that could not be spent because
	// the purchase was clamped at the supply cap. Zero for unclamped trades.
	Refund *big.Int

	// Post-trade curve state, recorded for auditability of price impact.
	TokensSoldAfter *big.Int
	PriceAfter      *big.Int

	CreatedAt time.Time
}
