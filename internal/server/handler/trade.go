package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/curvelabs/launchpad/internal/domain"
	"github.com/curvelabs/launchpad/internal/service"
)

// TradeService defines the methods that the trade handler requires from the
// service layer.
type TradeService interface {
	QuoteBuy(ctx context.Context, agentID string, reserveIn *big.Int) (service.Quote, error)
	QuoteSell(ctx context.Context, agentID string, tokensIn *big.Int) (service.Quote, error)
	Buy(ctx context.Context, agentID, trader string, reserveIn *big.Int, opts service.BuyOpts) (domain.Trade, error)
	Sell(ctx context.Context, agentID, trader string, tokensIn *big.Int) (domain.Trade, error)
	ListTrades(ctx context.Context, agentID string, opts domain.ListOpts) ([]domain.Trade, error)
}

// TradeHandler serves trade execution and history endpoints.
type TradeHandler struct {
	trades TradeService
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler with the given service and logger.
func NewTradeHandler(trades TradeService, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{trades: trades, logger: logger}
}

// tradeRequest is the JSON body for both buy and sell. Amount is reserve for
// buys and tokens for sells, as a decimal string at 1e18 scale.
type tradeRequest struct {
	Trader            string `json:"trader"`
	Amount            string `json:"amount"`
	ConfirmGraduation bool   `json:"confirm_graduation"`
}

// tradeResponse is the wire form of an executed trade.
type tradeResponse struct {
	ID              string `json:"id"`
	AgentID         string `json:"agent_id"`
	Trader          string `json:"trader"`
	Side            string `json:"side"`
	AmountIn        string `json:"amount_in"`
	AmountOut       string `json:"amount_out"`
	Fee             string `json:"fee"`
	Refund          string `json:"refund"`
	TokensSoldAfter string `json:"tokens_sold_after"`
	PriceAfter      string `json:"price_after"`
	CreatedAt       string `json:"created_at"`
}

func toTradeResponse(t domain.Trade) tradeResponse {
	return tradeResponse{
		ID:              t.ID,
		AgentID:         t.AgentID,
		Trader:          t.Trader,
		Side:            string(t.Side),
		AmountIn:        numString(t.AmountIn),
		AmountOut:       numString(t.AmountOut),
		Fee:             numString(t.Fee),
		Refund:          numString(t.Refund),
		TokensSoldAfter: numString(t.TokensSoldAfter),
		PriceAfter:      numString(t.PriceAfter),
		CreatedAt:       t.CreatedAt.Format(time.RFC3339),
	}
}

// quoteResponse is the wire form of a pricing preview.
type quoteResponse struct {
	Side      string `json:"side"`
	AmountIn  string `json:"amount_in"`
	AmountOut string `json:"amount_out"`
	Fee       string `json:"fee"`
	Refund    string `json:"refund"`
	PriceNow  string `json:"price_now"`
}

func toQuoteResponse(q service.Quote) quoteResponse {
	return quoteResponse{
		Side:      string(q.Side),
		AmountIn:  numString(q.AmountIn),
		AmountOut: numString(q.AmountOut),
		Fee:       numString(q.Fee),
		Refund:    numString(q.Refund),
		PriceNow:  numString(q.PriceNow),
	}
}

// Buy executes a buy against the agent's curve.
// POST /api/agents/{id}/buy
func (h *TradeHandler) Buy(w http.ResponseWriter, r *http.Request) {
	h.execute(w, r, domain.TradeBuy)
}

// Sell executes a sell back to the agent's curve.
// POST /api/agents/{id}/sell
func (h *TradeHandler) Sell(w http.ResponseWriter, r *http.Request) {
	h.execute(w, r, domain.TradeSell)
}

func (h *TradeHandler) execute(w http.ResponseWriter, r *http.Request, side domain.TradeDirection) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing agent id")
		return
	}

	var req tradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Trader == "" {
		writeError(w, http.StatusBadRequest, "trader is required")
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var trade domain.Trade
	if side == domain.TradeBuy {
		trade, err = h.trades.Buy(r.Context(), id, req.Trader, amount,
			service.BuyOpts{ConfirmGraduation: req.ConfirmGraduation})
	} else {
		trade, err = h.trades.Sell(r.Context(), id, req.Trader, amount)
	}
	if err != nil {
		h.writeTradeError(w, r, id, err)
		return
	}

	writeJSON(w, http.StatusCreated, toTradeResponse(trade))
}

func (h *TradeHandler) writeTradeError(w http.ResponseWriter, r *http.Request, agentID string, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidAddress):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "agent not found")
	case errors.Is(err, domain.ErrThresholdCrossed):
		// 409 with a hint: the client may retry with confirm_graduation set.
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":                 err.Error(),
			"graduation_triggered":  true,
			"confirmation_required": true,
		})
	case errors.Is(err, domain.ErrInvalidCurveState),
		errors.Is(err, domain.ErrInsufficientHolding),
		errors.Is(err, domain.ErrInsufficientSupply):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrLockHeld), errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, "agent is busy, retry shortly")
	default:
		h.logger.ErrorContext(r.Context(), "handler: trade failed",
			slog.String("agent_id", agentID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "trade failed")
	}
}

// Quote prices a trade in either direction without executing it.
// GET /api/agents/{id}/quote?side=buy&amount=1000000000000000000
func (h *TradeHandler) Quote(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing agent id")
		return
	}

	q := r.URL.Query()
	amount, err := parseAmount("amount", q.Get("amount"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var quote service.Quote
	switch q.Get("side") {
	case "", "buy":
		quote, err = h.trades.QuoteBuy(r.Context(), id, amount)
	case "sell":
		quote, err = h.trades.QuoteSell(r.Context(), id, amount)
	default:
		writeError(w, http.StatusBadRequest, "side must be buy or sell")
		return
	}
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "agent not found")
			return
		}
		if errors.Is(err, domain.ErrInsufficientSupply) || errors.Is(err, domain.ErrInvalidCurveState) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: quote failed",
			slog.String("agent_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "quote failed")
		return
	}

	writeJSON(w, http.StatusOK, toQuoteResponse(quote))
}

// listTradesResponse wraps the trade history response.
type listTradesResponse struct {
	Trades []tradeResponse `json:"trades"`
}

// ListTrades returns an agent's trade history, newest first.
// GET /api/agents/{id}/trades?limit=50&offset=0
func (h *TradeHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing agent id")
		return
	}

	trades, err := h.trades.ListTrades(r.Context(), id, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list trades failed",
			slog.String("agent_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}

	out := make([]tradeResponse, 0, len(trades))
	for _, t := range trades {
		out = append(out, toTradeResponse(t))
	}
	writeJSON(w, http.StatusOK, listTradesResponse{Trades: out})
}
