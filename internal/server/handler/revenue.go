package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/curvelabs/launchpad/internal/domain"
)

// RevenueService defines the methods that the revenue handler requires from
// the service layer.
type RevenueService interface {
	GetDistribution(ctx context.Context, id string) (domain.Distribution, []domain.Failure, error)
	ListFailures(ctx context.Context, statuses []domain.FailureStatus, opts domain.ListOpts) ([]domain.Failure, error)
	RetryOne(ctx context.Context, failureID string) (domain.Failure, error)
	RetryAllPending(ctx context.Context) ([]domain.RetryResult, error)
}

// RevenueHandler serves revenue distribution and payout-retry endpoints.
type RevenueHandler struct {
	revenue RevenueService
	logger  *slog.Logger
}

// NewRevenueHandler creates a RevenueHandler with the given service and
// logger.
func NewRevenueHandler(revenue RevenueService, logger *slog.Logger) *RevenueHandler {
	return &RevenueHandler{revenue: revenue, logger: logger}
}

type distributionResponse struct {
	ID            string `json:"id"`
	AgentID       string `json:"agent_id"`
	TradeID       string `json:"trade_id"`
	TotalFee      string `json:"total_fee"`
	CreatorShare  string `json:"creator_share"`
	PlatformShare string `json:"platform_share"`
	Status        string `json:"status"`
	CreatedAt     string `json:"created_at"`
}

type failureResponse struct {
	ID             string `json:"id"`
	DistributionID string `json:"distribution_id"`
	AgentID        string `json:"agent_id"`
	Recipient      string `json:"recipient"`
	Address        string `json:"address"`
	Amount         string `json:"amount"`
	Reason         string `json:"reason"`
	RetryCount     int    `json:"retry_count"`
	MaxRetries     int    `json:"max_retries"`
	Status         string `json:"status"`
	CreatedAt      string `json:"created_at"`
}

func toDistributionResponse(d domain.Distribution) distributionResponse {
	return distributionResponse{
		ID:            d.ID,
		AgentID:       d.AgentID,
		TradeID:       d.TradeID,
		TotalFee:      numString(d.TotalFee),
		CreatorShare:  numString(d.CreatorShare),
		PlatformShare: numString(d.PlatformShare),
		Status:        string(d.Status),
		CreatedAt:     d.CreatedAt.Format(time.RFC3339),
	}
}

func toFailureResponse(f domain.Failure) failureResponse {
	return failureResponse{
		ID:             f.ID,
		DistributionID: f.DistributionID,
		AgentID:        f.AgentID,
		Recipient:      string(f.Recipient),
		Address:        f.Address,
		Amount:         numString(f.Amount),
		Reason:         f.Reason,
		RetryCount:     f.RetryCount,
		MaxRetries:     f.MaxRetries,
		Status:         string(f.Status),
		CreatedAt:      f.CreatedAt.Format(time.RFC3339),
	}
}

// GetDistribution returns one fee distribution with its failure rows.
// GET /api/revenue/distributions/{id}
func (h *RevenueHandler) GetDistribution(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing distribution id")
		return
	}

	dist, failures, err := h.revenue.GetDistribution(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "distribution not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get distribution failed",
			slog.String("distribution_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get distribution")
		return
	}

	out := make([]failureResponse, 0, len(failures))
	for _, f := range failures {
		out = append(out, toFailureResponse(f))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"distribution": toDistributionResponse(dist),
		"failures":     out,
	})
}

// ListFailures returns queued payout failures filtered by status.
// GET /api/revenue/failures?status=pending,retrying&limit=50&offset=0
func (h *RevenueHandler) ListFailures(w http.ResponseWriter, r *http.Request) {
	var statuses []domain.FailureStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			statuses = append(statuses, domain.FailureStatus(strings.TrimSpace(s)))
		}
	}

	failures, err := h.revenue.ListFailures(r.Context(), statuses, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list failures failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list failures")
		return
	}

	out := make([]failureResponse, 0, len(failures))
	for _, f := range failures {
		out = append(out, toFailureResponse(f))
	}
	writeJSON(w, http.StatusOK, map[string]any{"failures": out})
}

// RetryFailure retries a single failed payout.
// POST /api/revenue/failures/{id}/retry
func (h *RevenueHandler) RetryFailure(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing failure id")
		return
	}

	f, err := h.revenue.RetryOne(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "failure not found")
			return
		case errors.Is(err, domain.ErrRetryExhausted):
			writeJSON(w, http.StatusGone, map[string]any{
				"error":   err.Error(),
				"failure": toFailureResponse(f),
			})
			return
		}
		// The retry itself failed but the budget is not exhausted; report
		// current state so the caller sees the updated count.
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":   err.Error(),
			"failure": toFailureResponse(f),
		})
		return
	}

	writeJSON(w, http.StatusOK, toFailureResponse(f))
}

// RetryAll retries every pending payout failure and reports per-item results.
// POST /api/revenue/failures/retry
func (h *RevenueHandler) RetryAll(w http.ResponseWriter, r *http.Request) {
	results, err := h.revenue.RetryAllPending(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: retry all failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "retry sweep failed")
		return
	}

	type item struct {
		FailureID string `json:"failure_id"`
		Status    string `json:"status"`
		Error     string `json:"error,omitempty"`
	}
	out := make([]item, 0, len(results))
	for _, res := range results {
		out = append(out, item{
			FailureID: res.FailureID,
			Status:    string(res.Status),
			Error:     res.Err,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": out})
}
