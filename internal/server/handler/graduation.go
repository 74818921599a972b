package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/curvelabs/launchpad/internal/domain"
)

// GraduationService defines the methods that the graduation handler requires
// from the service layer.
type GraduationService interface {
	Run(ctx context.Context, agentID string) error
	GetStatus(ctx context.Context, agentID string) (domain.GraduationStatus, error)
	Reset(ctx context.Context, agentID string) error
}

// GraduationHandler serves graduation orchestration endpoints.
type GraduationHandler struct {
	grads  GraduationService
	logger *slog.Logger
}

// NewGraduationHandler creates a GraduationHandler with the given service and
// logger.
func NewGraduationHandler(grads GraduationService, logger *slog.Logger) *GraduationHandler {
	return &GraduationHandler{grads: grads, logger: logger}
}

// statusResponse is the wire form of graduation progress.
type statusResponse struct {
	AgentID          string `json:"agent_id"`
	CurvePhase       string `json:"curve_phase"`
	GradPhase        string `json:"grad_phase"`
	SnapshotID       string `json:"snapshot_id,omitempty"`
	HolderCount      int    `json:"holder_count"`
	TotalBatches     int    `json:"total_batches"`
	ConfirmedBatches int    `json:"confirmed_batches"`
	LastError        string `json:"last_error,omitempty"`
}

// Trigger drives an agent's graduation as far as it will go in one request.
// The scheduler runs the same loop in the background; this endpoint exists so
// operators can push a stuck graduation forward by hand.
// POST /api/agents/{id}/graduation
func (h *GraduationHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing agent id")
		return
	}

	if err := h.grads.Run(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "agent not found")
		case errors.Is(err, domain.ErrThresholdNotMet),
			errors.Is(err, domain.ErrNoHolders),
			errors.Is(err, domain.ErrInvalidCurveState):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, domain.ErrLockHeld):
			writeError(w, http.StatusConflict, "graduation already in progress")
		default:
			h.logger.ErrorContext(r.Context(), "handler: graduation trigger failed",
				slog.String("agent_id", id),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "graduation step failed")
		}
		return
	}

	h.writeStatus(w, r, id, http.StatusAccepted)
}

// GetStatus returns graduation progress for an agent.
// GET /api/agents/{id}/graduation
func (h *GraduationHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing agent id")
		return
	}
	h.writeStatus(w, r, id, http.StatusOK)
}

// Reset clears a failed graduation so it can be retried from a fresh
// snapshot.
// POST /api/agents/{id}/graduation/reset
func (h *GraduationHandler) Reset(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing agent id")
		return
	}

	if err := h.grads.Reset(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "agent not found")
		case errors.Is(err, domain.ErrInvalidCurveState):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			h.logger.ErrorContext(r.Context(), "handler: graduation reset failed",
				slog.String("agent_id", id),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "reset failed")
		}
		return
	}

	h.writeStatus(w, r, id, http.StatusOK)
}

func (h *GraduationHandler) writeStatus(w http.ResponseWriter, r *http.Request, id string, code int) {
	status, err := h.grads.GetStatus(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "agent not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: graduation status failed",
			slog.String("agent_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get graduation status")
		return
	}

	writeJSON(w, code, statusResponse{
		AgentID:          status.AgentID,
		CurvePhase:       string(status.CurvePhase),
		GradPhase:        string(status.GradPhase),
		SnapshotID:       status.SnapshotID,
		HolderCount:      status.HolderCount,
		TotalBatches:     status.TotalBatches,
		ConfirmedBatches: status.ConfirmedBatches,
		LastError:        status.LastError,
	})
}
