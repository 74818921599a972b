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

// AgentService defines the methods that the agent handler requires from the
// service layer.
type AgentService interface {
	CreateAgent(ctx context.Context, p service.CreateAgentParams) (domain.Agent, error)
	GetAgent(ctx context.Context, id string) (domain.Agent, error)
	ListAgents(ctx context.Context, phase domain.CurvePhase, opts domain.ListOpts) ([]domain.Agent, error)
	GetHolding(ctx context.Context, agentID, address string) (domain.Holding, error)
}

// AgentHandler serves agent lifecycle endpoints.
type AgentHandler struct {
	agents AgentService
	logger *slog.Logger
}

// NewAgentHandler creates an AgentHandler with the given service and logger.
func NewAgentHandler(agents AgentService, logger *slog.Logger) *AgentHandler {
	return &AgentHandler{agents: agents, logger: logger}
}

// createAgentRequest is the JSON body for launching a new agent. All amounts
// are decimal strings at 1e18 scale.
type createAgentRequest struct {
	Name                string `json:"name"`
	Symbol              string `json:"symbol"`
	Creator             string `json:"creator"`
	StartPrice          string `json:"start_price"`
	EndPrice            string `json:"end_price"`
	MaxSupply           string `json:"max_supply"`
	GraduationThreshold string `json:"graduation_threshold"`
}

// agentResponse is the wire form of an agent.
type agentResponse struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	Symbol              string `json:"symbol"`
	Creator             string `json:"creator"`
	Phase               string `json:"phase"`
	GradPhase           string `json:"grad_phase"`
	StartPrice          string `json:"start_price"`
	EndPrice            string `json:"end_price"`
	MaxSupply           string `json:"max_supply"`
	GraduationThreshold string `json:"graduation_threshold"`
	TokensSold          string `json:"tokens_sold"`
	Reserve             string `json:"reserve"`
	CreatedAt           string `json:"created_at"`
}

func toAgentResponse(a domain.Agent) agentResponse {
	return agentResponse{
		ID:                  a.ID,
		Name:                a.Name,
		Symbol:              a.Symbol,
		Creator:             a.Creator,
		Phase:               string(a.Phase),
		GradPhase:           string(a.GradPhase),
		StartPrice:          numString(a.Config.StartPrice),
		EndPrice:            numString(a.Config.EndPrice),
		MaxSupply:           numString(a.Config.MaxSupply),
		GraduationThreshold: numString(a.Config.GraduationThreshold),
		TokensSold:          numString(a.TokensSold),
		Reserve:             numString(a.Reserve),
		CreatedAt:           a.CreatedAt.Format(time.RFC3339),
	}
}

// CreateAgent launches a new agent with a fresh bonding curve.
// POST /api/agents
func (h *AgentHandler) CreateAgent(w http.ResponseWriter, r *http.Request) {
	var req createAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	cfg := domain.CurveConfig{}
	for _, f := range []struct {
		name  string
		value string
		dst   **big.Int
	}{
		{"start_price", req.StartPrice, &cfg.StartPrice},
		{"end_price", req.EndPrice, &cfg.EndPrice},
		{"max_supply", req.MaxSupply, &cfg.MaxSupply},
		{"graduation_threshold", req.GraduationThreshold, &cfg.GraduationThreshold},
	} {
		n, err := parseAmount(f.name, f.value)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		*f.dst = n
	}

	agent, err := h.agents.CreateAgent(r.Context(), service.CreateAgentParams{
		Name:    req.Name,
		Symbol:  req.Symbol,
		Creator: req.Creator,
		Config:  cfg,
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidCurveState) || errors.Is(err, domain.ErrInvalidAddress) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: create agent failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create agent")
		return
	}

	writeJSON(w, http.StatusCreated, toAgentResponse(agent))
}

// GetAgent returns a single agent with its live curve state.
// GET /api/agents/{id}
func (h *AgentHandler) GetAgent(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing agent id")
		return
	}

	agent, err := h.agents.GetAgent(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "agent not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get agent failed",
			slog.String("agent_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get agent")
		return
	}

	writeJSON(w, http.StatusOK, toAgentResponse(agent))
}

// listAgentsResponse wraps the list agents response.
type listAgentsResponse struct {
	Agents []agentResponse `json:"agents"`
}

// ListAgents returns agents filtered by curve phase.
// GET /api/agents?phase=active&limit=50&offset=0
func (h *AgentHandler) ListAgents(w http.ResponseWriter, r *http.Request) {
	phase := domain.CurvePhase(r.URL.Query().Get("phase"))
	if phase == "" {
		phase = domain.CurveActive
	}

	agents, err := h.agents.ListAgents(r.Context(), phase, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list agents failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list agents")
		return
	}

	out := make([]agentResponse, 0, len(agents))
	for _, a := range agents {
		out = append(out, toAgentResponse(a))
	}
	writeJSON(w, http.StatusOK, listAgentsResponse{Agents: out})
}

// GetHolding returns one wallet's token balance for an agent.
// GET /api/agents/{id}/holdings/{address}
func (h *AgentHandler) GetHolding(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	address := pathParam(r, "address")
	if id == "" || address == "" {
		writeError(w, http.StatusBadRequest, "missing agent id or address")
		return
	}

	holding, err := h.agents.GetHolding(r.Context(), id, address)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidAddress) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusOK, map[string]string{
				"agent_id": id,
				"address":  address,
				"balance":  "0",
			})
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get holding failed",
			slog.String("agent_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get holding")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"agent_id": holding.AgentID,
		"address":  holding.Address,
		"balance":  numString(holding.Balance),
	})
}
