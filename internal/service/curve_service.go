// Package service implements the launchpad's settlement workflows on top of
// the domain stores, the cache layer, and the external ledger client.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/curvelabs/launchpad/internal/curve"
	"github.com/curvelabs/launchpad/internal/domain"
)

// CurveConfig carries the fee policy and locking parameters for trade
// execution.
type CurveConfig struct {
	// FeeBps is charged on both buy inputs and sell outputs.
	FeeBps int
	// CreatorFeeBps is the creator's share of each fee, in bps of the fee.
	CreatorFeeBps int
	// LockTTL bounds how long a trade may hold an agent's settlement lock.
	LockTTL time.Duration
}

// BuyOpts modifies buy execution.
type BuyOpts struct {
	// ConfirmGraduation acknowledges that this buy pushes the reserve across
	// the graduation threshold and freezes the curve. Without it, a
	// threshold-crossing buy is rejected with ErrThresholdCrossed so the
	// caller can surface the consequence to the trader first.
	ConfirmGraduation bool
}

// CurveService executes buys and sells against agents' bonding curves. All
// mutations run under the agent's distributed lock and commit through the
// version-guarded trade transaction, so concurrent trades serialize cleanly.
type CurveService struct {
	agents   domain.AgentStore
	trades   domain.TradeStore
	holdings domain.HoldingStore
	revenue  *RevenueService
	locks    domain.LockManager
	bus      domain.SignalBus
	audit    domain.AuditStore
	logger   *slog.Logger
	cfg      CurveConfig
}

// NewCurveService creates a CurveService with all required dependencies.
func NewCurveService(
	agents domain.AgentStore,
	trades domain.TradeStore,
	holdings domain.HoldingStore,
	revenue *RevenueService,
	locks domain.LockManager,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
	cfg CurveConfig,
) *CurveService {
	if cfg.LockTTL == 0 {
		cfg.LockTTL = 10 * time.Second
	}
	return &CurveService{
		agents:   agents,
		trades:   trades,
		holdings: holdings,
		revenue:  revenue,
		locks:    locks,
		bus:      bus,
		audit:    audit,
		logger:   logger,
		cfg:      cfg,
	}
}

// canonicalAddress validates a hex wallet address and returns its canonical
// lowercase form. Holdings, snapshot entries, and payouts all key on this
// form, so one wallet can never occupy two rows by varying hex casing, and
// strings the ledger would reject never enter the books.
func canonicalAddress(addr string) (string, error) {
	if !common.IsHexAddress(addr) {
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidAddress, addr)
	}
	return strings.ToLower(common.HexToAddress(addr).Hex()), nil
}

// CreateAgentParams are the caller-supplied fields for a new launch.
type CreateAgentParams struct {
	Name    string
	Symbol  string
	Creator string
	Config  domain.CurveConfig
}

// CreateAgent registers a new agent with a fresh, empty curve.
func (s *CurveService) CreateAgent(ctx context.Context, p CreateAgentParams) (domain.Agent, error) {
	if err := p.Config.Validate(); err != nil {
		return domain.Agent{}, fmt.Errorf("curve_service: create agent: %w", err)
	}
	if p.Name == "" || p.Symbol == "" || p.Creator == "" {
		return domain.Agent{}, fmt.Errorf("%w: name, symbol, and creator are required", domain.ErrInvalidCurveState)
	}
	creator, err := canonicalAddress(p.Creator)
	if err != nil {
		return domain.Agent{}, fmt.Errorf("curve_service: create agent: %w", err)
	}
	p.Creator = creator

	agent := domain.Agent{
		ID:         uuid.New().String(),
		Name:       p.Name,
		Symbol:     p.Symbol,
		Creator:    p.Creator,
		Config:     p.Config,
		Phase:      domain.CurveActive,
		GradPhase:  domain.GradNone,
		TokensSold: new(big.Int),
		Reserve:    new(big.Int),
		Version:    1,
		CreatedAt:  time.Now().UTC(),
	}

	if err := s.agents.Create(ctx, agent); err != nil {
		return domain.Agent{}, fmt.Errorf("curve_service: create agent: %w", err)
	}

	s.logAudit(ctx, "agent_created", map[string]any{
		"agent_id": agent.ID,
		"symbol":   agent.Symbol,
		"creator":  agent.Creator,
	})
	s.logger.InfoContext(ctx, "curve_service: agent created",
		slog.String("agent_id", agent.ID),
		slog.String("symbol", agent.Symbol),
	)
	return agent, nil
}

// GetAgent returns one agent.
func (s *CurveService) GetAgent(ctx context.Context, id string) (domain.Agent, error) {
	a, err := s.agents.GetByID(ctx, id)
	if err != nil {
		return domain.Agent{}, fmt.Errorf("curve_service: get agent %s: %w", id, err)
	}
	return a, nil
}

// ListAgents returns agents in the given phase.
func (s *CurveService) ListAgents(ctx context.Context, phase domain.CurvePhase, opts domain.ListOpts) ([]domain.Agent, error) {
	agents, err := s.agents.ListByPhase(ctx, phase, opts)
	if err != nil {
		return nil, fmt.Errorf("curve_service: list agents: %w", err)
	}
	return agents, nil
}

// ListTrades returns an agent's trade history.
func (s *CurveService) ListTrades(ctx context.Context, agentID string, opts domain.ListOpts) ([]domain.Trade, error) {
	trades, err := s.trades.ListByAgent(ctx, agentID, opts)
	if err != nil {
		return nil, fmt.Errorf("curve_service: list trades %s: %w", agentID, err)
	}
	return trades, nil
}

// GetHolding returns one wallet's balance for an agent.
func (s *CurveService) GetHolding(ctx context.Context, agentID, address string) (domain.Holding, error) {
	address, err := canonicalAddress(address)
	if err != nil {
		return domain.Holding{}, fmt.Errorf("curve_service: get holding %s: %w", agentID, err)
	}
	h, err := s.holdings.Get(ctx, agentID, address)
	if err != nil {
		return domain.Holding{}, fmt.Errorf("curve_service: get holding %s/%s: %w", agentID, address, err)
	}
	return h, nil
}

// Quote is a read-only pricing preview for either trade direction. It holds
// no lock and commits nothing; the numbers it returns are only as fresh as
// the agent state it read.
type Quote struct {
	Side      domain.TradeDirection
	AmountIn  *big.Int
	AmountOut *big.Int
	Fee       *big.Int
	Refund    *big.Int
	PriceNow  *big.Int
}

// QuoteBuy prices a buy of reserveIn without executing it.
func (s *CurveService) QuoteBuy(ctx context.Context, agentID string, reserveIn *big.Int) (Quote, error) {
	agent, err := s.agents.GetByID(ctx, agentID)
	if err != nil {
		return Quote{}, fmt.Errorf("curve_service: quote buy: %w", err)
	}

	fee, _, _ := curve.SplitFee(reserveIn, s.cfg.FeeBps, s.cfg.CreatorFeeBps)
	net := new(big.Int).Sub(reserveIn, fee)
	q, err := curve.Buy(agent.Config, agent.TokensSold, net)
	if err != nil {
		return Quote{}, fmt.Errorf("curve_service: quote buy: %w", err)
	}
	price, err := curve.Price(agent.Config, agent.TokensSold)
	if err != nil {
		return Quote{}, fmt.Errorf("curve_service: quote buy: %w", err)
	}

	return Quote{
		Side:      domain.TradeBuy,
		AmountIn:  reserveIn,
		AmountOut: q.TokensOut,
		Fee:       fee,
		Refund:    q.Remainder,
		PriceNow:  price,
	}, nil
}

// QuoteSell prices a sell of tokensIn without executing it.
func (s *CurveService) QuoteSell(ctx context.Context, agentID string, tokensIn *big.Int) (Quote, error) {
	agent, err := s.agents.GetByID(ctx, agentID)
	if err != nil {
		return Quote{}, fmt.Errorf("curve_service: quote sell: %w", err)
	}

	gross, err := curve.Sell(agent.Config, agent.TokensSold, tokensIn)
	if err != nil {
		return Quote{}, fmt.Errorf("curve_service: quote sell: %w", err)
	}
	fee, _, _ := curve.SplitFee(gross, s.cfg.FeeBps, s.cfg.CreatorFeeBps)
	price, err := curve.Price(agent.Config, agent.TokensSold)
	if err != nil {
		return Quote{}, fmt.Errorf("curve_service: quote sell: %w", err)
	}

	return Quote{
		Side:      domain.TradeSell,
		AmountIn:  tokensIn,
		AmountOut: new(big.Int).Sub(gross, fee),
		Fee:       fee,
		Refund:    new(big.Int),
		PriceNow:  price,
	}, nil
}

// Buy executes a buy of reserveIn against the agent's curve. The fee comes
// off the input first; the net amount buys tokens. A buy whose net input
// cannot all be spent at the supply cap reports the surplus as Refund on the
// returned trade.
//
// A buy that would push the reserve across the graduation threshold is
// rejected with ErrThresholdCrossed unless opts.ConfirmGraduation is set, in
// which case the curve freezes in the graduating phase after the trade.
func (s *CurveService) Buy(ctx context.Context, agentID, trader string, reserveIn *big.Int, opts BuyOpts) (domain.Trade, error) {
	trader, err := canonicalAddress(trader)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("curve_service: buy %s: %w", agentID, err)
	}

	unlock, err := s.locks.Acquire(ctx, "agent:"+agentID, s.cfg.LockTTL)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("curve_service: buy %s: %w", agentID, err)
	}
	defer unlock()

	agent, err := s.agents.GetByID(ctx, agentID)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("curve_service: buy %s: %w", agentID, err)
	}
	if agent.Phase != domain.CurveActive {
		return domain.Trade{}, fmt.Errorf("%w: agent %s is %s, not active",
			domain.ErrInvalidCurveState, agentID, agent.Phase)
	}

	fee, creatorShare, platformShare := curve.SplitFee(reserveIn, s.cfg.FeeBps, s.cfg.CreatorFeeBps)
	net := new(big.Int).Sub(reserveIn, fee)

	q, err := curve.Buy(agent.Config, agent.TokensSold, net)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("curve_service: buy %s: %w", agentID, err)
	}

	newSold := new(big.Int).Add(agent.TokensSold, q.TokensOut)
	newReserve := new(big.Int).Add(agent.Reserve, q.Spent)

	// Any buy that lands at or above the threshold freezes the curve. The
	// check is on the resulting reserve alone, so an agent reset back to
	// active with its reserve already past the threshold still gates the
	// next buy behind explicit confirmation.
	crossing := curve.CanGraduate(agent.Config, newReserve)
	if crossing && !opts.ConfirmGraduation {
		return domain.Trade{}, fmt.Errorf("%w: buy would push reserve to %s past threshold %s",
			domain.ErrThresholdCrossed, newReserve, agent.Config.GraduationThreshold)
	}

	priceAfter, err := curve.Price(agent.Config, newSold)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("curve_service: buy %s: %w", agentID, err)
	}

	agent.TokensSold = newSold
	agent.Reserve = newReserve
	if crossing {
		agent.Phase = domain.CurveGraduating
	}

	trade := domain.Trade{
		ID:              uuid.New().String(),
		AgentID:         agentID,
		Trader:          trader,
		Side:            domain.TradeBuy,
		AmountIn:        reserveIn,
		AmountOut:       q.TokensOut,
		Fee:             fee,
		Refund:          q.Remainder,
		TokensSoldAfter: newSold,
		PriceAfter:      priceAfter,
		CreatedAt:       time.Now().UTC(),
	}

	if err := s.trades.Commit(ctx, agent, trade); err != nil {
		return domain.Trade{}, fmt.Errorf("curve_service: buy %s: %w", agentID, err)
	}

	s.settleFee(ctx, agent, trade, creatorShare, platformShare)
	s.publishTrade(ctx, trade, crossing)
	return trade, nil
}

// Sell executes a sell of tokensIn back to the curve. The trader must hold at
// least tokensIn; the fee comes off the gross reserve released.
func (s *CurveService) Sell(ctx context.Context, agentID, trader string, tokensIn *big.Int) (domain.Trade, error) {
	trader, err := canonicalAddress(trader)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("curve_service: sell %s: %w", agentID, err)
	}

	unlock, err := s.locks.Acquire(ctx, "agent:"+agentID, s.cfg.LockTTL)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("curve_service: sell %s: %w", agentID, err)
	}
	defer unlock()

	agent, err := s.agents.GetByID(ctx, agentID)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("curve_service: sell %s: %w", agentID, err)
	}
	if agent.Phase != domain.CurveActive {
		return domain.Trade{}, fmt.Errorf("%w: agent %s is %s, not active",
			domain.ErrInvalidCurveState, agentID, agent.Phase)
	}

	holding, err := s.holdings.Get(ctx, agentID, trader)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.Trade{}, fmt.Errorf("curve_service: sell %s: %w", agentID, err)
	}
	if holding.Balance == nil || holding.Balance.Cmp(tokensIn) < 0 {
		return domain.Trade{}, fmt.Errorf("%w: trader %s holds %s, selling %s",
			domain.ErrInsufficientHolding, trader, holding.Balance, tokensIn)
	}

	gross, err := curve.Sell(agent.Config, agent.TokensSold, tokensIn)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("curve_service: sell %s: %w", agentID, err)
	}
	fee, creatorShare, platformShare := curve.SplitFee(gross, s.cfg.FeeBps, s.cfg.CreatorFeeBps)
	out := new(big.Int).Sub(gross, fee)

	newSold := new(big.Int).Sub(agent.TokensSold, tokensIn)
	newReserve := new(big.Int).Sub(agent.Reserve, gross)
	priceAfter, err := curve.Price(agent.Config, newSold)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("curve_service: sell %s: %w", agentID, err)
	}

	agent.TokensSold = newSold
	agent.Reserve = newReserve

	trade := domain.Trade{
		ID:              uuid.New().String(),
		AgentID:         agentID,
		Trader:          trader,
		Side:            domain.TradeSell,
		AmountIn:        tokensIn,
		AmountOut:       out,
		Fee:             fee,
		Refund:          new(big.Int),
		TokensSoldAfter: newSold,
		PriceAfter:      priceAfter,
		CreatedAt:       time.Now().UTC(),
	}

	if err := s.trades.Commit(ctx, agent, trade); err != nil {
		return domain.Trade{}, fmt.Errorf("curve_service: sell %s: %w", agentID, err)
	}

	s.settleFee(ctx, agent, trade, creatorShare, platformShare)
	s.publishTrade(ctx, trade, false)
	return trade, nil
}

// settleFee records and pays out the trade's fee split. Payout problems never
// fail the trade; they land in the revenue failure queue.
func (s *CurveService) settleFee(ctx context.Context, agent domain.Agent, trade domain.Trade, creatorShare, platformShare *big.Int) {
	if trade.Fee.Sign() == 0 {
		return
	}
	if err := s.revenue.Record(ctx, agent, trade, creatorShare, platformShare); err != nil {
		s.logger.WarnContext(ctx, "curve_service: revenue record failed",
			slog.String("trade_id", trade.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *CurveService) publishTrade(ctx context.Context, t domain.Trade, crossing bool) {
	evt, _ := json.Marshal(map[string]any{
		"event":             "trade_executed",
		"trade_id":          t.ID,
		"agent_id":          t.AgentID,
		"side":              t.Side,
		"amount_in":         t.AmountIn.String(),
		"amount_out":        t.AmountOut.String(),
		"fee":               t.Fee.String(),
		"refund":            t.Refund.String(),
		"price_after":       t.PriceAfter.String(),
		"threshold_crossed": crossing,
		"timestamp":         t.CreatedAt.Format(time.RFC3339),
	})
	if err := s.bus.Publish(ctx, "trades", evt); err != nil {
		s.logger.WarnContext(ctx, "curve_service: publish trade failed",
			slog.String("trade_id", t.ID),
			slog.String("error", err.Error()),
		)
	}
	if err := s.bus.StreamAppend(ctx, "stream:trades", evt); err != nil {
		s.logger.WarnContext(ctx, "curve_service: stream trade failed",
			slog.String("trade_id", t.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logAudit(ctx, "trade_executed", map[string]any{
		"trade_id": t.ID,
		"agent_id": t.AgentID,
		"side":     string(t.Side),
	})
	s.logger.InfoContext(ctx, "curve_service: trade executed",
		slog.String("trade_id", t.ID),
		slog.String("agent_id", t.AgentID),
		slog.String("side", string(t.Side)),
	)
}

func (s *CurveService) logAudit(ctx context.Context, event string, detail map[string]any) {
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "curve_service: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
