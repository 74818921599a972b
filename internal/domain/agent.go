// Package domain defines the launchpad's core entities, store and cache
// interfaces, and sentinel errors shared by all layers.
package domain

import (
	"math/big"
	"time"
)

// CurvePhase is the lifecycle phase of an agent's bonding curve. Transitions
// are monotonic (active → graduating → graduated) with one exception:
// graduation_failed may be reset to active by explicit operator action.
type CurvePhase string

const (
	CurveActive           CurvePhase = "active"
	CurveGraduating       CurvePhase = "graduating"
	CurveGraduated        CurvePhase = "graduated"
	CurveGraduationFailed CurvePhase = "graduation_failed"
)

// GraduationPhase tracks the orchestrator's progress for an agent.
type GraduationPhase string

const (
	GradNone         GraduationPhase = "none"
	GradInitializing GraduationPhase = "initializing"
	GradAirdropping  GraduationPhase = "airdropping"
	GradCompleted    GraduationPhase = "completed"
	GradFailed       GraduationPhase = "failed"
)

// CurveConfig is the immutable pricing configuration fixed at agent creation.
// All amounts are fixed-point integers at 18 decimals: prices are reserve
// base units per whole (1e18 base units) token.
type CurveConfig struct {
	// StartPrice (p0) and EndPrice (p1) bound the linear price ramp.
	// Invariant: EndPrice > StartPrice >= 0.
	StartPrice *big.Int
	EndPrice   *big.Int
	// MaxSupply is the curve supply cap in token base units.
	MaxSupply *big.Int
	// GraduationThreshold is the raised reserve at which the agent becomes
	// eligible to graduate.
	GraduationThreshold *big.Int
}

// Agent carries the curve configuration plus the mutable settlement state.
// Version implements optimistic concurrency: every state-changing write must
// match the version it read or fail with ErrConflict.
type Agent struct {
	ID        string
	Name      string
	Symbol    string
	Creator   string // creator wallet address, fee beneficiary
	Config    CurveConfig
	Phase     CurvePhase
	GradPhase GraduationPhase

	// TokensSold is in [0, Config.MaxSupply]; Reserve is the raised base
	// currency net of fees retained by the curve.
	TokensSold *big.Int
	Reserve    *big.Int

	// Graduation progress, persisted after every orchestrator step so a
	// restart resumes exactly where the previous process stopped.
	SnapshotID       string
	TotalBatches     int
	ConfirmedBatches int
	GradError        string

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks the invariants of an agent's curve configuration.
func (c CurveConfig) Validate() error {
	switch {
	case c.StartPrice == nil || c.EndPrice == nil || c.MaxSupply == nil || c.GraduationThreshold == nil:
		return ErrInvalidCurveState
	case c.StartPrice.Sign() < 0:
		return ErrInvalidCurveState
	case c.EndPrice.Cmp(c.StartPrice) <= 0:
		return ErrInvalidCurveState
	case c.MaxSupply.Sign() <= 0:
		return ErrInvalidCurveState
	case c.GraduationThreshold.Sign() <= 0:
		return ErrInvalidCurveState
	}
	return nil
}

// Holding is one wallet's balance of an agent's curve token.
type Holding struct {
	AgentID   string
	Address   string
	Balance   *big.Int
	UpdatedAt time.Time
}
