package domain

import (
	"math/big"
	"time"
)

// SubmitStatus records the two-phase lifecycle of an external-ledger call:
// the intent row is written as pending before submission and reconciled to
// confirmed or failed afterwards. A pending row after a timeout means the
// outcome is unknown and must be resolved against the chain's authoritative
// state, never assumed.
type SubmitStatus string

const (
	SubmitPending   SubmitStatus = "pending"
	SubmitConfirmed SubmitStatus = "confirmed"
	SubmitFailed    SubmitStatus = "failed"
)

// SnapshotEntry is one holder's row in a graduation snapshot. Entries are
// ordered ascending by address; Position is the 0-based rank within that
// order and determines batch membership.
type SnapshotEntry struct {
	Position int
	Address  string
	Balance  *big.Int
	// Reward is the bonus top-up minted alongside the holder's balance.
	Reward *big.Int
}

// Snapshot is a deterministic, content-hashed enumeration of all positive
// holder balances for an agent, taken once per graduation attempt and
// immutable afterwards.
type Snapshot struct {
	ID          string
	AgentID     string
	Sequence    uint64 // chain block/sequence number at capture time
	Hash        []byte // keccak256 over the ordered (address, balance) encoding
	HolderCount int
	TotalTokens *big.Int
	TotalReward *big.Int
	RewardBps   int

	SubmitStatus SubmitStatus
	TxRef        string

	CreatedAt time.Time
}

// Batch is one bounded-size slice of a snapshot submitted to the external
// ledger. Indices per agent are contiguous from 0 and processed strictly in
// order; a batch counts as done only once the ledger confirms it.
type Batch struct {
	AgentID    string
	SnapshotID string
	Index      int
	Recipients int
	Tokens     *big.Int

	Status SubmitStatus
	TxRef  string

	CreatedAt   time.Time
	ConfirmedAt *time.Time
}

// AirdropProgress is the external ledger's authoritative view of an agent's
// distribution, used to reconcile timed-out submissions.
type AirdropProgress struct {
	ExpectedTotal *big.Int
	MintedTotal   *big.Int
	Remaining     *big.Int
	Complete      bool
}

// GraduationStatus is the pull-based status any scheduler or UI can poll.
type GraduationStatus struct {
	AgentID          string
	CurvePhase       CurvePhase
	GradPhase        GraduationPhase
	SnapshotID       string
	HolderCount      int
	TotalBatches     int
	ConfirmedBatches int
	LastError        string
}
