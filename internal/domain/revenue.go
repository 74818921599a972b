package domain

import (
	"math/big"
	"time"
)

// DistributionStatus summarises how much of a revenue distribution settled.
type DistributionStatus string

const (
	DistributionPending   DistributionStatus = "pending"
	DistributionPartial   DistributionStatus = "partial"
	DistributionCompleted DistributionStatus = "completed"
)

// RecipientType identifies the beneficiary class of a revenue payout.
type RecipientType string

const (
	RecipientCreator  RecipientType = "creator"
	RecipientPlatform RecipientType = "platform"
)

// FailureStatus is the lifecycle of a failed payout. Once resolved or
// abandoned the record is immutable.
type FailureStatus string

const (
	FailurePending   FailureStatus = "pending"
	FailureRetrying  FailureStatus = "retrying"
	FailureResolved  FailureStatus = "resolved"
	FailureAbandoned FailureStatus = "abandoned"
)

// Distribution records one fee split between the agent's creator and the
// platform treasury.
type Distribution struct {
	ID            string
	AgentID       string
	TradeID       string
	TotalFee      *big.Int
	CreatorShare  *big.Int
	PlatformShare *big.Int
	Status        DistributionStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Failure is one payout that could not be completed synchronously, queued
// for bounded explicit retries. Invariant: RetryCount <= MaxRetries.
type Failure struct {
	ID             string
	DistributionID string
	AgentID        string
	Recipient      RecipientType
	Address        string
	Amount         *big.Int
	Reason         string
	RetryCount     int
	MaxRetries     int
	Status         FailureStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Retryable reports whether another retry attempt is permitted.
func (f Failure) Retryable() bool {
	return (f.Status == FailurePending || f.Status == FailureRetrying) &&
		f.RetryCount < f.MaxRetries
}

// RetryResult is the per-item outcome of a bulk retry pass. One recipient's
// unresolvable address must not block the rest, so bulk retries report
// per-failure rather than all-or-nothing.
type RetryResult struct {
	FailureID string
	Status    FailureStatus
	Err       string
}
