package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrRateLimited         = errors.New("rate limited")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrLockHeld            = errors.New("lock already held")
	ErrConflict            = errors.New("concurrent modification")
	ErrInvalidAddress      = errors.New("invalid wallet address")
	ErrInvalidCurveState   = errors.New("invalid curve state")
	ErrInsufficientSupply  = errors.New("insufficient curve supply")
	ErrInsufficientHolding = errors.New("insufficient holding")
	ErrThresholdNotMet     = errors.New("graduation threshold not met")
	ErrThresholdCrossed    = errors.New("graduation threshold crossed")
	ErrOutOfOrderBatch     = errors.New("out-of-order airdrop batch")
	ErrNoHolders           = errors.New("no holders found")
	ErrExternalLedger      = errors.New("external ledger call failed")
	ErrRetryExhausted      = errors.New("retry attempts exhausted")
)
