package service

import "errors"

// Service-level errors surfaced to callers. Repository errors are mapped
// to these at the service boundary.
var (
	ErrInvalidAmount        = errors.New("amount must be positive")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrWalletNotFound       = errors.New("wallet not found")
	ErrDuplicateTxid        = errors.New("duplicate transaction id")
	ErrAlreadySettled       = errors.New("already settled")
	ErrAlreadyDecided       = errors.New("request already decided")
	ErrChallengeNotFound    = errors.New("challenge not found")
	ErrChallengeExpired     = errors.New("challenge expired")
	ErrSelfChallenge        = errors.New("cannot challenge yourself")
	ErrInvalidStatus        = errors.New("operation not allowed in current status")
	ErrInvalidBetType       = errors.New("invalid bet type for entity")
	ErrInvalidOdds          = errors.New("odds must be at least 1.00x")
	ErrBetOutOfRange        = errors.New("bet amount out of allowed range")
	ErrBonusNotFound        = errors.New("bonus accrual not found")
	ErrBonusAlreadyUnlocked = errors.New("bonus accrual already unlocked")
	ErrRequestNotFound      = errors.New("funding request not found")
	ErrUnknownOutcome       = errors.New("unknown settlement outcome")
)
