package domain

import "errors"

var (
	ErrNotFound              = errors.New("not found")
	ErrAlreadyExists         = errors.New("already exists")
	ErrWrongPhase            = errors.New("operation not valid in current phase")
	ErrPhaseNotReady         = errors.New("phase deadline not reached")
	ErrBelowMinimum          = errors.New("amount below configured minimum")
	ErrNotAnLP               = errors.New("caller has no liquidity contribution")
	ErrDuplicateCriteria     = errors.New("criteria already proposed")
	ErrInvalidCriteria       = errors.New("criteria not proposed")
	ErrAlreadyVoted          = errors.New("caller already voted")
	ErrTransferFailed        = errors.New("token transfer failed")
	ErrInsufficientLiquidity = errors.New("insufficient pool liquidity")
	ErrInsufficientBalance   = errors.New("insufficient token balance")
	ErrInsufficientAllowance = errors.New("insufficient token allowance")
	ErrNotMinter             = errors.New("caller is not the token minter")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrRateLimited           = errors.New("rate limited")
	ErrLockHeld              = errors.New("lock already held")
)
