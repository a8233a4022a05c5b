package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicateScan     = errors.New("duplicate scan")
	ErrInvalidTransition = errors.New("invalid checkpoint transition")
	ErrStaleCheckpoint   = errors.New("checkpoint modified concurrently")
	ErrFetchFailed       = errors.New("fetch failed")
	ErrQuotaExceeded     = errors.New("quota exceeded")
	ErrRateLimited       = errors.New("rate limited")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrSigningFailed     = errors.New("signing failed")
	ErrLockHeld          = errors.New("lock already held")
	ErrUnknownGame       = errors.New("unknown game")
	ErrInvalidFilter     = errors.New("invalid filter")
)
