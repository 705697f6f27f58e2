package domain

import "errors"

// Infrastructure errors shared by stores, caches and the HTTP layer.
var (
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("rate limited")
	ErrUnauthorized = errors.New("unauthorized")
	ErrLockHeld     = errors.New("lock already held")
	ErrDuplicate    = errors.New("duplicate request")
	ErrExpired      = errors.New("request expired")
)

// ErrorKind groups contract failures by what the caller has to do before
// retrying.
type ErrorKind string

const (
	KindAuthorization  ErrorKind = "authorization"
	KindPolicy         ErrorKind = "policy_violation"
	KindStateConflict  ErrorKind = "state_conflict"
	KindCircuitBreaker ErrorKind = "circuit_breaker"
	KindExternal       ErrorKind = "external_failure"
	KindInput          ErrorKind = "invalid_input"
)

// Error is a contract-level failure. Every failed call aborts its whole
// transaction; Code is the reason string surfaced to callers.
type Error struct {
	Code string
	Kind ErrorKind
}

func (e *Error) Error() string { return e.Code }

func newError(code string, kind ErrorKind) *Error {
	return &Error{Code: code, Kind: kind}
}

var (
	ErrNotOwner              = newError("NotOwner", KindAuthorization)
	ErrNotAuthorizedExecutor = newError("NotAuthorizedExecutor", KindAuthorization)
	ErrNotPositionOwner      = newError("NotPositionOwner", KindAuthorization)

	ErrExceedsMaxTradeSize   = newError("ExceedsMaxTradeSize", KindPolicy)
	ErrMarketNotWhitelisted  = newError("MarketNotWhitelisted", KindPolicy)
	ErrDailyLossLimitReached = newError("DailyLossLimitReached", KindPolicy)
	ErrOutOfGlobalBounds     = newError("OutOfGlobalBounds", KindPolicy)
	ErrInvalidRange          = newError("InvalidRange", KindPolicy)
	ErrPositionLimitReached  = newError("PositionLimitReached", KindPolicy)
	ErrMarketInactive        = newError("MarketInactive", KindPolicy)

	ErrPositionAlreadyClosed = newError("PositionAlreadyClosed", KindStateConflict)
	ErrPositionNotFound      = newError("PositionNotFound", KindStateConflict)
	ErrInsufficientBalance   = newError("InsufficientBalance", KindStateConflict)
	ErrMarketNotFound        = newError("MarketNotFound", KindStateConflict)
	ErrGenesisMismatch       = newError("GenesisMismatch", KindStateConflict)

	ErrPaused              = newError("Paused", KindCircuitBreaker)
	ErrGlobalTradingPaused = newError("GlobalTradingPaused", KindCircuitBreaker)

	ErrVenueCallFailed = newError("VenueCallFailed", KindExternal)
	ErrTransferFailed  = newError("TransferFailed", KindExternal)
	ErrReentrantCall   = newError("ReentrantCall", KindExternal)

	ErrArrayLengthMismatch = newError("ArrayLengthMismatch", KindInput)
	ErrInvalidAmount       = newError("InvalidAmount", KindInput)
	ErrInvalidArgs         = newError("InvalidArguments", KindInput)
	ErrInvalidProfile      = newError("InvalidRiskProfile", KindInput)
	ErrInvalidFee          = newError("InvalidFee", KindInput)
	ErrNotPayable          = newError("NotPayable", KindInput)
	ErrUnknownContract     = newError("UnknownContract", KindInput)
	ErrUnknownMethod       = newError("UnknownMethod", KindInput)
)

// CodeOf returns the code of the first contract error in err's chain, or ""
// when err carries none.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// KindOf returns the kind of the first contract error in err's chain.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
