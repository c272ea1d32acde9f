package apperrors

import "errors"

// Standardized risk engine errors
var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrDegenerateRatio = errors.New("degenerate ratio")
)

// Standardized transport errors
var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrServerBusy        = errors.New("server busy")
	ErrNetwork           = errors.New("network error")
	ErrUnexpectedStatus  = errors.New("unexpected status")
)

// IsEngineError reports whether err belongs to the engine taxonomy
// (as opposed to a transport failure).
func IsEngineError(err error) bool {
	return errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrDegenerateRatio)
}
