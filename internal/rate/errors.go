package rate

import "errors"

var (
	// ErrRateLimited is returned when an identifier has exhausted its
	// attempt budget for the current window.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps transport failures so callers can fail
	// closed without mistaking an outage for an exceeded limit.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
