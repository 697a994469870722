package rate

import "errors"

var (
	// ErrRateLimited is returned once the failure budget of the window is spent.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps Redis failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
