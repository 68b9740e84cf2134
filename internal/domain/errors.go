package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrInvalidOrder  = errors.New("invalid order parameters")
	ErrInvalidQuote  = errors.New("invalid quote")
	ErrSigningFailed = errors.New("signing failed")
	ErrWSDisconnect  = errors.New("websocket disconnected")
	ErrLockHeld      = errors.New("lock already held")
	ErrUnknownVenue  = errors.New("unknown venue")
	ErrQueueFull     = errors.New("queue full")

	// Execution admission errors. None of these produce a Trade.
	ErrBreakerOpen          = errors.New("circuit breaker open")
	ErrInsufficientHeadroom = errors.New("insufficient position headroom")
	ErrMarketBusy           = errors.New("execution already in flight for market")
	ErrStaleOpportunity     = errors.New("opportunity quotes are stale")
	ErrPairUnregistered     = errors.New("matched pair no longer registered")
	ErrShuttingDown         = errors.New("shutting down")
)
