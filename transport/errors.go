package transport

import "errors"

var (
	// ErrClosed rejects queued waiters when the session is torn down while
	// their exchange is still pending.
	ErrClosed = errors.New("session transport closed")
	// ErrNoRefreshCapability is returned when a stale credential cannot be
	// renewed because no refresh capability is held.
	ErrNoRefreshCapability = errors.New("no refresh capability held")
	// ErrExchangeRejected is returned when the refresh endpoint refused the
	// exchange.
	ErrExchangeRejected = errors.New("refresh exchange rejected")
)
