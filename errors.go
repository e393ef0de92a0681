package sessionkit

import (
	"errors"

	"github.com/tableorder/sessionkit/credential"
	"github.com/tableorder/sessionkit/store"
	"github.com/tableorder/sessionkit/transport"
)

var (
	// ErrInvalidCredential is returned when a held credential cannot be
	// decoded.
	ErrInvalidCredential = credential.ErrUndecodable
	// ErrExpiredNoRefresh is returned when a stale credential cannot be
	// renewed because no refresh capability is held.
	ErrExpiredNoRefresh = transport.ErrNoRefreshCapability
	// ErrRefreshRejected is returned when the refresh endpoint refused the
	// exchange.
	ErrRefreshRejected = transport.ErrExchangeRejected
	// ErrSessionClosed rejects queued requests when the session is torn
	// down while their refresh exchange is pending.
	ErrSessionClosed = transport.ErrClosed

	// ErrBadCredentials is the server's generic wrong-identifier-or-secret
	// rejection.
	ErrBadCredentials = errors.New("bad credentials")
	// ErrAccountLocked means the account exists but is locked out.
	ErrAccountLocked = errors.New("account locked")
	// ErrAccountUnknown means no account matches the identifier.
	ErrAccountUnknown = errors.New("unknown account")
	// ErrOAuthAccountNoSecret means the account was created through a
	// federated provider and holds no local secret. Callers must route
	// this to the set-a-password flow instead of a generic login error.
	ErrOAuthAccountNoSecret = errors.New("oauth account has no local secret")

	// ErrStoreUnavailable classifies storage backend failures. The session
	// itself degrades to anonymous instead of erroring; this surfaces only
	// in logs and diagnostics.
	ErrStoreUnavailable = store.ErrUnavailable

	// ErrNetworkFailure wraps transport-level failures reaching the auth
	// endpoints. It never changes session state.
	ErrNetworkFailure = errors.New("network failure")

	// ErrManagerClosed is returned by operations on a closed Manager.
	ErrManagerClosed = errors.New("session manager closed")
	// ErrSessionExpired reports that the session degraded to the terminal
	// Expired state.
	ErrSessionExpired = errors.New("session expired")
)
