package sessionkit

import (
	"io"
	"time"

	"github.com/tableorder/sessionkit/internal/events"
	"github.com/tableorder/sessionkit/role"
)

// SessionState is the lifecycle state of the client session.
type SessionState uint8

const (
	// StateAnonymous holds no credential.
	StateAnonymous SessionState = iota
	// StateBootstrapping means a persisted credential was found and its
	// decode/freshness check is in progress. Consumers must not treat it
	// as Anonymous, or the UI flashes a login redirect on every reload.
	StateBootstrapping
	// StateAuthenticated holds a fresh credential and a decoded identity.
	StateAuthenticated
	// StateRefreshing means a refresh exchange is in flight.
	StateRefreshing
	// StateExpired is terminal until the user re-authenticates: the
	// exchange failed or the credential was undecodable, identity is
	// cleared, and the re-authentication notice is armed.
	StateExpired
)

// String implements fmt.Stringer.
func (s SessionState) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateBootstrapping:
		return "bootstrapping"
	case StateAuthenticated:
		return "authenticated"
	case StateRefreshing:
		return "refreshing"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Identity is the decoded, canonicalized identity of the session holder.
// DisplayName and AvatarURL are cosmetic enrichments from the profile
// endpoint and may lag or stay empty; nothing may branch on them for
// authorization.
type Identity struct {
	Subject     string
	AccountID   int64
	BranchID    int64
	Role        role.Role
	DisplayName string
	AvatarURL   string
}

// Snapshot is a point-in-time view of the session, the only thing route
// guards and UI code consume.
type Snapshot struct {
	State       SessionState
	Identity    Identity
	ExpiresAt   time.Time
	NoticeArmed bool
}

// Authenticated reports whether the snapshot carries a usable identity.
func (s Snapshot) Authenticated() bool {
	return s.State == StateAuthenticated || s.State == StateRefreshing
}

// Event is a session lifecycle notification delivered to the configured
// [EventSink].
type Event = events.Event

// EventSink receives [Event] values from the session event dispatcher.
type EventSink = events.Sink

// NoOpSink is an [EventSink] that silently discards all events.
type NoOpSink = events.NoOpSink

// ChannelSink is a buffered channel-based [EventSink].
type ChannelSink = events.ChannelSink

// JSONWriterSink is an [EventSink] that writes JSON-encoded events to an
// [io.Writer].
type JSONWriterSink = events.JSONWriterSink

// NewChannelSink creates a [ChannelSink] with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return events.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return events.NewJSONWriterSink(w)
}

// Event types emitted by the Manager.
const (
	// EventLoginSucceeded fires after any successful login path.
	EventLoginSucceeded = "login_succeeded"
	// EventLoginFailed fires after a rejected login attempt.
	EventLoginFailed = "login_failed"
	// EventRefreshSucceeded fires after a successful refresh exchange.
	EventRefreshSucceeded = "refresh_succeeded"
	// EventRefreshFailed fires after a failed refresh exchange.
	EventRefreshFailed = "refresh_failed"
	// EventSessionExpired fires exactly once per expiry episode, when the
	// session degrades to the terminal Expired state. The UI shows its
	// single blocking re-authentication notice on it.
	EventSessionExpired = "session_expired"
	// EventSessionCleared fires when the credential store is cleared.
	EventSessionCleared = "session_cleared"
	// EventProfileEnriched fires when the best-effort profile fetch after
	// an external login completes.
	EventProfileEnriched = "profile_enriched"
	// EventLogout fires on explicit logout.
	EventLogout = "logout"
)
