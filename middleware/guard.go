package middleware

import (
	"context"
	"net/http"

	sessionkit "github.com/tableorder/sessionkit"
	"github.com/tableorder/sessionkit/role"
)

type snapshotContextKey struct{}

// SnapshotFromContext returns the session snapshot a [Guard] injected for
// this request.
func SnapshotFromContext(ctx context.Context) (sessionkit.Snapshot, bool) {
	snap, ok := ctx.Value(snapshotContextKey{}).(sessionkit.Snapshot)
	return snap, ok
}

// SnapshotSource is the narrow Manager view guards need.
type SnapshotSource interface {
	Snapshot() sessionkit.Snapshot
}

// Guard gates a handler on session state and role:
//
//   - Bootstrapping is neither authenticated nor anonymous; the guard
//     answers 503 with Retry-After instead of redirecting to login.
//   - Anonymous and Expired answer 401.
//   - An authenticated holder whose role is not in allowed answers 403.
//
// With an empty allowed set any authenticated holder passes. The snapshot
// is injected into the request context for the wrapped handler.
func Guard(source SnapshotSource, allowed ...role.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if source == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			snap := source.Snapshot()
			switch snap.State {
			case sessionkit.StateBootstrapping:
				w.Header().Set("Retry-After", "1")
				http.Error(w, "session bootstrapping", http.StatusServiceUnavailable)
				return
			case sessionkit.StateAuthenticated, sessionkit.StateRefreshing:
			default:
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			if len(allowed) > 0 && !role.Allowed(snap.Identity.Role, allowed...) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			ctx := context.WithValue(r.Context(), snapshotContextKey{}, snap)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuthenticated passes any authenticated holder regardless of role.
func RequireAuthenticated(source SnapshotSource) func(http.Handler) http.Handler {
	return Guard(source)
}

// RequireBackOffice passes only back-office roles.
func RequireBackOffice(source SnapshotSource) func(http.Handler) http.Handler {
	return Guard(source, role.Admin, role.Manager, role.Staff)
}
