package internaldefs

import (
	sessionkit "github.com/tableorder/sessionkit"
)

// CounterDef binds a collector metric ID to its exported name.
type CounterDef struct {
	ID   sessionkit.MetricID
	Name string
	Help string
}

// HistogramDef binds a collector histogram ID to its exported name.
type HistogramDef struct {
	ID   sessionkit.MetricID
	Name string
	Help string
}

// CounterDefs enumerates every exported counter, in exposition order.
var CounterDefs = []CounterDef{
	{ID: sessionkit.MetricLoginSuccess, Name: "sessionkit_login_success_total", Help: "Successful password logins."},
	{ID: sessionkit.MetricLoginFailure, Name: "sessionkit_login_failure_total", Help: "Rejected password logins."},
	{ID: sessionkit.MetricLoginExternal, Name: "sessionkit_login_external_total", Help: "Sessions adopted from external federated logins."},
	{ID: sessionkit.MetricRefreshSuccess, Name: "sessionkit_refresh_success_total", Help: "Completed refresh exchanges."},
	{ID: sessionkit.MetricRefreshFailure, Name: "sessionkit_refresh_failure_total", Help: "Rejected or timed-out refresh exchanges."},
	{ID: sessionkit.MetricRefreshJoined, Name: "sessionkit_refresh_joined_total", Help: "Requests that joined an exchange another request started."},
	{ID: sessionkit.MetricBootstrapAuthenticated, Name: "sessionkit_bootstrap_authenticated_total", Help: "Bootstraps that restored an authenticated session."},
	{ID: sessionkit.MetricBootstrapExpired, Name: "sessionkit_bootstrap_expired_total", Help: "Bootstraps that ended in the expired state."},
	{ID: sessionkit.MetricBootstrapAnonymous, Name: "sessionkit_bootstrap_anonymous_total", Help: "Bootstraps with no stored session."},
	{ID: sessionkit.MetricSessionExpired, Name: "sessionkit_session_expired_total", Help: "Transitions into the terminal expired state."},
	{ID: sessionkit.MetricLogout, Name: "sessionkit_logout_total", Help: "Explicit logouts."},
	{ID: sessionkit.MetricProfileEnriched, Name: "sessionkit_profile_enriched_total", Help: "Completed profile enrichments."},
}

// HistogramDefs enumerates every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: sessionkit.MetricRefreshLatency, Name: "sessionkit_refresh_latency_seconds", Help: "Refresh exchange latency histogram."},
}

// HistogramBounds are the upper bucket bounds, matching the collector's
// millisecond boundaries.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix are the bound labels rendered into OTel instrument
// names, which cannot contain dots or plus signs.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates a raw snapshot slice to the fixed
// bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into the cumulative form
// both exposition formats expect.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
