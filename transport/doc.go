// Package transport makes credential expiry invisible to request-issuing
// code. Every outbound call goes through the [Coordinator], an
// http.RoundTripper that attaches the current bearer credential, detects
// authorization failures, and renews the credential through the refresh
// endpoint with a single-flight guarantee: no matter how many requests fail
// at once, at most one refresh exchange is ever in flight.
//
// Requests that fail while an exchange is running suspend as FIFO waiters
// and resume with the one credential that exchange produced; no waiter ever
// starts a second exchange. A failed exchange rejects every waiter with the
// same error and reports the terminal failure to the session layer.
//
// # Concurrency notes
//
// The in-flight flag and the waiter queue are the only shared mutable state
// and are touched solely under the coordinator's own mutex. Waiter channels
// are buffered, so resuming a waiter whose caller has already given up is a
// no-op rather than a leak. The exchange itself runs under a bounded timeout
// detached from any single request's context: a hung exchange fails all
// waiters instead of starving them forever, and a cancelled initiator does
// not abort an exchange other requests are waiting on.
//
// # What this package must NOT do
//
//   - Decode credentials or derive identity from them.
//   - Mutate a caller-owned *http.Request; attempts are tracked in a
//     per-call envelope and requests are cloned.
//   - Persist anything except through the configured credential source.
package transport
