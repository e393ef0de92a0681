// Package credential decodes the short-lived access credential held by a
// client session.
//
// The credential is an opaque compact JWS string minted and verified by the
// backend. This package deliberately parses it without signature
// verification: the client holds no verification key, and nothing decoded
// here is trusted for anything beyond display and local freshness checks.
// Authorization is always re-checked server side.
//
// # Architecture boundaries
//
// This package owns the wire shape of the claims, including the
// string-or-array role claim. No other package may pattern-match on the raw
// claim shape; consumers go through [Claims.Role] and the role package.
//
// # What this package must NOT do
//
//   - Perform I/O or network calls.
//   - Verify signatures or make authorization decisions.
//   - Import any sibling package.
package credential
