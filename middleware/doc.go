// Package middleware exposes HTTP route guards driven by session
// snapshots.
//
// [Guard] gates a handler on the session lifecycle state and an allowed
// role set. It consumes [sessionkit.Snapshot] values only; the credential
// itself never reaches guarded handlers.
//
// # Architecture boundaries
//
// This package translates session state into HTTP semantics. It does NOT
// decode credentials or talk to the network. All decisions come from the
// Manager's snapshot and the role package's allow check.
//
// # What this package must NOT do
//
//   - Read or parse the Authorization header.
//   - Trigger a refresh exchange.
//   - Branch on cosmetic identity fields.
package middleware
