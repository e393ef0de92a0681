// Package store is the single source of truth for the credential a session
// currently holds, plus the refresh capability used to renew it.
//
// The durable [KV] backend is deliberately treated as unreliable: it may be
// disabled, full, or unreachable, and every such failure degrades to "no
// credential" instead of an error. A client must keep functioning as an
// anonymous session when its storage is gone.
//
// # Architecture boundaries
//
// The refresh capability is owned exclusively by this package. It is handed
// out through [Store.RefreshCapability] to the refresh coordinator only and
// must never be read, logged, or persisted by application code.
//
// # What this package must NOT do
//
//   - Decode credentials or inspect their claims.
//   - Issue network calls other than through the configured KV backend.
//   - Surface backend failures to callers as errors.
package store
