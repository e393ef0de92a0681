// Package sessionkit manages the authenticated-session lifecycle for a
// role-based restaurant storefront and back-office client: session state,
// silent single-flight credential renewal, and canonical role derivation.
//
// The package is the public surface. It exposes [Manager], [Builder],
// [Config], and value types (Snapshot, Identity, MetricsSnapshot). All
// coordination lives in subpackages: credential decoding in credential/,
// role canonicalization in role/, durable credential storage in store/, the
// refresh coordinator in transport/, and event delivery under internal/.
//
// # Architecture boundaries
//
// Consumers read session state through [Manager.Snapshot] and issue HTTP
// calls through [Manager.Client]; they never touch the raw credential or the
// refresh capability. Route guards consume the snapshot only.
//
// # What this package must NOT do
//
//   - Render UI or make authorization decisions beyond exposing the
//     canonical role.
//   - Expose the refresh capability or the KV backend in its public API.
//   - Run background timers: credential freshness is evaluated lazily, on
//     access.
//
// # Concurrency contract
//
// All Manager methods are safe for concurrent use after Build. The one
// in-flight refresh invariant is owned by transport.Coordinator; the Manager
// only reacts to its lifecycle callbacks.
package sessionkit
