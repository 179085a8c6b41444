// Package openidstore persists OpenID 2.0 associations and single-use nonces
// for a relying party, on Redis, Valkey or MongoDB.
//
// The package is a passive fact base: the protocol engine decides when to
// store, look up or remove an association and asks whether a response nonce
// has been seen. [Store] methods are safe to call from multiple goroutines
// after initialization through [Builder.Build].
//
// # Architecture boundaries
//
// openidstore is the public surface. It exposes [Store], [Builder], [Config],
// [Association] and the audit and metrics value types. Record layout, id
// derivation and backend scripts live under internal/ and are never exported.
//
// # What this package must NOT do
//
//   - Sign or verify messages, perform discovery, or follow redirects.
//   - Retry failed backend calls or pool connections.
//   - Perform I/O outside of Store methods (construction via Builder is
//     allocation-only until Build).
//   - Admit a nonce through a read followed by a write.
package openidstore
