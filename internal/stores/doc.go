// Package stores provides the record collections behind the association and
// nonce store: Redis, Valkey and MongoDB implementations of the same two
// interfaces.
//
// # Design
//
// Associations are keyed by a derived id and carry an opaque payload plus an
// expiry. Nonces are keyed by a derived id and admitted at most once; the
// uniqueness check and the insert are a single backend operation (a Lua
// script on Redis and Valkey, the _id unique index on MongoDB). Multi-key
// writes on the key-value backends go through Lua scripts so indexes never
// drift from records.
//
// # Architecture boundaries
//
// This package owns persistence and index maintenance. It does NOT derive
// ids, decode association payloads, or decide which time window is valid.
// Those responsibilities belong to the root Store.
//
// # What this package must NOT do
//
//   - Import openidstore or any sibling internal package.
//   - Read before writing when admitting a nonce.
//   - Retry failed backend calls.
package stores
