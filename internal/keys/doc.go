// Package keys derives the deterministic record identifiers shared by every
// storage backend.
//
// An identifier is the hex SHA-256 digest of a length-prefixed encoding of the
// record's addressing fields. Length prefixes make the encoding injective, so
// ("a:b", "c") and ("a", "b:c") produce unrelated digests.
//
// # What this package must NOT do
//
//   - Import openidstore or any backend package.
//   - Perform I/O.
package keys
