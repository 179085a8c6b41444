// Package internal holds helpers private to openidstore, currently random
// value generation for nonce salts and association secrets.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher and Sink implementations)
//   - keys: deterministic record ids for associations and nonces
//   - stores: Redis, Valkey and MongoDB collection adapters
package internal
