// Package audit implements async event dispatching for replay rejections,
// association removals and cleanup sweeps.
//
// # Components
//
//   - [Sink]: interface for event consumers (channel, JSON writer, no-op).
//   - [Dispatcher]: buffered async relay with drop-if-full / block-if-full semantics.
//   - [Event]: structured audit record with timestamp, type, server URL, handle, sweep run id.
//
// # Architecture boundaries
//
// This package owns event buffering and sink delivery. It does NOT decide which events
// to emit: that responsibility belongs to the Store.
//
// # What this package must NOT do
//
//   - Carry association secrets or serialized payloads in events.
//   - Import openidstore or any sibling internal package.
//   - Perform network I/O beyond what a caller-supplied Sink does.
package audit
