// Package audit implements async event dispatching for account lifecycle
// changes in the credential pool.
//
// # Components
//
//   - [Sink] is the event consumer interface (channel, JSON writer, no-op).
//   - [Dispatcher] is a buffered async relay with drop-if-full or block-if-full semantics.
//   - [Event] is the structured record: timestamp, type, account, masked email, metadata.
//
// # Architecture boundaries
//
// This package owns buffering and sink delivery. It does NOT decide which
// events to emit; the Pool does.
//
// # What this package must NOT do
//
//   - Carry passwords, tokens or unmasked emails in events.
//   - Import credpool or any sibling internal package.
//   - Perform network I/O beyond what a caller-supplied Sink does.
package audit
