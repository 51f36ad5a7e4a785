// Package audit ships security events off the request path.
//
// # Components
//
//   - [Sink]: event consumer (zap logger, Kafka topic, channel, no-op).
//   - [Dispatcher]: buffered async relay with drop-if-full or block-if-full
//     semantics and counters for dropped and failed events.
//   - [Event]: one audit record.
//
// The Engine decides which events to emit. This package only buffers and
// delivers them.
package audit
