// Package audit delivers token lifecycle events to a [Sink] without blocking
// the request path.
//
// # Components
//
//   - [Event] is one record: what happened to which token, for which subject.
//   - [Sink] consumers: [ChannelSink], [JSONWriterSink], [ZapSink], [NoOpSink].
//   - [Dispatcher] is a buffered async relay with drop-if-full or block-if-full
//     semantics.
//
// This package owns buffering and delivery. The engine decides what to emit.
// Events never carry raw tokens, secrets or decrypted subjects; Subject is
// whatever the engine chose to record (it omits encrypted subjects).
package audit
