// Package pbx models the envelopes exchanged with a chat server over a
// single bidirectional stream.
//
// A [ClientMsg] and a [ServerMsg] each carry exactly one payload, modeled as
// a sealed sum type. The JSON mapping of an envelope is the Tinode websocket
// wire format: a single-key object, keyed by the payload kind, e.g.
//
//	{"pub":{"id":"104","topic":"grpAbc","content":"hi"}}
//
// Content, head values, ctrl params, and public or private values hold
// JSON-encoded values, which are embedded as-is. Secrets are base64. Times
// are unix milliseconds in the model, and RFC 3339 on the wire.
package pbx
