// Package protocol implements the binary wire protocol spoken by nodes of a
// Raft-replicated SQL cluster (the dqlite protocol, version 1). It defines the
// fixed 8-byte message Header, the typed request and response bodies exchanged
// by clients and nodes, the encoding of SQL values and row sets, and the
// cluster Node datamodel along with its validation behaviors.
//
// Every message on the wire is a Header followed by a body. The Header carries
// the body length in 8-byte words and a one-byte message type. Bodies are
// always padded to a multiple of 8 bytes, and strings are NUL terminated prior
// to padding:
//
//	+---------+------+--------+-------+-------------------------+
//	| words:4 | type:1 | schema:1 | extra:2 | body: words * 8 bytes |
//	+---------+------+--------+-------+-------------------------+
//
// All integers are little-endian. Request and response types share a numeric
// namespace, and a message type is only meaningful given the direction in
// which it travels.
//
// Decoding is strict: callers name the response type they expect at each
// protocol step, and any other type results in a ProtocolError (or, for a
// Failure response, a FailureError carrying the node's error code).
//
// By convention, this package is imported as `pb`:
//
// import pb "go.sqlcluster.dev/core/protocol"
package protocol
