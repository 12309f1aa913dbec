package protocol

import "fmt"

// EncodingError is returned when a message body would violate the framing
// invariant that bodies are a whole number of 8-byte words.
type EncodingError struct {
	Type MessageType
	Size int
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("cannot encode %s: body of %d bytes is not a multiple of 8 (or is too large)",
		RequestName(e.Type), e.Size)
}

// ProtocolError indicates a malformed message or a message of an unexpected
// type. It signals a protocol or version mismatch, and is never retried.
type ProtocolError struct {
	Type   MessageType // Type of the offending message, if known.
	Want   MessageType // Expected type, if applicable.
	Reason string
}

func (e *ProtocolError) Error() string { return "protocol error: " + e.Reason }

// FailureError is a Failure response sent by a node in place of the expected
// response. Code is a SQLite extended result code.
type FailureError struct {
	Code    uint64
	Message string
}

func (e *FailureError) Error() string {
	return fmt.Sprintf("node failure (code %d): %s", e.Code, e.Message)
}

// IsNotLeader returns true if the node refused the request because it is not
// (or is no longer) the cluster leader.
func (e *FailureError) IsNotLeader() bool {
	return e.Code == ErrCodeNotLeader || e.Code == ErrCodeLeadershipLost
}

// SQLite (extended) result codes reported by cluster nodes.
const (
	ErrCodeError          uint64 = 1     // SQLITE_ERROR
	ErrCodeBusy           uint64 = 5     // SQLITE_BUSY
	ErrCodeNotFound       uint64 = 12    // SQLITE_NOTFOUND
	ErrCodeProto          uint64 = 15    // SQLITE_PROTOCOL
	ErrCodeRange          uint64 = 25    // SQLITE_RANGE
	ErrCodeNotLeader      uint64 = 10250 // SQLITE_IOERR_NOT_LEADER
	ErrCodeLeadershipLost uint64 = 10506 // SQLITE_IOERR_LEADERSHIP_LOST
)
