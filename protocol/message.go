package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/pkg/errors"
)

// MessageType is the one-byte type tag of a message Header.
type MessageType uint8

// Request message types, sent from clients to nodes.
const (
	RequestLeader    MessageType = 0
	RequestClient    MessageType = 1
	RequestHeartbeat MessageType = 2
	RequestOpen      MessageType = 3
	RequestPrepare   MessageType = 4
	RequestExec      MessageType = 5
	RequestQuery     MessageType = 6
	RequestFinalize  MessageType = 7
	RequestExecSQL   MessageType = 8
	RequestQuerySQL  MessageType = 9
	RequestInterrupt MessageType = 10
	RequestAdd       MessageType = 12
	RequestAssign    MessageType = 13
	RequestRemove    MessageType = 14
	RequestDump      MessageType = 15
	RequestCluster   MessageType = 16
	RequestTransfer  MessageType = 17
)

// Response message types, sent from nodes to clients.
const (
	ResponseFailure MessageType = 0
	ResponseNode    MessageType = 1
	ResponseWelcome MessageType = 2
	ResponseNodes   MessageType = 3
	ResponseDb      MessageType = 4
	ResponseStmt    MessageType = 5
	ResponseResult  MessageType = 6
	ResponseRows    MessageType = 7
	ResponseEmpty   MessageType = 8
)

// HeaderLength is the number of bytes of an encoded Header.
const HeaderLength = 8

// ProtocolVersion is sent by clients as the 8-byte handshake of a new connection.
const ProtocolVersion uint64 = 1

// MaxBodyWords bounds the body length a Header may announce. Larger values
// indicate a de-synchronized or corrupt stream.
const MaxBodyWords = (64 << 20) / 8

var requestNames = map[MessageType]string{
	RequestLeader:    "Leader",
	RequestClient:    "Client",
	RequestHeartbeat: "Heartbeat",
	RequestOpen:      "Open",
	RequestPrepare:   "Prepare",
	RequestExec:      "Exec",
	RequestQuery:     "Query",
	RequestFinalize:  "Finalize",
	RequestExecSQL:   "ExecSQL",
	RequestQuerySQL:  "QuerySQL",
	RequestInterrupt: "Interrupt",
	RequestAdd:       "Add",
	RequestAssign:    "Assign",
	RequestRemove:    "Remove",
	RequestDump:      "Dump",
	RequestCluster:   "Cluster",
	RequestTransfer:  "Transfer",
}

var responseNames = map[MessageType]string{
	ResponseFailure: "Failure",
	ResponseNode:    "Node",
	ResponseWelcome: "Welcome",
	ResponseNodes:   "Nodes",
	ResponseDb:      "Db",
	ResponseStmt:    "Stmt",
	ResponseResult:  "Result",
	ResponseRows:    "Rows",
	ResponseEmpty:   "Empty",
}

// RequestName returns the name of a request MessageType.
func RequestName(t MessageType) string {
	if n, ok := requestNames[t]; ok {
		return n
	}
	return fmt.Sprintf("Request(%d)", t)
}

// ResponseName returns the name of a response MessageType.
func ResponseName(t MessageType) string {
	if n, ok := responseNames[t]; ok {
		return n
	}
	return fmt.Sprintf("Response(%d)", t)
}

// Header is the fixed-length preamble of every message.
type Header struct {
	// Words is the length of the message body, in 8-byte words.
	Words uint32
	// Type of the message.
	Type MessageType
	// Schema version of the message body.
	Schema uint8
	// Extra is reserved.
	Extra uint16
}

// EncodeHeader writes the Header into the first HeaderLength bytes of |b|.
func EncodeHeader(b []byte, h Header) {
	binary.LittleEndian.PutUint32(b[0:4], h.Words)
	b[4] = byte(h.Type)
	b[5] = h.Schema
	binary.LittleEndian.PutUint16(b[6:8], h.Extra)
}

// DecodeHeader reads a Header from the first HeaderLength bytes of |b|.
func DecodeHeader(b []byte) Header {
	return Header{
		Words:  binary.LittleEndian.Uint32(b[0:4]),
		Type:   MessageType(b[4]),
		Schema: b[5],
		Extra:  binary.LittleEndian.Uint16(b[6:8]),
	}
}

// Encode a message of type |t| and |body| by appending into buffer |b|,
// which will be grown if needed and returned. The body must be a multiple of
// 8 bytes, or an *EncodingError is returned.
func Encode(b []byte, t MessageType, body []byte) ([]byte, error) {
	if len(body)%8 != 0 {
		return b, &EncodingError{Type: t, Size: len(body)}
	} else if len(body)/8 > MaxBodyWords {
		return b, &EncodingError{Type: t, Size: len(body)}
	}
	var offset = len(b)
	var size = HeaderLength + len(body)

	if size > (cap(b) - offset) {
		b = append(b, make([]byte, size)...)
	} else {
		b = b[:offset+size]
	}
	EncodeHeader(b[offset:], Header{Words: uint32(len(body) / 8), Type: t})
	copy(b[offset+HeaderLength:], body)

	return b, nil
}

// ReadMessage performs a two-phase read of the next message from |r| into
// |msg|: exactly HeaderLength bytes are read and decoded to learn the body
// length, and then exactly that many body bytes are read. A stream which ends
// on a message boundary returns io.EOF; one which ends within a message
// returns io.ErrUnexpectedEOF.
func ReadMessage(r io.Reader, msg *Message) (Header, error) {
	msg.Reset()

	if _, err := io.ReadFull(r, msg.hdr[:]); err != nil {
		return Header{}, err
	}
	var hdr = DecodeHeader(msg.hdr[:])

	if hdr.Words > MaxBodyWords {
		return hdr, &ProtocolError{Type: hdr.Type,
			Reason: fmt.Sprintf("body of %d words exceeds maximum of %d", hdr.Words, MaxBodyWords)}
	}
	var body = msg.grow(int(hdr.Words) * 8)

	if _, err := io.ReadFull(r, body); err == io.EOF {
		return hdr, io.ErrUnexpectedEOF
	} else if err != nil {
		return hdr, err
	}
	return hdr, nil
}

// Expect verifies that a received message of Header |hdr| and body |msg| is
// of type |want|. A Failure response is decoded and returned as a
// *FailureError. Any other mismatch is a *ProtocolError.
func Expect(hdr Header, msg *Message, want MessageType) error {
	if hdr.Type == want {
		return nil
	} else if hdr.Type == ResponseFailure {
		return DecodeFailure(msg)
	}
	return &ProtocolError{
		Type:   hdr.Type,
		Want:   want,
		Reason: fmt.Sprintf("expected %s response, got %s", ResponseName(want), ResponseName(hdr.Type)),
	}
}

// Message is a growable buffer of one message body. A Message is reset and
// re-used across requests, and offers helpers for building and reading bodies
// in 8-byte aligned form. Read helpers record the first encountered error,
// which is returned by Err.
type Message struct {
	body   []byte
	offset int // Read offset into |body|.
	err    error
	hdr    [HeaderLength]byte
}

// Reset the Message to an empty body, retaining allocated capacity.
func (m *Message) Reset() {
	m.body = m.body[:0]
	m.offset = 0
	m.err = nil
}

// Bytes returns the current body.
func (m *Message) Bytes() []byte { return m.body }

// Len returns the length of the current body.
func (m *Message) Len() int { return len(m.body) }

// Err returns the first error encountered while reading the body.
func (m *Message) Err() error { return m.err }

// Remaining returns the number of unread body bytes.
func (m *Message) Remaining() int { return len(m.body) - m.offset }

// SetBytes replaces the body with a copy of |b|, and rewinds the read offset.
func (m *Message) SetBytes(b []byte) {
	m.Reset()
	copy(m.grow(len(b)), b)
}

// grow extends the body by |n| zeroed bytes, returning the extension.
func (m *Message) grow(n int) []byte {
	var l = len(m.body)
	if n > cap(m.body)-l {
		m.body = append(m.body, make([]byte, n)...)
	} else {
		m.body = m.body[:l+n]
		for i := l; i != l+n; i++ {
			m.body[i] = 0
		}
	}
	return m.body[l : l+n]
}

// pad extends the body with zeros to the next 8-byte boundary.
func (m *Message) pad() {
	if r := len(m.body) % 8; r != 0 {
		m.grow(8 - r)
	}
}

// PutUint8 appends a single byte. Callers are responsible for alignment.
func (m *Message) PutUint8(v uint8) { m.grow(1)[0] = v }

// PutUint32 appends a little-endian uint32. Callers are responsible for alignment.
func (m *Message) PutUint32(v uint32) { binary.LittleEndian.PutUint32(m.grow(4), v) }

// PutUint64 appends a little-endian uint64.
func (m *Message) PutUint64(v uint64) { binary.LittleEndian.PutUint64(m.grow(8), v) }

// PutInt64 appends a little-endian int64.
func (m *Message) PutInt64(v int64) { m.PutUint64(uint64(v)) }

// PutFloat64 appends an IEEE-754 float64.
func (m *Message) PutFloat64(v float64) { m.PutUint64(math.Float64bits(v)) }

// PutText appends |s| with a NUL terminator, padded to 8 bytes.
func (m *Message) PutText(s string) {
	copy(m.grow(len(s)+1), s)
	m.pad()
}

// PutBlob appends a uint64 length followed by |b|, padded to 8 bytes.
func (m *Message) PutBlob(b []byte) {
	m.PutUint64(uint64(len(b)))
	copy(m.grow(len(b)), b)
	m.pad()
}

func (m *Message) next(n int) []byte {
	if m.err != nil {
		return nil
	} else if m.offset+n > len(m.body) {
		m.err = &ProtocolError{Reason: fmt.Sprintf(
			"truncated body (need %d bytes at offset %d, have %d)", n, m.offset, len(m.body))}
		return nil
	}
	var b = m.body[m.offset : m.offset+n]
	m.offset += n
	return b
}

// skipPad advances the read offset to the next 8-byte boundary.
func (m *Message) skipPad() {
	if r := m.offset % 8; r != 0 {
		m.next(8 - r)
	}
}

// Uint8 reads a single byte.
func (m *Message) Uint8() uint8 {
	if b := m.next(1); b != nil {
		return b[0]
	}
	return 0
}

// Uint32 reads a little-endian uint32.
func (m *Message) Uint32() uint32 {
	if b := m.next(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

// Uint64 reads a little-endian uint64.
func (m *Message) Uint64() uint64 {
	if b := m.next(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

// Int64 reads a little-endian int64.
func (m *Message) Int64() int64 { return int64(m.Uint64()) }

// Float64 reads an IEEE-754 float64.
func (m *Message) Float64() float64 { return math.Float64frombits(m.Uint64()) }

// Text reads a NUL terminated, padded string.
func (m *Message) Text() string {
	if m.err != nil {
		return ""
	}
	var rest = m.body[m.offset:]
	for i, c := range rest {
		if c == 0 {
			var s = string(rest[:i])
			m.offset += i + 1
			m.skipPad()
			return s
		}
	}
	m.err = &ProtocolError{Reason: fmt.Sprintf("unterminated string at offset %d", m.offset)}
	return ""
}

// Blob reads a length-prefixed, padded byte slice. The returned slice is a copy.
func (m *Message) Blob() []byte {
	var n = m.Uint64()
	if n > uint64(m.Remaining()) {
		if m.err == nil {
			m.err = &ProtocolError{Reason: fmt.Sprintf("blob of %d bytes exceeds body", n)}
		}
		return nil
	}
	var b = make([]byte, n)
	copy(b, m.next(int(n)))
	m.skipPad()
	return b
}

// peekUint64 returns the next uint64 without consuming it.
func (m *Message) peekUint64() (uint64, bool) {
	if m.err != nil || m.offset+8 > len(m.body) {
		return 0, false
	}
	return binary.LittleEndian.Uint64(m.body[m.offset:]), true
}

// finish returns the first read error, or an error if unread bytes remain.
func (m *Message) finish(what string) error {
	if m.err != nil {
		return errors.WithMessagef(m.err, "decoding %s", what)
	} else if r := m.Remaining(); r != 0 {
		return &ProtocolError{Reason: fmt.Sprintf("decoding %s: %d trailing bytes", what, r)}
	}
	return nil
}

// Encodable is a typed message body which may be encoded.
type Encodable interface {
	Type() MessageType
	Encode(*Message) error
}

// AppendMessage encodes |v| into the scratch Message |body|, and appends the
// framed message to |b|, which is grown if needed and returned.
func AppendMessage(b []byte, body *Message, v Encodable) ([]byte, error) {
	body.Reset()
	if err := v.Encode(body); err != nil {
		return b, errors.WithMessagef(err, "encoding %s", RequestName(v.Type()))
	}
	return Encode(b, v.Type(), body.Bytes())
}

// AppendHandshake appends the 8-byte protocol version handshake to |b|.
func AppendHandshake(b []byte) []byte {
	var v [8]byte
	binary.LittleEndian.PutUint64(v[:], ProtocolVersion)
	return append(b, v[:]...)
}
