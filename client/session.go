package client

import (
	"context"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.sqlcluster.dev/core/keepalive"
	"go.sqlcluster.dev/core/metrics"
	pb "go.sqlcluster.dev/core/protocol"
)

// DefaultPort of cluster nodes.
const DefaultPort uint16 = 24000

// DialOptions configure the dialing of a Session.
type DialOptions struct {
	// Port used for addresses which don't specify one. If zero, DefaultPort is used.
	Port uint16
	// ForceDefaultPort discards any port of the dialed address in favor of Port.
	ForceDefaultPort bool
	// Timeout of each request round-trip. If zero, only Context deadlines apply.
	Timeout time.Duration
	// VFS requested when opening databases.
	VFS string
}

// DialAddress returns the "host:port" which is dialed for |address|.
func DialAddress(address string, opts DialOptions) string {
	var port = opts.Port
	if port == 0 {
		port = DefaultPort
	}

	var host, p, err = net.SplitHostPort(address)
	if err != nil {
		// Bare host, or bare IPv6 literal.
		host, p = strings.TrimSuffix(strings.TrimPrefix(address, "["), "]"), ""
	}
	if p == "" || opts.ForceDefaultPort {
		p = strconv.Itoa(int(port))
	}
	return net.JoinHostPort(host, p)
}

// Session is an established, handshaked connection with a single cluster
// node. A Session carries at most one in-flight request, and is not safe for
// concurrent use. Its read and write buffers are re-used across requests.
//
// A Session which fails with an I/O error or timeout is broken: its stream
// position is unknown, and further use fails with ErrSessionBroken.
type Session struct {
	// ID of the Session, used in logging.
	ID uuid.UUID
	// Address of the node, as dialed.
	Address string

	conn    net.Conn
	timeout time.Duration
	vfs     string
	broken  error

	wbuf    []byte
	scratch pb.Message
	rmsg    pb.Message

	db *openDB
}

type openDB struct {
	name string
	id   uint32
}

// Dial the node at |address|, and send the protocol handshake.
// Failures are returned as a *ConnectionError.
func Dial(ctx context.Context, address string, opts DialOptions) (*Session, error) {
	var addr = DialAddress(address, opts)

	var conn, err = keepalive.Dial(ctx, addr)
	if err != nil {
		metrics.ClientDialsTotal.WithLabelValues(metrics.Fail).Inc()
		return nil, &ConnectionError{Address: addr, Err: err}
	}
	var s = &Session{
		ID:      uuid.New(),
		Address: addr,
		conn:    conn,
		timeout: opts.Timeout,
		vfs:     opts.VFS,
	}

	var stop = s.arm(ctx)
	_, err = conn.Write(pb.AppendHandshake(nil))
	stop()

	if err != nil {
		_ = conn.Close()
		metrics.ClientDialsTotal.WithLabelValues(metrics.Fail).Inc()
		return nil, &ConnectionError{Address: addr, Err: errors.WithMessage(err, "handshake")}
	}
	metrics.ClientDialsTotal.WithLabelValues(metrics.Ok).Inc()

	log.WithFields(log.Fields{"session": s.ID, "addr": addr}).Debug("dialed node session")
	return s, nil
}

// Broken returns the error which broke the Session, or nil.
func (s *Session) Broken() error { return s.broken }

// Close the Session.
func (s *Session) Close() error {
	if s.broken == nil {
		s.broken = ErrSessionBroken
	}
	return s.conn.Close()
}

// arm the connection deadline from the Session timeout and the deadline of
// |ctx|, and interrupt blocked I/O if |ctx| is cancelled. The returned
// function must be called once I/O completes. If the interrupt has already
// fired, it waits for the interrupt to finish so that a later arm can't be
// overwritten by it.
func (s *Session) arm(ctx context.Context) (stop func()) {
	var deadline time.Time
	if s.timeout > 0 {
		deadline = time.Now().Add(s.timeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	_ = s.conn.SetDeadline(deadline)

	var interrupted = make(chan struct{})
	var cancel = context.AfterFunc(ctx, func() {
		_ = s.conn.SetDeadline(aLongTimeAgo)
		close(interrupted)
	})
	return func() {
		if !cancel() {
			<-interrupted
		}
	}
}

// fail breaks the Session with a classified I/O error.
func (s *Session) fail(ctx context.Context, op string, err error) error {
	err = classify(ctx, s.Address, op, err)
	s.broken = err

	log.WithFields(log.Fields{
		"session": s.ID,
		"addr":    s.Address,
		"err":     err,
	}).Debug("session broken")

	return err
}

// Send the request |req|.
func (s *Session) Send(ctx context.Context, req pb.Encodable) error {
	if s.broken != nil {
		return errors.WithMessagef(ErrSessionBroken, "%s (%s)", s.Address, s.broken)
	}

	var err error
	if s.wbuf, err = pb.AppendMessage(s.wbuf[:0], &s.scratch, req); err != nil {
		return err
	}

	var stop = s.arm(ctx)
	defer stop()

	if _, err = s.conn.Write(s.wbuf); err != nil {
		return s.fail(ctx, "write", err)
	}
	return nil
}

// Recv the next response, which must be of type |want|. The returned Message
// is owned by the Session, and is valid only until its next use.
func (s *Session) Recv(ctx context.Context, want pb.MessageType) (*pb.Message, error) {
	if s.broken != nil {
		return nil, errors.WithMessagef(ErrSessionBroken, "%s (%s)", s.Address, s.broken)
	}

	var stop = s.arm(ctx)
	var hdr, err = pb.ReadMessage(s.conn, &s.rmsg)
	stop()

	if err != nil {
		var protoErr *pb.ProtocolError
		if errors.As(err, &protoErr) {
			s.broken = err
			return nil, err
		}
		return nil, s.fail(ctx, "read", err)
	}

	if err = pb.Expect(hdr, &s.rmsg, want); err != nil {
		var protoErr *pb.ProtocolError
		if errors.As(err, &protoErr) {
			s.broken = err // Peer speaks a protocol we don't understand.
		}
		return nil, err
	}
	return &s.rmsg, nil
}

// response is a typed response body.
type response interface {
	Type() pb.MessageType
	Decode(*pb.Message) error
}

// RoundTrip sends |req| and decodes its response into |resp|.
func (s *Session) RoundTrip(ctx context.Context, req pb.Encodable, resp response) (err error) {
	var started = time.Now()
	var typ = pb.RequestName(req.Type())

	defer func() {
		var status = metrics.Ok
		if err != nil {
			status = metrics.Fail
		}
		metrics.ClientRequestsTotal.WithLabelValues(typ, status).Inc()
		metrics.ClientRequestSeconds.WithLabelValues(typ).Observe(time.Since(started).Seconds())
	}()

	if err = s.Send(ctx, req); err != nil {
		return err
	}
	var msg *pb.Message
	if msg, err = s.Recv(ctx, resp.Type()); err != nil {
		return err
	}
	if err = resp.Decode(msg); err != nil {
		s.broken = err
	}
	return err
}

// Leader asks the node for the current cluster leader. A zero Node ID
// indicates the node doesn't currently know of one.
func (s *Session) Leader(ctx context.Context) (pb.Node, error) {
	var resp pb.NodeResponse
	if err := s.RoundTrip(ctx, pb.LeaderRequest{}, &resp); err != nil {
		return pb.Node{}, err
	}
	return pb.Node{ID: resp.ID, Address: resp.Address}, nil
}

// OpenDatabase opens database |name|, returning its connection-scoped ID.
// An opened database is remembered by the Session, and re-opening the same
// name returns its ID without a round-trip.
func (s *Session) OpenDatabase(ctx context.Context, name string) (uint32, error) {
	if s.db != nil && s.db.name == name {
		return s.db.id, nil
	}
	var resp pb.DbResponse
	if err := s.RoundTrip(ctx, pb.OpenRequest{Name: name, VFS: s.vfs}, &resp); err != nil {
		return 0, err
	}
	s.db = &openDB{name: name, id: resp.ID}
	return resp.ID, nil
}

// Cluster lists the nodes of the cluster configuration.
func (s *Session) Cluster(ctx context.Context) ([]pb.Node, error) {
	var resp pb.NodesResponse
	if err := s.RoundTrip(ctx, pb.ClusterRequest{Format: pb.ClusterFormatV1}, &resp); err != nil {
		return nil, err
	}
	return resp.Nodes, nil
}

// Add a node to the cluster configuration. The Session must be of the leader.
func (s *Session) Add(ctx context.Context, id pb.NodeID, address string) error {
	return s.RoundTrip(ctx, pb.AddRequest{ID: id, Address: address}, new(pb.EmptyResponse))
}

// Remove a node from the cluster configuration. The Session must be of the leader.
func (s *Session) Remove(ctx context.Context, id pb.NodeID) error {
	return s.RoundTrip(ctx, pb.RemoveRequest{ID: id}, new(pb.EmptyResponse))
}

// Assign a role to a node. The Session must be of the leader.
func (s *Session) Assign(ctx context.Context, id pb.NodeID, role pb.NodeRole) error {
	return s.RoundTrip(ctx, pb.AssignRequest{ID: id, Role: role}, new(pb.EmptyResponse))
}

// Transfer leadership to node |id|. The Session must be of the leader.
func (s *Session) Transfer(ctx context.Context, id pb.NodeID) error {
	return s.RoundTrip(ctx, pb.TransferRequest{ID: id}, new(pb.EmptyResponse))
}

// aLongTimeAgo is a non-zero time, far in the past, used to immediately
// expire blocked I/O.
var aLongTimeAgo = time.Unix(1, 0)
