package nodetest

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.sqlcluster.dev/core/metrics"
	pb "go.sqlcluster.dev/core/protocol"
	"go.sqlcluster.dev/core/server"
	"go.sqlcluster.dev/core/task"
)

// Node is an in-process member of a Cluster.
type Node struct {
	ID pb.NodeID
	// Name is a human-friendly moniker of the Node, used in logging.
	Name string

	cluster *Cluster
	address string

	mu    sync.Mutex
	srv   *server.Server
	tasks *task.Group
}

// Address of the Node, as "host:port". It's stable across Restarts.
func (n *Node) Address() string { return n.address }

// Running returns whether the Node is serving.
func (n *Node) Running() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.tasks != nil
}

// Stop the Node, closing all of its connections.
func (n *Node) Stop() {
	n.mu.Lock()
	var tasks = n.tasks
	n.tasks, n.srv = nil, nil
	n.mu.Unlock()

	if tasks == nil {
		return
	}
	tasks.Cancel()
	if err := tasks.Wait(); err != nil {
		log.WithFields(log.Fields{"node": n.Name, "err": err}).Warn("node task failed")
	}
}

// Restart a stopped Node at its prior address.
func (n *Node) Restart() error {
	var _, port, err = net.SplitHostPort(n.address)
	if err != nil {
		return err
	}
	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return err
	}
	return n.start(uint16(p))
}

func (n *Node) start(port uint16) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.tasks != nil {
		return errors.Errorf("node %s is already running", n.Name)
	}
	var srv, err = server.New("127.0.0.1", port)
	if err != nil {
		return err
	}
	if n.address == "" {
		n.address = srv.Endpoint()
	}

	srv.HTTPMux.HandleFunc("/debug/ready", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprintf(w, "%s (node %d) is ready\n", n.Name, n.ID)
	})
	srv.HTTPMux.Handle("/debug/metrics", promhttp.Handler())

	var tasks = task.NewGroup(context.Background())
	srv.QueueTasks(tasks, n.serve)
	tasks.GoRun()

	n.srv, n.tasks = srv, tasks

	log.WithFields(log.Fields{
		"node": n.Name,
		"id":   n.ID,
		"addr": n.address,
	}).Debug("started node")

	return nil
}

// connState is the per-connection state of opened databases and prepared
// statements. IDs are scoped to the connection.
type connState struct {
	dbs   []string
	stmts map[uint32]string
	next  uint32
}

// serve a single client connection.
func (n *Node) serve(ctx context.Context, conn net.Conn) error {
	metrics.NodeSessionsTotal.Inc()

	var hs [8]byte
	if _, err := io.ReadFull(conn, hs[:]); err != nil {
		return errors.WithMessage(err, "reading handshake")
	} else if v := binary.LittleEndian.Uint64(hs[:]); v != pb.ProtocolVersion {
		return errors.Errorf("unsupported protocol version (%d)", v)
	}

	var (
		cs      = connState{stmts: make(map[uint32]string)}
		msg     pb.Message
		scratch pb.Message
		out     []byte
	)
	for {
		var hdr, err = pb.ReadMessage(conn, &msg)
		if err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}

		var resps []pb.Encodable
		switch n.cluster.takeFault(n.ID, hdr.Type) {
		case Drop:
			n.cluster.record(Request{Node: n.ID, Type: hdr.Type})
			return nil
		case Stall:
			n.cluster.record(Request{Node: n.ID, Type: hdr.Type})
			_, _ = io.Copy(io.Discard, conn) // Until closed.
			return nil
		case Garble:
			n.cluster.record(Request{Node: n.ID, Type: hdr.Type})
			resps = []pb.Encodable{welcome{}}
		default:
			resps = n.handle(ctx, &cs, hdr.Type, &msg)
		}

		out = out[:0]
		for _, r := range resps {
			if out, err = pb.AppendMessage(out, &scratch, r); err != nil {
				return err
			}
		}
		if _, err = conn.Write(out); err != nil {
			return err
		}
	}
}

// handle a request, returning its responses.
func (n *Node) handle(ctx context.Context, cs *connState, typ pb.MessageType, msg *pb.Message) []pb.Encodable {
	var rec = Request{Node: n.ID, Type: typ}
	var resps, err = n.dispatch(ctx, cs, typ, msg, &rec)
	n.cluster.record(rec)

	var name = pb.RequestName(typ)
	if err == nil {
		metrics.NodeRequestsTotal.WithLabelValues(name, pb.ResponseName(resps[0].Type())).Inc()
		return resps
	}
	metrics.NodeRequestsTotal.WithLabelValues(name, pb.ResponseName(pb.ResponseFailure)).Inc()

	var failure *pb.FailureError
	if !errors.As(err, &failure) {
		failure = &pb.FailureError{Code: pb.ErrCodeError, Message: err.Error()}
	}
	return []pb.Encodable{failure}
}

func (n *Node) dispatch(ctx context.Context, cs *connState, typ pb.MessageType, msg *pb.Message, rec *Request) ([]pb.Encodable, error) {
	var c = n.cluster

	switch typ {
	case pb.RequestLeader:
		var req pb.LeaderRequest
		if err := req.Decode(msg); err != nil {
			return nil, protoFailure(err)
		}
		var leader = c.leaderNode()
		return one(pb.NodeResponse{ID: leader.ID, Address: leader.Address})

	case pb.RequestOpen:
		var req pb.OpenRequest
		if err := req.Decode(msg); err != nil {
			return nil, protoFailure(err)
		} else if req.Name == "" {
			return nil, &pb.FailureError{Code: pb.ErrCodeError, Message: "empty database name"}
		}
		cs.dbs = append(cs.dbs, req.Name)
		return one(pb.DbResponse{ID: uint32(len(cs.dbs) - 1)})

	case pb.RequestPrepare:
		var req pb.PrepareRequest
		if err := req.Decode(msg); err != nil {
			return nil, protoFailure(err)
		}
		rec.SQL = req.SQL

		if err := c.requireLeader(n.ID); err != nil {
			return nil, err
		}
		var db, err = cs.database(req.DB)
		if err != nil {
			return nil, err
		}
		params, err := c.engine.prepare(ctx, db, req.SQL)
		if err != nil {
			return nil, err
		}
		cs.next++
		cs.stmts[cs.next] = req.SQL
		return one(pb.StmtResponse{DB: uint32(req.DB), ID: cs.next, Params: params})

	case pb.RequestExec:
		var req pb.ExecRequest
		if err := req.Decode(msg); err != nil {
			return nil, protoFailure(err)
		}
		rec.Stmt = req.Stmt

		if err := c.requireLeader(n.ID); err != nil {
			return nil, err
		}
		var db, sql, err = cs.statement(req.DB, req.Stmt)
		if err != nil {
			return nil, err
		}
		res, err := c.engine.exec(ctx, db, sql, req.Params)
		if err != nil {
			return nil, err
		}
		return one(res)

	case pb.RequestQuery:
		var req pb.QueryRequest
		if err := req.Decode(msg); err != nil {
			return nil, protoFailure(err)
		}
		rec.Stmt = req.Stmt

		if err := c.requireLeader(n.ID); err != nil {
			return nil, err
		}
		var db, sql, err = cs.statement(req.DB, req.Stmt)
		if err != nil {
			return nil, err
		}
		columns, values, err := c.engine.query(ctx, db, sql, req.Params)
		if err != nil {
			return nil, err
		}
		return splitRows(columns, values, c.RowsPerMessage), nil

	case pb.RequestFinalize:
		var req pb.FinalizeRequest
		if err := req.Decode(msg); err != nil {
			return nil, protoFailure(err)
		}
		rec.Stmt = req.Stmt

		if _, _, err := cs.statement(req.DB, req.Stmt); err != nil {
			return nil, err
		}
		delete(cs.stmts, req.Stmt)
		return one(pb.EmptyResponse{})

	case pb.RequestCluster:
		var req pb.ClusterRequest
		if err := req.Decode(msg); err != nil {
			return nil, protoFailure(err)
		}
		return one(pb.NodesResponse{Nodes: c.Members()})

	case pb.RequestAdd:
		var req pb.AddRequest
		if err := req.Decode(msg); err != nil {
			return nil, protoFailure(err)
		} else if err = c.requireLeader(n.ID); err != nil {
			return nil, err
		} else if err = c.add(req.ID, req.Address); err != nil {
			return nil, err
		}
		return one(pb.EmptyResponse{})

	case pb.RequestAssign:
		var req pb.AssignRequest
		if err := req.Decode(msg); err != nil {
			return nil, protoFailure(err)
		} else if err = c.requireLeader(n.ID); err != nil {
			return nil, err
		} else if err = c.assign(req.ID, req.Role); err != nil {
			return nil, err
		}
		return one(pb.EmptyResponse{})

	case pb.RequestRemove:
		var req pb.RemoveRequest
		if err := req.Decode(msg); err != nil {
			return nil, protoFailure(err)
		} else if err = c.requireLeader(n.ID); err != nil {
			return nil, err
		} else if err = c.remove(req.ID); err != nil {
			return nil, err
		}
		return one(pb.EmptyResponse{})

	case pb.RequestTransfer:
		var req pb.TransferRequest
		if err := req.Decode(msg); err != nil {
			return nil, protoFailure(err)
		} else if err = c.requireLeader(n.ID); err != nil {
			return nil, err
		} else if err = c.transfer(req.ID); err != nil {
			return nil, err
		}
		return one(pb.EmptyResponse{})
	}
	return nil, &pb.FailureError{
		Code:    pb.ErrCodeProto,
		Message: fmt.Sprintf("unsupported request type (%s)", pb.RequestName(typ)),
	}
}

func (cs *connState) database(id uint64) (string, error) {
	if id >= uint64(len(cs.dbs)) {
		return "", &pb.FailureError{Code: pb.ErrCodeNotFound, Message: "no such database"}
	}
	return cs.dbs[id], nil
}

func (cs *connState) statement(db, stmt uint32) (string, string, error) {
	var name, err = cs.database(uint64(db))
	if err != nil {
		return "", "", err
	}
	var sql, ok = cs.stmts[stmt]
	if !ok {
		return "", "", &pb.FailureError{Code: pb.ErrCodeNotFound, Message: "no such statement"}
	}
	return name, sql, nil
}

func one(r pb.Encodable) ([]pb.Encodable, error) { return []pb.Encodable{r}, nil }

func protoFailure(err error) error {
	return &pb.FailureError{Code: pb.ErrCodeProto, Message: err.Error()}
}

// rowsPart is a Rows response of a portion of a result set.
type rowsPart struct {
	columns []string
	values  [][]interface{}
	more    bool
}

func (rowsPart) Type() pb.MessageType { return pb.ResponseRows }

func (r rowsPart) Encode(m *pb.Message) error { return m.PutRows(r.columns, r.values, r.more) }

// splitRows into parts of at most |per| rows each. A result set with no rows
// is still a single part.
func splitRows(columns []string, values [][]interface{}, per int) []pb.Encodable {
	if per <= 0 || len(values) <= per {
		return []pb.Encodable{rowsPart{columns: columns, values: values}}
	}
	var out []pb.Encodable
	for len(values) > per {
		out = append(out, rowsPart{columns: columns, values: values[:per], more: true})
		values = values[per:]
	}
	return append(out, rowsPart{columns: columns, values: values})
}

// welcome is a response type which clients never expect.
type welcome struct{}

func (welcome) Type() pb.MessageType       { return pb.ResponseWelcome }
func (welcome) Encode(m *pb.Message) error { m.PutUint64(15); return nil }
