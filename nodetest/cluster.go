// Package nodetest provides an in-process cluster of nodes which speak the
// wire protocol, suitable for testing clients without a live Raft cluster.
//
// Nodes share a single SQLite engine and a leadership assignment which
// tests control directly. Requests are journaled, and faults may be
// injected by request type.
package nodetest

import (
	"sync"

	petname "github.com/dustinkirkland/golang-petname"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	pb "go.sqlcluster.dev/core/protocol"
)

// Request is a journaled request received by a Node.
type Request struct {
	Node pb.NodeID
	Type pb.MessageType
	// SQL of Prepare requests.
	SQL string
	// Stmt ID of Exec, Query and Finalize requests.
	Stmt uint32
}

// Fault injected into the handling of a request.
type Fault int

const (
	// Drop closes the connection instead of responding.
	Drop Fault = iota + 1
	// Stall never responds, until the connection is closed.
	Stall
	// Garble responds with a message of an unexpected type.
	Garble
)

// Cluster is a set of in-process Nodes.
type Cluster struct {
	// Name of the Cluster, used to scope its SQLite databases.
	Name string
	// Nodes of the Cluster. Node i has ID i+1.
	Nodes []*Node
	// RowsPerMessage splits Rows responses into parts of at most this many
	// rows. Zero means unlimited.
	RowsPerMessage int

	engine *engine

	mu      sync.Mutex
	leader  pb.NodeID
	members []pb.Node
	journal []Request
	faults  map[faultKey]Fault
}

type faultKey struct {
	node pb.NodeID
	typ  pb.MessageType
}

// NewCluster starts a Cluster of |n| Nodes, each a voting member, with
// node 1 as leader.
func NewCluster(t require.TestingT, n int) *Cluster {
	var c, err = Start(n)
	require.NoError(t, err)
	return c
}

// Start a Cluster of |n| Nodes, each a voting member, with node 1 as leader.
func Start(n int) (*Cluster, error) {
	if n < 1 {
		return nil, errors.Errorf("invalid cluster size (%d)", n)
	}
	var name = petname.Generate(2, "-")
	var c = &Cluster{
		Name:   name,
		engine: newEngine(name),
		leader: 1,
		faults: make(map[faultKey]Fault),
	}
	for i := 0; i != n; i++ {
		var node = &Node{
			ID:      pb.NodeID(i + 1),
			Name:    petname.Generate(2, "-"),
			cluster: c,
		}
		if err := node.start(0); err != nil {
			c.Stop()
			return nil, err
		}
		c.Nodes = append(c.Nodes, node)
		c.members = append(c.members, pb.Node{ID: node.ID, Address: node.Address(), Role: pb.Voter})
	}
	return c, nil
}

// Addresses of the Cluster's Nodes, in ID order.
func (c *Cluster) Addresses() []string {
	var out []string
	for _, n := range c.Nodes {
		out = append(out, n.Address())
	}
	return out
}

// Node returns the Node with |id|, or nil.
func (c *Cluster) Node(id pb.NodeID) *Node {
	for _, n := range c.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// Leader returns the current leader ID, which is zero if there is none.
func (c *Cluster) Leader() pb.NodeID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.leader
}

// SetLeader makes |id| the leader. A zero |id| leaves the Cluster leaderless.
func (c *Cluster) SetLeader(id pb.NodeID) {
	c.mu.Lock()
	c.leader = id
	c.mu.Unlock()
}

// Members returns a copy of the cluster configuration.
func (c *Cluster) Members() []pb.Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]pb.Node(nil), c.members...)
}

// Inject |fault| into the next request of type |typ| received by node |id|.
func (c *Cluster) Inject(id pb.NodeID, typ pb.MessageType, fault Fault) {
	c.mu.Lock()
	c.faults[faultKey{id, typ}] = fault
	c.mu.Unlock()
}

func (c *Cluster) takeFault(id pb.NodeID, typ pb.MessageType) Fault {
	c.mu.Lock()
	defer c.mu.Unlock()

	var k = faultKey{id, typ}
	var f = c.faults[k]
	delete(c.faults, k)
	return f
}

// Requests returns the journal of received requests, in order.
func (c *Cluster) Requests() []Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Request(nil), c.journal...)
}

// RequestTypes returns the types of journaled requests received by node
// |id|, in order.
func (c *Cluster) RequestTypes(id pb.NodeID) []pb.MessageType {
	var out []pb.MessageType
	for _, r := range c.Requests() {
		if r.Node == id {
			out = append(out, r.Type)
		}
	}
	return out
}

// ResetRequests clears the journal.
func (c *Cluster) ResetRequests() {
	c.mu.Lock()
	c.journal = nil
	c.mu.Unlock()
}

func (c *Cluster) record(r Request) {
	c.mu.Lock()
	c.journal = append(c.journal, r)
	c.mu.Unlock()
}

// Stop all Nodes of the Cluster, and release its databases.
func (c *Cluster) Stop() {
	for _, n := range c.Nodes {
		n.Stop()
	}
	c.engine.close()
}

func (c *Cluster) requireLeader(id pb.NodeID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.leader != id {
		return &pb.FailureError{Code: pb.ErrCodeNotLeader, Message: "not leader"}
	}
	return nil
}

func (c *Cluster) leaderNode() pb.Node {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, m := range c.members {
		if m.ID == c.leader {
			return m
		}
	}
	return pb.Node{}
}

func (c *Cluster) memberIndex(id pb.NodeID) int {
	for i, m := range c.members {
		if m.ID == id {
			return i
		}
	}
	return -1
}

func (c *Cluster) add(id pb.NodeID, address string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.memberIndex(id) != -1 {
		return &pb.FailureError{Code: pb.ErrCodeError, Message: "node ID already in use"}
	}
	for _, m := range c.members {
		if m.Address == address {
			return &pb.FailureError{Code: pb.ErrCodeError, Message: "node address already in use"}
		}
	}
	// Added nodes begin as spares, and are promoted by Assign.
	c.members = append(c.members, pb.Node{ID: id, Address: address, Role: pb.Spare})
	return nil
}

func (c *Cluster) assign(id pb.NodeID, role pb.NodeRole) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var i = c.memberIndex(id)
	if i == -1 {
		return &pb.FailureError{Code: pb.ErrCodeNotFound, Message: "no such node"}
	} else if role > pb.Spare {
		return &pb.FailureError{Code: pb.ErrCodeError, Message: "invalid role"}
	} else if id == c.leader && role != pb.Voter {
		return &pb.FailureError{Code: pb.ErrCodeError, Message: "cannot demote the leader"}
	}
	c.members[i].Role = role
	return nil
}

func (c *Cluster) remove(id pb.NodeID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var i = c.memberIndex(id)
	if i == -1 {
		return &pb.FailureError{Code: pb.ErrCodeNotFound, Message: "no such node"}
	} else if id == c.leader {
		return &pb.FailureError{Code: pb.ErrCodeError, Message: "cannot remove the leader"}
	}
	c.members = append(c.members[:i], c.members[i+1:]...)
	return nil
}

// transfer leadership to voter |id|. A zero |id| selects any other voter.
func (c *Cluster) transfer(id pb.NodeID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, m := range c.members {
		if m.Role != pb.Voter || m.ID == c.leader {
			continue
		} else if id == 0 || m.ID == id {
			c.leader = m.ID
			return nil
		}
	}
	return &pb.FailureError{Code: pb.ErrCodeNotFound, Message: "no eligible voter"}
}
