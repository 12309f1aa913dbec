package client

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	pb "go.sqlcluster.dev/core/protocol"
)

// DefaultMaxClients is the default capacity of a Pool.
const DefaultMaxClients = 32

// Pool is an ordered set of cluster nodes, and their lazily dialed Sessions.
// Slots are indexed from zero. The first Len slots are active, and are
// probed during leader resolution. Nodes learned through leader redirects
// which aren't already in the Pool are appended as further slots, up to the
// Pool capacity. Pool is not safe for concurrent use.
type Pool struct {
	slots    []slot
	active   int
	capacity int
	opts     DialOptions
}

type slot struct {
	node    pb.Node
	session *Session
}

// NewPool returns a Pool of |nodes|, having capacity |capacity| (or
// DefaultMaxClients, if zero). Node IDs may be zero if not yet known.
func NewPool(nodes []pb.Node, capacity int, opts DialOptions) (*Pool, error) {
	if capacity == 0 {
		capacity = DefaultMaxClients
	}
	if len(nodes) == 0 {
		return nil, pb.NewValidationError("expected at least one node")
	} else if len(nodes) > capacity {
		return nil, pb.NewValidationError("too many nodes (%d; capacity is %d)", len(nodes), capacity)
	}
	var p = &Pool{
		slots:    make([]slot, len(nodes), capacity),
		active:   len(nodes),
		capacity: capacity,
		opts:     opts,
	}
	for i, n := range nodes {
		if err := pb.ValidateAddress(n.Address); err != nil {
			return nil, pb.ExtendContext(err, "Nodes[%d].Address", i)
		}
		p.slots[i].node = n
	}
	return p, nil
}

// SetClientCount limits the number of active slots to |n|, which must be in
// the range [1, number of slots].
func (p *Pool) SetClientCount(n int) error {
	if n < 1 || n > len(p.slots) {
		return pb.NewValidationError("invalid client count %d (expected 1 <= n <= %d)", n, len(p.slots))
	}
	p.active = n
	return nil
}

// Len returns the number of active slots.
func (p *Pool) Len() int { return p.active }

// Node returns the Node of slot |i|.
func (p *Pool) Node(i int) pb.Node { return p.slots[i].node }

// Connect returns the Session of slot |i|, dialing it if it's not yet
// connected or if its prior Session broke.
func (p *Pool) Connect(ctx context.Context, i int) (*Session, error) {
	if i < 0 || i >= len(p.slots) {
		return nil, errors.Errorf("invalid slot %d (have %d)", i, len(p.slots))
	}
	var sl = &p.slots[i]

	if sl.session != nil && sl.session.Broken() == nil {
		return sl.session, nil
	} else if sl.session != nil {
		_ = sl.session.Close()
		sl.session = nil
	}

	var s, err = Dial(ctx, sl.node.Address, p.opts)
	if err != nil {
		return nil, err
	}
	sl.session = s
	return s, nil
}

// Lookup the slot of |node|, first by dialed address and then by non-zero ID.
func (p *Pool) Lookup(node pb.Node) (int, bool) {
	var addr = DialAddress(node.Address, p.opts)
	for i := range p.slots {
		if node.Address != "" && DialAddress(p.slots[i].node.Address, p.opts) == addr {
			return i, true
		}
	}
	for i := range p.slots {
		if node.ID != 0 && p.slots[i].node.ID == node.ID {
			return i, true
		}
	}
	return -1, false
}

// Adopt |node| into a new slot, returning its index.
func (p *Pool) Adopt(node pb.Node) (int, error) {
	if err := pb.ValidateAddress(node.Address); err != nil {
		return -1, pb.ExtendContext(err, "Address")
	} else if len(p.slots) == p.capacity {
		return -1, errors.Errorf("cannot adopt %s: pool is at capacity (%d)", node, p.capacity)
	}
	p.slots = append(p.slots, slot{node: node})

	log.WithFields(log.Fields{
		"node": node.String(),
		"slot": len(p.slots) - 1,
	}).Info("adopted redirected leader into pool")

	return len(p.slots) - 1, nil
}

// learn the ID of the Node at slot |i|, if it was unknown.
func (p *Pool) learn(i int, id pb.NodeID) {
	if p.slots[i].node.ID == 0 {
		p.slots[i].node.ID = id
	}
}

// Drop closes and discards the Session of slot |i|, if any.
func (p *Pool) Drop(i int) {
	if s := p.slots[i].session; s != nil {
		_ = s.Close()
		p.slots[i].session = nil
	}
}

// CloseAll closes all Sessions of the Pool.
func (p *Pool) CloseAll() {
	for i := range p.slots {
		p.Drop(i)
	}
}

func (p *Pool) String() string {
	return fmt.Sprintf("Pool(%d active of %d)", p.active, len(p.slots))
}
