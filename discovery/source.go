// Package discovery provides Sources of the candidate nodes of a cluster,
// which seed a client's connection Pool.
package discovery

import (
	"context"
	"sort"

	pb "go.sqlcluster.dev/core/protocol"
)

// Source of cluster Nodes.
type Source interface {
	// Nodes returns the candidate Nodes of the cluster, ordered on ID.
	Nodes(ctx context.Context) ([]pb.Node, error)
}

// Static is a fixed Source of Nodes.
type Static []pb.Node

// Nodes returns a copy of the Static Nodes.
func (s Static) Nodes(context.Context) ([]pb.Node, error) {
	if err := validate(s); err != nil {
		return nil, err
	}
	return append([]pb.Node(nil), s...), nil
}

// validate that |nodes| are individually valid, and have unique IDs and
// addresses.
func validate(nodes []pb.Node) error {
	if len(nodes) == 0 {
		return pb.NewValidationError("expected at least one node")
	}
	var ids = make(map[pb.NodeID]bool)
	var addrs = make(map[string]bool)

	for i, n := range nodes {
		if err := n.Validate(); err != nil {
			return pb.ExtendContext(err, "Nodes[%d]", i)
		} else if ids[n.ID] {
			return pb.NewValidationError("Nodes[%d]: duplicate ID (%d)", i, n.ID)
		} else if addrs[n.Address] {
			return pb.NewValidationError("Nodes[%d]: duplicate Address (%s)", i, n.Address)
		}
		ids[n.ID], addrs[n.Address] = true, true
	}
	return nil
}

func sortNodes(nodes []pb.Node) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
}
