package sqlctlcmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	mbp "go.sqlcluster.dev/core/mainboilerplate"
	pb "go.sqlcluster.dev/core/protocol"
)

type cmdLeader struct{}

type cmdMembers struct{}

type cmdAddServer struct {
	ID      uint64 `long:"id" required:"true" description:"ID of the node to add"`
	Address string `long:"address" required:"true" description:"Address of the node to add"`
	Role    string `long:"role" choice:"voter" choice:"standby" choice:"spare" description:"Role to assign to the node, once added. If empty, the node remains a spare"`
}

type cmdRemoveServer struct {
	ID uint64 `long:"id" required:"true" description:"ID of the node to remove"`
}

type cmdAssign struct {
	ID   uint64 `long:"id" required:"true" description:"ID of the node"`
	Role string `long:"role" required:"true" choice:"voter" choice:"standby" choice:"spare" description:"Role to assign"`
}

type cmdTransfer struct {
	ID uint64 `long:"id" default:"0" description:"ID of the voting node to transfer leadership to. If zero, the cluster picks one"`
}

type cmdBootstrap struct{}

func init() {
	CommandRegistry.AddCommand("", "leader", "Print the cluster leader", `
Locate the current leader of the cluster, and print its ID and address.
`, &cmdLeader{})

	CommandRegistry.AddCommand("", "members", "List members of the cluster", `
List the nodes of the cluster configuration, as reported by the leader,
with their roles.
`, &cmdMembers{})

	CommandRegistry.AddCommand("", "add-server", "Add a node to the cluster", `
Add a node to the cluster configuration. The node joins as a spare and,
if --role is given, is then assigned the role:
>    sqlctl add-server --id 4 --address 10.0.0.4:24000 --role voter
`, &cmdAddServer{})

	CommandRegistry.AddCommand("", "remove-server", "Remove a node from the cluster", `
Remove a node from the cluster configuration. The leader cannot be removed:
transfer leadership first.
`, &cmdRemoveServer{})

	CommandRegistry.AddCommand("", "assign", "Assign a role to a cluster node", `
Assign a role ("voter", "standby", or "spare") to a member of the cluster.
`, &cmdAssign{})

	CommandRegistry.AddCommand("", "transfer", "Transfer cluster leadership", `
Transfer leadership of the cluster to another voting node.
`, &cmdTransfer{})

	CommandRegistry.AddCommand("", "bootstrap", "Register configured nodes with the cluster", `
Add each configured cluster node (other than the first) to the cluster
configuration through the leader, and assign its configured role.
Nodes already in the configuration are skipped, so bootstrap may be re-run.

Nodes must have known IDs, which is the case for nodes given by --cluster.node
(the ID is the order of the flag), by a YAML --cluster.nodes-file, or by
--cluster.etcd-prefix.
`, &cmdBootstrap{})
}

func (cmd *cmdLeader) Execute([]string) error {
	startup()

	var ctx = context.Background()
	var cl = mustClient(ctx)
	defer cl.Close()

	var leader, err = cl.Leader(ctx)
	mbp.Must(err, "failed to resolve leader")

	fmt.Printf("%d\t%s\n", leader.ID, leader.Address)
	return nil
}

func (cmd *cmdMembers) Execute([]string) error {
	startup()

	var ctx = context.Background()
	var cl = mustClient(ctx)
	defer cl.Close()

	var nodes, err = cl.Cluster(ctx)
	mbp.Must(err, "failed to list cluster")
	leader, err := cl.Leader(ctx)
	mbp.Must(err, "failed to resolve leader")

	writeMembers(os.Stdout, nodes, leader.ID)
	return nil
}

func (cmd *cmdAddServer) Execute([]string) error {
	startup()

	var ctx = context.Background()
	var cl = mustClient(ctx)
	defer cl.Close()

	var id = pb.NodeID(cmd.ID)
	mbp.Must(cl.AddServer(ctx, nil, id, cmd.Address), "failed to add node", "id", id)

	if cmd.Role != "" {
		var role, err = pb.ParseNodeRole(cmd.Role)
		mbp.Must(err, "invalid role")
		mbp.Must(cl.Assign(ctx, nil, id, role), "failed to assign role", "id", id)
	}
	log.WithFields(log.Fields{"id": id, "address": cmd.Address}).Info("added node")
	return nil
}

func (cmd *cmdRemoveServer) Execute([]string) error {
	startup()

	var ctx = context.Background()
	var cl = mustClient(ctx)
	defer cl.Close()

	mbp.Must(cl.RemoveServer(ctx, nil, pb.NodeID(cmd.ID)), "failed to remove node", "id", cmd.ID)
	log.WithField("id", cmd.ID).Info("removed node")
	return nil
}

func (cmd *cmdAssign) Execute([]string) error {
	startup()

	var role, err = pb.ParseNodeRole(cmd.Role)
	mbp.Must(err, "invalid role")

	var ctx = context.Background()
	var cl = mustClient(ctx)
	defer cl.Close()

	mbp.Must(cl.Assign(ctx, nil, pb.NodeID(cmd.ID), role), "failed to assign role", "id", cmd.ID)
	log.WithFields(log.Fields{"id": cmd.ID, "role": role}).Info("assigned role")
	return nil
}

func (cmd *cmdTransfer) Execute([]string) error {
	startup()

	var ctx = context.Background()
	var cl = mustClient(ctx)
	defer cl.Close()

	mbp.Must(cl.Transfer(ctx, nil, pb.NodeID(cmd.ID)), "failed to transfer leadership")

	var leader, err = cl.Leader(ctx)
	mbp.Must(err, "failed to resolve leader")

	fmt.Printf("%d\t%s\n", leader.ID, leader.Address)
	return nil
}

func (cmd *cmdBootstrap) Execute([]string) error {
	startup()

	var ctx = context.Background()
	var cl = mustClient(ctx)
	defer cl.Close()

	mbp.Must(cl.Bootstrap(ctx), "failed to bootstrap cluster")
	return nil
}

func writeMembers(w io.Writer, nodes []pb.Node, leader pb.NodeID) {
	var table = tablewriter.NewWriter(w)
	table.SetHeader([]string{"ID", "Address", "Role", "Leader"})

	for _, n := range nodes {
		var mark string
		if n.ID == leader {
			mark = "*"
		}
		table.Append([]string{strconv.FormatUint(uint64(n.ID), 10), n.Address, n.Role.String(), mark})
	}
	table.Render()
}
