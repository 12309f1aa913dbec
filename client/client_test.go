package client

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.sqlcluster.dev/core/nodetest"
	pb "go.sqlcluster.dev/core/protocol"
	gc "gopkg.in/check.v1"
)

func TestConfigValidationCases(t *testing.T) {
	var cfg = Config{Nodes: []pb.Node{{Address: "10.0.0.1"}, {ID: 2, Address: "10.0.0.2:24000"}}}
	require.NoError(t, cfg.Validate())

	cfg.Nodes[1].Role = pb.Spare + 1
	require.EqualError(t, cfg.Validate(), "Nodes[1]: invalid Role (3)")
	cfg.Nodes[1].Role = pb.StandBy

	cfg.LeaderCache = NewLeaderCache(1, time.Minute)
	require.EqualError(t, cfg.Validate(), "expected ClusterKey with LeaderCache")
	cfg.ClusterKey = "key"

	cfg.MaxClients = 1
	require.EqualError(t, cfg.Validate(), "too many Nodes (2; MaxClients is 1)")
	cfg.MaxClients = 0

	cfg.DialAttempts = -1
	require.EqualError(t, cfg.Validate(), "invalid DialAttempts (-1; expected >= 0)")
	cfg.DialAttempts = 0

	cfg.Nodes[0].Address = ""
	require.EqualError(t, cfg.Validate(), "Nodes[0].Address: expected address")

	cfg.Nodes = nil
	require.EqualError(t, cfg.Validate(), "expected at least one node")
}

func TestOpenWalksFromTheLastSlot(t *testing.T) {
	var c = nodetest.NewCluster(t, 3)
	defer c.Stop()

	var cl = buildClientFixture(t, c, nil)
	defer cl.Close()
	var ctx = context.Background()

	require.NoError(t, cl.Open(ctx, "test"))
	require.Equal(t, []nodetest.Request{{Node: 3, Type: pb.RequestOpen}}, c.Requests())

	// Case: the last node is down. It's attempted DialAttempts times.
	c.Nodes[2].Stop()
	cl = buildClientFixture(t, c, func(cfg *Config) { cfg.DialAttempts = 2 })
	defer cl.Close()
	c.ResetRequests()

	require.NoError(t, cl.Open(ctx, "test"))
	require.Equal(t, []nodetest.Request{{Node: 2, Type: pb.RequestOpen}}, c.Requests())

	// Case: a reduced client count excludes later slots.
	cl = buildClientFixture(t, c, nil)
	defer cl.Close()
	require.NoError(t, cl.SetClientCount(1))
	c.ResetRequests()

	require.NoError(t, cl.Open(ctx, "test"))
	require.Equal(t, []nodetest.Request{{Node: 1, Type: pb.RequestOpen}}, c.Requests())
}

func TestOpenFailsAfterExhaustingAttempts(t *testing.T) {
	var c = nodetest.NewCluster(t, 2)
	var cl = buildClientFixture(t, c, func(cfg *Config) { cfg.DialAttempts = 2 })
	defer cl.Close()
	c.Stop()

	var err = cl.Open(context.Background(), "test")

	var oe *OpenError
	require.ErrorAs(t, err, &oe)
	require.Equal(t, "test", oe.Database)
	require.Equal(t, 4, oe.Attempts)
	require.True(t, IsConnectionFailure(err))

	// Statements are refused without an opened database.
	_, err = cl.Query(context.Background(), "SELECT 1")
	require.Equal(t, ErrNoDatabase, err)
}

func TestEndToEndWithFollowersAndDownedNode(t *testing.T) {
	var c = nodetest.NewCluster(t, 3)
	defer c.Stop()

	c.SetLeader(2)
	c.Nodes[2].Stop()

	var cl = buildClientFixture(t, c, nil)
	defer cl.Close()
	var ctx = context.Background()

	// Node 3 is attempted and fails. Node 2 opens the database.
	require.NoError(t, cl.Open(ctx, "mydb"))

	res, err := cl.Exec(ctx, "CREATE TABLE t(x INT)")
	require.NoError(t, err)
	require.Equal(t, uint64(0), res.RowsAffected)

	res, err = cl.Exec(ctx, "INSERT INTO t VALUES (1)")
	require.NoError(t, err)
	require.Equal(t, uint64(1), res.RowsAffected)
	require.Equal(t, uint64(1), cl.Changes())

	rows, err := cl.Query(ctx, "SELECT x FROM t")
	require.NoError(t, err)
	require.Equal(t, &pb.Rows{Columns: []string{"x"}, Values: [][]interface{}{{int64(1)}}}, rows)

	leader, err := cl.Leader(ctx)
	require.NoError(t, err)
	require.Equal(t, pb.NodeID(2), leader.ID)

	// Node 1 was never needed.
	require.Empty(t, c.RequestTypes(1))
}

func TestMembershipOperations(t *testing.T) {
	var c = nodetest.NewCluster(t, 3)
	defer c.Stop()

	var cl = buildClientFixture(t, c, nil)
	defer cl.Close()
	var ctx = context.Background()

	require.EqualError(t, cl.AddServer(ctx, nil, 0, "10.0.0.9"), "invalid ID (must be > 0)")
	require.EqualError(t, cl.Assign(ctx, nil, 2, pb.Spare+1), "invalid Role (3)")

	require.NoError(t, cl.AddServer(ctx, nil, 4, "10.0.0.4:24000"))
	require.NoError(t, cl.Assign(ctx, nil, 4, pb.StandBy))
	require.NoError(t, cl.RemoveServer(ctx, nil, 3))

	members, err := cl.Cluster(ctx)
	require.NoError(t, err)
	require.Equal(t, []pb.Node{
		{ID: 1, Address: c.Nodes[0].Address(), Role: pb.Voter},
		{ID: 2, Address: c.Nodes[1].Address(), Role: pb.Voter},
		{ID: 4, Address: "10.0.0.4:24000", Role: pb.StandBy},
	}, members)

	// Membership changes sent through a follower's Session are refused.
	s, err := cl.Session(ctx, 1)
	require.NoError(t, err)
	require.True(t, IsNotLeader(cl.RemoveServer(ctx, s, 4)))

	// Transfer leadership. Subsequent operations follow the new leader.
	require.NoError(t, cl.Transfer(ctx, nil, 2))
	leader, err := cl.Leader(ctx)
	require.NoError(t, err)
	require.Equal(t, pb.NodeID(2), leader.ID)

	require.NoError(t, cl.RemoveServer(ctx, nil, 4))
	require.Len(t, c.Members(), 2)

	ls, err := cl.LeaderSession(ctx)
	require.NoError(t, err)
	require.Equal(t, c.Nodes[1].Address(), ls.Address)
}

func TestBootstrapAddsPoolNodes(t *testing.T) {
	var c = nodetest.NewCluster(t, 3)
	defer c.Stop()

	var cl = buildClientFixture(t, c, func(cfg *Config) { cfg.Nodes[2].Role = pb.StandBy })
	defer cl.Close()
	var ctx = context.Background()

	// Begin from a cluster of only the first node.
	require.NoError(t, cl.RemoveServer(ctx, nil, 2))
	require.NoError(t, cl.RemoveServer(ctx, nil, 3))
	c.ResetRequests()

	require.NoError(t, cl.Bootstrap(ctx))
	require.Equal(t, []pb.Node{
		{ID: 1, Address: c.Nodes[0].Address(), Role: pb.Voter},
		{ID: 2, Address: c.Nodes[1].Address(), Role: pb.Voter},
		{ID: 3, Address: c.Nodes[2].Address(), Role: pb.StandBy},
	}, c.Members())

	require.Equal(t, []pb.MessageType{
		pb.RequestCluster,
		pb.RequestAdd,
		pb.RequestAssign,
		pb.RequestAdd,
		pb.RequestAssign,
	}, c.RequestTypes(1))

	// Bootstrap of a complete cluster is a no-op.
	c.ResetRequests()
	require.NoError(t, cl.Bootstrap(ctx))
	require.Equal(t, []pb.MessageType{pb.RequestCluster}, c.RequestTypes(1))
}

func TestBootstrapRequiresNodeIDs(t *testing.T) {
	var c = nodetest.NewCluster(t, 2)
	defer c.Stop()

	var cl = buildClientFixture(t, c, func(cfg *Config) { cfg.Nodes[1].ID = 0 })
	defer cl.Close()

	// Resolution is answered by the last node. Its ID isn't learned, as
	// it's not the leader.
	require.NoError(t, cl.RemoveServer(context.Background(), nil, 2))
	var err = cl.Bootstrap(context.Background())
	require.Regexp(t, "cannot bootstrap node .* without an ID", err)
}

func TestClosedClientFails(t *testing.T) {
	var c = nodetest.NewCluster(t, 1)
	defer c.Stop()

	var cl = buildClientFixture(t, c, nil)
	var ctx = context.Background()

	require.NoError(t, cl.Open(ctx, "test"))
	require.NoError(t, cl.Close())

	var _, err = cl.Exec(ctx, "SELECT 1")
	require.True(t, errors.Is(err, ErrClosed))
	require.Equal(t, ErrClosed, cl.Open(ctx, "test"))
	_, err = cl.Leader(ctx)
	require.Equal(t, ErrClosed, err)
}

func Test(t *testing.T) { gc.TestingT(t) }
