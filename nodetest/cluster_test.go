package nodetest_test

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.sqlcluster.dev/core/client"
	"go.sqlcluster.dev/core/nodetest"
	pb "go.sqlcluster.dev/core/protocol"
)

func TestNodesServeStatementsOnlyOnLeader(t *testing.T) {
	var c = nodetest.NewCluster(t, 2)
	defer c.Stop()

	var ctx = context.Background()
	var opts = client.DialOptions{Timeout: time.Second}

	s1, err := client.Dial(ctx, c.Nodes[0].Address(), opts)
	require.NoError(t, err)
	defer s1.Close()
	s2, err := client.Dial(ctx, c.Nodes[1].Address(), opts)
	require.NoError(t, err)
	defer s2.Close()

	// Both nodes name node 1 as leader.
	for _, s := range []*client.Session{s1, s2} {
		leader, err := s.Leader(ctx)
		require.NoError(t, err)
		require.Equal(t, pb.NodeID(1), leader.ID)
		require.Equal(t, c.Nodes[0].Address(), leader.Address)
	}

	// Any node may open a database, but only the leader prepares.
	db, err := s2.OpenDatabase(ctx, "test")
	require.NoError(t, err)
	err = s2.RoundTrip(ctx, pb.PrepareRequest{DB: uint64(db), SQL: "SELECT 1"}, new(pb.StmtResponse))
	require.True(t, client.IsNotLeader(err))

	db, err = s1.OpenDatabase(ctx, "test")
	require.NoError(t, err)

	var stmt pb.StmtResponse
	require.NoError(t, s1.RoundTrip(ctx, pb.PrepareRequest{DB: uint64(db), SQL: "CREATE TABLE kv (k TEXT, v BLOB)"}, &stmt))
	require.Equal(t, uint64(0), stmt.Params)
	require.NoError(t, s1.RoundTrip(ctx, pb.ExecRequest{DB: stmt.DB, Stmt: stmt.ID}, new(pb.ExecResult)))
	require.NoError(t, s1.RoundTrip(ctx, pb.FinalizeRequest{DB: stmt.DB, Stmt: stmt.ID}, new(pb.EmptyResponse)))

	require.NoError(t, s1.RoundTrip(ctx, pb.PrepareRequest{DB: uint64(db), SQL: "INSERT INTO kv VALUES (?, ?)"}, &stmt))
	require.Equal(t, uint64(2), stmt.Params)

	var res pb.ExecResult
	require.NoError(t, s1.RoundTrip(ctx, pb.ExecRequest{DB: stmt.DB, Stmt: stmt.ID, Params: []interface{}{"key", []byte("val")}}, &res))
	require.Equal(t, pb.ExecResult{LastInsertID: 1, RowsAffected: 1}, res)

	// Finalized statements are unknown.
	require.NoError(t, s1.RoundTrip(ctx, pb.FinalizeRequest{DB: stmt.DB, Stmt: stmt.ID}, new(pb.EmptyResponse)))
	err = s1.RoundTrip(ctx, pb.ExecRequest{DB: stmt.DB, Stmt: stmt.ID}, new(pb.ExecResult))
	require.EqualError(t, err, "node failure (code 12): no such statement")

	var types = c.RequestTypes(1)
	require.Equal(t, pb.RequestLeader, types[0])
	require.Equal(t, pb.RequestFinalize, types[len(types)-1])
}

func TestSplitRowsAcrossMessages(t *testing.T) {
	var c = nodetest.NewCluster(t, 1)
	defer c.Stop()
	c.RowsPerMessage = 2

	var ctx = context.Background()
	s, err := client.Dial(ctx, c.Nodes[0].Address(), client.DialOptions{Timeout: time.Second})
	require.NoError(t, err)
	defer s.Close()

	db, err := s.OpenDatabase(ctx, "rows")
	require.NoError(t, err)

	var stmt pb.StmtResponse
	require.NoError(t, s.RoundTrip(ctx, pb.PrepareRequest{DB: uint64(db),
		SQL: "WITH RECURSIVE n(i) AS (SELECT 1 UNION ALL SELECT i+1 FROM n WHERE i < 5) SELECT i FROM n"}, &stmt))
	require.NoError(t, s.Send(ctx, pb.QueryRequest{DB: stmt.DB, Stmt: stmt.ID}))

	var rows pb.Rows
	var parts int
	for more := true; more; parts++ {
		msg, err := s.Recv(ctx, pb.ResponseRows)
		require.NoError(t, err)
		more, err = pb.DecodeRows(msg, &rows)
		require.NoError(t, err)
	}
	require.Equal(t, 3, parts)
	require.Equal(t, []string{"i"}, rows.Columns)
	require.Equal(t, [][]interface{}{{int64(1)}, {int64(2)}, {int64(3)}, {int64(4)}, {int64(5)}}, rows.Values)
}

func TestMembershipChanges(t *testing.T) {
	var c = nodetest.NewCluster(t, 3)
	defer c.Stop()

	var ctx = context.Background()
	s, err := client.Dial(ctx, c.Nodes[0].Address(), client.DialOptions{Timeout: time.Second})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Add(ctx, 4, "127.0.0.1:9"))
	require.Error(t, s.Add(ctx, 4, "127.0.0.1:10")) // ID in use.
	require.NoError(t, s.Assign(ctx, 4, pb.StandBy))
	require.NoError(t, s.Remove(ctx, 3))
	require.Error(t, s.Remove(ctx, 1)) // Leader.

	members, err := s.Cluster(ctx)
	require.NoError(t, err)
	require.Equal(t, []pb.Node{
		{ID: 1, Address: c.Nodes[0].Address(), Role: pb.Voter},
		{ID: 2, Address: c.Nodes[1].Address(), Role: pb.Voter},
		{ID: 4, Address: "127.0.0.1:9", Role: pb.StandBy},
	}, members)

	require.NoError(t, s.Transfer(ctx, 2))
	require.Equal(t, pb.NodeID(2), c.Leader())

	// The former leader now refuses membership changes.
	require.True(t, client.IsNotLeader(s.Transfer(ctx, 1)))
}

func TestFaultsAndRestart(t *testing.T) {
	var c = nodetest.NewCluster(t, 1)
	defer c.Stop()

	var ctx = context.Background()
	var opts = client.DialOptions{Timeout: 100 * time.Millisecond}

	// Case: a garbled response is a protocol error.
	c.Inject(1, pb.RequestLeader, nodetest.Garble)
	s, err := client.Dial(ctx, c.Nodes[0].Address(), opts)
	require.NoError(t, err)
	_, err = s.Leader(ctx)
	var protoErr *pb.ProtocolError
	require.ErrorAs(t, err, &protoErr)
	require.Error(t, s.Broken())

	// Case: a stalled response times out.
	c.Inject(1, pb.RequestLeader, nodetest.Stall)
	s, err = client.Dial(ctx, c.Nodes[0].Address(), opts)
	require.NoError(t, err)
	_, err = s.Leader(ctx)
	var timeoutErr *client.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	require.NoError(t, s.Close())

	// Case: a dropped connection is an I/O error.
	c.Inject(1, pb.RequestLeader, nodetest.Drop)
	s, err = client.Dial(ctx, c.Nodes[0].Address(), opts)
	require.NoError(t, err)
	_, err = s.Leader(ctx)
	require.True(t, client.IsConnectionFailure(err))

	// Case: the node is stopped and restarted at the same address.
	c.Nodes[0].Stop()
	require.False(t, c.Nodes[0].Running())
	_, err = client.Dial(ctx, c.Nodes[0].Address(), opts)
	require.True(t, client.IsConnectionFailure(err))

	require.NoError(t, c.Nodes[0].Restart())
	s, err = client.Dial(ctx, c.Nodes[0].Address(), opts)
	require.NoError(t, err)
	defer s.Close()

	leader, err := s.Leader(ctx)
	require.NoError(t, err)
	require.Equal(t, pb.NodeID(1), leader.ID)
}

func TestDebugEndpoints(t *testing.T) {
	var c = nodetest.NewCluster(t, 1)
	defer c.Stop()

	for _, path := range []string{"/debug/ready", "/debug/metrics"} {
		var resp, err = http.Get("http://" + c.Nodes[0].Address() + path)
		require.NoError(t, err)
		_, _ = io.Copy(io.Discard, resp.Body)
		require.NoError(t, resp.Body.Close())
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
}
