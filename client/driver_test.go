package client

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.sqlcluster.dev/core/metrics"
	"go.sqlcluster.dev/core/nodetest"
	pb "go.sqlcluster.dev/core/protocol"
)

func TestStatementLifecycleOrder(t *testing.T) {
	var c = nodetest.NewCluster(t, 1)
	defer c.Stop()

	var cl = buildClientFixture(t, c, nil)
	defer cl.Close()
	var ctx = context.Background()

	require.NoError(t, cl.Open(ctx, "test"))
	var res, err = cl.Exec(ctx, "CREATE TABLE t (x INT)")
	require.NoError(t, err)
	require.Equal(t, uint64(0), res.RowsAffected)

	require.Equal(t, []pb.MessageType{
		pb.RequestOpen,
		pb.RequestLeader,
		pb.RequestPrepare,
		pb.RequestExec,
		pb.RequestFinalize,
	}, c.RequestTypes(1))

	c.ResetRequests()
	_, err = cl.Query(ctx, "SELECT x FROM t")
	require.NoError(t, err)

	require.Equal(t, []pb.MessageType{
		pb.RequestLeader,
		pb.RequestPrepare,
		pb.RequestQuery,
		pb.RequestFinalize,
	}, c.RequestTypes(1))
}

func TestSequentialStatementsUseFreshStatementIDs(t *testing.T) {
	var c = nodetest.NewCluster(t, 1)
	defer c.Stop()

	var cl = buildClientFixture(t, c, nil)
	defer cl.Close()
	var ctx = context.Background()

	require.NoError(t, cl.Open(ctx, "test"))
	var _, err = cl.Exec(ctx, "CREATE TABLE t (x INT)")
	require.NoError(t, err)
	_, err = cl.Exec(ctx, "INSERT INTO t VALUES (1)")
	require.NoError(t, err)
	_, err = cl.Query(ctx, "SELECT x FROM t")
	require.NoError(t, err)

	var used []uint32
	var open = make(map[uint32]bool)

	for _, r := range c.Requests() {
		switch r.Type {
		case pb.RequestExec, pb.RequestQuery:
			require.NotContains(t, used, r.Stmt)
			used = append(used, r.Stmt)
			open[r.Stmt] = true
		case pb.RequestFinalize:
			require.True(t, open[r.Stmt])
			delete(open, r.Stmt)
		}
	}
	require.Len(t, used, 3)
	require.Empty(t, open) // Each statement was finalized.
}

func TestStatementRequiresOpenDatabase(t *testing.T) {
	var c = nodetest.NewCluster(t, 1)
	defer c.Stop()

	var cl = buildClientFixture(t, c, nil)
	defer cl.Close()

	var _, err = cl.Exec(context.Background(), "SELECT 1")
	require.Equal(t, ErrNoDatabase, err)
	require.Empty(t, c.Requests())
}

func TestStatementRetriedOnLeadershipChange(t *testing.T) {
	var c = nodetest.NewCluster(t, 3)
	defer c.Stop()

	var cache = NewLeaderCache(4, time.Minute)
	var cl = buildClientFixture(t, c, func(cfg *Config) {
		cfg.LeaderCache, cfg.ClusterKey = cache, "test"
	})
	defer cl.Close()
	var ctx = context.Background()

	require.NoError(t, cl.Open(ctx, "test"))
	var _, err = cl.Exec(ctx, "CREATE TABLE t (x INT)")
	require.NoError(t, err)

	// The cached leader is stale, and refuses the statement.
	c.SetLeader(2)
	c.ResetRequests()

	res, err := cl.Exec(ctx, "INSERT INTO t VALUES (1)")
	require.NoError(t, err)
	require.Equal(t, uint64(1), res.RowsAffected)

	require.Equal(t, []pb.MessageType{pb.RequestPrepare}, c.RequestTypes(1))
	require.Equal(t, []pb.MessageType{
		pb.RequestOpen,
		pb.RequestPrepare,
		pb.RequestExec,
		pb.RequestFinalize,
	}, c.RequestTypes(2))

	cached, ok := cache.Leader("test")
	require.True(t, ok)
	require.Equal(t, pb.NodeID(2), cached.ID)
}

func TestStatementRetriedAfterFailureBeforeExec(t *testing.T) {
	var c = nodetest.NewCluster(t, 1)
	defer c.Stop()

	var cl = buildClientFixture(t, c, nil)
	defer cl.Close()
	var ctx = context.Background()

	require.NoError(t, cl.Open(ctx, "test"))
	c.Inject(1, pb.RequestPrepare, nodetest.Drop)

	var retries = metrics.StatementRetriesTotal.WithLabelValues(string(StepPrepare))
	var before = testutil.ToFloat64(retries)

	var _, err = cl.Exec(ctx, "CREATE TABLE t (x INT)")
	require.NoError(t, err)
	require.Equal(t, before+1, testutil.ToFloat64(retries))

	require.Equal(t, []pb.MessageType{
		pb.RequestOpen,
		pb.RequestLeader,
		pb.RequestPrepare, // Dropped.
		pb.RequestLeader,
		pb.RequestOpen, // Re-dialed Session.
		pb.RequestPrepare,
		pb.RequestExec,
		pb.RequestFinalize,
	}, c.RequestTypes(1))
}

func TestExecNotRetriedAfterFailureDuringExec(t *testing.T) {
	var c = nodetest.NewCluster(t, 1)
	defer c.Stop()

	var cl = buildClientFixture(t, c, nil)
	defer cl.Close()
	var ctx = context.Background()

	require.NoError(t, cl.Open(ctx, "test"))
	c.Inject(1, pb.RequestExec, nodetest.Drop)

	var _, err = cl.Exec(ctx, "CREATE TABLE t (x INT)")

	var de *DriverError
	require.ErrorAs(t, err, &de)
	require.Equal(t, StepExec, de.Step)
	require.Equal(t, "CREATE TABLE t (x INT)", de.SQL)
	require.True(t, IsConnectionFailure(err))

	// Exactly one Exec was sent, and no Finalize on the broken Session.
	require.Equal(t, []pb.MessageType{
		pb.RequestOpen,
		pb.RequestLeader,
		pb.RequestPrepare,
		pb.RequestExec,
	}, c.RequestTypes(1))
}

func TestQueryRetriedAfterFailureDuringQuery(t *testing.T) {
	var c = nodetest.NewCluster(t, 1)
	defer c.Stop()

	var cl = buildClientFixture(t, c, nil)
	defer cl.Close()
	var ctx = context.Background()

	require.NoError(t, cl.Open(ctx, "test"))
	c.Inject(1, pb.RequestQuery, nodetest.Drop)

	var rows, err = cl.Query(ctx, "SELECT 42 AS answer")
	require.NoError(t, err)
	require.Equal(t, []string{"answer"}, rows.Columns)
	require.Equal(t, [][]interface{}{{int64(42)}}, rows.Values)
}

func TestProtocolErrorsAreNotRetried(t *testing.T) {
	var c = nodetest.NewCluster(t, 1)
	defer c.Stop()

	var cl = buildClientFixture(t, c, nil)
	defer cl.Close()
	var ctx = context.Background()

	require.NoError(t, cl.Open(ctx, "test"))
	c.Inject(1, pb.RequestPrepare, nodetest.Garble)

	var _, err = cl.Exec(ctx, "CREATE TABLE t (x INT)")

	var de *DriverError
	var pe *pb.ProtocolError
	require.ErrorAs(t, err, &de)
	require.Equal(t, StepPrepare, de.Step)
	require.ErrorAs(t, err, &pe)
	require.Equal(t, pb.ResponseWelcome, pe.Type)

	require.Equal(t, []pb.MessageType{pb.RequestOpen, pb.RequestLeader, pb.RequestPrepare}, c.RequestTypes(1))
}

func TestStatementFailuresShortCircuit(t *testing.T) {
	var c = nodetest.NewCluster(t, 1)
	defer c.Stop()

	var cl = buildClientFixture(t, c, nil)
	defer cl.Close()
	var ctx = context.Background()

	require.NoError(t, cl.Open(ctx, "test"))
	var _, err = cl.Exec(ctx, "INSERT INTO missing VALUES (1)")

	var de *DriverError
	var failure *pb.FailureError
	require.ErrorAs(t, err, &de)
	require.Equal(t, StepPrepare, de.Step)
	require.ErrorAs(t, err, &failure)
	require.Equal(t, pb.ErrCodeError, failure.Code)

	// Neither executed, nor finalized, nor retried.
	require.Equal(t, []pb.MessageType{pb.RequestOpen, pb.RequestLeader, pb.RequestPrepare}, c.RequestTypes(1))

	// The Session remains usable.
	_, err = cl.Exec(ctx, "CREATE TABLE t (x INT)")
	require.NoError(t, err)
}

func TestNoLeaderRetriesAreBounded(t *testing.T) {
	var c = nodetest.NewCluster(t, 2)
	defer c.Stop()

	var cl = buildClientFixture(t, c, func(cfg *Config) { cfg.LeaderRetries = 2 })
	defer cl.Close()
	var ctx = context.Background()

	require.NoError(t, cl.Open(ctx, "test"))
	c.SetLeader(0)
	c.ResetRequests()

	var _, err = cl.Exec(ctx, "CREATE TABLE t (x INT)")

	var de *DriverError
	require.ErrorAs(t, err, &de)
	require.Equal(t, StepNoLeader, de.Step)
	require.True(t, errors.Is(err, ErrNoLeaderFound))

	// One initial attempt, and two retries, each probing both nodes.
	require.Len(t, c.Requests(), 6)

	// Case: retries are disabled.
	cl = buildClientFixture(t, c, func(cfg *Config) { cfg.LeaderRetries = -1 })
	defer cl.Close()

	require.NoError(t, cl.Open(ctx, "test"))
	c.ResetRequests()

	_, err = cl.Query(ctx, "SELECT 1")
	require.True(t, errors.Is(err, ErrNoLeaderFound))
	require.Len(t, c.Requests(), 2)
}

func TestQueryResultSets(t *testing.T) {
	var c = nodetest.NewCluster(t, 1)
	defer c.Stop()
	c.RowsPerMessage = 2

	var cl = buildClientFixture(t, c, nil)
	defer cl.Close()
	var ctx = context.Background()

	require.NoError(t, cl.Open(ctx, "test"))
	var _, err = cl.Exec(ctx, "CREATE TABLE kv (k TEXT, v BLOB, n REAL, b BOOLEAN)")
	require.NoError(t, err)

	// Case: an empty result set is not an error.
	rows, err := cl.Query(ctx, "SELECT k, v FROM kv")
	require.NoError(t, err)
	require.Equal(t, []string{"k", "v"}, rows.Columns)
	require.Equal(t, 0, rows.Len())

	for i, k := range []string{"a", "b", "c", "d", "e"} {
		_, err = cl.Exec(ctx, "INSERT INTO kv VALUES (?, ?, ?, ?)", k, []byte(k), float64(i)+0.5, i%2 == 0)
		require.NoError(t, err)
		require.Equal(t, uint64(1), cl.Changes())
	}

	// Case: a result set split across multiple Rows messages.
	rows, err = cl.Query(ctx, "SELECT k, v, n, b FROM kv ORDER BY k")
	require.NoError(t, err)
	require.Equal(t, 5, rows.Len())
	require.Equal(t, []interface{}{"a", []byte("a"), 0.5, true}, rows.Values[0])
	require.Equal(t, []interface{}{"e", []byte("e"), 4.5, true}, rows.Values[4])

	// Case: NULLs, and bound parameters.
	rows, err = cl.Query(ctx, "SELECT k, NULL FROM kv WHERE k = ?", "c")
	require.NoError(t, err)
	require.Equal(t, [][]interface{}{{"c", nil}}, rows.Values)

	// Changes reflects the rows affected by the last Exec.
	_, err = cl.Exec(ctx, "UPDATE kv SET n = 0 WHERE b")
	require.NoError(t, err)
	require.Equal(t, uint64(3), cl.Changes())

	_, err = cl.Exec(ctx, "DELETE FROM kv WHERE k = ?", "nope")
	require.NoError(t, err)
	require.Equal(t, uint64(0), cl.Changes())
}

func TestRetryPolicy(t *testing.T) {
	var conn = &IOError{Address: "a", Op: "read", Err: errors.New("EOF")}
	var notLeader = &pb.FailureError{Code: pb.ErrCodeNotLeader}

	for _, tc := range []struct {
		err            error
		query, written bool
		expect         bool
	}{
		{ErrNoLeaderFound, false, false, true},
		{notLeader, false, false, true},
		{&pb.FailureError{Code: pb.ErrCodeLeadershipLost}, true, false, true},
		{&pb.FailureError{Code: pb.ErrCodeError}, true, false, false},
		{&pb.ProtocolError{Reason: "bad"}, true, false, false},
		{conn, false, false, true},
		{conn, false, true, false},
		{conn, true, true, true},
		{&ConnectionError{Address: "a", Err: errors.New("refused")}, false, false, true},
		{&TimeoutError{Address: "a", Op: "read", Err: context.DeadlineExceeded}, false, true, false},
		{&IOError{Address: "a", Op: "read", Err: context.Canceled}, true, false, false},
	} {
		var err = &DriverError{Step: StepExec, Err: tc.err}
		require.Equal(t, tc.expect, retryable(err, tc.query, tc.written), "%v", tc)
	}
}

func buildClientFixture(t *testing.T, c *nodetest.Cluster, mutate func(*Config)) *Client {
	var cfg = Config{Timeout: time.Second}
	for _, n := range c.Nodes {
		cfg.Nodes = append(cfg.Nodes, pb.Node{ID: n.ID, Address: n.Address()})
	}
	if mutate != nil {
		mutate(&cfg)
	}
	var cl, err = New(cfg)
	require.NoError(t, err)
	return cl
}
