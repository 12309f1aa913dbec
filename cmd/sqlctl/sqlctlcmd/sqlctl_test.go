package sqlctlcmd

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	mbp "go.sqlcluster.dev/core/mainboilerplate"
	"go.sqlcluster.dev/core/nodetest"
	pb "go.sqlcluster.dev/core/protocol"
)

func TestParseParams(t *testing.T) {
	require.Equal(t, []interface{}{int64(42), 1.5, nil, "answer", "-"},
		parseParams([]string{"42", "1.5", "NULL", "answer", "-"}, false))
	require.Equal(t, []interface{}{"42", "null"},
		parseParams([]string{"42", "null"}, true))
	require.Empty(t, parseParams(nil, false))
}

func TestFormatValue(t *testing.T) {
	var ts = time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)

	for _, tc := range []struct {
		v      interface{}
		expect string
	}{
		{nil, "NULL"},
		{int64(-7), "-7"},
		{2.25, "2.25"},
		{"text", "text"},
		{true, "true"},
		{[]byte("abc"), "<blob 3 B>"},
		{make([]byte, 2048), "<blob 2.0 KiB>"},
		{ts, "2024-05-01T12:30:00Z"},
	} {
		require.Equal(t, tc.expect, formatValue(tc.v))
	}
}

func TestTableOutput(t *testing.T) {
	var buf bytes.Buffer
	writeRows(&buf, &pb.Rows{
		Columns: []string{"name", "photo"},
		Values: [][]interface{}{
			{"alice", []byte{0xde, 0xad}},
			{"bob", nil},
		},
	})
	require.Contains(t, buf.String(), "alice")
	require.Contains(t, buf.String(), "<blob 2 B>")
	require.Contains(t, buf.String(), "NULL")
	require.Contains(t, buf.String(), "(2 rows)")

	buf.Reset()
	writeRows(&buf, &pb.Rows{Columns: []string{"x"}})
	require.Contains(t, buf.String(), "(0 rows)")

	buf.Reset()
	writeMembers(&buf, []pb.Node{
		{ID: 1, Address: "10.0.0.1:24000", Role: pb.Voter},
		{ID: 2, Address: "10.0.0.2:24000", Role: pb.Spare},
	}, 2)
	require.Contains(t, buf.String(), "10.0.0.1:24000")
	require.Contains(t, buf.String(), "spare")
	require.Contains(t, buf.String(), "*")
}

func TestCommandsAgainstCluster(t *testing.T) {
	var c = nodetest.NewCluster(t, 3)
	defer c.Stop()
	useCluster(t, c)

	require.NoError(t, (&cmdExec{Args: statementArgs{
		SQL: "CREATE TABLE kv (k TEXT, v INTEGER)",
	}}).Execute(nil))
	require.NoError(t, (&cmdExec{Args: statementArgs{
		SQL:    "INSERT INTO kv (k, v) VALUES (?, ?)",
		Params: []string{"answer", "42"},
	}}).Execute(nil))
	require.NoError(t, (&cmdQuery{Args: statementArgs{
		SQL:    "SELECT k, v FROM kv WHERE v > ?",
		Params: []string{"10"},
	}}).Execute(nil))

	require.NoError(t, (&cmdLeader{}).Execute(nil))
	require.NoError(t, (&cmdMembers{}).Execute(nil))

	require.NoError(t, (&cmdAssign{ID: 3, Role: "spare"}).Execute(nil))
	require.Equal(t, pb.Spare, c.Members()[2].Role)

	require.NoError(t, (&cmdTransfer{ID: 2}).Execute(nil))
	require.Equal(t, pb.NodeID(2), c.Leader())

	require.NoError(t, (&cmdRemoveServer{ID: 3}).Execute(nil))
	require.Len(t, c.Members(), 2)

	require.NoError(t, (&cmdAddServer{ID: 3, Address: c.Nodes[2].Address(), Role: "standby"}).Execute(nil))
	require.Equal(t, pb.Node{ID: 3, Address: c.Nodes[2].Address(), Role: pb.StandBy}, c.Members()[2])

	// Node 3 is already a member, and bootstrap is a no-op.
	require.NoError(t, (&cmdBootstrap{}).Execute(nil))
	require.Len(t, c.Members(), 3)
}

func TestCommandFailuresPanic(t *testing.T) {
	var c = nodetest.NewCluster(t, 1)
	defer c.Stop()
	useCluster(t, c)

	require.Panics(t, func() { _ = (&cmdAssign{ID: 1, Role: "bogus"}).Execute(nil) })
	require.Panics(t, func() { _ = (&cmdRemoveServer{ID: 1}).Execute(nil) })
	require.Panics(t, func() {
		_ = (&cmdExec{Args: statementArgs{SQL: "INSERT INTO missing VALUES (1)"}}).Execute(nil)
	})
}

// useCluster points the command Config at Cluster |c| for the duration of the test.
func useCluster(t *testing.T, c *nodetest.Cluster) {
	var saved = *Config

	Config.Cluster = mbp.ClusterConfig{
		Nodes:    c.Addresses(),
		Database: "main",
		Timeout:  time.Second,
	}
	Config.Log = mbp.LogConfig{Level: "warn", Format: "text"}

	t.Cleanup(func() { *Config = saved })
}
