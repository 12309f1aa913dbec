package mainboilerplate

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/jessevdk/go-flags"
	"github.com/stretchr/testify/require"
	"go.sqlcluster.dev/core/discovery"
	pb "go.sqlcluster.dev/core/protocol"
)

func TestBuildSourceCases(t *testing.T) {
	var cfg ClusterConfig

	var _, err = cfg.BuildSource(nil)
	require.EqualError(t, err, "expected exactly one of --node, --nodes-file, or --etcd-prefix")

	cfg.Nodes = []string{"10.0.0.1", " 10.0.0.2:25000"}
	src, err := cfg.BuildSource(nil)
	require.NoError(t, err)
	require.Equal(t, discovery.Static{
		{ID: 1, Address: "10.0.0.1"},
		{ID: 2, Address: "10.0.0.2:25000"},
	}, src)

	cfg.NodesFile = "ips.csv"
	_, err = cfg.BuildSource(nil)
	require.Error(t, err)

	cfg.Nodes = nil
	src, err = cfg.BuildSource(nil)
	require.NoError(t, err)
	require.IsType(t, discovery.FileSource{}, src)

	cfg.NodesFile, cfg.EtcdPrefix = "", "/nodes/"
	_, err = cfg.BuildSource(nil)
	require.EqualError(t, err, "--etcd-prefix requires an Etcd client")
}

func TestBuildClientFromFlags(t *testing.T) {
	var cfg ClusterConfig
	var parser = flags.NewParser(&cfg, flags.Default)

	var _, err = parser.ParseArgs([]string{
		"--node", "10.0.0.1", "--node", "10.0.0.2",
		"--leader-retries", "0",
		"--cache.size", "8",
	})
	require.NoError(t, err)
	require.Equal(t, "main", cfg.Database)
	require.Equal(t, uint16(24000), cfg.Port)

	src, err := cfg.BuildSource(nil)
	require.NoError(t, err)
	cl, err := cfg.BuildClient(context.Background(), src)
	require.NoError(t, err)
	require.NoError(t, cl.Close())

	// Invalid nodes are caught.
	_, err = cfg.BuildClient(context.Background(), discovery.Static{{ID: 1, Address: "bad address"}})
	require.Error(t, err)
	require.Equal(t, "10.0.0.1,10.0.0.2", clusterKey([]pb.Node{{Address: "10.0.0.1"}, {Address: "10.0.0.2"}}))
}

func TestConfigPaths(t *testing.T) {
	t.Setenv("SQLCLUSTER_CONFIG_ROOT", "/etc/sqlcluster")
	t.Setenv("HOME", "/home/user")
	t.Setenv("UserProfile", "")

	require.Equal(t, []string{
		"/etc/sqlcluster/sqlctl.ini",
		"sqlctl.ini",
		filepath.Join("/home/user", ".config", "sqlcluster", "sqlctl.ini"),
	}, ConfigPaths("sqlctl.ini"))
}

func TestCommandRegistry(t *testing.T) {
	type cmd struct{}
	var reg = NewCommandRegistry()
	reg.AddCommand("members", "add", "Add a member", "", &cmd{})
	reg.AddCommand("", "members", "Manage members", "", &cmd{})
	reg.AddCommand("", "exec", "Execute SQL", "", &cmd{})

	var parser = flags.NewParser(nil, flags.None)
	require.NoError(t, reg.AddCommands("", parser.Command, true))

	require.NotNil(t, parser.Find("exec"))
	require.NotNil(t, parser.Find("members").Find("add"))
}

func TestMustPanicsWithFields(t *testing.T) {
	Must(nil, "not reached")
	require.Panics(t, func() { Must(os.ErrNotExist, "failed", "path", "/tmp") })
}

func TestDiagnosticsHandlers(t *testing.T) {
	var mux = http.NewServeMux()
	RegisterDiagnostics(mux)

	var srv = httptest.NewServer(mux)
	defer srv.Close()

	for path, expect := range map[string]string{
		"/debug/ready":   "",
		"/debug/version": "Version development, built at unknown.\n",
	} {
		var resp, err = http.Get(srv.URL + path)
		require.NoError(t, err)
		var body, _ = io.ReadAll(resp.Body)
		_ = resp.Body.Close()

		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, expect, string(body))
	}

	var resp, err = http.Get(srv.URL + "/debug/metrics")
	require.NoError(t, err)
	var body, _ = io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.Contains(t, string(body), "go_goroutines")
}

func TestRecoverWritesTerminationLog(t *testing.T) {
	var path = filepath.Join(t.TempDir(), "termination-log")
	require.NoError(t, os.WriteFile(path, nil, 0600))

	defer func(p string) { TerminationLogPath = p }(TerminationLogPath)
	TerminationLogPath = path

	require.PanicsWithValue(t, "whoops", func() {
		defer InitDiagnosticsAndRecover(DiagnosticsConfig{})()
		panic("whoops")
	})

	var b, err = os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "whoops", string(b))
}
