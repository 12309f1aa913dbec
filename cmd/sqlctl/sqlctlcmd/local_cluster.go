package sqlctlcmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"go.sqlcluster.dev/core/discovery"
	mbp "go.sqlcluster.dev/core/mainboilerplate"
	"go.sqlcluster.dev/core/nodetest"
	"gopkg.in/yaml.v2"
)

type cmdLocalCluster struct {
	Size           int    `long:"size" default:"3" description:"Number of nodes of the cluster"`
	RowsPerMessage int    `long:"rows-per-message" default:"0" description:"Maximum rows of each Rows response message. If zero, rows are not split"`
	NodesFile      string `long:"write-nodes-file" description:"Path to which the cluster's nodes are written, as YAML usable with --cluster.nodes-file"`
	Register       bool   `long:"register" description:"Register the cluster's nodes in Etcd under --cluster.etcd-prefix"`

	Diagnostics mbp.DiagnosticsConfig `group:"Debug" namespace:"debug" env-namespace:"DEBUG"`
}

func init() {
	CommandRegistry.AddCommand("", "local-cluster", "Run an in-process cluster for development", `
Run a cluster of in-process nodes on loopback ports, until signaled to exit
(via SIGTERM or SIGINT). Nodes speak the wire protocol and execute statements
against an in-memory SQLite database, which is lost on exit. Node 1 is leader.

The cluster is not replicated and is intended only for development and
testing of clients. Each node also serves /debug/ready and /debug/metrics.

Use --write-nodes-file or --register to make the cluster's nodes available
to other sqlctl commands:
>    sqlctl local-cluster --write-nodes-file nodes.yaml &
>    sqlctl query --cluster.nodes-file nodes.yaml "SELECT 1"
`, &cmdLocalCluster{})
}

func (cmd *cmdLocalCluster) Execute([]string) error {
	defer mbp.InitDiagnosticsAndRecover(cmd.Diagnostics)()
	startup()

	var c, err = nodetest.Start(cmd.Size)
	mbp.Must(err, "failed to start cluster")
	defer c.Stop()

	c.RowsPerMessage = cmd.RowsPerMessage
	var members = c.Members()

	if cmd.NodesFile != "" {
		var b, err = yaml.Marshal(members)
		mbp.Must(err, "failed to encode nodes")
		mbp.Must(afero.WriteFile(afero.NewOsFs(), cmd.NodesFile, b, 0644),
			"failed to write nodes file", "path", cmd.NodesFile)
	}
	if cmd.Register {
		if Config.Cluster.EtcdPrefix == "" {
			log.Fatal("--register requires --cluster.etcd-prefix")
		}
		var src = discovery.EtcdSource{KV: etcdKV(), Prefix: Config.Cluster.EtcdPrefix}
		for _, n := range members {
			mbp.Must(src.Register(context.Background(), n), "failed to register node", "node", n.String())
		}
	}

	for i, n := range members {
		log.WithFields(log.Fields{
			"id":      n.ID,
			"name":    c.Nodes[i].Name,
			"address": n.Address,
		}).Info("serving cluster node")
	}
	writeMembers(os.Stdout, members, c.Leader())

	var signalCh = make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGTERM, syscall.SIGINT)

	var sig = <-signalCh
	log.WithField("signal", sig).Info("caught signal; stopping cluster")
	return nil
}
