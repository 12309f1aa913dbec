// Package sqlctlcmd implements the sub-commands of sqlctl.
package sqlctlcmd

import (
	"context"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.sqlcluster.dev/core/client"
	mbp "go.sqlcluster.dev/core/mainboilerplate"
)

var (
	// Config is the top-level configuration of sqlctl, shared by its commands.
	Config = new(struct {
		Cluster mbp.ClusterConfig `group:"Cluster" namespace:"cluster" env-namespace:"CLUSTER"`
		Etcd    mbp.EtcdConfig    `group:"Etcd" namespace:"etcd" env-namespace:"ETCD"`
		Log     mbp.LogConfig     `group:"Logging" namespace:"log" env-namespace:"LOG"`
	})
	// CommandRegistry of sqlctl sub-commands, populated by init functions.
	CommandRegistry = mbp.NewCommandRegistry()
)

func startup() {
	mbp.InitLog(Config.Log)
}

// etcdKV dials Etcd only if the cluster is discovered through it.
func etcdKV() clientv3.KV {
	if Config.Cluster.EtcdPrefix == "" {
		return nil
	}
	return Config.Etcd.MustDial()
}

// mustClient builds a Client of the configured cluster, without opening
// a database.
func mustClient(ctx context.Context) *client.Client {
	var src, err = Config.Cluster.BuildSource(etcdKV())
	mbp.Must(err, "invalid cluster configuration")

	cl, err := Config.Cluster.BuildClient(ctx, src)
	mbp.Must(err, "failed to build cluster client")
	return cl
}

// mustOpenClient builds a Client of the configured cluster, and opens
// its database.
func mustOpenClient(ctx context.Context) *client.Client {
	return Config.Cluster.MustOpenClient(ctx, etcdKV())
}
