package mainboilerplate

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.sqlcluster.dev/core/client"
	"go.sqlcluster.dev/core/discovery"
	pb "go.sqlcluster.dev/core/protocol"
)

// ClusterConfig configures a client of the cluster. Cluster nodes are given
// by exactly one of Nodes, NodesFile, or EtcdPrefix.
type ClusterConfig struct {
	Nodes            []string      `long:"node" env:"NODES" env-delim:"," description:"Address of a cluster node, having ID of its order. May be repeated"`
	NodesFile        string        `long:"nodes-file" env:"NODES_FILE" description:"Path to a file of cluster nodes: YAML if suffixed .yaml or .yml, otherwise one address per line"`
	EtcdPrefix       string        `long:"etcd-prefix" env:"ETCD_PREFIX" description:"Etcd key prefix under which cluster nodes are registered"`
	Database         string        `long:"database" env:"DATABASE" default:"main" description:"Name of the database to open"`
	Port             uint16        `long:"port" env:"PORT" default:"24000" description:"Port of node addresses which don't include one"`
	ForceDefaultPort bool          `long:"force-default-port" env:"FORCE_DEFAULT_PORT" description:"Ignore ports of node addresses, and always use --port"`
	MaxClients       int           `long:"max-clients" env:"MAX_CLIENTS" default:"32" description:"Maximum number of node sessions, including redirected leaders"`
	DialAttempts     int           `long:"dial-attempts" env:"DIAL_ATTEMPTS" default:"3" description:"Attempts made to open the database against each node"`
	LeaderRetries    int           `long:"leader-retries" env:"LEADER_RETRIES" default:"5" description:"Retries of a statement after a leadership change or connection failure. If <= zero, statements aren't retried"`
	Timeout          time.Duration `long:"timeout" env:"TIMEOUT" default:"10s" description:"Timeout of each request round-trip. If negative, requests have no timeout"`
	VFS              string        `long:"vfs" env:"VFS" default:"volatile" description:"VFS requested when opening the database"`

	Cache struct {
		Size int           `long:"cache.size" env:"CACHE_SIZE" default:"0" description:"Size of the leader cache. If <= zero, no cache is used (the leader is resolved for every statement)"`
		TTL  time.Duration `long:"cache.ttl" env:"CACHE_TTL" default:"1m" description:"Time-to-live of leader cache entries"`
	}
}

// BuildSource returns the discovery.Source of cluster nodes. |kv| is used
// only if EtcdPrefix is set.
func (c *ClusterConfig) BuildSource(kv clientv3.KV) (discovery.Source, error) {
	var set int
	for _, b := range []bool{len(c.Nodes) != 0, c.NodesFile != "", c.EtcdPrefix != ""} {
		if b {
			set++
		}
	}
	if set != 1 {
		return nil, errors.New("expected exactly one of --node, --nodes-file, or --etcd-prefix")
	}

	switch {
	case c.NodesFile != "":
		return discovery.NewFileSource(c.NodesFile), nil
	case c.EtcdPrefix != "":
		if kv == nil {
			return nil, errors.New("--etcd-prefix requires an Etcd client")
		}
		return discovery.EtcdSource{KV: kv, Prefix: c.EtcdPrefix}, nil
	}

	var nodes discovery.Static
	for i, addr := range c.Nodes {
		nodes = append(nodes, pb.Node{ID: pb.NodeID(i + 1), Address: strings.TrimSpace(addr)})
	}
	return nodes, nil
}

// BuildClient returns a client.Client of the Nodes of |src|. The database is
// not yet opened.
func (c *ClusterConfig) BuildClient(ctx context.Context, src discovery.Source) (*client.Client, error) {
	var nodes, err = src.Nodes(ctx)
	if err != nil {
		return nil, errors.WithMessage(err, "discovering cluster nodes")
	}

	var cfg = client.Config{
		Nodes:            nodes,
		MaxClients:       c.MaxClients,
		Port:             c.Port,
		ForceDefaultPort: c.ForceDefaultPort,
		VFS:              c.VFS,
		DialAttempts:     c.DialAttempts,
		LeaderRetries:    c.LeaderRetries,
		Timeout:          c.Timeout,
	}
	if c.LeaderRetries == 0 {
		cfg.LeaderRetries = -1 // Explicitly none.
	}
	if c.Cache.Size > 0 {
		cfg.LeaderCache = client.NewLeaderCache(c.Cache.Size, c.Cache.TTL)
		cfg.ClusterKey = clusterKey(nodes)
	}

	log.WithFields(log.Fields{
		"nodes":    len(nodes),
		"database": c.Database,
	}).Debug("built cluster client")

	return client.New(cfg)
}

// MustOpenClient builds a client.Client of the ClusterConfig, and opens its
// Database. |kv| is used only if EtcdPrefix is set.
func (c *ClusterConfig) MustOpenClient(ctx context.Context, kv clientv3.KV) *client.Client {
	var src, err = c.BuildSource(kv)
	Must(err, "invalid cluster configuration")

	cl, err := c.BuildClient(ctx, src)
	Must(err, "failed to build cluster client")

	Must(cl.Open(ctx, c.Database), "failed to open database", "database", c.Database)
	return cl
}

func clusterKey(nodes []pb.Node) string {
	var addrs []string
	for _, n := range nodes {
		addrs = append(addrs, n.Address)
	}
	return strings.Join(addrs, ",")
}
