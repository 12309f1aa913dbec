package driver

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.sqlcluster.dev/core/client"
	pb "go.sqlcluster.dev/core/protocol"
)

// Scheme of data source names.
const Scheme = "sqlcluster"

// ParseDSN parses a data source name of the form:
//
//	sqlcluster://host1[:port],host2[:port],.../database?option=value&...
//
// Hosts are assigned node IDs in order, from 1. Supported options are:
//
//	timeout             Request round-trip timeout (eg "5s").
//	retries             Statement retries after leadership changes.
//	attempts            Database open attempts per node.
//	port                Port of hosts which don't specify one.
//	force_default_port  Ignore ports of hosts, and use the port option.
//	max_clients         Capacity of the node connection Pool.
//	vfs                 VFS requested when opening the database.
func ParseDSN(dsn string) (client.Config, string, error) {
	var cfg client.Config

	var rest, ok = strings.CutPrefix(dsn, Scheme+"://")
	if !ok {
		return cfg, "", errors.Errorf("invalid DSN (expected %s:// prefix)", Scheme)
	}
	// Hosts are separated by commas, which net/url doesn't support.
	var hosts, tail, _ = strings.Cut(rest, "/")

	for _, h := range strings.Split(hosts, ",") {
		if h = strings.TrimSpace(h); h == "" {
			continue
		}
		cfg.Nodes = append(cfg.Nodes, pb.Node{ID: pb.NodeID(len(cfg.Nodes) + 1), Address: h})
	}
	if len(cfg.Nodes) == 0 {
		return cfg, "", errors.New("invalid DSN (expected at least one host)")
	}

	var u, err = url.Parse("/" + tail)
	if err != nil {
		return cfg, "", errors.WithMessage(err, "invalid DSN")
	}
	var database = strings.Trim(u.Path, "/")
	if database == "" {
		return cfg, "", errors.New("invalid DSN (expected a database name)")
	}

	for key, values := range u.Query() {
		var v = values[len(values)-1]

		switch key {
		case "timeout":
			cfg.Timeout, err = time.ParseDuration(v)
		case "retries":
			cfg.LeaderRetries, err = strconv.Atoi(v)
			if err == nil && cfg.LeaderRetries == 0 {
				cfg.LeaderRetries = -1
			}
		case "attempts":
			cfg.DialAttempts, err = strconv.Atoi(v)
		case "port":
			var p uint64
			p, err = strconv.ParseUint(v, 10, 16)
			cfg.Port = uint16(p)
		case "force_default_port":
			cfg.ForceDefaultPort, err = strconv.ParseBool(v)
		case "max_clients":
			cfg.MaxClients, err = strconv.Atoi(v)
		case "vfs":
			cfg.VFS = v
		default:
			err = errors.New("unknown option")
		}
		if err != nil {
			return cfg, "", errors.WithMessagef(err, "invalid DSN option %s=%q", key, v)
		}
	}
	return cfg, database, cfg.Validate()
}
