package discovery

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	clientv3 "go.etcd.io/etcd/client/v3"
	pb "go.sqlcluster.dev/core/protocol"
)

// EtcdSource reads Nodes registered in Etcd under a key Prefix. Each Node is
// a key "{Prefix}{ID}", having a value "{Address}" or "{Address},{Role}":
//
//	/sqlcluster/nodes/1 => 10.0.0.1:24000
//	/sqlcluster/nodes/2 => 10.0.0.2:24000,standby
type EtcdSource struct {
	KV     clientv3.KV
	Prefix string
}

// Nodes lists and returns the Nodes registered under the Prefix.
func (s EtcdSource) Nodes(ctx context.Context) ([]pb.Node, error) {
	var resp, err = s.KV.Get(ctx, s.Prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, errors.WithMessagef(err, "listing %s", s.Prefix)
	}

	var nodes []pb.Node
	for _, kv := range resp.Kvs {
		var node, err = decodeNode(strings.TrimPrefix(string(kv.Key), s.Prefix), string(kv.Value))
		if err != nil {
			return nil, errors.WithMessagef(err, "decoding %s", kv.Key)
		}
		nodes = append(nodes, node)
	}
	if err = validate(nodes); err != nil {
		return nil, errors.WithMessage(err, s.Prefix)
	}
	sortNodes(nodes)

	log.WithFields(log.Fields{
		"prefix":   s.Prefix,
		"nodes":    len(nodes),
		"revision": resp.Header.GetRevision(),
	}).Debug("listed nodes from etcd")

	return nodes, nil
}

// Register |node| under the Prefix.
func (s EtcdSource) Register(ctx context.Context, node pb.Node) error {
	if err := node.Validate(); err != nil {
		return err
	}
	var key = s.Prefix + strconv.FormatUint(node.ID, 10)
	var value = fmt.Sprintf("%s,%s", node.Address, node.Role)

	if _, err := s.KV.Put(ctx, key, value); err != nil {
		return errors.WithMessagef(err, "registering %s", key)
	}
	return nil
}

func decodeNode(suffix, value string) (pb.Node, error) {
	var id, err = strconv.ParseUint(strings.Trim(suffix, "/"), 10, 64)
	if err != nil {
		return pb.Node{}, pb.NewValidationError("invalid node ID (%q)", suffix)
	}
	var node = pb.Node{ID: id}

	var parts = strings.SplitN(value, ",", 2)
	node.Address = strings.TrimSpace(parts[0])

	if len(parts) == 2 {
		if node.Role, err = pb.ParseNodeRole(parts[1]); err != nil {
			return pb.Node{}, err
		}
	}
	return node, nil
}
