// Package client is a client of a Raft-replicated SQL cluster, speaking the
// cluster's binary wire protocol (see package protocol).
//
// A Client is configured with the addresses of cluster nodes, and maintains a
// Pool of Sessions with them. Sessions are dialed lazily, and a Session which
// fails with an I/O error or timeout is discarded and re-dialed on next use.
//
// Writes must be served by the cluster leader, which can change at any time.
// Before each statement the Client's Resolver asks nodes of the Pool, from the
// last slot to the first, which node is the leader, and the statement is then
// prepared, executed (or queried) and finalized on the leader's Session:
//
//	var c, err = client.New(client.Config{Nodes: []protocol.Node{
//		{ID: 1, Address: "10.0.0.1:24000"},
//		{ID: 2, Address: "10.0.0.2:24000"},
//		{ID: 3, Address: "10.0.0.3:24000"},
//	}})
//	if err == nil {
//		err = c.Open(ctx, "app")
//	}
//	if err == nil {
//		_, err = c.Exec(ctx, "INSERT INTO kv (k, v) VALUES (?, ?)", "key", "value")
//	}
//
// A statement refused by a node which is no longer the leader, or which fails
// because no leader could be found, or because of a connection failure prior
// to the statement being sent, is retried with backoff against a re-resolved
// leader. Queries, being read-only, are also retried after connection failures.
// Failures are reported as a *DriverError naming the lifecycle Step which failed.
//
// By default the leader is re-resolved for every statement. A LeaderCache may
// be used to instead cache the leader until it fails.
package client
