package client

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	pb "go.sqlcluster.dev/core/protocol"
)

// Config of a Client.
type Config struct {
	// Nodes of the cluster. IDs may be zero if not known.
	Nodes []pb.Node
	// MaxClients is the capacity of the connection Pool.
	// If zero, DefaultMaxClients is used.
	MaxClients int
	// Port of node addresses which don't specify one.
	// If zero, DefaultPort is used.
	Port uint16
	// ForceDefaultPort discards ports of node addresses in favor of Port.
	ForceDefaultPort bool
	// VFS requested when opening databases.
	VFS string
	// DialAttempts is the number of attempts made to open the database
	// against each node. If zero, DefaultDialAttempts is used.
	DialAttempts int
	// LeaderRetries is the number of times a statement lifecycle is retried
	// after a retry-able failure. If zero, DefaultLeaderRetries is used, and
	// if negative, statements are not retried.
	LeaderRetries int
	// Timeout of each request round-trip. If zero, DefaultTimeout is used,
	// and if negative, only Context deadlines apply.
	Timeout time.Duration
	// LeaderCache of observed cluster leaders. Optional.
	LeaderCache *LeaderCache
	// ClusterKey of this cluster within the LeaderCache.
	ClusterKey string
}

// Defaults of Config.
const (
	DefaultDialAttempts  = 3
	DefaultLeaderRetries = 5
	DefaultTimeout       = 10 * time.Second
	DefaultVFS           = "volatile"
)

// Validate returns an error if the Config is not well-formed.
func (cfg Config) Validate() error {
	var capacity = cfg.MaxClients
	if capacity == 0 {
		capacity = DefaultMaxClients
	}

	if len(cfg.Nodes) == 0 {
		return pb.NewValidationError("expected at least one node")
	} else if capacity < 0 {
		return pb.NewValidationError("invalid MaxClients (%d; expected >= 0)", cfg.MaxClients)
	} else if len(cfg.Nodes) > capacity {
		return pb.NewValidationError("too many Nodes (%d; MaxClients is %d)", len(cfg.Nodes), capacity)
	} else if cfg.DialAttempts < 0 {
		return pb.NewValidationError("invalid DialAttempts (%d; expected >= 0)", cfg.DialAttempts)
	} else if cfg.LeaderCache != nil && cfg.ClusterKey == "" {
		return pb.NewValidationError("expected ClusterKey with LeaderCache")
	}
	for i, n := range cfg.Nodes {
		if err := pb.ValidateAddress(n.Address); err != nil {
			return pb.ExtendContext(err, "Nodes[%d].Address", i)
		} else if n.Role > pb.Spare {
			return pb.NewValidationError("Nodes[%d]: invalid Role (%d)", i, n.Role)
		}
	}
	return nil
}

// Client is a client of a Raft-replicated SQL cluster. It maintains a Pool
// of node Sessions, locates the current leader, and drives statements
// against it, recovering from leadership changes and connection failures.
//
// A Client serializes its operations: each has at most one request in flight.
// Client is safe for concurrent use.
type Client struct {
	cfg      Config
	pool     *Pool
	resolver *Resolver

	mu       sync.Mutex
	database string // Opened database, or empty.
	changes  uint64 // Rows affected by the last Exec.
	closed   bool
}

// New returns a Client of the Config. New doesn't dial: Sessions with nodes
// are established on first use.
func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.DialAttempts == 0 {
		cfg.DialAttempts = DefaultDialAttempts
	}
	if cfg.LeaderRetries == 0 {
		cfg.LeaderRetries = DefaultLeaderRetries
	} else if cfg.LeaderRetries < 0 {
		cfg.LeaderRetries = 0
	}
	if cfg.VFS == "" {
		cfg.VFS = DefaultVFS
	}

	var opts = DialOptions{
		Port:             cfg.Port,
		ForceDefaultPort: cfg.ForceDefaultPort,
		Timeout:          cfg.Timeout,
		VFS:              cfg.VFS,
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	} else if opts.Timeout < 0 {
		opts.Timeout = 0
	}

	var pool, err = NewPool(cfg.Nodes, cfg.MaxClients, opts)
	if err != nil {
		return nil, err
	}
	return &Client{
		cfg:      cfg,
		pool:     pool,
		resolver: NewResolver(pool, cfg.LeaderCache, cfg.ClusterKey),
	}, nil
}

// lock the Client, returning ErrClosed if it was closed.
func (c *Client) lock() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	return nil
}

// SetClientCount limits the number of Pool slots which are used.
func (c *Client) SetClientCount(n int) error {
	if err := c.lock(); err != nil {
		return err
	}
	defer c.mu.Unlock()

	return c.pool.SetClientCount(n)
}

// Open database |name|. Active slots are tried from the last to the first,
// with DialAttempts attempts against each, until a node opens the database.
// An *OpenError is returned only if every attempt against every slot fails.
//
// The database is opened once on each Session, as database IDs are scoped
// to a connection. Subsequent statements open it on the leader's Session
// as required.
func (c *Client) Open(ctx context.Context, name string) error {
	if err := c.lock(); err != nil {
		return err
	}
	defer c.mu.Unlock()

	var attempts int
	var lastErr error

	for i := c.pool.Len() - 1; i >= 0; i-- {
		for attempt := 0; attempt != c.cfg.DialAttempts; attempt++ {
			if err := ctx.Err(); err != nil {
				return &OpenError{Database: name, Attempts: attempts, Err: err}
			}
			attempts++

			var s, err = c.pool.Connect(ctx, i)
			if err == nil {
				_, err = s.OpenDatabase(ctx, name)
			}
			if err == nil {
				c.database = name
				return nil
			}
			lastErr = err

			log.WithFields(log.Fields{
				"slot":     i,
				"node":     c.pool.Node(i).Address,
				"database": name,
				"attempt":  attempt,
				"err":      err,
			}).Warn("failed to open database (will retry)")

			if attempt+1 != c.cfg.DialAttempts {
				if err = sleepCtx(ctx, backoff(attempt)); err != nil {
					return &OpenError{Database: name, Attempts: attempts, Err: lastErr}
				}
			}
		}
	}
	return &OpenError{Database: name, Attempts: attempts, Err: lastErr}
}

// Exec executes |sql| with |args| on the leader. On success, the rows
// affected are also made available through Changes.
func (c *Client) Exec(ctx context.Context, sql string, args ...interface{}) (pb.ExecResult, error) {
	if err := c.lock(); err != nil {
		return pb.ExecResult{}, err
	}
	defer c.mu.Unlock()

	var result pb.ExecResult
	var err = c.drive(ctx, sql, args, &result, nil)
	if err == nil {
		c.changes = result.RowsAffected
	}
	return result, err
}

// Query executes |sql| with |args| on the leader, and returns its rows.
// A result having no rows is not an error.
func (c *Client) Query(ctx context.Context, sql string, args ...interface{}) (*pb.Rows, error) {
	if err := c.lock(); err != nil {
		return nil, err
	}
	defer c.mu.Unlock()

	var rows = new(pb.Rows)
	if err := c.drive(ctx, sql, args, nil, rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// Changes returns the rows affected by the most recent successful Exec.
func (c *Client) Changes() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.changes
}

// Leader resolves the current cluster leader.
func (c *Client) Leader(ctx context.Context) (pb.Node, error) {
	if err := c.lock(); err != nil {
		return pb.Node{}, err
	}
	defer c.mu.Unlock()

	var leader, _, err = c.resolver.Resolve(ctx)
	return leader, err
}

// LeaderSession resolves the current leader and returns its Session.
// The Session remains owned by the Client, and must not be closed.
func (c *Client) LeaderSession(ctx context.Context) (*Session, error) {
	if err := c.lock(); err != nil {
		return nil, err
	}
	defer c.mu.Unlock()

	return c.leaderSession(ctx)
}

func (c *Client) leaderSession(ctx context.Context) (*Session, error) {
	var _, ind, err = c.resolver.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	s, err := c.pool.Connect(ctx, ind)
	if err != nil {
		c.resolver.Invalidate()
	}
	return s, err
}

// Session returns the Session of Pool slot |i|, dialing it if required.
// The Session remains owned by the Client, and must not be closed.
func (c *Client) Session(ctx context.Context, i int) (*Session, error) {
	if err := c.lock(); err != nil {
		return nil, err
	}
	defer c.mu.Unlock()

	return c.pool.Connect(ctx, i)
}

// Cluster lists the nodes of the cluster configuration, as reported by the leader.
func (c *Client) Cluster(ctx context.Context) ([]pb.Node, error) {
	if err := c.lock(); err != nil {
		return nil, err
	}
	defer c.mu.Unlock()

	var nodes []pb.Node
	var err = c.withLeader(ctx, nil, func(s *Session) (err error) {
		nodes, err = s.Cluster(ctx)
		return err
	})
	return nodes, err
}

// AddServer adds node |id| at |address| to the cluster configuration,
// through Session |s|. If |s| is nil, the request is sent to the leader.
func (c *Client) AddServer(ctx context.Context, s *Session, id pb.NodeID, address string) error {
	if err := (pb.Node{ID: id, Address: address}).Validate(); err != nil {
		return err
	}
	if err := c.lock(); err != nil {
		return err
	}
	defer c.mu.Unlock()

	return c.withLeader(ctx, s, func(s *Session) error { return s.Add(ctx, id, address) })
}

// RemoveServer removes node |id| from the cluster configuration, through
// Session |s|. If |s| is nil, the request is sent to the leader.
func (c *Client) RemoveServer(ctx context.Context, s *Session, id pb.NodeID) error {
	if err := c.lock(); err != nil {
		return err
	}
	defer c.mu.Unlock()

	return c.withLeader(ctx, s, func(s *Session) error { return s.Remove(ctx, id) })
}

// Assign |role| to node |id|, through Session |s|. If |s| is nil, the
// request is sent to the leader.
func (c *Client) Assign(ctx context.Context, s *Session, id pb.NodeID, role pb.NodeRole) error {
	if role > pb.Spare {
		return pb.NewValidationError("invalid Role (%d)", role)
	}
	if err := c.lock(); err != nil {
		return err
	}
	defer c.mu.Unlock()

	return c.withLeader(ctx, s, func(s *Session) error { return s.Assign(ctx, id, role) })
}

// Transfer leadership to node |id|, through Session |s|. If |s| is nil, the
// request is sent to the leader.
func (c *Client) Transfer(ctx context.Context, s *Session, id pb.NodeID) error {
	if err := c.lock(); err != nil {
		return err
	}
	defer c.mu.Unlock()

	var err = c.withLeader(ctx, s, func(s *Session) error { return s.Transfer(ctx, id) })
	c.resolver.Invalidate()
	return err
}

// Bootstrap registers every active node of the Pool other than the first
// with the cluster, through the leader. Nodes join as spares, and are then
// assigned their configured Role. Nodes already in the cluster configuration
// are skipped. Nodes must have known IDs.
func (c *Client) Bootstrap(ctx context.Context) error {
	if err := c.lock(); err != nil {
		return err
	}
	defer c.mu.Unlock()

	return c.withLeader(ctx, nil, func(s *Session) error {
		var members, err = s.Cluster(ctx)
		if err != nil {
			return errors.WithMessage(err, "listing cluster")
		}
		var known = make(map[pb.NodeID]bool, len(members))
		for _, m := range members {
			known[m.ID] = true
		}

		for i := 1; i < c.pool.Len(); i++ {
			var n = c.pool.Node(i)

			if n.ID == 0 {
				return errors.Errorf("cannot bootstrap node %s without an ID", n.Address)
			} else if known[n.ID] {
				continue
			} else if err = s.Add(ctx, n.ID, n.Address); err != nil {
				return errors.WithMessagef(err, "adding node %s", n)
			} else if err = s.Assign(ctx, n.ID, n.Role); err != nil {
				return errors.WithMessagef(err, "assigning node %s", n)
			}
			log.WithField("node", n.String()).Info("added node to cluster")
		}
		return nil
	})
}

// Close all Sessions of the Client.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pool.CloseAll()
	c.closed = true
	return nil
}
