// Package driver is a database/sql driver of a Raft-replicated SQL cluster,
// registered as "sqlcluster":
//
//	var db, err = sql.Open("sqlcluster", "sqlcluster://10.0.0.1,10.0.0.2,10.0.0.3/app")
//
// Each database/sql connection is a client.Client with its own Pool of node
// Sessions. Statements are driven against the current leader, and are
// retried across leadership changes by the Client. Transactions are not
// supported, though BEGIN and COMMIT may be executed as statements.
package driver

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"io"

	"github.com/pkg/errors"
	"go.sqlcluster.dev/core/client"
	pb "go.sqlcluster.dev/core/protocol"
)

func init() { sql.Register(Scheme, &Driver{}) }

// Driver of the cluster.
type Driver struct{}

// Open a connection of the data source name |dsn|. See ParseDSN.
func (d *Driver) Open(dsn string) (driver.Conn, error) {
	var c, err = d.OpenConnector(dsn)
	if err != nil {
		return nil, err
	}
	return c.Connect(context.Background())
}

// OpenConnector parses |dsn| into a Connector.
func (d *Driver) OpenConnector(dsn string) (driver.Connector, error) {
	var cfg, database, err = ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	return NewConnector(cfg, database), nil
}

// Connector builds Conns of a client.Config and database.
type Connector struct {
	cfg      client.Config
	database string
}

// NewConnector returns a Connector which opens |database| using Clients of
// |cfg|. Use it with sql.OpenDB.
func NewConnector(cfg client.Config, database string) *Connector {
	return &Connector{cfg: cfg, database: database}
}

// Connect builds a Client and opens the database.
func (c *Connector) Connect(ctx context.Context) (driver.Conn, error) {
	var cl, err = client.New(c.cfg)
	if err != nil {
		return nil, err
	}
	if err = cl.Open(ctx, c.database); err != nil {
		_ = cl.Close()
		return nil, err
	}
	return &Conn{client: cl}, nil
}

// Driver returns the Driver of the Connector.
func (c *Connector) Driver() driver.Driver { return &Driver{} }

// Conn is a connection to the cluster.
type Conn struct {
	client *client.Client
}

// Client of the Conn.
func (c *Conn) Client() *client.Client { return c.client }

// Changes returns the number of rows affected by the most recent Exec,
// in the manner of sqlite3_changes. Reach it through sql.Conn.Raw:
//
//	err = conn.Raw(func(dc interface{}) error {
//		changes = dc.(*driver.Conn).Changes()
//		return nil
//	})
func (c *Conn) Changes() uint64 { return c.client.Changes() }

// Prepare returns a Stmt of |query|. The query is prepared on the leader
// only when executed.
func (c *Conn) Prepare(query string) (driver.Stmt, error) {
	return &Stmt{conn: c, query: query}, nil
}

// Close the Conn.
func (c *Conn) Close() error { return c.client.Close() }

// Begin returns an error: transactions are not supported.
func (c *Conn) Begin() (driver.Tx, error) { return nil, ErrTransactionsUnsupported }

// Ping resolves the leader of the cluster.
func (c *Conn) Ping(ctx context.Context) error {
	var _, err = c.client.Leader(ctx)
	return mapErr(err)
}

// ExecContext executes |query| on the leader.
func (c *Conn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	var values, err = namedValues(args)
	if err != nil {
		return nil, err
	}
	res, err := c.client.Exec(ctx, query, values...)
	if err != nil {
		return nil, mapErr(err)
	}
	return result{res}, nil
}

// QueryContext queries |query| on the leader. Rows are fully materialized.
func (c *Conn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	var values, err = namedValues(args)
	if err != nil {
		return nil, err
	}
	rows, err := c.client.Query(ctx, query, values...)
	if err != nil {
		return nil, mapErr(err)
	}
	return &Rows{rows: rows}, nil
}

// ErrTransactionsUnsupported is returned by Conn.Begin.
var ErrTransactionsUnsupported = errors.New("transactions are not supported")

// Stmt is a statement of a Conn.
type Stmt struct {
	conn  *Conn
	query string
}

// Close is a no-op. Statements are finalized on the leader after each use.
func (s *Stmt) Close() error { return nil }

// NumInput returns -1, as the number of parameters isn't known until the
// statement is prepared on the leader.
func (s *Stmt) NumInput() int { return -1 }

// Exec the statement.
func (s *Stmt) Exec(args []driver.Value) (driver.Result, error) {
	return s.ExecContext(context.Background(), valuesToNamed(args))
}

// ExecContext executes the statement.
func (s *Stmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	return s.conn.ExecContext(ctx, s.query, args)
}

// Query the statement.
func (s *Stmt) Query(args []driver.Value) (driver.Rows, error) {
	return s.QueryContext(context.Background(), valuesToNamed(args))
}

// QueryContext queries the statement.
func (s *Stmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	return s.conn.QueryContext(ctx, s.query, args)
}

type result struct{ pb.ExecResult }

func (r result) LastInsertId() (int64, error) { return int64(r.ExecResult.LastInsertID), nil }
func (r result) RowsAffected() (int64, error) { return int64(r.ExecResult.RowsAffected), nil }

// Rows iterates over a materialized result set.
type Rows struct {
	rows *pb.Rows
	next int
}

// Columns returns the column names.
func (r *Rows) Columns() []string { return r.rows.Columns }

// Close the Rows.
func (r *Rows) Close() error { return nil }

// Next populates |dest| with the next row, or returns io.EOF.
func (r *Rows) Next(dest []driver.Value) error {
	if r.next == r.rows.Len() {
		return io.EOF
	}
	for i, v := range r.rows.Values[r.next] {
		dest[i] = v
	}
	r.next++
	return nil
}

func namedValues(args []driver.NamedValue) ([]interface{}, error) {
	var out = make([]interface{}, len(args))
	for i, arg := range args {
		if arg.Name != "" {
			return nil, errors.Errorf("named parameters are not supported (%s)", arg.Name)
		}
		out[i] = arg.Value
	}
	return out, nil
}

func valuesToNamed(args []driver.Value) []driver.NamedValue {
	var out = make([]driver.NamedValue, len(args))
	for i, v := range args {
		out[i] = driver.NamedValue{Ordinal: i + 1, Value: v}
	}
	return out
}

// mapErr maps use of a closed Client to driver.ErrBadConn, so that
// database/sql discards the Conn.
func mapErr(err error) error {
	if errors.Is(err, client.ErrClosed) {
		return driver.ErrBadConn
	}
	return err
}

var (
	_ driver.DriverContext    = (*Driver)(nil)
	_ driver.Connector        = (*Connector)(nil)
	_ driver.ExecerContext    = (*Conn)(nil)
	_ driver.QueryerContext   = (*Conn)(nil)
	_ driver.Pinger           = (*Conn)(nil)
	_ driver.StmtExecContext  = (*Stmt)(nil)
	_ driver.StmtQueryContext = (*Stmt)(nil)
)
