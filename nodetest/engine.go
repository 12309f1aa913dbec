package nodetest

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	pb "go.sqlcluster.dev/core/protocol"
)

// engine executes SQL against shared, in-memory SQLite databases. All nodes
// of a Cluster share an engine, modeling a fully replicated state machine.
type engine struct {
	prefix string

	mu  sync.Mutex
	dbs map[string]*sql.DB
}

func newEngine(prefix string) *engine {
	return &engine{prefix: prefix, dbs: make(map[string]*sql.DB)}
}

func (e *engine) db(name string) (*sql.DB, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if db, ok := e.dbs[name]; ok {
		return db, nil
	}
	var db, err = sql.Open("sqlite3", fmt.Sprintf("file:%s-%s?mode=memory&cache=shared", e.prefix, name))
	if err != nil {
		return nil, errors.WithMessagef(err, "opening database %q", name)
	}
	// A single, retained connection keeps the in-memory database alive and
	// serializes statements.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	e.dbs[name] = db
	return db, nil
}

// prepare |query| to verify it, and return its number of parameters.
func (e *engine) prepare(ctx context.Context, name, query string) (uint64, error) {
	var db, err = e.db(name)
	if err != nil {
		return 0, err
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	var params int
	err = conn.Raw(func(dc interface{}) error {
		var stmt, err = dc.(*sqlite3.SQLiteConn).Prepare(query)
		if err != nil {
			return err
		}
		params = stmt.NumInput()
		return stmt.Close()
	})
	return uint64(params), err
}

func (e *engine) exec(ctx context.Context, name, query string, args []interface{}) (pb.ExecResult, error) {
	var db, err = e.db(name)
	if err != nil {
		return pb.ExecResult{}, err
	}
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return pb.ExecResult{}, err
	}
	var lastID, _ = res.LastInsertId()
	var affected, _ = res.RowsAffected()

	return pb.ExecResult{LastInsertID: uint64(lastID), RowsAffected: uint64(affected)}, nil
}

func (e *engine) query(ctx context.Context, name, query string, args []interface{}) ([]string, [][]interface{}, error) {
	var db, err = e.db(name)
	if err != nil {
		return nil, nil, err
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, nil, err
	}

	var values [][]interface{}
	for rows.Next() {
		var row = make([]interface{}, len(columns))
		var ptrs = make([]interface{}, len(columns))
		for i := range row {
			ptrs[i] = &row[i]
		}
		if err = rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}
		for i, v := range row {
			// Only declared BLOB columns produce blobs. Other byte
			// values are SQLite TEXT.
			if b, ok := v.([]byte); ok && !strings.EqualFold(types[i].DatabaseTypeName(), "BLOB") {
				row[i] = string(b)
			}
		}
		values = append(values, row)
	}
	return columns, values, rows.Err()
}

func (e *engine) close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for name, db := range e.dbs {
		_ = db.Close()
		delete(e.dbs, name)
	}
}
