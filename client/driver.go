package client

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.sqlcluster.dev/core/metrics"
	pb "go.sqlcluster.dev/core/protocol"
)

// drive the lifecycle of statement |sql|: resolve the leader, open the
// database on its Session, prepare, execute (into |result|) or query (into
// |rows|), and finalize. Each step short-circuits on failure. Retry-able
// failures restart the lifecycle, up to LeaderRetries times.
func (c *Client) drive(ctx context.Context, sql string, args []interface{}, result *pb.ExecResult, rows *pb.Rows) error {
	if c.database == "" {
		return ErrNoDatabase
	}
	for attempt := 0; ; attempt++ {
		var written, err = c.lifecycle(ctx, sql, args, result, rows)
		if err == nil {
			return nil
		} else if !retryable(err, rows != nil, written) || attempt == c.cfg.LeaderRetries {
			return err
		}

		var step = StepNoLeader
		var de *DriverError
		if errors.As(err, &de) {
			step = de.Step
		}
		metrics.StatementRetriesTotal.WithLabelValues(string(step)).Inc()

		if attempt != 0 {
			log.WithFields(log.Fields{
				"sql":     sql,
				"attempt": attempt,
				"err":     err,
			}).Warn("statement failed (will retry)")
		}
		if rows != nil {
			*rows = pb.Rows{}
		}
		if err := sleepCtx(ctx, backoff(attempt)); err != nil {
			return &DriverError{Step: step, SQL: sql, Err: err}
		}
	}
}

// retryable returns true if a lifecycle which failed with |err| may be
// restarted. |query| is true if the statement is a read-only Query, and
// |written| is true if an Exec request may have reached the leader.
func retryable(err error, query, written bool) bool {
	var protoErr *pb.ProtocolError

	switch {
	case errors.As(err, &protoErr):
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, ErrNoLeaderFound), IsNotLeader(err):
		return true
	case IsConnectionFailure(err):
		// An Exec which was written may have been applied.
		return query || !written
	}
	return false
}

// lifecycle runs a single attempt of a statement. It returns true if an Exec
// request was (or may have been) written to the leader.
func (c *Client) lifecycle(ctx context.Context, sql string, args []interface{}, result *pb.ExecResult, rows *pb.Rows) (written bool, err error) {
	var leader, ind, rErr = c.resolver.Resolve(ctx)
	if rErr != nil {
		return false, &DriverError{Step: StepNoLeader, SQL: sql, Err: rErr}
	}

	var s *Session
	var step = StepOpen

	defer func() {
		if err == nil {
			return
		}
		if IsNotLeader(err) || IsConnectionFailure(err) {
			c.resolver.Invalidate()
		}
		if s != nil && s.Broken() != nil {
			c.pool.Drop(ind)
		}
		log.WithFields(log.Fields{
			"leader": leader.String(),
			"step":   step,
			"err":    err,
		}).Debug("statement lifecycle failed")

		err = &DriverError{Step: step, SQL: sql, Err: err}
	}()

	if s, err = c.pool.Connect(ctx, ind); err != nil {
		return false, err
	}
	var db uint32
	if db, err = s.OpenDatabase(ctx, c.database); err != nil {
		return false, err
	}

	step = StepPrepare
	var stmt pb.StmtResponse
	if err = s.RoundTrip(ctx, pb.PrepareRequest{DB: uint64(db), SQL: sql}, &stmt); err != nil {
		return false, err
	}
	defer finalize(ctx, s, stmt)

	if rows != nil {
		step = StepQuery
		return false, queryRows(ctx, s, pb.QueryRequest{DB: stmt.DB, Stmt: stmt.ID, Params: args}, rows)
	}

	step = StepExec
	written = true
	err = s.RoundTrip(ctx, pb.ExecRequest{DB: stmt.DB, Stmt: stmt.ID, Params: args}, result)

	if err != nil && IsNotLeader(err) {
		written = false // Refused, and not applied.
	}
	return written, err
}

// queryRows sends |req| and reads its Rows responses, which may be split
// over multiple messages.
func queryRows(ctx context.Context, s *Session, req pb.QueryRequest, rows *pb.Rows) error {
	var started = time.Now()
	var err = s.Send(ctx, req)

	for more := err == nil; more; {
		var msg *pb.Message
		if msg, err = s.Recv(ctx, pb.ResponseRows); err == nil {
			if more, err = pb.DecodeRows(msg, rows); err != nil {
				s.broken = err
			}
		}
		if err != nil {
			break
		}
	}

	var status = metrics.Ok
	if err != nil {
		status = metrics.Fail
	}
	metrics.ClientRequestsTotal.WithLabelValues(pb.RequestName(pb.RequestQuery), status).Inc()
	metrics.ClientRequestSeconds.WithLabelValues(pb.RequestName(pb.RequestQuery)).Observe(time.Since(started).Seconds())

	return err
}

// finalize releases |stmt|. Failures are logged, as the statement's outcome
// is already known.
func finalize(ctx context.Context, s *Session, stmt pb.StmtResponse) {
	if s.Broken() != nil {
		return // Statements are released with the connection.
	}
	var req = pb.FinalizeRequest{DB: stmt.DB, Stmt: stmt.ID}
	if err := s.RoundTrip(ctx, req, new(pb.EmptyResponse)); err != nil {
		log.WithFields(log.Fields{
			"session": s.ID,
			"stmt":    stmt.ID,
			"err":     err,
		}).Warn("failed to finalize statement")
	}
}

// withLeader invokes |fn| with Session |s|, or if |s| is nil, with the
// leader's Session. In the latter case, not-leader failures are retried
// against a re-resolved leader.
func (c *Client) withLeader(ctx context.Context, s *Session, fn func(*Session) error) error {
	if s != nil {
		return fn(s)
	}
	for attempt := 0; ; attempt++ {
		var ls, err = c.leaderSession(ctx)
		if err == nil {
			if err = fn(ls); err != nil && (IsNotLeader(err) || IsConnectionFailure(err)) {
				c.resolver.Invalidate()
			}
		}
		if err == nil || attempt == c.cfg.LeaderRetries {
			return err
		} else if !errors.Is(err, ErrNoLeaderFound) && !IsNotLeader(err) {
			return err
		}

		if attempt != 0 {
			log.WithFields(log.Fields{"attempt": attempt, "err": err}).
				Warn("leader request failed (will retry)")
		}
		if err := sleepCtx(ctx, backoff(attempt)); err != nil {
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	var t = time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoff(attempt int) time.Duration {
	// Leadership changes typically settle within an election timeout or two.
	switch attempt {
	case 0, 1:
		return time.Millisecond * 50
	case 2, 3:
		return time.Millisecond * 100
	case 4, 5:
		return time.Second
	default:
		return 5 * time.Second
	}
}
