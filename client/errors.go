package client

import (
	"context"
	"fmt"
	"net"

	"github.com/pkg/errors"
	pb "go.sqlcluster.dev/core/protocol"
)

var (
	// ErrNoLeaderFound is returned when no reachable node of the pool reports
	// a current leader.
	ErrNoLeaderFound = errors.New("no leader found")
	// ErrSessionBroken is returned by a Session which previously failed with an
	// I/O error or timeout. Its connection state is unknown and it must be re-dialed.
	ErrSessionBroken = errors.New("session is broken")
	// ErrClosed is returned by a Client after Close.
	ErrClosed = errors.New("client is closed")
	// ErrNoDatabase is returned by statement operations prior to a successful Open.
	ErrNoDatabase = errors.New("no database is open")
)

// ConnectionError is a failure to establish a Session with a node.
type ConnectionError struct {
	Address string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connecting to %s: %s", e.Address, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// IOError is a failed or short read or write of an established Session.
type IOError struct {
	Address string
	Op      string // "read" or "write".
	Err     error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Op, e.Address, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// TimeoutError is a read or write of an established Session which didn't
// complete before its deadline.
type TimeoutError struct {
	Address string
	Op      string
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s %s: timed out: %s", e.Op, e.Address, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// Timeout returns true.
func (e *TimeoutError) Timeout() bool { return true }

// Step of a statement lifecycle.
type Step string

// Steps of a statement lifecycle at which a DriverError may occur.
const (
	StepNoLeader Step = "no-leader"
	StepOpen     Step = "open"
	StepPrepare  Step = "prepare"
	StepExec     Step = "exec"
	StepQuery    Step = "query"
)

// DriverError is a failed statement lifecycle. It names the Step which
// failed, and wraps its cause.
type DriverError struct {
	Step Step
	SQL  string
	Err  error
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("%s failed (%q): %s", e.Step, e.SQL, e.Err)
}

func (e *DriverError) Unwrap() error { return e.Err }

// OpenError is returned by Client.Open when no node of the pool could open
// the database.
type OpenError struct {
	Database string
	Attempts int
	Err      error // Last encountered error.
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("failed to open database %q after %d attempts: %s", e.Database, e.Attempts, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// IsNotLeader returns true if |err| is a node's refusal to serve a request
// because it isn't the cluster leader.
func IsNotLeader(err error) bool {
	var f *pb.FailureError
	return errors.As(err, &f) && f.IsNotLeader()
}

// IsConnectionFailure returns true if |err| stems from the transport rather
// than from a node's response: a failed dial, a failed or short read or
// write, a timeout, or use of a broken Session.
func IsConnectionFailure(err error) bool {
	var (
		ce *ConnectionError
		ie *IOError
		te *TimeoutError
	)
	return errors.As(err, &ce) || errors.As(err, &ie) || errors.As(err, &te) ||
		errors.Is(err, ErrSessionBroken)
}

// classify an error of a read or write of |op| with |address|.
func classify(ctx context.Context, address, op string, err error) error {
	var netErr net.Error

	if ctxErr := ctx.Err(); ctxErr == context.DeadlineExceeded {
		return &TimeoutError{Address: address, Op: op, Err: ctxErr}
	} else if ctxErr != nil {
		return &IOError{Address: address, Op: op, Err: ctxErr}
	} else if errors.As(err, &netErr) && netErr.Timeout() {
		return &TimeoutError{Address: address, Op: op, Err: err}
	}
	return &IOError{Address: address, Op: op, Err: err}
}
