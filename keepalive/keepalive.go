// Package keepalive provides TCP dialing and listening with keep-alive
// probes tuned for long-lived sessions with cluster nodes.
package keepalive

import (
	"context"
	"net"
	"time"
)

// Probes of node sessions. A peer which vanishes without closing its
// connection is detected within Idle + Interval*Count.
var Probes = net.KeepAliveConfig{
	Enable:   true,
	Idle:     15 * time.Second,
	Interval: 5 * time.Second,
	Count:    3,
}

// Dialer of node sessions. Its Timeout bounds connection establishment only:
// callers apply their own per-request deadlines.
var Dialer = &net.Dialer{
	Timeout:         10 * time.Second,
	KeepAliveConfig: Probes,
}

// Dial TCP |addr| using Dialer.
func Dial(ctx context.Context, addr string) (net.Conn, error) {
	return Dialer.DialContext(ctx, "tcp", addr)
}

// TCPListener applies Probes to accepted connections, so that sessions of
// clients which vanish are eventually reaped.
type TCPListener struct {
	*net.TCPListener
}

// Accept the next connection and apply Probes.
func (ln TCPListener) Accept() (net.Conn, error) {
	var tc, err = ln.AcceptTCP()
	if err != nil {
		return nil, err
	}
	_ = tc.SetKeepAliveConfig(Probes)
	return tc, nil
}
