// Package server binds a TCP socket which is multiplexed between HTTP/1
// (for debugging and metrics) and the cluster wire protocol.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/soheilhy/cmux"
	"go.sqlcluster.dev/core/keepalive"
	"go.sqlcluster.dev/core/task"
)

// ConnHandler serves a single wire protocol connection. It must return once
// |ctx| is Done. The connection is closed after it returns.
type ConnHandler func(ctx context.Context, conn net.Conn) error

// Server bundles an HTTP server and a wire protocol server, multiplexed over
// a single bound TCP socket (using CMux).
type Server struct {
	// RawListener is the bound TCP listener of the Server.
	RawListener *net.TCPListener
	// CMux wraps RawListener to provide connection protocol multiplexing over
	// a single bound socket.
	CMux cmux.CMux
	// HTTPListener is a CMux Listener for HTTP/1 connections.
	HTTPListener net.Listener
	// WireListener is a CMux Listener for all other connections, which are
	// presumed to speak the wire protocol.
	WireListener net.Listener
	// HTTPMux is the http.ServeMux which is served by QueueTasks.
	HTTPMux *http.ServeMux
	// Ctx is cancelled when the Server is stopped.
	Ctx context.Context

	cancel  context.CancelFunc
	mu      sync.Mutex
	stopped bool
	conns   sync.WaitGroup
}

// New builds and returns a Server of the given TCP network interface |iface|
// and |port|. |port| may be zero, in which case a random free port is assigned.
func New(iface string, port uint16) (*Server, error) {
	var addr = net.JoinHostPort(iface, fmt.Sprint(port))

	var raw, err = net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to bind service address (%s)", addr)
	}
	var ctx, cancel = context.WithCancel(context.Background())

	var srv = &Server{
		HTTPMux:     http.NewServeMux(),
		RawListener: raw.(*net.TCPListener),
		Ctx:         ctx,
		cancel:      cancel,
	}
	srv.CMux = cmux.New(keepalive.TCPListener{TCPListener: srv.RawListener})

	srv.CMux.HandleError(func(err error) bool {
		if _, ok := err.(net.Error); !ok {
			log.WithField("err", err).Warn("failed to CMux client connection to a listener")
		}
		return true // Continue serving RawListener.
	})

	// Connections sending HTTP/1 verbs (GET, PUT, POST etc) are assumed to be HTTP.
	srv.HTTPListener = srv.CMux.Match(cmux.HTTP1Fast())
	// Wire protocol connections open with a binary handshake.
	srv.WireListener = srv.CMux.Match(cmux.Any())

	return srv, nil
}

// MustLoopback builds and returns a new Server instance bound to a random
// port on the loopback interface. It panics on error.
func MustLoopback() *Server {
	var srv, err = New("127.0.0.1", 0)
	if err != nil {
		log.WithField("err", err).Panic("failed to build loopback Server")
	}
	return srv
}

// Endpoint of the Server, as "host:port".
func (s *Server) Endpoint() string { return s.RawListener.Addr().String() }

// QueueTasks serving the CMux, HTTP, and wire protocol servers onto the
// task.Group. Each accepted wire protocol connection is served by |handler|.
// Serving stops when the task.Group is cancelled.
func (s *Server) QueueTasks(tg *task.Group, handler ConnHandler) {
	tg.Queue("CMux.Serve", func() error {
		if err := s.CMux.Serve(); err != nil && s.Ctx.Err() == nil {
			return err
		}
		return nil // Swallow error after stop.
	})
	tg.Queue("http.Serve", func() error {
		if err := http.Serve(s.HTTPListener, s.HTTPMux); err != nil && s.Ctx.Err() == nil {
			return err
		}
		return nil // Swallow error after stop.
	})
	tg.Queue("wire.Serve", func() error {
		return s.serveWire(handler)
	})
	tg.Queue("Server.Stop", func() error {
		<-tg.Context().Done() // Block until task.Group is cancelled.

		// Cancel |s.Ctx| so Serve loops and handlers recognize this as a
		// graceful closure, and then close RawListener to stop accepting.
		s.cancel()
		var err = s.RawListener.Close()

		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()

		s.conns.Wait()
		return errors.WithMessage(ignoreClosed(err), "closing listener")
	})
}

func (s *Server) serveWire(handler ConnHandler) error {
	for {
		var conn, err = s.WireListener.Accept()
		if err != nil {
			if s.Ctx.Err() != nil {
				return nil
			}
			return errors.WithMessage(err, "accepting wire connection")
		}

		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			_ = conn.Close()
			continue
		}
		s.conns.Add(1)
		s.mu.Unlock()

		go func() {
			defer s.conns.Done()

			// Close |conn| upon stop, to interrupt a blocked handler.
			var stop = context.AfterFunc(s.Ctx, func() { _ = conn.Close() })
			defer stop()

			if err := handler(s.Ctx, conn); err != nil && s.Ctx.Err() == nil {
				log.WithFields(log.Fields{
					"remote": conn.RemoteAddr().String(),
					"err":    err,
				}).Debug("wire connection closed with error")
			}
			_ = conn.Close()
		}()
	}
}

func ignoreClosed(err error) error {
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
