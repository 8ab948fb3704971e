// Package link moves DCP frames over a TCP device link. The Server
// accepts connections on the device side and feeds received frames into
// a handler; the Client issues command frames from the controller side.
// Frames carry no length prefix: the stream is sliced by looking up the
// fixed size of each frame behind its leading identifier byte.
package link

import (
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/mdzio/go-dcp/handler"
	"github.com/mdzio/go-dcp/wire"
	"github.com/mdzio/go-lib/conc"
	"github.com/mdzio/go-logging"
)

const (
	// send timeout for a single frame
	sendTimeout = 15 * time.Second

	// receive timeout for the remainder of a started frame
	receiveTimeout = 15 * time.Second

	// idle timeout of a connection, if not specified
	defaultIdleTimeout = 3 * time.Minute

	// quiet period ending a reply sequence, if not specified
	defaultReplyWindow = 1 * time.Second
)

var svrLog = logging.Get("dcp-server")

// Server is a DCP device server. It listens for controller connections
// and dispatches every received frame through Handler. Commands receive
// a connection-backed Communicator: responses go back on the same
// connection, secondary requests read their replies from it using
// ReplySizes and ReplyWindow.
type Server struct {
	Addr     string
	Handler  *handler.Handler
	ServeErr chan<- error

	// ReplySizes describes the reply frames expected by secondary
	// requests. Without it, Request fails with an unknown error status.
	ReplySizes  wire.SizeTable
	IdleTimeout time.Duration
	ReplyWindow time.Duration

	listener net.Listener
	stop     chan struct{}
	done     chan struct{}

	mtx   sync.Mutex
	conns map[net.Conn]struct{}
	pool  conc.DaemonPool
}

// Start starts the TCP server for handling DCP frames.
func (s *Server) Start() error {
	if s.IdleTimeout == 0 {
		s.IdleTimeout = defaultIdleTimeout
	}
	if s.ReplyWindow == 0 {
		s.ReplyWindow = defaultReplyWindow
	}
	s.conns = make(map[net.Conn]struct{})
	// avoid blocking
	s.stop = make(chan struct{}, 1)
	s.done = make(chan struct{}, 1)

	// start listening
	svrLog.Infof("Starting DCP server on address %s", s.Addr)
	l, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("Listen on address %s failed: %w", s.Addr, err)
	}
	s.listener = l

	// start serving
	var delay time.Duration
	go func() {
		defer s.listener.Close()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				// stop request?
				select {
				case <-s.stop:
					// signal server is down
					s.done <- struct{}{}
					return
				default:
				}
				// temporary error?
				if ne, ok := err.(net.Error); ok && ne.Temporary() {
					// sleep on accept failure
					if delay == 0 {
						delay = 5 * time.Millisecond
					} else {
						delay *= 2
					}
					if max := 1 * time.Second; delay > max {
						delay = max
					}
					svrLog.Tracef("Accept failed: %v", err)
					time.Sleep(delay)
					// retry
					continue
				}
				// signal server is down
				s.done <- struct{}{}
				// signal error
				s.ServeErr <- err
				return
			}
			delay = 0
			// service connection
			s.track(conn)
			s.pool.Run(func(ctx conc.Context) {
				defer s.untrack(conn)
				s.serve(ctx, conn)
			})
		}
	}()
	return nil
}

// Stop stops the TCP server and closes all connections.
func (s *Server) Stop() {
	svrLog.Debug("Shutting down DCP server")
	s.stop <- struct{}{}
	s.listener.Close()
	<-s.done
	// close remaining connections to unblock their daemons
	s.mtx.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mtx.Unlock()
	s.pool.Close()
}

func (s *Server) track(conn net.Conn) {
	s.mtx.Lock()
	s.conns[conn] = struct{}{}
	s.mtx.Unlock()
}

func (s *Server) untrack(conn net.Conn) {
	s.mtx.Lock()
	delete(s.conns, conn)
	s.mtx.Unlock()
}

// serve reads frames from the connection until it is closed, idle or
// broken, and dispatches each one.
func (s *Server) serve(ctx conc.Context, conn net.Conn) {
	defer conn.Close()
	svrLog.Debugf("Connection accepted from %s", conn.RemoteAddr())
	tr := &transceiver{conn: conn, sizes: s.ReplySizes, window: s.ReplyWindow}

	var id [1]byte
	for {
		if ctx.IsDone() {
			return
		}
		// read frame identifier
		conn.SetReadDeadline(time.Now().Add(s.IdleTimeout))
		if _, err := io.ReadFull(conn, id[:]); err != nil {
			if err == io.EOF {
				svrLog.Debugf("Connection closed by %s", conn.RemoteAddr())
			} else {
				svrLog.Debugf("Receiving from %s stopped: %v", conn.RemoteAddr(), err)
			}
			return
		}

		// read frame remainder
		size, ok := s.Handler.FrameSize(id[0])
		if !ok {
			// a byte stream cannot be resynchronized behind an unknown frame
			svrLog.Warningf("Unknown frame identifier 0x%02x from %s, closing connection", id[0], conn.RemoteAddr())
			return
		}
		data := make([]byte, size)
		data[0] = id[0]
		conn.SetReadDeadline(time.Now().Add(receiveTimeout))
		if _, err := io.ReadFull(conn, data[1:]); err != nil {
			svrLog.Warningf("Receiving frame 0x%02x from %s failed: %v", id[0], conn.RemoteAddr(), err)
			return
		}
		svrLog.Tracef("Received frame from %s: %x", conn.RemoteAddr(), data)

		// dispatch frame
		frames, err := s.Handler.Dispatch(data, tr)
		if err != nil {
			// the frame boundary is intact, keep the connection
			svrLog.Warningf("Dispatch of frame 0x%02x from %s failed: %v", id[0], conn.RemoteAddr(), err)
		}
		if tr.broken {
			svrLog.Warningf("Connection to %s is out of sync, closing", conn.RemoteAddr())
			return
		}

		// send direct replies
		for _, f := range frames {
			if err := tr.Respond(f); err != nil {
				svrLog.Warningf("Sending of reply to %s failed: %v", conn.RemoteAddr(), err)
				return
			}
		}
	}
}
