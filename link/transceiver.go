package link

import (
	"fmt"
	"io"
	"net"
	"time"

	"github.com/mdzio/go-dcp/handler"
	"github.com/mdzio/go-dcp/wire"
)

// transceiver adapts one server connection to handler.Communicator.
// It is not safe for concurrent use; each dispatch owns it alone.
type transceiver struct {
	conn   net.Conn
	sizes  wire.SizeTable
	window time.Duration

	// broken is set when the receive stream lost its frame alignment.
	// The connection must be closed then.
	broken bool
}

// Respond sends one frame to the peer.
func (t *transceiver) Respond(frame []byte) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(sendTimeout)); err != nil {
		svrLog.Warningf("Setting of timeout for sending failed: %v", err)
	}
	if _, err := t.conn.Write(frame); err != nil {
		return fmt.Errorf("Sending of frame to %s failed: %w", t.conn.RemoteAddr(), err)
	}
	return nil
}

// Request sends a secondary request frame to the peer and collects the
// reply frames arriving within the reply window.
func (t *transceiver) Request(frame []byte, handle handler.ResponseHandler) handler.Status {
	if t.sizes == nil {
		svrLog.Warning("No reply formats configured for secondary requests")
		return handler.StatusUnknown
	}
	if err := t.Respond(frame); err != nil {
		svrLog.Warningf("Secondary request failed: %v", err)
		return handler.StatusCommError
	}
	status, broken := readReplies(t.conn, t.sizes, t.window, handle)
	if broken {
		t.broken = true
	}
	return status
}

// readReplies collects reply frames until the link stays quiet for the
// window. A quiet link after at least one reply is a success, before
// the first reply a timeout. Partial frames, unknown identifiers and
// transport failures report a communication error; they also leave the
// stream without frame alignment, which is reported as broken.
func readReplies(conn net.Conn, sizes wire.SizeTable, window time.Duration, handle handler.ResponseHandler) (status handler.Status, broken bool) {
	received := false
	var id [1]byte
	for {
		conn.SetReadDeadline(time.Now().Add(window))
		if _, err := io.ReadFull(conn, id[:]); err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if received {
					return handler.StatusSuccess, false
				}
				return handler.StatusTimeout, false
			}
			return handler.StatusCommError, true
		}
		size, ok := sizes.Lookup(id[0])
		if !ok {
			return handler.StatusCommError, true
		}
		data := make([]byte, size)
		data[0] = id[0]
		conn.SetReadDeadline(time.Now().Add(receiveTimeout))
		if _, err := io.ReadFull(conn, data[1:]); err != nil {
			return handler.StatusCommError, true
		}
		handle(data)
		received = true
	}
}
