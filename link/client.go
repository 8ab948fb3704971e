package link

import (
	"fmt"
	"net"
	"time"

	"github.com/mdzio/go-dcp/handler"
	"github.com/mdzio/go-dcp/wire"
	"github.com/mdzio/go-logging"
)

const (
	// connect and send timeout, if not specified
	defaultCallTimeout = 15 * time.Second
)

var clnLog = logging.Get("dcp-client")

// Client issues DCP command frames to a device server from the
// controller side. Every call dials a separate connection. ReplySizes
// describes the reply frames the device may send back; it is required
// for Call, Send works without it.
type Client struct {
	Addr string

	// ReplySizes describes the expected reply frames.
	ReplySizes wire.SizeTable
	// ReplyWindow is the quiet period ending a reply sequence.
	ReplyWindow time.Duration
	// Timeout bounds connecting and sending.
	Timeout time.Duration
}

// Call sends a single command frame and collects the reply frames
// arriving until the link stays quiet for the reply window. A device
// that answers nothing yields no frames and no error.
func (c *Client) Call(frame []byte) ([][]byte, error) {
	if c.ReplySizes == nil {
		return nil, fmt.Errorf("No reply formats configured for %s", c.Addr)
	}
	conn, err := c.send(frame)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	window := c.ReplyWindow
	if window == 0 {
		window = defaultReplyWindow
	}
	var frames [][]byte
	status, _ := readReplies(conn, c.ReplySizes, window, func(reply []byte) {
		clnLog.Tracef("Received frame from %s: %x", c.Addr, reply)
		frames = append(frames, reply)
	})
	switch status {
	case handler.StatusSuccess, handler.StatusTimeout:
		return frames, nil
	default:
		return nil, fmt.Errorf("Receiving of replies from %s failed", c.Addr)
	}
}

// Send sends a single command frame without waiting for replies.
func (c *Client) Send(frame []byte) error {
	conn, err := c.send(frame)
	if err != nil {
		return err
	}
	return conn.Close()
}

// send opens a connection and sends the frame. The caller must close
// the returned connection.
func (c *Client) send(frame []byte) (net.Conn, error) {
	clnLog.Tracef("Sending frame to %s: %x", c.Addr, frame)
	timeout := c.Timeout
	if timeout == 0 {
		timeout = defaultCallTimeout
	}
	conn, err := net.DialTimeout("tcp", c.Addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("Connecting to %s failed: %w", c.Addr, err)
	}
	if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		clnLog.Warningf("Setting of timeout for sending failed: %v", err)
	}
	if _, err := conn.Write(frame); err != nil {
		conn.Close()
		return nil, fmt.Errorf("Sending of frame to %s failed: %w", c.Addr, err)
	}
	return conn, nil
}
