package handler

import "fmt"

// Status reports the overall outcome of a request issued through a
// Communicator. The numeric values are part of the protocol contract.
type Status byte

const (
	StatusSuccess Status = iota
	StatusTimeout
	StatusCommError
	StatusUnknown
)

// String returns a description of the status.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusTimeout:
		return "timeout"
	case StatusCommError:
		return "communication error"
	case StatusUnknown:
		return "unknown error"
	}
	return fmt.Sprintf("status %d", byte(s))
}

// A ResponseHandler consumes one reply frame of a request.
type ResponseHandler func(frame []byte)

// Communicator is the side channel a command uses to emit replies and
// to issue secondary requests. It is supplied by the transport layer;
// blocking and timeout behavior belong to the implementation, the
// dispatch core only passes its status through unaltered.
type Communicator interface {
	// Respond emits one reply frame to the peer.
	Respond(frame []byte) error
	// Request sends a secondary request frame and invokes handle once
	// per received reply frame.
	Request(frame []byte, handle ResponseHandler) Status
}

// Collect issues a request through c and gathers all reply frames.
func Collect(c Communicator, frame []byte) ([][]byte, Status) {
	var frames [][]byte
	status := c.Request(frame, func(reply []byte) {
		frames = append(frames, reply)
	})
	return frames, status
}
