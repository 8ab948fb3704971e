// Package handler routes received DCP frames to registered commands.
// A Handler is built once at startup from command definitions; routing
// is unambiguous by construction, every frame identifier belongs to at
// most one command.
package handler

import (
	"errors"
	"fmt"

	"github.com/mdzio/go-dcp/wire"
)

// A Command is dispatched from a Handler for a single received frame.
// Execute runs once and returns zero or more serialized reply frames.
// Replies may alternatively be emitted through the Communicator; both
// ways may be combined. Deliberate business failures belong in a status
// field of the reply payload, not in the error return: an Execute error
// reports an internal fault and surfaces as an execution error to the
// dispatching transport.
type Command interface {
	Execute(c Communicator) ([][]byte, error)
}

// CommandFunc is an adapter to use ordinary functions as Commands.
type CommandFunc func(c Communicator) ([][]byte, error)

// Execute implements interface Command.
func (f CommandFunc) Execute(c Communicator) ([][]byte, error) {
	return f(c)
}

// A Def binds one frame format to a command constructor. Defs are
// created with Handle or HandleFunc and registered with New.
type Def struct {
	format wire.Format
	build  func(data []byte) (Command, error)
}

// Handle creates a definition for inbound frames of format F. The
// frame is decoded and validated first; build then constructs the
// command from the decoded content. build runs once per matched frame.
func Handle[F wire.Format](build func(in F) (Command, error)) Def {
	var zero F
	return Def{
		format: zero,
		build: func(data []byte) (Command, error) {
			in, err := wire.Decode[F](data)
			if err != nil {
				return nil, err
			}
			return build(in.Content())
		},
	}
}

// HandleFunc creates a definition for inbound frames of format F with
// an ordinary function as command.
func HandleFunc[F wire.Format](exec func(in F, c Communicator) ([][]byte, error)) Def {
	return Handle(func(in F) (Command, error) {
		return CommandFunc(func(c Communicator) ([][]byte, error) {
			return exec(in, c)
		}), nil
	})
}

// entry is a registered definition with its resolved frame layout.
type entry struct {
	def  Def
	size int
	name string
}

// Handler routes frames to registered commands by the identifier byte
// at offset 0. It is immutable after New and safe for concurrent use
// as long as each caller owns its buffer and Communicator.
type Handler struct {
	entries map[byte]entry
}

// New builds a handler from the given definitions. Every frame format
// is validated and duplicate frame identifiers are rejected, in any
// registration order. A process must not accept traffic after a failed
// New. The registration order has no effect on dispatch outcomes.
func New(defs ...Def) (*Handler, error) {
	h := &Handler{entries: make(map[byte]entry, len(defs))}
	for _, d := range defs {
		size, err := wire.Size(d.format)
		if err != nil {
			return nil, err
		}
		id := d.format.FrameID()
		name := fmt.Sprintf("%T", d.format)
		if prev, ok := h.entries[id]; ok {
			return nil, fmt.Errorf("Duplicate command identifier 0x%02x: %s and %s", id, prev.name, name)
		}
		h.entries[id] = entry{def: d, size: size, name: name}
	}
	return h, nil
}

// FrameSize returns the fixed frame size registered for the
// identifier. Transports use it to slice a byte stream into frames.
func (h *Handler) FrameSize(id byte) (int, bool) {
	e, ok := h.entries[id]
	return e.size, ok
}

// Dispatch routes a single received frame: it reads the identifier
// byte, decodes the frame with the matching definition and executes
// the command. The returned frames are the command's direct replies;
// commands may instead respond through c. c may be nil when the caller
// provides no side channel.
//
// Every failure is reported as a *Error. A command is either fully
// constructed and executed or not constructed at all; failures before
// the match (empty input, unknown identifier) have no side effects.
// Dispatch never panics: faults in command code are converted into
// execution errors.
func (h *Handler) Dispatch(data []byte, c Communicator) ([][]byte, error) {
	if len(data) == 0 {
		return nil, &Error{Code: EmptyMessage, Msg: "Empty message"}
	}
	id := data[0]
	e, ok := h.entries[id]
	if !ok {
		return nil, &Error{Code: IDNotFound, Msg: fmt.Sprintf("Unknown command identifier: 0x%02x", id)}
	}
	return run(e, data, c)
}

// run constructs and executes the matched command. Panics in command
// code are recovered and reported as execution errors.
func run(e entry, data []byte, c Communicator) (frames [][]byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			frames = nil
			err = &Error{Code: ExecutionError, Msg: fmt.Sprintf("Command %s panicked: %v", e.name, r)}
		}
	}()
	cmd, err := e.def.build(data)
	if err != nil {
		var lerr *wire.LengthError
		if errors.As(err, &lerr) {
			return nil, &Error{Code: LengthMismatch, Msg: fmt.Sprintf("Invalid frame length for command %s", e.name), Err: err}
		}
		return nil, &Error{Code: ExecutionError, Msg: fmt.Sprintf("Construction of command %s failed", e.name), Err: err}
	}
	frames, err = cmd.Execute(c)
	if err != nil {
		return nil, &Error{Code: ExecutionError, Msg: fmt.Sprintf("Execution of command %s failed", e.name), Err: err}
	}
	return frames, nil
}
