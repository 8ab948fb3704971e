package handler

import "fmt"

// ErrorCode classifies a dispatch failure. The numeric values are part
// of the protocol contract and must not change.
type ErrorCode byte

const (
	IDNotFound     ErrorCode = 1
	LengthMismatch ErrorCode = 2
	ExecutionError ErrorCode = 3
	EmptyMessage   ErrorCode = 4
)

// String returns a description of the code.
func (c ErrorCode) String() string {
	switch c {
	case IDNotFound:
		return "identifier not found"
	case LengthMismatch:
		return "length mismatch"
	case ExecutionError:
		return "execution error"
	case EmptyMessage:
		return "empty message"
	}
	return fmt.Sprintf("unknown code %d", byte(c))
}

// Error is the structured outcome of a failed dispatch. Callers match
// on Code; Err carries the wrapped cause, if any.
type Error struct {
	Code ErrorCode
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}
