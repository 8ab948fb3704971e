package wire

import "fmt"

// LengthError reports a frame whose byte count does not match the fixed
// size of its format.
type LengthError struct {
	Format string
	Want   int
	Got    int
}

func (e *LengthError) Error() string {
	return fmt.Sprintf("Invalid frame length for %s: expected %d bytes, got %d", e.Format, e.Want, e.Got)
}

// IDError reports a frame whose leading byte does not match the
// identifier expected by its format.
type IDError struct {
	Format string
	Want   byte
	Got    byte
}

func (e *IDError) Error() string {
	return fmt.Sprintf("Invalid frame identifier for %s: expected 0x%02x, got 0x%02x", e.Format, e.Want, e.Got)
}
