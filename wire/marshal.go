package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Marshal encodes the format value into its exact byte image: fixed
// size, fields in declaration order, little-endian, no padding. Each
// call returns an independent copy; the result never aliases the value.
func Marshal(f Format) ([]byte, error) {
	l, err := layoutOf(f)
	if err != nil {
		return nil, err
	}
	buf := bytes.Buffer{}
	buf.Grow(l.size)
	if err := binary.Write(&buf, binary.LittleEndian, f); err != nil {
		return nil, fmt.Errorf("Encoding of %s frame failed: %w", l.name, err)
	}
	return buf.Bytes(), nil
}

// Outbound is a framed message built programmatically for sending. Its
// content is trusted: the identifier field is taken as given and not
// cross-checked against FrameID. By convention a reply reuses the
// identifier of the request it answers.
type Outbound[F Format] struct {
	content F
}

// NewOutbound wraps content into an outbound message.
func NewOutbound[F Format](content F) Outbound[F] {
	return Outbound[F]{content: content}
}

// Content returns the frame content.
func (m Outbound[F]) Content() F {
	return m.content
}

// Encode serializes the message into its exact byte image. Each call
// returns an independent copy.
func (m Outbound[F]) Encode() ([]byte, error) {
	return Marshal(m.content)
}
