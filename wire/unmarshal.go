package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Unmarshal decodes a received frame into a value of format F. The
// frame must have exactly the fixed size of F, otherwise a
// *LengthError is returned, and must carry the expected identifier at
// offset 0, otherwise a *IDError is returned. The frame content is
// copied; the result does not alias data.
func Unmarshal[F Format](data []byte) (F, error) {
	var content F
	l, err := layoutOf(content)
	if err != nil {
		return content, err
	}
	if len(data) != l.size {
		return content, &LengthError{Format: l.name, Want: l.size, Got: len(data)}
	}
	if want := content.FrameID(); data[0] != want {
		return content, &IDError{Format: l.name, Want: want, Got: data[0]}
	}
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &content); err != nil {
		return content, fmt.Errorf("Decoding of %s frame failed: %w", l.name, err)
	}
	return content, nil
}

// Inbound is a framed message decoded from received bytes. Length and
// identifier are validated on construction; the content is immutable
// afterwards.
type Inbound[F Format] struct {
	content F
}

// Decode parses a received frame into an inbound message.
func Decode[F Format](data []byte) (Inbound[F], error) {
	content, err := Unmarshal[F](data)
	if err != nil {
		return Inbound[F]{}, err
	}
	return Inbound[F]{content: content}, nil
}

// Content returns the decoded frame content.
func (m Inbound[F]) Content() F {
	return m.content
}

// Encode serializes the message back into its exact byte image. Each
// call returns an independent copy.
func (m Inbound[F]) Encode() ([]byte, error) {
	return Marshal(m.content)
}
