package wire

import (
	"bytes"
	"fmt"

	"golang.org/x/text/encoding/charmap"
)

// PutLatin1 encodes s as ISO 8859-1 into the fixed-width field dst.
// Shorter strings are padded with NUL bytes. Strings that do not fit
// into dst or contain characters outside ISO 8859-1 are rejected.
func PutLatin1(dst []byte, s string) error {
	enc, err := charmap.ISO8859_1.NewEncoder().String(s)
	if err != nil {
		return fmt.Errorf("Encoding of %q as ISO 8859-1 failed: %w", s, err)
	}
	if len(enc) > len(dst) {
		return fmt.Errorf("Text %q exceeds field size %d", s, len(dst))
	}
	n := copy(dst, enc)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
	return nil
}

// Latin1 decodes a fixed-width ISO 8859-1 field, trimming trailing NUL
// padding.
func Latin1(src []byte) string {
	src = bytes.TrimRight(src, "\x00")
	dec, err := charmap.ISO8859_1.NewDecoder().Bytes(src)
	if err != nil {
		// every byte sequence is valid ISO 8859-1
		return string(src)
	}
	return string(dec)
}
