// Package wire implements the DCP frame codec. A DCP frame is a
// fixed-size, densely packed byte sequence: byte 0 carries the frame
// identifier, the remaining bytes carry the fields in declaration order
// at their natural widths. Multi-byte fields travel least-significant
// byte first (little-endian). There is no padding between fields.
package wire

import (
	"encoding/binary"
	"fmt"
	"reflect"
	"sync"
)

// Format describes one fixed-layout frame type. Implementations are
// plain structs, passed by value, whose first field holds the live
// frame identifier: exported, of type byte, at offset 0. All further
// fields must be exported and of fixed width (unsigned or signed
// integers of explicit size, bool, floats, arrays or nested structs of
// such fields). Blank fields act as reserved bytes: zero on encode,
// skipped on decode.
//
// FrameID returns the constant identifier expected at offset 0. It must
// be callable on the zero value.
type Format interface {
	FrameID() byte
}

// layout is the validated wire shape of a format type.
type layout struct {
	name string
	size int
}

var (
	layoutMtx   sync.RWMutex
	layoutCache = map[reflect.Type]layout{}
)

// layoutOf validates the layout of the format type on first use and
// caches the result.
func layoutOf(f Format) (layout, error) {
	t := reflect.TypeOf(f)
	if t == nil {
		return layout{}, fmt.Errorf("Invalid frame format: no type")
	}
	layoutMtx.RLock()
	l, ok := layoutCache[t]
	layoutMtx.RUnlock()
	if ok {
		return l, nil
	}
	l, err := buildLayout(t)
	if err != nil {
		return layout{}, err
	}
	layoutMtx.Lock()
	layoutCache[t] = l
	layoutMtx.Unlock()
	return l, nil
}

func buildLayout(t reflect.Type) (layout, error) {
	if t.Kind() != reflect.Struct {
		return layout{}, fmt.Errorf("Invalid frame format %s: not a struct", t)
	}
	if t.NumField() == 0 {
		return layout{}, fmt.Errorf("Invalid frame format %s: no fields", t)
	}
	first := t.Field(0)
	if first.Name == "_" || first.PkgPath != "" || first.Type.Kind() != reflect.Uint8 {
		return layout{}, fmt.Errorf(
			"Invalid frame format %s: first field must be an exported byte holding the frame identifier", t)
	}
	if err := checkFields(t); err != nil {
		return layout{}, fmt.Errorf("Invalid frame format %s: %w", t, err)
	}
	size := binary.Size(reflect.New(t).Elem().Interface())
	if size < 1 {
		return layout{}, fmt.Errorf("Invalid frame format %s: size is not fixed", t)
	}
	return layout{name: t.String(), size: size}, nil
}

// checkFields verifies that every field of the type has a fixed wire
// width, recursing into arrays and nested structs.
func checkFields(t reflect.Type) error {
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return nil
	case reflect.Array:
		return checkFields(t.Elem())
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if f.Name != "_" && f.PkgPath != "" {
				return fmt.Errorf("field %s is not exported", f.Name)
			}
			if err := checkFields(f.Type); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("kind %s has no fixed wire width", t.Kind())
}

// Size returns the encoded size of the format in bytes. The size is a
// definition-time constant per format type.
func Size(f Format) (int, error) {
	l, err := layoutOf(f)
	if err != nil {
		return 0, err
	}
	return l.size, nil
}

// SizeTable maps frame identifiers to their fixed encoded sizes.
// Transports use it to slice a byte stream into frames.
type SizeTable map[byte]int

// Sizes builds a SizeTable for the given formats. Invalid layouts and
// duplicate frame identifiers are rejected.
func Sizes(formats ...Format) (SizeTable, error) {
	st := make(SizeTable, len(formats))
	for _, f := range formats {
		l, err := layoutOf(f)
		if err != nil {
			return nil, err
		}
		id := f.FrameID()
		if _, ok := st[id]; ok {
			return nil, fmt.Errorf("Duplicate frame identifier 0x%02x: %s", id, l.name)
		}
		st[id] = l.size
	}
	return st, nil
}

// Lookup returns the fixed frame size for the identifier.
func (st SizeTable) Lookup(id byte) (int, bool) {
	size, ok := st[id]
	return size, ok
}
