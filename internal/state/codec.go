package state

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"reflect"

	"github.com/near/borsh-go"
)

var ErrCorrupt = errors.New("state: corrupt value")

// Encode serializes v with borsh, the canonical encoding for everything
// persisted in state.
func Encode(v any) ([]byte, error) {
	return borsh.Serialize(v)
}

// Decode deserializes data into v (a pointer). borsh-go converts named
// scalar types only inside structs, so a top-level chain.BlockNumber or
// AccountID is decoded through its underlying kind.
func Decode(data []byte, v any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrCorrupt, r)
		}
	}()
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer && !rv.IsNil() {
		if base, ok := scalarBase[rv.Elem().Kind()]; ok && rv.Elem().Type() != base {
			tmp := reflect.New(base)
			if err := borsh.Deserialize(tmp.Interface(), data); err != nil {
				return fmt.Errorf("%w: %v", ErrCorrupt, err)
			}
			rv.Elem().Set(tmp.Elem().Convert(rv.Elem().Type()))
			return nil
		}
	}
	if err := borsh.Deserialize(v, data); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return nil
}

var scalarBase = map[reflect.Kind]reflect.Type{
	reflect.Bool:    reflect.TypeOf(false),
	reflect.Int8:    reflect.TypeOf(int8(0)),
	reflect.Int16:   reflect.TypeOf(int16(0)),
	reflect.Int32:   reflect.TypeOf(int32(0)),
	reflect.Int64:   reflect.TypeOf(int64(0)),
	reflect.Int:     reflect.TypeOf(0),
	reflect.Uint8:   reflect.TypeOf(uint8(0)),
	reflect.Uint16:  reflect.TypeOf(uint16(0)),
	reflect.Uint32:  reflect.TypeOf(uint32(0)),
	reflect.Uint64:  reflect.TypeOf(uint64(0)),
	reflect.Uint:    reflect.TypeOf(uint(0)),
	reflect.Float32: reflect.TypeOf(float32(0)),
	reflect.Float64: reflect.TypeOf(float64(0)),
	reflect.String:  reflect.TypeOf(""),
}

// GetValue reads and decodes key. ok is false if the key is absent.
func GetValue[T any](ctx context.Context, r Reader, key []byte) (T, bool, error) {
	var out T
	raw, ok, err := r.Get(ctx, key)
	if err != nil || !ok {
		return out, ok, err
	}
	if err := Decode(raw, &out); err != nil {
		return out, false, fmt.Errorf("%s: %w", key, err)
	}
	return out, true, nil
}

// PutValue encodes v and writes it at key.
func PutValue[T any](w Writer, key []byte, v T) error {
	raw, err := Encode(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	w.Put(key, raw)
	return nil
}

// Key joins a prefix and parts with '/'.
func Key(prefix string, parts ...[]byte) []byte {
	n := len(prefix)
	for _, p := range parts {
		n += 1 + len(p)
	}
	out := make([]byte, 0, n)
	out = append(out, prefix...)
	for _, p := range parts {
		out = append(out, '/')
		out = append(out, p...)
	}
	return out
}

// U64 encodes n big-endian so that keys sort numerically.
func U64(n uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], n)
	return b[:]
}
