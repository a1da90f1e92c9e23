// Package state is the key/value view block processing reads and writes.
//
// Writes are never applied to a backend directly: they accumulate in an
// Overlay and are flushed as one batch (Changes) when the block is committed.
// Overlays nest, which is how a single dispatched call gets a savepoint that
// can be dropped without touching the rest of the block.
package state

import (
	"bytes"
	"context"
	"sort"
)

type Reader interface {
	Get(ctx context.Context, key []byte) (value []byte, ok bool, err error)
}

type Writer interface {
	Put(key, value []byte)
	Delete(key []byte)
}

type ReadWriter interface {
	Reader
	Writer
}

// Change is one pending mutation. Delete changes carry no Value.
type Change struct {
	Key    []byte
	Value  []byte
	Delete bool
}

type entry struct {
	value   []byte
	deleted bool
}

// Overlay buffers writes on top of a parent Reader.
// It is not safe for concurrent use; block processing is single-threaded.
type Overlay struct {
	parent Reader
	writes map[string]entry
}

func NewOverlay(parent Reader) *Overlay {
	return &Overlay{parent: parent, writes: map[string]entry{}}
}

func (o *Overlay) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	if e, ok := o.writes[string(key)]; ok {
		if e.deleted {
			return nil, false, nil
		}
		return e.value, true, nil
	}
	if o.parent == nil {
		return nil, false, nil
	}
	return o.parent.Get(ctx, key)
}

func (o *Overlay) Put(key, value []byte) {
	o.writes[string(key)] = entry{value: bytes.Clone(value)}
}

func (o *Overlay) Delete(key []byte) {
	o.writes[string(key)] = entry{deleted: true}
}

// Fork returns a child overlay reading through o.
func (o *Overlay) Fork() *Overlay { return NewOverlay(o) }

// Len returns the number of buffered mutations.
func (o *Overlay) Len() int { return len(o.writes) }

// Discard drops all buffered mutations.
func (o *Overlay) Discard() { o.writes = map[string]entry{} }

// Changes returns buffered mutations sorted by key, so that a backend batch
// is byte-identical for identical blocks.
func (o *Overlay) Changes() []Change {
	keys := make([]string, 0, len(o.writes))
	for k := range o.writes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Change, 0, len(keys))
	for _, k := range keys {
		e := o.writes[k]
		out = append(out, Change{Key: []byte(k), Value: e.value, Delete: e.deleted})
	}
	return out
}

// ApplyTo replays buffered mutations onto w and empties o.
func (o *Overlay) ApplyTo(w Writer) {
	for _, c := range o.Changes() {
		if c.Delete {
			w.Delete(c.Key)
		} else {
			w.Put(c.Key, c.Value)
		}
	}
	o.Discard()
}
