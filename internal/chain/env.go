package chain

import (
	"strconv"

	"trustchain/internal/state"
)

// Attr is an ordered event attribute.
type Attr struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func A(k, v string) Attr { return Attr{Key: k, Value: v} }

func U64(k string, v uint64) Attr { return Attr{Key: k, Value: strconv.FormatUint(v, 10)} }

// Event is an observability record produced while executing a block.
// Events are not consensus state.
type Event struct {
	Block  BlockNumber `json:"block"`
	Module string      `json:"module"`
	Name   string      `json:"name"`
	Attrs  []Attr      `json:"attrs,omitempty"`
}

func (e Event) Attr(key string) string {
	for _, a := range e.Attrs {
		if a.Key == key {
			return a.Value
		}
	}
	return ""
}

// Env is the execution environment of one block step. Modules read the
// header and mutate State through it.
type Env struct {
	Header Header
	State  state.ReadWriter

	overlay *state.Overlay
	parent  *Env
	events  []Event
}

func NewEnv(h Header, st state.ReadWriter) *Env {
	return &Env{Header: h, State: st}
}

func (e *Env) Block() BlockNumber { return e.Header.Number }

func (e *Env) Now() Moment { return e.Header.Timestamp }

func (e *Env) Emit(module, name string, attrs ...Attr) {
	e.events = append(e.events, Event{Block: e.Header.Number, Module: module, Name: name, Attrs: attrs})
}

// Events returns the events emitted directly into e (not into open forks).
func (e *Env) Events() []Event { return e.events }

// Fork opens a savepoint: writes and events go to the child until Commit.
// Dropping the child without Commit discards them.
func (e *Env) Fork() *Env {
	ov := state.NewOverlay(e.State)
	return &Env{Header: e.Header, State: ov, overlay: ov, parent: e}
}

// Commit merges a forked Env into its parent. No-op on a root Env.
func (e *Env) Commit() {
	if e.parent == nil || e.overlay == nil {
		return
	}
	e.overlay.ApplyTo(e.parent.State)
	e.parent.events = append(e.parent.events, e.events...)
	e.events = nil
}
