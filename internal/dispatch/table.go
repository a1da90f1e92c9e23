// Package dispatch routes calls to module entry points.
//
// Table is the module dispatch table (module.action -> handler). Shim executes
// one call under an origin inside a state savepoint, so a failing call leaves
// no writes behind and never aborts the surrounding block.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"trustchain/internal/chain"
)

var (
	ErrUnknownCall    = errors.New("unknown call")
	ErrDispatchFailed = errors.New("dispatch failed")
)

type HandlerFunc func(ctx context.Context, env *chain.Env, origin chain.Origin, args []byte) error

// Handler is a registered entry point. Weight is the declared execution cost
// charged against a block's budget when the call runs from the agenda.
type Handler struct {
	Weight uint64
	Fn     HandlerFunc
}

type Table struct {
	handlers map[string]Handler
}

func NewTable() *Table {
	return &Table{handlers: map[string]Handler{}}
}

// Register adds module.action. Registering the same method twice is a wiring
// bug and panics.
func (t *Table) Register(module, action string, h Handler) {
	if h.Fn == nil {
		panic(fmt.Sprintf("dispatch: nil handler for %s.%s", module, action))
	}
	key := module + "." + action
	if _, dup := t.handlers[key]; dup {
		panic("dispatch: duplicate handler " + key)
	}
	t.handlers[key] = h
}

func (t *Table) Lookup(c chain.Call) (Handler, error) {
	h, ok := t.handlers[c.Method()]
	if !ok {
		return Handler{}, fmt.Errorf("%w: %s", ErrUnknownCall, c.Method())
	}
	return h, nil
}

// Weight returns the declared weight of c.
func (t *Table) Weight(c chain.Call) (uint64, error) {
	h, err := t.Lookup(c)
	if err != nil {
		return 0, err
	}
	return h.Weight, nil
}

// Methods lists registered methods, sorted.
func (t *Table) Methods() []string {
	out := make([]string, 0, len(t.handlers))
	for k := range t.handlers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
