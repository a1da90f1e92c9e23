package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"

	"trustchain/internal/chain"
	logx "trustchain/pkg/logx"
)

const ModuleName = "dispatch"

// Outcome is the per-call execution result. Err is nil on success and wraps
// ErrDispatchFailed otherwise.
type Outcome struct {
	Ref  string
	Call string
	Err  error
}

func (o Outcome) OK() bool { return o.Err == nil }

type Shim struct {
	table *Table
	log   logx.Logger
}

func NewShim(table *Table, log logx.Logger) *Shim {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Shim{table: table, log: log}
}

func (s *Shim) Table() *Table { return s.table }

// Dispatch executes call as origin. ref identifies the caller-side unit of
// work (task id, extrinsic index) in the outcome event.
func (s *Shim) Dispatch(ctx context.Context, env *chain.Env, ref string, origin chain.Origin, call chain.Call) Outcome {
	h, err := s.table.Lookup(call)
	if err != nil {
		return s.Reject(env, ref, call, err)
	}

	child := env.Fork()
	if err := s.run(ctx, child, h, origin, call); err != nil {
		// child is dropped: none of its writes or events survive.
		return s.Reject(env, ref, call, err)
	}
	child.Commit()

	env.Emit(ModuleName, "CallSucceeded", chain.A("id", ref), chain.A("call", call.Method()))
	return Outcome{Ref: ref, Call: call.Method()}
}

// Reject records a failed outcome for a call that did not (or could not) run.
func (s *Shim) Reject(env *chain.Env, ref string, call chain.Call, cause error) Outcome {
	err := fmt.Errorf("%w: %w", ErrDispatchFailed, cause)
	env.Emit(ModuleName, "CallFailed",
		chain.A("id", ref),
		chain.A("call", call.Method()),
		chain.A("reason", cause.Error()),
	)
	return Outcome{Ref: ref, Call: call.Method(), Err: err}
}

func (s *Shim) run(ctx context.Context, env *chain.Env, h Handler, origin chain.Origin, call chain.Call) (err error) {
	defer func() {
		if p := recover(); p != nil {
			s.log.Error("call panicked",
				logx.Call(call.Method()),
				logx.Any("panic", p),
				logx.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return h.Fn(ctx, env, origin, call.Args)
}
