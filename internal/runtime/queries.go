package runtime

import (
	"context"

	"trustchain/internal/chain"
	"trustchain/internal/scheduler"
	"trustchain/internal/trustfund"
)

// Balance returns a's committed balance and whether the account exists.
func (r *Runtime) Balance(ctx context.Context, a chain.AccountID) (uint64, bool, error) {
	ok, err := r.assets.AccountExists(ctx, r.kv, a)
	if err != nil || !ok {
		return 0, ok, err
	}
	b, err := r.assets.Balance(ctx, r.kv, a)
	return b, true, err
}

func (r *Runtime) Fund(ctx context.Context, id uint64) (trustfund.Fund, error) {
	return trustfund.Load(ctx, r.kv, id)
}

func (r *Runtime) ActiveFunds(ctx context.Context) ([]uint64, error) {
	return trustfund.ActiveFunds(ctx, r.kv)
}

// AgendaSlot returns the entries pending at block n, in insertion order.
func (r *Runtime) AgendaSlot(ctx context.Context, n chain.BlockNumber) ([]scheduler.Entry, error) {
	return r.sched.Agenda().Slot(ctx, r.kv, n)
}

// Task returns a pending agenda entry.
func (r *Runtime) Task(ctx context.Context, id scheduler.TaskID) (scheduler.Entry, bool, error) {
	return r.sched.Agenda().Get(ctx, r.kv, id)
}
