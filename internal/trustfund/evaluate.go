package trustfund

import (
	"context"

	"trustchain/internal/chain"
	"trustchain/internal/origin"
	logx "trustchain/pkg/logx"
)

// Holds reports whether cond fires for f at the current block. Evaluation
// reads state only and may be repeated freely.
func (f Fund) Holds(env *chain.Env) bool {
	c := f.Switch
	switch c.Kind {
	case CondBlockHeight:
		return uint64(env.Block()) >= c.Value
	case CondTimestamp:
		return uint64(env.Now()) >= c.Value
	case CondClockInInterval:
		n := env.Block()
		return n > f.LastCheckIn && uint64(n-f.LastCheckIn) > c.Value
	default:
		return false
	}
}

// OnInitialize evaluates every Active fund and triggers those whose living
// switch holds. It returns the triggered fund ids.
func (c *Controller) OnInitialize(ctx context.Context, env *chain.Env) ([]uint64, error) {
	ids, err := ActiveFunds(ctx, env.State)
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	var fired []uint64
	done := map[uint64]bool{}
	for _, id := range ids {
		f, err := Load(ctx, env.State, id)
		if err != nil {
			return fired, err
		}
		if f.State != StateActive {
			done[id] = true
			continue
		}
		if !f.Holds(env) {
			continue
		}
		if err := c.trigger(ctx, env, f); err != nil {
			return fired, err
		}
		done[id] = true
		fired = append(fired, id)
	}
	return fired, removeActive(ctx, env.State, done)
}

// trigger runs Active -> Triggered -> Closed for f.
func (c *Controller) trigger(ctx context.Context, env *chain.Env, f Fund) error {
	f.State = StateTriggered
	f.TriggeredAt = env.Block()
	env.Emit(ModuleName, "Triggered", chain.U64("fund", f.ID), chain.A("cond", f.Switch.String()))

	for _, a := range f.Allowances {
		if err := c.cancelTask(ctx, env, a.Task); err != nil {
			return err
		}
	}
	f.Allowances = nil

	balance, err := c.ledger.Balance(ctx, env.State, f.Account)
	if err != nil {
		return err
	}
	amounts, err := calcShares(balance, f.Shares)
	if err != nil {
		return err
	}
	at := env.Block() + chain.BlockNumber(c.cfg.DistributionDelay)
	for i, s := range f.Shares {
		if amounts[i] == 0 {
			continue
		}
		call, err := c.ledger.TransferCall(s.Address, amounts[i])
		if err != nil {
			return err
		}
		task, err := c.sched.Schedule(ctx, env, at, call, origin.Fund(f.ID), c.cfg.DistributionPriority)
		if err != nil {
			return err
		}
		f.Distributions = append(f.Distributions, task)
		env.Emit(ModuleName, "DistributionScheduled",
			chain.U64("fund", f.ID),
			chain.A("beneficiary", string(s.Address)),
			chain.U64("amount", amounts[i]),
			chain.U64("at", uint64(at)),
			chain.A("task", task.String()),
		)
	}

	f.State = StateClosed
	if err := save(env.State, f); err != nil {
		return err
	}
	env.Emit(ModuleName, "Withdraw", chain.U64("fund", f.ID), chain.U64("amount", balance))
	env.Emit(ModuleName, "Closed", chain.U64("fund", f.ID))
	c.log.Info("fund triggered",
		logx.Fund(f.ID),
		logx.Block(env.Block()),
		logx.Uint64("balance", balance),
		logx.Int("transfers", len(f.Distributions)),
	)
	return nil
}
