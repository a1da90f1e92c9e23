package scheduler

import (
	"context"
	"sort"

	"trustchain/internal/chain"
	"trustchain/internal/dispatch"
	logx "trustchain/pkg/logx"
)

// OnInitialize runs the agenda slot of the current block. It is the block
// lifecycle hook and must run before extrinsics.
//
// Entries are executed in (due, priority, seq) order while the block budget
// lasts. Once an entry does not fit, it and everything after it move to the
// next block with their due block unchanged. The first entry always runs, so
// a single overweight entry cannot stall the agenda. The cut is made before
// any call runs and deferred entries are re-inserted first, so their names
// stay resident while the block's calls execute.
//
// Returned errors come from state access only. Failing calls are reported
// as events and never abort the block.
func (s *Scheduler) OnInitialize(ctx context.Context, env *chain.Env) (Report, error) {
	n := env.Block()
	rep := Report{Block: n}

	if uint64(n) > s.cfg.RetireHorizon {
		if err := s.agenda.prune(ctx, env.State, n-chain.BlockNumber(s.cfg.RetireHorizon)); err != nil {
			return rep, err
		}
	}

	entries, err := s.agenda.Take(ctx, env.State, n)
	if err != nil {
		return rep, err
	}
	rep.Due = len(entries)
	if len(entries) == 0 {
		s.obs.BlockProcessed(rep)
		return rep, nil
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].runsBefore(entries[j]) })

	runnable := s.cut(entries)
	if runnable < len(entries) {
		if err := s.carry(ctx, env, n+1, entries[runnable:]); err != nil {
			return rep, err
		}
		rep.Deferred = len(entries) - runnable
	}

	for _, e := range entries[:runnable] {
		rep.Executed++
		rep.Weight += s.weightOf(e)

		if !s.execute(ctx, env, e) {
			rep.Failed++
		}
		if err := s.recur(ctx, env, e); err != nil {
			return rep, err
		}
	}

	s.obs.BlockProcessed(rep)
	s.log.Debug("agenda executed",
		logx.Block(n),
		logx.Int("due", rep.Due),
		logx.Int("executed", rep.Executed),
		logx.Int("failed", rep.Failed),
		logx.Int("deferred", rep.Deferred),
		logx.Uint64("weight", rep.Weight),
	)
	return rep, nil
}

func (s *Scheduler) weightOf(e Entry) uint64 {
	w, err := s.shim.Table().Weight(e.Call)
	if err != nil {
		// Unknown calls fail at dispatch; they still cost the base weight.
		return s.cfg.TaskBaseWeight
	}
	return s.cfg.TaskBaseWeight + w
}

// cut returns how many leading entries fit the block budget.
func (s *Scheduler) cut(entries []Entry) int {
	var used Report
	for i, e := range entries {
		w := s.weightOf(e)
		if i > 0 && !s.fits(used, w) {
			return i
		}
		used.Executed++
		used.Weight += w
	}
	return len(entries)
}

func (s *Scheduler) fits(rep Report, w uint64) bool {
	if s.cfg.MaxTasksPerBlock > 0 && rep.Executed >= s.cfg.MaxTasksPerBlock {
		return false
	}
	return rep.Weight+w <= s.cfg.MaxBlockWeight && rep.Weight+w >= rep.Weight
}

// carry re-inserts entries at block next, keeping their due block and seq.
func (s *Scheduler) carry(ctx context.Context, env *chain.Env, next chain.BlockNumber, entries []Entry) error {
	for _, e := range entries {
		if err := s.agenda.Insert(ctx, env.State, next, e); err != nil {
			return err
		}
		env.Emit(ModuleName, "TaskDeferred",
			chain.A("id", e.ID.String()),
			chain.U64("due", uint64(e.Due)),
			chain.U64("to", uint64(next)),
		)
	}
	s.obs.TasksDeferred(len(entries))
	s.log.Warn("block budget exhausted, deferring agenda entries",
		logx.Block(env.Block()),
		logx.Int("deferred", len(entries)),
	)
	return nil
}

// execute resolves the owner and dispatches the call. It reports whether the
// call succeeded.
func (s *Scheduler) execute(ctx context.Context, env *chain.Env, e Entry) bool {
	ref := e.ID.String()
	var out dispatch.Outcome
	org, err := s.resolver.Resolve(ctx, env.State, e.Owner)
	if err != nil {
		out = s.shim.Reject(env, ref, e.Call, err)
	} else {
		out = s.shim.Dispatch(ctx, env, ref, org, e.Call)
	}

	attrs := []chain.Attr{
		chain.A("id", ref),
		chain.A("owner", e.Owner.String()),
		chain.A("call", e.Call.Method()),
		chain.U64("due", uint64(e.Due)),
	}
	if out.OK() {
		env.Emit(ModuleName, "TaskExecuted", attrs...)
	} else {
		env.Emit(ModuleName, "TaskFailed", append(attrs, chain.A("reason", out.Err.Error()))...)
		s.warn.Warn(s.log, ref, "scheduled call failed",
			logx.Block(env.Block()),
			logx.Task(e.ID),
			logx.String("name", e.Name),
			logx.String("owner", e.Owner.String()),
			logx.Call(e.Call.Method()),
			logx.Err(out.Err),
		)
	}
	s.obs.TaskExecuted(e.Call.Method(), out.OK())
	return out.OK()
}

// recur re-enqueues a periodic entry at current+interval, whatever the
// outcome of its call.
func (s *Scheduler) recur(ctx context.Context, env *chain.Env, e Entry) error {
	next, ok := e.Periodic.advance()
	if !ok {
		return nil
	}
	at := env.Block() + chain.BlockNumber(e.Periodic.Interval)

	// The call itself may have scheduled a new task under the same name.
	if _, resident, err := s.agenda.Locate(ctx, env.State, e.ID); err != nil {
		return err
	} else if resident {
		env.Emit(ModuleName, "RecurrenceSkipped", chain.A("id", e.ID.String()))
		s.log.Warn("periodic task replaced by its own call, recurrence dropped", logx.String("name", e.Name))
		return nil
	}

	seq, err := s.agenda.nextSeq(ctx, env.State)
	if err != nil {
		return err
	}
	e.Periodic = next
	e.Due = at
	e.Seq = seq
	return s.agenda.Insert(ctx, env.State, at, e)
}
