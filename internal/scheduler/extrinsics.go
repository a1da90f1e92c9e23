package scheduler

import (
	"context"

	"trustchain/internal/chain"
	"trustchain/internal/dispatch"
	"trustchain/internal/origin"
)

// Declared weights of the public entry points.
const (
	WeightSchedule   = 25_000
	WeightCancel     = 20_000
	WeightReschedule = 30_000
)

// ScheduleArgs are the args of scheduler.schedule. A zero Owner means the
// caller itself.
type ScheduleArgs struct {
	When     uint64
	Call     chain.Call
	Owner    origin.Owner
	Priority uint8
}

type ScheduleNamedArgs struct {
	Name     string
	When     uint64
	Call     chain.Call
	Owner    origin.Owner
	Priority uint8
}

// SchedulePeriodicArgs are the args of scheduler.schedule_periodic.
// MaxOccurrences 0 recurs until cancelled; Name is optional.
type SchedulePeriodicArgs struct {
	Name           string
	When           uint64
	Interval       uint64
	MaxOccurrences uint32
	Call           chain.Call
	Owner          origin.Owner
	Priority       uint8
}

type CancelArgs struct {
	ID TaskID
}

type CancelNamedArgs struct {
	Name string
}

type RescheduleArgs struct {
	ID   TaskID
	When uint64
}

type RescheduleNamedArgs struct {
	Name string
	When uint64
}

func ScheduleCall(a ScheduleArgs) (chain.Call, error) {
	return chain.NewCall(ModuleName, "schedule", a)
}

func ScheduleNamedCall(a ScheduleNamedArgs) (chain.Call, error) {
	return chain.NewCall(ModuleName, "schedule_named", a)
}

func SchedulePeriodicCall(a SchedulePeriodicArgs) (chain.Call, error) {
	return chain.NewCall(ModuleName, "schedule_periodic", a)
}

func CancelCall(id TaskID) (chain.Call, error) {
	return chain.NewCall(ModuleName, "cancel", CancelArgs{ID: id})
}

func CancelNamedCall(name string) (chain.Call, error) {
	return chain.NewCall(ModuleName, "cancel_named", CancelNamedArgs{Name: name})
}

func RescheduleCall(id TaskID, when chain.BlockNumber) (chain.Call, error) {
	return chain.NewCall(ModuleName, "reschedule", RescheduleArgs{ID: id, When: uint64(when)})
}

func RescheduleNamedCall(name string, when chain.BlockNumber) (chain.Call, error) {
	return chain.NewCall(ModuleName, "reschedule_named", RescheduleNamedArgs{Name: name, When: uint64(when)})
}

// Register adds the scheduler's public entry points to t.
func (s *Scheduler) Register(t *dispatch.Table) {
	t.Register(ModuleName, "schedule", dispatch.Handler{Weight: WeightSchedule, Fn: s.handleSchedule})
	t.Register(ModuleName, "schedule_named", dispatch.Handler{Weight: WeightSchedule, Fn: s.handleScheduleNamed})
	t.Register(ModuleName, "schedule_periodic", dispatch.Handler{Weight: WeightSchedule, Fn: s.handleSchedulePeriodic})
	t.Register(ModuleName, "cancel", dispatch.Handler{Weight: WeightCancel, Fn: s.handleCancel})
	t.Register(ModuleName, "cancel_named", dispatch.Handler{Weight: WeightCancel, Fn: s.handleCancelNamed})
	t.Register(ModuleName, "reschedule", dispatch.Handler{Weight: WeightReschedule, Fn: s.handleReschedule})
	t.Register(ModuleName, "reschedule_named", dispatch.Handler{Weight: WeightReschedule, Fn: s.handleRescheduleNamed})
}

// ownerFor fills in a zero owner from the caller and checks the caller may
// schedule as it.
func ownerFor(caller chain.Origin, owner origin.Owner) (origin.Owner, error) {
	if owner == (origin.Owner{}) {
		switch caller.Kind {
		case chain.OriginRoot:
			owner = origin.Root()
		case chain.OriginSigned:
			owner = origin.Signed(caller.Account)
		}
	}
	if err := origin.Authorize(caller, owner); err != nil {
		return origin.Owner{}, err
	}
	return owner, nil
}

func authorizer(caller chain.Origin) func(origin.Owner) error {
	return func(owner origin.Owner) error { return origin.Authorize(caller, owner) }
}

func (s *Scheduler) handleSchedule(ctx context.Context, env *chain.Env, caller chain.Origin, raw []byte) error {
	a, err := chain.DecodeArgs[ScheduleArgs](raw)
	if err != nil {
		return err
	}
	owner, err := ownerFor(caller, a.Owner)
	if err != nil {
		return err
	}
	_, err = s.Schedule(ctx, env, chain.BlockNumber(a.When), a.Call, owner, a.Priority)
	return err
}

func (s *Scheduler) handleScheduleNamed(ctx context.Context, env *chain.Env, caller chain.Origin, raw []byte) error {
	a, err := chain.DecodeArgs[ScheduleNamedArgs](raw)
	if err != nil {
		return err
	}
	owner, err := ownerFor(caller, a.Owner)
	if err != nil {
		return err
	}
	_, err = s.ScheduleNamed(ctx, env, a.Name, chain.BlockNumber(a.When), a.Call, owner, a.Priority)
	return err
}

func (s *Scheduler) handleSchedulePeriodic(ctx context.Context, env *chain.Env, caller chain.Origin, raw []byte) error {
	a, err := chain.DecodeArgs[SchedulePeriodicArgs](raw)
	if err != nil {
		return err
	}
	owner, err := ownerFor(caller, a.Owner)
	if err != nil {
		return err
	}
	p := Every(a.Interval)
	if a.MaxOccurrences > 0 {
		p = Times(a.Interval, a.MaxOccurrences)
	}
	_, err = s.Submit(ctx, env, Request{
		Name:     a.Name,
		When:     chain.BlockNumber(a.When),
		Periodic: p,
		Call:     a.Call,
		Owner:    owner,
		Priority: a.Priority,
	})
	return err
}

func (s *Scheduler) handleCancel(ctx context.Context, env *chain.Env, caller chain.Origin, raw []byte) error {
	a, err := chain.DecodeArgs[CancelArgs](raw)
	if err != nil {
		return err
	}
	return s.cancel(ctx, env, a.ID, authorizer(caller))
}

func (s *Scheduler) handleCancelNamed(ctx context.Context, env *chain.Env, caller chain.Origin, raw []byte) error {
	a, err := chain.DecodeArgs[CancelNamedArgs](raw)
	if err != nil {
		return err
	}
	return s.cancel(ctx, env, NamedID(a.Name), authorizer(caller))
}

func (s *Scheduler) handleReschedule(ctx context.Context, env *chain.Env, caller chain.Origin, raw []byte) error {
	a, err := chain.DecodeArgs[RescheduleArgs](raw)
	if err != nil {
		return err
	}
	return s.reschedule(ctx, env, a.ID, chain.BlockNumber(a.When), authorizer(caller))
}

func (s *Scheduler) handleRescheduleNamed(ctx context.Context, env *chain.Env, caller chain.Origin, raw []byte) error {
	a, err := chain.DecodeArgs[RescheduleNamedArgs](raw)
	if err != nil {
		return err
	}
	return s.reschedule(ctx, env, NamedID(a.Name), chain.BlockNumber(a.When), authorizer(caller))
}
