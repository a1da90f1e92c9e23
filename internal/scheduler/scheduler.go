package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"trustchain/internal/chain"
	"trustchain/internal/dispatch"
	"trustchain/internal/origin"
	logx "trustchain/pkg/logx"
)

const failureWarnThrottle = 30 * time.Second

type Scheduler struct {
	cfg      Config
	agenda   Agenda
	shim     *dispatch.Shim
	resolver *origin.Resolver
	log      logx.Logger
	obs      Observer

	// failure warnings, keyed by task id
	warn *logx.Throttle
}

type Option func(*Scheduler)

func WithLogger(log logx.Logger) Option {
	return func(s *Scheduler) { s.log = log }
}

func WithObserver(obs Observer) Option {
	return func(s *Scheduler) { s.obs = obs }
}

func New(cfg Config, shim *dispatch.Shim, resolver *origin.Resolver, opts ...Option) *Scheduler {
	s := &Scheduler{
		cfg:      cfg.withDefaults(),
		shim:     shim,
		resolver: resolver,
		obs:      nopObserver{},
		warn:     logx.NewThrottle(failureWarnThrottle),
	}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	if s.obs == nil {
		s.obs = nopObserver{}
	}
	return s
}

func (s *Scheduler) Config() Config { return s.cfg }

// Agenda exposes read access to the agenda store.
func (s *Scheduler) Agenda() Agenda { return s.agenda }

// Schedule runs call once at block when.
func (s *Scheduler) Schedule(ctx context.Context, env *chain.Env, when chain.BlockNumber, call chain.Call, owner origin.Owner, priority uint8) (TaskID, error) {
	return s.Submit(ctx, env, Request{When: when, Call: call, Owner: owner, Priority: priority})
}

// ScheduleNamed is Schedule under a caller-chosen name. It fails with
// ErrDuplicateName while a task of that name is agenda-resident.
func (s *Scheduler) ScheduleNamed(ctx context.Context, env *chain.Env, name string, when chain.BlockNumber, call chain.Call, owner origin.Owner, priority uint8) (TaskID, error) {
	if strings.TrimSpace(name) == "" {
		return TaskID{}, fmt.Errorf("%w: name required", ErrInvalidSchedule)
	}
	return s.Submit(ctx, env, Request{Name: name, When: when, Call: call, Owner: owner, Priority: priority})
}

// SchedulePeriodic runs call at when and then every interval blocks,
// maxOccurrences times in total (0 means until cancelled).
func (s *Scheduler) SchedulePeriodic(ctx context.Context, env *chain.Env, when chain.BlockNumber, interval uint64, maxOccurrences uint32, call chain.Call, owner origin.Owner, priority uint8) (TaskID, error) {
	p := Every(interval)
	if maxOccurrences > 0 {
		p = Times(interval, maxOccurrences)
	}
	return s.Submit(ctx, env, Request{When: when, Periodic: p, Call: call, Owner: owner, Priority: priority})
}

// Submit validates req and inserts it into the agenda. Nothing is written if
// validation fails.
func (s *Scheduler) Submit(ctx context.Context, env *chain.Env, req Request) (TaskID, error) {
	if err := s.validate(env, req); err != nil {
		return TaskID{}, err
	}

	var id TaskID
	if req.Name != "" {
		id = NamedID(req.Name)
		if _, ok, err := s.agenda.Locate(ctx, env.State, id); err != nil {
			return TaskID{}, err
		} else if ok {
			return TaskID{}, fmt.Errorf("%w: %q", ErrDuplicateName, req.Name)
		}
	} else {
		nonce, err := s.agenda.nextNonce(ctx, env.State, req.Owner.Key())
		if err != nil {
			return TaskID{}, err
		}
		id = anonymousID(req.Owner, nonce)
	}

	seq, err := s.agenda.nextSeq(ctx, env.State)
	if err != nil {
		return TaskID{}, err
	}
	e := Entry{
		ID:       id,
		Name:     req.Name,
		Call:     req.Call,
		Owner:    req.Owner,
		Priority: req.Priority,
		Due:      req.When,
		Seq:      seq,
	}
	if req.Periodic != nil {
		e.Periodic = *req.Periodic
	}
	if err := s.agenda.Insert(ctx, env.State, req.When, e); err != nil {
		return TaskID{}, err
	}

	env.Emit(ModuleName, "Scheduled",
		chain.A("id", id.String()),
		chain.U64("when", uint64(req.When)),
		chain.A("owner", req.Owner.String()),
		chain.A("call", req.Call.Method()),
	)
	s.obs.TaskScheduled()
	s.log.Debug("task scheduled",
		logx.Task(id),
		logx.String("name", req.Name),
		logx.Uint64("when", uint64(req.When)),
		logx.Call(req.Call.Method()),
	)
	return id, nil
}

func (s *Scheduler) validate(env *chain.Env, req Request) error {
	if req.When <= env.Block() {
		return fmt.Errorf("%w: block %d is not after current block %d", ErrInvalidSchedule, req.When, env.Block())
	}
	if len(req.Name) > maxNameLen {
		return fmt.Errorf("%w: name longer than %d bytes", ErrInvalidSchedule, maxNameLen)
	}
	if p := req.Periodic; p != nil {
		if p.Interval == 0 {
			return fmt.Errorf("%w: interval must be > 0", ErrInvalidSchedule)
		}
		if p.Bounded && p.Remaining == 0 {
			return fmt.Errorf("%w: max occurrences must be > 0", ErrInvalidSchedule)
		}
	}
	if err := req.Owner.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSchedule, err)
	}
	if _, err := s.shim.Table().Lookup(req.Call); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSchedule, err)
	}
	return nil
}

// Cancel removes a pending task. Cancelling a task that ran or was cancelled
// within the last Config.RetireHorizon blocks is a no-op. Past the horizon
// its id is forgotten and Cancel returns ErrNotFound, the same as for an id
// never seen.
func (s *Scheduler) Cancel(ctx context.Context, env *chain.Env, id TaskID) error {
	return s.cancel(ctx, env, id, nil)
}

// CancelNamed is Cancel by name.
func (s *Scheduler) CancelNamed(ctx context.Context, env *chain.Env, name string) error {
	return s.cancel(ctx, env, NamedID(name), nil)
}

func (s *Scheduler) cancel(ctx context.Context, env *chain.Env, id TaskID, authorize func(origin.Owner) error) error {
	e, ok, err := s.agenda.Get(ctx, env.State, id)
	if err != nil {
		return err
	}
	if !ok {
		retired, err := s.agenda.Retired(ctx, env.State, id)
		if err != nil {
			return err
		}
		if retired {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if authorize != nil {
		if err := authorize(e.Owner); err != nil {
			return err
		}
	}
	if _, _, err := s.agenda.Remove(ctx, env.State, id); err != nil {
		return err
	}
	if err := s.agenda.retire(ctx, env.State, env.Block(), id); err != nil {
		return err
	}
	env.Emit(ModuleName, "Cancelled", chain.A("id", id.String()), chain.U64("due", uint64(e.Due)))
	s.log.Debug("task cancelled", logx.Task(id), logx.String("name", e.Name))
	return nil
}

// Reschedule moves a pending task to block when. The task keeps its id and
// periodic schedule and is ordered as if newly submitted.
func (s *Scheduler) Reschedule(ctx context.Context, env *chain.Env, id TaskID, when chain.BlockNumber) error {
	return s.reschedule(ctx, env, id, when, nil)
}

func (s *Scheduler) RescheduleNamed(ctx context.Context, env *chain.Env, name string, when chain.BlockNumber) error {
	return s.reschedule(ctx, env, NamedID(name), when, nil)
}

func (s *Scheduler) reschedule(ctx context.Context, env *chain.Env, id TaskID, when chain.BlockNumber, authorize func(origin.Owner) error) error {
	if when <= env.Block() {
		return fmt.Errorf("%w: block %d is not after current block %d", ErrInvalidSchedule, when, env.Block())
	}
	e, ok, err := s.agenda.Get(ctx, env.State, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if authorize != nil {
		if err := authorize(e.Owner); err != nil {
			return err
		}
	}
	if _, _, err := s.agenda.Remove(ctx, env.State, id); err != nil {
		return err
	}
	seq, err := s.agenda.nextSeq(ctx, env.State)
	if err != nil {
		return err
	}
	e.Due = when
	e.Seq = seq
	if err := s.agenda.Insert(ctx, env.State, when, e); err != nil {
		return err
	}
	env.Emit(ModuleName, "Rescheduled", chain.A("id", id.String()), chain.U64("when", uint64(when)))
	return nil
}
