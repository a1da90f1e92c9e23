package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"trustchain/internal/assets"
	"trustchain/internal/chain"
	"trustchain/internal/dispatch"
	"trustchain/internal/eventbus"
	"trustchain/internal/origin"
	"trustchain/internal/scheduler"
	"trustchain/internal/state"
	"trustchain/internal/storage"
	"trustchain/internal/trustfund"
	logx "trustchain/pkg/logx"
)

var keyHead = []byte("system/head")

type Runtime struct {
	cfg    Config
	kv     storage.KV
	log    logx.Logger
	bus    eventbus.Bus[Receipt]
	obs    Observer
	schObs scheduler.Observer

	table  *dispatch.Table
	shim   *dispatch.Shim
	sched  *scheduler.Scheduler
	funds  *trustfund.Controller
	assets assets.Module

	// mu serializes block import; head is the last committed header.
	mu   sync.Mutex
	head chain.Header
}

type Option func(*Runtime)

func WithLogger(log logx.Logger) Option { return func(r *Runtime) { r.log = log } }

// WithBus publishes a Receipt for every committed block.
func WithBus(bus eventbus.Bus[Receipt]) Option { return func(r *Runtime) { r.bus = bus } }

func WithObserver(obs Observer) Option { return func(r *Runtime) { r.obs = obs } }

func WithSchedulerObserver(obs scheduler.Observer) Option {
	return func(r *Runtime) { r.schObs = obs }
}

// New wires the modules over kv and loads the chain head, writing genesis
// if kv is empty.
func New(ctx context.Context, cfg Config, kv storage.KV, opts ...Option) (*Runtime, error) {
	r := &Runtime{cfg: cfg, kv: kv, obs: nopObserver{}}
	for _, o := range opts {
		o(r)
	}
	if r.log.IsZero() {
		r.log = logx.Nop()
	}

	r.table = dispatch.NewTable()
	r.shim = dispatch.NewShim(r.table, r.log.With(logx.String("module", dispatch.ModuleName)))
	resolver := origin.NewResolver(r.assets, trustfund.Directory{})
	schOpts := []scheduler.Option{scheduler.WithLogger(r.log.With(logx.String("module", scheduler.ModuleName)))}
	if r.schObs != nil {
		schOpts = append(schOpts, scheduler.WithObserver(r.schObs))
	}
	r.sched = scheduler.New(cfg.Scheduler, r.shim, resolver, schOpts...)
	r.funds = trustfund.New(cfg.TrustFund, r.sched, r.assets, r.log.With(logx.String("module", trustfund.ModuleName)))

	r.assets.Register(r.table)
	r.sched.Register(r.table)
	r.funds.Register(r.table)

	head, ok, err := state.GetValue[chain.Header](ctx, kv, keyHead)
	if err != nil {
		return nil, fmt.Errorf("load head: %w", err)
	}
	if !ok {
		if head, err = r.genesis(ctx); err != nil {
			return nil, err
		}
	}
	r.head = head
	r.log.Info("runtime ready", logx.Uint64("head", uint64(head.Number)), logx.Int("calls", len(r.table.Methods())))
	return r, nil
}

func (r *Runtime) genesis(ctx context.Context) (chain.Header, error) {
	h := chain.Header{Number: 0, Timestamp: r.cfg.GenesisTime}
	ov := state.NewOverlay(r.kv)
	env := chain.NewEnv(h, ov)
	for _, e := range r.cfg.Genesis {
		if err := r.assets.Mint(ctx, env, e.Account, e.Amount); err != nil {
			return chain.Header{}, fmt.Errorf("genesis endowment %s: %w", e.Account, err)
		}
	}
	if r.cfg.Sudo != "" {
		if err := r.assets.Touch(ctx, ov, r.cfg.Sudo); err != nil {
			return chain.Header{}, err
		}
	}
	if err := state.PutValue(ov, keyHead, h); err != nil {
		return chain.Header{}, err
	}
	if err := r.kv.Commit(ctx, ov.Changes()); err != nil {
		return chain.Header{}, fmt.Errorf("commit genesis: %w", err)
	}
	r.log.Info("genesis written", logx.Int("endowments", len(r.cfg.Genesis)))
	return h, nil
}

// Head returns the last committed header.
func (r *Runtime) Head() chain.Header {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.head
}

func (r *Runtime) Table() *dispatch.Table { return r.table }

func (r *Runtime) Scheduler() *scheduler.Scheduler { return r.sched }

// State is a read-only view of committed state.
func (r *Runtime) State() state.Reader { return r.kv }

// Validate performs the stateless checks an extrinsic must pass to enter
// the mempool.
func (r *Runtime) Validate(x Extrinsic) error {
	if x.Signer == "" {
		return fmt.Errorf("%w: missing signer", chain.ErrBadOrigin)
	}
	if trustfund.IsFundAccount(x.Signer) {
		return fmt.Errorf("%w: %s cannot sign", chain.ErrBadOrigin, x.Signer)
	}
	if x.Sudo && x.Signer != r.cfg.Sudo {
		return fmt.Errorf("%w: %s", ErrNotSudo, x.Signer)
	}
	_, err := r.table.Lookup(x.Call)
	return err
}

// ExecuteBlock imports b on top of the current head.
func (r *Runtime) ExecuteBlock(ctx context.Context, b Block) (Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	h := b.Header
	if h.Number != r.head.Number+1 {
		return Receipt{}, fmt.Errorf("%w: number %d does not follow head %d", ErrBadBlock, h.Number, r.head.Number)
	}
	if h.Timestamp < r.head.Timestamp {
		return Receipt{}, fmt.Errorf("%w: timestamp %d before head timestamp %d", ErrBadBlock, h.Timestamp, r.head.Timestamp)
	}

	ov := state.NewOverlay(r.kv)
	env := chain.NewEnv(h, ov)
	rec := Receipt{Header: h}

	rep, err := r.sched.OnInitialize(ctx, env)
	if err != nil {
		return Receipt{}, fmt.Errorf("block %d: scheduler: %w", h.Number, err)
	}
	rec.Agenda = rep

	fired, err := r.funds.OnInitialize(ctx, env)
	if err != nil {
		return Receipt{}, fmt.Errorf("block %d: trust funds: %w", h.Number, err)
	}
	rec.Triggered = fired

	for i, x := range b.Extrinsics {
		res, err := r.apply(ctx, env, i, x)
		if err != nil {
			return Receipt{}, fmt.Errorf("block %d: extrinsic %d: %w", h.Number, i, err)
		}
		rec.Results = append(rec.Results, res)
	}

	if err := state.PutValue(ov, keyHead, h); err != nil {
		return Receipt{}, err
	}
	changes := ov.Changes()
	if err := r.kv.Commit(ctx, changes); err != nil {
		return Receipt{}, fmt.Errorf("block %d: commit: %w", h.Number, err)
	}
	r.head = h
	rec.Events = env.Events()
	rec.Changes = len(changes)

	r.obs.BlockImported(rec, time.Since(start))
	if r.bus != nil {
		r.bus.Publish(rec)
	}
	r.log.Debug("block imported",
		logx.Block(h.Number),
		logx.Int("extrinsics", len(b.Extrinsics)),
		logx.Int("agenda_executed", rep.Executed),
		logx.Int("events", len(rec.Events)),
		logx.Int("changes", len(changes)),
	)
	return rec, nil
}

// apply dispatches one extrinsic. Call failures are results; only state
// access errors are returned.
func (r *Runtime) apply(ctx context.Context, env *chain.Env, i int, x Extrinsic) (ExtrinsicResult, error) {
	ref := fmt.Sprintf("%d-%d", env.Block(), i)
	res := ExtrinsicResult{Index: i, Call: x.Call.Method()}

	var org chain.Origin
	switch {
	case x.Signer == "":
		org = chain.NoneOrigin()
	case trustfund.IsFundAccount(x.Signer):
		out := r.shim.Reject(env, ref, x.Call, fmt.Errorf("%w: %s cannot sign", chain.ErrBadOrigin, x.Signer))
		res.Error = out.Err.Error()
		return res, nil
	case x.Sudo && x.Signer != r.cfg.Sudo:
		out := r.shim.Reject(env, ref, x.Call, fmt.Errorf("%w: %s", ErrNotSudo, x.Signer))
		res.Error = out.Err.Error()
		return res, nil
	case x.Sudo:
		org = chain.RootOrigin()
	default:
		org = chain.SignedOrigin(x.Signer)
	}
	if x.Signer != "" {
		// A signer exists from its first extrinsic on.
		if err := r.assets.Touch(ctx, env.State, x.Signer); err != nil {
			return res, err
		}
	}

	out := r.shim.Dispatch(ctx, env, ref, org, x.Call)
	res.OK = out.OK()
	if out.Err != nil {
		res.Error = out.Err.Error()
	}
	return res, nil
}
