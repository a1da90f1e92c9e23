package trustfund

import (
	"context"
	"errors"
	"fmt"

	"trustchain/internal/chain"
	"trustchain/internal/origin"
	"trustchain/internal/scheduler"
	"trustchain/internal/state"
	logx "trustchain/pkg/logx"
)

// Ledger is the asset transfer port funds are paid in and out through.
type Ledger interface {
	Balance(ctx context.Context, r state.Reader, a chain.AccountID) (uint64, error)
	Touch(ctx context.Context, rw state.ReadWriter, a chain.AccountID) error
	Transfer(ctx context.Context, env *chain.Env, from, to chain.AccountID, amount uint64) error
	TransferCall(dest chain.AccountID, amount uint64) (chain.Call, error)
}

// Scheduler is the part of the scheduler API the controller uses.
type Scheduler interface {
	Schedule(ctx context.Context, env *chain.Env, when chain.BlockNumber, call chain.Call, owner origin.Owner, priority uint8) (scheduler.TaskID, error)
	SchedulePeriodic(ctx context.Context, env *chain.Env, when chain.BlockNumber, interval uint64, maxOccurrences uint32, call chain.Call, owner origin.Owner, priority uint8) (scheduler.TaskID, error)
	Cancel(ctx context.Context, env *chain.Env, id scheduler.TaskID) error
}

type Controller struct {
	cfg    Config
	sched  Scheduler
	ledger Ledger
	log    logx.Logger
}

func New(cfg Config, sched Scheduler, ledger Ledger, log logx.Logger) *Controller {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Controller{cfg: cfg.withDefaults(), sched: sched, ledger: ledger, log: log}
}

// CreateFund opens an Active fund for grantor and returns its id.
func (c *Controller) CreateFund(ctx context.Context, env *chain.Env, grantor chain.AccountID, shares []BeneficiaryShare, cond LivingSwitchCond) (uint64, error) {
	if grantor == "" {
		return 0, fmt.Errorf("%w: empty grantor", ErrUnauthorized)
	}
	if _, err := validateShares(shares); err != nil {
		return 0, err
	}
	if err := cond.validate(); err != nil {
		return 0, err
	}
	id, err := nextID(ctx, env.State)
	if err != nil {
		return 0, err
	}
	f := Fund{
		ID:          id,
		Grantor:     grantor,
		Account:     AccountFor(id),
		Shares:      append([]BeneficiaryShare(nil), shares...),
		Switch:      cond,
		LastCheckIn: env.Block(),
		State:       StateActive,
		Created:     env.Block(),
	}
	if err := c.ledger.Touch(ctx, env.State, f.Account); err != nil {
		return 0, err
	}
	if err := save(env.State, f); err != nil {
		return 0, err
	}
	if err := addActive(ctx, env.State, id); err != nil {
		return 0, err
	}
	env.Emit(ModuleName, "FundCreated",
		chain.U64("fund", id),
		chain.A("grantor", string(grantor)),
		chain.A("account", string(f.Account)),
	)
	c.emitShares(env, f)
	c.emitSwitch(env, f)
	c.log.Info("fund created", logx.Fund(id), logx.Account(grantor), logx.Stringer("switch", cond))
	return id, nil
}

// Deposit moves amount from the caller into an Active fund.
func (c *Controller) Deposit(ctx context.Context, env *chain.Env, caller chain.AccountID, id uint64, amount uint64) error {
	f, err := Load(ctx, env.State, id)
	if err != nil {
		return err
	}
	if f.State != StateActive {
		return fmt.Errorf("%w: fund %d is %s", ErrFundNotActive, id, f.State)
	}
	if err := c.ledger.Transfer(ctx, env, caller, f.Account, amount); err != nil {
		return err
	}
	env.Emit(ModuleName, "Deposited", chain.U64("fund", id), chain.A("from", string(caller)), chain.U64("amount", amount))
	return nil
}

// managed loads a fund the caller may mutate: caller is the grantor and the
// fund is Active.
func managed(ctx context.Context, r state.Reader, caller chain.AccountID, id uint64) (Fund, error) {
	f, err := Load(ctx, r, id)
	if err != nil {
		return Fund{}, err
	}
	if f.Grantor != caller {
		return Fund{}, fmt.Errorf("%w: %s is not the grantor of fund %d", ErrUnauthorized, caller, id)
	}
	if f.State != StateActive {
		return Fund{}, fmt.Errorf("%w: fund %d is %s", ErrFundNotActive, id, f.State)
	}
	return f, nil
}

// CheckIn proves the grantor is alive. It only has an effect on
// ClockInInterval funds, where it resets the reference block.
func (c *Controller) CheckIn(ctx context.Context, env *chain.Env, caller chain.AccountID, id uint64) error {
	f, err := managed(ctx, env.State, caller, id)
	if err != nil {
		return err
	}
	if f.Switch.Kind != CondClockInInterval {
		return nil
	}
	f.LastCheckIn = env.Block()
	if err := save(env.State, f); err != nil {
		return err
	}
	env.Emit(ModuleName, "CheckedIn", chain.U64("fund", id), chain.U64("block", uint64(env.Block())))
	return nil
}

func (c *Controller) EditBeneficiaries(ctx context.Context, env *chain.Env, caller chain.AccountID, id uint64, shares []BeneficiaryShare) error {
	f, err := managed(ctx, env.State, caller, id)
	if err != nil {
		return err
	}
	if _, err := validateShares(shares); err != nil {
		return err
	}
	f.Shares = append([]BeneficiaryShare(nil), shares...)
	if err := save(env.State, f); err != nil {
		return err
	}
	c.emitShares(env, f)
	return nil
}

// SetLivingSwitch replaces the fund's condition. Switching to
// ClockInInterval counts as a check-in.
func (c *Controller) SetLivingSwitch(ctx context.Context, env *chain.Env, caller chain.AccountID, id uint64, cond LivingSwitchCond) error {
	f, err := managed(ctx, env.State, caller, id)
	if err != nil {
		return err
	}
	if err := cond.validate(); err != nil {
		return err
	}
	if cond.Kind == CondClockInInterval && f.Switch.Kind != CondClockInInterval {
		f.LastCheckIn = env.Block()
	}
	f.Switch = cond
	if err := save(env.State, f); err != nil {
		return err
	}
	c.emitSwitch(env, f)
	return nil
}

// SchedulePayment starts a recurring allowance of amount every interval
// blocks to beneficiary, paid by the fund. An existing allowance for the same
// beneficiary is replaced.
func (c *Controller) SchedulePayment(ctx context.Context, env *chain.Env, caller chain.AccountID, id uint64, beneficiary chain.AccountID, amount, interval uint64) (scheduler.TaskID, error) {
	f, err := managed(ctx, env.State, caller, id)
	if err != nil {
		return scheduler.TaskID{}, err
	}
	if beneficiary == "" || amount == 0 || interval == 0 {
		return scheduler.TaskID{}, fmt.Errorf("%w: beneficiary, amount and interval are required", ErrInvalidAllowance)
	}
	if i := f.allowance(beneficiary); i >= 0 {
		if err := c.cancelTask(ctx, env, f.Allowances[i].Task); err != nil {
			return scheduler.TaskID{}, err
		}
		f.Allowances = append(f.Allowances[:i:i], f.Allowances[i+1:]...)
	}

	call, err := c.ledger.TransferCall(beneficiary, amount)
	if err != nil {
		return scheduler.TaskID{}, err
	}
	task, err := c.sched.SchedulePeriodic(ctx, env, env.Block()+chain.BlockNumber(interval), interval, 0, call, origin.Fund(id), c.cfg.DistributionPriority)
	if err != nil {
		return scheduler.TaskID{}, err
	}
	f.Allowances = append(f.Allowances, Allowance{Beneficiary: beneficiary, Amount: amount, Interval: interval, Task: task})
	if err := save(env.State, f); err != nil {
		return scheduler.TaskID{}, err
	}
	env.Emit(ModuleName, "PaymentScheduled",
		chain.U64("fund", id),
		chain.A("beneficiary", string(beneficiary)),
		chain.U64("amount", amount),
		chain.U64("interval", interval),
		chain.A("task", task.String()),
	)
	return task, nil
}

func (c *Controller) StopSchedulePayment(ctx context.Context, env *chain.Env, caller chain.AccountID, id uint64, beneficiary chain.AccountID) error {
	f, err := managed(ctx, env.State, caller, id)
	if err != nil {
		return err
	}
	i := f.allowance(beneficiary)
	if i < 0 {
		return fmt.Errorf("%w: fund %d has no allowance for %s", ErrAllowanceNotFound, id, beneficiary)
	}
	if err := c.cancelTask(ctx, env, f.Allowances[i].Task); err != nil {
		return err
	}
	f.Allowances = append(f.Allowances[:i:i], f.Allowances[i+1:]...)
	if err := save(env.State, f); err != nil {
		return err
	}
	env.Emit(ModuleName, "PaymentStopped", chain.U64("fund", id), chain.A("beneficiary", string(beneficiary)))
	return nil
}

func (f Fund) allowance(beneficiary chain.AccountID) int {
	for i, a := range f.Allowances {
		if a.Beneficiary == beneficiary {
			return i
		}
	}
	return -1
}

func (c *Controller) emitShares(env *chain.Env, f Fund) {
	attrs := []chain.Attr{chain.U64("fund", f.ID)}
	for _, s := range f.Shares {
		attrs = append(attrs, chain.U64(string(s.Address), s.Weight))
	}
	env.Emit(ModuleName, "BeneficiariesSet", attrs...)
}

func (c *Controller) emitSwitch(env *chain.Env, f Fund) {
	env.Emit(ModuleName, "LivingSwitchCondSet", chain.U64("fund", f.ID), chain.A("cond", f.Switch.String()))
}

// cancelTask cancels a task the fund created. A task the scheduler has
// forgotten is gone already.
func (c *Controller) cancelTask(ctx context.Context, env *chain.Env, id scheduler.TaskID) error {
	if err := c.sched.Cancel(ctx, env, id); err != nil && !errors.Is(err, scheduler.ErrNotFound) {
		return err
	}
	return nil
}
