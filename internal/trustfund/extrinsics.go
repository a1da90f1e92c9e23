package trustfund

import (
	"context"

	"trustchain/internal/chain"
	"trustchain/internal/dispatch"
)

const (
	WeightCreateFund = 60_000
	WeightDeposit    = 60_000
	WeightCheckIn    = 15_000
	WeightEdit       = 40_000
	WeightPayment    = 50_000
)

type CreateFundArgs struct {
	Shares []BeneficiaryShare
	Switch LivingSwitchCond
}

type DepositArgs struct {
	Fund   uint64
	Amount uint64
}

type CheckInArgs struct {
	Fund uint64
}

type EditBeneficiariesArgs struct {
	Fund   uint64
	Shares []BeneficiaryShare
}

type SetLivingSwitchArgs struct {
	Fund   uint64
	Switch LivingSwitchCond
}

type SchedulePaymentArgs struct {
	Fund        uint64
	Beneficiary chain.AccountID
	Amount      uint64
	Interval    uint64
}

type StopSchedulePaymentArgs struct {
	Fund        uint64
	Beneficiary chain.AccountID
}

func CreateFundCall(shares []BeneficiaryShare, cond LivingSwitchCond) (chain.Call, error) {
	return chain.NewCall(ModuleName, "create_fund", CreateFundArgs{Shares: shares, Switch: cond})
}

func DepositCall(fund, amount uint64) (chain.Call, error) {
	return chain.NewCall(ModuleName, "deposit", DepositArgs{Fund: fund, Amount: amount})
}

func CheckInCall(fund uint64) (chain.Call, error) {
	return chain.NewCall(ModuleName, "check_in", CheckInArgs{Fund: fund})
}

func EditBeneficiariesCall(fund uint64, shares []BeneficiaryShare) (chain.Call, error) {
	return chain.NewCall(ModuleName, "edit_beneficiaries", EditBeneficiariesArgs{Fund: fund, Shares: shares})
}

func SetLivingSwitchCall(fund uint64, cond LivingSwitchCond) (chain.Call, error) {
	return chain.NewCall(ModuleName, "set_living_switch", SetLivingSwitchArgs{Fund: fund, Switch: cond})
}

func SchedulePaymentCall(fund uint64, beneficiary chain.AccountID, amount, interval uint64) (chain.Call, error) {
	return chain.NewCall(ModuleName, "schedule_payment", SchedulePaymentArgs{
		Fund:        fund,
		Beneficiary: beneficiary,
		Amount:      amount,
		Interval:    interval,
	})
}

func StopSchedulePaymentCall(fund uint64, beneficiary chain.AccountID) (chain.Call, error) {
	return chain.NewCall(ModuleName, "stop_schedule_payment", StopSchedulePaymentArgs{Fund: fund, Beneficiary: beneficiary})
}

// Register adds the trust fund entry points to t. All of them require a
// signed origin.
func (c *Controller) Register(t *dispatch.Table) {
	t.Register(ModuleName, "create_fund", dispatch.Handler{Weight: WeightCreateFund, Fn: signed(c.handleCreateFund)})
	t.Register(ModuleName, "deposit", dispatch.Handler{Weight: WeightDeposit, Fn: signed(c.handleDeposit)})
	t.Register(ModuleName, "check_in", dispatch.Handler{Weight: WeightCheckIn, Fn: signed(c.handleCheckIn)})
	t.Register(ModuleName, "edit_beneficiaries", dispatch.Handler{Weight: WeightEdit, Fn: signed(c.handleEditBeneficiaries)})
	t.Register(ModuleName, "set_living_switch", dispatch.Handler{Weight: WeightEdit, Fn: signed(c.handleSetLivingSwitch)})
	t.Register(ModuleName, "schedule_payment", dispatch.Handler{Weight: WeightPayment, Fn: signed(c.handleSchedulePayment)})
	t.Register(ModuleName, "stop_schedule_payment", dispatch.Handler{Weight: WeightPayment, Fn: signed(c.handleStopSchedulePayment)})
}

type signedHandler func(ctx context.Context, env *chain.Env, who chain.AccountID, raw []byte) error

func signed(h signedHandler) dispatch.HandlerFunc {
	return func(ctx context.Context, env *chain.Env, o chain.Origin, raw []byte) error {
		who, err := chain.EnsureSigned(o)
		if err != nil {
			return err
		}
		return h(ctx, env, who, raw)
	}
}

func (c *Controller) handleCreateFund(ctx context.Context, env *chain.Env, who chain.AccountID, raw []byte) error {
	a, err := chain.DecodeArgs[CreateFundArgs](raw)
	if err != nil {
		return err
	}
	_, err = c.CreateFund(ctx, env, who, a.Shares, a.Switch)
	return err
}

func (c *Controller) handleDeposit(ctx context.Context, env *chain.Env, who chain.AccountID, raw []byte) error {
	a, err := chain.DecodeArgs[DepositArgs](raw)
	if err != nil {
		return err
	}
	return c.Deposit(ctx, env, who, a.Fund, a.Amount)
}

func (c *Controller) handleCheckIn(ctx context.Context, env *chain.Env, who chain.AccountID, raw []byte) error {
	a, err := chain.DecodeArgs[CheckInArgs](raw)
	if err != nil {
		return err
	}
	return c.CheckIn(ctx, env, who, a.Fund)
}

func (c *Controller) handleEditBeneficiaries(ctx context.Context, env *chain.Env, who chain.AccountID, raw []byte) error {
	a, err := chain.DecodeArgs[EditBeneficiariesArgs](raw)
	if err != nil {
		return err
	}
	return c.EditBeneficiaries(ctx, env, who, a.Fund, a.Shares)
}

func (c *Controller) handleSetLivingSwitch(ctx context.Context, env *chain.Env, who chain.AccountID, raw []byte) error {
	a, err := chain.DecodeArgs[SetLivingSwitchArgs](raw)
	if err != nil {
		return err
	}
	return c.SetLivingSwitch(ctx, env, who, a.Fund, a.Switch)
}

func (c *Controller) handleSchedulePayment(ctx context.Context, env *chain.Env, who chain.AccountID, raw []byte) error {
	a, err := chain.DecodeArgs[SchedulePaymentArgs](raw)
	if err != nil {
		return err
	}
	_, err = c.SchedulePayment(ctx, env, who, a.Fund, a.Beneficiary, a.Amount, a.Interval)
	return err
}

func (c *Controller) handleStopSchedulePayment(ctx context.Context, env *chain.Env, who chain.AccountID, raw []byte) error {
	a, err := chain.DecodeArgs[StopSchedulePaymentArgs](raw)
	if err != nil {
		return err
	}
	return c.StopSchedulePayment(ctx, env, who, a.Fund, a.Beneficiary)
}
