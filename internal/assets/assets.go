// Package assets is a minimal balances module. It is the asset transfer port
// the scheduler and the trust funds pay out through.
package assets

import (
	"context"
	"errors"
	"fmt"
	"math"

	"trustchain/internal/chain"
	"trustchain/internal/dispatch"
	"trustchain/internal/state"
)

const ModuleName = "assets"

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrBalanceNotZero      = errors.New("balance not zero")
	ErrOverflow            = errors.New("balance overflow")
	ErrNoAccount           = errors.New("account does not exist")
)

const (
	WeightTransfer = 50_000
	WeightMint     = 30_000
	WeightClose    = 20_000
)

const keyIssuance = "assets/issuance"

func balanceKey(a chain.AccountID) []byte { return state.Key("assets/balance", []byte(a)) }

type TransferArgs struct {
	Dest   chain.AccountID
	Amount uint64
}

type MintArgs struct {
	To     chain.AccountID
	Amount uint64
}

type CloseAccountArgs struct{}

// Module holds no state of its own; balances live in the block state.
type Module struct{}

// Balance returns a's free balance; missing accounts have none.
func (Module) Balance(ctx context.Context, r state.Reader, a chain.AccountID) (uint64, error) {
	b, _, err := state.GetValue[uint64](ctx, r, balanceKey(a))
	return b, err
}

// AccountExists reports whether a has a balance record, empty or not.
func (Module) AccountExists(ctx context.Context, r state.Reader, a chain.AccountID) (bool, error) {
	_, ok, err := r.Get(ctx, balanceKey(a))
	return ok, err
}

// Issuance is the sum of all balances.
func (Module) Issuance(ctx context.Context, r state.Reader) (uint64, error) {
	n, _, err := state.GetValue[uint64](ctx, r, []byte(keyIssuance))
	return n, err
}

// Touch creates an empty balance record for a if it has none.
func (m Module) Touch(ctx context.Context, rw state.ReadWriter, a chain.AccountID) error {
	ok, err := m.AccountExists(ctx, rw, a)
	if err != nil || ok {
		return err
	}
	return state.PutValue(rw, balanceKey(a), uint64(0))
}

// Mint credits amount to a out of thin air.
func (m Module) Mint(ctx context.Context, env *chain.Env, to chain.AccountID, amount uint64) error {
	iss, err := m.Issuance(ctx, env.State)
	if err != nil {
		return err
	}
	if iss > math.MaxUint64-amount {
		return fmt.Errorf("%w: issuance", ErrOverflow)
	}
	bal, err := m.Balance(ctx, env.State, to)
	if err != nil {
		return err
	}
	if err := state.PutValue(env.State, balanceKey(to), bal+amount); err != nil {
		return err
	}
	if err := state.PutValue(env.State, []byte(keyIssuance), iss+amount); err != nil {
		return err
	}
	env.Emit(ModuleName, "Minted", chain.A("to", string(to)), chain.U64("amount", amount))
	return nil
}

// Transfer moves amount from one account to another, creating the
// destination if needed.
func (m Module) Transfer(ctx context.Context, env *chain.Env, from, to chain.AccountID, amount uint64) error {
	if from == to {
		return nil
	}
	src, err := m.Balance(ctx, env.State, from)
	if err != nil {
		return err
	}
	if src < amount {
		return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientBalance, from, src, amount)
	}
	dst, err := m.Balance(ctx, env.State, to)
	if err != nil {
		return err
	}
	// Cannot happen while issuance fits in uint64.
	if dst > math.MaxUint64-amount {
		return fmt.Errorf("%w: %s", ErrOverflow, to)
	}
	if err := state.PutValue(env.State, balanceKey(from), src-amount); err != nil {
		return err
	}
	if err := state.PutValue(env.State, balanceKey(to), dst+amount); err != nil {
		return err
	}
	env.Emit(ModuleName, "Transferred",
		chain.A("from", string(from)),
		chain.A("to", string(to)),
		chain.U64("amount", amount),
	)
	return nil
}

// CloseAccount removes an empty account.
func (m Module) CloseAccount(ctx context.Context, env *chain.Env, a chain.AccountID) error {
	bal, ok, err := state.GetValue[uint64](ctx, env.State, balanceKey(a))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoAccount, a)
	}
	if bal != 0 {
		return fmt.Errorf("%w: %s holds %d", ErrBalanceNotZero, a, bal)
	}
	env.State.Delete(balanceKey(a))
	env.Emit(ModuleName, "AccountClosed", chain.A("account", string(a)))
	return nil
}

// TransferCall builds an assets.transfer call.
func (Module) TransferCall(dest chain.AccountID, amount uint64) (chain.Call, error) {
	return TransferCall(dest, amount)
}

func TransferCall(dest chain.AccountID, amount uint64) (chain.Call, error) {
	return chain.NewCall(ModuleName, "transfer", TransferArgs{Dest: dest, Amount: amount})
}

func MintCall(to chain.AccountID, amount uint64) (chain.Call, error) {
	return chain.NewCall(ModuleName, "mint", MintArgs{To: to, Amount: amount})
}

func CloseAccountCall() (chain.Call, error) {
	return chain.NewCall(ModuleName, "close_account", CloseAccountArgs{})
}

// Register adds the assets entry points to t.
func (m Module) Register(t *dispatch.Table) {
	t.Register(ModuleName, "transfer", dispatch.Handler{Weight: WeightTransfer, Fn: m.handleTransfer})
	t.Register(ModuleName, "mint", dispatch.Handler{Weight: WeightMint, Fn: m.handleMint})
	t.Register(ModuleName, "close_account", dispatch.Handler{Weight: WeightClose, Fn: m.handleClose})
}

func (m Module) handleTransfer(ctx context.Context, env *chain.Env, o chain.Origin, raw []byte) error {
	from, err := chain.EnsureSigned(o)
	if err != nil {
		return err
	}
	a, err := chain.DecodeArgs[TransferArgs](raw)
	if err != nil {
		return err
	}
	if a.Dest == "" {
		return fmt.Errorf("%w: empty destination", ErrNoAccount)
	}
	return m.Transfer(ctx, env, from, a.Dest, a.Amount)
}

func (m Module) handleMint(ctx context.Context, env *chain.Env, o chain.Origin, raw []byte) error {
	if err := chain.EnsureRoot(o); err != nil {
		return err
	}
	a, err := chain.DecodeArgs[MintArgs](raw)
	if err != nil {
		return err
	}
	if a.To == "" {
		return fmt.Errorf("%w: empty destination", ErrNoAccount)
	}
	return m.Mint(ctx, env, a.To, a.Amount)
}

func (m Module) handleClose(ctx context.Context, env *chain.Env, o chain.Origin, _ []byte) error {
	who, err := chain.EnsureSigned(o)
	if err != nil {
		return err
	}
	return m.CloseAccount(ctx, env, who)
}
