// Package origin maps the owner a task was scheduled for to the origin the
// dispatched call observes.
//
// Owners form a closed set (signed account, trust fund, root). Resolution is
// a pure function of the owner and current state, and never yields more
// authority than the owner itself holds: a fund resolves to its own account,
// nothing else.
package origin

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"trustchain/internal/chain"
	"trustchain/internal/state"
)

var (
	ErrOriginResolutionFailed = errors.New("origin resolution failed")
	ErrInvalidOwner           = errors.New("invalid owner")
)

type OwnerKind uint8

const (
	ownerInvalid OwnerKind = iota
	OwnerSigned
	OwnerFund
	OwnerRoot
)

// Owner is the identity a scheduled call is meant to run as.
type Owner struct {
	Kind    OwnerKind
	Account chain.AccountID
	Fund    uint64
}

func Signed(a chain.AccountID) Owner { return Owner{Kind: OwnerSigned, Account: a} }
func Fund(id uint64) Owner           { return Owner{Kind: OwnerFund, Fund: id} }
func Root() Owner                    { return Owner{Kind: OwnerRoot} }

func (o Owner) Validate() error {
	switch o.Kind {
	case OwnerSigned:
		if o.Account == "" {
			return fmt.Errorf("%w: empty account", ErrInvalidOwner)
		}
	case OwnerFund, OwnerRoot:
	default:
		return fmt.Errorf("%w: kind %d", ErrInvalidOwner, o.Kind)
	}
	return nil
}

func (o Owner) String() string {
	switch o.Kind {
	case OwnerSigned:
		return "signed:" + string(o.Account)
	case OwnerFund:
		return "fund:" + strconv.FormatUint(o.Fund, 10)
	case OwnerRoot:
		return "root"
	default:
		return "invalid"
	}
}

// Key is a stable byte encoding used in state keys (nonces, id derivation).
func (o Owner) Key() []byte {
	return []byte(o.String())
}

// Accounts reports whether a plain account still exists.
type Accounts interface {
	AccountExists(ctx context.Context, r state.Reader, a chain.AccountID) (bool, error)
}

// Funds maps a fund id to the account holding its balance.
type Funds interface {
	FundAccount(ctx context.Context, r state.Reader, id uint64) (chain.AccountID, bool, error)
}

type Resolver struct {
	accounts Accounts
	funds    Funds
}

func NewResolver(accounts Accounts, funds Funds) *Resolver {
	return &Resolver{accounts: accounts, funds: funds}
}

// Resolve returns the origin owner executes under. It fails closed: any
// lookup that does not positively succeed is ErrOriginResolutionFailed.
func (r *Resolver) Resolve(ctx context.Context, st state.Reader, owner Owner) (chain.Origin, error) {
	switch owner.Kind {
	case OwnerRoot:
		return chain.RootOrigin(), nil
	case OwnerSigned:
		if r.accounts == nil {
			return chain.Origin{}, fmt.Errorf("%w: %s: no account directory", ErrOriginResolutionFailed, owner)
		}
		ok, err := r.accounts.AccountExists(ctx, st, owner.Account)
		if err != nil {
			return chain.Origin{}, fmt.Errorf("%w: %s: %w", ErrOriginResolutionFailed, owner, err)
		}
		if !ok {
			return chain.Origin{}, fmt.Errorf("%w: %s: account does not exist", ErrOriginResolutionFailed, owner)
		}
		return chain.SignedOrigin(owner.Account), nil
	case OwnerFund:
		if r.funds == nil {
			return chain.Origin{}, fmt.Errorf("%w: %s: no fund directory", ErrOriginResolutionFailed, owner)
		}
		acct, ok, err := r.funds.FundAccount(ctx, st, owner.Fund)
		if err != nil {
			return chain.Origin{}, fmt.Errorf("%w: %s: %w", ErrOriginResolutionFailed, owner, err)
		}
		if !ok {
			return chain.Origin{}, fmt.Errorf("%w: %s: fund does not exist", ErrOriginResolutionFailed, owner)
		}
		return chain.SignedOrigin(acct), nil
	default:
		return chain.Origin{}, fmt.Errorf("%w: %w", ErrOriginResolutionFailed, owner.Validate())
	}
}

// Authorize decides whether caller may schedule on behalf of owner through
// the public extrinsic surface. Root may name anyone; a signed caller only
// itself. Modules that name other owners (a fund scheduling its payouts) go
// through the Go API after their own checks.
func Authorize(caller chain.Origin, owner Owner) error {
	if err := owner.Validate(); err != nil {
		return err
	}
	switch caller.Kind {
	case chain.OriginRoot:
		return nil
	case chain.OriginSigned:
		if owner.Kind == OwnerSigned && owner.Account == caller.Account {
			return nil
		}
		return fmt.Errorf("%w: %s may not schedule as %s", chain.ErrUnauthorized, caller, owner)
	default:
		return fmt.Errorf("%w: %s may not schedule", chain.ErrUnauthorized, caller)
	}
}
