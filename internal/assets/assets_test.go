package assets

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"trustchain/internal/chain"
	"trustchain/internal/dispatch"
	"trustchain/internal/state"
	logx "trustchain/pkg/logx"
)

func setup(t *testing.T) (*chain.Env, *dispatch.Shim) {
	t.Helper()
	table := dispatch.NewTable()
	Module{}.Register(table)
	env := chain.NewEnv(chain.Header{Number: 1}, state.NewOverlay(nil))
	require.NoError(t, Module{}.Mint(context.Background(), env, "alice", 100))
	return env, dispatch.NewShim(table, logx.Nop())
}

func balance(t *testing.T, env *chain.Env, a chain.AccountID) uint64 {
	t.Helper()
	b, err := Module{}.Balance(context.Background(), env.State, a)
	require.NoError(t, err)
	return b
}

func TestTransfer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env, shim := setup(t)

	call, err := TransferCall("bob", 30)
	require.NoError(t, err)
	out := shim.Dispatch(ctx, env, "x1", chain.SignedOrigin("alice"), call)
	require.True(t, out.OK(), "%v", out.Err)
	require.EqualValues(t, 70, balance(t, env, "alice"))
	require.EqualValues(t, 30, balance(t, env, "bob"))

	ok, err := Module{}.AccountExists(ctx, env.State, "bob")
	require.NoError(t, err)
	require.True(t, ok)

	iss, err := Module{}.Issuance(ctx, env.State)
	require.NoError(t, err)
	require.EqualValues(t, 100, iss)
}

func TestTransferFailures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tests := []struct {
		name   string
		origin chain.Origin
		dest   chain.AccountID
		amount uint64
		want   error
	}{
		{name: "insufficient", origin: chain.SignedOrigin("alice"), dest: "bob", amount: 101, want: ErrInsufficientBalance},
		{name: "unfunded sender", origin: chain.SignedOrigin("carol"), dest: "bob", amount: 1, want: ErrInsufficientBalance},
		{name: "root origin", origin: chain.RootOrigin(), dest: "bob", amount: 1, want: chain.ErrBadOrigin},
		{name: "empty dest", origin: chain.SignedOrigin("alice"), dest: "", amount: 1, want: ErrNoAccount},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env, shim := setup(t)
			call, err := TransferCall(tt.dest, tt.amount)
			require.NoError(t, err)
			out := shim.Dispatch(ctx, env, "x", tt.origin, call)
			require.ErrorIs(t, out.Err, dispatch.ErrDispatchFailed)
			require.ErrorIs(t, out.Err, tt.want)
			require.EqualValues(t, 100, balance(t, env, "alice"))
		})
	}
}

func TestSelfTransferIsNoop(t *testing.T) {
	t.Parallel()
	env, _ := setup(t)
	require.NoError(t, Module{}.Transfer(context.Background(), env, "alice", "alice", 1_000))
	require.EqualValues(t, 100, balance(t, env, "alice"))
}

func TestMint(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env, shim := setup(t)

	call, err := MintCall("bob", 5)
	require.NoError(t, err)
	require.ErrorIs(t, shim.Dispatch(ctx, env, "m", chain.SignedOrigin("alice"), call).Err, chain.ErrBadOrigin)
	require.True(t, shim.Dispatch(ctx, env, "m", chain.RootOrigin(), call).OK())
	require.EqualValues(t, 5, balance(t, env, "bob"))

	require.ErrorIs(t, Module{}.Mint(ctx, env, "bob", math.MaxUint64), ErrOverflow)
}

func TestCloseAccount(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env, shim := setup(t)
	call, err := CloseAccountCall()
	require.NoError(t, err)

	require.ErrorIs(t, shim.Dispatch(ctx, env, "c", chain.SignedOrigin("alice"), call).Err, ErrBalanceNotZero)
	require.ErrorIs(t, shim.Dispatch(ctx, env, "c", chain.SignedOrigin("nobody"), call).Err, ErrNoAccount)

	require.NoError(t, Module{}.Touch(ctx, env.State, "empty"))
	require.True(t, shim.Dispatch(ctx, env, "c", chain.SignedOrigin("empty"), call).OK())
	ok, err := Module{}.AccountExists(ctx, env.State, "empty")
	require.NoError(t, err)
	require.False(t, ok)
}
