package runtime

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"trustchain/internal/assets"
	"trustchain/internal/chain"
	"trustchain/internal/dispatch"
	"trustchain/internal/eventbus"
	"trustchain/internal/scheduler"
	"trustchain/internal/storage"
	"trustchain/internal/trustfund"
	logx "trustchain/pkg/logx"
)

var testConfig = Config{
	Sudo:    "sudo",
	Genesis: []Endowment{{Account: "grantor", Amount: 10_000}},
}

var abc = []trustfund.BeneficiaryShare{
	{Address: "A", Weight: 25},
	{Address: "B", Weight: 25},
	{Address: "C", Weight: 50},
}

func newRuntime(t *testing.T, kv storage.KV, opts ...Option) *Runtime {
	t.Helper()
	rt, err := New(context.Background(), testConfig, kv, opts...)
	require.NoError(t, err)
	return rt
}

// signed wraps a call builder result into an extrinsic from signer.
func signed(t *testing.T, signer chain.AccountID) func(chain.Call, error) Extrinsic {
	return func(call chain.Call, err error) Extrinsic {
		t.Helper()
		require.NoError(t, err)
		return Extrinsic{Signer: signer, Call: call}
	}
}

// next imports the block after head with xs.
func next(t *testing.T, rt *Runtime, xs ...Extrinsic) Receipt {
	t.Helper()
	n := rt.Head().Number + 1
	rec, err := rt.ExecuteBlock(context.Background(), Block{
		Header:     chain.Header{Number: n, Timestamp: chain.Moment(n) * 6000},
		Extrinsics: xs,
	})
	require.NoError(t, err)
	return rec
}

func balance(t *testing.T, rt *Runtime, a chain.AccountID) uint64 {
	t.Helper()
	b, _, err := rt.Balance(context.Background(), a)
	require.NoError(t, err)
	return b
}

func TestGenesis(t *testing.T) {
	t.Parallel()
	rt := newRuntime(t, storage.NewMemory())
	require.EqualValues(t, 0, rt.Head().Number)
	require.EqualValues(t, 10_000, balance(t, rt, "grantor"))

	_, ok, err := rt.Balance(context.Background(), "sudo")
	require.NoError(t, err)
	require.True(t, ok)

	require.Contains(t, rt.Table().Methods(), "scheduler.schedule_periodic")
	require.Contains(t, rt.Table().Methods(), "trustfund.create_fund")
	require.Contains(t, rt.Table().Methods(), "assets.transfer")
}

func TestTrustFundLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rt := newRuntime(t, storage.NewMemory())

	rec := next(t, rt,
		signed(t, "grantor")(trustfund.CreateFundCall(abc, trustfund.AtBlock(5))),
		signed(t, "grantor")(trustfund.DepositCall(0, 1000)),
	)
	for _, r := range rec.Results {
		require.True(t, r.OK, "%s: %s", r.Call, r.Error)
	}
	ids, err := rt.ActiveFunds(ctx)
	require.NoError(t, err)
	require.Equal(t, []uint64{0}, ids)

	for rt.Head().Number < 4 {
		rec = next(t, rt)
		require.Empty(t, rec.Triggered)
	}
	rec = next(t, rt)
	require.Equal(t, []uint64{0}, rec.Triggered)

	f, err := rt.Fund(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, trustfund.StateClosed, f.State)
	pending, err := rt.AgendaSlot(ctx, 6)
	require.NoError(t, err)
	require.Len(t, pending, 3)

	rec = next(t, rt)
	require.Equal(t, 3, rec.Agenda.Executed)
	require.Zero(t, rec.Agenda.Failed)
	require.EqualValues(t, 250, balance(t, rt, "A"))
	require.EqualValues(t, 250, balance(t, rt, "B"))
	require.EqualValues(t, 500, balance(t, rt, "C"))
	require.EqualValues(t, 9_000, balance(t, rt, "grantor"))
	require.Zero(t, balance(t, rt, trustfund.AccountFor(0)))
}

func TestTriggerCancelsPendingAllowance(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rt := newRuntime(t, storage.NewMemory())

	rec := next(t, rt,
		signed(t, "grantor")(trustfund.CreateFundCall(abc, trustfund.AtBlock(4))),
		signed(t, "grantor")(trustfund.DepositCall(0, 1000)),
		signed(t, "grantor")(trustfund.SchedulePaymentCall(0, "A", 10, 10)),
	)
	for _, r := range rec.Results {
		require.True(t, r.OK, "%s: %s", r.Call, r.Error)
	}
	f, err := rt.Fund(ctx, 0)
	require.NoError(t, err)
	require.Len(t, f.Allowances, 1)
	allowance := f.Allowances[0].Task
	_, ok, err := rt.Task(ctx, allowance)
	require.NoError(t, err)
	require.True(t, ok)

	for rt.Head().Number < 3 {
		next(t, rt)
	}
	rec = next(t, rt)
	require.Equal(t, []uint64{0}, rec.Triggered)
	require.EqualValues(t, 4, rt.Head().Number)

	f, err = rt.Fund(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, trustfund.StateClosed, f.State)
	require.Empty(t, f.Allowances)
	_, ok, err = rt.Task(ctx, allowance)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRestartResumesFromPersistedHead(t *testing.T) {
	t.Parallel()
	cfg := storage.Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "chain.db")}
	kv, err := storage.Open(cfg, logx.Nop())
	require.NoError(t, err)
	rt := newRuntime(t, kv)

	call, err := assets.TransferCall("bob", 7)
	require.NoError(t, err)
	next(t, rt,
		signed(t, "grantor")(scheduler.SchedulePeriodicCall(scheduler.SchedulePeriodicArgs{
			Name: "rent", When: 2, Interval: 2, MaxOccurrences: 3, Call: call,
		})),
	)
	next(t, rt)
	next(t, rt)
	require.EqualValues(t, 7, balance(t, rt, "bob"))
	require.NoError(t, kv.Close())

	kv, err = storage.Open(cfg, logx.Nop())
	require.NoError(t, err)
	defer kv.Close()
	rt = newRuntime(t, kv)
	require.EqualValues(t, 3, rt.Head().Number)
	require.EqualValues(t, 9_993, balance(t, rt, "grantor"))

	e, ok, err := rt.Task(context.Background(), scheduler.NamedID("rent"))
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 4, e.Due)

	for rt.Head().Number < 10 {
		next(t, rt)
	}
	require.EqualValues(t, 21, balance(t, rt, "bob"))
}

func TestIdenticalBlocksAreDeterministic(t *testing.T) {
	t.Parallel()
	run := func() []Receipt {
		rt := newRuntime(t, storage.NewMemory())
		out := []Receipt{next(t, rt,
			signed(t, "grantor")(trustfund.CreateFundCall(abc, trustfund.AtBlock(3))),
			signed(t, "grantor")(trustfund.DepositCall(0, 999)),
			signed(t, "grantor")(assets.TransferCall("dave", 1)),
		)}
		for i := 0; i < 4; i++ {
			out = append(out, next(t, rt))
		}
		return out
	}
	a, b := run(), run()
	require.Equal(t, a, b)
}

func TestExecuteBlockRejectsBadHeaders(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rt := newRuntime(t, storage.NewMemory())
	next(t, rt)

	_, err := rt.ExecuteBlock(ctx, Block{Header: chain.Header{Number: 3, Timestamp: 20_000}})
	require.ErrorIs(t, err, ErrBadBlock)
	_, err = rt.ExecuteBlock(ctx, Block{Header: chain.Header{Number: 1, Timestamp: 20_000}})
	require.ErrorIs(t, err, ErrBadBlock)
	_, err = rt.ExecuteBlock(ctx, Block{Header: chain.Header{Number: 2, Timestamp: 1}})
	require.ErrorIs(t, err, ErrBadBlock)
	require.EqualValues(t, 1, rt.Head().Number)
}

func TestFailedExtrinsicDoesNotAbortBlock(t *testing.T) {
	t.Parallel()
	rt := newRuntime(t, storage.NewMemory())
	rec := next(t, rt,
		signed(t, "pauper")(assets.TransferCall("bob", 5)),
		signed(t, "grantor")(assets.TransferCall("bob", 5)),
	)
	require.Len(t, rec.Results, 2)
	require.False(t, rec.Results[0].OK)
	require.Contains(t, rec.Results[0].Error, assets.ErrInsufficientBalance.Error())
	require.True(t, rec.Results[1].OK)
	require.EqualValues(t, 5, balance(t, rt, "bob"))

	// a signer exists after its first extrinsic, even a failing one
	_, ok, err := rt.Balance(context.Background(), "pauper")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSudo(t *testing.T) {
	t.Parallel()
	rt := newRuntime(t, storage.NewMemory())
	mint, err := assets.MintCall("bob", 50)
	require.NoError(t, err)

	require.NoError(t, rt.Validate(Extrinsic{Signer: "sudo", Call: mint, Sudo: true}))
	require.ErrorIs(t, rt.Validate(Extrinsic{Signer: "eve", Call: mint, Sudo: true}), ErrNotSudo)
	require.ErrorIs(t, rt.Validate(Extrinsic{Call: mint}), chain.ErrBadOrigin)
	require.ErrorIs(t, rt.Validate(Extrinsic{Signer: trustfund.AccountFor(0), Call: mint}), chain.ErrBadOrigin)
	require.ErrorIs(t, rt.Validate(Extrinsic{Signer: "eve", Call: chain.Call{Module: "x", Action: "y"}}), dispatch.ErrUnknownCall)

	rec := next(t, rt,
		Extrinsic{Signer: "sudo", Call: mint, Sudo: true},
		Extrinsic{Signer: "eve", Call: mint, Sudo: true},
		Extrinsic{Signer: "eve", Call: mint},
		Extrinsic{Signer: trustfund.AccountFor(0), Call: mint},
	)
	require.True(t, rec.Results[0].OK)
	require.False(t, rec.Results[1].OK)
	require.Contains(t, rec.Results[1].Error, ErrNotSudo.Error())
	require.False(t, rec.Results[2].OK)
	require.False(t, rec.Results[3].OK)
	require.Contains(t, rec.Results[3].Error, chain.ErrBadOrigin.Error())
	_, ok, err := rt.Balance(context.Background(), trustfund.AccountFor(0))
	require.NoError(t, err)
	require.False(t, ok)
	require.EqualValues(t, 50, balance(t, rt, "bob"))
}

func TestBusAndObserver(t *testing.T) {
	t.Parallel()
	bus := eventbus.New[Receipt]()
	ch, unsubscribe := bus.Subscribe(4)
	defer unsubscribe()

	reg := prometheus.NewRegistry()
	obs, err := NewPrometheusObserver("test", reg)
	require.NoError(t, err)

	rt := newRuntime(t, storage.NewMemory(), WithBus(bus), WithObserver(obs))
	next(t, rt, signed(t, "grantor")(assets.TransferCall("bob", 1)))
	next(t, rt, signed(t, "nobody")(assets.TransferCall("bob", 1)))

	first := <-ch
	require.EqualValues(t, 1, first.Header.Number)
	require.NotEmpty(t, first.Events)
	second := <-ch
	require.EqualValues(t, 2, second.Header.Number)

	require.Equal(t, 2.0, testutil.ToFloat64(obs.blocks))
	require.Equal(t, 2.0, testutil.ToFloat64(obs.head))
	require.Equal(t, 1.0, testutil.ToFloat64(obs.extrinsics.WithLabelValues("ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(obs.extrinsics.WithLabelValues("error")))
}
