package node

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"trustchain/internal/assets"
	"trustchain/internal/chain"
	"trustchain/internal/dispatch"
	"trustchain/internal/eventbus"
	"trustchain/internal/runtime"
	"trustchain/internal/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func transfer(t *testing.T, from, to chain.AccountID, amount uint64) runtime.Extrinsic {
	t.Helper()
	call, err := assets.TransferCall(to, amount)
	require.NoError(t, err)
	return runtime.Extrinsic{Signer: from, Call: call}
}

func newNode(t *testing.T, cfg Config, opts ...runtime.Option) *Node {
	t.Helper()
	rt, err := runtime.New(context.Background(), runtime.Config{
		Genesis: []runtime.Endowment{{Account: "alice", Amount: 100}},
	}, storage.NewMemory(), opts...)
	require.NoError(t, err)
	return New(rt, cfg)
}

func TestMempool(t *testing.T) {
	p := NewMempool(2)
	x := func(s chain.AccountID) runtime.Extrinsic { return runtime.Extrinsic{Signer: s} }
	require.NoError(t, p.Submit(x("a")))
	require.NoError(t, p.Submit(x("b")))
	require.ErrorIs(t, p.Submit(x("c")), ErrMempoolFull)

	got := p.Take(1)
	require.Equal(t, []runtime.Extrinsic{x("a")}, got)
	require.NoError(t, p.Submit(x("c")))

	p.Requeue(got)
	require.Equal(t, 3, p.Len())
	require.Equal(t, []runtime.Extrinsic{x("a"), x("b"), x("c")}, p.Take(0))
	require.Zero(t, p.Len())
}

func TestSubmitValidates(t *testing.T) {
	n := newNode(t, Config{MempoolSize: 1})
	require.ErrorIs(t, n.Submit(runtime.Extrinsic{Signer: "alice", Call: chain.Call{Module: "no", Action: "pe"}}), dispatch.ErrUnknownCall)
	require.ErrorIs(t, n.Submit(runtime.Extrinsic{Signer: "alice", Sudo: true, Call: chain.Call{Module: "assets", Action: "mint"}}), runtime.ErrNotSudo)
	require.NoError(t, n.Submit(transfer(t, "alice", "bob", 1)))
	require.ErrorIs(t, n.Submit(transfer(t, "alice", "bob", 1)), ErrMempoolFull)
	require.Equal(t, 1, n.MempoolLen())
}

func TestProduceBlock(t *testing.T) {
	ctx := context.Background()
	now := time.UnixMilli(50_000)
	rt, err := runtime.New(ctx, runtime.Config{
		Genesis: []runtime.Endowment{{Account: "alice", Amount: 100}},
	}, storage.NewMemory())
	require.NoError(t, err)
	n := New(rt, Config{MaxExtrinsicsPerBlock: 2}, WithClock(func() time.Time { return now }))

	for i := 0; i < 3; i++ {
		require.NoError(t, n.Submit(transfer(t, "alice", "bob", 10)))
	}
	rec, err := n.ProduceBlock(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, rec.Header.Number)
	require.EqualValues(t, 50_000, rec.Header.Timestamp)
	require.Len(t, rec.Results, 2)
	require.Equal(t, 1, n.MempoolLen())

	// a clock going backwards never produces an older timestamp
	now = time.UnixMilli(10_000)
	rec, err = n.ProduceBlock(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 50_000, rec.Header.Timestamp)
	require.Zero(t, n.MempoolLen())

	bal, ok, err := n.Balance(ctx, "bob")
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 30, bal)
	require.EqualValues(t, 2, n.Head().Number)
}

func TestFeedKeepsRecentEvents(t *testing.T) {
	bus := eventbus.New[runtime.Receipt]()
	n := newNode(t, Config{EventHistory: 4}, runtime.WithBus(bus))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Feed(ctx, bus) }()

	// Feed subscribes asynchronously; publish until the events show up.
	require.Eventually(t, func() bool {
		_ = n.Submit(transfer(t, "alice", "bob", 1))
		if _, err := n.ProduceBlock(context.Background()); err != nil {
			return false
		}
		return len(n.Events(0)) > 0
	}, 2*time.Second, 10*time.Millisecond)

	evs := n.Events(0)
	require.LessOrEqual(t, len(evs), 4)
	require.Len(t, n.Events(1), 1)

	cancel()
	require.NoError(t, <-done)
}

func TestRunProducesBlocks(t *testing.T) {
	n := newNode(t, Config{BlockInterval: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	require.Eventually(t, func() bool { return n.Head().Number >= 1 }, 5*time.Second, 50*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
