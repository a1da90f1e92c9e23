package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"trustchain/internal/chain"
	"trustchain/internal/dispatch"
	"trustchain/internal/origin"
	"trustchain/internal/state"
	logx "trustchain/pkg/logx"
)

const (
	weightRecord = 1_000
	weightHeavy  = 500_000
)

var logKey = []byte("test/log")

type knownAccounts struct{}

func (knownAccounts) AccountExists(_ context.Context, _ state.Reader, a chain.AccountID) (bool, error) {
	return a != "ghost", nil
}

// harness runs a scheduler over a single overlay standing in for the store.
type harness struct {
	t     *testing.T
	st    *state.Overlay
	table *dispatch.Table
	shim  *dispatch.Shim
	s     *Scheduler
}

func newHarness(t *testing.T, cfg Config, opts ...Option) *harness {
	t.Helper()
	table := dispatch.NewTable()
	table.Register("test", "record", dispatch.Handler{Weight: weightRecord, Fn: record})
	table.Register("test", "heavy", dispatch.Handler{Weight: weightHeavy, Fn: record})
	table.Register("test", "fail", dispatch.Handler{Weight: weightRecord, Fn: func(context.Context, *chain.Env, chain.Origin, []byte) error {
		return errors.New("always fails")
	}})
	shim := dispatch.NewShim(table, logx.Nop())
	s := New(cfg, shim, origin.NewResolver(knownAccounts{}, nil), opts...)
	s.Register(table)
	return &harness{t: t, st: state.NewOverlay(nil), table: table, shim: shim, s: s}
}

// record appends "<args>@<origin>" to the test log.
func record(ctx context.Context, env *chain.Env, o chain.Origin, args []byte) error {
	log, _, err := state.GetValue[[]string](ctx, env.State, logKey)
	if err != nil {
		return err
	}
	return state.PutValue(env.State, logKey, append(log, string(args)+"@"+o.String()))
}

func recordCall(tag string) chain.Call {
	return chain.Call{Module: "test", Action: "record", Args: []byte(tag)}
}

func (h *harness) env(n chain.BlockNumber) *chain.Env {
	return chain.NewEnv(chain.Header{Number: n, Timestamp: chain.Moment(n) * 6000}, h.st)
}

// block runs OnInitialize for n and returns the report and events.
func (h *harness) block(n chain.BlockNumber) (Report, []chain.Event) {
	h.t.Helper()
	env := h.env(n)
	rep, err := h.s.OnInitialize(context.Background(), env)
	require.NoError(h.t, err)
	return rep, env.Events()
}

func (h *harness) run(from, to chain.BlockNumber) []chain.Event {
	h.t.Helper()
	var out []chain.Event
	for n := from; n <= to; n++ {
		_, evs := h.block(n)
		out = append(out, evs...)
	}
	return out
}

func (h *harness) log() []string {
	h.t.Helper()
	out, _, err := state.GetValue[[]string](context.Background(), h.st, logKey)
	require.NoError(h.t, err)
	return out
}

func (h *harness) slot(n chain.BlockNumber) []Entry {
	h.t.Helper()
	entries, err := h.s.Agenda().Slot(context.Background(), h.st, n)
	require.NoError(h.t, err)
	return entries
}

func named(evs []chain.Event, name string) []chain.Event {
	var out []chain.Event
	for _, e := range evs {
		if e.Module == ModuleName && e.Name == name {
			out = append(out, e)
		}
	}
	return out
}
