package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"trustchain/internal/assets"
	"trustchain/internal/chain"
	"trustchain/internal/node"
	"trustchain/internal/runtime"
	"trustchain/internal/scheduler"
	"trustchain/internal/storage"
	logx "trustchain/pkg/logx"
)

// fixedEvents serves a canned event history on top of a real node.
type fixedEvents struct {
	*node.Node
	events []chain.Event
}

func (f fixedEvents) Events(limit int) []chain.Event {
	if limit <= 0 || limit > len(f.events) {
		limit = len(f.events)
	}
	return append([]chain.Event(nil), f.events[len(f.events)-limit:]...)
}

type fixture struct {
	t    *testing.T
	node *node.Node
	h    http.Handler
}

func newFixture(t *testing.T, poolSize int) *fixture {
	t.Helper()
	rt, err := runtime.New(context.Background(), runtime.Config{
		Sudo:    "root",
		Genesis: []runtime.Endowment{{Account: "alice", Amount: 1000}},
	}, storage.NewMemory())
	require.NoError(t, err)
	n := node.New(rt, node.Config{MempoolSize: poolSize})

	reg := prometheus.NewRegistry()
	_, err = scheduler.NewPrometheusObserver("trustchain", reg)
	require.NoError(t, err)

	b := fixedEvents{Node: n, events: []chain.Event{
		{Block: 1, Module: "assets", Name: "Transferred"},
		{Block: 1, Module: "scheduler", Name: "Scheduled"},
		{Block: 2, Module: "assets", Name: "Minted"},
	}}
	return &fixture{t: t, node: n, h: New("", b, reg, logx.Nop()).Handler()}
}

func (f *fixture) do(method, path string, body any) (int, map[string]any) {
	f.t.Helper()
	var rd *bytes.Reader
	switch v := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(v))
	default:
		raw, err := json.Marshal(v)
		require.NoError(f.t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.h.ServeHTTP(w, req)

	out := map[string]any{}
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(f.t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w.Code, out
}

func (f *fixture) transfer(from, to chain.AccountID, amount uint64) runtime.Extrinsic {
	call, err := assets.TransferCall(to, amount)
	require.NoError(f.t, err)
	return runtime.Extrinsic{Signer: from, Call: call}
}

func TestSubmitAndQuery(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 8)

	code, body := f.do(http.MethodPost, "/v1/extrinsics", f.transfer("alice", "bob", 10))
	require.Equal(t, http.StatusAccepted, code)
	require.EqualValues(t, 1, body["queued"])

	pay, err := assets.TransferCall("bob", 5)
	require.NoError(t, err)
	sched, err := scheduler.ScheduleNamedCall(scheduler.ScheduleNamedArgs{Name: "pay-bob", When: 3, Call: pay})
	require.NoError(t, err)
	code, _ = f.do(http.MethodPost, "/v1/extrinsics", runtime.Extrinsic{Signer: "alice", Call: sched})
	require.Equal(t, http.StatusAccepted, code)

	_, err = f.node.ProduceBlock(context.Background())
	require.NoError(t, err)

	code, body = f.do(http.MethodGet, "/v1/head", nil)
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 1, body["number"])

	code, body = f.do(http.MethodGet, "/v1/balances/bob", nil)
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 10, body["balance"])

	code, _ = f.do(http.MethodGet, "/v1/balances/ghost", nil)
	require.Equal(t, http.StatusNotFound, code)

	id := scheduler.NamedID("pay-bob").String()
	code, body = f.do(http.MethodGet, "/v1/agenda/3", nil)
	require.Equal(t, http.StatusOK, code)
	entries := body["entries"].([]any)
	require.Len(t, entries, 1)
	entry := entries[0].(map[string]any)
	require.Equal(t, id, entry["id"])
	require.Equal(t, "pay-bob", entry["name"])
	require.Equal(t, "assets.transfer", entry["call"])
	require.EqualValues(t, 3, entry["due"])

	code, body = f.do(http.MethodGet, "/v1/tasks/"+id, nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "pay-bob", body["name"])

	code, _ = f.do(http.MethodGet, "/v1/tasks/"+scheduler.NamedID("nope").String(), nil)
	require.Equal(t, http.StatusNotFound, code)

	code, body = f.do(http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, body["ok"])
	require.EqualValues(t, 1, body["head"])
	require.EqualValues(t, 0, body["mempool"])
}

func TestSubmitErrors(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 1)

	code, _ := f.do(http.MethodPost, "/v1/extrinsics", "{not json")
	require.Equal(t, http.StatusBadRequest, code)

	code, body := f.do(http.MethodPost, "/v1/extrinsics", runtime.Extrinsic{Signer: "alice", Call: chain.Call{Module: "nope", Action: "x"}})
	require.Equal(t, http.StatusBadRequest, code)
	require.Contains(t, body["error"], "unknown call")

	x := f.transfer("alice", "bob", 1)
	x.Sudo = true
	code, _ = f.do(http.MethodPost, "/v1/extrinsics", x)
	require.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(http.MethodPost, "/v1/extrinsics", f.transfer("", "bob", 1))
	require.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(http.MethodPost, "/v1/extrinsics", f.transfer("alice", "bob", 1))
	require.Equal(t, http.StatusAccepted, code)
	code, _ = f.do(http.MethodPost, "/v1/extrinsics", f.transfer("alice", "bob", 1))
	require.Equal(t, http.StatusServiceUnavailable, code)
}

func TestBadParams(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 1)
	for _, path := range []string{
		"/v1/agenda/x",
		"/v1/tasks/zz",
		"/v1/funds/-1",
		"/v1/events?limit=-3",
	} {
		code, body := f.do(http.MethodGet, path, nil)
		require.Equal(t, http.StatusBadRequest, code, path)
		require.NotEmpty(t, body["error"], path)
	}
	code, _ := f.do(http.MethodGet, "/v1/funds/0", nil)
	require.Equal(t, http.StatusNotFound, code)
}

func TestEvents(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 1)

	count := func(path string) int {
		code, body := f.do(http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, code)
		return len(body["events"].([]any))
	}
	require.Equal(t, 3, count("/v1/events"))
	require.Equal(t, 2, count("/v1/events?limit=2"))
	require.Equal(t, 2, count("/v1/events?module=assets"))
	require.Equal(t, 1, count("/v1/events?limit=2&module=assets"))
}

func TestMetrics(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 1)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	f.h.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "trustchain_")
}
