// Package app wires configuration, logging, storage, the runtime, the node
// and the RPC server into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"trustchain/internal/config"
	"trustchain/internal/eventbus"
	"trustchain/internal/node"
	"trustchain/internal/observability/pprof"
	"trustchain/internal/rpc"
	"trustchain/internal/runtime"
	"trustchain/internal/runtime/supervisor"
	"trustchain/internal/scheduler"
	"trustchain/internal/storage"
	logx "trustchain/pkg/logx"
)

const metricsNamespace = "trustchain"

type App struct {
	cfgm *config.Manager
	log  logx.Logger
	logs *logx.Service

	kv   storage.KV
	bus  eventbus.Bus[runtime.Receipt]
	reg  *prometheus.Registry
	rt   *runtime.Runtime
	node *node.Node
	rpc  *rpc.Server
	prof *pprof.Service

	sup *supervisor.Supervisor
}

// New loads the config at cfgPath and builds every component. Nothing runs
// until Start.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	a, err := build(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.cfgm = cfgm
	cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	return a, nil
}

func build(ctx context.Context, cfg *config.Config) (*App, error) {
	logs, log := logx.New(cfg.LogConfig())
	a := &App{log: log.With(logx.String("comp", "app")), logs: logs}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	sc, err := cfg.StorageConfig()
	if err != nil {
		return nil, err
	}
	if a.kv, err = storage.Open(sc, log.With(logx.String("comp", "storage"))); err != nil {
		return nil, err
	}
	ns, err := cfg.NodeSettings()
	if err != nil {
		return nil, err
	}

	a.reg = prometheus.NewRegistry()
	a.reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	schedObs, err := scheduler.NewPrometheusObserver(metricsNamespace, a.reg)
	if err != nil {
		return nil, err
	}
	rtObs, err := runtime.NewPrometheusObserver(metricsNamespace, a.reg)
	if err != nil {
		return nil, err
	}

	a.bus = eventbus.New[runtime.Receipt]()
	a.rt, err = runtime.New(ctx, cfg.RuntimeConfig(), a.kv,
		runtime.WithLogger(log.With(logx.String("comp", "runtime"))),
		runtime.WithBus(a.bus),
		runtime.WithObserver(rtObs),
		runtime.WithSchedulerObserver(schedObs),
	)
	if err != nil {
		return nil, err
	}
	a.node = node.New(a.rt, node.Config{
		BlockInterval:         ns.BlockInterval,
		MempoolSize:           ns.MempoolSize,
		MaxExtrinsicsPerBlock: ns.MaxExtrinsicsPerBlock,
		EventHistory:          ns.EventHistory,
	}, node.WithLogger(log.With(logx.String("comp", "node"))))
	if ns.RPCAddr != "" {
		a.rpc = rpc.New(ns.RPCAddr, a.node, a.reg, log.With(logx.String("comp", "rpc")))
	}
	pc, err := cfg.PprofConfig()
	if err != nil {
		return nil, err
	}
	a.prof = pprof.New(pc, log.With(logx.String("comp", "pprof")))
	a.log.Info("app built",
		logx.String("storage", sc.Driver),
		logx.Duration("block_interval", ns.BlockInterval),
		logx.String("rpc", ns.RPCAddr),
	)
	ok = true
	return a, nil
}

func (a *App) Node() *node.Node { return a.node }

func (a *App) Runtime() *runtime.Runtime { return a.rt }

// Done is closed when the app stops, on Stop or on a fatal error.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("app already started")
	}
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.sup.Go("node.events", func(c context.Context) error { return a.node.Feed(c, a.bus) })
	a.sup.Go("node.producer", a.node.Run)
	if a.rpc != nil {
		a.sup.Go("rpc", a.rpc.Run)
	}
	a.sup.GoRestart("pprof", a.prof.Run, 500*time.Millisecond, 10*time.Second)
	if a.cfgm != nil {
		a.sup.GoRestart("config.watch", a.cfgm.Watch, 250*time.Millisecond, 30*time.Second)
		sub := a.cfgm.Subscribe(4)
		a.sup.Go("config.reload", func(c context.Context) error {
			defer a.cfgm.Unsubscribe(sub)
			return a.reloadLoop(c, sub)
		})
	}

	sdNotify(a.log, daemon.SdNotifyReady)
	a.log.Info("app started", logx.Uint64("head", uint64(a.rt.Head().Number)))
	return nil
}

// reloadLoop applies hot-reloadable config sections.
func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) error {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return nil
		case cfg, ok := <-sub:
			if !ok {
				return nil
			}
			changed, restart, attrs := config.SummarizeChange(last, cfg)
			last = cfg
			if len(changed) == 0 {
				a.log.Debug("config reloaded (no changes)")
				continue
			}
			if err := a.logs.Apply(cfg.LogConfig()); err != nil {
				a.log.Warn("logging config partly applied", logx.Err(err))
			}
			if len(restart) > 0 {
				a.log.Warn("config changes need a restart to take effect", logx.String("sections", strings.Join(restart, ",")))
			}
			fields := append([]logx.Field{logx.String("changed", strings.Join(changed, ","))}, attrs...)
			a.log.Info("config reloaded", fields...)
		}
	}
}

// Stop shuts everything down within ctx.
func (a *App) Stop(ctx context.Context) error {
	sdNotify(a.log, daemon.SdNotifyStopping)
	var err error
	if a.sup != nil {
		a.log.Info("stopping")
		if serr := a.sup.Stop(ctx); serr != nil && !errors.Is(serr, context.Canceled) {
			err = fmt.Errorf("stop: %w", serr)
		}
	}
	a.log.Info("stopped", logx.Uint64("head", uint64(a.rt.Head().Number)))
	if cerr := a.close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func (a *App) close() error {
	var err error
	if a.kv != nil {
		err = a.kv.Close()
		a.kv = nil
	}
	if a.logs != nil {
		_ = a.logs.Close()
		a.logs = nil
	}
	return err
}
