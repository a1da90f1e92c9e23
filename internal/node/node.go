// Package node runs a single-authority devnet on top of the runtime: a
// mempool, a block producer ticking on a cron schedule and a history of
// recent events.
package node

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"trustchain/internal/chain"
	"trustchain/internal/eventbus"
	"trustchain/internal/runtime"
	"trustchain/internal/scheduler"
	"trustchain/internal/trustfund"
	logx "trustchain/pkg/logx"
)

type Config struct {
	BlockInterval         time.Duration
	MempoolSize           int
	MaxExtrinsicsPerBlock int
	EventHistory          int
}

type Node struct {
	cfg  Config
	rt   *runtime.Runtime
	pool *Mempool
	log  logx.Logger

	events *eventbus.Ring[chain.Event]
	now    func() time.Time

	// produceMu serializes block production between cron ticks and
	// ProduceBlock callers.
	produceMu sync.Mutex
}

type Option func(*Node)

func WithLogger(log logx.Logger) Option { return func(n *Node) { n.log = log } }

// WithClock replaces the wall clock used for block timestamps.
func WithClock(now func() time.Time) Option { return func(n *Node) { n.now = now } }

func New(rt *runtime.Runtime, cfg Config, opts ...Option) *Node {
	if cfg.BlockInterval <= 0 {
		cfg.BlockInterval = 6 * time.Second
	}
	if cfg.MaxExtrinsicsPerBlock <= 0 {
		cfg.MaxExtrinsicsPerBlock = 256
	}
	n := &Node{
		cfg:    cfg,
		rt:     rt,
		pool:   NewMempool(cfg.MempoolSize),
		events: eventbus.NewRing[chain.Event](cfg.EventHistory),
		now:    time.Now,
	}
	for _, o := range opts {
		o(n)
	}
	if n.log.IsZero() {
		n.log = logx.Nop()
	}
	return n
}

// Submit validates x and queues it for the next block.
func (n *Node) Submit(x runtime.Extrinsic) error {
	if err := n.rt.Validate(x); err != nil {
		return err
	}
	return n.pool.Submit(x)
}

// ProduceBlock builds a block from the mempool on top of the head and
// imports it. Extrinsics of a block that fails to import go back to the pool.
func (n *Node) ProduceBlock(ctx context.Context) (runtime.Receipt, error) {
	n.produceMu.Lock()
	defer n.produceMu.Unlock()

	head := n.rt.Head()
	ts := chain.Moment(n.now().UnixMilli())
	if ts < head.Timestamp {
		ts = head.Timestamp
	}
	xs := n.pool.Take(n.cfg.MaxExtrinsicsPerBlock)
	rec, err := n.rt.ExecuteBlock(ctx, runtime.Block{
		Header:     chain.Header{Number: head.Number + 1, Timestamp: ts},
		Extrinsics: xs,
	})
	if err != nil {
		n.pool.Requeue(xs)
		return runtime.Receipt{}, err
	}
	return rec, nil
}

// Run produces a block every BlockInterval until ctx is done.
func (n *Node) Run(ctx context.Context) error {
	cl := cronLogger{log: n.log}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	c.Schedule(cron.Every(n.cfg.BlockInterval), cron.FuncJob(func() {
		rec, err := n.ProduceBlock(ctx)
		if err != nil {
			if ctx.Err() == nil {
				n.log.Error("block production failed", logx.Err(err))
			}
			return
		}
		n.log.Info("block produced",
			logx.Block(rec.Header.Number),
			logx.Int("extrinsics", len(rec.Results)),
			logx.Int("agenda", rec.Agenda.Executed),
			logx.Int("deferred", rec.Agenda.Deferred),
		)
	}))
	c.Start()
	n.log.Info("block producer started", logx.Duration("interval", n.cfg.BlockInterval), logx.Uint64("head", uint64(n.rt.Head().Number)))

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// Feed records the events of every receipt published on bus until ctx is
// done.
func (n *Node) Feed(ctx context.Context, bus eventbus.Bus[runtime.Receipt]) error {
	ch, unsubscribe := bus.Subscribe(64)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case rec, ok := <-ch:
			if !ok {
				return fmt.Errorf("receipt feed closed")
			}
			n.events.Add(rec.Events...)
		}
	}
}

// Events returns up to limit recent events, oldest first.
func (n *Node) Events(limit int) []chain.Event { return n.events.Last(limit) }

func (n *Node) MempoolLen() int { return n.pool.Len() }

func (n *Node) Head() chain.Header { return n.rt.Head() }

func (n *Node) Balance(ctx context.Context, a chain.AccountID) (uint64, bool, error) {
	return n.rt.Balance(ctx, a)
}

func (n *Node) Fund(ctx context.Context, id uint64) (trustfund.Fund, error) {
	return n.rt.Fund(ctx, id)
}

func (n *Node) AgendaSlot(ctx context.Context, b chain.BlockNumber) ([]scheduler.Entry, error) {
	return n.rt.AgendaSlot(ctx, b)
}

func (n *Node) Task(ctx context.Context, id scheduler.TaskID) (scheduler.Entry, bool, error) {
	return n.rt.Task(ctx, id)
}
