// Package rpc is the node's HTTP API.
package rpc

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"trustchain/internal/chain"
	"trustchain/internal/runtime"
	"trustchain/internal/scheduler"
	"trustchain/internal/trustfund"
	logx "trustchain/pkg/logx"
)

// Backend is what the API serves.
type Backend interface {
	Submit(x runtime.Extrinsic) error
	Head() chain.Header
	MempoolLen() int
	Events(limit int) []chain.Event
	Balance(ctx context.Context, a chain.AccountID) (uint64, bool, error)
	Fund(ctx context.Context, id uint64) (trustfund.Fund, error)
	AgendaSlot(ctx context.Context, n chain.BlockNumber) ([]scheduler.Entry, error)
	Task(ctx context.Context, id scheduler.TaskID) (scheduler.Entry, bool, error)
}

type Server struct {
	addr   string
	engine *gin.Engine
	log    logx.Logger
}

// New builds the API. gatherer backs /metrics; nil leaves it out.
func New(addr string, b Backend, gatherer prometheus.Gatherer, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	gin.SetMode(gin.ReleaseMode)
	e := gin.New()
	e.Use(gin.Recovery(), requestLog(log))

	h := &handlers{b: b}
	v1 := e.Group("/v1")
	v1.POST("/extrinsics", h.submit)
	v1.GET("/head", h.head)
	v1.GET("/agenda/:block", h.agenda)
	v1.GET("/tasks/:id", h.task)
	v1.GET("/funds/:id", h.fund)
	v1.GET("/balances/:account", h.balance)
	v1.GET("/events", h.events)
	e.GET("/healthz", h.health)
	if gatherer != nil {
		e.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	return &Server{addr: addr, engine: e, log: log}
}

// Handler exposes the router, for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
	s.log.Info("rpc listening", logx.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func requestLog(log logx.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("rpc request",
			logx.String("method", c.Request.Method),
			logx.String("path", c.FullPath()),
			logx.Int("status", c.Writer.Status()),
			logx.Duration("took", time.Since(start)),
		)
	}
}
