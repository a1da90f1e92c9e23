// Package pprof serves the Go profiler for a running node.
package pprof

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"runtime"
	"strings"
	"sync"
	"time"

	logx "trustchain/pkg/logx"
)

const DefaultPrefix = "/debug/pprof/"

// Config controls the profiler listener. An empty Addr disables it.
//
// Binding to a non-loopback address requires Token or AllowInsecure.
type Config struct {
	Addr          string
	Prefix        string
	Token         string
	AllowInsecure bool

	MutexProfileFraction int
	BlockProfileRate     int
}

func (c Config) Enabled() bool { return strings.TrimSpace(c.Addr) != "" }

// Validate rejects addresses that cannot be bound safely.
func (c Config) Validate() error {
	if !c.Enabled() {
		return nil
	}
	if _, _, err := net.SplitHostPort(c.Addr); err != nil {
		return fmt.Errorf("invalid addr %q (expected host:port): %w", c.Addr, err)
	}
	if !c.AllowInsecure && c.Token == "" && !IsLoopback(c.Addr) {
		return errors.New("binding to a non-loopback addr requires a token or allow_insecure")
	}
	if c.MutexProfileFraction < 0 || c.BlockProfileRate < 0 {
		return errors.New("profile rates must be >= 0")
	}
	return nil
}

// Service runs the listener and restarts it when the config changes.
type Service struct {
	log logx.Logger

	mu      sync.Mutex
	cfg     Config
	addr    string
	changed chan struct{}
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, log: log, changed: make(chan struct{}, 1)}
}

func (s *Service) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Addr is the bound listener address, empty while not serving.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Service) setAddr(a string) {
	s.mu.Lock()
	s.addr = a
	s.mu.Unlock()
}

// Reconfigure swaps the config. A running listener picks it up on its
// next loop; an unchanged config is ignored.
func (s *Service) Reconfigure(cfg Config) {
	s.mu.Lock()
	same := s.cfg == cfg
	s.cfg = cfg
	s.mu.Unlock()
	if same {
		return
	}
	select {
	case s.changed <- struct{}{}:
	default:
	}
}

// Run serves until ctx is done. Config changes restart the listener in
// place; a listener failure is returned so the caller can retry.
func (s *Service) Run(ctx context.Context) error {
	for {
		cfg := s.Config()
		applyRuntimeRates(cfg)

		runCtx, cancel := context.WithCancel(ctx)
		var errCh chan error
		if cfg.Enabled() {
			errCh = make(chan error, 1)
			go func() { errCh <- s.serve(runCtx, cfg) }()
		}

		select {
		case <-ctx.Done():
			cancel()
			if errCh != nil {
				<-errCh
			}
			return nil
		case <-s.changed:
			cancel()
			if errCh != nil {
				<-errCh
			}
			s.log.Info("pprof reconfigured", logx.Bool("enabled", s.Config().Enabled()))
		case err := <-errCh:
			cancel()
			return err
		}
	}
}

func (s *Service) serve(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		s.log.Error("pprof refused to start", logx.String("addr", cfg.Addr), logx.Err(err))
		return err
	}
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("pprof listen: %w", err)
	}
	s.setAddr(ln.Addr().String())
	defer s.setAddr("")
	srv := &http.Server{
		Handler:           Handler(cfg),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	if cfg.AllowInsecure && cfg.Token == "" && !IsLoopback(cfg.Addr) {
		s.log.Warn("pprof running without token on non-loopback addr", logx.String("addr", cfg.Addr))
	}
	prefix := normalizePrefix(cfg.Prefix)
	s.log.Info("pprof started",
		logx.String("addr", ln.Addr().String()),
		logx.String("prefix", prefix),
		logx.Bool("token_set", cfg.Token != ""),
	)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.log.Info("pprof stopped")
	return nil
}

// Handler builds the profiler routes for cfg.
func Handler(cfg Config) http.Handler {
	prefix := normalizePrefix(cfg.Prefix)
	base := strings.TrimSuffix(prefix, "/")
	wrap := func(h http.HandlerFunc) http.HandlerFunc { return withAuth(cfg.Token, h) }

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", wrap(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	mux.HandleFunc(prefix, wrap(indexAt(prefix)))
	mux.HandleFunc(base+"/cmdline", wrap(hpprof.Cmdline))
	mux.HandleFunc(base+"/profile", wrap(hpprof.Profile))
	mux.HandleFunc(base+"/symbol", wrap(hpprof.Symbol))
	mux.HandleFunc(base+"/trace", wrap(hpprof.Trace))
	mux.HandleFunc(base, func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, prefix, http.StatusPermanentRedirect)
	})
	return mux
}

func applyRuntimeRates(cfg Config) {
	runtime.SetMutexProfileFraction(cfg.MutexProfileFraction)
	runtime.SetBlockProfileRate(cfg.BlockProfileRate)
}

// withAuth accepts "Authorization: Bearer <token>" or ?token=<token>.
func withAuth(token string, h http.HandlerFunc) http.HandlerFunc {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("token")
		if got == "" {
			if ah, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
				got = strings.TrimSpace(ah)
			}
		}
		if got != tok {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h(w, r)
	}
}

func normalizePrefix(prefix string) string {
	p := strings.TrimSpace(prefix)
	if p == "" {
		return DefaultPrefix
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

// net/http/pprof.Index assumes /debug/pprof/; rewrite the path for custom
// prefixes.
func indexAt(prefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r2 := r.Clone(r.Context())
		r2.URL.Path = DefaultPrefix + strings.TrimPrefix(r.URL.Path, prefix)
		hpprof.Index(w, r2)
	}
}

// IsLoopback reports whether addr binds to a loopback host. An empty host
// means every interface.
func IsLoopback(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
