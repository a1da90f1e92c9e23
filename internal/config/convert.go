package config

import (
	"fmt"
	"strings"
	"time"

	"trustchain/internal/chain"
	"trustchain/internal/observability/pprof"
	"trustchain/internal/runtime"
	"trustchain/internal/scheduler"
	"trustchain/internal/storage"
	"trustchain/internal/trustfund"
	logx "trustchain/pkg/logx"
)

const (
	DefaultBlockInterval  = 6 * time.Second
	DefaultMempoolSize    = 1024
	DefaultMaxExtrinsics  = 256
	DefaultRPCAddr        = "127.0.0.1:9933"
	DefaultEventHistory   = 512
	rpcDisabled           = "off"
	defaultLogLevel       = "info"
	defaultStorageDriver  = "memory"
	defaultSQLiteFileName = "trustchain.db"
	defaultPprofAddr      = "127.0.0.1:6060"
)

// Validate checks the fields that cannot be defaulted.
func (c *Config) Validate() error {
	if _, err := c.StorageConfig(); err != nil {
		return err
	}
	if _, err := c.NodeSettings(); err != nil {
		return err
	}
	if _, err := c.PprofConfig(); err != nil {
		return err
	}
	if _, err := logx.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	seen := map[string]bool{}
	for i, e := range c.Chain.Genesis {
		a := strings.TrimSpace(e.Account)
		if a == "" {
			return fmt.Errorf("chain.genesis[%d]: account required", i)
		}
		if seen[a] {
			return fmt.Errorf("chain.genesis[%d]: duplicate account %q", i, a)
		}
		seen[a] = true
	}
	if c.Scheduler.MaxTasksPerBlock < 0 {
		return fmt.Errorf("scheduler.max_tasks_per_block must be >= 0")
	}
	return nil
}

func (c *Config) LogConfig() logx.Config {
	level := strings.TrimSpace(c.Logging.Level)
	if level == "" {
		level = defaultLogLevel
	}
	return logx.Config{
		Level:   level,
		Console: c.Logging.Console,
		File:    logx.FileConfig{Enabled: c.Logging.File.Enabled, Path: c.Logging.File.Path},
	}
}

func (c *Config) StorageConfig() (storage.Config, error) {
	s := c.Storage
	driver := strings.ToLower(strings.TrimSpace(s.Driver))
	if driver == "" {
		driver = defaultStorageDriver
	}
	bt, err := duration("storage.busy_timeout", s.BusyTimeout, 0, 0)
	if err != nil {
		return storage.Config{}, err
	}
	path := strings.TrimSpace(s.Path)
	switch driver {
	case "sqlite", "sqlite3":
		if path == "" {
			path = defaultSQLiteFileName
		}
	case "file":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path required for driver %q", driver)
		}
	case "redis":
		if strings.TrimSpace(s.RedisURL) == "" {
			return storage.Config{}, fmt.Errorf("storage.redis_url required for driver %q", driver)
		}
	}
	if s.CacheSize < 0 {
		return storage.Config{}, fmt.Errorf("storage.cache_size must be >= 0")
	}
	return storage.Config{
		Driver:      driver,
		Path:        path,
		BusyTimeout: bt,
		RedisURL:    strings.TrimSpace(s.RedisURL),
		RedisPrefix: s.RedisPrefix,
		CacheSize:   s.CacheSize,
	}, nil
}

func (c *Config) RuntimeConfig() runtime.Config {
	genesis := make([]runtime.Endowment, 0, len(c.Chain.Genesis))
	for _, e := range c.Chain.Genesis {
		genesis = append(genesis, runtime.Endowment{Account: chain.AccountID(strings.TrimSpace(e.Account)), Amount: e.Amount})
	}
	return runtime.Config{
		Scheduler: scheduler.Config{
			MaxBlockWeight:   c.Scheduler.MaxBlockWeight,
			MaxTasksPerBlock: c.Scheduler.MaxTasksPerBlock,
			TaskBaseWeight:   c.Scheduler.TaskBaseWeight,
			RetireHorizon:    c.Scheduler.RetireHorizon,
		},
		TrustFund: trustfund.Config{
			DistributionDelay:    c.TrustFund.DistributionDelay,
			DistributionPriority: c.TrustFund.DistributionPriority,
		},
		Sudo:    chain.AccountID(strings.TrimSpace(c.Chain.Sudo)),
		Genesis: genesis,
	}
}

// NodeSettings is NodeConfig with defaults applied and durations parsed.
type NodeSettings struct {
	BlockInterval         time.Duration
	MempoolSize           int
	MaxExtrinsicsPerBlock int
	// RPCAddr is empty when RPC is disabled.
	RPCAddr      string
	EventHistory int
}

func (c *Config) NodeSettings() (NodeSettings, error) {
	n := c.Node
	iv, err := duration("node.block_interval", n.BlockInterval, DefaultBlockInterval, time.Second)
	if err != nil {
		return NodeSettings{}, err
	}
	s := NodeSettings{
		BlockInterval:         iv,
		MempoolSize:           n.MempoolSize,
		MaxExtrinsicsPerBlock: n.MaxExtrinsicsPerBlock,
		RPCAddr:               strings.TrimSpace(n.RPCAddr),
		EventHistory:          n.EventHistory,
	}
	if s.MempoolSize <= 0 {
		s.MempoolSize = DefaultMempoolSize
	}
	if s.MaxExtrinsicsPerBlock <= 0 {
		s.MaxExtrinsicsPerBlock = DefaultMaxExtrinsics
	}
	switch strings.ToLower(s.RPCAddr) {
	case "":
		s.RPCAddr = DefaultRPCAddr
	case rpcDisabled:
		s.RPCAddr = ""
	}
	if s.EventHistory <= 0 {
		s.EventHistory = DefaultEventHistory
	}
	return s, nil
}

// PprofConfig converts the pprof section. A disabled section yields a
// config with an empty Addr.
func (c *Config) PprofConfig() (pprof.Config, error) {
	p := c.Pprof
	if !p.Enabled {
		return pprof.Config{}, nil
	}
	out := pprof.Config{
		Addr:                 strings.TrimSpace(p.Addr),
		Prefix:               strings.TrimSpace(p.Prefix),
		Token:                strings.TrimSpace(p.Token),
		AllowInsecure:        p.AllowInsecure,
		MutexProfileFraction: p.MutexProfileFraction,
		BlockProfileRate:     p.BlockProfileRate,
	}
	if out.Addr == "" {
		out.Addr = defaultPprofAddr
	}
	if err := out.Validate(); err != nil {
		return pprof.Config{}, fmt.Errorf("pprof: %w", err)
	}
	return out, nil
}
