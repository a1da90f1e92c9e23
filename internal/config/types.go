package config

// Config is the node configuration file (JSON or YAML).
//
// The logging and pprof sections are applied on hot reload; every other
// section is read at startup.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Chain     ChainConfig     `json:"chain"`
	Scheduler SchedulerConfig `json:"scheduler"`
	TrustFund TrustFundConfig `json:"trustfund"`
	Node      NodeConfig      `json:"node"`
	Pprof     PprofConfig     `json:"pprof"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the state backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./trustchain.db", "cache_size": 4096 }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	RedisURL    string `json:"redis_url,omitempty"`    // may carry a password (do not log)
	RedisPrefix string `json:"redis_prefix,omitempty"`
	CacheSize   int    `json:"cache_size,omitempty"`
}

type Endowment struct {
	Account string `json:"account"`
	Amount  uint64 `json:"amount"`
}

type ChainConfig struct {
	Sudo    string      `json:"sudo"`
	Genesis []Endowment `json:"genesis,omitempty"`
}

// SchedulerConfig mirrors scheduler.Config. Zero values take the
// scheduler's defaults.
type SchedulerConfig struct {
	MaxBlockWeight   uint64 `json:"max_block_weight,omitempty"`
	MaxTasksPerBlock int    `json:"max_tasks_per_block,omitempty"`
	TaskBaseWeight   uint64 `json:"task_base_weight,omitempty"`
	RetireHorizon    uint64 `json:"retire_horizon,omitempty"`
}

type TrustFundConfig struct {
	DistributionDelay    uint64 `json:"distribution_delay,omitempty"`
	DistributionPriority uint8  `json:"distribution_priority,omitempty"`
}

// NodeConfig controls the devnet node.
//
// Defaults:
//   - block_interval: "6s"
//   - mempool_size: 1024
//   - max_extrinsics_per_block: 256
//   - rpc_addr: "127.0.0.1:9933" ("" keeps the default; "off" disables RPC)
//   - event_history: 512
type NodeConfig struct {
	BlockInterval         string `json:"block_interval,omitempty"`
	MempoolSize           int    `json:"mempool_size,omitempty"`
	MaxExtrinsicsPerBlock int    `json:"max_extrinsics_per_block,omitempty"`
	RPCAddr               string `json:"rpc_addr,omitempty"`
	EventHistory          int    `json:"event_history,omitempty"`
}

// PprofConfig enables the profiler listener. It binds to loopback unless a
// token or allow_insecure is set.
type PprofConfig struct {
	Enabled              bool   `json:"enabled"`
	Addr                 string `json:"addr,omitempty"`
	Prefix               string `json:"prefix,omitempty"`
	Token                string `json:"token,omitempty"` // do not log
	AllowInsecure        bool   `json:"allow_insecure,omitempty"`
	MutexProfileFraction int    `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int    `json:"block_profile_rate,omitempty"`
}
