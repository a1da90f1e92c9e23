package storage

import (
	"fmt"
	"strings"

	logx "trustchain/pkg/logx"
)

// Open initializes the configured backend.
func Open(cfg Config, log logx.Logger) (KV, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))

	var (
		kv  KV
		err error
	)
	switch driver {
	case "", "memory":
		kv = NewMemory()
	case "file":
		kv, err = openFile(cfg, log)
	case "sqlite", "sqlite3":
		kv, err = openSQLite(cfg, log)
	case "redis":
		kv, err = openRedis(cfg, log)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, driver)
	}
	if err != nil {
		return nil, err
	}
	if cfg.CacheSize > 0 {
		return NewCached(kv, cfg.CacheSize)
	}
	return kv, nil
}
