package storage

import (
	"context"
	"errors"
	"time"

	"trustchain/internal/state"
)

var (
	ErrClosed        = errors.New("storage closed")
	ErrUnknownDriver = errors.New("unknown storage driver")
)

// KV is the persistence API used by the runtime.
type KV interface {
	state.Reader
	// Commit applies changes atomically.
	Commit(ctx context.Context, changes []state.Change) error
	Close() error
}

// Config configures storage.
//
// Driver values:
//   - "memory": in-process map, lost on exit
//   - "file": dependency-free file backend (jsonl journal + snapshot)
//   - "sqlite": SQLite database file
//   - "redis": Redis server at RedisURL, keys under RedisPrefix
//
// If Driver is empty, "memory" is used.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	RedisURL    string
	RedisPrefix string
	// CacheSize enables a write-through LRU read cache of that many keys.
	CacheSize int
}
