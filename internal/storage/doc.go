// Package storage provides the durable key/value backends that block state
// is committed to.
//
// It currently supports:
//   - memory (tests, throwaway devnets)
//   - file   (snapshot + append-only journal, no dependencies)
//   - sqlite (modernc.org/sqlite, pure Go)
//   - redis  (shared state for tooling that inspects a running node)
//
// Every backend applies a block's change set atomically: either all of a
// block's writes become visible or none do.
package storage
