package storage

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"trustchain/internal/state"
	logx "trustchain/pkg/logx"
)

func put(k, v string) state.Change { return state.Change{Key: []byte(k), Value: []byte(v)} }

func del(k string) state.Change { return state.Change{Key: []byte(k), Delete: true} }

func requireValue(t *testing.T, kv KV, key, want string) {
	t.Helper()
	v, ok, err := kv.Get(context.Background(), []byte(key))
	require.NoError(t, err)
	require.True(t, ok, "key %q missing", key)
	require.Equal(t, want, string(v))
}

func requireMissing(t *testing.T, kv KV, key string) {
	t.Helper()
	_, ok, err := kv.Get(context.Background(), []byte(key))
	require.NoError(t, err)
	require.False(t, ok, "key %q present", key)
}

// exercise runs the common contract against an open backend.
func exercise(t *testing.T, kv KV) {
	t.Helper()
	ctx := context.Background()
	requireMissing(t, kv, "a")
	require.NoError(t, kv.Commit(ctx, []state.Change{put("a", "1"), put("b", "2")}))
	require.NoError(t, kv.Commit(ctx, []state.Change{put("a", "3"), del("b"), put("c", "4")}))
	require.NoError(t, kv.Commit(ctx, nil))
	requireValue(t, kv, "a", "3")
	requireMissing(t, kv, "b")
	requireValue(t, kv, "c", "4")
}

func TestMemory(t *testing.T) {
	t.Parallel()
	kv := NewMemory()
	exercise(t, kv)
	require.NoError(t, kv.Close())
	_, _, err := kv.Get(context.Background(), []byte("a"))
	require.ErrorIs(t, err, ErrClosed)
}

func TestPersistentBackendsSurviveReopen(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			cfg := Config{Driver: driver, Path: filepath.Join(t.TempDir(), "state.db")}
			kv, err := Open(cfg, logx.Nop())
			require.NoError(t, err)
			exercise(t, kv)
			require.NoError(t, kv.Close())

			kv, err = Open(cfg, logx.Nop())
			require.NoError(t, err)
			defer kv.Close()
			requireValue(t, kv, "a", "3")
			requireMissing(t, kv, "b")
			requireValue(t, kv, "c", "4")
		})
	}
}

func TestFileCompactionKeepsState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := Config{Driver: "file", Path: filepath.Join(t.TempDir(), "chain.json")}
	kv, err := Open(cfg, logx.Nop())
	require.NoError(t, err)
	for i := 0; i < compactEvery+3; i++ {
		require.NoError(t, kv.Commit(ctx, []state.Change{put("n", strconv.Itoa(i))}))
	}
	require.NoError(t, kv.Close())

	_, err = os.Stat(filepath.Join(filepath.Dir(cfg.Path), "chain.snapshot.json"))
	require.NoError(t, err)

	kv, err = Open(cfg, logx.Nop())
	require.NoError(t, err)
	defer kv.Close()
	requireValue(t, kv, "n", strconv.Itoa(compactEvery+2))
}

func TestFileSkipsTornJournalTail(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := Config{Driver: "file", Path: filepath.Join(t.TempDir(), "chain.json")}
	kv, err := Open(cfg, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, kv.Commit(ctx, []state.Change{put("a", "1")}))
	require.NoError(t, kv.Close())

	jf, err := os.OpenFile(filepath.Join(filepath.Dir(cfg.Path), "chain.journal.jsonl"), os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = jf.WriteString(`{"changes":[{"k":"62","v":`)
	require.NoError(t, err)
	require.NoError(t, jf.Close())

	kv, err = Open(cfg, logx.Nop())
	require.NoError(t, err)
	defer kv.Close()
	requireValue(t, kv, "a", "1")
	requireMissing(t, kv, "b")
}

func TestCachedIsWriteThrough(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	inner := NewMemory()
	kv, err := NewCached(inner, 2)
	require.NoError(t, err)
	exercise(t, kv)

	requireValue(t, inner, "a", "3")
	requireMissing(t, inner, "b")
	require.NoError(t, kv.Commit(ctx, []state.Change{del("a")}))
	requireMissing(t, kv, "a")
	require.NoError(t, kv.Close())
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	t.Parallel()
	_, err := Open(Config{Driver: "bolt"}, logx.Nop())
	require.ErrorIs(t, err, ErrUnknownDriver)

	_, err = Open(Config{Driver: "file"}, logx.Nop())
	require.Error(t, err)
}

func TestRedis(t *testing.T) {
	url := os.Getenv("TRUSTCHAIN_TEST_REDIS_URL")
	if url == "" {
		t.Skip("TRUSTCHAIN_TEST_REDIS_URL not set")
	}
	kv, err := Open(Config{Driver: "redis", RedisURL: url, RedisPrefix: "trustchain-test/" + t.Name() + "/"}, logx.Nop())
	require.NoError(t, err)
	defer kv.Close()
	exercise(t, kv)
	require.NoError(t, kv.Commit(context.Background(), []state.Change{del("a"), del("c")}))
}
