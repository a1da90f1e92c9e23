package state

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type mapReader map[string][]byte

func (m mapReader) Get(_ context.Context, key []byte) ([]byte, bool, error) {
	v, ok := m[string(key)]
	return v, ok, nil
}

func TestOverlayReadsThroughAndShadows(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	base := mapReader{"a": []byte("1"), "b": []byte("2")}
	ov := NewOverlay(base)

	v, ok, err := ov.Get(ctx, []byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("1"), v)

	ov.Put([]byte("a"), []byte("x"))
	ov.Delete([]byte("b"))

	v, ok, _ = ov.Get(ctx, []byte("a"))
	require.True(t, ok)
	require.Equal(t, []byte("x"), v)
	_, ok, _ = ov.Get(ctx, []byte("b"))
	require.False(t, ok)

	// parent untouched until the overlay is applied
	require.Equal(t, []byte("2"), base["b"])
}

func TestOverlayChangesAreSorted(t *testing.T) {
	t.Parallel()
	ov := NewOverlay(nil)
	ov.Put([]byte("c"), []byte("3"))
	ov.Put([]byte("a"), []byte("1"))
	ov.Delete([]byte("b"))

	ch := ov.Changes()
	require.Len(t, ch, 3)
	require.Equal(t, "a", string(ch[0].Key))
	require.Equal(t, "b", string(ch[1].Key))
	require.True(t, ch[1].Delete)
	require.Equal(t, "c", string(ch[2].Key))
}

func TestOverlayForkApplyAndDiscard(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	root := NewOverlay(nil)
	root.Put([]byte("k"), []byte("v0"))

	kept := root.Fork()
	kept.Put([]byte("k"), []byte("v1"))
	kept.ApplyTo(root)
	require.Zero(t, kept.Len())

	dropped := root.Fork()
	dropped.Put([]byte("k"), []byte("v2"))
	dropped.Put([]byte("other"), []byte("x"))
	dropped.Discard()

	v, _, _ := root.Get(ctx, []byte("k"))
	require.Equal(t, []byte("v1"), v)
	_, ok, _ := root.Get(ctx, []byte("other"))
	require.False(t, ok)
}

func TestPutCopiesValue(t *testing.T) {
	t.Parallel()
	ov := NewOverlay(nil)
	buf := []byte("abc")
	ov.Put([]byte("k"), buf)
	buf[0] = 'z'
	v, _, _ := ov.Get(context.Background(), []byte("k"))
	require.Equal(t, []byte("abc"), v)
}

type sample struct {
	N    uint64
	Name string
	Tags []string
}

func TestValueHelpers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ov := NewOverlay(nil)
	key := Key("test", []byte("x"), U64(7))

	_, ok, err := GetValue[sample](ctx, ov, key)
	require.NoError(t, err)
	require.False(t, ok)

	in := sample{N: 42, Name: "n", Tags: []string{"a", "b"}}
	require.NoError(t, PutValue(ov, key, in))
	out, ok, err := GetValue[sample](ctx, ov, key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, in, out)

	ov.Put(key, []byte{0x01})
	_, _, err = GetValue[sample](ctx, ov, key)
	require.ErrorIs(t, err, ErrCorrupt)
}

type (
	height uint64
	label  string
	flag   bool
)

func TestNamedScalarValues(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ov := NewOverlay(nil)

	require.NoError(t, PutValue(ov, []byte("h"), height(1234)))
	h, ok, err := GetValue[height](ctx, ov, []byte("h"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, height(1234), h)

	require.NoError(t, PutValue(ov, []byte("l"), label("trustfund:0")))
	l, _, err := GetValue[label](ctx, ov, []byte("l"))
	require.NoError(t, err)
	require.Equal(t, label("trustfund:0"), l)

	require.NoError(t, PutValue(ov, []byte("f"), flag(true)))
	f, _, err := GetValue[flag](ctx, ov, []byte("f"))
	require.NoError(t, err)
	require.True(t, bool(f))

	ov.Put([]byte("h"), []byte{0x01})
	_, _, err = GetValue[height](ctx, ov, []byte("h"))
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestU64KeysSortNumerically(t *testing.T) {
	t.Parallel()
	a := string(Key("agenda", U64(9)))
	b := string(Key("agenda", U64(10)))
	require.Less(t, a, b)
	require.Equal(t, "p/a/b", string(Key("p", []byte("a"), []byte("b"))))
}
