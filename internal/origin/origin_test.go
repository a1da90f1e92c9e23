package origin

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"trustchain/internal/chain"
	"trustchain/internal/state"
)

type accounts map[chain.AccountID]bool

func (a accounts) AccountExists(_ context.Context, _ state.Reader, id chain.AccountID) (bool, error) {
	if id == "broken" {
		return false, errors.New("io")
	}
	return a[id], nil
}

type funds map[uint64]chain.AccountID

func (f funds) FundAccount(_ context.Context, _ state.Reader, id uint64) (chain.AccountID, bool, error) {
	a, ok := f[id]
	return a, ok, nil
}

func TestResolve(t *testing.T) {
	t.Parallel()
	r := NewResolver(accounts{"alice": true}, funds{7: "trustfund:7"})
	tests := []struct {
		name  string
		owner Owner
		want  chain.Origin
		fail  bool
	}{
		{name: "root", owner: Root(), want: chain.RootOrigin()},
		{name: "signed existing", owner: Signed("alice"), want: chain.SignedOrigin("alice")},
		{name: "signed gone", owner: Signed("bob"), fail: true},
		{name: "signed lookup error", owner: Signed("broken"), fail: true},
		{name: "fund existing", owner: Fund(7), want: chain.SignedOrigin("trustfund:7")},
		{name: "fund missing", owner: Fund(8), fail: true},
		{name: "zero owner", owner: Owner{}, fail: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := r.Resolve(context.Background(), nil, tt.owner)
			if tt.fail {
				require.ErrorIs(t, err, ErrOriginResolutionFailed)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestResolveWithoutDirectoriesFailsClosed(t *testing.T) {
	t.Parallel()
	r := NewResolver(nil, nil)
	_, err := r.Resolve(context.Background(), nil, Signed("alice"))
	require.ErrorIs(t, err, ErrOriginResolutionFailed)
	_, err = r.Resolve(context.Background(), nil, Fund(1))
	require.ErrorIs(t, err, ErrOriginResolutionFailed)
}

func TestAuthorize(t *testing.T) {
	t.Parallel()
	require.NoError(t, Authorize(chain.RootOrigin(), Fund(3)))
	require.NoError(t, Authorize(chain.RootOrigin(), Signed("bob")))
	require.NoError(t, Authorize(chain.SignedOrigin("alice"), Signed("alice")))

	require.ErrorIs(t, Authorize(chain.SignedOrigin("alice"), Signed("bob")), chain.ErrUnauthorized)
	require.ErrorIs(t, Authorize(chain.SignedOrigin("alice"), Root()), chain.ErrUnauthorized)
	require.ErrorIs(t, Authorize(chain.SignedOrigin("alice"), Fund(1)), chain.ErrUnauthorized)
	require.ErrorIs(t, Authorize(chain.NoneOrigin(), Signed("alice")), chain.ErrUnauthorized)
	require.ErrorIs(t, Authorize(chain.RootOrigin(), Signed("")), ErrInvalidOwner)
}

func TestOwnerString(t *testing.T) {
	t.Parallel()
	require.Equal(t, "signed:alice", Signed("alice").String())
	require.Equal(t, "fund:12", Fund(12).String())
	require.Equal(t, "root", Root().String())
	require.Equal(t, "invalid", Owner{}.String())
}
