package trustfund

import (
	"context"
	"fmt"
	"sort"

	"trustchain/internal/chain"
	"trustchain/internal/state"
)

const (
	prefixFund = "fund/record"
	keyNextID  = "fund/next"
	keyActive  = "fund/active"
)

func fundKey(id uint64) []byte { return state.Key(prefixFund, state.U64(id)) }

// Load returns fund id.
func Load(ctx context.Context, r state.Reader, id uint64) (Fund, error) {
	f, ok, err := state.GetValue[Fund](ctx, r, fundKey(id))
	if err != nil {
		return Fund{}, err
	}
	if !ok {
		return Fund{}, fmt.Errorf("%w: %d", ErrFundNotFound, id)
	}
	return f, nil
}

func save(w state.Writer, f Fund) error {
	return state.PutValue(w, fundKey(f.ID), f)
}

func nextID(ctx context.Context, rw state.ReadWriter) (uint64, error) {
	n, _, err := state.GetValue[uint64](ctx, rw, []byte(keyNextID))
	if err != nil {
		return 0, err
	}
	return n, state.PutValue(rw, []byte(keyNextID), n+1)
}

// ActiveFunds lists the ids of Active funds in ascending order.
func ActiveFunds(ctx context.Context, r state.Reader) ([]uint64, error) {
	ids, _, err := state.GetValue[[]uint64](ctx, r, []byte(keyActive))
	return ids, err
}

func addActive(ctx context.Context, rw state.ReadWriter, id uint64) error {
	ids, err := ActiveFunds(ctx, rw)
	if err != nil {
		return err
	}
	i := sort.Search(len(ids), func(i int) bool { return ids[i] >= id })
	if i < len(ids) && ids[i] == id {
		return nil
	}
	ids = append(ids, 0)
	copy(ids[i+1:], ids[i:])
	ids[i] = id
	return state.PutValue(rw, []byte(keyActive), ids)
}

func removeActive(ctx context.Context, rw state.ReadWriter, drop map[uint64]bool) error {
	if len(drop) == 0 {
		return nil
	}
	ids, err := ActiveFunds(ctx, rw)
	if err != nil {
		return err
	}
	kept := ids[:0]
	for _, id := range ids {
		if !drop[id] {
			kept = append(kept, id)
		}
	}
	if len(kept) == 0 {
		rw.Delete([]byte(keyActive))
		return nil
	}
	return state.PutValue(rw, []byte(keyActive), kept)
}

// Directory resolves fund ids to fund accounts for the origin resolver. A
// fund resolves for as long as its record exists, closed funds included, so
// that distributions scheduled at trigger time can still run.
type Directory struct{}

func (Directory) FundAccount(ctx context.Context, r state.Reader, id uint64) (chain.AccountID, bool, error) {
	f, ok, err := state.GetValue[Fund](ctx, r, fundKey(id))
	if err != nil || !ok {
		return "", false, err
	}
	return f.Account, true, nil
}
