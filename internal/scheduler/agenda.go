package scheduler

import (
	"context"
	"fmt"

	"trustchain/internal/chain"
	"trustchain/internal/state"
)

const (
	prefixAgenda  = "sched/agenda"
	prefixLookup  = "sched/lookup"
	prefixRetired = "sched/retired"
	prefixRetireQ = "sched/retireq"
	prefixNonce   = "sched/nonce"
	keySeq        = "sched/seq"
)

type slot struct {
	Entries []Entry
}

// Agenda is the durable block -> entries store. It holds no state of its
// own; everything lives in the state passed to each call, so the agenda of a
// block is committed (or not) together with the rest of that block.
//
// Invariant: an id is agenda-resident in at most one slot, and
// sched/lookup/<id> names that slot.
type Agenda struct{}

func slotKey(n chain.BlockNumber) []byte { return state.Key(prefixAgenda, state.U64(uint64(n))) }
func lookupKey(id TaskID) []byte         { return state.Key(prefixLookup, id[:]) }
func retiredKey(id TaskID) []byte        { return state.Key(prefixRetired, id[:]) }
func retireQKey(n chain.BlockNumber) []byte {
	return state.Key(prefixRetireQ, state.U64(uint64(n)))
}

// Slot returns the entries stored for block n, in insertion order.
func (Agenda) Slot(ctx context.Context, r state.Reader, n chain.BlockNumber) ([]Entry, error) {
	s, _, err := state.GetValue[slot](ctx, r, slotKey(n))
	if err != nil {
		return nil, err
	}
	return s.Entries, nil
}

func (Agenda) putSlot(w state.Writer, n chain.BlockNumber, entries []Entry) error {
	if len(entries) == 0 {
		w.Delete(slotKey(n))
		return nil
	}
	return state.PutValue(w, slotKey(n), slot{Entries: entries})
}

// Locate returns the block an id is pending in.
func (Agenda) Locate(ctx context.Context, r state.Reader, id TaskID) (chain.BlockNumber, bool, error) {
	return state.GetValue[chain.BlockNumber](ctx, r, lookupKey(id))
}

// Get returns a pending entry.
func (a Agenda) Get(ctx context.Context, r state.Reader, id TaskID) (Entry, bool, error) {
	n, ok, err := a.Locate(ctx, r, id)
	if err != nil || !ok {
		return Entry{}, false, err
	}
	entries, err := a.Slot(ctx, r, n)
	if err != nil {
		return Entry{}, false, err
	}
	for _, e := range entries {
		if e.ID == id {
			return e, true, nil
		}
	}
	return Entry{}, false, fmt.Errorf("agenda: lookup for %s points at block %d but entry is missing", id, n)
}

// Insert appends e to slot n.
func (a Agenda) Insert(ctx context.Context, rw state.ReadWriter, n chain.BlockNumber, e Entry) error {
	if _, ok, err := a.Locate(ctx, rw, e.ID); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("agenda: %s already scheduled", e.ID)
	}
	entries, err := a.Slot(ctx, rw, n)
	if err != nil {
		return err
	}
	if err := a.putSlot(rw, n, append(entries, e)); err != nil {
		return err
	}
	if err := state.PutValue(rw, lookupKey(e.ID), n); err != nil {
		return err
	}
	rw.Delete(retiredKey(e.ID))
	return nil
}

// Remove deletes a pending entry and returns it.
func (a Agenda) Remove(ctx context.Context, rw state.ReadWriter, id TaskID) (Entry, bool, error) {
	n, ok, err := a.Locate(ctx, rw, id)
	if err != nil || !ok {
		return Entry{}, false, err
	}
	entries, err := a.Slot(ctx, rw, n)
	if err != nil {
		return Entry{}, false, err
	}
	for i, e := range entries {
		if e.ID != id {
			continue
		}
		rest := append(entries[:i:i], entries[i+1:]...)
		if err := a.putSlot(rw, n, rest); err != nil {
			return Entry{}, false, err
		}
		rw.Delete(lookupKey(id))
		return e, true, nil
	}
	return Entry{}, false, fmt.Errorf("agenda: lookup for %s points at block %d but entry is missing", id, n)
}

// Take pops slot n. Popped entries are retired at n right away: from here on
// cancelling them is a no-op. Entries that get re-inserted (carry-over,
// recurrence) are un-retired by Insert.
func (a Agenda) Take(ctx context.Context, rw state.ReadWriter, n chain.BlockNumber) ([]Entry, error) {
	entries, err := a.Slot(ctx, rw, n)
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	rw.Delete(slotKey(n))
	ids := make([]TaskID, 0, len(entries))
	for _, e := range entries {
		rw.Delete(lookupKey(e.ID))
		ids = append(ids, e.ID)
	}
	if err := a.retire(ctx, rw, n, ids...); err != nil {
		return nil, err
	}
	return entries, nil
}

func (Agenda) retire(ctx context.Context, rw state.ReadWriter, n chain.BlockNumber, ids ...TaskID) error {
	if len(ids) == 0 {
		return nil
	}
	for _, id := range ids {
		if err := state.PutValue(rw, retiredKey(id), n); err != nil {
			return err
		}
	}
	q, _, err := state.GetValue[[]TaskID](ctx, rw, retireQKey(n))
	if err != nil {
		return err
	}
	return state.PutValue(rw, retireQKey(n), append(q, ids...))
}

// Retired reports whether id ran or was cancelled within the retire horizon.
func (Agenda) Retired(ctx context.Context, r state.Reader, id TaskID) (bool, error) {
	_, ok, err := state.GetValue[chain.BlockNumber](ctx, r, retiredKey(id))
	return ok, err
}

// prune forgets ids retired at block n.
func (Agenda) prune(ctx context.Context, rw state.ReadWriter, n chain.BlockNumber) error {
	q, ok, err := state.GetValue[[]TaskID](ctx, rw, retireQKey(n))
	if err != nil || !ok {
		return err
	}
	for _, id := range q {
		at, ok, err := state.GetValue[chain.BlockNumber](ctx, rw, retiredKey(id))
		if err != nil {
			return err
		}
		// Re-used names get a newer marker; leave it alone.
		if ok && at == n {
			rw.Delete(retiredKey(id))
		}
	}
	rw.Delete(retireQKey(n))
	return nil
}

func (Agenda) nextNonce(ctx context.Context, rw state.ReadWriter, ownerKey []byte) (uint64, error) {
	key := state.Key(prefixNonce, ownerKey)
	n, _, err := state.GetValue[uint64](ctx, rw, key)
	if err != nil {
		return 0, err
	}
	return n, state.PutValue(rw, key, n+1)
}

func (Agenda) nextSeq(ctx context.Context, rw state.ReadWriter) (uint64, error) {
	n, _, err := state.GetValue[uint64](ctx, rw, []byte(keySeq))
	if err != nil {
		return 0, err
	}
	return n, state.PutValue(rw, []byte(keySeq), n+1)
}
