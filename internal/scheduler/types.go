package scheduler

import (
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/sha3"

	"trustchain/internal/chain"
	"trustchain/internal/origin"
	"trustchain/internal/state"
)

const ModuleName = "scheduler"

var (
	ErrInvalidSchedule = errors.New("invalid schedule")
	ErrDuplicateName   = errors.New("duplicate task name")
	ErrNotFound        = errors.New("task not found")
)

const maxNameLen = 128

// Config controls per-block execution limits.
type Config struct {
	// MaxBlockWeight caps the cumulative weight of agenda entries executed in
	// one block. The first entry of a block always runs.
	MaxBlockWeight uint64
	// MaxTasksPerBlock caps the number of entries executed per block.
	// 0 means no cap besides weight.
	MaxTasksPerBlock int
	// TaskBaseWeight is charged per entry on top of the call's own weight.
	TaskBaseWeight uint64
	// RetireHorizon is how many blocks an executed or cancelled id is
	// remembered, so that cancelling it again is a no-op and not ErrNotFound.
	RetireHorizon uint64
}

func (c Config) withDefaults() Config {
	if c.MaxBlockWeight == 0 {
		c.MaxBlockWeight = 1_000_000
	}
	if c.MaxTasksPerBlock < 0 {
		c.MaxTasksPerBlock = 0
	}
	if c.TaskBaseWeight == 0 {
		c.TaskBaseWeight = 10_000
	}
	if c.RetireHorizon == 0 {
		c.RetireHorizon = 14_400
	}
	return c
}

// TaskID identifies an agenda entry. Named ids derive from the name; anonymous
// ids from the owner and a per-owner nonce. Both are deterministic.
type TaskID [32]byte

func (id TaskID) String() string { return hex.EncodeToString(id[:]) }

func (id TaskID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *TaskID) UnmarshalText(b []byte) error {
	parsed, err := ParseTaskID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func ParseTaskID(s string) (TaskID, error) {
	var id TaskID
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(id) {
		return id, fmt.Errorf("invalid task id %q", s)
	}
	copy(id[:], b)
	return id, nil
}

// NamedID returns the id a named task is stored under.
func NamedID(name string) TaskID {
	return sha3.Sum256([]byte("named/" + name))
}

func anonymousID(owner origin.Owner, nonce uint64) TaskID {
	return sha3.Sum256(state.Key("anon", owner.Key(), state.U64(nonce)))
}

// Periodic describes recurrence. Interval 0 means one-shot.
type Periodic struct {
	Interval uint64
	// Bounded limits the remaining executions to Remaining (including the
	// next one). Unbounded tasks recur until cancelled.
	Bounded   bool
	Remaining uint32
}

func (p Periodic) IsPeriodic() bool { return p.Interval > 0 }

// Every returns an unbounded periodic schedule.
func Every(interval uint64) *Periodic { return &Periodic{Interval: interval} }

// Times returns a periodic schedule bounded to n executions.
func Times(interval uint64, n uint32) *Periodic {
	return &Periodic{Interval: interval, Bounded: true, Remaining: n}
}

// advance returns the spec after one execution and whether it recurs.
func (p Periodic) advance() (Periodic, bool) {
	if !p.IsPeriodic() {
		return p, false
	}
	if !p.Bounded {
		return p, true
	}
	if p.Remaining <= 1 {
		return Periodic{Interval: p.Interval, Bounded: true}, false
	}
	p.Remaining--
	return p, true
}

// Entry is one agenda entry.
type Entry struct {
	ID       TaskID
	Name     string
	Call     chain.Call
	Owner    origin.Owner
	Priority uint8
	Periodic Periodic
	// Due is the block the entry was scheduled for. Carried-over entries keep
	// it, which orders them ahead of entries native to the later block.
	Due chain.BlockNumber
	// Seq is a global insertion counter; it breaks priority ties first come,
	// first served.
	Seq uint64
}

// runsBefore is the agenda execution order: due block, then priority
// (0 is most urgent), then insertion order.
func (e Entry) runsBefore(o Entry) bool {
	if e.Due != o.Due {
		return e.Due < o.Due
	}
	if e.Priority != o.Priority {
		return e.Priority < o.Priority
	}
	return e.Seq < o.Seq
}

// Request is a scheduling request. Name is optional; Periodic nil means
// one-shot.
type Request struct {
	Name     string
	When     chain.BlockNumber
	Periodic *Periodic
	Call     chain.Call
	Owner    origin.Owner
	Priority uint8
}

// Report summarizes one OnInitialize pass.
type Report struct {
	Block    chain.BlockNumber
	Due      int
	Executed int
	Failed   int
	Deferred int
	Weight   uint64
}
