package trustfund

import (
	"errors"
	"fmt"
	"strings"

	"trustchain/internal/chain"
	"trustchain/internal/scheduler"
)

const ModuleName = "trustfund"

var (
	ErrInvalidShares     = errors.New("invalid beneficiary shares")
	ErrUnauthorized      = chain.ErrUnauthorized
	ErrFundNotFound      = errors.New("fund not found")
	ErrFundNotActive     = errors.New("fund not active")
	ErrAllowanceNotFound = errors.New("allowance not found")
	ErrInvalidAllowance  = errors.New("invalid allowance")
)

// Config tunes trigger handling.
type Config struct {
	// DistributionDelay is how many blocks after the trigger the beneficiary
	// transfers are scheduled for. Minimum 1.
	DistributionDelay uint64
	// DistributionPriority is the agenda priority of beneficiary transfers.
	DistributionPriority uint8
}

func (c Config) withDefaults() Config {
	if c.DistributionDelay == 0 {
		c.DistributionDelay = 1
	}
	return c
}

type BeneficiaryShare struct {
	Address chain.AccountID `json:"address"`
	Weight  uint64          `json:"weight"`
}

type CondKind uint8

const (
	CondNone CondKind = iota
	CondBlockHeight
	CondTimestamp
	CondClockInInterval
)

func (k CondKind) String() string {
	switch k {
	case CondNone:
		return "none"
	case CondBlockHeight:
		return "block_height"
	case CondTimestamp:
		return "timestamp"
	case CondClockInInterval:
		return "clock_in_interval"
	default:
		return fmt.Sprintf("cond(%d)", uint8(k))
	}
}

// LivingSwitchCond is the condition under which a fund pays out. Value is a
// block number, a moment or a block count depending on Kind.
type LivingSwitchCond struct {
	Kind  CondKind `json:"kind"`
	Value uint64   `json:"value"`
}

func NoSwitch() LivingSwitchCond { return LivingSwitchCond{Kind: CondNone} }

func AtBlock(n chain.BlockNumber) LivingSwitchCond {
	return LivingSwitchCond{Kind: CondBlockHeight, Value: uint64(n)}
}

func AtTime(t chain.Moment) LivingSwitchCond {
	return LivingSwitchCond{Kind: CondTimestamp, Value: uint64(t)}
}

// ClockIn fires when the grantor has not checked in for more than n blocks.
func ClockIn(n uint64) LivingSwitchCond {
	return LivingSwitchCond{Kind: CondClockInInterval, Value: n}
}

func (c LivingSwitchCond) String() string {
	if c.Kind == CondNone {
		return c.Kind.String()
	}
	return fmt.Sprintf("%s(%d)", c.Kind, c.Value)
}

func (c LivingSwitchCond) validate() error {
	if c.Kind > CondClockInInterval {
		return fmt.Errorf("unknown living switch kind %d", c.Kind)
	}
	return nil
}

type State uint8

const (
	StateActive State = iota
	StateTriggered
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateTriggered:
		return "triggered"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Allowance is a recurring payment from the fund to one beneficiary while
// the fund is Active.
type Allowance struct {
	Beneficiary chain.AccountID  `json:"beneficiary"`
	Amount      uint64           `json:"amount"`
	Interval    uint64           `json:"interval"`
	Task        scheduler.TaskID `json:"task"`
}

// Fund is the persisted fund record.
type Fund struct {
	ID            uint64             `json:"id"`
	Grantor       chain.AccountID    `json:"grantor"`
	Account       chain.AccountID    `json:"account"`
	Shares        []BeneficiaryShare `json:"shares"`
	Switch        LivingSwitchCond   `json:"living_switch"`
	LastCheckIn   chain.BlockNumber  `json:"last_check_in"`
	Allowances    []Allowance        `json:"allowances,omitempty"`
	Distributions []scheduler.TaskID `json:"distributions,omitempty"`
	State         State              `json:"state"`
	Created       chain.BlockNumber  `json:"created"`
	TriggeredAt   chain.BlockNumber  `json:"triggered_at,omitempty"`
}

const accountPrefix = "trustfund:"

// AccountFor is the account holding fund id's balance.
func AccountFor(id uint64) chain.AccountID {
	return chain.AccountID(fmt.Sprintf("%s%d", accountPrefix, id))
}

// IsFundAccount reports whether a is in the fund account namespace. Nobody
// holds a key for these accounts, so they never sign.
func IsFundAccount(a chain.AccountID) bool {
	return strings.HasPrefix(string(a), accountPrefix)
}
