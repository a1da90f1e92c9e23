// Package runtime composes the chain modules and executes blocks.
//
// A block runs in three phases on a single state overlay: the scheduler
// hook, the trust fund hook, then the block's extrinsics in order. The
// overlay, including the new head, is committed to storage in one batch.
// If anything fails before that commit, storage is left as it was.
package runtime

import (
	"errors"

	"trustchain/internal/chain"
	"trustchain/internal/scheduler"
	"trustchain/internal/trustfund"
)

var (
	ErrBadBlock = errors.New("bad block")
	ErrNotSudo  = errors.New("signer is not the sudo account")
)

// Extrinsic is a call submitted from outside the chain. Sudo dispatches it
// as root; only the configured sudo account may set it.
type Extrinsic struct {
	Signer chain.AccountID `json:"signer"`
	Call   chain.Call      `json:"call"`
	Sudo   bool            `json:"sudo,omitempty"`
}

type Block struct {
	Header     chain.Header `json:"header"`
	Extrinsics []Extrinsic  `json:"extrinsics,omitempty"`
}

type ExtrinsicResult struct {
	Index int    `json:"index"`
	Call  string `json:"call"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Receipt describes an imported block.
type Receipt struct {
	Header    chain.Header      `json:"header"`
	Agenda    scheduler.Report  `json:"agenda"`
	Triggered []uint64          `json:"triggered,omitempty"`
	Results   []ExtrinsicResult `json:"results,omitempty"`
	Events    []chain.Event     `json:"events,omitempty"`
	Changes   int               `json:"changes"`
}

type Endowment struct {
	Account chain.AccountID `json:"account"`
	Amount  uint64          `json:"amount"`
}

type Config struct {
	Scheduler scheduler.Config
	TrustFund trustfund.Config
	// Sudo may submit root extrinsics.
	Sudo    chain.AccountID
	Genesis []Endowment
	// GenesisTime is the timestamp of block 0.
	GenesisTime chain.Moment
}
