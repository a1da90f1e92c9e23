// Package chain holds the primitives shared by every runtime module:
// block numbers, accounts, origins, calls, events and the per-block Env.
package chain

import (
	"errors"
	"fmt"
	"strconv"

	"trustchain/internal/state"
)

var (
	ErrBadOrigin    = errors.New("bad origin")
	ErrUnauthorized = errors.New("unauthorized")
)

type BlockNumber uint64

// Moment is chain time in unix milliseconds, taken from the block header.
type Moment uint64

type AccountID string

func (n BlockNumber) String() string { return strconv.FormatUint(uint64(n), 10) }

type OriginKind uint8

const (
	OriginNone OriginKind = iota
	OriginRoot
	OriginSigned
)

// Origin is the authority a call executes under.
type Origin struct {
	Kind    OriginKind
	Account AccountID
}

func NoneOrigin() Origin              { return Origin{Kind: OriginNone} }
func RootOrigin() Origin              { return Origin{Kind: OriginRoot} }
func SignedOrigin(a AccountID) Origin { return Origin{Kind: OriginSigned, Account: a} }

func (o Origin) String() string {
	switch o.Kind {
	case OriginRoot:
		return "root"
	case OriginSigned:
		return "signed:" + string(o.Account)
	default:
		return "none"
	}
}

// EnsureSigned returns the signing account or ErrBadOrigin.
func EnsureSigned(o Origin) (AccountID, error) {
	if o.Kind != OriginSigned || o.Account == "" {
		return "", fmt.Errorf("%w: want signed, got %s", ErrBadOrigin, o)
	}
	return o.Account, nil
}

func EnsureRoot(o Origin) error {
	if o.Kind != OriginRoot {
		return fmt.Errorf("%w: want root, got %s", ErrBadOrigin, o)
	}
	return nil
}

// Call is an opaque, serializable description of a module entry point
// invocation. Args are borsh-encoded and only interpreted by the handler.
type Call struct {
	Module string `json:"module"`
	Action string `json:"action"`
	Args   []byte `json:"args"`
}

func NewCall(module, action string, args any) (Call, error) {
	raw, err := state.Encode(args)
	if err != nil {
		return Call{}, fmt.Errorf("encode %s.%s args: %w", module, action, err)
	}
	return Call{Module: module, Action: action, Args: raw}, nil
}

func (c Call) Method() string { return c.Module + "." + c.Action }

// DecodeArgs decodes call args into T.
func DecodeArgs[T any](args []byte) (T, error) {
	var out T
	if err := state.Decode(args, &out); err != nil {
		return out, err
	}
	return out, nil
}

// Header is the part of a block the runtime observes.
type Header struct {
	Number    BlockNumber `json:"number"`
	Timestamp Moment      `json:"timestamp"`
}
