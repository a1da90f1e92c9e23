package logx

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Field mutates a zerolog event. Fields apply in order, so a repeated key
// keeps the last value.
type Field func(e *zerolog.Event)

func String(k, v string) Field  { return func(e *zerolog.Event) { e.Str(k, v) } }
func Int(k string, v int) Field { return func(e *zerolog.Event) { e.Int(k, v) } }
func Bool(k string, v bool) Field {
	return func(e *zerolog.Event) { e.Bool(k, v) }
}
func Uint64(k string, v uint64) Field {
	return func(e *zerolog.Event) { e.Uint64(k, v) }
}
func Duration(k string, v time.Duration) Field {
	return func(e *zerolog.Event) { e.Dur(k, v) }
}
func Stringer(k string, v fmt.Stringer) Field {
	return func(e *zerolog.Event) { e.Stringer(k, v) }
}
func Any(k string, v any) Field { return func(e *zerolog.Event) { e.Interface(k, v) } }

// Err adds err under "err". A nil error adds nothing.
func Err(err error) Field {
	return func(e *zerolog.Event) {
		if err != nil {
			e.Err(err)
		}
	}
}

// Keys shared by every component, so the lines of one block or one task can
// be grepped together.
const (
	KeyBlock   = "block"
	KeyTask    = "task"
	KeyFund    = "fund"
	KeyCall    = "call"
	KeyAccount = "account"
)

func Block[N ~uint64](n N) Field { return Uint64(KeyBlock, uint64(n)) }

func Task(id fmt.Stringer) Field { return Stringer(KeyTask, id) }

func Fund(id uint64) Field { return Uint64(KeyFund, id) }

// Call takes the dispatch method, e.g. "assets.transfer".
func Call(method string) Field { return String(KeyCall, method) }

func Account[A ~string](a A) Field { return String(KeyAccount, string(a)) }
