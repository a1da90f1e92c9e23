package logx

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const maxThrottleKeys = 4096

// Throttle rate limits repeated lines per key. A periodic task failing on
// every recurrence logs once, then at most once per Every, and each line
// that passes carries the number dropped since the previous one.
type Throttle struct {
	Every time.Duration

	mu   sync.Mutex
	keys map[string]*throttled
}

type throttled struct {
	lim     *rate.Limiter
	dropped uint64
}

func NewThrottle(every time.Duration) *Throttle {
	if every <= 0 {
		every = 5 * time.Second
	}
	return &Throttle{Every: every, keys: map[string]*throttled{}}
}

// Allow reports whether a line for key may be written now and how many
// were dropped before it.
func (t *Throttle) Allow(key string) (bool, uint64) {
	if t == nil {
		return true, 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.keys == nil {
		t.keys = map[string]*throttled{}
	}
	k, ok := t.keys[key]
	if !ok {
		if len(t.keys) >= maxThrottleKeys {
			// reset instead of tracking eviction order
			t.keys = map[string]*throttled{}
		}
		k = &throttled{lim: rate.NewLimiter(rate.Every(t.Every), 1)}
		t.keys[key] = k
	}
	if !k.lim.Allow() {
		k.dropped++
		return false, 0
	}
	dropped := k.dropped
	k.dropped = 0
	return true, dropped
}

// Warn logs through l unless key is throttled.
func (t *Throttle) Warn(l Logger, key, msg string, fields ...Field) {
	ok, dropped := t.Allow(key)
	if !ok {
		return
	}
	if dropped > 0 {
		fields = append(fields, Uint64("suppressed", dropped))
	}
	l.write(zerolog.WarnLevel, msg, fields)
}
