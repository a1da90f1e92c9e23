package node

import (
	"errors"
	"sync"

	"trustchain/internal/runtime"
)

var ErrMempoolFull = errors.New("mempool full")

// Mempool is a bounded FIFO of extrinsics waiting for a block.
type Mempool struct {
	mu    sync.Mutex
	max   int
	queue []runtime.Extrinsic
}

func NewMempool(size int) *Mempool {
	if size <= 0 {
		size = 1024
	}
	return &Mempool{max: size}
}

func (p *Mempool) Submit(x runtime.Extrinsic) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) >= p.max {
		return ErrMempoolFull
	}
	p.queue = append(p.queue, x)
	return nil
}

// Take removes and returns up to n extrinsics in submission order.
func (p *Mempool) Take(n int) []runtime.Extrinsic {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n <= 0 || n > len(p.queue) {
		n = len(p.queue)
	}
	out := make([]runtime.Extrinsic, n)
	copy(out, p.queue)
	p.queue = append(p.queue[:0], p.queue[n:]...)
	return out
}

// Requeue puts xs back at the front, in order. Used when a block fails to
// import.
func (p *Mempool) Requeue(xs []runtime.Extrinsic) {
	if len(xs) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = append(append(make([]runtime.Extrinsic, 0, len(xs)+len(p.queue)), xs...), p.queue...)
}

func (p *Mempool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}
