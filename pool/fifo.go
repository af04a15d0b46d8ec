// File: pool/fifo.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// FIFO queues for pending per-channel work. Single consumer; callers
// serialize access.

package pool

import (
	"code.hybscloud.com/lfq"
	"github.com/eapache/queue"

	"github.com/momentics/hioload-mq/api"
)

// FIFO is a first-in first-out queue of pending items.
type FIFO[T any] interface {
	// Push appends v. Bounded queues return api.ErrQueueFull when full.
	Push(v T) error

	// Pop removes the oldest item; ok is false when empty.
	Pop() (v T, ok bool)

	// Len reports the number of queued items.
	Len() int
}

// NewFIFO returns an unbounded queue when limit <= 0, otherwise a queue
// holding at most limit items.
func NewFIFO[T any](limit int) FIFO[T] {
	if limit <= 0 {
		return &unboundedFIFO[T]{q: queue.New()}
	}
	b := &boundedFIFO[T]{limit: limit}
	b.q.Init(ringSize(limit))
	return b
}

// ringSize rounds limit+1 up to a power of two so the ring never reports
// full before limit items are queued.
func ringSize(limit int) int {
	n := 2
	for n < limit+1 {
		n <<= 1
	}
	return n
}

// unboundedFIFO grows a ring buffer as needed.
type unboundedFIFO[T any] struct {
	q *queue.Queue
}

func (u *unboundedFIFO[T]) Push(v T) error {
	u.q.Add(v)
	return nil
}

func (u *unboundedFIFO[T]) Pop() (v T, ok bool) {
	if u.q.Length() == 0 {
		return v, false
	}
	return u.q.Remove().(T), true
}

func (u *unboundedFIFO[T]) Len() int { return u.q.Length() }

// boundedFIFO rejects pushes beyond limit.
type boundedFIFO[T any] struct {
	q     lfq.SPSC[T]
	n     int
	limit int
}

func (b *boundedFIFO[T]) Push(v T) error {
	if b.n >= b.limit {
		return api.ErrQueueFull
	}
	if err := b.q.Enqueue(&v); err != nil {
		return api.ErrQueueFull
	}
	b.n++
	return nil
}

func (b *boundedFIFO[T]) Pop() (v T, ok bool) {
	if b.n == 0 {
		return v, false
	}
	v, err := b.q.Dequeue()
	if err != nil {
		return v, false
	}
	b.n--
	return v, true
}

func (b *boundedFIFO[T]) Len() int { return b.n }
