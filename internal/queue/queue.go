// Package queue is the hand-off between the capture goroutine and consumers.
package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/relabs-tech/gait_computer/internal/sample"
)

var ErrClosed = errors.New("queue: closed")

// Stats are cumulative queue counters.
type Stats struct {
	Pushed  uint64 `json:"pushed"`
	Dropped uint64 `json:"dropped"`
	Popped  uint64 `json:"popped"`
}

// SampleQueue is a bounded FIFO of samples. Push never blocks the producer:
// when the queue is full the new sample is rejected and counted as dropped,
// so a stalled consumer can neither stall capture nor grow memory.
type SampleQueue struct {
	ch chan sample.Sample

	mu     sync.RWMutex
	closed bool

	pushed  atomic.Uint64
	dropped atomic.Uint64
	popped  atomic.Uint64
}

func New(capacity int) *SampleQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &SampleQueue{ch: make(chan sample.Sample, capacity)}
}

// Push enqueues s and reports whether it was accepted.
func (q *SampleQueue) Push(s sample.Sample) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.dropped.Add(1)
		return false
	}
	select {
	case q.ch <- s:
		q.pushed.Add(1)
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Pop blocks until a sample is available, ctx is done, or the queue is
// closed and drained.
func (q *SampleQueue) Pop(ctx context.Context) (sample.Sample, error) {
	select {
	case s, ok := <-q.ch:
		if !ok {
			return sample.Sample{}, ErrClosed
		}
		q.popped.Add(1)
		return s, nil
	case <-ctx.Done():
		return sample.Sample{}, ctx.Err()
	}
}

// TryPop returns the oldest sample without blocking.
func (q *SampleQueue) TryPop() (sample.Sample, bool) {
	select {
	case s, ok := <-q.ch:
		if !ok {
			return sample.Sample{}, false
		}
		q.popped.Add(1)
		return s, true
	default:
		return sample.Sample{}, false
	}
}

// Drain pops up to limit queued samples without blocking, for timer-driven
// readers. limit <= 0 drains everything currently queued.
func (q *SampleQueue) Drain(limit int) []sample.Sample {
	var out []sample.Sample
	for limit <= 0 || len(out) < limit {
		s, ok := q.TryPop()
		if !ok {
			break
		}
		out = append(out, s)
	}
	return out
}

// Len returns the number of queued samples.
func (q *SampleQueue) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *SampleQueue) Cap() int { return cap(q.ch) }

// Close stops accepting samples. Queued samples can still be popped.
func (q *SampleQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

func (q *SampleQueue) Stats() Stats {
	return Stats{
		Pushed:  q.pushed.Load(),
		Dropped: q.dropped.Load(),
		Popped:  q.popped.Load(),
	}
}
