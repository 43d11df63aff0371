// Package bus fans decoded samples out to every consumer of a capture.
package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/relabs-tech/gait_computer/internal/queue"
	"github.com/relabs-tech/gait_computer/internal/sample"
)

var (
	ErrBusClosed          = errors.New("bus: closed")
	ErrSubscriberExists   = errors.New("bus: subscriber already exists")
	ErrSubscriberNotFound = errors.New("bus: subscriber not found")
	ErrNilHandler         = errors.New("bus: nil handler")
)

// Handler is invoked once per sample, in arrival order, on the dispatch
// goroutine. Handlers that keep a sample must keep their own copy. A handler
// may Subscribe or Unsubscribe; the change applies from the next sample.
type Handler func(sample.Sample)

// SubscriberStats are per-subscriber delivery counters.
type SubscriberStats struct {
	Sent    uint64 `json:"sent"`
	Dropped uint64 `json:"dropped"`
}

type subscriber struct {
	id    string
	fn    Handler
	ch    chan sample.Sample
	sent  atomic.Uint64
	dropd atomic.Uint64
	gone  atomic.Bool // set under the write lock before ch is closed
}

// Bus delivers samples to callback and channel subscribers. Channel
// subscribers have a bounded buffer; a full buffer drops the new sample for
// that subscriber only.
type Bus struct {
	mu     sync.RWMutex
	subs   []*subscriber
	closed bool

	published atomic.Uint64
}

func New() *Bus {
	return &Bus{}
}

func (b *Bus) add(s *subscriber) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	for _, existing := range b.subs {
		if existing.id == s.id {
			return ErrSubscriberExists
		}
	}
	b.subs = append(b.subs, s)
	return nil
}

// Subscribe registers a callback subscriber.
func (b *Bus) Subscribe(id string, fn Handler) error {
	if fn == nil {
		return ErrNilHandler
	}
	return b.add(&subscriber{id: id, fn: fn})
}

// SubscribeChan registers a channel subscriber with the given buffer size.
// The channel is closed by Unsubscribe or Close.
func (b *Bus) SubscribeChan(id string, buffer int) (<-chan sample.Sample, error) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan sample.Sample, buffer)
	if err := b.add(&subscriber{id: id, ch: ch}); err != nil {
		return nil, err
	}
	return ch, nil
}

// Unsubscribe removes a subscriber.
func (b *Bus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subs {
		if s.id != id {
			continue
		}
		s.gone.Store(true)
		if s.ch != nil {
			close(s.ch)
		}
		b.subs = append(b.subs[:i], b.subs[i+1:]...)
		return nil
	}
	return ErrSubscriberNotFound
}

// Publish delivers s to every subscriber in registration order. The lock is
// not held while callbacks run.
func (b *Bus) Publish(s sample.Sample) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	subs := append([]*subscriber(nil), b.subs...)
	b.mu.RUnlock()
	b.published.Add(1)

	for _, sub := range subs {
		if sub.fn != nil {
			if !sub.gone.Load() {
				sub.fn(s)
				sub.sent.Add(1)
			}
			continue
		}
		b.send(sub, s)
	}
}

func (b *Bus) send(sub *subscriber, s sample.Sample) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if sub.gone.Load() {
		return
	}
	select {
	case sub.ch <- s:
		sub.sent.Add(1)
	default:
		sub.dropd.Add(1)
	}
}

// Run drains q into Publish until ctx is done or q is closed and empty.
func (b *Bus) Run(ctx context.Context, q *queue.SampleQueue) error {
	for {
		s, err := q.Pop(ctx)
		if errors.Is(err, queue.ErrClosed) {
			return nil
		}
		if err != nil {
			return err
		}
		b.Publish(s)
	}
}

// Stats returns the counters of subscriber id.
func (b *Bus) Stats(id string) (SubscriberStats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, s := range b.subs {
		if s.id == id {
			return SubscriberStats{Sent: s.sent.Load(), Dropped: s.dropd.Load()}, nil
		}
	}
	return SubscriberStats{}, ErrSubscriberNotFound
}

// Published returns the number of samples published so far.
func (b *Bus) Published() uint64 { return b.published.Load() }

// Close drops every subscriber and closes their channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, s := range b.subs {
		s.gone.Store(true)
		if s.ch != nil {
			close(s.ch)
		}
	}
	b.subs = nil
}
