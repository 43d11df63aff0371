// Package ringbuf holds bounded plotting history for pull-style readers.
package ringbuf

// RingBuffer is a fixed-capacity list that overwrites its oldest element
// once full. Index 0 is always the oldest retained element. It is not safe
// for concurrent use; History wraps it with a lock.
type RingBuffer[T any] struct {
	buf   []T
	start int
	n     int
}

// New returns an empty RingBuffer of the given capacity (minimum 1).
func New[T any](capacity int) *RingBuffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer[T]{buf: make([]T, capacity)}
}

// Append adds v, overwriting the oldest element when full. O(1).
func (r *RingBuffer[T]) Append(v T) {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = v
		r.n++
		return
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
}

// Len returns min(appended, capacity).
func (r *RingBuffer[T]) Len() int { return r.n }

func (r *RingBuffer[T]) Cap() int { return len(r.buf) }

// At returns element i, 0 being the oldest. It panics if i is out of range,
// like a slice index.
func (r *RingBuffer[T]) At(i int) T {
	if i < 0 || i >= r.n {
		panic("ringbuf: index out of range")
	}
	return r.buf[(r.start+i)%len(r.buf)]
}

// Last returns the most recent element.
func (r *RingBuffer[T]) Last() (T, bool) {
	if r.n == 0 {
		var zero T
		return zero, false
	}
	return r.At(r.n - 1), true
}

// Slice copies the contents out, oldest first.
func (r *RingBuffer[T]) Slice() []T {
	out := make([]T, r.n)
	for i := range out {
		out[i] = r.At(i)
	}
	return out
}

// Reset empties the buffer without releasing its storage.
func (r *RingBuffer[T]) Reset() {
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.start, r.n = 0, 0
}
