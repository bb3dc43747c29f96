package queue

import (
	"errors"
	"math"
)

var (
	// ErrEmpty is returned by Dequeue and Peek on an empty queue.
	ErrEmpty = errors.New("queue is empty")

	// ErrInvalidSize is returned by Enqueue when the chunk size is negative,
	// NaN or infinite.
	ErrInvalidSize = errors.New("chunk size must be a finite, non-negative number")
)

type entry[T any] struct {
	value T
	size  float64
}

// Queue is a FIFO of values tagged with their sizes. It keeps a running
// total of the sizes so the desired size can be computed without walking
// the queue.
//
// Queue is not safe for concurrent use; the owning controller serialises
// access.
type Queue[T any] struct {
	entries       []entry[T]
	head          int
	totalSize     float64
	highWaterMark float64
}

// New creates an empty queue with the given high-water mark.
func New[T any](highWaterMark float64) *Queue[T] {
	return &Queue[T]{highWaterMark: highWaterMark}
}

// Enqueue appends v with the given size.
func (q *Queue[T]) Enqueue(v T, size float64) error {
	if math.IsNaN(size) || math.IsInf(size, 0) || size < 0 {
		return ErrInvalidSize
	}
	q.entries = append(q.entries, entry[T]{value: v, size: size})
	q.totalSize += size
	return nil
}

// Dequeue removes and returns the head value.
func (q *Queue[T]) Dequeue() (T, error) {
	var zero T
	if q.Len() == 0 {
		return zero, ErrEmpty
	}

	e := q.entries[q.head]
	q.entries[q.head] = entry[T]{}
	q.head++

	// Compact once the dead prefix dominates the backing array.
	if q.head > 32 && q.head*2 >= len(q.entries) {
		n := copy(q.entries, q.entries[q.head:])
		clear(q.entries[n:])
		q.entries = q.entries[:n]
		q.head = 0
	}

	q.totalSize -= e.size
	if q.totalSize < 0 {
		// Rounding error only; never let it compound.
		q.totalSize = 0
	}
	return e.value, nil
}

// Peek returns the head value without removing it.
func (q *Queue[T]) Peek() (T, error) {
	var zero T
	if q.Len() == 0 {
		return zero, ErrEmpty
	}
	return q.entries[q.head].value, nil
}

// Reset drops every entry and zeroes the total size.
func (q *Queue[T]) Reset() {
	q.entries = nil
	q.head = 0
	q.totalSize = 0
}

// IsEmpty reports whether the running total is zero. With zero-sized
// chunks this is true while entries are still queued; use Len when the
// structural answer is needed.
func (q *Queue[T]) IsEmpty() bool {
	return q.totalSize == 0
}

// Len returns the number of queued entries.
func (q *Queue[T]) Len() int {
	return len(q.entries) - q.head
}

// TotalSize returns the running sum of the queued sizes.
func (q *Queue[T]) TotalSize() float64 {
	return q.totalSize
}

// HighWaterMark returns the backpressure threshold.
func (q *Queue[T]) HighWaterMark() float64 {
	return q.highWaterMark
}

// SetHighWaterMark replaces the backpressure threshold.
func (q *Queue[T]) SetHighWaterMark(hwm float64) {
	q.highWaterMark = hwm
}

// DesiredSize returns HighWaterMark - TotalSize. A negative value means
// the producer should stop.
func (q *Queue[T]) DesiredSize() float64 {
	return q.highWaterMark - q.totalSize
}
