package stream

import (
	"github.com/vnykmshr/webstreams/pkg/streaming/promise"
)

type readRequest[T any] struct {
	resolve func(ReadResult[T])
	reject  func(error)
}

// ReadableStreamDefaultReader holds the lock on a ReadableStream and reads
// chunks from it in order.
//
// Once the stream closes or errors the lock is dropped automatically, but
// the reader keeps reporting the final outcome: reads complete as done on
// a closed stream and fail with the stored error on an errored one.
type ReadableStreamDefaultReader[T any] struct {
	stream   *ReadableStream[T]
	released bool

	readRequests []readRequest[T]

	closed        *promise.Promise[struct{}]
	resolveClosed func(struct{})
	rejectClosed  func(error)
}

// Read returns the next chunk. Reads are served in the order they were
// issued.
func (r *ReadableStreamDefaultReader[T]) Read() *promise.Promise[ReadResult[T]] {
	s := r.stream
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.released {
		return promise.Reject[ReadResult[T]](newTypeError("cannot read", ErrReleased))
	}

	s.disturbed = true
	switch s.state {
	case ReadableStateClosed:
		return promise.Resolve(ReadResult[T]{Done: true})
	case ReadableStateErrored:
		return promise.Reject[ReadResult[T]](s.storedError)
	}

	c := s.controller
	if c.queue.Len() > 0 {
		return promise.Resolve(ReadResult[T]{Value: c.dequeueLocked()})
	}

	p, resolve, reject := promise.New[ReadResult[T]]()
	r.readRequests = append(r.readRequests, readRequest[T]{resolve: resolve, reject: reject})
	c.callPullIfNeededLocked()
	return p
}

// Closed returns a promise that settles when the stream closes or errors,
// or is rejected when the lock is released first.
func (r *ReadableStreamDefaultReader[T]) Closed() *promise.Promise[struct{}] {
	r.stream.mu.Lock()
	defer r.stream.mu.Unlock()
	return r.closed
}

// Cancel cancels the stream this reader is locked to.
func (r *ReadableStreamDefaultReader[T]) Cancel(reason error) *promise.Promise[struct{}] {
	s := r.stream
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.released {
		return promise.Reject[struct{}](newTypeError("cannot cancel", ErrReleased))
	}
	return s.cancelLocked(reason)
}

// ReleaseLock unlocks the stream. Pending reads fail with a TypeError, as
// does the closed promise if the stream is still readable.
func (r *ReadableStreamDefaultReader[T]) ReleaseLock() {
	s := r.stream
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.released {
		return
	}
	r.released = true
	if s.reader != r {
		// The lock was already dropped by a terminal transition.
		return
	}

	releasedErr := newTypeError("reader released", ErrReleased)
	for _, req := range r.readRequests {
		req.reject(releasedErr)
	}
	r.readRequests = nil

	if s.state == ReadableStateReadable {
		r.rejectClosed(releasedErr)
	} else {
		r.closed = promise.Reject[struct{}](releasedErr)
	}
	r.closed.MarkHandled()
	s.reader = nil
}
