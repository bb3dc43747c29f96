package stream

import (
	"github.com/vnykmshr/webstreams/pkg/streaming/promise"
)

// WritableStreamDefaultWriter holds the lock on a WritableStream and
// writes chunks to it.
//
// The lock is dropped automatically once the stream closes or errors; the
// writer keeps reporting the final outcome afterwards.
type WritableStreamDefaultWriter[T any] struct {
	stream   *WritableStream[T]
	released bool

	ready        *promise.Promise[struct{}]
	resolveReady func(struct{})
	rejectReady  func(error)

	closed        *promise.Promise[struct{}]
	resolveClosed func(struct{})
	rejectClosed  func(error)
}

func resolved() (*promise.Promise[struct{}], func(struct{}), func(error)) {
	p, resolve, reject := promise.New[struct{}]()
	resolve(struct{}{})
	return p, resolve, reject
}

func rejected(err error) (*promise.Promise[struct{}], func(struct{}), func(error)) {
	p, resolve, reject := promise.New[struct{}]()
	reject(err)
	p.MarkHandled()
	return p, resolve, reject
}

// Write queues chunk. The returned promise settles once the sink accepted
// or refused it.
func (w *WritableStreamDefaultWriter[T]) Write(chunk T) *promise.Promise[struct{}] {
	s := w.stream

	s.mu.Lock()
	size := s.controller.size
	s.mu.Unlock()

	chunkSize, sizeErr := measure(size, chunk)

	s.mu.Lock()
	defer s.mu.Unlock()

	if sizeErr != nil {
		s.controller.errorIfNeededLocked(sizeErr)
		chunkSize = 1
	}
	if w.released {
		return promise.Reject[struct{}](newTypeError("cannot write", ErrReleased))
	}
	switch {
	case s.state == WritableStateErrored:
		return promise.Reject[struct{}](s.storedError)
	case s.closeQueuedOrInFlightLocked() || s.state == WritableStateClosed:
		return promise.Reject[struct{}](newTypeError("cannot write to a closing stream", ErrNotWritable))
	case s.state == WritableStateErroring:
		return promise.Reject[struct{}](s.storedError)
	}

	p := s.addWriteRequestLocked()
	s.controller.writeLocked(chunk, chunkSize)
	return p
}

// Close closes the stream once every queued chunk was written.
func (w *WritableStreamDefaultWriter[T]) Close() *promise.Promise[struct{}] {
	s := w.stream
	s.mu.Lock()
	defer s.mu.Unlock()

	if w.released {
		return promise.Reject[struct{}](newTypeError("cannot close", ErrReleased))
	}
	if s.closeQueuedOrInFlightLocked() {
		return promise.Reject[struct{}](newTypeError("cannot close a stream that is already closing", ErrNotWritable))
	}
	return s.closeLocked()
}

// closeWithErrorPropagation closes the stream unless it is already closing
// or closed, and reports an errored stream's stored error.
func (w *WritableStreamDefaultWriter[T]) closeWithErrorPropagation() *promise.Promise[struct{}] {
	s := w.stream
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closeQueuedOrInFlightLocked() || s.state == WritableStateClosed {
		return promise.Resolve(struct{}{})
	}
	if s.state == WritableStateErrored {
		return promise.Reject[struct{}](s.storedError)
	}
	return s.closeLocked()
}

// Abort aborts the stream this writer is locked to.
func (w *WritableStreamDefaultWriter[T]) Abort(reason error) *promise.Promise[struct{}] {
	s := w.stream
	s.mu.Lock()
	defer s.mu.Unlock()

	if w.released {
		return promise.Reject[struct{}](newTypeError("cannot abort", ErrReleased))
	}
	return s.abortLocked(reason)
}

// Ready returns a promise that is pending while the stream applies
// backpressure. A new promise is handed out every time backpressure starts.
func (w *WritableStreamDefaultWriter[T]) Ready() *promise.Promise[struct{}] {
	w.stream.mu.Lock()
	defer w.stream.mu.Unlock()
	return w.ready
}

// Closed returns a promise that settles when the stream closes or errors,
// or is rejected when the lock is released first.
func (w *WritableStreamDefaultWriter[T]) Closed() *promise.Promise[struct{}] {
	w.stream.mu.Lock()
	defer w.stream.mu.Unlock()
	return w.closed
}

// DesiredSize reports how much the stream can take before applying
// backpressure. ok is false when the writer was released or the stream is
// erroring or errored; a closed stream reports 0.
func (w *WritableStreamDefaultWriter[T]) DesiredSize() (size float64, ok bool) {
	s := w.stream
	s.mu.Lock()
	defer s.mu.Unlock()

	if w.released {
		return 0, false
	}
	switch s.state {
	case WritableStateErroring, WritableStateErrored:
		return 0, false
	case WritableStateClosed:
		return 0, true
	}
	return s.controller.desiredSizeLocked(), true
}

// ReleaseLock unlocks the stream. The ready and closed promises are
// rejected with a TypeError if still pending.
func (w *WritableStreamDefaultWriter[T]) ReleaseLock() {
	s := w.stream
	s.mu.Lock()
	defer s.mu.Unlock()

	if w.released {
		return
	}
	w.released = true
	if s.writer != w {
		return
	}

	releasedErr := newTypeError("writer released", ErrReleased)
	w.ensureReadyRejectedLocked(releasedErr)
	if w.closed.State() == promise.Pending {
		w.rejectClosed(releasedErr)
	} else {
		w.closed, w.resolveClosed, w.rejectClosed = rejected(releasedErr)
	}
	w.closed.MarkHandled()
	s.writer = nil
}

func (w *WritableStreamDefaultWriter[T]) ensureReadyRejectedLocked(err error) {
	if w.ready.State() == promise.Pending {
		w.rejectReady(err)
		w.ready.MarkHandled()
		return
	}
	w.ready, w.resolveReady, w.rejectReady = rejected(err)
}
