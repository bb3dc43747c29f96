package stream

import (
	"context"

	"github.com/vnykmshr/webstreams/pkg/streaming/queue"
)

// ReadableStreamDefaultController is the handle an UnderlyingSource uses to
// feed its stream.
type ReadableStreamDefaultController[T any] struct {
	stream *ReadableStream[T]
	queue  *queue.Queue[T]
	size   func(T) float64
	kind   StrategyKind

	started        bool
	closeRequested bool
	pulling        bool
	pullAgain      bool

	pullFn   func(ctx context.Context, c *ReadableStreamDefaultController[T]) error
	cancelFn func(ctx context.Context, reason error) error

	ctx       context.Context
	cancelCtx context.CancelCauseFunc
}

// Enqueue adds chunk to the stream. A pending read receives the chunk
// directly; otherwise it is queued with the size computed by the strategy.
//
// An invalid size errors the stream and is returned as a RangeError.
func (c *ReadableStreamDefaultController[T]) Enqueue(chunk T) error {
	s := c.stream

	s.mu.Lock()
	if !c.canCloseOrEnqueueLocked() {
		s.mu.Unlock()
		return newTypeError("cannot enqueue", ErrNotReadable)
	}
	if c.fulfillReadLocked(chunk) {
		s.mu.Unlock()
		return nil
	}
	size := c.size
	s.mu.Unlock()

	chunkSize, err := measure(size, chunk)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !c.canCloseOrEnqueueLocked() {
		return newTypeError("cannot enqueue", ErrNotReadable)
	}
	if err != nil {
		s.errorLocked(err)
		return err
	}
	if c.fulfillReadLocked(chunk) {
		return nil
	}
	if err := c.queue.Enqueue(chunk, chunkSize); err != nil {
		rerr := newRangeError("invalid chunk size", err)
		s.errorLocked(rerr)
		return rerr
	}
	s.metrics.ObserveEnqueue(s.cfg.Name, c.kind.String())
	c.publishSizeLocked()
	c.callPullIfNeededLocked()
	return nil
}

// measure runs the size algorithm, converting a panic into an error.
func measure[T any](size func(T) float64, chunk T) (float64, error) {
	var n float64
	err := invoke(func() error {
		n = size(chunk)
		return nil
	})
	return n, err
}

// fulfillReadLocked hands chunk to the oldest pending read, if any.
func (c *ReadableStreamDefaultController[T]) fulfillReadLocked(chunk T) bool {
	s := c.stream
	r := s.reader
	if r == nil || len(r.readRequests) == 0 {
		return false
	}
	req := r.readRequests[0]
	r.readRequests[0] = readRequest[T]{}
	r.readRequests = r.readRequests[1:]
	req.resolve(ReadResult[T]{Value: chunk})
	s.metrics.ObserveEnqueue(s.cfg.Name, c.kind.String())
	s.metrics.ObserveRead(s.cfg.Name)
	c.callPullIfNeededLocked()
	return true
}

// Close requests the stream to close once every queued chunk was read.
func (c *ReadableStreamDefaultController[T]) Close() error {
	s := c.stream
	s.mu.Lock()
	defer s.mu.Unlock()

	if !c.canCloseOrEnqueueLocked() {
		return newTypeError("cannot close", ErrNotReadable)
	}
	c.closeRequested = true
	if c.queue.Len() == 0 {
		s.closeLocked()
	}
	return nil
}

// Error moves the stream to the errored state with err. It has no effect
// once the stream is closed or errored.
func (c *ReadableStreamDefaultController[T]) Error(err error) {
	s := c.stream
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorLocked(err)
}

// DesiredSize returns how much more the queue can take before reaching
// the high-water mark. ok is false when the stream is errored; a closed
// stream reports 0.
func (c *ReadableStreamDefaultController[T]) DesiredSize() (size float64, ok bool) {
	s := c.stream
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case ReadableStateErrored:
		return 0, false
	case ReadableStateClosed:
		return 0, true
	}
	return c.queue.DesiredSize(), true
}

func (c *ReadableStreamDefaultController[T]) canCloseOrEnqueueLocked() bool {
	return !c.closeRequested && c.stream.state == ReadableStateReadable
}

func (c *ReadableStreamDefaultController[T]) shouldCallPullLocked() bool {
	if !c.started || !c.canCloseOrEnqueueLocked() {
		return false
	}
	if r := c.stream.reader; r != nil && len(r.readRequests) > 0 {
		return true
	}
	return c.queue.DesiredSize() > 0
}

func (c *ReadableStreamDefaultController[T]) callPullIfNeededLocked() {
	if c.pullFn == nil || !c.shouldCallPullLocked() {
		return
	}
	if c.pulling {
		c.pullAgain = true
		return
	}
	c.pulling = true

	pull, ctx := c.pullFn, c.ctx
	go c.runPull(ctx, pull)
}

func (c *ReadableStreamDefaultController[T]) runPull(ctx context.Context, pull func(context.Context, *ReadableStreamDefaultController[T]) error) {
	err := invoke(func() error { return pull(ctx, c) })

	s := c.stream
	s.mu.Lock()
	defer s.mu.Unlock()

	c.pulling = false
	if err != nil {
		// No-op when the stream already ended and cancelled ctx.
		s.errorLocked(err)
		return
	}
	if c.pullAgain {
		c.pullAgain = false
		c.callPullIfNeededLocked()
	}
}

// dequeueLocked removes the head chunk and closes the stream when a
// requested close drained the queue.
func (c *ReadableStreamDefaultController[T]) dequeueLocked() T {
	s := c.stream
	chunk, _ := c.queue.Dequeue()
	c.publishSizeLocked()
	s.metrics.ObserveRead(s.cfg.Name)

	if c.closeRequested && c.queue.Len() == 0 {
		s.closeLocked()
	} else {
		c.callPullIfNeededLocked()
	}
	return chunk
}

func (c *ReadableStreamDefaultController[T]) publishSizeLocked() {
	c.stream.metrics.SetQueueSize(c.stream.cfg.Name, "readable", c.queue.TotalSize())
}

func (c *ReadableStreamDefaultController[T]) clearAlgorithms(cause error) {
	c.pullFn = nil
	c.cancelFn = nil
	c.cancelCtx(cause)
}
