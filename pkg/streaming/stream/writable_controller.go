package stream

import (
	"context"

	"github.com/vnykmshr/webstreams/pkg/streaming/promise"
	"github.com/vnykmshr/webstreams/pkg/streaming/queue"
)

// writeRecord is a queued chunk, or the close marker when close is set.
type writeRecord[T any] struct {
	chunk T
	close bool
}

// WritableStreamDefaultController is the handle an UnderlyingSink uses to
// interact with its stream.
type WritableStreamDefaultController[T any] struct {
	stream  *WritableStream[T]
	queue   *queue.Queue[writeRecord[T]]
	size    func(T) float64
	started bool

	writeFn func(ctx context.Context, chunk T, c *WritableStreamDefaultController[T]) error
	closeFn func(ctx context.Context) error
	abortFn func(ctx context.Context, reason error) error

	ctx       context.Context
	cancelCtx context.CancelCauseFunc

	signal      context.Context
	abortSignal context.CancelCauseFunc
}

// Error errors the stream with err. It has no effect unless the stream is
// still writable or closing.
func (c *WritableStreamDefaultController[T]) Error(err error) {
	s := c.stream
	s.mu.Lock()
	defer s.mu.Unlock()
	c.errorIfNeededLocked(err)
}

// Signal returns a context that is cancelled when the stream is aborted.
// context.Cause reports the abort reason.
func (c *WritableStreamDefaultController[T]) Signal() context.Context {
	return c.signal
}

func (c *WritableStreamDefaultController[T]) errorIfNeededLocked(err error) {
	s := c.stream
	if s.state != WritableStateWritable && s.state != WritableStateClosing {
		return
	}
	if err == nil {
		err = promise.ErrUndefined
	}
	c.writeFn, c.closeFn, c.abortFn = nil, nil, nil
	s.startErroringLocked(err)
}

func (c *WritableStreamDefaultController[T]) desiredSizeLocked() float64 {
	return c.queue.DesiredSize()
}

func (c *WritableStreamDefaultController[T]) backpressureLocked() bool {
	return c.desiredSizeLocked() < 0
}

// writeLocked queues chunk with its precomputed size.
func (c *WritableStreamDefaultController[T]) writeLocked(chunk T, size float64) {
	s := c.stream
	if err := c.queue.Enqueue(writeRecord[T]{chunk: chunk}, size); err != nil {
		c.errorIfNeededLocked(newRangeError("invalid chunk size", err))
		return
	}
	c.publishSizeLocked()
	if !s.closeQueuedOrInFlightLocked() && s.state == WritableStateWritable {
		s.updateBackpressureLocked(c.backpressureLocked())
	}
	c.advanceQueueIfNeededLocked()
}

func (c *WritableStreamDefaultController[T]) queueCloseLocked() {
	// The close marker has size 0 and cannot fail.
	_ = c.queue.Enqueue(writeRecord[T]{close: true}, 0)
	c.advanceQueueIfNeededLocked()
}

func (c *WritableStreamDefaultController[T]) advanceQueueIfNeededLocked() {
	s := c.stream
	if !c.started || s.inFlightWrite != nil {
		return
	}
	if s.state == WritableStateErroring {
		s.finishErroringLocked()
		return
	}
	if s.state != WritableStateWritable && s.state != WritableStateClosing {
		return
	}

	rec, err := c.queue.Peek()
	if err != nil {
		return
	}
	if rec.close {
		c.processCloseLocked()
		return
	}
	c.processWriteLocked(rec.chunk)
}

func (c *WritableStreamDefaultController[T]) processCloseLocked() {
	s := c.stream
	s.inFlightClose = s.closeRequest
	s.closeRequest = nil
	_, _ = c.queue.Dequeue()

	closeFn, ctx := c.closeFn, c.ctx
	c.writeFn, c.closeFn, c.abortFn = nil, nil, nil

	go func() {
		var err error
		if closeFn != nil {
			err = invoke(func() error { return closeFn(ctx) })
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		s.finishInFlightCloseLocked(err)
	}()
}

func (c *WritableStreamDefaultController[T]) processWriteLocked(chunk T) {
	s := c.stream
	op := s.writeRequests[0]
	s.writeRequests = s.writeRequests[1:]
	s.inFlightWrite = &op

	writeFn, ctx := c.writeFn, c.ctx
	go func() {
		var err error
		if writeFn != nil {
			err = invoke(func() error { return writeFn(ctx, chunk, c) })
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if err != nil {
			if s.state == WritableStateWritable || s.state == WritableStateClosing {
				c.writeFn, c.closeFn, c.abortFn = nil, nil, nil
			}
			s.finishInFlightWriteLocked(err)
			return
		}

		s.finishInFlightWriteLocked(nil)
		s.metrics.ObserveWrite(s.cfg.Name)
		_, _ = c.queue.Dequeue()
		c.publishSizeLocked()
		if !s.closeQueuedOrInFlightLocked() && s.state == WritableStateWritable {
			s.updateBackpressureLocked(c.backpressureLocked())
		}
		c.advanceQueueIfNeededLocked()
	}()
}

func (c *WritableStreamDefaultController[T]) publishSizeLocked() {
	c.stream.metrics.SetQueueSize(c.stream.cfg.Name, "writable", c.queue.TotalSize())
}

func (c *WritableStreamDefaultController[T]) clearAlgorithms(cause error) {
	c.writeFn, c.closeFn, c.abortFn = nil, nil, nil
	c.cancelCtx(cause)
}
