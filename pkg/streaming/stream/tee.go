package stream

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/multierr"

	"github.com/vnykmshr/webstreams/pkg/streaming/promise"
)

// TeeOptions configures TeeWithOptions.
type TeeOptions[T any] struct {
	// Clone copies a chunk for the second branch. If nil both branches
	// receive the same value.
	Clone func(T) T
}

// Tee locks the stream and splits it into two branches that each receive
// every chunk. See TeeWithOptions.
func (s *ReadableStream[T]) Tee() (*ReadableStream[T], *ReadableStream[T], error) {
	return s.TeeWithOptions(TeeOptions[T]{})
}

// TeeWithOptions locks the stream and splits it into two branches.
//
// Chunks reach both branches in source order. Closing or erroring the
// source closes or errors both branches. Cancelling one branch leaves the
// other running; once both are cancelled the source is cancelled with the
// combined reasons.
func (s *ReadableStream[T]) TeeWithOptions(opts TeeOptions[T]) (*ReadableStream[T], *ReadableStream[T], error) {
	s.mu.Lock()
	if s.reader != nil {
		s.mu.Unlock()
		return nil, nil, newTypeError("cannot tee", ErrLocked)
	}
	if s.state == ReadableStateErrored {
		err := s.storedError
		s.mu.Unlock()
		b1 := newErroredReadableStream[T](s.cfg.derive("/tee1"), err)
		b2 := newErroredReadableStream[T](s.cfg.derive("/tee2"), err)
		return b1, b2, nil
	}

	reader, err := s.acquireReaderLocked()
	if err != nil {
		s.mu.Unlock()
		return nil, nil, err
	}
	s.disturbed = true
	s.mu.Unlock()

	t := &tee[T]{reader: reader, clone: opts.Clone}
	t.cancelled, t.resolveCancel, t.rejectCancel = promise.New[struct{}]()

	t.branch1 = newReadableStream[T](s.cfg.derive("/tee1"))
	t.branch1.setupController(UnderlyingSource[T]{
		Pull:   t.pull,
		Cancel: func(ctx context.Context, reason error) error { return t.cancel(ctx, 0, reason) },
	}, DefaultHighWaterMark, QueuingStrategy[T]{})

	t.branch2 = newReadableStream[T](s.cfg.derive("/tee2"))
	t.branch2.setupController(UnderlyingSource[T]{
		Pull:   t.pull,
		Cancel: func(ctx context.Context, reason error) error { return t.cancel(ctx, 1, reason) },
	}, DefaultHighWaterMark, QueuingStrategy[T]{})

	go t.watchClosed(reader.Closed())

	s.log.Debug("stream teed")
	s.metrics.ObserveTee(s.cfg.Name)
	return t.branch1, t.branch2, nil
}

// tee drives two branches from a single reader.
type tee[T any] struct {
	reader           *ReadableStreamDefaultReader[T]
	branch1, branch2 *ReadableStream[T]
	clone            func(T) T

	mu        sync.Mutex
	reading   bool
	readAgain bool
	canceled  [2]bool
	reasons   [2]error

	cancelled     *promise.Promise[struct{}]
	resolveCancel func(struct{})
	rejectCancel  func(error)
}

func (t *tee[T]) pull(context.Context, *ReadableStreamDefaultController[T]) error {
	t.startRead()
	return nil
}

// startRead issues a read against the source unless one is outstanding.
func (t *tee[T]) startRead() {
	t.mu.Lock()
	if t.reading {
		t.readAgain = true
		t.mu.Unlock()
		return
	}
	t.reading = true
	t.mu.Unlock()

	go t.deliver(t.reader.Read())
}

func (t *tee[T]) deliver(read *promise.Promise[ReadResult[T]]) {
	<-read.Done()
	res, err, _ := read.Result()

	t.mu.Lock()
	t.readAgain = false
	canceled := t.canceled
	t.mu.Unlock()

	if err != nil {
		// Source errors are handled by watchClosed.
		t.finishRead()
		return
	}

	if res.Done {
		if !canceled[0] {
			_ = t.branch1.controller.Close()
		}
		if !canceled[1] {
			_ = t.branch2.controller.Close()
		}
		if !canceled[0] || !canceled[1] {
			t.resolveCancel(struct{}{})
		}
		t.finishRead()
		return
	}

	chunk1, chunk2 := res.Value, res.Value
	if t.clone != nil && !canceled[1] {
		c, cerr := promise.Call(func() (T, error) { return t.clone(chunk2), nil })
		if cerr != nil {
			t.branch1.controller.Error(cerr)
			t.branch2.controller.Error(cerr)
			t.cancelSource(cerr)
			t.finishRead()
			return
		}
		chunk2 = c
	}
	if !canceled[0] {
		_ = t.branch1.controller.Enqueue(chunk1)
	}
	if !canceled[1] {
		_ = t.branch2.controller.Enqueue(chunk2)
	}

	t.mu.Lock()
	t.reading = false
	again := t.readAgain
	t.mu.Unlock()
	if again {
		t.startRead()
	}
}

func (t *tee[T]) finishRead() {
	t.mu.Lock()
	t.reading = false
	t.mu.Unlock()
}

func (t *tee[T]) cancel(ctx context.Context, branch int, reason error) error {
	t.mu.Lock()
	t.canceled[branch] = true
	t.reasons[branch] = reason
	both := t.canceled[0] && t.canceled[1]
	composite := multierr.Combine(t.reasons[0], t.reasons[1])
	t.mu.Unlock()

	if both {
		t.cancelSource(composite)
	}
	_, err := t.cancelled.Await(ctx)
	return err
}

func (t *tee[T]) cancelSource(reason error) {
	result := t.reader.Cancel(reason)
	promise.Settle(result, t.resolveCancel, t.rejectCancel)
	t.reader.ReleaseLock()
}

// watchClosed errors both branches when the source errors.
func (t *tee[T]) watchClosed(closed *promise.Promise[struct{}]) {
	<-closed.Done()
	_, err, _ := closed.Result()
	if err == nil || errors.Is(err, ErrReleased) {
		return
	}

	t.branch1.controller.Error(err)
	t.branch2.controller.Error(err)

	t.mu.Lock()
	canceled := t.canceled
	t.mu.Unlock()
	if !canceled[0] || !canceled[1] {
		t.resolveCancel(struct{}{})
	}
}
