package stream

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	wserrors "github.com/vnykmshr/webstreams/pkg/common/errors"
	"github.com/vnykmshr/webstreams/pkg/metrics"
	"github.com/vnykmshr/webstreams/pkg/streaming/promise"
	"github.com/vnykmshr/webstreams/pkg/streaming/queue"
)

// WritableState is the lifecycle state of a WritableStream.
type WritableState int

const (
	WritableStateWritable WritableState = iota
	WritableStateClosing
	WritableStateErroring
	WritableStateClosed
	WritableStateErrored
)

func (s WritableState) String() string {
	switch s {
	case WritableStateWritable:
		return "writable"
	case WritableStateClosing:
		return "closing"
	case WritableStateErroring:
		return "erroring"
	case WritableStateClosed:
		return "closed"
	case WritableStateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// UnderlyingSink receives the chunks written to a WritableStream. Every
// field is optional.
//
// Write is called for one chunk at a time, in order, after Start finished.
// Close is called once every queued chunk was written. Abort is called
// instead of Close when the stream is aborted, after any in-flight write.
type UnderlyingSink[T any] struct {
	Start func(ctx context.Context, c *WritableStreamDefaultController[T]) error
	Write func(ctx context.Context, chunk T, c *WritableStreamDefaultController[T]) error
	Close func(ctx context.Context) error
	Abort func(ctx context.Context, reason error) error
}

// pendingOp settles the promise returned for a write or close.
type pendingOp struct {
	resolve func(struct{})
	reject  func(error)
}

type pendingAbort struct {
	promise            *promise.Promise[struct{}]
	resolve            func(struct{})
	reject             func(error)
	reason             error
	wasAlreadyErroring bool
}

// WritableStream is a destination for chunks written through a single
// writer at a time.
type WritableStream[T any] struct {
	mu           sync.Mutex
	state        WritableState
	storedError  error
	backpressure bool
	writer       *WritableStreamDefaultWriter[T]
	controller   *WritableStreamDefaultController[T]

	writeRequests []pendingOp
	inFlightWrite *pendingOp
	closeRequest  *pendingOp
	inFlightClose *pendingOp
	pendingAbort  *pendingAbort

	cfg     Config
	log     *logrus.Entry
	metrics *metrics.Registry
}

// NewWritableStream creates a WritableStream backed by sink and buffered
// according to strategy.
func NewWritableStream[T any](sink UnderlyingSink[T], strategy QueuingStrategy[T]) (*WritableStream[T], error) {
	return NewWritableStreamWithConfig(sink, strategy, DefaultConfig())
}

// NewWritableStreamWithConfig is NewWritableStream with logging, naming
// and metrics settings.
func NewWritableStreamWithConfig[T any](sink UnderlyingSink[T], strategy QueuingStrategy[T], cfg Config) (*WritableStream[T], error) {
	hwm, err := strategy.highWaterMark()
	if err != nil {
		return nil, err
	}

	s := &WritableStream[T]{
		cfg:     cfg,
		log:     cfg.entry("writable"),
		metrics: cfg.Metrics,
	}
	s.setupController(sink, hwm, strategy)
	return s, nil
}

// Name returns the configured name of the stream.
func (s *WritableStream[T]) Name() string {
	return s.cfg.Name
}

// Locked reports whether a writer currently holds the stream.
func (s *WritableStream[T]) Locked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writer != nil
}

// State returns the current state.
func (s *WritableStream[T]) State() WritableState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// StoredError returns the error or abort reason the stream failed with.
func (s *WritableStream[T]) StoredError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.storedError
}

// GetWriter locks the stream to a new writer.
func (s *WritableStream[T]) GetWriter() (*WritableStreamDefaultWriter[T], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writer != nil {
		return nil, newTypeError("cannot get a writer", ErrLocked)
	}

	w := &WritableStreamDefaultWriter[T]{stream: s}
	switch s.state {
	case WritableStateWritable, WritableStateClosing:
		if !s.closeQueuedOrInFlightLocked() && s.backpressure {
			w.ready, w.resolveReady, w.rejectReady = promise.New[struct{}]()
		} else {
			w.ready, w.resolveReady, w.rejectReady = resolved()
		}
		w.closed, w.resolveClosed, w.rejectClosed = promise.New[struct{}]()
	case WritableStateErroring:
		w.ready, w.resolveReady, w.rejectReady = rejected(s.storedError)
		w.closed, w.resolveClosed, w.rejectClosed = promise.New[struct{}]()
	case WritableStateClosed:
		w.ready, w.resolveReady, w.rejectReady = resolved()
		w.closed, w.resolveClosed, w.rejectClosed = resolved()
	case WritableStateErrored:
		w.ready, w.resolveReady, w.rejectReady = rejected(s.storedError)
		w.closed, w.resolveClosed, w.rejectClosed = rejected(s.storedError)
	}
	s.writer = w
	s.metrics.ObserveLock("writer")
	return w, nil
}

// Abort stops the stream. Queued writes are discarded and the sink's Abort
// algorithm receives reason once no write is in flight.
func (s *WritableStream[T]) Abort(reason error) (*promise.Promise[struct{}], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writer != nil {
		return nil, newTypeError("cannot abort a locked stream", ErrLocked)
	}
	return s.abortLocked(reason), nil
}

// Close closes the stream once every queued chunk was written.
func (s *WritableStream[T]) Close() (*promise.Promise[struct{}], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writer != nil {
		return nil, newTypeError("cannot close a locked stream", ErrLocked)
	}
	if s.closeQueuedOrInFlightLocked() {
		return nil, newTypeError("cannot close a stream that is already closing", ErrNotWritable)
	}
	return s.closeLocked(), nil
}

func (s *WritableStream[T]) abortLocked(reason error) *promise.Promise[struct{}] {
	if reason == nil {
		reason = promise.ErrUndefined
	}
	if s.state == WritableStateClosed || s.state == WritableStateErrored {
		return promise.Resolve(struct{}{})
	}

	s.controller.abortSignal(reason)

	if s.pendingAbort != nil {
		return s.pendingAbort.promise
	}

	wasAlreadyErroring := s.state == WritableStateErroring
	p, resolve, reject := promise.New[struct{}]()
	s.pendingAbort = &pendingAbort{
		promise:            p,
		resolve:            resolve,
		reject:             reject,
		reason:             reason,
		wasAlreadyErroring: wasAlreadyErroring,
	}
	if !wasAlreadyErroring {
		s.startErroringLocked(reason)
	}
	return p
}

func (s *WritableStream[T]) closeLocked() *promise.Promise[struct{}] {
	if s.state == WritableStateClosed || s.state == WritableStateErrored {
		return promise.Reject[struct{}](newTypeError("cannot close", ErrNotWritable))
	}

	p, resolve, reject := promise.New[struct{}]()
	s.closeRequest = &pendingOp{resolve: resolve, reject: reject}
	if s.state == WritableStateWritable {
		s.setState(WritableStateClosing)
	}
	if w := s.writer; w != nil && s.backpressure && s.state == WritableStateClosing {
		w.resolveReady(struct{}{})
	}

	s.controller.queueCloseLocked()
	return p
}

func (s *WritableStream[T]) setState(state WritableState) {
	s.state = state
	s.log.WithField("state", state.String()).Debug("state changed")
	s.metrics.ObserveTransition("writable", state.String())
}

func (s *WritableStream[T]) closeQueuedOrInFlightLocked() bool {
	return s.closeRequest != nil || s.inFlightClose != nil
}

func (s *WritableStream[T]) hasOperationInFlightLocked() bool {
	return s.inFlightWrite != nil || s.inFlightClose != nil
}

func (s *WritableStream[T]) addWriteRequestLocked() *promise.Promise[struct{}] {
	p, resolve, reject := promise.New[struct{}]()
	s.writeRequests = append(s.writeRequests, pendingOp{resolve: resolve, reject: reject})
	return p
}

func (s *WritableStream[T]) dealWithRejectionLocked(err error) {
	if s.state == WritableStateWritable || s.state == WritableStateClosing {
		s.startErroringLocked(err)
		return
	}
	s.finishErroringLocked()
}

func (s *WritableStream[T]) startErroringLocked(reason error) {
	s.storedError = reason
	s.setState(WritableStateErroring)

	if w := s.writer; w != nil {
		w.ensureReadyRejectedLocked(reason)
	}
	if !s.hasOperationInFlightLocked() && s.controller.started {
		s.finishErroringLocked()
	}
}

func (s *WritableStream[T]) finishErroringLocked() {
	s.setState(WritableStateErrored)
	s.metrics.ObserveError("writable", errorLabel(s.storedError))

	c := s.controller
	c.queue.Reset()
	c.publishSizeLocked()

	for _, req := range s.writeRequests {
		req.reject(s.storedError)
	}
	s.writeRequests = nil

	abort := s.pendingAbort
	if abort == nil {
		c.clearAlgorithms(s.storedError)
		s.rejectCloseAndClosedLocked()
		return
	}
	s.pendingAbort = nil

	if abort.wasAlreadyErroring {
		c.clearAlgorithms(s.storedError)
		abort.reject(s.storedError)
		s.rejectCloseAndClosedLocked()
		return
	}

	abortFn := c.abortFn
	ctx := context.WithoutCancel(c.ctx)
	c.clearAlgorithms(s.storedError)
	if abortFn == nil {
		abort.resolve(struct{}{})
		s.rejectCloseAndClosedLocked()
		return
	}

	go func() {
		err := invoke(func() error { return abortFn(ctx, abort.reason) })

		s.mu.Lock()
		defer s.mu.Unlock()
		if err != nil {
			abort.reject(err)
		} else {
			abort.resolve(struct{}{})
		}
		s.rejectCloseAndClosedLocked()
	}()
}

func (s *WritableStream[T]) rejectCloseAndClosedLocked() {
	if s.closeRequest != nil {
		s.closeRequest.reject(s.storedError)
		s.closeRequest = nil
	}
	if w := s.writer; w != nil {
		w.rejectClosed(s.storedError)
		w.closed.MarkHandled()
		s.writer = nil
	}
}

func (s *WritableStream[T]) finishInFlightWriteLocked(err error) {
	op := s.inFlightWrite
	s.inFlightWrite = nil
	if err == nil {
		op.resolve(struct{}{})
		return
	}
	op.reject(err)
	s.dealWithRejectionLocked(err)
}

func (s *WritableStream[T]) finishInFlightCloseLocked(err error) {
	op := s.inFlightClose
	s.inFlightClose = nil

	if err != nil {
		op.reject(err)
		if s.pendingAbort != nil {
			s.pendingAbort.reject(err)
			s.pendingAbort = nil
		}
		s.dealWithRejectionLocked(err)
		return
	}

	op.resolve(struct{}{})
	if s.state == WritableStateErroring {
		s.storedError = nil
		if s.pendingAbort != nil {
			s.pendingAbort.resolve(struct{}{})
			s.pendingAbort = nil
		}
	}
	s.setState(WritableStateClosed)
	s.controller.clearAlgorithms(wserrors.ErrClosed)
	if w := s.writer; w != nil {
		w.resolveClosed(struct{}{})
		s.writer = nil
	}
}

func (s *WritableStream[T]) updateBackpressureLocked(backpressure bool) {
	if backpressure == s.backpressure {
		return
	}
	if w := s.writer; w != nil {
		if backpressure {
			w.ready, w.resolveReady, w.rejectReady = promise.New[struct{}]()
		} else {
			w.resolveReady(struct{}{})
		}
	}
	if backpressure {
		s.metrics.ObserveBackpressure(s.cfg.Name)
	}
	s.backpressure = backpressure
}

func (s *WritableStream[T]) setupController(sink UnderlyingSink[T], hwm float64, strategy QueuingStrategy[T]) {
	ctx, cancel := context.WithCancelCause(context.Background())
	signal, abortSignal := context.WithCancelCause(context.Background())
	c := &WritableStreamDefaultController[T]{
		stream:      s,
		queue:       queue.New[writeRecord[T]](hwm),
		size:        strategy.sizeAlgorithm(),
		writeFn:     sink.Write,
		closeFn:     sink.Close,
		abortFn:     sink.Abort,
		ctx:         ctx,
		cancelCtx:   cancel,
		signal:      signal,
		abortSignal: abortSignal,
	}
	s.controller = c
	s.backpressure = c.queue.DesiredSize() < 0

	run := func() {
		var err error
		if sink.Start != nil {
			err = invoke(func() error { return sink.Start(ctx, c) })
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		c.started = true
		if err != nil {
			s.dealWithRejectionLocked(err)
			return
		}
		c.advanceQueueIfNeededLocked()
	}
	if sink.Start == nil {
		run()
		return
	}
	go run()
}
