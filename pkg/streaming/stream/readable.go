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

// ReadableState is the lifecycle state of a ReadableStream.
type ReadableState int

const (
	ReadableStateReadable ReadableState = iota
	ReadableStateClosed
	ReadableStateErrored
)

func (s ReadableState) String() string {
	switch s {
	case ReadableStateReadable:
		return "readable"
	case ReadableStateClosed:
		return "closed"
	case ReadableStateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// UnderlyingSource supplies the algorithms behind a ReadableStream. Every
// field is optional.
//
// Start runs once, asynchronously, right after construction; pulls wait
// for it to finish. Pull is called whenever the stream wants more data and
// never concurrently with itself. Cancel is called when a consumer cancels
// the stream.
//
// The context passed to Start and Pull is cancelled once the stream closes
// or errors.
type UnderlyingSource[T any] struct {
	Start  func(ctx context.Context, c *ReadableStreamDefaultController[T]) error
	Pull   func(ctx context.Context, c *ReadableStreamDefaultController[T]) error
	Cancel func(ctx context.Context, reason error) error

	// Type selects the stream type. Only the default ("") is supported.
	Type string
}

// ReadResult is the outcome of a single read.
type ReadResult[T any] struct {
	Value T
	Done  bool
}

// ReadableStream is a source of chunks consumed through a single reader at
// a time.
type ReadableStream[T any] struct {
	mu          sync.Mutex
	state       ReadableState
	storedError error
	disturbed   bool
	reader      *ReadableStreamDefaultReader[T]
	controller  *ReadableStreamDefaultController[T]

	cfg     Config
	log     *logrus.Entry
	metrics *metrics.Registry
}

// NewReadableStream creates a ReadableStream driven by src and buffered
// according to strategy.
func NewReadableStream[T any](src UnderlyingSource[T], strategy QueuingStrategy[T]) (*ReadableStream[T], error) {
	return NewReadableStreamWithConfig(src, strategy, DefaultConfig())
}

// NewReadableStreamWithConfig is NewReadableStream with logging, naming
// and metrics settings.
func NewReadableStreamWithConfig[T any](src UnderlyingSource[T], strategy QueuingStrategy[T], cfg Config) (*ReadableStream[T], error) {
	switch src.Type {
	case "":
	case "bytes":
		return nil, newError(NotSupportedError, "byte streams are not supported", nil)
	default:
		return nil, newTypeError("invalid underlying source type "+src.Type, nil)
	}

	hwm, err := strategy.highWaterMark()
	if err != nil {
		return nil, err
	}

	s := newReadableStream[T](cfg)
	s.setupController(src, hwm, strategy)
	return s, nil
}

func newReadableStream[T any](cfg Config) *ReadableStream[T] {
	return &ReadableStream[T]{
		cfg:     cfg,
		log:     cfg.entry("readable"),
		metrics: cfg.Metrics,
	}
}

// newErroredReadableStream returns a stream that is already errored with err.
func newErroredReadableStream[T any](cfg Config, err error) *ReadableStream[T] {
	s := newReadableStream[T](cfg)
	s.setupController(UnderlyingSource[T]{}, DefaultHighWaterMark, QueuingStrategy[T]{})
	s.mu.Lock()
	s.errorLocked(err)
	s.mu.Unlock()
	return s
}

// Name returns the configured name of the stream.
func (s *ReadableStream[T]) Name() string {
	return s.cfg.Name
}

// Locked reports whether a reader currently holds the stream.
func (s *ReadableStream[T]) Locked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reader != nil
}

// State returns the current state.
func (s *ReadableStream[T]) State() ReadableState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// StoredError returns the error the stream failed with, if any.
func (s *ReadableStream[T]) StoredError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.storedError
}

// Disturbed reports whether the stream was ever read from or cancelled.
func (s *ReadableStream[T]) Disturbed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disturbed
}

// ReaderMode selects the kind of reader returned by GetReaderWithOptions.
type ReaderMode int

const (
	ReaderModeDefault ReaderMode = iota
	ReaderModeBYOB
)

// ReaderOptions configures GetReaderWithOptions.
type ReaderOptions struct {
	Mode ReaderMode
}

// GetReader locks the stream to a new default reader.
func (s *ReadableStream[T]) GetReader() (*ReadableStreamDefaultReader[T], error) {
	return s.GetReaderWithOptions(ReaderOptions{})
}

// GetReaderWithOptions locks the stream to a new reader of the requested
// mode. Only default readers exist, so ReaderModeBYOB always fails.
func (s *ReadableStream[T]) GetReaderWithOptions(opts ReaderOptions) (*ReadableStreamDefaultReader[T], error) {
	if opts.Mode == ReaderModeBYOB {
		return nil, newTypeError("cannot get a BYOB reader for a non-byte stream", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acquireReaderLocked()
}

func (s *ReadableStream[T]) acquireReaderLocked() (*ReadableStreamDefaultReader[T], error) {
	if s.reader != nil {
		return nil, newTypeError("cannot get a reader", ErrLocked)
	}

	r := &ReadableStreamDefaultReader[T]{stream: s}
	switch s.state {
	case ReadableStateReadable:
		r.closed, r.resolveClosed, r.rejectClosed = promise.New[struct{}]()
	case ReadableStateClosed:
		r.closed = promise.Resolve(struct{}{})
	case ReadableStateErrored:
		r.closed = promise.Reject[struct{}](s.storedError)
		r.closed.MarkHandled()
	}
	s.reader = r
	s.metrics.ObserveLock("reader")
	return r, nil
}

// Cancel signals that the consumer lost interest in the stream. Queued
// chunks are discarded, pending reads complete as done and the source's
// Cancel algorithm receives reason.
//
// A locked stream cannot be cancelled directly; use the reader's Cancel.
func (s *ReadableStream[T]) Cancel(reason error) (*promise.Promise[struct{}], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reader != nil {
		return nil, newTypeError("cannot cancel a locked stream", ErrLocked)
	}
	return s.cancelLocked(reason), nil
}

func (s *ReadableStream[T]) cancelLocked(reason error) *promise.Promise[struct{}] {
	switch s.state {
	case ReadableStateClosed:
		return promise.Resolve(struct{}{})
	case ReadableStateErrored:
		return promise.Reject[struct{}](s.storedError)
	}
	s.disturbed = true

	c := s.controller
	cancel := c.cancelFn
	ctx := context.WithoutCancel(c.ctx)

	s.closeLocked()
	c.queue.Reset()
	c.publishSizeLocked()

	if cancel == nil {
		return promise.Resolve(struct{}{})
	}
	return promise.Go(func() (struct{}, error) {
		return struct{}{}, cancel(ctx, reason)
	})
}

func (s *ReadableStream[T]) closeLocked() {
	if s.state != ReadableStateReadable {
		return
	}
	s.state = ReadableStateClosed

	if r := s.reader; r != nil {
		for _, req := range r.readRequests {
			req.resolve(ReadResult[T]{Done: true})
		}
		r.readRequests = nil
		r.resolveClosed(struct{}{})
		s.reader = nil
	}

	s.controller.clearAlgorithms(wserrors.ErrClosed)
	s.log.Debug("stream closed")
	s.metrics.ObserveTransition("readable", s.state.String())
}

func (s *ReadableStream[T]) errorLocked(err error) {
	if s.state != ReadableStateReadable {
		return
	}
	if err == nil {
		err = promise.ErrUndefined
	}
	s.state = ReadableStateErrored
	s.storedError = err

	if r := s.reader; r != nil {
		for _, req := range r.readRequests {
			req.reject(err)
		}
		r.readRequests = nil
		r.rejectClosed(err)
		r.closed.MarkHandled()
		s.reader = nil
	}

	s.controller.queue.Reset()
	s.controller.publishSizeLocked()
	s.controller.clearAlgorithms(err)
	s.log.WithError(err).Debug("stream errored")
	s.metrics.ObserveTransition("readable", s.state.String())
	s.metrics.ObserveError("readable", errorLabel(err))
}

// invoke runs a user algorithm, turning a panic into an error.
func invoke(fn func() error) error {
	_, err := promise.Call(func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

func (s *ReadableStream[T]) setupController(src UnderlyingSource[T], hwm float64, strategy QueuingStrategy[T]) {
	ctx, cancel := context.WithCancelCause(context.Background())
	c := &ReadableStreamDefaultController[T]{
		stream:    s,
		queue:     queue.New[T](hwm),
		size:      strategy.sizeAlgorithm(),
		kind:      strategy.Kind(),
		pullFn:    src.Pull,
		cancelFn:  src.Cancel,
		ctx:       ctx,
		cancelCtx: cancel,
	}
	s.controller = c

	if src.Start == nil {
		s.mu.Lock()
		c.started = true
		c.callPullIfNeededLocked()
		s.mu.Unlock()
		return
	}

	start := src.Start
	go func() {
		err := invoke(func() error { return start(ctx, c) })

		s.mu.Lock()
		defer s.mu.Unlock()
		if err != nil {
			s.errorLocked(err)
			return
		}
		c.started = true
		c.callPullIfNeededLocked()
	}()
}
