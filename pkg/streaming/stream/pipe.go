package stream

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	wscontext "github.com/vnykmshr/webstreams/pkg/common/context"
	"github.com/vnykmshr/webstreams/pkg/streaming/promise"
)

// PipeOptions configures PipeTo and PipeThrough.
type PipeOptions struct {
	// PreventClose keeps the destination open when the source closes.
	PreventClose bool

	// PreventAbort keeps the destination alive when the source errors.
	PreventAbort bool

	// PreventCancel keeps the source alive when the destination errors or
	// closes.
	PreventCancel bool

	// Signal stops the pipe when done. context.Cause becomes the cause of
	// the resulting AbortError.
	Signal context.Context
}

// ReadableWritablePair is a transform exposed as a writable input side
// and a readable output side.
type ReadableWritablePair[T, U any] struct {
	Readable *ReadableStream[U]
	Writable *WritableStream[T]
}

const (
	pipeIdle int32 = iota
	pipePiping
	pipeShuttingDown
	pipeDone
)

// PipeTo reads every chunk from s and writes it to dest, honoring dest's
// backpressure. Both streams stay locked until the pipe finishes.
//
// The returned promise resolves once the pipe completed normally and is
// rejected with the error that stopped it otherwise.
func (s *ReadableStream[T]) PipeTo(dest *WritableStream[T], opts PipeOptions) (*promise.Promise[struct{}], error) {
	if dest == nil {
		return nil, newTypeError("pipe destination must be a writable stream", nil)
	}
	if s.Locked() {
		return nil, newTypeError("cannot pipe a locked stream", ErrLocked)
	}
	if dest.Locked() {
		return nil, newTypeError("cannot pipe to a locked stream", ErrLocked)
	}

	reader, err := s.GetReader()
	if err != nil {
		return nil, err
	}
	writer, err := dest.GetWriter()
	if err != nil {
		reader.ReleaseLock()
		return nil, err
	}

	s.mu.Lock()
	s.disturbed = true
	s.mu.Unlock()

	p := &pipe[T]{
		id:      uuid.NewString(),
		src:     s,
		dst:     dest,
		reader:  reader,
		writer:  writer,
		opts:    opts,
		started: time.Now(),
	}
	p.log = s.log.WithFields(logrus.Fields{
		"pipe_id":     p.id,
		"destination": dest.cfg.Name,
	})
	var result *promise.Promise[struct{}]
	result, p.resolve, p.reject = promise.New[struct{}]()
	p.result = result

	p.log.Debug("pipe started")
	go p.run()
	return result, nil
}

// PipeThrough pipes src into pair.Writable and returns pair.Readable. The
// pipe's own result is marked handled; failures surface through the
// returned stream.
func PipeThrough[T, U any](src *ReadableStream[T], pair ReadableWritablePair[T, U], opts PipeOptions) (*ReadableStream[U], error) {
	if src == nil {
		return nil, newTypeError("pipe source must be a readable stream", nil)
	}
	if pair.Readable == nil {
		return nil, newTypeError("transform readable side must be a readable stream", nil)
	}
	if pair.Writable == nil {
		return nil, newTypeError("transform writable side must be a writable stream", nil)
	}

	result, err := src.PipeTo(pair.Writable, opts)
	if err != nil {
		return nil, err
	}
	result.MarkHandled()
	return pair.Readable, nil
}

// pipe is a single PipeTo run. All fields except state are owned by the
// driver goroutine.
type pipe[T any] struct {
	id      string
	src     *ReadableStream[T]
	dst     *WritableStream[T]
	reader  *ReadableStreamDefaultReader[T]
	writer  *WritableStreamDefaultWriter[T]
	opts    PipeOptions
	started time.Time
	log     *logrus.Entry

	state     atomic.Int32
	lastWrite *promise.Promise[struct{}]

	result  *promise.Promise[struct{}]
	resolve func(struct{})
	reject  func(error)
}

func (p *pipe[T]) run() {
	if !p.state.CompareAndSwap(pipeIdle, pipePiping) {
		return
	}

	signal := p.opts.Signal
	if signal == nil {
		signal = context.Background()
	}
	srcClosed := p.reader.Closed().Done()
	dstClosed := p.writer.Closed().Done()

	for {
		if p.checkTerminal(signal) {
			return
		}

		ready := p.writer.Ready()
		select {
		case <-ready.Done():
		case <-srcClosed:
			continue
		case <-dstClosed:
			continue
		case <-signal.Done():
			continue
		}
		if _, err, _ := ready.Result(); err != nil {
			continue
		}

		read := p.reader.Read()
		select {
		case <-read.Done():
		case <-dstClosed:
			continue
		case <-signal.Done():
			continue
		}
		res, err, _ := read.Result()
		if err != nil || res.Done {
			continue
		}

		p.lastWrite = p.writer.Write(res.Value)
		p.lastWrite.MarkHandled()
	}
}

// checkTerminal inspects both streams and the signal and starts shutting
// the pipe down when one of them requires it. It reports whether the loop
// must stop.
func (p *pipe[T]) checkTerminal(signal context.Context) bool {
	if signal.Err() != nil {
		p.abortFromSignal(signal)
		return true
	}

	srcState, srcErr := p.sourceState()
	dstState, dstClosing, dstErr := p.destinationState()

	switch {
	case srcState == ReadableStateErrored:
		if !p.opts.PreventAbort {
			p.shutdownWithAction(func() error {
				_, err := p.writer.Abort(srcErr).Await(context.Background())
				return err
			}, srcErr)
		} else {
			p.shutdown(srcErr)
		}
		return true

	case dstState == WritableStateErroring || dstState == WritableStateErrored:
		if !p.opts.PreventCancel {
			p.shutdownWithAction(func() error {
				_, err := p.reader.Cancel(dstErr).Await(context.Background())
				return err
			}, dstErr)
		} else {
			p.shutdown(dstErr)
		}
		return true

	case srcState == ReadableStateClosed:
		if !p.opts.PreventClose {
			p.shutdownWithAction(func() error {
				_, err := p.writer.closeWithErrorPropagation().Await(context.Background())
				return err
			}, nil)
		} else {
			p.shutdown(nil)
		}
		return true

	case dstClosing || dstState == WritableStateClosed:
		closedErr := newTypeError("the destination stream closed", ErrNotWritable)
		if !p.opts.PreventCancel {
			p.shutdownWithAction(func() error {
				_, err := p.reader.Cancel(closedErr).Await(context.Background())
				return err
			}, closedErr)
		} else {
			p.shutdown(closedErr)
		}
		return true
	}
	return false
}

func (p *pipe[T]) abortFromSignal(signal context.Context) {
	abortErr := newError(AbortError, "the pipe was aborted", wscontext.AbortReason(signal))

	p.shutdownWithAction(func() error {
		var pending []*promise.Promise[struct{}]
		if dstState := p.dst.State(); !p.opts.PreventAbort && (dstState == WritableStateWritable || dstState == WritableStateClosing) {
			pending = append(pending, p.writer.Abort(abortErr))
		}
		if !p.opts.PreventCancel && p.src.State() == ReadableStateReadable {
			pending = append(pending, p.reader.Cancel(abortErr))
		}

		var err error
		for _, action := range pending {
			_, aerr := action.Await(context.Background())
			err = multierr.Append(err, aerr)
		}
		return err
	}, abortErr)
}

func (p *pipe[T]) sourceState() (ReadableState, error) {
	p.src.mu.Lock()
	defer p.src.mu.Unlock()
	return p.src.state, p.src.storedError
}

func (p *pipe[T]) destinationState() (state WritableState, closing bool, err error) {
	p.dst.mu.Lock()
	defer p.dst.mu.Unlock()
	return p.dst.state, p.dst.closeQueuedOrInFlightLocked(), p.dst.storedError
}

// waitForLastWrite lets the most recent write settle when the destination
// can still accept it.
func (p *pipe[T]) waitForLastWrite() {
	state, closing, _ := p.destinationState()
	if state != WritableStateWritable || closing || p.lastWrite == nil {
		return
	}
	<-p.lastWrite.Done()
}

func (p *pipe[T]) shutdownWithAction(action func() error, original error) {
	if !p.state.CompareAndSwap(pipePiping, pipeShuttingDown) {
		return
	}
	p.waitForLastWrite()

	err := original
	if aerr := action(); aerr != nil {
		err = aerr
	}
	p.finalize(err)
}

func (p *pipe[T]) shutdown(err error) {
	if !p.state.CompareAndSwap(pipePiping, pipeShuttingDown) {
		return
	}
	p.waitForLastWrite()
	p.finalize(err)
}

func (p *pipe[T]) finalize(err error) {
	p.writer.ReleaseLock()
	p.reader.ReleaseLock()
	p.state.Store(pipeDone)

	result := "closed"
	switch {
	case IsAbortError(err):
		result = "aborted"
	case err != nil:
		result = "errored"
	}
	p.src.metrics.ObservePipe(result, time.Since(p.started))

	if err == nil {
		p.log.Debug("pipe finished")
		p.resolve(struct{}{})
		return
	}

	p.log.WithError(err).Debug("pipe failed")
	p.reject(err)
	if !p.result.Handled() {
		p.log.WithError(err).Warn("pipe failed and nobody is waiting for its result")
	}
}
