package stream

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnykmshr/webstreams/internal/testutil"
	"github.com/vnykmshr/webstreams/pkg/metrics"
	"github.com/vnykmshr/webstreams/pkg/streaming/promise"
)

func mustPipe[T any](t *testing.T, src *ReadableStream[T], dst *WritableStream[T], opts PipeOptions) *promise.Promise[struct{}] {
	t.Helper()
	p, err := src.PipeTo(dst, opts)
	require.NoError(t, err)
	return p
}

// cancelRecorder is a source that never produces data and records the
// reason it was cancelled with.
func cancelRecorder(t *testing.T) (*ReadableStream[int], <-chan error) {
	t.Helper()
	reasons := make(chan error, 1)
	rs, err := NewReadableStream(UnderlyingSource[int]{
		Cancel: func(_ context.Context, reason error) error {
			reasons <- reason
			return nil
		},
	}, QueuingStrategy[int]{})
	require.NoError(t, err)
	return rs, reasons
}

func TestPipeToSuccess(t *testing.T) {
	src := FromSlice([]int{1, 2, 3})
	rec := newRecordingSink[int]()
	dst := mustWritable(t, rec.sink(), QueuingStrategy[int]{})

	result := mustPipe(t, src, dst, PipeOptions{})
	assert.True(t, src.Locked())
	assert.True(t, dst.Locked())

	mustAwait(t, result)

	assert.Equal(t, []int{1, 2, 3}, rec.written())
	assert.True(t, rec.closed.Load())
	assert.Equal(t, ReadableStateClosed, src.State())
	assert.Equal(t, WritableStateClosed, dst.State())
	assert.False(t, src.Locked())
	assert.False(t, dst.Locked())
	assert.True(t, src.Disturbed())
}

func TestPipeToArgumentErrors(t *testing.T) {
	dst := mustWritable(t, UnderlyingSink[int]{}, QueuingStrategy[int]{})

	_, err := Empty[int]().PipeTo(nil, PipeOptions{})
	assert.True(t, IsTypeError(err))

	locked := FromSlice([]int{1})
	reader, err := locked.GetReader()
	require.NoError(t, err)
	_, err = locked.PipeTo(dst, PipeOptions{})
	assert.ErrorIs(t, err, ErrLocked)
	assert.False(t, dst.Locked(), "a failed pipe does not lock the destination")
	mustAwait(t, reader.Cancel(nil))

	writer := mustWriter(t, dst)
	src := FromSlice([]int{1})
	_, err = src.PipeTo(dst, PipeOptions{})
	assert.ErrorIs(t, err, ErrLocked)
	assert.False(t, src.Locked(), "a failed pipe does not lock the source")

	mustAwait(t, writer.Close())
	mustAwait(t, mustCancel(t, src, nil))
}

func TestPipeToPreventClose(t *testing.T) {
	rec := newRecordingSink[int]()
	dst := mustWritable(t, rec.sink(), QueuingStrategy[int]{})

	mustAwait(t, mustPipe(t, FromSlice([]int{1, 2}), dst, PipeOptions{PreventClose: true}))

	assert.Equal(t, []int{1, 2}, rec.written())
	assert.Equal(t, WritableStateWritable, dst.State())
	assert.False(t, dst.Locked())

	w := mustWriter(t, dst)
	mustAwait(t, w.Write(3))
	mustAwait(t, w.Close())
	assert.Equal(t, []int{1, 2, 3}, rec.written())
}

func TestPipeToSourceErrorAbortsDestination(t *testing.T) {
	src, c := controlledSource(t, QueuingStrategy[int]{})
	rec := newRecordingSink[int]()
	dst := mustWritable(t, rec.sink(), QueuingStrategy[int]{})

	result := mustPipe(t, src, dst, PipeOptions{})
	boom := errors.New("source failed")
	c.Error(boom)

	_, err := await(t, result)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, boom, <-rec.aborted)
	assert.Equal(t, WritableStateErrored, dst.State())
	assert.False(t, dst.Locked())
}

func TestPipeToSourceErrorPreventAbort(t *testing.T) {
	src, c := controlledSource(t, QueuingStrategy[int]{})
	rec := newRecordingSink[int]()
	dst := mustWritable(t, rec.sink(), QueuingStrategy[int]{})

	result := mustPipe(t, src, dst, PipeOptions{PreventAbort: true})
	boom := errors.New("source failed")
	c.Error(boom)

	_, err := await(t, result)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, WritableStateWritable, dst.State())
	assert.False(t, dst.Locked())

	closed, err := dst.Close()
	require.NoError(t, err)
	mustAwait(t, closed)
}

func failingSink(err error) UnderlyingSink[int] {
	return UnderlyingSink[int]{
		Write: func(context.Context, int, *WritableStreamDefaultController[int]) error {
			return err
		},
	}
}

func TestPipeToDestinationErrorCancelsSource(t *testing.T) {
	boom := errors.New("write failed")
	reasons := make(chan error, 1)
	var n atomic.Int64
	src, err := NewReadableStream(UnderlyingSource[int]{
		Pull: func(_ context.Context, c *ReadableStreamDefaultController[int]) error {
			return c.Enqueue(int(n.Add(1)))
		},
		Cancel: func(_ context.Context, reason error) error {
			reasons <- reason
			return nil
		},
	}, QueuingStrategy[int]{})
	require.NoError(t, err)
	dst := mustWritable(t, failingSink(boom), QueuingStrategy[int]{})

	_, err = await(t, mustPipe(t, src, dst, PipeOptions{}))
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, <-reasons, boom)
	assert.Equal(t, ReadableStateClosed, src.State())
	assert.False(t, src.Locked())
}

func TestPipeToDestinationErrorPreventCancel(t *testing.T) {
	boom := errors.New("write failed")
	src := Generate(func() int { return 7 })
	dst := mustWritable(t, failingSink(boom), QueuingStrategy[int]{})

	_, err := await(t, mustPipe(t, src, dst, PipeOptions{PreventCancel: true}))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, ReadableStateReadable, src.State())
	assert.False(t, src.Locked())

	mustAwait(t, mustCancel(t, src, nil))
}

func TestPipeToClosedDestination(t *testing.T) {
	src, reasons := cancelRecorder(t)
	dst := mustWritable(t, UnderlyingSink[int]{}, QueuingStrategy[int]{})
	closed, err := dst.Close()
	require.NoError(t, err)
	mustAwait(t, closed)

	_, err = await(t, mustPipe(t, src, dst, PipeOptions{}))
	assert.True(t, IsTypeError(err))
	assert.ErrorIs(t, err, ErrNotWritable)
	assert.ErrorIs(t, <-reasons, ErrNotWritable)
}

func TestPipeToSignalAbortMidPipe(t *testing.T) {
	var produced atomic.Int64
	reasons := make(chan error, 1)
	src, err := NewReadableStream(UnderlyingSource[int64]{
		Pull: func(_ context.Context, c *ReadableStreamDefaultController[int64]) error {
			return c.Enqueue(produced.Add(1))
		},
		Cancel: func(_ context.Context, reason error) error {
			reasons <- reason
			return nil
		},
	}, QueuingStrategy[int64]{})
	require.NoError(t, err)

	rec := newRecordingSink[int64]()
	dst := mustWritable(t, rec.sink(), QueuingStrategy[int64]{})

	signal, abort := context.WithCancelCause(context.Background())
	result := mustPipe(t, src, dst, PipeOptions{Signal: signal})

	testutil.Eventually(t, func() bool { return len(rec.written()) >= 3 }, time.Second, time.Millisecond)
	cause := errors.New("user pressed stop")
	abort(cause)

	_, err = await(t, result)
	require.Error(t, err)
	assert.True(t, IsAbortError(err))
	assert.ErrorIs(t, err, cause)

	assert.True(t, IsAbortError(<-rec.aborted))
	assert.True(t, IsAbortError(<-reasons))
	assert.Equal(t, WritableStateErrored, dst.State())
	assert.Equal(t, ReadableStateClosed, src.State())

	// Everything the sink accepted arrived in order.
	written := rec.written()
	for i, v := range written {
		assert.Equal(t, int64(i+1), v)
	}
}

func TestPipeToSignalAbortAfterFirstChunk(t *testing.T) {
	var pulls atomic.Int64
	release := make(chan struct{})
	reasons := make(chan error, 1)
	src, err := NewReadableStream(UnderlyingSource[int]{
		Pull: func(_ context.Context, c *ReadableStreamDefaultController[int]) error {
			if pulls.Add(1) == 1 {
				return c.Enqueue(1)
			}
			<-release
			return nil
		},
		Cancel: func(_ context.Context, reason error) error {
			reasons <- reason
			return nil
		},
	}, CountQueuingStrategy[int](0))
	require.NoError(t, err)

	rec := newRecordingSink[int]()
	dst := mustWritable(t, rec.sink(), QueuingStrategy[int]{})

	signal, abort := context.WithCancelCause(context.Background())
	result := mustPipe(t, src, dst, PipeOptions{Signal: signal})

	// Chunk 1 reached the sink and the read for chunk 2 is parked.
	testutil.Eventually(t, func() bool {
		return len(rec.written()) == 1 && pulls.Load() == 2
	}, time.Second, time.Millisecond)

	cause := errors.New("user pressed stop")
	abort(cause)

	_, err = await(t, result)
	close(release)
	require.Error(t, err)
	assert.True(t, IsAbortError(err))
	assert.ErrorIs(t, err, cause)

	assert.True(t, IsAbortError(<-rec.aborted))
	assert.True(t, IsAbortError(<-reasons))
	assert.Equal(t, []int{1}, rec.written())
	assert.Equal(t, WritableStateErrored, dst.State())
	assert.Equal(t, ReadableStateClosed, src.State())
}

func TestPipeToZeroHighWaterMarkDestination(t *testing.T) {
	src := FromSlice([]int{1, 2, 3})
	rec := newRecordingSink[int]()
	dst := mustWritable(t, rec.sink(), CountQueuingStrategy[int](0))

	mustAwait(t, mustPipe(t, src, dst, PipeOptions{}))

	assert.Equal(t, []int{1, 2, 3}, rec.written())
	assert.True(t, rec.closed.Load())
	assert.Equal(t, WritableStateClosed, dst.State())
}

func TestPipeToSignalAlreadyAborted(t *testing.T) {
	src, reasons := cancelRecorder(t)
	rec := newRecordingSink[int]()
	dst := mustWritable(t, rec.sink(), QueuingStrategy[int]{})

	signal, abort := context.WithCancel(context.Background())
	abort()

	_, err := await(t, mustPipe(t, src, dst, PipeOptions{Signal: signal}))
	assert.True(t, IsAbortError(err))
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, IsAbortError(<-reasons))
	assert.True(t, IsAbortError(<-rec.aborted))
	assert.Empty(t, rec.written())
}

func TestPipeToSignalPreventsBoth(t *testing.T) {
	src, _ := cancelRecorder(t)
	dst := mustWritable(t, UnderlyingSink[int]{}, QueuingStrategy[int]{})

	signal, abort := context.WithCancel(context.Background())
	abort()

	_, err := await(t, mustPipe(t, src, dst, PipeOptions{
		Signal:        signal,
		PreventAbort:  true,
		PreventCancel: true,
	}))
	assert.True(t, IsAbortError(err))
	assert.Equal(t, ReadableStateReadable, src.State())
	assert.Equal(t, WritableStateWritable, dst.State())
	assert.False(t, src.Locked())
	assert.False(t, dst.Locked())

	mustAwait(t, mustCancel(t, src, nil))
	closed, err := dst.Close()
	require.NoError(t, err)
	mustAwait(t, closed)
}

func TestPipeToRespectsBackpressure(t *testing.T) {
	var pulls atomic.Int64
	src, err := NewReadableStream(UnderlyingSource[int]{
		Pull: func(_ context.Context, c *ReadableStreamDefaultController[int]) error {
			return c.Enqueue(int(pulls.Add(1)))
		},
	}, CountQueuingStrategy[int](1))
	require.NoError(t, err)

	rec := newRecordingSink[int]()
	rec.gate = make(chan struct{})
	dst := mustWritable(t, rec.sink(), CountQueuingStrategy[int](1))

	signal, abort := context.WithCancel(context.Background())
	result := mustPipe(t, src, dst, PipeOptions{Signal: signal})

	// One chunk is stuck in the sink, a second overflows the destination
	// queue and a third waits in the source queue.
	testutil.Eventually(t, func() bool { return pulls.Load() == 3 }, time.Second, time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int64(3), pulls.Load())
	dst.mu.Lock()
	size := dst.controller.desiredSizeLocked()
	dst.mu.Unlock()
	assert.Equal(t, -1.0, size)

	abort()
	close(rec.gate)
	_, err = await(t, result)
	assert.True(t, IsAbortError(err))
}

func TestPipeThrough(t *testing.T) {
	out, c := controlledSource(t, QueuingStrategy[int]{})
	in := mustWritable(t, UnderlyingSink[int]{
		Write: func(_ context.Context, chunk int, _ *WritableStreamDefaultController[int]) error {
			return c.Enqueue(chunk * 10)
		},
		Close: func(context.Context) error {
			return c.Close()
		},
		Abort: func(_ context.Context, reason error) error {
			c.Error(reason)
			return nil
		},
	}, QueuingStrategy[int]{})

	readable, err := PipeThrough(FromSlice([]int{1, 2, 3}), ReadableWritablePair[int, int]{
		Readable: out,
		Writable: in,
	}, PipeOptions{})
	require.NoError(t, err)
	assert.Same(t, out, readable)

	got, err := ToSlice(context.Background(), readable)
	require.NoError(t, err)
	assert.Equal(t, []int{10, 20, 30}, got)
}

func TestPipeThroughArgumentErrors(t *testing.T) {
	dst := mustWritable(t, UnderlyingSink[int]{}, QueuingStrategy[int]{})
	out := Empty[int]()

	_, err := PipeThrough[int, int](nil, ReadableWritablePair[int, int]{Readable: out, Writable: dst}, PipeOptions{})
	assert.True(t, IsTypeError(err))

	_, err = PipeThrough(Empty[int](), ReadableWritablePair[int, int]{Writable: dst}, PipeOptions{})
	assert.True(t, IsTypeError(err))

	_, err = PipeThrough(Empty[int](), ReadableWritablePair[int, int]{Readable: out}, PipeOptions{})
	assert.True(t, IsTypeError(err))

	assert.False(t, dst.Locked())
}

func TestPipeUnobservedFailureIsLogged(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	cfg := DefaultConfig()
	cfg.Name = "orders"
	cfg.Logger = logger

	boom := errors.New("start failed")
	src, err := NewReadableStreamWithConfig(UnderlyingSource[int]{
		Start: func(context.Context, *ReadableStreamDefaultController[int]) error { return boom },
	}, QueuingStrategy[int]{}, cfg)
	require.NoError(t, err)
	dst := mustWritable(t, UnderlyingSink[int]{}, QueuingStrategy[int]{})

	_, err = src.PipeTo(dst, PipeOptions{PreventAbort: true})
	require.NoError(t, err)

	testutil.Eventually(t, func() bool {
		for _, e := range hook.AllEntries() {
			if e.Level == logrus.WarnLevel {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)

	var warn *logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warn = e
		}
	}
	require.NotNil(t, warn)
	assert.Equal(t, "orders", warn.Data["stream"])
	assert.NotEmpty(t, warn.Data["pipe_id"])
	assert.Equal(t, boom, warn.Data[logrus.ErrorKey])

	closed, err := dst.Close()
	require.NoError(t, err)
	mustAwait(t, closed)
}

func TestPipeMetrics(t *testing.T) {
	reg := metrics.NewRegistry(prometheus.NewRegistry())
	cfg := DefaultConfig()
	cfg.Metrics = reg

	src, err := NewReadableStreamWithConfig(UnderlyingSource[int]{
		Start: func(_ context.Context, c *ReadableStreamDefaultController[int]) error {
			_ = c.Enqueue(1)
			return c.Close()
		},
	}, QueuingStrategy[int]{}, cfg)
	require.NoError(t, err)
	dst := mustWritable(t, UnderlyingSink[int]{}, QueuingStrategy[int]{})

	mustAwait(t, mustPipe(t, src, dst, PipeOptions{}))

	assert.Equal(t, 1.0, promtest.ToFloat64(reg.PipeOperations.WithLabelValues("closed")))
	assert.Equal(t, 1, promtest.CollectAndCount(reg.PipeDuration))
}
