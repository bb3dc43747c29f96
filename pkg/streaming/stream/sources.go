package stream

import (
	"context"
	"errors"
	"io"

	"github.com/vnykmshr/webstreams/pkg/common/validation"
)

// newSourceStream builds a stream from an internally defined source. The
// default strategy and type cannot fail validation.
func newSourceStream[T any](src UnderlyingSource[T]) *ReadableStream[T] {
	s := newReadableStream[T](DefaultConfig())
	s.setupController(src, DefaultHighWaterMark, QueuingStrategy[T]{})
	return s
}

// FromSlice returns a stream that yields the elements of items in order
// and then closes.
func FromSlice[T any](items []T) *ReadableStream[T] {
	next := 0
	return newSourceStream(UnderlyingSource[T]{
		Pull: func(_ context.Context, c *ReadableStreamDefaultController[T]) error {
			if next >= len(items) {
				return c.Close()
			}
			item := items[next]
			next++
			return c.Enqueue(item)
		},
	})
}

// FromChannel returns a stream that yields values received from ch and
// closes when ch is closed. Cancelling the stream stops receiving but
// leaves ch open.
func FromChannel[T any](ch <-chan T) *ReadableStream[T] {
	return newSourceStream(UnderlyingSource[T]{
		Pull: func(ctx context.Context, c *ReadableStreamDefaultController[T]) error {
			select {
			case v, ok := <-ch:
				if !ok {
					return c.Close()
				}
				return c.Enqueue(v)
			case <-ctx.Done():
				return nil
			}
		},
	})
}

// Generate returns an infinite stream of values produced by generator.
// It only ends when cancelled.
func Generate[T any](generator func() T) *ReadableStream[T] {
	return newSourceStream(UnderlyingSource[T]{
		Pull: func(_ context.Context, c *ReadableStreamDefaultController[T]) error {
			return c.Enqueue(generator())
		},
	})
}

// Empty returns a stream that is already closed.
func Empty[T any]() *ReadableStream[T] {
	s := newSourceStream(UnderlyingSource[T]{})
	_ = s.controller.Close()
	return s
}

// Errored returns a stream that is already errored with err.
func Errored[T any](err error) *ReadableStream[T] {
	return newErroredReadableStream[T](DefaultConfig(), err)
}

// FromReader returns a stream of chunks of at most chunkSize bytes read
// from r. The stream closes at io.EOF and errors on any other read error.
// Cancelling the stream closes r when it implements io.Closer.
func FromReader(r io.Reader, chunkSize int) (*ReadableStream[[]byte], error) {
	if err := validation.ValidatePositive("stream", "chunkSize", chunkSize); err != nil {
		return nil, err
	}

	return newSourceStream(UnderlyingSource[[]byte]{
		Pull: func(_ context.Context, c *ReadableStreamDefaultController[[]byte]) error {
			buf := make([]byte, chunkSize)
			n, err := r.Read(buf)
			if n > 0 {
				if eerr := c.Enqueue(buf[:n]); eerr != nil {
					return eerr
				}
			}
			switch {
			case errors.Is(err, io.EOF):
				return c.Close()
			case err != nil:
				return err
			}
			return nil
		},
		Cancel: func(context.Context, error) error {
			if closer, ok := r.(io.Closer); ok {
				return closer.Close()
			}
			return nil
		},
	}), nil
}
