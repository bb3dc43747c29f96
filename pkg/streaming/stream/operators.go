package stream

import (
	"context"
)

// Map returns a stream of fn applied to every chunk of src. src is locked
// for the lifetime of the returned stream; cancelling the result cancels
// src.
func Map[T, U any](src *ReadableStream[T], fn func(T) U) (*ReadableStream[U], error) {
	reader, err := src.GetReader()
	if err != nil {
		return nil, err
	}

	out := newReadableStream[U](src.cfg.derive("/map"))
	out.setupController(UnderlyingSource[U]{
		Pull: func(ctx context.Context, c *ReadableStreamDefaultController[U]) error {
			res, err := reader.Read().Await(ctx)
			if err != nil {
				return err
			}
			if res.Done {
				return c.Close()
			}
			return c.Enqueue(fn(res.Value))
		},
		Cancel: func(ctx context.Context, reason error) error {
			_, err := reader.Cancel(reason).Await(ctx)
			return err
		},
	}, DefaultHighWaterMark, QueuingStrategy[U]{})
	return out, nil
}

// Filter returns a stream of the chunks of src for which keep returns true.
func Filter[T any](src *ReadableStream[T], keep func(T) bool) (*ReadableStream[T], error) {
	reader, err := src.GetReader()
	if err != nil {
		return nil, err
	}

	out := newReadableStream[T](src.cfg.derive("/filter"))
	out.setupController(UnderlyingSource[T]{
		Pull: func(ctx context.Context, c *ReadableStreamDefaultController[T]) error {
			for {
				res, err := reader.Read().Await(ctx)
				if err != nil {
					return err
				}
				if res.Done {
					return c.Close()
				}
				if keep(res.Value) {
					return c.Enqueue(res.Value)
				}
			}
		},
		Cancel: func(ctx context.Context, reason error) error {
			_, err := reader.Cancel(reason).Await(ctx)
			return err
		},
	}, DefaultHighWaterMark, QueuingStrategy[T]{})
	return out, nil
}

// ForEach reads src to the end, calling action for every chunk. If ctx is
// done first, src is cancelled with the context's cause.
func ForEach[T any](ctx context.Context, src *ReadableStream[T], action func(T)) error {
	reader, err := src.GetReader()
	if err != nil {
		return err
	}
	defer reader.ReleaseLock()

	for {
		res, err := reader.Read().Await(ctx)
		if err != nil {
			if ctx.Err() != nil {
				reader.Cancel(context.Cause(ctx))
			}
			return err
		}
		if res.Done {
			return nil
		}
		action(res.Value)
	}
}

// ToSlice reads every chunk of src into a slice.
func ToSlice[T any](ctx context.Context, src *ReadableStream[T]) ([]T, error) {
	var out []T
	err := ForEach(ctx, src, func(v T) {
		out = append(out, v)
	})
	return out, err
}
