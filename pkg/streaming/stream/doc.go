/*
Package stream implements readable and writable streams with backpressure,
locking, tee and pipe composition.

Core Concepts:

A ReadableStream wraps an UnderlyingSource. The source pushes chunks into
the stream through a ReadableStreamDefaultController; consumers take them
out through a single ReadableStreamDefaultReader at a time. A
WritableStream wraps an UnderlyingSink that receives chunks written through
a single WritableStreamDefaultWriter.

Every stream buffers chunks in a size-tracked queue. A QueuingStrategy
decides how big a chunk is and how much may be buffered before the stream
signals backpressure:

  - readable side: the source is pulled only while the queue is below the
    high-water mark or a reader is waiting
  - writable side: the writer's Ready promise is pending while the queue
    holds more than the high-water mark

Asynchronous results are reported with promise.Promise values. Source and
sink algorithms run on their own goroutines, never while the stream's lock
is held, and a panic inside one is turned into an error that fails the
stream.

Basic Usage:

	rs, err := stream.NewReadableStream(stream.UnderlyingSource[int]{
		Start: func(ctx context.Context, c *stream.ReadableStreamDefaultController[int]) error {
			for i := 1; i <= 3; i++ {
				if err := c.Enqueue(i); err != nil {
					return err
				}
			}
			return c.Close()
		},
	}, stream.CountQueuingStrategy[int](16))

	reader, err := rs.GetReader()
	for {
		res, err := reader.Read().Await(ctx)
		if err != nil || res.Done {
			break
		}
		fmt.Println(res.Value)
	}

Locking:

GetReader and GetWriter lock a stream; a second call fails with a
TypeError until ReleaseLock. Once a stream closes or errors the lock is
dropped automatically, while the old reader or writer keeps reporting the
final outcome.

Piping:

PipeTo connects a ReadableStream to a WritableStream. It waits for the
destination to be ready, reads one chunk, writes it and repeats.
Termination propagates in both directions unless disabled through
PipeOptions:

	done, err := rs.PipeTo(ws, stream.PipeOptions{Signal: ctx})
	if err != nil {
		return err // a stream was locked
	}
	if _, err := done.Await(context.Background()); stream.IsAbortError(err) {
		// ctx was cancelled
	}

Teeing:

Tee splits a stream into two branches that see every chunk in source
order. A slow branch buffers without stalling the other one.

Error Handling:

Failures caused by misuse are *StreamError values with a Kind such as
TypeError or RangeError. Sentinel errors like ErrLocked and ErrReleased are
wrapped so they can be matched with errors.Is. Errors raised by user
algorithms are stored unchanged and returned from every later operation.
*/
package stream
