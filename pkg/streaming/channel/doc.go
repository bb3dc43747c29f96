/*
Package channel provides push-based sources for readable streams.

A BackpressureChannel is the producer side of a stream.ReadableStream.
Producers call Send from any goroutine and consumers read from the stream
returned by Readable, through a reader, a pipe or a tee. The stream's
queue and its high-water mark decide when the producer has to slow down;
the channel only decides what happens to a value that does not fit.

Backpressure Strategies:

Block Strategy:
The default strategy. Send waits until the consumer reads enough for the
stream to ask for more data.

	ch, err := New[int](10)
	if err != nil {
		return err
	}
	defer ch.Close()

	// Blocks while 10 values are waiting to be read.
	err = ch.Send(ctx, value)

Drop Strategy:
Drops new values when the queue is full. Every drop is counted, logged at
Warn level and reported to the push_dropped_total metric.

	config := DefaultConfig()
	config.BufferSize = 10
	config.Strategy = Drop
	config.OnDrop = func(value interface{}) {
		log.Printf("Dropped message: %v", value)
	}
	ch, err := NewWithConfig[int](config)

Error Strategy:
Returns ErrChannelFull, which wraps errors.ErrCapacityExceeded, when the
queue is full.

	err := ch.Send(ctx, value)
	if errors.Is(err, ErrChannelFull) {
		// Handle full buffer
	}

Consuming:

	ch, _ := New[Event](100)
	go produce(ch)

	err := stream.ForEach(ctx, ch.Readable(), func(e Event) {
		handle(e)
	})

Closing and Cancellation:

Close lets the consumer read what was queued before the stream reports
done. Error discards queued values and fails the consumer. When the
consumer cancels the stream, every pending and future Send returns
ErrChannelClosed.

Thread Safety:

All methods are safe for concurrent use. Concurrent senders under the
Block strategy are served in no particular order.
*/
package channel
