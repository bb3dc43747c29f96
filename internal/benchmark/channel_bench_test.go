package benchmark

import (
	"context"
	"strconv"
	"sync"
	"testing"

	"github.com/vnykmshr/webstreams/pkg/streaming/channel"
	"github.com/vnykmshr/webstreams/pkg/streaming/stream"
)

func newChannel(b *testing.B, bufSize int, strategy channel.BackpressureStrategy) channel.BackpressureChannel[int] {
	b.Helper()
	config := channel.DefaultConfig()
	config.BufferSize = bufSize
	config.Strategy = strategy
	ch, err := channel.NewWithConfig[int](config)
	if err != nil {
		b.Fatal(err)
	}
	return ch
}

// drain reads rs until it closes and reports the number of chunks read.
func drain[T any](rs *stream.ReadableStream[T]) <-chan int {
	done := make(chan int, 1)
	go func() {
		n := 0
		_ = stream.ForEach(context.Background(), rs, func(T) { n++ })
		done <- n
	}()
	return done
}

// BenchmarkChannelSend measures send operation performance.
func BenchmarkChannelSend(b *testing.B) {
	bufferSizes := []int{10, 100, 1000}

	for _, bufSize := range bufferSizes {
		b.Run(sizeLabel(bufSize), func(b *testing.B) {
			ch := newChannel(b, bufSize, channel.Block)
			done := drain(ch.Readable())

			b.ReportAllocs()
			b.ResetTimer()
			ctx := context.Background()
			for i := 0; i < b.N; i++ {
				_ = ch.Send(ctx, i)
			}
			b.StopTimer()

			_ = ch.Close()
			<-done
		})
	}
}

// BenchmarkChannelRead measures read performance from a full queue.
func BenchmarkChannelRead(b *testing.B) {
	ch := newChannel(b, 1000, channel.Block)
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; ; i++ {
			if err := ch.Send(ctx, i); err != nil {
				return
			}
		}
	}()

	reader, err := ch.Readable().GetReader()
	if err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = reader.Read().Await(ctx)
	}
	b.StopTimer()

	_, _ = reader.Cancel(nil).Await(ctx)
	<-done
}

// BenchmarkChannelContention measures performance under concurrent senders.
func BenchmarkChannelContention(b *testing.B) {
	contentionLevels := []int{2, 4, 8, 16}

	for _, producers := range contentionLevels {
		b.Run(contentionLabel(producers), func(b *testing.B) {
			ch := newChannel(b, 100, channel.Block)
			done := drain(ch.Readable())

			b.ReportAllocs()
			b.ResetTimer()

			var producerWg sync.WaitGroup
			perProducer := b.N / producers
			producerWg.Add(producers)

			for p := 0; p < producers; p++ {
				go func() {
					defer producerWg.Done()
					ctx := context.Background()
					for i := 0; i < perProducer; i++ {
						_ = ch.Send(ctx, i)
					}
				}()
			}

			producerWg.Wait()
			b.StopTimer()

			_ = ch.Close()
			<-done
		})
	}
}

// BenchmarkDropStrategy measures the Drop strategy against a consumer
// that never reads.
func BenchmarkDropStrategy(b *testing.B) {
	ch := newChannel(b, 100, channel.Drop)
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = ch.Send(ctx, i)
	}
	b.StopTimer()

	ch.Error(context.Canceled)
}

// BenchmarkErrorStrategy measures TrySend with a consumer keeping up.
func BenchmarkErrorStrategy(b *testing.B) {
	ch := newChannel(b, 100, channel.Error)
	done := drain(ch.Readable())

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = ch.TrySend(i)
	}
	b.StopTimer()

	_ = ch.Close()
	<-done
}

// contentionLabel returns a readable label for contention levels.
func contentionLabel(level int) string {
	return strconv.Itoa(level) + "producers"
}
