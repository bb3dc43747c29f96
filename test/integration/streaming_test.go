package integration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/vnykmshr/webstreams/internal/testutil"
	"github.com/vnykmshr/webstreams/pkg/streaming/channel"
	"github.com/vnykmshr/webstreams/pkg/streaming/cron"
	"github.com/vnykmshr/webstreams/pkg/streaming/promise"
	"github.com/vnykmshr/webstreams/pkg/streaming/stream"
	"github.com/vnykmshr/webstreams/pkg/streaming/writer"
)

func toBytes(s string) []byte { return []byte(s) }

// TestChannelPipedIntoWriter tests the complete pipeline:
// Channel -> ReadableStream -> pipe -> WritableStream -> io.Writer.
func TestChannelPipedIntoWriter(t *testing.T) {
	ch, err := channel.New[string](2)
	testutil.AssertNoError(t, err)

	underlying := testutil.NewMockWriter()
	sink, err := writer.New(underlying)
	testutil.AssertNoError(t, err)

	chunks, err := stream.Map(ch.Readable(), toBytes)
	testutil.AssertNoError(t, err)
	done, err := chunks.PipeTo(sink.Writable(), stream.PipeOptions{})
	testutil.AssertNoError(t, err)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := ch.Send(ctx, string(rune('A'+i))); err != nil {
			t.Fatalf("failed to send: %v", err)
		}
	}
	testutil.AssertNoError(t, ch.Close())
	testutil.MustAwait[struct{}](t, done)
	testutil.AssertNotEqual(t, done.State(), promise.Pending)

	if got := underlying.String(); got != "ABCDE" {
		t.Errorf("written = %q, want %q", got, "ABCDE")
	}
	testutil.AssertEqual(t, sink.Writable().State(), stream.WritableStateClosed)
}

// TestStreamProcessingPipeline filters, maps and tees a stream, consuming
// both branches concurrently.
func TestStreamProcessingPipeline(t *testing.T) {
	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()

	evens, err := stream.Filter(stream.FromSlice([]int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}), func(x int) bool {
		return x%2 == 0
	})
	testutil.AssertNoError(t, err)
	doubled, err := stream.Map(evens, func(x int) int { return x * 2 })
	testutil.AssertNoError(t, err)

	left, right, err := doubled.Tee()
	testutil.AssertNoError(t, err)

	var processed int64
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := stream.ForEach(ctx, left, func(int) {
			atomic.AddInt64(&processed, 1)
			time.Sleep(time.Millisecond)
		})
		if err != nil {
			t.Errorf("ForEach failed: %v", err)
		}
	}()

	result, err := stream.ToSlice(ctx, right)
	testutil.AssertNoError(t, err)
	testutil.WaitForInt64(t, &processed, 5, time.Second)
	wg.Wait()

	want := []int{4, 8, 12, 16, 20}
	if fmt.Sprint(result) != fmt.Sprint(want) {
		t.Errorf("result = %v, want %v", result, want)
	}
}

// TestChannelBackpressure verifies that each strategy reacts to a slow
// consumer downstream of a pipe.
func TestChannelBackpressure(t *testing.T) {
	strategies := []channel.BackpressureStrategy{channel.Block, channel.Drop, channel.Error}

	for _, strategy := range strategies {
		t.Run(strategy.String(), func(t *testing.T) {
			config := channel.DefaultConfig()
			config.BufferSize = 2
			config.Strategy = strategy
			blocked := testutil.NewCallbackTracker()
			config.OnBlock = func() { blocked.Mark() }
			dropped := testutil.NewCallbackTracker()
			config.OnDrop = func(v interface{}) { dropped.Mark(v) }
			ch, err := channel.NewWithConfig[int](config)
			testutil.AssertNoError(t, err)

			gate := make(chan struct{})
			var written atomic.Int32
			dest, err := stream.NewWritableStream(stream.UnderlyingSink[int]{
				Write: func(context.Context, int, *stream.WritableStreamDefaultController[int]) error {
					<-gate
					written.Add(1)
					return nil
				},
			}, stream.CountQueuingStrategy[int](1))
			testutil.AssertNoError(t, err)

			done, err := ch.Readable().PipeTo(dest, stream.PipeOptions{})
			testutil.AssertNoError(t, err)

			ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
			defer cancel()

			var sent, refused int
			for i := 0; i < 20; i++ {
				err := ch.Send(ctx, i)
				switch {
				case err == nil:
					sent++
				case errors.Is(err, channel.ErrChannelFull), errors.Is(err, context.DeadlineExceeded):
					refused++
				default:
					t.Fatalf("unexpected send error: %v", err)
				}
				if errors.Is(err, context.DeadlineExceeded) {
					break
				}
			}

			stats := ch.Stats()
			switch strategy {
			case channel.Block:
				testutil.AssertEqual(t, refused, 1)
				testutil.AssertEqual(t, int64(sent), stats.SendCount)
				blocked.AssertCalled(t)
				blocked.AssertCallCount(t, int(stats.BlockedSends))
				dropped.AssertNotCalled(t)
			case channel.Drop:
				testutil.AssertEqual(t, sent, 20)
				testutil.AssertEqual(t, stats.DroppedCount > 0, true)
				testutil.AssertEqual(t, stats.SendCount+stats.DroppedCount, int64(20))
				dropped.AssertCallCount(t, int(stats.DroppedCount))
				blocked.AssertNotCalled(t)
			case channel.Error:
				testutil.AssertEqual(t, refused > 0, true)
				testutil.AssertEqual(t, stats.RejectedCount, int64(refused))
				testutil.AssertEqual(t, int64(sent), stats.SendCount)
			}

			close(gate)
			testutil.AssertNoError(t, ch.Close())
			testutil.MustAwait[struct{}](t, done)
			testutil.AssertEqual(t, int64(written.Load()), stats.SendCount)
		})
	}
}

// TestConcurrentProducers checks that sends from many goroutines all reach
// the writer.
func TestConcurrentProducers(t *testing.T) {
	const producers, perProducer = 8, 50

	ch, err := channel.New[string](16)
	testutil.AssertNoError(t, err)

	underlying := testutil.NewMockWriter()
	sink, err := writer.New(underlying)
	testutil.AssertNoError(t, err)
	chunks, err := stream.Map(ch.Readable(), toBytes)
	testutil.AssertNoError(t, err)
	done, err := chunks.PipeTo(sink.Writable(), stream.PipeOptions{})
	testutil.AssertNoError(t, err)

	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				if err := ch.Send(ctx, "x"); err != nil {
					t.Errorf("send failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
	testutil.AssertNoError(t, ch.Close())
	testutil.MustAwait[struct{}](t, done)

	testutil.AssertEqual(t, underlying.String(), strings.Repeat("x", producers*perProducer))
	testutil.AssertEqual(t, sink.Stats().WriteCount, int64(producers*perProducer))
}

// TestStreamContextCancellation verifies that consumers and pipes stop
// when their context is done.
func TestStreamContextCancellation(t *testing.T) {
	t.Run("ForEach", func(t *testing.T) {
		src := stream.Generate(func() int { return 1 })
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		var count int
		err := stream.ForEach(ctx, src, func(int) { count++ })
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("err = %v, want deadline exceeded", err)
		}
		testutil.Eventually(t, func() bool {
			return src.State() == stream.ReadableStateClosed
		}, time.Second, time.Millisecond)
	})

	t.Run("PipeTo", func(t *testing.T) {
		src := stream.Generate(func() []byte { return []byte("x") })
		ctx, cancel := context.WithCancel(context.Background())

		underlying := testutil.NewMockWriter()
		var copyErr error
		finished := make(chan struct{})
		go func() {
			defer close(finished)
			_, copyErr = writer.Copy(ctx, underlying, src)
		}()

		testutil.Eventually(t, func() bool { return underlying.WriteCount() > 10 }, time.Second, time.Millisecond)
		cancel()
		<-finished

		testutil.AssertEqual(t, stream.IsAbortError(copyErr), true)
		testutil.AssertEqual(t, errors.Is(copyErr, context.Canceled), true)
	})
}

// TestScheduledTicksIntoWriter pipes a cron schedule driven by a mock clock
// into a writer.
func TestScheduledTicksIntoWriter(t *testing.T) {
	mock := clock.NewMock()
	config := cron.DefaultConfig()
	config.Clock = mock
	config.Location = time.UTC
	config.MaxTicks = 3

	ticks, err := cron.NewWithConfig("@every 1m", config)
	testutil.AssertNoError(t, err)
	lines, err := stream.Map(ticks, func(tick cron.Tick) []byte {
		return []byte(fmt.Sprintf("%d ", tick.Seq))
	})
	testutil.AssertNoError(t, err)

	underlying := testutil.NewMockWriter()
	sink, err := writer.New(underlying)
	testutil.AssertNoError(t, err)
	done, err := lines.PipeTo(sink.Writable(), stream.PipeOptions{})
	testutil.AssertNoError(t, err)

	testutil.Eventually(t, func() bool {
		if done.State() != promise.Pending {
			return true
		}
		mock.Add(time.Minute)
		return false
	}, 5*time.Second, time.Millisecond)

	testutil.MustAwait[struct{}](t, done)
	testutil.AssertEqual(t, underlying.String(), "1 2 3 ")
}
