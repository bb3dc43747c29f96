package channel

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	wscontext "github.com/vnykmshr/webstreams/pkg/common/context"
	wserrors "github.com/vnykmshr/webstreams/pkg/common/errors"
	"github.com/vnykmshr/webstreams/pkg/common/validation"
	"github.com/vnykmshr/webstreams/pkg/streaming/stream"
)

// BackpressureStrategy defines how the channel handles backpressure when
// the stream's queue is full.
type BackpressureStrategy int

const (
	// Block strategy blocks the producer until the consumer makes room.
	Block BackpressureStrategy = iota

	// Drop strategy drops the newest message when the queue is full.
	Drop

	// Error strategy returns ErrChannelFull when the queue is full.
	Error
)

func (s BackpressureStrategy) String() string {
	switch s {
	case Block:
		return "block"
	case Drop:
		return "drop"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// ErrChannelFull is returned when the queue is full and strategy is Error.
var ErrChannelFull = fmt.Errorf("channel buffer is full: %w", wserrors.ErrCapacityExceeded)

// ErrChannelClosed is returned when sending after Close, Error or a
// cancel by the consumer.
var ErrChannelClosed = fmt.Errorf("channel is closed: %w", wserrors.ErrClosed)

// BackpressureChannel is the producer side of a push-based ReadableStream.
// Values sent to it are enqueued into the stream returned by Readable.
type BackpressureChannel[T any] interface {
	// Send sends a value, applying the configured strategy when the
	// stream's queue is full. A Block send that outlives SendTimeout
	// fails with an error matching both ErrTimeout and
	// context.DeadlineExceeded.
	Send(ctx context.Context, value T) error

	// TrySend sends a value without blocking. Under the Block strategy a
	// full queue yields ErrChannelFull.
	TrySend(value T) error

	// Close closes the stream once queued values were read.
	Close() error

	// Error errors the stream, discarding queued values.
	Error(err error)

	// IsClosed reports whether sending is no longer possible.
	IsClosed() bool

	// Len returns the number of values waiting to be read.
	Len() int

	// Cap returns the stream's high-water mark.
	Cap() int

	// Readable returns the consumer side.
	Readable() *stream.ReadableStream[T]

	// Stats returns channel statistics.
	Stats() Stats
}

// Stats holds statistics about channel usage.
type Stats struct {
	// SendCount is the total number of values enqueued.
	SendCount int64

	// DroppedCount is the total number of values dropped by the Drop strategy.
	DroppedCount int64

	// RejectedCount is the total number of values refused with ErrChannelFull.
	RejectedCount int64

	// BlockedSends is the number of sends that had to wait for room.
	BlockedSends int64

	// LastSendTime is the timestamp of the last successful send.
	LastSendTime time.Time
}

// Config holds configuration for BackpressureChannel.
type Config struct {
	// BufferSize is the high-water mark of the stream, in values.
	BufferSize int

	// Strategy defines how backpressure is handled.
	Strategy BackpressureStrategy

	// OnDrop is called when a message is dropped.
	OnDrop func(value interface{})

	// OnBlock is called when a send operation has to wait.
	OnBlock func()

	// SendTimeout bounds how long Send waits under Block (0 = no timeout).
	SendTimeout time.Duration

	// Stream configures naming, logging and metrics of the stream.
	Stream stream.Config
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		BufferSize: 100,
		Strategy:   Block,
		Stream:     stream.DefaultConfig(),
	}
}

type backpressureChannel[T any] struct {
	config     Config
	readable   *stream.ReadableStream[T]
	controller *stream.ReadableStreamDefaultController[T]
	log        logrus.FieldLogger

	// sendMu makes the room check and the enqueue atomic across senders.
	sendMu sync.Mutex
	space  chan struct{}
	done   chan struct{}
	once   sync.Once
	closed atomic.Bool

	sendCount     atomic.Int64
	droppedCount  atomic.Int64
	rejectedCount atomic.Int64
	blockedSends  atomic.Int64
	lastSend      atomic.Int64
}

// New creates a BackpressureChannel with default configuration and the
// given buffer size.
func New[T any](bufferSize int) (BackpressureChannel[T], error) {
	config := DefaultConfig()
	config.BufferSize = bufferSize
	return NewWithConfig[T](config)
}

// NewWithConfig creates a BackpressureChannel with the specified
// configuration.
func NewWithConfig[T any](config Config) (BackpressureChannel[T], error) {
	if err := validation.ValidatePositive("channel", "BufferSize", config.BufferSize); err != nil {
		return nil, err
	}

	ch := &backpressureChannel[T]{
		config: config,
		log:    config.Stream.Logger,
		space:  make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	if ch.log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		ch.log = l
	}
	ch.log = ch.log.WithField("stream", config.Stream.Name)

	started := make(chan *stream.ReadableStreamDefaultController[T], 1)
	rs, err := stream.NewReadableStreamWithConfig(stream.UnderlyingSource[T]{
		Start: func(_ context.Context, c *stream.ReadableStreamDefaultController[T]) error {
			started <- c
			return nil
		},
		Pull: func(context.Context, *stream.ReadableStreamDefaultController[T]) error {
			ch.signalSpace()
			return nil
		},
		Cancel: func(_ context.Context, reason error) error {
			ch.log.WithError(reason).Debug("consumer cancelled the channel")
			ch.markClosed()
			return nil
		},
	}, stream.CountQueuingStrategy[T](float64(config.BufferSize)), config.Stream)
	if err != nil {
		return nil, err
	}

	ch.readable = rs
	ch.controller = <-started
	return ch, nil
}

// Send implements BackpressureChannel.Send.
func (ch *backpressureChannel[T]) Send(ctx context.Context, value T) error {
	if ch.IsClosed() {
		return ErrChannelClosed
	}

	switch ch.config.Strategy {
	case Drop:
		return ch.dropSend(value)
	case Error:
		return ch.errorSend(value)
	default:
		if ch.config.SendTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = wscontext.WithTimeoutOrCancel(ctx, ch.config.SendTimeout)
			defer cancel()
		}
		return ch.blockingSend(ctx, value)
	}
}

// TrySend implements BackpressureChannel.TrySend.
func (ch *backpressureChannel[T]) TrySend(value T) error {
	if ch.IsClosed() {
		return ErrChannelClosed
	}
	if ch.config.Strategy == Drop {
		return ch.dropSend(value)
	}
	return ch.errorSend(value)
}

// Close implements BackpressureChannel.Close.
func (ch *backpressureChannel[T]) Close() error {
	if !ch.markClosed() {
		return nil
	}
	if err := ch.controller.Close(); err != nil && !stream.IsTypeError(err) {
		return err
	}
	return nil
}

// Error implements BackpressureChannel.Error.
func (ch *backpressureChannel[T]) Error(err error) {
	ch.markClosed()
	ch.controller.Error(err)
}

// IsClosed implements BackpressureChannel.IsClosed.
func (ch *backpressureChannel[T]) IsClosed() bool {
	return ch.closed.Load()
}

// Len implements BackpressureChannel.Len.
func (ch *backpressureChannel[T]) Len() int {
	if ch.readable.State() != stream.ReadableStateReadable {
		return 0
	}
	size, _ := ch.controller.DesiredSize()
	if n := ch.config.BufferSize - int(size); n > 0 {
		return n
	}
	return 0
}

// Cap implements BackpressureChannel.Cap.
func (ch *backpressureChannel[T]) Cap() int {
	return ch.config.BufferSize
}

// Readable implements BackpressureChannel.Readable.
func (ch *backpressureChannel[T]) Readable() *stream.ReadableStream[T] {
	return ch.readable
}

// Stats implements BackpressureChannel.Stats.
func (ch *backpressureChannel[T]) Stats() Stats {
	stats := Stats{
		SendCount:     ch.sendCount.Load(),
		DroppedCount:  ch.droppedCount.Load(),
		RejectedCount: ch.rejectedCount.Load(),
		BlockedSends:  ch.blockedSends.Load(),
	}
	if ns := ch.lastSend.Load(); ns != 0 {
		stats.LastSendTime = time.Unix(0, ns)
	}
	return stats
}

// blockingSend waits for the stream to ask for more data when it is full.
func (ch *backpressureChannel[T]) blockingSend(ctx context.Context, value T) error {
	blocked := false
	for {
		sent, err := ch.enqueueIfRoom(value)
		if sent || err != nil {
			return err
		}

		if !blocked {
			blocked = true
			ch.blockedSends.Add(1)
			if ch.config.OnBlock != nil {
				ch.config.OnBlock()
			}
		}

		select {
		case <-ch.space:
		case <-ch.done:
			return ErrChannelClosed
		case <-ctx.Done():
			if wscontext.IsTimedOut(ctx) {
				return fmt.Errorf("%w: %w", wserrors.ErrTimeout, ctx.Err())
			}
			return ctx.Err()
		}
	}
}

// dropSend discards value when the stream is full.
func (ch *backpressureChannel[T]) dropSend(value T) error {
	sent, err := ch.enqueueIfRoom(value)
	if sent || err != nil {
		return err
	}

	ch.droppedCount.Add(1)
	ch.observeFull("dropped a value")
	if ch.config.OnDrop != nil {
		ch.config.OnDrop(value)
	}
	return nil
}

// errorSend refuses value when the stream is full.
func (ch *backpressureChannel[T]) errorSend(value T) error {
	sent, err := ch.enqueueIfRoom(value)
	if sent || err != nil {
		return err
	}

	ch.rejectedCount.Add(1)
	ch.observeFull("rejected a value")
	return ErrChannelFull
}

func (ch *backpressureChannel[T]) enqueueIfRoom(value T) (bool, error) {
	ch.sendMu.Lock()
	defer ch.sendMu.Unlock()

	if ch.IsClosed() {
		return false, ErrChannelClosed
	}
	size, ok := ch.controller.DesiredSize()
	if !ok {
		return false, ErrChannelClosed
	}
	if size <= 0 {
		return false, nil
	}

	if err := ch.controller.Enqueue(value); err != nil {
		if stream.IsTypeError(err) {
			return false, ErrChannelClosed
		}
		return false, err
	}
	ch.sendCount.Add(1)
	ch.lastSend.Store(time.Now().UnixNano())
	return true, nil
}

func (ch *backpressureChannel[T]) observeFull(msg string) {
	strategy := ch.config.Strategy.String()
	ch.config.Stream.Metrics.ObserveDropped(strategy, ch.config.Stream.Name)
	ch.log.WithField("strategy", strategy).Warn("channel is full, " + msg)
}

func (ch *backpressureChannel[T]) signalSpace() {
	select {
	case ch.space <- struct{}{}:
	default:
	}
}

// markClosed reports whether this call closed the channel.
func (ch *backpressureChannel[T]) markClosed() bool {
	first := false
	ch.once.Do(func() {
		first = true
		ch.closed.Store(true)
		close(ch.done)
	})
	return first
}
