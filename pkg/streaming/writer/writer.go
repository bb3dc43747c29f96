package writer

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/vnykmshr/webstreams/pkg/common/validation"
	"github.com/vnykmshr/webstreams/pkg/streaming/stream"
)

// ErrShortWrite is returned when the underlying writer keeps accepting
// fewer bytes than it was given without reporting an error.
var ErrShortWrite = io.ErrShortWrite

// Stats holds statistics about a sink.
type Stats struct {
	// BytesWritten is the total number of bytes accepted by the writer.
	BytesWritten int64

	// WriteCount is the total number of chunks written.
	WriteCount int64

	// ErrorCount is the total number of failed write attempts.
	ErrorCount int64

	// RetryCount is the number of attempts beyond the first.
	RetryCount int64

	// TotalWriteTime is the total time spent in the underlying writer.
	TotalWriteTime time.Duration

	// LastWriteTime is the timestamp of the last successful chunk.
	LastWriteTime time.Time
}

// Config holds configuration options for Sink.
type Config struct {
	// BufferSize is the high-water mark of the stream in bytes. Writers
	// see backpressure once more than this many bytes are queued.
	// Default: 64KB
	BufferSize int

	// MaxRetries is the number of times to retry a failed write.
	// Default: 3
	MaxRetries int

	// RetryDelay is the delay between retries.
	// Default: 100ms
	RetryDelay time.Duration

	// CloseUnderlying closes the writer when the stream is closed or
	// aborted, if it implements io.Closer.
	CloseUnderlying bool

	// OnError is called when a write attempt fails.
	OnError func(error)

	// OnFlush is called after the underlying writer was flushed on close.
	OnFlush func(bytesWritten int64, duration time.Duration)

	// Stream configures naming, logging and metrics of the stream.
	Stream stream.Config
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		BufferSize: 64 * 1024,
		MaxRetries: 3,
		RetryDelay: 100 * time.Millisecond,
		Stream:     stream.DefaultConfig(),
	}
}

// flusher is implemented by buffered writers such as bufio.Writer.
type flusher interface {
	Flush() error
}

// Sink exposes an io.Writer as a WritableStream of byte chunks.
type Sink struct {
	underlying io.Writer
	config     Config
	writable   *stream.WritableStream[[]byte]

	statsMu sync.Mutex
	stats   Stats
}

// New creates a Sink over w with default configuration.
func New(w io.Writer) (*Sink, error) {
	return NewWithConfig(w, DefaultConfig())
}

// NewWithConfig creates a Sink over w with the specified configuration.
func NewWithConfig(w io.Writer, config Config) (*Sink, error) {
	if err := validation.ValidateNotNil("writer", "writer", w); err != nil {
		return nil, err
	}
	if err := validation.ValidatePositive("writer", "BufferSize", config.BufferSize); err != nil {
		return nil, err
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}

	s := &Sink{underlying: w, config: config}
	ws, err := stream.NewWritableStreamWithConfig(stream.UnderlyingSink[[]byte]{
		Write: s.write,
		Close: s.close,
		Abort: s.abort,
	}, stream.ByteLengthQueuingStrategy[[]byte](float64(config.BufferSize)), config.Stream)
	if err != nil {
		return nil, err
	}
	s.writable = ws
	return s, nil
}

// Writable returns the stream that feeds the underlying writer.
func (s *Sink) Writable() *stream.WritableStream[[]byte] {
	return s.writable
}

// Stats returns statistics about the sink.
func (s *Sink) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

func (s *Sink) write(_ context.Context, chunk []byte, c *stream.WritableStreamDefaultController[[]byte]) error {
	start := time.Now()
	n, err := s.writeWithRetries(c.Signal(), chunk)
	elapsed := time.Since(start)

	s.config.Stream.Metrics.ObserveBytesWritten(s.config.Stream.Name, n)
	s.updateStats(func(st *Stats) {
		st.BytesWritten += int64(n)
		st.TotalWriteTime += elapsed
		if err == nil {
			st.WriteCount++
			st.LastWriteTime = time.Now()
		}
	})
	return err
}

// writeWithRetries writes data with retry logic. Aborting the stream
// interrupts the wait between attempts.
func (s *Sink) writeWithRetries(signal context.Context, data []byte) (int, error) {
	var totalWritten int
	var lastErr error

	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		if attempt > 0 {
			s.updateStats(func(st *Stats) { st.RetryCount++ })
			select {
			case <-time.After(s.config.RetryDelay):
			case <-signal.Done():
				return totalWritten, context.Cause(signal)
			}
		}

		written, err := s.underlying.Write(data[totalWritten:])
		totalWritten += written

		if err != nil {
			lastErr = err
			s.updateStats(func(st *Stats) { st.ErrorCount++ })
			if s.config.OnError != nil {
				s.config.OnError(err)
			}
			continue
		}
		if totalWritten >= len(data) {
			return totalWritten, nil
		}
		lastErr = ErrShortWrite
	}

	return totalWritten, fmt.Errorf("write failed after %d attempts: %w", s.config.MaxRetries+1, lastErr)
}

func (s *Sink) close(context.Context) error {
	var err error
	if f, ok := s.underlying.(flusher); ok {
		start := time.Now()
		err = f.Flush()
		if s.config.OnFlush != nil {
			s.config.OnFlush(s.Stats().BytesWritten, time.Since(start))
		}
	}
	if s.config.CloseUnderlying {
		err = multierr.Append(err, s.closeUnderlying())
	}
	return err
}

func (s *Sink) abort(context.Context, error) error {
	if s.config.CloseUnderlying {
		return s.closeUnderlying()
	}
	return nil
}

func (s *Sink) closeUnderlying() error {
	if c, ok := s.underlying.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (s *Sink) updateStats(updater func(*Stats)) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	updater(&s.stats)
}

// Copy pipes src into w and waits for the pipe to finish. Cancelling ctx
// aborts the pipe.
func Copy(ctx context.Context, w io.Writer, src *stream.ReadableStream[[]byte]) (Stats, error) {
	sink, err := New(w)
	if err != nil {
		return Stats{}, err
	}
	done, err := src.PipeTo(sink.Writable(), stream.PipeOptions{Signal: ctx})
	if err != nil {
		return Stats{}, err
	}
	_, err = done.Await(context.Background())
	return sink.Stats(), err
}
