package cron

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	robfig "github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	wserrors "github.com/vnykmshr/webstreams/pkg/common/errors"
	"github.com/vnykmshr/webstreams/pkg/common/validation"
	"github.com/vnykmshr/webstreams/pkg/streaming/stream"
)

// parser accepts an optional seconds field and descriptors such as
// "@hourly" or "@every 5s".
var parser = robfig.NewParser(robfig.SecondOptional | robfig.Minute | robfig.Hour | robfig.Dom | robfig.Month | robfig.Dow | robfig.Descriptor)

// Tick is a chunk produced by a schedule source.
type Tick struct {
	// Time is the scheduled activation time, not the time it was read.
	Time time.Time

	// Seq numbers ticks from 1.
	Seq int64
}

// Config holds configuration for a schedule source.
type Config struct {
	// Location is the time zone the expression is evaluated in.
	// Default: time.Local
	Location *time.Location

	// MaxTicks closes the stream after this many ticks (0 = unlimited).
	MaxTicks int

	// HighWaterMark is the number of ticks computed ahead of the reader.
	// With 0, the next activation is only awaited once a read is pending,
	// so a slow reader skips activations instead of buffering stale ones.
	// Default: 0
	HighWaterMark int

	// Clock is the time source. Tests inject clock.NewMock().
	Clock clock.Clock

	// Stream configures naming, logging and metrics of the stream.
	Stream stream.Config
}

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	return Config{
		Location: time.Local,
		Clock:    clock.New(),
		Stream:   stream.DefaultConfig(),
	}
}

// Validate reports whether expr is a valid schedule expression.
func Validate(expr string) error {
	_, err := parse(expr)
	return err
}

// NextRuns returns the next n activation times of expr after from.
func NextRuns(expr string, from time.Time, n int) ([]time.Time, error) {
	schedule, err := parse(expr)
	if err != nil {
		return nil, err
	}
	runs := make([]time.Time, 0, n)
	for t := from; len(runs) < n; {
		t = schedule.Next(t)
		if t.IsZero() {
			break
		}
		runs = append(runs, t)
	}
	return runs, nil
}

func parse(expr string) (robfig.Schedule, error) {
	if err := validation.ValidateNotEmpty("cron", "expression", expr); err != nil {
		return nil, err
	}
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, wserrors.NewValidationError("cron", "expression", expr, err.Error()).
			WithHint(`use five or six fields, or a descriptor such as "@every 1m"`)
	}
	return schedule, nil
}

// New returns a stream of ticks following the cron expression expr.
func New(expr string) (*stream.ReadableStream[Tick], error) {
	return NewWithConfig(expr, DefaultConfig())
}

// NewWithConfig returns a stream of ticks following expr with the specified
// configuration. Cancelling the stream stops the schedule.
func NewWithConfig(expr string, config Config) (*stream.ReadableStream[Tick], error) {
	schedule, err := parse(expr)
	if err != nil {
		return nil, err
	}
	if config.MaxTicks < 0 {
		return nil, wserrors.NewValidationError("cron", "MaxTicks", config.MaxTicks, "must not be negative")
	}
	if config.HighWaterMark < 0 {
		return nil, wserrors.NewValidationError("cron", "HighWaterMark", config.HighWaterMark, "must not be negative")
	}
	if config.Location == nil {
		config.Location = time.Local
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}

	src := &source{
		schedule: schedule,
		config:   config,
		log:      config.Stream.Logger,
	}
	if src.log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		src.log = l
	}
	src.log = src.log.WithFields(logrus.Fields{
		"stream":     config.Stream.Name,
		"expression": expr,
	})

	return stream.NewReadableStreamWithConfig(stream.UnderlyingSource[Tick]{
		Start: src.start,
		Pull:  src.pull,
		Cancel: func(_ context.Context, reason error) error {
			src.log.WithError(reason).Debug("schedule cancelled")
			return nil
		},
	}, stream.CountQueuingStrategy[Tick](float64(config.HighWaterMark)), config.Stream)
}

type source struct {
	schedule robfig.Schedule
	config   Config
	log      logrus.FieldLogger

	last time.Time
	seq  atomic.Int64
}

func (s *source) start(context.Context, *stream.ReadableStreamDefaultController[Tick]) error {
	s.last = s.now()
	return nil
}

// pull waits for the next activation. Pulls never overlap, so last needs
// no locking.
func (s *source) pull(ctx context.Context, c *stream.ReadableStreamDefaultController[Tick]) error {
	now := s.now()
	from := now
	if from.Before(s.last) {
		from = s.last
	}
	next := s.schedule.Next(from)
	if next.IsZero() {
		s.log.Debug("schedule has no further activations")
		return c.Close()
	}

	timer := s.config.Clock.Timer(next.Sub(now))
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
		return nil
	}

	s.last = next
	seq := s.seq.Add(1)
	s.config.Stream.Metrics.ObserveTick(s.config.Stream.Name)
	s.log.WithField("seq", seq).Debug("tick")

	if err := c.Enqueue(Tick{Time: next, Seq: seq}); err != nil {
		return err
	}
	if s.config.MaxTicks > 0 && seq >= int64(s.config.MaxTicks) {
		return c.Close()
	}
	return nil
}

func (s *source) now() time.Time {
	return s.config.Clock.Now().In(s.config.Location)
}
