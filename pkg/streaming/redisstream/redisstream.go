package redisstream

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	wserrors "github.com/vnykmshr/webstreams/pkg/common/errors"
	"github.com/vnykmshr/webstreams/pkg/common/validation"
	"github.com/vnykmshr/webstreams/pkg/streaming/stream"
)

// ErrEmptyEntry is returned when writing an entry without values.
var ErrEmptyEntry = errors.New("redis stream entry has no values")

// Entry is one Redis stream entry.
type Entry struct {
	// ID is assigned by Redis. Leave it empty when writing to let the
	// server generate one.
	ID string

	Values map[string]interface{}
}

// NewClient returns a client for the configured server.
func NewClient(config Config) *redis.Client {
	return redis.NewClient(config.Options())
}

type adapter struct {
	client redis.UniversalClient
	config Config
	stream stream.Config
	log    logrus.FieldLogger
}

// isNilClient catches typed nil pointers, which pass an interface nil check.
func isNilClient(client redis.UniversalClient) bool {
	switch c := client.(type) {
	case *redis.Client:
		return c == nil
	case *redis.ClusterClient:
		return c == nil
	}
	return false
}

func newAdapter(client redis.UniversalClient, config Config, streamConfig stream.Config) (*adapter, error) {
	if err := validation.ValidateNotNil("redisstream", "client", client); err != nil {
		return nil, err
	}
	if isNilClient(client) {
		return nil, wserrors.NewValidationError("redisstream", "client", nil, "cannot be a nil pointer").
			WithHint("create the client with NewClient or redis.NewClient")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if streamConfig.Name == "" {
		streamConfig.Name = config.Key.String
	}

	log := streamConfig.Logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &adapter{
		client: client,
		config: config,
		stream: streamConfig,
		log: log.WithFields(logrus.Fields{
			"stream": streamConfig.Name,
			"key":    config.Key.String,
		}),
	}, nil
}

// NewSource returns a stream of the entries of the configured Redis
// stream, read with XREAD after StartID.
//
// Cancelling the stream takes effect once the XREAD in progress returns,
// which is at most Block later.
func NewSource(client redis.UniversalClient, config Config, streamConfig stream.Config) (*stream.ReadableStream[Entry], error) {
	a, err := newAdapter(client, config, streamConfig)
	if err != nil {
		return nil, err
	}
	block, _ := config.blockTimeout()
	src := &source{adapter: a, lastID: config.StartID.String, block: block}

	return stream.NewReadableStreamWithConfig(stream.UnderlyingSource[Entry]{
		Pull: src.pull,
		Cancel: func(_ context.Context, reason error) error {
			a.log.WithError(reason).Debug("source cancelled")
			return nil
		},
	}, stream.CountQueuingStrategy[Entry](float64(config.HighWaterMark.Int64)), a.stream)
}

type source struct {
	*adapter
	block time.Duration

	// lastID is only touched by pull, and pulls never overlap.
	lastID string
}

func (s *source) pull(ctx context.Context, c *stream.ReadableStreamDefaultController[Entry]) error {
	key := s.config.Key.String
	for {
		res, err := s.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{key, s.lastID},
			Count:   s.config.Count.Int64,
			Block:   s.block,
		}).Result()
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			s.log.WithError(err).Warn("xread failed")
			return wserrors.NewOperationError("redisstream", "xread", err).WithContext("key " + key)
		}

		n := 0
		for _, xs := range res {
			for _, msg := range xs.Messages {
				s.lastID = msg.ID
				if err := c.Enqueue(Entry{ID: msg.ID, Values: msg.Values}); err != nil {
					return err
				}
				n++
			}
		}
		s.stream.Metrics.ObserveRedis("read", key, n)
		if n > 0 {
			s.log.WithFields(logrus.Fields{"entries": n, "last_id": s.lastID}).Debug("read entries")
			return nil
		}
	}
}

// NewSink returns a stream that appends every chunk to the configured
// Redis stream with XADD. The client stays open when the stream closes.
func NewSink(client redis.UniversalClient, config Config, streamConfig stream.Config) (*stream.WritableStream[Entry], error) {
	a, err := newAdapter(client, config, streamConfig)
	if err != nil {
		return nil, err
	}
	sink := &sink{adapter: a}

	return stream.NewWritableStreamWithConfig(stream.UnderlyingSink[Entry]{
		Write: sink.write,
		Abort: func(_ context.Context, reason error) error {
			a.log.WithError(reason).Debug("sink aborted")
			return nil
		},
	}, stream.CountQueuingStrategy[Entry](float64(config.HighWaterMark.Int64)), a.stream)
}

type sink struct {
	*adapter
}

func (s *sink) write(_ context.Context, entry Entry, c *stream.WritableStreamDefaultController[Entry]) error {
	if len(entry.Values) == 0 {
		return ErrEmptyEntry
	}

	key := s.config.Key.String
	args := &redis.XAddArgs{
		Stream: key,
		ID:     entry.ID,
		Values: entry.Values,
	}
	if maxLen := s.config.MaxLen.Int64; maxLen > 0 {
		args.MaxLen = maxLen
		args.Approx = true
	}

	id, err := s.client.XAdd(c.Signal(), args).Result()
	if err != nil {
		return wserrors.NewOperationError("redisstream", "xadd", err).WithContext("key " + key)
	}
	s.stream.Metrics.ObserveRedis("append", key, 1)
	s.log.WithField("id", id).Debug("appended entry")
	return nil
}
