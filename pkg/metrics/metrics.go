// Package metrics provides Prometheus instrumentation for webstreams components.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds all metric instances for webstreams components.
//
// All helper methods are safe to call on a nil *Registry, which records
// nothing. Streams built without metrics carry a nil registry.
type Registry struct {
	// Readable stream metrics
	ChunksEnqueued *prometheus.CounterVec
	ChunksRead     *prometheus.CounterVec
	QueueSize      *prometheus.GaugeVec

	// Writable stream metrics
	ChunksWritten      *prometheus.CounterVec
	BackpressureEvents *prometheus.CounterVec

	// Lifecycle metrics
	StateTransitions *prometheus.CounterVec
	StreamErrors     *prometheus.CounterVec
	LocksAcquired    *prometheus.CounterVec

	// Composition metrics
	PipeOperations *prometheus.CounterVec
	PipeDuration   *prometheus.HistogramVec
	TeeOperations  *prometheus.CounterVec

	// Adapter metrics
	PushDropped        *prometheus.CounterVec
	WriterBytesWritten *prometheus.CounterVec
	SourceTicks        *prometheus.CounterVec
	RedisEntries       *prometheus.CounterVec
}

// DefaultRegistry is the default metrics registry used by webstreams components.
var DefaultRegistry *Registry

func init() {
	DefaultRegistry = NewRegistry(prometheus.DefaultRegisterer)
}

// NewRegistry creates a new metrics registry with the given Prometheus registerer.
func NewRegistry(reg prometheus.Registerer) *Registry {
	cfg := DefaultConfig()
	cfg.Registry = reg
	return NewRegistryWithConfig(cfg)
}

// NewRegistryWithConfig creates a registry honoring the namespace and
// constant labels of config. A disabled config yields a nil registry.
func NewRegistryWithConfig(config Config) *Registry {
	if !config.Enabled {
		return nil
	}
	reg := config.Registry
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	ns := config.Namespace
	if ns == "" {
		ns = DefaultNamespace
	}
	if len(config.Labels) > 0 {
		reg = prometheus.WrapRegistererWith(config.Labels, reg)
	}
	factory := promauto.With(reg)

	return &Registry{
		ChunksEnqueued: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "readable",
				Name:      "chunks_enqueued_total",
				Help:      "Total number of chunks enqueued by readable stream controllers",
			},
			[]string{"stream_name", "strategy"},
		),

		ChunksRead: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "readable",
				Name:      "chunks_read_total",
				Help:      "Total number of chunks delivered to readers",
			},
			[]string{"stream_name"},
		),

		QueueSize: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: ns,
				Subsystem: "stream",
				Name:      "queue_size",
				Help:      "Current total size of the stream queue as measured by its strategy",
			},
			[]string{"stream_name", "kind"},
		),

		ChunksWritten: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "writable",
				Name:      "chunks_written_total",
				Help:      "Total number of chunks accepted by sinks",
			},
			[]string{"stream_name"},
		),

		BackpressureEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "backpressure",
				Name:      "events_total",
				Help:      "Total number of times a writable stream started applying backpressure",
			},
			[]string{"stream_name"},
		),

		StateTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "stream",
				Name:      "state_transitions_total",
				Help:      "Total number of stream state transitions",
			},
			[]string{"kind", "state"},
		),

		StreamErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "stream",
				Name:      "errors_total",
				Help:      "Total number of streams that entered the errored state",
			},
			[]string{"kind", "error_kind"},
		),

		LocksAcquired: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "stream",
				Name:      "locks_acquired_total",
				Help:      "Total number of readers and writers acquired",
			},
			[]string{"lock"},
		),

		PipeOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "pipe",
				Name:      "operations_total",
				Help:      "Total number of finished pipe operations by result",
			},
			[]string{"result"},
		),

		PipeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: ns,
				Subsystem: "pipe",
				Name:      "duration_seconds",
				Help:      "Time from pipe start to settlement",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"result"},
		),

		TeeOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "tee",
				Name:      "operations_total",
				Help:      "Total number of tee operations",
			},
			[]string{"stream_name"},
		),

		PushDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "push",
				Name:      "dropped_total",
				Help:      "Total number of pushed chunks rejected or dropped under backpressure",
			},
			[]string{"strategy", "source_name"},
		),

		WriterBytesWritten: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "writer",
				Name:      "bytes_written_total",
				Help:      "Total bytes written to io.Writer sinks",
			},
			[]string{"writer_name"},
		),

		SourceTicks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "cron",
				Name:      "ticks_total",
				Help:      "Total number of scheduled ticks produced",
			},
			[]string{"source_name"},
		),

		RedisEntries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Subsystem: "redis",
				Name:      "entries_total",
				Help:      "Total number of Redis stream entries read or appended",
			},
			[]string{"direction", "key"},
		),
	}
}

// ObserveEnqueue records a chunk entering a readable stream queue.
func (r *Registry) ObserveEnqueue(stream, strategy string) {
	if r == nil {
		return
	}
	r.ChunksEnqueued.WithLabelValues(stream, strategy).Inc()
}

// ObserveRead records a chunk delivered to a reader.
func (r *Registry) ObserveRead(stream string) {
	if r == nil {
		return
	}
	r.ChunksRead.WithLabelValues(stream).Inc()
}

// ObserveWrite records a chunk accepted by a sink.
func (r *Registry) ObserveWrite(stream string) {
	if r == nil {
		return
	}
	r.ChunksWritten.WithLabelValues(stream).Inc()
}

// SetQueueSize publishes the current queue total size.
func (r *Registry) SetQueueSize(stream, kind string, size float64) {
	if r == nil {
		return
	}
	r.QueueSize.WithLabelValues(stream, kind).Set(size)
}

// ObserveBackpressure records a writable stream switching backpressure on.
func (r *Registry) ObserveBackpressure(stream string) {
	if r == nil {
		return
	}
	r.BackpressureEvents.WithLabelValues(stream).Inc()
}

// ObserveTransition records a state change of a stream of the given kind.
func (r *Registry) ObserveTransition(kind, state string) {
	if r == nil {
		return
	}
	r.StateTransitions.WithLabelValues(kind, state).Inc()
}

// ObserveError records a stream entering the errored state.
func (r *Registry) ObserveError(kind, errorKind string) {
	if r == nil {
		return
	}
	r.StreamErrors.WithLabelValues(kind, errorKind).Inc()
}

// ObserveLock records a reader or writer acquisition.
func (r *Registry) ObserveLock(lock string) {
	if r == nil {
		return
	}
	r.LocksAcquired.WithLabelValues(lock).Inc()
}

// ObservePipe records a finished pipe and how long it ran.
func (r *Registry) ObservePipe(result string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.PipeOperations.WithLabelValues(result).Inc()
	r.PipeDuration.WithLabelValues(result).Observe(elapsed.Seconds())
}

// ObserveTee records a tee of the named stream.
func (r *Registry) ObserveTee(stream string) {
	if r == nil {
		return
	}
	r.TeeOperations.WithLabelValues(stream).Inc()
}

// ObserveDropped records a pushed chunk that was not enqueued.
func (r *Registry) ObserveDropped(strategy, source string) {
	if r == nil {
		return
	}
	r.PushDropped.WithLabelValues(strategy, source).Inc()
}

// ObserveBytesWritten adds n to the bytes written by the named sink.
func (r *Registry) ObserveBytesWritten(writer string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.WriterBytesWritten.WithLabelValues(writer).Add(float64(n))
}

// ObserveTick records a scheduled tick.
func (r *Registry) ObserveTick(source string) {
	if r == nil {
		return
	}
	r.SourceTicks.WithLabelValues(source).Inc()
}

// ObserveRedis records n Redis stream entries moving in direction
// ("read" or "append").
func (r *Registry) ObserveRedis(direction, key string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.RedisEntries.WithLabelValues(direction, key).Add(float64(n))
}
