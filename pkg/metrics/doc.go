// Package metrics provides Prometheus instrumentation for webstreams components.
//
// # Overview
//
// The metrics package records what the stream engine does:
//   - Readable streams (chunks enqueued, chunks read, queue size)
//   - Writable streams (chunks written, backpressure events)
//   - Lifecycle (state transitions, errors, reader and writer locks)
//   - Composition (pipe results and durations, tees)
//   - Adapters (dropped push chunks, bytes written, cron ticks, Redis entries)
//
// # Quick Start
//
// Attach a registry through the stream configuration:
//
//	cfg := stream.DefaultConfig()
//	cfg.Name = "orders"
//	cfg.Metrics = metrics.DefaultRegistry
//
//	rs, err := stream.NewReadableStreamWithConfig(source, strategy, cfg)
//
// Then expose metrics via HTTP:
//
//	http.Handle("/metrics", promhttp.Handler())
//	log.Fatal(http.ListenAndServe(":8080", nil))
//
// # Custom Registry
//
// Use a custom Prometheus registry for isolation:
//
//	reg := metrics.NewRegistryWithConfig(metrics.Config{
//		Enabled:   true,
//		Registry:  prometheus.NewRegistry(),
//		Namespace: "myapp",
//		Labels:    prometheus.Labels{"service": "ingest"},
//	})
//
// A disabled config returns a nil *Registry. Every Observe helper accepts a
// nil receiver, so components never need to check whether metrics are on.
//
// # Available Metrics
//
//   - webstreams_readable_chunks_enqueued_total{stream_name,strategy}
//   - webstreams_readable_chunks_read_total{stream_name}
//   - webstreams_stream_queue_size{stream_name,kind}
//   - webstreams_writable_chunks_written_total{stream_name}
//   - webstreams_backpressure_events_total{stream_name}
//   - webstreams_stream_state_transitions_total{kind,state}
//   - webstreams_stream_errors_total{kind,error_kind}
//   - webstreams_stream_locks_acquired_total{lock}
//   - webstreams_pipe_operations_total{result}
//   - webstreams_pipe_duration_seconds{result}
//   - webstreams_tee_operations_total{stream_name}
//   - webstreams_push_dropped_total{strategy,source_name}
//   - webstreams_writer_bytes_written_total{writer_name}
//   - webstreams_cron_ticks_total{source_name}
//   - webstreams_redis_entries_total{direction,key}
//
// # Labels
//
//   - stream_name: Config.Name of the stream, "" when unnamed
//   - kind: "readable" or "writable"
//   - strategy: queuing strategy kind ("count", "byte_length", "user_defined")
//     or push backpressure strategy ("block", "drop", "error")
//   - result: pipe outcome ("closed", "errored", "aborted")
//   - lock: "reader" or "writer"
package metrics
