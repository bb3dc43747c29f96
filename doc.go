/*
Package webstreams implements readable and writable streams with
backpressure, exclusive locks, tee and piping.

Streams (pkg/streaming):
  - stream: ReadableStream and WritableStream with queuing strategies
  - channel: push producers with backpressure strategies
  - writer: io.Writer sinks
  - cron: scheduled tick sources
  - redisstream: Redis Streams sources and sinks

Support (pkg):
  - metrics: Prometheus instrumentation of stream activity
  - common/errors, common/validation: shared error values
  - common/context: abort signals

Example usage:

	import (
		"github.com/vnykmshr/webstreams/pkg/streaming/stream"
	)

	left, right, _ := stream.FromSlice([]int{1, 2, 3}).Tee()
	sum := 0
	_ = stream.ForEach(ctx, left, func(n int) { sum += n })
	all, _ := stream.ToSlice(ctx, right)
*/
package webstreams
