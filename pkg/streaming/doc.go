/*
Package streaming groups the stream engine and its adapters.

  - stream: ReadableStream, WritableStream, readers, writers, tee and pipes
  - promise: single-assignment results returned by stream operations
  - queue: the size-tracking queue behind both stream kinds
  - channel: push-based producer with Block, Drop and Error strategies
  - writer: io.Writer exposed as a WritableStream of byte chunks
  - cron: readable stream of ticks following a cron schedule
  - redisstream: Redis Streams source (XREAD) and sink (XADD)

Basic usage:

	src := stream.FromSlice([]string{"a", "b", "c"})
	sink, _ := writer.New(os.Stdout)

	upper, _ := stream.Map(src, func(s string) []byte {
		return []byte(strings.ToUpper(s) + "\n")
	})
	done, _ := upper.PipeTo(sink.Writable(), stream.PipeOptions{Signal: ctx})
	_, err := done.Await(ctx)
*/
package streaming
