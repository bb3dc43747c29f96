/*
Package writer exposes an io.Writer as a WritableStream of byte chunks.

A Sink writes each chunk to the underlying writer in order, one at a time,
retrying failed attempts. The stream uses a byte-length queuing strategy,
so writers see backpressure once more than BufferSize bytes are waiting.

# Quick Start

	file, _ := os.Create("output.txt")
	sink, err := writer.New(file)
	if err != nil {
		return err
	}

	w, _ := sink.Writable().GetWriter()
	w.Write([]byte("Hello, streams!"))
	_, err = w.Close().Await(ctx)

# Piping

Copy pipes a readable stream into an io.Writer and waits for it:

	src, _ := stream.FromReader(resp.Body, 32*1024)
	stats, err := writer.Copy(ctx, file, src)

# Configuration

	config := writer.DefaultConfig()
	config.BufferSize = 16 * 1024 // backpressure beyond 16KB
	config.MaxRetries = 5
	config.RetryDelay = 50 * time.Millisecond
	config.CloseUnderlying = true // close the file on close or abort

	sink, err := writer.NewWithConfig(file, config)

Writers that implement Flush() error, such as *bufio.Writer, are flushed
when the stream closes.

# Errors

A write that still fails after MaxRetries retries errors the stream: the
pending write and every queued one are rejected with the failure, which
wraps the last error returned by the underlying writer. Aborting the stream
interrupts the delay between retries.
*/
package writer
