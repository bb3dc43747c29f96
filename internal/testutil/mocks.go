package testutil

import (
	"bytes"
	"errors"
	"sync"
	"time"
)

// ErrSimulated is returned by MockWriter when configured to fail.
var ErrSimulated = errors.New("simulated error")

// MockWriter is an io.WriteCloser that can simulate slow or failing
// destinations for sink tests.
type MockWriter struct {
	buf         *bytes.Buffer
	mu          sync.Mutex
	writeDelay  time.Duration
	errorOnNth  int
	writeCount  int
	closeCount  int
	shouldError bool
	err         error
	closeErr    error
}

// NewMockWriter creates a new MockWriter.
func NewMockWriter() *MockWriter {
	return &MockWriter{
		buf: &bytes.Buffer{},
	}
}

// Write implements io.Writer with configurable behavior.
func (mw *MockWriter) Write(p []byte) (int, error) {
	mw.mu.Lock()
	mw.writeCount++
	delay := mw.writeDelay
	mw.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	mw.mu.Lock()
	defer mw.mu.Unlock()

	if mw.shouldError {
		return 0, mw.err
	}
	if mw.errorOnNth > 0 && mw.writeCount == mw.errorOnNth {
		return 0, ErrSimulated
	}
	return mw.buf.Write(p)
}

// Close implements io.Closer and counts calls.
func (mw *MockWriter) Close() error {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	mw.closeCount++
	return mw.closeErr
}

// String returns the current buffer contents.
func (mw *MockWriter) String() string {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	return mw.buf.String()
}

// WriteCount returns the number of Write calls.
func (mw *MockWriter) WriteCount() int {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	return mw.writeCount
}

// CloseCount returns the number of Close calls.
func (mw *MockWriter) CloseCount() int {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	return mw.closeCount
}

// SetWriteDelay configures a delay for each write.
func (mw *MockWriter) SetWriteDelay(delay time.Duration) {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	mw.writeDelay = delay
}

// SetErrorOnNth makes the nth write fail with ErrSimulated.
func (mw *MockWriter) SetErrorOnNth(n int) {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	mw.errorOnNth = n
}

// SetAlwaysError makes every write fail with err.
func (mw *MockWriter) SetAlwaysError(err error) {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	mw.shouldError = true
	mw.err = err
}

// SetCloseError makes Close return err.
func (mw *MockWriter) SetCloseError(err error) {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	mw.closeErr = err
}
