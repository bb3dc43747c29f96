package stream

import (
	"errors"
	"fmt"
)

// ErrorKind classifies the failures reported by streams.
type ErrorKind uint8

const (
	// TypeError is returned when an operation is used on a stream or
	// handle that is in the wrong state, such as reading from a released
	// reader or acquiring a lock twice.
	TypeError ErrorKind = iota + 1

	// RangeError is returned when a numeric argument is outside its valid
	// range, such as a negative high-water mark or an invalid chunk size.
	RangeError

	// AssertionError reports a broken internal invariant.
	AssertionError

	// AbortError is the reason used when a pipe is stopped by its signal.
	AbortError

	// NotSupportedError is returned for stream types this package does not
	// implement.
	NotSupportedError
)

func (k ErrorKind) String() string {
	switch k {
	case TypeError:
		return "TypeError"
	case RangeError:
		return "RangeError"
	case AssertionError:
		return "AssertionError"
	case AbortError:
		return "AbortError"
	case NotSupportedError:
		return "NotSupportedError"
	default:
		return fmt.Sprintf("ErrorKind(%d)", uint8(k))
	}
}

var (
	// ErrLocked is wrapped by errors caused by a stream already having a
	// reader or writer.
	ErrLocked = errors.New("stream is locked")

	// ErrReleased is wrapped by errors from handles whose lock was released.
	ErrReleased = errors.New("lock was released")

	// ErrNotReadable is wrapped by errors from operations that need a
	// readable stream, such as enqueueing into a closed one.
	ErrNotReadable = errors.New("stream is not readable")

	// ErrNotWritable is wrapped by errors from writes to a stream that is
	// closing, closed or errored.
	ErrNotWritable = errors.New("stream is not writable")
)

// StreamError is the error type returned by stream operations.
type StreamError struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func newError(kind ErrorKind, message string, cause error) *StreamError {
	return &StreamError{Kind: kind, Message: message, Cause: cause}
}

func newTypeError(message string, cause error) *StreamError {
	return newError(TypeError, message, cause)
}

func newRangeError(message string, cause error) *StreamError {
	return newError(RangeError, message, cause)
}

func (e *StreamError) Error() string {
	if e.Cause == nil {
		return e.Kind.String() + ": " + e.Message
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
}

func (e *StreamError) Unwrap() error {
	return e.Cause
}

// KindOf returns the kind of the first StreamError in err's chain, or zero
// when there is none.
func KindOf(err error) ErrorKind {
	var serr *StreamError
	if errors.As(err, &serr) {
		return serr.Kind
	}
	return 0
}

// IsTypeError reports whether err is, or wraps, a TypeError.
func IsTypeError(err error) bool { return KindOf(err) == TypeError }

// IsRangeError reports whether err is, or wraps, a RangeError.
func IsRangeError(err error) bool { return KindOf(err) == RangeError }

// IsAbortError reports whether err is, or wraps, an AbortError.
func IsAbortError(err error) bool { return KindOf(err) == AbortError }

// errorLabel names err for metrics.
func errorLabel(err error) string {
	if k := KindOf(err); k != 0 {
		return k.String()
	}
	return "Error"
}
