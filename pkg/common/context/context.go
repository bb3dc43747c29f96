// Package context adapts context.Context to the abort-signal role used by
// pipes and sinks, and to the bounded waits of blocking sends.
package context

import (
	"context"
	"time"
)

// WithTimeoutOrCancel creates a context that is canceled either when the parent
// is canceled or when the timeout duration elapses, whichever comes first
func WithTimeoutOrCancel(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, timeout)
}

// IsTimedOut returns true if the context was canceled due to a timeout
func IsTimedOut(ctx context.Context) bool {
	return ctx != nil && ctx.Err() == context.DeadlineExceeded
}

// AbortReason returns the reason ctx was aborted with, or nil while it is
// still live. The cause set through context.WithCancelCause wins over the
// generic context error.
func AbortReason(ctx context.Context) error {
	if ctx == nil || ctx.Err() == nil {
		return nil
	}
	if cause := context.Cause(ctx); cause != nil {
		return cause
	}
	return ctx.Err()
}
