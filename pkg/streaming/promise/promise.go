package promise

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// ErrUndefined stands in for a rejection that carried no reason.
var ErrUndefined = errors.New("rejected without a reason")

// State is the settlement state of a Promise.
type State int32

const (
	// Pending means the promise has not settled yet.
	Pending State = iota

	// Fulfilled means the promise settled with a value.
	Fulfilled

	// Rejected means the promise settled with an error.
	Rejected
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Fulfilled:
		return "fulfilled"
	case Rejected:
		return "rejected"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// PanicError is the rejection reason of a Go callback that panicked.
type PanicError struct {
	Value interface{}
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("callback panicked: %v", e.Value)
}

// Promise is a single-assignment placeholder for the outcome of an
// asynchronous operation. The zero value is not usable; create promises
// with New, Resolve, Reject or Go.
type Promise[T any] struct {
	done    chan struct{}
	once    sync.Once
	state   atomic.Int32
	handled atomic.Bool

	value T
	err   error
}

// New returns a pending promise together with the functions that settle
// it. Only the first call to either function has an effect.
func New[T any]() (p *Promise[T], resolve func(T), reject func(error)) {
	p = &Promise[T]{done: make(chan struct{})}
	return p, p.resolve, p.reject
}

// Resolve returns a promise already fulfilled with v.
func Resolve[T any](v T) *Promise[T] {
	p, resolve, _ := New[T]()
	resolve(v)
	return p
}

// Reject returns a promise already rejected with err.
func Reject[T any](err error) *Promise[T] {
	p, _, reject := New[T]()
	reject(err)
	return p
}

// Go runs fn on its own goroutine and settles the returned promise with
// its outcome. A panic in fn rejects the promise with a *PanicError.
func Go[T any](fn func() (T, error)) *Promise[T] {
	p, resolve, reject := New[T]()
	go func() {
		v, err := Call(fn)
		if err != nil {
			reject(err)
			return
		}
		resolve(v)
	}()
	return p
}

// Call invokes fn on the current goroutine, turning a panic into a
// *PanicError.
func Call[T any](fn func() (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn()
}

func (p *Promise[T]) resolve(v T) {
	p.once.Do(func() {
		p.value = v
		p.state.Store(int32(Fulfilled))
		close(p.done)
	})
}

func (p *Promise[T]) reject(err error) {
	if err == nil {
		err = ErrUndefined
	}
	p.once.Do(func() {
		p.err = err
		p.state.Store(int32(Rejected))
		close(p.done)
	})
}

// Done returns a channel closed once the promise settles. Observing the
// channel marks the promise as handled.
func (p *Promise[T]) Done() <-chan struct{} {
	p.handled.Store(true)
	return p.done
}

// Await blocks until the promise settles or ctx is done.
func (p *Promise[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-p.Done():
		return p.value, p.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Result returns the settled value and error. ok is false while the
// promise is still pending.
func (p *Promise[T]) Result() (v T, err error, ok bool) {
	select {
	case <-p.done:
		return p.value, p.err, true
	default:
		return v, nil, false
	}
}

// State returns the current settlement state.
func (p *Promise[T]) State() State {
	return State(p.state.Load())
}

// MarkHandled flags the promise as observed so that a rejection is not
// reported as unhandled.
func (p *Promise[T]) MarkHandled() {
	p.handled.Store(true)
}

// Handled reports whether the promise was marked handled or observed.
func (p *Promise[T]) Handled() bool {
	return p.handled.Load()
}

// Then returns a promise settled with fn's outcome once p fulfils. A
// rejection of p is passed through unchanged. fn runs on its own goroutine.
func Then[T, U any](p *Promise[T], fn func(T) (U, error)) *Promise[U] {
	next, resolve, reject := New[U]()
	done := p.Done()
	go func() {
		<-done
		if p.err != nil {
			reject(p.err)
			return
		}
		v, err := Call(func() (U, error) { return fn(p.value) })
		if err != nil {
			reject(err)
			return
		}
		resolve(v)
	}()
	return next
}

// Catch returns a promise that follows p, except that a rejection is
// handed to fn, whose outcome settles the returned promise.
func Catch[T any](p *Promise[T], fn func(error) (T, error)) *Promise[T] {
	next, resolve, reject := New[T]()
	done := p.Done()
	go func() {
		<-done
		if p.err == nil {
			resolve(p.value)
			return
		}
		v, err := Call(func() (T, error) { return fn(p.err) })
		if err != nil {
			reject(err)
			return
		}
		resolve(v)
	}()
	return next
}

// Settle resolves or rejects through the given functions with the outcome
// of p once it settles. It is how one promise adopts another.
func Settle[T any](p *Promise[T], resolve func(T), reject func(error)) {
	done := p.Done()
	go func() {
		<-done
		if p.err != nil {
			reject(p.err)
			return
		}
		resolve(p.value)
	}()
}
