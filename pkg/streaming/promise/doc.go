/*
Package promise provides a single-assignment result type used by the stream
engine to report the outcome of asynchronous operations.

A Promise starts pending and settles exactly once, either fulfilled with a
value or rejected with an error. Settling never runs callbacks on the
caller's goroutine: continuations registered with Then, Catch or Settle run
on their own goroutines, so a stream can settle promises while holding its
lock.

# Creating promises

	p, resolve, reject := promise.New[int]()
	go func() {
		v, err := compute()
		if err != nil {
			reject(err)
			return
		}
		resolve(v)
	}()

	v, err := p.Await(ctx)

Resolve and Reject build already settled promises. Go runs a function on a
new goroutine and settles the promise with its result, converting panics
into *PanicError rejections.

# Handled rejections

A promise remembers whether anyone observed it. Calling Done, Await, Then,
Catch or MarkHandled flags it as handled. The stream package uses this to
log rejections that nobody is going to see.
*/
package promise
