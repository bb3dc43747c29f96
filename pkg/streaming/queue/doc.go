/*
Package queue provides the size-tracked FIFO that backs the internal queues
of readable and writable stream controllers.

Every value is stored together with the size computed by the stream's
queuing strategy. The queue keeps a running total of those sizes instead of
recomputing it, and derives the desired size from it:

	q := queue.New[string](16)
	_ = q.Enqueue("hello", 5)
	_ = q.Enqueue("world", 5)
	q.DesiredSize() // 6

The running total may drift under floating point error when chunk sizes
vary by many orders of magnitude. The drift is tolerated, but the total is
clamped at zero so it never goes negative.

IsEmpty answers from the running total, which is cheap but wrong for
zero-sized chunks; Len answers from the structure itself.
*/
package queue
