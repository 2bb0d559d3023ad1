// queue.go implements a bounded FIFO with independent send-side and receive-side shutdown.

// Package msgqueue provides the thread-safe bounded message queue
// used to hand data over between pipeline goroutines.
package msgqueue

import (
	"context"
	"fmt"

	"github.com/xaionaro-go/avtranscode/types"
	"github.com/xaionaro-go/xsync"
)

// Queue is a bounded FIFO of messages.
//
// Sending a message moves its ownership into the queue; receiving it
// moves the ownership to the receiver. A message is never delivered twice.
type Queue[T any] struct {
	locker   xsync.Mutex
	buf      []T
	head     int
	count    int
	errSend  error
	errRecv  error
	changed  chan struct{}
	freeFunc func(T)
}

// New allocates a queue for up to capacity messages. freeFunc (may be
// nil) releases messages that are still buffered on Flush or Free.
func New[T any](capacity int, freeFunc func(T)) (*Queue[T], error) {
	if capacity <= 0 {
		return nil, types.ErrOutOfMemory{Err: fmt.Errorf("capacity %d: %w", capacity, types.ErrInvalidArgument)}
	}
	return &Queue[T]{
		buf:      make([]T, capacity),
		changed:  make(chan struct{}),
		freeFunc: freeFunc,
	}, nil
}

func (q *Queue[T]) lockCtx(ctx context.Context) context.Context {
	return xsync.WithNoLogging(ctx, true)
}

// notifyLocked wakes up every waiter on both sides.
func (q *Queue[T]) notifyLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}

// Send enqueues msg. If the queue is full it waits for free space,
// unless blocking is false, in which case types.ErrWouldBlock is returned.
// If the send side was closed, the closing error is returned and msg
// stays owned by the caller.
func (q *Queue[T]) Send(ctx context.Context, msg T, blocking bool) error {
	for {
		var (
			err  error
			wait <-chan struct{}
		)
		q.locker.Do(q.lockCtx(ctx), func() {
			switch {
			case q.errSend != nil:
				err = q.errSend
			case q.count < len(q.buf):
				q.buf[(q.head+q.count)%len(q.buf)] = msg
				q.count++
				q.notifyLocked()
			case !blocking:
				err = types.ErrWouldBlock
			default:
				wait = q.changed
			}
		})
		if wait == nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wait:
		}
	}
}

// Recv dequeues the oldest message. If the queue is empty it waits,
// unless blocking is false, in which case types.ErrWouldBlock is returned.
// After the receive side was closed the remaining messages are still
// delivered, and only then the closing error is returned.
func (q *Queue[T]) Recv(ctx context.Context, blocking bool) (T, error) {
	return q.RecvMatching(ctx, blocking, nil)
}

// RecvMatching is Recv restricted to the messages accepted by match
// (nil accepts everything): the oldest accepted message is dequeued and
// the rest keep their order. If no buffered message is accepted, but
// none can arrive anymore (the queue is full, or the receive side is
// closed), the oldest message is dequeued instead.
func (q *Queue[T]) RecvMatching(ctx context.Context, blocking bool, match func(T) bool) (T, error) {
	for {
		var (
			msg  T
			err  error
			wait <-chan struct{}
		)
		q.locker.Do(q.lockCtx(ctx), func() {
			pos := q.findLocked(match)
			switch {
			case pos >= 0:
				msg = q.takeLocked(pos)
			case q.count > 0 && (q.count == len(q.buf) || q.errRecv != nil):
				msg = q.takeLocked(0)
			case q.count == 0 && q.errRecv != nil:
				err = q.errRecv
			case !blocking:
				err = types.ErrWouldBlock
			default:
				wait = q.changed
			}
		})
		if wait == nil {
			return msg, err
		}
		select {
		case <-ctx.Done():
			return msg, ctx.Err()
		case <-wait:
		}
	}
}

// findLocked returns the position (relative to head) of the oldest
// message accepted by match, or -1.
func (q *Queue[T]) findLocked(match func(T) bool) int {
	for pos := 0; pos < q.count; pos++ {
		if match == nil || match(q.buf[(q.head+pos)%len(q.buf)]) {
			return pos
		}
	}
	return -1
}

func (q *Queue[T]) takeLocked(pos int) T {
	var zero T
	n := len(q.buf)
	msg := q.buf[(q.head+pos)%n]
	if pos == 0 {
		q.buf[q.head] = zero
		q.head = (q.head + 1) % n
	} else {
		for ; pos < q.count-1; pos++ {
			q.buf[(q.head+pos)%n] = q.buf[(q.head+pos+1)%n]
		}
		q.buf[(q.head+q.count-1)%n] = zero
	}
	q.count--
	q.notifyLocked()
	return msg
}

// SetErrSend closes the send side: all current and future Send calls
// return err. Only the first call has an effect.
func (q *Queue[T]) SetErrSend(ctx context.Context, err error) {
	q.locker.Do(q.lockCtx(ctx), func() {
		if q.errSend != nil {
			return
		}
		q.errSend = err
		q.notifyLocked()
	})
}

// SetErrRecv closes the receive side: once drained, all current and
// future Recv calls return err. Only the first call has an effect.
func (q *Queue[T]) SetErrRecv(ctx context.Context, err error) {
	q.locker.Do(q.lockCtx(ctx), func() {
		if q.errRecv != nil {
			return
		}
		q.errRecv = err
		q.notifyLocked()
	})
}

// Flush releases every buffered message.
func (q *Queue[T]) Flush(ctx context.Context) {
	q.locker.Do(q.lockCtx(ctx), func() {
		q.flushLocked()
		q.notifyLocked()
	})
}

func (q *Queue[T]) flushLocked() {
	var zero T
	for q.count > 0 {
		msg := q.buf[q.head]
		q.buf[q.head] = zero
		q.head = (q.head + 1) % len(q.buf)
		q.count--
		if q.freeFunc != nil {
			q.freeFunc(msg)
		}
	}
	q.head = 0
}

// Free releases every buffered message and closes both sides with ErrFreed
// unless they are closed already.
func (q *Queue[T]) Free(ctx context.Context) {
	q.locker.Do(q.lockCtx(ctx), func() {
		q.flushLocked()
		if q.errSend == nil {
			q.errSend = ErrFreed
		}
		if q.errRecv == nil {
			q.errRecv = ErrFreed
		}
		q.notifyLocked()
	})
}

func (q *Queue[T]) Len(ctx context.Context) int {
	return xsync.DoR1(q.lockCtx(ctx), &q.locker, func() int {
		return q.count
	})
}

func (q *Queue[T]) Cap() int {
	return len(q.buf)
}
