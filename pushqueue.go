package chatloop

import (
	"context"
	"io"
	"iter"
	"time"

	"github.com/eapache/queue"
	"github.com/joeycumines/go-chatloop/pbx"
)

// pushQueue buffers data envelopes, strict FIFO, unbounded. Loop-owned.
type pushQueue struct {
	r     *runner
	items *queue.Queue
	// wake is armed by a consumer that found the queue empty, and raised by
	// the next push or close
	wake   *Signal
	closed bool
}

func newPushQueue(r *runner) *pushQueue {
	return &pushQueue{r: r, items: queue.New()}
}

func (x *pushQueue) push(data *pbx.ServerData) {
	if x.closed {
		return
	}
	x.items.Add(data)
	x.raise()
}

func (x *pushQueue) close() {
	x.closed = true
	x.raise()
}

func (x *pushQueue) raise() {
	if x.wake != nil {
		x.wake.fire()
		x.wake = nil
	}
}

type pushTake struct {
	data   *pbx.ServerData
	wake   *Signal
	closed bool
}

// take pops the head, or arms and returns the wake signal if empty. Buffered
// items remain available after close.
func (x *pushQueue) take() pushTake {
	if x.items.Length() > 0 {
		return pushTake{data: x.items.Remove().(*pbx.ServerData)}
	}
	if x.closed {
		return pushTake{closed: true}
	}
	if x.wake == nil {
		x.wake = newSignal(x.r)
	}
	return pushTake{wake: x.wake}
}

// PushCursor consumes data messages pushed by the server, in arrival order.
// A single consumer per session is the supported model; concurrent cursors
// each receive a disjoint subset.
type PushCursor struct {
	q *pushQueue
}

// Next blocks until a data message is available, returning it. Once the
// session has closed and the buffer is drained, it returns an error matching
// ErrSessionClosed.
func (x *PushCursor) Next(ctx context.Context) (*DataMessage, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// the take must complete, or an item could be popped then lost
		res, err := call(x.q.r, x.q.take)
		if err != nil {
			return nil, err
		}
		if res.data != nil {
			return newDataMessage(res.data), nil
		}
		if res.closed {
			return nil, ErrSessionClosed
		}
		select {
		case <-res.wake.Done():
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-x.q.r.done:
			return nil, ErrManagerClosed
		}
	}
}

// BatchConfig models optional configuration for PushCursor.NextBatch.
type BatchConfig struct {
	// MaxSize is the absolute maximum number of messages to receive. Setting
	// this to a value < 0 will disable the maximum size constraint.
	//
	// Defaults to 16, if 0.
	MaxSize int

	// MinSize is the (target) minimum number of messages to receive. If
	// PartialTimeout is reached, the effective minimum size will be 1.
	//
	// Setting this to a value < 0 starts the PartialTimeout from the call to
	// NextBatch, allowing it to return without receiving any messages.
	//
	// Defaults to 4, if 0.
	MinSize int

	// PartialTimeout is the maximum time to wait for a partial batch, defined
	// as fewer than MinSize messages, measured from the first message.
	//
	// Defaults to 50ms, if 0.
	PartialTimeout time.Duration
}

// NextBatch long-polls for a batch of data messages, passing each to handler
// in order. It blocks until at least one message is received, or, if
// cfg.MinSize is negative, the partial timeout elapses, then gathers more
// within the constraints of cfg, which may be nil. Errors from handler
// are returned immediately. Once the session has closed and the buffer is
// drained, it returns io.EOF if at least one message was handled, otherwise
// an error matching ErrSessionClosed.
func (x *PushCursor) NextBatch(ctx context.Context, cfg *BatchConfig, handler func(msg *DataMessage) error) error {
	if handler == nil {
		panic(`chatloop: nil batch handler`)
	}

	maxSize := 16
	minSize := 4
	partialTimeout := 50 * time.Millisecond
	if cfg != nil {
		if cfg.MaxSize != 0 {
			maxSize = cfg.MaxSize
		}
		if cfg.MinSize != 0 {
			minSize = cfg.MinSize
		}
		if cfg.PartialTimeout != 0 {
			partialTimeout = cfg.PartialTimeout
		}
	}

	partialCtx := ctx
	if partialTimeout > 0 && minSize < 0 {
		// no minimum size, the partial timeout applies to the first message
		var cancel context.CancelFunc
		partialCtx, cancel = context.WithTimeout(ctx, partialTimeout)
		defer cancel()
	}

	var size int

	// receive the minimum number of messages (or first message) OR partial timeout
	for (maxSize < 0 || size < maxSize) && (size < minSize || (size == 0 && partialCtx != ctx)) {
		msg, err := x.Next(partialCtx)
		if err != nil {
			if partialCtx != ctx && ctx.Err() == nil && partialCtx.Err() != nil {
				break
			}
			if size > 0 && isSessionClosed(err) {
				return io.EOF
			}
			return err
		}
		size++
		if size == 1 && partialTimeout > 0 && partialCtx == ctx {
			var cancel context.CancelFunc
			partialCtx, cancel = context.WithTimeout(ctx, partialTimeout)
			//goland:noinspection GoDeferInLoop
			defer cancel()
		}
		if err := handler(msg); err != nil {
			return err
		}
	}

	// receive what additional messages are already buffered, up to the maximum size
	for maxSize < 0 || size < maxSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := call(x.q.r, x.q.take)
		if err != nil {
			return err
		}
		if res.data == nil {
			if res.closed {
				return io.EOF
			}
			break
		}
		size++
		if err := handler(newDataMessage(res.data)); err != nil {
			return err
		}
	}

	return nil
}

// Messages returns an iterator over data messages, ending after the first
// error, which is yielded. Breaking out of the loop leaves remaining messages
// buffered.
func (x *PushCursor) Messages(ctx context.Context) iter.Seq2[*DataMessage, error] {
	return func(yield func(*DataMessage, error) bool) {
		for {
			msg, err := x.Next(ctx)
			if !yield(msg, err) || err != nil {
				return
			}
		}
	}
}
