package protocol

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/wagiedev/duplexrpc-go/internal/errors"
	"github.com/wagiedev/duplexrpc-go/internal/message"
)

// Queue is an unbounded multi-producer, single-consumer FIFO of outgoing
// messages. Push never blocks.
type Queue struct {
	mu     sync.Mutex
	items  []message.Outgoing
	closed bool

	// ready holds at most one wake-up token for the consumer.
	ready chan struct{}

	dropped atomic.Int64
}

// NewQueue creates an empty, open queue.
func NewQueue() *Queue {
	return &Queue{
		items: make([]message.Outgoing, 0, 16),
		ready: make(chan struct{}, 1),
	}
}

// Push appends msg. Returns ErrQueueClosed once Close has been called; the
// message is counted as dropped.
func (q *Queue) Push(msg message.Outgoing) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.dropped.Add(1)

		return errors.ErrQueueClosed
	}

	q.items = append(q.items, msg)

	select {
	case q.ready <- struct{}{}:
	default:
	}

	return nil
}

// Pop removes the oldest message, blocking while the queue is empty.
//
// Queued messages are returned even after Close; once the queue is closed
// and empty Pop returns ErrQueueClosed. A cancelled ctx returns ctx.Err().
func (q *Queue) Pop(ctx context.Context) (message.Outgoing, error) {
	for {
		if msg, ok := q.TryPop(); ok {
			return msg, nil
		}

		q.mu.Lock()
		closed := q.closed
		q.mu.Unlock()

		if closed {
			// Re-check: a final Push may have landed before Close.
			if msg, ok := q.TryPop(); ok {
				return msg, nil
			}

			return nil, errors.ErrQueueClosed
		}

		select {
		case <-q.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// TryPop removes the oldest message without blocking.
func (q *Queue) TryPop() (message.Outgoing, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}

	msg := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]

	return msg, true
}

// Close stops accepting new messages and wakes the consumer.
// It's safe to call Close multiple times.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.ready)
}

// Len returns the number of queued messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items)
}

// Dropped returns how many messages were rejected after Close.
func (q *Queue) Dropped() int64 {
	return q.dropped.Load()
}
