package protocol

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/wagiedev/duplexrpc-go/internal/config"
	"github.com/wagiedev/duplexrpc-go/internal/errors"
	"github.com/wagiedev/duplexrpc-go/internal/message"
)

// Dispatcher drains the outgoing queue into a Channel in FIFO order.
type Dispatcher struct {
	log          *slog.Logger
	queue        *Queue
	drainTimeout time.Duration

	written atomic.Int64
}

// NewDispatcher creates a dispatcher for queue. drainTimeout bounds the
// final flush after cancellation; zero disables it.
func NewDispatcher(log *slog.Logger, queue *Queue, drainTimeout time.Duration) *Dispatcher {
	return &Dispatcher{
		log:          log.With("component", "dispatcher"),
		queue:        queue,
		drainTimeout: drainTimeout,
	}
}

// Run writes queued messages through ch until ctx is cancelled or the queue
// is closed and empty.
//
// A *errors.TransportError from ch is returned immediately: a torn write
// corrupts all later framing. Messages that fail to serialize are logged and
// skipped. On cancellation, messages already queued are flushed within the
// drain timeout and Run returns nil.
func (d *Dispatcher) Run(ctx context.Context, ch config.Channel) error {
	d.log.Debug("Outgoing dispatcher started")
	defer d.log.Debug("Outgoing dispatcher stopped", "written", d.written.Load())

	for {
		if ctx.Err() != nil {
			return d.drain(ch, nil)
		}

		msg, err := d.queue.Pop(ctx)
		if err != nil {
			if stderrors.Is(err, errors.ErrQueueClosed) {
				return nil
			}

			return d.drain(ch, nil)
		}

		if err := ch.Write(ctx, msg); err != nil {
			if transportErr, ok := stderrors.AsType[*errors.TransportError](err); ok {
				d.log.Error("Fatal write error", "error", err, "id", msg.MessageID())

				return transportErr
			}

			if ctx.Err() != nil {
				return d.drain(ch, msg)
			}

			d.log.Error("Dropping unserializable message", "error", err, "id", msg.MessageID())

			continue
		}

		d.written.Add(1)
	}
}

// Written returns the number of messages successfully written.
func (d *Dispatcher) Written() int64 {
	return d.written.Load()
}

// drain flushes first (if non-nil) and then every message still queued.
// Failures end the flush but are not fatal.
func (d *Dispatcher) drain(ch config.Channel, first message.Outgoing) error {
	if d.drainTimeout <= 0 {
		if n := d.queue.Len(); n > 0 {
			d.log.Debug("Discarding queued messages at shutdown", "count", n)
		}

		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.drainTimeout)
	defer cancel()

	msg := first

	for {
		if msg == nil {
			var ok bool

			msg, ok = d.queue.TryPop()
			if !ok {
				return nil
			}
		}

		if err := ch.Write(ctx, msg); err != nil {
			d.log.Debug("Could not flush message during shutdown",
				"error", err,
				"id", msg.MessageID(),
				"remaining", d.queue.Len(),
			)

			return nil
		}

		d.written.Add(1)

		msg = nil
	}
}
