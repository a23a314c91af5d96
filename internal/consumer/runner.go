// Package consumer implements the message-consumption loop shared by every
// queue consumer: receive, dispatch to a handler, then ack, requeue or
// dead-letter depending on the outcome and the retry budget.
package consumer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/docstream/docstream/internal/queue"
)

// Handler is one concrete consumer's processing logic. Handle receives the
// raw payload and deserializes it itself; returning nil acks the message,
// returning an error nacks it.
type Handler interface {
	Queue() string
	Handle(ctx context.Context, payload []byte) error
}

// Source is the receive side of one channel. *queue.Subscription satisfies
// it; tests provide in-memory implementations.
type Source interface {
	Fetch(ctx context.Context) (queue.Delivery, error)
	Ack(ctx context.Context, d queue.Delivery) error
	Requeue(ctx context.Context, d queue.Delivery, cause error) error
	DeadLetter(ctx context.Context, d queue.Delivery, cause error) error
}

// Runner drives one consumer instance: a single-message-at-a-time loop whose
// horizontal scaling comes from running more instances in the same consumer
// group.
type Runner struct {
	src        Source
	handler    Handler
	maxRetries int
	timeout    time.Duration
	log        *slog.Logger
}

// NewRunner wires a handler to its source. maxRetries is the number of
// redeliveries granted before a message is dead-lettered; timeout bounds one
// handler invocation.
func NewRunner(src Source, handler Handler, maxRetries int, timeout time.Duration, log *slog.Logger) *Runner {
	return &Runner{
		src:        src,
		handler:    handler,
		maxRetries: maxRetries,
		timeout:    timeout,
		log:        log.With(slog.String("consumer", handler.Queue())),
	}
}

// Run consumes until ctx is canceled. A message whose handler did not
// complete stays unacknowledged so the broker redelivers it.
func (r *Runner) Run(ctx context.Context) error {
	r.log.Info("consumer started",
		slog.Int("max_retries", r.maxRetries),
		slog.Duration("timeout", r.timeout),
	)

	for {
		d, err := r.src.Fetch(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				r.log.Info("consumer stopping")
				return nil
			}
			r.log.Error("fetch message", slog.Any("err", err))
			continue
		}

		hctx, cancel := context.WithTimeout(ctx, r.timeout)
		err = r.handler.Handle(hctx, d.Value)
		cancel()

		if err == nil {
			if ackErr := r.src.Ack(ctx, d); ackErr != nil {
				r.log.Error("ack message", slog.Any("err", ackErr))
			}
			continue
		}

		if ctx.Err() != nil {
			// Shutdown mid-handle: leave the message uncommitted for
			// redelivery instead of burning a retry.
			r.log.Info("consumer stopping, leaving message unacknowledged",
				slog.Int64("offset", d.Offset),
			)
			return nil
		}

		r.log.Warn("handler failed",
			slog.Any("err", err),
			slog.Int("retries", d.Retries),
			slog.Int("partition", d.Partition),
			slog.Int64("offset", d.Offset),
		)

		if d.Retries >= r.maxRetries {
			if dlErr := r.src.DeadLetter(ctx, d, err); dlErr != nil {
				r.log.Error("dead-letter message", slog.Any("err", dlErr))
			}
			continue
		}

		if rqErr := r.src.Requeue(ctx, d, err); rqErr != nil {
			r.log.Error("requeue message", slog.Any("err", rqErr))
		}
	}
}
