// Package transport delivers commit and reveal messages between the
// message surface and the session dispatcher.
package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/okian/arena/internal/adapters/mq/queue"
	"github.com/okian/arena/internal/domain/dedupe"
	"github.com/okian/arena/internal/domain/model"
	"github.com/okian/arena/pkg/logger"
	"github.com/okian/arena/pkg/metrics"
)

// Transport broadcasts protocol messages and delivers received ones in
// order within a phase window.
type Transport interface {
	Broadcast(ctx context.Context, m model.Message) error
	Receive(ctx context.Context) <-chan model.Message
}

// Bus is an in-process loopback Transport. Every broadcast is delivered to
// the single local receiver at most once per content digest.
type Bus struct {
	queue   queue.Queue
	deduper dedupe.Deduper
	logger  logger.Logger
	now     func() time.Time
}

// Option configures a Bus.
type Option func(*Bus)

// WithQueue replaces the delivery queue.
func WithQueue(q queue.Queue) Option {
	return func(b *Bus) {
		if q != nil {
			b.queue = q
		}
	}
}

// WithDeduper replaces the inbound deduper.
func WithDeduper(d dedupe.Deduper) Option {
	return func(b *Bus) {
		if d != nil {
			b.deduper = d
		}
	}
}

// WithLogger sets the bus logger.
func WithLogger(l logger.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBus creates a loopback bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		logger: logger.Get().Named("transport"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.queue == nil {
		b.queue = queue.NewInMemoryQueue()
	}
	if b.deduper == nil {
		b.deduper = dedupe.NewInMemoryDeduper()
	}
	return b
}

// Broadcast validates m and hands it to the receiver. It assigns an ID and
// send time when they are missing.
func (b *Bus) Broadcast(ctx context.Context, m model.Message) error { //nolint:gocritic // hugeParam: value semantics like the queue
	kind := string(m.Kind)
	if err := m.Validate(); err != nil {
		metrics.RecordMessageRejected(kind, "invalid")
		return err
	}
	if b.queue.IsClosed() {
		return ErrClosed
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Sent.IsZero() {
		m.Sent = b.now()
	}

	key := m.Digest().String()
	if b.deduper.SeenAndRecord(ctx, key) {
		metrics.RecordMessageDuplicate()
		return fmt.Errorf("%w: %s", ErrDuplicate, m.ID)
	}
	if !b.queue.Enqueue(ctx, m) {
		b.deduper.Unrecord(ctx, key)
		if b.queue.IsClosed() {
			return ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		metrics.RecordMessageRejected(kind, "backpressure")
		b.logger.Warn(ctx, "transport queue full", logger.String("message_id", m.ID))
		return ErrBackpressure
	}
	return nil
}

// Forget drops m from the duplicate filter so the same content can be
// broadcast again, for example after it arrived before its phase opened.
func (b *Bus) Forget(ctx context.Context, m model.Message) { //nolint:gocritic // hugeParam: value semantics like the queue
	b.deduper.Unrecord(ctx, m.Digest().String())
}

// Receive returns the delivery channel. It closes when the bus closes or
// ctx ends.
func (b *Bus) Receive(ctx context.Context) <-chan model.Message {
	return b.queue.Dequeue(ctx)
}

// Pending returns the number of undelivered messages.
func (b *Bus) Pending(ctx context.Context) int { return b.queue.Len(ctx) }

// Close stops accepting broadcasts.
func (b *Bus) Close() error { return b.queue.Close() }
