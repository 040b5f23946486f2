// Package worker runs the asynchronous parts of a node: the dispatcher that
// feeds received messages into sessions and the battle pool of a round.
package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/okian/arena/internal/domain/model"
	"github.com/okian/arena/pkg/logger"
)

const shutdownMessage = "shutdown timed out"

// Message abstracts what the dispatcher reads off the transport.
type Message = model.Message

// Receiver delivers messages.
type Receiver interface {
	Receive(ctx context.Context) <-chan Message
}

// Handler applies one message to the protocol state.
type Handler interface {
	HandleMessage(ctx context.Context, m Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, m Message) error

// HandleMessage calls f.
func (f HandlerFunc) HandleMessage(ctx context.Context, m Message) error { return f(ctx, m) } //nolint:gocritic // hugeParam: value semantics like the queue

// Worker consumes messages until stopped.
type Worker interface {
	// Run starts the worker loop until ctx is canceled.
	Run(ctx context.Context)

	// Shutdown gracefully stops the worker.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker dispatches received messages to a handler one at a time,
// preserving delivery order.
type InMemoryWorker struct {
	receiver Receiver
	handler  Handler
	name     string

	shutdown chan struct{}
	done     chan struct{}
	once     sync.Once

	onReject func(ctx context.Context, m Message, err error)
	logger   logger.Logger
}

// NewInMemoryWorker creates a dispatcher with configuration options.
func NewInMemoryWorker(r Receiver, h Handler, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		receiver: r,
		handler:  h,
		name:     "dispatcher",
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.Get(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.Named(w.name)
	return w
}

// Run starts the dispatch loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	messages := w.receiver.Receive(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case m, ok := <-messages:
			if !ok {
				return
			}
			if err := w.handler.HandleMessage(ctx, m); err != nil {
				w.logger.Warn(ctx, "message rejected",
					logger.String("message_id", m.ID),
					logger.String("kind", string(m.Kind)),
					logger.Uint64("height", m.Height),
					logger.Int("round", m.Round),
					logger.String("participant", m.Participant.Short()),
					logger.Error(err),
				)
				if w.onReject != nil {
					w.onReject(ctx, m, err)
				}
			}
		}
	}
}

// Done is closed when Run returns.
func (w *InMemoryWorker) Done() <-chan struct{} { return w.done }

// Shutdown gracefully stops the worker.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	w.once.Do(func() { close(w.shutdown) })

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, shutdownMessage)
		return fmt.Errorf("%s: %w", shutdownMessage, ctx.Err())
	}
}
