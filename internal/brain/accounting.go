package brain

import (
	"context"
	"log/slog"
	"sync"

	"propflow.app/assist/internal/queue"
)

// Accountant forwards per-completion token usage to the redis usage stream
// without ever backpressuring the serving path: Record is non-blocking and
// drops (with a warn log) when the buffer is full.
type Accountant struct {
	producer queue.Producer
	buffer   chan queue.UsageMessage

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
}

func NewAccountant(producer queue.Producer, bufferSize int) *Accountant {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Accountant{
		producer: producer,
		buffer:   make(chan queue.UsageMessage, bufferSize),
		done:     make(chan struct{}),
	}
}

// Start launches the dispatcher goroutine. ctx bounds its lifetime.
func (a *Accountant) Start(ctx context.Context) {
	a.startOnce.Do(func() {
		go a.dispatch(ctx)
	})
}

func (a *Accountant) dispatch(ctx context.Context) {
	defer close(a.done)
	for {
		select {
		case <-ctx.Done():
			// Drain what's already buffered before exiting.
			for {
				select {
				case msg := <-a.buffer:
					a.forward(context.WithoutCancel(ctx), msg)
				default:
					return
				}
			}
		case msg := <-a.buffer:
			a.forward(ctx, msg)
		}
	}
}

func (a *Accountant) forward(ctx context.Context, msg queue.UsageMessage) {
	if err := a.producer.EnqueueUsage(ctx, msg); err != nil {
		slog.WarnContext(ctx, "forwarding usage record failed",
			"conversation_id", msg.ConversationID,
			"error", err)
	}
}

// Record buffers one usage message. Never blocks.
func (a *Accountant) Record(ctx context.Context, msg queue.UsageMessage) {
	select {
	case a.buffer <- msg:
	default:
		slog.WarnContext(ctx, "usage buffer full, dropping record",
			"conversation_id", msg.ConversationID,
			"model", msg.Model)
	}
}

// Wait blocks until the dispatcher has exited after its context ended.
func (a *Accountant) Wait() {
	<-a.done
}
