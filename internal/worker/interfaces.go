package worker

import (
	"context"

	"autolead.app/crm/internal/queue"
)

// Consumer abstracts the message queue for testability.
type Consumer interface {
	Read(ctx context.Context) ([]queue.Message, error)
	Ack(ctx context.Context, msg queue.Message) error
	Requeue(ctx context.Context, msg queue.Message, errMsg string) error
	SendDLQ(ctx context.Context, msg queue.Message, errMsg string) error
}

// Dispatcher delivers a session event to the live controller for its session.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg queue.Message) error
}
