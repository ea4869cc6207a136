package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"autolead.app/crm/internal/model"
)

// EventMessage is one session-change notification fanned out to every replica.
type EventMessage struct {
	SessionID int64
	UserID    string
	Event     model.SessionEvent
	Origin    string // consumer name of the replica that published it
	TraceID   *string
	Attempt   int
}

type Producer interface {
	Publish(ctx context.Context, msg EventMessage) error
	Close() error
}

type redisProducer struct {
	client *redis.Client
	stream string
	origin string
	logger *slog.Logger
}

func NewRedisProducer(client *redis.Client, stream, origin string, logger *slog.Logger) Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisProducer{
		client: client,
		stream: stream,
		origin: origin,
		logger: logger,
	}
}

func (p *redisProducer) Publish(ctx context.Context, msg EventMessage) error {
	if msg.Origin == "" {
		msg.Origin = p.origin
	}
	values := messageValues(Message{
		SessionID: msg.SessionID,
		UserID:    msg.UserID,
		Event:     msg.Event,
		Origin:    msg.Origin,
		TraceID:   derefString(msg.TraceID),
	}, msg.Attempt)

	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("publish session event: %w", err)
	}

	p.logger.InfoContext(ctx, "published session event", "session_id", msg.SessionID, "event", msg.Event, "attempt", values["attempt"])
	return nil
}

func (p *redisProducer) Close() error {
	return p.client.Close()
}

type noopProducer struct{}

// NewNoopProducer drops every event. Single-replica deployments and tests use it.
func NewNoopProducer() Producer {
	return noopProducer{}
}

func (noopProducer) Publish(context.Context, EventMessage) error { return nil }
func (noopProducer) Close() error                                { return nil }

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
