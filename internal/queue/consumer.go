package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"autolead.app/crm/common/logger"
	"autolead.app/crm/internal/model"
)

type ConsumerConfig struct {
	Stream       string        // Redis stream name
	Group        string        // Redis consumer group name, one per replica for fan-out
	Consumer     string        // Redis consumer name
	DLQStream    string        // Dead letter queue stream for failed messages
	StartID      string        // Where a newly created group starts reading; defaults to "$"
	BatchSize    int64         // Number of messages to process per batch
	Block        time.Duration // How long to block/poll for new messages
	MaxAttempts  int           // Maximum retry attempts before moving to DLQ
	RequeueDelay time.Duration // Delay before retrying failed messages
}

type Message struct {
	ID        string
	SessionID int64
	UserID    string
	Event     model.SessionEvent
	Origin    string
	Attempt   int
	TraceID   string
	Raw       redis.XMessage
}

type RedisConsumer struct {
	client *redis.Client
	cfg    ConsumerConfig
}

func NewRedisConsumer(ctx context.Context, client *redis.Client, cfg ConsumerConfig) (*RedisConsumer, error) {
	if cfg.StartID == "" {
		cfg.StartID = "$"
	}
	consumer := &RedisConsumer{
		client: client,
		cfg:    cfg,
	}

	if err := consumer.ensureGroup(ctx); err != nil {
		return nil, err
	}

	return consumer, nil
}

func (c *RedisConsumer) ensureGroup(ctx context.Context) error {
	// Session events only matter to controllers alive right now, so a fresh
	// group starts at the tail instead of replaying history.
	if err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, c.cfg.StartID).Err(); err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("creating consumer group: %w", err)
	}
	return nil
}

// DestroyGroup removes this replica's group on shutdown. The group only serves
// controllers of the running process.
func (c *RedisConsumer) DestroyGroup(ctx context.Context) error {
	if err := c.client.XGroupDestroy(ctx, c.cfg.Stream, c.cfg.Group).Err(); err != nil {
		return fmt.Errorf("destroying consumer group: %w", err)
	}
	return nil
}

// PruneGroups destroys sibling groups under prefix whose consumers have all been
// idle for at least maxIdle, as left behind by replicas that crashed.
func (c *RedisConsumer) PruneGroups(ctx context.Context, prefix string, maxIdle time.Duration) ([]string, error) {
	groups, err := c.client.XInfoGroups(ctx, c.cfg.Stream).Result()
	if err != nil {
		return nil, fmt.Errorf("listing consumer groups: %w", err)
	}

	var pruned []string
	for _, g := range groups {
		if g.Name == c.cfg.Group || !strings.HasPrefix(g.Name, prefix) {
			continue
		}
		consumers, err := c.client.XInfoConsumers(ctx, c.cfg.Stream, g.Name).Result()
		if err != nil {
			return pruned, fmt.Errorf("listing consumers of %s: %w", g.Name, err)
		}
		if !GroupAbandoned(consumers, maxIdle) {
			continue
		}
		if err := c.client.XGroupDestroy(ctx, c.cfg.Stream, g.Name).Err(); err != nil {
			return pruned, fmt.Errorf("destroying consumer group %s: %w", g.Name, err)
		}
		slog.InfoContext(ctx, "pruned abandoned consumer group", "group", g.Name, "pending", g.Pending)
		pruned = append(pruned, g.Name)
	}
	return pruned, nil
}

// GroupAbandoned reports whether no consumer of a group has been seen within maxIdle.
func GroupAbandoned(consumers []redis.XInfoConsumer, maxIdle time.Duration) bool {
	for _, cons := range consumers {
		if cons.Idle < maxIdle {
			return false
		}
	}
	return true
}

func (c *RedisConsumer) Read(ctx context.Context) ([]Message, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "crm.queue.consumer",
	})

	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		Streams:  []string{c.cfg.Stream, ">"},
		Count:    c.cfg.BatchSize,
		Block:    c.cfg.Block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []Message{}, nil
		}
		return nil, fmt.Errorf("reading from stream: %w", err)
	}

	var messages []Message
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			parsed, parseErr := ParseMessage(msg)
			if parseErr != nil {
				slog.ErrorContext(ctx, "failed to parse message",
					"error", parseErr,
					"raw_message_id", msg.ID,
					"stream", c.cfg.Stream)
				_ = c.Ack(ctx, Message{ID: msg.ID, Raw: msg})
				continue
			}
			messages = append(messages, parsed)
		}
	}

	if len(messages) > 0 {
		slog.DebugContext(ctx, "read messages from stream",
			"count", len(messages),
			"stream", c.cfg.Stream,
			"consumer", c.cfg.Consumer)
	}

	return messages, nil
}

func (c *RedisConsumer) Ack(ctx context.Context, msg Message) error {
	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID).Err(); err != nil {
		return fmt.Errorf("xack (stream=%s): %w", c.cfg.Stream, err)
	}

	slog.DebugContext(ctx, "message acknowledged", "stream", c.cfg.Stream)
	return nil
}

func (c *RedisConsumer) Requeue(ctx context.Context, msg Message, errMsg string) error {
	if err := c.Ack(ctx, msg); err != nil {
		return fmt.Errorf("acking failed message for requeue: %w", err)
	}

	attempt := msg.Attempt + 1
	values := messageValues(msg, attempt)
	if errMsg != "" {
		values["last_error"] = errMsg
	}

	if c.cfg.RequeueDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.RequeueDelay):
		}
	}

	if err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.cfg.Stream,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("xadd requeue: %w", err)
	}

	slog.InfoContext(ctx, "message requeued for retry",
		"next_attempt", attempt,
		"reason", errMsg)
	return nil
}

func (c *RedisConsumer) SendDLQ(ctx context.Context, msg Message, errMsg string) error {
	if err := c.Ack(ctx, msg); err != nil {
		return fmt.Errorf("acking failed message for dlq: %w", err)
	}

	values := messageValues(msg, msg.Attempt)
	values["error"] = errMsg

	if err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.cfg.DLQStream,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("xadd dlq (stream=%s): %w", c.cfg.DLQStream, err)
	}

	slog.ErrorContext(ctx, "message sent to DLQ",
		"final_error", errMsg,
		"dlq_stream", c.cfg.DLQStream)
	return nil
}

// ClaimStale takes over messages of this group that have sat unacknowledged
// for at least minIdle, typically left behind when an ack or requeue failed, or
// when a replica crashed and came back under the same identity before its
// group was pruned.
func (c *RedisConsumer) ClaimStale(ctx context.Context, minIdle time.Duration, count int64) ([]Message, error) {
	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: c.cfg.Stream,
		Group:  c.cfg.Group,
		Idle:   minIdle,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("xpending: %w", err)
	}
	if len(pending) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(pending))
	for _, p := range pending {
		ids = append(ids, p.ID)
	}

	claimed, err := c.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   c.cfg.Stream,
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("xclaim: %w", err)
	}

	messages := make([]Message, 0, len(claimed))
	for _, msg := range claimed {
		parsed, parseErr := ParseMessage(msg)
		if parseErr != nil {
			slog.ErrorContext(ctx, "failed to parse reclaimed message, acknowledging to prevent loop",
				"error", parseErr,
				"raw_message_id", msg.ID)
			_ = c.Ack(ctx, Message{ID: msg.ID, Raw: msg})
			continue
		}
		messages = append(messages, parsed)
	}
	return messages, nil
}

func ParseMessage(msg redis.XMessage) (Message, error) {
	sessionID, err := parseInt64(msg.Values, "session_id")
	if err != nil {
		return Message{}, err
	}
	userID, err := parseOptionalString(msg.Values, "user_id")
	if err != nil {
		return Message{}, err
	}
	eventStr, err := parseString(msg.Values, "event")
	if err != nil {
		return Message{}, err
	}
	event := model.SessionEvent(eventStr)
	if !event.IsValid() {
		return Message{}, fmt.Errorf("unknown event %q", eventStr)
	}
	origin, err := parseOptionalString(msg.Values, "origin")
	if err != nil {
		return Message{}, err
	}
	traceID, err := parseOptionalString(msg.Values, "trace_id")
	if err != nil {
		return Message{}, err
	}
	attempt, err := parseOptionalInt(msg.Values, "attempt")
	if err != nil {
		return Message{}, err
	}
	if attempt == 0 {
		attempt = 1
	}

	return Message{
		ID:        msg.ID,
		SessionID: sessionID,
		UserID:    userID,
		Event:     event,
		Origin:    origin,
		Attempt:   attempt,
		TraceID:   traceID,
		Raw:       msg,
	}, nil
}

func parseInt64(values map[string]any, key string) (int64, error) {
	raw, ok := values[key]
	if !ok {
		return 0, fmt.Errorf("missing %s", key)
	}
	num, err := strconv.ParseInt(fmt.Sprint(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return num, nil
}

func parseString(values map[string]any, key string) (string, error) {
	raw, ok := values[key]
	if !ok {
		return "", fmt.Errorf("missing %s", key)
	}
	return fmt.Sprint(raw), nil
}

func parseOptionalInt(values map[string]any, key string) (int, error) {
	raw, ok := values[key]
	if !ok {
		return 0, nil
	}
	num, err := strconv.Atoi(fmt.Sprint(raw))
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return num, nil
}

func parseOptionalString(values map[string]any, key string) (string, error) {
	raw, ok := values[key]
	if !ok {
		return "", nil
	}
	return fmt.Sprint(raw), nil
}

func messageValues(msg Message, attempt int) map[string]any {
	if attempt <= 0 {
		attempt = 1
	}
	values := map[string]any{
		"session_id": msg.SessionID,
		"event":      string(msg.Event),
		"attempt":    attempt,
	}
	if msg.UserID != "" {
		values["user_id"] = msg.UserID
	}
	if msg.Origin != "" {
		values["origin"] = msg.Origin
	}
	if msg.TraceID != "" {
		values["trace_id"] = msg.TraceID
	}
	return values
}
