package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type Handler func(ctx context.Context, event Event) error

// DeadLetterStream names the stream that receives messages a subscriber gave up on.
func DeadLetterStream(stream string) string { return stream + ".dlq" }

// StreamSubscriber reads a Redis stream through a consumer group. A message is
// acknowledged only after its handler succeeds. Messages left pending longer
// than ClaimIdle are claimed again and, once delivered MaxDeliveries times,
// moved to the dead-letter stream.
type StreamSubscriber struct {
	client        *redis.Client
	logger        *slog.Logger
	group         string
	consumer      string
	stream        string
	handler       Handler
	batchSize     int64
	blockDuration time.Duration
	claimIdle     time.Duration
	maxDeliveries int64
}

type SubscriberConfig struct {
	Group         string
	Consumer      string
	Stream        string
	Handler       Handler
	BatchSize     int64
	BlockDuration time.Duration
	ClaimIdle     time.Duration
	MaxDeliveries int64
	Logger        *slog.Logger
}

func (c *SubscriberConfig) applyDefaults() {
	if c.BatchSize == 0 {
		c.BatchSize = 10
	}
	if c.BlockDuration == 0 {
		c.BlockDuration = 5 * time.Second
	}
	if c.ClaimIdle == 0 {
		c.ClaimIdle = 30 * time.Second
	}
	if c.MaxDeliveries == 0 {
		c.MaxDeliveries = 5
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
}

func NewStreamSubscriber(client *redis.Client, config SubscriberConfig) *StreamSubscriber {
	config.applyDefaults()

	return &StreamSubscriber{
		client:        client,
		logger:        config.Logger.With("stream", config.Stream, "group", config.Group, "consumer", config.Consumer),
		group:         config.Group,
		consumer:      config.Consumer,
		stream:        config.Stream,
		handler:       config.Handler,
		batchSize:     config.BatchSize,
		blockDuration: config.BlockDuration,
		claimIdle:     config.ClaimIdle,
		maxDeliveries: config.MaxDeliveries,
	}
}

// Start blocks until ctx is cancelled.
func (s *StreamSubscriber) Start(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, s.stream, s.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	s.logger.Info("subscriber started")

	lastClaim := time.Now()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("subscriber stopping")
			return ctx.Err()
		default:
		}

		if err := s.readMessages(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("failed to read messages", "error", err)
			sleep(ctx, time.Second)
		}

		if time.Since(lastClaim) >= s.claimIdle {
			if err := s.reclaim(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("failed to reclaim pending messages", "error", err)
			}
			lastClaim = time.Now()
		}
	}
}

func (s *StreamSubscriber) readMessages(ctx context.Context) error {
	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: s.consumer,
		Streams:  []string{s.stream, ">"},
		Count:    s.batchSize,
		Block:    s.blockDuration,
	}).Result()

	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read from stream: %w", err)
	}

	for _, stream := range streams {
		for _, message := range stream.Messages {
			s.handle(ctx, message, 1)
		}
	}

	return nil
}

// reclaim takes over messages another delivery left pending for too long.
func (s *StreamSubscriber) reclaim(ctx context.Context) error {
	pending, err := s.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: s.stream,
		Group:  s.group,
		Idle:   s.claimIdle,
		Start:  "-",
		End:    "+",
		Count:  s.batchSize,
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to list pending messages: %w", err)
	}

	for _, p := range pending {
		claimed, err := s.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   s.stream,
			Group:    s.group,
			Consumer: s.consumer,
			MinIdle:  s.claimIdle,
			Messages: []string{p.ID},
		}).Result()
		if err != nil {
			return fmt.Errorf("failed to claim message %s: %w", p.ID, err)
		}
		for _, message := range claimed {
			s.handle(ctx, message, p.RetryCount+1)
		}
	}
	return nil
}

func (s *StreamSubscriber) handle(ctx context.Context, message redis.XMessage, deliveries int64) {
	logger := s.logger.With("message_id", message.ID, "deliveries", deliveries)

	event, err := parseMessage(message)
	if err == nil {
		logger = logger.With("event_id", event.ID, "event_type", event.Type)
		err = s.handler(ctx, event)
	}

	switch {
	case err == nil:
	case IsPermanent(err):
		logger.Error("dropping message that cannot be processed", "error", err)
		if dlqErr := s.deadLetter(ctx, message, err); dlqErr != nil {
			logger.Error("failed to dead-letter message", "error", dlqErr)
			return
		}
	case deliveries >= s.maxDeliveries:
		logger.Error("message exceeded max deliveries", "error", err)
		if dlqErr := s.deadLetter(ctx, message, err); dlqErr != nil {
			logger.Error("failed to dead-letter message", "error", dlqErr)
			return
		}
	default:
		// Left pending; reclaim delivers it again.
		logger.Warn("failed to process message", "error", err)
		return
	}

	if err := s.client.XAck(ctx, s.stream, s.group, message.ID).Err(); err != nil {
		logger.Error("failed to ack message", "error", err)
	}
}

func (s *StreamSubscriber) deadLetter(ctx context.Context, message redis.XMessage, cause error) error {
	values := map[string]any{
		"source_id": message.ID,
		"error":     cause.Error(),
	}
	if raw, ok := message.Values["event"].(string); ok {
		values["event"] = raw
	}
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: DeadLetterStream(s.stream),
		Values: values,
	}).Err()
}

func parseMessage(message redis.XMessage) (Event, error) {
	eventData, ok := message.Values["event"].(string)
	if !ok {
		return Event{}, Permanent(fmt.Errorf("invalid message format"))
	}

	var event Event
	if err := json.Unmarshal([]byte(eventData), &event); err != nil {
		return Event{}, Permanent(fmt.Errorf("failed to unmarshal event: %w", err))
	}
	if event.ID == "" {
		event.ID = message.ID
	}
	return event, nil
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
